// Package retrieval turns a query into a routing decision: embed, search, normalize, dedup,
// threshold, optionally validate, and fall back to generation when the corpus cannot answer.
package retrieval

import (
	"math"

	"github.com/hyperjump/tanya/internal/vector"
)

// Normalize maps a raw index score to a similarity in [0,1] where higher is better.
// L2 distances map to 1/(1+d); cosine and inner product in [-1,1] map to (s+1)/2; bounded
// scores are clipped. The mapping is monotonic in match quality for every metric.
func Normalize(raw float64, metric vector.Metric) float64 {
	if math.IsNaN(raw) {
		return 0
	}
	switch metric {
	case vector.MetricL2:
		if raw < 0 {
			raw = 0
		}
		return 1 / (1 + raw)
	case vector.MetricCosine, vector.MetricInnerProduct:
		return clip((raw + 1) / 2)
	default:
		return clip(raw)
	}
}

func clip(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
