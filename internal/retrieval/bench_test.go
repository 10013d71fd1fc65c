package retrieval

import (
	"fmt"
	"testing"

	"github.com/hyperjump/tanya/internal/models"
	"github.com/hyperjump/tanya/internal/vector"
)

func BenchmarkFuse(b *testing.B) {
	kw := make(map[string]float64)
	sem := make(map[string]float64)
	for i := 0; i < 100; i++ {
		id := fmt.Sprintf("doc-%d#0", i)
		kw[id] = float64(i) / 100
		sem[id] = float64(100-i) / 100
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = Fuse(kw, sem, 0.5, 0.5)
	}
}

func BenchmarkDedup(b *testing.B) {
	candidates := make([]*models.Candidate, 20)
	for i := range candidates {
		id := fmt.Sprintf("doc-%d#0", i%7)
		candidates[i] = &models.Candidate{ID: id, Chunk: &models.Chunk{ID: id}}
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = Dedup(candidates, 5)
	}
}

func BenchmarkNormalize(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = Normalize(float64(i%100)/10, vector.MetricL2)
	}
}
