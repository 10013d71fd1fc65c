package retrieval

import (
	"sync/atomic"

	"github.com/hyperjump/tanya/internal/models"
	"go.uber.org/zap"
)

// Dedup returns the first occurrence of each id in candidates, in order, stopping once k
// unique candidates are collected. Candidates whose Chunk is nil have no metadata; they are
// skipped and their ids returned in missing (each id once).
func Dedup(candidates []*models.Candidate, k int) (unique []*models.Candidate, missing []string) {
	seen := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		if k > 0 && len(unique) >= k {
			break
		}
		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		if c.Chunk == nil {
			missing = append(missing, c.ID)
			continue
		}
		unique = append(unique, c)
	}
	return unique, missing
}

// IntegrityReporter receives index/metadata drift warnings.
type IntegrityReporter interface {
	ReportIntegrity(w models.IntegrityWarning)
}

// LogReporter logs integrity warnings and counts them.
type LogReporter struct {
	logger *zap.Logger
	count  atomic.Int64
}

// NewLogReporter returns a LogReporter. A nil logger only counts.
func NewLogReporter(logger *zap.Logger) *LogReporter {
	return &LogReporter{logger: logger}
}

// ReportIntegrity implements IntegrityReporter.
func (r *LogReporter) ReportIntegrity(w models.IntegrityWarning) {
	r.count.Add(1)
	if r.logger != nil {
		r.logger.Warn("Index returned ids without metadata",
			zap.String("query", w.Query),
			zap.Strings("missing_ids", w.MissingIDs),
			zap.Int("index_size", w.IndexSize))
	}
}

// Count returns the number of warnings reported.
func (r *LogReporter) Count() int64 {
	return r.count.Load()
}
