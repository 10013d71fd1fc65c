// Package vector provides vector indexes with nearest-neighbor search under a declared metric.
package vector

import (
	"context"
	"fmt"
	"strings"
)

// Metric is the similarity semantics of an index's raw scores.
type Metric string

const (
	// MetricL2 is Euclidean distance; lower is better.
	MetricL2 Metric = "l2"
	// MetricCosine is cosine similarity over unit vectors, raw range [-1,1]; higher is better.
	MetricCosine Metric = "cosine"
	// MetricInnerProduct is inner product over unit vectors, raw range [-1,1]; higher is better.
	MetricInnerProduct Metric = "ip"
	// MetricBounded is a score already in [0,1], e.g. from a managed service; higher is better.
	MetricBounded Metric = "bounded"
)

// ParseMetric parses a metric name. The empty string is MetricL2.
func ParseMetric(s string) (Metric, error) {
	switch Metric(strings.ToLower(strings.TrimSpace(s))) {
	case MetricL2, "":
		return MetricL2, nil
	case MetricCosine:
		return MetricCosine, nil
	case MetricInnerProduct, "inner_product":
		return MetricInnerProduct, nil
	case MetricBounded:
		return MetricBounded, nil
	default:
		return "", fmt.Errorf("unknown metric: %s (supported: l2, cosine, ip, bounded)", s)
	}
}

// HigherIsBetter reports whether larger raw scores mean better matches.
func (m Metric) HigherIsBetter() bool {
	return m != MetricL2
}

// normalizesVectors reports whether vectors are unit-normalized at add and query time.
func (m Metric) normalizesVectors() bool {
	return m == MetricCosine || m == MetricInnerProduct
}

// VectorIndex stores vectors with metadata and answers nearest-neighbor queries.
type VectorIndex interface {
	// Add appends entries. ids must be unique within the index; metadata may be nil.
	Add(ctx context.Context, ids []string, vectors [][]float32, metadata []*Metadata) error
	// Search returns up to k hits ordered best-first according to Metric.
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	// Get returns metadata for ids in the same order. Missing ids yield nil entries, not errors.
	Get(ctx context.Context, ids []string) ([]*Metadata, error)
	Metric() Metric
	Dimensions() int
	Size() int
	Close() error
}

// Persistent is implemented by indexes stored as a paired index file and metadata file.
type Persistent interface {
	Save(dir string) error
	Load(dir string) error
}

// Dropper is implemented by remote indexes whose storage must be deleted when retired.
type Dropper interface {
	Drop(ctx context.Context) error
}

// VectorResult is a single search hit. Score is raw, in the index's metric.
type VectorResult struct {
	ID    string
	Score float64
}

// Metadata is stored next to each vector.
type Metadata struct {
	ID         string            `json:"id"`
	Text       string            `json:"text"`
	DocumentID string            `json:"document_id"`
	Ordinal    int               `json:"ordinal"`
	Attrs      map[string]string `json:"attrs,omitempty"`
}

// Integrity compares the number of index entries to the number of metadata records.
type Integrity struct {
	IndexEntries    int `json:"index_entries"`
	MetadataRecords int `json:"metadata_records"`
}

// Drifted reports whether index and metadata disagree.
func (i Integrity) Drifted() bool {
	return i.IndexEntries != i.MetadataRecords
}

// IntegrityChecker is implemented by indexes that can report drift after load.
type IntegrityChecker interface {
	Integrity() Integrity
}
