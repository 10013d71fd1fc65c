package vector

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hyperjump/tanya/internal/models"
	"github.com/hyperjump/tanya/pkg/utils"
)

// FlatIndex is an in-memory brute-force index. With MetricL2 it ranks by ascending Euclidean
// distance (FlatL2); with MetricCosine or MetricInnerProduct vectors are unit-normalized at add
// and query time and ranked by descending inner product (FlatCosine).
type FlatIndex struct {
	dimensions int
	metric     Metric
	model      string
	ids        []string
	vectors    [][]float32
	positions  map[string]int
	meta       map[string]*Metadata
	mu         sync.RWMutex
}

// NewFlatIndex creates an empty flat index. model names the embedder that produced the vectors
// and is persisted with the metadata file.
func NewFlatIndex(dimensions int, metric Metric, model string) (*FlatIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	switch metric {
	case MetricL2, MetricCosine, MetricInnerProduct:
	default:
		return nil, fmt.Errorf("flat index does not support metric %q", metric)
	}
	return &FlatIndex{
		dimensions: dimensions,
		metric:     metric,
		model:      model,
		positions:  make(map[string]int),
		meta:       make(map[string]*Metadata),
	}, nil
}

// NewFlatL2 creates a flat index over Euclidean distance.
func NewFlatL2(dimensions int, model string) (*FlatIndex, error) {
	return NewFlatIndex(dimensions, MetricL2, model)
}

// NewFlatCosine creates a flat index over cosine similarity.
func NewFlatCosine(dimensions int, model string) (*FlatIndex, error) {
	return NewFlatIndex(dimensions, MetricCosine, model)
}

// Add appends vectors with the given IDs and metadata. The batch is all-or-nothing.
func (f *FlatIndex) Add(ctx context.Context, ids []string, vectors [][]float32, metadata []*Metadata) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch")
	}
	if metadata != nil && len(metadata) != len(ids) {
		return fmt.Errorf("ids and metadata length mismatch")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := make(map[string]bool, len(ids))
	for i, id := range ids {
		if len(vectors[i]) != f.dimensions {
			return fmt.Errorf("%w: vector dimension mismatch: got %d, expected %d", models.ErrIndex, len(vectors[i]), f.dimensions)
		}
		if _, dup := f.positions[id]; dup || seen[id] {
			return fmt.Errorf("%w: duplicate id %q", models.ErrIndex, id)
		}
		seen[id] = true
	}
	for i, id := range ids {
		vec := make([]float32, f.dimensions)
		copy(vec, vectors[i])
		if f.metric.normalizesVectors() {
			utils.NormalizeL2(vec)
		}
		f.positions[id] = len(f.ids)
		f.ids = append(f.ids, id)
		f.vectors = append(f.vectors, vec)
		if metadata != nil && metadata[i] != nil {
			m := *metadata[i]
			m.ID = id
			f.meta[id] = &m
		}
	}
	return nil
}

// Search returns the top-k entries best-first. Equal scores keep insertion order.
func (f *FlatIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	if len(query) != f.dimensions {
		return nil, fmt.Errorf("%w: query dimension mismatch: got %d, expected %d", models.ErrIndex, len(query), f.dimensions)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q := query
	if f.metric.normalizesVectors() {
		q = make([]float32, len(query))
		copy(q, query)
		utils.NormalizeL2(q)
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if k <= 0 || len(f.ids) == 0 {
		return nil, nil
	}
	results := make([]*VectorResult, len(f.ids))
	for i, vec := range f.vectors {
		results[i] = &VectorResult{ID: f.ids[i], Score: score(f.metric, q, vec)}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return better(f.metric, results[i].Score, results[j].Score)
	})
	if k > len(results) {
		k = len(results)
	}
	return results[:k], nil
}

// Get returns stored metadata for ids; unknown ids or ids without metadata yield nil.
func (f *FlatIndex) Get(ctx context.Context, ids []string) ([]*Metadata, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]*Metadata, len(ids))
	for i, id := range ids {
		if m, ok := f.meta[id]; ok {
			cp := *m
			out[i] = &cp
		}
	}
	return out, nil
}

// Vector returns a copy of the stored vector for id.
func (f *FlatIndex) Vector(id string) ([]float32, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	pos, ok := f.positions[id]
	if !ok {
		return nil, false
	}
	out := make([]float32, f.dimensions)
	copy(out, f.vectors[pos])
	return out, true
}

// IDs returns the entry ids in insertion order.
func (f *FlatIndex) IDs() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]string(nil), f.ids...)
}

// Integrity reports entry and metadata record counts.
func (f *FlatIndex) Integrity() Integrity {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return Integrity{IndexEntries: len(f.ids), MetadataRecords: len(f.meta)}
}

// Metric returns the index metric.
func (f *FlatIndex) Metric() Metric { return f.metric }

// Dimensions returns the vector dimension.
func (f *FlatIndex) Dimensions() int { return f.dimensions }

// Model returns the embedder model name the index was built with.
func (f *FlatIndex) Model() string { return f.model }

// Size returns the number of vectors in the index.
func (f *FlatIndex) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.ids)
}

// Close is a no-op for FlatIndex.
func (f *FlatIndex) Close() error {
	return nil
}
