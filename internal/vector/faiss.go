//go:build faiss && cgo
// +build faiss,cgo

package vector

/*
#cgo CFLAGS: -I/opt/homebrew/include -I/usr/local/include
#cgo LDFLAGS: -L/opt/homebrew/lib -L/usr/local/lib -lfaiss_c

#include <stdlib.h>
#include <faiss/c_api/Index_c.h>
#include <faiss/c_api/IndexFlat_c.h>
#include <faiss/c_api/index_io_c.h>
#include <faiss/c_api/error_c.h>
*/
import "C"

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"unsafe"

	"github.com/hyperjump/tanya/internal/models"
	"github.com/hyperjump/tanya/pkg/utils"
)

const faissFileName = "index.faiss"

// FAISSIndex is a flat FAISS index. MetricL2 uses IndexFlatL2 and reports Euclidean distance;
// MetricCosine and MetricInnerProduct use IndexFlatIP over unit-normalized vectors.
type FAISSIndex struct {
	index      *C.FaissIndex
	dimensions int
	metric     Metric
	model      string
	ids        []string // FAISS label -> id
	positions  map[string]int64
	meta       map[string]*Metadata
	mu         sync.RWMutex
}

// NewFAISSIndex creates a FAISS flat index for metric.
func NewFAISSIndex(dimensions int, metric Metric, model string) (*FAISSIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	index, err := newFaissFlat(dimensions, metric)
	if err != nil {
		return nil, err
	}
	return &FAISSIndex{
		index:      index,
		dimensions: dimensions,
		metric:     metric,
		model:      model,
		positions:  make(map[string]int64),
		meta:       make(map[string]*Metadata),
	}, nil
}

func newFaissFlat(dimensions int, metric Metric) (*C.FaissIndex, error) {
	switch metric {
	case MetricL2:
		var index *C.FaissIndexFlatL2
		if ret := C.faiss_IndexFlatL2_new_with(&index, C.idx_t(dimensions)); ret != 0 {
			return nil, fmt.Errorf("failed to create FAISS index: %s", faissLastError())
		}
		return (*C.FaissIndex)(unsafe.Pointer(index)), nil
	case MetricCosine, MetricInnerProduct:
		var index *C.FaissIndexFlatIP
		if ret := C.faiss_IndexFlatIP_new_with(&index, C.idx_t(dimensions)); ret != 0 {
			return nil, fmt.Errorf("failed to create FAISS index: %s", faissLastError())
		}
		return (*C.FaissIndex)(unsafe.Pointer(index)), nil
	default:
		return nil, fmt.Errorf("faiss index does not support metric %q", metric)
	}
}

func faissLastError() string {
	cErr := C.faiss_get_last_error()
	if cErr == nil {
		return "unknown error"
	}
	return C.GoString(cErr)
}

// Add appends vectors with the given IDs.
func (f *FAISSIndex) Add(ctx context.Context, ids []string, vectors [][]float32, metadata []*Metadata) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch")
	}
	if metadata != nil && len(metadata) != len(ids) {
		return fmt.Errorf("ids and metadata length mismatch")
	}
	if len(ids) == 0 {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	n := len(vectors)
	flat := make([]float32, n*f.dimensions)
	seen := make(map[string]bool, n)
	for i, vec := range vectors {
		if len(vec) != f.dimensions {
			return fmt.Errorf("%w: vector dimension mismatch: got %d, expected %d", models.ErrIndex, len(vec), f.dimensions)
		}
		if _, dup := f.positions[ids[i]]; dup || seen[ids[i]] {
			return fmt.Errorf("%w: duplicate id %q", models.ErrIndex, ids[i])
		}
		seen[ids[i]] = true
		row := flat[i*f.dimensions : (i+1)*f.dimensions]
		copy(row, vec)
		if f.metric.normalizesVectors() {
			utils.NormalizeL2(row)
		}
	}

	ret := C.faiss_Index_add(f.index, C.idx_t(n), (*C.float)(unsafe.Pointer(&flat[0])))
	if ret != 0 {
		return fmt.Errorf("%w: failed to add vectors to FAISS index: %s", models.ErrIndex, faissLastError())
	}
	for i, id := range ids {
		f.positions[id] = int64(len(f.ids))
		f.ids = append(f.ids, id)
		if metadata != nil && metadata[i] != nil {
			m := *metadata[i]
			m.ID = id
			f.meta[id] = &m
		}
	}
	return nil
}

// Search returns the top-k entries best-first.
func (f *FAISSIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	if len(query) != f.dimensions {
		return nil, fmt.Errorf("%w: query dimension mismatch: got %d, expected %d", models.ErrIndex, len(query), f.dimensions)
	}
	q := make([]float32, len(query))
	copy(q, query)
	if f.metric.normalizesVectors() {
		utils.NormalizeL2(q)
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if k <= 0 {
		return nil, nil
	}
	ntotal := int(C.faiss_Index_ntotal(f.index))
	if ntotal == 0 {
		return nil, nil
	}
	if k > ntotal {
		k = ntotal
	}

	distances := make([]float32, k)
	labels := make([]int64, k)
	ret := C.faiss_Index_search(
		f.index,
		1,
		(*C.float)(unsafe.Pointer(&q[0])),
		C.idx_t(k),
		(*C.float)(unsafe.Pointer(&distances[0])),
		(*C.idx_t)(unsafe.Pointer(&labels[0])),
	)
	if ret != 0 {
		return nil, fmt.Errorf("%w: FAISS search failed: %s", models.ErrIndex, faissLastError())
	}

	results := make([]*VectorResult, 0, k)
	for i := 0; i < k; i++ {
		label := labels[i]
		if label < 0 || label >= int64(len(f.ids)) {
			continue
		}
		s := float64(distances[i])
		if f.metric == MetricL2 {
			// IndexFlatL2 reports squared distance
			s = math.Sqrt(math.Max(s, 0))
		}
		results = append(results, &VectorResult{ID: f.ids[label], Score: s})
	}
	return results, nil
}

// Get returns stored metadata for ids; unknown ids yield nil.
func (f *FAISSIndex) Get(ctx context.Context, ids []string) ([]*Metadata, error) {
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

// Save writes index.faiss and metadata.json into dir.
func (f *FAISSIndex) Save(dir string) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	final := filepath.Join(dir, faissFileName)
	tmp := final + ".tmp"
	cPath := C.CString(tmp)
	defer C.free(unsafe.Pointer(cPath))
	if ret := C.faiss_write_index_fname(f.index, cPath); ret != 0 {
		return fmt.Errorf("failed to save FAISS index: %s", faissLastError())
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to save FAISS index: %w", err)
	}

	records := make([]*Metadata, 0, len(f.meta))
	for _, id := range f.ids {
		if m, ok := f.meta[id]; ok {
			records = append(records, m)
		}
	}
	return writeMetadataFile(MetadataPath(dir), &metadataFile{
		Model:      f.model,
		Dimensions: f.dimensions,
		Metric:     f.metric,
		Count:      len(f.ids),
		Records:    records,
		IDs:        f.ids,
	})
}

// Load reads index.faiss and metadata.json from dir. A missing index file leaves the index unchanged.
func (f *FAISSIndex) Load(dir string) error {
	faissPath := filepath.Join(dir, faissFileName)
	if _, err := os.Stat(faissPath); os.IsNotExist(err) {
		return nil
	}
	mf, err := readMetadataFile(MetadataPath(dir))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s has no metadata file", models.ErrIndex, faissPath)
		}
		return fmt.Errorf("%w: failed to read metadata: %w", models.ErrIndex, err)
	}
	if mf.Metric != f.metric {
		return fmt.Errorf("%w: index metric %s does not match configured metric %s", models.ErrIndex, mf.Metric, f.metric)
	}
	if mf.Model != "" && f.model != "" && mf.Model != f.model {
		return fmt.Errorf("%w: index was built with model %q, configured model is %q", models.ErrIndex, mf.Model, f.model)
	}

	cPath := C.CString(faissPath)
	defer C.free(unsafe.Pointer(cPath))
	var loaded *C.FaissIndex
	if ret := C.faiss_read_index_fname(cPath, 0, &loaded); ret != 0 {
		return fmt.Errorf("%w: failed to load FAISS index: %s", models.ErrIndex, faissLastError())
	}
	if d := int(C.faiss_Index_d(loaded)); d != f.dimensions {
		C.faiss_Index_free(loaded)
		return fmt.Errorf("%w: dimension mismatch: file has %d, expected %d", models.ErrIndex, d, f.dimensions)
	}
	if n := int(C.faiss_Index_ntotal(loaded)); n != len(mf.IDs) {
		C.faiss_Index_free(loaded)
		return fmt.Errorf("%w: FAISS index holds %d vectors but id map has %d", models.ErrIndex, n, len(mf.IDs))
	}

	positions := make(map[string]int64, len(mf.IDs))
	for i, id := range mf.IDs {
		positions[id] = int64(i)
	}
	meta := make(map[string]*Metadata, len(mf.Records))
	for _, rec := range mf.Records {
		if rec != nil && rec.ID != "" {
			meta[rec.ID] = rec
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.index != nil {
		C.faiss_Index_free(f.index)
	}
	f.index = loaded
	f.ids = mf.IDs
	f.positions = positions
	f.meta = meta
	return nil
}

// Integrity reports entry and metadata record counts.
func (f *FAISSIndex) Integrity() Integrity {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return Integrity{IndexEntries: len(f.ids), MetadataRecords: len(f.meta)}
}

// Metric returns the index metric.
func (f *FAISSIndex) Metric() Metric { return f.metric }

// Dimensions returns the vector dimension.
func (f *FAISSIndex) Dimensions() int { return f.dimensions }

// Size returns the number of vectors.
func (f *FAISSIndex) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.ids)
}

// Close frees the FAISS index resources.
func (f *FAISSIndex) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.index != nil {
		C.faiss_Index_free(f.index)
		f.index = nil
	}
	return nil
}
