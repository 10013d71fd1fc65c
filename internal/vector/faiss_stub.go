//go:build !faiss || !cgo
// +build !faiss !cgo

package vector

import (
	"context"
	"errors"
)

var errFAISSUnavailable = errors.New("FAISS not available: build with -tags=faiss and install the FAISS C library")

// FAISSIndex is a stub that returns an error when FAISS is not available.
type FAISSIndex struct{}

// NewFAISSIndex returns an error because FAISS is not available.
func NewFAISSIndex(dimensions int, metric Metric, model string) (*FAISSIndex, error) {
	return nil, errFAISSUnavailable
}

func (f *FAISSIndex) Add(ctx context.Context, ids []string, vectors [][]float32, metadata []*Metadata) error {
	return errFAISSUnavailable
}

func (f *FAISSIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	return nil, errFAISSUnavailable
}

func (f *FAISSIndex) Get(ctx context.Context, ids []string) ([]*Metadata, error) {
	return nil, errFAISSUnavailable
}

func (f *FAISSIndex) Save(dir string) error { return errFAISSUnavailable }

func (f *FAISSIndex) Load(dir string) error { return errFAISSUnavailable }

func (f *FAISSIndex) Integrity() Integrity { return Integrity{} }

func (f *FAISSIndex) Metric() Metric { return "" }

func (f *FAISSIndex) Dimensions() int { return 0 }

func (f *FAISSIndex) Size() int { return 0 }

func (f *FAISSIndex) Close() error { return nil }
