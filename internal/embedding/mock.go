package embedding

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/hyperjump/tanya/internal/models"
	"github.com/hyperjump/tanya/pkg/utils"
)

// MockEmbedder is a deterministic embedder for tests. Each text seeds its own random
// generator, so equal texts get equal unit vectors and unrelated texts land far apart.
// Vectors pinned with Set are returned as given.
type MockEmbedder struct {
	mu         sync.Mutex
	dimensions int
	pinned     map[string][]float32
	failure    error
	calls      int
}

func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &MockEmbedder{dimensions: dimensions, pinned: make(map[string][]float32)}
}

// Set pins the embedding returned for text.
func (e *MockEmbedder) Set(text string, vec []float32) {
	e.mu.Lock()
	e.pinned[text] = vec
	e.mu.Unlock()
}

// Fail makes every following call return err wrapped with models.ErrEmbedding. nil restores success.
func (e *MockEmbedder) Fail(err error) {
	e.mu.Lock()
	e.failure = err
	e.mu.Unlock()
}

// Calls counts texts embedded so far, including failed attempts.
func (e *MockEmbedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func (e *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrEmbedding, err)
	}
	e.mu.Lock()
	e.calls++
	failure := e.failure
	vec, ok := e.pinned[text]
	e.mu.Unlock()

	switch {
	case failure != nil:
		return nil, fmt.Errorf("%w: %w", models.ErrEmbedding, failure)
	case ok:
		return append([]float32(nil), vec...), nil
	}
	return e.synthesize(text), nil
}

func (e *MockEmbedder) synthesize(text string) []float32 {
	rng := rand.New(rand.NewPCG(uint64(HashString(text)), uint64(e.dimensions)))
	vec := make([]float32, e.dimensions)
	for i := range vec {
		vec[i] = float32(rng.NormFloat64())
	}
	if utils.NormalizeL2(vec) == 0 {
		vec[0] = 1
	}
	return vec
}

func (e *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out = append(out, vec)
	}
	return out, nil
}

func (e *MockEmbedder) Dimensions() int { return e.dimensions }

func (e *MockEmbedder) Model() string { return "mock" }

func (e *MockEmbedder) Close() error { return nil }
