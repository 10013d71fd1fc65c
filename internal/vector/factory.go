package vector

import (
	"context"
	"fmt"
)

// Backend selects a vector index implementation.
type Backend string

const (
	// BackendFlat is in-memory brute-force search (FlatL2 or FlatCosine). Good for small corpora.
	BackendFlat Backend = "flat"
	// BackendFAISS uses FAISS flat indexes. Requires -tags=faiss and the FAISS C library.
	BackendFAISS Backend = "faiss"
	// BackendQdrant uses a Qdrant collection as a managed index.
	BackendQdrant Backend = "qdrant"
)

// ParseBackend parses a backend name. The empty string and the legacy "memory" mean BackendFlat.
func ParseBackend(s string) (Backend, error) {
	switch Backend(s) {
	case BackendFlat, "", "memory":
		return BackendFlat, nil
	case BackendFAISS:
		return BackendFAISS, nil
	case BackendQdrant:
		return BackendQdrant, nil
	default:
		return "", fmt.Errorf("unknown index backend: %s (supported: flat, faiss, qdrant)", s)
	}
}

// Options describe the index to build.
type Options struct {
	Backend    Backend
	Metric     Metric
	Dimensions int
	// Model is the embedder model name stored with persisted indexes.
	Model string
	// Path is the directory holding index.bin (or index.faiss) and metadata.json.
	Path   string
	Qdrant QdrantConfig
}

// ForGeneration returns options for rebuild generation seq. The Qdrant collection gets a
// _g<seq> suffix; local backends keep Path since their files are replaced atomically on save.
func (o Options) ForGeneration(seq int64) Options {
	out := o
	if seq > 0 && o.Qdrant.Collection != "" {
		out.Qdrant.Collection = fmt.Sprintf("%s_g%d", o.Qdrant.Collection, seq)
	}
	return out
}

// New creates an empty index for opts. Qdrant connects to (or creates) the collection.
func New(ctx context.Context, opts Options) (VectorIndex, error) {
	switch opts.Backend {
	case BackendFlat, "":
		return NewFlatIndex(opts.Dimensions, opts.Metric, opts.Model)
	case BackendFAISS:
		return NewFAISSIndex(opts.Dimensions, opts.Metric, opts.Model)
	case BackendQdrant:
		if opts.Metric != MetricCosine {
			return nil, fmt.Errorf("qdrant backend requires metric cosine, got %s", opts.Metric)
		}
		return NewQdrantIndex(ctx, opts.Qdrant, opts.Dimensions)
	default:
		return nil, fmt.Errorf("unknown index backend: %s (supported: flat, faiss, qdrant)", opts.Backend)
	}
}

// Open creates an index for opts and loads persisted state from opts.Path when the backend is
// Persistent. A missing file yields an empty index.
func Open(ctx context.Context, opts Options) (VectorIndex, error) {
	idx, err := New(ctx, opts)
	if err != nil {
		return nil, err
	}
	if p, ok := idx.(Persistent); ok && opts.Path != "" {
		if err := p.Load(opts.Path); err != nil {
			idx.Close()
			return nil, err
		}
	}
	return idx, nil
}

// IsFAISSAvailable reports whether FAISS support is compiled in.
func IsFAISSAvailable() bool {
	idx, err := NewFAISSIndex(1, MetricL2, "")
	if err != nil {
		return false
	}
	_ = idx.Close()
	return true
}
