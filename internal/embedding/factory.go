package embedding

import "fmt"

// Provider selects an Embedder implementation.
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderONNX   Provider = "onnx"
	ProviderMock   Provider = "mock"
)

// Options configure New.
type Options struct {
	Provider   Provider
	Dimensions int
	// CacheSize wraps the embedder in a CachedEmbedder when positive.
	CacheSize int
	ModelPath string
	MaxTokens int
	OpenAI    OpenAIConfig
}

// New builds the configured embedder.
func New(opts Options) (Embedder, error) {
	var (
		e   Embedder
		err error
	)
	switch opts.Provider {
	case ProviderOpenAI:
		cfg := opts.OpenAI
		if cfg.Dimensions == 0 {
			cfg.Dimensions = opts.Dimensions
		}
		e, err = NewOpenAIEmbedder(cfg)
	case ProviderONNX, "":
		e, err = NewONNXEmbedder(opts.ModelPath, opts.Dimensions, opts.MaxTokens)
	case ProviderMock:
		e = NewMockEmbedder(opts.Dimensions)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (supported: openai, onnx, mock)", opts.Provider)
	}
	if err != nil {
		return nil, err
	}
	if opts.CacheSize > 0 {
		e = NewCachedEmbedder(e, opts.CacheSize)
	}
	return e, nil
}
