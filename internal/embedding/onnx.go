//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hyperjump/tanya/internal/models"
	"github.com/hyperjump/tanya/pkg/utils"
	ort "github.com/yalue/onnxruntime_go"
)

var (
	onnxInputNames  = []string{"input_ids", "attention_mask", "token_type_ids"}
	onnxOutputNames = []string{"output"}
)

// onnxBindings are the tensors bound to a session. Inputs are rewritten in place before
// every Run and the pooled output is read back from out.
type onnxBindings struct {
	ids, mask, types *ort.Tensor[int64]
	out              *ort.Tensor[float32]
}

func newONNXBindings(maxTokens, dimensions int) (*onnxBindings, error) {
	b := &onnxBindings{}
	inShape := ort.NewShape(1, int64(maxTokens))
	for _, slot := range []struct {
		name string
		dst  **ort.Tensor[int64]
	}{
		{"input_ids", &b.ids},
		{"attention_mask", &b.mask},
		{"token_type_ids", &b.types},
	} {
		t, err := ort.NewEmptyTensor[int64](inShape)
		if err != nil {
			b.destroy()
			return nil, fmt.Errorf("failed to create %s tensor: %w", slot.name, err)
		}
		*slot.dst = t
	}
	out, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(dimensions)))
	if err != nil {
		b.destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	b.out = out
	return b, nil
}

func (b *onnxBindings) inputs() []ort.ArbitraryTensor {
	return []ort.ArbitraryTensor{b.ids, b.mask, b.types}
}

func (b *onnxBindings) load(enc Encoding) {
	copy(b.ids.GetData(), enc.InputIDs)
	copy(b.mask.GetData(), enc.AttentionMask)
	copy(b.types.GetData(), enc.TokenTypeIDs)
}

func (b *onnxBindings) destroy() {
	for _, t := range []*ort.Tensor[int64]{b.ids, b.mask, b.types} {
		if t != nil {
			_ = t.Destroy()
		}
	}
	if b.out != nil {
		_ = b.out.Destroy()
	}
	*b = onnxBindings{}
}

// ONNXEmbedder runs a sentence-transformer model through ONNX Runtime. It needs CGO and the
// onnxruntime shared library. Runs are serialized because the bound tensors are shared.
type ONNXEmbedder struct {
	mu         sync.Mutex
	session    *ort.AdvancedSession
	io         *onnxBindings
	tokenizer  Tokenizer
	model      string
	dimensions int
	maxTokens  int
}

// NewONNXEmbedder loads a model exported with a pooled "output" tensor. The model name
// recorded in indexes is the file name without extension.
func NewONNXEmbedder(modelPath string, dimensions, maxTokens int) (*ONNXEmbedder, error) {
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
		}
	}
	io, err := newONNXBindings(maxTokens, dimensions)
	if err != nil {
		return nil, err
	}
	session, err := ort.NewAdvancedSession(modelPath, onnxInputNames, onnxOutputNames,
		io.inputs(), []ort.ArbitraryTensor{io.out}, nil)
	if err != nil {
		io.destroy()
		return nil, fmt.Errorf("failed to create ONNX session for %s: %w", modelPath, err)
	}
	return &ONNXEmbedder{
		session:    session,
		io:         io,
		tokenizer:  NewHashTokenizer(0),
		model:      strings.TrimSuffix(filepath.Base(modelPath), filepath.Ext(modelPath)),
		dimensions: dimensions,
		maxTokens:  maxTokens,
	}, nil
}

// Embed returns the unit-normalized embedding for text.
func (e *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrEmbedding, err)
	}
	enc := e.tokenizer.Encode(text, e.maxTokens)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil, fmt.Errorf("%w: embedder is closed", models.ErrEmbedding)
	}
	e.io.load(enc)
	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("%w: inference failed: %w", models.ErrEmbedding, err)
	}
	vec := append([]float32(nil), e.io.out.GetData()[:e.dimensions]...)
	utils.NormalizeL2(vec)
	return vec, nil
}

// EmbedBatch embeds texts one run at a time.
func (e *ONNXEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("text %d: %w", i, err)
		}
		out = append(out, vec)
	}
	return out, nil
}

func (e *ONNXEmbedder) Dimensions() int { return e.dimensions }

func (e *ONNXEmbedder) Model() string { return e.model }

// Close releases the session and its tensors. Later calls to Embed fail with ErrEmbedding.
func (e *ONNXEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	err := e.session.Destroy()
	e.session = nil
	e.io.destroy()
	return err
}
