// Package llm is the generation collaborator: fallback answers, yes/no validation of local
// context, context-grounded answers and record summaries.
package llm

import "context"

// Request is a single chat completion call.
type Request struct {
	// System is an optional system message.
	System string
	// Prompt is sent as the user message.
	Prompt string
	// Temperature overrides the generator default when non-nil.
	Temperature *float32
	// MaxTokens caps the reply; 0 uses the generator default.
	MaxTokens int
}

// Generator produces text for a prompt. Failures are wrapped with models.ErrGeneration.
type Generator interface {
	Generate(ctx context.Context, req *Request) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req *Request) (string, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, req *Request) (string, error) {
	return f(ctx, req)
}

// Temperature returns a pointer to t for Request.Temperature.
func Temperature(t float32) *float32 {
	return &t
}
