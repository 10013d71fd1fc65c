package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hyperjump/tanya/internal/models"
)

// Validator confirms that retrieved context can answer a query.
type Validator interface {
	Validate(ctx context.Context, query string, chunks []string) (bool, error)
}

// GeneratorValidator asks a Generator a yes/no question. A call that exceeds Timeout returns
// models.ErrValidationTimeout; a reply that is neither yes nor no counts as no.
type GeneratorValidator struct {
	Generator Generator
	Timeout   time.Duration
}

// NewValidator returns a GeneratorValidator.
func NewValidator(g Generator, timeout time.Duration) *GeneratorValidator {
	return &GeneratorValidator{Generator: g, Timeout: timeout}
}

// Validate implements Validator.
func (v *GeneratorValidator) Validate(ctx context.Context, query string, chunks []string) (bool, error) {
	callCtx := ctx
	if v.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, v.Timeout)
		defer cancel()
	}
	reply, err := v.Generator.Generate(callCtx, ValidationRequest(query, chunks))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return false, fmt.Errorf("%w: %w", models.ErrValidationTimeout, err)
		}
		return false, err
	}
	yes, _ := ParseYesNo(reply)
	return yes, nil
}
