package models

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Wrap them together with the cause, e.g. fmt.Errorf("%w: %w", ErrEmbedding, err),
// and test with errors.Is.
var (
	// ErrExtraction marks an unreadable source document. It aborts that document only.
	ErrExtraction = errors.New("extraction error")
	// ErrUnsupportedType is returned for source types no extractor handles.
	ErrUnsupportedType = fmt.Errorf("%w: unsupported document type", ErrExtraction)
	// ErrEmbedding marks a failed embedding call.
	ErrEmbedding = errors.New("embedding error")
	// ErrIndex marks a dimension/metric mismatch or a corrupt index. Fatal at load time.
	ErrIndex = errors.New("index error")
	// ErrValidationTimeout marks a validator call that did not return in time.
	ErrValidationTimeout = errors.New("validation timeout")
	// ErrGeneration marks a failed generation call. It is surfaced to the caller.
	ErrGeneration = errors.New("generation error")
)

// IntegrityWarning reports ids returned by the index that have no metadata record.
// It is an observability event, not an error.
type IntegrityWarning struct {
	Query      string   `json:"query,omitempty"`
	MissingIDs []string `json:"missing_ids"`
	IndexSize  int      `json:"index_size"`
}

func (w IntegrityWarning) String() string {
	return fmt.Sprintf("index/metadata drift: %d id(s) without metadata (%s), index size %d",
		len(w.MissingIDs), strings.Join(w.MissingIDs, ","), w.IndexSize)
}
