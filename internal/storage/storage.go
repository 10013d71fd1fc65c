// Package storage defines the document registry: documents, their chunks, and index generations.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/tanya/internal/models"
)

// ErrNotFound is returned when a document, chunk, or generation does not exist.
var ErrNotFound = errors.New("not found")

// Storage is the registry the vector index is rebuilt from.
type Storage interface {
	// SaveDocument stores doc and its chunks in one transaction, replacing any earlier
	// version of the document and all of its chunks. replaced reports whether one existed.
	SaveDocument(ctx context.Context, doc *models.Document, chunks []*models.Chunk) (replaced bool, err error)
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	// DeleteDocument removes a document and its chunks.
	DeleteDocument(ctx context.Context, id string) error
	ListDocuments(ctx context.Context, offset, limit int) ([]*models.Document, error)

	GetChunk(ctx context.Context, id string) (*models.Chunk, error)
	GetChunksByDocumentID(ctx context.Context, docID string) ([]*models.Chunk, error)
	// ListChunks returns every chunk ordered by document id and ordinal.
	ListChunks(ctx context.Context) ([]*models.Chunk, error)

	// BeginGeneration records a generation in the building state and assigns its Seq.
	BeginGeneration(ctx context.Context) (*models.Generation, error)
	FinishGeneration(ctx context.Context, g *models.Generation) error
	// LatestGeneration returns the most recent active generation.
	LatestGeneration(ctx context.Context) (*models.Generation, error)

	CountDocuments(ctx context.Context) (int64, error)
	CountChunks(ctx context.Context) (int64, error)

	Close() error
}
