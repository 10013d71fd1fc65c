// Package indexer chunks documents, embeds them, and maintains the registry, keyword index,
// and vector index.
package indexer

import (
	"fmt"
	"strings"

	"github.com/hyperjump/tanya/internal/models"
)

// DefaultChunkSize is the chunk size in words when none is configured.
const DefaultChunkSize = 200

// Split breaks text into chunks of at most maxSize whitespace-separated words. Consecutive
// chunks share overlap words. An overlap outside [0, maxSize) is treated as 0. Empty text
// yields nil.
func Split(text string, maxSize, overlap int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	if maxSize <= 0 {
		maxSize = DefaultChunkSize
	}
	if overlap < 0 || overlap >= maxSize {
		overlap = 0
	}
	step := maxSize - overlap
	out := make([]string, 0, len(words)/step+1)
	for i := 0; i < len(words); i += step {
		end := i + maxSize
		if end > len(words) {
			end = len(words)
		}
		out = append(out, strings.Join(words[i:end], " "))
		if end >= len(words) {
			break
		}
	}
	return out
}

// ChunkID returns the id of the chunk at ordinal within a document.
func ChunkID(docID string, ordinal int) string {
	return fmt.Sprintf("%s#%d", docID, ordinal)
}

// Chunker splits text into overlapping word-based chunks.
type Chunker struct {
	chunkSize    int
	chunkOverlap int
}

// NewChunker creates a chunker with the given size and overlap (in words).
func NewChunker(chunkSize, chunkOverlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Chunker{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
	}
}

// Chunk splits text into chunks with ordinals 0..n-1 and ids docID#ordinal.
func (c *Chunker) Chunk(docID, text string) []*models.Chunk {
	return c.build(docID, Split(text, c.chunkSize, c.chunkOverlap))
}

// Records produces one chunk per record. A record longer than the chunk size is split
// without overlap so no row text is duplicated.
func (c *Chunker) Records(docID string, records []string) []*models.Chunk {
	var texts []string
	for _, r := range records {
		texts = append(texts, Split(r, c.chunkSize, 0)...)
	}
	return c.build(docID, texts)
}

func (c *Chunker) build(docID string, texts []string) []*models.Chunk {
	if len(texts) == 0 {
		return nil
	}
	chunks := make([]*models.Chunk, len(texts))
	for i, t := range texts {
		chunks[i] = &models.Chunk{
			ID:         ChunkID(docID, i),
			DocumentID: docID,
			Ordinal:    i,
			Text:       t,
		}
	}
	return chunks
}
