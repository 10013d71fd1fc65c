// Package models defines core data structures for documents, chunks, and retrieval decisions.
package models

import "time"

// Document represents an ingested source document.
type Document struct {
	ID         string                 `json:"id" db:"id"`
	Title      string                 `json:"title" db:"title"`
	Content    string                 `json:"content" db:"content"`
	Metadata   map[string]interface{} `json:"metadata" db:"metadata"`
	Generation int64                  `json:"generation" db:"generation"`
	CreatedAt  time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at" db:"updated_at"`
}

// Chunk is a bounded unit of retrievable text. Ordinal is stable within a document.
type Chunk struct {
	ID         string    `json:"id" db:"id"`
	DocumentID string    `json:"document_id" db:"document_id"`
	Ordinal    int       `json:"ordinal" db:"ordinal"`
	Text       string    `json:"text" db:"text"`
	CreatedAt  time.Time `json:"created_at,omitempty" db:"created_at"`
}

// DocumentInput is the input for ingesting a document.
type DocumentInput struct {
	ID       string                 `json:"id,omitempty"`
	Title    string                 `json:"title,omitempty"`
	Content  string                 `json:"content"`
	Records  []string               `json:"records,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Generation records one full index build.
type Generation struct {
	ID         string    `json:"id" db:"id"`
	Seq        int64     `json:"seq" db:"seq"`
	StartedAt  time.Time `json:"started_at" db:"started_at"`
	FinishedAt time.Time `json:"finished_at" db:"finished_at"`
	Documents  int64     `json:"documents" db:"documents"`
	Chunks     int64     `json:"chunks" db:"chunks"`
	Status     string    `json:"status" db:"status"`
}

// Generation statuses.
const (
	GenerationBuilding = "building"
	GenerationActive   = "active"
	GenerationFailed   = "failed"
)
