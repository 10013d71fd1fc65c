package server

import (
	"context"
	"fmt"

	"github.com/hyperjump/tanya/internal/config"
	"github.com/hyperjump/tanya/internal/models"
	"github.com/hyperjump/tanya/internal/storage"
)

// Status is the body of GET /api/v1/status. The CLI builds the same value locally.
type Status struct {
	Documents         int64              `json:"documents"`
	Chunks            int64              `json:"chunks"`
	VectorIndexSize   int                `json:"vector_index_size"`
	Metric            string             `json:"metric"`
	Dimensions        int                `json:"dimensions"`
	Generation        int64              `json:"generation"`
	Stale             bool               `json:"stale"`
	IntegrityWarnings int64              `json:"integrity_warnings"`
	LastRebuild       *models.Generation `json:"last_rebuild,omitempty"`
	DiskUsageBytes    *int64             `json:"disk_usage_bytes,omitempty"`
	Config            *StatusConfig      `json:"config,omitempty"`
}

// StatusConfig is the effective configuration reported by a running server.
type StatusConfig struct {
	IndexBackend      string  `json:"index_backend"`
	EmbeddingProvider string  `json:"embedding_provider"`
	ChunkSize         int     `json:"chunk_size"`
	ChunkOverlap      int     `json:"chunk_overlap"`
	K                 int     `json:"k"`
	RawK              int     `json:"raw_k"`
	Threshold         float64 `json:"threshold"`
	AnswerMode        string  `json:"answer_mode"`
	DatabasePath      string  `json:"database_path"`
	BleveIndexPath    string  `json:"bleve_index_path"`
	IndexPath         string  `json:"index_path"`
}

// CollectStatus reads registry counts and live index facts from d. The index is reported
// stale when the pipeline says so or when its size disagrees with the registry.
// Router and Watch are not used. When cfg is non-nil its storage paths are measured for
// disk usage.
func CollectStatus(ctx context.Context, d Deps, cfg *config.Config) (*Status, error) {
	st := &Status{}
	var err error
	if st.Documents, err = d.Storage.CountDocuments(ctx); err != nil {
		return nil, fmt.Errorf("count documents: %w", err)
	}
	if st.Chunks, err = d.Storage.CountChunks(ctx); err != nil {
		return nil, fmt.Errorf("count chunks: %w", err)
	}

	idx, release := d.Handle.Acquire()
	st.VectorIndexSize = idx.Size()
	st.Metric = string(idx.Metric())
	st.Dimensions = idx.Dimensions()
	release()

	st.Generation = d.Handle.Generation()
	st.Stale = d.Pipeline.Stale() || int64(st.VectorIndexSize) != st.Chunks
	if d.Reporter != nil {
		st.IntegrityWarnings = d.Reporter.Count()
	}
	if gen, err := d.Storage.LatestGeneration(ctx); err == nil {
		st.LastRebuild = gen
	}
	if cfg != nil {
		if n, err := storage.DiskUsageBytes(cfg.Storage.DatabasePath, cfg.Storage.BleveIndexPath, cfg.Storage.IndexPath); err == nil {
			st.DiskUsageBytes = &n
		}
	}
	return st, nil
}

func (s *Server) statusConfig() *StatusConfig {
	if s.config == nil {
		return nil
	}
	rc := s.deps.Router.Config()
	return &StatusConfig{
		IndexBackend:      s.config.Index.Backend,
		EmbeddingProvider: s.config.Embedding.Provider,
		ChunkSize:         s.config.Chunking.Size,
		ChunkOverlap:      s.config.Chunking.Overlap,
		K:                 rc.K,
		RawK:              rc.RawK,
		Threshold:         *rc.Threshold,
		AnswerMode:        string(rc.AnswerMode),
		DatabasePath:      s.config.Storage.DatabasePath,
		BleveIndexPath:    s.config.Storage.BleveIndexPath,
		IndexPath:         s.config.Storage.IndexPath,
	}
}
