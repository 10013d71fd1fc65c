package indexer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hyperjump/tanya/internal/embedding"
	"github.com/hyperjump/tanya/internal/extract"
	"github.com/hyperjump/tanya/internal/fileid"
	"github.com/hyperjump/tanya/internal/keyword"
	"github.com/hyperjump/tanya/internal/models"
	"github.com/hyperjump/tanya/internal/storage"
	"github.com/hyperjump/tanya/internal/vector"
	"go.uber.org/zap"
)

// DefaultBatchSize is the number of chunks embedded per EmbedBatch call.
const DefaultBatchSize = 32

// Options configure a Pipeline.
type Options struct {
	ChunkSize    int
	ChunkOverlap int
	// BatchSize is the number of chunks per embedding call.
	BatchSize int
	// AllowedExtensions filters IngestFile and IngestDirectory; empty allows every
	// extension the extractor supports.
	AllowedExtensions []string
	// Index describes the index Rebuild creates.
	Index vector.Options
}

// IngestResult describes one ingested document.
type IngestResult struct {
	DocumentID string `json:"document_id"`
	Title      string `json:"title,omitempty"`
	Chunks     int    `json:"chunks"`
	// Replaced is set when an earlier version of the document existed. Its vectors stay in
	// the live index until the next rebuild.
	Replaced bool `json:"replaced,omitempty"`
	// Skipped is set when a file was unchanged since it was last ingested.
	Skipped bool `json:"skipped,omitempty"`
}

// IngestReport summarizes IngestDirectory.
type IngestReport struct {
	Indexed int              `json:"indexed"`
	Skipped int              `json:"skipped"`
	Failed  map[string]error `json:"-"`
}

// RebuildResult describes a completed rebuild.
type RebuildResult struct {
	Generation *models.Generation `json:"generation"`
	Documents  int                `json:"documents"`
	Chunks     int                `json:"chunks"`
	Duration   time.Duration      `json:"duration_ns"`
}

// Pipeline ingests documents into the registry, the keyword index, and the live vector index,
// and rebuilds the vector index from the registry. All writes are serialized.
type Pipeline struct {
	store     storage.Storage
	embedder  embedding.Embedder
	handle    *vector.Handle
	keywords  keyword.KeywordIndex
	extractor *extract.Extractor
	chunker   *Chunker
	opts      Options
	logger    *zap.Logger
	stale     atomic.Bool
	mu        sync.Mutex
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithLogger sets a logger for ingestion events.
func WithLogger(l *zap.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = l }
}

// WithKeywordIndex maintains a keyword index alongside the registry.
func WithKeywordIndex(k keyword.KeywordIndex) PipelineOption {
	return func(p *Pipeline) { p.keywords = k }
}

// WithExtractor sets the extractor used for files. Without one, files are read as plain text.
func WithExtractor(e *extract.Extractor) PipelineOption {
	return func(p *Pipeline) { p.extractor = e }
}

// NewPipeline creates an ingestion pipeline writing to store and publishing rebuilt indexes
// through handle.
func NewPipeline(store storage.Storage, embedder embedding.Embedder, handle *vector.Handle, opts Options, popts ...PipelineOption) *Pipeline {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	p := &Pipeline{
		store:    store,
		embedder: embedder,
		handle:   handle,
		chunker:  NewChunker(opts.ChunkSize, opts.ChunkOverlap),
		opts:     opts,
	}
	for _, o := range popts {
		o(p)
	}
	return p
}

// Stale reports whether the live index lags the registry because documents were replaced or
// deleted since the last rebuild.
func (p *Pipeline) Stale() bool {
	return p.stale.Load()
}

// Ingest chunks and embeds one document. Nothing is committed unless every chunk embeds.
func (p *Pipeline) Ingest(ctx context.Context, input *models.DocumentInput) (*IngestResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ingest(ctx, input)
}

func (p *Pipeline) ingest(ctx context.Context, input *models.DocumentInput) (*IngestResult, error) {
	content := Preprocess(input.Content)
	id := input.ID
	if id == "" {
		id = fileid.TextDocID(input.Title, content)
	}

	var chunks []*models.Chunk
	if len(input.Records) > 0 {
		chunks = p.chunker.Records(id, input.Records)
		if content == "" {
			content = strings.Join(input.Records, "\n")
		}
	} else {
		chunks = p.chunker.Chunk(id, content)
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: document %s has no text", models.ErrExtraction, id)
	}

	vectors, err := p.embedChunks(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("failed to embed document %s: %w", id, err)
	}

	doc := &models.Document{
		ID:         id,
		Title:      input.Title,
		Content:    content,
		Metadata:   input.Metadata,
		Generation: p.handle.Generation(),
	}
	replaced, err := p.store.SaveDocument(ctx, doc, chunks)
	if err != nil {
		return nil, fmt.Errorf("failed to store document: %w", err)
	}
	result := &IngestResult{DocumentID: id, Title: doc.Title, Chunks: len(chunks), Replaced: replaced}

	if p.keywords != nil {
		if err := p.keywords.DeleteDocument(ctx, id); err != nil {
			return result, fmt.Errorf("failed to clear keyword index: %w", err)
		}
		if err := p.keywords.IndexChunks(ctx, normalizeTitleForKeywordSearch(doc.Title), chunks); err != nil {
			return result, fmt.Errorf("failed to index keywords: %w", err)
		}
	}

	if replaced {
		p.markStale("document replaced", id)
		return result, nil
	}
	idx, release := p.handle.Acquire()
	defer release()
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}
	if err := idx.Add(ctx, ids, vectors, chunkMetadata(map[string]string{doc.ID: doc.Title}, chunks)); err != nil {
		if p.logger != nil {
			p.logger.Warn("Live index rejected chunks, rebuild required", zap.String("doc_id", id), zap.Error(err))
		}
		p.markStale("live index add failed", id)
	}
	if p.logger != nil {
		p.logger.Debug("Document ingested", zap.String("doc_id", id), zap.Int("chunks", len(chunks)))
	}
	return result, nil
}

func (p *Pipeline) markStale(reason, docID string) {
	p.stale.Store(true)
	if p.logger != nil {
		p.logger.Info("Index marked stale", zap.String("reason", reason), zap.String("doc_id", docID))
	}
}

// embedChunks embeds chunk texts in batches of Options.BatchSize.
func (p *Pipeline) embedChunks(ctx context.Context, chunks []*models.Chunk) ([][]float32, error) {
	vectors := make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += p.opts.BatchSize {
		end := start + p.opts.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		texts := make([]string, end-start)
		for i, c := range chunks[start:end] {
			texts[i] = c.Text
		}
		batch, err := p.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			if !errors.Is(err, models.ErrEmbedding) {
				err = fmt.Errorf("%w: %w", models.ErrEmbedding, err)
			}
			return nil, err
		}
		if len(batch) != len(texts) {
			return nil, fmt.Errorf("%w: got %d vectors for %d texts", models.ErrEmbedding, len(batch), len(texts))
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

// chunkMetadata builds index metadata for chunks, tagging each with its document title when
// titles has one.
func chunkMetadata(titles map[string]string, chunks []*models.Chunk) []*vector.Metadata {
	meta := make([]*vector.Metadata, len(chunks))
	for i, c := range chunks {
		m := &vector.Metadata{ID: c.ID, Text: c.Text, DocumentID: c.DocumentID, Ordinal: c.Ordinal}
		if title := titles[c.DocumentID]; title != "" {
			m.Attrs = map[string]string{"title": title}
		}
		meta[i] = m
	}
	return meta
}

// normalizeTitleForKeywordSearch replaces underscores with spaces so the standard analyzer
// matches "company profile" against "company_profile_2021.pptx".
func normalizeTitleForKeywordSearch(title string) string {
	return strings.ReplaceAll(title, "_", " ")
}

const (
	metaKeySourcePath  = "source_path"
	metaKeySourceMtime = "source_mtime"
	metaKeySourceSize  = "source_size"
)

// IngestFile extracts and ingests the file at path. Its document ID is derived from the
// absolute path, so re-ingesting a changed file replaces the earlier version. Unchanged
// files (same mtime and size) are skipped.
func (p *Pipeline) IngestFile(ctx context.Context, path string) (*IngestResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ingestFile(ctx, path)
}

func (p *Pipeline) ingestFile(ctx context.Context, path string) (*IngestResult, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(absPath))
	if !p.Allowed(absPath) {
		return nil, fmt.Errorf("%w: extension %q not allowed", models.ErrUnsupportedType, ext)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", absPath)
	}
	docID := fileid.FileDocID(absPath)
	if p.unchanged(ctx, absPath, docID, info) {
		if p.logger != nil {
			p.logger.Debug("Skipping unchanged file", zap.String("path", absPath))
		}
		return &IngestResult{DocumentID: docID, Title: filepath.Base(absPath), Skipped: true}, nil
	}

	input := &models.DocumentInput{
		ID:    docID,
		Title: filepath.Base(absPath),
		Metadata: map[string]interface{}{
			metaKeySourcePath:  absPath,
			metaKeySourceMtime: strconv.FormatInt(info.ModTime().UnixNano(), 10),
			metaKeySourceSize:  strconv.FormatInt(info.Size(), 10),
		},
	}
	switch {
	case p.extractor != nil && p.extractor.HasRecords(ext):
		input.Records, err = p.extractor.ExtractFileRecords(absPath)
	case p.extractor != nil:
		input.Content, err = p.extractor.Extract(absPath)
	default:
		var raw []byte
		raw, err = os.ReadFile(absPath)
		if err != nil {
			err = fmt.Errorf("%w: %w", models.ErrExtraction, err)
		}
		input.Content = string(raw)
	}
	if err != nil {
		return nil, err
	}
	res, err := p.ingest(ctx, input)
	if err != nil {
		return res, err
	}
	if p.logger != nil {
		p.logger.Info("File ingested", zap.String("path", absPath), zap.Int("chunks", res.Chunks), zap.Bool("replaced", res.Replaced))
	}
	return res, nil
}

// unchanged reports whether the file is already registered with the same mtime and size.
func (p *Pipeline) unchanged(ctx context.Context, absPath, docID string, info os.FileInfo) bool {
	doc, err := p.store.GetDocument(ctx, docID)
	if err != nil || doc.Metadata == nil {
		return false
	}
	if doc.Metadata[metaKeySourcePath] != absPath {
		return false
	}
	// mtime and size are stored as strings since UnixNano exceeds float64 precision in JSON
	return metadataInt64(doc.Metadata, metaKeySourceMtime) == info.ModTime().UnixNano() &&
		metadataInt64(doc.Metadata, metaKeySourceSize) == info.Size()
}

func metadataInt64(m map[string]interface{}, key string) int64 {
	switch n := m[key].(type) {
	case string:
		x, _ := strconv.ParseInt(n, 10, 64)
		return x
	case float64:
		return int64(n)
	default:
		return 0
	}
}

// IngestDirectory walks dir recursively and ingests each allowed regular file. Per-file
// failures are collected in the report; only a walk or context error is returned.
func (p *Pipeline) IngestDirectory(ctx context.Context, dir string) (*IngestReport, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return nil, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", absDir)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	report := &IngestReport{Failed: make(map[string]error)}
	err = filepath.WalkDir(absDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path != absDir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !p.Allowed(path) {
			return nil
		}
		// resolve symlinks so only regular files are ingested
		finfo, statErr := os.Stat(path)
		if statErr != nil || !finfo.Mode().IsRegular() {
			return nil
		}
		res, err := p.ingestFile(ctx, path)
		switch {
		case err != nil:
			report.Failed[path] = err
			if p.logger != nil {
				p.logger.Warn("Failed to ingest file", zap.String("path", path), zap.Error(err))
			}
		case res.Skipped:
			report.Skipped++
		default:
			report.Indexed++
		}
		return nil
	})
	return report, err
}

// Allowed reports whether path has an extension the pipeline ingests.
func (p *Pipeline) Allowed(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if len(p.opts.AllowedExtensions) > 0 {
		return extensionAllowed(ext, p.opts.AllowedExtensions)
	}
	if p.extractor != nil {
		return p.extractor.Supports(ext)
	}
	return true
}

func extensionAllowed(ext string, allowed []string) bool {
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}

// Delete removes a document from the registry and keyword index. Its vectors leave the live
// index at the next rebuild.
func (p *Pipeline) Delete(ctx context.Context, docID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.store.DeleteDocument(ctx, docID); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if p.keywords != nil {
		if err := p.keywords.DeleteDocument(ctx, docID); err != nil {
			return fmt.Errorf("failed to delete from keyword index: %w", err)
		}
	}
	p.markStale("document deleted", docID)
	return nil
}

// DeletePath removes the document ingested from path, if any.
func (p *Pipeline) DeletePath(ctx context.Context, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("absolute path: %w", err)
	}
	err = p.Delete(ctx, fileid.FileDocID(absPath))
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}

// Rebuild embeds every registered chunk into a new index, persists it, and publishes it.
// On failure the previous index stays live.
func (p *Pipeline) Rebuild(ctx context.Context) (*RebuildResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	start := time.Now()

	gen, err := p.store.BeginGeneration(ctx)
	if err != nil {
		return nil, err
	}
	idx, docs, chunks, err := p.build(ctx, gen.Seq)
	gen.Documents, gen.Chunks = int64(docs), int64(chunks)
	gen.FinishedAt = time.Now()
	if err != nil {
		gen.Status = models.GenerationFailed
		if ferr := p.store.FinishGeneration(context.WithoutCancel(ctx), gen); ferr != nil && p.logger != nil {
			p.logger.Warn("Failed to record failed generation", zap.Error(ferr))
		}
		return nil, err
	}
	gen.Status = models.GenerationActive
	if err := p.store.FinishGeneration(ctx, gen); err != nil {
		discard(idx)
		return nil, err
	}
	p.handle.Swap(idx, gen.Seq)
	p.stale.Store(false)

	res := &RebuildResult{Generation: gen, Documents: docs, Chunks: chunks, Duration: time.Since(start)}
	if p.logger != nil {
		p.logger.Info("Index rebuilt",
			zap.Int64("generation", gen.Seq),
			zap.Int("documents", docs),
			zap.Int("chunks", chunks),
			zap.Duration("duration", res.Duration))
	}
	return res, nil
}

// build creates and fills the index for generation seq. The index is discarded on error.
func (p *Pipeline) build(ctx context.Context, seq int64) (vector.VectorIndex, int, int, error) {
	chunks, err := p.store.ListChunks(ctx)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to list chunks: %w", err)
	}
	opts := p.opts.Index.ForGeneration(seq)
	if opts.Dimensions == 0 {
		opts.Dimensions = p.embedder.Dimensions()
	}
	if opts.Model == "" {
		opts.Model = p.embedder.Model()
	}
	idx, err := vector.New(ctx, opts)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to create index: %w", err)
	}

	titles := make(map[string]string)
	for start := 0; start < len(chunks); start += p.opts.BatchSize {
		end := start + p.opts.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]
		vectors, err := p.embedChunks(ctx, batch)
		if err != nil {
			discard(idx)
			return nil, 0, 0, err
		}
		ids := make([]string, len(batch))
		for i, c := range batch {
			ids[i] = c.ID
			if _, seen := titles[c.DocumentID]; seen {
				continue
			}
			doc, err := p.store.GetDocument(ctx, c.DocumentID)
			if err != nil {
				discard(idx)
				return nil, 0, 0, fmt.Errorf("failed to load document %s: %w", c.DocumentID, err)
			}
			titles[c.DocumentID] = doc.Title
		}
		if err := idx.Add(ctx, ids, vectors, chunkMetadata(titles, batch)); err != nil {
			discard(idx)
			return nil, 0, 0, fmt.Errorf("failed to add vectors: %w", err)
		}
	}

	if ps, ok := idx.(vector.Persistent); ok && opts.Path != "" {
		if err := ps.Save(opts.Path); err != nil {
			discard(idx)
			return nil, 0, 0, fmt.Errorf("failed to save index: %w", err)
		}
	}
	return idx, len(titles), len(chunks), nil
}

// Save persists the live index to Options.Index.Path. Backends that are not Persistent, and
// pipelines without a path, are a no-op.
func (p *Pipeline) Save() error {
	if p.opts.Index.Path == "" {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	idx, release := p.handle.Acquire()
	defer release()
	ps, ok := idx.(vector.Persistent)
	if !ok {
		return nil
	}
	if err := ps.Save(p.opts.Index.Path); err != nil {
		return fmt.Errorf("failed to save index: %w", err)
	}
	return nil
}

// discard releases an index that was never published.
func discard(idx vector.VectorIndex) {
	if d, ok := idx.(vector.Dropper); ok {
		_ = d.Drop(context.Background())
	}
	_ = idx.Close()
}
