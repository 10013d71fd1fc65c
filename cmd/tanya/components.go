package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/hyperjump/tanya/internal/config"
	"github.com/hyperjump/tanya/internal/embedding"
	"github.com/hyperjump/tanya/internal/extract"
	"github.com/hyperjump/tanya/internal/indexer"
	"github.com/hyperjump/tanya/internal/keyword"
	"github.com/hyperjump/tanya/internal/llm"
	"github.com/hyperjump/tanya/internal/models"
	"github.com/hyperjump/tanya/internal/retrieval"
	"github.com/hyperjump/tanya/internal/server"
	"github.com/hyperjump/tanya/internal/storage"
	"github.com/hyperjump/tanya/internal/vector"
	"go.uber.org/zap"
)

// Components holds the initialized engine for one command.
type Components struct {
	Storage      storage.Storage
	Embedder     embedding.Embedder
	Handle       *vector.Handle
	KeywordIndex keyword.KeywordIndex
	Pipeline     *indexer.Pipeline
	Router       *retrieval.Router
	Searcher     *retrieval.Searcher
	Reporter     *retrieval.LogReporter
}

// deps exposes the engine to the HTTP server and to status reporting.
func (c *Components) deps() server.Deps {
	return server.Deps{
		Router:   c.Router,
		Searcher: c.Searcher,
		Pipeline: c.Pipeline,
		Storage:  c.Storage,
		Handle:   c.Handle,
		Reporter: c.Reporter,
	}
}

func (c *Components) Close() {
	if c.Handle != nil {
		_ = c.Handle.Close()
	}
	if c.KeywordIndex != nil {
		_ = c.KeywordIndex.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
}

func embeddingOptions(cfg *config.Config) embedding.Options {
	return embedding.Options{
		Provider:   embedding.Provider(cfg.Embedding.Provider),
		Dimensions: cfg.Embedding.Dimensions,
		CacheSize:  cfg.Embedding.CacheSize,
		ModelPath:  cfg.Embedding.ModelPath,
		MaxTokens:  cfg.Embedding.MaxTokens,
		OpenAI: embedding.OpenAIConfig{
			APIKey:            cfg.Embedding.APIKey(),
			BaseURL:           cfg.Embedding.BaseURL,
			Model:             cfg.Embedding.Model,
			Dimensions:        cfg.Embedding.Dimensions,
			BatchSize:         cfg.Embedding.BatchSize,
			RequestsPerSecond: cfg.Embedding.RequestsPerSecond,
		},
	}
}

func indexOptions(cfg *config.Config, embedder embedding.Embedder) (vector.Options, error) {
	backend, err := vector.ParseBackend(cfg.Index.Backend)
	if err != nil {
		return vector.Options{}, err
	}
	metric, err := vector.ParseMetric(cfg.Index.Metric)
	if err != nil {
		return vector.Options{}, err
	}
	return vector.Options{
		Backend:    backend,
		Metric:     metric,
		Dimensions: embedder.Dimensions(),
		Model:      embedder.Model(),
		Path:       cfg.Storage.IndexPath,
		Qdrant: vector.QdrantConfig{
			URL:               cfg.Index.Qdrant.URL,
			APIKey:            cfg.Index.Qdrant.APIKey(),
			Collection:        cfg.Index.Qdrant.Collection,
			Timeout:           cfg.Index.Qdrant.Timeout(),
			RequestsPerSecond: cfg.Index.Qdrant.RequestsPerSecond,
		},
	}, nil
}

func routerConfig(cfg *config.Config) (retrieval.Config, error) {
	mode, err := retrieval.ParseAnswerMode(cfg.Router.AnswerMode)
	if err != nil {
		return retrieval.Config{}, err
	}
	return retrieval.Config{
		K:                cfg.Router.K,
		RawK:             cfg.Router.RawK,
		Threshold:        cfg.Router.Threshold,
		MaxContextChunks: cfg.Router.MaxContextChunks,
		AnswerMode:       mode,
		MinAnswerChars:   cfg.Router.MinAnswerChars,
		EmbedTimeout:     cfg.Router.EmbedTimeout(),
		SearchTimeout:    cfg.Router.SearchTimeout(),
		ValidateTimeout:  cfg.Router.ValidateTimeout(),
		GenerateTimeout:  cfg.Router.GenerateTimeout(),
	}, nil
}

// openIndex loads the index of the latest active generation. A persisted index that cannot be
// used (corrupt, or built for another dimension, metric or model) fails with models.ErrIndex
// unless discardUnusable is set, in which case an empty index takes its place. Only rebuild
// sets it, since it repopulates the index from the registry before anything is saved.
func openIndex(ctx context.Context, store storage.Storage, opts vector.Options, logger *zap.Logger, discardUnusable bool) (vector.VectorIndex, int64, error) {
	var seq int64
	if gen, err := store.LatestGeneration(ctx); err == nil {
		seq = gen.Seq
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, 0, fmt.Errorf("failed to read generations: %w", err)
	}
	opts = opts.ForGeneration(seq)
	idx, err := vector.Open(ctx, opts)
	if errors.Is(err, models.ErrIndex) {
		if !discardUnusable {
			return nil, 0, fmt.Errorf("persisted vector index at %s is unusable (run tanya rebuild --discard-index): %w", opts.Path, err)
		}
		logger.Warn("discarding unusable vector index",
			zap.String("path", opts.Path), zap.Error(err))
		idx, err = vector.New(ctx, opts)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to initialize vector index: %w", err)
	}
	if ic, ok := idx.(vector.IntegrityChecker); ok {
		if in := ic.Integrity(); in.Drifted() {
			logger.Warn("vector index and metadata disagree (run tanya rebuild)",
				zap.Int("index_entries", in.IndexEntries),
				zap.Int("metadata_records", in.MetadataRecords))
		}
	}
	logger.Info("vector index initialized",
		zap.String("backend", string(opts.Backend)),
		zap.String("metric", string(idx.Metric())),
		zap.Int("size", idx.Size()),
		zap.Int64("generation", seq),
		zap.Bool("faiss_available", vector.IsFAISSAvailable()))
	return idx, seq, nil
}

// initializeComponents builds the engine from cfg. discardIndex is passed to openIndex.
func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger, discardIndex bool) (_ *Components, err error) {
	c := &Components{}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	c.Storage, err = storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	c.Embedder, err = embedding.New(embeddingOptions(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	idxOpts, err := indexOptions(cfg, c.Embedder)
	if err != nil {
		return nil, err
	}
	idx, seq, err := openIndex(ctx, c.Storage, idxOpts, logger, discardIndex)
	if err != nil {
		return nil, err
	}
	c.Handle = vector.NewHandle(idx, seq, logger)

	bleveIdx, err := keyword.NewBleveIndex(cfg.Storage.BleveIndexPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
	}
	c.KeywordIndex = bleveIdx

	c.Pipeline = indexer.NewPipeline(c.Storage, c.Embedder, c.Handle, indexer.Options{
		ChunkSize:         cfg.Chunking.Size,
		ChunkOverlap:      cfg.Chunking.Overlap,
		BatchSize:         cfg.Embedding.BatchSize,
		AllowedExtensions: cfg.Watch.Extensions,
		Index:             idxOpts,
	},
		indexer.WithLogger(logger),
		indexer.WithKeywordIndex(c.KeywordIndex),
		indexer.WithExtractor(extract.NewExtractor()),
	)

	rcfg, err := routerConfig(cfg)
	if err != nil {
		return nil, err
	}
	c.Reporter = retrieval.NewLogReporter(logger)
	ropts := []retrieval.Option{retrieval.WithReporter(c.Reporter), retrieval.WithLogger(logger)}
	if cfg.Generation.Enabled() {
		gen, err := llm.NewOpenAIGenerator(llm.OpenAIConfig{
			APIKey:            cfg.Generation.APIKey(),
			BaseURL:           cfg.Generation.BaseURL,
			Model:             cfg.Generation.Model,
			Temperature:       cfg.Generation.Temperature,
			MaxTokens:         cfg.Generation.MaxTokens,
			RequestsPerSecond: cfg.Generation.RequestsPerSecond,
		}, llm.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize generator: %w", err)
		}
		ropts = append(ropts, retrieval.WithGenerator(gen))
		if cfg.Router.Validate {
			ropts = append(ropts, retrieval.WithValidator(llm.NewValidator(gen, cfg.Router.ValidateTimeout())))
		}
	}
	c.Router = retrieval.NewRouter(c.Embedder, c.Handle, rcfg, ropts...)
	c.Searcher = retrieval.NewSearcher(c.Embedder, c.Handle, c.KeywordIndex, c.Storage, retrieval.HybridConfig{
		KeywordWeight:  cfg.Search.KeywordWeight,
		SemanticWeight: cfg.Search.SemanticWeight,
		Candidates:     cfg.Search.TopKCandidates,
		TitleBoost:     cfg.Search.KeywordTitleBoost,
		Fuzzy:          cfg.Search.Fuzzy,
	})
	return c, nil
}
