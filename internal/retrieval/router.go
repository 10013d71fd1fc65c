package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hyperjump/tanya/internal/embedding"
	"github.com/hyperjump/tanya/internal/llm"
	"github.com/hyperjump/tanya/internal/models"
	"github.com/hyperjump/tanya/internal/vector"
	"go.uber.org/zap"
)

// Defaults for Config zero values.
const (
	DefaultK                = 5
	DefaultRawK             = 10
	DefaultThreshold        = 0.5
	DefaultMaxContextChunks = 5
)

// AnswerMode selects how Ask composes a local answer.
type AnswerMode string

const (
	// AnswerModeAnswer asks the generator to answer from the context, with NOT_FOUND demotion.
	AnswerModeAnswer AnswerMode = "answer"
	// AnswerModeSummarize asks the generator to summarize the matched records.
	AnswerModeSummarize AnswerMode = "summarize"
	// AnswerModeContext returns the context chunks without generation.
	AnswerModeContext AnswerMode = "context"
)

// ParseAnswerMode parses a mode name; the empty string is AnswerModeAnswer.
func ParseAnswerMode(s string) (AnswerMode, error) {
	switch AnswerMode(strings.ToLower(s)) {
	case AnswerModeAnswer, "":
		return AnswerModeAnswer, nil
	case AnswerModeSummarize:
		return AnswerModeSummarize, nil
	case AnswerModeContext:
		return AnswerModeContext, nil
	default:
		return "", fmt.Errorf("unknown answer mode: %s (supported: answer, summarize, context)", s)
	}
}

// Config holds router parameters. Zero values take the package defaults, except Threshold,
// where only nil does.
type Config struct {
	// K is the number of unique candidates kept after dedup.
	K int
	// RawK is the number of raw hits requested from the index; must exceed K.
	RawK int
	// Threshold is the minimum normalized similarity for a local answer; equality accepts.
	// 0 accepts every candidate.
	Threshold        *float64
	MaxContextChunks int
	AnswerMode       AnswerMode
	// MinAnswerChars demotes answers shorter than this to fallback; 0 disables the check.
	MinAnswerChars  int
	EmbedTimeout    time.Duration
	SearchTimeout   time.Duration
	ValidateTimeout time.Duration
	GenerateTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.K <= 0 {
		c.K = DefaultK
	}
	if c.RawK <= 0 {
		c.RawK = DefaultRawK
	}
	if c.RawK <= c.K {
		c.RawK = 2 * c.K
	}
	t := DefaultThreshold
	if c.Threshold != nil {
		t = *c.Threshold
	}
	c.Threshold = &t
	if c.MaxContextChunks <= 0 {
		c.MaxContextChunks = DefaultMaxContextChunks
	}
	if c.AnswerMode == "" {
		c.AnswerMode = AnswerModeAnswer
	}
	return c
}

// Router decides, per query, between a local answer and a generative fallback.
type Router struct {
	embedder  embedding.Embedder
	handle    *vector.Handle
	generator llm.Generator
	validator llm.Validator
	reporter  IntegrityReporter
	logger    *zap.Logger
	cfg       Config
	threshold float64
}

// Option configures a Router.
type Option func(*Router)

// WithGenerator sets the generation collaborator used for fallback and answer composition.
func WithGenerator(g llm.Generator) Option {
	return func(r *Router) { r.generator = g }
}

// WithValidator enables yes/no validation of accepted context. It needs a generator for the
// rejected and failed cases; NewRouter ignores a validator configured without one.
func WithValidator(v llm.Validator) Option {
	return func(r *Router) { r.validator = v }
}

// WithReporter sets the integrity warning sink.
func WithReporter(rep IntegrityReporter) Option {
	return func(r *Router) { r.reporter = rep }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Router) { r.logger = logger }
}

// NewRouter creates a Router over the index published by handle.
func NewRouter(embedder embedding.Embedder, handle *vector.Handle, cfg Config, opts ...Option) *Router {
	r := &Router{
		embedder: embedder,
		handle:   handle,
		cfg:      cfg.withDefaults(),
	}
	r.threshold = *r.cfg.Threshold
	for _, opt := range opts {
		opt(r)
	}
	if r.reporter == nil {
		r.reporter = NewLogReporter(r.logger)
	}
	if r.validator != nil && r.generator == nil {
		if r.logger != nil {
			r.logger.Warn("Context validation disabled: no generator configured")
		}
		r.validator = nil
	}
	return r
}

// Config returns the effective configuration.
func (r *Router) Config() Config {
	return r.cfg
}

// Route runs one query through the state machine and returns its decision. Retrieval
// failures become FALLBACK when a generator is configured and are returned otherwise. A
// generation failure is returned as models.ErrGeneration together with the decision.
func (r *Router) Route(ctx context.Context, query string) (*models.RetrievalDecision, error) {
	d := &models.RetrievalDecision{
		Query:  query,
		Stages: []models.Stage{models.StageReceived},
	}
	if strings.TrimSpace(query) == "" {
		d.EmptyQuery = true
		d.Reason = "empty query"
		r.stage(d, models.StageResponded)
		return d, nil
	}

	idx, release := r.handle.Acquire()
	defer release()

	vec, err := r.embed(ctx, query)
	if err != nil {
		return r.fallback(ctx, d, "embedding failed", err)
	}
	r.stage(d, models.StageEmbedded)

	hits, err := r.search(ctx, idx, vec)
	if err != nil {
		return r.fallback(ctx, d, "search failed", err)
	}
	r.stage(d, models.StageSearched)

	candidates, err := r.resolve(ctx, idx, hits)
	if err != nil {
		return r.fallback(ctx, d, "metadata lookup failed", err)
	}
	unique, missing := Dedup(candidates, r.cfg.K)
	if len(missing) > 0 {
		r.reporter.ReportIntegrity(models.IntegrityWarning{Query: query, MissingIDs: missing, IndexSize: idx.Size()})
	}
	d.Candidates = unique
	r.stage(d, models.StageDeduped)

	best := -1
	for i, c := range unique {
		if best < 0 || c.Similarity > unique[best].Similarity {
			best = i
		}
	}
	if best >= 0 {
		d.Confidence = unique[best].Similarity
	}
	r.stage(d, models.StageScored)

	if best < 0 {
		return r.fallback(ctx, d, "no candidates", nil)
	}
	if d.Confidence < r.threshold {
		return r.fallback(ctx, d, fmt.Sprintf("best similarity %.3f below threshold %.3f", d.Confidence, r.threshold), nil)
	}

	for _, c := range unique {
		if len(d.Context) >= r.cfg.MaxContextChunks {
			break
		}
		if c.Similarity >= r.threshold {
			d.Context = append(d.Context, c.Chunk)
		}
	}

	if r.validator == nil {
		d.Source = models.SourceLocal
		r.stage(d, models.StageResponded)
		return d, nil
	}
	ok, err := r.validate(ctx, query, d.ContextTexts())
	if err != nil {
		return r.fallback(ctx, d, "validation failed", err)
	}
	if !ok {
		return r.fallback(ctx, d, "validator rejected context", nil)
	}
	d.Source = models.SourceValidatedLocal
	r.stage(d, models.StageResponded)
	return d, nil
}

func (r *Router) stage(d *models.RetrievalDecision, s models.Stage) {
	d.Stages = append(d.Stages, s)
	if r.logger != nil {
		r.logger.Debug("Route stage", zap.String("query", d.Query), zap.String("stage", string(s)))
	}
}

// fallback finishes d as FALLBACK. cause is a retrieval failure: without a generator it is
// returned to the caller instead of a decision.
func (r *Router) fallback(ctx context.Context, d *models.RetrievalDecision, reason string, cause error) (*models.RetrievalDecision, error) {
	d.Source = models.SourceFallback
	d.Context = nil
	d.Reason = reason
	if cause != nil {
		d.Reason = fmt.Sprintf("%s: %v", reason, cause)
		if r.logger != nil {
			r.logger.Warn("Routing to fallback", zap.String("reason", reason), zap.Error(cause))
		}
		if r.generator == nil {
			return nil, cause
		}
	}
	if r.generator == nil {
		r.stage(d, models.StageResponded)
		return d, nil
	}
	resp, err := r.generate(ctx, llm.FallbackRequest(d.Query))
	r.stage(d, models.StageResponded)
	if err != nil {
		return d, err
	}
	d.Response = resp
	return d, nil
}

func (r *Router) embed(ctx context.Context, query string) ([]float32, error) {
	cctx, cancel := withTimeout(ctx, r.cfg.EmbedTimeout)
	defer cancel()
	vec, err := r.embedder.Embed(cctx, query)
	if err != nil {
		if !errors.Is(err, models.ErrEmbedding) {
			err = fmt.Errorf("%w: %w", models.ErrEmbedding, err)
		}
		return nil, err
	}
	return vec, nil
}

func (r *Router) search(ctx context.Context, idx vector.VectorIndex, vec []float32) ([]*vector.VectorResult, error) {
	cctx, cancel := withTimeout(ctx, r.cfg.SearchTimeout)
	defer cancel()
	hits, err := idx.Search(cctx, vec, r.cfg.RawK)
	if err != nil {
		if !errors.Is(err, models.ErrIndex) {
			err = fmt.Errorf("%w: %w", models.ErrIndex, err)
		}
		return nil, err
	}
	return hits, nil
}

// resolve normalizes raw hits into candidates and attaches chunk metadata.
func (r *Router) resolve(ctx context.Context, idx vector.VectorIndex, hits []*vector.VectorResult) ([]*models.Candidate, error) {
	if len(hits) == 0 {
		return nil, nil
	}
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	cctx, cancel := withTimeout(ctx, r.cfg.SearchTimeout)
	defer cancel()
	metas, err := idx.Get(cctx, ids)
	if err != nil {
		return nil, err
	}
	metric := idx.Metric()
	out := make([]*models.Candidate, len(hits))
	for i, h := range hits {
		c := &models.Candidate{
			ID:         h.ID,
			RawScore:   h.Score,
			Similarity: Normalize(h.Score, metric),
			Rank:       i,
		}
		if i < len(metas) && metas[i] != nil {
			c.Chunk = chunkFromMetadata(metas[i])
		}
		out[i] = c
	}
	return out, nil
}

func (r *Router) validate(ctx context.Context, query string, texts []string) (bool, error) {
	cctx, cancel := withTimeout(ctx, r.cfg.ValidateTimeout)
	defer cancel()
	ok, err := r.validator.Validate(cctx, query, texts)
	if err == nil && errors.Is(cctx.Err(), context.DeadlineExceeded) {
		err = cctx.Err()
	}
	if err != nil && errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, models.ErrValidationTimeout) {
		err = fmt.Errorf("%w: %w", models.ErrValidationTimeout, err)
	}
	return ok, err
}

func (r *Router) generate(ctx context.Context, req *llm.Request) (string, error) {
	cctx, cancel := withTimeout(ctx, r.cfg.GenerateTimeout)
	defer cancel()
	out, err := r.generator.Generate(cctx, req)
	if err != nil && !errors.Is(err, models.ErrGeneration) {
		err = fmt.Errorf("%w: %w", models.ErrGeneration, err)
	}
	return out, err
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func chunkFromMetadata(m *vector.Metadata) *models.Chunk {
	return &models.Chunk{
		ID:         m.ID,
		DocumentID: m.DocumentID,
		Ordinal:    m.Ordinal,
		Text:       m.Text,
	}
}
