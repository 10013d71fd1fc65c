package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hyperjump/tanya/internal/embedding"
	"github.com/hyperjump/tanya/internal/keyword"
	"github.com/hyperjump/tanya/internal/models"
	"github.com/hyperjump/tanya/internal/vector"
	"golang.org/x/sync/errgroup"
)

// ChunkSource looks up chunks by id.
type ChunkSource interface {
	GetChunk(ctx context.Context, id string) (*models.Chunk, error)
}

// HybridConfig weights the two signals of hybrid search.
type HybridConfig struct {
	KeywordWeight  float64
	SemanticWeight float64
	// Candidates is the number of hits requested from each index.
	Candidates int
	TitleBoost float64
	Fuzzy      bool
}

// Searcher lists chunks ranked by a weighted mix of normalized vector similarity and keyword
// score. It never affects routing.
type Searcher struct {
	embedder embedding.Embedder
	handle   *vector.Handle
	keywords keyword.KeywordIndex
	chunks   ChunkSource
	cfg      HybridConfig
}

// NewSearcher creates a hybrid searcher. keywords and chunks may be nil.
func NewSearcher(embedder embedding.Embedder, handle *vector.Handle, keywords keyword.KeywordIndex, chunks ChunkSource, cfg HybridConfig) *Searcher {
	if cfg.KeywordWeight <= 0 && cfg.SemanticWeight <= 0 {
		cfg.KeywordWeight, cfg.SemanticWeight = 0.3, 0.7
	}
	if cfg.Candidates <= 0 {
		cfg.Candidates = 100
	}
	return &Searcher{embedder: embedder, handle: handle, keywords: keywords, chunks: chunks, cfg: cfg}
}

// Search runs keyword and vector search concurrently and fuses them by chunk id.
func (s *Searcher) Search(ctx context.Context, req *models.QueryRequest) (*models.SearchResponse, error) {
	start := time.Now()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	query := strings.TrimSpace(req.Query)

	idx, release := s.handle.Acquire()
	defer release()

	var (
		keywordResults  []*keyword.KeywordResult
		semanticResults []*vector.VectorResult
	)
	g, gctx := errgroup.WithContext(ctx)
	if s.keywords != nil && s.cfg.KeywordWeight > 0 {
		g.Go(func() error {
			opts := &keyword.SearchOptions{TitleBoost: s.cfg.TitleBoost, FuzzyEnabled: s.cfg.Fuzzy}
			results, err := s.keywords.Search(gctx, query, s.cfg.Candidates, opts)
			if err != nil {
				return fmt.Errorf("keyword search failed: %w", err)
			}
			keywordResults = results
			return nil
		})
	}
	if s.cfg.SemanticWeight > 0 {
		g.Go(func() error {
			vec, err := s.embedder.Embed(gctx, query)
			if err != nil {
				return fmt.Errorf("embedding failed: %w", err)
			}
			results, err := idx.Search(gctx, vec, s.cfg.Candidates)
			if err != nil {
				return fmt.Errorf("vector search failed: %w", err)
			}
			semanticResults = results
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	semantic := make(map[string]float64, len(semanticResults))
	for _, r := range semanticResults {
		semantic[r.ID] = Normalize(r.Score, idx.Metric())
	}
	fused := Fuse(NormalizeKeywordScores(keywordResults), semantic, s.cfg.KeywordWeight, s.cfg.SemanticWeight)
	if len(fused) > req.Limit {
		fused = fused[:req.Limit]
	}

	resp := &models.SearchResponse{Query: query, Total: len(fused), Hits: make([]*models.SearchHit, 0, len(fused))}
	chunks, err := s.lookup(ctx, idx, fused)
	if err != nil {
		return nil, err
	}
	for i, f := range fused {
		c := chunks[f.ID]
		if c == nil {
			continue
		}
		resp.Hits = append(resp.Hits, &models.SearchHit{
			Chunk:         c,
			Score:         f.Score,
			KeywordScore:  f.KeywordScore,
			SemanticScore: f.SemanticScore,
			Rank:          i + 1,
		})
	}
	resp.QueryTime = time.Since(start).Milliseconds()
	return resp, nil
}

// lookup resolves chunk text from index metadata, then from the chunk source.
func (s *Searcher) lookup(ctx context.Context, idx vector.VectorIndex, fused []*FusedResult) (map[string]*models.Chunk, error) {
	ids := make([]string, len(fused))
	for i, f := range fused {
		ids[i] = f.ID
	}
	out := make(map[string]*models.Chunk, len(ids))
	metas, err := idx.Get(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("metadata lookup failed: %w", err)
	}
	for i, m := range metas {
		if m != nil {
			out[ids[i]] = chunkFromMetadata(m)
		}
	}
	if s.chunks == nil {
		return out, nil
	}
	for _, id := range ids {
		if out[id] != nil {
			continue
		}
		if c, err := s.chunks.GetChunk(ctx, id); err == nil {
			out[id] = c
		}
	}
	return out, nil
}

// FusedResult holds a chunk id and its fused keyword/semantic scores.
type FusedResult struct {
	ID            string
	Score         float64
	KeywordScore  float64
	SemanticScore float64
}

// NormalizeKeywordScores normalizes keyword scores to [0,1] by max.
func NormalizeKeywordScores(results []*keyword.KeywordResult) map[string]float64 {
	normalized := make(map[string]float64, len(results))
	if len(results) == 0 {
		return normalized
	}
	maxScore := results[0].Score
	for _, r := range results {
		if r.Score > maxScore {
			maxScore = r.Score
		}
	}
	for _, r := range results {
		if maxScore > 0 {
			normalized[r.ID] = r.Score / maxScore
		} else {
			normalized[r.ID] = 0
		}
	}
	return normalized
}

// Fuse merges keyword and semantic score maps with weights, best first. Equal scores are
// ordered by id so the output is deterministic.
func Fuse(keywordScores, semanticScores map[string]float64, keywordWeight, semanticWeight float64) []*FusedResult {
	scoreMap := make(map[string]*FusedResult, len(keywordScores)+len(semanticScores))
	for id, score := range keywordScores {
		scoreMap[id] = &FusedResult{ID: id, KeywordScore: score}
	}
	for id, score := range semanticScores {
		if r, ok := scoreMap[id]; ok {
			r.SemanticScore = score
		} else {
			scoreMap[id] = &FusedResult{ID: id, SemanticScore: score}
		}
	}
	results := make([]*FusedResult, 0, len(scoreMap))
	for _, r := range scoreMap {
		r.Score = keywordWeight*r.KeywordScore + semanticWeight*r.SemanticScore
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	return results
}
