package keyword

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/blevesearch/bleve/v2"
	keywordanalyzer "github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
	"github.com/hyperjump/tanya/internal/models"
)

// chunkDoc is the indexed form of a chunk.
type chunkDoc struct {
	DocumentID string `json:"document_id"`
	Title      string `json:"title"`
	Content    string `json:"content"`
}

// BleveIndex implements KeywordIndex using Bleve.
type BleveIndex struct {
	index bleve.Index
}

func chunkMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// standard analyzer lowercases without stemming, so "bayes" matches "Bayes" but not "bay"
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("content", textFieldMapping)
	docMapping.AddFieldMappingsAt("title", textFieldMapping)
	idFieldMapping := bleve.NewTextFieldMapping()
	idFieldMapping.Analyzer = keywordanalyzer.Name
	idFieldMapping.IncludeInAll = false
	docMapping.AddFieldMappingsAt("document_id", idFieldMapping)
	im.AddDocumentMapping("chunk", docMapping)
	im.DefaultType = "chunk"
	im.DefaultMapping = docMapping
	return im
}

// NewBleveIndex creates or opens a Bleve index at path. An existing index is reused so that
// incremental ingestion keeps earlier chunks searchable.
func NewBleveIndex(path string) (*BleveIndex, error) {
	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}

	index, err := bleve.New(path, chunkMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// NewMemBleveIndex creates an in-memory index.
func NewMemBleveIndex() (*BleveIndex, error) {
	index, err := bleve.NewMemOnly(chunkMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// IndexChunks indexes chunks of one document in a single batch.
func (b *BleveIndex) IndexChunks(ctx context.Context, title string, chunks []*models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	batch := b.index.NewBatch()
	for _, c := range chunks {
		if err := batch.Index(c.ID, chunkDoc{DocumentID: c.DocumentID, Title: title, Content: c.Text}); err != nil {
			return fmt.Errorf("failed to index chunk %s: %w", c.ID, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to index chunks: %w", err)
	}
	return nil
}

// Search runs a match query and returns up to limit chunk hits. With a TitleBoost above 1,
// title and content are queried separately and combined additively.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error) {
	titleBoost := 1.0
	fuzziness := 0
	if opts != nil {
		if opts.TitleBoost > 0 {
			titleBoost = opts.TitleBoost
		}
		if opts.FuzzyEnabled {
			fuzziness = opts.Fuzziness
			if fuzziness <= 0 {
				fuzziness = 1
			}
		}
	}
	if limit <= 0 || strings.TrimSpace(query) == "" {
		return nil, nil
	}

	if titleBoost <= 1.0 {
		hits, err := b.run(ctx, buildQuery(query, fuzziness, ""), limit)
		if err != nil {
			return nil, err
		}
		out := make([]*KeywordResult, 0, len(hits.scores))
		for id, score := range hits.scores {
			out = append(out, &KeywordResult{ID: id, Score: score})
		}
		return sortResults(out, hits.order, limit), nil
	}

	reqSize := limit * 2
	if reqSize < 50 {
		reqSize = 50
	}
	titleHits, err := b.run(ctx, buildQuery(query, fuzziness, "title"), reqSize)
	if err != nil {
		return nil, err
	}
	contentHits, err := b.run(ctx, buildQuery(query, fuzziness, "content"), reqSize)
	if err != nil {
		return nil, err
	}
	scores := make(map[string]float64, len(contentHits.scores))
	for id, s := range contentHits.scores {
		scores[id] += s
	}
	for id, s := range titleHits.scores {
		scores[id] += s * titleBoost
	}
	out := make([]*KeywordResult, 0, len(scores))
	for id, s := range scores {
		out = append(out, &KeywordResult{ID: id, Score: s})
	}
	order := append(contentHits.order, titleHits.order...)
	return sortResults(out, order, limit), nil
}

type hitSet struct {
	scores map[string]float64
	order  []string
}

func (b *BleveIndex) run(ctx context.Context, q blevequery.Query, size int) (*hitSet, error) {
	req := bleve.NewSearchRequest(q)
	req.Size = size
	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	hs := &hitSet{scores: make(map[string]float64, len(res.Hits))}
	for _, hit := range res.Hits {
		hs.scores[hit.ID] = hit.Score
		hs.order = append(hs.order, hit.ID)
	}
	return hs, nil
}

// sortResults orders by score descending, breaking ties by first appearance in order.
func sortResults(results []*KeywordResult, order []string, limit int) []*KeywordResult {
	pos := make(map[string]int, len(order))
	for i, id := range order {
		if _, ok := pos[id]; !ok {
			pos[id] = i
		}
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return pos[results[i].ID] < pos[results[j].ID]
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

// buildQuery returns a match query, or a disjunction of fuzzy term queries when fuzziness > 0.
// An empty field searches all fields.
func buildQuery(queryStr string, fuzziness int, field string) blevequery.Query {
	terms := strings.Fields(strings.ToLower(queryStr))
	if fuzziness <= 0 || len(terms) == 0 {
		mq := bleve.NewMatchQuery(queryStr)
		if field != "" {
			mq.SetField(field)
		}
		return mq
	}
	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(fuzziness)
		if field != "" {
			fq.SetField(field)
		}
		queries = append(queries, fq)
	}
	if len(queries) == 1 {
		return queries[0]
	}
	return bleve.NewDisjunctionQuery(queries...)
}

// DeleteDocument removes every chunk whose document_id matches.
func (b *BleveIndex) DeleteDocument(ctx context.Context, documentID string) error {
	tq := bleve.NewTermQuery(documentID)
	tq.SetField("document_id")
	for {
		req := bleve.NewSearchRequest(tq)
		req.Size = 1000
		res, err := b.index.SearchInContext(ctx, req)
		if err != nil {
			return fmt.Errorf("failed to find chunks of %s: %w", documentID, err)
		}
		if len(res.Hits) == 0 {
			return nil
		}
		batch := b.index.NewBatch()
		for _, hit := range res.Hits {
			batch.Delete(hit.ID)
		}
		if err := b.index.Batch(batch); err != nil {
			return fmt.Errorf("failed to delete chunks of %s: %w", documentID, err)
		}
	}
}

// DocCount returns the number of indexed chunks.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}
