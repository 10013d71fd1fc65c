package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/tanya/internal/models"
	"golang.org/x/time/rate"
)

// pointNamespace derives stable Qdrant point UUIDs from chunk ids.
var pointNamespace = uuid.MustParse("6f1c2b1e-4c1d-4a43-9d0a-7f3e5d2a9b10")

// QdrantConfig configures the managed index.
type QdrantConfig struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
	// RequestsPerSecond limits calls to the service; 0 means unlimited.
	RequestsPerSecond float64
}

// QdrantIndex is a VectorIndex backed by a Qdrant collection over its REST API.
// Scores are cosine similarities.
type QdrantIndex struct {
	url        string
	apiKey     string
	collection string
	dimensions int
	client     *http.Client
	limiter    *rate.Limiter
	size       atomic.Int64
}

// NewQdrantIndex connects to the collection, creating it when missing. An existing collection
// with a different vector size is a models.ErrIndex.
func NewQdrantIndex(ctx context.Context, cfg QdrantConfig, dimensions int) (*QdrantIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	if cfg.URL == "" || cfg.Collection == "" {
		return nil, fmt.Errorf("qdrant url and collection are required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	q := &QdrantIndex{
		url:        strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		dimensions: dimensions,
		client:     &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, 1),
	}
	if err := q.init(ctx); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *QdrantIndex) collectionURL() string {
	return fmt.Sprintf("%s/collections/%s", q.url, q.collection)
}

func (q *QdrantIndex) init(ctx context.Context) error {
	var info struct {
		Result struct {
			PointsCount int64 `json:"points_count"`
			Config      struct {
				Params struct {
					Vectors struct {
						Size int `json:"size"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	status, err := q.do(ctx, http.MethodGet, q.collectionURL(), nil, &info)
	if err != nil && status != http.StatusNotFound {
		return fmt.Errorf("%w: %w", models.ErrIndex, err)
	}
	if status == http.StatusNotFound {
		body := map[string]any{
			"vectors": map[string]any{
				"size":     q.dimensions,
				"distance": "Cosine",
			},
		}
		if _, err := q.do(ctx, http.MethodPut, q.collectionURL(), body, nil); err != nil {
			return fmt.Errorf("%w: create collection: %w", models.ErrIndex, err)
		}
		return nil
	}
	if size := info.Result.Config.Params.Vectors.Size; size != 0 && size != q.dimensions {
		return fmt.Errorf("%w: collection %s has vector size %d, expected %d", models.ErrIndex, q.collection, size, q.dimensions)
	}
	q.size.Store(info.Result.PointsCount)
	return nil
}

// Add upserts points. Point ids are derived from the chunk ids.
func (q *QdrantIndex) Add(ctx context.Context, ids []string, vectors [][]float32, metadata []*Metadata) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch")
	}
	if metadata != nil && len(metadata) != len(ids) {
		return fmt.Errorf("ids and metadata length mismatch")
	}
	if len(ids) == 0 {
		return nil
	}
	points := make([]map[string]any, len(ids))
	for i, id := range ids {
		if len(vectors[i]) != q.dimensions {
			return fmt.Errorf("%w: vector dimension mismatch: got %d, expected %d", models.ErrIndex, len(vectors[i]), q.dimensions)
		}
		payload := map[string]any{"chunk_id": id}
		if metadata != nil && metadata[i] != nil {
			payload["document_id"] = metadata[i].DocumentID
			payload["ordinal"] = metadata[i].Ordinal
			payload["text"] = metadata[i].Text
		}
		points[i] = map[string]any{
			"id":      pointID(id),
			"vector":  vectors[i],
			"payload": payload,
		}
	}
	body := map[string]any{"points": points}
	if _, err := q.do(ctx, http.MethodPut, q.collectionURL()+"/points?wait=true", body, nil); err != nil {
		return fmt.Errorf("%w: upsert: %w", models.ErrIndex, err)
	}
	q.size.Add(int64(len(ids)))
	return nil
}

type qdrantPoint struct {
	Score   float64 `json:"score"`
	Payload struct {
		ChunkID    string `json:"chunk_id"`
		DocumentID string `json:"document_id"`
		Ordinal    int    `json:"ordinal"`
		Text       string `json:"text"`
	} `json:"payload"`
}

// Search returns the top-k points by cosine similarity.
func (q *QdrantIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	if len(query) != q.dimensions {
		return nil, fmt.Errorf("%w: query dimension mismatch: got %d, expected %d", models.ErrIndex, len(query), q.dimensions)
	}
	if k <= 0 {
		return nil, nil
	}
	req := map[string]any{
		"vector":       query,
		"limit":        k,
		"with_payload": []string{"chunk_id"},
	}
	var resp struct {
		Result []qdrantPoint `json:"result"`
	}
	if _, err := q.do(ctx, http.MethodPost, q.collectionURL()+"/points/search", req, &resp); err != nil {
		return nil, fmt.Errorf("%w: search: %w", models.ErrIndex, err)
	}
	results := make([]*VectorResult, 0, len(resp.Result))
	for _, p := range resp.Result {
		if p.Payload.ChunkID == "" {
			continue
		}
		results = append(results, &VectorResult{ID: p.Payload.ChunkID, Score: p.Score})
	}
	return results, nil
}

// Get retrieves point payloads. Points missing from the collection yield nil.
func (q *QdrantIndex) Get(ctx context.Context, ids []string) ([]*Metadata, error) {
	out := make([]*Metadata, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	pids := make([]string, len(ids))
	for i, id := range ids {
		pids[i] = pointID(id)
	}
	req := map[string]any{"ids": pids, "with_payload": true, "with_vector": false}
	var resp struct {
		Result []qdrantPoint `json:"result"`
	}
	if _, err := q.do(ctx, http.MethodPost, q.collectionURL()+"/points", req, &resp); err != nil {
		return nil, fmt.Errorf("%w: retrieve: %w", models.ErrIndex, err)
	}
	byID := make(map[string]*Metadata, len(resp.Result))
	for _, p := range resp.Result {
		if p.Payload.ChunkID == "" || p.Payload.Text == "" {
			continue
		}
		byID[p.Payload.ChunkID] = &Metadata{
			ID:         p.Payload.ChunkID,
			Text:       p.Payload.Text,
			DocumentID: p.Payload.DocumentID,
			Ordinal:    p.Payload.Ordinal,
		}
	}
	for i, id := range ids {
		out[i] = byID[id]
	}
	return out, nil
}

// Drop deletes the collection.
func (q *QdrantIndex) Drop(ctx context.Context) error {
	status, err := q.do(ctx, http.MethodDelete, q.collectionURL(), nil, nil)
	if err != nil && status != http.StatusNotFound {
		return err
	}
	return nil
}

// Collection returns the collection name.
func (q *QdrantIndex) Collection() string { return q.collection }

// Metric returns MetricCosine.
func (q *QdrantIndex) Metric() Metric { return MetricCosine }

// Dimensions returns the vector size.
func (q *QdrantIndex) Dimensions() int { return q.dimensions }

// Size returns the number of points known to this client.
func (q *QdrantIndex) Size() int { return int(q.size.Load()) }

// Close releases idle connections.
func (q *QdrantIndex) Close() error {
	q.client.CloseIdleConnections()
	return nil
}

func (q *QdrantIndex) do(ctx context.Context, method, url string, body, out any) (int, error) {
	if err := q.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}
	resp, err := q.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resp.StatusCode, fmt.Errorf("qdrant %s %s failed: %s %s", method, url, resp.Status, strings.TrimSpace(string(msg)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode qdrant response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func pointID(chunkID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(chunkID)).String()
}
