package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/hyperjump/tanya/internal/config"
	"github.com/hyperjump/tanya/internal/embedding"
	"github.com/hyperjump/tanya/internal/indexer"
	"github.com/hyperjump/tanya/internal/keyword"
	"github.com/hyperjump/tanya/internal/llm"
	"github.com/hyperjump/tanya/internal/models"
	"github.com/hyperjump/tanya/internal/retrieval"
	"github.com/hyperjump/tanya/internal/storage"
	"github.com/hyperjump/tanya/internal/vector"
	"go.uber.org/zap"
)

const parisText = "The capital of France is Paris."

type mockWatchService struct {
	dirs []string
}

func (m *mockWatchService) Directories() []string {
	return append([]string(nil), m.dirs...)
}

func (m *mockWatchService) AddDirectory(path string, _ bool) error {
	for _, d := range m.dirs {
		if d == path {
			return nil
		}
	}
	m.dirs = append(m.dirs, path)
	return nil
}

func (m *mockWatchService) RemoveDirectory(path string) error {
	for i, d := range m.dirs {
		if d == path {
			m.dirs = append(m.dirs[:i], m.dirs[i+1:]...)
			return nil
		}
	}
	return nil
}

// testServer wires real components over a SQLite registry, a cosine flat index with pinned
// mock embeddings, and a scripted generator. The corpus holds one document, "doc-a".
func testServer(t *testing.T, gen llm.Generator, watch WatchService) (*Server, storage.Storage) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "db.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })

	embedder := embedding.NewMockEmbedder(3)
	embedder.Set(parisText, []float32{1, 0, 0})
	embedder.Set("capital of france", []float32{1, 0, 0})
	embedder.Set("quantum chromodynamics", []float32{-1, -1, 0})

	idx, err := vector.NewFlatCosine(3, embedder.Model())
	if err != nil {
		t.Fatal(err)
	}
	handle := vector.NewHandle(idx, 0, nil)
	t.Cleanup(func() { _ = handle.Close() })
	kw, err := keyword.NewMemBleveIndex()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = kw.Close() })

	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Storage = config.StorageConfig{
		DatabasePath:   filepath.Join(dir, "db.sqlite"),
		BleveIndexPath: filepath.Join(dir, "bleve"),
		IndexPath:      filepath.Join(dir, "index"),
	}

	pipeline := indexer.NewPipeline(store, embedder, handle, indexer.Options{
		ChunkSize: 50,
		Index:     vector.Options{Backend: vector.BackendFlat, Metric: vector.MetricCosine, Dimensions: 3, Path: cfg.Storage.IndexPath},
	}, indexer.WithKeywordIndex(kw))
	if _, err := pipeline.Ingest(context.Background(), &models.DocumentInput{ID: "doc-a", Title: "france", Content: parisText}); err != nil {
		t.Fatal(err)
	}

	reporter := retrieval.NewLogReporter(zap.NewNop())
	opts := []retrieval.Option{retrieval.WithReporter(reporter)}
	if gen != nil {
		opts = append(opts, retrieval.WithGenerator(gen))
	}
	router := retrieval.NewRouter(embedder, handle, retrieval.Config{}, opts...)
	searcher := retrieval.NewSearcher(embedder, handle, kw, store, retrieval.HybridConfig{})

	srv := NewServer(Deps{
		Router:   router,
		Searcher: searcher,
		Pipeline: pipeline,
		Storage:  store,
		Handle:   handle,
		Watch:    watch,
		Reporter: reporter,
	}, cfg, "", zap.NewNop())
	return srv, store
}

// scriptedGenerator answers fallback prompts (the raw query) with "generated" and context
// prompts with "Paris".
func scriptedGenerator() llm.Generator {
	return llm.GeneratorFunc(func(_ context.Context, req *llm.Request) (string, error) {
		if req.Prompt == "quantum chromodynamics" {
			return "generated", nil
		}
		return "Paris", nil
	})
}

func do(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	r := httptest.NewRequest(method, path, &buf)
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, r)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func TestHandleAsk_local(t *testing.T) {
	srv, _ := testServer(t, scriptedGenerator(), nil)
	w := do(t, srv, http.MethodPost, "/api/v1/ask", map[string]string{"query": "capital of france"})
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	var ans models.Answer
	decode(t, w, &ans)
	if ans.Text != "Paris" || ans.Decision.Source != models.SourceLocal {
		t.Errorf("answer = %q, source = %s", ans.Text, ans.Decision.Source)
	}
	if w.Header().Get(requestIDHeader) == "" {
		t.Error("response should carry a request id")
	}
}

func TestHandleAsk_fallback(t *testing.T) {
	srv, _ := testServer(t, scriptedGenerator(), nil)
	w := do(t, srv, http.MethodPost, "/api/v1/ask", map[string]string{"query": "quantum chromodynamics"})
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var ans models.Answer
	decode(t, w, &ans)
	if ans.Text != "generated" || ans.Decision.Source != models.SourceFallback || len(ans.Decision.Context) != 0 {
		t.Errorf("answer = %+v, decision = %+v", ans, ans.Decision)
	}
}

func TestHandleAsk_emptyQuery(t *testing.T) {
	srv, _ := testServer(t, scriptedGenerator(), nil)
	w := do(t, srv, http.MethodPost, "/api/v1/ask", map[string]string{"query": "   "})
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var ans models.Answer
	decode(t, w, &ans)
	if !ans.Decision.EmptyQuery {
		t.Errorf("decision = %+v", ans.Decision)
	}
}

func TestHandleAsk_generationFailureIs502(t *testing.T) {
	failing := llm.GeneratorFunc(func(context.Context, *llm.Request) (string, error) {
		return "", errors.New("provider down")
	})
	srv, _ := testServer(t, failing, nil)
	w := do(t, srv, http.MethodPost, "/api/v1/ask", map[string]string{"query": "quantum chromodynamics"})
	if w.Code != http.StatusBadGateway {
		t.Errorf("status: got %d, want 502", w.Code)
	}
}

func TestHandleAsk_invalidBody(t *testing.T) {
	srv, _ := testServer(t, nil, nil)
	r := httptest.NewRequest(http.MethodPost, "/api/v1/ask", bytes.NewBufferString("{"))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, r)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status: got %d", w.Code)
	}
}

func TestHandleRoute(t *testing.T) {
	srv, _ := testServer(t, nil, nil)
	w := do(t, srv, http.MethodPost, "/api/v1/route", map[string]string{"query": "capital of france"})
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var d models.RetrievalDecision
	decode(t, w, &d)
	if d.Source != models.SourceLocal || len(d.Context) != 1 || d.Context[0].Text != parisText {
		t.Errorf("decision = %+v", d)
	}
	if d.Confidence != 1 {
		t.Errorf("confidence = %v, want 1", d.Confidence)
	}
}

func TestHandleSearch(t *testing.T) {
	srv, _ := testServer(t, nil, nil)
	w := do(t, srv, http.MethodPost, "/api/v1/search", map[string]interface{}{"query": "capital of france", "limit": 5})
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	var resp models.SearchResponse
	decode(t, w, &resp)
	if len(resp.Hits) != 1 || resp.Hits[0].Chunk.DocumentID != "doc-a" {
		t.Errorf("hits = %+v", resp.Hits)
	}

	w = do(t, srv, http.MethodPost, "/api/v1/search", map[string]string{"query": ""})
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty query status: got %d", w.Code)
	}
}

func TestHandleDocuments(t *testing.T) {
	srv, store := testServer(t, nil, nil)

	w := do(t, srv, http.MethodPost, "/api/v1/documents", models.DocumentInput{ID: "doc-b", Title: "fruit", Content: "Bananas are rich in potassium."})
	if w.Code != http.StatusCreated {
		t.Fatalf("ingest status: got %d, body: %s", w.Code, w.Body.String())
	}
	var res indexer.IngestResult
	decode(t, w, &res)
	if res.DocumentID != "doc-b" || res.Chunks != 1 {
		t.Errorf("result = %+v", res)
	}

	w = do(t, srv, http.MethodPost, "/api/v1/documents", models.DocumentInput{Title: "empty"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty document status: got %d", w.Code)
	}

	w = do(t, srv, http.MethodGet, "/api/v1/documents/doc-b", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status: got %d", w.Code)
	}
	var got struct {
		Document models.Document `json:"document"`
		Chunks   []models.Chunk  `json:"chunks"`
	}
	decode(t, w, &got)
	if got.Document.Title != "fruit" || len(got.Chunks) != 1 {
		t.Errorf("document = %+v", got)
	}

	w = do(t, srv, http.MethodGet, "/api/v1/documents?limit=10", nil)
	var list struct {
		Documents []models.Document `json:"documents"`
	}
	decode(t, w, &list)
	if len(list.Documents) != 2 {
		t.Errorf("listed %d documents, want 2", len(list.Documents))
	}

	w = do(t, srv, http.MethodDelete, "/api/v1/documents/doc-b", nil)
	if w.Code != http.StatusOK {
		t.Errorf("delete status: got %d", w.Code)
	}
	if n, _ := store.CountDocuments(context.Background()); n != 1 {
		t.Errorf("documents after delete = %d", n)
	}
	w = do(t, srv, http.MethodDelete, "/api/v1/documents/doc-b", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete status: got %d, want 404", w.Code)
	}
	w = do(t, srv, http.MethodGet, "/api/v1/documents/missing", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("get missing status: got %d, want 404", w.Code)
	}
}

func TestHandleRebuildAndStatus(t *testing.T) {
	srv, _ := testServer(t, nil, nil)
	if w := do(t, srv, http.MethodDelete, "/api/v1/documents/doc-a", nil); w.Code != http.StatusOK {
		t.Fatalf("delete status: got %d", w.Code)
	}

	var status Status
	decode(t, do(t, srv, http.MethodGet, "/api/v1/status", nil), &status)
	if !status.Stale || status.VectorIndexSize != 1 {
		t.Errorf("status before rebuild = %+v", status)
	}

	w := do(t, srv, http.MethodPost, "/api/v1/rebuild", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("rebuild status: got %d, body: %s", w.Code, w.Body.String())
	}
	var res indexer.RebuildResult
	decode(t, w, &res)
	if res.Chunks != 0 || res.Generation == nil || res.Generation.Status != models.GenerationActive {
		t.Errorf("rebuild = %+v", res)
	}

	status = Status{}
	decode(t, do(t, srv, http.MethodGet, "/api/v1/status", nil), &status)
	if status.Stale || status.VectorIndexSize != 0 || status.Documents != 0 {
		t.Errorf("status after rebuild = %+v", status)
	}
	if status.LastRebuild == nil || status.Generation != res.Generation.Seq {
		t.Errorf("generation = %d, last rebuild = %+v", status.Generation, status.LastRebuild)
	}
	if status.Config == nil || status.Config.K != 5 {
		t.Errorf("status config = %+v", status.Config)
	}
}

func TestHandleHealth(t *testing.T) {
	srv, _ := testServer(t, nil, nil)
	w := do(t, srv, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status: got %d", w.Code)
	}
}

func TestHandleWatchDirectories(t *testing.T) {
	dir := t.TempDir()
	mock := &mockWatchService{dirs: []string{"/tmp/docs"}}
	srv, _ := testServer(t, nil, mock)

	var out struct {
		Directories []string `json:"directories"`
	}
	decode(t, do(t, srv, http.MethodGet, "/api/v1/watch/directories", nil), &out)
	if len(out.Directories) != 1 || out.Directories[0] != "/tmp/docs" {
		t.Errorf("directories: got %v", out.Directories)
	}

	if w := do(t, srv, http.MethodPost, "/api/v1/watch/directories", map[string]string{"path": dir}); w.Code != http.StatusCreated {
		t.Errorf("add status: got %d, body: %s", w.Code, w.Body.String())
	}
	if len(mock.Directories()) != 2 {
		t.Errorf("expected 2 directories, got %v", mock.Directories())
	}
	if w := do(t, srv, http.MethodPost, "/api/v1/watch/directories", map[string]string{"path": filepath.Join(dir, "nonexistent")}); w.Code != http.StatusNotFound {
		t.Errorf("add missing status: got %d", w.Code)
	}
	if w := do(t, srv, http.MethodDelete, "/api/v1/watch/directories?path="+dir, nil); w.Code != http.StatusOK {
		t.Errorf("remove status: got %d", w.Code)
	}
	if len(mock.Directories()) != 1 {
		t.Errorf("expected 1 directory, got %v", mock.Directories())
	}
}

func TestHandleWatchDirectories_notEnabled(t *testing.T) {
	srv, _ := testServer(t, nil, nil)
	w := do(t, srv, http.MethodGet, "/api/v1/watch/directories", nil)
	if w.Code != http.StatusNotImplemented {
		t.Errorf("status: got %d, want 501", w.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{storage.ErrNotFound, http.StatusNotFound},
		{models.ErrUnsupportedType, http.StatusBadRequest},
		{models.ErrGeneration, http.StatusBadGateway},
		{models.ErrEmbedding, http.StatusBadGateway},
		{models.ErrIndex, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
