package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hyperjump/tanya/internal/embedding"
	"github.com/hyperjump/tanya/internal/extract"
	"github.com/hyperjump/tanya/internal/fileid"
	"github.com/hyperjump/tanya/internal/keyword"
	"github.com/hyperjump/tanya/internal/models"
	"github.com/hyperjump/tanya/internal/storage"
	"github.com/hyperjump/tanya/internal/vector"
	"github.com/xuri/excelize/v2"
)

func TestExtensionAllowed(t *testing.T) {
	tests := []struct {
		ext     string
		allowed []string
		want    bool
	}{
		{".txt", []string{".txt", ".md"}, true},
		{".TXT", []string{".txt"}, true},
		{".md", []string{"txt", "md"}, true},
		{".go", []string{".txt"}, false},
		{"", []string{".txt"}, false},
	}
	for _, tt := range tests {
		got := extensionAllowed(tt.ext, tt.allowed)
		if got != tt.want {
			t.Errorf("extensionAllowed(%q, %v) = %v, want %v", tt.ext, tt.allowed, got, tt.want)
		}
	}
}

type fixture struct {
	pipeline *Pipeline
	store    storage.Storage
	embedder *embedding.MockEmbedder
	handle   *vector.Handle
	keywords *keyword.BleveIndex
}

func newFixture(t *testing.T, dir string, opts Options) *fixture {
	t.Helper()
	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "db.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	embedder := embedding.NewMockEmbedder(4)
	idx, err := vector.NewFlatL2(4, embedder.Model())
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

	if opts.ChunkSize == 0 {
		opts.ChunkSize = 10
	}
	opts.Index = vector.Options{
		Backend:    vector.BackendFlat,
		Metric:     vector.MetricL2,
		Dimensions: 4,
		Model:      embedder.Model(),
		Path:       filepath.Join(dir, "index"),
	}
	p := NewPipeline(store, embedder, handle, opts,
		WithKeywordIndex(kw),
		WithExtractor(extract.NewExtractor()))
	return &fixture{pipeline: p, store: store, embedder: embedder, handle: handle, keywords: kw}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
}

func mustAbs(t *testing.T, path string) string {
	t.Helper()
	a, err := filepath.Abs(path)
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestIngest_text(t *testing.T) {
	f := newFixture(t, t.TempDir(), Options{})
	ctx := context.Background()

	res, err := f.pipeline.Ingest(ctx, &models.DocumentInput{
		Title:   "capitals",
		Content: "The capital of France is Paris. The capital of Japan is Tokyo. The capital of Peru is Lima.",
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Chunks != 2 || res.Replaced {
		t.Errorf("result = %+v", res)
	}
	wantID := fileid.TextDocID("capitals", "The capital of France is Paris. The capital of Japan is Tokyo. The capital of Peru is Lima.")
	if res.DocumentID != wantID {
		t.Errorf("DocumentID = %q, want %q", res.DocumentID, wantID)
	}
	if n := f.handle.Current().Size(); n != 2 {
		t.Errorf("live index size = %d, want 2", n)
	}
	meta, err := f.handle.Current().Get(ctx, []string{ChunkID(wantID, 1)})
	if err != nil || meta[0] == nil {
		t.Fatalf("Get: %v %v", meta, err)
	}
	if meta[0].DocumentID != wantID || meta[0].Ordinal != 1 || meta[0].Attrs["title"] != "capitals" {
		t.Errorf("metadata = %+v", meta[0])
	}
	if f.pipeline.Stale() {
		t.Error("new document should not mark the index stale")
	}
	hits, err := f.keywords.Search(ctx, "Tokyo", 10, nil)
	if err != nil || len(hits) == 0 {
		t.Errorf("keyword search = %v, %v", hits, err)
	}
}

func TestIngest_empty(t *testing.T) {
	f := newFixture(t, t.TempDir(), Options{})
	_, err := f.pipeline.Ingest(context.Background(), &models.DocumentInput{Title: "blank", Content: "   \n\t"})
	if !errors.Is(err, models.ErrExtraction) {
		t.Errorf("expected ErrExtraction, got %v", err)
	}
}

func TestIngest_embeddingFailureCommitsNothing(t *testing.T) {
	f := newFixture(t, t.TempDir(), Options{})
	ctx := context.Background()
	f.embedder.Fail(errors.New("model unavailable"))

	_, err := f.pipeline.Ingest(ctx, &models.DocumentInput{ID: "doc-1", Content: "some text to embed"})
	if !errors.Is(err, models.ErrEmbedding) {
		t.Fatalf("expected ErrEmbedding, got %v", err)
	}
	if n, _ := f.store.CountDocuments(ctx); n != 0 {
		t.Errorf("documents = %d, want 0", n)
	}
	if n := f.handle.Current().Size(); n != 0 {
		t.Errorf("live index size = %d, want 0", n)
	}
	if c, _ := f.keywords.DocCount(); c != 0 {
		t.Errorf("keyword docs = %d, want 0", c)
	}
}

func TestIngest_records(t *testing.T) {
	f := newFixture(t, t.TempDir(), Options{ChunkSize: 50, ChunkOverlap: 5})
	res, err := f.pipeline.Ingest(context.Background(), &models.DocumentInput{
		ID:      "people",
		Records: []string{"name: Ada, role: engineer", "name: Grace, role: admiral"},
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Chunks != 2 {
		t.Errorf("chunks = %d, want one per record", res.Chunks)
	}
	chunk, err := f.store.GetChunk(context.Background(), ChunkID("people", 1))
	if err != nil || chunk.Text != "name: Grace, role: admiral" {
		t.Errorf("chunk = %+v, %v", chunk, err)
	}
}

func TestIngestFile_createAndUpdate(t *testing.T) {
	dir := t.TempDir()
	f := newFixture(t, dir, Options{})
	ctx := context.Background()

	path := filepath.Join(dir, "doc.txt")
	writeFile(t, path, "Hello world content.")
	res, err := f.pipeline.IngestFile(ctx, path)
	if err != nil {
		t.Fatalf("IngestFile: %v", err)
	}
	if res.DocumentID != fileid.FileDocID(mustAbs(t, path)) {
		t.Errorf("DocumentID = %q", res.DocumentID)
	}
	doc, err := f.store.GetDocument(ctx, res.DocumentID)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if doc.Title != "doc.txt" || doc.Content != "Hello world content." {
		t.Errorf("doc = %+v", doc)
	}
	if doc.Metadata[metaKeySourcePath] != mustAbs(t, path) {
		t.Errorf("source path = %v", doc.Metadata[metaKeySourcePath])
	}

	again, err := f.pipeline.IngestFile(ctx, path)
	if err != nil || !again.Skipped {
		t.Errorf("unchanged file should be skipped: %+v, %v", again, err)
	}

	writeFile(t, path, "Updated content with more words in it.")
	updated, err := f.pipeline.IngestFile(ctx, path)
	if err != nil {
		t.Fatalf("IngestFile update: %v", err)
	}
	if !updated.Replaced || updated.Skipped {
		t.Errorf("update result = %+v", updated)
	}
	if !f.pipeline.Stale() {
		t.Error("replacement should mark the index stale")
	}
	doc, _ = f.store.GetDocument(ctx, res.DocumentID)
	if doc.Content != "Updated content with more words in it." {
		t.Errorf("content = %q", doc.Content)
	}
	if n, _ := f.store.CountDocuments(ctx); n != 1 {
		t.Errorf("documents = %d, want 1", n)
	}
}

func TestIngestFile_extensionFilter(t *testing.T) {
	dir := t.TempDir()
	f := newFixture(t, dir, Options{AllowedExtensions: []string{".md"}})
	path := filepath.Join(dir, "notes.txt")
	writeFile(t, path, "not allowed")
	_, err := f.pipeline.IngestFile(context.Background(), path)
	if !errors.Is(err, models.ErrUnsupportedType) {
		t.Errorf("expected ErrUnsupportedType, got %v", err)
	}
	if f.pipeline.Allowed(path) || !f.pipeline.Allowed(filepath.Join(dir, "a.MD")) {
		t.Error("Allowed mismatch")
	}
}

func TestIngestFile_xlsxRecords(t *testing.T) {
	dir := t.TempDir()
	f := newFixture(t, dir, Options{})
	path := filepath.Join(dir, "cities.xlsx")
	x := excelize.NewFile()
	for cell, v := range map[string]string{"A1": "city", "B1": "country", "A2": "Lyon", "B2": "France", "A3": "Osaka", "B3": "Japan"} {
		if err := x.SetCellValue("Sheet1", cell, v); err != nil {
			t.Fatal(err)
		}
	}
	if err := x.SaveAs(path); err != nil {
		t.Fatal(err)
	}
	_ = x.Close()

	res, err := f.pipeline.IngestFile(context.Background(), path)
	if err != nil {
		t.Fatalf("IngestFile: %v", err)
	}
	chunks, err := f.store.GetChunksByDocumentID(context.Background(), res.DocumentID)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 2 || chunks[0].Text != "city: Lyon, country: France" || chunks[1].Text != "city: Osaka, country: Japan" {
		t.Errorf("chunks = %+v", chunks)
	}
}

func TestIngestDirectory(t *testing.T) {
	dir := t.TempDir()
	f := newFixture(t, dir, Options{})
	docs := filepath.Join(dir, "docs")
	if err := os.MkdirAll(filepath.Join(docs, "sub"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(docs, ".hidden"), 0755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(docs, "a.txt"), "Alpha document text.")
	writeFile(t, filepath.Join(docs, "sub", "b.md"), "Beta document text.")
	writeFile(t, filepath.Join(docs, "empty.txt"), "")
	writeFile(t, filepath.Join(docs, "skip.bin"), "binary")
	writeFile(t, filepath.Join(docs, ".hidden", "c.txt"), "Hidden text.")

	ctx := context.Background()
	report, err := f.pipeline.IngestDirectory(ctx, docs)
	if err != nil {
		t.Fatalf("IngestDirectory: %v", err)
	}
	if report.Indexed != 2 || report.Skipped != 0 {
		t.Errorf("report = %+v", report)
	}
	if len(report.Failed) != 1 {
		t.Fatalf("failed = %v, want the empty file", report.Failed)
	}
	for path, ferr := range report.Failed {
		if filepath.Base(path) != "empty.txt" || !errors.Is(ferr, models.ErrExtraction) {
			t.Errorf("failure %s: %v", path, ferr)
		}
	}

	report, err = f.pipeline.IngestDirectory(ctx, docs)
	if err != nil {
		t.Fatal(err)
	}
	if report.Indexed != 0 || report.Skipped != 2 {
		t.Errorf("second pass report = %+v", report)
	}

	if _, err := f.pipeline.IngestDirectory(ctx, filepath.Join(docs, "a.txt")); err == nil {
		t.Error("expected error for a file path")
	}
}

func TestDelete(t *testing.T) {
	dir := t.TempDir()
	f := newFixture(t, dir, Options{})
	ctx := context.Background()
	path := filepath.Join(dir, "gone.txt")
	writeFile(t, path, "Soon deleted.")
	res, err := f.pipeline.IngestFile(ctx, path)
	if err != nil {
		t.Fatal(err)
	}

	if err := f.pipeline.DeletePath(ctx, path); err != nil {
		t.Fatalf("DeletePath: %v", err)
	}
	if _, err := f.store.GetDocument(ctx, res.DocumentID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if c, _ := f.keywords.DocCount(); c != 0 {
		t.Errorf("keyword docs = %d, want 0", c)
	}
	if !f.pipeline.Stale() {
		t.Error("delete should mark the index stale")
	}
	if err := f.pipeline.DeletePath(ctx, path); err != nil {
		t.Errorf("deleting an unknown path should be a no-op, got %v", err)
	}
	if err := f.pipeline.Delete(ctx, res.DocumentID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRebuild(t *testing.T) {
	dir := t.TempDir()
	f := newFixture(t, dir, Options{BatchSize: 2})
	ctx := context.Background()

	for _, in := range []*models.DocumentInput{
		{ID: "doc-a", Content: "one two three four five six seven eight nine ten eleven twelve"},
		{ID: "doc-b", Content: "alpha beta gamma"},
	} {
		if _, err := f.pipeline.Ingest(ctx, in); err != nil {
			t.Fatal(err)
		}
	}
	if err := f.pipeline.Delete(ctx, "doc-b"); err != nil {
		t.Fatal(err)
	}
	if got := f.handle.Current().Size(); got != 3 {
		t.Fatalf("live size before rebuild = %d, want 3", got)
	}

	first, err := f.pipeline.Rebuild(ctx)
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if first.Documents != 1 || first.Chunks != 2 || first.Generation.Status != models.GenerationActive {
		t.Errorf("result = %+v, generation = %+v", first, first.Generation)
	}
	if f.pipeline.Stale() {
		t.Error("rebuild should clear the stale flag")
	}
	if f.handle.Generation() != first.Generation.Seq {
		t.Errorf("handle generation = %d, want %d", f.handle.Generation(), first.Generation.Seq)
	}
	if _, err := os.Stat(vector.IndexPath(filepath.Join(dir, "index"))); err != nil {
		t.Errorf("index file not saved: %v", err)
	}
	flat, ok := f.handle.Current().(*vector.FlatIndex)
	if !ok {
		t.Fatalf("current index is %T", f.handle.Current())
	}
	before := make(map[string][]float32)
	for _, id := range flat.IDs() {
		v, _ := flat.Vector(id)
		before[id] = v
	}

	second, err := f.pipeline.Rebuild(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if second.Generation.Seq <= first.Generation.Seq {
		t.Errorf("generation seq did not advance: %d then %d", first.Generation.Seq, second.Generation.Seq)
	}
	flat = f.handle.Current().(*vector.FlatIndex)
	if len(flat.IDs()) != len(before) {
		t.Fatalf("ids = %v, want %d", flat.IDs(), len(before))
	}
	for id, want := range before {
		got, ok := flat.Vector(id)
		if !ok {
			t.Fatalf("missing %s after second rebuild", id)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("%s[%d] = %v, want %v", id, i, got[i], want[i])
			}
		}
	}
	latest, err := f.store.LatestGeneration(ctx)
	if err != nil || latest.Seq != second.Generation.Seq {
		t.Errorf("latest = %+v, %v", latest, err)
	}
}

func TestRebuild_keepsDocumentTitles(t *testing.T) {
	f := newFixture(t, t.TempDir(), Options{BatchSize: 1})
	ctx := context.Background()

	res, err := f.pipeline.Ingest(ctx, &models.DocumentInput{
		ID:      "doc-t",
		Title:   "holidays",
		Content: "The office is closed on New Year's Day.",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.pipeline.Ingest(ctx, &models.DocumentInput{ID: "doc-u", Content: "untitled text"}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.pipeline.Rebuild(ctx); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	idx, release := f.handle.Acquire()
	defer release()
	meta, err := idx.Get(ctx, []string{ChunkID(res.DocumentID, 0), ChunkID("doc-u", 0)})
	if err != nil || meta[0] == nil || meta[1] == nil {
		t.Fatalf("Get: %v %v", meta, err)
	}
	if got := meta[0].Attrs["title"]; got != "holidays" {
		t.Errorf("title after rebuild = %q, want %q", got, "holidays")
	}
	if _, ok := meta[1].Attrs["title"]; ok {
		t.Errorf("untitled document got attrs %v", meta[1].Attrs)
	}
}

func TestRebuild_failureKeepsLiveIndex(t *testing.T) {
	f := newFixture(t, t.TempDir(), Options{})
	ctx := context.Background()
	if _, err := f.pipeline.Ingest(ctx, &models.DocumentInput{ID: "doc", Content: "kept text"}); err != nil {
		t.Fatal(err)
	}
	live := f.handle.Current()
	f.embedder.Fail(errors.New("offline"))

	if _, err := f.pipeline.Rebuild(ctx); !errors.Is(err, models.ErrEmbedding) {
		t.Fatalf("expected ErrEmbedding, got %v", err)
	}
	if f.handle.Current() != live || f.handle.Generation() != 0 {
		t.Error("failed rebuild must not publish an index")
	}
	if _, err := f.store.LatestGeneration(ctx); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("no active generation expected, got %v", err)
	}
}

func TestSave(t *testing.T) {
	dir := t.TempDir()
	f := newFixture(t, dir, Options{})
	ctx := context.Background()
	if _, err := f.pipeline.Ingest(ctx, &models.DocumentInput{ID: "doc-a", Content: "one two three four five six seven eight nine ten eleven twelve"}); err != nil {
		t.Fatal(err)
	}
	if err := f.pipeline.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	reopened, err := vector.Open(ctx, f.pipeline.opts.Index)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reopened.Close()
	if reopened.Size() != 2 {
		t.Errorf("reopened size = %d, want 2", reopened.Size())
	}

	f.pipeline.opts.Index.Path = ""
	if err := f.pipeline.Save(); err != nil {
		t.Errorf("Save without path: %v", err)
	}
}
