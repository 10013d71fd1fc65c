package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/tanya/internal/indexer"
	"github.com/hyperjump/tanya/internal/models"
)

type fakeAsker struct {
	queries []string
	fail    string
}

func (f *fakeAsker) Ask(_ context.Context, query string) (*models.Answer, error) {
	f.queries = append(f.queries, query)
	if query == f.fail {
		return nil, errors.New("generation unavailable")
	}
	d := &models.RetrievalDecision{Query: query, Source: models.SourceLocal, Confidence: 0.9}
	if strings.TrimSpace(query) == "" {
		d = &models.RetrievalDecision{Query: query, EmptyQuery: true}
	}
	return &models.Answer{Query: query, Text: "answer: " + query, Decision: d}, nil
}

func TestRunLoop(t *testing.T) {
	asker := &fakeAsker{fail: "broken"}
	in := strings.NewReader("capital of france\n\nbroken\n  QUIT \nnever asked\n")
	var out bytes.Buffer
	if err := RunLoop(context.Background(), in, &out, asker, OutputText); err != nil {
		t.Fatalf("RunLoop: %v", err)
	}
	want := []string{"capital of france", "", "broken"}
	if len(asker.queries) != len(want) {
		t.Fatalf("queries = %q, want %q", asker.queries, want)
	}
	for i := range want {
		if asker.queries[i] != want[i] {
			t.Errorf("query %d = %q, want %q", i, asker.queries[i], want[i])
		}
	}
	got := out.String()
	for _, s := range []string{"answer: capital of france", "Empty query", "generation unavailable", "Bye."} {
		if !strings.Contains(got, s) {
			t.Errorf("output missing %q:\n%s", s, got)
		}
	}
}

func TestRunLoop_endOfInput(t *testing.T) {
	asker := &fakeAsker{}
	var out bytes.Buffer
	if err := RunLoop(context.Background(), strings.NewReader("one"), &out, asker, OutputJSON); err != nil {
		t.Fatalf("RunLoop: %v", err)
	}
	if len(asker.queries) != 1 || !strings.Contains(out.String(), `"text": "answer: one"`) {
		t.Errorf("queries = %q, output = %s", asker.queries, out.String())
	}
}

func TestRunLoop_cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	asker := &fakeAsker{}
	err := RunLoop(ctx, strings.NewReader("q\n"), &bytes.Buffer{}, asker, OutputText)
	if !errors.Is(err, context.Canceled) || len(asker.queries) != 0 {
		t.Errorf("err = %v, queries = %q", err, asker.queries)
	}
}

func TestIsExit(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{"exit", true},
		{"Quit", true},
		{"  EXIT  ", true},
		{"exit now", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsExit(tt.line); got != tt.want {
			t.Errorf("IsExit(%q) = %v, want %v", tt.line, got, tt.want)
		}
	}
}

func TestParseOutputFormat(t *testing.T) {
	if f, err := ParseOutputFormat("JSON"); err != nil || f != OutputJSON {
		t.Errorf("JSON: %v %v", f, err)
	}
	if f, err := ParseOutputFormat(""); err != nil || f != OutputText {
		t.Errorf("empty: %v %v", f, err)
	}
	if _, err := ParseOutputFormat("yaml"); err == nil {
		t.Error("expected error for yaml")
	}
}

func TestWriteDecision(t *testing.T) {
	d := &models.RetrievalDecision{
		Query:      "capital of france",
		Source:     models.SourceLocal,
		Confidence: 0.75,
		Stages:     []models.Stage{models.StageReceived, models.StageEmbedded},
		Candidates: []*models.Candidate{{ID: "doc-a#0", RawScore: 0.5, Similarity: 0.75}},
		Context:    []*models.Chunk{{ID: "doc-a#0", Text: "The capital of France is Paris."}},
	}
	var buf bytes.Buffer
	if err := WriteDecision(&buf, d, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, s := range []string{"LOCAL", "0.7500", "RECEIVED > EMBEDDED", "doc-a#0", "Paris"} {
		if !strings.Contains(out, s) {
			t.Errorf("output missing %q:\n%s", s, out)
		}
	}

	buf.Reset()
	if err := WriteDecision(&buf, d, OutputJSON); err != nil {
		t.Fatal(err)
	}
	var decoded models.RetrievalDecision
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, buf.String())
	}
	if decoded.Source != models.SourceLocal || len(decoded.Context) != 1 {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestWriteSearchResults(t *testing.T) {
	response := &models.SearchResponse{
		Query:     "test query",
		QueryTime: 42,
		Total:     1,
		Hits: []*models.SearchHit{{
			Rank:          1,
			Score:         0.9,
			KeywordScore:  0.9,
			SemanticScore: 0.8,
			Chunk:         &models.Chunk{ID: "doc-1#0", DocumentID: "doc-1", Text: "Content here"},
		}},
	}
	var buf bytes.Buffer
	if err := WriteSearchResults(&buf, response, OutputText); err != nil {
		t.Fatal(err)
	}
	if out := buf.String(); !strings.Contains(out, "Found 1 results in 42ms") || !strings.Contains(out, "doc-1#0") {
		t.Errorf("text output:\n%s", out)
	}

	buf.Reset()
	if err := WriteSearchResults(&buf, response, OutputJSON); err != nil {
		t.Fatal(err)
	}
	var decoded models.SearchResponse
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded.Query != "test query" || len(decoded.Hits) != 1 || decoded.Hits[0].Chunk.ID != "doc-1#0" {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestWriteIngestReportAndRebuild(t *testing.T) {
	report := &indexer.IngestReport{Indexed: 2, Skipped: 1, Failed: map[string]error{"/docs/bad.pdf": models.ErrExtraction}}
	var buf bytes.Buffer
	if err := WriteIngestReport(&buf, report, OutputText); err != nil {
		t.Fatal(err)
	}
	if out := buf.String(); !strings.Contains(out, "2 indexed, 1 unchanged, 1 failed") || !strings.Contains(out, "/docs/bad.pdf") {
		t.Errorf("text output:\n%s", out)
	}
	buf.Reset()
	if err := WriteIngestReport(&buf, report, OutputJSON); err != nil {
		t.Fatal(err)
	}
	var decoded struct {
		Failed map[string]string `json:"failed"`
	}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil || decoded.Failed["/docs/bad.pdf"] == "" {
		t.Errorf("json output = %s, %v", buf.String(), err)
	}

	buf.Reset()
	res := &indexer.RebuildResult{Generation: &models.Generation{Seq: 3}, Documents: 2, Chunks: 7, Duration: 1500 * time.Millisecond}
	if err := WriteRebuild(&buf, res, OutputText); err != nil {
		t.Fatal(err)
	}
	if out := buf.String(); !strings.Contains(out, "generation 3: 2 documents, 7 chunks in 1.5s") {
		t.Errorf("rebuild output: %s", out)
	}
}

func TestTruncateWords(t *testing.T) {
	tests := []struct {
		s        string
		maxWords int
		want     string
	}{
		{"one two three", 5, "one two three"},
		{"one two three", 2, "one two..."},
		{"", 3, ""},
	}
	for _, tt := range tests {
		if got := TruncateWords(tt.s, tt.maxWords); got != tt.want {
			t.Errorf("TruncateWords(%q, %d) = %q, want %q", tt.s, tt.maxWords, got, tt.want)
		}
	}
}
