package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/tanya/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chatServer(t *testing.T, reply string, seen *[]map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if seen != nil {
			*seen = append(*seen, body)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "cmpl-1",
			"object":  "chat.completion",
			"model":   body["model"],
			"choices": []map[string]any{{"index": 0, "message": map[string]any{"role": "assistant", "content": "  " + reply + "\n"}, "finish_reason": "stop"}},
			"usage":   map[string]any{"prompt_tokens": 5, "completion_tokens": 2, "total_tokens": 7},
		})
	}))
}

func TestOpenAIGenerator_SendsMessagesAndTrimsReply(t *testing.T) {
	var seen []map[string]any
	srv := chatServer(t, "Paris", &seen)
	defer srv.Close()

	g, err := NewOpenAIGenerator(OpenAIConfig{APIKey: "k", BaseURL: srv.URL + "/v1"})
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, g.Model())

	out, err := g.Generate(context.Background(), SummaryRequest("q", []string{"r1"}))
	require.NoError(t, err)
	assert.Equal(t, "Paris", out)

	require.Len(t, seen, 1)
	msgs := seen[0]["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.InDelta(t, 0.5, seen[0]["temperature"], 1e-6)
}

func TestOpenAIGenerator_ZeroTemperatureIsSent(t *testing.T) {
	var seen []map[string]any
	srv := chatServer(t, "yes", &seen)
	defer srv.Close()

	g, err := NewOpenAIGenerator(OpenAIConfig{APIKey: "k", BaseURL: srv.URL + "/v1", Temperature: 0.5})
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), ValidationRequest("q", []string{"c"}))
	require.NoError(t, err)

	require.Len(t, seen, 1)
	temp, present := seen[0]["temperature"]
	require.True(t, present, "temperature must be in the request body")
	assert.Greater(t, temp.(float64), 0.0)
	assert.Less(t, temp.(float64), 1e-6)
}

func TestOpenAIGenerator_FallbackSendsRawQuery(t *testing.T) {
	var seen []map[string]any
	srv := chatServer(t, "ok", &seen)
	defer srv.Close()

	g, err := NewOpenAIGenerator(OpenAIConfig{APIKey: "k", BaseURL: srv.URL + "/v1"})
	require.NoError(t, err)
	_, err = g.Generate(context.Background(), FallbackRequest("what is the capital of France?"))
	require.NoError(t, err)

	msgs := seen[0]["messages"].([]any)
	require.Len(t, msgs, 1)
	assert.Equal(t, "what is the capital of France?", msgs[0].(map[string]any)["content"])
}

func TestOpenAIGenerator_ErrorIsGenerationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
	}))
	defer srv.Close()

	g, err := NewOpenAIGenerator(OpenAIConfig{APIKey: "k", BaseURL: srv.URL + "/v1"})
	require.NoError(t, err)
	_, err = g.Generate(context.Background(), FallbackRequest("q"))
	assert.True(t, errors.Is(err, models.ErrGeneration), "err=%v", err)
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound("NOT_FOUND", 0))
	assert.True(t, IsNotFound(" not_found. ", 0))
	assert.True(t, IsNotFound("", 0))
	assert.False(t, IsNotFound("The office opens at 9am.", 0))
	assert.True(t, IsNotFound("short", 20))
}

func TestParseYesNo(t *testing.T) {
	cases := map[string][2]bool{
		"yes":       {true, true},
		"Yes.":      {true, true},
		" NO":       {false, true},
		"\"yes\"":   {true, true},
		"maybe":     {false, false},
		"no.":       {false, true},
		"yesterday": {false, false},
		"nothing":   {false, false},
		"":          {false, false},
	}
	for in, want := range cases {
		yes, ok := ParseYesNo(in)
		assert.Equal(t, want[0], yes, in)
		assert.Equal(t, want[1], ok, in)
	}
}

func TestPrompts(t *testing.T) {
	req := AnswerRequest("when?", []string{"a", "b"})
	assert.Contains(t, req.Prompt, NotFound)
	assert.Contains(t, req.Prompt, "a\n\nb")

	records := make([]string, 15)
	for i := range records {
		records[i] = "record"
	}
	sum := SummaryRequest("q", records)
	assert.Equal(t, MaxSummaryRecords, strings.Count(sum.Prompt, "record\n\n"))
}

func TestValidator(t *testing.T) {
	ctx := context.Background()

	yes := NewValidator(GeneratorFunc(func(ctx context.Context, req *Request) (string, error) {
		return "Yes", nil
	}), time.Second)
	ok, err := yes.Validate(ctx, "q", []string{"c"})
	require.NoError(t, err)
	assert.True(t, ok)

	garbled := NewValidator(GeneratorFunc(func(ctx context.Context, req *Request) (string, error) {
		return "it depends", nil
	}), time.Second)
	ok, err = garbled.Validate(ctx, "q", []string{"c"})
	require.NoError(t, err)
	assert.False(t, ok)

	slow := NewValidator(GeneratorFunc(func(ctx context.Context, req *Request) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}), 10*time.Millisecond)
	_, err = slow.Validate(ctx, "q", []string{"c"})
	assert.True(t, errors.Is(err, models.ErrValidationTimeout), "err=%v", err)
}
