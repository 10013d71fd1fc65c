package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/hyperjump/tanya/internal/models"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultModel is the chat model used when none is configured.
const DefaultModel = openai.GPT4oMini

// OpenAIConfig configures OpenAIGenerator.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
	// RequestsPerSecond limits the request rate; 0 means unlimited.
	RequestsPerSecond float64
}

// OpenAIGenerator calls the OpenAI chat completions API.
type OpenAIGenerator struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	limiter     *rate.Limiter
	logger      *zap.Logger
}

// Option configures an OpenAIGenerator.
type Option func(*OpenAIGenerator)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(g *OpenAIGenerator) { g.logger = logger }
}

// NewOpenAIGenerator creates a chat completion generator.
func NewOpenAIGenerator(cfg OpenAIConfig, opts ...Option) (*OpenAIGenerator, error) {
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, errors.New("openai generator: api key not set")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	g := &OpenAIGenerator{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		limiter:     rate.NewLimiter(limit, 1),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Generate sends req as one chat completion and returns the trimmed reply text.
func (g *OpenAIGenerator) Generate(ctx context.Context, req *Request) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%w: %w", models.ErrGeneration, err)
	}
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	creq := openai.ChatCompletionRequest{
		Model:       g.model,
		Messages:    messages,
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
	}
	if req.Temperature != nil {
		creq.Temperature = *req.Temperature
	}
	// The client omits a zero temperature, which the API reads as its default of 1.
	if creq.Temperature == 0 {
		creq.Temperature = math.SmallestNonzeroFloat32
	}
	if req.MaxTokens > 0 {
		creq.MaxTokens = req.MaxTokens
	}

	resp, err := g.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("%w: openai status %d: %s", models.ErrGeneration, apiErr.HTTPStatusCode, apiErr.Message)
		}
		return "", fmt.Errorf("%w: %w", models.ErrGeneration, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices returned", models.ErrGeneration)
	}
	if g.logger != nil {
		g.logger.Debug("Chat completion",
			zap.String("model", g.model),
			zap.Int("prompt_tokens", resp.Usage.PromptTokens),
			zap.Int("completion_tokens", resp.Usage.CompletionTokens))
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Model returns the chat model name.
func (g *OpenAIGenerator) Model() string {
	return g.model
}
