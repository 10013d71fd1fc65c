package retrieval

import (
	"context"
	"strings"
	"time"

	"github.com/hyperjump/tanya/internal/llm"
	"github.com/hyperjump/tanya/internal/models"
	"go.uber.org/zap"
)

// Ask routes query and composes the answer text. Fallback decisions answer with the
// generator's reply to the raw query. Local decisions are composed according to AnswerMode;
// in answer mode a NOT_FOUND reply demotes the decision to FALLBACK.
func (r *Router) Ask(ctx context.Context, query string) (*models.Answer, error) {
	start := time.Now()
	ans := &models.Answer{Query: query, Mode: string(r.cfg.AnswerMode)}
	defer func() { ans.QueryTimeMS = time.Since(start).Milliseconds() }()

	d, err := r.Route(ctx, query)
	ans.Decision = d
	if err != nil || d.EmptyQuery {
		if d != nil {
			ans.Text = d.Response
		}
		return ans, err
	}
	if !d.Source.IsLocal() {
		ans.Text = d.Response
		return ans, nil
	}

	texts := d.ContextTexts()
	if r.generator == nil || r.cfg.AnswerMode == AnswerModeContext {
		ans.Text = strings.Join(texts, "\n\n")
		return ans, nil
	}

	switch r.cfg.AnswerMode {
	case AnswerModeSummarize:
		ans.Text, err = r.generate(ctx, llm.SummaryRequest(query, texts))
		return ans, err
	default:
		reply, err := r.generate(ctx, llm.AnswerRequest(query, texts))
		if err != nil {
			return ans, err
		}
		if !llm.IsNotFound(reply, r.cfg.MinAnswerChars) {
			ans.Text = reply
			return ans, nil
		}
		if r.logger != nil {
			r.logger.Info("Context did not contain the answer, falling back", zap.String("query", query))
		}
		d.Source = models.SourceFallback
		d.Context = nil
		d.Reason = "answer not found in context"
		resp, err := r.generate(ctx, llm.FallbackRequest(query))
		if err != nil {
			return ans, err
		}
		d.Response = resp
		ans.Text = resp
		return ans, nil
	}
}
