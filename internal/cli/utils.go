// Package cli provides terminal output and the interactive question loop for tanya.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/hyperjump/tanya/internal/indexer"
	"github.com/hyperjump/tanya/internal/models"
	"github.com/hyperjump/tanya/pkg/utils"
)

// OutputFormat is the format of command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat parses a --output value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(s)) {
	case OutputText, "":
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format: %s (supported: text, json)", s)
	}
}

// styles are bound to the renderer of one writer, so colors are dropped when it is not a terminal.
type styles struct {
	heading lipgloss.Style
	label   lipgloss.Style
	muted   lipgloss.Style
	local   lipgloss.Style
	remote  lipgloss.Style
	rule    lipgloss.Style
}

func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		heading: r.NewStyle().Bold(true),
		label:   r.NewStyle().Foreground(lipgloss.Color("12")).Bold(true),
		muted:   r.NewStyle().Foreground(lipgloss.Color("8")),
		local:   r.NewStyle().Foreground(lipgloss.Color("10")),
		remote:  r.NewStyle().Foreground(lipgloss.Color("11")),
		rule:    r.NewStyle().Foreground(lipgloss.Color("8")),
	}
}

func (s styles) source(src models.Source) string {
	if src.IsLocal() {
		return s.local.Render(string(src))
	}
	return s.remote.Render(string(src))
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteAnswer writes an Ask result.
func WriteAnswer(w io.Writer, ans *models.Answer, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, ans)
	}
	st := newStyles(w)
	d := ans.Decision
	if d != nil && d.EmptyQuery {
		fmt.Fprintln(w, st.muted.Render("Empty query, nothing to answer."))
		return nil
	}
	fmt.Fprintln(w, ans.Text)
	if d != nil {
		fmt.Fprintf(w, "%s\n", st.muted.Render(fmt.Sprintf("[%s] confidence %.3f, %dms", d.Source, d.Confidence, ans.QueryTimeMS)))
	}
	return nil
}

// WriteDecision writes a routing decision with its candidates and context.
func WriteDecision(w io.Writer, d *models.RetrievalDecision, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, d)
	}
	st := newStyles(w)
	if d.EmptyQuery {
		fmt.Fprintln(w, st.muted.Render("Empty query, nothing to route."))
		return nil
	}
	fmt.Fprintf(w, "%s %s  %s %.4f\n", st.label.Render("Source:"), st.source(d.Source), st.label.Render("Confidence:"), d.Confidence)
	if d.Reason != "" {
		fmt.Fprintf(w, "%s %s\n", st.label.Render("Reason:"), d.Reason)
	}
	stages := make([]string, len(d.Stages))
	for i, s := range d.Stages {
		stages[i] = string(s)
	}
	fmt.Fprintf(w, "%s %s\n", st.label.Render("Stages:"), st.muted.Render(strings.Join(stages, " > ")))
	if len(d.Candidates) > 0 {
		fmt.Fprintln(w, st.heading.Render("Candidates"))
		for _, c := range d.Candidates {
			fmt.Fprintf(w, "  %2d. %-40s raw %.4f  similarity %.4f\n", c.Rank+1, c.ID, c.RawScore, c.Similarity)
		}
	}
	if len(d.Context) > 0 {
		fmt.Fprintln(w, st.heading.Render("Context"))
		for _, c := range d.Context {
			fmt.Fprintf(w, "  %s %s\n", st.muted.Render(c.ID), utils.Truncate(c.Text, 200))
		}
	}
	if d.Response != "" {
		fmt.Fprintf(w, "%s\n%s\n", st.heading.Render("Response"), d.Response)
	}
	return nil
}

// WriteSearchResults writes hybrid search hits.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, response)
	}
	st := newStyles(w)
	fmt.Fprintf(w, "\nFound %d results in %dms\n\n", response.Total, response.QueryTime)
	for _, hit := range response.Hits {
		fmt.Fprintln(w, st.rule.Render(strings.Repeat("─", 57)))
		fmt.Fprintf(w, "%s %d | Score: %.4f (Keyword: %.4f, Semantic: %.4f)\n",
			st.label.Render("Rank:"), hit.Rank, hit.Score, hit.KeywordScore, hit.SemanticScore)
		if hit.Chunk == nil {
			continue
		}
		fmt.Fprintf(w, "ID: %s\n", hit.Chunk.ID)
		fmt.Fprintf(w, "\n%s\n\n", TruncateWords(hit.Chunk.Text, 40))
	}
	return nil
}

// WriteIngestReport writes the outcome of a directory ingest.
func WriteIngestReport(w io.Writer, report *indexer.IngestReport, format OutputFormat) error {
	if format == OutputJSON {
		failed := make(map[string]string, len(report.Failed))
		for path, err := range report.Failed {
			failed[path] = err.Error()
		}
		return writeJSON(w, map[string]interface{}{
			"indexed": report.Indexed,
			"skipped": report.Skipped,
			"failed":  failed,
		})
	}
	st := newStyles(w)
	fmt.Fprintf(w, "%s %d indexed, %d unchanged, %d failed\n", st.heading.Render("Ingest:"), report.Indexed, report.Skipped, len(report.Failed))
	for path, err := range report.Failed {
		fmt.Fprintf(w, "  %s %s: %v\n", st.remote.Render("failed"), path, err)
	}
	return nil
}

// WriteRebuild writes a rebuild result.
func WriteRebuild(w io.Writer, res *indexer.RebuildResult, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, res)
	}
	st := newStyles(w)
	fmt.Fprintf(w, "%s generation %d: %d documents, %d chunks in %s\n",
		st.heading.Render("Rebuilt"), res.Generation.Seq, res.Documents, res.Chunks, res.Duration.Round(1e6))
	return nil
}

// TruncateWords returns up to maxWords from the space-separated string.
func TruncateWords(s string, maxWords int) string {
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return s
	}
	return strings.Join(words[:maxWords], " ") + "..."
}
