package llm

import (
	"fmt"
	"strings"
	"unicode"
)

// NotFound is the reply the answer prompt asks for when the context does not contain the answer.
const NotFound = "NOT_FOUND"

// MaxSummaryRecords caps the records passed to SummaryRequest.
const MaxSummaryRecords = 10

// SummaryTemperature is the sampling temperature for record summaries.
const SummaryTemperature = 0.5

// FallbackRequest sends the query to the model unchanged.
func FallbackRequest(query string) *Request {
	return &Request{Prompt: query}
}

// AnswerRequest asks the model to extract the part of the context that answers the question,
// or reply NOT_FOUND.
func AnswerRequest(query string, chunks []string) *Request {
	prompt := fmt.Sprintf(`You are an assistant that extracts only the part of a document that directly answers the user's question.

Document text:
"""%s"""

Question:
"""%s"""

Instructions:
1. Answer based only on the provided context.
2. If the context contains several questions or entries, use only the one matching the question.
3. Fix small grammar issues but do not add new information.
4. If the context does not contain a meaningful answer, reply with exactly %s.
Return only the final answer text, no explanation.`, strings.Join(chunks, "\n\n"), query, NotFound)
	return &Request{Prompt: prompt}
}

// SummaryRequest asks for a concise summary of matched records that answers the query.
// At most MaxSummaryRecords records are included.
func SummaryRequest(query string, records []string) *Request {
	if len(records) > MaxSummaryRecords {
		records = records[:MaxSummaryRecords]
	}
	prompt := fmt.Sprintf(`You are an assistant that summarizes records.

User query: %q

Most relevant records:
%s

Give a concise human-readable summary that answers the user query. If none of the records match, say "No matching records found."`,
		query, strings.Join(records, "\n\n"))
	return &Request{
		System:      "You are a concise summarizer.",
		Prompt:      prompt,
		Temperature: Temperature(SummaryTemperature),
	}
}

// ValidationRequest asks whether the context can answer the question, expecting yes or no.
func ValidationRequest(query string, chunks []string) *Request {
	prompt := fmt.Sprintf(`Context:
"""%s"""

Question:
"""%s"""

Can the question be answered from the context alone? Reply with exactly one word: yes or no.`,
		strings.Join(chunks, "\n\n"), query)
	return &Request{
		System:      "You judge whether retrieved context is relevant. Reply only yes or no.",
		Prompt:      prompt,
		Temperature: Temperature(0),
		MaxTokens:   3,
	}
}

// IsNotFound reports whether an answer reply signals that the context lacked the answer.
// Replies shorter than minChars count as not found when minChars is positive.
func IsNotFound(reply string, minChars int) bool {
	r := strings.TrimSpace(reply)
	if r == "" || strings.EqualFold(strings.Trim(r, `"'.`), NotFound) {
		return true
	}
	return minChars > 0 && len([]rune(r)) < minChars
}

// ParseYesNo interprets a validation reply. ok is false when the reply is neither.
func ParseYesNo(reply string) (yes bool, ok bool) {
	words := strings.FieldsFunc(strings.ToLower(reply), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	if len(words) == 0 {
		return false, false
	}
	switch words[0] {
	case "yes":
		return true, true
	case "no":
		return false, true
	default:
		return false, false
	}
}
