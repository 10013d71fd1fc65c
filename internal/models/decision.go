package models

// Source is the routing outcome of a query.
type Source string

const (
	// SourceLocal answers from local context without validation.
	SourceLocal Source = "LOCAL"
	// SourceValidatedLocal answers from local context confirmed by the validator.
	SourceValidatedLocal Source = "VALIDATED_LOCAL"
	// SourceFallback sends the raw query to the generation collaborator.
	SourceFallback Source = "FALLBACK"
)

// IsLocal reports whether the decision answers from the local corpus.
func (s Source) IsLocal() bool {
	return s == SourceLocal || s == SourceValidatedLocal
}

// Stage is a state of the query router.
type Stage string

const (
	StageReceived  Stage = "RECEIVED"
	StageEmbedded  Stage = "EMBEDDED"
	StageSearched  Stage = "SEARCHED"
	StageDeduped   Stage = "DEDUPED"
	StageScored    Stage = "SCORED"
	StageResponded Stage = "RESPONDED"
)

// Candidate is one search hit for a query. RawScore is in the index metric;
// Similarity is normalized to [0,1]. Rank is the 0-based position in the raw result list.
type Candidate struct {
	ID         string  `json:"id"`
	RawScore   float64 `json:"raw_score"`
	Similarity float64 `json:"similarity"`
	Rank       int     `json:"rank"`
	Chunk      *Chunk  `json:"chunk,omitempty"`
}

// RetrievalDecision is the query router's output.
type RetrievalDecision struct {
	Query      string       `json:"query"`
	Source     Source       `json:"source,omitempty"`
	Context    []*Chunk     `json:"context"`
	Confidence float64      `json:"confidence"`
	Candidates []*Candidate `json:"candidates,omitempty"`
	Stages     []Stage      `json:"stages"`
	Reason     string       `json:"reason,omitempty"`
	// Response holds the fallback generation output when the router invoked the generator.
	Response string `json:"response,omitempty"`
	// EmptyQuery is set when the query was empty or whitespace; nothing else was done.
	EmptyQuery bool `json:"empty_query,omitempty"`
}

// ContextTexts returns the text of each context chunk in order.
func (d *RetrievalDecision) ContextTexts() []string {
	texts := make([]string, len(d.Context))
	for i, c := range d.Context {
		texts[i] = c.Text
	}
	return texts
}

// Answer is the composed response to Ask.
type Answer struct {
	Query       string             `json:"query"`
	Text        string             `json:"text"`
	Mode        string             `json:"mode,omitempty"`
	Decision    *RetrievalDecision `json:"decision"`
	QueryTimeMS int64              `json:"query_time_ms"`
}

// SearchHit is a hybrid (vector + keyword) search result for a chunk.
type SearchHit struct {
	Chunk         *Chunk  `json:"chunk"`
	Score         float64 `json:"score"`
	SemanticScore float64 `json:"semantic_score"`
	KeywordScore  float64 `json:"keyword_score"`
	Rank          int     `json:"rank"`
}

// SearchResponse is the response for a hybrid search request.
type SearchResponse struct {
	Query     string       `json:"query"`
	Hits      []*SearchHit `json:"hits"`
	Total     int          `json:"total"`
	QueryTime int64        `json:"query_time_ms"`
}
