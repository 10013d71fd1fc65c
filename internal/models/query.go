package models

import (
	"fmt"
	"strings"
)

// QueryRequest is a request to ask, route, or search.
type QueryRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

// Validate normalizes the limit for search requests. An empty query is an error here;
// ask and route requests report empty queries as an outcome instead of calling Validate.
func (q *QueryRequest) Validate() error {
	if strings.TrimSpace(q.Query) == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if q.Limit <= 0 {
		q.Limit = 10
	}
	if q.Limit > 100 {
		q.Limit = 100
	}
	return nil
}
