// Package search provides the web search capability used for evidence
// retrieval, backed by a SearxNG instance with an optional redis cache.
package search

import "context"

// Result is one web search hit. Content is best-effort extracted text and
// may be empty; callers fall back to the snippet.
type Result struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Snippet string `json:"snippet,omitempty"`
	Content string `json:"content,omitempty"`
}

// Searcher answers free-text queries with ranked results.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]Result, error)
}
