package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/zenhq/zen/core/config"
)

// SearxClient queries a SearxNG instance's JSON API.
type SearxClient struct {
	baseURL    string
	httpClient *http.Client
	maxContent int
}

func NewSearxClient(cfg config.SearchConfig) *SearxClient {
	return &SearxClient{
		baseURL:    strings.TrimRight(cfg.SearxURL, "/"),
		httpClient: &http.Client{},
		maxContent: cfg.MaxContentLength,
	}
}

type searxResponse struct {
	Results []struct {
		URL     string `json:"url"`
		Title   string `json:"title"`
		Content string `json:"content"`
	} `json:"results"`
}

func (c *SearxClient) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("building search request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("searching %q: %w", query, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("search returned status %d: %s", resp.StatusCode, string(body))
	}

	var parsed searxResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}

	results := make([]Result, 0, maxResults)
	for _, r := range parsed.Results {
		if len(results) >= maxResults {
			break
		}
		if r.URL == "" {
			continue
		}
		content := r.Content
		if c.maxContent > 0 && len(content) > c.maxContent {
			content = content[:c.maxContent]
		}
		results = append(results, Result{
			URL:     r.URL,
			Title:   r.Title,
			Snippet: r.Content,
			Content: content,
		})
	}
	return results, nil
}
