package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// SearchResult represents a single search result
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// SearchResponse is one search round-trip: an optional synthesized answer
// plus the source list.
type SearchResponse struct {
	Answer  string
	Results []SearchResult
}

// WebSearchService handles web search operations via the Tavily API. The API
// key is per-call because each user configures their own.
type WebSearchService struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

func NewWebSearchService(timeout time.Duration, logger *zap.Logger) *WebSearchService {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &WebSearchService{
		endpoint: "https://api.tavily.com/search",
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// SetEndpoint overrides the search API endpoint (tests).
func (s *WebSearchService) SetEndpoint(url string) {
	s.endpoint = url
}

// Search performs one web search with a bounded timeout.
func (s *WebSearchService) Search(ctx context.Context, apiKey, query string, maxResults int) (*SearchResponse, error) {
	if maxResults < 1 {
		maxResults = 5
	}
	if maxResults > 10 {
		maxResults = 10
	}

	reqBody := map[string]interface{}{
		"api_key":        apiKey,
		"query":          query,
		"max_results":    maxResults,
		"search_depth":   "basic",
		"include_answer": true,
	}

	body, _ := json.Marshal(reqBody)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search API returned status %d", resp.StatusCode)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read search response: %w", err)
	}

	var tavilyResp struct {
		Answer  string `json:"answer"`
		Results []struct {
			Title   string  `json:"title"`
			URL     string  `json:"url"`
			Content string  `json:"content"`
			Score   float64 `json:"score"`
		} `json:"results"`
	}
	if err := json.Unmarshal(respBody, &tavilyResp); err != nil {
		return nil, fmt.Errorf("invalid search response: %w", err)
	}

	out := &SearchResponse{Answer: tavilyResp.Answer}
	for _, r := range tavilyResp.Results {
		out.Results = append(out.Results, SearchResult{
			Title:   r.Title,
			URL:     r.URL,
			Snippet: truncateContent(r.Content, 300),
		})
	}
	return out, nil
}

// truncateContent truncates content to max length
func truncateContent(content string, maxLen int) string {
	if len(content) <= maxLen {
		return content
	}
	return content[:maxLen] + "..."
}
