package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSearchRequestShape(t *testing.T) {
	var got map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"answer": "Go is a language.",
			"results": []map[string]interface{}{
				{"title": "Go", "url": "https://go.dev", "content": "The Go programming language", "score": 0.9},
			},
		})
	}))
	defer server.Close()

	svc := NewWebSearchService(5*time.Second, zap.NewNop())
	svc.SetEndpoint(server.URL)

	resp, err := svc.Search(context.Background(), "tvly-key", "golang", 3)
	require.NoError(t, err)

	assert.Equal(t, "tvly-key", got["api_key"])
	assert.Equal(t, "golang", got["query"])
	assert.Equal(t, float64(3), got["max_results"])
	assert.Equal(t, "basic", got["search_depth"])
	assert.Equal(t, true, got["include_answer"])

	assert.Equal(t, "Go is a language.", resp.Answer)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "Go", resp.Results[0].Title)
	assert.Equal(t, "The Go programming language", resp.Results[0].Snippet)
}

func TestSearchClampsMaxResults(t *testing.T) {
	var got map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(map[string]interface{}{})
	}))
	defer server.Close()

	svc := NewWebSearchService(5*time.Second, zap.NewNop())
	svc.SetEndpoint(server.URL)

	_, err := svc.Search(context.Background(), "k", "q", 0)
	require.NoError(t, err)
	assert.Equal(t, float64(5), got["max_results"])

	_, err = svc.Search(context.Background(), "k", "q", 99)
	require.NoError(t, err)
	assert.Equal(t, float64(10), got["max_results"])
}

func TestSearchTruncatesLongSnippets(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"results": []map[string]interface{}{
				{"title": "Long", "url": "https://example.com", "content": strings.Repeat("x", 500)},
			},
		})
	}))
	defer server.Close()

	svc := NewWebSearchService(5*time.Second, zap.NewNop())
	svc.SetEndpoint(server.URL)

	resp, err := svc.Search(context.Background(), "k", "q", 1)
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Len(t, resp.Results[0].Snippet, 303)
	assert.True(t, strings.HasSuffix(resp.Results[0].Snippet, "..."))
}

func TestSearchTruncatedBodySurfacesReadError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Promise more bytes than are sent; the client sees a read failure,
		// not a JSON parse failure.
		w.Header().Set("Content-Length", "1000")
		w.Write([]byte(`{"answer":`))
	}))
	defer server.Close()

	svc := NewWebSearchService(5*time.Second, zap.NewNop())
	svc.SetEndpoint(server.URL)

	_, err := svc.Search(context.Background(), "k", "q", 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read search response")
}

func TestSearchNon200IsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer server.Close()

	svc := NewWebSearchService(5*time.Second, zap.NewNop())
	svc.SetEndpoint(server.URL)

	_, err := svc.Search(context.Background(), "k", "q", 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}
