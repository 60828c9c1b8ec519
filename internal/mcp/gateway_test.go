package mcp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/loomchat/loom/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// toolServer advertises a fixed tool list over plain JSON-RPC.
func toolServer(t *testing.T, tools []map[string]interface{}) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		require.NoError(t, json.Unmarshal(body, &req))
		switch req.Method {
		case "initialize":
			writeResult(w, req.ID, map[string]interface{}{})
		case "tools/list":
			writeResult(w, req.ID, map[string]interface{}{"tools": tools})
		case "tools/call":
			writeResult(w, req.ID, map[string]interface{}{
				"content": []map[string]interface{}{{"type": "text", "text": "remote says hi"}},
			})
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func testGateway() *Gateway {
	c := NewClient(5*time.Second, zap.NewNop())
	c.allowPrivate = true
	return NewGateway(c, zap.NewNop())
}

func TestCollectToolsMergeFirstServerWins(t *testing.T) {
	first := toolServer(t, []map[string]interface{}{
		{"name": "lookup", "description": "from first"},
		{"name": "fetch", "description": "fetch"},
	})
	second := toolServer(t, []map[string]interface{}{
		{"name": "lookup", "description": "from second"},
		{"name": "translate", "description": "translate"},
	})

	catalog, routes := testGateway().CollectTools(context.Background(), []models.MCPServer{
		{Name: "alpha", URL: first.URL, Enabled: true},
		{Name: "beta", URL: second.URL, Enabled: true},
	})

	var names []string
	for _, tool := range catalog {
		names = append(names, tool.Function.Name)
	}
	assert.Equal(t, []string{"lookup", "fetch", "translate"}, names)

	// The colliding name routes to the earlier server.
	assert.Equal(t, "alpha", routes["lookup"].ServerName)
	assert.Equal(t, "beta", routes["translate"].ServerName)
}

func TestCollectToolsUnreachableServerDegrades(t *testing.T) {
	working := toolServer(t, []map[string]interface{}{
		{"name": "lookup", "description": "lookup"},
	})
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer broken.Close()

	catalog, routes := testGateway().CollectTools(context.Background(), []models.MCPServer{
		{Name: "broken", URL: broken.URL, Enabled: true},
		{Name: "working", URL: working.URL, Enabled: true},
	})

	require.Len(t, catalog, 1)
	assert.Equal(t, "lookup", catalog[0].Function.Name)
	assert.Equal(t, "working", routes["lookup"].ServerName)
}

func TestCollectToolsEmptySchemaFilled(t *testing.T) {
	server := toolServer(t, []map[string]interface{}{
		{"name": "bare"},
	})

	catalog, _ := testGateway().CollectTools(context.Background(), []models.MCPServer{
		{Name: "s", URL: server.URL, Enabled: true},
	})

	require.Len(t, catalog, 1)
	params, ok := catalog[0].Function.Parameters.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "object", params["type"])
}

func TestGatewayCallToolSuccess(t *testing.T) {
	server := toolServer(t, nil)
	g := testGateway()

	text := g.CallTool(context.Background(), Route{Endpoint: Endpoint{URL: server.URL}, ServerName: "s"}, "lookup", map[string]interface{}{"q": "x"})
	assert.Equal(t, "remote says hi", text)
}

func TestGatewayCallToolFailureDegradesToText(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer broken.Close()

	text := testGateway().CallTool(context.Background(), Route{Endpoint: Endpoint{URL: broken.URL}, ServerName: "s"}, "lookup", nil)
	assert.Contains(t, text, "Tool lookup failed")
}
