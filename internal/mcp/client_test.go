package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestValidateURL(t *testing.T) {
	valid := []string{
		"https://mcp.example.com/rpc",
		"http://tools.example.com:8080/mcp",
		"https://8.8.8.8/rpc",
	}
	for _, u := range valid {
		assert.NoError(t, ValidateURL(u), u)
	}

	invalid := []string{
		"ftp://example.com/rpc",
		"file:///etc/passwd",
		"https://",
		"http://localhost:9000/rpc",
		"http://LOCALHOST/rpc",
		"http://127.0.0.1/rpc",
		"http://[::1]/rpc",
		"http://10.0.0.5/rpc",
		"http://172.16.1.1/rpc",
		"http://192.168.1.10/rpc",
		"http://169.254.169.254/latest/meta-data",
		"http://0.0.0.0/rpc",
		"http://[fd00::1]/rpc",
		"http://[fe80::1]/rpc",
	}
	for _, u := range invalid {
		assert.Error(t, ValidateURL(u), u)
	}
}

func testClient() *Client {
	c := NewClient(5*time.Second, zap.NewNop())
	c.allowPrivate = true
	return c
}

// rpcServer answers initialize generically and delegates every other method.
func rpcServer(t *testing.T, handle func(method string, params json.RawMessage) (interface{}, *rpcError)) (*httptest.Server, *[]string) {
	t.Helper()
	var mu sync.Mutex
	methods := []string{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		require.NoError(t, json.Unmarshal(body, &req))

		mu.Lock()
		methods = append(methods, req.Method)
		mu.Unlock()

		if req.Method == "initialize" {
			writeResult(w, req.ID, map[string]interface{}{"protocolVersion": protocolVersion})
			return
		}
		result, rerr := handle(req.Method, req.Params)
		if rerr != nil {
			resp := map[string]interface{}{"jsonrpc": "2.0", "id": json.RawMessage(req.ID), "error": rerr}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(resp)
			return
		}
		writeResult(w, req.ID, result)
	}))
	t.Cleanup(server.Close)
	return server, &methods
}

func writeResult(w http.ResponseWriter, id json.RawMessage, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"result":  result,
	})
}

func TestListToolsInitializesFirst(t *testing.T) {
	server, methods := rpcServer(t, func(method string, params json.RawMessage) (interface{}, *rpcError) {
		require.Equal(t, "tools/list", method)
		return map[string]interface{}{
			"tools": []map[string]interface{}{
				{"name": "lookup", "description": "Look things up", "inputSchema": map[string]interface{}{"type": "object"}},
				{"name": "fetch", "description": "Fetch a page"},
			},
		}, nil
	})

	defs, err := testClient().ListTools(context.Background(), Endpoint{URL: server.URL})
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "lookup", defs[0].Name)
	assert.Equal(t, "fetch", defs[1].Name)
	assert.Equal(t, []string{"initialize", "tools/list"}, *methods)
}

func TestCallToolConcatenatesTextBlocks(t *testing.T) {
	server, _ := rpcServer(t, func(method string, params json.RawMessage) (interface{}, *rpcError) {
		require.Equal(t, "tools/call", method)
		var p struct {
			Name      string                 `json:"name"`
			Arguments map[string]interface{} `json:"arguments"`
		}
		require.NoError(t, json.Unmarshal(params, &p))
		assert.Equal(t, "lookup", p.Name)
		assert.Equal(t, "golang", p.Arguments["q"])
		return map[string]interface{}{
			"content": []map[string]interface{}{
				{"type": "text", "text": "first"},
				{"type": "image", "data": "ignored"},
				{"type": "text", "text": "second"},
			},
		}, nil
	})

	text, err := testClient().CallTool(context.Background(), Endpoint{URL: server.URL}, "lookup", map[string]interface{}{"q": "golang"})
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond", text)
}

func TestCallToolIsErrorBecomesError(t *testing.T) {
	server, _ := rpcServer(t, func(method string, params json.RawMessage) (interface{}, *rpcError) {
		return map[string]interface{}{
			"content": []map[string]interface{}{{"type": "text", "text": "rate limited"}},
			"isError": true,
		}, nil
	})

	_, err := testClient().CallTool(context.Background(), Endpoint{URL: server.URL}, "lookup", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestCallErrorEnvelope(t *testing.T) {
	server, _ := rpcServer(t, func(method string, params json.RawMessage) (interface{}, *rpcError) {
		return nil, &rpcError{Code: -32601, Message: "method not found"}
	})

	_, err := testClient().ListTools(context.Background(), Endpoint{URL: server.URL})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "method not found")
}

func TestCallSSEResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req struct {
			ID     int64  `json:"id"`
			Method string `json:"method"`
		}
		require.NoError(t, json.Unmarshal(body, &req))

		w.Header().Set("Content-Type", "text/event-stream")
		// Notification without a result first, then the real envelope.
		fmt.Fprint(w, ": comment line\n\n")
		fmt.Fprint(w, "event: message\n")
		if req.Method == "initialize" {
			fmt.Fprintf(w, "data: {\"jsonrpc\":\"2.0\",\"id\":%d,\"result\":{}}\n\n", req.ID)
			return
		}
		fmt.Fprint(w, "data: {\"jsonrpc\":\"2.0\",\"method\":\"notifications/progress\"}\n\n")
		fmt.Fprintf(w, "data: {\"jsonrpc\":\"2.0\",\"id\":%d,\"result\":{\"tools\":[{\"name\":\"sse_tool\"}]}}\n\n", req.ID)
	}))
	defer server.Close()

	defs, err := testClient().ListTools(context.Background(), Endpoint{URL: server.URL})
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "sse_tool", defs[0].Name)
}

func TestCallSSEStreamWithoutResultFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"jsonrpc\":\"2.0\",\"method\":\"notifications/progress\"}\n\n")
	}))
	defer server.Close()

	err := testClient().Initialize(context.Background(), Endpoint{URL: server.URL})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "without a result")
}

func TestCallSendsBearerToken(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		var req struct {
			ID json.RawMessage `json:"id"`
		}
		json.Unmarshal(body, &req)
		writeResult(w, req.ID, map[string]interface{}{})
	}))
	defer server.Close()

	err := testClient().Initialize(context.Background(), Endpoint{URL: server.URL, BearerToken: "sekrit"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer sekrit", gotAuth)
}

func TestCallRejectsPrivateURLBeforeIO(t *testing.T) {
	c := NewClient(time.Second, zap.NewNop())
	_, err := c.ListTools(context.Background(), Endpoint{URL: "http://192.168.0.1/rpc"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "private or loopback")
}
