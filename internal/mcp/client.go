package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const protocolVersion = "2024-11-05"

// Process-lifetime JSON-RPC id counter. Not persisted.
var requestID atomic.Int64

// Endpoint identifies one remote tool server plus its credential.
type Endpoint struct {
	URL         string
	BearerToken string
}

// ToolDef is one tool advertised by a remote server's tools/list.
type ToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int64       `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

// ValidateURL is the SSRF guard run before any network I/O. Remote tool
// servers are untrusted user input: anything that lexically points inside the
// deployment's own network is rejected outright.
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported URL scheme %q (must be http or https)", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("URL has no host")
	}
	if strings.EqualFold(host, "localhost") {
		return fmt.Errorf("refusing to connect to localhost")
	}
	if ip := net.ParseIP(host); ip != nil {
		// IsPrivate covers RFC1918 and IPv6 unique-local (fc00::/7).
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
			ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
			return fmt.Errorf("refusing to connect to private or loopback address %s", host)
		}
	}
	return nil
}

// Client speaks the MCP JSON-RPC protocol over HTTP POST. Servers may answer
// a single-shot call with either plain JSON or an SSE stream; both are read
// through the same response path.
type Client struct {
	http    *http.Client
	timeout time.Duration
	logger  *zap.Logger

	// allowPrivate skips the SSRF guard; only set from tests in this package.
	allowPrivate bool
}

func NewClient(timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		timeout: timeout,
		logger:  logger,
	}
}

func (c *Client) call(ctx context.Context, ep Endpoint, method string, params interface{}) (json.RawMessage, error) {
	if !c.allowPrivate {
		if err := ValidateURL(ep.URL); err != nil {
			return nil, err
		}
	}

	env := rpcRequest{
		JSONRPC: "2.0",
		ID:      requestID.Add(1),
		Method:  method,
		Params:  params,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if ep.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+ep.BearerToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return nil, fmt.Errorf("%s returned status %d", method, resp.StatusCode)
	}

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		return readSSEResult(resp.Body)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return decodeEnvelope(raw)
}

// readSSEResult scans an SSE body line by line and returns the payload of the
// first data: line carrying a result, stopping the read as soon as it is
// found. A stream that closes without one is a hard failure.
func readSSEResult(body io.Reader) (json.RawMessage, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		var env rpcResponse
		if err := json.Unmarshal([]byte(data), &env); err != nil {
			continue
		}
		if env.Error != nil {
			return nil, fmt.Errorf("server error %d: %s", env.Error.Code, env.Error.Message)
		}
		if len(env.Result) > 0 {
			return env.Result, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read event stream: %w", err)
	}
	return nil, fmt.Errorf("event stream ended without a result")
}

func decodeEnvelope(raw []byte) (json.RawMessage, error) {
	var env rpcResponse
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid JSON-RPC response: %w", err)
	}
	if env.Error != nil {
		return nil, fmt.Errorf("server error %d: %s", env.Error.Code, env.Error.Message)
	}
	if len(env.Result) == 0 {
		return nil, fmt.Errorf("response carried no result")
	}
	return env.Result, nil
}

// Initialize runs the capability handshake that must precede tools/list and
// tools/call on every interaction.
func (c *Client) Initialize(ctx context.Context, ep Endpoint) error {
	params := map[string]interface{}{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]interface{}{},
		"clientInfo": map[string]interface{}{
			"name":    "loom",
			"version": "1.0",
		},
	}
	_, err := c.call(ctx, ep, "initialize", params)
	return err
}

// ListTools performs the initialize handshake followed by tools/list.
func (c *Client) ListTools(ctx context.Context, ep Endpoint) ([]ToolDef, error) {
	if err := c.Initialize(ctx, ep); err != nil {
		return nil, fmt.Errorf("initialize failed: %w", err)
	}
	result, err := c.call(ctx, ep, "tools/list", map[string]interface{}{})
	if err != nil {
		return nil, err
	}
	var payload struct {
		Tools []ToolDef `json:"tools"`
	}
	if err := json.Unmarshal(result, &payload); err != nil {
		return nil, fmt.Errorf("invalid tools/list result: %w", err)
	}
	return payload.Tools, nil
}

// CallTool performs the initialize handshake followed by tools/call and
// returns the concatenated text content blocks.
func (c *Client) CallTool(ctx context.Context, ep Endpoint, name string, args map[string]interface{}) (string, error) {
	if err := c.Initialize(ctx, ep); err != nil {
		return "", fmt.Errorf("initialize failed: %w", err)
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	result, err := c.call(ctx, ep, "tools/call", map[string]interface{}{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		return "", err
	}

	var payload struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		IsError bool `json:"isError"`
	}
	if err := json.Unmarshal(result, &payload); err != nil {
		return "", fmt.Errorf("invalid tools/call result: %w", err)
	}

	var sb strings.Builder
	for _, block := range payload.Content {
		if block.Type != "text" || block.Text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(block.Text)
	}
	text := sb.String()
	if payload.IsError {
		if text == "" {
			text = "tool reported an error"
		}
		return "", fmt.Errorf("%s", text)
	}
	if text == "" {
		text = "(tool returned no text content)"
	}
	return text, nil
}
