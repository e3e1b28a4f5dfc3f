package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/errors"
)

const protocolVersion = "2025-06-18"

// Client is a pooled JSON-RPC/SSE client for one upstream MCP server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
	pool       *pool

	mu        sync.RWMutex
	sessionID string

	nextID int64
}

// NewClient builds a Client for one upstream, bounding concurrent in-flight
// calls to maxInFlight with up to queueLimit more queued.
func NewClient(baseURL string, maxInFlight, queueLimit int, logger zerolog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger.With().Str("component", "transport").Str("upstream", baseURL).Logger(),
		pool:       newPool(maxInFlight, queueLimit),
	}
}

// SessionID returns the cached upstream session id, if any.
func (c *Client) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

func (c *Client) nextRequestID() int64 {
	return atomic.AddInt64(&c.nextID, 1)
}

// Initialize performs the handshake and caches the returned session id.
func (c *Client) Initialize(ctx context.Context) (string, error) {
	params, _ := json.Marshal(map[string]any{"protocolVersion": protocolVersion})
	resp, sessionID, err := c.send(ctx, "initialize", params, "")
	if err != nil {
		return "", err
	}
	if resp.Error != nil {
		return "", &UpstreamError{Kind: ErrorKindMalformed, Err: fmt.Errorf("initialize: %s", resp.Error.Message)}
	}
	c.mu.Lock()
	c.sessionID = sessionID
	c.mu.Unlock()
	return sessionID, nil
}

// ensureSession lazily initializes if no session id is cached yet.
func (c *Client) ensureSession(ctx context.Context) (string, error) {
	if sid := c.SessionID(); sid != "" {
		return sid, nil
	}
	return c.Initialize(ctx)
}

// ListTools fetches the raw tools/list payload. Callers (component G)
// decode each entry into their own tool representation.
func (c *Client) ListTools(ctx context.Context) ([]json.RawMessage, error) {
	sid, err := c.ensureSession(ctx)
	if err != nil {
		return nil, err
	}
	resp, _, err := c.send(ctx, "tools/list", nil, sid)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, &UpstreamError{Kind: ErrorKindMalformed, Err: fmt.Errorf("tools/list: %s", resp.Error.Message)}
	}
	var body struct {
		Tools []json.RawMessage `json:"tools"`
	}
	if err := json.Unmarshal(resp.Result, &body); err != nil {
		return nil, &UpstreamError{Kind: ErrorKindMalformed, Err: err}
	}
	return body.Tools, nil
}

// CallTool invokes name with args, bounded by the connection pool. A
// saturated pool returns ErrorKindSaturated without touching the network.
func (c *Client) CallTool(ctx context.Context, name string, args json.RawMessage) (*CallResult, error) {
	release, err := c.pool.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	sid, err := c.ensureSession(ctx)
	if err != nil {
		return nil, err
	}

	params, _ := json.Marshal(map[string]any{"name": name, "arguments": json.RawMessage(args)})
	return c.dispatch(ctx, "tools/call", params, sid)
}

// Ping is the lightweight health probe: a trivial tools/list call.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.ListTools(ctx)
	return err
}

// send performs a unary JSON-RPC POST and parses a single JSON response.
func (c *Client) send(ctx context.Context, method string, params json.RawMessage, sessionID string) (*JSONRPCResponse, string, error) {
	req := JSONRPCRequest{JSONRPC: "2.0", ID: c.nextRequestID(), Method: method, Params: params}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, "", fmt.Errorf("marshal upstream request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, "", fmt.Errorf("build upstream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")
	httpReq.Header.Set("MCP-Protocol-Version", protocolVersion)
	if sessionID != "" {
		httpReq.Header.Set("Mcp-Session-Id", sessionID)
	}
	// Origin and any caller bearer token are never forwarded upstream.

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, "", &UpstreamError{Kind: ErrorKindConnect, Err: err}
	}
	defer errors.DeferClose(c.logger, resp.Body, "failed to close upstream response body")

	if resp.StatusCode >= 400 {
		return nil, "", &UpstreamError{Kind: ErrorKindHTTPStatus, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var rpcResp JSONRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, "", &UpstreamError{Kind: ErrorKindMalformed, Err: err}
	}
	return &rpcResp, resp.Header.Get("Mcp-Session-Id"), nil
}

// dispatch performs a tools/call POST and mirrors whichever shape the
// upstream produced: a single JSON body, or an SSE event stream followed
// by a final result.
func (c *Client) dispatch(ctx context.Context, method string, params json.RawMessage, sessionID string) (*CallResult, error) {
	req := JSONRPCRequest{JSONRPC: "2.0", ID: c.nextRequestID(), Method: method, Params: params}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal upstream request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")
	httpReq.Header.Set("MCP-Protocol-Version", protocolVersion)
	httpReq.Header.Set("Mcp-Session-Id", sessionID)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &UpstreamError{Kind: ErrorKindConnect, Err: err}
	}
	defer errors.DeferClose(c.logger, resp.Body, "failed to close upstream response body")

	if resp.StatusCode >= 400 {
		return nil, &UpstreamError{Kind: ErrorKindHTTPStatus, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		events, final, err := readSSE(resp.Body)
		if err != nil {
			return nil, &UpstreamError{Kind: ErrorKindMalformed, Err: err}
		}
		return &CallResult{Response: final, Events: events}, nil
	}

	var rpcResp JSONRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, &UpstreamError{Kind: ErrorKindMalformed, Err: err}
	}
	return &CallResult{Response: &rpcResp}, nil
}

// readSSE parses an upstream event stream into ordered StreamEvents plus
// the final JSON-RPC response, which the spec requires every tools/call
// stream to end with.
func readSSE(body io.Reader) ([]StreamEvent, *JSONRPCResponse, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	var events []StreamEvent
	var id string
	var dataLines []string

	flush := func() {
		if len(dataLines) == 0 {
			return
		}
		data := strings.Join(dataLines, "\n")
		events = append(events, StreamEvent{UpstreamEventID: id, Data: json.RawMessage(data)})
		id = ""
		dataLines = nil
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "id:"):
			id = strings.TrimSpace(strings.TrimPrefix(line, "id:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	flush()
	if err := scanner.Err(); err != nil {
		return nil, nil, err
	}

	if len(events) == 0 {
		return nil, nil, fmt.Errorf("empty event stream")
	}

	var final JSONRPCResponse
	if err := json.Unmarshal(events[len(events)-1].Data, &final); err != nil {
		return nil, nil, fmt.Errorf("parse final stream event: %w", err)
	}
	return events[:len(events)-1], &final, nil
}
