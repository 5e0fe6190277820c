package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// sessionHeader carries the server-assigned session id.
const sessionHeader = "Mcp-Session-Id"

// HTTPTransport implements the MCP streamable HTTP transport. Each call is a
// POST whose response is either a JSON body or an event stream carrying the
// response.
type HTTPTransport struct {
	config *ServerConfig
	logger *slog.Logger
	client *http.Client

	mu        sync.RWMutex
	sessionID string
	connected atomic.Bool
}

// NewHTTPTransport creates a new streamable HTTP transport.
func NewHTTPTransport(cfg *ServerConfig, client *http.Client) *HTTPTransport {
	return &HTTPTransport{
		config: cfg,
		logger: slog.Default().With("mcp_url", cfg.URL, "transport", "streamable-http"),
		client: client,
	}
}

// Connect marks the transport ready. The session starts with initialize.
func (t *HTTPTransport) Connect(ctx context.Context) error {
	if t.config.URL == "" {
		return fmt.Errorf("URL is required for HTTP transport")
	}
	t.connected.Store(true)
	return nil
}

// Close terminates the session when the server assigned one.
func (t *HTTPTransport) Close() error {
	if !t.connected.Swap(false) {
		return nil
	}
	session := t.session()
	if session == "" {
		return nil
	}
	req, err := http.NewRequest(http.MethodDelete, t.config.URL, nil)
	if err != nil {
		return err
	}
	applyHeaders(req, t.config.Headers)
	req.Header.Set(sessionHeader, session)
	resp, err := t.client.Do(req)
	if err != nil {
		t.logger.Debug("session termination failed", "error", err)
		return nil
	}
	resp.Body.Close()
	return nil
}

func (t *HTTPTransport) session() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sessionID
}

// Call sends a request and waits for a response.
func (t *HTTPTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := uuid.New().String()
	body, err := newRequest(method, params, id)
	if err != nil {
		return nil, err
	}
	resp, err := t.post(ctx, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == "text/event-stream" {
		return readStreamResponse(resp.Body, id)
	}

	var rpcResp JSONRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return decodeResult(&rpcResp)
}

// Notify sends a notification (no response expected).
func (t *HTTPTransport) Notify(ctx context.Context, method string, params any) error {
	body, err := newRequest(method, params, nil)
	if err != nil {
		return err
	}
	resp, err := t.post(ctx, body)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (t *HTTPTransport) post(ctx context.Context, body []byte) (*http.Response, error) {
	if !t.connected.Load() {
		return nil, fmt.Errorf("not connected")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.config.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	applyHeaders(req, t.config.Headers)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", acceptHeader)
	if session := t.session(); session != "" {
		req.Header.Set(sessionHeader, session)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	if session := resp.Header.Get(sessionHeader); session != "" {
		t.mu.Lock()
		t.sessionID = session
		t.mu.Unlock()
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, statusError(resp.StatusCode, data)
	}
	return resp, nil
}

// readStreamResponse scans an event stream for the response to id.
func readStreamResponse(r io.Reader, id string) (json.RawMessage, error) {
	var (
		result json.RawMessage
		rpcErr error
		found  bool
	)
	err := readEvents(r, func(event, data string) bool {
		resp, ok := parseResponse(data)
		if !ok || fmt.Sprint(resp.ID) != id {
			return true
		}
		found = true
		result, rpcErr = decodeResult(resp)
		return false
	})
	if found {
		return result, rpcErr
	}
	if err != nil {
		return nil, fmt.Errorf("read event stream: %w", err)
	}
	return nil, fmt.Errorf("event stream closed before response %s", id)
}

// parseResponse decodes data as a JSON-RPC response. Requests and
// notifications are rejected.
func parseResponse(data string) (*JSONRPCResponse, bool) {
	var envelope struct {
		JSONRPCResponse
		Method string `json:"method"`
	}
	if err := json.Unmarshal([]byte(data), &envelope); err != nil {
		return nil, false
	}
	if envelope.Method != "" || envelope.ID == nil {
		return nil, false
	}
	return &envelope.JSONRPCResponse, true
}
