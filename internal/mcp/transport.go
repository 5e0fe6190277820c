package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrUnauthorized is returned when the server rejects the request
// credentials.
var ErrUnauthorized = errors.New("mcp server requires authorization")

// acceptHeader is sent on every request. Some servers reject requests that
// do not accept both encodings.
const acceptHeader = "application/json, text/event-stream"

// Transport defines the interface for MCP transports.
type Transport interface {
	// Connect establishes the transport connection.
	Connect(ctx context.Context) error

	// Close closes the transport connection.
	Close() error

	// Call sends a request and waits for a response.
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)

	// Notify sends a notification (no response expected).
	Notify(ctx context.Context, method string, params any) error
}

// NewTransport creates a transport for cfg. A nil client gets one with the
// configured timeout.
func NewTransport(cfg *ServerConfig, client *http.Client) Transport {
	if client == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	transport := cfg.Transport
	if transport == "" {
		transport = DetectTransport(cfg.URL)
	}
	switch transport {
	case TransportSSE:
		return NewSSETransport(cfg, client)
	default:
		return NewHTTPTransport(cfg, client)
	}
}

func statusError(status int, body []byte) error {
	if status == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	return fmt.Errorf("HTTP %d: %s", status, truncate(string(body), 500))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func newRequest(method string, params any, id any) ([]byte, error) {
	var raw json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		raw = data
	}
	if id == nil {
		return json.Marshal(JSONRPCNotification{JSONRPC: "2.0", Method: method, Params: raw})
	}
	return json.Marshal(JSONRPCRequest{JSONRPC: "2.0", ID: id, Method: method, Params: raw})
}

func applyHeaders(req *http.Request, headers http.Header) {
	for k, values := range headers {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
}

func decodeResult(resp *JSONRPCResponse) (json.RawMessage, error) {
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}
