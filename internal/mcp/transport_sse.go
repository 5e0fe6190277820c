package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// SSETransport implements the legacy HTTP+SSE transport. A long-lived GET
// stream first announces the endpoint to POST messages to and then carries
// every response.
type SSETransport struct {
	config *ServerConfig
	logger *slog.Logger
	client *http.Client

	endpoint  string
	cancel    context.CancelFunc
	done      chan struct{}
	connected atomic.Bool

	mu      sync.Mutex
	pending map[string]chan *JSONRPCResponse
	err     error
}

// NewSSETransport creates a new SSE transport.
func NewSSETransport(cfg *ServerConfig, client *http.Client) *SSETransport {
	return &SSETransport{
		config:  cfg,
		logger:  slog.Default().With("mcp_url", cfg.URL, "transport", "sse"),
		client:  client,
		done:    make(chan struct{}),
		pending: make(map[string]chan *JSONRPCResponse),
	}
}

// Connect opens the event stream and waits for the endpoint event.
func (t *SSETransport) Connect(ctx context.Context) error {
	streamCtx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, t.config.URL, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("create request: %w", err)
	}
	applyHeaders(req, t.config.Headers)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	// The stream outlives any client timeout.
	streamClient := *t.client
	streamClient.Timeout = 0
	resp, err := streamClient.Do(req)
	if err != nil {
		cancel()
		return fmt.Errorf("sse connect: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		cancel()
		return statusError(resp.StatusCode, data)
	}

	endpoints := make(chan string, 1)
	t.cancel = cancel
	go t.readLoop(resp.Body, endpoints)

	select {
	case endpoint, ok := <-endpoints:
		if !ok {
			cancel()
			return fmt.Errorf("sse stream closed before endpoint event")
		}
		resolved, err := resolveEndpoint(t.config.URL, endpoint)
		if err != nil {
			cancel()
			return err
		}
		t.endpoint = resolved
		t.connected.Store(true)
		return nil
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}

func resolveEndpoint(base, endpoint string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	e, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return "", fmt.Errorf("invalid sse endpoint %q: %w", endpoint, err)
	}
	return b.ResolveReference(e).String(), nil
}

func (t *SSETransport) readLoop(body io.ReadCloser, endpoints chan<- string) {
	defer close(t.done)
	defer body.Close()

	announced := false
	err := readEvents(body, func(event, data string) bool {
		if event == "endpoint" {
			if !announced {
				announced = true
				endpoints <- data
			}
			return true
		}
		resp, ok := parseResponse(data)
		if !ok {
			return true
		}
		id := fmt.Sprint(resp.ID)
		t.mu.Lock()
		ch := t.pending[id]
		delete(t.pending, id)
		t.mu.Unlock()
		if ch != nil {
			ch <- resp
		}
		return true
	})
	if !announced {
		close(endpoints)
	}
	if err == nil {
		err = io.EOF
	}

	t.mu.Lock()
	t.err = err
	for id, ch := range t.pending {
		close(ch)
		delete(t.pending, id)
	}
	t.mu.Unlock()
	t.connected.Store(false)
}

// Close stops the event stream.
func (t *SSETransport) Close() error {
	t.connected.Store(false)
	if t.cancel != nil {
		t.cancel()
		<-t.done
	}
	return nil
}

// Call posts a request and waits for its response on the stream.
func (t *SSETransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := uuid.New().String()
	body, err := newRequest(method, params, id)
	if err != nil {
		return nil, err
	}

	ch := make(chan *JSONRPCResponse, 1)
	t.mu.Lock()
	if t.err != nil {
		err := t.err
		t.mu.Unlock()
		return nil, fmt.Errorf("sse stream closed: %w", err)
	}
	t.pending[id] = ch
	t.mu.Unlock()

	if err := t.post(ctx, body); err != nil {
		t.forget(id)
		return nil, err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("sse stream closed before response")
		}
		return decodeResult(resp)
	case <-ctx.Done():
		t.forget(id)
		return nil, ctx.Err()
	}
}

func (t *SSETransport) forget(id string) {
	t.mu.Lock()
	delete(t.pending, id)
	t.mu.Unlock()
}

// Notify posts a notification.
func (t *SSETransport) Notify(ctx context.Context, method string, params any) error {
	body, err := newRequest(method, params, nil)
	if err != nil {
		return err
	}
	return t.post(ctx, body)
}

func (t *SSETransport) post(ctx context.Context, body []byte) error {
	if !t.connected.Load() {
		return fmt.Errorf("not connected")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	applyHeaders(req, t.config.Headers)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", acceptHeader)
	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return statusError(resp.StatusCode, data)
	}
	return nil
}

// readEvents parses a Server-Sent Events stream, calling fn for each event
// until it returns false.
func readEvents(r io.Reader, fn func(event, data string) bool) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var event string
	var data []string
	dispatch := func() bool {
		if len(data) == 0 {
			event = ""
			return true
		}
		name := event
		if name == "" {
			name = "message"
		}
		cont := fn(name, strings.Join(data, "\n"))
		event, data = "", nil
		return cont
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if !dispatch() {
				return nil
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	dispatch()
	return nil
}
