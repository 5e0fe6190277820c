package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// fakeServer answers initialize, tools/list and tools/call.
type fakeServer struct {
	mu       sync.Mutex
	methods  []string
	sessions []string
	accepts  []string
	auth     []string
}

func (f *fakeServer) handle(req JSONRPCRequest) (any, *JSONRPCError) {
	f.mu.Lock()
	f.methods = append(f.methods, req.Method)
	f.mu.Unlock()
	switch req.Method {
	case "initialize":
		return map[string]any{
			"protocolVersion": ProtocolVersion,
			"serverInfo":      map[string]any{"name": "fake", "version": "1.0"},
		}, nil
	case "tools/list":
		var params struct {
			Cursor string `json:"cursor"`
		}
		_ = json.Unmarshal(req.Params, &params)
		if params.Cursor == "" {
			return map[string]any{
				"tools":      []map[string]any{{"name": "search", "inputSchema": map[string]any{"type": "object"}}},
				"nextCursor": "page-2",
			}, nil
		}
		return map[string]any{"tools": []map[string]any{{"name": "fetch", "inputSchema": map[string]any{"type": "object"}}}}, nil
	case "tools/call":
		var params CallToolParams
		_ = json.Unmarshal(req.Params, &params)
		if params.Name == "broken" {
			return nil, &JSONRPCError{Code: -32602, Message: "unknown tool"}
		}
		return map[string]any{"content": []map[string]any{{"type": "text", "text": "called " + params.Name + " " + string(params.Arguments)}}}, nil
	}
	return nil, &JSONRPCError{Code: -32601, Message: "method not found"}
}

func (f *fakeServer) record(r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, r.Header.Get(sessionHeader))
	f.accepts = append(f.accepts, r.Header.Get("Accept"))
	f.auth = append(f.auth, r.Header.Get("Authorization"))
}

func encodeResponse(id any, result any, rpcErr *JSONRPCError) []byte {
	resp := map[string]any{"jsonrpc": "2.0", "id": id}
	if rpcErr != nil {
		resp["error"] = rpcErr
	} else {
		resp["result"] = result
	}
	data, _ := json.Marshal(resp)
	return data
}

// streamableHandler answers tools/call over an event stream and everything
// else with plain JSON.
func (f *fakeServer) streamableHandler(w http.ResponseWriter, r *http.Request) {
	f.record(r)
	if r.Method == http.MethodDelete {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Header.Get("Authorization") != "Bearer good" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	var req JSONRPCRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.ID == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	result, rpcErr := f.handle(req)
	w.Header().Set(sessionHeader, "session-1")
	if req.Method == "tools/call" {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "event: message\ndata: {\"jsonrpc\":\"2.0\",\"method\":\"notifications/progress\"}\n\n")
		fmt.Fprintf(w, "event: message\ndata: %s\n\n", encodeResponse(req.ID, result, rpcErr))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(encodeResponse(req.ID, result, rpcErr))
}

func newStreamableClient(t *testing.T, token string) (*Client, *fakeServer) {
	t.Helper()
	fake := &fakeServer{}
	srv := httptest.NewServer(http.HandlerFunc(fake.streamableHandler))
	t.Cleanup(srv.Close)
	cfg := &ServerConfig{URL: srv.URL + "/mcp", Headers: http.Header{"Authorization": {"Bearer " + token}}}
	return NewClient(cfg, srv.Client(), nil), fake
}

func TestClient_Streamable(t *testing.T) {
	ctx := context.Background()
	client, fake := newStreamableClient(t, "good")
	if err := client.Connect(ctx, "test"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if client.ServerInfo().Name != "fake" {
		t.Errorf("ServerInfo() = %+v", client.ServerInfo())
	}

	tools, err := client.ListTools(ctx)
	if err != nil {
		t.Fatalf("ListTools() error = %v", err)
	}
	if len(tools) != 2 || tools[0].Name != "search" || tools[1].Name != "fetch" {
		t.Errorf("ListTools() = %+v", tools)
	}

	res, err := client.CallTool(ctx, "search", json.RawMessage(`{"q":"go"}`))
	if err != nil {
		t.Fatalf("CallTool() error = %v", err)
	}
	if got := res.Text(); got != `called search {"q":"go"}` {
		t.Errorf("CallTool() text = %q", got)
	}

	_, err = client.CallTool(ctx, "broken", nil)
	var rpcErr *JSONRPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != -32602 {
		t.Errorf("CallTool(broken) error = %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	wantMethods := []string{"initialize", "tools/list", "tools/list", "tools/call", "tools/call"}
	if strings.Join(fake.methods, ",") != strings.Join(wantMethods, ",") {
		t.Errorf("methods = %v, want %v", fake.methods, wantMethods)
	}
	if fake.sessions[0] != "" {
		t.Errorf("initialize carried session %q", fake.sessions[0])
	}
	for i, s := range fake.sessions[1:] {
		if s != "session-1" {
			t.Errorf("request %d session = %q, want session-1", i+1, s)
		}
	}
	for _, a := range fake.accepts[:len(fake.accepts)-1] {
		if a != acceptHeader {
			t.Errorf("Accept = %q, want %q", a, acceptHeader)
		}
	}
}

func TestClient_Unauthorized(t *testing.T) {
	client, _ := newStreamableClient(t, "bad")
	err := client.Connect(context.Background(), "test")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("Connect() error = %v, want ErrUnauthorized", err)
	}
}

func TestClient_SSE(t *testing.T) {
	fake := &fakeServer{}
	events := make(chan []byte, 10)
	mux := http.NewServeMux()
	mux.HandleFunc("/sse", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprintf(w, "event: endpoint\ndata: /messages?session=abc\n\n")
		flusher.Flush()
		for {
			select {
			case msg := <-events:
				fmt.Fprintf(w, "event: message\ndata: %s\n\n", msg)
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
	mux.HandleFunc("/messages", func(w http.ResponseWriter, r *http.Request) {
		fake.record(r)
		if r.URL.Query().Get("session") != "abc" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(r.Body)
		var req JSONRPCRequest
		_ = json.Unmarshal(data, &req)
		w.WriteHeader(http.StatusAccepted)
		if req.ID == nil {
			return
		}
		result, rpcErr := fake.handle(req)
		events <- encodeResponse(req.ID, result, rpcErr)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	ctx := context.Background()
	client := NewClient(&ServerConfig{URL: srv.URL + "/sse"}, srv.Client(), nil)
	if err := client.Connect(ctx, "test"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	res, err := client.CallTool(ctx, "fetch", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("CallTool() error = %v", err)
	}
	if got := res.Text(); got != "called fetch {}" {
		t.Errorf("CallTool() text = %q", got)
	}
}

func TestDetectTransport(t *testing.T) {
	tests := []struct {
		url  string
		want TransportType
	}{
		{"https://example.com/sse", TransportSSE},
		{"https://example.com/sse/", TransportSSE},
		{"https://example.com/mcp", TransportStreamable},
		{"https://example.com/ssex", TransportStreamable},
	}
	for _, tt := range tests {
		if got := DetectTransport(tt.url); got != tt.want {
			t.Errorf("DetectTransport(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestReadEvents(t *testing.T) {
	stream := ": comment\nevent: endpoint\ndata: /a\n\ndata: line1\ndata: line2\n\ndata: tail"
	var got []string
	if err := readEvents(strings.NewReader(stream), func(event, data string) bool {
		got = append(got, event+"="+data)
		return true
	}); err != nil {
		t.Fatalf("readEvents() error = %v", err)
	}
	want := []string{"endpoint=/a", "message=line1\nline2", "message=tail"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("readEvents() = %q, want %q", got, want)
	}
}
