package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vijoin/tero/internal/agent"
	"github.com/vijoin/tero/internal/auth"
	"github.com/vijoin/tero/internal/oauth"
	"github.com/vijoin/tero/internal/observability"
	"github.com/vijoin/tero/internal/storage"
	"github.com/vijoin/tero/internal/testsuite"
	"github.com/vijoin/tero/internal/tools"
	"github.com/vijoin/tero/internal/usage"
	"github.com/vijoin/tero/pkg/models"
)

const testUserID = "user-1"

var testModel = &models.LLMModel{
	ID:                   "test-model",
	Vendor:               models.VendorOpenAI,
	TokenLimit:           100000,
	OutputTokenLimit:     1000,
	Prompt1KTokenUSD:     1,
	Completion1KTokenUSD: 2,
}

// replyProvider answers every call with text.
type replyProvider struct {
	text string
}

func (p *replyProvider) Name() string { return "fake" }

func (p *replyProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	ch := make(chan *agent.CompletionChunk, 2)
	ch <- &agent.CompletionChunk{Text: p.text}
	ch <- &agent.CompletionChunk{Done: true, InputTokens: 100, OutputTokens: 10}
	close(ch)
	return ch, nil
}

// hangingProvider sends a fragment and then waits for its context. started
// is closed on the first call.
type hangingProvider struct {
	once    sync.Once
	started chan struct{}
}

func (p *hangingProvider) Name() string { return "hanging" }

func (p *hangingProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	p.once.Do(func() { close(p.started) })
	ch := make(chan *agent.CompletionChunk, 1)
	ch <- &agent.CompletionChunk{Text: "partial"}
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

// plainTool needs an apiKey and no authorization.
type plainTool struct {
	tools.Base
}

func newPlainTool() tools.Tool {
	return &plainTool{Base: tools.NewBase("plain", "Plain", "plain tool", map[string]any{
		"type":       "object",
		"properties": map[string]any{"apiKey": map[string]any{"type": "string"}},
		"required":   []any{"apiKey"},
	})}
}

func (t *plainTool) Setup(ctx context.Context, prev *models.ToolConfig) (map[string]any, error) {
	if err := t.ValidateConfig(); err != nil {
		return nil, err
	}
	return t.Config(), nil
}

func (t *plainTool) Load(ctx context.Context) (tools.Handle, error) {
	return tools.NewStaticHandle(func() {}), nil
}

// gatedTool requires an authorization code exchanged through the callback
// before it can be set up or loaded. The code "bad" is rejected.
type gatedTool struct {
	tools.Base
}

func newGatedTool() tools.Tool {
	return &gatedTool{Base: tools.NewBase("gated", "Gated", "tool behind oauth", nil)}
}

func (t *gatedTool) authorized(ctx context.Context) bool {
	env := t.Env()
	v, err := env.Stores.ToolData.Get(ctx, env.Agent.ID, t.ID(), "code")
	return err == nil && v != ""
}

func (t *gatedTool) requireAuth(ctx context.Context) error {
	env := t.Env()
	state := &models.OAuthState{UserID: env.UserID, AgentID: env.Agent.ID, ToolID: t.ID(), State: "state-1"}
	if err := env.Stores.OAuth.SaveState(ctx, state); err != nil {
		return err
	}
	return &tools.AuthorizationRequiredError{AuthURL: "https://idp.example/authorize?state=state-1", State: "state-1"}
}

func (t *gatedTool) Setup(ctx context.Context, prev *models.ToolConfig) (map[string]any, error) {
	if !t.authorized(ctx) {
		return nil, t.requireAuth(ctx)
	}
	return t.Config(), nil
}

func (t *gatedTool) Load(ctx context.Context) (tools.Handle, error) {
	if !t.authorized(ctx) {
		return nil, t.requireAuth(ctx)
	}
	return tools.NewStaticHandle(func() {}), nil
}

func (t *gatedTool) AuthCallback(ctx context.Context, params tools.CallbackParams, state *models.OAuthState) error {
	if params.Code == "bad" {
		return &oauth.CallbackError{Cause: errors.New("invalid_grant")}
	}
	env := t.Env()
	return env.Stores.ToolData.Put(ctx, env.Agent.ID, t.ID(), "code", params.Code)
}

type fixture struct {
	server  *Server
	handler http.Handler
	stores  storage.StoreSet
	cancels *agent.CancelRegistry
	metrics *observability.Metrics
	token   string
	agent   *models.Agent
}

func newFixture(t *testing.T, provider agent.LLMProvider) *fixture {
	t.Helper()
	ctx := context.Background()
	stores := storage.NewMemoryStores()

	catalog := tools.NewCatalog()
	catalog.Register(newPlainTool)
	catalog.Register(newGatedTool)
	configs := tools.NewConfigService(catalog, stores, nil)
	configs.SetFrontendURL("https://tero.example")

	metrics := observability.NewMetrics(nil)
	engine := agent.NewEngine(agent.Config{
		Tools:     configs,
		Providers: agent.Providers{models.VendorOpenAI: provider},
		Models:    map[string]*models.LLMModel{testModel.ID: testModel},
		Recorder:  usage.NewRecorder(stores.Usage),
		Guard:     usage.NewGuard(stores.Users, stores.Usage, 0),
		Generator: agent.ModelChoice{ModelID: testModel.ID},
		Observer:  metrics,
	})
	runner := testsuite.NewRunner(testsuite.Config{
		Engine:    engine,
		Threads:   stores.Threads,
		Suites:    stores.TestSuites,
		Recorder:  usage.NewRecorder(stores.Usage),
		Evaluator: agent.ModelChoice{ModelID: testModel.ID},
		Metrics:   metrics,
	})

	jwtService := auth.NewJWTService("0123456789abcdef-secret", "tero", time.Hour)
	token, err := jwtService.Generate(testUserID, "alice")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	ag := &models.Agent{ID: "agent-1", Name: "Helper", ModelID: testModel.ID, OwnerID: testUserID}
	if err := stores.Agents.Create(ctx, ag); err != nil {
		t.Fatalf("create agent: %v", err)
	}

	cancels := agent.NewCancelRegistry()
	s := New(Config{
		Stores:  stores,
		Engine:  engine,
		Tools:   configs,
		OAuth:   oauth.NewCoordinator(stores, configs, nil),
		Runner:  runner,
		Cancels: cancels,
		Auth:    auth.NewAuthenticator(jwtService, stores.Users, 0, nil),
		Metrics: metrics,
	})
	return &fixture{
		server:  s,
		handler: s.Handler(),
		stores:  stores,
		cancels: cancels,
		metrics: metrics,
		token:   token,
		agent:   ag,
	}
}

func (f *fixture) request(method, path string, body any) *http.Request {
	var reader io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+f.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, f.request(method, path, body))
	return rec
}

func (f *fixture) newThread(t *testing.T) *models.Thread {
	t.Helper()
	thread := &models.Thread{AgentID: f.agent.ID, UserID: testUserID}
	if err := f.stores.Threads.Create(context.Background(), thread); err != nil {
		t.Fatalf("create thread: %v", err)
	}
	return thread
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
}

type sseEvent struct {
	name string
	data string
}

func parseEvents(body string) []sseEvent {
	var out []sseEvent
	for _, block := range strings.Split(body, "\n\n") {
		if strings.TrimSpace(block) == "" {
			continue
		}
		var ev sseEvent
		var data []string
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "event: "):
				ev.name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = append(data, strings.TrimPrefix(line, "data: "))
			}
		}
		ev.data = strings.Join(data, "\n")
		out = append(out, ev)
	}
	return out
}

func eventNames(events []sseEvent) []string {
	names := make([]string, len(events))
	for i, ev := range events {
		names[i] = ev.name
	}
	return names
}

func TestHealthzAndMetrics(t *testing.T) {
	f := newFixture(t, &replyProvider{text: "hi"})

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `tero_http_requests_total{method="GET",route="GET /healthz",status_code="200"} 1`) {
		t.Errorf("metrics missing healthz request:\n%s", rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "tero_active_answers 0") {
		t.Errorf("metrics missing active answers gauge:\n%s", rec.Body.String())
	}
	if rec.Header().Get(requestIDHeader) == "" {
		t.Error("missing request id header")
	}
}

func TestAPIRequiresBearerToken(t *testing.T) {
	f := newFixture(t, &replyProvider{text: "hi"})

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/tools", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/api/tools", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("authenticated status = %d, want 200", rec.Code)
	}
	var descriptors []tools.Descriptor
	decodeBody(t, rec, &descriptors)
	if len(descriptors) != 2 {
		t.Errorf("descriptors = %d, want 2", len(descriptors))
	}
}

func TestConfigureTool(t *testing.T) {
	tests := []struct {
		name       string
		agentID    string
		body       toolConfigRequest
		wantStatus int
		wantError  string
	}{
		{
			name:       "saved",
			agentID:    "agent-1",
			body:       toolConfigRequest{ToolID: "plain", Config: map[string]any{"apiKey": "k"}},
			wantStatus: http.StatusOK,
		},
		{
			name:       "invalid config",
			agentID:    "agent-1",
			body:       toolConfigRequest{ToolID: "plain", Config: map[string]any{}},
			wantStatus: http.StatusBadRequest,
			wantError:  "Invalid tool configuration",
		},
		{
			name:       "unknown tool",
			agentID:    "agent-1",
			body:       toolConfigRequest{ToolID: "nope", Config: map[string]any{}},
			wantStatus: http.StatusBadRequest,
			wantError:  "Invalid tool id",
		},
		{
			name:       "unknown agent",
			agentID:    "agent-2",
			body:       toolConfigRequest{ToolID: "plain", Config: map[string]any{"apiKey": "k"}},
			wantStatus: http.StatusNotFound,
			wantError:  "Agent not found",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, &replyProvider{text: "hi"})
			rec := f.do(t, http.MethodPost, "/api/agents/"+tt.agentID+"/tools", tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantError != "" {
				var resp errorResponse
				decodeBody(t, rec, &resp)
				if resp.Error != tt.wantError {
					t.Errorf("error = %q, want %q", resp.Error, tt.wantError)
				}
			}
		})
	}
}

func TestToolLifecycleOverHTTP(t *testing.T) {
	f := newFixture(t, &replyProvider{text: "hi"})

	rec := f.do(t, http.MethodPost, "/api/agents/agent-1/tools", toolConfigRequest{ToolID: "plain", Config: map[string]any{"apiKey": "k"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("configure status = %d", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/api/agents/agent-1/tools", nil)
	var listed []toolConfigResponse
	decodeBody(t, rec, &listed)
	if len(listed) != 1 || listed[0].ToolID != "plain" {
		t.Fatalf("listed = %+v", listed)
	}

	rec = f.do(t, http.MethodDelete, "/api/agents/agent-1/tools/plain", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = f.do(t, http.MethodDelete, "/api/agents/agent-1/tools/plain", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want 404", rec.Code)
	}
}

func TestOAuthCallbackFlow(t *testing.T) {
	f := newFixture(t, &replyProvider{text: "hi"})
	configure := func() {
		t.Helper()
		rec := f.do(t, http.MethodPost, "/api/agents/agent-1/tools", toolConfigRequest{ToolID: "gated", Config: map[string]any{}})
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("configure status = %d, want 401", rec.Code)
		}
		var resp authorizationResponse
		decodeBody(t, rec, &resp)
		if resp.OAuthState != "state-1" || !strings.HasPrefix(resp.OAuthURL, "https://idp.example/authorize") {
			t.Fatalf("authorization response = %+v", resp)
		}
	}

	configure()
	rec := f.do(t, http.MethodGet, "/api/tools/gated/oauth-callback?state=state-1", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("cancelled status = %d, want 400", rec.Code)
	}

	configure()
	rec = f.do(t, http.MethodGet, "/api/tools/gated/oauth-callback?code=bad&state=state-1", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("rejected code status = %d, want 401", rec.Code)
	}

	configure()
	rec = f.do(t, http.MethodPost, "/api/tools/gated/oauth-callback", tools.CallbackParams{Code: "good", State: "state-1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("callback status = %d: %s", rec.Code, rec.Body.String())
	}
	cfg, err := f.stores.ToolConfigs.Find(context.Background(), "agent-1", "gated", false)
	if err != nil || cfg.Draft {
		t.Fatalf("active config = %+v, %v", cfg, err)
	}

	rec = f.do(t, http.MethodGet, "/api/tools/gated/oauth-callback?code=good&state=state-1", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("replayed state status = %d, want 400", rec.Code)
	}
	rec = f.do(t, http.MethodGet, "/api/tools/missing/oauth-callback?code=good&state=state-1", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown tool status = %d, want 404", rec.Code)
	}
}

func TestAddMessageStreamsAnswer(t *testing.T) {
	f := newFixture(t, &replyProvider{text: "Hello there"})

	rec := f.do(t, http.MethodPost, "/api/threads", createThreadRequest{AgentID: "agent-1"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create thread status = %d", rec.Code)
	}
	var thread models.Thread
	decodeBody(t, rec, &thread)

	rec = f.do(t, http.MethodPost, "/api/threads/"+thread.ID+"/messages", messageRequest{Text: "Hi!"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}
	events := parseEvents(rec.Body.String())
	names := eventNames(events)
	if len(events) < 3 || names[0] != "userMessage" || names[len(names)-1] != "metadata" {
		t.Fatalf("events = %v", names)
	}
	var answer strings.Builder
	for _, ev := range events {
		if ev.name == "" {
			answer.WriteString(ev.data)
		}
	}
	if answer.String() != "Hello there" {
		t.Errorf("streamed answer = %q", answer.String())
	}
	var meta metadataEvent
	if err := json.Unmarshal([]byte(events[len(events)-1].data), &meta); err != nil {
		t.Fatalf("decode metadata: %v", err)
	}
	if meta.Stopped || meta.AnswerMessageID == "" {
		t.Errorf("metadata = %+v", meta)
	}

	ctx := context.Background()
	messages, err := f.stores.Threads.ListMessages(ctx, thread.ID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(messages) != 2 || messages[0].Origin != models.OriginUser || messages[1].Text != "Hello there" {
		t.Fatalf("messages = %+v", messages)
	}
	stored, _ := f.stores.Threads.Get(ctx, thread.ID)
	if stored.Name != "Hello there" {
		t.Errorf("thread name = %q", stored.Name)
	}
	records := f.stores.Usage.(*storage.MemoryUsageStore).List()
	if len(records) == 0 {
		t.Fatal("no usage recorded")
	}
	for _, r := range records {
		if r.MessageID != messages[0].ID {
			t.Errorf("usage message id = %q, want %q", r.MessageID, messages[0].ID)
		}
	}
}

func TestAddMessageRejectedBeforePersisting(t *testing.T) {
	tests := []struct {
		name       string
		prepare    func(t *testing.T, f *fixture)
		wantStatus int
	}{
		{
			name: "quota exceeded",
			prepare: func(t *testing.T, f *fixture) {
				ctx := context.Background()
				if err := f.stores.Users.Create(ctx, &models.User{ID: testUserID, Username: "alice", MonthlyUSDLimit: 1}); err != nil {
					t.Fatal(err)
				}
				if err := f.stores.Usage.Add(ctx, &models.Usage{UserID: testUserID, AgentID: "agent-1", USDCost: 2, Quantity: 1, Type: models.UsagePromptTokens, Timestamp: time.Now().UTC()}); err != nil {
					t.Fatal(err)
				}
			},
			wantStatus: http.StatusTooManyRequests,
		},
		{
			name: "tool authorization required",
			prepare: func(t *testing.T, f *fixture) {
				cfg := &models.ToolConfig{AgentID: "agent-1", ToolID: "gated", Config: map[string]any{}}
				if err := f.stores.ToolConfigs.Save(context.Background(), cfg); err != nil {
					t.Fatal(err)
				}
			},
			wantStatus: http.StatusUnauthorized,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, &replyProvider{text: "hi"})
			thread := f.newThread(t)
			tt.prepare(t, f)

			rec := f.do(t, http.MethodPost, "/api/threads/"+thread.ID+"/messages", messageRequest{Text: "Hi!"})
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			messages, _ := f.stores.Threads.ListMessages(context.Background(), thread.ID)
			if len(messages) != 0 {
				t.Errorf("persisted %d messages", len(messages))
			}
		})
	}
}

func TestAddMessageForeignThread(t *testing.T) {
	f := newFixture(t, &replyProvider{text: "hi"})
	thread := &models.Thread{AgentID: "agent-1", UserID: "someone-else"}
	if err := f.stores.Threads.Create(context.Background(), thread); err != nil {
		t.Fatal(err)
	}
	rec := f.do(t, http.MethodPost, "/api/threads/"+thread.ID+"/messages", messageRequest{Text: "Hi!"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestStopAnswer(t *testing.T) {
	provider := &hangingProvider{started: make(chan struct{})}
	f := newFixture(t, provider)
	thread := f.newThread(t)

	rec := f.do(t, http.MethodPost, "/api/threads/"+thread.ID+"/stop", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("idle stop status = %d, want 400", rec.Code)
	}

	// Earlier messages skip thread naming, which would hang as well.
	ctx := context.Background()
	for _, m := range []*models.Message{
		{ThreadID: thread.ID, Origin: models.OriginUser, Text: "first"},
		{ThreadID: thread.ID, Origin: models.OriginAgent, Text: "reply"},
	} {
		if err := f.stores.Threads.AddMessage(ctx, m); err != nil {
			t.Fatal(err)
		}
	}

	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	var (
		wg   sync.WaitGroup
		body string
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		req := f.request(http.MethodPost, srv.URL+"/api/threads/"+thread.ID+"/messages", messageRequest{Text: "again"})
		req.RequestURI = ""
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Errorf("post message: %v", err)
			return
		}
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		body = string(data)
	}()

	select {
	case <-provider.started:
	case <-time.After(5 * time.Second):
		t.Fatal("answer never started")
	}
	rec = f.do(t, http.MethodPost, "/api/threads/"+thread.ID+"/stop", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stop status = %d", rec.Code)
	}
	wg.Wait()

	events := parseEvents(body)
	if len(events) == 0 || events[len(events)-1].name != "metadata" {
		t.Fatalf("events = %v", eventNames(events))
	}
	var meta metadataEvent
	if err := json.Unmarshal([]byte(events[len(events)-1].data), &meta); err != nil {
		t.Fatal(err)
	}
	if !meta.Stopped {
		t.Error("answer not marked stopped")
	}
	messages, _ := f.stores.Threads.ListMessages(ctx, thread.ID)
	last := messages[len(messages)-1]
	if !last.Stopped || last.Origin != models.OriginAgent {
		t.Errorf("last message = %+v", last)
	}
}

func (f *fixture) addCase(t *testing.T) *models.TestCase {
	t.Helper()
	ctx := context.Background()
	thread := &models.Thread{AgentID: f.agent.ID, UserID: testUserID, IsTestCase: true}
	if err := f.stores.Threads.Create(ctx, thread); err != nil {
		t.Fatal(err)
	}
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, m := range []*models.Message{
		{ThreadID: thread.ID, Origin: models.OriginUser, Text: "What is 2+2?", Timestamp: base},
		{ThreadID: thread.ID, Origin: models.OriginAgent, Text: "4", Timestamp: base.Add(time.Second)},
	} {
		if err := f.stores.Threads.AddMessage(ctx, m); err != nil {
			t.Fatalf("add message %d: %v", i, err)
		}
	}
	tc := &models.TestCase{ThreadID: thread.ID, AgentID: f.agent.ID}
	if err := f.stores.TestSuites.CreateCase(ctx, tc); err != nil {
		t.Fatal(err)
	}
	return tc
}

func TestRunSuiteStreamsEvents(t *testing.T) {
	f := newFixture(t, &replyProvider{text: "Y"})

	rec := f.do(t, http.MethodPost, "/api/agents/agent-1/test-suite/runs", runSuiteRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("no cases status = %d, want 400", rec.Code)
	}

	f.addCase(t)
	rec = f.do(t, http.MethodPost, "/api/agents/agent-1/test-suite/runs", runSuiteRequest{})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	names := eventNames(parseEvents(rec.Body.String()))
	if len(names) < 2 || names[0] != string(testsuite.EventStart) || names[len(names)-1] != string(testsuite.EventComplete) {
		t.Fatalf("events = %v", names)
	}

	running, err := f.stores.TestSuites.ListRunning(context.Background(), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(running) != 0 {
		t.Errorf("%d runs left running", len(running))
	}

	rec = f.do(t, http.MethodPost, "/api/agents/agent-1/test-suite/runs", runSuiteRequest{TestCaseIDs: []string{"missing"}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unmatched selection status = %d, want 400", rec.Code)
	}
}

func TestRunSuiteConflict(t *testing.T) {
	f := newFixture(t, &replyProvider{text: "Y"})
	f.addCase(t)
	run := &models.TestSuiteRun{AgentID: "agent-1", Status: models.SuiteRunRunning, ExecutedAt: time.Now().UTC().Add(-time.Minute), TotalTests: 1}
	if err := f.stores.TestSuites.CreateRun(context.Background(), run); err != nil {
		t.Fatal(err)
	}
	rec := f.do(t, http.MethodPost, "/api/agents/agent-1/test-suite/runs", runSuiteRequest{})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestEventStreamSplitsLines(t *testing.T) {
	rec := httptest.NewRecorder()
	stream, err := startStream(rec, http.StatusOK)
	if err != nil {
		t.Fatal(err)
	}
	if err := stream.Send("", "line one\nline two"); err != nil {
		t.Fatal(err)
	}
	if err := stream.SendJSON("status", map[string]string{"action": "planning"}); err != nil {
		t.Fatal(err)
	}
	want := "data: line one\ndata: line two\n\nevent: status\ndata: {\"action\":\"planning\"}\n\n"
	if rec.Body.String() != want {
		t.Errorf("body = %q, want %q", rec.Body.String(), want)
	}
}

// brokenAgents fails every lookup.
type brokenAgents struct{}

func (brokenAgents) Create(ctx context.Context, agent *models.Agent) error {
	return errors.New("database unavailable")
}

func (brokenAgents) Get(ctx context.Context, id string) (*models.Agent, error) {
	return nil, errors.New("database unavailable")
}

func TestInternalErrorCarriesRequestID(t *testing.T) {
	f := newFixture(t, &replyProvider{text: "hi"})
	f.server.stores.Agents = brokenAgents{}

	req := f.request(http.MethodGet, "/api/agents/agent-1/tools", nil)
	req.Header.Set(requestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	var resp errorResponse
	decodeBody(t, rec, &resp)
	if resp.Error != "internal error" || resp.RequestID != "req-42" {
		t.Errorf("response = %+v", resp)
	}
}
