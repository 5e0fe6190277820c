package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vijoin/tero/internal/storage"
	"github.com/vijoin/tero/internal/tools"
	"github.com/vijoin/tero/internal/usage"
	"github.com/vijoin/tero/pkg/models"
)

// scriptedProvider replies to call n with responses[n], repeating the last.
type scriptedProvider struct {
	mu        sync.Mutex
	responses [][]*CompletionChunk
	requests  []*CompletionRequest
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	p.mu.Lock()
	n := len(p.requests)
	p.requests = append(p.requests, req)
	if n >= len(p.responses) {
		n = len(p.responses) - 1
	}
	resp := p.responses[n]
	p.mu.Unlock()

	ch := make(chan *CompletionChunk, len(resp))
	for _, c := range resp {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (p *scriptedProvider) calls() []*CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*CompletionRequest(nil), p.requests...)
}

func text(s string) *CompletionChunk { return &CompletionChunk{Text: s} }

func call(id, name, input string) *CompletionChunk {
	return &CompletionChunk{ToolCall: &models.ToolCall{ID: id, Name: name, Input: []byte(input)}}
}

func done(in, out int) *CompletionChunk {
	return &CompletionChunk{Done: true, InputTokens: in, OutputTokens: out}
}

// staticTool is a configured tool exposing fixed actions.
type staticTool struct {
	tools.Base
	actions  []tools.Action
	released *bool
}

func (t *staticTool) Setup(ctx context.Context, prev *models.ToolConfig) (map[string]any, error) {
	return t.Config(), nil
}

func (t *staticTool) Load(ctx context.Context) (tools.Handle, error) {
	return tools.NewStaticHandle(func() {
		if t.released != nil {
			*t.released = true
		}
	}, t.actions...), nil
}

type toolSourceFunc func(ctx context.Context, agent *models.Agent, userID, threadID string, model *models.LLMModel) ([]tools.Tool, error)

func (f toolSourceFunc) ForTurn(ctx context.Context, agent *models.Agent, userID, threadID string, model *models.LLMModel) ([]tools.Tool, error) {
	return f(ctx, agent, userID, threadID, model)
}

type echoParams struct {
	Text string `json:"text"`
}

func echoAction() tools.Action {
	return tools.NewFuncAction("echo", "Echoes text.", func(ctx context.Context, p echoParams) (*tools.Result, error) {
		return &tools.Result{
			Content: "echoed: " + p.Text,
			Usage:   &usage.ToolUsage{Type: models.UsageWebSearch, Quantity: 1, CostPer1KUnits: 5},
		}, nil
	})
}

var testModel = &models.LLMModel{
	ID:                   "test-model",
	Vendor:               models.VendorOpenAI,
	TokenLimit:           100000,
	OutputTokenLimit:     1000,
	Prompt1KTokenUSD:     1,
	Completion1KTokenUSD: 2,
}

var testAgent = &models.Agent{ID: "agent-1", Name: "Helper", SystemPrompt: "Be helpful.", ModelID: "test-model"}

type fixture struct {
	engine   *Engine
	provider LLMProvider
	usage    *storage.MemoryUsageStore
	released bool
}

func newFixture(t *testing.T, provider LLMProvider, actions ...tools.Action) *fixture {
	t.Helper()
	f := &fixture{provider: provider, usage: storage.NewMemoryUsageStore()}
	source := toolSourceFunc(func(ctx context.Context, agent *models.Agent, userID, threadID string, model *models.LLMModel) ([]tools.Tool, error) {
		if len(actions) == 0 {
			return nil, nil
		}
		return []tools.Tool{&staticTool{Base: tools.NewBase("static", "Static", "", nil), actions: actions, released: &f.released}}, nil
	})
	f.engine = NewEngine(Config{
		Tools:     source,
		Providers: Providers{models.VendorOpenAI: provider},
		Models:    map[string]*models.LLMModel{testModel.ID: testModel},
		Recorder:  usage.NewRecorder(f.usage),
		Generator: ModelChoice{ModelID: testModel.ID},
	})
	f.engine.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	return f
}

func history(text string) []*models.Message {
	return []*models.Message{{ID: "m1", ThreadID: "t1", Origin: models.OriginUser, Text: text}}
}

func drainEvents(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("answer did not finish")
		}
	}
}

func describe(events []Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		switch e := ev.(type) {
		case ActionEvent:
			out[i] = "status:" + string(e.Action)
		case MessageEvent:
			out[i] = "message:" + e.Content
		default:
			out[i] = ev.Kind()
		}
	}
	return out
}

func TestAnswerRunsToolsAndStreamsText(t *testing.T) {
	provider := &scriptedProvider{responses: [][]*CompletionChunk{
		{text("Checking"), call("c1", "echo", `{"text":"hi"}`), done(10, 5)},
		{text("Done"), done(20, 3)},
	}}
	f := newFixture(t, provider, echoAction())

	mu := usage.NewMessageUsage("u1", testAgent.ID, testModel.ID, "m1")
	events := drainEvents(t, f.engine.Answer(context.Background(), AnswerRequest{
		Agent: testAgent, UserID: "u1", ThreadID: "t1", Messages: history("say hi"), Usage: mu,
	}))

	want := []string{
		"status:preModelHook",
		"message:Checking",
		"status:planning",
		"status:executingTool",
		"status:executedTool",
		"status:preModelHook",
		"message:Done",
	}
	if got := describe(events); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("events = %v, want %v", got, want)
	}
	if got := events[4].(ActionEvent).Result; got != "echoed: hi" {
		t.Errorf("executedTool result = %v", got)
	}

	reqs := provider.calls()
	if len(reqs) != 2 {
		t.Fatalf("model calls = %d, want 2", len(reqs))
	}
	second := reqs[1].Messages
	if len(second) != 3 {
		t.Fatalf("second call messages = %d, want 3", len(second))
	}
	if second[1].Role != RoleAssistant || len(second[1].ToolCalls) != 1 || second[1].Content != "Checking" {
		t.Errorf("assistant turn = %+v", second[1])
	}
	if second[2].Role != RoleTool || second[2].ToolResults[0].Content != "echoed: hi" || second[2].ToolResults[0].ToolCallID != "c1" {
		t.Errorf("tool turn = %+v", second[2])
	}

	var names []string
	for _, s := range reqs[0].Tools {
		names = append(names, s.Name)
	}
	if strings.Join(names, ",") != "echo,clock" {
		t.Errorf("tools = %v, want echo and clock", names)
	}

	if !f.released {
		t.Error("tools were not released")
	}
	if prompt, completion := mu.Tokens(); prompt != 30 || completion != 8 {
		t.Errorf("tokens = %d/%d, want 30/8", prompt, completion)
	}
	records := f.usage.List()
	if len(records) != 3 {
		t.Fatalf("recorded usage = %d records, want 3", len(records))
	}
}

func TestAnswerReportsUnknownTool(t *testing.T) {
	provider := &scriptedProvider{responses: [][]*CompletionChunk{
		{call("c1", "missing", `{}`), done(1, 1)},
		{text("Sorry"), done(1, 1)},
	}}
	f := newFixture(t, provider)

	events := drainEvents(t, f.engine.Answer(context.Background(), AnswerRequest{
		Agent: testAgent, UserID: "u1", ThreadID: "t1", Messages: history("go"),
	}))

	var toolErr *ActionEvent
	for _, ev := range events {
		if e, ok := ev.(ActionEvent); ok && e.Action == ActionToolError {
			toolErr = &e
		}
		if _, ok := ev.(ErrorEvent); ok {
			t.Fatalf("unexpected error event %v", ev)
		}
	}
	if toolErr == nil || toolErr.ToolName != "missing" {
		t.Fatalf("toolError event = %+v", toolErr)
	}
	result := provider.calls()[1].Messages[2].ToolResults[0]
	if !result.IsError || result.Content != "tool missing not found" {
		t.Errorf("tool result = %+v", result)
	}
}

func TestAnswerClockAction(t *testing.T) {
	provider := &scriptedProvider{responses: [][]*CompletionChunk{
		{call("c1", "clock", ``), done(1, 1)},
		{text("It is noon"), done(1, 1)},
	}}
	f := newFixture(t, provider)

	drainEvents(t, f.engine.Answer(context.Background(), AnswerRequest{
		Agent: testAgent, UserID: "u1", ThreadID: "t1", Messages: history("time?"),
	}))

	result := provider.calls()[1].Messages[2].ToolResults[0]
	if result.Content != "2025-03-01T12:00:00Z." {
		t.Errorf("clock = %q", result.Content)
	}
}

func TestAnswerStopsAfterMaxIterations(t *testing.T) {
	provider := &scriptedProvider{responses: [][]*CompletionChunk{
		{call("c", "clock", `{}`), done(1, 1)},
	}}
	f := newFixture(t, provider)
	f.engine.maxIterations = 2

	events := drainEvents(t, f.engine.Answer(context.Background(), AnswerRequest{
		Agent: testAgent, UserID: "u1", ThreadID: "t1", Messages: history("loop"),
	}))

	last, ok := events[len(events)-1].(ErrorEvent)
	if !ok {
		t.Fatalf("last event = %#v, want ErrorEvent", events[len(events)-1])
	}
	if !errors.Is(last.Err, ErrMaxIterations) {
		t.Errorf("error = %v, want ErrMaxIterations", last.Err)
	}
	var loopErr *LoopError
	if !errors.As(last.Err, &loopErr) || loopErr.Phase != PhaseExecuteTools {
		t.Errorf("error = %v, want execute_tools LoopError", last.Err)
	}
	if got := len(provider.calls()); got != 3 {
		t.Errorf("model calls = %d, want 3", got)
	}
}

// hangingProvider streams one fragment and then waits for cancellation.
type hangingProvider struct{ cancelled chan struct{} }

func (p *hangingProvider) Name() string { return "hanging" }

func (p *hangingProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	ch := make(chan *CompletionChunk)
	go func() {
		defer close(ch)
		select {
		case ch <- text("Partial"):
		case <-ctx.Done():
			return
		}
		<-ctx.Done()
		close(p.cancelled)
	}()
	return ch, nil
}

func TestAnswerStopApproximatesUsage(t *testing.T) {
	provider := &hangingProvider{cancelled: make(chan struct{})}
	f := newFixture(t, provider)
	stop := make(chan struct{})
	mu := usage.NewMessageUsage("u1", testAgent.ID, testModel.ID, "m1")

	events := f.engine.Answer(context.Background(), AnswerRequest{
		Agent: testAgent, UserID: "u1", ThreadID: "t1", Messages: history("long question"), Usage: mu, Stop: stop,
	})
	var got []Event
	for ev := range events {
		got = append(got, ev)
		if m, ok := ev.(MessageEvent); ok && m.Content == "Partial" {
			close(stop)
		}
		if _, ok := ev.(ErrorEvent); ok {
			t.Fatalf("unexpected error event %v", ev)
		}
	}

	select {
	case <-provider.cancelled:
	case <-time.After(5 * time.Second):
		t.Fatal("model call was not cancelled")
	}
	prompt, completion := mu.Tokens()
	if prompt == 0 || completion == 0 {
		t.Errorf("tokens = %d/%d, want estimates", prompt, completion)
	}
	if len(f.usage.List()) == 0 {
		t.Error("usage was not recorded")
	}
}

func TestBeginPropagatesAuthorization(t *testing.T) {
	authErr := &tools.AuthorizationRequiredError{AuthURL: "https://auth.example.com", State: "s"}
	e := NewEngine(Config{
		Tools: toolSourceFunc(func(context.Context, *models.Agent, string, string, *models.LLMModel) ([]tools.Tool, error) {
			return nil, authErr
		}),
		Providers: Providers{models.VendorOpenAI: &scriptedProvider{}},
		Models:    map[string]*models.LLMModel{testModel.ID: testModel},
	})

	_, err := e.Begin(context.Background(), testAgent, "u1", "t1")
	got, ok := tools.AsAuthorizationRequired(err)
	if !ok || got.AuthURL != authErr.AuthURL {
		t.Fatalf("Begin() error = %v, want authorization signal", err)
	}
}

func TestAnswerUnknownModel(t *testing.T) {
	e := NewEngine(Config{})
	agent := &models.Agent{ID: "a", ModelID: "nope"}

	events := drainEvents(t, e.Answer(context.Background(), AnswerRequest{Agent: agent, Messages: history("hi")}))
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	ev, ok := events[0].(ErrorEvent)
	if !ok || !errors.Is(ev.Err, ErrUnknownModel) {
		t.Fatalf("event = %#v, want unknown model error", events[0])
	}
	var loopErr *LoopError
	if !errors.As(ev.Err, &loopErr) || loopErr.Phase != PhaseInit {
		t.Errorf("error = %v, want init LoopError", ev.Err)
	}
}

func TestBuildThreadName(t *testing.T) {
	long := strings.Repeat("a", 100)
	tests := []struct {
		name  string
		reply string
		want  string
	}{
		{name: "plain", reply: "Weather in Paris", want: "Weather in Paris"},
		{name: "newlines", reply: "Weather\nin Paris\n", want: "Weather in Paris"},
		{name: "truncated", reply: long, want: long[:MaxThreadNameLength]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &scriptedProvider{responses: [][]*CompletionChunk{{text(tt.reply), done(7, 4)}}}
			f := newFixture(t, provider)
			mu := usage.NewMessageUsage("u1", testAgent.ID, testModel.ID, "m1")

			got, err := f.engine.BuildThreadName(context.Background(), "what's the weather in Paris?", mu)
			if err != nil {
				t.Fatalf("BuildThreadName() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("name = %q, want %q", got, tt.want)
			}
			if prompt, completion := mu.Tokens(); prompt != 7 || completion != 4 {
				t.Errorf("tokens = %d/%d", prompt, completion)
			}
			req := provider.calls()[0]
			if req.System != threadNamePrompt || len(req.Tools) != 0 {
				t.Errorf("request = %+v", req)
			}
		})
	}
}

func TestBuildThreadNameWithoutGenerator(t *testing.T) {
	e := NewEngine(Config{})
	if _, err := e.BuildThreadName(context.Background(), "hi", nil); err == nil {
		t.Fatal("expected error without generator model")
	}
}
