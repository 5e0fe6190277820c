package testsuite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vijoin/tero/internal/agent"
	"github.com/vijoin/tero/internal/storage"
	"github.com/vijoin/tero/internal/usage"
	"github.com/vijoin/tero/pkg/models"
)

// judgeProvider answers turns with answer and judge prompts with verdict.
type judgeProvider struct {
	answer  string
	verdict string
	fail    bool
}

func (p *judgeProvider) Name() string { return "fake" }

func (p *judgeProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	ch := make(chan *agent.CompletionChunk, 2)
	switch {
	case req.System == judgeSystemPrompt:
		ch <- &agent.CompletionChunk{Text: p.verdict}
	case p.fail:
		ch <- &agent.CompletionChunk{Error: errors.New("model unavailable")}
	default:
		ch <- &agent.CompletionChunk{Text: p.answer}
	}
	ch <- &agent.CompletionChunk{Done: true, InputTokens: 10, OutputTokens: 2}
	close(ch)
	return ch, nil
}

var model = &models.LLMModel{ID: "m", Vendor: models.VendorOpenAI, TokenLimit: 10000, OutputTokenLimit: 100, Prompt1KTokenUSD: 1}

var testAgent = &models.Agent{ID: "agent-1", ModelID: "m", SystemPrompt: "Answer briefly."}

type fixture struct {
	runner *Runner
	stores storage.StoreSet
	usage  *storage.MemoryUsageStore
}

func newFixture(t *testing.T, provider agent.LLMProvider) *fixture {
	t.Helper()
	stores := storage.NewMemoryStores()
	usageStore := storage.NewMemoryUsageStore()
	engine := agent.NewEngine(agent.Config{
		Providers: agent.Providers{models.VendorOpenAI: provider},
		Models:    map[string]*models.LLMModel{model.ID: model},
	})
	return &fixture{
		stores: stores,
		usage:  usageStore,
		runner: NewRunner(Config{
			Engine:    engine,
			Threads:   stores.Threads,
			Suites:    stores.TestSuites,
			Recorder:  usage.NewRecorder(usageStore),
			Evaluator: agent.ModelChoice{ModelID: model.ID},
		}),
	}
}

func (f *fixture) addCase(t *testing.T, messages ...string) *models.TestCase {
	t.Helper()
	ctx := context.Background()
	thread := &models.Thread{AgentID: testAgent.ID, UserID: "u1", IsTestCase: true}
	if err := f.stores.Threads.Create(ctx, thread); err != nil {
		t.Fatalf("create thread: %v", err)
	}
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, text := range messages {
		origin := models.OriginUser
		if i%2 == 1 {
			origin = models.OriginAgent
		}
		msg := &models.Message{ThreadID: thread.ID, Origin: origin, Text: text, Timestamp: base.Add(time.Duration(i) * time.Second)}
		if err := f.stores.Threads.AddMessage(ctx, msg); err != nil {
			t.Fatalf("add message: %v", err)
		}
	}
	tc := &models.TestCase{ThreadID: thread.ID, AgentID: testAgent.ID}
	if err := f.stores.TestSuites.CreateCase(ctx, tc); err != nil {
		t.Fatalf("create case: %v", err)
	}
	return tc
}

func collect(t *testing.T, events <-chan Event) []Event {
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
			t.Fatal("suite did not finish")
		}
	}
}

func statuses(t *testing.T, f *fixture, runID string, cases []*models.TestCase) []models.TestCaseStatus {
	t.Helper()
	results, err := f.stores.TestSuites.ListResults(context.Background(), runID)
	if err != nil {
		t.Fatalf("list results: %v", err)
	}
	byCase := map[string]models.TestCaseStatus{}
	for _, r := range results {
		byCase[r.TestCaseID] = r.Status
	}
	out := make([]models.TestCaseStatus, len(cases))
	for i, tc := range cases {
		out[i] = byCase[tc.ThreadID]
	}
	return out
}

func TestRunSelectedFixture(t *testing.T) {
	f := newFixture(t, &judgeProvider{answer: "Paris", verdict: "Y. Same answer."})
	cases := []*models.TestCase{
		f.addCase(t, "capital of Spain?", "Madrid"),
		f.addCase(t, "capital of France?", "Paris"),
		f.addCase(t, "capital of Italy?", "Rome"),
	}

	run, events, err := f.runner.Run(context.Background(), testAgent, "u1", cases, cases[1:2])
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := statuses(t, f, run.ID, cases); got[0] != models.TestCaseSkipped || got[2] != models.TestCaseSkipped {
		t.Errorf("pre-created statuses = %v", got)
	}

	got := collect(t, events)
	if got[0].Type != EventStart || got[len(got)-1].Type != EventComplete {
		t.Fatalf("events = %v", got)
	}
	summary := got[len(got)-1].Data.(Summary)
	want := Summary{SuiteRunID: run.ID, Status: string(models.SuiteRunSuccess), TotalTests: 3, Passed: 1, Skipped: 2}
	if summary != want {
		t.Errorf("summary = %+v, want %+v", summary, want)
	}

	stored, err := f.stores.TestSuites.GetRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if stored.Status != models.SuiteRunSuccess || stored.CompletedAt == nil {
		t.Errorf("stored run = %+v", stored)
	}
	if stored.PassedTests+stored.FailedTests+stored.ErrorTests+stored.SkippedTests != stored.TotalTests {
		t.Errorf("totals do not add up: %+v", stored)
	}
	if got := statuses(t, f, run.ID, cases); got[1] != models.TestCaseSuccess {
		t.Errorf("selected status = %s", got[1])
	}

	var sawChunk, sawPhase bool
	for _, ev := range got {
		if ev.Type == EventTestAgentChunk && ev.Data.(MessageData).Chunk == "Paris" {
			sawChunk = true
		}
		if p, ok := ev.Data.(PhaseData); ok && p.Phase == PhaseCompleted && p.Evaluation != nil && p.Evaluation.Passed {
			sawPhase = true
		}
	}
	if !sawChunk || !sawPhase {
		t.Errorf("missing chunk or completed phase in %v", got)
	}
	if len(f.usage.List()) == 0 {
		t.Error("evaluator usage was not recorded")
	}
}

func TestRunOutcomes(t *testing.T) {
	tests := []struct {
		name      string
		provider  *judgeProvider
		messages  []string
		want      models.TestCaseStatus
		suiteWant models.SuiteRunStatus
	}{
		{
			name:      "judge rejects",
			provider:  &judgeProvider{answer: "Lyon", verdict: "N. Wrong city."},
			messages:  []string{"capital of France?", "Paris"},
			want:      models.TestCaseFailure,
			suiteWant: models.SuiteRunFailure,
		},
		{
			name:      "model error",
			provider:  &judgeProvider{fail: true, verdict: "Y"},
			messages:  []string{"capital of France?", "Paris"},
			want:      models.TestCaseError,
			suiteWant: models.SuiteRunFailure,
		},
		{
			name:      "empty fixture",
			provider:  &judgeProvider{answer: "x", verdict: "Y"},
			want:      models.TestCaseSkipped,
			suiteWant: models.SuiteRunSuccess,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.provider)
			cases := []*models.TestCase{f.addCase(t, tt.messages...)}

			run, events, err := f.runner.Run(context.Background(), testAgent, "u1", cases, cases)
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			got := collect(t, events)
			summary := got[len(got)-1].Data.(Summary)
			if summary.Status != string(tt.suiteWant) || summary.TotalTests != 1 {
				t.Errorf("summary = %+v", summary)
			}
			if got := statuses(t, f, run.ID, cases)[0]; got != tt.want {
				t.Errorf("status = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCleanupOrphaned(t *testing.T) {
	f := newFixture(t, &judgeProvider{})
	ctx := context.Background()
	suites := f.stores.TestSuites

	run := &models.TestSuiteRun{AgentID: testAgent.ID, Status: models.SuiteRunRunning, TotalTests: 4}
	if err := suites.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	for _, s := range []models.TestCaseStatus{models.TestCaseSuccess, models.TestCaseRunning, models.TestCasePending, models.TestCaseError} {
		if err := suites.CreateResult(ctx, &models.TestCaseResult{TestSuiteRunID: run.ID, TestCaseID: string(s), Status: s}); err != nil {
			t.Fatalf("CreateResult() error = %v", err)
		}
	}

	if err := f.runner.CleanupOrphaned(ctx, run.ID, "other-agent"); err != nil {
		t.Fatalf("CleanupOrphaned(other agent) error = %v", err)
	}
	if got, _ := suites.GetRun(ctx, run.ID); got.Status != models.SuiteRunRunning {
		t.Fatalf("run of another agent was modified: %+v", got)
	}

	if err := f.runner.CleanupOrphaned(ctx, run.ID, testAgent.ID); err != nil {
		t.Fatalf("CleanupOrphaned() error = %v", err)
	}
	got, _ := suites.GetRun(ctx, run.ID)
	if got.Status != models.SuiteRunFailure || got.CompletedAt == nil {
		t.Errorf("run = %+v, want FAILURE with completion time", got)
	}
	if got.PassedTests != 1 || got.ErrorTests != 1 || got.SkippedTests != 2 || got.TotalTests != 4 {
		t.Errorf("totals = %+v", got)
	}

	completed := *got.CompletedAt
	if err := f.runner.CleanupOrphaned(ctx, run.ID, testAgent.ID); err != nil {
		t.Fatalf("second CleanupOrphaned() error = %v", err)
	}
	if again, _ := suites.GetRun(ctx, run.ID); !again.CompletedAt.Equal(completed) {
		t.Error("second cleanup modified a finished run")
	}

	if err := f.runner.CleanupOrphaned(ctx, "missing", testAgent.ID); err != nil {
		t.Errorf("CleanupOrphaned(missing) error = %v", err)
	}
}

func TestSweepOrphaned(t *testing.T) {
	f := newFixture(t, &judgeProvider{})
	ctx := context.Background()
	old := &models.TestSuiteRun{AgentID: testAgent.ID, Status: models.SuiteRunRunning, ExecutedAt: time.Now().Add(-2 * time.Hour)}
	fresh := &models.TestSuiteRun{AgentID: testAgent.ID, Status: models.SuiteRunRunning, ExecutedAt: time.Now()}
	for _, r := range []*models.TestSuiteRun{old, fresh} {
		if err := f.stores.TestSuites.CreateRun(ctx, r); err != nil {
			t.Fatalf("CreateRun() error = %v", err)
		}
	}

	n, err := f.runner.SweepOrphaned(ctx, time.Hour)
	if err != nil {
		t.Fatalf("SweepOrphaned() error = %v", err)
	}
	if n != 1 {
		t.Errorf("recovered = %d, want 1", n)
	}
	if got, _ := f.stores.TestSuites.GetRun(ctx, fresh.ID); got.Status != models.SuiteRunRunning {
		t.Errorf("fresh run status = %s", got.Status)
	}
}

func TestVerdict(t *testing.T) {
	tests := map[string]bool{
		"Y":                  true,
		"y - matches":        true,
		"  **Y** close":      true,
		"N. Different.":      false,
		"":                   false,
		"Yes it matches":     true,
		"\"N\" wrong answer": false,
	}
	for reply, want := range tests {
		if got := verdict(reply); got != want {
			t.Errorf("verdict(%q) = %v, want %v", reply, got, want)
		}
	}
}

func TestCloneCases(t *testing.T) {
	f := newFixture(t, &judgeProvider{})
	ctx := context.Background()
	src := f.addCase(t, "What is 2+2?", "4")

	n, err := f.runner.CloneCases(ctx, testAgent.ID, "agent-2", "u2")
	if err != nil {
		t.Fatalf("CloneCases() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("cloned = %d, want 1", n)
	}

	cloned, err := f.stores.TestSuites.ListCases(ctx, "agent-2")
	if err != nil {
		t.Fatalf("list cloned cases: %v", err)
	}
	if len(cloned) != 1 {
		t.Fatalf("cloned cases = %d, want 1", len(cloned))
	}
	if cloned[0].ThreadID == src.ThreadID {
		t.Fatal("clone shares the source thread")
	}
	thread, err := f.stores.Threads.Get(ctx, cloned[0].ThreadID)
	if err != nil {
		t.Fatalf("get cloned thread: %v", err)
	}
	if thread.AgentID != "agent-2" || thread.UserID != "u2" || !thread.IsTestCase {
		t.Errorf("cloned thread = %+v", thread)
	}
	messages, err := f.stores.Threads.ListMessages(ctx, thread.ID)
	if err != nil {
		t.Fatalf("list cloned messages: %v", err)
	}
	if len(messages) != 2 || messages[0].Text != "What is 2+2?" || messages[1].Origin != models.OriginAgent {
		t.Errorf("cloned messages = %+v", messages)
	}

	original, _ := f.stores.TestSuites.ListCases(ctx, testAgent.ID)
	if len(original) != 1 {
		t.Errorf("source cases = %d, want 1", len(original))
	}
}
