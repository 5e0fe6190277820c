// Package testsuite replays stored conversation fixtures against an agent
// and judges the answers with an evaluator model.
//
// A run pre-creates one result row per fixture before anything executes,
// so its totals survive a crash. Runs left RUNNING are recovered by
// CleanupOrphaned, which callers invoke on failure and from a periodic
// sweep.
package testsuite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vijoin/tero/internal/agent"
	"github.com/vijoin/tero/internal/storage"
	"github.com/vijoin/tero/internal/usage"
	"github.com/vijoin/tero/pkg/models"
)

const eventBufferSize = 64

// Metrics receives per-case outcomes.
type Metrics interface {
	RecordTestCase(status string)
}

// Config wires a Runner.
type Config struct {
	Engine  *agent.Engine
	Threads storage.ThreadStore
	Suites  storage.TestSuiteStore
	// Recorder persists evaluator usage.
	Recorder *usage.Recorder
	// Evaluator is the judge model.
	Evaluator agent.ModelChoice
	Metrics   Metrics
	Logger    *slog.Logger
}

// Runner executes test suites. It is safe for concurrent use.
type Runner struct {
	engine    *agent.Engine
	threads   storage.ThreadStore
	suites    storage.TestSuiteStore
	recorder  *usage.Recorder
	evaluator agent.ModelChoice
	metrics   Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// NewRunner returns a Runner for cfg.
func NewRunner(cfg Config) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		engine:    cfg.Engine,
		threads:   cfg.Threads,
		suites:    cfg.Suites,
		recorder:  cfg.Recorder,
		evaluator: cfg.Evaluator,
		metrics:   cfg.Metrics,
		logger:    logger.With("component", "testsuite"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run starts a suite over all of the agent's fixtures, executing only those
// in selected. The run and its result rows exist once Run returns; a failure
// to create them is returned directly. The event channel closes when the
// suite ends. If ctx is cancelled the suite stops and is recovered as an
// orphan.
func (r *Runner) Run(ctx context.Context, ag *models.Agent, userID string, all, selected []*models.TestCase) (*models.TestSuiteRun, <-chan Event, error) {
	run := &models.TestSuiteRun{
		AgentID:    ag.ID,
		Status:     models.SuiteRunRunning,
		ExecutedAt: r.now(),
		TotalTests: len(all),
	}
	if err := r.suites.CreateRun(ctx, run); err != nil {
		return nil, nil, fmt.Errorf("create suite run: %w", err)
	}

	wanted := make(map[string]bool, len(selected))
	for _, tc := range selected {
		wanted[tc.ThreadID] = true
	}
	var queue []pendingCase
	for _, tc := range all {
		res := &models.TestCaseResult{
			TestCaseID:     tc.ThreadID,
			TestSuiteRunID: run.ID,
			Status:         models.TestCasePending,
			ExecutedAt:     r.now(),
		}
		if !wanted[tc.ThreadID] {
			res.Status = models.TestCaseSkipped
		}
		if err := r.suites.CreateResult(ctx, res); err != nil {
			r.failRun(ctx, run)
			return nil, nil, fmt.Errorf("create result for %s: %w", tc.ThreadID, err)
		}
		if wanted[tc.ThreadID] {
			queue = append(queue, pendingCase{testCase: tc, result: res})
		}
	}

	events := make(chan Event, eventBufferSize)
	s := &suite{
		r:       r,
		agent:   ag,
		userID:  userID,
		run:     run,
		events:  events,
		skipped: len(all) - len(queue),
		logger:  r.logger.With("suite_run_id", run.ID, "agent_id", ag.ID),
	}
	go func() {
		defer close(events)
		s.execute(ctx, queue)
	}()
	return run, events, nil
}

type pendingCase struct {
	testCase *models.TestCase
	result   *models.TestCaseResult
}

// suite is the state of one run.
type suite struct {
	r      *Runner
	agent  *models.Agent
	userID string
	run    *models.TestSuiteRun
	events chan<- Event
	logger *slog.Logger

	passed, failed, errors, skipped int
}

func (s *suite) emit(ctx context.Context, typ EventType, data any) {
	select {
	case s.events <- Event{Type: typ, Data: data}:
	case <-ctx.Done():
	}
}

func (s *suite) execute(ctx context.Context, queue []pendingCase) {
	s.emit(ctx, EventStart, RunRef{SuiteRunID: s.run.ID})

	for _, pc := range queue {
		if ctx.Err() != nil {
			s.logger.Warn("suite abandoned", "error", ctx.Err())
			s.r.failRun(ctx, s.run)
			return
		}
		ref := CaseRef{TestCaseID: pc.testCase.ThreadID, ResultID: pc.result.ID}
		s.emit(ctx, EventTestStart, ref)

		status := s.runCase(ctx, pc.testCase, pc.result)
		s.count(status)
		if s.r.metrics != nil {
			s.r.metrics.RecordTestCase(string(status))
		}

		ref.Status = string(status)
		s.emit(ctx, EventTestComplete, ref)
	}

	if err := s.finish(ctx); err != nil {
		s.logger.Error("complete suite run", "error", err)
		s.r.failRun(ctx, s.run)
		s.emit(ctx, EventError, struct{}{})
		return
	}
	s.emit(ctx, EventComplete, Summary{
		SuiteRunID: s.run.ID,
		Status:     string(s.run.Status),
		TotalTests: s.run.TotalTests,
		Passed:     s.run.PassedTests,
		Failed:     s.run.FailedTests,
		Errors:     s.run.ErrorTests,
		Skipped:    s.run.SkippedTests,
	})
}

func (s *suite) count(status models.TestCaseStatus) {
	switch status {
	case models.TestCaseSuccess:
		s.passed++
	case models.TestCaseFailure:
		s.failed++
	case models.TestCaseSkipped:
		s.skipped++
	default:
		s.errors++
	}
}

func (s *suite) finish(ctx context.Context) error {
	completed := s.r.now()
	s.run.CompletedAt = &completed
	s.run.PassedTests = s.passed
	s.run.FailedTests = s.failed
	s.run.ErrorTests = s.errors
	s.run.SkippedTests = s.skipped
	s.run.Status = models.SuiteRunSuccess
	if s.failed > 0 || s.errors > 0 {
		s.run.Status = models.SuiteRunFailure
	}
	return s.r.suites.UpdateRun(context.WithoutCancel(ctx), s.run)
}

// failRun force-completes run after a failure, logging cleanup errors.
func (r *Runner) failRun(ctx context.Context, run *models.TestSuiteRun) {
	if err := r.CleanupOrphaned(context.WithoutCancel(ctx), run.ID, run.AgentID); err != nil {
		r.logger.Error("clean up suite run", "suite_run_id", run.ID, "error", err)
	}
}

// CleanupOrphaned force-completes a run still RUNNING: pending and running
// results become SKIPPED, totals are recomputed from the results and the
// run fails. Runs of another agent, unknown runs and finished runs are left
// alone, so it is safe to call repeatedly.
func (r *Runner) CleanupOrphaned(ctx context.Context, suiteRunID, agentID string) error {
	run, err := r.suites.GetRun(ctx, suiteRunID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("get suite run: %w", err)
	}
	if run.AgentID != agentID || run.Status != models.SuiteRunRunning {
		return nil
	}

	results, err := r.suites.ListResults(ctx, suiteRunID)
	if err != nil {
		return fmt.Errorf("list results: %w", err)
	}
	run.PassedTests, run.FailedTests, run.ErrorTests, run.SkippedTests = 0, 0, 0, 0
	for _, res := range results {
		if !res.Status.Terminal() {
			res.Status = models.TestCaseSkipped
			if err := r.suites.UpdateResult(ctx, res); err != nil {
				return fmt.Errorf("skip result %s: %w", res.ID, err)
			}
		}
		switch res.Status {
		case models.TestCaseSuccess:
			run.PassedTests++
		case models.TestCaseFailure:
			run.FailedTests++
		case models.TestCaseError:
			run.ErrorTests++
		default:
			run.SkippedTests++
		}
	}
	completed := r.now()
	run.TotalTests = len(results)
	run.Status = models.SuiteRunFailure
	run.CompletedAt = &completed
	if err := r.suites.UpdateRun(ctx, run); err != nil {
		return fmt.Errorf("fail suite run: %w", err)
	}
	r.logger.Info("recovered orphaned suite run", "suite_run_id", run.ID, "agent_id", agentID)
	return nil
}

// SweepOrphaned recovers every run that has been RUNNING for longer than
// olderThan and returns how many it recovered.
func (r *Runner) SweepOrphaned(ctx context.Context, olderThan time.Duration) (int, error) {
	runs, err := r.suites.ListRunning(ctx, r.now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("list running suites: %w", err)
	}
	var errs []error
	recovered := 0
	for _, run := range runs {
		if err := r.CleanupOrphaned(ctx, run.ID, run.AgentID); err != nil {
			errs = append(errs, err)
			continue
		}
		recovered++
	}
	return recovered, errors.Join(errs...)
}

// CloneCases copies every fixture of fromAgentID to toAgentID. Each copy
// gets its own thread holding the original messages, owned by userID.
func (r *Runner) CloneCases(ctx context.Context, fromAgentID, toAgentID, userID string) (int, error) {
	cases, err := r.suites.ListCases(ctx, fromAgentID)
	if err != nil {
		return 0, fmt.Errorf("list cases: %w", err)
	}
	for _, tc := range cases {
		src, err := r.threads.Get(ctx, tc.ThreadID)
		if err != nil {
			return 0, fmt.Errorf("get case thread %s: %w", tc.ThreadID, err)
		}
		thread := &models.Thread{AgentID: toAgentID, UserID: userID, Name: src.Name, IsTestCase: true}
		if err := r.threads.Create(ctx, thread); err != nil {
			return 0, fmt.Errorf("create case thread: %w", err)
		}
		messages, err := r.threads.ListMessages(ctx, tc.ThreadID)
		if err != nil {
			return 0, fmt.Errorf("list case messages %s: %w", tc.ThreadID, err)
		}
		for _, m := range messages {
			msg := &models.Message{
				ThreadID:  thread.ID,
				Origin:    m.Origin,
				Text:      m.Text,
				Files:     m.Files,
				Timestamp: m.Timestamp,
			}
			if err := r.threads.AddMessage(ctx, msg); err != nil {
				return 0, fmt.Errorf("copy case message: %w", err)
			}
		}
		if err := r.suites.CreateCase(ctx, &models.TestCase{ThreadID: thread.ID, AgentID: toAgentID, Name: tc.Name}); err != nil {
			return 0, fmt.Errorf("create case: %w", err)
		}
	}
	return len(cases), nil
}
