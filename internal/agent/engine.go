// Package agent answers conversation turns by running an agent's model in a
// tool-calling loop over the actions of its configured tools.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/vijoin/tero/internal/tools"
	"github.com/vijoin/tero/internal/usage"
	"github.com/vijoin/tero/pkg/models"
)

// DefaultMaxIterations bounds the tool rounds of one answer.
const DefaultMaxIterations = 20

const eventBufferSize = 32

// ToolSource instantiates the configured tools of an agent for a turn.
type ToolSource interface {
	ForTurn(ctx context.Context, agent *models.Agent, userID, threadID string, model *models.LLMModel) ([]tools.Tool, error)
}

// Observer receives loop measurements.
type Observer interface {
	RecordLLMRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int)
	RecordToolExecution(toolName, status string, durationSeconds float64)
	RecordTurn(status string, durationSeconds float64)
}

type nopObserver struct{}

func (nopObserver) RecordLLMRequest(string, string, string, float64, int, int) {}
func (nopObserver) RecordToolExecution(string, string, float64)                {}
func (nopObserver) RecordTurn(string, float64)                                 {}

// Config wires an Engine.
type Config struct {
	Tools     ToolSource
	Providers Providers
	// Models are the selectable models keyed by id.
	Models map[string]*models.LLMModel

	// Recorder persists answer usage when set.
	Recorder *usage.Recorder
	// Guard enforces the monthly quota when set.
	Guard *usage.Guard

	// Generator is the model used for thread titles.
	Generator ModelChoice

	Observer      Observer
	Tracer        trace.Tracer
	Logger        *slog.Logger
	MaxIterations int
}

// ModelChoice selects a model and its sampling temperature.
type ModelChoice struct {
	ModelID     string
	Temperature float64
}

// Engine answers turns. It is safe for concurrent use.
type Engine struct {
	tools         ToolSource
	providers     Providers
	models        map[string]*models.LLMModel
	recorder      *usage.Recorder
	guard         *usage.Guard
	generator     ModelChoice
	observer      Observer
	tracer        trace.Tracer
	logger        *slog.Logger
	maxIterations int
	now           func() time.Time
}

// NewEngine returns an Engine for cfg.
func NewEngine(cfg Config) *Engine {
	e := &Engine{
		tools:         cfg.Tools,
		providers:     cfg.Providers,
		models:        cfg.Models,
		recorder:      cfg.Recorder,
		guard:         cfg.Guard,
		generator:     cfg.Generator,
		observer:      cfg.Observer,
		tracer:        cfg.Tracer,
		logger:        cfg.Logger,
		maxIterations: cfg.MaxIterations,
		now:           time.Now,
	}
	if e.observer == nil {
		e.observer = nopObserver{}
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer("github.com/vijoin/tero/internal/agent")
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.logger = e.logger.With("component", "agent")
	if e.maxIterations <= 0 {
		e.maxIterations = DefaultMaxIterations
	}
	return e
}

// Model returns the configured model with id.
func (e *Engine) Model(id string) (*models.LLMModel, error) {
	m, ok := e.models[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, id)
	}
	return m, nil
}

func (e *Engine) provider(model *models.LLMModel) (LLMProvider, error) {
	p, ok := e.providers[model.Vendor]
	if !ok || p == nil {
		return nil, fmt.Errorf("%w for vendor %s", ErrNoProvider, model.Vendor)
	}
	return p, nil
}

// CheckQuota returns usage.ErrQuotaExceeded when userID has spent the
// monthly limit.
func (e *Engine) CheckQuota(ctx context.Context, userID string) error {
	if e.guard == nil {
		return nil
	}
	return e.guard.Check(ctx, userID)
}

// LoadTools loads every active tool of the agent and returns their actions
// followed by the clock action. The caller must call release once the
// actions are no longer used. Authorization signals from a tool are
// returned unchanged so callers can redirect the user.
func (e *Engine) LoadTools(ctx context.Context, agent *models.Agent, userID, threadID string) ([]tools.Action, func(), error) {
	var model *models.LLMModel
	if m, err := e.Model(agent.ModelID); err == nil {
		model = m
	}
	var loaded []tools.Tool
	if e.tools != nil {
		var err error
		loaded, err = e.tools.ForTurn(ctx, agent, userID, threadID, model)
		if err != nil {
			return nil, func() {}, err
		}
	}
	actions, release, err := tools.LoadAll(ctx, loaded)
	if err != nil {
		return nil, func() {}, err
	}
	return append(actions, clockAction(e.now)), release, nil
}

// Begin resolves the agent's model and loads its tools for a turn. It fails
// before the caller has persisted anything, returning authorization signals
// from tools unchanged. The returned Turn must be answered or closed.
func (e *Engine) Begin(ctx context.Context, agent *models.Agent, userID, threadID string) (*Turn, error) {
	model, err := e.Model(agent.ModelID)
	if err != nil {
		return nil, &LoopError{Phase: PhaseInit, Cause: err}
	}
	provider, err := e.provider(model)
	if err != nil {
		return nil, &LoopError{Phase: PhaseInit, Cause: err}
	}
	actions, release, err := e.LoadTools(ctx, agent, userID, threadID)
	if err != nil {
		return nil, err
	}
	return &Turn{
		e:        e,
		agent:    agent,
		userID:   userID,
		threadID: threadID,
		model:    model,
		provider: provider,
		actions:  actions,
		release:  release,
	}, nil
}

// Turn is a prepared answer holding loaded tools.
type Turn struct {
	e        *Engine
	agent    *models.Agent
	userID   string
	threadID string
	model    *models.LLMModel
	provider LLMProvider
	actions  []tools.Action

	once    sync.Once
	release func()
}

// Close releases the turn's tools. It is safe to call more than once.
func (t *Turn) Close() {
	t.once.Do(t.release)
}

// Answer runs the turn over messages, the thread history ending with the
// new user message, and streams its events. usage accumulates billable
// usage and stop, which may be nil, is closed when the user asks to stop.
//
// The channel is closed when the answer ends; a failed answer ends with an
// ErrorEvent. Tools are released and usage is recorded before the channel
// closes, also when the answer was stopped or ctx was cancelled.
func (t *Turn) Answer(ctx context.Context, messages []*models.Message, mu *usage.MessageUsage, stop <-chan struct{}) <-chan Event {
	events := make(chan Event, eventBufferSize)
	go func() {
		defer close(events)
		defer t.Close()
		newRun(t, messages, mu, stop, events).execute(ctx)
	}()
	return events
}

// AnswerRequest is one turn to answer.
type AnswerRequest struct {
	Agent    *models.Agent
	UserID   string
	ThreadID string
	// Messages is the thread history ending with the new user message.
	Messages []*models.Message
	// Usage accumulates the turn's billable usage.
	Usage *usage.MessageUsage
	// Stop is closed when the user asks to stop the answer. It may be nil.
	Stop <-chan struct{}
}

// Answer begins and answers a turn in one step. Failures to begin are
// reported as a single ErrorEvent.
func (e *Engine) Answer(ctx context.Context, req AnswerRequest) <-chan Event {
	turn, err := e.Begin(ctx, req.Agent, req.UserID, req.ThreadID)
	if err != nil {
		var loopErr *LoopError
		if !errors.As(err, &loopErr) {
			err = &LoopError{Phase: PhaseInit, Cause: err}
		}
		e.logger.Error("begin answer", "agent_id", req.Agent.ID, "thread_id", req.ThreadID, "user_id", req.UserID, "error", err)
		events := make(chan Event, 1)
		events <- ErrorEvent{Err: err}
		close(events)
		return events
	}
	return turn.Answer(ctx, req.Messages, req.Usage, req.Stop)
}
