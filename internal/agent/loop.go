package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vijoin/tero/internal/tokens"
	"github.com/vijoin/tero/internal/tools"
	"github.com/vijoin/tero/internal/usage"
	"github.com/vijoin/tero/pkg/models"
)

// resultPreviewLength bounds the tool output echoed in executedTool events.
const resultPreviewLength = 200

// run is the state of one answer.
type run struct {
	e        *Engine
	t        *Turn
	messages []*models.Message
	stop     <-chan struct{}
	events   chan<- Event
	logger   *slog.Logger
	usage    *usage.MessageUsage

	actions map[string]tools.Action
	specs   []ToolSpec
	turns   []turn
}

func newRun(t *Turn, messages []*models.Message, mu *usage.MessageUsage, stop <-chan struct{}, events chan<- Event) *run {
	r := &run{
		e:        t.e,
		t:        t,
		messages: messages,
		stop:     stop,
		events:   events,
		usage:    mu,
		logger: t.e.logger.With(
			"agent_id", t.agent.ID,
			"thread_id", t.threadID,
			"user_id", t.userID),
	}
	if r.usage == nil {
		r.usage = usage.NewMessageUsage(t.userID, t.agent.ID, t.model.ID, "")
	}
	return r
}

func (r *run) execute(ctx context.Context) {
	start := time.Now()
	ctx, span := r.e.tracer.Start(ctx, "agent.answer", trace.WithAttributes(
		attribute.String("agent.id", r.t.agent.ID),
		attribute.String("thread.id", r.t.threadID),
	))
	defer span.End()

	status := "ok"
	defer func() {
		r.e.observer.RecordTurn(status, time.Since(start).Seconds())
	}()
	defer r.recordUsage(ctx)

	if err := r.loop(ctx); err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Error("answer failed", "error", err)
		r.emit(ctx, ErrorEvent{Err: err})
		return
	}
	if r.stopped() {
		status = "stopped"
	}
}

// recordUsage persists the accumulated usage. It runs after cancellation too.
func (r *run) recordUsage(ctx context.Context) {
	if r.e.recorder == nil {
		return
	}
	if err := r.e.recorder.Record(context.WithoutCancel(ctx), r.usage); err != nil {
		r.logger.Error("record usage", "error", err)
	}
}

func (r *run) stopped() bool {
	select {
	case <-r.stop:
		return true
	default:
		return false
	}
}

// emit delivers ev unless ctx is done.
func (r *run) emit(ctx context.Context, ev Event) bool {
	select {
	case r.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (r *run) loop(ctx context.Context) error {
	r.index(r.t.actions)
	r.turns = historyTurns(r.messages)

	for iteration := 0; ; iteration++ {
		if r.stopped() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return &LoopError{Phase: PhaseStream, Iteration: iteration, Cause: err}
		}

		text, calls, err := r.callModel(ctx)
		if err != nil {
			return &LoopError{Phase: PhaseStream, Iteration: iteration, Cause: err}
		}
		if len(calls) == 0 || r.stopped() {
			return nil
		}
		if iteration >= r.e.maxIterations {
			return &LoopError{
				Phase:     PhaseExecuteTools,
				Iteration: iteration,
				Cause:     fmt.Errorf("%w: %d tool rounds", ErrMaxIterations, r.e.maxIterations),
			}
		}

		names := make([]string, len(calls))
		for i, c := range calls {
			names[i] = c.Name
		}
		r.emit(ctx, ActionEvent{Action: ActionPlanning, Result: names})

		r.turns = append(r.turns, assistantTurn(text, calls))
		for _, call := range calls {
			if r.stopped() {
				return nil
			}
			content, isError := r.callTool(ctx, call)
			r.turns = append(r.turns, toolTurn(call.ID, content, isError))
		}
	}
}

func (r *run) index(actions []tools.Action) {
	r.actions = make(map[string]tools.Action, len(actions))
	r.specs = make([]ToolSpec, 0, len(actions))
	for _, a := range actions {
		if _, dup := r.actions[a.Name()]; dup {
			r.logger.Warn("duplicate action name", "action", a.Name())
			continue
		}
		r.actions[a.Name()] = a
		r.specs = append(r.specs, ToolSpec{Name: a.Name(), Description: a.Description(), Schema: a.Schema()})
	}
}

// callModel streams one model response, forwarding its text. On stop the
// call is abandoned, its usage approximated and no tool calls returned.
func (r *run) callModel(ctx context.Context) (string, []models.ToolCall, error) {
	w := buildWindow(r.turns, r.t.model, r.t.agent.SystemPrompt, r.specs)
	r.emit(ctx, ActionEvent{Action: ActionPreModelHook})

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	callCtx, span := r.e.tracer.Start(callCtx, "agent.llm", trace.WithAttributes(
		attribute.String("llm.provider", r.t.provider.Name()),
		attribute.String("llm.model", r.t.model.ID),
	))
	defer span.End()

	start := time.Now()
	chunks, err := r.t.provider.Complete(callCtx, &CompletionRequest{
		Model:       r.t.model.ID,
		System:      r.t.agent.SystemPrompt,
		Messages:    w.messages,
		Tools:       r.specs,
		MaxTokens:   r.t.model.OutputTokenLimit,
		Temperature: r.t.agent.Temperature,
	})
	if err != nil {
		r.e.observer.RecordLLMRequest(r.t.provider.Name(), r.t.model.ID, "error", time.Since(start).Seconds(), 0, 0)
		span.RecordError(err)
		return "", nil, err
	}

	var text strings.Builder
	var calls []models.ToolCall
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				// Streams end with Done; a bare close is treated the same.
				r.charge(w.tokens, text.String(), calls, 0, 0)
				r.e.observer.RecordLLMRequest(r.t.provider.Name(), r.t.model.ID, "ok", time.Since(start).Seconds(), 0, 0)
				return text.String(), calls, nil
			}
			switch {
			case chunk.Error != nil:
				r.charge(w.tokens, text.String(), calls, 0, 0)
				r.e.observer.RecordLLMRequest(r.t.provider.Name(), r.t.model.ID, "error", time.Since(start).Seconds(), 0, 0)
				span.RecordError(chunk.Error)
				go drain(chunks)
				return "", nil, chunk.Error
			case chunk.ToolCall != nil:
				calls = append(calls, *chunk.ToolCall)
			case chunk.Done:
				in, out := r.charge(w.tokens, text.String(), calls, chunk.InputTokens, chunk.OutputTokens)
				r.e.observer.RecordLLMRequest(r.t.provider.Name(), r.t.model.ID, "ok", time.Since(start).Seconds(), in, out)
				go drain(chunks)
				return text.String(), calls, nil
			}
			if chunk.Text != "" {
				text.WriteString(chunk.Text)
				r.emit(ctx, MessageEvent{Content: chunk.Text})
			}
		case <-r.stop:
			cancel()
			go drain(chunks)
			in, out := r.charge(w.tokens, text.String(), nil, 0, 0)
			r.e.observer.RecordLLMRequest(r.t.provider.Name(), r.t.model.ID, "stopped", time.Since(start).Seconds(), in, out)
			return text.String(), nil, nil
		}
	}
}

// charge adds one model call to the usage. Counts the provider did not
// report are estimated from the input window and the generated output.
func (r *run) charge(inputEstimate int, text string, calls []models.ToolCall, in, out int) (int, int) {
	if in == 0 && out == 0 {
		in = inputEstimate
		out = tokens.Text(text)
		if len(calls) > 0 {
			out += tokens.JSON(calls)
		}
	}
	r.usage.IncrementWithMetadata(in, out, r.t.model)
	return in, out
}

func drain(chunks <-chan *CompletionChunk) {
	for range chunks {
	}
}

// callTool runs one tool call and returns the content fed back to the
// model. Failures are reported to the model, never returned.
func (r *run) callTool(ctx context.Context, call models.ToolCall) (string, bool) {
	r.emit(ctx, ActionEvent{Action: ActionExecutingTool, ToolName: call.Name, Args: string(call.Input)})

	action, ok := r.actions[call.Name]
	if !ok {
		msg := fmt.Sprintf("tool %s not found", call.Name)
		r.emit(ctx, ActionEvent{Action: ActionToolError, ToolName: call.Name, Result: []string{msg}})
		return msg, true
	}

	toolCtx, span := r.e.tracer.Start(ctx, "agent.tool", trace.WithAttributes(attribute.String("tool.name", call.Name)))
	defer span.End()
	start := time.Now()
	res, err := action.Execute(toolCtx, call.Input)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		r.e.observer.RecordToolExecution(call.Name, "error", elapsed)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Warn("tool action failed", "action", call.Name, "error", err)
		r.emit(ctx, ActionEvent{Action: ActionToolError, ToolName: call.Name, Result: []string{err.Error()}})
		return "Error: " + err.Error(), true
	}
	if res == nil {
		res = &tools.Result{}
	}

	r.usage.IncrementToolUsage(res.Usage)
	if res.File != nil {
		r.emit(ctx, FileEvent{File: res.File})
	}
	if res.IsError {
		r.e.observer.RecordToolExecution(call.Name, "error", elapsed)
		r.emit(ctx, ActionEvent{Action: ActionToolError, ToolName: call.Name, Result: []string{res.Content}})
		return res.Content, true
	}
	r.e.observer.RecordToolExecution(call.Name, "ok", elapsed)
	r.emit(ctx, ActionEvent{Action: ActionExecutedTool, ToolName: call.Name, Result: preview(res.Content)})
	return res.Content, false
}

func preview(s string) string {
	if utf8.RuneCountInString(s) <= resultPreviewLength {
		return s
	}
	return string([]rune(s)[:resultPreviewLength]) + "..."
}
