package agent

import (
	"errors"
	"fmt"
)

var (
	// ErrMaxIterations indicates the tool-calling loop exceeded its iteration limit.
	ErrMaxIterations = errors.New("max iterations exceeded")

	// ErrNoProvider indicates no LLM provider serves the agent's model vendor.
	ErrNoProvider = errors.New("no provider configured")

	// ErrUnknownModel indicates the agent references a model that is not configured.
	ErrUnknownModel = errors.New("unknown model")
)

// LoopError represents a fatal error of the tool-calling loop with the
// phase and iteration it occurred in.
type LoopError struct {
	Phase     LoopPhase
	Iteration int
	Cause     error
}

func (e *LoopError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("loop error at %s (iteration %d): %v", e.Phase, e.Iteration, e.Cause)
	}
	return fmt.Sprintf("loop error at %s (iteration %d)", e.Phase, e.Iteration)
}

func (e *LoopError) Unwrap() error {
	return e.Cause
}

// LoopPhase is a distinct phase of an answer.
type LoopPhase string

const (
	// PhaseInit covers tool loading and input construction.
	PhaseInit LoopPhase = "init"

	// PhaseStream is the model call.
	PhaseStream LoopPhase = "stream"

	// PhaseExecuteTools runs the actions the model asked for.
	PhaseExecuteTools LoopPhase = "execute_tools"
)
