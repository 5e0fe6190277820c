package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vijoin/tero/internal/storage"
	"github.com/vijoin/tero/internal/tools"
	"github.com/vijoin/tero/pkg/models"
)

var (
	// ErrInvalidState is returned when the callback state matches no
	// pending authorization. A state is only ever accepted once.
	ErrInvalidState = errors.New("invalid or expired oauth state")
	// ErrAuthenticationCancelled is returned when the user declined at the
	// provider and the callback carries no code.
	ErrAuthenticationCancelled = errors.New("authentication cancelled")
	// ErrAuthUnsupported is returned for callbacks to tools without OAuth.
	ErrAuthUnsupported = errors.New("tool does not support oauth callbacks")
)

// CallbackError reports that the provider rejected the code exchange.
type CallbackError struct {
	Cause error
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("oauth callback rejected: %v", e.Cause)
}

func (e *CallbackError) Unwrap() error {
	return e.Cause
}

// Coordinator completes authorization flows started during tool setup.
type Coordinator struct {
	stores  storage.StoreSet
	configs *tools.ConfigService
	logger  *slog.Logger
}

// NewCoordinator returns a Coordinator resuming setups through configs.
func NewCoordinator(stores storage.StoreSet, configs *tools.ConfigService, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		stores:  stores,
		configs: configs,
		logger:  logger.With("component", "oauth-coordinator"),
	}
}

// HandleCallback consumes the pending state, stores the exchanged token and
// retries the setup that requested authorization. The state row is deleted
// before the exchange so a replayed callback always fails.
func (c *Coordinator) HandleCallback(ctx context.Context, userID, toolID string, params tools.CallbackParams) (*models.ToolConfig, error) {
	if !c.configs.Catalog().Has(toolID) {
		return nil, fmt.Errorf("%w: %s", tools.ErrToolNotFound, toolID)
	}

	state, err := c.stores.OAuth.GetState(ctx, userID, toolID, params.State)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrInvalidState
	}
	if err != nil {
		return nil, err
	}

	agent, err := c.stores.Agents.Get(ctx, state.AgentID)
	if err != nil {
		return nil, fmt.Errorf("load agent %s: %w", state.AgentID, err)
	}
	cfg, err := c.stores.ToolConfigs.Find(ctx, agent.ID, toolID, true)
	if err != nil {
		return nil, fmt.Errorf("load pending config for %s: %w", toolID, err)
	}

	if err := c.stores.OAuth.DeleteState(ctx, userID, toolID, params.State); err != nil {
		return nil, err
	}
	if params.Code == "" {
		c.logger.Info("oauth authentication cancelled",
			"agent_id", agent.ID,
			"tool_id", toolID)
		return nil, ErrAuthenticationCancelled
	}

	t, err := c.configs.Instantiate(agent, userID, toolID, cfg.Config)
	if err != nil {
		return nil, err
	}
	authTool, ok := t.(tools.AuthTool)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAuthUnsupported, toolID)
	}
	if err := authTool.AuthCallback(ctx, params, state); err != nil {
		return nil, err
	}

	saved, err := c.configs.Resume(ctx, agent, userID, toolID)
	if err != nil {
		return nil, err
	}
	c.logger.Info("oauth authorization completed",
		"agent_id", agent.ID,
		"tool_id", toolID)
	return saved, nil
}
