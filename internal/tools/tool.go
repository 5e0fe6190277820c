// Package tools defines the contract agent tools implement and the services
// that drive their configuration lifecycle.
//
// A tool is configured with an Env, validated and provisioned by Setup,
// then loaded per turn. Load returns a Handle whose actions are only valid
// until Release is called.
package tools

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/vijoin/tero/internal/storage"
	"github.com/vijoin/tero/internal/usage"
	"github.com/vijoin/tero/pkg/models"
)

// Env is the context a tool is configured with.
type Env struct {
	Agent    *models.Agent
	UserID   string
	ThreadID string
	Config   map[string]any
	// Model is the model answering the current turn. It is nil outside turns.
	Model  *models.LLMModel
	Stores storage.StoreSet
	Logger *slog.Logger
	// FrontendURL is the base of OAuth redirect URIs.
	FrontendURL string
	// TokenExpiryMargin is how early OAuth tokens are treated as expired.
	TokenExpiryMargin time.Duration
}

// Tool is implemented by every agent tool.
type Tool interface {
	// ID is the stable tool identifier. Prototype tools registered with a
	// wildcard id (for example "mcp-*") report their concrete id once
	// configured.
	ID() string
	Name() string
	Description() string
	ConfigSchema() map[string]any

	// Configure assigns the agent, user and config map. It has no side
	// effects and must be called before any other operation.
	Configure(env Env)

	// Setup validates the config and performs one-time provisioning. It
	// returns the config to persist, which may differ from the input.
	// It returns *AuthorizationRequiredError when a user redirect is needed.
	Setup(ctx context.Context, prev *models.ToolConfig) (map[string]any, error)

	// Load acquires the runtime resources needed to build actions.
	Load(ctx context.Context) (Handle, error)

	// Teardown releases resources created by Setup. It is safe to call when
	// Setup never completed.
	Teardown(ctx context.Context) error

	// Clone copies tool-owned persistent state to another agent.
	Clone(ctx context.Context, toAgentID string) error
}

// FileTool is implemented by tools that accept uploaded files.
type FileTool interface {
	Tool
	AddFile(ctx context.Context, file *models.File) error
	UpdateFile(ctx context.Context, file *models.File) error
	RemoveFile(ctx context.Context, file *models.File) error
}

// CallbackParams are the query parameters of a provider redirect.
type CallbackParams struct {
	Code  string `json:"code"`
	State string `json:"state"`
}

// AuthTool is implemented by tools that complete an OAuth redirect.
type AuthTool interface {
	Tool
	AuthCallback(ctx context.Context, params CallbackParams, state *models.OAuthState) error
}

// Handle is the scope of a loaded tool. Release is idempotent and must be
// called on every exit path.
type Handle interface {
	BuildActions(ctx context.Context) ([]Action, error)
	Release()
}

// Action is a named operation a loaded tool exposes to the model.
type Action interface {
	// Name must be a valid function name (alphanumeric, underscores, dashes).
	Name() string
	Description() string
	// Schema is the JSON Schema for the action parameters.
	Schema() json.RawMessage
	Execute(ctx context.Context, params json.RawMessage) (*Result, error)
}

// Result is the output of an action.
type Result struct {
	Content string
	IsError bool
	// Usage is billable work the action performed.
	Usage *usage.ToolUsage
	// File is produced by the action and already persisted.
	File *models.File
}

// StaticHandle is a Handle over a fixed action list with an optional release
// function.
type StaticHandle struct {
	actions []Action
	release func()
	done    bool
}

// NewStaticHandle returns a Handle exposing actions.
func NewStaticHandle(release func(), actions ...Action) *StaticHandle {
	return &StaticHandle{actions: actions, release: release}
}

func (h *StaticHandle) BuildActions(ctx context.Context) ([]Action, error) {
	return h.actions, nil
}

func (h *StaticHandle) Release() {
	if h.done {
		return
	}
	h.done = true
	if h.release != nil {
		h.release()
	}
}
