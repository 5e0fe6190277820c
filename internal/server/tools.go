package server

import (
	"context"
	"errors"
	"net/http"

	"go.opentelemetry.io/otel/attribute"

	"github.com/vijoin/tero/internal/oauth"
	"github.com/vijoin/tero/internal/observability"
	"github.com/vijoin/tero/internal/storage"
	"github.com/vijoin/tero/internal/tools"
	"github.com/vijoin/tero/pkg/models"
)

// OAuth flow outcomes as counted by metrics.
const (
	oauthRedirect     = "redirect"
	oauthCompleted    = "completed"
	oauthCancelled    = "cancelled"
	oauthInvalidState = "invalid_state"
	oauthFailed       = "failed"
	oauthError        = "error"
)

type toolConfigRequest struct {
	ToolID string         `json:"toolId"`
	Config map[string]any `json:"config"`
}

type toolConfigResponse struct {
	ToolID string         `json:"toolId"`
	Config map[string]any `json:"config"`
}

func newToolConfigResponse(cfg *models.ToolConfig) toolConfigResponse {
	return toolConfigResponse{ToolID: cfg.ToolID, Config: cfg.Config}
}

func (s *Server) recordOAuth(outcome string) {
	if s.metrics != nil {
		s.metrics.RecordOAuthFlow(outcome)
	}
}

// handleListTools handles GET /api/tools.
func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	if _, ok := currentUser(w, r); !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.tools.Catalog().List())
}

// handleListAgentTools handles GET /api/agents/{agentID}/tools.
func (s *Server) handleListAgentTools(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	ag, ok := s.loadAgent(w, r, user)
	if !ok {
		return
	}
	configs, err := s.tools.List(r.Context(), ag.ID)
	if err != nil {
		s.internalError(w, r, "list tool configs", err)
		return
	}
	out := make([]toolConfigResponse, 0, len(configs))
	for _, cfg := range configs {
		out = append(out, newToolConfigResponse(cfg))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleConfigureTool handles POST /api/agents/{agentID}/tools. A tool that
// needs the user to authorize answers 401 with the redirect; its config is
// kept as a draft until the callback completes.
func (s *Server) handleConfigureTool(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	ag, ok := s.loadAgent(w, r, user)
	if !ok {
		return
	}
	var req toolConfigRequest
	if err := decodeJSON(r, &req); err != nil || req.ToolID == "" {
		writeError(w, http.StatusBadRequest, "Invalid tool configuration")
		return
	}

	saved, err := s.tools.Configure(r.Context(), ag, user.ID, req.ToolID, req.Config)
	if err != nil {
		if authErr, ok := tools.AsAuthorizationRequired(err); ok {
			s.recordOAuth(oauthRedirect)
			writeAuthorizationRequired(w, authErr)
			return
		}
		switch {
		case errors.Is(err, tools.ErrToolNotFound):
			writeError(w, http.StatusBadRequest, "Invalid tool id")
		case tools.IsInvalidConfiguration(err):
			writeError(w, http.StatusBadRequest, "Invalid tool configuration")
		default:
			s.internalError(w, r, "configure tool", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, newToolConfigResponse(saved))
}

// handleDeleteTool handles DELETE /api/agents/{agentID}/tools/{toolID}.
func (s *Server) handleDeleteTool(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	ag, ok := s.loadAgent(w, r, user)
	if !ok {
		return
	}
	err := s.tools.Remove(r.Context(), ag, user.ID, r.PathValue("toolID"))
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, tools.ErrToolNotFound):
		writeError(w, http.StatusNotFound, "Tool config not found")
	default:
		s.internalError(w, r, "remove tool", err)
	}
}

// handleOAuthCallback handles the provider redirect relayed by the
// frontend. GET carries code and state as query parameters, POST as a JSON
// body.
func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	toolID := r.PathValue("toolID")

	params := tools.CallbackParams{
		Code:  r.URL.Query().Get("code"),
		State: r.URL.Query().Get("state"),
	}
	if r.Method == http.MethodPost {
		if err := decodeJSON(r, &params); err != nil {
			writeError(w, http.StatusBadRequest, "invalid callback")
			return
		}
	}
	if params.State == "" {
		s.recordOAuth(oauthInvalidState)
		writeError(w, http.StatusBadRequest, "missing state")
		return
	}

	var saved *models.ToolConfig
	err := observability.WithSpan(r.Context(), s.tracer, "oauth.callback", func(ctx context.Context) error {
		var err error
		saved, err = s.oauth.HandleCallback(ctx, user.ID, toolID, params)
		return err
	}, attribute.String("tool.id", toolID))

	if err == nil {
		s.recordOAuth(oauthCompleted)
		writeJSON(w, http.StatusOK, newToolConfigResponse(saved))
		return
	}
	if authErr, ok := tools.AsAuthorizationRequired(err); ok {
		s.recordOAuth(oauthRedirect)
		writeAuthorizationRequired(w, authErr)
		return
	}
	var callbackErr *oauth.CallbackError
	switch {
	case errors.Is(err, tools.ErrToolNotFound):
		writeError(w, http.StatusNotFound, "Tool not found")
	case errors.Is(err, oauth.ErrInvalidState):
		s.recordOAuth(oauthInvalidState)
		writeError(w, http.StatusBadRequest, "invalid state")
	case errors.Is(err, oauth.ErrAuthenticationCancelled):
		s.recordOAuth(oauthCancelled)
		writeError(w, http.StatusBadRequest, "Authentication cancelled")
	case errors.As(err, &callbackErr):
		s.recordOAuth(oauthFailed)
		s.logger.WarnContext(r.Context(), "oauth callback rejected", "tool_id", toolID, "error", err)
		writeError(w, http.StatusUnauthorized, "authentication failed, try again")
	case tools.IsInvalidConfiguration(err):
		s.recordOAuth(oauthFailed)
		writeError(w, http.StatusBadRequest, "Invalid tool configuration")
	default:
		s.recordOAuth(oauthError)
		s.internalError(w, r, "oauth callback", err)
	}
}
