package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/vijoin/tero/internal/auth"
	"github.com/vijoin/tero/internal/observability"
	"github.com/vijoin/tero/internal/storage"
	"github.com/vijoin/tero/internal/tools"
	"github.com/vijoin/tero/pkg/models"
)

const maxBodyBytes = 1 << 20

// errorResponse is the body of every non-streamed failure.
type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

// authorizationResponse tells the client where to send the user to
// authorize a tool.
type authorizationResponse struct {
	OAuthURL   string `json:"oauthUrl"`
	OAuthState string `json:"oauthState"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeAuthorizationRequired(w http.ResponseWriter, authErr *tools.AuthorizationRequiredError) {
	writeJSON(w, http.StatusUnauthorized, authorizationResponse{
		OAuthURL:   authErr.AuthURL,
		OAuthState: authErr.State,
	})
}

// decodeJSON reads a bounded JSON body into v. An empty body leaves v
// untouched.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

// currentUser returns the authenticated user or writes 401.
func currentUser(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	return user, true
}

// loadAgent returns the agent addressed by the agentID path value when the
// user owns it. Missing and foreign agents are both 404.
func (s *Server) loadAgent(w http.ResponseWriter, r *http.Request, user *models.User) (*models.Agent, bool) {
	return s.ownedAgent(w, r, strings.TrimSpace(r.PathValue("agentID")), user)
}

func (s *Server) ownedAgent(w http.ResponseWriter, r *http.Request, agentID string, user *models.User) (*models.Agent, bool) {
	ag, err := s.stores.Agents.Get(r.Context(), agentID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && ag.OwnerID != user.ID) {
		writeError(w, http.StatusNotFound, "Agent not found")
		return nil, false
	}
	if err != nil {
		s.internalError(w, r, "load agent", err)
		return nil, false
	}
	return ag, true
}

// loadThread returns the thread addressed by the threadID path value when
// it belongs to the user.
func (s *Server) loadThread(w http.ResponseWriter, r *http.Request, user *models.User) (*models.Thread, bool) {
	thread, err := s.stores.Threads.Get(r.Context(), r.PathValue("threadID"))
	if errors.Is(err, storage.ErrNotFound) || (err == nil && thread.UserID != user.ID) {
		writeError(w, http.StatusNotFound, "Thread not found")
		return nil, false
	}
	if err != nil {
		s.internalError(w, r, "load thread", err)
		return nil, false
	}
	return thread, true
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	s.logger.ErrorContext(r.Context(), op, "path", r.URL.Path, "error", err)
	writeJSON(w, http.StatusInternalServerError, errorResponse{
		Error:     "internal error",
		RequestID: observability.GetRequestID(r.Context()),
	})
}
