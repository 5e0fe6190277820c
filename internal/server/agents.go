package server

import (
	"net/http"

	"github.com/vijoin/tero/pkg/models"
)

// handleCloneAgent handles POST /api/agents/{agentID}/clone. The copy is
// owned by the caller and gets its own tool configs, tool state and test
// cases.
func (s *Server) handleCloneAgent(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	src, ok := s.loadAgent(w, r, user)
	if !ok {
		return
	}
	ctx := r.Context()

	clone := &models.Agent{
		Name:         src.Name,
		Description:  src.Description,
		SystemPrompt: src.SystemPrompt,
		ModelID:      src.ModelID,
		Temperature:  src.Temperature,
		OwnerID:      user.ID,
	}
	if err := s.stores.Agents.Create(ctx, clone); err != nil {
		s.internalError(w, r, "create agent clone", err)
		return
	}
	if err := s.tools.CloneAgentTools(ctx, src, clone, user.ID); err != nil {
		s.internalError(w, r, "clone agent tools", err)
		return
	}
	if _, err := s.runner.CloneCases(ctx, src.ID, clone.ID, user.ID); err != nil {
		s.internalError(w, r, "clone test cases", err)
		return
	}
	s.logger.InfoContext(ctx, "cloned agent", "agent_id", src.ID, "clone_id", clone.ID, "user_id", user.ID)
	writeJSON(w, http.StatusCreated, clone)
}
