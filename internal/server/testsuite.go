package server

import (
	"context"
	"net/http"
	"time"

	"github.com/vijoin/tero/pkg/models"
)

type runSuiteRequest struct {
	// TestCaseIDs restricts the run. Nil runs every case.
	TestCaseIDs []string `json:"testCaseIds"`
}

// handleRunSuite handles POST /api/agents/{agentID}/test-suite/runs. Only
// one suite may run per agent. Suite events stream as server-sent events
// named after their type; once the stream ends the run is checked for
// orphaned state, also when the client disconnected early.
func (s *Server) handleRunSuite(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	ag, ok := s.loadAgent(w, r, user)
	if !ok {
		return
	}
	var req runSuiteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	all, err := s.stores.TestSuites.ListCases(r.Context(), ag.ID)
	if err != nil {
		s.internalError(w, r, "list test cases", err)
		return
	}
	if len(all) == 0 {
		writeError(w, http.StatusBadRequest, "agent has no test cases")
		return
	}
	selected := selectCases(all, req.TestCaseIDs)
	if len(selected) == 0 {
		writeError(w, http.StatusBadRequest, "no matching test cases")
		return
	}

	running, err := s.stores.TestSuites.ListRunning(r.Context(), time.Now().UTC())
	if err != nil {
		s.internalError(w, r, "list running suites", err)
		return
	}
	for _, run := range running {
		if run.AgentID == ag.ID {
			writeError(w, http.StatusConflict, "a test suite is already running")
			return
		}
	}

	run, events, err := s.runner.Run(r.Context(), ag, user.ID, all, selected)
	if err != nil {
		s.internalError(w, r, "start test suite", err)
		return
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), time.Minute)
		defer cancel()
		if err := s.runner.CleanupOrphaned(ctx, run.ID, ag.ID); err != nil {
			s.logger.ErrorContext(ctx, "cleanup suite run", "suite_run_id", run.ID, "error", err)
		}
	}()

	stream, err := startStream(w, http.StatusCreated)
	if err != nil {
		// The suite runs without a listener; drain it.
		for range events {
		}
		s.logger.ErrorContext(r.Context(), "start suite stream", "error", err)
		return
	}
	for ev := range events {
		_ = stream.SendJSON(string(ev.Type), ev.Data)
	}
}

func selectCases(all []*models.TestCase, ids []string) []*models.TestCase {
	if ids == nil {
		return all
	}
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	var out []*models.TestCase
	for _, tc := range all {
		if wanted[tc.ThreadID] {
			out = append(out, tc)
		}
	}
	return out
}
