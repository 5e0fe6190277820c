package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/vijoin/tero/internal/agent"
	"github.com/vijoin/tero/internal/observability"
	"github.com/vijoin/tero/internal/tools"
	"github.com/vijoin/tero/internal/usage"
	"github.com/vijoin/tero/pkg/models"
)

const quotaExceeded = "quotaExceeded"

type createThreadRequest struct {
	AgentID string `json:"agentId"`
}

type messageRequest struct {
	Text  string         `json:"text"`
	Files []*models.File `json:"-"`
}

// readMessageRequest accepts either a JSON body or a multipart form with a
// "text" field and any number of "files" attachments. Attachments are
// prepared for the model but not yet saved.
func (s *Server) readMessageRequest(w http.ResponseWriter, r *http.Request, userID string) (messageRequest, error) {
	var req messageRequest
	if !isMultipart(r) {
		err := decodeJSON(r, &req)
		return req, err
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return req, fmt.Errorf("parse message form: %w", err)
	}
	req.Text = r.FormValue("text")
	for _, fh := range r.MultipartForm.File["files"] {
		file, err := readUpload(fh, userID)
		if err != nil {
			return req, err
		}
		s.prepareAttachment(r, file)
		req.Files = append(req.Files, file)
	}
	return req, nil
}

// userMessageEvent opens an answer stream with the persisted user message.
type userMessageEvent struct {
	ID    string         `json:"id"`
	Files []*models.File `json:"files"`
}

// metadataEvent closes an answer stream with the persisted reply.
type metadataEvent struct {
	AnswerMessageID string         `json:"answerMessageId"`
	Files           []*models.File `json:"files"`
	Stopped         bool           `json:"stopped"`
}

// handleCreateThread handles POST /api/threads.
func (s *Server) handleCreateThread(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req createThreadRequest
	if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.AgentID) == "" {
		writeError(w, http.StatusBadRequest, "agentId is required")
		return
	}
	ag, ok := s.ownedAgent(w, r, req.AgentID, user)
	if !ok {
		return
	}
	thread := &models.Thread{AgentID: ag.ID, UserID: user.ID}
	if err := s.stores.Threads.Create(r.Context(), thread); err != nil {
		s.internalError(w, r, "create thread", err)
		return
	}
	writeJSON(w, http.StatusCreated, thread)
}

// handleListMessages handles GET /api/threads/{threadID}/messages.
func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	thread, ok := s.loadThread(w, r, user)
	if !ok {
		return
	}
	messages, err := s.stores.Threads.ListMessages(r.Context(), thread.ID)
	if err != nil {
		s.internalError(w, r, "list messages", err)
		return
	}
	if messages == nil {
		messages = []*models.Message{}
	}
	writeJSON(w, http.StatusOK, messages)
}

// handleAddMessage handles POST /api/threads/{threadID}/messages. Quota and
// tool authorization are checked before the user message is persisted, so
// a rejected request leaves the thread untouched. The answer then streams
// as server-sent events and the reply is persisted once it completes or is
// stopped.
func (s *Server) handleAddMessage(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	thread, ok := s.loadThread(w, r, user)
	if !ok {
		return
	}
	ctx := observability.WithThreadID(r.Context(), thread.ID)

	req, err := s.readMessageRequest(w, r, user.ID)
	if err != nil || (strings.TrimSpace(req.Text) == "" && len(req.Files) == 0) {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	ag, err := s.stores.Agents.Get(ctx, thread.AgentID)
	if err != nil {
		s.internalError(w, r, "load thread agent", err)
		return
	}

	if err := s.engine.CheckQuota(ctx, user.ID); err != nil {
		if errors.Is(err, usage.ErrQuotaExceeded) {
			writeError(w, http.StatusTooManyRequests, quotaExceeded)
			return
		}
		s.internalError(w, r, "check quota", err)
		return
	}
	history, err := s.stores.Threads.ListMessages(ctx, thread.ID)
	if err != nil {
		s.internalError(w, r, "list messages", err)
		return
	}

	turn, err := s.engine.Begin(ctx, ag, user.ID, thread.ID)
	if err != nil {
		if authErr, ok := tools.AsAuthorizationRequired(err); ok {
			s.recordOAuth(oauthRedirect)
			writeAuthorizationRequired(w, authErr)
			return
		}
		s.internalError(w, r, "begin answer", err)
		return
	}
	defer turn.Close()

	for _, f := range req.Files {
		if err := s.stores.Files.Create(ctx, f); err != nil {
			s.internalError(w, r, "save attachment", err)
			return
		}
	}
	msg := &models.Message{ThreadID: thread.ID, Origin: models.OriginUser, Text: req.Text, Files: req.Files}
	if err := s.stores.Threads.AddMessage(ctx, msg); err != nil {
		s.internalError(w, r, "save user message", err)
		return
	}

	stream, err := startStream(w, http.StatusCreated)
	if err != nil {
		s.internalError(w, r, "start answer stream", err)
		return
	}
	_ = stream.SendJSON("userMessage", userMessageEvent{ID: msg.ID, Files: nonNilFiles(msg.Files)})

	mu := usage.NewMessageUsage(user.ID, ag.ID, ag.ModelID, msg.ID)
	if len(history) == 0 && strings.TrimSpace(msg.Text) != "" {
		s.nameThread(ctx, thread, msg.Text, mu)
	}

	stop, done := s.cancels.Start(thread.ID)
	defer done()

	var (
		answer  strings.Builder
		files   []*models.File
		failure error
	)
	// The channel is always drained so the answer can release its tools
	// and record usage even after the client has gone.
	for ev := range turn.Answer(ctx, append(history, msg), mu, stop.Done()) {
		switch e := ev.(type) {
		case agent.ActionEvent:
			_ = stream.SendJSON("status", e)
		case agent.MessageEvent:
			answer.WriteString(e.Content)
			_ = stream.Send("", e.Content)
		case agent.FileEvent:
			files = append(files, e.File)
		case agent.ErrorEvent:
			failure = e.Err
		}
	}
	stopped := stop.Err() != nil

	if failure != nil {
		s.logger.ErrorContext(ctx, "answer message",
			"agent_id", ag.ID,
			"thread_id", thread.ID,
			"user_id", user.ID,
			"error", failure)
		reason := "answer failed"
		if errors.Is(failure, usage.ErrQuotaExceeded) {
			reason = quotaExceeded
		}
		_ = stream.SendJSON("error", errorResponse{Error: reason})
		return
	}

	reply := &models.Message{
		ThreadID: thread.ID,
		Origin:   models.OriginAgent,
		Text:     answer.String(),
		Files:    files,
		Stopped:  stopped,
	}
	if err := s.stores.Threads.AddMessage(context.WithoutCancel(ctx), reply); err != nil {
		s.logger.ErrorContext(ctx, "save answer", "thread_id", thread.ID, "error", err)
		_ = stream.SendJSON("error", errorResponse{Error: "answer failed"})
		return
	}
	_ = stream.SendJSON("metadata", metadataEvent{
		AnswerMessageID: reply.ID,
		Files:           nonNilFiles(files),
		Stopped:         stopped,
	})
}

// nameThread titles a thread after its first message. Failures leave the
// thread unnamed.
func (s *Server) nameThread(ctx context.Context, thread *models.Thread, text string, mu *usage.MessageUsage) {
	name, err := s.engine.BuildThreadName(ctx, text, mu)
	if err != nil {
		s.logger.WarnContext(ctx, "build thread name", "thread_id", thread.ID, "error", err)
		return
	}
	if err := s.stores.Threads.UpdateName(ctx, thread.ID, name); err != nil {
		s.logger.WarnContext(ctx, "update thread name", "thread_id", thread.ID, "error", err)
		return
	}
	thread.Name = name
}

// handleStop handles POST /api/threads/{threadID}/stop. It is 400 when no
// answer is streaming for the thread.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	thread, ok := s.loadThread(w, r, user)
	if !ok {
		return
	}
	if !s.cancels.Stop(thread.ID) {
		writeError(w, http.StatusBadRequest, "no answer in progress")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"stopped": true})
}

func nonNilFiles(files []*models.File) []*models.File {
	if files == nil {
		return []*models.File{}
	}
	return files
}
