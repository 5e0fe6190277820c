package server

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"

	"github.com/vijoin/tero/internal/agent"
	"github.com/vijoin/tero/internal/tools"
	"github.com/vijoin/tero/pkg/models"
)

// notesTool accepts files and remembers which ones it holds.
type notesTool struct {
	tools.Base
}

func newNotesTool() tools.Tool {
	return &notesTool{Base: tools.NewBase("notes", "Notes", "tool with files", nil)}
}

func (t *notesTool) Setup(ctx context.Context, prev *models.ToolConfig) (map[string]any, error) {
	return t.Config(), nil
}

func (t *notesTool) Load(ctx context.Context) (tools.Handle, error) {
	return tools.NewStaticHandle(func() {}), nil
}

func (t *notesTool) put(ctx context.Context, key, value string) error {
	env := t.Env()
	return env.Stores.ToolData.Put(ctx, env.Agent.ID, t.ID(), key, value)
}

func (t *notesTool) AddFile(ctx context.Context, file *models.File) error {
	return t.put(ctx, "file:"+file.ID, string(file.Content))
}

func (t *notesTool) UpdateFile(ctx context.Context, file *models.File) error {
	return t.put(ctx, "file:"+file.ID, string(file.Content))
}

func (t *notesTool) RemoveFile(ctx context.Context, file *models.File) error {
	return t.put(ctx, "file:"+file.ID, "")
}

func (t *notesTool) Clone(ctx context.Context, toAgentID string) error {
	return t.Env().Stores.ToolData.Put(ctx, toAgentID, t.ID(), "cloned-from", t.Env().Agent.ID)
}

// capturingProvider replies with text and keeps the last request.
type capturingProvider struct {
	mu   sync.Mutex
	last *agent.CompletionRequest
}

func (p *capturingProvider) Name() string { return "capturing" }

func (p *capturingProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	p.mu.Lock()
	p.last = req
	p.mu.Unlock()
	ch := make(chan *agent.CompletionChunk, 2)
	ch <- &agent.CompletionChunk{Text: "Got it"}
	ch <- &agent.CompletionChunk{Done: true, InputTokens: 10, OutputTokens: 2}
	close(ch)
	return ch, nil
}

func (p *capturingProvider) request() *agent.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

type formPart struct {
	field       string
	filename    string
	contentType string
	content     []byte
}

func (f *fixture) multipart(t *testing.T, method, path string, parts ...formPart) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, p := range parts {
		if p.filename == "" {
			if err := mw.WriteField(p.field, string(p.content)); err != nil {
				t.Fatalf("write field: %v", err)
			}
			continue
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="`+p.field+`"; filename="`+p.filename+`"`)
		h.Set("Content-Type", p.contentType)
		w, err := mw.CreatePart(h)
		if err != nil {
			t.Fatalf("create part: %v", err)
		}
		_, _ = w.Write(p.content)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Authorization", "Bearer "+f.token)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) configureNotes(t *testing.T) {
	t.Helper()
	f.server.tools.Catalog().Register(newNotesTool)
	rec := f.do(t, http.MethodPost, "/api/agents/agent-1/tools", toolConfigRequest{ToolID: "notes", Config: map[string]any{}})
	if rec.Code != http.StatusOK {
		t.Fatalf("configure notes status = %d: %s", rec.Code, rec.Body.String())
	}
}

func (f *fixture) toolData(t *testing.T, agentID, key string) string {
	t.Helper()
	v, _ := f.stores.ToolData.Get(context.Background(), agentID, "notes", key)
	return v
}

func TestToolFilesOverHTTP(t *testing.T) {
	f := newFixture(t, &replyProvider{text: "hi"})
	f.configureNotes(t)
	base := "/api/agents/agent-1/tools/notes/files"

	rec := f.multipart(t, http.MethodPost, base, formPart{field: "file", filename: "a.txt", contentType: "text/plain", content: []byte("first")})
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload status = %d: %s", rec.Code, rec.Body.String())
	}
	var uploaded models.File
	decodeBody(t, rec, &uploaded)
	if uploaded.ID == "" || uploaded.Name != "a.txt" || uploaded.UserID != testUserID {
		t.Fatalf("uploaded = %+v", uploaded)
	}
	if got := f.toolData(t, "agent-1", "file:"+uploaded.ID); got != "first" {
		t.Errorf("tool saw %q, want first", got)
	}

	rec = f.do(t, http.MethodGet, base, nil)
	var listed []models.File
	decodeBody(t, rec, &listed)
	if len(listed) != 1 || listed[0].ID != uploaded.ID {
		t.Fatalf("listed = %+v", listed)
	}

	rec = f.multipart(t, http.MethodPut, base+"/"+uploaded.ID, formPart{field: "file", filename: "b.txt", contentType: "text/plain", content: []byte("second")})
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d: %s", rec.Code, rec.Body.String())
	}
	if got := f.toolData(t, "agent-1", "file:"+uploaded.ID); got != "second" {
		t.Errorf("tool saw %q after update, want second", got)
	}
	stored, err := f.stores.Files.Get(context.Background(), uploaded.ID)
	if err != nil || stored.Name != "b.txt" {
		t.Fatalf("stored file = %+v, err = %v", stored, err)
	}

	rec = f.do(t, http.MethodDelete, base+"/"+uploaded.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d: %s", rec.Code, rec.Body.String())
	}
	rec = f.do(t, http.MethodDelete, base+"/"+uploaded.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want 404", rec.Code)
	}
	if _, err := f.stores.Files.Get(context.Background(), uploaded.ID); err == nil {
		t.Error("file still stored after delete")
	}
}

func TestToolFileErrors(t *testing.T) {
	f := newFixture(t, &replyProvider{text: "hi"})
	if rec := f.do(t, http.MethodPost, "/api/agents/agent-1/tools", toolConfigRequest{ToolID: "plain", Config: map[string]any{"apiKey": "k"}}); rec.Code != http.StatusOK {
		t.Fatalf("configure status = %d", rec.Code)
	}
	upload := formPart{field: "file", filename: "a.txt", contentType: "text/plain", content: []byte("x")}

	tests := []struct {
		name       string
		path       string
		wantStatus int
	}{
		{name: "tool without files", path: "/api/agents/agent-1/tools/plain/files", wantStatus: http.StatusBadRequest},
		{name: "unconfigured tool", path: "/api/agents/agent-1/tools/gated/files", wantStatus: http.StatusNotFound},
		{name: "foreign agent", path: "/api/agents/agent-2/tools/plain/files", wantStatus: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.multipart(t, http.MethodPost, tt.path, upload)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}

	rec := f.multipart(t, http.MethodPost, "/api/agents/agent-1/tools/plain/files", formPart{field: "text", content: []byte("no file")})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing file status = %d, want 400", rec.Code)
	}
}

func TestCloneAgentOverHTTP(t *testing.T) {
	f := newFixture(t, &replyProvider{text: "hi"})
	f.configureNotes(t)
	ctx := context.Background()

	thread := &models.Thread{AgentID: "agent-1", UserID: testUserID, IsTestCase: true, Name: "math"}
	if err := f.stores.Threads.Create(ctx, thread); err != nil {
		t.Fatalf("create thread: %v", err)
	}
	if err := f.stores.Threads.AddMessage(ctx, &models.Message{ThreadID: thread.ID, Origin: models.OriginUser, Text: "2+2?"}); err != nil {
		t.Fatalf("add message: %v", err)
	}
	if err := f.stores.TestSuites.CreateCase(ctx, &models.TestCase{ThreadID: thread.ID, AgentID: "agent-1"}); err != nil {
		t.Fatalf("create case: %v", err)
	}

	rec := f.do(t, http.MethodPost, "/api/agents/agent-1/clone", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("clone status = %d: %s", rec.Code, rec.Body.String())
	}
	var clone models.Agent
	decodeBody(t, rec, &clone)
	if clone.ID == "" || clone.ID == "agent-1" || clone.Name != "Helper" || clone.OwnerID != testUserID {
		t.Fatalf("clone = %+v", clone)
	}

	configs, err := f.stores.ToolConfigs.ListByAgent(ctx, clone.ID)
	if err != nil || len(configs) != 1 || configs[0].ToolID != "notes" {
		t.Fatalf("cloned configs = %+v, err = %v", configs, err)
	}
	if got := f.toolData(t, clone.ID, "cloned-from"); got != "agent-1" {
		t.Errorf("tool clone state = %q, want agent-1", got)
	}
	cases, err := f.stores.TestSuites.ListCases(ctx, clone.ID)
	if err != nil || len(cases) != 1 {
		t.Fatalf("cloned cases = %+v, err = %v", cases, err)
	}

	rec = f.do(t, http.MethodPost, "/api/agents/missing/clone", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing agent clone status = %d, want 404", rec.Code)
	}
}

func pngBytes(t *testing.T, width, height int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, width, height))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestAddMessageWithAttachments(t *testing.T) {
	provider := &capturingProvider{}
	f := newFixture(t, provider)
	thread := f.newThread(t)

	rec := f.multipart(t, http.MethodPost, "/api/threads/"+thread.ID+"/messages",
		formPart{field: "text", content: []byte("Summarize these")},
		formPart{field: "files", filename: "notes.txt", contentType: "text/plain", content: []byte("line one\r\nline two")},
		formPart{field: "files", filename: "big.png", contentType: "image/png", content: pngBytes(t, 4000, 1000)},
	)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	req := provider.request()
	if req == nil {
		t.Fatal("model was not called")
	}
	var user *agent.CompletionMessage
	for i := range req.Messages {
		if req.Messages[i].Role == agent.RoleUser {
			user = &req.Messages[i]
		}
	}
	if user == nil {
		t.Fatalf("no user message in %+v", req.Messages)
	}
	if !strings.Contains(user.Content, "line one\nline two") || !strings.Contains(user.Content, "notes.txt") {
		t.Errorf("text attachment not inlined: %q", user.Content)
	}
	if len(user.Images) != 1 {
		t.Fatalf("images = %d, want 1", len(user.Images))
	}
	if user.Images[0].MimeType != "image/jpeg" {
		t.Errorf("image type = %q, want downscaled jpeg", user.Images[0].MimeType)
	}

	messages, err := f.stores.Threads.ListMessages(context.Background(), thread.ID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(messages) != 2 || len(messages[0].Files) != 2 {
		t.Fatalf("messages = %+v", messages)
	}

	fileID := messages[0].Files[0].ID
	rec = f.do(t, http.MethodGet, "/api/threads/"+thread.ID+"/files/"+fileID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("file metadata status = %d", rec.Code)
	}
	var meta models.File
	decodeBody(t, rec, &meta)
	if meta.ID != fileID {
		t.Errorf("metadata id = %q, want %q", meta.ID, fileID)
	}

	rec = f.do(t, http.MethodGet, "/api/threads/"+thread.ID+"/files/"+fileID+"/content", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("download status = %d", rec.Code)
	}
	if !bytes.Equal(rec.Body.Bytes(), messages[0].Files[0].Content) {
		t.Errorf("downloaded %d bytes, want %d", rec.Body.Len(), len(messages[0].Files[0].Content))
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.HasPrefix(cd, "attachment") {
		t.Errorf("content disposition = %q", cd)
	}

	rec = f.do(t, http.MethodGet, "/api/threads/"+thread.ID+"/files/unknown", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown file status = %d, want 404", rec.Code)
	}
}
