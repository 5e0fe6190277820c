package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Origin indicates who authored a thread message.
type Origin string

const (
	OriginUser  Origin = "USER"
	OriginAgent Origin = "AGENT"
)

// Thread is a conversation between a user and an agent.
type Thread struct {
	ID         string    `json:"id"`
	AgentID    string    `json:"agent_id"`
	UserID     string    `json:"user_id"`
	Name       string    `json:"name"`
	IsTestCase bool      `json:"is_test_case"`
	CreatedAt  time.Time `json:"created_at"`
}

// Message is a persisted thread message. Messages are immutable once saved.
type Message struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"thread_id"`
	Origin    Origin    `json:"origin"`
	Text      string    `json:"text"`
	Files     []*File   `json:"files,omitempty"`
	Stopped   bool      `json:"stopped,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// File is an uploaded or tool-produced file. ProcessedContent holds the
// extracted text used when the file is inlined into a prompt.
type File struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	ContentType      string    `json:"content_type"`
	Content          []byte    `json:"-"`
	ProcessedContent string    `json:"-"`
	UserID           string    `json:"user_id"`
	CreatedAt        time.Time `json:"created_at"`
}

// IsImage reports whether the file can be sent to a model as inline media.
func (f *File) IsImage() bool {
	if f == nil {
		return false
	}
	return strings.HasPrefix(f.ContentType, "image/") && !strings.HasPrefix(f.ContentType, "image/svg")
}

// ToolCall represents an LLM's request to execute a tool action.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult represents the output of a tool action.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// Attachment is inline media handed to a vision-capable model.
type Attachment struct {
	MimeType string `json:"mime_type"`
	Data     []byte `json:"-"`
	Filename string `json:"filename,omitempty"`
}
