package agent

import "github.com/vijoin/tero/pkg/models"

// Event is produced by an answer. Events arrive in the order they happened.
type Event interface {
	// Kind names the event for transports: "status", "message", "file" or
	// "error".
	Kind() string
}

// Action is the step an ActionEvent reports.
type Action string

const (
	ActionExecutingTool Action = "executingTool"
	ActionExecutedTool  Action = "executedTool"
	ActionToolError     Action = "toolError"
	ActionPlanning      Action = "planning"
	ActionPreModelHook  Action = "preModelHook"
)

// ActionEvent reports loop progress. Result is a preview string for
// executedTool and a list of strings for planning and toolError.
type ActionEvent struct {
	Action      Action `json:"action"`
	ToolName    string `json:"toolName,omitempty"`
	Description string `json:"description,omitempty"`
	Args        string `json:"args,omitempty"`
	Result      any    `json:"result,omitempty"`
}

func (ActionEvent) Kind() string { return "status" }

// MessageEvent is a fragment of the answer text.
type MessageEvent struct {
	Content string `json:"content"`
}

func (MessageEvent) Kind() string { return "message" }

// FileEvent announces a file an action produced. The file is already stored.
type FileEvent struct {
	File *models.File `json:"file"`
}

func (FileEvent) Kind() string { return "file" }

// ErrorEvent ends an answer that failed.
type ErrorEvent struct {
	Err error `json:"-"`
}

func (ErrorEvent) Kind() string { return "error" }
