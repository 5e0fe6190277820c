package agent

import (
	"context"
	"encoding/json"

	"github.com/vijoin/tero/pkg/models"
)

// LLMProvider is a streaming chat model backend.
//
// Implementations must be safe for concurrent use. The returned channel is
// closed after a chunk with Done or Error set.
type LLMProvider interface {
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name returns the provider name used in logs and metrics.
	Name() string
}

// Providers maps model vendors to the provider serving them.
type Providers map[models.ModelVendor]LLMProvider

// CompletionRequest is one model call.
type CompletionRequest struct {
	Model       string
	System      string
	Messages    []CompletionMessage
	Tools       []ToolSpec
	MaxTokens   int
	Temperature float64
}

// Role values of a CompletionMessage.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// CompletionMessage is one conversation turn in provider-neutral form.
// A tool message carries exactly one result.
type CompletionMessage struct {
	Role        string
	Content     string
	Images      []models.Attachment
	ToolCalls   []models.ToolCall
	ToolResults []models.ToolResult
}

// ToolSpec describes an action the model may call.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"parameters"`
}

// CompletionChunk is one streamed piece of a model response.
type CompletionChunk struct {
	// Text is a fragment of the answer.
	Text string

	// ToolCall is a complete tool call request.
	ToolCall *models.ToolCall

	// Done marks the end of the stream. Token counts are only set on it.
	Done         bool
	InputTokens  int
	OutputTokens int

	Error error
}

// collect drains a completion stream into its text and tool calls.
func collect(chunks <-chan *CompletionChunk) (string, []models.ToolCall, *CompletionChunk, error) {
	var text string
	var calls []models.ToolCall
	var done *CompletionChunk
	for chunk := range chunks {
		switch {
		case chunk.Error != nil:
			return text, calls, nil, chunk.Error
		case chunk.ToolCall != nil:
			calls = append(calls, *chunk.ToolCall)
		case chunk.Done:
			done = chunk
		}
		text += chunk.Text
	}
	return text, calls, done, nil
}
