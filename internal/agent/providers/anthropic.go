package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/vijoin/tero/internal/agent"
	"github.com/vijoin/tero/pkg/models"
)

const anthropicName = "anthropic"

// AnthropicConfig configures the Anthropic provider.
type AnthropicConfig struct {
	APIKey string
	// BaseURL overrides the API endpoint, mainly for tests and proxies.
	BaseURL    string
	MaxRetries int
	RetryDelay time.Duration
}

// AnthropicProvider streams completions from the Anthropic Messages API.
type AnthropicProvider struct {
	client anthropic.Client
	retry  retrier
}

// NewAnthropicProvider returns a provider for cfg. The API key is required.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		// Retries are handled by the provider so they can be classified.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &AnthropicProvider{
		client: anthropic.NewClient(opts...),
		retry:  newRetrier(cfg.MaxRetries, cfg.RetryDelay),
	}, nil
}

func (p *AnthropicProvider) Name() string { return anthropicName }

// Complete streams the response to req. Conversion failures are returned
// directly; request failures arrive as an error chunk.
func (p *AnthropicProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	params, err := anthropicParams(req)
	if err != nil {
		return nil, err
	}

	chunks := make(chan *agent.CompletionChunk)
	go func() {
		defer close(chunks)

		var stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
		err := p.retry.do(ctx, func() error {
			stream = p.client.Messages.NewStreaming(ctx, params)
			if err := stream.Err(); err != nil {
				stream.Close()
				return wrapAnthropicError(err, req.Model)
			}
			return nil
		})
		if err != nil {
			send(ctx, chunks, &agent.CompletionChunk{Error: wrapAnthropicError(err, req.Model)})
			return
		}
		defer stream.Close()
		processAnthropicStream(ctx, stream, chunks, req.Model)
	}()
	return chunks, nil
}

func processAnthropicStream(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- *agent.CompletionChunk, model string) {
	var (
		call         *models.ToolCall
		input        strings.Builder
		inputTokens  int
		outputTokens int
	)
	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "message_start":
			inputTokens = int(event.AsMessageStart().Message.Usage.InputTokens)

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				use := block.AsToolUse()
				call = &models.ToolCall{ID: use.ID, Name: use.Name}
				input.Reset()
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" && !send(ctx, chunks, &agent.CompletionChunk{Text: delta.Text}) {
					return
				}
			case "input_json_delta":
				input.WriteString(delta.PartialJSON)
			}

		case "content_block_stop":
			if call != nil {
				call.Input = toolInput(input.String())
				if !send(ctx, chunks, &agent.CompletionChunk{ToolCall: call}) {
					return
				}
				call = nil
			}

		case "message_delta":
			if n := int(event.AsMessageDelta().Usage.OutputTokens); n > 0 {
				outputTokens = n
			}

		case "message_stop":
			send(ctx, chunks, &agent.CompletionChunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens})
			return

		case "error":
			send(ctx, chunks, &agent.CompletionChunk{Error: wrapAnthropicError(errors.New("stream error event"), model)})
			return
		}
	}
	if err := stream.Err(); err != nil {
		send(ctx, chunks, &agent.CompletionChunk{Error: wrapAnthropicError(err, model)})
		return
	}
	send(ctx, chunks, &agent.CompletionChunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens})
}

func anthropicParams(req *agent.CompletionRequest) (anthropic.MessageNewParams, error) {
	messages, err := anthropicMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}
	tools, err := anthropicTools(req.Tools)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(req.Model),
		Messages:    messages,
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(req.Temperature),
		Tools:       tools,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	return params, nil
}

// anthropicMessages converts the conversation. Consecutive tool messages
// become one user message of tool_result blocks, as the API requires.
func anthropicMessages(messages []agent.CompletionMessage) ([]anthropic.MessageParam, error) {
	var out []anthropic.MessageParam
	var results []anthropic.ContentBlockParamUnion
	flush := func() {
		if len(results) > 0 {
			out = append(out, anthropic.NewUserMessage(results...))
			results = nil
		}
	}

	for _, m := range messages {
		switch m.Role {
		case agent.RoleTool:
			for _, r := range m.ToolResults {
				results = append(results, anthropic.NewToolResultBlock(r.ToolCallID, r.Content, r.IsError))
			}
		case agent.RoleAssistant:
			flush()
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, c := range m.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(c.ID, toolInput(string(c.Input)), c.Name))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		case agent.RoleUser:
			flush()
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, img := range m.Images {
				blocks = append(blocks, anthropic.NewImageBlockBase64(img.MimeType, base64.StdEncoding.EncodeToString(img.Data)))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewUserMessage(blocks...))
			}
		default:
			return nil, fmt.Errorf("anthropic: unsupported message role %q", m.Role)
		}
	}
	flush()
	return out, nil
}

func anthropicTools(specs []agent.ToolSpec) ([]anthropic.ToolUnionParam, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	out := make([]anthropic.ToolUnionParam, 0, len(specs))
	for _, s := range specs {
		var schema anthropic.ToolInputSchemaParam
		if len(s.Schema) > 0 {
			if err := json.Unmarshal(s.Schema, &schema); err != nil {
				return nil, fmt.Errorf("anthropic: schema of tool %s: %w", s.Name, err)
			}
		}
		tool := anthropic.ToolUnionParamOfTool(schema, s.Name)
		if s.Description != "" {
			tool.OfTool.Description = anthropic.String(s.Description)
		}
		out = append(out, tool)
	}
	return out, nil
}

type anthropicErrorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func wrapAnthropicError(err error, model string) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return newProviderError(anthropicName, model, 0, "", err)
	}

	var body anthropicErrorBody
	_ = json.Unmarshal([]byte(apiErr.RawJSON()), &body)
	e := newProviderError(anthropicName, model, apiErr.StatusCode, body.Error.Type, err)
	e.Message = body.Error.Message
	e.RequestID = apiErr.RequestID
	if body.RequestID != "" {
		e.RequestID = body.RequestID
	}
	return e
}

// toolInput returns raw as a JSON object, or an empty object when the model
// produced no valid input.
func toolInput(raw string) json.RawMessage {
	if strings.TrimSpace(raw) == "" || !json.Valid([]byte(raw)) {
		return json.RawMessage(`{}`)
	}
	return json.RawMessage(raw)
}

// send delivers chunk unless ctx is done.
func send(ctx context.Context, chunks chan<- *agent.CompletionChunk, chunk *agent.CompletionChunk) bool {
	select {
	case chunks <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}
