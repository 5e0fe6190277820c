package providers

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/vijoin/tero/internal/agent"
	"github.com/vijoin/tero/pkg/models"
)

const openaiName = "openai"

// OpenAIConfig configures the OpenAI provider.
type OpenAIConfig struct {
	APIKey string
	// BaseURL points the client at a compatible endpoint.
	BaseURL    string
	MaxRetries int
	RetryDelay time.Duration
}

// OpenAIProvider streams chat completions from the OpenAI API.
type OpenAIProvider struct {
	client *openai.Client
	retry  retrier
}

// NewOpenAIProvider returns a provider for cfg. The API key is required.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	return &OpenAIProvider{
		client: openai.NewClientWithConfig(config),
		retry:  newRetrier(cfg.MaxRetries, cfg.RetryDelay),
	}, nil
}

func (p *OpenAIProvider) Name() string { return openaiName }

// Complete opens a completion stream for req, retrying transient failures
// before the first byte.
func (p *OpenAIProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	messages, err := openaiMessages(req.Messages, req.System)
	if err != nil {
		return nil, err
	}
	chatReq := openai.ChatCompletionRequest{
		Model:         req.Model,
		Messages:      messages,
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
		Temperature:   float32(req.Temperature),
		Tools:         openaiTools(req.Tools),
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}

	var stream *openai.ChatCompletionStream
	err = p.retry.do(ctx, func() error {
		var err error
		stream, err = p.client.CreateChatCompletionStream(ctx, chatReq)
		return wrapOpenAIError(err, req.Model)
	})
	if err != nil {
		return nil, wrapOpenAIError(err, req.Model)
	}

	chunks := make(chan *agent.CompletionChunk)
	go func() {
		defer close(chunks)
		defer stream.Close()
		processOpenAIStream(ctx, stream, chunks, req.Model)
	}()
	return chunks, nil
}

type openaiStream interface {
	Recv() (openai.ChatCompletionStreamResponse, error)
}

func processOpenAIStream(ctx context.Context, stream openaiStream, chunks chan<- *agent.CompletionChunk, model string) {
	pending := map[int]*pendingCall{}
	var inputTokens, outputTokens int

	flush := func() bool {
		for _, c := range sortedCalls(pending) {
			if c.id == "" || c.name == "" {
				continue
			}
			call := &models.ToolCall{ID: c.id, Name: c.name, Input: toolInput(c.args.String())}
			if !send(ctx, chunks, &agent.CompletionChunk{ToolCall: call}) {
				return false
			}
		}
		pending = map[int]*pendingCall{}
		return true
	}

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			if flush() {
				send(ctx, chunks, &agent.CompletionChunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens})
			}
			return
		}
		if err != nil {
			send(ctx, chunks, &agent.CompletionChunk{Error: wrapOpenAIError(err, model)})
			return
		}

		if resp.Usage != nil {
			inputTokens = resp.Usage.PromptTokens
			outputTokens = resp.Usage.CompletionTokens
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]
		if choice.Delta.Content != "" && !send(ctx, chunks, &agent.CompletionChunk{Text: choice.Delta.Content}) {
			return
		}
		for _, tc := range choice.Delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			c, ok := pending[index]
			if !ok {
				c = &pendingCall{index: index}
				pending[index] = c
			}
			if tc.ID != "" {
				c.id = tc.ID
			}
			if tc.Function.Name != "" {
				c.name = tc.Function.Name
			}
			c.args.WriteString(tc.Function.Arguments)
		}
		if choice.FinishReason == openai.FinishReasonToolCalls && !flush() {
			return
		}
	}
}

// pendingCall is a tool call whose arguments are still streaming.
type pendingCall struct {
	index    int
	id, name string
	args     strings.Builder
}

func sortedCalls(pending map[int]*pendingCall) []*pendingCall {
	out := make([]*pendingCall, 0, len(pending))
	for _, c := range pending {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].index < out[j].index })
	return out
}

func openaiMessages(messages []agent.CompletionMessage, system string) ([]openai.ChatCompletionMessage, error) {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, m := range messages {
		switch m.Role {
		case agent.RoleUser:
			msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
			if len(m.Images) == 0 {
				msg.Content = m.Content
			} else {
				if m.Content != "" {
					msg.MultiContent = append(msg.MultiContent, openai.ChatMessagePart{
						Type: openai.ChatMessagePartTypeText,
						Text: m.Content,
					})
				}
				for _, img := range m.Images {
					msg.MultiContent = append(msg.MultiContent, openai.ChatMessagePart{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    dataURL(img),
							Detail: openai.ImageURLDetailAuto,
						},
					})
				}
			}
			out = append(out, msg)
		case agent.RoleAssistant:
			msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: m.Content}
			for _, c := range m.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   c.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      c.Name,
						Arguments: string(toolInput(string(c.Input))),
					},
				})
			}
			out = append(out, msg)
		case agent.RoleTool:
			for _, r := range m.ToolResults {
				out = append(out, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    r.Content,
					ToolCallID: r.ToolCallID,
				})
			}
		default:
			return nil, fmt.Errorf("openai: unsupported message role %q", m.Role)
		}
	}
	return out, nil
}

func dataURL(img models.Attachment) string {
	return "data:" + img.MimeType + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}

func openaiTools(specs []agent.ToolSpec) []openai.Tool {
	if len(specs) == 0 {
		return nil
	}
	out := make([]openai.Tool, len(specs))
	for i, s := range specs {
		var params any = s.Schema
		if len(s.Schema) == 0 {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        s.Name,
				Description: s.Description,
				Parameters:  params,
			},
		}
	}
	return out
}

func wrapOpenAIError(err error, model string) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.Type
		if s, ok := apiErr.Code.(string); ok && s != "" {
			code = s
		}
		e := newProviderError(openaiName, model, apiErr.HTTPStatusCode, code, err)
		e.Message = apiErr.Message
		return e
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return newProviderError(openaiName, model, reqErr.HTTPStatusCode, "", err)
	}
	return newProviderError(openaiName, model, 0, "", err)
}
