package agent

import (
	"strings"

	agentctx "github.com/vijoin/tero/internal/agent/context"
	"github.com/vijoin/tero/internal/tokens"
	"github.com/vijoin/tero/pkg/models"
)

// turn is a conversation message together with its trimmable content.
type turn struct {
	msg   CompletionMessage
	parts []agentctx.Part
}

// historyTurns converts stored thread messages into model turns. Images are
// sent as inline media and other files are inlined as their extracted text.
// Messages without content are skipped.
func historyTurns(messages []*models.Message) []turn {
	out := make([]turn, 0, len(messages))
	for _, m := range messages {
		if m.Origin != models.OriginUser {
			if strings.TrimSpace(m.Text) != "" {
				out = append(out, textTurn(RoleAssistant, m.Text))
			}
			continue
		}
		var parts []agentctx.Part
		if strings.TrimSpace(m.Text) != "" {
			parts = append(parts, agentctx.Part{Text: m.Text})
		}
		for _, f := range m.Files {
			if f.IsImage() {
				parts = append(parts, agentctx.Part{Image: &models.Attachment{
					MimeType: f.ContentType,
					Data:     f.Content,
					Filename: f.Name,
				}})
				continue
			}
			if f.ProcessedContent != "" {
				parts = append(parts, agentctx.Part{Text: "\n\n File named: " + f.Name + "\n\n" + f.ProcessedContent})
			}
		}
		if len(parts) == 0 {
			continue
		}
		out = append(out, turn{msg: CompletionMessage{Role: RoleUser}, parts: parts})
	}
	return out
}

func textTurn(role, text string) turn {
	return turn{msg: CompletionMessage{Role: role}, parts: []agentctx.Part{{Text: text}}}
}

func assistantTurn(text string, calls []models.ToolCall) turn {
	t := turn{msg: CompletionMessage{Role: RoleAssistant, ToolCalls: calls}}
	if text != "" {
		t.parts = []agentctx.Part{{Text: text}}
	}
	return t
}

func toolTurn(callID, content string, isError bool) turn {
	return turn{
		msg:   CompletionMessage{Role: RoleTool, ToolResults: []models.ToolResult{{ToolCallID: callID, IsError: isError}}},
		parts: []agentctx.Part{{Text: content}},
	}
}

// window is the trimmed model input of one call.
type window struct {
	messages []CompletionMessage
	// tokens is the estimated input size including system prompt and tools.
	tokens int
}

// buildWindow trims the conversation to the model's budget and renders the
// kept turns.
func buildWindow(turns []turn, model *models.LLMModel, system string, specs []ToolSpec) window {
	trimmed := make([]agentctx.Message, len(turns))
	for i, t := range turns {
		trimmed[i] = agentctx.Message{
			Role:  trimRole(t.msg.Role),
			Parts: t.parts,
			Index: i,
		}
		if len(t.msg.ToolCalls) > 0 {
			trimmed[i].Overhead = tokens.JSON(t.msg.ToolCalls)
		}
	}

	budget := agentctx.Budget{
		TokenLimit:    model.TokenLimit,
		OutputReserve: model.OutputTokenLimit,
		SystemTokens:  tokens.MessageOverhead + tokens.Text(system),
		ToolsTokens:   tokens.JSON(specs),
	}
	kept := trimmed
	if model.TokenLimit > 0 {
		kept = agentctx.Trim(trimmed, budget)
	}

	w := window{tokens: budget.SystemTokens + budget.ToolsTokens}
	for _, m := range kept {
		w.messages = append(w.messages, render(turns[m.Index].msg, m.Parts))
		w.tokens += m.Tokens()
	}
	return w
}

func trimRole(role string) agentctx.Role {
	switch role {
	case RoleUser:
		return agentctx.RoleUser
	case RoleTool:
		return agentctx.RoleTool
	default:
		return agentctx.RoleAssistant
	}
}

// render rebuilds msg from the parts the trimmer kept.
func render(msg CompletionMessage, parts []agentctx.Part) CompletionMessage {
	var text strings.Builder
	var images []models.Attachment
	for _, p := range parts {
		if p.Image != nil {
			images = append(images, *p.Image)
			continue
		}
		text.WriteString(p.Text)
	}

	out := msg
	out.Images = images
	if msg.Role == RoleTool {
		out.ToolResults = append([]models.ToolResult(nil), msg.ToolResults...)
		out.ToolResults[0].Content = text.String()
		return out
	}
	out.Content = text.String()
	return out
}
