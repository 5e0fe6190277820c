// Package context selects the window of conversation history sent to a model.
//
// The window is the longest suffix of the history that fits the model's
// input budget. It always starts on a user message, and a message that only
// partially fits keeps its leading content.
package context

import (
	"strings"

	"github.com/vijoin/tero/internal/tokens"
	"github.com/vijoin/tero/pkg/models"
)

// Role is the author of a window message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Part is one content block of a message. Exactly one of Text or Image is set.
type Part struct {
	Text  string
	Image *models.Attachment
}

// Message is the trimmer's view of a conversation message.
type Message struct {
	Role  Role
	Parts []Part

	// Overhead is the token cost of structured payloads, such as tool call
	// arguments, that are never truncated.
	Overhead int

	// Index identifies the source message in the caller's slice.
	Index int
}

// Tokens returns the estimated cost of the message.
func (m Message) Tokens() int {
	total := tokens.MessageOverhead + m.Overhead
	for _, p := range m.Parts {
		total += partTokens(p)
	}
	return total
}

func partTokens(p Part) int {
	if p.Image != nil {
		return tokens.ImageTokens
	}
	return tokens.Text(p.Text)
}

// Budget describes the token envelope of one model call.
type Budget struct {
	TokenLimit    int
	OutputReserve int
	SystemTokens  int
	ToolsTokens   int
}

// Available returns the tokens left for history.
func (b Budget) Available() int {
	n := b.TokenLimit - b.ToolsTokens - b.SystemTokens - b.OutputReserve
	if n < 0 {
		return 0
	}
	return n
}

// Trim returns the messages that fit the budget in chronological order.
//
// Trailing assistant messages are dropped, then messages are taken from the
// newest backwards while they fit. The first message that does not fit is
// kept partially when some of its leading content fits, and the window is
// then shrunk until its earliest message is a user message. When nothing
// fits, the newest user message is returned truncated.
func Trim(messages []Message, budget Budget) []Message {
	end := len(messages)
	for end > 0 && messages[end-1].Role == RoleAssistant {
		end--
	}
	messages = messages[:end]
	if len(messages) == 0 {
		return nil
	}

	available := budget.Available()
	remaining := available
	selected := make([]Message, 0, len(messages))
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		cost := m.Tokens()
		if cost <= remaining {
			selected = append(selected, m)
			remaining -= cost
			continue
		}
		if partial, ok := truncateMessage(m, remaining); ok {
			selected = append(selected, partial)
		}
		break
	}

	// selected is newest first; the oldest kept message must be a user message.
	for len(selected) > 0 && selected[len(selected)-1].Role != RoleUser {
		selected = selected[:len(selected)-1]
	}

	if len(selected) == 0 {
		return fallback(messages, available)
	}

	for i, j := 0, len(selected)-1; i < j; i, j = i+1, j-1 {
		selected[i], selected[j] = selected[j], selected[i]
	}
	return selected
}

// truncateMessage keeps the leading parts of m that fit in budget tokens.
// Images are kept whole or skipped. The first text part that does not fit
// is cut and ends the message.
func truncateMessage(m Message, budget int) (Message, bool) {
	avail := budget - tokens.MessageOverhead - m.Overhead
	if avail <= 0 {
		return Message{}, false
	}

	out := m
	out.Parts = make([]Part, 0, len(m.Parts))
	for _, p := range m.Parts {
		cost := partTokens(p)
		if cost <= avail {
			out.Parts = append(out.Parts, p)
			avail -= cost
			continue
		}
		if p.Image != nil {
			continue
		}
		if head := tokens.Truncate(p.Text, avail); head != "" {
			out.Parts = append(out.Parts, Part{Text: head})
		}
		break
	}

	if !hasContent(out) {
		return Message{}, false
	}
	return out, true
}

// fallback returns the newest user message cut to the budget, keeping at
// least its first word of text.
func fallback(messages []Message, available int) []Message {
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if m.Role != RoleUser {
			continue
		}
		out := m
		out.Parts = nil
		for _, p := range m.Parts {
			if p.Image != nil {
				continue
			}
			head := tokens.Truncate(p.Text, available-tokens.MessageOverhead)
			if head == "" {
				if words := strings.Fields(p.Text); len(words) > 0 {
					head = words[0]
				}
			}
			out.Parts = append(out.Parts, Part{Text: head})
			break
		}
		return []Message{out}
	}
	return nil
}

func hasContent(m Message) bool {
	for _, p := range m.Parts {
		if p.Image != nil || p.Text != "" {
			return true
		}
	}
	return m.Overhead > 0
}
