package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vijoin/tero/internal/tokens"
	"github.com/vijoin/tero/internal/usage"
)

// MaxThreadNameLength bounds generated thread titles, in characters.
const MaxThreadNameLength = 80

const threadNamePrompt = "From the following user message generate a short (less than 80 characters) title for the chat. " +
	"Do not include quoting or any special characters."

var errNoGeneratorModel = errors.New("no generator model configured")

// Generate runs a single completion without tools and adds its usage to mu.
func (e *Engine) Generate(ctx context.Context, modelID string, temperature float64, system, prompt string, mu *usage.MessageUsage) (string, error) {
	model, err := e.Model(modelID)
	if err != nil {
		return "", err
	}
	provider, err := e.provider(model)
	if err != nil {
		return "", err
	}
	chunks, err := provider.Complete(ctx, &CompletionRequest{
		Model:       model.ID,
		System:      system,
		Messages:    []CompletionMessage{{Role: RoleUser, Content: prompt}},
		MaxTokens:   model.OutputTokenLimit,
		Temperature: temperature,
	})
	if err != nil {
		return "", fmt.Errorf("complete with %s: %w", model.ID, err)
	}
	text, _, done, err := collect(chunks)
	if err != nil {
		return "", fmt.Errorf("complete with %s: %w", model.ID, err)
	}

	in, out := 0, 0
	if done != nil {
		in, out = done.InputTokens, done.OutputTokens
	}
	if in == 0 && out == 0 {
		in = 2*tokens.MessageOverhead + tokens.Text(system) + tokens.Text(prompt)
		out = tokens.Text(text)
	}
	if mu != nil {
		mu.IncrementWithMetadata(in, out, model)
	}
	return text, nil
}

// BuildThreadName asks the generator model for a title of the thread that
// starts with firstMessage.
func (e *Engine) BuildThreadName(ctx context.Context, firstMessage string, mu *usage.MessageUsage) (string, error) {
	if e.generator.ModelID == "" {
		return "", errNoGeneratorModel
	}
	name, err := e.Generate(ctx, e.generator.ModelID, e.generator.Temperature, threadNamePrompt, firstMessage, mu)
	if err != nil {
		return "", fmt.Errorf("build thread name: %w", err)
	}
	return threadName(name), nil
}

func threadName(s string) string {
	if r := []rune(s); len(r) > MaxThreadNameLength {
		s = string(r[:MaxThreadNameLength])
	}
	return strings.TrimSpace(strings.ReplaceAll(s, "\n", " "))
}
