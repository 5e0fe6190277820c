// Package usage accumulates and records billable usage and enforces the
// monthly spending quota.
package usage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vijoin/tero/internal/storage"
	"github.com/vijoin/tero/pkg/models"
)

// ErrQuotaExceeded is returned when a user's month-to-date spend has reached
// the monthly limit.
var ErrQuotaExceeded = errors.New("quota exceeded")

// ToolUsage is billable work reported by a tool action.
type ToolUsage struct {
	Type           models.UsageType `json:"type"`
	Quantity       int              `json:"quantity"`
	CostPer1KUnits float64          `json:"costPer1kUnits"`
}

// MessageUsage accumulates the usage of one agent answer: prompt and
// completion tokens plus one record per tool usage type. It is safe for
// concurrent use.
type MessageUsage struct {
	mu         sync.Mutex
	prompt     models.Usage
	completion models.Usage
	tools      map[models.UsageType]*models.Usage
}

// NewMessageUsage returns an empty accumulator. messageID may be empty for
// usage tied to agent configuration.
func NewMessageUsage(userID, agentID, modelID, messageID string) *MessageUsage {
	base := models.Usage{MessageID: messageID, UserID: userID, AgentID: agentID, ModelID: modelID}
	mu := &MessageUsage{prompt: base, completion: base, tools: make(map[models.UsageType]*models.Usage)}
	mu.prompt.Type = models.UsagePromptTokens
	mu.completion.Type = models.UsageCompletionTokens
	return mu
}

// IncrementWithMetadata adds input and output tokens priced by model.
func (m *MessageUsage) IncrementWithMetadata(inputTokens, outputTokens int, model *models.LLMModel) {
	if model == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompt.Increment(inputTokens, model.Prompt1KTokenUSD)
	m.completion.Increment(outputTokens, model.Completion1KTokenUSD)
}

// IncrementToolUsage adds tool usage, ignoring nil.
func (m *MessageUsage) IncrementToolUsage(tu *ToolUsage) {
	if tu == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.tools[tu.Type]
	if !ok {
		u = &models.Usage{
			MessageID: m.prompt.MessageID,
			UserID:    m.prompt.UserID,
			AgentID:   m.prompt.AgentID,
			Type:      tu.Type,
		}
		m.tools[tu.Type] = u
	}
	u.Increment(tu.Quantity, tu.CostPer1KUnits)
}

// Records returns copies of the accumulated records: prompt, completion and
// then tool usage ordered by type.
func (m *MessageUsage) Records() []models.Usage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Usage{m.prompt, m.completion}
	types := make([]string, 0, len(m.tools))
	for t := range m.tools {
		types = append(types, string(t))
	}
	sort.Strings(types)
	for _, t := range types {
		out = append(out, *m.tools[models.UsageType(t)])
	}
	return out
}

// USDCost is the total cost of every record.
func (m *MessageUsage) USDCost() float64 {
	var total float64
	for _, u := range m.Records() {
		total += u.USDCost
	}
	return total
}

// Tokens returns the accumulated prompt and completion token counts.
func (m *MessageUsage) Tokens() (prompt, completion int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prompt.Quantity, m.completion.Quantity
}

// Recorder persists accumulated usage.
type Recorder struct {
	store storage.UsageStore
}

// NewRecorder returns a Recorder writing to store.
func NewRecorder(store storage.UsageStore) *Recorder {
	return &Recorder{store: store}
}

// Record saves every non-empty record of mu.
func (r *Recorder) Record(ctx context.Context, mu *MessageUsage) error {
	if mu == nil {
		return nil
	}
	var errs []error
	for _, u := range mu.Records() {
		if u.Quantity == 0 && u.USDCost == 0 {
			continue
		}
		rec := u
		if err := r.store.Add(ctx, &rec); err != nil {
			errs = append(errs, fmt.Errorf("record %s usage: %w", u.Type, err))
		}
	}
	return errors.Join(errs...)
}

// Guard enforces the monthly spending limit.
type Guard struct {
	users        storage.UserStore
	usage        storage.UsageStore
	defaultLimit float64
	now          func() time.Time
}

// NewGuard returns a Guard. defaultLimit applies to users without their own
// limit; a non-positive effective limit disables the check.
func NewGuard(users storage.UserStore, usage storage.UsageStore, defaultLimit float64) *Guard {
	return &Guard{users: users, usage: usage, defaultLimit: defaultLimit, now: time.Now}
}

// Check returns ErrQuotaExceeded when the user's month-to-date spend is at
// or above the limit.
func (g *Guard) Check(ctx context.Context, userID string) error {
	limit := g.defaultLimit
	user, err := g.users.Get(ctx, userID)
	switch {
	case err == nil:
		if user.MonthlyUSDLimit > 0 {
			limit = user.MonthlyUSDLimit
		}
	case !errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("get user: %w", err)
	}
	if limit <= 0 {
		return nil
	}

	spent, err := g.usage.SumUSDSince(ctx, userID, MonthStart(g.now()))
	if err != nil {
		return err
	}
	if spent >= limit {
		return ErrQuotaExceeded
	}
	return nil
}

// MonthStart returns midnight UTC of the first day of t's month.
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
