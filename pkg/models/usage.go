package models

import "time"

// UsageType classifies a billable quantity.
type UsageType string

const (
	UsagePromptTokens     UsageType = "PROMPT_TOKENS"
	UsageCompletionTokens UsageType = "COMPLETION_TOKENS"
	UsagePDFParsing       UsageType = "PDF_PARSING"
	UsageWebSearch        UsageType = "WEB_SEARCH"
	UsageWebExtract       UsageType = "WEB_EXTRACT"
	UsageEmbeddingTokens  UsageType = "EMBEDDING_TOKENS"
)

// Usage is a persisted billing record. MessageID is empty for usage tied to
// agent configuration rather than a message.
type Usage struct {
	ID        string    `json:"id"`
	MessageID string    `json:"message_id,omitempty"`
	UserID    string    `json:"user_id"`
	AgentID   string    `json:"agent_id"`
	ModelID   string    `json:"model_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Quantity  int       `json:"quantity"`
	USDCost   float64   `json:"usd_cost"`
	Type      UsageType `json:"type"`
}

// Increment adds quantity units priced per thousand.
func (u *Usage) Increment(quantity int, costPer1K float64) {
	u.Quantity += quantity
	u.USDCost += float64(quantity) / 1000 * costPer1K
}
