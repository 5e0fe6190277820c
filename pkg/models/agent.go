package models

import "time"

// ModelVendor identifies the API family serving an LLM model.
type ModelVendor string

const (
	VendorAnthropic ModelVendor = "ANTHROPIC"
	VendorOpenAI    ModelVendor = "OPENAI"
)

// LLMModel describes a selectable model and its pricing.
type LLMModel struct {
	ID                   string      `json:"id" yaml:"id"`
	Name                 string      `json:"name" yaml:"name"`
	Vendor               ModelVendor `json:"vendor" yaml:"vendor"`
	TokenLimit           int         `json:"token_limit" yaml:"token_limit"`
	OutputTokenLimit     int         `json:"output_token_limit" yaml:"output_token_limit"`
	Prompt1KTokenUSD     float64     `json:"prompt_1k_token_usd" yaml:"prompt_1k_token_usd"`
	Completion1KTokenUSD float64     `json:"completion_1k_token_usd" yaml:"completion_1k_token_usd"`
}

// Agent is a user-configured assistant bound to a model and a set of tools.
type Agent struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	SystemPrompt string    `json:"system_prompt,omitempty"`
	ModelID      string    `json:"model_id"`
	Temperature  float64   `json:"temperature,omitempty"`
	OwnerID      string    `json:"owner_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// User is the resolved end-user identity.
type User struct {
	ID              string  `json:"id"`
	Username        string  `json:"username"`
	MonthlyUSDLimit float64 `json:"monthly_usd_limit"`
}
