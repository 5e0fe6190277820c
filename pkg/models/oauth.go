package models

import "time"

// OAuthToken holds the provider tokens for a (user, agent, tool) triple.
// AccessToken and RefreshToken are plaintext in memory and encrypted at rest.
type OAuthToken struct {
	UserID       string     `json:"user_id"`
	AgentID      string     `json:"agent_id"`
	ToolID       string     `json:"tool_id"`
	AccessToken  string     `json:"-"`
	TokenType    string     `json:"token_type"`
	Scope        string     `json:"scope,omitempty"`
	RefreshToken string     `json:"-"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// ExpiresWithin reports whether the token has no remaining lifetime beyond margin.
// Tokens without expiry never expire.
func (t *OAuthToken) ExpiresWithin(now time.Time, margin time.Duration) bool {
	if t.ExpiresAt == nil {
		return false
	}
	return t.ExpiresAt.Before(now.Add(margin))
}

// OAuthState is an in-flight authorization attempt awaiting the provider callback.
type OAuthState struct {
	UserID        string    `json:"user_id"`
	AgentID       string    `json:"agent_id"`
	ToolID        string    `json:"tool_id"`
	State         string    `json:"state"`
	CodeVerifier  string    `json:"-"`
	TokenEndpoint string    `json:"token_endpoint"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// OAuthClientInfo holds registered or manually supplied client credentials.
// An empty ClientID marks a server that needs no authorization.
type OAuthClientInfo struct {
	UserID       string    `json:"user_id"`
	AgentID      string    `json:"agent_id"`
	ToolID       string    `json:"tool_id"`
	ClientID     string    `json:"client_id"`
	ClientSecret string    `json:"-"`
	Scope        string    `json:"scope,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}
