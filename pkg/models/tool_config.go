package models

import "time"

// ToolConfig is the persisted configuration of a tool for an agent. At most
// one non-draft and one draft row exist per (AgentID, ToolID).
type ToolConfig struct {
	AgentID   string         `json:"agent_id"`
	ToolID    string         `json:"tool_id"`
	Config    map[string]any `json:"config"`
	Draft     bool           `json:"draft"`
	UpdatedAt time.Time      `json:"updated_at"`
}
