package storage

import (
	"context"
	"fmt"
)

// schema is written in the subset of SQL shared by Postgres and SQLite.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		monthly_usd_limit DOUBLE PRECISION NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		system_prompt TEXT NOT NULL DEFAULT '',
		model_id TEXT NOT NULL,
		temperature DOUBLE PRECISION NOT NULL DEFAULT 0,
		owner_id TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS threads (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		is_test_case BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS thread_messages (
		id TEXT PRIMARY KEY,
		thread_id TEXT NOT NULL,
		origin TEXT NOT NULL,
		text TEXT NOT NULL,
		stopped BOOLEAN NOT NULL DEFAULT FALSE,
		timestamp TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS ix_thread_messages_thread ON thread_messages (thread_id, timestamp)`,
	`CREATE TABLE IF NOT EXISTS files (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		content_type TEXT NOT NULL,
		content BYTEA,
		processed_content TEXT,
		user_id TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS thread_message_files (
		message_id TEXT NOT NULL,
		file_id TEXT NOT NULL,
		PRIMARY KEY (message_id, file_id)
	)`,
	`CREATE TABLE IF NOT EXISTS agent_tool_configs (
		agent_id TEXT NOT NULL,
		tool_id TEXT NOT NULL,
		draft BOOLEAN NOT NULL DEFAULT FALSE,
		config TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (agent_id, tool_id, draft)
	)`,
	`CREATE TABLE IF NOT EXISTS agent_tool_files (
		agent_id TEXT NOT NULL,
		tool_id TEXT NOT NULL,
		file_id TEXT NOT NULL,
		PRIMARY KEY (agent_id, tool_id, file_id)
	)`,
	`CREATE TABLE IF NOT EXISTS agent_tool_data (
		agent_id TEXT NOT NULL,
		tool_id TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (agent_id, tool_id, key)
	)`,
	`CREATE TABLE IF NOT EXISTS tool_oauth_tokens (
		user_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		tool_id TEXT NOT NULL,
		access_token TEXT NOT NULL,
		token_type TEXT NOT NULL,
		scope TEXT,
		refresh_token TEXT,
		expires_at TIMESTAMP,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (user_id, agent_id, tool_id)
	)`,
	`CREATE TABLE IF NOT EXISTS tool_oauth_states (
		user_id TEXT NOT NULL,
		tool_id TEXT NOT NULL,
		state TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		code_verifier TEXT NOT NULL,
		token_endpoint TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (user_id, tool_id, state)
	)`,
	`CREATE TABLE IF NOT EXISTS tool_oauth_client_infos (
		user_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		tool_id TEXT NOT NULL,
		client_id TEXT NOT NULL,
		client_secret TEXT,
		scope TEXT,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (user_id, agent_id, tool_id)
	)`,
	`CREATE TABLE IF NOT EXISTS usage (
		id TEXT PRIMARY KEY,
		message_id TEXT,
		user_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		model_id TEXT,
		timestamp TIMESTAMP NOT NULL,
		quantity BIGINT NOT NULL,
		usd_cost DOUBLE PRECISION NOT NULL,
		type TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS ix_usage_user_timestamp ON usage (user_id, timestamp)`,
	`CREATE TABLE IF NOT EXISTS test_cases (
		thread_id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS test_suite_runs (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		status TEXT NOT NULL,
		executed_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP,
		total_tests INTEGER NOT NULL DEFAULT 0,
		passed_tests INTEGER NOT NULL DEFAULT 0,
		failed_tests INTEGER NOT NULL DEFAULT 0,
		error_tests INTEGER NOT NULL DEFAULT 0,
		skipped_tests INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS test_case_results (
		id TEXT PRIMARY KEY,
		test_case_id TEXT NOT NULL,
		test_suite_run_id TEXT NOT NULL,
		status TEXT NOT NULL,
		execution_thread_id TEXT,
		executed_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS ix_test_case_results_run ON test_case_results (test_suite_run_id)`,
	`CREATE TABLE IF NOT EXISTS doc_chunks (
		id TEXT PRIMARY KEY,
		namespace TEXT NOT NULL,
		file_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		content TEXT NOT NULL,
		embedding TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS ix_doc_chunks_namespace ON doc_chunks (namespace, file_id)`,
}

// Migrate creates any missing tables.
func (s StoreSet) Migrate(ctx context.Context) error {
	d, ok := s.Agents.(*sqlAgentStore)
	if !ok {
		return nil
	}
	for i, stmt := range schema {
		if _, err := d.exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i, err)
		}
	}
	return nil
}
