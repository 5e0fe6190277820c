package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/vijoin/tero/pkg/models"
)

type sqlToolConfigStore struct{ *sqlDB }

func (s *sqlToolConfigStore) ListByAgent(ctx context.Context, agentID string) ([]*models.ToolConfig, error) {
	rows, err := s.query(ctx,
		`SELECT agent_id, tool_id, draft, config, updated_at
		 FROM agent_tool_configs WHERE agent_id = $1 AND draft = $2
		 ORDER BY tool_id`, agentID, false)
	if err != nil {
		return nil, fmt.Errorf("list tool configs: %w", err)
	}
	defer rows.Close()

	var configs []*models.ToolConfig
	for rows.Next() {
		cfg, err := scanToolConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tool config: %w", err)
		}
		configs = append(configs, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tool configs: %w", err)
	}
	return configs, nil
}

func (s *sqlToolConfigStore) Find(ctx context.Context, agentID, toolID string, includeDrafts bool) (*models.ToolConfig, error) {
	query := `SELECT agent_id, tool_id, draft, config, updated_at
		 FROM agent_tool_configs WHERE agent_id = $1 AND tool_id = $2`
	if !includeDrafts {
		query += ` AND draft = FALSE`
	}
	// Drafts sort first so an in-progress configuration wins.
	query += ` ORDER BY draft DESC LIMIT 1`

	cfg, err := scanToolConfig(s.queryRow(ctx, query, agentID, toolID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find tool config: %w", err)
	}
	return cfg, nil
}

func (s *sqlToolConfigStore) Save(ctx context.Context, cfg *models.ToolConfig) error {
	if cfg == nil {
		return fmt.Errorf("tool config is required")
	}
	data, err := json.Marshal(cfg.Config)
	if err != nil {
		return fmt.Errorf("marshal tool config: %w", err)
	}
	cfg.UpdatedAt = now()
	_, err = s.exec(ctx,
		`INSERT INTO agent_tool_configs (agent_id, tool_id, draft, config, updated_at)
		 VALUES ($1,$2,$3,$4,$5)
		 ON CONFLICT (agent_id, tool_id, draft) DO UPDATE
		 SET config = excluded.config, updated_at = excluded.updated_at`,
		cfg.AgentID, cfg.ToolID, cfg.Draft, string(data), cfg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save tool config: %w", err)
	}
	return nil
}

func (s *sqlToolConfigStore) Delete(ctx context.Context, agentID, toolID string) error {
	if _, err := s.exec(ctx,
		`DELETE FROM agent_tool_configs WHERE agent_id = $1 AND tool_id = $2`, agentID, toolID); err != nil {
		return fmt.Errorf("delete tool config: %w", err)
	}
	return nil
}

func (s *sqlToolConfigStore) DeleteDrafts(ctx context.Context, agentID, toolID string) error {
	if _, err := s.exec(ctx,
		`DELETE FROM agent_tool_configs WHERE agent_id = $1 AND tool_id = $2 AND draft = $3`,
		agentID, toolID, true); err != nil {
		return fmt.Errorf("delete tool config drafts: %w", err)
	}
	return nil
}

func scanToolConfig(scanner rowScanner) (*models.ToolConfig, error) {
	var (
		cfg  models.ToolConfig
		data string
	)
	if err := scanner.Scan(&cfg.AgentID, &cfg.ToolID, &cfg.Draft, &data, &cfg.UpdatedAt); err != nil {
		return nil, err
	}
	if data != "" {
		if err := json.Unmarshal([]byte(data), &cfg.Config); err != nil {
			return nil, fmt.Errorf("unmarshal tool config: %w", err)
		}
	}
	if cfg.Config == nil {
		cfg.Config = map[string]any{}
	}
	return &cfg, nil
}

type sqlToolFileStore struct{ *sqlDB }

func (s *sqlToolFileStore) Add(ctx context.Context, agentID, toolID, fileID string) error {
	if _, err := s.exec(ctx,
		`INSERT INTO agent_tool_files (agent_id, tool_id, file_id) VALUES ($1,$2,$3)
		 ON CONFLICT (agent_id, tool_id, file_id) DO NOTHING`,
		agentID, toolID, fileID); err != nil {
		return fmt.Errorf("add tool file: %w", err)
	}
	return nil
}

func (s *sqlToolFileStore) List(ctx context.Context, agentID, toolID string) ([]*models.File, error) {
	rows, err := s.query(ctx,
		`SELECT f.id, f.name, f.content_type, f.content, f.processed_content, f.user_id, f.created_at
		 FROM agent_tool_files tf JOIN files f ON f.id = tf.file_id
		 WHERE tf.agent_id = $1 AND tf.tool_id = $2
		 ORDER BY f.created_at ASC`, agentID, toolID)
	if err != nil {
		return nil, fmt.Errorf("list tool files: %w", err)
	}
	defer rows.Close()

	var files []*models.File
	for rows.Next() {
		file, targets := fileScanTargets()
		if err := rows.Scan(targets...); err != nil {
			return nil, fmt.Errorf("scan tool file: %w", err)
		}
		finishFileScan(file, targets)
		files = append(files, file)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tool files: %w", err)
	}
	return files, nil
}

func (s *sqlToolFileStore) Remove(ctx context.Context, agentID, toolID, fileID string) error {
	if _, err := s.exec(ctx,
		`DELETE FROM agent_tool_files WHERE agent_id = $1 AND tool_id = $2 AND file_id = $3`,
		agentID, toolID, fileID); err != nil {
		return fmt.Errorf("remove tool file: %w", err)
	}
	return nil
}

type sqlToolDataStore struct{ *sqlDB }

func (s *sqlToolDataStore) Get(ctx context.Context, agentID, toolID, key string) (string, error) {
	var value string
	err := s.queryRow(ctx,
		`SELECT value FROM agent_tool_data WHERE agent_id = $1 AND tool_id = $2 AND key = $3`,
		agentID, toolID, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get tool data: %w", err)
	}
	return value, nil
}

func (s *sqlToolDataStore) Put(ctx context.Context, agentID, toolID, key, value string) error {
	if _, err := s.exec(ctx,
		`INSERT INTO agent_tool_data (agent_id, tool_id, key, value) VALUES ($1,$2,$3,$4)
		 ON CONFLICT (agent_id, tool_id, key) DO UPDATE SET value = excluded.value`,
		agentID, toolID, key, value); err != nil {
		return fmt.Errorf("put tool data: %w", err)
	}
	return nil
}

func (s *sqlToolDataStore) DeleteAll(ctx context.Context, agentID, toolID string) error {
	if _, err := s.exec(ctx,
		`DELETE FROM agent_tool_data WHERE agent_id = $1 AND tool_id = $2`, agentID, toolID); err != nil {
		return fmt.Errorf("delete tool data: %w", err)
	}
	return nil
}

type sqlDocStore struct{ *sqlDB }

func (s *sqlDocStore) SaveChunks(ctx context.Context, chunks []*models.DocChunk) error {
	for _, c := range chunks {
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		embedding, err := json.Marshal(c.Embedding)
		if err != nil {
			return fmt.Errorf("marshal embedding: %w", err)
		}
		if _, err := s.exec(ctx,
			`INSERT INTO doc_chunks (id, namespace, file_id, position, content, embedding)
			 VALUES ($1,$2,$3,$4,$5,$6)`,
			c.ID, c.Namespace, c.FileID, c.Position, c.Content, string(embedding)); err != nil {
			return fmt.Errorf("save doc chunk: %w", err)
		}
	}
	return nil
}

func (s *sqlDocStore) ListChunks(ctx context.Context, namespace string) ([]*models.DocChunk, error) {
	rows, err := s.query(ctx,
		`SELECT id, namespace, file_id, position, content, embedding
		 FROM doc_chunks WHERE namespace = $1 ORDER BY file_id, position`, namespace)
	if err != nil {
		return nil, fmt.Errorf("list doc chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*models.DocChunk
	for rows.Next() {
		var (
			c         models.DocChunk
			embedding string
		)
		if err := rows.Scan(&c.ID, &c.Namespace, &c.FileID, &c.Position, &c.Content, &embedding); err != nil {
			return nil, fmt.Errorf("scan doc chunk: %w", err)
		}
		if err := json.Unmarshal([]byte(embedding), &c.Embedding); err != nil {
			return nil, fmt.Errorf("unmarshal embedding: %w", err)
		}
		chunks = append(chunks, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list doc chunks: %w", err)
	}
	return chunks, nil
}

func (s *sqlDocStore) DeleteFileChunks(ctx context.Context, namespace, fileID string) error {
	if _, err := s.exec(ctx,
		`DELETE FROM doc_chunks WHERE namespace = $1 AND file_id = $2`, namespace, fileID); err != nil {
		return fmt.Errorf("delete doc chunks: %w", err)
	}
	return nil
}

func (s *sqlDocStore) DeleteNamespace(ctx context.Context, namespace string) error {
	if _, err := s.exec(ctx, `DELETE FROM doc_chunks WHERE namespace = $1`, namespace); err != nil {
		return fmt.Errorf("delete doc namespace: %w", err)
	}
	return nil
}
