package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/vijoin/tero/pkg/models"
)

type sqlAgentStore struct{ *sqlDB }

func (s *sqlAgentStore) Create(ctx context.Context, agent *models.Agent) error {
	if agent == nil {
		return fmt.Errorf("agent is required")
	}
	if agent.ID == "" {
		agent.ID = uuid.NewString()
	}
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = now()
	}
	_, err := s.exec(ctx,
		`INSERT INTO agents (id, name, description, system_prompt, model_id, temperature, owner_id, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		agent.ID,
		agent.Name,
		agent.Description,
		agent.SystemPrompt,
		agent.ModelID,
		agent.Temperature,
		agent.OwnerID,
		agent.CreatedAt.UTC(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate") || strings.Contains(err.Error(), "UNIQUE") {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create agent: %w", err)
	}
	return nil
}

func (s *sqlAgentStore) Get(ctx context.Context, id string) (*models.Agent, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	var agent models.Agent
	err := s.queryRow(ctx,
		`SELECT id, name, description, system_prompt, model_id, temperature, owner_id, created_at
		 FROM agents WHERE id = $1`, id).Scan(
		&agent.ID,
		&agent.Name,
		&agent.Description,
		&agent.SystemPrompt,
		&agent.ModelID,
		&agent.Temperature,
		&agent.OwnerID,
		&agent.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return &agent, nil
}

type sqlUserStore struct{ *sqlDB }

func (s *sqlUserStore) Create(ctx context.Context, user *models.User) error {
	if user == nil {
		return fmt.Errorf("user is required")
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	_, err := s.exec(ctx,
		`INSERT INTO users (id, username, monthly_usd_limit) VALUES ($1,$2,$3)`,
		user.ID, user.Username, user.MonthlyUSDLimit)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *sqlUserStore) Get(ctx context.Context, id string) (*models.User, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	var user models.User
	err := s.queryRow(ctx,
		`SELECT id, username, monthly_usd_limit FROM users WHERE id = $1`, id).
		Scan(&user.ID, &user.Username, &user.MonthlyUSDLimit)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &user, nil
}

type sqlThreadStore struct{ *sqlDB }

func (s *sqlThreadStore) Create(ctx context.Context, thread *models.Thread) error {
	if thread == nil {
		return fmt.Errorf("thread is required")
	}
	if thread.ID == "" {
		thread.ID = uuid.NewString()
	}
	if thread.CreatedAt.IsZero() {
		thread.CreatedAt = now()
	}
	_, err := s.exec(ctx,
		`INSERT INTO threads (id, agent_id, user_id, name, is_test_case, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		thread.ID, thread.AgentID, thread.UserID, thread.Name, thread.IsTestCase, thread.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("create thread: %w", err)
	}
	return nil
}

func (s *sqlThreadStore) Get(ctx context.Context, id string) (*models.Thread, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	var thread models.Thread
	err := s.queryRow(ctx,
		`SELECT id, agent_id, user_id, name, is_test_case, created_at FROM threads WHERE id = $1`, id).
		Scan(&thread.ID, &thread.AgentID, &thread.UserID, &thread.Name, &thread.IsTestCase, &thread.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get thread: %w", err)
	}
	return &thread, nil
}

func (s *sqlThreadStore) UpdateName(ctx context.Context, id, name string) error {
	res, err := s.exec(ctx, `UPDATE threads SET name = $2 WHERE id = $1`, id, name)
	if err != nil {
		return fmt.Errorf("update thread name: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqlThreadStore) AddMessage(ctx context.Context, msg *models.Message) error {
	if msg == nil {
		return fmt.Errorf("message is required")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = now()
	}
	_, err := s.exec(ctx,
		`INSERT INTO thread_messages (id, thread_id, origin, text, stopped, timestamp)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		msg.ID, msg.ThreadID, string(msg.Origin), msg.Text, msg.Stopped, msg.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("add message: %w", err)
	}
	for _, f := range msg.Files {
		if _, err := s.exec(ctx,
			`INSERT INTO thread_message_files (message_id, file_id) VALUES ($1,$2)`,
			msg.ID, f.ID); err != nil {
			return fmt.Errorf("link message file: %w", err)
		}
	}
	return nil
}

func (s *sqlThreadStore) ListMessages(ctx context.Context, threadID string) ([]*models.Message, error) {
	rows, err := s.query(ctx,
		`SELECT id, thread_id, origin, text, stopped, timestamp
		 FROM thread_messages WHERE thread_id = $1 ORDER BY timestamp ASC`, threadID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var (
		messages []*models.Message
		byID     = make(map[string]*models.Message)
	)
	for rows.Next() {
		var (
			msg    models.Message
			origin string
		)
		if err := rows.Scan(&msg.ID, &msg.ThreadID, &origin, &msg.Text, &msg.Stopped, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Origin = models.Origin(origin)
		messages = append(messages, &msg)
		byID[msg.ID] = &msg
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	if len(messages) == 0 {
		return messages, nil
	}

	fileRows, err := s.query(ctx,
		`SELECT mf.message_id, f.id, f.name, f.content_type, f.content, f.processed_content, f.user_id, f.created_at
		 FROM thread_message_files mf
		 JOIN files f ON f.id = mf.file_id
		 JOIN thread_messages m ON m.id = mf.message_id
		 WHERE m.thread_id = $1
		 ORDER BY f.created_at ASC`, threadID)
	if err != nil {
		return nil, fmt.Errorf("list message files: %w", err)
	}
	defer fileRows.Close()
	for fileRows.Next() {
		var messageID string
		file, targets := fileScanTargets()
		if err := fileRows.Scan(append([]any{&messageID}, targets...)...); err != nil {
			return nil, fmt.Errorf("scan message file: %w", err)
		}
		finishFileScan(file, targets)
		if msg, ok := byID[messageID]; ok {
			msg.Files = append(msg.Files, file)
		}
	}
	if err := fileRows.Err(); err != nil {
		return nil, fmt.Errorf("list message files: %w", err)
	}
	return messages, nil
}

type sqlFileStore struct{ *sqlDB }

func (s *sqlFileStore) Create(ctx context.Context, file *models.File) error {
	if file == nil {
		return fmt.Errorf("file is required")
	}
	if file.ID == "" {
		file.ID = uuid.NewString()
	}
	if file.CreatedAt.IsZero() {
		file.CreatedAt = now()
	}
	_, err := s.exec(ctx,
		`INSERT INTO files (id, name, content_type, content, processed_content, user_id, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		file.ID,
		file.Name,
		file.ContentType,
		file.Content,
		nullableString(file.ProcessedContent),
		file.UserID,
		file.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	return nil
}

func (s *sqlFileStore) Get(ctx context.Context, id string) (*models.File, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	file, targets := fileScanTargets()
	err := s.queryRow(ctx,
		`SELECT id, name, content_type, content, processed_content, user_id, created_at
		 FROM files WHERE id = $1`, id).Scan(targets...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}
	finishFileScan(file, targets)
	return file, nil
}

func (s *sqlFileStore) Update(ctx context.Context, file *models.File) error {
	if file == nil {
		return fmt.Errorf("file is required")
	}
	res, err := s.exec(ctx,
		`UPDATE files SET name = $2, content_type = $3, content = $4, processed_content = $5 WHERE id = $1`,
		file.ID, file.Name, file.ContentType, file.Content, nullableString(file.ProcessedContent))
	if err != nil {
		return fmt.Errorf("update file: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqlFileStore) Delete(ctx context.Context, id string) error {
	if _, err := s.exec(ctx, `DELETE FROM files WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

// fileScanTargets returns scan destinations for the standard file columns
// (id, name, content_type, content, processed_content, user_id, created_at).
func fileScanTargets() (*models.File, []any) {
	file := &models.File{}
	processed := &sql.NullString{}
	return file, []any{
		&file.ID,
		&file.Name,
		&file.ContentType,
		&file.Content,
		processed,
		&file.UserID,
		&file.CreatedAt,
	}
}

func finishFileScan(file *models.File, targets []any) {
	if processed, ok := targets[4].(*sql.NullString); ok && processed.Valid {
		file.ProcessedContent = processed.String
	}
}
