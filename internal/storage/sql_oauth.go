package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vijoin/tero/internal/secrets"
	"github.com/vijoin/tero/pkg/models"
)

type sqlOAuthStore struct {
	db  *sqlDB
	box *secrets.Box
}

func (s *sqlOAuthStore) GetToken(ctx context.Context, userID, agentID, toolID string) (*models.OAuthToken, error) {
	var (
		tok          models.OAuthToken
		accessToken  string
		scope        sql.NullString
		refreshToken sql.NullString
		expiresAt    sql.NullTime
	)
	err := s.db.queryRow(ctx,
		`SELECT user_id, agent_id, tool_id, access_token, token_type, scope, refresh_token, expires_at, updated_at
		 FROM tool_oauth_tokens WHERE user_id = $1 AND agent_id = $2 AND tool_id = $3`,
		userID, agentID, toolID).Scan(
		&tok.UserID,
		&tok.AgentID,
		&tok.ToolID,
		&accessToken,
		&tok.TokenType,
		&scope,
		&refreshToken,
		&expiresAt,
		&tok.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get oauth token: %w", err)
	}
	if tok.AccessToken, err = s.box.Open(accessToken); err != nil {
		return nil, fmt.Errorf("open access token: %w", err)
	}
	if tok.RefreshToken, err = s.box.Open(refreshToken.String); err != nil {
		return nil, fmt.Errorf("open refresh token: %w", err)
	}
	tok.Scope = scope.String
	tok.ExpiresAt = timePtr(expiresAt)
	return &tok, nil
}

func (s *sqlOAuthStore) SaveToken(ctx context.Context, tok *models.OAuthToken) error {
	if tok == nil {
		return fmt.Errorf("oauth token is required")
	}
	accessToken, err := s.box.Seal(tok.AccessToken)
	if err != nil {
		return fmt.Errorf("seal access token: %w", err)
	}
	refreshToken, err := s.box.Seal(tok.RefreshToken)
	if err != nil {
		return fmt.Errorf("seal refresh token: %w", err)
	}
	if tok.TokenType == "" {
		tok.TokenType = "bearer"
	}
	tok.UpdatedAt = now()
	_, err = s.db.exec(ctx,
		`INSERT INTO tool_oauth_tokens (user_id, agent_id, tool_id, access_token, token_type, scope, refresh_token, expires_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		 ON CONFLICT (user_id, agent_id, tool_id) DO UPDATE
		 SET access_token = excluded.access_token,
			token_type = excluded.token_type,
			scope = excluded.scope,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`,
		tok.UserID,
		tok.AgentID,
		tok.ToolID,
		accessToken,
		tok.TokenType,
		nullableString(tok.Scope),
		nullableString(refreshToken),
		nullTime(tok.ExpiresAt),
		tok.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save oauth token: %w", err)
	}
	return nil
}

func (s *sqlOAuthStore) DeleteToken(ctx context.Context, userID, agentID, toolID string) error {
	if _, err := s.db.exec(ctx,
		`DELETE FROM tool_oauth_tokens WHERE user_id = $1 AND agent_id = $2 AND tool_id = $3`,
		userID, agentID, toolID); err != nil {
		return fmt.Errorf("delete oauth token: %w", err)
	}
	return nil
}

func (s *sqlOAuthStore) GetState(ctx context.Context, userID, toolID, state string) (*models.OAuthState, error) {
	var (
		st       models.OAuthState
		verifier string
	)
	err := s.db.queryRow(ctx,
		`SELECT user_id, agent_id, tool_id, state, code_verifier, token_endpoint, updated_at
		 FROM tool_oauth_states WHERE user_id = $1 AND tool_id = $2 AND state = $3`,
		userID, toolID, state).Scan(
		&st.UserID,
		&st.AgentID,
		&st.ToolID,
		&st.State,
		&verifier,
		&st.TokenEndpoint,
		&st.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get oauth state: %w", err)
	}
	if st.CodeVerifier, err = s.box.Open(verifier); err != nil {
		return nil, fmt.Errorf("open code verifier: %w", err)
	}
	return &st, nil
}

func (s *sqlOAuthStore) SaveState(ctx context.Context, st *models.OAuthState) error {
	if st == nil {
		return fmt.Errorf("oauth state is required")
	}
	verifier, err := s.box.Seal(st.CodeVerifier)
	if err != nil {
		return fmt.Errorf("seal code verifier: %w", err)
	}
	st.UpdatedAt = now()
	_, err = s.db.exec(ctx,
		`INSERT INTO tool_oauth_states (user_id, tool_id, state, agent_id, code_verifier, token_endpoint, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)
		 ON CONFLICT (user_id, tool_id, state) DO UPDATE
		 SET agent_id = excluded.agent_id,
			code_verifier = excluded.code_verifier,
			token_endpoint = excluded.token_endpoint,
			updated_at = excluded.updated_at`,
		st.UserID, st.ToolID, st.State, st.AgentID, verifier, st.TokenEndpoint, st.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save oauth state: %w", err)
	}
	return nil
}

func (s *sqlOAuthStore) DeleteState(ctx context.Context, userID, toolID, state string) error {
	if _, err := s.db.exec(ctx,
		`DELETE FROM tool_oauth_states WHERE user_id = $1 AND tool_id = $2 AND state = $3`,
		userID, toolID, state); err != nil {
		return fmt.Errorf("delete oauth state: %w", err)
	}
	return nil
}

func (s *sqlOAuthStore) GetClientInfo(ctx context.Context, userID, agentID, toolID string) (*models.OAuthClientInfo, error) {
	var (
		info   models.OAuthClientInfo
		secret sql.NullString
		scope  sql.NullString
	)
	err := s.db.queryRow(ctx,
		`SELECT user_id, agent_id, tool_id, client_id, client_secret, scope, updated_at
		 FROM tool_oauth_client_infos WHERE user_id = $1 AND agent_id = $2 AND tool_id = $3`,
		userID, agentID, toolID).Scan(
		&info.UserID,
		&info.AgentID,
		&info.ToolID,
		&info.ClientID,
		&secret,
		&scope,
		&info.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get oauth client info: %w", err)
	}
	if info.ClientSecret, err = s.box.Open(secret.String); err != nil {
		return nil, fmt.Errorf("open client secret: %w", err)
	}
	info.Scope = scope.String
	return &info, nil
}

func (s *sqlOAuthStore) SaveClientInfo(ctx context.Context, info *models.OAuthClientInfo) error {
	if info == nil {
		return fmt.Errorf("oauth client info is required")
	}
	secret, err := s.box.Seal(info.ClientSecret)
	if err != nil {
		return fmt.Errorf("seal client secret: %w", err)
	}
	info.UpdatedAt = now()
	_, err = s.db.exec(ctx,
		`INSERT INTO tool_oauth_client_infos (user_id, agent_id, tool_id, client_id, client_secret, scope, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)
		 ON CONFLICT (user_id, agent_id, tool_id) DO UPDATE
		 SET client_id = excluded.client_id,
			client_secret = excluded.client_secret,
			scope = excluded.scope,
			updated_at = excluded.updated_at`,
		info.UserID, info.AgentID, info.ToolID, info.ClientID,
		nullableString(secret), nullableString(info.Scope), info.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save oauth client info: %w", err)
	}
	return nil
}

func (s *sqlOAuthStore) DeleteClientInfo(ctx context.Context, userID, agentID, toolID string) error {
	if _, err := s.db.exec(ctx,
		`DELETE FROM tool_oauth_client_infos WHERE user_id = $1 AND agent_id = $2 AND tool_id = $3`,
		userID, agentID, toolID); err != nil {
		return fmt.Errorf("delete oauth client info: %w", err)
	}
	return nil
}

func (s *sqlOAuthStore) PruneTokens(ctx context.Context, before time.Time) (int64, error) {
	return s.prune(ctx, "prune oauth tokens",
		`DELETE FROM tool_oauth_tokens WHERE updated_at < $1`, before.UTC())
}

func (s *sqlOAuthStore) PruneStates(ctx context.Context, before time.Time) (int64, error) {
	return s.prune(ctx, "prune oauth states",
		`DELETE FROM tool_oauth_states WHERE updated_at < $1`, before.UTC())
}

func (s *sqlOAuthStore) PruneClientInfo(ctx context.Context, toolPrefix string, before time.Time) (int64, error) {
	return s.prune(ctx, "prune oauth client info",
		`DELETE FROM tool_oauth_client_infos WHERE tool_id LIKE $1 AND updated_at < $2 AND client_id <> ''`,
		toolPrefix+"%", before.UTC())
}

func (s *sqlOAuthStore) prune(ctx context.Context, op, query string, args ...any) (int64, error) {
	res, err := s.db.exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}
