// Package auth authenticates API callers with HS256 bearer tokens and
// resolves them to stored users, creating users on first sight.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vijoin/tero/internal/storage"
	"github.com/vijoin/tero/pkg/models"
)

var (
	ErrAuthDisabled = errors.New("auth disabled")
	ErrInvalidToken = errors.New("invalid token")
)

// Authenticator turns bearer tokens into users.
type Authenticator struct {
	jwt          *JWTService
	users        storage.UserStore
	defaultLimit float64
	logger       *slog.Logger
}

// NewAuthenticator returns an Authenticator. Users seen for the first time
// are created with defaultLimit as their monthly USD limit.
func NewAuthenticator(jwt *JWTService, users storage.UserStore, defaultLimit float64, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{jwt: jwt, users: users, defaultLimit: defaultLimit, logger: logger.With("component", "auth")}
}

// Authenticate validates token and returns the user it names.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*models.User, error) {
	claims, err := a.jwt.Validate(token)
	if err != nil {
		return nil, err
	}
	user, err := a.users.Get(ctx, claims.Subject)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("load user: %w", err)
	}

	username := claims.Username
	if username == "" {
		username = claims.Subject
	}
	user = &models.User{ID: claims.Subject, Username: username, MonthlyUSDLimit: a.defaultLimit}
	if err := a.users.Create(ctx, user); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return a.users.Get(ctx, claims.Subject)
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	a.logger.Info("created user", "user_id", user.ID)
	return user, nil
}
