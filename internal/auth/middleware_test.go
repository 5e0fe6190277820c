package auth

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vijoin/tero/internal/storage"
	"github.com/vijoin/tero/pkg/models"
)

func newAuthenticator(t *testing.T) (*Authenticator, *JWTService, storage.UserStore) {
	t.Helper()
	jwtSvc := NewJWTService("secret", "tero", time.Hour)
	users := storage.NewMemoryUserStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewAuthenticator(jwtSvc, users, 25, logger), jwtSvc, users
}

func TestMiddleware(t *testing.T) {
	authn, jwtSvc, _ := newAuthenticator(t)
	valid, err := jwtSvc.Generate("user-1", "jdoe")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	var seen *models.User
	handler := Middleware(authn)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = UserFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"invalid", "Bearer nope", http.StatusUnauthorized},
		{"valid", "bearer " + valid, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(http.MethodGet, "/api/threads", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusUnauthorized && rec.Header().Get("WWW-Authenticate") != "Bearer" {
				t.Error("missing WWW-Authenticate header")
			}
			if tt.want == http.StatusNoContent && (seen == nil || seen.ID != "user-1") {
				t.Errorf("user = %+v", seen)
			}
		})
	}
}

func TestAuthenticateResolvesUsers(t *testing.T) {
	authn, jwtSvc, users := newAuthenticator(t)
	token, _ := jwtSvc.Generate("user-2", "")

	user, err := authn.Authenticate(context.Background(), token)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if user.Username != "user-2" || user.MonthlyUSDLimit != 25 {
		t.Fatalf("created user = %+v", user)
	}

	if _, err := users.Get(context.Background(), "user-2"); err != nil {
		t.Fatalf("user not stored: %v", err)
	}

	if err := users.Create(context.Background(), &models.User{ID: "user-3", Username: "x", MonthlyUSDLimit: 100}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	token3, _ := jwtSvc.Generate("user-3", "")
	existing, err := authn.Authenticate(context.Background(), token3)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if existing.MonthlyUSDLimit != 100 || existing.Username != "x" {
		t.Errorf("existing user not reused: %+v", existing)
	}
}
