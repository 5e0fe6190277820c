package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/vijoin/tero/internal/observability"
)

// Middleware rejects requests without a valid bearer token with 401 and
// stores the resolved user in the request context.
func Middleware(authn *Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearer(r.Header.Get("Authorization"))
			if token == "" {
				unauthorized(w, "missing credentials")
				return
			}
			user, err := authn.Authenticate(r.Context(), token)
			if err != nil {
				if errors.Is(err, ErrInvalidToken) || errors.Is(err, ErrAuthDisabled) {
					authn.logger.Warn("jwt validation failed", "error", err)
					unauthorized(w, "invalid token")
					return
				}
				authn.logger.Error("authenticate", "error", err)
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			ctx := observability.WithUserID(WithUser(r.Context(), user), user.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func extractBearer(value string) string {
	if len(value) > len("bearer ") && strings.EqualFold(value[:len("bearer ")], "bearer ") {
		return strings.TrimSpace(value[len("bearer "):])
	}
	return ""
}
