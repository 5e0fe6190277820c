package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTService handles token signing and verification.
type JWTService struct {
	secret []byte
	issuer string
	expiry time.Duration
	now    func() time.Time
}

// NewJWTService builds a JWT helper with the given secret, issuer and expiry.
func NewJWTService(secret, issuer string, expiry time.Duration) *JWTService {
	return &JWTService{secret: []byte(secret), issuer: issuer, expiry: expiry, now: time.Now}
}

type Claims struct {
	Username string `json:"preferred_username,omitempty"`
	jwt.RegisteredClaims
}

// Generate issues a signed token for userID. Tokens never expire when the
// service expiry is zero.
func (s *JWTService) Generate(userID, username string) (string, error) {
	if s == nil || len(s.secret) == 0 {
		return "", ErrAuthDisabled
	}
	if strings.TrimSpace(userID) == "" {
		return "", errors.New("user id required")
	}

	now := s.now()
	claims := Claims{
		Username: strings.TrimSpace(username),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  userID,
			Issuer:   s.issuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if s.expiry > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(s.expiry))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Validate parses and verifies a token. The subject is required and the
// issuer must match when one is configured.
func (s *JWTService) Validate(token string) (*Claims, error) {
	if s == nil || len(s.secret) == 0 {
		return nil, ErrAuthDisabled
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
