// Package secrets encrypts credential fields before they are stored.
//
// Values are sealed with an age X25519 identity configured at start-up and
// stored as standard base64 text. Empty values are stored as-is so that
// "not set" survives a round trip without a decryption step.
package secrets

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"filippo.io/age"
)

// ErrNoKey is returned when no encryption key is configured.
var ErrNoKey = errors.New("secrets: encryption key is required")

// Box seals and opens secret strings with a single age identity.
type Box struct {
	identity  *age.X25519Identity
	recipient *age.X25519Recipient
}

// NewBox parses an AGE-SECRET-KEY-1... identity.
func NewBox(key string) (*Box, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, ErrNoKey
	}
	identity, err := age.ParseX25519Identity(key)
	if err != nil {
		return nil, fmt.Errorf("parse encryption key: %w", err)
	}
	return &Box{identity: identity, recipient: identity.Recipient()}, nil
}

// GenerateKey returns a new identity suitable for NewBox.
func GenerateKey() (string, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return "", fmt.Errorf("generate encryption key: %w", err)
	}
	return identity.String(), nil
}

// Seal encrypts plaintext and returns base64 ciphertext.
func (b *Box) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, b.recipient)
	if err != nil {
		return "", fmt.Errorf("create encryptor: %w", err)
	}
	if _, err := io.WriteString(w, plaintext); err != nil {
		return "", fmt.Errorf("write plaintext: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize encryption: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Open decrypts a value produced by Seal.
func (b *Box) Open(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	r, err := age.Decrypt(bytes.NewReader(raw), b.identity)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read plaintext: %w", err)
	}
	return string(plaintext), nil
}
