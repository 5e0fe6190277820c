package tools

import (
	"errors"
	"fmt"
)

// ErrToolNotFound is returned when no registered tool matches an id.
var ErrToolNotFound = errors.New("tool not found")

// InvalidConfigurationError reports a config that fails validation or
// provisioning. No state is mutated when it is returned.
type InvalidConfigurationError struct {
	Detail string
	Cause  error
}

func (e *InvalidConfigurationError) Error() string {
	return "Invalid configuration: " + e.Detail
}

func (e *InvalidConfigurationError) Unwrap() error {
	return e.Cause
}

// InvalidConfiguration builds an InvalidConfigurationError.
func InvalidConfiguration(format string, args ...any) *InvalidConfigurationError {
	return &InvalidConfigurationError{Detail: fmt.Sprintf(format, args...)}
}

// AuthorizationRequiredError signals that the user must authorize the tool
// at AuthURL. It is a control-flow signal, not a failure.
type AuthorizationRequiredError struct {
	AuthURL string
	State   string
}

func (e *AuthorizationRequiredError) Error() string {
	return "authorization required"
}

// AsAuthorizationRequired unwraps an authorization signal from err.
func AsAuthorizationRequired(err error) (*AuthorizationRequiredError, bool) {
	var authErr *AuthorizationRequiredError
	if errors.As(err, &authErr) {
		return authErr, true
	}
	return nil, false
}

// IsInvalidConfiguration reports whether err is an InvalidConfigurationError.
func IsInvalidConfiguration(err error) bool {
	var cfgErr *InvalidConfigurationError
	return errors.As(err, &cfgErr)
}

// SetupKind tags the outcome of a setup attempt.
type SetupKind int

const (
	SetupOk SetupKind = iota
	SetupNeedsAuth
	SetupErr
)

func (k SetupKind) String() string {
	switch k {
	case SetupOk:
		return "ok"
	case SetupNeedsAuth:
		return "needs_auth"
	default:
		return "error"
	}
}

// SetupResult is the tagged outcome of Tool.Setup.
type SetupResult struct {
	Kind   SetupKind
	Config map[string]any
	Auth   *AuthorizationRequiredError
	Err    error
}

// Classify turns the (config, error) pair returned by Setup into a tagged
// result.
func Classify(config map[string]any, err error) SetupResult {
	if err == nil {
		return SetupResult{Kind: SetupOk, Config: config}
	}
	if authErr, ok := AsAuthorizationRequired(err); ok {
		return SetupResult{Kind: SetupNeedsAuth, Auth: authErr}
	}
	return SetupResult{Kind: SetupErr, Err: err}
}
