package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Reason classifies a failed model request.
type Reason string

const (
	ReasonAuth           Reason = "auth"
	ReasonBilling        Reason = "billing"
	ReasonRateLimit      Reason = "rate_limit"
	ReasonTimeout        Reason = "timeout"
	ReasonServer         Reason = "server_error"
	ReasonInvalidRequest Reason = "invalid_request"
	ReasonModel          Reason = "model_unavailable"
	ReasonContentFilter  Reason = "content_filter"
	ReasonUnknown        Reason = "unknown"
)

// Retryable reports whether a request failing for r may succeed when sent again.
func (r Reason) Retryable() bool {
	return r == ReasonRateLimit || r == ReasonTimeout || r == ReasonServer
}

// ProviderError is a model request failure with the context needed to
// decide on a retry.
type ProviderError struct {
	Reason    Reason
	Provider  string
	Model     string
	Status    int
	Code      string
	Message   string
	RequestID string
	Cause     error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s]", e.Provider, e.Reason)
	if e.Model != "" {
		fmt.Fprintf(&b, " model=%s", e.Model)
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, " status=%d", e.Status)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, " code=%s", e.Code)
	}
	switch {
	case e.Message != "":
		b.WriteString(": " + e.Message)
	case e.Cause != nil:
		b.WriteString(": " + e.Cause.Error())
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// newProviderError classifies cause. A status or code, when known, takes
// precedence over the message.
func newProviderError(provider, model string, status int, code string, cause error) *ProviderError {
	e := &ProviderError{
		Provider: provider,
		Model:    model,
		Status:   status,
		Code:     code,
		Cause:    cause,
		Reason:   classifyMessage(cause),
	}
	if r := classifyStatus(status); r != ReasonUnknown {
		e.Reason = r
	}
	if r := classifyCode(code); r != ReasonUnknown {
		e.Reason = r
	}
	return e
}

func classifyStatus(status int) Reason {
	switch {
	case status == 0:
		return ReasonUnknown
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return ReasonAuth
	case status == http.StatusPaymentRequired:
		return ReasonBilling
	case status == http.StatusTooManyRequests:
		return ReasonRateLimit
	case status == http.StatusRequestTimeout:
		return ReasonTimeout
	case status == http.StatusNotFound:
		return ReasonModel
	case status == http.StatusBadRequest:
		return ReasonInvalidRequest
	case status >= 500:
		return ReasonServer
	}
	return ReasonUnknown
}

func classifyCode(code string) Reason {
	switch strings.ToLower(code) {
	case "rate_limit_error", "rate_limit_exceeded":
		return ReasonRateLimit
	case "authentication_error", "permission_error", "invalid_api_key":
		return ReasonAuth
	case "billing_error", "insufficient_quota":
		return ReasonBilling
	case "not_found_error", "model_not_found":
		return ReasonModel
	case "overloaded_error", "api_error", "server_error":
		return ReasonServer
	case "content_filter", "content_policy_violation":
		return ReasonContentFilter
	case "invalid_request_error":
		return ReasonInvalidRequest
	}
	return ReasonUnknown
}

var messagePatterns = []struct {
	reason   Reason
	patterns []string
}{
	{ReasonTimeout, []string{"timeout", "deadline exceeded", "etimedout"}},
	{ReasonRateLimit, []string{"rate limit", "rate_limit", "too many requests"}},
	{ReasonAuth, []string{"unauthorized", "invalid api key", "authentication"}},
	{ReasonBilling, []string{"billing", "insufficient_quota", "payment required"}},
	{ReasonServer, []string{"internal server error", "bad gateway", "service unavailable", "overloaded"}},
}

func classifyMessage(err error) Reason {
	if err == nil {
		return ReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}
	msg := strings.ToLower(err.Error())
	for _, p := range messagePatterns {
		for _, s := range p.patterns {
			if strings.Contains(msg, s) {
				return p.reason
			}
		}
	}
	return ReasonUnknown
}

// IsRetryable reports whether err is worth retrying. Cancellation never is.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Reason.Retryable()
	}
	return classifyMessage(err).Retryable()
}
