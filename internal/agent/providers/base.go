// Package providers implements agent.LLMProvider for the supported model
// vendors.
package providers

import (
	"context"
	"time"
)

const (
	defaultMaxRetries = 3
	defaultRetryDelay = time.Second
	defaultMaxTokens  = 4096
)

// retrier retries an operation with linear backoff.
type retrier struct {
	maxRetries int
	delay      time.Duration
}

func newRetrier(maxRetries int, delay time.Duration) retrier {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	if delay <= 0 {
		delay = defaultRetryDelay
	}
	return retrier{maxRetries: maxRetries, delay: delay}
}

// do runs op until it succeeds, fails with an error IsRetryable rejects, or
// the attempts are spent.
func (r retrier) do(ctx context.Context, op func() error) error {
	var err error
	for attempt := 1; ; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err = op(); err == nil || !IsRetryable(err) || attempt >= r.maxRetries {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.delay * time.Duration(attempt)):
		}
	}
}
