package cron

import (
	"context"
	"log/slog"
	"time"

	"github.com/vijoin/tero/internal/oauth"
)

// Job ids of the built-in sweeps.
const (
	OAuthSweepJob  = "oauth-sweep"
	OrphanSweepJob = "testsuite-orphan-sweep"
)

// OAuthSweeper prunes stale OAuth rows.
type OAuthSweeper interface {
	Sweep(ctx context.Context) (oauth.SweepResult, error)
}

// OrphanSweeper recovers test suite runs stuck in RUNNING.
type OrphanSweeper interface {
	SweepOrphaned(ctx context.Context, olderThan time.Duration) (int, error)
}

// OAuthSweep returns a handler pruning tokens, states and registered
// clients past their TTL.
func OAuthSweep(sweeper OAuthSweeper, logger *slog.Logger) Handler {
	return HandlerFunc(func(ctx context.Context) error {
		res, err := sweeper.Sweep(ctx)
		if res.Tokens+res.States+res.ClientInfos > 0 {
			logger.Info("pruned oauth data", "tokens", res.Tokens, "states", res.States, "client_infos", res.ClientInfos)
		}
		return err
	})
}

// OrphanSweep returns a handler failing suite runs RUNNING for longer than
// olderThan.
func OrphanSweep(sweeper OrphanSweeper, olderThan time.Duration, logger *slog.Logger) Handler {
	return HandlerFunc(func(ctx context.Context) error {
		n, err := sweeper.SweepOrphaned(ctx, olderThan)
		if n > 0 {
			logger.Info("recovered orphaned suite runs", "count", n)
		}
		return err
	})
}
