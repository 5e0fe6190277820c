package oauth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/vijoin/tero/internal/storage"
)

// RegisteredToolPrefix marks tools whose client credentials come from
// dynamic registration. Client info of other tools is entered manually and
// never swept.
const RegisteredToolPrefix = "mcp-"

// SweepConfig sets how long unused OAuth rows are kept.
type SweepConfig struct {
	TokenTTL        time.Duration
	StateTTL        time.Duration
	RegistrationTTL time.Duration
}

// SweepResult counts deleted rows.
type SweepResult struct {
	Tokens      int64
	States      int64
	ClientInfos int64
}

// Sweeper deletes abandoned authorization attempts and stale credentials.
type Sweeper struct {
	store  storage.OAuthStore
	cfg    SweepConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewSweeper returns a Sweeper over store.
func NewSweeper(store storage.OAuthStore, cfg SweepConfig, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{store: store, cfg: cfg, logger: logger, now: time.Now}
}

// Sweep runs one pass. A TTL of zero disables that part of the sweep.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	var errs []error
	now := s.now()

	if s.cfg.TokenTTL > 0 {
		n, err := s.store.PruneTokens(ctx, now.Add(-s.cfg.TokenTTL))
		res.Tokens = n
		errs = append(errs, err)
	}
	if s.cfg.StateTTL > 0 {
		n, err := s.store.PruneStates(ctx, now.Add(-s.cfg.StateTTL))
		res.States = n
		errs = append(errs, err)
	}
	if s.cfg.RegistrationTTL > 0 {
		n, err := s.store.PruneClientInfo(ctx, RegisteredToolPrefix, now.Add(-s.cfg.RegistrationTTL))
		res.ClientInfos = n
		errs = append(errs, err)
	}

	s.logger.Info("oauth sweep finished",
		"tokens", res.Tokens,
		"states", res.States,
		"client_infos", res.ClientInfos)
	return res, errors.Join(errs...)
}
