package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/campsuite/campsuite/internal/clock"
	"github.com/campsuite/campsuite/internal/reconcile"
	"github.com/campsuite/campsuite/internal/storedvalue"
)

const leaderLockKey = "campsuite:sweeper:leader"

// Engine is the slice of the stored-value service the sweeper drives.
type Engine interface {
	ExpireOpenHolds(ctx context.Context, cutoff time.Time) (int64, error)
	ExpireBalances(ctx context.Context, cutoff time.Time) (storedvalue.ExpireBalancesResult, error)
}

// Config wires the sweeper's collaborators. Cache, Advisor, and DriftSource
// are optional.
type Config struct {
	Interval time.Duration
	Clock    clock.Clock
	Logger   *slog.Logger
	// Cache, when set, backs a leader lock so a fleet runs at most one sweep
	// per tick. Without it every instance sweeps, which is safe but noisy.
	Cache *redis.Client

	// Advisor and DriftSource, when both set, run a reconciliation pass after
	// each sweep.
	Advisor             *reconcile.Advisor
	DriftSource         reconcile.Source
	DriftThresholdCents int64
}

// Sweeper periodically expires stale holds and past-expiry balances. The
// sweep uses the same engine operations callers do, so everything it writes
// goes through the normal transactional path.
type Sweeper struct {
	engine   Engine
	cfg      Config
	instance string
}

// New builds a sweeper around the engine.
func New(engine Engine, cfg Config) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	return &Sweeper{engine: engine, cfg: cfg, instance: uuid.NewString()}
}

// Run loops until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	if s.cfg.Logger != nil {
		s.cfg.Logger.Info("sweeper started", "interval", s.cfg.Interval, "instance", s.instance)
	}
	for {
		select {
		case <-ctx.Done():
			if s.cfg.Logger != nil {
				s.cfg.Logger.Info("sweeper stopped")
			}
			return
		case <-ticker.C:
			if !s.isLeader(ctx) {
				continue
			}
			if err := s.SweepOnce(ctx); err != nil && s.cfg.Logger != nil {
				s.cfg.Logger.Error("sweep failed", "error", err)
			}
		}
	}
}

// SweepOnce runs a single pass: expire stale holds, then zero out past-expiry
// balances, then an optional reconciliation check.
func (s *Sweeper) SweepOnce(ctx context.Context) error {
	now := s.cfg.Clock.Now()

	holds, err := s.engine.ExpireOpenHolds(ctx, now)
	if err != nil {
		return err
	}
	balances, err := s.engine.ExpireBalances(ctx, now)
	if err != nil {
		return err
	}

	if s.cfg.Logger != nil && (holds > 0 || balances.Expired > 0 || balances.Zeroed > 0) {
		s.cfg.Logger.Info("sweep completed",
			"holds_expired", holds,
			"balances_expired", balances.Expired,
			"accounts_zeroed", balances.Zeroed,
		)
	}

	if s.cfg.Advisor != nil && s.cfg.DriftSource != nil {
		if _, err := s.cfg.Advisor.Run(ctx, s.cfg.DriftSource, s.cfg.DriftThresholdCents, now); err != nil && s.cfg.Logger != nil {
			s.cfg.Logger.Warn("reconciliation pass failed", "error", err)
		}
	}
	return nil
}

// isLeader claims the leader lock for this tick. Fail-open: without Redis, or
// when Redis errors, the sweep proceeds, since double sweeping is harmless.
func (s *Sweeper) isLeader(ctx context.Context) bool {
	if s.cfg.Cache == nil {
		return true
	}
	ok, err := s.cfg.Cache.SetNX(ctx, leaderLockKey, s.instance, s.cfg.Interval).Result()
	if err != nil {
		if s.cfg.Logger != nil {
			s.cfg.Logger.Warn("leader lock unavailable, sweeping anyway", "error", err)
		}
		return true
	}
	if ok {
		return true
	}
	holder, err := s.cfg.Cache.Get(ctx, leaderLockKey).Result()
	if err != nil {
		return true
	}
	return holder == s.instance
}
