package infra

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgPingTimeout     = 5 * time.Second
	pgMinConns        = 2
	pgMaxConnIdle     = 5 * time.Minute
	pgHealthCheckFreq = time.Minute
)

// NewPostgresPool opens the connection pool shared by the ledger, hold, and
// idempotency tables. Redemptions hold a row lock for the length of one
// transaction, so a couple of warm connections are kept open to avoid
// stacking connection setup on top of lock waits.
func NewPostgresPool(ctx context.Context, url string) (*pgxpool.Pool, error) {
	if url == "" {
		return nil, fmt.Errorf("database url is required")
	}

	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MinConns == 0 {
		cfg.MinConns = pgMinConns
	}
	cfg.MaxConnIdleTime = pgMaxConnIdle
	cfg.HealthCheckPeriod = pgHealthCheckFreq

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pgPingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return pool, nil
}
