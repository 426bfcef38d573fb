package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists idempotency records in the idempotency_keys table
// shared with sibling payment subsystems. The unique constraint on key makes
// concurrent creation race-safe.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed idempotency store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Create inserts an inflight record, or returns the existing record when the
// key is already present. The losing concurrent creator reads back the
// winner's row.
func (s *PostgresStore) Create(ctx context.Context, rec Record) (Record, bool, error) {
	cmd, err := s.db.Exec(ctx, `INSERT INTO idempotency_keys (key, scope, payload_hash, status, created_at, last_seen_at)
        VALUES ($1, $2, $3, $4, $5, $5)
        ON CONFLICT (key) DO NOTHING`,
		rec.Key, rec.Scope, rec.PayloadHash, rec.Status, rec.CreatedAt.UTC())
	if err != nil {
		return Record{}, false, err
	}
	if cmd.RowsAffected() == 1 {
		return rec, true, nil
	}
	existing, err := s.Get(ctx, rec.Key)
	if err != nil {
		return Record{}, false, err
	}
	return existing, false, nil
}

// Get fetches a record by key.
func (s *PostgresStore) Get(ctx context.Context, key string) (Record, error) {
	row := s.db.QueryRow(ctx, `SELECT key, scope, payload_hash, status, response_json, created_at, last_seen_at
        FROM idempotency_keys WHERE key = $1`, key)
	var rec Record
	if err := row.Scan(&rec.Key, &rec.Scope, &rec.PayloadHash, &rec.Status, &rec.ResponseJSON, &rec.CreatedAt, &rec.LastSeenAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.LastSeenAt = rec.LastSeenAt.UTC()
	return rec, nil
}

// MarkSucceeded stores the cached response and moves the record to succeeded.
func (s *PostgresStore) MarkSucceeded(ctx context.Context, key string, responseJSON []byte, at time.Time) error {
	return s.transition(ctx, `UPDATE idempotency_keys SET status = $2, response_json = $3, last_seen_at = $4 WHERE key = $1`,
		key, StatusSucceeded, responseJSON, at.UTC())
}

// MarkFailed moves the record to failed so a retry may re-execute.
func (s *PostgresStore) MarkFailed(ctx context.Context, key string, at time.Time) error {
	return s.transition(ctx, `UPDATE idempotency_keys SET status = $2, last_seen_at = $3 WHERE key = $1`,
		key, StatusFailed, at.UTC())
}

// Restart takes over an abandoned or failed record for re-execution. The
// UPDATE is conditional on the record still being failed, or inflight and
// created at or before the cutoff, so of several racing retries exactly one
// sees a row affected.
func (s *PostgresStore) Restart(ctx context.Context, key, payloadHash string, cutoff, at time.Time) (bool, error) {
	cmd, err := s.db.Exec(ctx, `UPDATE idempotency_keys
        SET status = $2, payload_hash = $3, response_json = NULL, created_at = $4, last_seen_at = $4
        WHERE key = $1 AND (status = $5 OR (status = $2 AND created_at <= $6))`,
		key, StatusInflight, payloadHash, at.UTC(), StatusFailed, cutoff.UTC())
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (s *PostgresStore) transition(ctx context.Context, query string, args ...any) error {
	cmd, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("idempotency key update: %w", ErrNotFound)
	}
	return nil
}
