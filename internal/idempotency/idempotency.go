package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"
)

// Status tracks the lifecycle of an idempotency record. Records start inflight
// and end in exactly one terminal state per effective execution.
type Status string

const (
	StatusInflight  Status = "inflight"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

var (
	// ErrInFlight occurs when a key is replayed while a previous attempt is
	// still within the guard window. Callers may retry after backoff.
	ErrInFlight = errors.New("request already in progress")

	// ErrPayloadMismatch occurs when a key is replayed with a payload that does
	// not hash to the original request. Key reuse across different requests is
	// rejected rather than silently deduplicated.
	ErrPayloadMismatch = errors.New("idempotency key reused with different payload")
)

// Record is one row of the idempotency-key table shared across money-moving
// subsystems.
type Record struct {
	Key          string
	Scope        string
	PayloadHash  string
	Status       Status
	ResponseJSON []byte
	CreatedAt    time.Time
	LastSeenAt   time.Time
}

// Store persists idempotency records. Create must be race-safe: when two
// callers race on the same key, exactly one observes created=true and the
// other reads back the winner's record.
type Store interface {
	Create(ctx context.Context, rec Record) (Record, bool, error)
	Get(ctx context.Context, key string) (Record, error)
	MarkSucceeded(ctx context.Context, key string, responseJSON []byte, at time.Time) error
	MarkFailed(ctx context.Context, key string, at time.Time) error
	// Restart atomically takes over a failed record, or an inflight record
	// created at or before cutoff, moving it back to inflight for
	// re-execution. The transition must be conditional on that state so that
	// of several racing retries exactly one observes won=true; the rest must
	// see won=false, not a second takeover.
	Restart(ctx context.Context, key, payloadHash string, cutoff, at time.Time) (won bool, err error)
}

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = errors.New("idempotency record not found")

// HashPayload returns the canonical SHA-256 hex digest of a request payload.
func HashPayload(payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
