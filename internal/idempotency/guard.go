package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/campsuite/campsuite/internal/clock"
)

// Guard wraps money-moving operations so each key executes effectively once.
// A succeeded record replays its cached response verbatim; an inflight record
// younger than the guard window rejects with ErrInFlight; an inflight record
// older than the window, or a failed record, is taken over and re-executed.
type Guard struct {
	store  Store
	window time.Duration
	clock  clock.Clock
}

// NewGuard builds a guard over the provided store. window bounds how long an
// inflight record blocks replays before it is treated as abandoned.
func NewGuard(store Store, window time.Duration, clk clock.Clock) *Guard {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Guard{store: store, window: window, clock: clk}
}

// Begin registers intent to execute the operation identified by key. It
// returns the cached response when the key already succeeded, or nil when the
// caller should execute the operation and then call Complete or Fail. An
// empty key disables guarding.
func (g *Guard) Begin(ctx context.Context, key string, payload any, scope string) ([]byte, error) {
	if key == "" {
		return nil, nil
	}

	hash, err := HashPayload(payload)
	if err != nil {
		return nil, fmt.Errorf("hash payload: %w", err)
	}

	now := g.clock.Now()
	rec, created, err := g.store.Create(ctx, Record{
		Key:         key,
		Scope:       scope,
		PayloadHash: hash,
		Status:      StatusInflight,
		CreatedAt:   now,
		LastSeenAt:  now,
	})
	if err != nil {
		return nil, fmt.Errorf("create idempotency record: %w", err)
	}
	if created {
		return nil, nil
	}

	if rec.PayloadHash != hash {
		return nil, ErrPayloadMismatch
	}

	switch rec.Status {
	case StatusSucceeded:
		return rec.ResponseJSON, nil
	case StatusFailed:
		return nil, g.takeOver(ctx, key, hash, now)
	default:
		if now.Sub(rec.CreatedAt) < g.window {
			return nil, ErrInFlight
		}
		// The previous attempt exceeded the guard window; treat it as
		// abandoned and take over the record.
		return nil, g.takeOver(ctx, key, hash, now)
	}
}

// takeOver claims a failed or abandoned record for re-execution. The store's
// conditional transition arbitrates racing retries: the loser observed the
// winner's fresh inflight record and must back off with ErrInFlight.
func (g *Guard) takeOver(ctx context.Context, key, hash string, now time.Time) error {
	won, err := g.store.Restart(ctx, key, hash, now.Add(-g.window), now)
	if err != nil {
		return fmt.Errorf("restart idempotency record: %w", err)
	}
	if !won {
		return ErrInFlight
	}
	return nil
}

// Complete records the successful result for key so replays return it without
// re-execution. An empty key is a no-op.
func (g *Guard) Complete(ctx context.Context, key string, result any) error {
	if key == "" {
		return nil
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode idempotent response: %w", err)
	}
	return g.store.MarkSucceeded(ctx, key, raw, g.clock.Now())
}

// Fail marks the record failed so a legitimate retry can re-execute. An empty
// key is a no-op.
func (g *Guard) Fail(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	return g.store.MarkFailed(ctx, key, g.clock.Now())
}
