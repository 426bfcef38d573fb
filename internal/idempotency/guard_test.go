package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/campsuite/campsuite/internal/clock"
)

type payload struct {
	Amount int64  `json:"amount"`
	Ref    string `json:"ref"`
}

func newTestGuard() (*Guard, *clock.Fake) {
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	return NewGuard(NewMemoryStore(), time.Minute, clk), clk
}

func TestGuardFirstCallProceeds(t *testing.T) {
	guard, _ := newTestGuard()
	ctx := context.Background()

	cached, err := guard.Begin(ctx, "key-1", payload{Amount: 500, Ref: "res-1"}, "tenant-1")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if cached != nil {
		t.Fatalf("expected no cached response on first call, got %s", cached)
	}
}

func TestGuardReplaysSucceededResponse(t *testing.T) {
	guard, _ := newTestGuard()
	ctx := context.Background()
	body := payload{Amount: 500, Ref: "res-1"}

	if _, err := guard.Begin(ctx, "key-1", body, "tenant-1"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := guard.Complete(ctx, "key-1", map[string]any{"balance": 500}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	cached, err := guard.Begin(ctx, "key-1", body, "tenant-1")
	if err != nil {
		t.Fatalf("replay begin: %v", err)
	}
	if string(cached) != `{"balance":500}` {
		t.Fatalf("unexpected cached response: %s", cached)
	}
}

func TestGuardRejectsInflightWithinWindow(t *testing.T) {
	guard, clk := newTestGuard()
	ctx := context.Background()
	body := payload{Amount: 500, Ref: "res-1"}

	if _, err := guard.Begin(ctx, "key-1", body, "tenant-1"); err != nil {
		t.Fatalf("begin: %v", err)
	}

	clk.Advance(30 * time.Second)
	if _, err := guard.Begin(ctx, "key-1", body, "tenant-1"); !errors.Is(err, ErrInFlight) {
		t.Fatalf("expected ErrInFlight, got %v", err)
	}
}

func TestGuardTakesOverAbandonedInflight(t *testing.T) {
	guard, clk := newTestGuard()
	ctx := context.Background()
	body := payload{Amount: 500, Ref: "res-1"}

	if _, err := guard.Begin(ctx, "key-1", body, "tenant-1"); err != nil {
		t.Fatalf("begin: %v", err)
	}

	clk.Advance(2 * time.Minute)
	cached, err := guard.Begin(ctx, "key-1", body, "tenant-1")
	if err != nil {
		t.Fatalf("takeover begin: %v", err)
	}
	if cached != nil {
		t.Fatalf("expected re-execution after abandoned inflight, got cached %s", cached)
	}
}

func TestGuardAllowsRetryAfterFailure(t *testing.T) {
	guard, _ := newTestGuard()
	ctx := context.Background()
	body := payload{Amount: 500, Ref: "res-1"}

	if _, err := guard.Begin(ctx, "key-1", body, "tenant-1"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := guard.Fail(ctx, "key-1"); err != nil {
		t.Fatalf("fail: %v", err)
	}

	cached, err := guard.Begin(ctx, "key-1", body, "tenant-1")
	if err != nil {
		t.Fatalf("retry begin: %v", err)
	}
	if cached != nil {
		t.Fatalf("expected re-execution after failure, got cached %s", cached)
	}
}

func TestGuardRejectsPayloadMismatch(t *testing.T) {
	guard, _ := newTestGuard()
	ctx := context.Background()

	if _, err := guard.Begin(ctx, "key-1", payload{Amount: 500, Ref: "res-1"}, "tenant-1"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := guard.Complete(ctx, "key-1", map[string]any{"balance": 500}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	if _, err := guard.Begin(ctx, "key-1", payload{Amount: 900, Ref: "res-2"}, "tenant-1"); !errors.Is(err, ErrPayloadMismatch) {
		t.Fatalf("expected ErrPayloadMismatch, got %v", err)
	}
}

func TestGuardEmptyKeyDisablesGuarding(t *testing.T) {
	guard, _ := newTestGuard()
	ctx := context.Background()

	cached, err := guard.Begin(ctx, "", payload{Amount: 500}, "tenant-1")
	if err != nil || cached != nil {
		t.Fatalf("expected no-op for empty key, got cached=%v err=%v", cached, err)
	}
	if err := guard.Complete(ctx, "", nil); err != nil {
		t.Fatalf("complete empty key: %v", err)
	}
	if err := guard.Fail(ctx, ""); err != nil {
		t.Fatalf("fail empty key: %v", err)
	}
}

// holdAtCreate delays every Create until release is closed, so concurrent
// Begin calls all read the pre-existing record before any of them reaches
// Restart. That forces the takeover decision itself to arbitrate the race.
type holdAtCreate struct {
	Store
	arrived chan struct{}
	release chan struct{}
}

func (s *holdAtCreate) Create(ctx context.Context, rec Record) (Record, bool, error) {
	out, created, err := s.Store.Create(ctx, rec)
	s.arrived <- struct{}{}
	<-s.release
	return out, created, err
}

func raceTakeover(t *testing.T, guard *Guard, gate *holdAtCreate, body payload) (proceeded, rejected int) {
	t.Helper()
	ctx := context.Background()

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := guard.Begin(ctx, "key-1", body, "tenant-1")
			results <- err
		}()
	}
	<-gate.arrived
	<-gate.arrived
	close(gate.release)

	for i := 0; i < 2; i++ {
		switch err := <-results; {
		case err == nil:
			proceeded++
		case errors.Is(err, ErrInFlight):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	return proceeded, rejected
}

func TestGuardConcurrentRetriesOfFailedKeySingleWinner(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := NewMemoryStore()
	guard := NewGuard(store, time.Minute, clk)
	ctx := context.Background()
	body := payload{Amount: 500, Ref: "res-1"}

	if _, err := guard.Begin(ctx, "key-1", body, "tenant-1"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := guard.Fail(ctx, "key-1"); err != nil {
		t.Fatalf("fail: %v", err)
	}

	gate := &holdAtCreate{Store: store, arrived: make(chan struct{}, 2), release: make(chan struct{})}
	proceeded, rejected := raceTakeover(t, NewGuard(gate, time.Minute, clk), gate, body)
	if proceeded != 1 || rejected != 1 {
		t.Fatalf("failed-key retries: proceeded=%d rejected=%d, want exactly one of each", proceeded, rejected)
	}
}

func TestGuardConcurrentTakeoversOfAbandonedKeySingleWinner(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := NewMemoryStore()
	guard := NewGuard(store, time.Minute, clk)
	ctx := context.Background()
	body := payload{Amount: 500, Ref: "res-1"}

	if _, err := guard.Begin(ctx, "key-1", body, "tenant-1"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	clk.Advance(2 * time.Minute)

	gate := &holdAtCreate{Store: store, arrived: make(chan struct{}, 2), release: make(chan struct{})}
	proceeded, rejected := raceTakeover(t, NewGuard(gate, time.Minute, clk), gate, body)
	if proceeded != 1 || rejected != 1 {
		t.Fatalf("abandoned-key takeovers: proceeded=%d rejected=%d, want exactly one of each", proceeded, rejected)
	}
}

func TestRestartRefusesFreshInflightRecord(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if _, _, err := store.Create(ctx, Record{Key: "key-1", PayloadHash: "h1", Status: StatusInflight, CreatedAt: t0, LastSeenAt: t0}); err != nil {
		t.Fatalf("create: %v", err)
	}

	won, err := store.Restart(ctx, "key-1", "h1", t0.Add(-time.Minute), t0.Add(time.Second))
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if won {
		t.Fatal("restart claimed a record still within the guard window")
	}

	rec, err := store.Get(ctx, "key-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.CreatedAt != t0 {
		t.Fatalf("record created_at = %v, want untouched %v", rec.CreatedAt, t0)
	}
}

func TestGuardConcurrentCreatorsSingleWinner(t *testing.T) {
	guard, _ := newTestGuard()
	ctx := context.Background()
	body := payload{Amount: 500, Ref: "res-1"}

	const workers = 8
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		go func() {
			_, err := guard.Begin(ctx, "key-1", body, "tenant-1")
			results <- err
		}()
	}

	var proceeded, rejected int
	for i := 0; i < workers; i++ {
		switch err := <-results; {
		case err == nil:
			proceeded++
		case errors.Is(err, ErrInFlight):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if proceeded != 1 {
		t.Fatalf("expected exactly one winner, got %d (rejected=%d)", proceeded, rejected)
	}
}
