package storedvalue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/campsuite/campsuite/internal/clock"
	"github.com/campsuite/campsuite/internal/idempotency"
	"github.com/campsuite/campsuite/internal/logging"
)

func newTestService(t *testing.T) (*Service, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	guard := idempotency.NewGuard(idempotency.NewMemoryStore(), time.Minute, clk)
	svc := NewService(NewMemoryStore(), guard, clk, 15*time.Minute, logging.Discard())
	return svc, clk
}

func issueAccount(t *testing.T, svc *Service, amount int64, opts func(*IssueInput)) IssueResult {
	t.Helper()
	input := IssueInput{
		TenantID:    "camp-1",
		Type:        TypeGiftCard,
		AmountCents: amount,
		Currency:    "usd",
		Actor:       Actor{Type: "staff", ID: "staff-1"},
	}
	if opts != nil {
		opts(&input)
	}
	result, err := svc.Issue(context.Background(), input)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return result
}

func TestIssueCreatesAccountWithCode(t *testing.T) {
	svc, _ := newTestService(t)

	result := issueAccount(t, svc, 5000, func(in *IssueInput) {
		in.GeneratePIN = true
	})

	if len(result.Code) != 16 {
		t.Fatalf("code length = %d, want 16", len(result.Code))
	}
	if !result.PINRequired {
		t.Fatal("expected PIN to be required")
	}
	if len(result.PIN) != 6 {
		t.Fatalf("generated PIN %q, want 6 digits", result.PIN)
	}
	if result.BalanceCents != 5000 {
		t.Fatalf("balance = %d, want 5000", result.BalanceCents)
	}

	bal, err := svc.BalanceByCode(context.Background(), result.Code)
	if err != nil {
		t.Fatalf("balance by code: %v", err)
	}
	if bal.BalanceCents != 5000 || bal.AvailableCents != 5000 {
		t.Fatalf("balances = %+v, want 5000/5000", bal)
	}
}

func TestIssueValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Issue(ctx, IssueInput{Type: TypeGiftCard, AmountCents: 100, Currency: "usd"}); !errors.Is(err, ErrMissingTenant) {
		t.Fatalf("missing tenant: got %v", err)
	}
	if _, err := svc.Issue(ctx, IssueInput{TenantID: "camp-1", Type: TypeGiftCard, AmountCents: 0, Currency: "usd"}); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero amount: got %v", err)
	}
	if _, err := svc.Issue(ctx, IssueInput{TenantID: "camp-1", Type: TypeGiftCard, AmountCents: 100, Currency: "usd", PIN: "12"}); !errors.Is(err, ErrPINFormat) {
		t.Fatalf("short PIN: got %v", err)
	}
}

func TestRedeemByCodeRequiresPIN(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	issued := issueAccount(t, svc, 5000, func(in *IssueInput) { in.PIN = "4321" })

	redeem := RedeemInput{
		TenantID:      "camp-1",
		Code:          issued.Code,
		AmountCents:   1000,
		ReferenceType: "order",
		ReferenceID:   "order-1",
	}
	if _, err := svc.Redeem(ctx, redeem); !errors.Is(err, ErrPINRequired) {
		t.Fatalf("no PIN: got %v", err)
	}

	redeem.PIN = "9999"
	if _, err := svc.Redeem(ctx, redeem); !errors.Is(err, ErrInvalidPIN) {
		t.Fatalf("wrong PIN: got %v", err)
	}

	redeem.PIN = "4321"
	result, err := svc.Redeem(ctx, redeem)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if result.BalanceCents != 4000 || result.AvailableCents != 4000 {
		t.Fatalf("balances = %+v, want 4000/4000", result)
	}
}

func TestRedeemInsufficientBalance(t *testing.T) {
	svc, _ := newTestService(t)

	issued := issueAccount(t, svc, 500, nil)

	_, err := svc.Redeem(context.Background(), RedeemInput{
		TenantID:    "camp-1",
		AccountID:   issued.AccountID,
		AmountCents: 501,
	})
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("got %v, want ErrInsufficientBalance", err)
	}
}

func TestConcurrentRedeemsNeverOverdraw(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	issued := issueAccount(t, svc, 10000, nil)

	const attempts = 5
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Redeem(ctx, RedeemInput{
				TenantID:    "camp-1",
				AccountID:   issued.AccountID,
				AmountCents: 3000,
			})
		}(i)
	}
	wg.Wait()

	var ok, short int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrInsufficientBalance):
			short++
		default:
			t.Fatalf("unexpected redeem error: %v", err)
		}
	}
	if ok != 3 || short != 2 {
		t.Fatalf("succeeded=%d failed=%d, want 3/2", ok, short)
	}

	bal, err := svc.BalanceByAccount(ctx, issued.AccountID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal.BalanceCents != 1000 {
		t.Fatalf("final balance = %d, want 1000", bal.BalanceCents)
	}
}

func TestRedeemIdempotentReplay(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	issued := issueAccount(t, svc, 5000, nil)

	input := RedeemInput{
		TenantID:       "camp-1",
		AccountID:      issued.AccountID,
		AmountCents:    2000,
		IdempotencyKey: "redeem-key-1",
	}
	first, err := svc.Redeem(ctx, input)
	if err != nil {
		t.Fatalf("first redeem: %v", err)
	}
	second, err := svc.Redeem(ctx, input)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if second != first {
		t.Fatalf("replay = %+v, want %+v", second, first)
	}

	_, total, err := svc.ListEntries(ctx, issued.AccountID, 10, 0)
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	if total != 2 { // issue + one redeem
		t.Fatalf("ledger entries = %d, want 2", total)
	}
}

func TestRedeemPayloadMismatchRejected(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	issued := issueAccount(t, svc, 5000, nil)

	input := RedeemInput{
		TenantID:       "camp-1",
		AccountID:      issued.AccountID,
		AmountCents:    2000,
		IdempotencyKey: "redeem-key-2",
	}
	if _, err := svc.Redeem(ctx, input); err != nil {
		t.Fatalf("first redeem: %v", err)
	}

	input.AmountCents = 2500
	if _, err := svc.Redeem(ctx, input); !errors.Is(err, idempotency.ErrPayloadMismatch) {
		t.Fatalf("got %v, want ErrPayloadMismatch", err)
	}
}

func TestHoldCaptureLifecycle(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	issued := issueAccount(t, svc, 10000, nil)

	held, err := svc.Redeem(ctx, RedeemInput{
		TenantID:    "camp-1",
		AccountID:   issued.AccountID,
		AmountCents: 3000,
		HoldOnly:    true,
	})
	if err != nil {
		t.Fatalf("hold: %v", err)
	}
	if held.HoldID == "" {
		t.Fatal("expected a hold id")
	}
	if held.BalanceCents != 10000 || held.AvailableCents != 7000 {
		t.Fatalf("after hold = %+v, want balance 10000 available 7000", held)
	}

	captured, err := svc.CaptureHold(ctx, HoldActionInput{HoldID: held.HoldID})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if captured.BalanceCents != 7000 || captured.Status != HoldCaptured {
		t.Fatalf("capture = %+v, want balance 7000 captured", captured)
	}

	if _, err := svc.CaptureHold(ctx, HoldActionInput{HoldID: held.HoldID}); !errors.Is(err, ErrHoldNotOpen) {
		t.Fatalf("double capture: got %v", err)
	}
}

func TestHoldRelease(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	issued := issueAccount(t, svc, 10000, nil)
	held, err := svc.Redeem(ctx, RedeemInput{
		TenantID:    "camp-1",
		AccountID:   issued.AccountID,
		AmountCents: 4000,
		HoldOnly:    true,
	})
	if err != nil {
		t.Fatalf("hold: %v", err)
	}

	released, err := svc.ReleaseHold(ctx, HoldActionInput{HoldID: held.HoldID})
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if released.Status != HoldReleased || released.BalanceCents != 10000 {
		t.Fatalf("release = %+v, want balance 10000 released", released)
	}

	bal, err := svc.BalanceByAccount(ctx, issued.AccountID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal.AvailableCents != 10000 {
		t.Fatalf("available = %d, want 10000 after release", bal.AvailableCents)
	}

	if _, err := svc.ReleaseHold(ctx, HoldActionInput{HoldID: held.HoldID}); !errors.Is(err, ErrHoldNotOpen) {
		t.Fatalf("double release: got %v", err)
	}
}

func TestHoldBlocksOverlappingRedeem(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	issued := issueAccount(t, svc, 1000, nil)
	if _, err := svc.Redeem(ctx, RedeemInput{TenantID: "camp-1", AccountID: issued.AccountID, AmountCents: 800, HoldOnly: true}); err != nil {
		t.Fatalf("hold: %v", err)
	}

	_, err := svc.Redeem(ctx, RedeemInput{TenantID: "camp-1", AccountID: issued.AccountID, AmountCents: 300})
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("got %v, want ErrInsufficientBalance while hold is open", err)
	}
}

func TestExpiredHoldCannotBeCaptured(t *testing.T) {
	svc, clk := newTestService(t)
	ctx := context.Background()

	issued := issueAccount(t, svc, 10000, nil)
	held, err := svc.Redeem(ctx, RedeemInput{TenantID: "camp-1", AccountID: issued.AccountID, AmountCents: 3000, HoldOnly: true})
	if err != nil {
		t.Fatalf("hold: %v", err)
	}

	clk.Advance(16 * time.Minute)

	if _, err := svc.CaptureHold(ctx, HoldActionInput{HoldID: held.HoldID}); !errors.Is(err, ErrHoldExpired) {
		t.Fatalf("capture past TTL: got %v", err)
	}

	expired, err := svc.ExpireOpenHolds(ctx, clk.Now())
	if err != nil {
		t.Fatalf("expire holds: %v", err)
	}
	if expired != 1 {
		t.Fatalf("expired = %d, want 1", expired)
	}

	bal, err := svc.BalanceByAccount(ctx, issued.AccountID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal.AvailableCents != 10000 {
		t.Fatalf("available = %d, want 10000 after hold expiry", bal.AvailableCents)
	}

	again, err := svc.ExpireOpenHolds(ctx, clk.Now())
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if again != 0 {
		t.Fatalf("second sweep expired = %d, want 0", again)
	}
}

func TestAdjustSignedDelta(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	issued := issueAccount(t, svc, 1000, nil)

	up, err := svc.Adjust(ctx, AdjustInput{AccountID: issued.AccountID, DeltaCents: 500, Reason: "goodwill"})
	if err != nil {
		t.Fatalf("adjust up: %v", err)
	}
	if up.BalanceCents != 1500 {
		t.Fatalf("balance = %d, want 1500", up.BalanceCents)
	}

	down, err := svc.Adjust(ctx, AdjustInput{AccountID: issued.AccountID, DeltaCents: -200, Reason: "correction"})
	if err != nil {
		t.Fatalf("adjust down: %v", err)
	}
	if down.BalanceCents != 1300 {
		t.Fatalf("balance = %d, want 1300", down.BalanceCents)
	}

	if _, err := svc.Adjust(ctx, AdjustInput{AccountID: issued.AccountID, DeltaCents: 0}); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero delta: got %v", err)
	}
	if _, err := svc.Adjust(ctx, AdjustInput{AccountID: issued.AccountID, DeltaCents: -5000}); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("overdraw: got %v", err)
	}

	entries, _, err := svc.ListEntries(ctx, issued.AccountID, 10, 0)
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	// Newest first: adjust_down, adjust_up, issue.
	if entries[0].Direction != DirectionAdjustDown || entries[0].AmountCents != 200 {
		t.Fatalf("entry[0] = %s/%d, want adjust_down/200", entries[0].Direction, entries[0].AmountCents)
	}
	if entries[1].Direction != DirectionAdjustUp || entries[1].AmountCents != 500 {
		t.Fatalf("entry[1] = %s/%d, want adjust_up/500", entries[1].Direction, entries[1].AmountCents)
	}
}

func TestExpireBalancesSweep(t *testing.T) {
	svc, clk := newTestService(t)
	ctx := context.Background()

	expiry := clk.Now().Add(24 * time.Hour)
	funded := issueAccount(t, svc, 2500, func(in *IssueInput) { in.ExpiresAt = &expiry })
	drained := issueAccount(t, svc, 1000, func(in *IssueInput) { in.ExpiresAt = &expiry })
	evergreen := issueAccount(t, svc, 900, nil)

	if _, err := svc.Redeem(ctx, RedeemInput{TenantID: "camp-1", AccountID: drained.AccountID, AmountCents: 1000}); err != nil {
		t.Fatalf("drain: %v", err)
	}

	clk.Advance(25 * time.Hour)

	result, err := svc.ExpireBalances(ctx, clk.Now())
	if err != nil {
		t.Fatalf("expire balances: %v", err)
	}
	if result.Expired != 1 || result.Zeroed != 1 {
		t.Fatalf("sweep = %+v, want Expired 1 Zeroed 1", result)
	}

	bal, err := svc.BalanceByAccount(ctx, funded.AccountID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal.BalanceCents != 0 {
		t.Fatalf("expired balance = %d, want 0", bal.BalanceCents)
	}

	entries, _, err := svc.ListEntries(ctx, funded.AccountID, 1, 0)
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	if entries[0].Direction != DirectionExpire || entries[0].AmountCents != 2500 {
		t.Fatalf("entry = %s/%d, want expire/2500", entries[0].Direction, entries[0].AmountCents)
	}

	// Expired accounts refuse further activity.
	if _, err := svc.Redeem(ctx, RedeemInput{TenantID: "camp-1", AccountID: funded.AccountID, AmountCents: 100}); !errors.Is(err, ErrAccountNotActive) {
		t.Fatalf("redeem on expired: got %v", err)
	}

	// Untouched account survives, and a second pass is a no-op.
	if bal, err := svc.BalanceByAccount(ctx, evergreen.AccountID); err != nil || bal.BalanceCents != 900 {
		t.Fatalf("evergreen balance = %+v err=%v, want 900", bal, err)
	}
	again, err := svc.ExpireBalances(ctx, clk.Now())
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if again.Expired != 0 || again.Zeroed != 0 {
		t.Fatalf("second sweep = %+v, want no-op", again)
	}
}

func TestGuestWalletGetOrCreate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, created, err := svc.GetOrCreateGuestWallet(ctx, "camp-1", "guest-7", "usd")
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	if !created {
		t.Fatal("expected first call to create")
	}

	second, created, err := svc.GetOrCreateGuestWallet(ctx, "camp-1", "guest-7", "usd")
	if err != nil {
		t.Fatalf("fetch wallet: %v", err)
	}
	if created || second.ID != first.ID {
		t.Fatalf("second call = (%q, created=%v), want existing %q", second.ID, created, first.ID)
	}

	credit, err := svc.CreditAccount(ctx, CreditInput{
		AccountID:     first.ID,
		AmountCents:   1500,
		Kind:          CreditRefund,
		ReferenceType: "refund",
		ReferenceID:   "ref-1",
	})
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if credit.BalanceCents != 1500 {
		t.Fatalf("balance = %d, want 1500", credit.BalanceCents)
	}

	spent, err := svc.Redeem(ctx, RedeemInput{TenantID: "camp-1", AccountID: first.ID, AmountCents: 600})
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if spent.BalanceCents != 900 {
		t.Fatalf("balance = %d, want 900", spent.BalanceCents)
	}
}

func TestBalanceEqualsSignedEntrySum(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	issued := issueAccount(t, svc, 8000, nil)
	if _, err := svc.Redeem(ctx, RedeemInput{TenantID: "camp-1", AccountID: issued.AccountID, AmountCents: 1200}); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if _, err := svc.Adjust(ctx, AdjustInput{AccountID: issued.AccountID, DeltaCents: 300, Reason: "promo"}); err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if _, err := svc.CreditAccount(ctx, CreditInput{AccountID: issued.AccountID, AmountCents: 450, Kind: CreditRefund, ReferenceType: "refund", ReferenceID: "r1"}); err != nil {
		t.Fatalf("credit: %v", err)
	}
	held, err := svc.Redeem(ctx, RedeemInput{TenantID: "camp-1", AccountID: issued.AccountID, AmountCents: 500, HoldOnly: true})
	if err != nil {
		t.Fatalf("hold: %v", err)
	}
	if _, err := svc.CaptureHold(ctx, HoldActionInput{HoldID: held.HoldID}); err != nil {
		t.Fatalf("capture: %v", err)
	}

	entries, _, err := svc.ListEntries(ctx, issued.AccountID, 100, 0)
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	var sum int64
	for _, e := range entries {
		sum += e.Direction.Signed(e.AmountCents)
	}

	bal, err := svc.BalanceByAccount(ctx, issued.AccountID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal.BalanceCents != sum {
		t.Fatalf("balance %d != signed entry sum %d", bal.BalanceCents, sum)
	}
	if sum != 8000-1200+300+450-500 {
		t.Fatalf("sum = %d, want %d", sum, 8000-1200+300+450-500)
	}
}

func TestRedeemRequiresIdentifier(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.Redeem(context.Background(), RedeemInput{TenantID: "camp-1", AmountCents: 100}); !errors.Is(err, ErrMissingIdentifier) {
		t.Fatalf("got %v, want ErrMissingIdentifier", err)
	}
}

func TestRedeemCurrencyMismatch(t *testing.T) {
	svc, _ := newTestService(t)

	issued := issueAccount(t, svc, 1000, nil)
	_, err := svc.Redeem(context.Background(), RedeemInput{
		TenantID:    "camp-1",
		AccountID:   issued.AccountID,
		AmountCents: 100,
		Currency:    "eur",
	})
	if !errors.Is(err, ErrCurrencyMismatch) {
		t.Fatalf("got %v, want ErrCurrencyMismatch", err)
	}
}
