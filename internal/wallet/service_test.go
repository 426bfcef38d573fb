package wallet

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/campsuite/campsuite/internal/clock"
	"github.com/campsuite/campsuite/internal/idempotency"
	"github.com/campsuite/campsuite/internal/logging"
	"github.com/campsuite/campsuite/internal/storedvalue"
)

func newTestWalletService(t *testing.T) *Service {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	guard := idempotency.NewGuard(idempotency.NewMemoryStore(), time.Minute, clk)
	engine := storedvalue.NewService(storedvalue.NewMemoryStore(), guard, clk, 15*time.Minute, logging.Discard())
	return NewService(engine)
}

func TestWalletCreatedLazily(t *testing.T) {
	svc := newTestWalletService(t)
	ctx := context.Background()

	first, err := svc.GetOrCreate(ctx, "camp-1", "guest-1", "usd")
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if !first.Created {
		t.Fatal("expected first call to create the wallet")
	}

	second, err := svc.GetOrCreate(ctx, "camp-1", "guest-1", "usd")
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if second.Created || second.AccountID != first.AccountID {
		t.Fatalf("second call = %+v, want existing wallet %q", second, first.AccountID)
	}

	// A different guest gets a different wallet.
	other, err := svc.GetOrCreate(ctx, "camp-1", "guest-2", "usd")
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if other.AccountID == first.AccountID {
		t.Fatal("distinct guests must not share a wallet")
	}
}

func TestWalletCreditAndDebit(t *testing.T) {
	svc := newTestWalletService(t)
	ctx := context.Background()

	credited, err := svc.AddCredit(ctx, CreditInput{
		TenantID:    "camp-1",
		GuestID:     "guest-1",
		AmountCents: 2500,
		Currency:    "usd",
		Reason:      "rainout compensation",
	})
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if credited.BalanceCents != 2500 {
		t.Fatalf("balance = %d, want 2500", credited.BalanceCents)
	}

	debited, err := svc.DebitForPayment(ctx, DebitInput{
		TenantID:      "camp-1",
		GuestID:       "guest-1",
		AmountCents:   1000,
		Currency:      "usd",
		ReferenceType: "booking",
		ReferenceID:   "bk-42",
	})
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if debited.BalanceCents != 1500 {
		t.Fatalf("balance = %d, want 1500", debited.BalanceCents)
	}

	_, err = svc.DebitForPayment(ctx, DebitInput{
		TenantID:    "camp-1",
		GuestID:     "guest-1",
		AmountCents: 2000,
		Currency:    "usd",
	})
	if !errors.Is(err, storedvalue.ErrInsufficientBalance) {
		t.Fatalf("overdraw: got %v, want ErrInsufficientBalance", err)
	}
}

func TestWalletRefundCreditWritesRefundEntry(t *testing.T) {
	svc := newTestWalletService(t)
	ctx := context.Background()

	if _, err := svc.CreditFromRefund(ctx, CreditInput{
		TenantID:      "camp-1",
		GuestID:       "guest-1",
		AmountCents:   3200,
		Currency:      "usd",
		ReferenceType: "refund",
		ReferenceID:   "rf-7",
	}); err != nil {
		t.Fatalf("refund credit: %v", err)
	}

	entries, total, err := svc.Transactions(ctx, "camp-1", "guest-1", 10, 0)
	if err != nil {
		t.Fatalf("transactions: %v", err)
	}
	if total != 1 {
		t.Fatalf("total = %d, want 1", total)
	}
	if entries[0].Direction != storedvalue.DirectionRefund || entries[0].AmountCents != 3200 {
		t.Fatalf("entry = %s/%d, want refund/3200", entries[0].Direction, entries[0].AmountCents)
	}
}

func TestWalletBalanceForUnknownGuestIsZero(t *testing.T) {
	svc := newTestWalletService(t)

	bal, err := svc.Balance(context.Background(), "camp-1", "guest-never-seen")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal.BalanceCents != 0 || bal.AvailableCents != 0 {
		t.Fatalf("balances = %+v, want zero", bal)
	}
}

func TestWalletDebitHoldReservesFunds(t *testing.T) {
	svc := newTestWalletService(t)
	ctx := context.Background()

	if _, err := svc.AddCredit(ctx, CreditInput{TenantID: "camp-1", GuestID: "guest-1", AmountCents: 5000, Currency: "usd"}); err != nil {
		t.Fatalf("credit: %v", err)
	}

	held, err := svc.DebitForPayment(ctx, DebitInput{
		TenantID:    "camp-1",
		GuestID:     "guest-1",
		AmountCents: 4000,
		Currency:    "usd",
		HoldOnly:    true,
	})
	if err != nil {
		t.Fatalf("hold: %v", err)
	}
	if held.HoldID == "" || held.AvailableCents != 1000 || held.BalanceCents != 5000 {
		t.Fatalf("hold result = %+v, want available 1000 balance 5000", held)
	}
}
