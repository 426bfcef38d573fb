package storedvalue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/campsuite/campsuite/internal/clock"
	"github.com/campsuite/campsuite/internal/idempotency"
)

// ErrMissingTenant rejects operations without an owning scope.
var ErrMissingTenant = errors.New("tenant id required")

// Service exposes the stored-value operations. Every mutation is wrapped by
// the idempotency guard and executes its check-then-act sequence inside one
// atomic store update, so concurrent retries and racing redemptions cannot
// overdraw an account.
type Service struct {
	store   Store
	guard   *idempotency.Guard
	clock   clock.Clock
	holdTTL time.Duration
	logger  *slog.Logger
}

// NewService builds the stored-value service. holdTTL bounds how long a
// redemption hold reserves funds before the sweeper reclaims it.
func NewService(store Store, guard *idempotency.Guard, clk clock.Clock, holdTTL time.Duration, logger *slog.Logger) *Service {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Service{store: store, guard: guard, clock: clk, holdTTL: holdTTL, logger: logger}
}

type guardPayload struct {
	Op   string `json:"op"`
	Body any    `json:"body"`
}

// IssueInput captures the data required to issue a new stored-value account.
type IssueInput struct {
	TenantID       string            `json:"tenant_id"`
	Type           AccountType       `json:"type"`
	AmountCents    int64             `json:"amount_cents"`
	Currency       string            `json:"currency"`
	ExpiresAt      *time.Time        `json:"expires_at,omitempty"`
	Code           string            `json:"code,omitempty"`
	PIN            string            `json:"pin,omitempty"`
	GeneratePIN    bool              `json:"generate_pin,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Channel        string            `json:"channel,omitempty"`
	Actor          Actor             `json:"-"`
	IdempotencyKey string            `json:"-"`
}

// IssueResult describes a freshly issued account. PIN carries a generated PIN
// exactly once; it is stripped before the result is cached for replay and a
// caller-supplied PIN is never echoed at all.
type IssueResult struct {
	AccountID    string     `json:"account_id"`
	BalanceCents int64      `json:"balance_cents"`
	Currency     string     `json:"currency"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	Code         string     `json:"code"`
	PINRequired  bool       `json:"pin_required"`
	PIN          string     `json:"-"`
}

// Issue creates an account with its redemption code and writes the opening
// issue entry, all in one transaction.
func (s *Service) Issue(ctx context.Context, input IssueInput) (IssueResult, error) {
	if input.TenantID == "" {
		return IssueResult{}, ErrMissingTenant
	}
	if input.AmountCents <= 0 {
		return IssueResult{}, ErrInvalidAmount
	}
	switch input.Type {
	case TypeGiftCard, TypeStoreCredit, TypeGuestWallet:
	default:
		return IssueResult{}, fmt.Errorf("unknown account type %q", input.Type)
	}
	currency := strings.ToLower(strings.TrimSpace(input.Currency))
	if currency == "" {
		return IssueResult{}, ErrCurrencyMismatch
	}

	var result IssueResult
	replayed, err := s.begin(ctx, input.IdempotencyKey, "stored_value.issue", input, input.TenantID, &result)
	if err != nil || replayed {
		return result, err
	}

	pin := input.PIN
	generated := false
	if pin != "" {
		if err := ValidatePIN(pin); err != nil {
			return IssueResult{}, s.fail(ctx, input.IdempotencyKey, err)
		}
	} else if input.GeneratePIN {
		pin, err = GeneratePIN()
		if err != nil {
			return IssueResult{}, s.fail(ctx, input.IdempotencyKey, err)
		}
		generated = true
	}

	codeValue := input.Code
	if codeValue == "" {
		codeValue, err = GenerateCode()
		if err != nil {
			return IssueResult{}, s.fail(ctx, input.IdempotencyKey, err)
		}
	}

	var pinHash string
	if pin != "" {
		pinHash, err = HashPIN(pin)
		if err != nil {
			return IssueResult{}, s.fail(ctx, input.IdempotencyKey, err)
		}
	}

	now := s.clock.Now()
	account := Account{
		ID:        uuid.NewString(),
		TenantID:  input.TenantID,
		Type:      input.Type,
		Currency:  currency,
		Status:    StatusActive,
		IssuedAt:  now,
		ExpiresAt: normalizeExpiry(input.ExpiresAt),
		Metadata:  input.Metadata,
	}

	err = s.store.Atomic(ctx, func(tx Tx) error {
		if err := tx.CreateAccount(account); err != nil {
			return err
		}
		if err := tx.CreateCode(Code{AccountID: account.ID, Code: codeValue, PINHash: pinHash, CreatedAt: now}); err != nil {
			return err
		}
		return tx.AppendEntry(LedgerEntry{
			ID:             uuid.NewString(),
			TenantID:       account.TenantID,
			AccountID:      account.ID,
			Direction:      DirectionIssue,
			AmountCents:    input.AmountCents,
			Currency:       currency,
			BeforeCents:    0,
			AfterCents:     input.AmountCents,
			ReferenceType:  "stored_value_issue",
			ReferenceID:    account.ID,
			IdempotencyKey: fallbackKey(input.IdempotencyKey, "issue", account.ID, now),
			ActorType:      input.Actor.Type,
			ActorID:        input.Actor.ID,
			Channel:        defaultString(input.Channel, "staff"),
			CreatedAt:      now,
		})
	})
	if err != nil {
		return IssueResult{}, s.fail(ctx, input.IdempotencyKey, err)
	}

	result = IssueResult{
		AccountID:    account.ID,
		BalanceCents: input.AmountCents,
		Currency:     currency,
		ExpiresAt:    account.ExpiresAt,
		Code:         codeValue,
		PINRequired:  pinHash != "",
	}
	s.complete(ctx, input.IdempotencyKey, result)
	if generated {
		result.PIN = pin
	}
	return result, nil
}

// RedeemInput resolves an account by id or by code (with PIN when the code is
// protected) and spends or reserves funds against it.
type RedeemInput struct {
	TenantID       string `json:"tenant_id"`
	AccountID      string `json:"account_id,omitempty"`
	Code           string `json:"code,omitempty"`
	PIN            string `json:"pin,omitempty"`
	AmountCents    int64  `json:"amount_cents"`
	Currency       string `json:"currency"`
	ReferenceType  string `json:"reference_type"`
	ReferenceID    string `json:"reference_id"`
	HoldOnly       bool   `json:"hold_only,omitempty"`
	Channel        string `json:"channel,omitempty"`
	Actor          Actor  `json:"-"`
	IdempotencyKey string `json:"-"`
}

// RedeemResult reports the post-operation balances and, for hold-only
// redemptions, the hold that now reserves the funds.
type RedeemResult struct {
	AccountID      string     `json:"account_id"`
	BalanceCents   int64      `json:"balance_cents"`
	AvailableCents int64      `json:"available_cents"`
	HoldID         string     `json:"hold_id,omitempty"`
	HoldExpiresAt  *time.Time `json:"hold_expires_at,omitempty"`
}

// Redeem spends funds immediately, or reserves them behind a hold when
// HoldOnly is set. The balance check and the ledger write share one
// transaction with the account row locked.
func (s *Service) Redeem(ctx context.Context, input RedeemInput) (RedeemResult, error) {
	if input.AmountCents <= 0 {
		return RedeemResult{}, ErrInvalidAmount
	}

	account, err := s.resolveAccount(ctx, input.AccountID, input.Code, input.PIN)
	if err != nil {
		return RedeemResult{}, err
	}
	currency := strings.ToLower(strings.TrimSpace(input.Currency))
	if currency != "" && currency != account.Currency {
		return RedeemResult{}, ErrCurrencyMismatch
	}

	var result RedeemResult
	replayed, err := s.begin(ctx, input.IdempotencyKey, "stored_value.redeem", input, input.TenantID, &result)
	if err != nil || replayed {
		return result, err
	}

	now := s.clock.Now()
	err = s.store.Atomic(ctx, func(tx Tx) error {
		locked, err := tx.LockAccount(account.ID)
		if err != nil {
			return err
		}
		if err := ensureActive(locked, now); err != nil {
			return err
		}

		balances, err := tx.Balances(locked.ID)
		if err != nil {
			return err
		}
		if balances.AvailableCents < input.AmountCents {
			return ErrInsufficientBalance
		}

		if input.HoldOnly {
			hold := Hold{
				ID:             uuid.NewString(),
				AccountID:      locked.ID,
				AmountCents:    input.AmountCents,
				Status:         HoldOpen,
				ExpiresAt:      now.Add(s.holdTTL),
				ReferenceType:  input.ReferenceType,
				ReferenceID:    input.ReferenceID,
				IdempotencyKey: fallbackKey(input.IdempotencyKey, "hold", locked.ID, now),
				CreatedAt:      now,
			}
			if err := tx.CreateHold(hold); err != nil {
				return err
			}
			expires := hold.ExpiresAt
			result = RedeemResult{
				AccountID:      locked.ID,
				BalanceCents:   balances.BalanceCents,
				AvailableCents: balances.AvailableCents - input.AmountCents,
				HoldID:         hold.ID,
				HoldExpiresAt:  &expires,
			}
			return nil
		}

		after := balances.BalanceCents - input.AmountCents
		if err := tx.AppendEntry(LedgerEntry{
			ID:             uuid.NewString(),
			TenantID:       locked.TenantID,
			AccountID:      locked.ID,
			Direction:      DirectionRedeem,
			AmountCents:    input.AmountCents,
			Currency:       locked.Currency,
			BeforeCents:    balances.BalanceCents,
			AfterCents:     after,
			ReferenceType:  input.ReferenceType,
			ReferenceID:    input.ReferenceID,
			IdempotencyKey: fallbackKey(input.IdempotencyKey, "redeem", locked.ID, now),
			ActorType:      input.Actor.Type,
			ActorID:        input.Actor.ID,
			Channel:        defaultString(input.Channel, "pos"),
			CreatedAt:      now,
		}); err != nil {
			return err
		}
		result = RedeemResult{
			AccountID:      locked.ID,
			BalanceCents:   after,
			AvailableCents: balances.AvailableCents - input.AmountCents,
		}
		return nil
	})
	if err != nil {
		return RedeemResult{}, s.fail(ctx, input.IdempotencyKey, err)
	}

	s.complete(ctx, input.IdempotencyKey, result)
	return result, nil
}

// HoldActionInput identifies a hold for capture or release.
type HoldActionInput struct {
	HoldID         string `json:"hold_id"`
	Actor          Actor  `json:"-"`
	IdempotencyKey string `json:"-"`
}

// HoldActionResult reports the hold's terminal state and the resulting balance.
type HoldActionResult struct {
	AccountID    string     `json:"account_id"`
	HoldID       string     `json:"hold_id"`
	Status       HoldStatus `json:"status"`
	BalanceCents int64      `json:"balance_cents"`
}

// CaptureHold converts an open, unexpired hold into a hold_capture ledger
// entry. Openness and expiry are re-checked inside the transaction, so a
// racing sweep simply wins or loses the conditional update.
func (s *Service) CaptureHold(ctx context.Context, input HoldActionInput) (HoldActionResult, error) {
	var result HoldActionResult
	replayed, err := s.begin(ctx, input.IdempotencyKey, "stored_value.capture_hold", input, "", &result)
	if err != nil || replayed {
		return result, err
	}

	now := s.clock.Now()
	err = s.store.Atomic(ctx, func(tx Tx) error {
		hold, err := tx.LockHold(input.HoldID)
		if err != nil {
			return err
		}
		if hold.Status != HoldOpen {
			return ErrHoldNotOpen
		}
		if hold.ExpiresAt.Before(now) {
			return ErrHoldExpired
		}

		account, err := tx.LockAccount(hold.AccountID)
		if err != nil {
			return err
		}
		if err := ensureActive(account, now); err != nil {
			return err
		}

		balances, err := tx.Balances(account.ID)
		if err != nil {
			return err
		}

		changed, err := tx.SetHoldStatus(hold.ID, HoldOpen, HoldCaptured)
		if err != nil {
			return err
		}
		if !changed {
			return ErrHoldNotOpen
		}

		after := balances.BalanceCents - hold.AmountCents
		if err := tx.AppendEntry(LedgerEntry{
			ID:             uuid.NewString(),
			TenantID:       account.TenantID,
			AccountID:      account.ID,
			Direction:      DirectionHoldCapture,
			AmountCents:    hold.AmountCents,
			Currency:       account.Currency,
			BeforeCents:    balances.BalanceCents,
			AfterCents:     after,
			ReferenceType:  hold.ReferenceType,
			ReferenceID:    hold.ReferenceID,
			IdempotencyKey: fallbackKey(input.IdempotencyKey, "hold-capture", hold.ID, now),
			ActorType:      input.Actor.Type,
			ActorID:        input.Actor.ID,
			CreatedAt:      now,
		}); err != nil {
			return err
		}

		result = HoldActionResult{AccountID: account.ID, HoldID: hold.ID, Status: HoldCaptured, BalanceCents: after}
		return nil
	})
	if err != nil {
		return HoldActionResult{}, s.fail(ctx, input.IdempotencyKey, err)
	}

	s.complete(ctx, input.IdempotencyKey, result)
	return result, nil
}

// ReleaseHold removes an open hold's drag on available balance. No ledger
// entry is written.
func (s *Service) ReleaseHold(ctx context.Context, input HoldActionInput) (HoldActionResult, error) {
	var result HoldActionResult
	replayed, err := s.begin(ctx, input.IdempotencyKey, "stored_value.release_hold", input, "", &result)
	if err != nil || replayed {
		return result, err
	}

	err = s.store.Atomic(ctx, func(tx Tx) error {
		hold, err := tx.LockHold(input.HoldID)
		if err != nil {
			return err
		}
		if hold.Status != HoldOpen {
			return ErrHoldNotOpen
		}
		changed, err := tx.SetHoldStatus(hold.ID, HoldOpen, HoldReleased)
		if err != nil {
			return err
		}
		if !changed {
			return ErrHoldNotOpen
		}
		balances, err := tx.Balances(hold.AccountID)
		if err != nil {
			return err
		}
		result = HoldActionResult{AccountID: hold.AccountID, HoldID: hold.ID, Status: HoldReleased, BalanceCents: balances.BalanceCents}
		return nil
	})
	if err != nil {
		return HoldActionResult{}, s.fail(ctx, input.IdempotencyKey, err)
	}

	s.complete(ctx, input.IdempotencyKey, result)
	return result, nil
}

// AdjustInput applies a signed manual correction to an account.
type AdjustInput struct {
	AccountID      string `json:"account_id"`
	DeltaCents     int64  `json:"delta_cents"`
	Reason         string `json:"reason"`
	Channel        string `json:"channel,omitempty"`
	Actor          Actor  `json:"-"`
	IdempotencyKey string `json:"-"`
}

// AdjustResult reports the balance after the adjustment.
type AdjustResult struct {
	AccountID    string `json:"account_id"`
	BalanceCents int64  `json:"balance_cents"`
}

// Adjust writes an adjust_up or adjust_down entry for the delta's magnitude.
// Adjustments that would take the balance negative are rejected.
func (s *Service) Adjust(ctx context.Context, input AdjustInput) (AdjustResult, error) {
	if input.DeltaCents == 0 {
		return AdjustResult{}, ErrInvalidAmount
	}

	var result AdjustResult
	replayed, err := s.begin(ctx, input.IdempotencyKey, "stored_value.adjust", input, "", &result)
	if err != nil || replayed {
		return result, err
	}

	now := s.clock.Now()
	err = s.store.Atomic(ctx, func(tx Tx) error {
		account, err := tx.LockAccount(input.AccountID)
		if err != nil {
			return err
		}
		if err := ensureActive(account, now); err != nil {
			return err
		}

		balances, err := tx.Balances(account.ID)
		if err != nil {
			return err
		}
		after := balances.BalanceCents + input.DeltaCents
		if after < 0 {
			return ErrInsufficientBalance
		}

		direction := DirectionAdjustUp
		magnitude := input.DeltaCents
		if input.DeltaCents < 0 {
			direction = DirectionAdjustDown
			magnitude = -input.DeltaCents
		}

		if err := tx.AppendEntry(LedgerEntry{
			ID:             uuid.NewString(),
			TenantID:       account.TenantID,
			AccountID:      account.ID,
			Direction:      direction,
			AmountCents:    magnitude,
			Currency:       account.Currency,
			BeforeCents:    balances.BalanceCents,
			AfterCents:     after,
			ReferenceType:  "adjustment",
			ReferenceID:    account.ID,
			IdempotencyKey: fallbackKey(input.IdempotencyKey, "adjust", account.ID, now),
			ActorType:      input.Actor.Type,
			ActorID:        input.Actor.ID,
			Channel:        input.Channel,
			Reason:         input.Reason,
			CreatedAt:      now,
		}); err != nil {
			return err
		}
		result = AdjustResult{AccountID: account.ID, BalanceCents: after}
		return nil
	})
	if err != nil {
		return AdjustResult{}, s.fail(ctx, input.IdempotencyKey, err)
	}

	s.complete(ctx, input.IdempotencyKey, result)
	return result, nil
}

// CreditKind restricts CreditAccount to the two crediting directions.
type CreditKind Direction

const (
	CreditIssue  = CreditKind(DirectionIssue)
	CreditRefund = CreditKind(DirectionRefund)
)

// CreditInput adds funds to an existing account.
type CreditInput struct {
	AccountID      string     `json:"account_id"`
	AmountCents    int64      `json:"amount_cents"`
	Kind           CreditKind `json:"kind"`
	ReferenceType  string     `json:"reference_type"`
	ReferenceID    string     `json:"reference_id"`
	Reason         string     `json:"reason,omitempty"`
	Channel        string     `json:"channel,omitempty"`
	Actor          Actor      `json:"-"`
	IdempotencyKey string     `json:"-"`
}

// CreditResult reports the balance after the credit.
type CreditResult struct {
	AccountID    string `json:"account_id"`
	BalanceCents int64  `json:"balance_cents"`
	EntryID      string `json:"entry_id"`
}

// CreditAccount appends an issue or refund entry to an existing account. The
// guest-wallet wrappers route every credit through here so nothing bypasses
// the shared balance and idempotency machinery.
func (s *Service) CreditAccount(ctx context.Context, input CreditInput) (CreditResult, error) {
	if input.AmountCents <= 0 {
		return CreditResult{}, ErrInvalidAmount
	}
	switch input.Kind {
	case CreditIssue, CreditRefund:
	default:
		return CreditResult{}, fmt.Errorf("unknown credit kind %q", input.Kind)
	}

	var result CreditResult
	replayed, err := s.begin(ctx, input.IdempotencyKey, "stored_value.credit", input, "", &result)
	if err != nil || replayed {
		return result, err
	}

	now := s.clock.Now()
	err = s.store.Atomic(ctx, func(tx Tx) error {
		account, err := tx.LockAccount(input.AccountID)
		if err != nil {
			return err
		}
		if err := ensureActive(account, now); err != nil {
			return err
		}

		balances, err := tx.Balances(account.ID)
		if err != nil {
			return err
		}
		after := balances.BalanceCents + input.AmountCents

		entry := LedgerEntry{
			ID:             uuid.NewString(),
			TenantID:       account.TenantID,
			AccountID:      account.ID,
			Direction:      Direction(input.Kind),
			AmountCents:    input.AmountCents,
			Currency:       account.Currency,
			BeforeCents:    balances.BalanceCents,
			AfterCents:     after,
			ReferenceType:  input.ReferenceType,
			ReferenceID:    input.ReferenceID,
			IdempotencyKey: fallbackKey(input.IdempotencyKey, "credit", account.ID, now),
			ActorType:      input.Actor.Type,
			ActorID:        input.Actor.ID,
			Channel:        input.Channel,
			Reason:         input.Reason,
			CreatedAt:      now,
		}
		if err := tx.AppendEntry(entry); err != nil {
			return err
		}
		result = CreditResult{AccountID: account.ID, BalanceCents: after, EntryID: entry.ID}
		return nil
	})
	if err != nil {
		return CreditResult{}, s.fail(ctx, input.IdempotencyKey, err)
	}

	s.complete(ctx, input.IdempotencyKey, result)
	return result, nil
}

// GetOrCreateGuestWallet returns the active guest-wallet account for
// (tenant, guest), lazily creating it on first use.
func (s *Service) GetOrCreateGuestWallet(ctx context.Context, tenantID, guestID, currency string) (Account, bool, error) {
	if tenantID == "" {
		return Account{}, false, ErrMissingTenant
	}
	if guestID == "" {
		return Account{}, false, ErrMissingIdentifier
	}
	currency = strings.ToLower(strings.TrimSpace(currency))
	if currency == "" {
		currency = "usd"
	}

	candidate := Account{
		ID:       uuid.NewString(),
		TenantID: tenantID,
		GuestID:  guestID,
		Type:     TypeGuestWallet,
		Currency: currency,
		Status:   StatusActive,
		IssuedAt: s.clock.Now(),
		Metadata: map[string]string{"guest_wallet": "true"},
	}

	var account Account
	var created bool
	err := s.store.Atomic(ctx, func(tx Tx) error {
		var err error
		account, created, err = tx.FindOrCreateGuestAccount(candidate)
		return err
	})
	if err != nil {
		return Account{}, false, err
	}
	return account, created, nil
}

// ExpireOpenHolds transitions every open hold past the cutoff to expired.
// No ledger entries result; the funds simply become available again.
func (s *Service) ExpireOpenHolds(ctx context.Context, cutoff time.Time) (int64, error) {
	var expired int64
	err := s.store.Atomic(ctx, func(tx Tx) error {
		var err error
		expired, err = tx.ExpireOpenHolds(cutoff)
		return err
	})
	return expired, err
}

// ExpireBalancesResult summarizes one ExpireBalances sweep.
type ExpireBalancesResult struct {
	Expired int `json:"expired"`
	Zeroed  int `json:"zeroed"`
}

// ExpireBalances sweeps active accounts past their expiry: a positive
// remainder gets one expire entry zeroing it, then the account goes to
// expired. One transaction per account, each conditioned on the account still
// being active, so re-runs and races with live traffic are harmless.
func (s *Service) ExpireBalances(ctx context.Context, cutoff time.Time) (ExpireBalancesResult, error) {
	candidates, err := s.store.ListExpiredAccounts(ctx, cutoff)
	if err != nil {
		return ExpireBalancesResult{}, err
	}

	var result ExpireBalancesResult
	for _, candidate := range candidates {
		err := s.store.Atomic(ctx, func(tx Tx) error {
			account, err := tx.LockAccount(candidate.ID)
			if err != nil {
				return err
			}
			if account.Status != StatusActive || account.ExpiresAt == nil || !account.ExpiresAt.Before(cutoff) {
				return nil
			}

			balances, err := tx.Balances(account.ID)
			if err != nil {
				return err
			}

			if balances.BalanceCents <= 0 {
				changed, err := tx.SetAccountStatus(account.ID, StatusActive, StatusExpired)
				if err != nil {
					return err
				}
				if changed {
					result.Zeroed++
				}
				return nil
			}

			now := s.clock.Now()
			if err := tx.AppendEntry(LedgerEntry{
				ID:             uuid.NewString(),
				TenantID:       account.TenantID,
				AccountID:      account.ID,
				Direction:      DirectionExpire,
				AmountCents:    balances.BalanceCents,
				Currency:       account.Currency,
				BeforeCents:    balances.BalanceCents,
				AfterCents:     0,
				ReferenceType:  "expire",
				ReferenceID:    account.ID,
				IdempotencyKey: fallbackKey("", "expire", account.ID, cutoff),
				ActorType:      "system",
				CreatedAt:      now,
			}); err != nil {
				return err
			}
			changed, err := tx.SetAccountStatus(account.ID, StatusActive, StatusExpired)
			if err != nil {
				return err
			}
			if changed {
				result.Expired++
			}
			return nil
		})
		if err != nil {
			return result, err
		}
	}
	return result, nil
}

// BalanceResult pairs an account with its derived balances.
type BalanceResult struct {
	AccountID      string `json:"account_id"`
	BalanceCents   int64  `json:"balance_cents"`
	AvailableCents int64  `json:"available_cents"`
	Currency       string `json:"currency"`
}

// BalanceByAccount derives the balance pair fresh from the ledger.
func (s *Service) BalanceByAccount(ctx context.Context, accountID string) (BalanceResult, error) {
	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return BalanceResult{}, err
	}
	balances, err := s.store.Balances(ctx, account.ID)
	if err != nil {
		return BalanceResult{}, err
	}
	return BalanceResult{
		AccountID:      account.ID,
		BalanceCents:   balances.BalanceCents,
		AvailableCents: balances.AvailableCents,
		Currency:       account.Currency,
	}, nil
}

// BalanceByCode resolves a redemption code and derives its account's balances.
// Balance lookups never require the PIN.
func (s *Service) BalanceByCode(ctx context.Context, code string) (BalanceResult, error) {
	record, err := s.store.GetCode(ctx, code)
	if err != nil {
		return BalanceResult{}, err
	}
	return s.BalanceByAccount(ctx, record.AccountID)
}

// ListEntries returns a page of the account's ledger history, newest first.
func (s *Service) ListEntries(ctx context.Context, accountID string, limit, offset int) ([]LedgerEntry, int64, error) {
	if _, err := s.store.GetAccount(ctx, accountID); err != nil {
		return nil, 0, err
	}
	return s.store.ListEntries(ctx, accountID, limit, offset)
}

// GetAccount fetches account metadata.
func (s *Service) GetAccount(ctx context.Context, accountID string) (Account, error) {
	return s.store.GetAccount(ctx, accountID)
}

// GetHold fetches a hold, open or terminal.
func (s *Service) GetHold(ctx context.Context, holdID string) (Hold, error) {
	return s.store.GetHold(ctx, holdID)
}

// resolveAccount loads the target account by id, or by code with PIN
// verification when the code is protected.
func (s *Service) resolveAccount(ctx context.Context, accountID, code, pin string) (Account, error) {
	if accountID != "" {
		return s.store.GetAccount(ctx, accountID)
	}
	if code == "" {
		return Account{}, ErrMissingIdentifier
	}

	record, err := s.store.GetCode(ctx, code)
	if err != nil {
		return Account{}, err
	}
	if record.PINHash != "" {
		if pin == "" {
			return Account{}, ErrPINRequired
		}
		if !VerifyPIN(pin, record.PINHash) {
			return Account{}, ErrInvalidPIN
		}
	}
	return s.store.GetAccount(ctx, record.AccountID)
}

// begin consults the idempotency guard. When the key already succeeded the
// cached response is decoded into out and replayed=true is returned.
func (s *Service) begin(ctx context.Context, key, op string, body any, scope string, out any) (bool, error) {
	if s.guard == nil || key == "" {
		return false, nil
	}
	cached, err := s.guard.Begin(ctx, key, guardPayload{Op: op, Body: body}, scope)
	if err != nil {
		return false, err
	}
	if cached == nil {
		return false, nil
	}
	if err := json.Unmarshal(cached, out); err != nil {
		return false, fmt.Errorf("decode cached idempotent response: %w", err)
	}
	return true, nil
}

// fail routes any guarded-operation error to the guard so the record never
// stays inflight, then passes the original error through.
func (s *Service) fail(ctx context.Context, key string, opErr error) error {
	if s.guard != nil && key != "" {
		if err := s.guard.Fail(ctx, key); err != nil && s.logger != nil {
			s.logger.Warn("mark idempotency record failed", "key", key, "error", err)
		}
	}
	return opErr
}

// complete caches the successful result. The operation already committed, so
// a failure here is logged and the result is still returned to the caller.
func (s *Service) complete(ctx context.Context, key string, result any) {
	if s.guard == nil || key == "" {
		return
	}
	if err := s.guard.Complete(ctx, key, result); err != nil && s.logger != nil {
		s.logger.Warn("record idempotent response", "key", key, "error", err)
	}
}

func ensureActive(account Account, now time.Time) error {
	if account.Status != StatusActive {
		return ErrAccountNotActive
	}
	if account.ExpiredAt(now) {
		return fmt.Errorf("%w: expired", ErrAccountNotActive)
	}
	return nil
}

func fallbackKey(key, op, id string, at time.Time) string {
	if key != "" {
		return key
	}
	return fmt.Sprintf("%s-%s-%d", op, id, at.UnixMilli())
}

func defaultString(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}

func normalizeExpiry(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}
