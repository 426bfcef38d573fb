package wallet

import (
	"context"

	"github.com/campsuite/campsuite/internal/storedvalue"
)

// Service exposes guest-wallet operations. Every wallet is a guest_wallet
// stored-value account, so balances, idempotency, and the overdraw check are
// the engine's; this layer only adds the (tenant, guest) addressing and the
// payment/refund vocabulary the booking flows speak.
type Service struct {
	engine *storedvalue.Service
}

// NewService builds a guest-wallet service over the stored-value engine.
func NewService(engine *storedvalue.Service) *Service {
	return &Service{engine: engine}
}

// Wallet is a guest-facing view of the backing account.
type Wallet struct {
	AccountID string `json:"account_id"`
	TenantID  string `json:"tenant_id"`
	GuestID   string `json:"guest_id"`
	Currency  string `json:"currency"`
	Created   bool   `json:"created"`
}

// GetOrCreate returns the guest's wallet for the tenant, creating it on first
// use.
func (s *Service) GetOrCreate(ctx context.Context, tenantID, guestID, currency string) (Wallet, error) {
	account, created, err := s.engine.GetOrCreateGuestWallet(ctx, tenantID, guestID, currency)
	if err != nil {
		return Wallet{}, err
	}
	return Wallet{
		AccountID: account.ID,
		TenantID:  account.TenantID,
		GuestID:   account.GuestID,
		Currency:  account.Currency,
		Created:   created,
	}, nil
}

// CreditInput adds funds to a guest wallet.
type CreditInput struct {
	TenantID       string
	GuestID        string
	AmountCents    int64
	Currency       string
	Reason         string
	ReferenceType  string
	ReferenceID    string
	Channel        string
	Actor          storedvalue.Actor
	IdempotencyKey string
}

// AddCredit grants store credit to the guest's wallet, creating the wallet if
// needed.
func (s *Service) AddCredit(ctx context.Context, input CreditInput) (storedvalue.CreditResult, error) {
	return s.credit(ctx, input, storedvalue.CreditIssue)
}

// CreditFromRefund routes a refund into the guest's wallet instead of back to
// the original payment method.
func (s *Service) CreditFromRefund(ctx context.Context, input CreditInput) (storedvalue.CreditResult, error) {
	return s.credit(ctx, input, storedvalue.CreditRefund)
}

func (s *Service) credit(ctx context.Context, input CreditInput, kind storedvalue.CreditKind) (storedvalue.CreditResult, error) {
	wallet, err := s.GetOrCreate(ctx, input.TenantID, input.GuestID, input.Currency)
	if err != nil {
		return storedvalue.CreditResult{}, err
	}
	return s.engine.CreditAccount(ctx, storedvalue.CreditInput{
		AccountID:      wallet.AccountID,
		AmountCents:    input.AmountCents,
		Kind:           kind,
		ReferenceType:  input.ReferenceType,
		ReferenceID:    input.ReferenceID,
		Reason:         input.Reason,
		Channel:        input.Channel,
		Actor:          input.Actor,
		IdempotencyKey: input.IdempotencyKey,
	})
}

// DebitInput spends from a guest wallet toward an order or booking.
type DebitInput struct {
	TenantID       string
	GuestID        string
	AmountCents    int64
	Currency       string
	ReferenceType  string
	ReferenceID    string
	HoldOnly       bool
	Channel        string
	Actor          storedvalue.Actor
	IdempotencyKey string
}

// DebitForPayment redeems wallet funds against a charge. With HoldOnly the
// funds are reserved until capture, e.g. while an online checkout settles.
func (s *Service) DebitForPayment(ctx context.Context, input DebitInput) (storedvalue.RedeemResult, error) {
	wallet, err := s.GetOrCreate(ctx, input.TenantID, input.GuestID, input.Currency)
	if err != nil {
		return storedvalue.RedeemResult{}, err
	}
	return s.engine.Redeem(ctx, storedvalue.RedeemInput{
		TenantID:       input.TenantID,
		AccountID:      wallet.AccountID,
		AmountCents:    input.AmountCents,
		Currency:       input.Currency,
		ReferenceType:  input.ReferenceType,
		ReferenceID:    input.ReferenceID,
		HoldOnly:       input.HoldOnly,
		Channel:        input.Channel,
		Actor:          input.Actor,
		IdempotencyKey: input.IdempotencyKey,
	})
}

// Balance returns the guest's wallet balances. Wallets are created lazily, so
// an unknown guest simply reads as a zero balance on a fresh wallet.
func (s *Service) Balance(ctx context.Context, tenantID, guestID string) (storedvalue.BalanceResult, error) {
	wallet, err := s.GetOrCreate(ctx, tenantID, guestID, "")
	if err != nil {
		return storedvalue.BalanceResult{}, err
	}
	return s.engine.BalanceByAccount(ctx, wallet.AccountID)
}

// Transactions returns a page of the wallet's ledger history, newest first.
func (s *Service) Transactions(ctx context.Context, tenantID, guestID string, limit, offset int) ([]storedvalue.LedgerEntry, int64, error) {
	wallet, err := s.GetOrCreate(ctx, tenantID, guestID, "")
	if err != nil {
		return nil, 0, err
	}
	return s.engine.ListEntries(ctx, wallet.AccountID, limit, offset)
}
