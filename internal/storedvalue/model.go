package storedvalue

import "time"

// AccountType distinguishes the stored-value products backed by the ledger.
type AccountType string

const (
	TypeGiftCard    AccountType = "gift_card"
	TypeStoreCredit AccountType = "store_credit"
	TypeGuestWallet AccountType = "guest_wallet"
)

// AccountStatus is monotonic: active accounts may only become expired.
type AccountStatus string

const (
	StatusActive  AccountStatus = "active"
	StatusExpired AccountStatus = "expired"
)

// Direction classifies a ledger entry. Every direction stores an unsigned
// magnitude; the sign is derived from the direction when summing.
type Direction string

const (
	DirectionIssue       Direction = "issue"
	DirectionRefund      Direction = "refund"
	DirectionAdjustUp    Direction = "adjust_up"
	DirectionAdjustDown  Direction = "adjust_down"
	DirectionRedeem      Direction = "redeem"
	DirectionExpire      Direction = "expire"
	DirectionHoldCapture Direction = "hold_capture"
)

// Signed returns the amount with the sign implied by the direction, or zero
// for an unknown direction.
func (d Direction) Signed(amountCents int64) int64 {
	if amountCents < 0 {
		amountCents = -amountCents
	}
	switch d {
	case DirectionIssue, DirectionRefund, DirectionAdjustUp:
		return amountCents
	case DirectionRedeem, DirectionExpire, DirectionHoldCapture, DirectionAdjustDown:
		return -amountCents
	default:
		return 0
	}
}

// HoldStatus is terminal once a hold leaves open.
type HoldStatus string

const (
	HoldOpen     HoldStatus = "open"
	HoldCaptured HoldStatus = "captured"
	HoldReleased HoldStatus = "released"
	HoldExpired  HoldStatus = "expired"
)

// Account is a balance-bearing entity for a gift card, store credit, or guest
// wallet. The balance itself lives exclusively in the ledger.
type Account struct {
	ID        string
	TenantID  string
	GuestID   string
	Type      AccountType
	Currency  string
	Status    AccountStatus
	IssuedAt  time.Time
	ExpiresAt *time.Time
	Metadata  map[string]string
}

// ExpiredAt reports whether the account's expiry, if any, falls before now.
func (a Account) ExpiredAt(now time.Time) bool {
	return a.ExpiresAt != nil && a.ExpiresAt.Before(now)
}

// Code is a human-presentable redemption code bound to one account. PINHash
// holds a salted PBKDF2 digest in salt:hash hex form, never a plaintext PIN.
type Code struct {
	AccountID string
	Code      string
	PINHash   string
	CreatedAt time.Time
}

// LedgerEntry is an immutable record of one balance-affecting event. The
// before/after snapshots are an audit aid only; the authoritative balance is
// always re-derived by summing entries.
type LedgerEntry struct {
	ID             string
	TenantID       string
	AccountID      string
	Direction      Direction
	AmountCents    int64
	Currency       string
	BeforeCents    int64
	AfterCents     int64
	ReferenceType  string
	ReferenceID    string
	IdempotencyKey string
	ActorType      string
	ActorID        string
	Channel        string
	Reason         string
	CreatedAt      time.Time
}

// Hold is a time-boxed reservation of funds. It reduces available balance
// while open and produces a ledger entry only on capture.
type Hold struct {
	ID             string
	AccountID      string
	AmountCents    int64
	Status         HoldStatus
	ExpiresAt      time.Time
	ReferenceType  string
	ReferenceID    string
	IdempotencyKey string
	CreatedAt      time.Time
}

// Balances pairs the ledger-derived balance with the balance available after
// open holds.
type Balances struct {
	BalanceCents   int64
	AvailableCents int64
}

// Actor identifies who performed a mutation, for the audit columns.
type Actor struct {
	Type string
	ID   string
}
