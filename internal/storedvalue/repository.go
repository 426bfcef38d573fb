package storedvalue

import (
	"context"
	"time"
)

// Store persists stored-value state. Every capability is an explicit method so
// a missing one is a compile-time error rather than a silent no-op.
type Store interface {
	// Atomic runs fn against a transactional view. All writes inside fn commit
	// together or not at all, and reads inside fn observe no concurrent writes
	// to the rows fn locks.
	Atomic(ctx context.Context, fn func(tx Tx) error) error

	GetAccount(ctx context.Context, id string) (Account, error)
	GetCode(ctx context.Context, code string) (Code, error)
	GetHold(ctx context.Context, id string) (Hold, error)
	// ListExpiredAccounts returns active accounts whose expiry falls before
	// the cutoff. Candidates only; the sweep re-checks inside a transaction.
	ListExpiredAccounts(ctx context.Context, cutoff time.Time) ([]Account, error)
	// ListEntries returns a page of ledger entries for the account, newest
	// first, with the total entry count.
	ListEntries(ctx context.Context, accountID string, limit, offset int) ([]LedgerEntry, int64, error)
	// Balances derives the account balance outside any mutation. Mutations
	// must use the Tx equivalent instead.
	Balances(ctx context.Context, accountID string) (Balances, error)
}

// Tx is the transactional view handed to Store.Atomic.
type Tx interface {
	// LockAccount fetches the account with a write lock held for the rest of
	// the transaction, serializing balance decisions against it.
	LockAccount(id string) (Account, error)
	// FindOrCreateGuestAccount locks the active guest-wallet account for
	// (tenant, guest), creating it first if none exists.
	FindOrCreateGuestAccount(acct Account) (Account, bool, error)
	CreateAccount(acct Account) error
	// SetAccountStatus transitions the account only when it still has the
	// expected status, reporting whether the row changed.
	SetAccountStatus(id string, from, to AccountStatus) (bool, error)

	CreateCode(code Code) error

	// Balances derives balance and available balance from the full ledger
	// history plus open holds, as of this transaction.
	Balances(accountID string) (Balances, error)
	AppendEntry(entry LedgerEntry) error

	CreateHold(hold Hold) error
	// LockHold fetches the hold with a write lock held.
	LockHold(id string) (Hold, error)
	// SetHoldStatus transitions the hold only when it still has the expected
	// status, reporting whether the row changed.
	SetHoldStatus(id string, from, to HoldStatus) (bool, error)
	// ExpireOpenHolds marks every open hold past the cutoff expired and
	// returns how many rows changed.
	ExpireOpenHolds(cutoff time.Time) (int64, error)
}
