package storedvalue

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryStore struct {
	mu       sync.Mutex
	accounts map[string]Account
	codes    map[string]Code
	entries  map[string][]LedgerEntry
	holds    map[string]Hold
}

// NewMemoryStore constructs a concurrency-safe in-memory store. Atomic
// sections run under a single mutex, which gives the same serializability the
// Postgres implementation gets from row locks.
func NewMemoryStore() Store {
	return &memoryStore{
		accounts: make(map[string]Account),
		codes:    make(map[string]Code),
		entries:  make(map[string][]LedgerEntry),
		holds:    make(map[string]Hold),
	}
}

type memoryTx struct {
	s *memoryStore
}

func (m *memoryStore) Atomic(_ context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&memoryTx{s: m})
}

func (m *memoryStore) GetAccount(_ context.Context, id string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.account(id)
}

func (m *memoryStore) GetCode(_ context.Context, code string) (Code, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.codes[code]
	if !ok {
		return Code{}, ErrCodeNotFound
	}
	return c, nil
}

func (m *memoryStore) GetHold(_ context.Context, id string) (Hold, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.holds[id]
	if !ok {
		return Hold{}, ErrHoldNotFound
	}
	return h, nil
}

func (m *memoryStore) ListExpiredAccounts(_ context.Context, cutoff time.Time) ([]Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Account
	for _, acct := range m.accounts {
		if acct.Status == StatusActive && acct.ExpiresAt != nil && acct.ExpiresAt.Before(cutoff) {
			out = append(out, acct)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryStore) ListEntries(_ context.Context, accountID string, limit, offset int) ([]LedgerEntry, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.entries[accountID]
	total := int64(len(all))

	// Newest first.
	ordered := make([]LedgerEntry, len(all))
	for i, e := range all {
		ordered[len(all)-1-i] = e
	}
	if offset >= len(ordered) {
		return nil, total, nil
	}
	ordered = ordered[offset:]
	if limit > 0 && limit < len(ordered) {
		ordered = ordered[:limit]
	}
	return ordered, total, nil
}

func (m *memoryStore) Balances(_ context.Context, accountID string) (Balances, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.account(accountID); err != nil {
		return Balances{}, err
	}
	return m.balances(accountID), nil
}

func (m *memoryStore) account(id string) (Account, error) {
	acct, ok := m.accounts[id]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return acct, nil
}

func (m *memoryStore) balances(accountID string) Balances {
	var balance int64
	for _, e := range m.entries[accountID] {
		balance += e.Direction.Signed(e.AmountCents)
	}
	var held int64
	for _, h := range m.holds {
		if h.AccountID == accountID && h.Status == HoldOpen {
			held += h.AmountCents
		}
	}
	return Balances{BalanceCents: balance, AvailableCents: balance - held}
}

func (t *memoryTx) LockAccount(id string) (Account, error) {
	return t.s.account(id)
}

func (t *memoryTx) FindOrCreateGuestAccount(acct Account) (Account, bool, error) {
	for _, existing := range t.s.accounts {
		if existing.TenantID == acct.TenantID && existing.GuestID == acct.GuestID && existing.Status == StatusActive {
			return existing, false, nil
		}
	}
	t.s.accounts[acct.ID] = acct
	return acct, true, nil
}

func (t *memoryTx) CreateAccount(acct Account) error {
	t.s.accounts[acct.ID] = acct
	return nil
}

func (t *memoryTx) SetAccountStatus(id string, from, to AccountStatus) (bool, error) {
	acct, ok := t.s.accounts[id]
	if !ok || acct.Status != from {
		return false, nil
	}
	acct.Status = to
	t.s.accounts[id] = acct
	return true, nil
}

func (t *memoryTx) CreateCode(code Code) error {
	if _, exists := t.s.codes[code.Code]; exists {
		return ErrCodeExists
	}
	t.s.codes[code.Code] = code
	return nil
}

func (t *memoryTx) Balances(accountID string) (Balances, error) {
	return t.s.balances(accountID), nil
}

func (t *memoryTx) AppendEntry(entry LedgerEntry) error {
	t.s.entries[entry.AccountID] = append(t.s.entries[entry.AccountID], entry)
	return nil
}

func (t *memoryTx) CreateHold(hold Hold) error {
	t.s.holds[hold.ID] = hold
	return nil
}

func (t *memoryTx) LockHold(id string) (Hold, error) {
	h, ok := t.s.holds[id]
	if !ok {
		return Hold{}, ErrHoldNotFound
	}
	return h, nil
}

func (t *memoryTx) SetHoldStatus(id string, from, to HoldStatus) (bool, error) {
	h, ok := t.s.holds[id]
	if !ok || h.Status != from {
		return false, nil
	}
	h.Status = to
	t.s.holds[id] = h
	return true, nil
}

func (t *memoryTx) ExpireOpenHolds(cutoff time.Time) (int64, error) {
	var n int64
	for id, h := range t.s.holds {
		if h.Status == HoldOpen && h.ExpiresAt.Before(cutoff) {
			h.Status = HoldExpired
			t.s.holds[id] = h
			n++
		}
	}
	return n, nil
}
