package storedvalue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists stored-value state in PostgreSQL. Atomic sections map
// to one database transaction, and LockAccount/LockHold take row-level locks
// (SELECT ... FOR UPDATE) so check-then-act sequences cannot observe stale
// balances.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const signedSumQuery = `
    SELECT COALESCE(SUM(CASE
        WHEN direction IN ('issue', 'refund', 'adjust_up') THEN amount_cents
        ELSE -amount_cents
    END), 0)
    FROM stored_value_ledger WHERE account_id = $1`

const openHoldSumQuery = `
    SELECT COALESCE(SUM(amount_cents), 0)
    FROM stored_value_holds WHERE account_id = $1 AND status = 'open'`

const accountColumns = `id, tenant_id, COALESCE(guest_id::text, ''), type, currency, status, issued_at, expires_at, metadata`

// Atomic runs fn inside a single database transaction.
func (s *PostgresStore) Atomic(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := fn(&postgresTx{ctx: ctx, tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// GetAccount fetches an account by identifier.
func (s *PostgresStore) GetAccount(ctx context.Context, id string) (Account, error) {
	accountID, err := uuid.Parse(id)
	if err != nil {
		return Account{}, ErrAccountNotFound
	}
	row := s.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM stored_value_accounts WHERE id = $1`, accountID)
	return scanAccount(row)
}

// GetCode fetches a redemption code record.
func (s *PostgresStore) GetCode(ctx context.Context, code string) (Code, error) {
	row := s.db.QueryRow(ctx, `SELECT account_id, code, COALESCE(pin_hash, ''), created_at
        FROM stored_value_codes WHERE code = $1`, code)
	var c Code
	var accountID uuid.UUID
	if err := row.Scan(&accountID, &c.Code, &c.PINHash, &c.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Code{}, ErrCodeNotFound
		}
		return Code{}, err
	}
	c.AccountID = accountID.String()
	c.CreatedAt = c.CreatedAt.UTC()
	return c, nil
}

// GetHold fetches a hold by identifier.
func (s *PostgresStore) GetHold(ctx context.Context, id string) (Hold, error) {
	holdID, err := uuid.Parse(id)
	if err != nil {
		return Hold{}, ErrHoldNotFound
	}
	row := s.db.QueryRow(ctx, holdQuery(""), holdID)
	return scanHold(row)
}

// ListExpiredAccounts returns active accounts whose expiry precedes the cutoff.
func (s *PostgresStore) ListExpiredAccounts(ctx context.Context, cutoff time.Time) ([]Account, error) {
	rows, err := s.db.Query(ctx, `SELECT `+accountColumns+` FROM stored_value_accounts
        WHERE status = 'active' AND expires_at IS NOT NULL AND expires_at < $1
        ORDER BY expires_at`, cutoff.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acct)
	}
	return accounts, rows.Err()
}

// ListEntries returns a page of ledger entries, newest first, with the total count.
func (s *PostgresStore) ListEntries(ctx context.Context, accountID string, limit, offset int) ([]LedgerEntry, int64, error) {
	acctID, err := uuid.Parse(accountID)
	if err != nil {
		return nil, 0, ErrAccountNotFound
	}
	if limit <= 0 {
		limit = 50
	}

	var total int64
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM stored_value_ledger WHERE account_id = $1`, acctID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.Query(ctx, `SELECT id, tenant_id, account_id, direction, amount_cents, currency,
            before_balance_cents, after_balance_cents, reference_type, reference_id,
            idempotency_key, COALESCE(actor_type, ''), COALESCE(actor_id, ''), COALESCE(channel, ''), COALESCE(reason, ''), created_at
        FROM stored_value_ledger WHERE account_id = $1
        ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`, acctID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var entries []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		var id, entryAcctID uuid.UUID
		if err := rows.Scan(&id, &e.TenantID, &entryAcctID, &e.Direction, &e.AmountCents, &e.Currency,
			&e.BeforeCents, &e.AfterCents, &e.ReferenceType, &e.ReferenceID,
			&e.IdempotencyKey, &e.ActorType, &e.ActorID, &e.Channel, &e.Reason, &e.CreatedAt); err != nil {
			return nil, 0, err
		}
		e.ID = id.String()
		e.AccountID = entryAcctID.String()
		e.CreatedAt = e.CreatedAt.UTC()
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}

// Balances derives the balance pair outside a mutation.
func (s *PostgresStore) Balances(ctx context.Context, accountID string) (Balances, error) {
	acctID, err := uuid.Parse(accountID)
	if err != nil {
		return Balances{}, ErrAccountNotFound
	}
	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM stored_value_accounts WHERE id = $1)`, acctID).Scan(&exists); err != nil {
		return Balances{}, err
	}
	if !exists {
		return Balances{}, ErrAccountNotFound
	}
	return balancesFor(ctx, s.db, acctID)
}

type queryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func balancesFor(ctx context.Context, q queryer, accountID uuid.UUID) (Balances, error) {
	var balance int64
	if err := q.QueryRow(ctx, signedSumQuery, accountID).Scan(&balance); err != nil {
		return Balances{}, err
	}
	var held int64
	if err := q.QueryRow(ctx, openHoldSumQuery, accountID).Scan(&held); err != nil {
		return Balances{}, err
	}
	return Balances{BalanceCents: balance, AvailableCents: balance - held}, nil
}

type postgresTx struct {
	ctx context.Context
	tx  pgx.Tx
}

func (t *postgresTx) LockAccount(id string) (Account, error) {
	accountID, err := uuid.Parse(id)
	if err != nil {
		return Account{}, ErrAccountNotFound
	}
	row := t.tx.QueryRow(t.ctx, `SELECT `+accountColumns+` FROM stored_value_accounts WHERE id = $1 FOR UPDATE`, accountID)
	return scanAccount(row)
}

func (t *postgresTx) FindOrCreateGuestAccount(acct Account) (Account, bool, error) {
	const lookup = `SELECT ` + accountColumns + ` FROM stored_value_accounts
        WHERE tenant_id = $1 AND guest_id = $2 AND status = 'active' FOR UPDATE`

	row := t.tx.QueryRow(t.ctx, lookup, acct.TenantID, acct.GuestID)
	existing, err := scanAccount(row)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return Account{}, false, err
	}

	if err := t.insertAccount(acct, `ON CONFLICT (tenant_id, guest_id) DO NOTHING`); err != nil {
		return Account{}, false, err
	}

	// A losing concurrent creator reads back the winner's row.
	row = t.tx.QueryRow(t.ctx, lookup, acct.TenantID, acct.GuestID)
	created, err := scanAccount(row)
	if err != nil {
		return Account{}, false, err
	}
	return created, created.ID == acct.ID, nil
}

func (t *postgresTx) CreateAccount(acct Account) error {
	return t.insertAccount(acct, "")
}

func (t *postgresTx) insertAccount(acct Account, conflictClause string) error {
	accountID, err := uuid.Parse(acct.ID)
	if err != nil {
		return fmt.Errorf("parse account id: %w", err)
	}
	metadata, err := json.Marshal(acct.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	var guestID any
	if acct.GuestID != "" {
		guestID = acct.GuestID
	}
	var expiresAt any
	if acct.ExpiresAt != nil {
		expiresAt = acct.ExpiresAt.UTC()
	}
	_, err = t.tx.Exec(t.ctx, `INSERT INTO stored_value_accounts
            (id, tenant_id, guest_id, type, currency, status, issued_at, expires_at, metadata)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) `+conflictClause,
		accountID, acct.TenantID, guestID, acct.Type, acct.Currency, acct.Status,
		acct.IssuedAt.UTC(), expiresAt, metadata)
	return err
}

func (t *postgresTx) SetAccountStatus(id string, from, to AccountStatus) (bool, error) {
	accountID, err := uuid.Parse(id)
	if err != nil {
		return false, ErrAccountNotFound
	}
	cmd, err := t.tx.Exec(t.ctx, `UPDATE stored_value_accounts SET status = $2 WHERE id = $1 AND status = $3`,
		accountID, to, from)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (t *postgresTx) CreateCode(code Code) error {
	accountID, err := uuid.Parse(code.AccountID)
	if err != nil {
		return fmt.Errorf("parse account id: %w", err)
	}
	var pinHash any
	if code.PINHash != "" {
		pinHash = code.PINHash
	}
	_, err = t.tx.Exec(t.ctx, `INSERT INTO stored_value_codes (account_id, code, pin_hash, created_at)
        VALUES ($1, $2, $3, $4)`, accountID, code.Code, pinHash, code.CreatedAt.UTC())
	if isUniqueViolation(err) {
		return ErrCodeExists
	}
	return err
}

func (t *postgresTx) Balances(accountID string) (Balances, error) {
	acctID, err := uuid.Parse(accountID)
	if err != nil {
		return Balances{}, ErrAccountNotFound
	}
	return balancesFor(t.ctx, t.tx, acctID)
}

func (t *postgresTx) AppendEntry(entry LedgerEntry) error {
	entryID, err := uuid.Parse(entry.ID)
	if err != nil {
		return fmt.Errorf("parse entry id: %w", err)
	}
	accountID, err := uuid.Parse(entry.AccountID)
	if err != nil {
		return fmt.Errorf("parse account id: %w", err)
	}
	_, err = t.tx.Exec(t.ctx, `INSERT INTO stored_value_ledger
            (id, tenant_id, account_id, direction, amount_cents, currency,
             before_balance_cents, after_balance_cents, reference_type, reference_id,
             idempotency_key, actor_type, actor_id, channel, reason, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		entryID, entry.TenantID, accountID, entry.Direction, entry.AmountCents, entry.Currency,
		entry.BeforeCents, entry.AfterCents, entry.ReferenceType, entry.ReferenceID,
		entry.IdempotencyKey, entry.ActorType, entry.ActorID, entry.Channel, entry.Reason,
		entry.CreatedAt.UTC())
	return err
}

func (t *postgresTx) CreateHold(hold Hold) error {
	holdID, err := uuid.Parse(hold.ID)
	if err != nil {
		return fmt.Errorf("parse hold id: %w", err)
	}
	accountID, err := uuid.Parse(hold.AccountID)
	if err != nil {
		return fmt.Errorf("parse account id: %w", err)
	}
	_, err = t.tx.Exec(t.ctx, `INSERT INTO stored_value_holds
            (id, account_id, amount_cents, status, expires_at, reference_type, reference_id, idempotency_key, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		holdID, accountID, hold.AmountCents, hold.Status, hold.ExpiresAt.UTC(),
		hold.ReferenceType, hold.ReferenceID, hold.IdempotencyKey, hold.CreatedAt.UTC())
	return err
}

func (t *postgresTx) LockHold(id string) (Hold, error) {
	holdID, err := uuid.Parse(id)
	if err != nil {
		return Hold{}, ErrHoldNotFound
	}
	row := t.tx.QueryRow(t.ctx, holdQuery("FOR UPDATE"), holdID)
	return scanHold(row)
}

func (t *postgresTx) SetHoldStatus(id string, from, to HoldStatus) (bool, error) {
	holdID, err := uuid.Parse(id)
	if err != nil {
		return false, ErrHoldNotFound
	}
	cmd, err := t.tx.Exec(t.ctx, `UPDATE stored_value_holds SET status = $2 WHERE id = $1 AND status = $3`,
		holdID, to, from)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (t *postgresTx) ExpireOpenHolds(cutoff time.Time) (int64, error) {
	cmd, err := t.tx.Exec(t.ctx, `UPDATE stored_value_holds SET status = 'expired'
        WHERE status = 'open' AND expires_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func holdQuery(suffix string) string {
	return `SELECT id, account_id, amount_cents, status, expires_at, reference_type, reference_id, idempotency_key, created_at
        FROM stored_value_holds WHERE id = $1 ` + suffix
}

func scanHold(row pgx.Row) (Hold, error) {
	var h Hold
	var id, accountID uuid.UUID
	if err := row.Scan(&id, &accountID, &h.AmountCents, &h.Status, &h.ExpiresAt,
		&h.ReferenceType, &h.ReferenceID, &h.IdempotencyKey, &h.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Hold{}, ErrHoldNotFound
		}
		return Hold{}, err
	}
	h.ID = id.String()
	h.AccountID = accountID.String()
	h.ExpiresAt = h.ExpiresAt.UTC()
	h.CreatedAt = h.CreatedAt.UTC()
	return h, nil
}

func scanAccount(row pgx.Row) (Account, error) {
	var acct Account
	var id uuid.UUID
	var expiresAt *time.Time
	var metadata []byte
	if err := row.Scan(&id, &acct.TenantID, &acct.GuestID, &acct.Type, &acct.Currency,
		&acct.Status, &acct.IssuedAt, &expiresAt, &metadata); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, err
	}
	acct.ID = id.String()
	acct.IssuedAt = acct.IssuedAt.UTC()
	if expiresAt != nil {
		utc := expiresAt.UTC()
		acct.ExpiresAt = &utc
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &acct.Metadata); err != nil {
			return Account{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return acct, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
