package reconcile

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSource reads account states straight from the ledger table. The
// derived balance re-sums every entry; the snapshot comes from the newest
// entry's after_balance_cents column.
type PostgresSource struct {
	pool *pgxpool.Pool
}

// NewPostgresSource builds a source over the shared pool.
func NewPostgresSource(pool *pgxpool.Pool) *PostgresSource {
	return &PostgresSource{pool: pool}
}

const accountStatesQuery = `
SELECT
    l.account_id::text,
    l.tenant_id,
    SUM(CASE WHEN l.direction IN ('issue', 'refund', 'adjust_up') THEN l.amount_cents ELSE -l.amount_cents END) AS derived_cents,
    (
        SELECT e.after_balance_cents
        FROM stored_value_ledger e
        WHERE e.account_id = l.account_id
        ORDER BY e.created_at DESC, e.id DESC
        LIMIT 1
    ) AS snapshot_cents
FROM stored_value_ledger l
GROUP BY l.account_id, l.tenant_id`

// AccountStates returns one state per account that has ledger history.
func (s *PostgresSource) AccountStates(ctx context.Context) ([]AccountState, error) {
	rows, err := s.pool.Query(ctx, accountStatesQuery)
	if err != nil {
		return nil, fmt.Errorf("query account states: %w", err)
	}
	defer rows.Close()

	var states []AccountState
	for rows.Next() {
		var state AccountState
		if err := rows.Scan(&state.AccountID, &state.TenantID, &state.DerivedCents, &state.SnapshotCents); err != nil {
			return nil, fmt.Errorf("scan account state: %w", err)
		}
		states = append(states, state)
	}
	return states, rows.Err()
}
