package reconcile

import (
	"regexp"
	"strings"
	"testing"
)

// The snapshot subquery must read the column the ledger writer populates;
// stored_value_ledger has no short-form balance columns.
func TestAccountStatesQueryUsesLedgerSchemaColumns(t *testing.T) {
	for _, col := range []string{
		"stored_value_ledger",
		"account_id",
		"tenant_id",
		"direction",
		"amount_cents",
		"after_balance_cents",
	} {
		if !strings.Contains(accountStatesQuery, col) {
			t.Fatalf("account states query is missing %q", col)
		}
	}

	if stray := regexp.MustCompile(`\bafter_cents\b`); stray.MatchString(accountStatesQuery) {
		t.Fatal("account states query references after_cents, which is not a ledger column")
	}
}
