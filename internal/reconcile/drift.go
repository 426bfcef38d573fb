package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/campsuite/campsuite/internal/notification"
)

// Severity grades a drift finding.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// AccountState pairs the two balances that must agree for one account: the
// balance derived by summing its ledger entries, and the after-snapshot on
// its newest entry.
type AccountState struct {
	AccountID     string
	TenantID      string
	DerivedCents  int64
	SnapshotCents int64
}

// Finding is one account whose snapshot disagrees with its derived balance.
type Finding struct {
	AccountID  string   `json:"account_id"`
	TenantID   string   `json:"tenant_id"`
	DriftCents int64    `json:"drift_cents"`
	Severity   Severity `json:"severity"`
}

// Summary aggregates one reconciliation pass.
type Summary struct {
	CheckedAccounts    int       `json:"checked_accounts"`
	Findings           []Finding `json:"findings,omitempty"`
	TotalAbsDriftCents int64     `json:"total_abs_drift_cents"`
	GeneratedAt        time.Time `json:"generated_at"`
}

// Source supplies account states to reconcile. Implementations must read
// committed data only; reconciliation never takes locks.
type Source interface {
	AccountStates(ctx context.Context) ([]AccountState, error)
}

// ComputeSummary compares derived balances against snapshots. Drift at or
// above criticalThresholdCents in absolute value is graded critical, any
// other non-zero drift is a warning.
func ComputeSummary(states []AccountState, criticalThresholdCents int64, at time.Time) Summary {
	summary := Summary{CheckedAccounts: len(states), GeneratedAt: at}
	for _, state := range states {
		drift := state.DerivedCents - state.SnapshotCents
		if drift == 0 {
			continue
		}
		abs := drift
		if abs < 0 {
			abs = -abs
		}
		severity := SeverityWarning
		if criticalThresholdCents > 0 && abs >= criticalThresholdCents {
			severity = SeverityCritical
		}
		summary.Findings = append(summary.Findings, Finding{
			AccountID:  state.AccountID,
			TenantID:   state.TenantID,
			DriftCents: drift,
			Severity:   severity,
		})
		summary.TotalAbsDriftCents += abs
	}
	return summary
}

// Advisor reports drift summaries. It is advisory only: findings are logged
// and pushed through the notifier, nothing is corrected automatically.
type Advisor struct {
	notifier notification.Notifier
	logger   *slog.Logger
}

// NewAdvisor builds a drift advisor.
func NewAdvisor(notifier notification.Notifier, logger *slog.Logger) *Advisor {
	return &Advisor{notifier: notifier, logger: logger}
}

// Report logs the summary and, when findings exist, sends a drift alert.
func (a *Advisor) Report(ctx context.Context, summary Summary) error {
	if a.logger != nil {
		a.logger.Info("reconciliation pass",
			"checked_accounts", summary.CheckedAccounts,
			"findings", len(summary.Findings),
			"total_abs_drift_cents", summary.TotalAbsDriftCents,
		)
		for _, f := range summary.Findings {
			a.logger.Warn("ledger drift detected",
				"account_id", f.AccountID,
				"tenant_id", f.TenantID,
				"drift_cents", f.DriftCents,
				"severity", f.Severity,
			)
		}
	}
	if len(summary.Findings) == 0 || a.notifier == nil {
		return nil
	}

	body, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encode drift summary: %w", err)
	}
	return a.notifier.Send(ctx, notification.Message{
		Kind:        notification.KindDriftAlert,
		Destination: "finance-ops",
		Body:        string(body),
	})
}

// Run pulls states from the source, computes the summary, and reports it.
func (a *Advisor) Run(ctx context.Context, source Source, criticalThresholdCents int64, at time.Time) (Summary, error) {
	states, err := source.AccountStates(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("load account states: %w", err)
	}
	summary := ComputeSummary(states, criticalThresholdCents, at)
	if err := a.Report(ctx, summary); err != nil {
		return summary, err
	}
	return summary, nil
}
