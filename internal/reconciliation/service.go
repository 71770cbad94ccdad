// Package reconciliation finds approvals left in the "approved" state
// by a process crash between order submission and the local status
// write, and records them — it never resubmits or cancels anything,
// matching spec §5's "in-flight executions... eventual results are
// logged but not acted upon." Grounded on the teacher's
// internal/reconciliation/service.go Service/Report shape, generalized
// from exchange-position diffing (this supervisor has no local position
// ledger to diff against — balances come from the next snapshot) to
// stuck-approval detection.
package reconciliation

import (
	"context"
	"fmt"
	"time"

	"sentinel/internal/store"
)

// grace is how long an approval may sit in "approved" before it is
// considered orphaned rather than merely slow to execute.
const grace = 2 * time.Minute

// Service runs one reconciliation pass at startup.
type Service struct {
	store *store.Store
}

// New builds a reconciliation service.
func New(st *store.Store) *Service {
	return &Service{store: st}
}

// Report is the result of one reconciliation pass.
type Report struct {
	CheckedAt time.Time
	Orphaned  []store.Approval
}

// Reconcile scans approved approvals for ones older than grace
// and records an alert for each: the owner's own record of what to
// check on the exchange by hand, not an automatic resubmission.
func (s *Service) Reconcile(ctx context.Context) (Report, error) {
	report := Report{CheckedAt: time.Now()}

	approved, err := s.store.Approvals(ctx, store.ApprovalApproved)
	if err != nil {
		return Report{}, fmt.Errorf("list approved: %w", err)
	}

	cutoff := report.CheckedAt.Add(-grace)
	for _, appr := range approved {
		if appr.UpdatedAt.After(cutoff) {
			continue
		}
		report.Orphaned = append(report.Orphaned, appr)
		s.store.SaveAlert(ctx, store.Alert{
			Severity:  "warning",
			Source:    "reconciliation",
			Message:   fmt.Sprintf("approval %s has been approved but not executed for over %s — check the brokerage directly before retrying", appr.ID, grace),
			CreatedAt: report.CheckedAt,
		})
	}

	return report, nil
}
