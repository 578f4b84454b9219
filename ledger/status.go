/*
status.go - Pure transaction status derivation

PURPOSE:
  One state machine answering "what status does this transaction
  carry?" from kind, payment method, amounts and due date. No side
  effects, no persistence: same inputs, same output, always.

HISTORY:
  Two divergent calculator variants used to coexist: a 5-state one
  (with overdue) and a 3-state one that collapsed overdue into
  pending. Both behaviors exist in production data, so both are
  supported behind EnableOverdueState instead of two parallel types.

RULES, IN ORDER:
  1. Payments, credit grants and refunds are always completed: they
     settle in full the moment they are created.
  2. Remaining <= 0 -> completed (covers zero-amount transactions).
  3. Paid > 0 and remaining > 0 -> partial.
  4. Paid == 0 and remaining > 0:
       due date past and EnableOverdueState -> overdue
       otherwise                            -> pending

NORMALIZATION:
  Inputs inherited from legacy float records can be off by a minor
  unit. The calculator clamps negatives to zero and, when
  paid+remaining sits within tolerance of total, snaps remaining to
  the exact difference so the invariant holds by construction.

SEE ALSO:
  - money/money.go: tolerance and percent rounding
  - audit/service.go: reconciliation feeds audit-derived amounts here
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/tally/debt-engine/money"
)

// =============================================================================
// STATUS CALCULATOR
// =============================================================================

// StatusInput is everything the calculator looks at.
type StatusInput struct {
	Kind            TransactionKind
	Method          PaymentMethod
	TotalAmount     int64
	PaidAmount      int64
	RemainingAmount int64
	DueDate         *time.Time
}

// StatusResult is the derived status plus normalized amounts.
type StatusResult struct {
	Status          TransactionStatus
	PaidAmount      int64
	RemainingAmount int64

	// PercentPaid is 0-100 with two decimal places; 0 when total is 0.
	PercentPaid decimal.Decimal
}

// StatusCalculator derives transaction status. Zero value is the
// 3-state configuration; set EnableOverdueState for the 5-state one.
type StatusCalculator struct {
	EnableOverdueState bool

	// Now is the clock used for due-date checks. Nil means time.Now.
	Now func() time.Time
}

// Calculate derives the status for in. Pure: no side effects.
func (c StatusCalculator) Calculate(in StatusInput) StatusResult {
	paid, remaining := normalizeAmounts(in.TotalAmount, in.PaidAmount, in.RemainingAmount)

	out := StatusResult{
		PaidAmount:      paid,
		RemainingAmount: remaining,
		PercentPaid:     money.PercentPaid(paid, in.TotalAmount),
	}

	switch {
	case in.Kind == KindPayment || in.Kind == KindCredit || in.Kind == KindRefund:
		out.Status = StatusCompleted
	case remaining <= 0:
		out.Status = StatusCompleted
	case paid > 0:
		out.Status = StatusPartial
	case c.EnableOverdueState && c.pastDue(in.DueDate):
		out.Status = StatusOverdue
	default:
		out.Status = StatusPending
	}
	return out
}

func (c StatusCalculator) pastDue(due *time.Time) bool {
	if due == nil {
		return false
	}
	now := time.Now()
	if c.Now != nil {
		now = c.Now()
	}
	return due.Before(now)
}

// normalizeAmounts clamps negatives and snaps remaining to the exact
// difference when the stored split is within tolerance of total.
func normalizeAmounts(total, paid, remaining int64) (int64, int64) {
	if paid < 0 {
		paid = 0
	}
	if paid > total {
		paid = total
	}
	if remaining < 0 {
		remaining = 0
	}
	if money.WithinTolerance(paid+remaining, total) {
		remaining = total - paid
	}
	return paid, remaining
}
