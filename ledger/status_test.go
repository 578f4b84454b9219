package ledger_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tally/debt-engine/ledger"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var testNow = time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func threeState() ledger.StatusCalculator {
	return ledger.StatusCalculator{Now: fixedClock}
}

func fiveState() ledger.StatusCalculator {
	return ledger.StatusCalculator{EnableOverdueState: true, Now: fixedClock}
}

func daysAgo(n int) *time.Time {
	t := testNow.AddDate(0, 0, -n)
	return &t
}

func daysAhead(n int) *time.Time {
	t := testNow.AddDate(0, 0, n)
	return &t
}

// =============================================================================
// BASE RULES
// =============================================================================

func TestCalculate_PaymentAlwaysCompleted(t *testing.T) {
	// GIVEN: A payment transaction, even with a nonzero remainder
	// WHEN: Status is derived
	// THEN: completed, regardless of amounts

	out := threeState().Calculate(ledger.StatusInput{
		Kind:            ledger.KindPayment,
		Method:          ledger.MethodCash,
		TotalAmount:     10000,
		PaidAmount:      10000,
		RemainingAmount: 0,
	})
	assert.Equal(t, ledger.StatusCompleted, out.Status)
}

func TestCalculate_RefundAlwaysCompleted(t *testing.T) {
	out := threeState().Calculate(ledger.StatusInput{
		Kind:        ledger.KindRefund,
		TotalAmount: 2500,
		PaidAmount:  2500,
	})
	assert.Equal(t, ledger.StatusCompleted, out.Status)
}

func TestCalculate_CreditGrantAlwaysCompleted(t *testing.T) {
	// A credit grant settles at creation; re-deriving its status with a
	// zero paid amount must not demote it to pending.
	out := threeState().Calculate(ledger.StatusInput{
		Kind:            ledger.KindCredit,
		Method:          ledger.MethodCredit,
		TotalAmount:     5000,
		PaidAmount:      0,
		RemainingAmount: 5000,
	})
	assert.Equal(t, ledger.StatusCompleted, out.Status)
}

func TestCalculate_FullyPaidSale_Completed(t *testing.T) {
	out := threeState().Calculate(ledger.StatusInput{
		Kind:            ledger.KindSale,
		Method:          ledger.MethodCash,
		TotalAmount:     10000,
		PaidAmount:      10000,
		RemainingAmount: 0,
	})
	assert.Equal(t, ledger.StatusCompleted, out.Status)
	assert.Equal(t, "100", out.PercentPaid.String())
}

func TestCalculate_HalfPaidSale_Partial(t *testing.T) {
	// GIVEN: A 100.00 sale with 50.00 paid
	// WHEN: Status is derived
	// THEN: partial with 50% paid

	out := threeState().Calculate(ledger.StatusInput{
		Kind:            ledger.KindSale,
		Method:          ledger.MethodCredit,
		TotalAmount:     10000,
		PaidAmount:      5000,
		RemainingAmount: 5000,
	})
	assert.Equal(t, ledger.StatusPartial, out.Status)
	assert.Equal(t, int64(5000), out.PaidAmount)
	assert.Equal(t, int64(5000), out.RemainingAmount)
	assert.Equal(t, "50", out.PercentPaid.String())
}

func TestCalculate_UnpaidSale_Pending(t *testing.T) {
	out := threeState().Calculate(ledger.StatusInput{
		Kind:            ledger.KindSale,
		Method:          ledger.MethodCredit,
		TotalAmount:     10000,
		RemainingAmount: 10000,
	})
	assert.Equal(t, ledger.StatusPending, out.Status)
	assert.Equal(t, "0", out.PercentPaid.String())
}

func TestCalculate_ZeroAmountSale_Completed(t *testing.T) {
	// GIVEN: A zero-total sale (e.g. a comped order)
	// THEN: Nothing remains, so it is completed, and PercentPaid is 0
	//       rather than a division-by-zero artifact.

	out := threeState().Calculate(ledger.StatusInput{
		Kind:   ledger.KindSale,
		Method: ledger.MethodCash,
	})
	assert.Equal(t, ledger.StatusCompleted, out.Status)
	assert.True(t, out.PercentPaid.IsZero())
}

// =============================================================================
// OVERDUE BEHAVIOR (5-STATE VS 3-STATE)
// =============================================================================

func TestCalculate_PastDueUnpaid_OverdueWhenEnabled(t *testing.T) {
	// GIVEN: An unpaid credit sale 10 days past due
	// WHEN: The 5-state calculator derives status
	// THEN: overdue

	out := fiveState().Calculate(ledger.StatusInput{
		Kind:            ledger.KindSale,
		Method:          ledger.MethodCredit,
		TotalAmount:     10000,
		RemainingAmount: 10000,
		DueDate:         daysAgo(10),
	})
	assert.Equal(t, ledger.StatusOverdue, out.Status)
}

func TestCalculate_PastDueUnpaid_PendingWhenDisabled(t *testing.T) {
	// Same inputs as above, 3-state configuration: overdue collapses
	// into pending.
	out := threeState().Calculate(ledger.StatusInput{
		Kind:            ledger.KindSale,
		Method:          ledger.MethodCredit,
		TotalAmount:     10000,
		RemainingAmount: 10000,
		DueDate:         daysAgo(10),
	})
	assert.Equal(t, ledger.StatusPending, out.Status)
}

func TestCalculate_PastDuePartiallyPaid_PartialNotOverdue(t *testing.T) {
	// Partial outranks overdue: any payment keeps the 5-state result
	// at partial even past the due date.
	out := fiveState().Calculate(ledger.StatusInput{
		Kind:            ledger.KindSale,
		Method:          ledger.MethodCredit,
		TotalAmount:     10000,
		PaidAmount:      1,
		RemainingAmount: 9999,
		DueDate:         daysAgo(10),
	})
	assert.Equal(t, ledger.StatusPartial, out.Status)
}

func TestCalculate_FutureDueUnpaid_Pending(t *testing.T) {
	out := fiveState().Calculate(ledger.StatusInput{
		Kind:            ledger.KindSale,
		Method:          ledger.MethodCredit,
		TotalAmount:     10000,
		RemainingAmount: 10000,
		DueDate:         daysAhead(10),
	})
	assert.Equal(t, ledger.StatusPending, out.Status)
}

func TestCalculate_NoDueDate_NeverOverdue(t *testing.T) {
	out := fiveState().Calculate(ledger.StatusInput{
		Kind:            ledger.KindSale,
		Method:          ledger.MethodCredit,
		TotalAmount:     10000,
		RemainingAmount: 10000,
	})
	assert.Equal(t, ledger.StatusPending, out.Status)
}

// =============================================================================
// AMOUNT NORMALIZATION
// =============================================================================

func TestCalculate_OffByOneMinorUnit_Snapped(t *testing.T) {
	// GIVEN: Legacy float drift: paid+remaining is one minor unit off
	// WHEN: Status is derived
	// THEN: remaining is snapped to total-paid so the split invariant
	//       holds exactly

	out := threeState().Calculate(ledger.StatusInput{
		Kind:            ledger.KindSale,
		Method:          ledger.MethodCredit,
		TotalAmount:     10000,
		PaidAmount:      5000,
		RemainingAmount: 5001,
	})
	assert.Equal(t, int64(5000), out.PaidAmount)
	assert.Equal(t, int64(5000), out.RemainingAmount)
	assert.Equal(t, ledger.StatusPartial, out.Status)
}

func TestCalculate_NegativeInputs_Clamped(t *testing.T) {
	out := threeState().Calculate(ledger.StatusInput{
		Kind:            ledger.KindSale,
		Method:          ledger.MethodCredit,
		TotalAmount:     10000,
		PaidAmount:      -50,
		RemainingAmount: 10000,
	})
	assert.Equal(t, int64(0), out.PaidAmount)
	assert.Equal(t, int64(10000), out.RemainingAmount)
	assert.Equal(t, ledger.StatusPending, out.Status)
}

func TestCalculate_PaidExceedsTotal_CappedAndCompleted(t *testing.T) {
	// Over-counted trail: paid is capped at total and the transaction
	// reads completed rather than >100%.
	out := threeState().Calculate(ledger.StatusInput{
		Kind:        ledger.KindSale,
		Method:      ledger.MethodCash,
		TotalAmount: 10000,
		PaidAmount:  12000,
	})
	assert.Equal(t, int64(10000), out.PaidAmount)
	assert.Equal(t, int64(0), out.RemainingAmount)
	assert.Equal(t, ledger.StatusCompleted, out.Status)
	assert.Equal(t, "100", out.PercentPaid.String())
}
