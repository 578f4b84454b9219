package audit_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tally/debt-engine/allocation"
	"github.com/tally/debt-engine/ledger"
)

// newTestEngine builds an allocation engine over the same store as the
// service under test, pinned to the shared test clock.
func newTestEngine(store ledger.TxStore) *allocation.Engine {
	calc := ledger.StatusCalculator{EnableOverdueState: true, Now: func() time.Time { return testNow }}
	return allocation.NewEngine(store, ledger.DirectoryFromStore(store), calc).
		WithClock(func() time.Time { return testNow })
}

// =============================================================================
// INTEGRITY VERIFICATION
// =============================================================================

func TestVerifyIntegrity_ConsistentTransaction(t *testing.T) {
	// GIVEN: A sale whose stored paid amount matches its trail
	// WHEN: Integrity is verified
	// THEN: Consistent, no issues, nothing written

	svc, store := newTestService(t)
	seedCustomer(t, store, "c1")
	seedSale(t, store, "t1", 1000, 300, ledger.StatusPartial)
	appendRecord(t, store, "t1", ledger.AuditPartialPayment, 300, testNow)

	report, err := svc.VerifyIntegrity(context.Background(), "t1")
	require.NoError(t, err)

	assert.True(t, report.IsConsistent)
	assert.Empty(t, report.Issues)
	assert.Equal(t, int64(300), report.Summary.CalculatedPaidAmount)
}

func TestVerifyIntegrity_WithinTolerance_StillConsistent(t *testing.T) {
	// One minor unit of drift is legacy float noise, not an issue.
	svc, store := newTestService(t)
	seedCustomer(t, store, "c1")
	seedSale(t, store, "t1", 1000, 301, ledger.StatusPartial)
	appendRecord(t, store, "t1", ledger.AuditPartialPayment, 300, testNow)

	report, err := svc.VerifyIntegrity(context.Background(), "t1")
	require.NoError(t, err)
	assert.True(t, report.IsConsistent)
}

func TestVerifyIntegrity_DriftReported(t *testing.T) {
	// GIVEN: Stored paid 500 but the trail only supports 300
	// THEN: Drift is reported as data, not as an error

	svc, store := newTestService(t)
	seedCustomer(t, store, "c1")
	seedSale(t, store, "t1", 1000, 500, ledger.StatusPartial)
	appendRecord(t, store, "t1", ledger.AuditPartialPayment, 300, testNow)

	report, err := svc.VerifyIntegrity(context.Background(), "t1")
	require.NoError(t, err)

	assert.False(t, report.IsConsistent)
	require.Len(t, report.Issues, 1)
	assert.Contains(t, report.Issues[0], "differs from audit-derived")
}

func TestVerifyIntegrity_PaidExceedsTotal(t *testing.T) {
	svc, store := newTestService(t)
	seedCustomer(t, store, "c1")
	seedSale(t, store, "t1", 1000, 1200, ledger.StatusCompleted)
	appendRecord(t, store, "t1", ledger.AuditPaymentAllocation, 1200, testNow)

	report, err := svc.VerifyIntegrity(context.Background(), "t1")
	require.NoError(t, err)

	assert.False(t, report.IsConsistent)
	// Paid drift (capped derivation says 1000), the cap violation, and
	// the negative stored remainder.
	assert.Len(t, report.Issues, 3)
}

// =============================================================================
// RECONCILIATION
// =============================================================================

func TestReconcile_RepairsDrift(t *testing.T) {
	// GIVEN: Stored paid 500/status partial, trail supports 1000
	// WHEN: Reconciled
	// THEN: Stored amounts snap to the trail, status re-derives to
	//       completed, and a status_change record documents the repair

	svc, store := newTestService(t)
	seedCustomer(t, store, "c1")
	seedSale(t, store, "t1", 1000, 500, ledger.StatusPartial)
	appendRecord(t, store, "t1", ledger.AuditPaymentAllocation, 1000, testNow)

	res, err := svc.Reconcile(context.Background(), "t1")
	require.NoError(t, err)

	assert.True(t, res.Changed)
	assert.Equal(t, ledger.StatusPartial, res.OldStatus)
	assert.Equal(t, ledger.StatusCompleted, res.NewStatus)
	assert.Equal(t, int64(500), res.OldPaid)
	assert.Equal(t, int64(1000), res.NewPaid)

	tx, _ := store.GetTransaction(context.Background(), "t1")
	assert.Equal(t, int64(1000), tx.PaidAmount)
	assert.Equal(t, int64(0), tx.RemainingAmount)
	assert.Equal(t, ledger.StatusCompleted, tx.Status)

	records, _ := store.AuditForTransaction(context.Background(), "t1")
	last := records[len(records)-1]
	assert.Equal(t, ledger.AuditStatusChange, last.Kind)
	assert.Equal(t, "partial", last.Metadata["old_status"])
	assert.Equal(t, "completed", last.Metadata["new_status"])
	assert.Equal(t, "reconciliation", last.Metadata["reason"])
}

func TestReconcile_NoDrift_NoWrites(t *testing.T) {
	svc, store := newTestService(t)
	seedCustomer(t, store, "c1")
	seedSale(t, store, "t1", 1000, 300, ledger.StatusPartial)
	appendRecord(t, store, "t1", ledger.AuditPartialPayment, 300, testNow)

	res, err := svc.Reconcile(context.Background(), "t1")
	require.NoError(t, err)
	assert.False(t, res.Changed)

	records, _ := store.AuditForTransaction(context.Background(), "t1")
	assert.Len(t, records, 1, "no status_change appended when in sync")
}

func TestReconcile_Idempotent(t *testing.T) {
	// GIVEN: A drifted sale
	// WHEN: Reconciled twice with no new audit activity in between
	// THEN: The second run finds everything in sync and writes nothing
	//       (the status_change record does not count toward paid, so
	//       the repair cannot create new drift)

	svc, store := newTestService(t)
	seedCustomer(t, store, "c1")
	seedSale(t, store, "t1", 1000, 500, ledger.StatusPartial)
	appendRecord(t, store, "t1", ledger.AuditPaymentAllocation, 1000, testNow)

	first, err := svc.Reconcile(context.Background(), "t1")
	require.NoError(t, err)
	assert.True(t, first.Changed)
	afterFirst, _ := store.AuditForTransaction(context.Background(), "t1")

	second, err := svc.Reconcile(context.Background(), "t1")
	require.NoError(t, err)
	assert.False(t, second.Changed)
	afterSecond, _ := store.AuditForTransaction(context.Background(), "t1")
	assert.Equal(t, len(afterFirst), len(afterSecond))
}

func TestReconcile_UnknownTransaction(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Reconcile(context.Background(), "ghost")
	assert.ErrorIs(t, err, ledger.ErrTransactionNotFound)
}

// =============================================================================
// ROUND-TRIP PROPERTY
// =============================================================================

func TestReconcile_EngineWrittenSale_AlreadyInSync(t *testing.T) {
	// GIVEN: A sale settled partly by credit and partly by cash,
	//        written by the allocation engine
	// WHEN: Reconciled straight away
	// THEN: Replaying the trail reproduces exactly what the engine
	//       stored, so reconciliation changes nothing

	svc, store := newTestService(t)
	seedCustomer(t, store, "c1")

	c, _ := store.GetCustomer(context.Background(), "c1")
	c.CreditBalance = 400
	require.NoError(t, store.UpdateCustomer(context.Background(), c))

	engine := newTestEngine(store)
	sale, err := engine.CreateSale(context.Background(), allocation.SaleInput{
		CustomerID:    "c1",
		TotalAmount:   1000,
		Method:        ledger.MethodMixed,
		CashPaid:      600,
		CreditPlanned: 400,
	})
	require.NoError(t, err)

	res, err := svc.Reconcile(context.Background(), sale.ID)
	require.NoError(t, err)
	assert.False(t, res.Changed, "engine-written sales reconcile clean")
}

// =============================================================================
// NON-SALE TRANSACTIONS
// =============================================================================

// Payments, credit grants and refunds settle in full at creation; their
// trail documents balance movements, not settlement progress. Reconciling
// them must never rewrite their stored amounts or status.

func TestReconcile_ForwardDepositPayment_Untouched(t *testing.T) {
	// GIVEN: A payment recorded as a forward deposit (nothing applied
	//        to debt, the whole amount became credit)
	// WHEN: Reconciled
	// THEN: The payment keeps paid=total/remaining=0/completed even
	//       though no record in its trail counts toward paid

	svc, store := newTestService(t)
	seedCustomer(t, store, "c1")
	engine := newTestEngine(store)

	payment, alloc, err := engine.RecordPayment(context.Background(), allocation.PaymentInput{
		CustomerID:    "c1",
		Amount:        1000,
		Method:        ledger.MethodCash,
		AppliedToDebt: false,
	})
	require.NoError(t, err)
	require.Equal(t, int64(1000), alloc.CreditCreated)

	res, err := svc.Reconcile(context.Background(), payment.ID)
	require.NoError(t, err)
	assert.False(t, res.Changed)

	tx, _ := store.GetTransaction(context.Background(), payment.ID)
	assert.Equal(t, int64(1000), tx.PaidAmount)
	assert.Equal(t, int64(0), tx.RemainingAmount)
	assert.Equal(t, ledger.StatusCompleted, tx.Status)
}

func TestReconcile_OverpaidDebtPayment_Untouched(t *testing.T) {
	// GIVEN: A 1500 payment against 1000 of debt, so the trail splits
	//        into a 1000 debt reduction and a 500 over_payment
	// WHEN: Reconciled
	// THEN: The payment keeps its full 1500 paid amount

	svc, store := newTestService(t)
	seedCustomer(t, store, "c1")

	c, _ := store.GetCustomer(context.Background(), "c1")
	c.OutstandingBalance = 1000
	require.NoError(t, store.UpdateCustomer(context.Background(), c))

	engine := newTestEngine(store)
	payment, alloc, err := engine.RecordPayment(context.Background(), allocation.PaymentInput{
		CustomerID:    "c1",
		Amount:        1500,
		Method:        ledger.MethodBank,
		AppliedToDebt: true,
	})
	require.NoError(t, err)
	require.Equal(t, int64(1000), alloc.DebtReduced)

	res, err := svc.Reconcile(context.Background(), payment.ID)
	require.NoError(t, err)
	assert.False(t, res.Changed)

	tx, _ := store.GetTransaction(context.Background(), payment.ID)
	assert.Equal(t, int64(1500), tx.PaidAmount)
	assert.Equal(t, ledger.StatusCompleted, tx.Status)
}

func TestReconcile_CreditGrantAndRefund_Untouched(t *testing.T) {
	svc, store := newTestService(t)
	seedCustomer(t, store, "c1")
	engine := newTestEngine(store)

	grant, err := engine.IssueCredit(context.Background(), "c1", 500, "goodwill")
	require.NoError(t, err)
	refund, err := engine.RecordRefund(context.Background(), "c1", 200, grant.ID)
	require.NoError(t, err)

	for _, tx := range []*ledger.Transaction{grant, refund} {
		res, err := svc.Reconcile(context.Background(), tx.ID)
		require.NoError(t, err)
		assert.False(t, res.Changed, "%s grants reconcile clean", tx.Kind)

		got, _ := store.GetTransaction(context.Background(), tx.ID)
		assert.Equal(t, tx.TotalAmount, got.PaidAmount)
		assert.Equal(t, int64(0), got.RemainingAmount)
		assert.Equal(t, ledger.StatusCompleted, got.Status)
	}
}

func TestReconcileCustomer_NonSaleRows_NoRepairs(t *testing.T) {
	// GIVEN: A forward deposit and a credit grant, no sales
	// WHEN: The customer is batch-reconciled
	// THEN: Both rows are visited and neither is rewritten

	svc, store := newTestService(t)
	seedCustomer(t, store, "c1")
	engine := newTestEngine(store)

	_, _, err := engine.RecordPayment(context.Background(), allocation.PaymentInput{
		CustomerID:    "c1",
		Amount:        1000,
		Method:        ledger.MethodCash,
		AppliedToDebt: false,
	})
	require.NoError(t, err)
	_, err = engine.IssueCredit(context.Background(), "c1", 500, "goodwill")
	require.NoError(t, err)

	report, err := svc.ReconcileCustomer(context.Background(), "c1")
	require.NoError(t, err)

	assert.Len(t, report.Results, 2)
	assert.Equal(t, 0, report.Repaired())
	assert.Empty(t, report.Failures)
}

// =============================================================================
// BATCH RECONCILIATION
// =============================================================================

func TestReconcileCustomer_RepairsAllDriftedTransactions(t *testing.T) {
	svc, store := newTestService(t)
	seedCustomer(t, store, "c1")

	seedSale(t, store, "t1", 1000, 0, ledger.StatusPending)
	appendRecord(t, store, "t1", ledger.AuditPaymentAllocation, 1000, testNow)

	seedSale(t, store, "t2", 500, 500, ledger.StatusCompleted)
	appendRecord(t, store, "t2", ledger.AuditPaymentAllocation, 500, testNow)

	report, err := svc.ReconcileCustomer(context.Background(), "c1")
	require.NoError(t, err)

	assert.Len(t, report.Results, 2)
	assert.Equal(t, 1, report.Repaired(), "only the drifted sale was rewritten")
	assert.Empty(t, report.Failures)
}

func TestReconcileCustomer_OneFailureDoesNotBlockOthers(t *testing.T) {
	// GIVEN: Two drifted sales; the first repair write will fail
	// WHEN: The customer is reconciled
	// THEN: The failure is accumulated, its unit of work rolled back,
	//       and the second sale is still repaired

	svc, store := newTestService(t)
	seedCustomer(t, store, "c1")

	seedSale(t, store, "t1", 1000, 0, ledger.StatusPending)
	appendRecord(t, store, "t1", ledger.AuditPaymentAllocation, 1000, testNow)

	second := &ledger.Transaction{
		ID:              "t2",
		CustomerID:      "c1",
		Kind:            ledger.KindSale,
		Method:          ledger.MethodCredit,
		TotalAmount:     500,
		RemainingAmount: 500,
		Status:          ledger.StatusPending,
		CreatedAt:       testNow.Add(time.Minute),
	}
	require.NoError(t, store.SaveTransaction(context.Background(), second))
	appendRecord(t, store, "t2", ledger.AuditPaymentAllocation, 500, testNow)

	boom := errors.New("disk full")
	store.FailNextWrite(boom)

	report, err := svc.ReconcileCustomer(context.Background(), "c1")
	require.NoError(t, err)

	require.Len(t, report.Failures, 1)
	assert.Equal(t, ledger.TransactionID("t1"), report.Failures[0].TransactionID)
	assert.ErrorIs(t, report.Failures[0].Err, boom)

	require.Len(t, report.Results, 1)
	assert.True(t, report.Results[0].Changed)

	// The failed sale keeps its stored values for a later retry.
	t1, _ := store.GetTransaction(context.Background(), "t1")
	assert.Equal(t, ledger.StatusPending, t1.Status)
	t2, _ := store.GetTransaction(context.Background(), "t2")
	assert.Equal(t, ledger.StatusCompleted, t2.Status)
}

func TestReconcileCustomer_UnknownCustomer(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.ReconcileCustomer(context.Background(), "ghost")
	assert.ErrorIs(t, err, ledger.ErrCustomerNotFound)
}
