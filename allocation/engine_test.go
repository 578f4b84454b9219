package allocation_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tally/debt-engine/allocation"
	"github.com/tally/debt-engine/ledger"
	"github.com/tally/debt-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var testNow = time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T) (*allocation.Engine, *memory.Store) {
	store := memory.New()
	calc := ledger.StatusCalculator{EnableOverdueState: true, Now: func() time.Time { return testNow }}
	engine := allocation.NewEngine(store, ledger.DirectoryFromStore(store), calc).
		WithClock(func() time.Time { return testNow })
	return engine, store
}

func seedCustomer(t *testing.T, store *memory.Store, id string, outstanding, credit int64) {
	t.Helper()
	err := store.SaveCustomer(context.Background(), &ledger.Customer{
		ID:                 ledger.CustomerID(id),
		Name:               "Test Customer",
		OutstandingBalance: outstanding,
		CreditBalance:      credit,
		CreatedAt:          testNow,
	})
	require.NoError(t, err)
}

func customer(t *testing.T, store *memory.Store, id string) *ledger.Customer {
	t.Helper()
	c, err := store.GetCustomer(context.Background(), ledger.CustomerID(id))
	require.NoError(t, err)
	require.NotNil(t, c)
	return c
}

func auditKinds(t *testing.T, store *memory.Store, id string) []ledger.AuditKind {
	t.Helper()
	records, err := store.AuditForCustomer(context.Background(), ledger.CustomerID(id))
	require.NoError(t, err)
	kinds := make([]ledger.AuditKind, 0, len(records))
	for _, rec := range records {
		kinds = append(kinds, rec.Kind)
	}
	return kinds
}

// =============================================================================
// PAYMENT ALLOCATION
// =============================================================================

func TestAllocatePayment_Overpayment_SplitsDebtAndCredit(t *testing.T) {
	// GIVEN: Customer owes 1000 and pays 1500 toward debt
	// WHEN: The payment is allocated
	// THEN: 1000 clears the debt, 500 becomes credit, and the trail
	//       shows payment_allocation + over_payment

	engine, store := newTestEngine(t)
	seedCustomer(t, store, "c1", 1000, 0)

	result, err := engine.AllocatePayment(context.Background(), "c1", 1500, true)
	require.NoError(t, err)

	assert.Equal(t, int64(1000), result.DebtReduced)
	assert.Equal(t, int64(500), result.CreditCreated)
	assert.True(t, result.DebtCleared)

	c := customer(t, store, "c1")
	assert.Equal(t, int64(0), c.OutstandingBalance)
	assert.Equal(t, int64(500), c.CreditBalance)

	assert.Equal(t,
		[]ledger.AuditKind{ledger.AuditPaymentAllocation, ledger.AuditOverPayment},
		auditKinds(t, store, "c1"))
}

func TestAllocatePayment_ExactPayment_NoCredit(t *testing.T) {
	engine, store := newTestEngine(t)
	seedCustomer(t, store, "c1", 1000, 0)

	result, err := engine.AllocatePayment(context.Background(), "c1", 1000, true)
	require.NoError(t, err)

	assert.Equal(t, int64(1000), result.DebtReduced)
	assert.Equal(t, int64(0), result.CreditCreated)
	assert.True(t, result.DebtCleared)

	c := customer(t, store, "c1")
	assert.Equal(t, int64(0), c.OutstandingBalance)
	assert.Equal(t, int64(0), c.CreditBalance)

	assert.Equal(t, []ledger.AuditKind{ledger.AuditPaymentAllocation}, auditKinds(t, store, "c1"))
}

func TestAllocatePayment_Underpayment_PartialRecord(t *testing.T) {
	// GIVEN: Customer owes 1000 and pays 500
	// THEN: Debt drops to 500, no credit, kind is partial_payment

	engine, store := newTestEngine(t)
	seedCustomer(t, store, "c1", 1000, 0)

	result, err := engine.AllocatePayment(context.Background(), "c1", 500, true)
	require.NoError(t, err)

	assert.Equal(t, int64(500), result.DebtReduced)
	assert.Equal(t, int64(0), result.CreditCreated)
	assert.False(t, result.DebtCleared)

	c := customer(t, store, "c1")
	assert.Equal(t, int64(500), c.OutstandingBalance)

	assert.Equal(t, []ledger.AuditKind{ledger.AuditPartialPayment}, auditKinds(t, store, "c1"))
}

func TestAllocatePayment_NotAppliedToDebt_AllBecomesCredit(t *testing.T) {
	// A forward deposit: debt untouched even though the customer owes.
	engine, store := newTestEngine(t)
	seedCustomer(t, store, "c1", 1000, 0)

	result, err := engine.AllocatePayment(context.Background(), "c1", 800, false)
	require.NoError(t, err)

	assert.Equal(t, int64(0), result.DebtReduced)
	assert.Equal(t, int64(800), result.CreditCreated)

	c := customer(t, store, "c1")
	assert.Equal(t, int64(1000), c.OutstandingBalance)
	assert.Equal(t, int64(800), c.CreditBalance)

	assert.Equal(t, []ledger.AuditKind{ledger.AuditOverPayment}, auditKinds(t, store, "c1"))
}

func TestAllocatePayment_NoDebt_AllBecomesCredit(t *testing.T) {
	engine, store := newTestEngine(t)
	seedCustomer(t, store, "c1", 0, 0)

	result, err := engine.AllocatePayment(context.Background(), "c1", 300, true)
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.DebtReduced)
	assert.Equal(t, int64(300), result.CreditCreated)
}

func TestAllocatePayment_Guards(t *testing.T) {
	engine, store := newTestEngine(t)
	seedCustomer(t, store, "c1", 1000, 0)

	_, err := engine.AllocatePayment(context.Background(), "c1", 0, true)
	assert.ErrorIs(t, err, ledger.ErrNonPositiveAmount)

	_, err = engine.AllocatePayment(context.Background(), "ghost", 100, true)
	assert.ErrorIs(t, err, ledger.ErrCustomerNotFound)
}

// =============================================================================
// ATOMICITY
// =============================================================================

func TestAllocatePayment_AuditWriteFails_NothingApplied(t *testing.T) {
	// GIVEN: Customer owes 1000 and the next store write will fail
	// WHEN: Allocating a 1500 payment
	// THEN: The whole unit of work rolls back: balance unchanged, no
	//       audit records, error surfaced, no retry

	engine, store := newTestEngine(t)
	seedCustomer(t, store, "c1", 1000, 0)

	boom := errors.New("disk full")
	store.FailNextWrite(boom)

	_, err := engine.AllocatePayment(context.Background(), "c1", 1500, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	c := customer(t, store, "c1")
	assert.Equal(t, int64(1000), c.OutstandingBalance)
	assert.Equal(t, int64(0), c.CreditBalance)
	assert.Empty(t, auditKinds(t, store, "c1"))
}

// =============================================================================
// CREDIT APPLICATION
// =============================================================================

func TestApplyCreditToSale_CreditCoversPart(t *testing.T) {
	// GIVEN: Customer holds 300 credit and a 1000 credit sale exists
	// WHEN: Credit is applied to the sale
	// THEN: 300 consumed, 700 uncovered, sale rewritten to partial,
	//       trail shows credit_used + credit_applied_to_sale

	engine, store := newTestEngine(t)
	seedCustomer(t, store, "c1", 0, 300)
	sale := &ledger.Transaction{
		ID:              "s1",
		CustomerID:      "c1",
		Kind:            ledger.KindSale,
		Method:          ledger.MethodCredit,
		TotalAmount:     1000,
		RemainingAmount: 1000,
		Status:          ledger.StatusPending,
		CreatedAt:       testNow,
	}
	require.NoError(t, store.SaveTransaction(context.Background(), sale))

	result, err := engine.ApplyCreditToSale(context.Background(), "c1", 1000, "s1")
	require.NoError(t, err)

	assert.Equal(t, int64(300), result.CreditUsed)
	assert.Equal(t, int64(700), result.RemainingAmount)

	c := customer(t, store, "c1")
	assert.Equal(t, int64(0), c.CreditBalance)

	updated, _ := store.GetTransaction(context.Background(), "s1")
	assert.Equal(t, int64(300), updated.PaidAmount)
	assert.Equal(t, int64(700), updated.RemainingAmount)
	assert.Equal(t, ledger.StatusPartial, updated.Status)

	assert.Equal(t,
		[]ledger.AuditKind{ledger.AuditCreditUsed, ledger.AuditCreditAppliedToSale},
		auditKinds(t, store, "c1"))
}

func TestApplyCreditToSale_CreditCoversAll(t *testing.T) {
	engine, store := newTestEngine(t)
	seedCustomer(t, store, "c1", 0, 2000)
	sale := &ledger.Transaction{
		ID:              "s1",
		CustomerID:      "c1",
		Kind:            ledger.KindSale,
		Method:          ledger.MethodCredit,
		TotalAmount:     1000,
		RemainingAmount: 1000,
		Status:          ledger.StatusPending,
		CreatedAt:       testNow,
	}
	require.NoError(t, store.SaveTransaction(context.Background(), sale))

	result, err := engine.ApplyCreditToSale(context.Background(), "c1", 1000, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), result.CreditUsed)
	assert.Equal(t, int64(0), result.RemainingAmount)

	c := customer(t, store, "c1")
	assert.Equal(t, int64(1000), c.CreditBalance)

	updated, _ := store.GetTransaction(context.Background(), "s1")
	assert.Equal(t, ledger.StatusCompleted, updated.Status)
	assert.Equal(t, int64(0), updated.RemainingAmount)
}

func TestApplyCreditToSale_NoCredit_NoWrites(t *testing.T) {
	// Zero credit is a no-op: no records, no sale rewrite.
	engine, store := newTestEngine(t)
	seedCustomer(t, store, "c1", 0, 0)
	sale := &ledger.Transaction{
		ID:              "s1",
		CustomerID:      "c1",
		Kind:            ledger.KindSale,
		Method:          ledger.MethodCredit,
		TotalAmount:     1000,
		RemainingAmount: 1000,
		Status:          ledger.StatusPending,
		CreatedAt:       testNow,
	}
	require.NoError(t, store.SaveTransaction(context.Background(), sale))

	result, err := engine.ApplyCreditToSale(context.Background(), "c1", 1000, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.CreditUsed)
	assert.Equal(t, int64(1000), result.RemainingAmount)
	assert.Empty(t, auditKinds(t, store, "c1"))

	updated, _ := store.GetTransaction(context.Background(), "s1")
	assert.Equal(t, ledger.StatusPending, updated.Status)
}

func TestApplyCreditToSale_NegativeAmount_Rejected(t *testing.T) {
	engine, store := newTestEngine(t)
	seedCustomer(t, store, "c1", 0, 100)

	_, err := engine.ApplyCreditToSale(context.Background(), "c1", -1, "s1")
	assert.True(t, ledger.IsValidation(err))
}

// =============================================================================
// MIXED PAYMENT VALIDATION
// =============================================================================

func TestValidateMixedPayment(t *testing.T) {
	cases := []struct {
		name                string
		total, cash, credit int64
		wantErr             bool
	}{
		{"valid split", 1000, 600, 400, false},
		{"split within tolerance", 1000, 600, 399, false},
		{"split does not sum", 1000, 600, 300, true},
		{"negative cash", 1000, -100, 1100, true},
		{"negative credit", 1000, 1100, -100, true},
		{"cash covers total", 1000, 1000, 0, true},
		{"zero total", 0, 0, 0, true},
		{"all credit is fine", 1000, 0, 1000, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := allocation.ValidateMixedPayment(tc.total, tc.cash, tc.credit)
			if tc.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ledger.ErrInvalidMixedPayment)
				var mixedErr *ledger.MixedPaymentError
				assert.ErrorAs(t, err, &mixedErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
