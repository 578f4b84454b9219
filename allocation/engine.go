/*
Package allocation decides how money moves when payments and sales
meet customer balances.

PURPOSE:
  The engine answers two questions. For an incoming payment: how much
  clears existing debt and how much becomes forward-deposit credit?
  For a new sale: how much does existing credit cover before any new
  debt is created?

ATOMICITY:
  Every operation runs its balance mutations and the audit records
  documenting them inside one unit of work (ledger.TxStore.WithTx).
  A crash mid-operation never leaves partial effects, and no
  operation is retried automatically: auto-retry risks double
  applying real money. Failures surface immediately to the caller.

SEPARATION OF CONCERNS:
  ApplyCreditToSale never creates debt for the uncovered remainder;
  that stays with the caller (the sale-creation flow in sales.go), so
  "credit coverage" and "new debt" remain independently auditable.

SEE ALSO:
  - sales.go: transaction-creation flows built on these operations
  - ledger/customers.go: the guarded balance primitives used here
  - audit/service.go: the records written alongside every mutation
*/
package allocation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/tally/debt-engine/audit"
	"github.com/tally/debt-engine/ledger"
	"github.com/tally/debt-engine/money"
)

// =============================================================================
// ENGINE
// =============================================================================

// Engine performs payment allocation and credit application. All
// collaborators are constructor-injected.
type Engine struct {
	store     ledger.TxStore
	customers ledger.CustomerDirectory
	calc      ledger.StatusCalculator

	// now is the clock, swappable in tests.
	now func() time.Time
}

func NewEngine(store ledger.TxStore, customers ledger.CustomerDirectory, calc ledger.StatusCalculator) *Engine {
	return &Engine{store: store, customers: customers, calc: calc, now: time.Now}
}

// WithClock replaces the engine clock. Tests only.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// =============================================================================
// PAYMENT ALLOCATION
// =============================================================================

// PaymentAllocation reports how a payment was split.
type PaymentAllocation struct {
	CustomerID ledger.CustomerID

	// DebtReduced is the portion applied against outstanding debt.
	DebtReduced int64

	// CreditCreated is the portion converted to customer credit
	// (overpayment excess, or the whole amount for forward deposits).
	CreditCreated int64

	// DebtCleared is set when the applied portion brought outstanding
	// debt to zero.
	DebtCleared bool
}

// AllocatePayment splits a payment between debt-clearing and new
// credit and applies it.
//
// If appliedToDebt is false the entire amount becomes credit. Else
// min(amount, outstanding) clears debt and any excess becomes
// credit. Each affected balance gets exactly one audit record, all
// inside one unit of work.
func (e *Engine) AllocatePayment(ctx context.Context, customerID ledger.CustomerID, amount int64, appliedToDebt bool) (PaymentAllocation, error) {
	if amount <= 0 {
		return PaymentAllocation{}, &ledger.AmountError{Op: "allocate payment", Amount: amount}
	}
	if err := e.requireCustomer(ctx, customerID); err != nil {
		return PaymentAllocation{}, err
	}

	var result PaymentAllocation
	err := e.store.WithTx(ctx, func(st ledger.Store) error {
		var err error
		result, err = e.allocate(ctx, st, customerID, amount, appliedToDebt, "")
		return err
	})
	if err != nil {
		return PaymentAllocation{}, err
	}
	return result, nil
}

// allocate is the in-transaction body of AllocatePayment, shared with
// the payment-recording flow in sales.go. sourceTx, when set, links
// the audit records to the payment transaction being created.
func (e *Engine) allocate(ctx context.Context, st ledger.Store, customerID ledger.CustomerID, amount int64, appliedToDebt bool, sourceTx ledger.TransactionID) (PaymentAllocation, error) {
	c, err := st.GetCustomer(ctx, customerID)
	if err != nil {
		return PaymentAllocation{}, fmt.Errorf("load customer %s: %w", customerID, err)
	}
	if c == nil {
		return PaymentAllocation{}, fmt.Errorf("customer %s: %w", customerID, ledger.ErrCustomerNotFound)
	}

	outstanding := c.OutstandingBalance
	applied, excess := int64(0), amount
	if appliedToDebt && outstanding > 0 {
		applied = min64(amount, outstanding)
		excess = amount - applied
	}

	balances := ledger.NewCustomerLedger(st)
	result := PaymentAllocation{CustomerID: customerID, DebtReduced: applied, CreditCreated: excess}

	if applied > 0 {
		change, err := balances.DecreaseOutstanding(ctx, customerID, applied)
		if err != nil {
			return PaymentAllocation{}, err
		}
		result.DebtCleared = change.NewBalance == 0

		kind := ledger.AuditPartialPayment
		if result.DebtCleared {
			kind = ledger.AuditPaymentAllocation
		}
		meta := map[string]string{
			"payment_amount": strconv.FormatInt(amount, 10),
		}
		addClampNote(meta, change)
		if _, err := audit.Record(ctx, st, e.now(), audit.Event{
			CustomerID:          customerID,
			SourceTransactionID: sourceTx,
			Kind:                kind,
			Amount:              applied,
			Metadata:            meta,
		}); err != nil {
			return PaymentAllocation{}, err
		}
	}

	if excess > 0 {
		if _, err := balances.IncreaseCredit(ctx, customerID, excess); err != nil {
			return PaymentAllocation{}, err
		}
		if _, err := audit.Record(ctx, st, e.now(), audit.Event{
			CustomerID:          customerID,
			SourceTransactionID: sourceTx,
			Kind:                ledger.AuditOverPayment,
			Amount:              excess,
			Metadata: map[string]string{
				"payment_amount":  strconv.FormatInt(amount, 10),
				"applied_to_debt": strconv.FormatBool(appliedToDebt),
			},
		}); err != nil {
			return PaymentAllocation{}, err
		}
	}

	return result, nil
}

// =============================================================================
// CREDIT APPLICATION
// =============================================================================

// CreditApplication reports how much of a sale existing credit covered.
type CreditApplication struct {
	CustomerID ledger.CustomerID

	// CreditUsed is the credit consumed, min(credit balance, sale amount).
	CreditUsed int64

	// RemainingAmount is the uncovered part of the sale. Creating debt
	// for it is the caller's responsibility, never this engine's.
	RemainingAmount int64
}

// ApplyCreditToSale offsets an existing sale with available customer
// credit. When any credit is used, the credit decrement (with its
// credit_used record), the credit_applied_to_sale record and the
// update of the sale's paid/remaining/status all commit together.
func (e *Engine) ApplyCreditToSale(ctx context.Context, customerID ledger.CustomerID, saleAmount int64, saleTx ledger.TransactionID) (CreditApplication, error) {
	if saleAmount < 0 {
		return CreditApplication{}, &ledger.ValidationError{Field: "saleAmount", Reason: "must not be negative"}
	}
	if err := e.requireCustomer(ctx, customerID); err != nil {
		return CreditApplication{}, err
	}

	var result CreditApplication
	err := e.store.WithTx(ctx, func(st ledger.Store) error {
		var err error
		result, err = e.applyCredit(ctx, st, customerID, saleAmount, saleTx, true)
		return err
	})
	if err != nil {
		return CreditApplication{}, err
	}
	return result, nil
}

// applyCredit is the in-transaction body of ApplyCreditToSale, shared
// with the sale-creation flow. updateSale controls whether the
// referenced sale row is rewritten here; the creation flow declines
// because it finalizes the sale itself.
func (e *Engine) applyCredit(ctx context.Context, st ledger.Store, customerID ledger.CustomerID, saleAmount int64, saleTx ledger.TransactionID, updateSale bool) (CreditApplication, error) {
	c, err := st.GetCustomer(ctx, customerID)
	if err != nil {
		return CreditApplication{}, fmt.Errorf("load customer %s: %w", customerID, err)
	}
	if c == nil {
		return CreditApplication{}, fmt.Errorf("customer %s: %w", customerID, ledger.ErrCustomerNotFound)
	}

	used := min64(c.CreditBalance, saleAmount)
	result := CreditApplication{
		CustomerID:      customerID,
		CreditUsed:      used,
		RemainingAmount: saleAmount - used,
	}
	if used == 0 {
		return result, nil
	}

	balances := ledger.NewCustomerLedger(st)
	change, err := balances.DecreaseCredit(ctx, customerID, used)
	if err != nil {
		return CreditApplication{}, err
	}

	meta := map[string]string{"sale_amount": strconv.FormatInt(saleAmount, 10)}
	addClampNote(meta, change)
	if _, err := audit.Record(ctx, st, e.now(), audit.Event{
		CustomerID:          customerID,
		SourceTransactionID: saleTx,
		Kind:                ledger.AuditCreditUsed,
		Amount:              used,
		Metadata:            meta,
	}); err != nil {
		return CreditApplication{}, err
	}
	if _, err := audit.Record(ctx, st, e.now(), audit.Event{
		CustomerID:          customerID,
		SourceTransactionID: saleTx,
		Kind:                ledger.AuditCreditAppliedToSale,
		Amount:              used,
		Metadata:            map[string]string{"sale_amount": strconv.FormatInt(saleAmount, 10)},
	}); err != nil {
		return CreditApplication{}, err
	}

	if !updateSale {
		return result, nil
	}

	// The sale was created before any credit offset was known, so this
	// is the one place the engine rewrites a transaction after
	// creation outside reconciliation.
	sale, err := st.GetTransaction(ctx, saleTx)
	if err != nil {
		return CreditApplication{}, fmt.Errorf("load sale %s: %w", saleTx, err)
	}
	if sale == nil {
		return CreditApplication{}, fmt.Errorf("sale %s: %w", saleTx, ledger.ErrTransactionNotFound)
	}
	sale.PaidAmount += used
	sale.RemainingAmount = sale.TotalAmount - sale.PaidAmount
	if sale.RemainingAmount < 0 {
		sale.RemainingAmount = 0
	}
	derived := e.calc.Calculate(ledger.StatusInput{
		Kind:            sale.Kind,
		Method:          sale.Method,
		TotalAmount:     sale.TotalAmount,
		PaidAmount:      sale.PaidAmount,
		RemainingAmount: sale.RemainingAmount,
		DueDate:         sale.DueDate,
	})
	sale.PaidAmount = derived.PaidAmount
	sale.RemainingAmount = derived.RemainingAmount
	sale.Status = derived.Status
	if err := st.UpdateTransaction(ctx, sale); err != nil {
		return CreditApplication{}, fmt.Errorf("persist sale %s: %w", saleTx, err)
	}
	return result, nil
}

// =============================================================================
// MIXED PAYMENT VALIDATION
// =============================================================================

// ValidateMixedPayment checks a cash/credit split before any sale is
// created. Pure: no reads, no writes.
//
// Rejections: negative components, split not summing to the total
// within tolerance, and cash covering the full total (that is a plain
// cash sale, not a mixed one).
func ValidateMixedPayment(total, cash, credit int64) error {
	if total <= 0 {
		return &ledger.MixedPaymentError{Total: total, Cash: cash, Credit: credit,
			Reason: "total must be positive"}
	}
	if cash < 0 || credit < 0 {
		return &ledger.MixedPaymentError{Total: total, Cash: cash, Credit: credit,
			Reason: "components must not be negative"}
	}
	if !money.WithinTolerance(cash+credit, total) {
		return &ledger.MixedPaymentError{Total: total, Cash: cash, Credit: credit,
			Reason: "cash and credit do not sum to the total"}
	}
	if cash >= total {
		return &ledger.MixedPaymentError{Total: total, Cash: cash, Credit: credit,
			Reason: "cash covers the full total; this is a cash sale, not mixed"}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (e *Engine) requireCustomer(ctx context.Context, id ledger.CustomerID) error {
	c, err := e.customers.FindByID(ctx, id)
	if err != nil {
		return fmt.Errorf("look up customer %s: %w", id, err)
	}
	if c == nil {
		return fmt.Errorf("customer %s: %w", id, ledger.ErrCustomerNotFound)
	}
	return nil
}

// addClampNote makes a floored decrement observable on the audit
// record instead of clamping silently.
func addClampNote(meta map[string]string, change ledger.BalanceChange) {
	if !change.Clamped {
		return
	}
	meta["clamped"] = "true"
	meta["clamp_shortfall"] = strconv.FormatInt(change.Requested-change.Applied, 10)
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
