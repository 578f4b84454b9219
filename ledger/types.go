/*
Package ledger contains the core bookkeeping domain: transactions,
customers, audit records, the status calculator, and the guarded
customer balance operations.

PURPOSE:
  This is the authoritative model for customer debt and credit. Every
  sale, payment, credit issuance and refund is a Transaction; every
  balance-affecting sub-event is an AuditRecord; customer running
  totals live on Customer and are mutated only through the
  CustomerLedger primitives in customers.go.

KEY CONCEPTS IN THIS FILE (types.go):
  - Transaction: one commercial event with paid/remaining amounts
  - Customer: running outstanding-debt and credit-balance totals
  - AuditRecord: immutable log entry for one balance-affecting event
  - All amounts are integer minor units (see the money package)

CORE INVARIANTS:
  1. PaidAmount + RemainingAmount == TotalAmount within one minor unit
  2. RemainingAmount >= 0
  3. OutstandingBalance >= 0 and CreditBalance >= 0, always
  4. Audit records are append-only; corrections happen by
     reconciliation writing a status_change record, never by editing

SEE ALSO:
  - status.go: derives TransactionStatus
  - customers.go: guarded balance mutations
  - store.go: persistence interfaces
*/
package ledger

import (
	"time"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CustomerID string
type TransactionID string
type AuditRecordID string

// =============================================================================
// TRANSACTION - One commercial event
// =============================================================================

// TransactionKind classifies what kind of event a transaction records.
type TransactionKind string

const (
	KindSale    TransactionKind = "sale"
	KindPayment TransactionKind = "payment"
	KindCredit  TransactionKind = "credit"
	KindRefund  TransactionKind = "refund"
)

// PaymentMethod is how a transaction was (or will be) settled.
type PaymentMethod string

const (
	MethodCash   PaymentMethod = "cash"
	MethodBank   PaymentMethod = "bank"
	MethodCard   PaymentMethod = "card"
	MethodCredit PaymentMethod = "credit" // on customer account (creates debt)
	MethodMixed  PaymentMethod = "mixed"  // cash portion + customer credit
)

// TransactionStatus is derived, never stored authoritatively by hand:
// the status calculator produces it and reconciliation re-derives it.
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusPartial   TransactionStatus = "partial"
	StatusCompleted TransactionStatus = "completed"
	StatusOverdue   TransactionStatus = "overdue"
)

// Transaction is one sale, payment, credit issuance or refund.
//
// INVARIANT: PaidAmount + RemainingAmount == TotalAmount within one
// minor unit; RemainingAmount >= 0. Mutated in place only by the
// allocation engine at creation time (credit offset on a fresh sale)
// or by reconciliation when repairing drift. Logical removal is via
// Deleted; rows referenced by audit records are never purged.
type Transaction struct {
	ID         TransactionID
	CustomerID CustomerID
	Kind       TransactionKind
	Method     PaymentMethod

	// Amounts in integer minor units. TotalAmount >= 0.
	TotalAmount     int64
	PaidAmount      int64
	RemainingAmount int64

	Status TransactionStatus

	// AppliedToDebt is meaningful for payments only: true means the
	// payment reduces outstanding debt, false means it becomes a
	// forward-deposit credit.
	AppliedToDebt bool

	// LinkedTransactionID records credit-application provenance, e.g.
	// the sale a credit was applied to.
	LinkedTransactionID TransactionID

	DueDate   *time.Time
	Deleted   bool
	CreatedAt time.Time
}

// =============================================================================
// CUSTOMER - Running totals
// =============================================================================

// Customer carries the authoritative running totals.
//
// INVARIANT: OutstandingBalance >= 0 and CreditBalance >= 0,
// independently. The totals are not required to equal the live sum of
// transaction remainders at every instant, but must converge after
// reconciliation.
type Customer struct {
	ID   CustomerID
	Name string

	// OutstandingBalance is unpaid debt owed by the customer.
	OutstandingBalance int64

	// CreditBalance is prepaid/overpaid funds usable against future
	// purchases.
	CreditBalance int64

	// TotalSpent is monotonic and informational (sales only).
	TotalSpent int64

	LastPurchase *time.Time
	CreatedAt    time.Time
}

// =============================================================================
// AUDIT RECORD - Immutable balance-event log entry
// =============================================================================

// AuditKind classifies one balance-affecting sub-event. Direction is
// implied by the kind; Amount is always >= 0.
type AuditKind string

const (
	// AuditPaymentAllocation: a payment portion that fully cleared the
	// outstanding debt it was applied to.
	AuditPaymentAllocation AuditKind = "payment_allocation"

	// AuditOverPayment: the excess of a payment over outstanding debt,
	// converted to credit. Also used for refunds returned as credit.
	AuditOverPayment AuditKind = "over_payment"

	// AuditCreditAppliedToSale: existing credit offset against a sale.
	AuditCreditAppliedToSale AuditKind = "credit_applied_to_sale"

	// AuditPartialPayment: a payment portion that reduced but did not
	// clear the debt it was applied to.
	AuditPartialPayment AuditKind = "partial_payment"

	// AuditCreditUsed: a decrement of the customer credit balance.
	AuditCreditUsed AuditKind = "credit_used"

	// AuditStatusChange: reconciliation corrected a stored transaction.
	AuditStatusChange AuditKind = "status_change"
)

// CountsTowardPaid reports whether records of this kind are summed as
// "applied toward PaidAmount" during reconciliation.
func (k AuditKind) CountsTowardPaid() bool {
	switch k {
	case AuditPaymentAllocation, AuditCreditAppliedToSale, AuditPartialPayment:
		return true
	}
	return false
}

// Valid reports whether k is a known audit kind.
func (k AuditKind) Valid() bool {
	switch k {
	case AuditPaymentAllocation, AuditOverPayment, AuditCreditAppliedToSale,
		AuditPartialPayment, AuditCreditUsed, AuditStatusChange:
		return true
	}
	return false
}

// AuditRecord documents one balance-affecting sub-event.
//
// INVARIANT: append-only. Created exactly once per sub-event, inside
// the same atomic write as the balance mutation it documents. Only
// the age-based maintenance purge deletes rows.
type AuditRecord struct {
	ID         AuditRecordID
	CustomerID CustomerID

	// SourceTransactionID links the record to the transaction it
	// documents; empty for events with no transaction provenance.
	SourceTransactionID TransactionID

	Kind      AuditKind
	Amount    int64 // minor units, >= 0; direction implied by Kind
	Metadata  map[string]string
	CreatedAt time.Time
}
