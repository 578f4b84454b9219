/*
Package audit maintains the append-only trail of balance-affecting
events and recomputes correct transaction state by replaying it.

PURPOSE:
  Two jobs. First, recording: every balance mutation in the system is
  documented by exactly one audit record, written inside the same
  atomic unit of work as the mutation itself (the legacy path that
  let an audit write fail independently of the balance write is not
  reproduced here). Second, reconciliation: the trail is the source
  of truth, so paid/remaining/status can always be recomputed from it
  and drifted stored values repaired.

PAID-COUNTING KINDS:
  payment_allocation, credit_applied_to_sale and partial_payment are
  the kinds summed as "applied toward PaidAmount". over_payment and
  credit_used document credit movements; status_change documents
  repairs. See ledger.AuditKind.CountsTowardPaid.

SEE ALSO:
  - reconcile.go: drift detection and repair
  - ledger/store.go: append-only audit contract
*/
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tally/debt-engine/ledger"
)

// =============================================================================
// SERVICE
// =============================================================================

// Service records audit events and reconciles transactions against
// the trail. Collaborators are constructor-injected; there is no
// ambient state.
type Service struct {
	store ledger.TxStore
	calc  ledger.StatusCalculator

	// now is the clock, swappable in tests.
	now func() time.Time
}

func NewService(store ledger.TxStore, calc ledger.StatusCalculator) *Service {
	return &Service{store: store, calc: calc, now: time.Now}
}

// WithClock replaces the service clock. Tests only.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// =============================================================================
// RECORDING
// =============================================================================

// Event is one balance-affecting sub-event to be appended.
type Event struct {
	CustomerID          ledger.CustomerID
	SourceTransactionID ledger.TransactionID
	Kind                ledger.AuditKind
	Amount              int64
	Metadata            map[string]string
}

// Record appends one audit record through the given store. Called
// with the transaction-scoped Store of an open unit of work so the
// record commits together with the mutation it documents.
func Record(ctx context.Context, store ledger.Store, at time.Time, ev Event) (ledger.AuditRecord, error) {
	if !ev.Kind.Valid() {
		return ledger.AuditRecord{}, &ledger.ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown audit kind %q", ev.Kind)}
	}
	if ev.Amount < 0 {
		return ledger.AuditRecord{}, &ledger.ValidationError{Field: "amount", Reason: "audit amount must not be negative"}
	}
	if ev.CustomerID == "" {
		return ledger.AuditRecord{}, &ledger.ValidationError{Field: "customerId", Reason: "customer id required"}
	}

	rec := ledger.AuditRecord{
		ID:                  ledger.AuditRecordID(uuid.NewString()),
		CustomerID:          ev.CustomerID,
		SourceTransactionID: ev.SourceTransactionID,
		Kind:                ev.Kind,
		Amount:              ev.Amount,
		Metadata:            ev.Metadata,
		CreatedAt:           at,
	}
	if err := store.AppendAudit(ctx, rec); err != nil {
		return ledger.AuditRecord{}, fmt.Errorf("append audit record: %w", err)
	}
	return rec, nil
}

// RecordEvent appends a standalone audit event in its own unit of
// work. Balance-mutating callers use Record inside their own WithTx
// instead: an audit write must never be split from the mutation it
// documents.
func (s *Service) RecordEvent(ctx context.Context, ev Event) (ledger.AuditRecord, error) {
	var rec ledger.AuditRecord
	err := s.store.WithTx(ctx, func(st ledger.Store) error {
		var err error
		rec, err = Record(ctx, st, s.now(), ev)
		return err
	})
	return rec, err
}

// =============================================================================
// SUMMARIES
// =============================================================================

// Summary is the audit-derived view of one transaction's amounts.
type Summary struct {
	TransactionID ledger.TransactionID

	// AuditTotal is the sum of all paid-counting records.
	AuditTotal int64

	// CalculatedPaidAmount is AuditTotal capped at the transaction
	// total: a trail can over-count (double legacy writes) but a
	// transaction can never be more than fully paid. For non-sale
	// kinds it is the transaction total outright, since those settle
	// in full at creation.
	CalculatedPaidAmount int64

	// CalculatedRemainingAmount is total minus calculated paid,
	// floored at zero.
	CalculatedRemainingAmount int64
}

// TransactionSummary sums the paid-counting records for a transaction.
func (s *Service) TransactionSummary(ctx context.Context, id ledger.TransactionID) (Summary, error) {
	tx, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return Summary{}, fmt.Errorf("load transaction %s: %w", id, err)
	}
	if tx == nil {
		return Summary{}, fmt.Errorf("transaction %s: %w", id, ledger.ErrTransactionNotFound)
	}
	records, err := s.store.AuditForTransaction(ctx, id)
	if err != nil {
		return Summary{}, fmt.Errorf("load audit records for %s: %w", id, err)
	}
	return summarize(tx, records), nil
}

func summarize(tx *ledger.Transaction, records []ledger.AuditRecord) Summary {
	var total int64
	for _, rec := range records {
		if rec.Kind.CountsTowardPaid() {
			total += rec.Amount
		}
	}
	if tx.Kind != ledger.KindSale {
		// Payments, credit grants and refunds settle in full at
		// creation. Their trail documents balance movements (debt
		// reduced, credit created), not settlement progress, so the
		// paid-counting sum is not a paid amount for them.
		return Summary{
			TransactionID:        tx.ID,
			AuditTotal:           total,
			CalculatedPaidAmount: tx.TotalAmount,
		}
	}
	paid := total
	if paid > tx.TotalAmount {
		paid = tx.TotalAmount
	}
	remaining := tx.TotalAmount - paid
	if remaining < 0 {
		remaining = 0
	}
	return Summary{
		TransactionID:             tx.ID,
		AuditTotal:                total,
		CalculatedPaidAmount:      paid,
		CalculatedRemainingAmount: remaining,
	}
}

// =============================================================================
// MAINTENANCE PURGE
// =============================================================================

// PurgeOlderThan deletes audit records created before cutoff. This is
// the single permitted deletion on the audit trail and exists for
// retention maintenance only.
func (s *Service) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := s.store.PurgeAuditBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge audit records before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return n, nil
}
