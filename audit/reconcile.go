/*
reconcile.go - Drift detection and repair

PURPOSE:
  Stored paid/remaining/status can drift from the audit trail:
  partially-failed legacy writes, float rounding in old records,
  clamped balance decrements. Reconciliation recomputes the true
  amounts from the trail, re-derives status through the status
  calculator, and overwrites the stored transaction when it disagrees
  beyond tolerance.

SCOPE:
  Only sales accumulate settlement over time, so only sales can drift.
  Payments, credit grants and refunds settle in full at creation;
  summarize treats them as fully paid by construction, which makes a
  healthy non-sale row always in sync and never rewritten.

IDEMPOTENCE:
  A reconcile run that finds no drift performs zero writes, so a
  second consecutive call with no new audit activity is a no-op. The
  status_change record a repair appends does not count toward paid,
  so the repair itself never creates new drift.

PARTIAL-FAILURE TOLERANCE:
  ReconcileCustomer runs each transaction as its own unit of work and
  accumulates failures instead of aborting the batch: one poisoned
  row must not block repair of the others.
*/
package audit

import (
	"context"
	"fmt"
	"strconv"

	"github.com/tally/debt-engine/ledger"
	"github.com/tally/debt-engine/money"
)

// =============================================================================
// INTEGRITY VERIFICATION (read-only)
// =============================================================================

// IntegrityReport lists what VerifyIntegrity found. Drift is data,
// not an error: legacy writes make it expected, and Reconcile heals
// it.
type IntegrityReport struct {
	TransactionID ledger.TransactionID
	IsConsistent  bool
	Issues        []string
	Summary       Summary
}

// VerifyIntegrity flags drift beyond tolerance between calculated and
// stored paid amounts, paid exceeding total, and negative remainders.
// Read-only: repairs belong to Reconcile.
func (s *Service) VerifyIntegrity(ctx context.Context, id ledger.TransactionID) (IntegrityReport, error) {
	tx, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return IntegrityReport{}, fmt.Errorf("load transaction %s: %w", id, err)
	}
	if tx == nil {
		return IntegrityReport{}, fmt.Errorf("transaction %s: %w", id, ledger.ErrTransactionNotFound)
	}
	records, err := s.store.AuditForTransaction(ctx, id)
	if err != nil {
		return IntegrityReport{}, fmt.Errorf("load audit records for %s: %w", id, err)
	}

	sum := summarize(tx, records)
	report := IntegrityReport{TransactionID: id, Summary: sum}

	if !money.WithinTolerance(tx.PaidAmount, sum.CalculatedPaidAmount) {
		report.Issues = append(report.Issues, fmt.Sprintf(
			"stored paid amount %d differs from audit-derived %d beyond tolerance",
			tx.PaidAmount, sum.CalculatedPaidAmount))
	}
	if tx.PaidAmount > tx.TotalAmount {
		report.Issues = append(report.Issues, fmt.Sprintf(
			"paid amount %d exceeds total %d", tx.PaidAmount, tx.TotalAmount))
	}
	if tx.RemainingAmount < 0 {
		report.Issues = append(report.Issues, fmt.Sprintf(
			"remaining amount %d is negative", tx.RemainingAmount))
	}

	report.IsConsistent = len(report.Issues) == 0
	return report, nil
}

// =============================================================================
// RECONCILIATION (repair)
// =============================================================================

// ReconcileResult reports what one reconcile run did.
type ReconcileResult struct {
	TransactionID ledger.TransactionID

	// Changed is false when stored values already matched the trail
	// within tolerance; in that case no write happened.
	Changed bool

	OldStatus, NewStatus       ledger.TransactionStatus
	OldPaid, NewPaid           int64
	OldRemaining, NewRemaining int64
}

// Reconcile recomputes one transaction's paid/remaining/status from
// its audit trail and overwrites stored values on drift, appending a
// status_change record documenting the correction. The overwrite and
// the record share one unit of work.
func (s *Service) Reconcile(ctx context.Context, id ledger.TransactionID) (ReconcileResult, error) {
	var result ReconcileResult
	err := s.store.WithTx(ctx, func(st ledger.Store) error {
		tx, err := st.GetTransaction(ctx, id)
		if err != nil {
			return fmt.Errorf("load transaction %s: %w", id, err)
		}
		if tx == nil {
			return fmt.Errorf("transaction %s: %w", id, ledger.ErrTransactionNotFound)
		}
		records, err := st.AuditForTransaction(ctx, id)
		if err != nil {
			return fmt.Errorf("load audit records for %s: %w", id, err)
		}

		sum := summarize(tx, records)
		derived := s.calc.Calculate(ledger.StatusInput{
			Kind:            tx.Kind,
			Method:          tx.Method,
			TotalAmount:     tx.TotalAmount,
			PaidAmount:      sum.CalculatedPaidAmount,
			RemainingAmount: sum.CalculatedRemainingAmount,
			DueDate:         tx.DueDate,
		})

		result = ReconcileResult{
			TransactionID: id,
			OldStatus:     tx.Status,
			NewStatus:     derived.Status,
			OldPaid:       tx.PaidAmount,
			NewPaid:       derived.PaidAmount,
			OldRemaining:  tx.RemainingAmount,
			NewRemaining:  derived.RemainingAmount,
		}

		inSync := money.WithinTolerance(tx.PaidAmount, derived.PaidAmount) &&
			money.WithinTolerance(tx.RemainingAmount, derived.RemainingAmount) &&
			tx.Status == derived.Status
		if inSync {
			return nil
		}
		result.Changed = true

		tx.PaidAmount = derived.PaidAmount
		tx.RemainingAmount = derived.RemainingAmount
		tx.Status = derived.Status
		if err := st.UpdateTransaction(ctx, tx); err != nil {
			return fmt.Errorf("persist reconciled transaction %s: %w", id, err)
		}

		_, err = Record(ctx, st, s.now(), Event{
			CustomerID:          tx.CustomerID,
			SourceTransactionID: tx.ID,
			Kind:                ledger.AuditStatusChange,
			Amount:              0,
			Metadata: map[string]string{
				"old_status":    string(result.OldStatus),
				"new_status":    string(result.NewStatus),
				"old_paid":      strconv.FormatInt(result.OldPaid, 10),
				"new_paid":      strconv.FormatInt(result.NewPaid, 10),
				"old_remaining": strconv.FormatInt(result.OldRemaining, 10),
				"new_remaining": strconv.FormatInt(result.NewRemaining, 10),
				"reason":        "reconciliation",
			},
		})
		return err
	})
	if err != nil {
		return ReconcileResult{}, err
	}
	return result, nil
}

// =============================================================================
// BATCH RECONCILIATION
// =============================================================================

// ReconcileFailure is one transaction that could not be reconciled.
type ReconcileFailure struct {
	TransactionID ledger.TransactionID
	Err           error
}

// CustomerReport aggregates a reconcileCustomer run.
type CustomerReport struct {
	CustomerID ledger.CustomerID
	Results    []ReconcileResult
	Failures   []ReconcileFailure
}

// Repaired counts transactions that were actually rewritten.
func (r CustomerReport) Repaired() int {
	n := 0
	for _, res := range r.Results {
		if res.Changed {
			n++
		}
	}
	return n
}

// ReconcileCustomer reconciles every non-deleted transaction owned by
// the customer, sequentially, each in its own unit of work. Failures
// are accumulated per transaction; one failure never rolls back or
// blocks the others.
func (s *Service) ReconcileCustomer(ctx context.Context, id ledger.CustomerID) (CustomerReport, error) {
	c, err := s.store.GetCustomer(ctx, id)
	if err != nil {
		return CustomerReport{}, fmt.Errorf("load customer %s: %w", id, err)
	}
	if c == nil {
		return CustomerReport{}, fmt.Errorf("customer %s: %w", id, ledger.ErrCustomerNotFound)
	}

	txs, err := s.store.ListCustomerTransactions(ctx, id, false)
	if err != nil {
		return CustomerReport{}, fmt.Errorf("list transactions for %s: %w", id, err)
	}

	report := CustomerReport{CustomerID: id}
	for _, tx := range txs {
		res, err := s.Reconcile(ctx, tx.ID)
		if err != nil {
			report.Failures = append(report.Failures, ReconcileFailure{TransactionID: tx.ID, Err: err})
			continue
		}
		report.Results = append(report.Results, res)
	}
	return report, nil
}
