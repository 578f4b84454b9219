/*
sales.go - Transaction-creation flows

PURPOSE:
  The flows that create transaction rows: sales, recorded payments,
  credit issuances, refunds, and voiding. Each flow composes the
  allocation primitives in engine.go with the guarded balance
  mutations and finishes inside a single unit of work.

CREDIT-FIRST ORDERING:
  For a sale that is not fully settled by immediate funds, available
  customer credit is consumed BEFORE the cash portion is counted.
  Cash is the most certain funds and is reserved last, so
  remaining = total - credit used - cash.

AUDIT TRAIL:
  The settled portion of a sale is recorded at creation so that
  replaying the audit trail reproduces the sale's paid amount:
  credit coverage via credit_used + credit_applied_to_sale, the cash
  portion via payment_allocation or partial_payment.
*/
package allocation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/tally/debt-engine/audit"
	"github.com/tally/debt-engine/ledger"
)

// =============================================================================
// SALE CREATION
// =============================================================================

// SaleInput describes a sale to be recorded.
type SaleInput struct {
	CustomerID  ledger.CustomerID
	TotalAmount int64
	Method      ledger.PaymentMethod

	// CashPaid is the immediate-funds portion. Ignored for cash, bank
	// and card sales (those settle in full) and for credit sales
	// (none). Required for mixed sales.
	CashPaid int64

	// CreditPlanned is the customer-credit portion of a mixed sale,
	// validated against the total before anything is written.
	CreditPlanned int64

	DueDate *time.Time
}

// CreateSale records a sale: validates the input, creates the
// transaction, applies available credit first, counts the cash
// portion, raises outstanding debt for the remainder, bumps lifetime
// spend, and derives the status. One atomic unit of work.
func (e *Engine) CreateSale(ctx context.Context, in SaleInput) (*ledger.Transaction, error) {
	if in.TotalAmount < 0 {
		return nil, &ledger.ValidationError{Field: "totalAmount", Reason: "must not be negative"}
	}
	cash, err := cashPortion(in)
	if err != nil {
		return nil, err
	}
	if err := e.requireCustomer(ctx, in.CustomerID); err != nil {
		return nil, err
	}

	now := e.now()
	sale := &ledger.Transaction{
		ID:          ledger.TransactionID(uuid.NewString()),
		CustomerID:  in.CustomerID,
		Kind:        ledger.KindSale,
		Method:      in.Method,
		TotalAmount: in.TotalAmount,
		DueDate:     in.DueDate,
		CreatedAt:   now,
	}

	err = e.store.WithTx(ctx, func(st ledger.Store) error {
		// The sale row exists before any credit offset is known.
		if err := st.SaveTransaction(ctx, sale); err != nil {
			return fmt.Errorf("save sale: %w", err)
		}

		// Credit first: consume available credit before counting cash.
		uncovered := sale.TotalAmount - cash
		var creditUsed int64
		if uncovered > 0 {
			app, err := e.applyCredit(ctx, st, in.CustomerID, uncovered, sale.ID, false)
			if err != nil {
				return err
			}
			creditUsed = app.CreditUsed
		}

		balances := ledger.NewCustomerLedger(st)

		if cash > 0 {
			kind := ledger.AuditPartialPayment
			if creditUsed+cash >= sale.TotalAmount {
				kind = ledger.AuditPaymentAllocation
			}
			if _, err := audit.Record(ctx, st, now, audit.Event{
				CustomerID:          in.CustomerID,
				SourceTransactionID: sale.ID,
				Kind:                kind,
				Amount:              cash,
				Metadata:            map[string]string{"source": "sale_cash"},
			}); err != nil {
				return err
			}
		}

		paid := creditUsed + cash
		remaining := sale.TotalAmount - paid
		if remaining > 0 {
			if _, err := balances.IncreaseOutstanding(ctx, in.CustomerID, remaining); err != nil {
				return err
			}
		}

		if sale.TotalAmount > 0 {
			if err := balances.AddToTotalSpent(ctx, in.CustomerID, sale.TotalAmount, now); err != nil {
				return err
			}
		}

		derived := e.calc.Calculate(ledger.StatusInput{
			Kind:            sale.Kind,
			Method:          sale.Method,
			TotalAmount:     sale.TotalAmount,
			PaidAmount:      paid,
			RemainingAmount: remaining,
			DueDate:         sale.DueDate,
		})
		sale.PaidAmount = derived.PaidAmount
		sale.RemainingAmount = derived.RemainingAmount
		sale.Status = derived.Status
		return st.UpdateTransaction(ctx, sale)
	})
	if err != nil {
		return nil, err
	}
	return sale, nil
}

// cashPortion derives the immediate-funds portion from the payment
// method, validating mixed splits before anything is written.
func cashPortion(in SaleInput) (int64, error) {
	switch in.Method {
	case ledger.MethodCash, ledger.MethodBank, ledger.MethodCard:
		return in.TotalAmount, nil
	case ledger.MethodCredit:
		return 0, nil
	case ledger.MethodMixed:
		if err := ValidateMixedPayment(in.TotalAmount, in.CashPaid, in.CreditPlanned); err != nil {
			return 0, err
		}
		return in.CashPaid, nil
	default:
		return 0, &ledger.ValidationError{Field: "method", Reason: fmt.Sprintf("unknown payment method %q", in.Method)}
	}
}

// =============================================================================
// PAYMENT RECORDING
// =============================================================================

// PaymentInput describes a standalone customer payment.
type PaymentInput struct {
	CustomerID ledger.CustomerID
	Amount     int64
	Method     ledger.PaymentMethod

	// AppliedToDebt: true reduces outstanding debt, false makes the
	// whole payment a forward-deposit credit.
	AppliedToDebt bool
}

// RecordPayment creates the payment transaction and allocates it in
// one unit of work. Payments are always completed.
func (e *Engine) RecordPayment(ctx context.Context, in PaymentInput) (*ledger.Transaction, PaymentAllocation, error) {
	if in.Amount <= 0 {
		return nil, PaymentAllocation{}, &ledger.AmountError{Op: "record payment", Amount: in.Amount}
	}
	if err := e.requireCustomer(ctx, in.CustomerID); err != nil {
		return nil, PaymentAllocation{}, err
	}

	now := e.now()
	payment := &ledger.Transaction{
		ID:              ledger.TransactionID(uuid.NewString()),
		CustomerID:      in.CustomerID,
		Kind:            ledger.KindPayment,
		Method:          in.Method,
		TotalAmount:     in.Amount,
		PaidAmount:      in.Amount,
		RemainingAmount: 0,
		Status:          ledger.StatusCompleted,
		AppliedToDebt:   in.AppliedToDebt,
		CreatedAt:       now,
	}

	var result PaymentAllocation
	err := e.store.WithTx(ctx, func(st ledger.Store) error {
		if err := st.SaveTransaction(ctx, payment); err != nil {
			return fmt.Errorf("save payment: %w", err)
		}
		var err error
		result, err = e.allocate(ctx, st, in.CustomerID, in.Amount, in.AppliedToDebt, payment.ID)
		return err
	})
	if err != nil {
		return nil, PaymentAllocation{}, err
	}
	return payment, result, nil
}

// =============================================================================
// CREDIT ISSUANCE AND REFUNDS
// =============================================================================

// IssueCredit grants the customer credit outside any payment, e.g. a
// goodwill adjustment. The credit transaction and the balance
// increase commit together.
func (e *Engine) IssueCredit(ctx context.Context, customerID ledger.CustomerID, amount int64, reason string) (*ledger.Transaction, error) {
	return e.creditGrant(ctx, customerID, amount, ledger.KindCredit, "", reason)
}

// RecordRefund returns funds to the customer as credit, linked to the
// transaction being refunded.
func (e *Engine) RecordRefund(ctx context.Context, customerID ledger.CustomerID, amount int64, refunded ledger.TransactionID) (*ledger.Transaction, error) {
	return e.creditGrant(ctx, customerID, amount, ledger.KindRefund, refunded, "refund")
}

func (e *Engine) creditGrant(ctx context.Context, customerID ledger.CustomerID, amount int64, kind ledger.TransactionKind, linked ledger.TransactionID, reason string) (*ledger.Transaction, error) {
	if amount <= 0 {
		return nil, &ledger.AmountError{Op: string(kind), Amount: amount}
	}
	if err := e.requireCustomer(ctx, customerID); err != nil {
		return nil, err
	}

	now := e.now()
	grant := &ledger.Transaction{
		ID:                  ledger.TransactionID(uuid.NewString()),
		CustomerID:          customerID,
		Kind:                kind,
		Method:              ledger.MethodCredit,
		TotalAmount:         amount,
		PaidAmount:          amount,
		RemainingAmount:     0,
		Status:              ledger.StatusCompleted,
		LinkedTransactionID: linked,
		CreatedAt:           now,
	}

	err := e.store.WithTx(ctx, func(st ledger.Store) error {
		if err := st.SaveTransaction(ctx, grant); err != nil {
			return fmt.Errorf("save %s: %w", kind, err)
		}
		balances := ledger.NewCustomerLedger(st)
		if _, err := balances.IncreaseCredit(ctx, customerID, amount); err != nil {
			return err
		}
		_, err := audit.Record(ctx, st, now, audit.Event{
			CustomerID:          customerID,
			SourceTransactionID: grant.ID,
			Kind:                ledger.AuditOverPayment,
			Amount:              amount,
			Metadata:            map[string]string{"reason": reason},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return grant, nil
}

// =============================================================================
// VOIDING
// =============================================================================

// VoidTransaction soft-deletes a transaction. A voided sale releases
// its unpaid remainder from the customer's outstanding debt (floored
// at zero with a drift note, like every decrement). Rows stay in
// place: audit records reference them forever.
func (e *Engine) VoidTransaction(ctx context.Context, id ledger.TransactionID) error {
	return e.store.WithTx(ctx, func(st ledger.Store) error {
		tx, err := st.GetTransaction(ctx, id)
		if err != nil {
			return fmt.Errorf("load transaction %s: %w", id, err)
		}
		if tx == nil {
			return fmt.Errorf("transaction %s: %w", id, ledger.ErrTransactionNotFound)
		}
		if tx.Deleted {
			return nil
		}

		meta := map[string]string{
			"voided":     "true",
			"old_status": string(tx.Status),
		}
		if tx.Kind == ledger.KindSale && tx.RemainingAmount > 0 {
			balances := ledger.NewCustomerLedger(st)
			change, err := balances.DecreaseOutstanding(ctx, tx.CustomerID, tx.RemainingAmount)
			if err != nil {
				return err
			}
			meta["debt_released"] = strconv.FormatInt(change.Applied, 10)
			addClampNote(meta, change)
		}

		tx.Deleted = true
		if err := st.UpdateTransaction(ctx, tx); err != nil {
			return fmt.Errorf("persist voided transaction %s: %w", id, err)
		}
		_, err = audit.Record(ctx, st, e.now(), audit.Event{
			CustomerID:          tx.CustomerID,
			SourceTransactionID: tx.ID,
			Kind:                ledger.AuditStatusChange,
			Amount:              0,
			Metadata:            meta,
		})
		return err
	})
}
