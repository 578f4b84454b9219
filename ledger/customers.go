/*
customers.go - Guarded customer balance mutations

PURPOSE:
  The only code allowed to change OutstandingBalance, CreditBalance
  and TotalSpent. Four guarded read-modify-write primitives plus the
  monotonic total-spent update.

FLOOR-AT-ZERO POLICY:
  Decrements floor at zero instead of erroring on attempted overdraft:
  max(0, balance-amount). This trades strict bookkeeping for
  robustness against legacy drift; true accuracy is restored by
  reconciliation. The clamp is never silent: BalanceChange.Clamped
  reports it and the caller records a drift note.

GUARDS (all operations):
  - amount must be strictly positive -> AmountError otherwise
  - customer id must resolve         -> ErrCustomerNotFound otherwise

ATOMICITY:
  Each primitive is a single read-modify-write against the Store it
  was built over. Callers compose primitives with audit writes by
  constructing the CustomerLedger over the Store of an open WithTx.
*/
package ledger

import (
	"context"
	"fmt"
	"time"
)

// =============================================================================
// BALANCE CHANGE - observable outcome of one guarded mutation
// =============================================================================

// BalanceChange reports what a guarded mutation actually did.
type BalanceChange struct {
	CustomerID CustomerID

	// Requested is the amount the caller asked to apply.
	Requested int64

	// Applied is the amount actually applied; less than Requested only
	// when a decrement floored at zero.
	Applied int64

	// NewBalance is the balance after the mutation.
	NewBalance int64

	// Clamped is set when the floor-at-zero policy engaged. Callers
	// record this as a drift note; reconciliation restores accuracy.
	Clamped bool
}

// =============================================================================
// CUSTOMER LEDGER
// =============================================================================

// CustomerLedger performs the guarded balance mutations over a Store.
// Build it over the transaction-scoped Store inside WithTx so the
// mutation commits together with its audit records.
type CustomerLedger struct {
	store Store
}

func NewCustomerLedger(store Store) *CustomerLedger {
	return &CustomerLedger{store: store}
}

// IncreaseOutstanding raises the customer's unpaid debt.
func (l *CustomerLedger) IncreaseOutstanding(ctx context.Context, id CustomerID, amount int64) (BalanceChange, error) {
	return l.mutate(ctx, "increase outstanding", id, amount, func(c *Customer) BalanceChange {
		c.OutstandingBalance += amount
		return BalanceChange{CustomerID: id, Requested: amount, Applied: amount, NewBalance: c.OutstandingBalance}
	})
}

// DecreaseOutstanding lowers unpaid debt, flooring at zero.
func (l *CustomerLedger) DecreaseOutstanding(ctx context.Context, id CustomerID, amount int64) (BalanceChange, error) {
	return l.mutate(ctx, "decrease outstanding", id, amount, func(c *Customer) BalanceChange {
		ch := applyFloored(id, &c.OutstandingBalance, amount)
		return ch
	})
}

// IncreaseCredit raises the customer's usable prepaid funds.
func (l *CustomerLedger) IncreaseCredit(ctx context.Context, id CustomerID, amount int64) (BalanceChange, error) {
	return l.mutate(ctx, "increase credit", id, amount, func(c *Customer) BalanceChange {
		c.CreditBalance += amount
		return BalanceChange{CustomerID: id, Requested: amount, Applied: amount, NewBalance: c.CreditBalance}
	})
}

// DecreaseCredit lowers prepaid funds, flooring at zero.
func (l *CustomerLedger) DecreaseCredit(ctx context.Context, id CustomerID, amount int64) (BalanceChange, error) {
	return l.mutate(ctx, "decrease credit", id, amount, func(c *Customer) BalanceChange {
		ch := applyFloored(id, &c.CreditBalance, amount)
		return ch
	})
}

// AddToTotalSpent bumps the monotonic lifetime-spend figure and the
// last-purchase timestamp. Sales only.
func (l *CustomerLedger) AddToTotalSpent(ctx context.Context, id CustomerID, amount int64, at time.Time) error {
	_, err := l.mutate(ctx, "update total spent", id, amount, func(c *Customer) BalanceChange {
		c.TotalSpent += amount
		c.LastPurchase = &at
		return BalanceChange{CustomerID: id, Requested: amount, Applied: amount, NewBalance: c.TotalSpent}
	})
	return err
}

// mutate applies the shared guards, runs apply, and persists.
func (l *CustomerLedger) mutate(ctx context.Context, op string, id CustomerID, amount int64, apply func(*Customer) BalanceChange) (BalanceChange, error) {
	if amount <= 0 {
		return BalanceChange{}, &AmountError{Op: op, Amount: amount}
	}
	c, err := l.store.GetCustomer(ctx, id)
	if err != nil {
		return BalanceChange{}, fmt.Errorf("%s: load customer %s: %w", op, id, err)
	}
	if c == nil {
		return BalanceChange{}, fmt.Errorf("%s: customer %s: %w", op, id, ErrCustomerNotFound)
	}

	change := apply(c)

	if err := l.store.UpdateCustomer(ctx, c); err != nil {
		return BalanceChange{}, fmt.Errorf("%s: persist customer %s: %w", op, id, err)
	}
	return change, nil
}

func applyFloored(id CustomerID, balance *int64, amount int64) BalanceChange {
	applied := amount
	clamped := false
	if applied > *balance {
		applied = *balance
		clamped = true
	}
	*balance -= applied
	return BalanceChange{
		CustomerID: id,
		Requested:  amount,
		Applied:    applied,
		NewBalance: *balance,
		Clamped:    clamped,
	}
}
