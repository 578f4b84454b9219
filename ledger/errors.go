/*
errors.go - Centralized error types for the bookkeeping core

PURPOSE:
  All error types in one place for consistency and discoverability.
  The allocation engine and audit service wrap these with context.

ERROR CATEGORIES:
  1. Validation errors - bad input, rejected before any write
  2. Not-found errors  - unknown customer/transaction id, pre-write
  3. Persistence errors - the atomic write itself failed; surfaced
     verbatim, never retried (auto-retry risks double-applying money)

  Consistency drift is NOT an error category: it is expected data from
  legacy writes, reported by VerifyIntegrity and healed by Reconcile.

USAGE:
  if ledger.IsNotFound(err) { ... 404 ... }
  if ledger.IsValidation(err) { ... 400 ... }
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrCustomerNotFound is returned when a customer id cannot be resolved.
	ErrCustomerNotFound = errors.New("customer not found")

	// ErrTransactionNotFound is returned when a transaction id cannot be resolved.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrValidation is the root of all pre-write input rejections.
	ErrValidation = errors.New("validation failed")

	// ErrNonPositiveAmount is returned where an operation requires a
	// strictly positive amount.
	ErrNonPositiveAmount = errors.New("amount must be positive")

	// ErrInvalidMixedPayment is returned when a mixed cash/credit split
	// does not reconcile with the sale total.
	ErrInvalidMixedPayment = errors.New("invalid mixed payment split")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError carries field-level detail for a rejected input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// AmountError reports a non-positive amount where a positive one is
// required.
type AmountError struct {
	Op     string
	Amount int64
}

func (e *AmountError) Error() string {
	return fmt.Sprintf("%s: amount must be positive, got %d", e.Op, e.Amount)
}

func (e *AmountError) Unwrap() error { return ErrNonPositiveAmount }

// MixedPaymentError explains why a cash/credit split was rejected.
type MixedPaymentError struct {
	Total  int64
	Cash   int64
	Credit int64
	Reason string
}

func (e *MixedPaymentError) Error() string {
	return fmt.Sprintf("invalid mixed payment (total=%d cash=%d credit=%d): %s",
		e.Total, e.Cash, e.Credit, e.Reason)
}

func (e *MixedPaymentError) Unwrap() error { return ErrInvalidMixedPayment }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound reports whether err indicates a missing customer or
// transaction.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrCustomerNotFound) ||
		errors.Is(err, ErrTransactionNotFound)
}

// IsValidation reports whether err is a pre-write input rejection.
// These are fully caller-recoverable.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrNonPositiveAmount) ||
		errors.Is(err, ErrInvalidMixedPayment)
}
