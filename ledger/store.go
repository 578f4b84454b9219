/*
store.go - Persistence interfaces for the bookkeeping core

PURPOSE:
  Defines the contract between the domain logic and the on-device
  relational store. Three implementations exist: SQLite (production),
  PostgreSQL, and in-memory (tests/dev).

KEY INTERFACES:
  Store:             read/write for customers, transactions, audit rows
  TxStore:           Store plus WithTx for atomic units of work
  CustomerDirectory: minimal customer lookup collaborator

ATOMIC UNITS OF WORK:
  Every multi-step balance mutation (customer balance update plus its
  audit writes) runs inside one WithTx call. The engine never splits a
  logically paired update across transaction boundaries; a crash mid
  operation must never leave partial effects. Inside WithTx the
  callback receives a Store whose reads observe the in-flight writes.

APPEND-ONLY AUDIT:
  The audit table has no update path and exactly one delete path:
  PurgeAuditBefore, the age-based maintenance purge.

CONCURRENCY:
  No in-process locking beyond the WithTx boundary. Concurrent calls
  for the same customer serialize through the store's own transaction
  isolation; cross-customer operations interleave freely.
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// STORE - read/write surface of the persistence collaborator
// =============================================================================

// Store is the persistence surface the domain logic runs against.
// Implementations: store/sqlite, store/postgres, store/memory.
type Store interface {
	// GetCustomer returns the customer, or (nil, nil) if absent.
	GetCustomer(ctx context.Context, id CustomerID) (*Customer, error)

	// SaveCustomer inserts a new customer.
	SaveCustomer(ctx context.Context, c *Customer) error

	// UpdateCustomer overwrites the customer's mutable fields
	// (balances, total spent, last purchase).
	UpdateCustomer(ctx context.Context, c *Customer) error

	// GetTransaction returns the transaction, or (nil, nil) if absent.
	GetTransaction(ctx context.Context, id TransactionID) (*Transaction, error)

	// SaveTransaction inserts a new transaction.
	SaveTransaction(ctx context.Context, tx *Transaction) error

	// UpdateTransaction overwrites paid/remaining/status/deleted.
	// Callers: allocation engine (credit offset on a fresh sale) and
	// reconciliation. Nothing else mutates a stored transaction.
	UpdateTransaction(ctx context.Context, tx *Transaction) error

	// ListCustomerTransactions returns the customer's transactions,
	// oldest first. Deleted transactions are excluded unless
	// includeDeleted is set.
	ListCustomerTransactions(ctx context.Context, id CustomerID, includeDeleted bool) ([]Transaction, error)

	// AppendAudit appends one audit record. There is no update.
	AppendAudit(ctx context.Context, rec AuditRecord) error

	// AuditForTransaction returns the records referencing the
	// transaction, oldest first.
	AuditForTransaction(ctx context.Context, id TransactionID) ([]AuditRecord, error)

	// AuditForCustomer returns the customer's records, oldest first.
	AuditForCustomer(ctx context.Context, id CustomerID) ([]AuditRecord, error)

	// PurgeAuditBefore deletes audit records older than cutoff and
	// returns how many were removed. The only delete path.
	PurgeAuditBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps Store with atomic units of work.
type TxStore interface {
	Store

	// WithTx executes fn within one transaction. If fn returns an
	// error the transaction rolls back; otherwise it commits. The
	// Store passed to fn reads and writes through the transaction.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// CUSTOMER DIRECTORY - lookup collaborator
// =============================================================================

// CustomerDirectory is the minimal customer lookup the allocation
// engine needs outside a unit of work. A Store satisfies it via
// DirectoryFromStore; the surrounding app may inject its own.
type CustomerDirectory interface {
	// FindByID returns the customer, or (nil, nil) if absent.
	FindByID(ctx context.Context, id CustomerID) (*Customer, error)
}

// DirectoryFromStore adapts a Store to CustomerDirectory.
func DirectoryFromStore(s Store) CustomerDirectory {
	return storeDirectory{s}
}

type storeDirectory struct{ s Store }

func (d storeDirectory) FindByID(ctx context.Context, id CustomerID) (*Customer, error) {
	return d.s.GetCustomer(ctx, id)
}
