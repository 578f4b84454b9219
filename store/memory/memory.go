// Package memory provides an in-memory ledger.TxStore for tests and dev.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tally/debt-engine/ledger"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

// Store keeps everything in maps. WithTx simulates atomicity with a
// snapshot that is restored when the callback fails.
type Store struct {
	mu           sync.RWMutex
	customers    map[ledger.CustomerID]*ledger.Customer
	transactions map[ledger.TransactionID]*ledger.Transaction
	auditRecords []ledger.AuditRecord

	// failNextWrite, when set, makes the next mutating call fail.
	// Lets tests prove that a failed unit of work leaves no partial
	// effects.
	failNextWrite error
}

func New() *Store {
	return &Store{
		customers:    make(map[ledger.CustomerID]*ledger.Customer),
		transactions: make(map[ledger.TransactionID]*ledger.Transaction),
	}
}

// FailNextWrite arms a one-shot write failure. Tests only.
func (s *Store) FailNextWrite(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNextWrite = err
}

func (s *Store) takeFailure() error {
	if s.failNextWrite != nil {
		err := s.failNextWrite
		s.failNextWrite = nil
		return err
	}
	return nil
}

// =============================================================================
// CUSTOMERS
// =============================================================================

func (s *Store) GetCustomer(_ context.Context, id ledger.CustomerID) (*ledger.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.customers[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (s *Store) SaveCustomer(_ context.Context, c *ledger.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	cp := *c
	s.customers[c.ID] = &cp
	return nil
}

func (s *Store) UpdateCustomer(_ context.Context, c *ledger.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	if _, ok := s.customers[c.ID]; !ok {
		return ledger.ErrCustomerNotFound
	}
	cp := *c
	s.customers[c.ID] = &cp
	return nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func (s *Store) GetTransaction(_ context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.transactions[id]
	if !ok {
		return nil, nil
	}
	cp := *tx
	return &cp, nil
}

func (s *Store) SaveTransaction(_ context.Context, tx *ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	cp := *tx
	s.transactions[tx.ID] = &cp
	return nil
}

func (s *Store) UpdateTransaction(_ context.Context, tx *ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	if _, ok := s.transactions[tx.ID]; !ok {
		return ledger.ErrTransactionNotFound
	}
	cp := *tx
	s.transactions[tx.ID] = &cp
	return nil
}

func (s *Store) ListCustomerTransactions(_ context.Context, id ledger.CustomerID, includeDeleted bool) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ledger.Transaction
	for _, tx := range s.transactions {
		if tx.CustomerID != id {
			continue
		}
		if tx.Deleted && !includeDeleted {
			continue
		}
		out = append(out, *tx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// =============================================================================
// AUDIT RECORDS (append-only)
// =============================================================================

func (s *Store) AppendAudit(_ context.Context, rec ledger.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	s.auditRecords = append(s.auditRecords, rec)
	return nil
}

func (s *Store) AuditForTransaction(_ context.Context, id ledger.TransactionID) ([]ledger.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ledger.AuditRecord
	for _, rec := range s.auditRecords {
		if rec.SourceTransactionID == id {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *Store) AuditForCustomer(_ context.Context, id ledger.CustomerID) ([]ledger.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ledger.AuditRecord
	for _, rec := range s.auditRecords {
		if rec.CustomerID == id {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *Store) PurgeAuditBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.auditRecords[:0]
	var purged int64
	for _, rec := range s.auditRecords {
		if rec.CreatedAt.Before(cutoff) {
			purged++
			continue
		}
		kept = append(kept, rec)
	}
	s.auditRecords = kept
	return purged, nil
}

// =============================================================================
// UNITS OF WORK
// =============================================================================

// WithTx runs fn against the store directly, restoring a snapshot if
// fn fails. Single-process semantics match the engine's cooperative
// concurrency model.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	snap := s.snapshot()
	if err := fn(s); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func (s *Store) snapshot() storeSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := storeSnapshot{
		customers:    make(map[ledger.CustomerID]*ledger.Customer, len(s.customers)),
		transactions: make(map[ledger.TransactionID]*ledger.Transaction, len(s.transactions)),
		auditRecords: append([]ledger.AuditRecord(nil), s.auditRecords...),
	}
	for id, c := range s.customers {
		cp := *c
		snap.customers[id] = &cp
	}
	for id, tx := range s.transactions {
		cp := *tx
		snap.transactions[id] = &cp
	}
	return snap
}

func (s *Store) restore(snap storeSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers = snap.customers
	s.transactions = snap.transactions
	s.auditRecords = snap.auditRecords
}

type storeSnapshot struct {
	customers    map[ledger.CustomerID]*ledger.Customer
	transactions map[ledger.TransactionID]*ledger.Transaction
	auditRecords []ledger.AuditRecord
}
