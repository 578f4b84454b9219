/*
Package sqlite provides the SQLite-backed implementation of the
storage interfaces.

PURPOSE:
  Implements ledger.Store and ledger.TxStore using SQLite. This is
  the on-device store of the bookkeeping application; store/postgres
  carries the same patterns for server deployments.

KEY TABLES:
  customers:     running balance totals per customer
  transactions:  sales, payments, credits, refunds
  audit_records: append-only trail of balance-affecting events

APPEND-ONLY ENFORCEMENT:
  audit_records has no UPDATE statement anywhere in this package and
  exactly one DELETE: PurgeAuditBefore, the age-based retention purge.

UNITS OF WORK:
  WithTx wraps fn in BEGIN/COMMIT. The Store handed to fn routes all
  reads and writes through the open *sql.Tx, so a balance read inside
  a unit of work observes that unit's own writes.

WAL MODE:
  The database is opened with WAL so readers don't block the single
  writer and crash recovery is cheap.

SEE ALSO:
  - ledger/store.go: interface definitions
  - store/postgres/postgres.go: pgx implementation
  - store/memory/memory.go: in-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tally/debt-engine/ledger"
)

// querier is satisfied by both *sql.DB and *sql.Tx, so the same query
// code serves plain calls and units of work.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements ledger.TxStore over SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens (or creates) the database at dbPath and migrates the
// schema. Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows one writer; a single pooled connection also keeps
	// ":memory:" databases from splitting per connection.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		outstanding_balance INTEGER NOT NULL DEFAULT 0,
		credit_balance INTEGER NOT NULL DEFAULT 0,
		total_spent INTEGER NOT NULL DEFAULT 0,
		last_purchase TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		method TEXT NOT NULL,
		total_amount INTEGER NOT NULL,
		paid_amount INTEGER NOT NULL DEFAULT 0,
		remaining_amount INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		applied_to_debt INTEGER NOT NULL DEFAULT 0,
		linked_transaction_id TEXT,
		due_date TEXT,
		is_deleted INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		FOREIGN KEY (customer_id) REFERENCES customers(id)
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_customer
		ON transactions(customer_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_transactions_status
		ON transactions(status);

	-- Append-only trail. No UPDATE path exists for this table.
	CREATE TABLE IF NOT EXISTS audit_records (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		source_transaction_id TEXT,
		kind TEXT NOT NULL,
		amount INTEGER NOT NULL,
		metadata_json TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_source_transaction
		ON audit_records(source_transaction_id)
		WHERE source_transaction_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_audit_customer
		ON audit_records(customer_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_audit_created_at
		ON audit_records(created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// CUSTOMERS
// =============================================================================

func (s *Store) GetCustomer(ctx context.Context, id ledger.CustomerID) (*ledger.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getCustomer(ctx, s.db, id)
}

func getCustomer(ctx context.Context, q querier, id ledger.CustomerID) (*ledger.Customer, error) {
	var (
		c            ledger.Customer
		lastPurchase sql.NullString
		createdAt    string
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, name, outstanding_balance, credit_balance, total_spent, last_purchase, created_at
		FROM customers WHERE id = ?`, id,
	).Scan(&c.ID, &c.Name, &c.OutstandingBalance, &c.CreditBalance, &c.TotalSpent, &lastPurchase, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query customer: %w", err)
	}
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if lastPurchase.Valid {
		if t, err := time.Parse(time.RFC3339, lastPurchase.String); err == nil {
			c.LastPurchase = &t
		}
	}
	return &c, nil
}

func (s *Store) SaveCustomer(ctx context.Context, c *ledger.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveCustomer(ctx, s.db, c)
}

func saveCustomer(ctx context.Context, q querier, c *ledger.Customer) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO customers (id, name, outstanding_balance, credit_balance, total_spent, last_purchase, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.OutstandingBalance, c.CreditBalance, c.TotalSpent,
		nullTime(c.LastPurchase), c.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert customer: %w", err)
	}
	return nil
}

func (s *Store) UpdateCustomer(ctx context.Context, c *ledger.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateCustomer(ctx, s.db, c)
}

func updateCustomer(ctx context.Context, q querier, c *ledger.Customer) error {
	res, err := q.ExecContext(ctx, `
		UPDATE customers
		SET name = ?, outstanding_balance = ?, credit_balance = ?, total_spent = ?, last_purchase = ?
		WHERE id = ?`,
		c.Name, c.OutstandingBalance, c.CreditBalance, c.TotalSpent,
		nullTime(c.LastPurchase), c.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update customer: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrCustomerNotFound
	}
	return nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

const transactionColumns = `id, customer_id, kind, method, total_amount, paid_amount,
	remaining_amount, status, applied_to_debt, linked_transaction_id, due_date, is_deleted, created_at`

func (s *Store) GetTransaction(ctx context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getTransaction(ctx, s.db, id)
}

func getTransaction(ctx context.Context, q querier, id ledger.TransactionID) (*ledger.Transaction, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query transaction: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rows.Err()
	}
	tx, err := scanTransaction(rows)
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (s *Store) SaveTransaction(ctx context.Context, tx *ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveTransaction(ctx, s.db, tx)
}

func saveTransaction(ctx context.Context, q querier, tx *ledger.Transaction) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO transactions
		(id, customer_id, kind, method, total_amount, paid_amount, remaining_amount,
		 status, applied_to_debt, linked_transaction_id, due_date, is_deleted, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.CustomerID, tx.Kind, tx.Method, tx.TotalAmount, tx.PaidAmount,
		tx.RemainingAmount, tx.Status, boolInt(tx.AppliedToDebt),
		nullString(string(tx.LinkedTransactionID)), nullTime(tx.DueDate),
		boolInt(tx.Deleted), tx.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

func (s *Store) UpdateTransaction(ctx context.Context, tx *ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateTransaction(ctx, s.db, tx)
}

func updateTransaction(ctx context.Context, q querier, tx *ledger.Transaction) error {
	res, err := q.ExecContext(ctx, `
		UPDATE transactions
		SET paid_amount = ?, remaining_amount = ?, status = ?, is_deleted = ?
		WHERE id = ?`,
		tx.PaidAmount, tx.RemainingAmount, tx.Status, boolInt(tx.Deleted), tx.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrTransactionNotFound
	}
	return nil
}

func (s *Store) ListCustomerTransactions(ctx context.Context, id ledger.CustomerID, includeDeleted bool) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listCustomerTransactions(ctx, s.db, id, includeDeleted)
}

func listCustomerTransactions(ctx context.Context, q querier, id ledger.CustomerID, includeDeleted bool) ([]ledger.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE customer_id = ?`
	if !includeDeleted {
		query += ` AND is_deleted = 0`
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := q.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txs []ledger.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

func scanTransaction(rows *sql.Rows) (ledger.Transaction, error) {
	var (
		tx            ledger.Transaction
		appliedToDebt int
		linked        sql.NullString
		dueDate       sql.NullString
		deleted       int
		createdAt     string
	)
	err := rows.Scan(
		&tx.ID, &tx.CustomerID, &tx.Kind, &tx.Method, &tx.TotalAmount,
		&tx.PaidAmount, &tx.RemainingAmount, &tx.Status, &appliedToDebt,
		&linked, &dueDate, &deleted, &createdAt,
	)
	if err != nil {
		return tx, fmt.Errorf("failed to scan transaction: %w", err)
	}
	tx.AppliedToDebt = appliedToDebt != 0
	tx.Deleted = deleted != 0
	tx.LinkedTransactionID = ledger.TransactionID(linked.String)
	tx.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if dueDate.Valid {
		if t, err := time.Parse(time.RFC3339, dueDate.String); err == nil {
			tx.DueDate = &t
		}
	}
	return tx, nil
}

// =============================================================================
// AUDIT RECORDS (append-only)
// =============================================================================

const auditColumns = `id, customer_id, source_transaction_id, kind, amount, metadata_json, created_at`

func (s *Store) AppendAudit(ctx context.Context, rec ledger.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendAudit(ctx, s.db, rec)
}

func appendAudit(ctx context.Context, q querier, rec ledger.AuditRecord) error {
	metadataJSON, _ := json.Marshal(rec.Metadata)
	_, err := q.ExecContext(ctx, `
		INSERT INTO audit_records
		(id, customer_id, source_transaction_id, kind, amount, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.CustomerID, nullString(string(rec.SourceTransactionID)),
		rec.Kind, rec.Amount, string(metadataJSON),
		rec.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}
	return nil
}

func (s *Store) AuditForTransaction(ctx context.Context, id ledger.TransactionID) ([]ledger.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return auditForTransaction(ctx, s.db, id)
}

func auditForTransaction(ctx context.Context, q querier, id ledger.TransactionID) ([]ledger.AuditRecord, error) {
	return queryAudit(ctx, q,
		`SELECT `+auditColumns+` FROM audit_records
		 WHERE source_transaction_id = ? ORDER BY created_at ASC, id ASC`, id)
}

func (s *Store) AuditForCustomer(ctx context.Context, id ledger.CustomerID) ([]ledger.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return auditForCustomer(ctx, s.db, id)
}

func auditForCustomer(ctx context.Context, q querier, id ledger.CustomerID) ([]ledger.AuditRecord, error) {
	return queryAudit(ctx, q,
		`SELECT `+auditColumns+` FROM audit_records
		 WHERE customer_id = ? ORDER BY created_at ASC, id ASC`, id)
}

func queryAudit(ctx context.Context, q querier, query string, args ...any) ([]ledger.AuditRecord, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}
	defer rows.Close()

	var records []ledger.AuditRecord
	for rows.Next() {
		var (
			rec          ledger.AuditRecord
			sourceTx     sql.NullString
			metadataJSON sql.NullString
			createdAt    string
		)
		if err := rows.Scan(&rec.ID, &rec.CustomerID, &sourceTx, &rec.Kind,
			&rec.Amount, &metadataJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		rec.SourceTransactionID = ledger.TransactionID(sourceTx.String)
		rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		if metadataJSON.Valid && metadataJSON.String != "" {
			json.Unmarshal([]byte(metadataJSON.String), &rec.Metadata)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *Store) PurgeAuditBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return purgeAuditBefore(ctx, s.db, cutoff)
}

// purgeAuditBefore is the single delete path on the audit trail.
func purgeAuditBefore(ctx context.Context, q querier, cutoff time.Time) (int64, error) {
	res, err := q.ExecContext(ctx,
		`DELETE FROM audit_records WHERE created_at < ?`,
		cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("failed to purge audit records: %w", err)
	}
	return res.RowsAffected()
}

// =============================================================================
// UNITS OF WORK (ledger.TxStore)
// =============================================================================

// WithTx executes fn within one database transaction. The Store
// handed to fn reads and writes through the open transaction, so a
// unit of work observes its own writes.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{q: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore routes every Store call through the open *sql.Tx. No
// mutex: the parent holds its lock for the whole unit of work.
type txStore struct {
	q *sql.Tx
}

func (ts *txStore) GetCustomer(ctx context.Context, id ledger.CustomerID) (*ledger.Customer, error) {
	return getCustomer(ctx, ts.q, id)
}
func (ts *txStore) SaveCustomer(ctx context.Context, c *ledger.Customer) error {
	return saveCustomer(ctx, ts.q, c)
}
func (ts *txStore) UpdateCustomer(ctx context.Context, c *ledger.Customer) error {
	return updateCustomer(ctx, ts.q, c)
}
func (ts *txStore) GetTransaction(ctx context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	return getTransaction(ctx, ts.q, id)
}
func (ts *txStore) SaveTransaction(ctx context.Context, tx *ledger.Transaction) error {
	return saveTransaction(ctx, ts.q, tx)
}
func (ts *txStore) UpdateTransaction(ctx context.Context, tx *ledger.Transaction) error {
	return updateTransaction(ctx, ts.q, tx)
}
func (ts *txStore) ListCustomerTransactions(ctx context.Context, id ledger.CustomerID, includeDeleted bool) ([]ledger.Transaction, error) {
	return listCustomerTransactions(ctx, ts.q, id, includeDeleted)
}
func (ts *txStore) AppendAudit(ctx context.Context, rec ledger.AuditRecord) error {
	return appendAudit(ctx, ts.q, rec)
}
func (ts *txStore) AuditForTransaction(ctx context.Context, id ledger.TransactionID) ([]ledger.AuditRecord, error) {
	return auditForTransaction(ctx, ts.q, id)
}
func (ts *txStore) AuditForCustomer(ctx context.Context, id ledger.CustomerID) ([]ledger.AuditRecord, error) {
	return auditForCustomer(ctx, ts.q, id)
}
func (ts *txStore) PurgeAuditBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return purgeAuditBefore(ctx, ts.q, cutoff)
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
