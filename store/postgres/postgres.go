/*
Package postgres provides the PostgreSQL-backed implementation of the
storage interfaces, for server deployments of the bookkeeping engine.

PURPOSE:
  Same contract as store/sqlite, different engine: ledger.Store and
  ledger.TxStore over a pgx connection pool. Database-level
  concurrency control replaces the in-process mutex the SQLite store
  needs; concurrent units of work for the same customer serialize on
  the row locks the UPDATE statements take.

UNITS OF WORK:
  WithTx runs fn inside pgx.ReadCommitted transactions. The Store
  handed to fn routes everything through the open pgx.Tx.

SCHEMA:
  Migrate() creates the same three tables as the SQLite store with
  native PostgreSQL types (BIGINT amounts, TIMESTAMPTZ, JSONB).
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tally/debt-engine/ledger"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements ledger.TxStore over PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to the database and verifies the connection.
func New(ctx context.Context, connString string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// Migrate creates the schema.
func (s *Store) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		outstanding_balance BIGINT NOT NULL DEFAULT 0,
		credit_balance BIGINT NOT NULL DEFAULT 0,
		total_spent BIGINT NOT NULL DEFAULT 0,
		last_purchase TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL REFERENCES customers(id),
		kind TEXT NOT NULL,
		method TEXT NOT NULL,
		total_amount BIGINT NOT NULL,
		paid_amount BIGINT NOT NULL DEFAULT 0,
		remaining_amount BIGINT NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		applied_to_debt BOOLEAN NOT NULL DEFAULT FALSE,
		linked_transaction_id TEXT,
		due_date TIMESTAMPTZ,
		is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_customer
		ON transactions(customer_id, created_at);

	CREATE TABLE IF NOT EXISTS audit_records (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		source_transaction_id TEXT,
		kind TEXT NOT NULL,
		amount BIGINT NOT NULL,
		metadata JSONB,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_source_transaction
		ON audit_records(source_transaction_id)
		WHERE source_transaction_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_audit_customer
		ON audit_records(customer_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_audit_created_at
		ON audit_records(created_at);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// =============================================================================
// CUSTOMERS
// =============================================================================

func (s *Store) GetCustomer(ctx context.Context, id ledger.CustomerID) (*ledger.Customer, error) {
	return getCustomer(ctx, s.pool, id)
}

func getCustomer(ctx context.Context, q querier, id ledger.CustomerID) (*ledger.Customer, error) {
	var c ledger.Customer
	err := q.QueryRow(ctx, `
		SELECT id, name, outstanding_balance, credit_balance, total_spent, last_purchase, created_at
		FROM customers WHERE id = $1`, id,
	).Scan(&c.ID, &c.Name, &c.OutstandingBalance, &c.CreditBalance, &c.TotalSpent, &c.LastPurchase, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query customer: %w", err)
	}
	return &c, nil
}

func (s *Store) SaveCustomer(ctx context.Context, c *ledger.Customer) error {
	return saveCustomer(ctx, s.pool, c)
}

func saveCustomer(ctx context.Context, q querier, c *ledger.Customer) error {
	_, err := q.Exec(ctx, `
		INSERT INTO customers (id, name, outstanding_balance, credit_balance, total_spent, last_purchase, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.Name, c.OutstandingBalance, c.CreditBalance, c.TotalSpent, c.LastPurchase, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert customer: %w", err)
	}
	return nil
}

func (s *Store) UpdateCustomer(ctx context.Context, c *ledger.Customer) error {
	return updateCustomer(ctx, s.pool, c)
}

func updateCustomer(ctx context.Context, q querier, c *ledger.Customer) error {
	tag, err := q.Exec(ctx, `
		UPDATE customers
		SET name = $1, outstanding_balance = $2, credit_balance = $3, total_spent = $4, last_purchase = $5
		WHERE id = $6`,
		c.Name, c.OutstandingBalance, c.CreditBalance, c.TotalSpent, c.LastPurchase, c.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update customer: %w", err)
	}
	if tag.RowsAffected() == 0 {
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
	return getTransaction(ctx, s.pool, id)
}

func getTransaction(ctx context.Context, q querier, id ledger.TransactionID) (*ledger.Transaction, error) {
	row := q.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
	tx, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *Store) SaveTransaction(ctx context.Context, tx *ledger.Transaction) error {
	return saveTransaction(ctx, s.pool, tx)
}

func saveTransaction(ctx context.Context, q querier, tx *ledger.Transaction) error {
	_, err := q.Exec(ctx, `
		INSERT INTO transactions
		(id, customer_id, kind, method, total_amount, paid_amount, remaining_amount,
		 status, applied_to_debt, linked_transaction_id, due_date, is_deleted, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		tx.ID, tx.CustomerID, tx.Kind, tx.Method, tx.TotalAmount, tx.PaidAmount,
		tx.RemainingAmount, tx.Status, tx.AppliedToDebt,
		nullString(string(tx.LinkedTransactionID)), tx.DueDate, tx.Deleted, tx.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

func (s *Store) UpdateTransaction(ctx context.Context, tx *ledger.Transaction) error {
	return updateTransaction(ctx, s.pool, tx)
}

func updateTransaction(ctx context.Context, q querier, tx *ledger.Transaction) error {
	tag, err := q.Exec(ctx, `
		UPDATE transactions
		SET paid_amount = $1, remaining_amount = $2, status = $3, is_deleted = $4
		WHERE id = $5`,
		tx.PaidAmount, tx.RemainingAmount, tx.Status, tx.Deleted, tx.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrTransactionNotFound
	}
	return nil
}

func (s *Store) ListCustomerTransactions(ctx context.Context, id ledger.CustomerID, includeDeleted bool) ([]ledger.Transaction, error) {
	return listCustomerTransactions(ctx, s.pool, id, includeDeleted)
}

func listCustomerTransactions(ctx context.Context, q querier, id ledger.CustomerID, includeDeleted bool) ([]ledger.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE customer_id = $1`
	if !includeDeleted {
		query += ` AND is_deleted = FALSE`
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := q.Query(ctx, query, id)
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
		txs = append(txs, *tx)
	}
	return txs, rows.Err()
}

func scanTransaction(row pgx.Row) (*ledger.Transaction, error) {
	var (
		tx     ledger.Transaction
		linked *string
	)
	err := row.Scan(
		&tx.ID, &tx.CustomerID, &tx.Kind, &tx.Method, &tx.TotalAmount,
		&tx.PaidAmount, &tx.RemainingAmount, &tx.Status, &tx.AppliedToDebt,
		&linked, &tx.DueDate, &tx.Deleted, &tx.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if linked != nil {
		tx.LinkedTransactionID = ledger.TransactionID(*linked)
	}
	return &tx, nil
}

// =============================================================================
// AUDIT RECORDS (append-only)
// =============================================================================

const auditColumns = `id, customer_id, source_transaction_id, kind, amount, metadata, created_at`

func (s *Store) AppendAudit(ctx context.Context, rec ledger.AuditRecord) error {
	return appendAudit(ctx, s.pool, rec)
}

func appendAudit(ctx context.Context, q querier, rec ledger.AuditRecord) error {
	_, err := q.Exec(ctx, `
		INSERT INTO audit_records
		(id, customer_id, source_transaction_id, kind, amount, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.CustomerID, nullString(string(rec.SourceTransactionID)),
		rec.Kind, rec.Amount, rec.Metadata, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}
	return nil
}

func (s *Store) AuditForTransaction(ctx context.Context, id ledger.TransactionID) ([]ledger.AuditRecord, error) {
	return auditForTransaction(ctx, s.pool, id)
}

func auditForTransaction(ctx context.Context, q querier, id ledger.TransactionID) ([]ledger.AuditRecord, error) {
	return queryAudit(ctx, q,
		`SELECT `+auditColumns+` FROM audit_records
		 WHERE source_transaction_id = $1 ORDER BY created_at ASC, id ASC`, id)
}

func (s *Store) AuditForCustomer(ctx context.Context, id ledger.CustomerID) ([]ledger.AuditRecord, error) {
	return auditForCustomer(ctx, s.pool, id)
}

func auditForCustomer(ctx context.Context, q querier, id ledger.CustomerID) ([]ledger.AuditRecord, error) {
	return queryAudit(ctx, q,
		`SELECT `+auditColumns+` FROM audit_records
		 WHERE customer_id = $1 ORDER BY created_at ASC, id ASC`, id)
}

func queryAudit(ctx context.Context, q querier, query string, args ...any) ([]ledger.AuditRecord, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}
	defer rows.Close()

	var records []ledger.AuditRecord
	for rows.Next() {
		var (
			rec      ledger.AuditRecord
			sourceTx *string
		)
		if err := rows.Scan(&rec.ID, &rec.CustomerID, &sourceTx, &rec.Kind,
			&rec.Amount, &rec.Metadata, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		if sourceTx != nil {
			rec.SourceTransactionID = ledger.TransactionID(*sourceTx)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *Store) PurgeAuditBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return purgeAuditBefore(ctx, s.pool, cutoff)
}

// purgeAuditBefore is the single delete path on the audit trail.
func purgeAuditBefore(ctx context.Context, q querier, cutoff time.Time) (int64, error) {
	tag, err := q.Exec(ctx, `DELETE FROM audit_records WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge audit records: %w", err)
	}
	return tag.RowsAffected(), nil
}

// =============================================================================
// UNITS OF WORK (ledger.TxStore)
// =============================================================================

// WithTx executes fn within one database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&txStore{q: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// txStore routes every Store call through the open pgx.Tx.
type txStore struct {
	q pgx.Tx
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

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
