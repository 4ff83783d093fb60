/*
Package sqlite provides a SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements ledger.Store, ledger.TxStore, and ledger.InvoiceDirectory using
  SQLite, plus the client and invoice records the API layer manages. The same
  patterns apply to PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  payment_records:  The client money ledger. A NULL invoice_id means an
                    unallocated record (client account balance).
  invoices:         Invoice records. total is owned by the invoicing side;
                    total_paid/paid/status/last_payment_date are written ONLY
                    through SetPaymentStatus (the recompute path).
  clients:          Client records.
  client_versions:  Per-client version counter, bumped inside every
                    WithClientTx. Serializes the read-modify-write sequence
                    at the database level.

PER-CLIENT SERIALIZATION:
  WithClientTx opens a database transaction and bumps the client's version
  row first, taking a write lock on it. A second transaction for the same
  client blocks until the first commits, so two settlements can never consume
  the same unallocated pool. SQLITE_BUSY surfaces as ErrStoreUnavailable,
  which the engine retries.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/payments.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := ledger.NewEngine(store, store)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/payment-ledger/ledger"
)

// Store implements the ledger storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

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

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Clients
	CREATE TABLE IF NOT EXISTS clients (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		created_at TEXT NOT NULL
	);

	-- Invoices. total belongs to the invoicing subsystem; the derived
	-- payment columns are written only through SetPaymentStatus.
	CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL,
		number TEXT,
		total TEXT NOT NULL,
		issued_at TEXT NOT NULL,
		cancelled BOOLEAN DEFAULT FALSE,
		status TEXT NOT NULL DEFAULT 'unpaid',
		total_paid TEXT NOT NULL DEFAULT '0',
		paid BOOLEAN DEFAULT FALSE,
		last_payment_date TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_invoices_client
		ON invoices(client_id);
	CREATE INDEX IF NOT EXISTS idx_invoices_open
		ON invoices(paid) WHERE cancelled = FALSE;

	-- Payment records. NULL invoice_id = unallocated (client account).
	CREATE TABLE IF NOT EXISTS payment_records (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL,
		invoice_id TEXT,
		amount TEXT NOT NULL,
		payment_date TEXT NOT NULL,
		method TEXT,
		reference TEXT,
		notes TEXT,
		settled_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- FIFO hot path: a client's records in consumption order.
	CREATE INDEX IF NOT EXISTS idx_payments_client_fifo
		ON payment_records(client_id, payment_date, created_at);
	CREATE INDEX IF NOT EXISTS idx_payments_invoice
		ON payment_records(invoice_id) WHERE invoice_id IS NOT NULL;

	-- Per-client version counters for transaction serialization.
	CREATE TABLE IF NOT EXISTS client_versions (
		client_id TEXT PRIMARY KEY,
		version INTEGER NOT NULL DEFAULT 0
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// PAYMENT RECORD STORE (ledger.Store interface)
// =============================================================================

// execer is satisfied by both *sql.DB and *sql.Tx, so the record helpers
// serve the plain store and the transactional view alike.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const paymentColumns = `id, client_id, invoice_id, amount, payment_date, method, reference, notes, settled_at, created_at, updated_at`

// ListByClient returns a client's records in FIFO consumption order.
func (s *Store) ListByClient(ctx context.Context, clientID ledger.ClientID) ([]ledger.PaymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listByClient(ctx, s.db, clientID)
}

func listByClient(ctx context.Context, db execer, clientID ledger.ClientID) ([]ledger.PaymentRecord, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payment_records
		WHERE client_id = ?
		ORDER BY payment_date ASC, created_at ASC
	`
	return queryRecords(ctx, db, query, clientID)
}

// ListByInvoice returns all records allocated to an invoice.
func (s *Store) ListByInvoice(ctx context.Context, invoiceID ledger.InvoiceID) ([]ledger.PaymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listByInvoice(ctx, s.db, invoiceID)
}

func listByInvoice(ctx context.Context, db execer, invoiceID ledger.InvoiceID) ([]ledger.PaymentRecord, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payment_records
		WHERE invoice_id = ?
		ORDER BY payment_date ASC, created_at ASC
	`
	return queryRecords(ctx, db, query, invoiceID)
}

// Get returns a single payment record.
func (s *Store) Get(ctx context.Context, id ledger.PaymentID) (*ledger.PaymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getRecord(ctx, s.db, id)
}

func getRecord(ctx context.Context, db execer, id ledger.PaymentID) (*ledger.PaymentRecord, error) {
	query := `SELECT ` + paymentColumns + ` FROM payment_records WHERE id = ?`
	records, err := queryRecords(ctx, db, query, id)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ledger.ErrPaymentNotFound
	}
	return &records[0], nil
}

// Create persists a new payment record.
func (s *Store) Create(ctx context.Context, rec ledger.PaymentRecord) (ledger.PaymentID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createRecord(ctx, s.db, rec)
}

func createRecord(ctx context.Context, db execer, rec ledger.PaymentRecord) (ledger.PaymentID, error) {
	if rec.ID == "" {
		return "", fmt.Errorf("payment record requires an id")
	}

	var invoiceID sql.NullString
	if id, ok := rec.Allocation.InvoiceID(); ok {
		invoiceID = sql.NullString{String: string(id), Valid: true}
	}

	now := time.Now().UTC()
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}

	query := `
		INSERT INTO payment_records
		(id, client_id, invoice_id, amount, payment_date, method, reference, notes, settled_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.ExecContext(ctx, query,
		rec.ID,
		rec.ClientID,
		invoiceID,
		rec.Amount.String(),
		rec.PaymentDate.UTC().Format(time.RFC3339Nano),
		rec.Method,
		rec.Reference,
		rec.Notes,
		nullTime(rec.SettledAt),
		createdAt.Format(time.RFC3339Nano),
		updatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", wrapStoreErr("failed to create payment record", err)
	}
	return rec.ID, nil
}

// Update applies a partial update to a payment record.
func (s *Store) Update(ctx context.Context, id ledger.PaymentID, fields ledger.UpdateFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateRecord(ctx, s.db, id, fields)
}

func updateRecord(ctx context.Context, db execer, id ledger.PaymentID, fields ledger.UpdateFields) error {
	var sets []string
	var args []any

	if fields.Amount != nil {
		sets = append(sets, "amount = ?")
		args = append(args, fields.Amount.String())
	}
	if fields.Allocation != nil {
		var invoiceID sql.NullString
		if invID, ok := fields.Allocation.InvoiceID(); ok {
			invoiceID = sql.NullString{String: string(invID), Valid: true}
		}
		sets = append(sets, "invoice_id = ?")
		args = append(args, invoiceID)
	}
	if fields.Notes != nil {
		sets = append(sets, "notes = ?")
		args = append(args, *fields.Notes)
	}
	if fields.SettledAt != nil {
		sets = append(sets, "settled_at = ?")
		args = append(args, fields.SettledAt.UTC().Format(time.RFC3339Nano))
	}
	if len(sets) == 0 {
		return nil
	}

	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UTC().Format(time.RFC3339Nano))
	args = append(args, id)

	query := "UPDATE payment_records SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return wrapStoreErr("failed to update payment record", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrPaymentNotFound
	}
	return nil
}

// Delete removes a payment record.
func (s *Store) Delete(ctx context.Context, id ledger.PaymentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteRecord(ctx, s.db, id)
}

func deleteRecord(ctx context.Context, db execer, id ledger.PaymentID) error {
	res, err := db.ExecContext(ctx, "DELETE FROM payment_records WHERE id = ?", id)
	if err != nil {
		return wrapStoreErr("failed to delete payment record", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrPaymentNotFound
	}
	return nil
}

func queryRecords(ctx context.Context, db execer, query string, args ...any) ([]ledger.PaymentRecord, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapStoreErr("failed to query payment records", err)
	}
	defer rows.Close()

	var records []ledger.PaymentRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanRecord(rows *sql.Rows) (ledger.PaymentRecord, error) {
	var (
		rec         ledger.PaymentRecord
		invoiceID   sql.NullString
		amount      string
		paymentDate string
		method      sql.NullString
		reference   sql.NullString
		notes       sql.NullString
		settledAt   sql.NullString
		createdAt   string
		updatedAt   string
	)

	err := rows.Scan(
		&rec.ID, &rec.ClientID, &invoiceID, &amount, &paymentDate,
		&method, &reference, &notes, &settledAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return rec, fmt.Errorf("failed to scan payment record: %w", err)
	}

	if invoiceID.Valid {
		rec.Allocation = ledger.AllocatedTo(ledger.InvoiceID(invoiceID.String))
	} else {
		rec.Allocation = ledger.Unallocated()
	}
	rec.Amount = ledger.MustParseDecimal(amount)
	rec.PaymentDate, _ = time.Parse(time.RFC3339Nano, paymentDate)
	rec.Method = method.String
	rec.Reference = reference.String
	rec.Notes = notes.String
	if settledAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, settledAt.String)
		rec.SettledAt = &t
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)

	return rec, nil
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithClientTx executes fn within a database transaction, serialized per
// client via the client's version row.
func (s *Store) WithClientTx(ctx context.Context, clientID ledger.ClientID, fn func(ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapStoreErr("failed to begin transaction", err)
	}
	defer sqlTx.Rollback()

	// Bumping the version row first takes the client's write lock, so a
	// concurrent transaction for the same client waits here.
	_, err = sqlTx.ExecContext(ctx, `
		INSERT INTO client_versions (client_id, version) VALUES (?, 1)
		ON CONFLICT(client_id) DO UPDATE SET version = version + 1
	`, clientID)
	if err != nil {
		return wrapStoreErr("failed to lock client", err)
	}

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return wrapStoreErr("failed to commit", err)
	}
	return nil
}

// txStore is the view handed to WithClientTx callbacks. All record ops go
// through the shared transaction.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) ListByClient(ctx context.Context, clientID ledger.ClientID) ([]ledger.PaymentRecord, error) {
	return listByClient(ctx, ts.tx, clientID)
}

func (ts *txStore) ListByInvoice(ctx context.Context, invoiceID ledger.InvoiceID) ([]ledger.PaymentRecord, error) {
	return listByInvoice(ctx, ts.tx, invoiceID)
}

func (ts *txStore) Get(ctx context.Context, id ledger.PaymentID) (*ledger.PaymentRecord, error) {
	return getRecord(ctx, ts.tx, id)
}

func (ts *txStore) Create(ctx context.Context, rec ledger.PaymentRecord) (ledger.PaymentID, error) {
	return createRecord(ctx, ts.tx, rec)
}

func (ts *txStore) Update(ctx context.Context, id ledger.PaymentID, fields ledger.UpdateFields) error {
	return updateRecord(ctx, ts.tx, id, fields)
}

func (ts *txStore) Delete(ctx context.Context, id ledger.PaymentID) error {
	return deleteRecord(ctx, ts.tx, id)
}

// =============================================================================
// INVOICE DIRECTORY (ledger.InvoiceDirectory interface)
// =============================================================================

// GetInvoice returns the engine's view of an invoice.
func (s *Store) GetInvoice(ctx context.Context, id ledger.InvoiceID) (*ledger.InvoiceSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		inv      ledger.InvoiceSummary
		total    string
		issuedAt string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, client_id, total, issued_at, cancelled FROM invoices WHERE id = ?",
		id,
	).Scan(&inv.ID, &inv.ClientID, &total, &issuedAt, &inv.Cancelled)

	if err == sql.ErrNoRows {
		return nil, ledger.ErrInvoiceNotFound
	}
	if err != nil {
		return nil, wrapStoreErr("failed to get invoice", err)
	}

	inv.Total = ledger.MustParseDecimal(total)
	inv.IssuedAt, _ = time.Parse(time.RFC3339Nano, issuedAt)
	return &inv, nil
}

// SetPaymentStatus writes the derived payment state for an invoice. This is
// the only path that touches total_paid/paid/status/last_payment_date.
func (s *Store) SetPaymentStatus(ctx context.Context, id ledger.InvoiceID, update ledger.PaymentStatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE invoices
		SET total_paid = ?, paid = ?, status = ?, last_payment_date = ?, updated_at = ?
		WHERE id = ?
	`,
		update.TotalPaid.String(),
		update.Paid,
		string(update.Status),
		nullTime(update.LastPaymentDate),
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return wrapStoreErr("failed to set payment status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrInvoiceNotFound
	}
	return nil
}

// =============================================================================
// CLIENT STORE
// =============================================================================

// Client represents a client record.
type Client struct {
	ID        string
	Name      string
	Email     string
	CreatedAt time.Time
}

// SaveClient inserts or updates a client.
func (s *Store) SaveClient(ctx context.Context, c Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO clients (id, name, email, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email
	`

	_, err := s.db.ExecContext(ctx, query,
		c.ID, c.Name, c.Email,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

// GetClient retrieves a client by ID. Returns nil if not found.
func (s *Store) GetClient(ctx context.Context, id string) (*Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var c Client
	var email sql.NullString
	var createdAt string

	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, email, created_at FROM clients WHERE id = ?",
		id,
	).Scan(&c.ID, &c.Name, &email, &createdAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	c.Email = email.String
	c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &c, nil
}

// ListClients returns all clients.
func (s *Store) ListClients(ctx context.Context) ([]Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, email, created_at FROM clients ORDER BY name",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clients []Client
	for rows.Next() {
		var c Client
		var email sql.NullString
		var createdAt string
		if err := rows.Scan(&c.ID, &c.Name, &email, &createdAt); err != nil {
			return nil, err
		}
		c.Email = email.String
		c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

// =============================================================================
// INVOICE STORE (full records, for the API layer)
// =============================================================================

// Invoice is a stored invoice with its derived payment columns.
type Invoice struct {
	ID              string
	ClientID        string
	Number          string
	Total           decimal.Decimal
	IssuedAt        time.Time
	Cancelled       bool
	Status          string
	TotalPaid       decimal.Decimal
	Paid            bool
	LastPaymentDate *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

const invoiceColumns = `id, client_id, number, total, issued_at, cancelled, status, total_paid, paid, last_payment_date, created_at, updated_at`

// SaveInvoice inserts a new invoice. The derived payment columns start at
// their zero state; only SetPaymentStatus writes them afterwards.
func (s *Store) SaveInvoice(ctx context.Context, inv Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	issuedAt := inv.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO invoices (id, client_id, number, total, issued_at, cancelled, status, total_paid, paid, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 'unpaid', '0', FALSE, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		inv.ID, inv.ClientID, inv.Number, inv.Total.String(),
		issuedAt.Format(time.RFC3339Nano), inv.Cancelled, now, now,
	)
	return err
}

// GetInvoiceRecord returns the full invoice row. Returns nil if not found.
func (s *Store) GetInvoiceRecord(ctx context.Context, id string) (*Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	invoices, err := s.queryInvoices(ctx, "SELECT "+invoiceColumns+" FROM invoices WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(invoices) == 0 {
		return nil, nil
	}
	return &invoices[0], nil
}

// ListInvoicesByClient returns a client's invoices, newest first.
func (s *Store) ListInvoicesByClient(ctx context.Context, clientID string) ([]Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryInvoices(ctx,
		"SELECT "+invoiceColumns+" FROM invoices WHERE client_id = ? ORDER BY issued_at DESC",
		clientID)
}

// ListOpenInvoices returns invoices that are neither paid nor cancelled.
// Used by the overdue-status refresher.
func (s *Store) ListOpenInvoices(ctx context.Context) ([]Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryInvoices(ctx,
		"SELECT "+invoiceColumns+" FROM invoices WHERE cancelled = FALSE AND paid = FALSE ORDER BY issued_at ASC")
}

// AllInvoices returns every invoice as an engine summary. Used by the
// reconciliation scan.
func (s *Store) AllInvoices(ctx context.Context) ([]ledger.InvoiceSummary, error) {
	invoices, err := func() ([]Invoice, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return s.queryInvoices(ctx, "SELECT "+invoiceColumns+" FROM invoices")
	}()
	if err != nil {
		return nil, err
	}

	summaries := make([]ledger.InvoiceSummary, len(invoices))
	for i, inv := range invoices {
		summaries[i] = ledger.InvoiceSummary{
			ID:        ledger.InvoiceID(inv.ID),
			ClientID:  ledger.ClientID(inv.ClientID),
			Total:     inv.Total,
			IssuedAt:  inv.IssuedAt,
			Cancelled: inv.Cancelled,
		}
	}
	return summaries, nil
}

// AllRecords returns every payment record. Used by the reconciliation scan.
func (s *Store) AllRecords(ctx context.Context) ([]ledger.PaymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return queryRecords(ctx, s.db,
		"SELECT "+paymentColumns+" FROM payment_records ORDER BY payment_date ASC, created_at ASC")
}

// CancelInvoice marks an invoice cancelled. Callers must release its live
// allocations through the engine as well.
func (s *Store) CancelInvoice(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE invoices SET cancelled = TRUE, updated_at = ? WHERE id = ?",
		time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrInvoiceNotFound
	}
	return nil
}

// UpdateInvoiceTotal edits an invoice's total. The caller is obliged to
// recompute the invoice's payment status afterwards.
func (s *Store) UpdateInvoiceTotal(ctx context.Context, id string, total decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE invoices SET total = ?, updated_at = ? WHERE id = ?",
		total.String(), time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrInvoiceNotFound
	}
	return nil
}

func (s *Store) queryInvoices(ctx context.Context, query string, args ...any) ([]Invoice, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invoices []Invoice
	for rows.Next() {
		var (
			inv             Invoice
			number          sql.NullString
			total           string
			issuedAt        string
			totalPaid       string
			lastPaymentDate sql.NullString
			createdAt       string
			updatedAt       string
		)
		if err := rows.Scan(
			&inv.ID, &inv.ClientID, &number, &total, &issuedAt, &inv.Cancelled,
			&inv.Status, &totalPaid, &inv.Paid, &lastPaymentDate, &createdAt, &updatedAt,
		); err != nil {
			return nil, err
		}

		inv.Number = number.String
		inv.Total = ledger.MustParseDecimal(total)
		inv.IssuedAt, _ = time.Parse(time.RFC3339Nano, issuedAt)
		inv.TotalPaid = ledger.MustParseDecimal(totalPaid)
		if lastPaymentDate.Valid {
			t, _ := time.Parse(time.RFC3339Nano, lastPaymentDate.String)
			inv.LastPaymentDate = &t
		}
		inv.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		inv.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)

		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"payment_records", "invoices", "clients", "client_versions"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func wrapStoreErr(msg string, err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "database is locked") ||
		strings.Contains(err.Error(), "database table is locked") {
		return fmt.Errorf("%s: %v: %w", msg, err, ledger.ErrStoreUnavailable)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
