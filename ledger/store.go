/*
store.go - Persistence and collaborator interfaces

PURPOSE:
  Defines the narrow surface between the allocation engine and everything
  else. The Store persists payment records; the InvoiceDirectory is the
  external invoice subsystem the engine reads totals from and writes derived
  payment status to. Implementations can be SQLite, PostgreSQL, or in-memory.

KEY INTERFACES:
  Store:            Payment record persistence (list, get, create, update, delete)
  TxStore:          Store + per-client transaction scope
  InvoiceDirectory: External invoice lookup / status write-back

PER-CLIENT SERIALIZATION:
  Every mutating engine operation runs inside WithClientTx for the owning
  client. Implementations MUST guarantee that two WithClientTx calls for the
  same client never interleave their read-modify-write sequences - via a
  database transaction, a per-client lock, or an optimistic version check
  surfaced as ErrConcurrentModification. Without this, two concurrent
  settlements can consume the same unallocated record twice.

ATOMICITY:
  If the function passed to WithClientTx returns an error, none of its writes
  may remain visible. A settlement that fails halfway must not leave a
  partially allocated record set.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite
  - ledger/store/memory.go: In-memory for tests and dev mode

SEE ALSO:
  - engine.go: The only caller allowed to mutate records
*/
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STORE - Payment record persistence
// =============================================================================

// Store handles persistence of payment records.
//
// Only the allocation engine may call the mutating methods; every other
// layer reads balances through the Projector and commands through the Engine.
type Store interface {
	// ListByClient returns all payment records for a client, ordered by
	// PaymentDate ascending, ties broken by CreatedAt ascending. This is the
	// FIFO consumption order, so stores must get it right.
	ListByClient(ctx context.Context, clientID ClientID) ([]PaymentRecord, error)

	// ListByInvoice returns all records allocated to the given invoice.
	ListByInvoice(ctx context.Context, invoiceID InvoiceID) ([]PaymentRecord, error)

	// Get returns a single record, or ErrPaymentNotFound.
	Get(ctx context.Context, id PaymentID) (*PaymentRecord, error)

	// Create persists a new record and returns its ID. If the record carries
	// an ID it is kept; otherwise the store assigns one.
	Create(ctx context.Context, rec PaymentRecord) (PaymentID, error)

	// Update applies a partial update. Nil fields are left untouched.
	Update(ctx context.Context, id PaymentID, fields UpdateFields) error

	// Delete removes a record entirely. Only explicit user deletion and
	// engine-internal zero-and-remove paths call this.
	Delete(ctx context.Context, id PaymentID) error
}

// UpdateFields is a partial update for a payment record. Only non-nil
// fields are written. ClientID and PaymentDate are immutable and therefore
// absent here.
type UpdateFields struct {
	Amount     *decimal.Decimal
	Allocation *Allocation
	Notes      *string
	SettledAt  *time.Time
}

// =============================================================================
// TRANSACTIONAL STORE - Per-client mutual exclusion
// =============================================================================

// TxStore wraps Store with a per-client transaction scope.
type TxStore interface {
	Store

	// WithClientTx executes fn against a transactional view of the store.
	// Operations for the same client are serialized; if fn returns an error
	// every write made through the view is rolled back.
	WithClientTx(ctx context.Context, clientID ClientID, fn func(Store) error) error
}

// =============================================================================
// INVOICE DIRECTORY - External collaborator
// =============================================================================

// InvoiceDirectory is the invoice subsystem the engine collaborates with.
// The engine reads Total/ClientID and writes derived payment state; invoice
// CRUD and numbering live entirely on the other side of this interface.
//
// Obligation on implementations: an out-of-band edit to an invoice's total
// must be followed by a recompute of its payment status (the engine exposes
// RecomputeInvoiceTotals for exactly that).
type InvoiceDirectory interface {
	// GetInvoice returns the invoice summary, or ErrInvoiceNotFound.
	GetInvoice(ctx context.Context, id InvoiceID) (*InvoiceSummary, error)

	// SetPaymentStatus writes the derived payment state for an invoice.
	SetPaymentStatus(ctx context.Context, id InvoiceID, update PaymentStatusUpdate) error
}
