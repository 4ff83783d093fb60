/*
Package ledger provides the core payment allocation engine.

PURPOSE:
  This package contains the types and algorithms for tracking how money
  received from a client is applied against invoices versus held on the
  client's account. Every unit of money lives in exactly one PaymentRecord;
  allocation never creates or destroys money, it only moves and splits it.

KEY CONCEPTS IN THIS FILE (types.go):
  - PaymentRecord: The atomic unit of money movement
  - Allocation: A tagged variant - unallocated or targeted at one invoice
  - InvoiceSummary: The engine's read-only view of an invoice
  - PaymentStatus: Derived invoice state (unpaid/partial/paid/overdue)

DESIGN PRINCIPLES:
  1. Conservation: splitting a record produces records that sum exactly
  2. Precision: decimal.Decimal everywhere, no floating-point money
  3. Derived state: settled-to-invoice and paid flags are computed, not stored
  4. Single variant: Allocation collapses documentId + settledToDocument
     into one value that cannot be inconsistent

USAGE:
  rec := ledger.PaymentRecord{
      ClientID:    "client-42",
      Allocation:  ledger.AllocatedTo("inv-7"),
      Amount:      decimal.NewFromInt(100),
      PaymentDate: time.Now(),
  }

SEE ALSO:
  - engine.go: Allocation engine (record, settle, cancel, delete)
  - projection.go: Balance projector (unallocated balance, outstanding)
  - store.go: Persistence and collaborator interfaces
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ClientID string
type InvoiceID string
type PaymentID string

// =============================================================================
// MONEY
// =============================================================================

// Epsilon is the tolerance used when comparing derived money totals against
// invoice totals. One minor currency unit.
var Epsilon = decimal.NewFromFloat(0.01)

// MustParseDecimal parses a decimal string, returning zero on failure.
// Used by stores when rehydrating amounts that were written by us.
func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// =============================================================================
// ALLOCATION - Single tagged variant, no inconsistent combinations
// =============================================================================

// Allocation says where a payment record's money is applied.
// The zero value is unallocated (money sits on the client account).
// There is deliberately no way to construct an allocation that is "settled"
// without an invoice, or targeted without being settled.
type Allocation struct {
	invoiceID InvoiceID
}

// Unallocated returns the client-account allocation.
func Unallocated() Allocation { return Allocation{} }

// AllocatedTo returns an allocation targeting the given invoice.
func AllocatedTo(id InvoiceID) Allocation { return Allocation{invoiceID: id} }

// Allocated reports whether the money is applied to an invoice.
func (a Allocation) Allocated() bool { return a.invoiceID != "" }

// InvoiceID returns the target invoice and whether one is set.
func (a Allocation) InvoiceID() (InvoiceID, bool) {
	return a.invoiceID, a.invoiceID != ""
}

// Targets reports whether the allocation points at the given invoice.
func (a Allocation) Targets(id InvoiceID) bool {
	return a.invoiceID != "" && a.invoiceID == id
}

// =============================================================================
// PAYMENT RECORD - Atomic unit of money movement
// =============================================================================

// PaymentRecord tracks one parcel of money received from a client.
//
// INVARIANTS:
//   - Amount > 0 for every record that exists; a zero-amount record is
//     deleted, never stored.
//   - For a fixed client, the sum of all record amounts equals total money
//     received minus explicit deletions. Allocation redistributes, it never
//     changes the sum.
type PaymentRecord struct {
	ID         PaymentID
	ClientID   ClientID
	Allocation Allocation
	Amount     decimal.Decimal

	// PaymentDate is when the money was received. It drives FIFO consumption
	// order and is distinct from CreatedAt (when the record was written).
	PaymentDate time.Time

	// Descriptive, non-authoritative fields.
	Method    string
	Reference string
	Notes     string

	// SettledAt is an advisory audit marker set when the record was last
	// targeted at an invoice. Never used for logic.
	SettledAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// SettledToInvoice reports whether the record is applied to an invoice.
// This is derived from Allocation; there is no independently stored flag.
func (r PaymentRecord) SettledToInvoice() bool { return r.Allocation.Allocated() }

// =============================================================================
// INVOICE SUMMARY - External entity, referenced not owned
// =============================================================================

// InvoiceSummary is the engine's read-only view of an invoice. The engine
// reads Total and ClientID and writes derived payment state back through the
// InvoiceDirectory collaborator; it never computes or edits Total.
type InvoiceSummary struct {
	ID        InvoiceID
	ClientID  ClientID
	Total     decimal.Decimal
	IssuedAt  time.Time
	Cancelled bool
}

// PaymentStatusUpdate is the derived payment state written back to an invoice
// after every allocation-affecting operation.
type PaymentStatusUpdate struct {
	TotalPaid       decimal.Decimal
	Paid            bool
	Status          PaymentStatus
	LastPaymentDate *time.Time
}

// =============================================================================
// PAYMENT STATUS - Derived state machine, never persisted as truth
// =============================================================================

type PaymentStatus string

const (
	StatusUnpaid  PaymentStatus = "unpaid"
	StatusPartial PaymentStatus = "partial"
	StatusPaid    PaymentStatus = "paid"
	StatusOverdue PaymentStatus = "overdue"
)

// DefaultOverdueAfter is how old an unpaid invoice must be before it is
// reported as overdue.
const DefaultOverdueAfter = 30 * 24 * time.Hour

// StatusFor derives the payment status of an invoice from its paid total.
// State is a pure function of (totalPaid, total, age); it is rederived after
// every allocation change instead of being stored and updated independently.
func StatusFor(totalPaid, total decimal.Decimal, issuedAt, asOf time.Time, overdueAfter time.Duration) PaymentStatus {
	if total.Sub(totalPaid).LessThanOrEqual(Epsilon) {
		return StatusPaid
	}
	if totalPaid.GreaterThan(decimal.Zero) {
		return StatusPartial
	}
	if overdueAfter > 0 && asOf.Sub(issuedAt) > overdueAfter {
		return StatusOverdue
	}
	return StatusUnpaid
}
