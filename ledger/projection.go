/*
projection.go - Balance projector

PURPOSE:
  Derives client balances and invoice outstanding amounts from the payment
  record set. These are read models: recomputed on demand, never stored as
  separate truth, so they cannot drift from the records.

KEY INSIGHT:
  The engine and the presentation layer MUST share this math. The original
  system duplicated balance calculations across UI components and they
  disagreed; here the pure snapshot helpers (UnallocatedOf, AllocatedSum,
  SortFIFO) are the single definition, used by the engine inside its
  transaction scope and by the Projector for display.

SEE ALSO:
  - engine.go: Uses the snapshot helpers to enforce preconditions
*/
package ledger

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SNAPSHOT HELPERS - Pure functions over a record slice
// =============================================================================

// UnallocatedOf sums the amounts of records sitting on the client account.
func UnallocatedOf(records []PaymentRecord) decimal.Decimal {
	total := decimal.Zero
	for _, r := range records {
		if !r.Allocation.Allocated() {
			total = total.Add(r.Amount)
		}
	}
	return total
}

// AllocatedSum sums the amounts of records applied to the given invoice.
func AllocatedSum(records []PaymentRecord, invoiceID InvoiceID) decimal.Decimal {
	total := decimal.Zero
	for _, r := range records {
		if r.Allocation.Targets(invoiceID) {
			total = total.Add(r.Amount)
		}
	}
	return total
}

// UnallocatedFIFO returns the unallocated records of a snapshot in
// consumption order: PaymentDate ascending, ties by CreatedAt ascending.
// Oldest money is consumed first.
func UnallocatedFIFO(records []PaymentRecord) []PaymentRecord {
	var pool []PaymentRecord
	for _, r := range records {
		if !r.Allocation.Allocated() {
			pool = append(pool, r)
		}
	}
	SortFIFO(pool)
	return pool
}

// SortFIFO sorts records in place by PaymentDate, then CreatedAt.
func SortFIFO(records []PaymentRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].PaymentDate.Equal(records[j].PaymentDate) {
			return records[i].PaymentDate.Before(records[j].PaymentDate)
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
}

// Outstanding returns max(0, total - paid).
func Outstanding(total, paid decimal.Decimal) decimal.Decimal {
	out := total.Sub(paid)
	if out.IsNegative() {
		return decimal.Zero
	}
	return out
}

// =============================================================================
// PROJECTOR - Read models over the store
// =============================================================================

// Projector derives balances from the store. Pure reads, no caching; an
// implementation wanting to memoize must invalidate on every mutation.
type Projector struct {
	Store Store
}

// NewProjector creates a projector over the given store.
func NewProjector(store Store) *Projector {
	return &Projector{Store: store}
}

// UnallocatedBalance returns the client's account balance: the sum of all
// record amounts not applied to any invoice.
func (p *Projector) UnallocatedBalance(ctx context.Context, clientID ClientID) (decimal.Decimal, error) {
	records, err := p.Store.ListByClient(ctx, clientID)
	if err != nil {
		return decimal.Zero, err
	}
	return UnallocatedOf(records), nil
}

// TotalPaidForInvoice returns the sum of amounts allocated to the invoice.
func (p *Projector) TotalPaidForInvoice(ctx context.Context, invoiceID InvoiceID) (decimal.Decimal, error) {
	records, err := p.Store.ListByInvoice(ctx, invoiceID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, r := range records {
		total = total.Add(r.Amount)
	}
	return total, nil
}

// OutstandingForInvoice returns max(0, invoice total - allocated amount).
func (p *Projector) OutstandingForInvoice(ctx context.Context, inv InvoiceSummary) (decimal.Decimal, error) {
	paid, err := p.TotalPaidForInvoice(ctx, inv.ID)
	if err != nil {
		return decimal.Zero, err
	}
	return Outstanding(inv.Total, paid), nil
}

// ClientOutstandingTotal sums the outstanding amounts of the given invoices,
// skipping cancelled ones. Callers pass the client's invoice list; the
// projector does not own invoice enumeration.
func (p *Projector) ClientOutstandingTotal(ctx context.Context, clientID ClientID, invoices []InvoiceSummary) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, inv := range invoices {
		if inv.Cancelled || inv.ClientID != clientID {
			continue
		}
		out, err := p.OutstandingForInvoice(ctx, inv)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(out)
	}
	return total, nil
}
