/*
Package recon implements the forensic reconciliation scan.

PURPOSE:
  Walks the entire payment record set and invoice directory looking for
  inconsistencies that per-client serialization should make impossible but
  that imports, manual database edits, or historical bugs can introduce:

  1. MISATTRIBUTED ALLOCATION: a record allocated to an invoice that belongs
     to a different client. Money from client A is paying client B's invoice.
  2. ORPHANED ALLOCATION: a record allocated to an invoice that no longer
     exists in the directory.
  3. OVER-ALLOCATED INVOICE: an invoice whose allocated sum exceeds its
     total beyond the money epsilon.
  4. CANCELLED INVOICE WITH LIVE MONEY: allocations still targeting a
     cancelled invoice. Cancellation should have released them.
  5. NON-POSITIVE RECORD: a stored record with amount <= 0. The engine
     deletes zero records instead of storing them.

  The scan only reports; it never mutates. Repairs go through the engine so
  they get the same transactional guarantees as everything else.

SEE ALSO:
  - ledger/engine.go: The repair path (CancelAllocation, ReleaseInvoice)
*/
package recon

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/payment-ledger/ledger"
)

// =============================================================================
// SCAN SOURCE
// =============================================================================

// ScanStore is the relaxed, cross-client read surface the scan needs. The
// SQLite store and the memory store both provide it.
type ScanStore interface {
	AllRecords(ctx context.Context) ([]ledger.PaymentRecord, error)
	AllInvoices(ctx context.Context) ([]ledger.InvoiceSummary, error)
}

// =============================================================================
// FINDINGS
// =============================================================================

// FindingKind classifies a reconciliation finding.
type FindingKind string

const (
	KindMisattributed     FindingKind = "misattributed_allocation"
	KindOrphaned          FindingKind = "orphaned_allocation"
	KindOverAllocated     FindingKind = "over_allocated_invoice"
	KindCancelledWithLive FindingKind = "cancelled_invoice_live_allocation"
	KindNonPositiveAmount FindingKind = "non_positive_amount"
)

// Finding is one detected inconsistency.
type Finding struct {
	Kind      FindingKind      `json:"kind"`
	PaymentID ledger.PaymentID `json:"payment_id,omitempty"`
	InvoiceID ledger.InvoiceID `json:"invoice_id,omitempty"`
	ClientID  ledger.ClientID  `json:"client_id,omitempty"`
	Detail    string           `json:"detail"`
}

// Report is the result of one full scan.
type Report struct {
	ScannedAt      time.Time `json:"scanned_at"`
	RecordCount    int       `json:"record_count"`
	InvoiceCount   int       `json:"invoice_count"`
	Findings       []Finding `json:"findings"`
	Clean          bool      `json:"clean"`
	DurationMillis int64     `json:"duration_ms"`
}

// =============================================================================
// SCANNER
// =============================================================================

// Scanner runs reconciliation scans over a store.
type Scanner struct {
	Store ScanStore

	// Epsilon is the over-allocation tolerance. Zero means ledger.Epsilon.
	Epsilon decimal.Decimal

	// Clock is overridable for deterministic tests.
	Clock func() time.Time
}

// NewScanner creates a scanner with production defaults.
func NewScanner(store ScanStore) *Scanner {
	return &Scanner{
		Store:   store,
		Epsilon: ledger.Epsilon,
		Clock:   time.Now,
	}
}

// Scan walks every record and invoice and returns a report. Read-only.
func (sc *Scanner) Scan(ctx context.Context) (*Report, error) {
	start := sc.now()

	records, err := sc.Store.AllRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconciliation: load records: %w", err)
	}
	invoices, err := sc.Store.AllInvoices(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconciliation: load invoices: %w", err)
	}

	invoiceByID := make(map[ledger.InvoiceID]ledger.InvoiceSummary, len(invoices))
	for _, inv := range invoices {
		invoiceByID[inv.ID] = inv
	}

	report := &Report{
		ScannedAt:    start,
		RecordCount:  len(records),
		InvoiceCount: len(invoices),
	}

	allocatedSums := make(map[ledger.InvoiceID]decimal.Decimal)

	for _, rec := range records {
		if !rec.Amount.GreaterThan(decimal.Zero) {
			report.add(Finding{
				Kind:      KindNonPositiveAmount,
				PaymentID: rec.ID,
				ClientID:  rec.ClientID,
				Detail:    fmt.Sprintf("record %s has amount %s", rec.ID, rec.Amount),
			})
		}

		invoiceID, allocated := rec.Allocation.InvoiceID()
		if !allocated {
			continue
		}
		allocatedSums[invoiceID] = allocatedSums[invoiceID].Add(rec.Amount)

		inv, ok := invoiceByID[invoiceID]
		if !ok {
			report.add(Finding{
				Kind:      KindOrphaned,
				PaymentID: rec.ID,
				InvoiceID: invoiceID,
				ClientID:  rec.ClientID,
				Detail:    fmt.Sprintf("record %s targets invoice %s which does not exist", rec.ID, invoiceID),
			})
			continue
		}

		if inv.ClientID != rec.ClientID {
			report.add(Finding{
				Kind:      KindMisattributed,
				PaymentID: rec.ID,
				InvoiceID: invoiceID,
				ClientID:  rec.ClientID,
				Detail: fmt.Sprintf("record %s (client %s) pays invoice %s owned by client %s",
					rec.ID, rec.ClientID, invoiceID, inv.ClientID),
			})
		}

		if inv.Cancelled {
			report.add(Finding{
				Kind:      KindCancelledWithLive,
				PaymentID: rec.ID,
				InvoiceID: invoiceID,
				ClientID:  rec.ClientID,
				Detail:    fmt.Sprintf("record %s still allocated to cancelled invoice %s", rec.ID, invoiceID),
			})
		}
	}

	epsilon := sc.Epsilon
	if epsilon.IsZero() {
		epsilon = ledger.Epsilon
	}
	for invoiceID, sum := range allocatedSums {
		inv, ok := invoiceByID[invoiceID]
		if !ok {
			continue // already reported as orphaned per record
		}
		if sum.Sub(inv.Total).GreaterThan(epsilon) {
			report.add(Finding{
				Kind:      KindOverAllocated,
				InvoiceID: invoiceID,
				ClientID:  inv.ClientID,
				Detail: fmt.Sprintf("invoice %s total %s has %s allocated",
					invoiceID, inv.Total, sum),
			})
		}
	}

	report.Clean = len(report.Findings) == 0
	report.DurationMillis = sc.now().Sub(start).Milliseconds()
	return report, nil
}

func (r *Report) add(f Finding) {
	r.Findings = append(r.Findings, f)
}

func (sc *Scanner) now() time.Time {
	if sc.Clock != nil {
		return sc.Clock()
	}
	return time.Now()
}
