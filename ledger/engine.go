/*
engine.go - Allocation engine

PURPOSE:
  The only component allowed to mutate payment records. Each command reads a
  consistent snapshot of the client's records inside a per-client transaction
  scope, computes the new record set, writes it back, and triggers a payment
  status recompute on the affected invoice.

CRITICAL INVARIANTS:
  1. CONSERVATION: allocation moves and splits money, it never changes the
     client's record sum. A split produces records that sum exactly.
  2. NO OVER-ALLOCATION: an allocated record's amount never exceeds the
     target invoice's outstanding amount at creation time. An overpayment is
     split; the excess lands on the client account.
  3. FIFO: settlement consumes unallocated records oldest-first, computed
     from a snapshot taken at the start of the operation.
  4. SERIALIZATION: all mutations for a client run through WithClientTx, so
     two concurrent settlements cannot double-spend the same record.

RETRY POLICY:
  Transient failures (ErrConcurrentModification, ErrStoreUnavailable) retry
  the whole operation up to MaxAttempts. Validation errors are terminal.

EXAMPLE FLOW:
  1. Client pays 150 against an invoice with 100 outstanding:
     records: [allocated 100, unallocated 50]
  2. Client settles another invoice for 30:
     the 50 record is split -> [allocated 30, unallocated 20]
  3. The first invoice is cancelled:
     its records are un-targeted; money returns to the client account.

SEE ALSO:
  - projection.go: Snapshot math shared with the read side
  - store.go: WithClientTx contract
*/
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// ENGINE
// =============================================================================

// Engine executes allocation commands against a transactional store and an
// invoice collaborator.
type Engine struct {
	Store    TxStore
	Invoices InvoiceDirectory

	// Clock and NewID are overridable for deterministic tests.
	Clock func() time.Time
	NewID func() PaymentID

	// MaxAttempts bounds retries of retryable failures. Minimum 1.
	MaxAttempts int

	// OverdueAfter is the unpaid-invoice age threshold for StatusOverdue.
	OverdueAfter time.Duration
}

// NewEngine creates an engine with production defaults.
func NewEngine(store TxStore, invoices InvoiceDirectory) *Engine {
	return &Engine{
		Store:        store,
		Invoices:     invoices,
		Clock:        time.Now,
		NewID:        func() PaymentID { return PaymentID(uuid.NewString()) },
		MaxAttempts:  3,
		OverdueAfter: DefaultOverdueAfter,
	}
}

func (e *Engine) now() time.Time {
	if e.Clock != nil {
		return e.Clock()
	}
	return time.Now()
}

func (e *Engine) newID() PaymentID {
	if e.NewID != nil {
		return e.NewID()
	}
	return PaymentID(uuid.NewString())
}

// mutate runs fn in the client's transaction scope, retrying transient
// failures. fn must be safe to re-run from scratch: it re-reads state on
// every attempt.
func (e *Engine) mutate(ctx context.Context, clientID ClientID, fn func(Store) error) error {
	attempts := e.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		err = e.Store.WithClientTx(ctx, clientID, fn)
		if err == nil || !IsRetryable(err) {
			return err
		}
	}
	return err
}

// =============================================================================
// RECORD PAYMENT
// =============================================================================

// RecordPaymentInput describes an incoming payment.
type RecordPaymentInput struct {
	ClientID ClientID
	Amount   decimal.Decimal

	// InvoiceID targets an invoice; empty means the whole amount goes to the
	// client account.
	InvoiceID InvoiceID

	// PaymentDate is when the money was received. Zero means now.
	PaymentDate time.Time

	Method    string
	Reference string
	Notes     string
}

// RecordPayment registers money received from a client.
//
// Untargeted payments become one unallocated record. Targeted payments become
// one allocated record capped at the invoice's outstanding amount; any excess
// becomes a second, unallocated record (the overpayment rule).
func (e *Engine) RecordPayment(ctx context.Context, in RecordPaymentInput) ([]PaymentRecord, error) {
	if !in.Amount.GreaterThan(decimal.Zero) {
		return nil, fmt.Errorf("record payment: %w", ErrInvalidAmount)
	}

	var inv *InvoiceSummary
	if in.InvoiceID != "" {
		var err error
		inv, err = e.lookupInvoice(ctx, in.InvoiceID, in.ClientID)
		if err != nil {
			return nil, err
		}
	}

	paymentDate := in.PaymentDate
	if paymentDate.IsZero() {
		paymentDate = e.now()
	}

	var created []PaymentRecord
	err := e.mutate(ctx, in.ClientID, func(s Store) error {
		created = created[:0]
		now := e.now()

		base := PaymentRecord{
			ClientID:    in.ClientID,
			PaymentDate: paymentDate,
			Method:      in.Method,
			Reference:   in.Reference,
			Notes:       in.Notes,
			CreatedAt:   now,
			UpdatedAt:   now,
		}

		if inv == nil {
			rec := base
			rec.ID = e.newID()
			rec.Amount = in.Amount
			rec.Allocation = Unallocated()
			if _, err := s.Create(ctx, rec); err != nil {
				return err
			}
			created = append(created, rec)
			return nil
		}

		// Outstanding is computed inside the transaction scope so a
		// concurrent allocation cannot make us exceed it.
		records, err := s.ListByInvoice(ctx, inv.ID)
		if err != nil {
			return err
		}
		paid := decimal.Zero
		for _, r := range records {
			paid = paid.Add(r.Amount)
		}
		outstanding := Outstanding(inv.Total, paid)

		allocated := decimal.Min(in.Amount, outstanding)
		excess := in.Amount.Sub(allocated)

		if allocated.GreaterThan(decimal.Zero) {
			rec := base
			rec.ID = e.newID()
			rec.Amount = allocated
			rec.Allocation = AllocatedTo(inv.ID)
			rec.SettledAt = &now
			if _, err := s.Create(ctx, rec); err != nil {
				return err
			}
			created = append(created, rec)
		}

		if excess.GreaterThan(decimal.Zero) {
			rec := base
			rec.ID = e.newID()
			rec.Amount = excess
			rec.Allocation = Unallocated()
			rec.Notes = appendNote(in.Notes, fmt.Sprintf("excess over invoice %s outstanding", inv.ID))
			if _, err := s.Create(ctx, rec); err != nil {
				return err
			}
			created = append(created, rec)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	if inv != nil {
		if err := e.RecomputeInvoiceTotals(ctx, inv.ID); err != nil {
			return created, err
		}
	}
	return created, nil
}

// =============================================================================
// SETTLE INVOICE
// =============================================================================

// SettleInvoice applies unallocated client balance to an invoice, consuming
// the oldest money first.
//
// Whole records are retargeted; a partially consumed record is shrunk and
// retargeted, and the remainder becomes a new unallocated record with the
// same payment date and a fresh creation time, so the two always sum to the
// original. Fails with InsufficientBalanceError (no records touched) when
// the request exceeds the unallocated pool.
func (e *Engine) SettleInvoice(ctx context.Context, clientID ClientID, invoiceID InvoiceID, amount decimal.Decimal) ([]PaymentRecord, error) {
	if !amount.GreaterThan(decimal.Zero) {
		return nil, fmt.Errorf("settle invoice: %w", ErrInvalidAmount)
	}

	inv, err := e.lookupInvoice(ctx, invoiceID, clientID)
	if err != nil {
		return nil, err
	}

	var touched []PaymentRecord
	err = e.mutate(ctx, clientID, func(s Store) error {
		touched = touched[:0]
		now := e.now()

		// One snapshot drives both the precondition and the FIFO order.
		snapshot, err := s.ListByClient(ctx, clientID)
		if err != nil {
			return err
		}
		pool := UnallocatedFIFO(snapshot)

		available := decimal.Zero
		for _, r := range pool {
			available = available.Add(r.Amount)
		}
		if available.LessThan(amount) {
			return &InsufficientBalanceError{
				ClientID:  clientID,
				Available: available,
				Requested: amount,
				Shortfall: amount.Sub(available),
			}
		}

		remaining := amount
		alloc := AllocatedTo(inv.ID)

		for _, rec := range pool {
			if !remaining.GreaterThan(decimal.Zero) {
				break
			}
			take := decimal.Min(rec.Amount, remaining)

			if take.Equal(rec.Amount) {
				// Whole record moves to the invoice; amount untouched.
				if err := s.Update(ctx, rec.ID, UpdateFields{
					Allocation: &alloc,
					SettledAt:  &now,
				}); err != nil {
					return err
				}
				rec.Allocation = alloc
				rec.SettledAt = &now
				rec.UpdatedAt = now
				touched = append(touched, rec)
			} else {
				// Split: shrink + retarget the original, remainder stays on
				// the client account. take + remainder == original amount.
				remainder := rec.Amount.Sub(take)
				if err := s.Update(ctx, rec.ID, UpdateFields{
					Amount:     &take,
					Allocation: &alloc,
					SettledAt:  &now,
				}); err != nil {
					return err
				}

				rest := PaymentRecord{
					ID:          e.newID(),
					ClientID:    clientID,
					Allocation:  Unallocated(),
					Amount:      remainder,
					PaymentDate: rec.PaymentDate,
					Method:      rec.Method,
					Reference:   rec.Reference,
					Notes:       appendNote(rec.Notes, fmt.Sprintf("split from payment %s", rec.ID)),
					CreatedAt:   now,
					UpdatedAt:   now,
				}
				if _, err := s.Create(ctx, rest); err != nil {
					return err
				}

				rec.Amount = take
				rec.Allocation = alloc
				rec.SettledAt = &now
				rec.UpdatedAt = now
				touched = append(touched, rec, rest)
			}

			remaining = remaining.Sub(take)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := e.RecomputeInvoiceTotals(ctx, inv.ID); err != nil {
		return touched, err
	}
	return touched, nil
}

// =============================================================================
// CANCEL ALLOCATION
// =============================================================================

// CancelAllocation un-targets a record, returning its money to the client
// account. The amount is untouched; unallocated records are never merged.
// Calling it on an already-unallocated record is a no-op, so the operation
// is safe to retry after a crash.
func (e *Engine) CancelAllocation(ctx context.Context, paymentID PaymentID) error {
	rec, err := e.Store.Get(ctx, paymentID)
	if err != nil {
		return err
	}
	invoiceID, allocated := rec.Allocation.InvoiceID()
	if !allocated {
		return nil
	}

	err = e.mutate(ctx, rec.ClientID, func(s Store) error {
		current, err := s.Get(ctx, paymentID)
		if err != nil {
			return err
		}
		if !current.Allocation.Allocated() {
			return nil
		}
		unalloc := Unallocated()
		notes := appendNote(current.Notes, fmt.Sprintf("released from invoice %s", invoiceID))
		return s.Update(ctx, paymentID, UpdateFields{
			Allocation: &unalloc,
			Notes:      &notes,
		})
	})
	if err != nil {
		return err
	}

	return e.RecomputeInvoiceTotals(ctx, invoiceID)
}

// ReleaseInvoice cancels every allocation targeting the invoice in one
// client transaction. Used when an invoice is cancelled: all its money goes
// back to the client's account.
func (e *Engine) ReleaseInvoice(ctx context.Context, invoiceID InvoiceID) error {
	inv, err := e.Invoices.GetInvoice(ctx, invoiceID)
	if err != nil {
		return err
	}

	err = e.mutate(ctx, inv.ClientID, func(s Store) error {
		records, err := s.ListByInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		unalloc := Unallocated()
		for _, rec := range records {
			notes := appendNote(rec.Notes, fmt.Sprintf("released from invoice %s", invoiceID))
			if err := s.Update(ctx, rec.ID, UpdateFields{
				Allocation: &unalloc,
				Notes:      &notes,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	return e.RecomputeInvoiceTotals(ctx, invoiceID)
}

// =============================================================================
// DELETE PAYMENT
// =============================================================================

// DeletePayment removes a record entirely. This is the one operation the
// conservation invariant does not cover: it is an acknowledged destructive
// user action, not a rebalancing.
func (e *Engine) DeletePayment(ctx context.Context, paymentID PaymentID) error {
	rec, err := e.Store.Get(ctx, paymentID)
	if err != nil {
		return err
	}

	err = e.mutate(ctx, rec.ClientID, func(s Store) error {
		return s.Delete(ctx, paymentID)
	})
	if err != nil {
		return err
	}

	if invoiceID, allocated := rec.Allocation.InvoiceID(); allocated {
		return e.RecomputeInvoiceTotals(ctx, invoiceID)
	}
	return nil
}

// =============================================================================
// RECOMPUTE INVOICE TOTALS
// =============================================================================

// RecomputeInvoiceTotals rederives an invoice's paid total and payment
// status from the record set and writes it through the invoice collaborator.
// Idempotent: with no intervening allocation change, a second call produces
// the identical result.
func (e *Engine) RecomputeInvoiceTotals(ctx context.Context, invoiceID InvoiceID) error {
	inv, err := e.Invoices.GetInvoice(ctx, invoiceID)
	if err != nil {
		return err
	}

	records, err := e.Store.ListByInvoice(ctx, invoiceID)
	if err != nil {
		return err
	}

	totalPaid := decimal.Zero
	var lastPayment *time.Time
	for _, r := range records {
		totalPaid = totalPaid.Add(r.Amount)
		if lastPayment == nil || r.PaymentDate.After(*lastPayment) {
			d := r.PaymentDate
			lastPayment = &d
		}
	}

	overdueAfter := e.OverdueAfter
	if overdueAfter == 0 {
		overdueAfter = DefaultOverdueAfter
	}
	status := StatusFor(totalPaid, inv.Total, inv.IssuedAt, e.now(), overdueAfter)

	return e.Invoices.SetPaymentStatus(ctx, invoiceID, PaymentStatusUpdate{
		TotalPaid:       totalPaid,
		Paid:            status == StatusPaid,
		Status:          status,
		LastPaymentDate: lastPayment,
	})
}

// =============================================================================
// HELPERS
// =============================================================================

// lookupInvoice fetches an invoice and checks it is live and owned by the
// client.
func (e *Engine) lookupInvoice(ctx context.Context, invoiceID InvoiceID, clientID ClientID) (*InvoiceSummary, error) {
	inv, err := e.Invoices.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.Cancelled {
		return nil, fmt.Errorf("invoice %s is cancelled: %w", invoiceID, ErrInvoiceNotFound)
	}
	if inv.ClientID != clientID {
		return nil, fmt.Errorf("invoice %s: %w", invoiceID, ErrClientMismatch)
	}
	return inv, nil
}

func appendNote(existing, note string) string {
	if existing == "" {
		return note
	}
	return existing + "; " + note
}
