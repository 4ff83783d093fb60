/*
demo.go - Demo data seeding

PURPOSE:
  Loads a small but representative dataset for local development and UI
  demos. The seed walks the interesting allocation paths on purpose:
  - a direct payment fully covering an invoice
  - an overpayment that splits into allocated + unallocated records
  - a balance settlement that splits an unallocated record
  - an old unpaid invoice that shows up as overdue

USAGE:
  POST /api/admin/seed   (wipes the database first)

SEE ALSO:
  - handlers.go: ResetDatabase
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/payment-ledger/ledger"
	"github.com/warp/payment-ledger/store/sqlite"
)

// SeedDemoData wipes the database and loads the demo dataset.
func (h *Handler) SeedDemoData(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	if err := h.loadDemoData(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to seed demo data", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "seeded"})
}

func (h *Handler) loadDemoData(ctx context.Context) error {
	now := time.Now().UTC()

	clients := []sqlite.Client{
		{ID: "client-acme", Name: "Acme Corp", Email: "billing@acme.example"},
		{ID: "client-globex", Name: "Globex Ltd", Email: "accounts@globex.example"},
	}
	for _, c := range clients {
		if err := h.Store.SaveClient(ctx, c); err != nil {
			return fmt.Errorf("seed client %s: %w", c.ID, err)
		}
	}

	invoices := []sqlite.Invoice{
		{ID: "inv-1001", ClientID: "client-acme", Number: "2026-1001", Total: decimal.NewFromInt(1200), IssuedAt: now.AddDate(0, -1, 0)},
		{ID: "inv-1002", ClientID: "client-acme", Number: "2026-1002", Total: decimal.NewFromInt(450), IssuedAt: now.AddDate(0, 0, -10)},
		// Old and unpaid: the status refresher reports it overdue.
		{ID: "inv-1003", ClientID: "client-acme", Number: "2026-1003", Total: decimal.NewFromInt(300), IssuedAt: now.AddDate(0, -2, 0)},
		{ID: "inv-2001", ClientID: "client-globex", Number: "2026-2001", Total: decimal.NewFromInt(5000), IssuedAt: now.AddDate(0, 0, -5)},
	}
	for _, inv := range invoices {
		if err := h.Store.SaveInvoice(ctx, inv); err != nil {
			return fmt.Errorf("seed invoice %s: %w", inv.ID, err)
		}
	}

	// Overpayment: 1500 against a 1200 invoice splits into an allocated
	// record and 300 on the account.
	_, err := h.Engine.RecordPayment(ctx, ledger.RecordPaymentInput{
		ClientID:    "client-acme",
		Amount:      decimal.NewFromInt(1500),
		InvoiceID:   "inv-1001",
		PaymentDate: now.AddDate(0, 0, -20),
		Method:      "wire",
		Reference:   "WIRE-8842",
	})
	if err != nil {
		return fmt.Errorf("seed payment for inv-1001: %w", err)
	}

	// Settling 200 of the 450 invoice splits the 300 account record.
	if _, err := h.Engine.SettleInvoice(ctx, "client-acme", "inv-1002", decimal.NewFromInt(200)); err != nil {
		return fmt.Errorf("seed settlement for inv-1002: %w", err)
	}

	// An untargeted payment sitting on Globex's account.
	_, err = h.Engine.RecordPayment(ctx, ledger.RecordPaymentInput{
		ClientID:    "client-globex",
		Amount:      decimal.NewFromInt(2500),
		PaymentDate: now.AddDate(0, 0, -3),
		Method:      "check",
		Reference:   "CHK-0137",
		Notes:       "retainer",
	})
	if err != nil {
		return fmt.Errorf("seed payment for client-globex: %w", err)
	}

	// Refresh derived status on the untouched invoices too.
	for _, id := range []ledger.InvoiceID{"inv-1003", "inv-2001"} {
		if err := h.Engine.RecomputeInvoiceTotals(ctx, id); err != nil {
			return fmt.Errorf("seed recompute %s: %w", id, err)
		}
	}
	return nil
}
