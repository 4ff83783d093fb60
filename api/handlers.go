/*
handlers.go - HTTP API handlers for the payment ledger

PURPOSE:
  Exposes the payment allocation engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Clients:
    GET    /api/clients                      List all clients
    POST   /api/clients                      Create client
    GET    /api/clients/{id}                 Get client details
    GET    /api/clients/{id}/balance         Balance summary
    GET    /api/clients/{id}/payments        Payment records (FIFO order)
    POST   /api/clients/{id}/payments        Record a payment
    POST   /api/clients/{id}/settlements     Settle an invoice from balance
    GET    /api/clients/{id}/invoices        Client's invoices

  Payments:
    POST   /api/payments/{id}/release        Cancel an allocation
    DELETE /api/payments/{id}                Delete a payment record

  Invoices:
    POST   /api/invoices                     Create invoice
    GET    /api/invoices/{id}                Invoice with derived status
    GET    /api/invoices/{id}/payments       Records allocated to invoice
    PUT    /api/invoices/{id}/total          Edit total (triggers recompute)
    POST   /api/invoices/{id}/cancel         Cancel (releases allocations)

  Admin:
    POST   /api/admin/reconcile              Run the forensic scan
    POST   /api/admin/recompute/{invoiceID}  Force a status recompute
    POST   /api/admin/reset                  Wipe database (dev only)
    POST   /api/admin/seed                   Load demo data

ERROR HANDLING:
  Domain errors map to HTTP status by class:
  - IsClientError -> 400 (invalid amount, insufficient balance, mismatch)
  - IsNotFound    -> 404
  - IsRetryable   -> 503 (transient, safe to retry)
  - everything else -> 500

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/payment-ledger/ledger"
	"github.com/warp/payment-ledger/recon"
	"github.com/warp/payment-ledger/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     *sqlite.Store
	Engine    *ledger.Engine
	Projector *ledger.Projector
	Scanner   *recon.Scanner
	Metrics   *Metrics
}

// NewHandler creates a new handler wired to the given store.
func NewHandler(store *sqlite.Store) *Handler {
	return &Handler{
		Store:     store,
		Engine:    ledger.NewEngine(store, store),
		Projector: ledger.NewProjector(store),
		Scanner:   recon.NewScanner(store),
		Metrics:   NewMetrics(),
	}
}

// =============================================================================
// CLIENT HANDLERS
// =============================================================================

// ListClients returns all clients.
func (h *Handler) ListClients(w http.ResponseWriter, r *http.Request) {
	clients, err := h.Store.ListClients(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list clients", err)
		return
	}

	dtos := make([]ClientDTO, 0, len(clients))
	for _, c := range clients {
		dtos = append(dtos, toClientDTO(c))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateClient creates a client.
func (h *Handler) CreateClient(w http.ResponseWriter, r *http.Request) {
	var req CreateClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Name is required", nil)
		return
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}

	client := sqlite.Client{ID: id, Name: req.Name, Email: req.Email}
	if err := h.Store.SaveClient(r.Context(), client); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create client", err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"id": id, "status": "created"})
}

// GetClient returns a single client.
func (h *Handler) GetClient(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	client, err := h.Store.GetClient(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get client", err)
		return
	}
	if client == nil {
		writeError(w, http.StatusNotFound, "Client not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toClientDTO(*client))
}

// GetBalance returns the client's money position: unallocated balance plus
// the outstanding total across their live invoices.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clientID := ledger.ClientID(chi.URLParam(r, "id"))

	records, err := h.Store.ListByClient(ctx, clientID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load payment records", err)
		return
	}

	invoices, err := h.Store.ListInvoicesByClient(ctx, string(clientID))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load invoices", err)
		return
	}
	summaries := make([]ledger.InvoiceSummary, 0, len(invoices))
	for _, inv := range invoices {
		summaries = append(summaries, ledger.InvoiceSummary{
			ID:        ledger.InvoiceID(inv.ID),
			ClientID:  ledger.ClientID(inv.ClientID),
			Total:     inv.Total,
			IssuedAt:  inv.IssuedAt,
			Cancelled: inv.Cancelled,
		})
	}

	outstanding, err := h.Projector.ClientOutstandingTotal(ctx, clientID, summaries)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute outstanding total", err)
		return
	}

	writeJSON(w, http.StatusOK, BalanceSummaryDTO{
		ClientID:           string(clientID),
		UnallocatedBalance: ledger.UnallocatedOf(records).String(),
		OutstandingTotal:   outstanding.String(),
		RecordCount:        len(records),
	})
}

// ListClientPayments returns the client's payment records in FIFO order.
func (h *Handler) ListClientPayments(w http.ResponseWriter, r *http.Request) {
	clientID := ledger.ClientID(chi.URLParam(r, "id"))

	records, err := h.Store.ListByClient(r.Context(), clientID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load payment records", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payments": toPaymentDTOs(records)})
}

// ListClientInvoices returns the client's invoices with derived status.
func (h *Handler) ListClientInvoices(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "id")

	invoices, err := h.Store.ListInvoicesByClient(r.Context(), clientID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load invoices", err)
		return
	}

	dtos := make([]InvoiceDTO, 0, len(invoices))
	for _, inv := range invoices {
		dtos = append(dtos, toInvoiceDTO(inv))
	}
	writeJSON(w, http.StatusOK, map[string]any{"invoices": dtos})
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// RecordPayment registers money received from a client. A payment targeting
// an invoice is capped at its outstanding amount; the excess lands on the
// client account as a separate record.
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clientID := ledger.ClientID(chi.URLParam(r, "id"))

	var req RecordPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	var paymentDate time.Time
	if req.PaymentDate != "" {
		paymentDate, err = parseDate(req.PaymentDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid payment_date", err)
			return
		}
	}

	created, err := h.Engine.RecordPayment(ctx, ledger.RecordPaymentInput{
		ClientID:    clientID,
		Amount:      amount,
		InvoiceID:   ledger.InvoiceID(req.InvoiceID),
		PaymentDate: paymentDate,
		Method:      req.Method,
		Reference:   req.Reference,
		Notes:       req.Notes,
	})
	if err != nil {
		h.Metrics.OperationFailed("record_payment")
		writeDomainError(w, "Failed to record payment", err)
		return
	}

	h.Metrics.PaymentRecorded(amount)
	writeJSON(w, http.StatusCreated, map[string]any{
		"status":   "recorded",
		"payments": toPaymentDTOs(created),
	})
}

// SettleInvoice applies unallocated client balance to an invoice, consuming
// the oldest money first.
func (h *Handler) SettleInvoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clientID := ledger.ClientID(chi.URLParam(r, "id"))

	var req SettleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.InvoiceID == "" {
		writeError(w, http.StatusBadRequest, "invoice_id is required", nil)
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	touched, err := h.Engine.SettleInvoice(ctx, clientID, ledger.InvoiceID(req.InvoiceID), amount)
	if err != nil {
		h.Metrics.OperationFailed("settle_invoice")
		writeDomainError(w, "Failed to settle invoice", err)
		return
	}

	h.Metrics.InvoiceSettled(amount)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "settled",
		"payments": toPaymentDTOs(touched),
	})
}

// ReleaseAllocation un-targets a payment record, returning its money to the
// client account. Idempotent for already-unallocated records.
func (h *Handler) ReleaseAllocation(w http.ResponseWriter, r *http.Request) {
	id := ledger.PaymentID(chi.URLParam(r, "id"))

	if err := h.Engine.CancelAllocation(r.Context(), id); err != nil {
		h.Metrics.OperationFailed("release_allocation")
		writeDomainError(w, "Failed to release allocation", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "released"})
}

// DeletePayment removes a payment record entirely.
func (h *Handler) DeletePayment(w http.ResponseWriter, r *http.Request) {
	id := ledger.PaymentID(chi.URLParam(r, "id"))

	if err := h.Engine.DeletePayment(r.Context(), id); err != nil {
		h.Metrics.OperationFailed("delete_payment")
		writeDomainError(w, "Failed to delete payment", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
}

// =============================================================================
// INVOICE HANDLERS
// =============================================================================

// CreateInvoice creates an invoice.
func (h *Handler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ClientID == "" {
		writeError(w, http.StatusBadRequest, "client_id is required", nil)
		return
	}

	total, err := decimal.NewFromString(req.Total)
	if err != nil || total.IsNegative() {
		writeError(w, http.StatusBadRequest, "Invalid total", err)
		return
	}

	var issuedAt time.Time
	if req.IssuedAt != "" {
		issuedAt, err = parseDate(req.IssuedAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid issued_at", err)
			return
		}
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}

	err = h.Store.SaveInvoice(ctx, sqlite.Invoice{
		ID:       id,
		ClientID: req.ClientID,
		Number:   req.Number,
		Total:    total,
		IssuedAt: issuedAt,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create invoice", err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"id": id, "status": "created"})
}

// GetInvoice returns an invoice with its derived payment state.
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	inv, err := h.Store.GetInvoiceRecord(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get invoice", err)
		return
	}
	if inv == nil {
		writeError(w, http.StatusNotFound, "Invoice not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(*inv))
}

// ListInvoicePayments returns the records allocated to an invoice.
func (h *Handler) ListInvoicePayments(w http.ResponseWriter, r *http.Request) {
	invoiceID := ledger.InvoiceID(chi.URLParam(r, "id"))

	records, err := h.Store.ListByInvoice(r.Context(), invoiceID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load payment records", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payments": toPaymentDTOs(records)})
}

// UpdateInvoiceTotal edits an invoice's total and immediately recomputes its
// payment status, so an edit can flip paid to partial and back.
func (h *Handler) UpdateInvoiceTotal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	var req UpdateInvoiceTotalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	total, err := decimal.NewFromString(req.Total)
	if err != nil || total.IsNegative() {
		writeError(w, http.StatusBadRequest, "Invalid total", err)
		return
	}

	if err := h.Store.UpdateInvoiceTotal(ctx, id, total); err != nil {
		writeDomainError(w, "Failed to update invoice total", err)
		return
	}

	// The edit changes what "paid" means for this invoice.
	if err := h.Engine.RecomputeInvoiceTotals(ctx, ledger.InvoiceID(id)); err != nil {
		writeDomainError(w, "Failed to recompute invoice status", err)
		return
	}

	inv, err := h.Store.GetInvoiceRecord(ctx, id)
	if err != nil || inv == nil {
		writeError(w, http.StatusInternalServerError, "Failed to reload invoice", err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(*inv))
}

// CancelInvoice cancels an invoice and releases every allocation targeting
// it, returning the money to the client's account.
func (h *Handler) CancelInvoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	inv, err := h.Store.GetInvoiceRecord(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get invoice", err)
		return
	}
	if inv == nil {
		writeError(w, http.StatusNotFound, "Invoice not found", nil)
		return
	}

	// Release before flagging cancelled: ReleaseInvoice validates against
	// the live invoice and recomputes its status at the end.
	if err := h.Engine.ReleaseInvoice(ctx, ledger.InvoiceID(id)); err != nil {
		writeDomainError(w, "Failed to release invoice allocations", err)
		return
	}

	if err := h.Store.CancelInvoice(ctx, id); err != nil {
		writeDomainError(w, "Failed to cancel invoice", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "cancelled"})
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// RunReconciliation runs the forensic scan and returns its findings.
func (h *Handler) RunReconciliation(w http.ResponseWriter, r *http.Request) {
	report, err := h.Scanner.Scan(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Reconciliation scan failed", err)
		return
	}
	h.Metrics.ReconciliationRan(len(report.Findings))
	writeJSON(w, http.StatusOK, report)
}

// RecomputeInvoice forces a payment status recompute for one invoice.
func (h *Handler) RecomputeInvoice(w http.ResponseWriter, r *http.Request) {
	id := ledger.InvoiceID(chi.URLParam(r, "invoiceID"))

	if err := h.Engine.RecomputeInvoiceTotals(r.Context(), id); err != nil {
		writeDomainError(w, "Failed to recompute invoice", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "recomputed"})
}

// ResetDatabase wipes all data. Dev/demo only.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "reset"})
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps engine errors to HTTP status by class.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case ledger.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case ledger.IsRetryable(err):
		writeError(w, http.StatusServiceUnavailable, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

// parseDate accepts RFC3339 or plain YYYY-MM-DD.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q (use RFC3339 or YYYY-MM-DD)", s)
}
