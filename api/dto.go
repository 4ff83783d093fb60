/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Amounts travel as JSON strings ("150.00"), never floats. Handlers parse
  them with decimal.NewFromString and reject anything unparseable.

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/payment-ledger/ledger"
	"github.com/warp/payment-ledger/store/sqlite"
)

// =============================================================================
// CLIENT TYPES
// =============================================================================

// ClientDTO represents a client in API responses.
type ClientDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	CreatedAt string `json:"created_at"`
}

// CreateClientRequest creates a client.
type CreateClientRequest struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

func toClientDTO(c sqlite.Client) ClientDTO {
	return ClientDTO{
		ID:        c.ID,
		Name:      c.Name,
		Email:     c.Email,
		CreatedAt: c.CreatedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// INVOICE TYPES
// =============================================================================

// InvoiceDTO represents an invoice with its derived payment state.
type InvoiceDTO struct {
	ID              string `json:"id"`
	ClientID        string `json:"client_id"`
	Number          string `json:"number,omitempty"`
	Total           string `json:"total"`
	IssuedAt        string `json:"issued_at"`
	Cancelled       bool   `json:"cancelled"`
	Status          string `json:"status"`
	TotalPaid       string `json:"total_paid"`
	Paid            bool   `json:"paid"`
	Outstanding     string `json:"outstanding"`
	LastPaymentDate string `json:"last_payment_date,omitempty"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
}

// CreateInvoiceRequest creates an invoice.
type CreateInvoiceRequest struct {
	ID       string `json:"id,omitempty"`
	ClientID string `json:"client_id"`
	Number   string `json:"number,omitempty"`
	Total    string `json:"total"`
	IssuedAt string `json:"issued_at,omitempty"` // RFC3339 or YYYY-MM-DD
}

// UpdateInvoiceTotalRequest edits an invoice's total. The handler recomputes
// the payment status right after the edit.
type UpdateInvoiceTotalRequest struct {
	Total string `json:"total"`
}

func toInvoiceDTO(inv sqlite.Invoice) InvoiceDTO {
	dto := InvoiceDTO{
		ID:          inv.ID,
		ClientID:    inv.ClientID,
		Number:      inv.Number,
		Total:       inv.Total.String(),
		IssuedAt:    inv.IssuedAt.Format(time.RFC3339),
		Cancelled:   inv.Cancelled,
		Status:      inv.Status,
		TotalPaid:   inv.TotalPaid.String(),
		Paid:        inv.Paid,
		Outstanding: ledger.Outstanding(inv.Total, inv.TotalPaid).String(),
		CreatedAt:   inv.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   inv.UpdatedAt.Format(time.RFC3339),
	}
	if inv.LastPaymentDate != nil {
		dto.LastPaymentDate = inv.LastPaymentDate.Format(time.RFC3339)
	}
	return dto
}

// =============================================================================
// PAYMENT TYPES
// =============================================================================

// PaymentRecordDTO represents one payment record.
type PaymentRecordDTO struct {
	ID          string `json:"id"`
	ClientID    string `json:"client_id"`
	InvoiceID   string `json:"invoice_id,omitempty"`
	Allocated   bool   `json:"allocated"`
	Amount      string `json:"amount"`
	PaymentDate string `json:"payment_date"`
	Method      string `json:"method,omitempty"`
	Reference   string `json:"reference,omitempty"`
	Notes       string `json:"notes,omitempty"`
	SettledAt   string `json:"settled_at,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// RecordPaymentRequest registers money received from a client.
type RecordPaymentRequest struct {
	Amount      string `json:"amount"`
	InvoiceID   string `json:"invoice_id,omitempty"`
	PaymentDate string `json:"payment_date,omitempty"` // RFC3339 or YYYY-MM-DD
	Method      string `json:"method,omitempty"`
	Reference   string `json:"reference,omitempty"`
	Notes       string `json:"notes,omitempty"`
}

// SettleRequest applies unallocated balance to an invoice.
type SettleRequest struct {
	InvoiceID string `json:"invoice_id"`
	Amount    string `json:"amount"`
}

func toPaymentDTO(rec ledger.PaymentRecord) PaymentRecordDTO {
	dto := PaymentRecordDTO{
		ID:          string(rec.ID),
		ClientID:    string(rec.ClientID),
		Allocated:   rec.SettledToInvoice(),
		Amount:      rec.Amount.String(),
		PaymentDate: rec.PaymentDate.Format(time.RFC3339),
		Method:      rec.Method,
		Reference:   rec.Reference,
		Notes:       rec.Notes,
		CreatedAt:   rec.CreatedAt.Format(time.RFC3339),
	}
	if invoiceID, ok := rec.Allocation.InvoiceID(); ok {
		dto.InvoiceID = string(invoiceID)
	}
	if rec.SettledAt != nil {
		dto.SettledAt = rec.SettledAt.Format(time.RFC3339)
	}
	return dto
}

func toPaymentDTOs(records []ledger.PaymentRecord) []PaymentRecordDTO {
	dtos := make([]PaymentRecordDTO, 0, len(records))
	for _, rec := range records {
		dtos = append(dtos, toPaymentDTO(rec))
	}
	return dtos
}

// =============================================================================
// BALANCE TYPES
// =============================================================================

// BalanceSummaryDTO is the client's money position.
type BalanceSummaryDTO struct {
	ClientID           string `json:"client_id"`
	UnallocatedBalance string `json:"unallocated_balance"`
	OutstandingTotal   string `json:"outstanding_total"`
	RecordCount        int    `json:"record_count"`
}

// =============================================================================
// ERROR RESPONSE
// =============================================================================

// ErrorResponse is the standard error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
