/*
handlers_test.go - HTTP tests for the payment ledger API

Tests drive the full stack through the chi router against an in-memory
SQLite store: record/settle/release flows, error status mapping, invoice
lifecycle, and the reconciliation endpoint.
*/
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payment-ledger/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestServer(t *testing.T) (*httptest.Server, *Handler) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	handler := NewHandler(store)
	server := httptest.NewServer(NewRouter(handler, nil))
	t.Cleanup(server.Close)
	return server, handler
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func createClient(t *testing.T, baseURL, id, name string) {
	t.Helper()
	resp, _ := doJSON(t, http.MethodPost, baseURL+"/api/clients", CreateClientRequest{
		ID: id, Name: name,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func createInvoice(t *testing.T, baseURL, id, clientID, total string) {
	t.Helper()
	resp, _ := doJSON(t, http.MethodPost, baseURL+"/api/invoices", CreateInvoiceRequest{
		ID: id, ClientID: clientID, Total: total,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

// =============================================================================
// PAYMENT FLOW
// =============================================================================

func TestAPI_RecordPayment_OverpaySplit(t *testing.T) {
	// GIVEN: An invoice for 100
	// WHEN: POSTing a 150 payment against it
	// THEN: Two records come back (100 allocated, 50 on the account) and the
	//       balance endpoint agrees

	server, _ := newTestServer(t)
	createClient(t, server.URL, "client-1", "Acme")
	createInvoice(t, server.URL, "inv-1", "client-1", "100")

	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/clients/client-1/payments",
		RecordPaymentRequest{Amount: "150", InvoiceID: "inv-1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	payments := body["payments"].([]any)
	require.Len(t, payments, 2)
	first := payments[0].(map[string]any)
	second := payments[1].(map[string]any)
	assert.Equal(t, "100", first["amount"])
	assert.Equal(t, "inv-1", first["invoice_id"])
	assert.Equal(t, "50", second["amount"])
	assert.Equal(t, false, second["allocated"])

	resp, balance := doJSON(t, http.MethodGet, server.URL+"/api/clients/client-1/balance", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "50", balance["unallocated_balance"])

	resp, inv := doJSON(t, http.MethodGet, server.URL+"/api/invoices/inv-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "paid", inv["status"])
	assert.Equal(t, true, inv["paid"])
	assert.Equal(t, "100", inv["total_paid"])
}

func TestAPI_RecordPayment_InvalidBodies(t *testing.T) {
	server, _ := newTestServer(t)
	createClient(t, server.URL, "client-1", "Acme")

	for _, req := range []RecordPaymentRequest{
		{Amount: "not-a-number"},
		{Amount: "-5"},
		{Amount: "0"},
		{Amount: "10", PaymentDate: "soonish"},
	} {
		resp, _ := doJSON(t, http.MethodPost, server.URL+"/api/clients/client-1/payments", req)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "request %+v", req)
	}
}

func TestAPI_RecordPayment_UnknownInvoice404(t *testing.T) {
	server, _ := newTestServer(t)
	createClient(t, server.URL, "client-1", "Acme")

	resp, _ := doJSON(t, http.MethodPost, server.URL+"/api/clients/client-1/payments",
		RecordPaymentRequest{Amount: "10", InvoiceID: "inv-missing"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// =============================================================================
// SETTLEMENT FLOW
// =============================================================================

func TestAPI_Settle_ThenRelease(t *testing.T) {
	// GIVEN: A client with 200 on the account and an invoice for 80
	// WHEN: Settling 80 and then releasing the allocated record
	// THEN: The invoice goes paid and back to unpaid; the balance returns

	server, _ := newTestServer(t)
	createClient(t, server.URL, "client-1", "Acme")
	createInvoice(t, server.URL, "inv-1", "client-1", "80")

	resp, _ := doJSON(t, http.MethodPost, server.URL+"/api/clients/client-1/payments",
		RecordPaymentRequest{Amount: "200"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/clients/client-1/settlements",
		SettleRequest{InvoiceID: "inv-1", Amount: "80"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	touched := body["payments"].([]any)
	require.NotEmpty(t, touched)
	allocatedID := touched[0].(map[string]any)["id"].(string)

	resp, inv := doJSON(t, http.MethodGet, server.URL+"/api/invoices/inv-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "paid", inv["status"])

	resp, _ = doJSON(t, http.MethodPost,
		fmt.Sprintf("%s/api/payments/%s/release", server.URL, allocatedID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, inv = doJSON(t, http.MethodGet, server.URL+"/api/invoices/inv-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "0", inv["total_paid"])
	assert.Equal(t, false, inv["paid"])

	resp, balance := doJSON(t, http.MethodGet, server.URL+"/api/clients/client-1/balance", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "200", balance["unallocated_balance"])
}

func TestAPI_Settle_InsufficientBalance400(t *testing.T) {
	server, _ := newTestServer(t)
	createClient(t, server.URL, "client-1", "Acme")
	createInvoice(t, server.URL, "inv-1", "client-1", "500")

	resp, _ := doJSON(t, http.MethodPost, server.URL+"/api/clients/client-1/settlements",
		SettleRequest{InvoiceID: "inv-1", Amount: "100"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// =============================================================================
// INVOICE LIFECYCLE
// =============================================================================

func TestAPI_UpdateInvoiceTotal_FlipsStatus(t *testing.T) {
	// GIVEN: An invoice for 100 fully paid
	// WHEN: Raising its total to 150
	// THEN: The returned invoice reports partial with 50 outstanding

	server, _ := newTestServer(t)
	createClient(t, server.URL, "client-1", "Acme")
	createInvoice(t, server.URL, "inv-1", "client-1", "100")

	resp, _ := doJSON(t, http.MethodPost, server.URL+"/api/clients/client-1/payments",
		RecordPaymentRequest{Amount: "100", InvoiceID: "inv-1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, inv := doJSON(t, http.MethodPut, server.URL+"/api/invoices/inv-1/total",
		UpdateInvoiceTotalRequest{Total: "150"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "partial", inv["status"])
	assert.Equal(t, false, inv["paid"])
	assert.Equal(t, "50", inv["outstanding"])
}

func TestAPI_CancelInvoice_ReleasesMoney(t *testing.T) {
	// GIVEN: An invoice paid in full
	// WHEN: Cancelling it
	// THEN: The money returns to the client account and the invoice reads
	//       cancelled

	server, _ := newTestServer(t)
	createClient(t, server.URL, "client-1", "Acme")
	createInvoice(t, server.URL, "inv-1", "client-1", "100")

	resp, _ := doJSON(t, http.MethodPost, server.URL+"/api/clients/client-1/payments",
		RecordPaymentRequest{Amount: "100", InvoiceID: "inv-1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, server.URL+"/api/invoices/inv-1/cancel", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, inv := doJSON(t, http.MethodGet, server.URL+"/api/invoices/inv-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, inv["cancelled"])

	resp, balance := doJSON(t, http.MethodGet, server.URL+"/api/clients/client-1/balance", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "100", balance["unallocated_balance"])
	// Cancelled invoices drop out of the outstanding total.
	assert.Equal(t, "0", balance["outstanding_total"])
}

func TestAPI_DeletePayment(t *testing.T) {
	server, _ := newTestServer(t)
	createClient(t, server.URL, "client-1", "Acme")

	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/clients/client-1/payments",
		RecordPaymentRequest{Amount: "60"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := body["payments"].([]any)[0].(map[string]any)["id"].(string)

	resp, _ = doJSON(t, http.MethodDelete, server.URL+"/api/payments/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodDelete, server.URL+"/api/payments/"+id, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, balance := doJSON(t, http.MethodGet, server.URL+"/api/clients/client-1/balance", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "0", balance["unallocated_balance"])
}

// =============================================================================
// ADMIN
// =============================================================================

func TestAPI_Reconcile_CleanAfterNormalTraffic(t *testing.T) {
	// GIVEN: A ledger mutated only through the engine
	// WHEN: Running the reconciliation scan
	// THEN: No findings

	server, _ := newTestServer(t)
	createClient(t, server.URL, "client-1", "Acme")
	createInvoice(t, server.URL, "inv-1", "client-1", "100")

	resp, _ := doJSON(t, http.MethodPost, server.URL+"/api/clients/client-1/payments",
		RecordPaymentRequest{Amount: "150", InvoiceID: "inv-1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, report := doJSON(t, http.MethodPost, server.URL+"/api/admin/reconcile", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, report["clean"])
}

func TestAPI_SeedAndRecompute(t *testing.T) {
	server, _ := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, server.URL+"/api/admin/seed", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, inv := doJSON(t, http.MethodGet, server.URL+"/api/invoices/inv-1001", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "paid", inv["status"])

	// The two-month-old unpaid seed invoice reads overdue.
	resp, old := doJSON(t, http.MethodGet, server.URL+"/api/invoices/inv-1003", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "overdue", old["status"])

	resp, _ = doJSON(t, http.MethodPost, server.URL+"/api/admin/recompute/inv-1002", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPI_MetricsExposed(t *testing.T) {
	server, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
