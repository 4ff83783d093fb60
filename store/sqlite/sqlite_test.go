package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payment-ledger/ledger"
	"github.com/warp/payment-ledger/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedRecord(t *testing.T, s *sqlite.Store, id, clientID, invoiceID string, amount int64, paymentDate time.Time) {
	t.Helper()
	alloc := ledger.Unallocated()
	if invoiceID != "" {
		alloc = ledger.AllocatedTo(ledger.InvoiceID(invoiceID))
	}
	_, err := s.Create(context.Background(), ledger.PaymentRecord{
		ID:          ledger.PaymentID(id),
		ClientID:    ledger.ClientID(clientID),
		Allocation:  alloc,
		Amount:      decimal.NewFromInt(amount),
		PaymentDate: paymentDate,
	})
	require.NoError(t, err)
}

// =============================================================================
// PAYMENT RECORD PERSISTENCE
// =============================================================================

func TestSQLite_PaymentRecordRoundTrip(t *testing.T) {
	// GIVEN: A record with every field populated
	// WHEN: Writing and reading it back
	// THEN: All fields survive, including the allocation and decimal amount

	store := newTestStore(t)
	ctx := context.Background()

	settled := time.Date(2026, time.February, 3, 12, 0, 0, 0, time.UTC)
	original := ledger.PaymentRecord{
		ID:          "p-1",
		ClientID:    "client-1",
		Allocation:  ledger.AllocatedTo("inv-1"),
		Amount:      decimal.RequireFromString("123.45"),
		PaymentDate: time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC),
		Method:      "wire",
		Reference:   "WIRE-1",
		Notes:       "first installment",
		SettledAt:   &settled,
	}

	_, err := store.Create(ctx, original)
	require.NoError(t, err)

	got, err := store.Get(ctx, "p-1")
	require.NoError(t, err)
	assert.True(t, got.Amount.Equal(original.Amount))
	assert.True(t, got.Allocation.Targets("inv-1"))
	assert.True(t, got.PaymentDate.Equal(original.PaymentDate))
	assert.Equal(t, "wire", got.Method)
	assert.Equal(t, "WIRE-1", got.Reference)
	assert.Equal(t, "first installment", got.Notes)
	require.NotNil(t, got.SettledAt)
	assert.True(t, got.SettledAt.Equal(settled))
	assert.False(t, got.CreatedAt.IsZero())
}

func TestSQLite_GetMissingRecord(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ledger.ErrPaymentNotFound)
}

func TestSQLite_ListByClient_FIFOOrdered(t *testing.T) {
	// GIVEN: Records inserted out of date order
	// WHEN: Listing by client
	// THEN: PaymentDate ascending, ties by CreatedAt

	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)

	seedRecord(t, store, "p-late", "client-1", "", 10, base.AddDate(0, 0, 9))
	seedRecord(t, store, "p-early", "client-1", "", 20, base)
	seedRecord(t, store, "p-other", "client-2", "", 30, base)
	seedRecord(t, store, "p-mid", "client-1", "", 40, base.AddDate(0, 0, 4))

	records, err := store.ListByClient(ctx, "client-1")
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, ledger.PaymentID("p-early"), records[0].ID)
	assert.Equal(t, ledger.PaymentID("p-mid"), records[1].ID)
	assert.Equal(t, ledger.PaymentID("p-late"), records[2].ID)
}

func TestSQLite_UpdateClearsAllocation(t *testing.T) {
	// GIVEN: An allocated record
	// WHEN: Updating its allocation to unallocated
	// THEN: invoice_id goes back to NULL and ListByInvoice drops it

	store := newTestStore(t)
	ctx := context.Background()
	jan1 := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)

	seedRecord(t, store, "p-1", "client-1", "inv-1", 100, jan1)

	unalloc := ledger.Unallocated()
	require.NoError(t, store.Update(ctx, "p-1", ledger.UpdateFields{Allocation: &unalloc}))

	got, err := store.Get(ctx, "p-1")
	require.NoError(t, err)
	assert.False(t, got.SettledToInvoice())

	byInvoice, err := store.ListByInvoice(ctx, "inv-1")
	require.NoError(t, err)
	assert.Empty(t, byInvoice)

	assert.ErrorIs(t, store.Update(ctx, "missing", ledger.UpdateFields{Allocation: &unalloc}),
		ledger.ErrPaymentNotFound)
}

func TestSQLite_WithClientTx_RollsBackOnError(t *testing.T) {
	// GIVEN: A client with one record
	// WHEN: A transaction writes then fails
	// THEN: No write survives

	store := newTestStore(t)
	ctx := context.Background()
	jan1 := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)

	seedRecord(t, store, "p-1", "client-1", "", 100, jan1)

	boom := errors.New("halfway failure")
	err := store.WithClientTx(ctx, "client-1", func(s ledger.Store) error {
		if _, err := s.Create(ctx, ledger.PaymentRecord{
			ID: "p-2", ClientID: "client-1",
			Amount: decimal.NewFromInt(50), PaymentDate: jan1,
		}); err != nil {
			return err
		}
		smaller := decimal.NewFromInt(1)
		if err := s.Update(ctx, "p-1", ledger.UpdateFields{Amount: &smaller}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	records, err := store.ListByClient(ctx, "client-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].Amount.Equal(decimal.NewFromInt(100)))
}

// =============================================================================
// INVOICE DIRECTORY
// =============================================================================

func TestSQLite_InvoiceDirectory(t *testing.T) {
	// GIVEN: A saved invoice
	// WHEN: Reading through the engine's directory interface and writing a
	//       status update
	// THEN: Summary fields and derived columns round-trip

	store := newTestStore(t)
	ctx := context.Background()
	issued := time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveInvoice(ctx, sqlite.Invoice{
		ID:       "inv-1",
		ClientID: "client-1",
		Number:   "2026-0001",
		Total:    decimal.RequireFromString("999.99"),
		IssuedAt: issued,
	}))

	inv, err := store.GetInvoice(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.ClientID("client-1"), inv.ClientID)
	assert.True(t, inv.Total.Equal(decimal.RequireFromString("999.99")))
	assert.True(t, inv.IssuedAt.Equal(issued))
	assert.False(t, inv.Cancelled)

	_, err = store.GetInvoice(ctx, "inv-missing")
	assert.ErrorIs(t, err, ledger.ErrInvoiceNotFound)

	lastPayment := issued.AddDate(0, 0, 5)
	require.NoError(t, store.SetPaymentStatus(ctx, "inv-1", ledger.PaymentStatusUpdate{
		TotalPaid:       decimal.RequireFromString("500.00"),
		Status:          ledger.StatusPartial,
		LastPaymentDate: &lastPayment,
	}))

	full, err := store.GetInvoiceRecord(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, string(ledger.StatusPartial), full.Status)
	assert.True(t, full.TotalPaid.Equal(decimal.RequireFromString("500.00")))
	require.NotNil(t, full.LastPaymentDate)
	assert.True(t, full.LastPaymentDate.Equal(lastPayment))
}

func TestSQLite_CancelAndTotalEdit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveInvoice(ctx, sqlite.Invoice{
		ID: "inv-1", ClientID: "client-1", Total: decimal.NewFromInt(100),
	}))

	require.NoError(t, store.UpdateInvoiceTotal(ctx, "inv-1", decimal.NewFromInt(250)))
	inv, err := store.GetInvoice(ctx, "inv-1")
	require.NoError(t, err)
	assert.True(t, inv.Total.Equal(decimal.NewFromInt(250)))

	require.NoError(t, store.CancelInvoice(ctx, "inv-1"))
	inv, err = store.GetInvoice(ctx, "inv-1")
	require.NoError(t, err)
	assert.True(t, inv.Cancelled)

	assert.ErrorIs(t, store.CancelInvoice(ctx, "inv-missing"), ledger.ErrInvoiceNotFound)
	assert.ErrorIs(t, store.UpdateInvoiceTotal(ctx, "inv-missing", decimal.NewFromInt(1)),
		ledger.ErrInvoiceNotFound)
}

func TestSQLite_ListOpenInvoices(t *testing.T) {
	// GIVEN: Paid, cancelled, and open invoices
	// WHEN: Listing open ones
	// THEN: Only the unpaid, uncancelled invoice comes back

	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"inv-open", "inv-paid", "inv-dead"} {
		require.NoError(t, store.SaveInvoice(ctx, sqlite.Invoice{
			ID: id, ClientID: "client-1", Total: decimal.NewFromInt(100),
		}))
	}
	require.NoError(t, store.SetPaymentStatus(ctx, "inv-paid", ledger.PaymentStatusUpdate{
		TotalPaid: decimal.NewFromInt(100), Paid: true, Status: ledger.StatusPaid,
	}))
	require.NoError(t, store.CancelInvoice(ctx, "inv-dead"))

	open, err := store.ListOpenInvoices(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "inv-open", open[0].ID)
}

// =============================================================================
// ENGINE ON SQLITE
// =============================================================================

func TestSQLite_EngineEndToEnd(t *testing.T) {
	// GIVEN: An engine running on the SQLite store
	// WHEN: Overpaying an invoice and then settling a second one
	// THEN: Splits, balances, and derived invoice status all hold

	store := newTestStore(t)
	ctx := context.Background()
	engine := ledger.NewEngine(store, store)

	require.NoError(t, store.SaveInvoice(ctx, sqlite.Invoice{
		ID: "inv-1", ClientID: "client-1", Total: decimal.NewFromInt(100),
	}))
	require.NoError(t, store.SaveInvoice(ctx, sqlite.Invoice{
		ID: "inv-2", ClientID: "client-1", Total: decimal.NewFromInt(40),
	}))

	created, err := engine.RecordPayment(ctx, ledger.RecordPaymentInput{
		ClientID: "client-1", Amount: decimal.NewFromInt(150), InvoiceID: "inv-1",
	})
	require.NoError(t, err)
	require.Len(t, created, 2)

	_, err = engine.SettleInvoice(ctx, "client-1", "inv-2", decimal.NewFromInt(30))
	require.NoError(t, err)

	records, err := store.ListByClient(ctx, "client-1")
	require.NoError(t, err)

	sum := decimal.Zero
	for _, r := range records {
		sum = sum.Add(r.Amount)
	}
	assert.True(t, sum.Equal(decimal.NewFromInt(150)))
	assert.True(t, ledger.UnallocatedOf(records).Equal(decimal.NewFromInt(20)))

	inv1, err := store.GetInvoiceRecord(ctx, "inv-1")
	require.NoError(t, err)
	assert.True(t, inv1.Paid)
	assert.Equal(t, string(ledger.StatusPaid), inv1.Status)

	inv2, err := store.GetInvoiceRecord(ctx, "inv-2")
	require.NoError(t, err)
	assert.False(t, inv2.Paid)
	assert.Equal(t, string(ledger.StatusPartial), inv2.Status)
	assert.True(t, inv2.TotalPaid.Equal(decimal.NewFromInt(30)))
}

// =============================================================================
// CLIENTS AND RESET
// =============================================================================

func TestSQLite_ClientsAndReset(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveClient(ctx, sqlite.Client{
		ID: "client-1", Name: "Acme", Email: "billing@acme.example",
	}))
	// Upsert keeps the id stable
	require.NoError(t, store.SaveClient(ctx, sqlite.Client{
		ID: "client-1", Name: "Acme Corp",
	}))

	got, err := store.GetClient(ctx, "client-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Acme Corp", got.Name)

	missing, err := store.GetClient(ctx, "client-x")
	require.NoError(t, err)
	assert.Nil(t, missing)

	clients, err := store.ListClients(ctx)
	require.NoError(t, err)
	assert.Len(t, clients, 1)

	require.NoError(t, store.Reset(ctx))
	clients, err = store.ListClients(ctx)
	require.NoError(t, err)
	assert.Empty(t, clients)
}
