// Package store provides in-memory implementations of the ledger's
// persistence interfaces, used by tests and dev mode.
package store

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/warp/payment-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu      sync.RWMutex
	records map[ledger.PaymentID]ledger.PaymentRecord

	lockMu   sync.Mutex
	clientMu map[ledger.ClientID]*sync.Mutex

	// TxHook, when set, runs at the start of every WithClientTx. Tests use
	// it to inject transient failures and exercise the engine's retry path.
	TxHook func() error
}

func NewMemory() *Memory {
	return &Memory{
		records:  make(map[ledger.PaymentID]ledger.PaymentRecord),
		clientMu: make(map[ledger.ClientID]*sync.Mutex),
	}
}

func (m *Memory) ListByClient(_ context.Context, clientID ledger.ClientID) ([]ledger.PaymentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listByClientLocked(clientID), nil
}

func (m *Memory) listByClientLocked(clientID ledger.ClientID) []ledger.PaymentRecord {
	var result []ledger.PaymentRecord
	for _, rec := range m.records {
		if rec.ClientID == clientID {
			result = append(result, rec)
		}
	}
	ledger.SortFIFO(result)
	return result
}

func (m *Memory) ListByInvoice(_ context.Context, invoiceID ledger.InvoiceID) ([]ledger.PaymentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.PaymentRecord
	for _, rec := range m.records {
		if rec.Allocation.Targets(invoiceID) {
			result = append(result, rec)
		}
	}
	ledger.SortFIFO(result)
	return result, nil
}

func (m *Memory) Get(_ context.Context, id ledger.PaymentID) (*ledger.PaymentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok {
		return nil, ledger.ErrPaymentNotFound
	}
	copy := rec
	return &copy, nil
}

func (m *Memory) Create(_ context.Context, rec ledger.PaymentRecord) (ledger.PaymentID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLocked(rec)
}

func (m *Memory) createLocked(rec ledger.PaymentRecord) (ledger.PaymentID, error) {
	if rec.ID == "" {
		rec.ID = ledger.PaymentID(uuid.NewString())
	}
	m.records[rec.ID] = rec
	return rec.ID, nil
}

func (m *Memory) Update(_ context.Context, id ledger.PaymentID, fields ledger.UpdateFields) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateLocked(id, fields)
}

func (m *Memory) updateLocked(id ledger.PaymentID, fields ledger.UpdateFields) error {
	rec, ok := m.records[id]
	if !ok {
		return ledger.ErrPaymentNotFound
	}
	if fields.Amount != nil {
		rec.Amount = *fields.Amount
	}
	if fields.Allocation != nil {
		rec.Allocation = *fields.Allocation
	}
	if fields.Notes != nil {
		rec.Notes = *fields.Notes
	}
	if fields.SettledAt != nil {
		rec.SettledAt = fields.SettledAt
	}
	m.records[id] = rec
	return nil
}

func (m *Memory) Delete(_ context.Context, id ledger.PaymentID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[id]; !ok {
		return ledger.ErrPaymentNotFound
	}
	delete(m.records, id)
	return nil
}

// AllRecords returns every payment record across all clients. Used by the
// reconciliation scan, which deliberately relaxes per-client isolation.
func (m *Memory) AllRecords(_ context.Context) ([]ledger.PaymentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]ledger.PaymentRecord, 0, len(m.records))
	for _, rec := range m.records {
		result = append(result, rec)
	}
	ledger.SortFIFO(result)
	return result, nil
}

// =============================================================================
// PER-CLIENT TRANSACTION SCOPE
// =============================================================================

// WithClientTx serializes mutations per client with a per-client mutex and
// simulates atomicity with a snapshot + rollback on error.
func (m *Memory) WithClientTx(ctx context.Context, clientID ledger.ClientID, fn func(ledger.Store) error) error {
	if m.TxHook != nil {
		if err := m.TxHook(); err != nil {
			return err
		}
	}

	cmu := m.clientLock(clientID)
	cmu.Lock()
	defer cmu.Unlock()

	m.mu.Lock()
	snapshot := m.snapshotClientLocked(clientID)
	m.mu.Unlock()

	view := &txView{parent: m}
	if err := fn(view); err != nil {
		m.mu.Lock()
		m.restoreClientLocked(clientID, snapshot)
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *Memory) clientLock(clientID ledger.ClientID) *sync.Mutex {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()

	cmu, ok := m.clientMu[clientID]
	if !ok {
		cmu = &sync.Mutex{}
		m.clientMu[clientID] = cmu
	}
	return cmu
}

func (m *Memory) snapshotClientLocked(clientID ledger.ClientID) map[ledger.PaymentID]ledger.PaymentRecord {
	snap := make(map[ledger.PaymentID]ledger.PaymentRecord)
	for id, rec := range m.records {
		if rec.ClientID == clientID {
			snap[id] = rec
		}
	}
	return snap
}

func (m *Memory) restoreClientLocked(clientID ledger.ClientID, snap map[ledger.PaymentID]ledger.PaymentRecord) {
	for id, rec := range m.records {
		if rec.ClientID == clientID {
			delete(m.records, id)
		}
	}
	for id, rec := range snap {
		m.records[id] = rec
	}
}

// txView routes writes back to the parent store. The per-client mutex is
// already held, so ops just take the data mutex briefly.
type txView struct {
	parent *Memory
}

func (tv *txView) ListByClient(ctx context.Context, clientID ledger.ClientID) ([]ledger.PaymentRecord, error) {
	return tv.parent.ListByClient(ctx, clientID)
}

func (tv *txView) ListByInvoice(ctx context.Context, invoiceID ledger.InvoiceID) ([]ledger.PaymentRecord, error) {
	return tv.parent.ListByInvoice(ctx, invoiceID)
}

func (tv *txView) Get(ctx context.Context, id ledger.PaymentID) (*ledger.PaymentRecord, error) {
	return tv.parent.Get(ctx, id)
}

func (tv *txView) Create(_ context.Context, rec ledger.PaymentRecord) (ledger.PaymentID, error) {
	tv.parent.mu.Lock()
	defer tv.parent.mu.Unlock()
	return tv.parent.createLocked(rec)
}

func (tv *txView) Update(_ context.Context, id ledger.PaymentID, fields ledger.UpdateFields) error {
	tv.parent.mu.Lock()
	defer tv.parent.mu.Unlock()
	return tv.parent.updateLocked(id, fields)
}

func (tv *txView) Delete(ctx context.Context, id ledger.PaymentID) error {
	return tv.parent.Delete(ctx, id)
}

// =============================================================================
// MEMORY INVOICE DIRECTORY
// =============================================================================

// MemoryInvoices is an in-memory InvoiceDirectory for tests and dev mode.
type MemoryInvoices struct {
	mu       sync.RWMutex
	invoices map[ledger.InvoiceID]ledger.InvoiceSummary
	statuses map[ledger.InvoiceID]ledger.PaymentStatusUpdate
}

func NewMemoryInvoices() *MemoryInvoices {
	return &MemoryInvoices{
		invoices: make(map[ledger.InvoiceID]ledger.InvoiceSummary),
		statuses: make(map[ledger.InvoiceID]ledger.PaymentStatusUpdate),
	}
}

// Put registers or replaces an invoice summary.
func (d *MemoryInvoices) Put(inv ledger.InvoiceSummary) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.invoices[inv.ID] = inv
}

// Cancel marks an invoice cancelled.
func (d *MemoryInvoices) Cancel(id ledger.InvoiceID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if inv, ok := d.invoices[id]; ok {
		inv.Cancelled = true
		d.invoices[id] = inv
	}
}

func (d *MemoryInvoices) GetInvoice(_ context.Context, id ledger.InvoiceID) (*ledger.InvoiceSummary, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	inv, ok := d.invoices[id]
	if !ok {
		return nil, ledger.ErrInvoiceNotFound
	}
	copy := inv
	return &copy, nil
}

func (d *MemoryInvoices) SetPaymentStatus(_ context.Context, id ledger.InvoiceID, update ledger.PaymentStatusUpdate) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.invoices[id]; !ok {
		return ledger.ErrInvoiceNotFound
	}
	d.statuses[id] = update
	return nil
}

// StatusOf returns the last payment status written for an invoice.
func (d *MemoryInvoices) StatusOf(id ledger.InvoiceID) (ledger.PaymentStatusUpdate, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	update, ok := d.statuses[id]
	return update, ok
}

// AllInvoices returns every registered invoice. Used by the reconciliation
// scan.
func (d *MemoryInvoices) AllInvoices(_ context.Context) ([]ledger.InvoiceSummary, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	result := make([]ledger.InvoiceSummary, 0, len(d.invoices))
	for _, inv := range d.invoices {
		result = append(result, inv)
	}
	return result, nil
}
