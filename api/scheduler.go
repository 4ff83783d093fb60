/*
scheduler.go - Automated overdue status refresher

PURPOSE:
  An invoice becomes overdue by the passage of time alone, with no allocation
  change to trigger a recompute. This scheduler periodically rederives the
  payment status of every open invoice so unpaid ones age into overdue.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Only touches invoices that are neither paid nor cancelled
  - Recomputes through the engine, so the status math has one definition

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewOverdueScheduler(store, handler)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - ledger/types.go: StatusFor, the status derivation
  - handlers.go: RecomputeInvoice endpoint (manual recompute)
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/warp/payment-ledger/ledger"
	"github.com/warp/payment-ledger/store/sqlite"
)

// OverdueScheduler handles periodic overdue status refreshes.
type OverdueScheduler struct {
	Store         *sqlite.Store
	Handler       *Handler
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewOverdueScheduler creates a new scheduler.
func NewOverdueScheduler(store *sqlite.Store, handler *Handler) *OverdueScheduler {
	return &OverdueScheduler{
		Store:         store,
		Handler:       handler,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the scheduler.
func (sc *OverdueScheduler) Start() {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if !sc.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}

	sc.ticker = time.NewTicker(sc.CheckInterval)
	sc.wg.Add(1)

	go sc.run()

	log.Printf("[Scheduler] Started with check interval: %v", sc.CheckInterval)
}

// Stop stops the scheduler.
func (sc *OverdueScheduler) Stop() {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.ticker != nil {
		sc.ticker.Stop()
		close(sc.stop)
		sc.wg.Wait()
		log.Println("[Scheduler] Stopped")
	}
}

func (sc *OverdueScheduler) run() {
	defer sc.wg.Done()

	// Run immediately on start
	sc.refreshOpenInvoices()

	for {
		select {
		case <-sc.ticker.C:
			sc.refreshOpenInvoices()
		case <-sc.stop:
			return
		}
	}
}

func (sc *OverdueScheduler) refreshOpenInvoices() {
	ctx := context.Background()

	invoices, err := sc.Store.ListOpenInvoices(ctx)
	if err != nil {
		log.Printf("[Scheduler] Error listing open invoices: %v", err)
		return
	}

	refreshed := 0
	for _, inv := range invoices {
		if err := sc.Handler.Engine.RecomputeInvoiceTotals(ctx, ledger.InvoiceID(inv.ID)); err != nil {
			log.Printf("[Scheduler] Error recomputing invoice %s: %v", inv.ID, err)
			continue
		}
		refreshed++
	}

	if refreshed > 0 {
		log.Printf("[Scheduler] Refreshed status of %d open invoices", refreshed)
	}
}
