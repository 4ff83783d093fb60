/*
metrics.go - Prometheus instrumentation

PURPOSE:
  Counters and histograms for the allocation operations. Exposed on /metrics
  and scraped by Prometheus; complements the request logging middleware.

METRICS:
  payment_ledger_payments_recorded_total    Payments accepted
  payment_ledger_payment_amount             Distribution of payment amounts
  payment_ledger_settlements_total          Settlements applied
  payment_ledger_operation_failures_total   Failed operations by name
  payment_ledger_recon_findings             Findings per reconciliation run

SEE ALSO:
  - handlers.go: Call sites
  - server.go: /metrics route
*/
package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
)

// Metrics holds the Prometheus collectors for the API. Each instance gets
// its own registry so handlers can be constructed repeatedly (tests) without
// duplicate-registration panics.
type Metrics struct {
	Registry *prometheus.Registry

	paymentsRecorded  prometheus.Counter
	paymentAmounts    prometheus.Histogram
	settlements       prometheus.Counter
	operationFailures *prometheus.CounterVec
	reconFindings     prometheus.Histogram
}

// NewMetrics creates a registry and registers the collectors on it.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		Registry: registry,
		paymentsRecorded: factory.NewCounter(prometheus.CounterOpts{
			Name: "payment_ledger_payments_recorded_total",
			Help: "Number of payments recorded.",
		}),
		paymentAmounts: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "payment_ledger_payment_amount",
			Help:    "Distribution of recorded payment amounts.",
			Buckets: prometheus.ExponentialBuckets(10, 4, 8),
		}),
		settlements: factory.NewCounter(prometheus.CounterOpts{
			Name: "payment_ledger_settlements_total",
			Help: "Number of invoice settlements applied.",
		}),
		operationFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_ledger_operation_failures_total",
			Help: "Failed allocation operations by operation name.",
		}, []string{"operation"}),
		reconFindings: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "payment_ledger_recon_findings",
			Help:    "Findings per reconciliation run.",
			Buckets: []float64{0, 1, 2, 5, 10, 50, 100},
		}),
	}
}

// PaymentRecorded counts an accepted payment.
func (m *Metrics) PaymentRecorded(amount decimal.Decimal) {
	if m == nil {
		return
	}
	m.paymentsRecorded.Inc()
	m.paymentAmounts.Observe(amount.InexactFloat64())
}

// InvoiceSettled counts an applied settlement.
func (m *Metrics) InvoiceSettled(amount decimal.Decimal) {
	if m == nil {
		return
	}
	m.settlements.Inc()
}

// OperationFailed counts a failed operation.
func (m *Metrics) OperationFailed(operation string) {
	if m == nil {
		return
	}
	m.operationFailures.WithLabelValues(operation).Inc()
}

// ReconciliationRan records the findings of a scan.
func (m *Metrics) ReconciliationRan(findings int) {
	if m == nil {
		return
	}
	m.reconFindings.Observe(float64(findings))
}
