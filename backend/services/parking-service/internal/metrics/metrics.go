// Package metrics exposes the engine's Prometheus collectors.
package metrics

import (
	"context"
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Scan directions.
const (
	DirectionEntry = "entry"
	DirectionExit  = "exit"
)

// Job error reasons.
const (
	ReasonDeadlineExceeded     = "deadline_exceeded"
	ReasonLockTimeout          = "db_lock_timeout"
	ReasonSerializationFailure = "serialization_failure"
	ReasonUniqueViolation      = "unique_violation"
	ReasonUnknown              = "unknown"
)

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry       *prometheus.Registry
	scans          *prometheus.CounterVec
	chargeAmount   prometheus.Histogram
	discounts      prometheus.Counter
	payments       prometheus.Counter
	paymentAmount  prometheus.Counter
	overdueFlagged prometheus.Counter
	jobErrors      *prometheus.CounterVec
	gateConns      prometheus.Gauge
}

// New registers the collectors on a fresh registry together with the Go and
// process collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return newMetrics(registry)
}

func newMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: registry,
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parkwise_gate_scans_total",
			Help: "Gate scans by direction and outcome code.",
		}, []string{"direction", "outcome"}),
		chargeAmount: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "parkwise_charge_amount",
			Help:    "Amounts of created charges.",
			Buckets: []float64{0, 1, 2.5, 5, 10, 20, 35, 50, 75, 100, 200},
		}),
		discounts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parkwise_charge_discounts_total",
			Help: "Sum of tier discounts granted on created charges.",
		}),
		payments: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parkwise_payments_total",
			Help: "Recorded invoice payments.",
		}),
		paymentAmount: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parkwise_payment_amount_total",
			Help: "Sum of recorded payment amounts.",
		}),
		overdueFlagged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parkwise_charges_overdue_total",
			Help: "Charges flagged overdue by the sweep.",
		}),
		jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parkwise_job_errors_total",
			Help: "Background job errors by job and reason.",
		}, []string{"job", "reason"}),
		gateConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "parkwise_gate_connections",
			Help: "Open gate terminal connections.",
		}),
	}
	registry.MustRegister(
		m.scans,
		m.chargeAmount,
		m.discounts,
		m.payments,
		m.paymentAmount,
		m.overdueFlagged,
		m.jobErrors,
		m.gateConns,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveScan counts a gate scan.
func (m *Metrics) ObserveScan(direction, outcome string) {
	if m == nil {
		return
	}
	m.scans.WithLabelValues(direction, outcome).Inc()
}

// ObserveCharge records a created charge.
func (m *Metrics) ObserveCharge(amount, discount float64) {
	if m == nil {
		return
	}
	m.chargeAmount.Observe(amount)
	if discount > 0 {
		m.discounts.Add(discount)
	}
}

// ObservePayment records a payment.
func (m *Metrics) ObservePayment(amount float64) {
	if m == nil {
		return
	}
	m.payments.Inc()
	if amount > 0 {
		m.paymentAmount.Add(amount)
	}
}

// AddOverdue counts charges flagged overdue.
func (m *Metrics) AddOverdue(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.overdueFlagged.Add(float64(n))
}

// ObserveJobError counts a failed background job run.
func (m *Metrics) ObserveJobError(job string, err error) {
	if m == nil || err == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifyJobError(err)).Inc()
}

// SetGateConnections sets the number of connected gate terminals.
func (m *Metrics) SetGateConnections(n int) {
	if m == nil {
		return
	}
	m.gateConns.Set(float64(n))
}

// ClassifyJobError maps err to a low-cardinality reason label.
func ClassifyJobError(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonDeadlineExceeded
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03":
			return ReasonLockTimeout
		case "40001", "40P01":
			return ReasonSerializationFailure
		case "23505":
			return ReasonUniqueViolation
		}
	}
	return ReasonUnknown
}
