// Package metrics provides Prometheus metrics for the fulfillment engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	SchedulesGenerated   prometheus.Counter
	DosesAdministered    prometheus.Counter
	DoseConflicts        prometheus.Counter
	InsufficientStock    prometheus.Counter
	InvoicesIssued       prometheus.Counter
	InvoicedAmount       prometheus.Counter
	PatientsDischarged   prometheus.Counter
	CompletionDuration   prometheus.Histogram
	NotifierScans        prometheus.Counter
	NotificationsQueued  prometheus.Counter
	NotificationsSkipped *prometheus.CounterVec
	NotificationsSent    prometheus.Counter
	NotificationsFailed  prometheus.Counter
	OutboxPending        prometheus.Gauge
	CircuitBreakerState  *prometheus.GaugeVec
}

// New creates and registers all metrics
func New() *Metrics {
	m := &Metrics{
		SchedulesGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "treatment_schedules_generated_total",
			Help: "Total treatment schedules generated from prescriptions",
		}),
		DosesAdministered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "treatment_doses_administered_total",
			Help: "Total doses recorded as administered",
		}),
		DoseConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "treatment_dose_conflicts_total",
			Help: "Total dose completions rejected for state conflicts",
		}),
		InsufficientStock: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "inventory_insufficient_stock_total",
			Help: "Total dose completions rejected for insufficient stock",
		}),
		InvoicesIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "billing_invoices_issued_total",
			Help: "Total invoices issued for consumed medicine",
		}),
		InvoicedAmount: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "billing_invoiced_amount_total",
			Help: "Total invoiced amount",
		}),
		PatientsDischarged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "occupancy_patients_discharged_total",
			Help: "Total outpatients discharged automatically",
		}),
		CompletionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "treatment_completion_duration_seconds",
			Help:    "Dose completion unit-of-work duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		NotifierScans: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notifier_scans_total",
			Help: "Total due-dose scan iterations",
		}),
		NotificationsQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notifier_notifications_queued_total",
			Help: "Total due-dose notifications queued for delivery",
		}),
		NotificationsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifier_notifications_skipped_total",
			Help: "Total notifications skipped, by reason",
		}, []string{"reason"}),
		NotificationsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatcher_notifications_sent_total",
			Help: "Total notifications delivered to the transport",
		}),
		NotificationsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatcher_notifications_failed_total",
			Help: "Total notification deliveries that failed",
		}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending_entries",
			Help: "Pending outbox entries",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 0.5=half-open, 1=open)",
		}, []string{"name"}),
	}

	prometheus.MustRegister(
		m.SchedulesGenerated,
		m.DosesAdministered,
		m.DoseConflicts,
		m.InsufficientStock,
		m.InvoicesIssued,
		m.InvoicedAmount,
		m.PatientsDischarged,
		m.CompletionDuration,
		m.NotifierScans,
		m.NotificationsQueued,
		m.NotificationsSkipped,
		m.NotificationsSent,
		m.NotificationsFailed,
		m.OutboxPending,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
