// Package metrics defines the Prometheus instruments the service exports.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every instrument. Construct once per process with New and
// inject into the services that record.
type Metrics struct {
	RegistrationsTotal    *prometheus.CounterVec
	VerificationsTotal    *prometheus.CounterVec
	LedgerSubmitSeconds   prometheus.Histogram
	LedgerBreakerState    prometheus.Gauge
	CredentialsIssued     *prometheus.CounterVec
	CredentialsRedeemed   *prometheus.CounterVec
	ReconcilerRuns        prometheus.Counter
	ReconcilerRepairs     prometheus.Counter
	OrphanedLedgerEntries prometheus.Counter
	AuditEventsDropped    prometheus.Counter
	HTTPRequestSeconds    *prometheus.HistogramVec
}

// New creates and registers all instruments on the given registerer. Tests
// pass a fresh prometheus.NewRegistry to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RegistrationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "electorate_registrations_total",
			Help: "Registration attempts by outcome.",
		}, []string{"outcome"}),
		VerificationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "electorate_verifications_total",
			Help: "Verification attempts by outcome.",
		}, []string{"outcome"}),
		LedgerSubmitSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "electorate_ledger_submit_seconds",
			Help:    "Latency of ledger submission including confirmation await.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		LedgerBreakerState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "electorate_ledger_breaker_open",
			Help: "1 while the ledger circuit breaker is open, else 0.",
		}),
		CredentialsIssued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "electorate_credentials_issued_total",
			Help: "Credential issuance attempts by result.",
		}, []string{"result"}),
		CredentialsRedeemed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "electorate_credentials_redeemed_total",
			Help: "Credential redemption attempts by result.",
		}, []string{"result"}),
		ReconcilerRuns: factory.NewCounter(prometheus.CounterOpts{
			Name: "electorate_reconciler_runs_total",
			Help: "Reconciliation passes executed.",
		}),
		ReconcilerRepairs: factory.NewCounter(prometheus.CounterOpts{
			Name: "electorate_reconciler_repairs_total",
			Help: "Vault records backfilled with a ledger reference.",
		}),
		OrphanedLedgerEntries: factory.NewCounter(prometheus.CounterOpts{
			Name: "electorate_orphaned_ledger_entries_total",
			Help: "Ledger writes whose matching vault write failed.",
		}),
		AuditEventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "electorate_audit_events_dropped_total",
			Help: "Audit events dropped because the pipeline was full.",
		}),
		HTTPRequestSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "electorate_http_request_seconds",
			Help:    "HTTP request latency by route and status class.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "status"}),
	}
}

// ObserveLedgerSubmit records one submit round trip.
func (m *Metrics) ObserveLedgerSubmit(d time.Duration) {
	m.LedgerSubmitSeconds.Observe(d.Seconds())
}
