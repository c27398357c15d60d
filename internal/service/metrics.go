package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics recorded by the firewall services.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Decisions       *prometheus.CounterVec
	Approvals       *prometheus.CounterVec
	AuditWrites     *prometheus.CounterVec
	LedgerErrors    *prometheus.CounterVec
	EnforceDuration prometheus.Histogram
}

// NewMetrics creates and registers all service metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Decisions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "aegis",
				Name:      "decisions_total",
				Help:      "Policy decisions by outcome",
			},
			[]string{"status"}, // allowed/pending/blocked
		),
		Approvals: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "aegis",
				Name:      "approvals_total",
				Help:      "Approval ledger records written, by status",
			},
			[]string{"status"}, // pending/approved/denied
		),
		AuditWrites: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "aegis",
				Name:      "audit_writes_total",
				Help:      "Audit records written, by action",
			},
			[]string{"action"},
		),
		LedgerErrors: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "aegis",
				Name:      "ledger_errors_total",
				Help:      "Failed ledger appends and skipped malformed records",
			},
			[]string{"store"}, // audit/approvals
		),
		EnforceDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "aegis",
				Name:      "enforce_duration_seconds",
				Help:      "Time to evaluate, audit, and record an enforcement",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}
}

func (m *Metrics) decision(status string) {
	if m != nil {
		m.Decisions.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) approval(status string) {
	if m != nil {
		m.Approvals.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) auditWrite(action string) {
	if m != nil {
		m.AuditWrites.WithLabelValues(action).Inc()
	}
}

func (m *Metrics) ledgerError(store string) {
	if m != nil {
		m.LedgerErrors.WithLabelValues(store).Inc()
	}
}

func (m *Metrics) observeEnforce(seconds float64) {
	if m != nil {
		m.EnforceDuration.Observe(seconds)
	}
}
