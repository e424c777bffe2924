package security

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus collectors
type Metrics struct {
	Evaluations        *prometheus.CounterVec
	EvaluationDuration prometheus.Histogram
	AuditEntries       *prometheus.CounterVec
	AuditDropped       prometheus.Counter
	ApprovalRequests   *prometheus.CounterVec
	AlertsRaised       *prometheus.CounterVec
	AlertsDropped      prometheus.Counter
	AnomaliesDetected  *prometheus.CounterVec
}

// NewMetrics creates and registers the engine's collectors. Pass nil to use
// the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		Evaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "security_evaluations_total",
				Help: "Total number of permission evaluations",
			},
			[]string{"result", "reason"},
		),
		EvaluationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "security_evaluation_duration_seconds",
				Help:    "Duration of permission evaluations in seconds",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
		),
		AuditEntries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "security_audit_entries_total",
				Help: "Total number of audit entries recorded",
			},
			[]string{"category", "severity"},
		),
		AuditDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "security_audit_entries_dropped_total",
				Help: "Total number of audit entries dropped by configuration filters",
			},
		),
		ApprovalRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "security_approval_requests_total",
				Help: "Total number of approval request state transitions",
			},
			[]string{"status"},
		),
		AlertsRaised: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "security_alerts_total",
				Help: "Total number of security alerts raised",
			},
			[]string{"type", "severity"},
		),
		AlertsDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "security_alerts_dropped_total",
				Help: "Total number of alerts dropped due to a full queue",
			},
		),
		AnomaliesDetected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "security_anomalies_detected_total",
				Help: "Total number of anomalies detected per rule",
			},
			[]string{"rule"},
		),
	}

	reg.MustRegister(
		m.Evaluations,
		m.EvaluationDuration,
		m.AuditEntries,
		m.AuditDropped,
		m.ApprovalRequests,
		m.AlertsRaised,
		m.AlertsDropped,
		m.AnomaliesDetected,
	)
	return m
}
