// Package metrics provides Prometheus metrics for the approval engine:
// decision outcomes, pipeline and attribution latency, and audit store
// health. Metrics are exposed on the /metrics endpoint of the metrics port.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the approval engine.
type Metrics struct {
	// Decision metrics
	DecisionsApproved prometheus.Counter   // Total approved decisions
	DecisionsRejected prometheus.Counter   // Total rejected decisions
	SchemaErrors      prometheus.Counter   // Applications rejected for schema violations
	PipelineLatency   prometheus.Histogram // End-to-end pipeline latency in seconds

	// Attribution metrics
	AttributionLatency prometheus.Histogram // Shapley attribution latency in seconds
	AttributionSamples prometheus.Gauge     // Configured permutation sample count

	// Audit store metrics
	AuditAppends  prometheus.Counter // Successful audit appends
	AuditRetries  prometheus.Counter // Audit append retries after a storage failure
	AuditFailures prometheus.Counter // Audit appends abandoned after retry

	// Transport metrics
	StreamClients prometheus.Gauge // Connected decision-stream websocket clients
}

// New creates and registers all metrics using the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry (useful for testing).
// This allows for isolated metric collection in tests without affecting
// the global Prometheus registry.
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		DecisionsApproved: factory.NewCounter(prometheus.CounterOpts{
			Name: "decisions_approved_total",
			Help: "Total number of approved loan decisions",
		}),
		DecisionsRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "decisions_rejected_total",
			Help: "Total number of rejected loan decisions",
		}),
		SchemaErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "schema_errors_total",
			Help: "Total number of applications rejected for schema violations",
		}),
		PipelineLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pipeline_latency_seconds",
			Help:    "End-to-end decision pipeline latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}),
		AttributionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "attribution_latency_seconds",
			Help:    "Shapley attribution latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}),
		AttributionSamples: factory.NewGauge(prometheus.GaugeOpts{
			Name: "attribution_sample_count",
			Help: "Configured number of sampled permutations per attribution",
		}),
		AuditAppends: factory.NewCounter(prometheus.CounterOpts{
			Name: "audit_appends_total",
			Help: "Total number of successful audit record appends",
		}),
		AuditRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "audit_retries_total",
			Help: "Total number of audit append retries after storage failures",
		}),
		AuditFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "audit_failures_total",
			Help: "Total number of audit appends abandoned after retry",
		}),
		StreamClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "stream_clients",
			Help: "Number of connected decision-stream websocket clients",
		}),
	}
}
