package monitoring

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics manages the Prometheus metrics for the slip engine.
type Metrics struct {
	SlipRequests    *prometheus.CounterVec
	SlipLatency     *prometheus.HistogramVec
	SlipRevocations *prometheus.CounterVec
	FlowCompletions *prometheus.CounterVec
	PolicyDecisions *prometheus.CounterVec
	ActiveFlows     prometheus.Gauge
	HTTPRequests    *prometheus.CounterVec
	HTTPLatency     *prometheus.HistogramVec
}

// NewMetrics creates and registers the Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		SlipRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "obo_slip_requests_total",
				Help: "Total number of slip requests.",
			},
			[]string{"target", "method", "result"},
		),
		SlipLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "obo_slip_request_latency_seconds",
				Help:    "Latency of slip requests.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"target", "method"},
		),
		SlipRevocations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "obo_slip_revocations_total",
				Help: "Total number of slip revocations.",
			},
			[]string{"target"},
		),
		FlowCompletions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "obo_flow_completions_total",
				Help: "Total number of provisioning flow completions by outcome.",
			},
			[]string{"target", "outcome"},
		),
		PolicyDecisions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "obo_policy_decisions_total",
				Help: "Total number of policy evaluations by decision.",
			},
			[]string{"decision"},
		),
		ActiveFlows: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "obo_pending_flows",
				Help: "Number of provisioning flows currently pending.",
			},
		),
		HTTPRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "obo_http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "route", "status"},
		),
		HTTPLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "obo_http_request_latency_seconds",
				Help:    "Latency of HTTP requests.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

// RecordHTTPRequest records one handled HTTP request.
func (m *Metrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	m.HTTPRequests.WithLabelValues(method, route, fmt.Sprintf("%d", status)).Inc()
	m.HTTPLatency.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordSlipRequest records one slip request outcome.
func (m *Metrics) RecordSlipRequest(target, method, result string, duration time.Duration) {
	m.SlipRequests.WithLabelValues(target, method, result).Inc()
	m.SlipLatency.WithLabelValues(target, method).Observe(duration.Seconds())
}

// RecordSlipRevocation records one revocation.
func (m *Metrics) RecordSlipRevocation(target string) {
	m.SlipRevocations.WithLabelValues(target).Inc()
}

// RecordFlowCompletion records a flow reaching a terminal state.
func (m *Metrics) RecordFlowCompletion(target, outcome string) {
	m.FlowCompletions.WithLabelValues(target, outcome).Inc()
}

// RecordPolicyDecision records one policy evaluation.
func (m *Metrics) RecordPolicyDecision(decision string) {
	m.PolicyDecisions.WithLabelValues(decision).Inc()
}
