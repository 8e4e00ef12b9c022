// Package metrics exposes Prometheus instrumentation for tree evaluations.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the evaluation engine. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	// Evaluations by tree and outcome (promotion, error)
	Evaluations *prometheus.CounterVec

	// Overall evaluation latency by tree
	EvaluateLatency *prometheus.HistogramVec

	// Node executions by command type and status (success, fallback, failure)
	NodeExecutions *prometheus.CounterVec

	// External call latency by system type and outcome
	ExternalCallLatency *prometheus.HistogramVec

	// Fallback substitutions by node type
	Fallbacks *prometheus.CounterVec
}

// New creates a Metrics instance registered with reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		Evaluations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "promoflow_evaluations_total",
			Help: "Total tree evaluations by tree and outcome",
		}, []string{"tree", "outcome"}),

		EvaluateLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "promoflow_evaluate_duration_seconds",
			Help:    "Duration of a full tree evaluation",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"tree"}),

		NodeExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "promoflow_node_executions_total",
			Help: "Node executions by command type and status",
		}, []string{"command_type", "status"}),

		ExternalCallLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "promoflow_external_call_duration_seconds",
			Help:    "Duration of external system calls by system type and outcome",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"system", "outcome"}),

		Fallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "promoflow_fallbacks_total",
			Help: "Fallback results substituted for failed external calls by node type",
		}, []string{"node_type"}),
	}
}

// ObserveEvaluation records one finished evaluation.
func (m *Metrics) ObserveEvaluation(treeID, outcome string, d time.Duration) {
	if m != nil {
		m.Evaluations.WithLabelValues(treeID, outcome).Inc()
		m.EvaluateLatency.WithLabelValues(treeID).Observe(d.Seconds())
	}
}

// IncrementNodeExecution records one node visit.
func (m *Metrics) IncrementNodeExecution(commandType, status string) {
	if m != nil {
		m.NodeExecutions.WithLabelValues(commandType, status).Inc()
	}
}

// ObserveExternalCall records the duration of a call to an external system.
func (m *Metrics) ObserveExternalCall(system, outcome string, d time.Duration) {
	if m != nil {
		m.ExternalCallLatency.WithLabelValues(system, outcome).Observe(d.Seconds())
	}
}

// IncrementFallback records a fallback substitution.
func (m *Metrics) IncrementFallback(nodeType string) {
	if m != nil {
		m.Fallbacks.WithLabelValues(nodeType).Inc()
	}
}
