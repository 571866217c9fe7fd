// Package metrics holds specgate's Prometheus collectors.
//
// Collectors live on a private registry so tests and multiple servers in
// one process never collide. Every method is safe on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "specgate"

// Metrics groups the collectors.
type Metrics struct {
	registry *prometheus.Registry

	validations        *prometheus.CounterVec
	validationDuration prometheus.Histogram
	compilations       *prometheus.CounterVec
	acceptances        *prometheus.CounterVec
	generations        *prometheus.CounterVec
	triggerFirings     *prometheus.CounterVec
	transitions        *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		// Labels: outcome (pass, fail, blocked, replayed)
		validations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validations_total",
			Help:      "Validation attempts by outcome",
		}, []string{"outcome"}),

		validationDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "validation_duration_seconds",
			Help:      "Validation gate latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),

		// Labels: outcome (compiled, reused, already_compiled, error)
		compilations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compilations_total",
			Help:      "Authority compilations by outcome",
		}, []string{"outcome"}),

		// Labels: decision, policy
		acceptances: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acceptance_decisions_total",
			Help:      "Acceptance records appended",
		}, []string{"decision", "policy"}),

		// Labels: task, outcome (ok, error, schema_mismatch)
		generations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_attempts_total",
			Help:      "Calls to the generation capability",
		}, []string{"task", "outcome"}),

		// Labels: trigger
		triggerFirings: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trigger_firings_total",
			Help:      "Workflow trigger firings",
		}, []string{"trigger"}),

		// Labels: from, to
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_transitions_total",
			Help:      "Workflow phase transitions",
		}, []string{"from", "to"}),
	}
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveValidation(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.validations.WithLabelValues(outcome).Inc()
	m.validationDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveCompilation(outcome string) {
	if m == nil {
		return
	}
	m.compilations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveAcceptance(decision, policy string) {
	if m == nil {
		return
	}
	m.acceptances.WithLabelValues(decision, policy).Inc()
}

func (m *Metrics) ObserveGeneration(task, outcome string) {
	if m == nil {
		return
	}
	m.generations.WithLabelValues(task, outcome).Inc()
}

func (m *Metrics) ObserveTrigger(name string) {
	if m == nil {
		return
	}
	m.triggerFirings.WithLabelValues(name).Inc()
}

func (m *Metrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}
