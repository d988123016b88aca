// Package metrics exposes the runtime's Prometheus counters: messages
// routed (C10), checkpoints saved/failed (C11), and directive execution
// outcomes (C8). Grounded on hector's pkg/observability/metrics.go
// (registry-owning Metrics struct, CounterVec-per-concern, nil-receiver
// no-ops), trimmed to the counters this runtime's components actually
// emit.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns the process's metric registry. A nil *Metrics is valid and
// every Record/Inc method on it is a no-op, so components can hold one
// unconditionally without a feature-flag check at every call site.
type Metrics struct {
	registry *prometheus.Registry

	messagesRouted    *prometheus.CounterVec
	checkpointsSaved  *prometheus.CounterVec
	checkpointsFailed *prometheus.CounterVec
	directiveOutcomes *prometheus.CounterVec
	meetingsActive    prometheus.Gauge
}

// New creates a Metrics instance with its own registry. Pass false to
// disable metrics collection entirely (all recorded calls become no-ops).
func New(enabled bool) *Metrics {
	if !enabled {
		return nil
	}
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.messagesRouted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "playbooks",
		Subsystem: "program",
		Name:      "messages_routed_total",
		Help:      "Total number of messages routed between agents.",
	}, []string{"message_type"})

	m.checkpointsSaved = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "playbooks",
		Subsystem: "checkpoint",
		Name:      "saved_total",
		Help:      "Total number of checkpoint records saved.",
	}, []string{"scope"})

	m.checkpointsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "playbooks",
		Subsystem: "checkpoint",
		Name:      "failed_total",
		Help:      "Total number of checkpoint save/load failures.",
	}, []string{"scope", "op"})

	m.directiveOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "playbooks",
		Subsystem: "executor",
		Name:      "directive_outcomes_total",
		Help:      "Directive executions by kind and outcome.",
	}, []string{"kind", "outcome"})

	m.meetingsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "playbooks",
		Subsystem: "meeting",
		Name:      "active",
		Help:      "Number of currently open meetings.",
	})

	m.registry.MustRegister(m.messagesRouted, m.checkpointsSaved, m.checkpointsFailed,
		m.directiveOutcomes, m.meetingsActive)
	return m
}

// RecordMessageRouted increments the routed-message counter.
func (m *Metrics) RecordMessageRouted(messageType string) {
	if m == nil {
		return
	}
	m.messagesRouted.WithLabelValues(messageType).Inc()
}

// RecordCheckpointSaved increments the checkpoint-saved counter.
func (m *Metrics) RecordCheckpointSaved(scope string) {
	if m == nil {
		return
	}
	m.checkpointsSaved.WithLabelValues(scope).Inc()
}

// RecordCheckpointFailed increments the checkpoint-failure counter.
func (m *Metrics) RecordCheckpointFailed(scope, op string) {
	if m == nil {
		return
	}
	m.checkpointsFailed.WithLabelValues(scope, op).Inc()
}

// RecordDirectiveOutcome increments the directive-outcome counter.
func (m *Metrics) RecordDirectiveOutcome(kind, outcome string) {
	if m == nil {
		return
	}
	m.directiveOutcomes.WithLabelValues(kind, outcome).Inc()
}

// SetMeetingsActive sets the open-meetings gauge.
func (m *Metrics) SetMeetingsActive(n int) {
	if m == nil {
		return
	}
	m.meetingsActive.Set(float64(n))
}

// Handler returns the Prometheus scrape handler, or a 503 stub if metrics
// are disabled.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
