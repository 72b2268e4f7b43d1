// Package metrics exposes pipeline counters and gauges through Prometheus.
//
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the pipeline collectors.
type Metrics struct {
	Operations    *prometheus.CounterVec
	QueueDepth    prometheus.Gauge
	RetryAttempts prometheus.Counter
	Transitions   *prometheus.CounterVec
}

// New registers the collectors with reg. A nil reg uses a private registry,
// so library users never touch the global default.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		Operations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sqlpipe_operations_total",
			Help: "Completed pipeline operations by outcome.",
		}, []string{"outcome"}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "sqlpipe_queue_depth",
			Help: "Requests waiting in the operation queue.",
		}),
		RetryAttempts: f.NewCounter(prometheus.CounterOpts{
			Name: "sqlpipe_retry_attempts_total",
			Help: "Reconnect attempts scheduled after connection failures.",
		}),
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sqlpipe_state_transitions_total",
			Help: "Controller state transitions by source and target state.",
		}, []string{"from", "to"}),
	}
}

// OperationCompleted counts one completion.
func (m *Metrics) OperationCompleted(success bool) {
	if m == nil {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.Operations.WithLabelValues(outcome).Inc()
}

// SetQueueDepth records the current queue length.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

// RetryAttempt counts one scheduled reconnect.
func (m *Metrics) RetryAttempt() {
	if m == nil {
		return
	}
	m.RetryAttempts.Inc()
}

// Transition counts one settle point.
func (m *Metrics) Transition(from, to string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(from, to).Inc()
}
