package lifecycle

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Al3x2023/AlertaRaven4/internal/alert"
)

// Metrics holds Prometheus metrics for the lifecycle subsystem.
type Metrics struct {
	SubmitsTotal     *prometheus.CounterVec
	PipelinesTotal   *prometheus.CounterVec
	PipelineDuration *prometheus.HistogramVec
	TransitionsTotal *prometheus.CounterVec
	OverridesTotal   *prometheus.CounterVec
}

// NewMetrics registers and returns lifecycle metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SubmitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alertaraven_submits_total",
			Help: "Total alert submissions by result.",
		}, []string{"result"}),
		PipelinesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alertaraven_pipelines_total",
			Help: "Total pipeline runs by terminal status.",
		}, []string{"status"}),
		PipelineDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "alertaraven_pipeline_duration_seconds",
			Help:    "Duration of automatic pipeline runs in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 0.1s .. ~51s
		}, []string{"status"}),
		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alertaraven_transitions_total",
			Help: "Total persisted status transitions.",
		}, []string{"from", "to"}),
		OverridesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alertaraven_overrides_total",
			Help: "Total operator status overrides by chosen status.",
		}, []string{"status"}),
	}

	reg.MustRegister(
		m.SubmitsTotal,
		m.PipelinesTotal,
		m.PipelineDuration,
		m.TransitionsTotal,
		m.OverridesTotal,
	)

	return m
}

// Hooks returns an EngineHooks that increments the corresponding metrics.
func (m *Metrics) Hooks() EngineHooks {
	return EngineHooks{
		OnTransition: func(from, to alert.Status) {
			m.TransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
		},
		OnComplete: func(status alert.Status, seconds float64) {
			m.PipelinesTotal.WithLabelValues(string(status)).Inc()
			m.PipelineDuration.WithLabelValues(string(status)).Observe(seconds)
		},
	}
}
