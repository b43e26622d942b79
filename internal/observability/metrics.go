package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the flow engine's Prometheus metrics.
//
// Usage:
//
//	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
//	metrics.PhaseDuration.WithLabelValues("sdk", "work").Observe(d.Seconds())
type Metrics struct {
	// PhaseDuration measures phase latency in seconds.
	// Labels: engine (sdk|cli|stub), phase (work|finalize|route)
	PhaseDuration *prometheus.HistogramVec

	// RouteIntents counts navigator decisions.
	// Labels: intent (ADVANCE|LOOP|TERMINATE|BRANCH|EXTEND_GRAPH)
	RouteIntents *prometheus.CounterVec

	// FallbackActivations counts degradations to the stub tier.
	// Labels: engine (the tier that failed)
	FallbackActivations *prometheus.CounterVec

	// TruncationEvents counts context packs that required trimming.
	TruncationEvents prometheus.Counter

	// ActiveRuns is a gauge of runs currently executing.
	ActiveRuns prometheus.Gauge

	// RunsCompleted counts runs by terminal status.
	// Labels: status (succeeded|failed|canceled)
	RunsCompleted *prometheus.CounterVec

	// StepsExecuted counts node executions.
	// Labels: engine
	StepsExecuted *prometheus.CounterVec
}

// NewMetrics registers and returns the engine's metrics. Passing nil
// uses the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		PhaseDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flowline_phase_duration_seconds",
			Help:    "Session phase latency by engine and phase.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"engine", "phase"}),

		RouteIntents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "flowline_route_intents_total",
			Help: "Navigator decisions by intent.",
		}, []string{"intent"}),

		FallbackActivations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "flowline_fallback_activations_total",
			Help: "Degradations to the stub tier by failing engine.",
		}, []string{"engine"}),

		TruncationEvents: factory.NewCounter(prometheus.CounterOpts{
			Name: "flowline_context_truncations_total",
			Help: "Context packs that exceeded a history budget.",
		}),

		ActiveRuns: factory.NewGauge(prometheus.GaugeOpts{
			Name: "flowline_active_runs",
			Help: "Runs currently executing.",
		}),

		RunsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "flowline_runs_completed_total",
			Help: "Runs reaching a terminal status.",
		}, []string{"status"}),

		StepsExecuted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "flowline_steps_executed_total",
			Help: "Node executions by engine.",
		}, []string{"engine"}),
	}
}
