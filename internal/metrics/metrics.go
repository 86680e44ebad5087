// Package metrics exposes Prometheus instrumentation for the intent
// pipeline. Collectors are package-level and registered at init, mirroring
// the HTTP-layer metrics: low-cardinality labels (action, outcome, reason)
// chosen to stay dashboard-friendly under many guilds.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// IntentsTotal counts intents reaching a terminal status, by action and
	// outcome (completed/failed/dropped/expired/cancelled).
	IntentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voice_intents_total",
			Help: "Total number of intents reaching a terminal status.",
		},
		[]string{"action", "outcome"},
	)

	// IntentDuration records wall time from admission to terminal status.
	IntentDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "voice_intent_duration_seconds",
			Help:    "Intent latency from admission to terminal status.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"action"},
	)

	// QueueDepth gauges the number of intents waiting in the queue.
	QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "voice_queue_depth",
		Help: "Current number of intents waiting in the queue.",
	})

	// RatePressure gauges the governor's 0-100 pressure score.
	RatePressure = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "voice_rate_pressure",
		Help: "Current rate governor pressure score (0-100).",
	})

	// EmergencyMode gauges whether emergency mode is active (0/1).
	EmergencyMode = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "voice_emergency_mode",
		Help: "Whether the rate governor is in emergency mode.",
	})

	// CircuitBreaker gauges whether the circuit breaker is open (0/1).
	CircuitBreaker = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "voice_circuit_breaker_open",
		Help: "Whether the pipeline circuit breaker is open.",
	})

	// ActiveWorkers gauges currently executing workers.
	ActiveWorkers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "voice_active_workers",
		Help: "Number of workers currently executing intents.",
	})

	// DroppedTotal counts intents refused admission, by drop reason.
	DroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voice_queue_dropped_total",
			Help: "Total number of intents refused admission to the queue.",
		},
		[]string{"reason"},
	)

	// RateLimitHits counts external 429 responses, by route.
	RateLimitHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voice_rate_limit_hits_total",
			Help: "Total number of platform 429 responses.",
		},
		[]string{"route"},
	)

	// ConsistencyWarnings counts external-succeeded/durable-failed splits.
	// Each one is drift the reconciliation job must heal.
	ConsistencyWarnings = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "voice_consistency_warnings_total",
		Help: "Mutations applied externally whose durable write failed.",
	})
)

func init() {
	prometheus.MustRegister(
		IntentsTotal,
		IntentDuration,
		QueueDepth,
		RatePressure,
		EmergencyMode,
		CircuitBreaker,
		ActiveWorkers,
		DroppedTotal,
		RateLimitHits,
		ConsistencyWarnings,
	)
}
