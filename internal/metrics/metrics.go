package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Engine self-metrics for production monitoring
var (
	// Sampling metrics
	SamplesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostpulse_samples_total",
			Help: "Total number of samples processed",
		},
		[]string{"source"}, // source: live/replay
	)

	SampleReadFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostpulse_sample_read_failures_total",
			Help: "Total number of transient counter read failures",
		},
		[]string{"counter"}, // counter: cpu/frequency/memory/disk/network
	)

	// Detector metrics
	AnomaliesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostpulse_anomalies_total",
			Help: "Total number of scored anomalies by severity band",
		},
		[]string{"severity"},
	)

	FitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostpulse_detector_fits_total",
			Help: "Total number of model fit attempts",
		},
		[]string{"result"}, // result: success/failure
	)

	FitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hostpulse_detector_fit_duration_seconds",
			Help:    "Model fit duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
	)

	EngineState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hostpulse_engine_state",
			Help: "Current engine state (1 for the active state, 0 otherwise)",
		},
		[]string{"state"},
	)

	// Persistence metrics
	PersistenceFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostpulse_persistence_failures_total",
			Help: "Total number of dropped log writes",
		},
		[]string{"target"}, // target: samples/anomalies
	)

	// Subscriber metrics
	DroppedEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hostpulse_subscriber_dropped_events_total",
			Help: "Total number of events dropped from full subscriber queues",
		},
	)

	Subscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hostpulse_subscribers",
			Help: "Current number of registered subscribers",
		},
	)

	// WebSocket metrics
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hostpulse_websocket_connections",
			Help: "Current number of active WebSocket connections",
		},
	)
)

// SetEngineState flips the state gauge so exactly one state reads 1.
func SetEngineState(state string) {
	for _, s := range []string{"cold", "training", "ready", "error", "stopped"} {
		v := 0.0
		if s == state {
			v = 1.0
		}
		EngineState.WithLabelValues(s).Set(v)
	}
}
