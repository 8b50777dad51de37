// Package metrics exposes Prometheus instrumentation for the event
// pipeline, the anomaly model and the trust engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsCollected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trustd_events_collected_total",
			Help: "Total number of events received from the collectors",
		},
		[]string{"event_type"},
	)

	EventsScored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trustd_events_scored_total",
			Help: "Total number of events scored by the anomaly model",
		},
	)

	AnomaliesDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trustd_anomalies_detected_total",
			Help: "Total number of events flagged as anomalous",
		},
		[]string{"event_type"},
	)

	AnomaliesResolved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trustd_anomalies_resolved_total",
			Help: "Total number of anomalies resolved by an operator",
		},
	)

	TrainingRuns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trustd_training_runs_total",
			Help: "Total number of completed model training runs",
		},
	)

	TrainingEvents = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "trustd_training_corpus_events",
			Help: "Number of events in the current training corpus",
		},
	)

	TrustScore = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "trustd_trust_score",
			Help: "Current session trust score",
		},
	)

	AlertsTriggered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trustd_alerts_triggered_total",
			Help: "Total number of trust score alerts",
		},
	)

	ModelTrained = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "trustd_model_trained",
			Help: "Whether a trained anomaly model is loaded (1) or not (0)",
		},
	)

	BroadcastClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "trustd_broadcast_clients",
			Help: "Number of connected websocket clients",
		},
	)

	BroadcastDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trustd_broadcast_dropped_total",
			Help: "Total number of messages dropped for slow websocket clients",
		},
	)
)
