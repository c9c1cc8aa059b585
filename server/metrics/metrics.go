// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Sessions
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lobby_connections_active",
			Help: "Current number of registered connections",
		},
	)

	ConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lobby_connections_total",
			Help: "Total number of accepted connections",
		},
		[]string{"transport"},
	)

	RoomTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lobby_room_transitions_total",
			Help: "Total number of join and leave transitions",
		},
		[]string{"kind"}, // "join", "leave", "disconnect"
	)

	RequestErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lobby_request_errors_total",
			Help: "Rejected client requests by request type and error kind",
		},
		[]string{"request", "kind"},
	)

	// Fan-out
	MessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lobby_messages_sent_total",
			Help: "Total number of chat messages persisted and broadcast",
		},
	)

	BroadcastRecipients = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lobby_broadcast_recipients",
			Help:    "Number of connections reached by one room broadcast",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
		},
	)

	OutboxDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lobby_outbox_dropped_total",
			Help: "Events dropped because a client outbox was full",
		},
	)

	// Storage
	StoreDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lobby_store_duration_seconds",
			Help:    "Duration of durable store calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lobby_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	StateSwept = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lobby_state_swept_total",
			Help: "Expired state entries removed by the background sweep",
		},
	)
)

// ObserveStore records how long a durable store operation took.
func ObserveStore(operation string, start time.Time) {
	StoreDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
