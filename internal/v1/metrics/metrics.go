package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the game signaling server.
//
// Naming convention: namespace_subsystem_name
// - namespace: game_signaling
// - subsystem: websocket, room, reconnect
//
// Metric Types:
// - Gauge: current state (connections, rooms, members)
// - Counter: cumulative events (messages, sweeps, rejections)
// - Histogram: distributions (handling latency, fanout size)

var (
	// ActiveConnections tracks the current number of live WebSocket sessions.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "game_signaling",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket sessions",
	})

	// ActiveRooms tracks the current number of live rooms.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "game_signaling",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active rooms",
	})

	// RoomMembers tracks member counts per game.
	RoomMembers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "game_signaling",
		Subsystem: "room",
		Name:      "members_count",
		Help:      "Number of room members per game",
	}, []string{"game"})

	// MessagesProcessed counts inbound messages by type and outcome.
	MessagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "game_signaling",
		Subsystem: "websocket",
		Name:      "messages_total",
		Help:      "Total inbound messages processed",
	}, []string{"message_type", "status"})

	// MessageHandlingDuration tracks time spent in message handlers.
	MessageHandlingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "game_signaling",
		Subsystem: "websocket",
		Name:      "message_handling_seconds",
		Help:      "Time spent handling inbound messages",
		Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5},
	}, []string{"message_type"})

	// BroadcastFanout tracks recipients per room broadcast.
	BroadcastFanout = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "game_signaling",
		Subsystem: "room",
		Name:      "broadcast_fanout",
		Help:      "Number of recipients per room broadcast",
		Buckets:   []float64{1, 2, 4, 8, 16, 32, 64},
	})

	// SlowConsumerCloses counts sessions closed for full outbound queues.
	SlowConsumerCloses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "game_signaling",
		Subsystem: "websocket",
		Name:      "slow_consumer_closes_total",
		Help:      "Sessions closed because their outbound queue filled",
	})

	// ReconnectAttempts counts reconnect attempts by outcome.
	ReconnectAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "game_signaling",
		Subsystem: "reconnect",
		Name:      "attempts_total",
		Help:      "Reconnection attempts by outcome",
	}, []string{"outcome"})

	// PendingReconnects tracks parked members awaiting reconnection.
	PendingReconnects = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "game_signaling",
		Subsystem: "reconnect",
		Name:      "pending",
		Help:      "Members parked awaiting reconnection",
	})

	// RateLimited counts rejected requests by scope (ipCreate, ipJoin, app).
	RateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "game_signaling",
		Subsystem: "websocket",
		Name:      "rate_limited_total",
		Help:      "Requests rejected by rate limiting, by scope",
	}, []string{"scope"})

	// RoomsSwept counts rooms destroyed by the maintenance scheduler, by reason.
	RoomsSwept = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "game_signaling",
		Subsystem: "room",
		Name:      "swept_total",
		Help:      "Rooms destroyed by maintenance, by reason",
	}, []string{"reason"})
)

func IncConnection() {
	ActiveConnections.Inc()
}

func DecConnection() {
	ActiveConnections.Dec()
}
