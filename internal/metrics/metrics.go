package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Naming convention: namespace_subsystem_name
// - namespace: clipboardpush (application-level grouping)
// - subsystem: signal, relay, push (feature-level grouping)

var (
	// ConnectedSockets tracks the current number of live WebSocket connections.
	ConnectedSockets = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "clipboardpush",
		Subsystem: "signal",
		Name:      "connected_sockets",
		Help:      "Current number of connected sockets",
	})

	// TrackedClients tracks the current number of registered client identities.
	TrackedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "clipboardpush",
		Subsystem: "signal",
		Name:      "tracked_clients",
		Help:      "Current number of tracked client identities",
	})

	// ActiveRooms tracks the current number of rooms with at least one member.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "clipboardpush",
		Subsystem: "signal",
		Name:      "active_rooms",
		Help:      "Current number of rooms with members",
	})

	// Events counts inbound socket events by name.
	Events = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "clipboardpush",
		Subsystem: "signal",
		Name:      "events_total",
		Help:      "Total inbound socket events processed",
	}, []string{"event"})

	// WireErrors counts error events sent back to sockets by code.
	WireErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "clipboardpush",
		Subsystem: "signal",
		Name:      "errors_total",
		Help:      "Total error events returned to sockets",
	}, []string{"code"})

	// Probes counts resolved LAN probes by final status.
	Probes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "clipboardpush",
		Subsystem: "signal",
		Name:      "probes_total",
		Help:      "Total LAN probes by resolution status",
	}, []string{"status"})

	// Transfers counts transfer decisions by outcome (lan_success,
	// fallback_requested, fallback_timeout).
	Transfers = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "clipboardpush",
		Subsystem: "signal",
		Name:      "transfers_total",
		Help:      "Total transfer decisions by outcome",
	}, []string{"outcome"})

	// RelayRequests counts /api/relay calls by HTTP status class.
	RelayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "clipboardpush",
		Subsystem: "relay",
		Name:      "http_requests_total",
		Help:      "Total relay endpoint requests by status",
	}, []string{"status"})

	// PushDispatches counts push notifications by result (sent, failed,
	// breaker_open, disabled).
	PushDispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "clipboardpush",
		Subsystem: "push",
		Name:      "dispatches_total",
		Help:      "Total push dispatch attempts by result",
	}, []string{"result"})
)
