package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "parley_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Connection metrics
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "parley_connections_active",
			Help: "Live persistent connections",
		},
	)

	UsersOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "parley_users_online",
			Help: "Users with at least one live connection",
		},
	)

	ConnectionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_connections_rejected_total",
			Help: "Connection attempts refused during authentication",
		},
		[]string{"reason"},
	)

	// Business metrics
	EventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_events_received_total",
			Help: "Inbound events by name",
		},
		[]string{"event"},
	)

	EventErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_event_errors_total",
			Help: "Inbound events answered with an error, by kind",
		},
		[]string{"kind"},
	)

	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_messages_sent_total",
			Help: "Messages persisted",
		},
		[]string{"type"},
	)

	MessagesMarkedRead = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parley_messages_marked_read_total",
			Help: "Messages moved from unread to read",
		},
	)

	PresenceTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_presence_transitions_total",
			Help: "Presence changes broadcast",
		},
		[]string{"status"},
	)

	// Delivery metrics
	DeliveriesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parley_deliveries_dropped_total",
			Help: "Events dropped because a connection's send buffer was full",
		},
	)

	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parley_rate_limit_hits_total",
			Help: "Inbound events rejected by the per-connection rate limit",
		},
	)

	// Infrastructure metrics
	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "parley_store_latency_seconds",
			Help:    "Message store operation latency",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .5},
		},
		[]string{"op"},
	)
)
