package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"method", "path"},
	)

	// 聊天室
	RoomsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_rooms_created_total",
			Help: "Rooms created by type",
		},
		[]string{"type"},
	)

	PrivateRaceLost = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_private_race_lost_total",
			Help: "Private room creations that lost the pair race and returned the winner",
		},
	)

	RoomsCleaned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_rooms_cleaned_total",
			Help: "Undersized rooms soft-deleted by the cleanup job",
		},
	)

	// 频道服务
	ChannelOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_channel_ops_total",
			Help: "Channel provider operations by outcome",
		},
		[]string{"op", "outcome"},
	)

	ChannelLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_channel_op_duration_seconds",
			Help:    "Channel provider call latency",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10},
		},
		[]string{"op"},
	)

	ChannelSyncFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_channel_sync_failures_total",
			Help: "Channel synchronisation failures tolerated as drift",
		},
		[]string{"op"},
	)

	// WebSocket
	SocketSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_socket_sessions",
			Help: "Authenticated socket sessions on this node",
		},
	)

	SocketAuthFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_socket_auth_failures_total",
			Help: "Socket authentication failures by reason",
		},
		[]string{"reason"},
	)

	// NATS
	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_events_dropped_total",
			Help: "User events dropped because the delivery queue was full",
		},
	)

	NATSConnectionEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_nats_connection_events_total",
			Help: "NATS connection state changes",
		},
		[]string{"event"},
	)
)
