package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesSent counts persisted chat messages by kind (text|appointment_request|appointment_response).
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fixhub_messages_sent_total",
			Help: "Total number of messages persisted",
		},
		[]string{"kind"},
	)

	// ConversationsCreated counts conversations opened through find-or-create.
	ConversationsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fixhub_conversations_created_total",
			Help: "Total number of conversations created",
		},
	)

	// CallTransitions counts call state transitions by target status.
	CallTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fixhub_call_transitions_total",
			Help: "Total number of call status transitions",
		},
		[]string{"status"},
	)

	// NotificationFailures counts relay failures that were swallowed.
	NotificationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fixhub_notification_failures_total",
			Help: "Total number of notifications that could not be delivered",
		},
		[]string{"channel"},
	)

	// PresenceExpired counts users flipped offline by the presence expiry job.
	PresenceExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fixhub_presence_expired_total",
			Help: "Total number of stale presence records marked offline",
		},
	)

	// FeedSubscribers tracks live change-feed subscriptions.
	FeedSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fixhub_feed_subscribers",
			Help: "Number of active change feed subscriptions",
		},
	)

	// FeedDropped counts subscriptions closed because their buffer was full.
	FeedDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fixhub_feed_dropped_total",
			Help: "Total number of change feed subscribers dropped for backpressure",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fixhub_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// RealtimeSessionSeconds measures how long upgraded websocket sessions stay open.
	RealtimeSessionSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fixhub_realtime_session_seconds",
			Help:    "Duration of realtime websocket sessions",
			Buckets: []float64{1, 10, 60, 300, 900, 3600, 14400},
		},
		[]string{"path"},
	)
)
