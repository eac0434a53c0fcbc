package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skipper_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "skipper_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Delivery metrics
	MessagesAccepted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skipper_messages_accepted_total",
			Help: "Total messages accepted into history",
		},
		[]string{"role", "transport"}, // transport: "ws" or "http"
	)

	MessagesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skipper_messages_rejected_total",
			Help: "Total messages rejected before persistence",
		},
		[]string{"reason"},
	)

	BroadcastsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skipper_broadcasts_total",
			Help: "Total websocket fan-out events",
		},
		[]string{"type"},
	)

	PendingDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "skipper_pending_queue_depth",
			Help: "Current depth of the responder handoff queue",
		},
	)

	// Hub metrics
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "skipper_ws_sessions_active",
			Help: "Currently open websocket sessions",
		},
	)

	SessionsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "skipper_ws_sessions_dropped_total",
			Help: "Sessions dropped because their send buffer stalled",
		},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skipper_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)

	// Infrastructure metrics
	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "skipper_store_latency_seconds",
			Help:    "Store operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1},
		},
		[]string{"op"},
	)
)
