// Package metrics provides Prometheus instrumentation for SteepleCast.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "steeplecast_http_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "steeplecast_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// Relay business metrics.
var (
	ConnectedAgents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "steeplecast_connected_agents",
		Help: "Number of venues with a live agent session.",
	})

	AdminConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "steeplecast_admin_connections",
		Help: "Number of active admin WebSocket connections.",
	})

	MessagesRelayed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "steeplecast_messages_relayed_total",
		Help: "Total number of agent messages relayed to operator surfaces.",
	})

	CommandsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "steeplecast_commands_dispatched_total",
		Help: "Commands dispatched to agents, by outcome.",
	}, []string{"outcome"}) // sent | queued | rate_limited | unavailable

	AlertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "steeplecast_alerts_total",
		Help: "Alerts processed by the pipeline, by kind.",
	}, []string{"kind"})

	PreviewFramesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "steeplecast_preview_frames_dropped_total",
		Help: "Preview frames discarded for exceeding the size cap.",
	})

	SSESubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "steeplecast_sse_subscribers",
		Help: "Number of active dashboard SSE subscribers.",
	})
)
