// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hub_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"method", "path"},
	)

	// Chat metrics
	ChatMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_chat_messages_total",
			Help: "Chat inputs by the route they took",
		},
		[]string{"route"}, // special, command, websocket, fallback, failed
	)

	PersonaRouted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_persona_routed_total",
			Help: "Chat inputs routed to each persona",
		},
		[]string{"persona"},
	)

	BackendConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hub_backend_connections",
			Help: "Chat backend connections by state",
		},
		[]string{"state"},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hub_chat_sessions_active",
			Help: "Chat sessions currently held in memory",
		},
	)

	// Business metrics
	WebhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_webhook_events_total",
			Help: "Deployment webhooks by resulting event kind",
		},
		[]string{"kind"}, // deployment_succeeded, deployment_failed, deployment_started, ignored
	)

	Payments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_payments_total",
			Help: "Payment attempts by outcome",
		},
		[]string{"status"},
	)

	DashboardCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_dashboard_cache_total",
			Help: "Dashboard metric lookups by cache result",
		},
		[]string{"result"}, // hit, miss
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)
)
