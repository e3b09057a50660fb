package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livechat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "livechat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Business metrics
	ConversationsOpened = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "livechat_conversations_opened_total",
			Help: "Total conversations opened",
		},
	)

	ConversationsClosed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "livechat_conversations_closed_total",
			Help: "Total conversations closed",
		},
	)

	MessagesStored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livechat_messages_stored_total",
			Help: "Total messages appended to the conversation log",
		},
		[]string{"role"}, // "visitor", "admin", "system" or "bot"
	)

	OnboardingCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "livechat_onboarding_completed_total",
			Help: "Total conversations that completed onboarding",
		},
	)

	NewsletterSignups = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "livechat_newsletter_signups_total",
			Help: "Total newsletter subscribers created during onboarding",
		},
	)

	// Presence metrics
	LiveConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "livechat_live_connections",
			Help: "Currently connected websocket clients",
		},
		[]string{"kind"}, // "visitor" or "admin"
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livechat_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)
)
