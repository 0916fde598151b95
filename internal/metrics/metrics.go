// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Webhook ingest
	WebhooksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailhook_webhooks_total",
			Help: "Webhook requests by detected provider and response status",
		},
		[]string{"provider", "status"},
	)

	// Downstream notify
	NotifyDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailhook_notify_duration_seconds",
			Help:    "Duration of downstream sink notify calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"sink"},
	)

	NotifyErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailhook_notify_errors_total",
			Help: "Downstream sink notify failures",
		},
		[]string{"sink"},
	)

	// SMTP ingest
	SMTPMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailhook_smtp_messages_total",
			Help: "Messages received over SMTP by outcome",
		},
		[]string{"status"},
	)

	SMTPSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mailhook_smtp_sessions_active",
			Help: "Open SMTP sessions",
		},
	)

	// Rate limiting
	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mailhook_rate_limit_hits_total",
			Help: "Webhook requests rejected by the rate limiter",
		},
	)
)
