// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RecordMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scl_record_mutations_total",
		Help: "Accepted student/college mutations by operation.",
	}, []string{"op"})

	VersionConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scl_version_conflicts_total",
		Help: "Patches rejected because the expected version was stale.",
	})

	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scl_notifications_total",
		Help: "Best-effort queue publishes by topic and outcome.",
	}, []string{"topic", "outcome"})

	WebhookDispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scl_webhook_dispatch_total",
		Help: "Webhook dispatch attempts by outcome.",
	}, []string{"outcome"})

	EmailsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scl_emails_sent_total",
		Help: "Synchronous email sends by transport and outcome.",
	}, []string{"transport", "outcome"})

	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scl_jobs_processed_total",
		Help: "Worker jobs by topic and outcome.",
	}, []string{"topic", "outcome"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scl_http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)
