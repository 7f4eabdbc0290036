package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mapchat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mapchat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Cache metrics
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mapchat_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"kind"}, // "rooms" or "messages"
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mapchat_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"kind"},
	)

	CacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mapchat_cache_evictions_total",
			Help: "Entries evicted by the LRU policy",
		},
	)

	// Sync metrics
	ListenersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mapchat_listeners_active",
			Help: "Live push subscriptions",
		},
	)

	ListenerErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mapchat_listener_errors_total",
			Help: "Subscriptions terminated by a provider error",
		},
	)

	BatchUnitsCommitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mapchat_batch_units_committed_total",
			Help: "Atomic write units committed",
		},
	)

	BatchPartialFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mapchat_batch_partial_failures_total",
			Help: "Batch commits that stopped after some units were durable",
		},
	)

	// Business metrics
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mapchat_messages_sent_total",
			Help: "Total messages sent",
		},
		[]string{"status"}, // "sent" or "failed"
	)

	MessagesDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mapchat_messages_deleted_total",
			Help: "Total messages tombstoned",
		},
	)

	NotificationsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mapchat_notifications_published_total",
			Help: "Notifications fanned out to members",
		},
		[]string{"result"}, // "ok" or "error"
	)

	BackgroundTasksDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mapchat_background_tasks_dropped_total",
			Help: "Background tasks rejected because the queue was full",
		},
	)

	// Infrastructure metrics
	DocstoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mapchat_docstore_latency_seconds",
			Help:    "Document store operation latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25},
		},
		[]string{"op"},
	)
)
