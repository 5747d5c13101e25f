// Package metrics provides Prometheus metrics for the dm-api service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestsTotal counts HTTP requests by route and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jan",
			Subsystem: "dm_api",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPRequestDuration tracks HTTP latency by route.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "jan",
			Subsystem: "dm_api",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// MessagesIngested counts messages persisted by the ingest service.
	MessagesIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "jan",
			Subsystem: "dm_api",
			Name:      "messages_ingested_total",
			Help:      "Total number of messages persisted",
		},
	)

	// IngestFailures counts rejected or failed sends by error type.
	IngestFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jan",
			Subsystem: "dm_api",
			Name:      "ingest_failures_total",
			Help:      "Total number of failed message sends",
		},
		[]string{"error_type"},
	)

	// ConversationsCreated counts conversations created by the directory.
	ConversationsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "jan",
			Subsystem: "dm_api",
			Name:      "conversations_created_total",
			Help:      "Total number of conversations created",
		},
	)

	// PairConflicts counts creates that lost the unique-pair race.
	PairConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "jan",
			Subsystem: "dm_api",
			Name:      "conversation_pair_conflicts_total",
			Help:      "Total number of conversation creates that hit the unique pair constraint",
		},
	)

	// ActiveSubscriptions tracks live bus subscriptions.
	ActiveSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "jan",
			Subsystem: "dm_api",
			Name:      "active_subscriptions",
			Help:      "Number of live change feed subscriptions",
		},
	)

	// EventsPublished counts change events handed to the bus.
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jan",
			Subsystem: "dm_api",
			Name:      "changefeed_events_published_total",
			Help:      "Total number of change events published",
		},
		[]string{"source", "event_type"},
	)

	// EventsDropped counts events not delivered, by reason.
	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jan",
			Subsystem: "dm_api",
			Name:      "changefeed_events_dropped_total",
			Help:      "Total number of change events dropped",
		},
		[]string{"source", "reason"},
	)

	// FeedReconnects counts change feed transport reconnects.
	FeedReconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jan",
			Subsystem: "dm_api",
			Name:      "changefeed_reconnects_total",
			Help:      "Total number of change feed reconnects",
		},
		[]string{"source"},
	)

	// ViewSessionsActive tracks open conversation streams.
	ViewSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "jan",
			Subsystem: "dm_api",
			Name:      "view_sessions_active",
			Help:      "Number of open conversation view sessions",
		},
	)

	// ViewSessionTransitions counts view session state changes.
	ViewSessionTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jan",
			Subsystem: "dm_api",
			Name:      "view_session_state_transitions_total",
			Help:      "Total number of view session state transitions",
		},
		[]string{"to_state"},
	)
)

// RecordSubscriptionOpened increments the live subscription gauge.
func RecordSubscriptionOpened() {
	ActiveSubscriptions.Inc()
}

// RecordSubscriptionClosed decrements the live subscription gauge.
func RecordSubscriptionClosed() {
	ActiveSubscriptions.Dec()
}

// RecordEventPublished counts one published event.
func RecordEventPublished(source, eventType string) {
	EventsPublished.WithLabelValues(source, eventType).Inc()
}

// RecordEventDropped counts one dropped event.
func RecordEventDropped(source, reason string) {
	EventsDropped.WithLabelValues(source, reason).Inc()
}

// RecordIngestFailure counts a failed send.
func RecordIngestFailure(errorType string) {
	IngestFailures.WithLabelValues(errorType).Inc()
}

// RecordViewSessionState counts a view session entering state.
func RecordViewSessionState(state string) {
	ViewSessionTransitions.WithLabelValues(state).Inc()
}

// RecordRequest records one completed HTTP request.
func RecordRequest(method, route, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
