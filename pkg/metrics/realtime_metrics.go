package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Realtime core metrics for calls, message receipts, status posts and event fanout
var (
	// Call lifecycle metrics
	CallTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_transitions_total",
		Help: "Total number of call state transitions",
	}, []string{"media_kind", "to_status"})

	CallDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "call_duration_seconds",
		Help:    "Duration of answered calls in seconds",
		Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800, 3600},
	}, []string{"media_kind"})

	CallsSweptTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "calls_swept_total",
		Help: "Total number of stale ringing calls force-ended by the sweep",
	})

	CallConflictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_conflicts_total",
		Help: "Total number of call operations that lost a race",
	}, []string{"operation"})

	// Message receipt metrics
	MessagesSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_messages_sent_total",
		Help: "Total number of messages sent",
	}, []string{"kind"})

	MessageStatusTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "message_status_transitions_total",
		Help: "Total number of message delivery status transitions",
	}, []string{"to_status"})

	MessagesDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_messages_deleted_total",
		Help: "Total number of messages deleted",
	})

	// Status post metrics
	StatusPostsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "status_posts_created_total",
		Help: "Total number of status posts created",
	}, []string{"kind", "privacy"})

	StatusViewsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "status_views_total",
		Help: "Total number of distinct status views recorded",
	})

	StatusPostsPurgedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "status_posts_purged_total",
		Help: "Total number of expired status posts purged",
	})

	StatusPurgeFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "status_purge_failures_total",
		Help: "Total number of status posts that failed to purge",
	})

	// Event fanout metrics
	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "events_published_total",
		Help: "Total number of events handed to the publisher",
	}, []string{"event"})

	EventsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "events_dropped_total",
		Help: "Total number of events dropped",
	}, []string{"event", "reason"})

	EventQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "event_queue_depth",
		Help: "Current number of events waiting in the dispatch queue",
	})

	// Background job metrics
	JobRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_job_runs_total",
		Help: "Total number of background job runs",
	}, []string{"job", "result"})

	JobDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scheduler_job_duration_seconds",
		Help:    "Background job run duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
)

var (
	// Circuit breaker metrics
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "circuit_breaker_state",
		Help: "State of a circuit breaker (0=closed, 1=half_open, 2=open)",
	}, []string{"breaker"})

	CircuitBreakerRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "circuit_breaker_requests_total",
		Help: "Total number of operations run through a circuit breaker",
	}, []string{"breaker", "operation", "result"})

	// Media storage metrics
	MediaDeletesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "media_deletes_total",
		Help: "Total number of media object deletions",
	}, []string{"result"})
)
