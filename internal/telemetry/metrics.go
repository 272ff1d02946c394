package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	EventsPublished    = prometheus.NewCounter(prometheus.CounterOpts{Name: "homeops_events_published_total", Help: "Total bus events published"})
	EventsRetried      = prometheus.NewCounter(prometheus.CounterOpts{Name: "homeops_events_retried_total", Help: "Bus events scheduled for retry"})
	EventsDeadLettered = prometheus.NewCounter(prometheus.CounterOpts{Name: "homeops_events_dead_lettered_total", Help: "Bus events moved to the dead letter table"})
	EventsDelivered    = prometheus.NewCounter(prometheus.CounterOpts{Name: "homeops_events_delivered_total", Help: "Bus events delivered to all target modules"})
	JobTransitions     = prometheus.NewCounter(prometheus.CounterOpts{Name: "homeops_job_transitions_total", Help: "Successful job status transitions"})
	WorkflowsStarted   = prometheus.NewCounter(prometheus.CounterOpts{Name: "homeops_workflows_started_total", Help: "Workflow executions started"})
	SlowRequests       = prometheus.NewCounter(prometheus.CounterOpts{Name: "homeops_slow_requests_total", Help: "Requests over the slow threshold"})
	DroppedSamples     = prometheus.NewCounter(prometheus.CounterOpts{Name: "homeops_telemetry_dropped_total", Help: "Telemetry samples dropped because the buffer was full"})
	CacheHits          = prometheus.NewCounter(prometheus.CounterOpts{Name: "homeops_cache_hits_total", Help: "Query cache hits"})
	CacheMisses        = prometheus.NewCounter(prometheus.CounterOpts{Name: "homeops_cache_misses_total", Help: "Query cache misses"})
	PendingEventsGauge = prometheus.NewGauge(prometheus.GaugeOpts{Name: "homeops_events_pending", Help: "Event bus backlog (pending plus retry)"})

	RequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "homeops_request_duration_seconds",
		Help:    "Request wall-clock duration",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			EventsPublished,
			EventsRetried,
			EventsDeadLettered,
			EventsDelivered,
			JobTransitions,
			WorkflowsStarted,
			SlowRequests,
			DroppedSamples,
			CacheHits,
			CacheMisses,
			PendingEventsGauge,
			RequestDuration,
		)
	})
	return promhttp.Handler()
}
