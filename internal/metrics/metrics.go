// Package metrics exposes Prometheus collectors for the gateway.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	jobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_jobs_total",
			Help: "Total number of channel jobs that reached a terminal outcome, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	jobsRejectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_jobs_rejected_total",
			Help: "Total number of channel submissions rejected before enqueue.",
		},
	)

	fetchDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_fetch_duration_seconds",
			Help:    "Histogram of backend fetch latencies for channel jobs, labeled by outcome.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"outcome"},
	)

	fetchBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_fetch_bytes_total",
			Help: "Total payload bytes delivered over channel sessions.",
		},
	)

	queueWaitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gateway_queue_wait_seconds",
			Help:    "Histogram of time jobs spent queued before dispatch.",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30, 60},
		},
	)

	schedulerQueued = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_scheduler_queued_jobs",
			Help: "Number of jobs waiting for a dispatch slot.",
		},
	)

	schedulerActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_scheduler_active_jobs",
			Help: "Number of jobs with a backend fetch in flight.",
		},
	)

	channelSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_channel_sessions",
			Help: "Number of open channel sessions.",
		},
	)

	deliveriesDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_deliveries_dropped_total",
			Help: "Total number of replies discarded because the session was already closed.",
		},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveJob records a terminal job outcome.
func ObserveJob(outcome string, fetch time.Duration, bytes int) {
	jobsTotal.WithLabelValues(outcome).Inc()
	fetchDurationSeconds.WithLabelValues(outcome).Observe(fetch.Seconds())
	if bytes > 0 {
		fetchBytesTotal.Add(float64(bytes))
	}
}

// ObserveRejected counts a submission that failed validation.
func ObserveRejected() {
	jobsRejectedTotal.Inc()
}

// ObserveQueueWait records how long a job waited before dispatch.
func ObserveQueueWait(d time.Duration) {
	queueWaitSeconds.Observe(d.Seconds())
}

// SetSchedulerState publishes the queue depth and in-flight count.
func SetSchedulerState(queued, active int) {
	schedulerQueued.Set(float64(queued))
	schedulerActive.Set(float64(active))
}

// IncSessions increments the open channel sessions gauge.
func IncSessions() {
	channelSessions.Inc()
}

// DecSessions decrements the open channel sessions gauge.
func DecSessions() {
	channelSessions.Dec()
}

// ObserveDroppedDelivery counts a reply discarded for a closed session.
func ObserveDroppedDelivery() {
	deliveriesDroppedTotal.Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
