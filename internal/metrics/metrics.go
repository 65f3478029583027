// Package metrics exposes process-wide Prometheus collectors for the task
// pool and the HTTP surface.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	poolTasksSubmittedTotal    *prometheus.CounterVec
	poolTasksFinishedTotal     *prometheus.CounterVec
	poolTasksRunning           prometheus.Gauge
	poolTasksQueued            prometheus.Gauge
	poolQueueWaitSeconds       prometheus.Histogram
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors. It is safe to call it multiple
// times.
func Init() {
	once.Do(func() {
		poolTasksSubmittedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workbench_pool_tasks_submitted_total",
				Help: "Total tasks submitted to the pool, labeled by whether they replaced a task of the same name.",
			},
			[]string{"replaced"},
		)

		poolTasksFinishedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workbench_pool_tasks_finished_total",
				Help: "Total pool tasks that reached a terminal state, labeled by state.",
			},
			[]string{"state"},
		)

		poolTasksRunning = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "workbench_pool_tasks_running",
				Help: "Number of pool tasks currently holding a worker slot.",
			},
		)

		poolTasksQueued = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "workbench_pool_tasks_queued",
				Help: "Number of pool tasks waiting for a worker slot.",
			},
		)

		poolQueueWaitSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "workbench_pool_queue_wait_seconds",
				Help:    "Time tasks spent waiting for a worker slot.",
				Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30, 120},
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
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveSubmitted counts a pool submission.
func ObserveSubmitted(replaced bool) {
	poolTasksSubmittedTotal.WithLabelValues(strconv.FormatBool(replaced)).Inc()
}

// ObserveFinished counts a task reaching the given terminal state.
func ObserveFinished(state string) {
	poolTasksFinishedTotal.WithLabelValues(state).Inc()
}

// IncQueued increments the queued tasks gauge.
func IncQueued() {
	poolTasksQueued.Inc()
}

// DecQueued decrements the queued tasks gauge.
func DecQueued() {
	poolTasksQueued.Dec()
}

// IncRunning increments the running tasks gauge.
func IncRunning() {
	poolTasksRunning.Inc()
}

// DecRunning decrements the running tasks gauge.
func DecRunning() {
	poolTasksRunning.Dec()
}

// ObserveQueueWait records how long a task waited for a slot.
func ObserveQueueWait(d time.Duration) {
	poolQueueWaitSeconds.Observe(d.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
