// Package metrics exposes Prometheus collectors for the downloader.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	poolActiveWorkers          prometheus.Gauge
	poolQueuedTasks            prometheus.Gauge
	poolTasksTotal             *prometheus.CounterVec
	dispatchSubmissionsTotal   *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		poolActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "downloader_pool_active_workers",
				Help: "Number of workers currently executing a task.",
			},
		)

		poolQueuedTasks = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "downloader_pool_queued_tasks",
				Help: "Number of tasks waiting for a worker.",
			},
		)

		poolTasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "downloader_pool_tasks_total",
				Help: "Tasks executed by the pool, labeled by whether Execute returned or panicked.",
			},
			[]string{"outcome"},
		)

		dispatchSubmissionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "downloader_submissions_total",
				Help: "URL submissions, labeled by whether the pool accepted them.",
			},
			[]string{"result"},
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
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	poolActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	poolActiveWorkers.Dec()
}

// SetQueuedTasks records the current queue depth.
func SetQueuedTasks(n int) {
	Init()
	poolQueuedTasks.Set(float64(n))
}

// ObserveTask counts a finished task. outcome is "completed" when Execute
// returned and "panic" when it panicked; download success or failure is
// reported by the progress metrics.
func ObserveTask(outcome string) {
	Init()
	poolTasksTotal.WithLabelValues(outcome).Inc()
}

// ObserveSubmission counts a dispatcher submission.
func ObserveSubmission(accepted bool) {
	Init()
	result := "accepted"
	if !accepted {
		result = "rejected"
	}
	dispatchSubmissionsTotal.WithLabelValues(result).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
