package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the API
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// JobDuration tracks webhook delivery attempt durations in milliseconds
	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "webhook_job_duration_ms", Help: "Webhook delivery attempt duration in ms.", Buckets: []float64{1, 5, 10, 50, 100, 500, 1000, 5000}},
		[]string{"job_type", "status"},
	)
	// JobRetries counts attempts that ended in a retryable state
	JobRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_job_retries_total", Help: "Webhook delivery attempts scheduled for retry."},
		[]string{"job_type"},
	)
	// JobFailures counts attempts that ended in terminal failure
	JobFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_job_failures_total", Help: "Webhook delivery attempts that failed terminally."},
		[]string{"job_type"},
	)
	// RateLimited counts dispatch calls rejected by the per-tenant window
	RateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_rate_limited_total", Help: "Dispatch calls rejected by the tenant rate window."},
		[]string{"job_type"},
	)
	// CircuitOpen counts dispatch calls rejected by an open circuit
	CircuitOpen = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_circuit_open_total", Help: "Dispatch calls rejected while a tenant circuit is open."},
		[]string{"job_type"},
	)
)

// RegisterDefault registers collectors to the dedicated registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(JobDuration)
		Registry.MustRegister(JobRetries)
		Registry.MustRegister(JobFailures)
		Registry.MustRegister(RateLimited)
		Registry.MustRegister(CircuitOpen)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
