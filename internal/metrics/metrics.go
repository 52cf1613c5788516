// Package metrics exposes Prometheus collectors for the socket.
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
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	contractorWritesTotal      *prometheus.CounterVec
	jobsTotal                  *prometheus.CounterVec
	jobDurationSeconds         *prometheus.HistogramVec
	activeJobs                 *prometheus.GaugeVec
	geocodeLookupsTotal        *prometheus.CounterVec
	upstreamRequestsTotal      *prometheus.CounterVec
	rateLimitDelaysSeconds     prometheus.Histogram

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "socket_http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "socket_http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		contractorWritesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "socket_contractor_writes_total",
				Help: "Contractor set outcomes, labeled by action.",
			},
			[]string{"action"},
		)

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "socket_jobs_total",
				Help: "Total number of jobs processed, labeled by type and outcome.",
			},
			[]string{"type", "outcome"},
		)

		jobDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "socket_job_duration_seconds",
				Help:    "Histogram of job run times, labeled by type.",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
			},
			[]string{"type"},
		)

		activeJobs = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "socket_active_jobs",
				Help: "Number of jobs currently running, labeled by priority.",
			},
			[]string{"priority"},
		)

		geocodeLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "socket_geocode_lookups_total",
				Help: "Geocode lookups, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		upstreamRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "socket_upstream_requests_total",
				Help: "Outbound requests, labeled by service and code.",
			},
			[]string{"service", "code"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "socket_upstream_rate_limit_delay_seconds",
				Help:    "Histogram of upstream rate limit wait durations.",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10},
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveContractorWrite counts a contractor_set outcome.
func ObserveContractorWrite(action string) {
	Init()
	contractorWritesTotal.WithLabelValues(action).Inc()
}

// ObserveJob records a finished job.
func ObserveJob(jobType, outcome string, duration time.Duration) {
	Init()
	jobsTotal.WithLabelValues(jobType, outcome).Inc()
	jobDurationSeconds.WithLabelValues(jobType).Observe(duration.Seconds())
}

// IncActiveJobs increments the active jobs gauge for priority.
func IncActiveJobs(priority string) {
	Init()
	activeJobs.WithLabelValues(priority).Inc()
}

// DecActiveJobs decrements the active jobs gauge for priority.
func DecActiveJobs(priority string) {
	Init()
	activeJobs.WithLabelValues(priority).Dec()
}

// ObserveGeocode counts a geocode lookup outcome.
func ObserveGeocode(outcome string) {
	Init()
	geocodeLookupsTotal.WithLabelValues(outcome).Inc()
}

// ObserveUpstream counts an outbound request. code 0 records a transport failure.
func ObserveUpstream(service string, code int) {
	Init()
	label := "error"
	if code > 0 {
		label = strconv.Itoa(code)
	}
	upstreamRequestsTotal.WithLabelValues(service, label).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.Observe(duration.Seconds())
}
