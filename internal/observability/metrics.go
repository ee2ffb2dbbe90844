package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce          sync.Once
	httpRequestsTotal     *prometheus.CounterVec
	httpLatencySeconds    *prometheus.HistogramVec
	httpErrorsTotal       *prometheus.CounterVec
	importsTotal          *prometheus.CounterVec
	importRowsTotal       *prometheus.CounterVec
	importDurationSeconds prometheus.Histogram
	queryDurationSeconds  *prometheus.HistogramVec
	cacheEventsTotal      *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used by the gradebook API.
func RegisterMetrics() {
	registerOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gradebook_http_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		httpLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gradebook_http_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		httpErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gradebook_http_errors_total",
			Help: "Total number of error responses returned by the API.",
		}, []string{"method", "route", "status"})

		importsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gradebook_imports_total",
			Help: "CSV imports by outcome.",
		}, []string{"outcome"})

		importRowsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gradebook_import_rows_total",
			Help: "CSV data rows processed by result.",
		}, []string{"result"})

		importDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gradebook_import_duration_seconds",
			Help:    "Time spent importing a CSV file.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		})

		queryDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gradebook_query_duration_seconds",
			Help:    "Time spent building gradebook read models.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"query"})

		cacheEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gradebook_cache_events_total",
			Help: "Query cache hits, misses and errors.",
		}, []string{"query", "event"})

		prometheus.MustRegister(
			httpRequestsTotal,
			httpLatencySeconds,
			httpErrorsTotal,
			importsTotal,
			importRowsTotal,
			importDurationSeconds,
			queryDurationSeconds,
			cacheEventsTotal,
		)
	})
}

// HTTPRequests exposes the request counter.
func HTTPRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return httpRequestsTotal
}

// HTTPLatency exposes the request latency histogram.
func HTTPLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return httpLatencySeconds
}

// HTTPErrors exposes the counter for error responses.
func HTTPErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return httpErrorsTotal
}

// Imports counts finished imports labelled by outcome (success, rejected, failed).
func Imports() *prometheus.CounterVec {
	RegisterMetrics()
	return importsTotal
}

// ImportRows counts data rows labelled by result (imported, skipped).
func ImportRows() *prometheus.CounterVec {
	RegisterMetrics()
	return importRowsTotal
}

// ImportDuration exposes the import latency histogram.
func ImportDuration() prometheus.Histogram {
	RegisterMetrics()
	return importDurationSeconds
}

// QueryDuration exposes the read-model latency histogram.
func QueryDuration() *prometheus.HistogramVec {
	RegisterMetrics()
	return queryDurationSeconds
}

// CacheEvents exposes the cache event counter.
func CacheEvents() *prometheus.CounterVec {
	RegisterMetrics()
	return cacheEventsTotal
}
