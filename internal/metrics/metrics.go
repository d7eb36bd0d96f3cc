// Package metrics defines the proxy's Prometheus collectors. Metric names
// and the exposition endpoint itself are out of core scope; this package
// only owns registration and the increment/observe call sites the core
// components use.
package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// registerOnce ensures Register() is idempotent.
var registerOnce sync.Once

// sizeBuckets are exponential buckets for request/response size histograms (bytes).
var sizeBuckets = []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576, 4194304, 16777216, 67108864, 268435456}

// HTTP metrics (RED: Rate, Errors, Duration), labeled by the resolved
// binding so operators can slice per-tenant traffic.
var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "s3proxy_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "binding", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "s3proxy_http_request_duration_seconds",
			Help:    "Request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "binding"},
	)

	HTTPRequestSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "s3proxy_http_request_size_bytes",
			Help:    "Request body size in bytes",
			Buckets: sizeBuckets,
		},
		[]string{"method", "binding"},
	)

	HTTPResponseSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "s3proxy_http_response_size_bytes",
			Help:    "Response body size in bytes",
			Buckets: sizeBuckets,
		},
		[]string{"method", "binding"},
	)
)

// S3OperationsTotal counts S3 operations by operation name, binding, and
// outcome ("success", "denied", "upstream_error", "internal_error").
var S3OperationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "s3proxy_s3_operations_total",
		Help: "S3 operations forwarded, by type and outcome",
	},
	[]string{"operation", "binding", "status"},
)

// AuthzCacheHitsTotal counts authorization decision cache hits and misses.
var AuthzCacheHitsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "s3proxy_authz_cache_total",
		Help: "Authorization decision cache lookups",
	},
	[]string{"result"},
)

// BytesReceivedTotal counts total bytes received in request bodies.
var BytesReceivedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "s3proxy_bytes_received_total",
		Help: "Total bytes received (request bodies)",
	},
)

// BytesSentTotal counts total bytes sent in response bodies.
var BytesSentTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "s3proxy_bytes_sent_total",
		Help: "Total bytes sent (response bodies)",
	},
)

// Register registers all Prometheus collectors with the default registry.
// Safe to call multiple times; subsequent calls are no-ops.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			HTTPRequestSize,
			HTTPResponseSize,
			S3OperationsTotal,
			AuthzCacheHitsTotal,
			BytesReceivedTotal,
			BytesSentTotal,
		)
	})
}

// NormalizePath maps actual request paths to normalized templates suitable
// for metric labels, avoiding high-cardinality labels from individual
// object keys.
func NormalizePath(path string) string {
	switch path {
	case "/health", "/metrics", "/", "":
		if path == "" {
			return "/"
		}
		return path
	}

	trimmed := strings.TrimPrefix(path, "/")
	if trimmed == "" {
		return "/"
	}
	idx := strings.IndexByte(trimmed, '/')
	if idx < 0 || idx == len(trimmed)-1 {
		return "/{prefix}"
	}
	return "/{prefix}/{key}"
}
