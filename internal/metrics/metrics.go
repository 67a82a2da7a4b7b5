// Package metrics exposes the proxy's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ccb_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_class"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ccb_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"method", "path"},
	)

	BackendRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ccb_backend_requests_total",
			Help: "Total number of requests dispatched to a backend",
		},
		[]string{"backend", "outcome"},
	)

	BackendTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ccb_backend_tokens_total",
			Help: "Tokens reported or estimated per backend",
		},
		[]string{"backend", "direction"},
	)

	MalformedChunksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ccb_malformed_chunks_total",
			Help: "Backend stream chunks skipped because they failed to parse",
		},
		[]string{"backend"},
	)

	ToolArgsCorruptTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ccb_tool_args_corrupt_total",
			Help: "Tool calls whose accumulated arguments failed to parse",
		},
	)

	ToolCallsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ccb_tool_calls_dropped_total",
			Help: "Tool calls dropped at finalize because no name was streamed",
		},
	)

	ReasoningBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ccb_reasoning_bytes_total",
			Help: "Bytes of reasoning text streamed by a backend",
		},
		[]string{"backend"},
	)

	ReasoningDetailsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ccb_reasoning_details_total",
			Help: "Structured reasoning_details entries streamed by a backend",
		},
		[]string{"backend"},
	)
)

// StatusClass buckets an HTTP status code as 2xx, 4xx and so on.
func StatusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}
