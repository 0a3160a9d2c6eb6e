// Package metrics provides Prometheus metrics for the Kubently control plane
// (RED + dispatch fabric). Scrapeable at /metrics; dashboards rely on these names.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "kubently"

var (
	// HTTPRequestTotal counts requests by method, path, status (RED: rate).
	HTTPRequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by method, path, and status.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDurationSeconds is request latency histogram (RED: duration).
	HTTPRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2.5, 10), // 1ms to ~9.3s
		},
		[]string{"method", "path"},
	)

	// CommandsEnqueuedTotal counts commands accepted into a cluster queue.
	CommandsEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_enqueued_total",
			Help:      "Total commands enqueued, by cluster.",
		},
		[]string{"cluster"},
	)

	// CommandResultsTotal counts delivered results by terminal status.
	CommandResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "command_results_total",
			Help:      "Total command results, by status (SUCCESS, FAILED, TIMEOUT, ERROR, CANCELLED).",
		},
		[]string{"status"},
	)

	// ExecutorStreamsActive is the number of open executor SSE connections.
	ExecutorStreamsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "executor_streams_active",
			Help:      "Number of active executor event streams.",
		},
	)

	// SessionsActive is the number of live diagnostic sessions.
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of active diagnostic sessions.",
		},
	)

	// AuthValidationsTotal counts credential validations by method and outcome.
	AuthValidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_validations_total",
			Help:      "Total authentication attempts by method (api_key, bearer_token, executor_token) and outcome.",
		},
		[]string{"method", "outcome"},
	)

	// A2AStreamEventsTotal counts agent-protocol stream events by kind.
	A2AStreamEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "a2a_stream_events_total",
			Help:      "Total agent-protocol stream events emitted, by kind.",
		},
		[]string{"kind"},
	)
)
