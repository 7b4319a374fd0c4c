// Package observability collects Prometheus metrics for the backend.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector the backend exports at /metrics.
type Metrics struct {
	// TurnCounter counts completed turns.
	// Labels: agent, status (ok|error|cancelled)
	TurnCounter *prometheus.CounterVec

	// TurnDuration measures full turn latency in seconds.
	// Labels: agent
	TurnDuration *prometheus.HistogramVec

	// LLMTokens tracks token consumption.
	// Labels: provider, type (prompt|completion)
	LLMTokens *prometheus.CounterVec

	// RouterDecisions counts routing outcomes.
	// Labels: agent, source (slash|lock|router|fallback)
	RouterDecisions *prometheus.CounterVec

	// ToolExecutions counts tool invocations.
	// Labels: tool_name, status (success|error)
	ToolExecutions *prometheus.CounterVec

	// ToolDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolDuration *prometheus.HistogramVec

	// HTTPRequestDuration measures HTTP request latency in seconds.
	// Labels: method, path, status_code
	HTTPRequestDuration *prometheus.HistogramVec

	// HTTPRequests counts HTTP requests.
	// Labels: method, path, status_code
	HTTPRequests *prometheus.CounterVec

	// StoreQueryDuration measures store operation latency in seconds.
	// Labels: operation
	StoreQueryDuration *prometheus.HistogramVec

	// ActiveSessions gauges sessions currently holding a turn lock.
	ActiveSessions prometheus.Gauge

	// Degradations counts non-fatal subsystem failures.
	// Labels: subsystem (memory|cross_session|summarizer)
	Degradations *prometheus.CounterVec
}

// NewMetrics registers every collector on the default registry. Call once at
// startup.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers on a caller-supplied registry, which tests use to
// avoid duplicate registration.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TurnCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "switchboard_turns_total",
				Help: "Total completed turns by agent and status",
			},
			[]string{"agent", "status"},
		),
		TurnDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "switchboard_turn_duration_seconds",
				Help:    "Full turn latency in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"agent"},
		),
		LLMTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "switchboard_llm_tokens_total",
				Help: "Tokens consumed by provider and type",
			},
			[]string{"provider", "type"},
		),
		RouterDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "switchboard_router_decisions_total",
				Help: "Routing outcomes by agent and override source",
			},
			[]string{"agent", "source"},
		),
		ToolExecutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "switchboard_tool_executions_total",
				Help: "Tool invocations by name and status",
			},
			[]string{"tool_name", "status"},
		),
		ToolDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "switchboard_tool_duration_seconds",
				Help:    "Tool execution time in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"tool_name"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "switchboard_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "switchboard_http_requests_total",
				Help: "HTTP requests by method, path, and status",
			},
			[]string{"method", "path", "status_code"},
		),
		StoreQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "switchboard_store_query_duration_seconds",
				Help:    "Store operation latency in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"operation"},
		),
		ActiveSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "switchboard_active_sessions",
				Help: "Sessions currently holding a turn lock",
			},
		),
		Degradations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "switchboard_degradations_total",
				Help: "Non-fatal subsystem failures by subsystem",
			},
			[]string{"subsystem"},
		),
	}
}
