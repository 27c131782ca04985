package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting the task agent's
// Prometheus metrics: plan/replan counts, step outcomes, tool dispatch
// volume, and model provider latency. Adapted down from the teacher's
// general-purpose Metrics struct to the signals this system actually
// produces.
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.StepsExecuted.WithLabelValues("succeeded").Inc()
//	defer metrics.ProviderRequestDuration.WithLabelValues("anthropic").Observe(time.Since(start).Seconds())
type Metrics struct {
	// StepsExecuted counts completed steps by outcome.
	// Labels: outcome (succeeded|failed)
	StepsExecuted *prometheus.CounterVec

	// ReplansTotal counts replan decisions by kind.
	// Labels: decision (plan|final_response)
	ReplansTotal *prometheus.CounterVec

	// IterationsPerTask observes how many Orchestrator iterations a task
	// ran before terminating.
	IterationsPerTask prometheus.Histogram

	// TasksCompleted counts finished tasks by final status.
	// Labels: status (completed|failed)
	TasksCompleted *prometheus.CounterVec

	// ToolCallsTotal counts dispatched tool calls by tool name and outcome.
	// Labels: tool_name, outcome (success|error|auth_pending)
	ToolCallsTotal *prometheus.CounterVec

	// ToolCallDuration measures capability backend Execute latency.
	// Labels: tool_name
	ToolCallDuration *prometheus.HistogramVec

	// ProviderRequestDuration measures Provider Adapter CreateMessage
	// latency in seconds.
	// Labels: provider (anthropic|openai)
	ProviderRequestDuration *prometheus.HistogramVec

	// ProviderRequestsTotal counts provider calls by outcome.
	// Labels: provider, status (success|error)
	ProviderRequestsTotal *prometheus.CounterVec

	// ProviderTokensUsed tracks token accounting from Usage.
	// Labels: provider, type (input|output)
	ProviderTokensUsed *prometheus.CounterVec

	// TelemetryPublishErrors counts swallowed telemetry sink failures.
	// Labels: sink (redis|callback|multi)
	TelemetryPublishErrors *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics with the default
// registry. Call once at application startup.
func NewMetrics() *Metrics {
	return &Metrics{
		StepsExecuted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "task_agent_steps_executed_total",
				Help: "Total number of steps executed by outcome",
			},
			[]string{"outcome"},
		),

		ReplansTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "task_agent_replans_total",
				Help: "Total number of replan decisions by kind",
			},
			[]string{"decision"},
		),

		IterationsPerTask: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "task_agent_iterations_per_task",
				Help:    "Number of Orchestrator iterations a task ran before terminating",
				Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 25},
			},
		),

		TasksCompleted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "task_agent_tasks_completed_total",
				Help: "Total number of tasks by final status",
			},
			[]string{"status"},
		),

		ToolCallsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "task_agent_tool_calls_total",
				Help: "Total number of dispatched tool calls by tool name and outcome",
			},
			[]string{"tool_name", "outcome"},
		),

		ToolCallDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "task_agent_tool_call_duration_seconds",
				Help:    "Duration of capability backend Execute calls in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 25},
			},
			[]string{"tool_name"},
		),

		ProviderRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "task_agent_provider_request_duration_seconds",
				Help:    "Duration of Provider Adapter CreateMessage calls in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider"},
		),

		ProviderRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "task_agent_provider_requests_total",
				Help: "Total number of provider requests by provider and status",
			},
			[]string{"provider", "status"},
		),

		ProviderTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "task_agent_provider_tokens_total",
				Help: "Total number of tokens used by provider and type",
			},
			[]string{"provider", "type"},
		),

		TelemetryPublishErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "task_agent_telemetry_publish_errors_total",
				Help: "Total number of swallowed telemetry publish failures by sink",
			},
			[]string{"sink"},
		),
	}
}
