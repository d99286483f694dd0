package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the process-wide Prometheus metrics surface: one instance
// constructed by the driver (cmd/mla) and threaded explicitly through the
// LLM Client, Tool Executor, and Agent Executor rather than held as a
// package-level singleton. A nil *Metrics is safe to call every
// method on (it no-ops), so components can be built and tested without one.
type Metrics struct {
	// LLMRequestDuration measures LLM API call latency in seconds.
	// Labels: provider (anthropic|openai), model.
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests by provider, model, and outcome.
	// Labels: provider, model, status (ok|error).
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption by provider, model, and kind.
	// Labels: provider, model, type (prompt|completion).
	LLMTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations by name and outcome,
	// covering both external tools and recursive sub-agent calls.
	// Labels: tool_name, status (success|error).
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name.
	ToolExecutionDuration *prometheus.HistogramVec

	// ErrorCounter tracks errors by component and error type.
	// Labels: component (llm|toolexec|agentexec|hierarchy), error_type.
	ErrorCounter *prometheus.CounterVec

	// ActiveAgents gauges currently-running agent activations by level
	// Active agents by level, for watching call-tree fan-out.
	ActiveAgents *prometheus.GaugeVec

	// AgentDuration measures one agent activation's wall-clock lifetime,
	// from push_agent to pop_agent.
	// Labels: agent_name.
	AgentDuration *prometheus.HistogramVec

	// ContextWindowUsed tracks the estimated prompt token count the Context
	// Builder assembled each turn, relative to the compression trigger in
	// action-history compression decisions.
	// Labels: provider, model.
	ContextWindowUsed *prometheus.HistogramVec

	// RunAttempts counts Agent Executor turn-loop outcomes by status
	// (completed|no_tool_exhausted|max_turns|fatal), for tracking how often
	// agents converge versus fail to terminate.
	RunAttempts *prometheus.CounterVec
}

// NewMetrics creates and registers every metric with Prometheus's default
// registry. Call once at process startup (cmd/mla's buildRuntime).
func NewMetrics() *Metrics {
	return newMetrics(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry is NewMetrics against an explicit registerer, so
// tests can use an isolated prometheus.NewRegistry() instead of polluting
// (and double-registering against) the process-wide default.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	return newMetrics(reg)
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mla_llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),
		LLMRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mla_llm_requests_total",
				Help: "Total number of LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),
		LLMTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mla_llm_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),
		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mla_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),
		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mla_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
			},
			[]string{"tool_name"},
		),
		ErrorCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mla_errors_total",
				Help: "Total number of errors by component and error type",
			},
			[]string{"component", "error_type"},
		),
		ActiveAgents: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mla_active_agents",
				Help: "Current number of running agent activations by level",
			},
			[]string{"level"},
		),
		AgentDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mla_agent_duration_seconds",
				Help:    "Duration of one agent activation from push to pop",
				Buckets: []float64{1, 5, 15, 30, 60, 300, 600, 1800, 3600},
			},
			[]string{"agent_name"},
		),
		ContextWindowUsed: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mla_context_window_tokens",
				Help:    "Estimated prompt tokens assembled by the Context Builder per turn",
				Buckets: []float64{1000, 4000, 8000, 16000, 32000, 64000, 128000},
			},
			[]string{"provider", "model"},
		),
		RunAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mla_run_attempts_total",
				Help: "Total number of Agent Executor turn-loop outcomes by status",
			},
			[]string{"status"},
		),
	}
}

// RecordLLMRequest records one LLM Client call's outcome.
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	if m == nil {
		return
	}
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordToolExecution records one Tool Executor dispatch,
// whether it resolved to an external tool or a recursive sub-agent call.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordError increments the error counter for a given component and error
// kind.
func (m *Metrics) RecordError(component, errorType string) {
	if m == nil {
		return
	}
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}

// AgentStarted increments the active-agents gauge for level when an
// activation is pushed onto the Hierarchy Manager's stack.
func (m *Metrics) AgentStarted(level string) {
	if m == nil {
		return
	}
	m.ActiveAgents.WithLabelValues(level).Inc()
}

// AgentEnded decrements the active-agents gauge and records the activation's
// lifetime when it is popped.
func (m *Metrics) AgentEnded(level, agentName string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ActiveAgents.WithLabelValues(level).Dec()
	m.AgentDuration.WithLabelValues(agentName).Observe(durationSeconds)
}

// RecordContextWindow records the Context Builder's estimated per-turn
// prompt token count.
func (m *Metrics) RecordContextWindow(provider, model string, tokensUsed int) {
	if m == nil {
		return
	}
	m.ContextWindowUsed.WithLabelValues(provider, model).Observe(float64(tokensUsed))
}

// RecordRunAttempt records one Agent Executor turn-loop terminal outcome.
func (m *Metrics) RecordRunAttempt(status string) {
	if m == nil {
		return
	}
	m.RunAttempts.WithLabelValues(status).Inc()
}
