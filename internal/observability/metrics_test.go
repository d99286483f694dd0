package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordLLMRequest(t *testing.T) {
	m := NewMetricsWithRegistry(prometheus.NewRegistry())

	m.RecordLLMRequest("anthropic", "claude-3-opus", "ok", 1.5, 100, 500)
	m.RecordLLMRequest("anthropic", "claude-3-opus", "error", 0.2, 0, 0)

	if got := testutil.ToFloat64(m.LLMRequestCounter.WithLabelValues("anthropic", "claude-3-opus", "ok")); got != 1 {
		t.Errorf("expected 1 ok request, got %v", got)
	}
	if got := testutil.ToFloat64(m.LLMTokensUsed.WithLabelValues("anthropic", "claude-3-opus", "prompt")); got != 100 {
		t.Errorf("expected 100 prompt tokens, got %v", got)
	}
	if got := testutil.ToFloat64(m.LLMTokensUsed.WithLabelValues("anthropic", "claude-3-opus", "completion")); got != 500 {
		t.Errorf("expected 500 completion tokens, got %v", got)
	}
}

func TestRecordToolExecution(t *testing.T) {
	m := NewMetricsWithRegistry(prometheus.NewRegistry())

	m.RecordToolExecution("web_search", "success", 0.3)
	m.RecordToolExecution("web_search", "success", 0.4)
	m.RecordToolExecution("planner", "error", 1.1)

	if got := testutil.ToFloat64(m.ToolExecutionCounter.WithLabelValues("web_search", "success")); got != 2 {
		t.Errorf("expected 2 successful web_search executions, got %v", got)
	}
	if got := testutil.ToFloat64(m.ToolExecutionCounter.WithLabelValues("planner", "error")); got != 1 {
		t.Errorf("expected 1 failed planner execution, got %v", got)
	}
}

func TestRecordError(t *testing.T) {
	m := NewMetricsWithRegistry(prometheus.NewRegistry())

	m.RecordError("agentexec", "no_tool_call")
	m.RecordError("agentexec", "no_tool_call")
	m.RecordError("llm", "timeout")

	if got := testutil.ToFloat64(m.ErrorCounter.WithLabelValues("agentexec", "no_tool_call")); got != 2 {
		t.Errorf("expected 2 no_tool_call errors, got %v", got)
	}
	if got := testutil.ToFloat64(m.ErrorCounter.WithLabelValues("llm", "timeout")); got != 1 {
		t.Errorf("expected 1 llm timeout error, got %v", got)
	}
}

func TestAgentLifecycle(t *testing.T) {
	m := NewMetricsWithRegistry(prometheus.NewRegistry())

	m.AgentStarted("0")
	m.AgentStarted("1")
	if got := testutil.ToFloat64(m.ActiveAgents.WithLabelValues("0")); got != 1 {
		t.Errorf("expected 1 active level-0 agent, got %v", got)
	}

	m.AgentEnded("1", "planner", 12.5)
	if got := testutil.ToFloat64(m.ActiveAgents.WithLabelValues("1")); got != 0 {
		t.Errorf("expected active level-1 agents back to 0, got %v", got)
	}
	if count := testutil.CollectAndCount(m.AgentDuration); count != 1 {
		t.Errorf("expected 1 agent_name label on AgentDuration, got %d", count)
	}
}

func TestRecordContextWindowAndRunAttempt(t *testing.T) {
	m := NewMetricsWithRegistry(prometheus.NewRegistry())

	m.RecordContextWindow("anthropic", "claude-3-opus", 45000)
	if count := testutil.CollectAndCount(m.ContextWindowUsed); count != 1 {
		t.Errorf("expected 1 context window observation series, got %d", count)
	}

	m.RecordRunAttempt("completed")
	m.RecordRunAttempt("completed")
	m.RecordRunAttempt("max_turns")
	if got := testutil.ToFloat64(m.RunAttempts.WithLabelValues("completed")); got != 2 {
		t.Errorf("expected 2 completed run attempts, got %v", got)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	// None of these should panic on a nil *Metrics, so callers that didn't
	// wire one (e.g. tests) don't need to guard every call site.
	m.RecordLLMRequest("p", "m", "ok", 0, 0, 0)
	m.RecordToolExecution("t", "ok", 0)
	m.RecordError("c", "e")
	m.AgentStarted("0")
	m.AgentEnded("0", "a", 0)
	m.RecordContextWindow("p", "m", 0)
	m.RecordRunAttempt("ok")
}
