// Package observability provides the orchestrator's ambient monitoring
// stack: structured logging, Prometheus metrics, and OpenTelemetry tracing,
// threaded explicitly through the Agent Executor, Tool Executor, and LLM
// Client rather than held as package-level singletons.
//
// # Logging
//
// Logging is built on Go's slog package with automatic redaction of
// sensitive values (API keys, tokens, passwords) and context-correlated
// fields (task id, agent id):
//
//	logger := observability.MustNewLogger(observability.LogConfig{
//	    Level:  "info",
//	    Format: "json",
//	})
//	logger.Info(ctx, "agentexec: run", "agent", agentName, "agent_id", agentID)
//	logger.Warn(ctx, "llm: retryable error, backing off",
//	    "attempt", attempt, "api_key", apiKey) // api_key redacted automatically
//
// # Metrics
//
// Metrics (metrics.go) track the core execution engine, not the external
// tool-server or front ends:
//   - LLM Client request latency, outcome, and token usage
//   - Tool Executor dispatch counts and latency, covering both external
//     tools and recursive sub-agent calls
//   - Agent Executor run-attempt outcomes and active-agent counts by level
//   - Context Builder prompt-size observations, for watching how close a
//     task runs to triggering compression
//
//	metrics := observability.NewMetrics()
//	start := time.Now()
//	result, err := llmClient.Chat(ctx, req)
//	metrics.RecordLLMRequest("anthropic", req.Model, status(err), time.Since(start).Seconds(),
//	    result.InputTokens, result.OutputTokens)
//
// # Tracing
//
// Distributed tracing uses OpenTelemetry to follow one instruction down
// through the call tree: a span per agent activation, child spans per tool
// call and LLM request, so a slow or failed run can be inspected end to end:
//
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
//	    ServiceName: "mla",
//	    Endpoint:    os.Getenv("OTEL_ENDPOINT"),
//	})
//	defer shutdown(context.Background())
//
//	ctx, span := tracer.TraceAgentRun(ctx, agentName, agentID)
//	defer span.End()
//
// # Security Considerations
//
// The logging component automatically redacts API keys, passwords, secrets,
// JWTs, and bearer tokens from both string messages and structured fields
// (password, secret, api_key, token, authorization, private_key, ...).
package observability
