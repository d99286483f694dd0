// Package toolexec implements the Tool Executor: one operation,
// execute(tool_name, arguments, task_id), dispatched across three tagged
// variants resolved from the agent library at load time — a terminal
// final_output synthesis, an external tool-server HTTP call, or a recursive
// sub-agent invocation.
package toolexec

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/taskmesh/mla/internal/config"
	"github.com/taskmesh/mla/internal/observability"
)

// Status discriminates an ExecuteResult's outcome.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// Result is execute()'s return value: `{status, output, error_information}`.
type Result struct {
	Status           Status
	Output           string
	ErrorInformation string
}

// AgentRunner is the recursion point back into the Agent Executor: invoking
// an llm_call_agent sub-agent means running another agent's full
// perceive-act loop and returning its final_output. toolexec depends on this
// narrow interface rather than importing internal/agentexec directly, since
// agentexec in turn depends on toolexec to dispatch its own tool calls —
// the caller wires the concrete implementation in at construction time.
type AgentRunner interface {
	RunAgent(ctx context.Context, taskID, agentName, taskInput string) (finalOutput string, err error)
}

// ManualMode reports whether the pre-execution confirmation hook should run
// for whitelisted tools. It's an interface rather than a bool field so the
// driver can flip it at runtime (e.g. a CLI flag toggled mid-session is out
// of scope, but per-task manual mode read from config is common).
type ManualMode interface {
	Enabled() bool
}

// StaticManualMode is the simplest ManualMode: fixed at construction.
type StaticManualMode bool

func (m StaticManualMode) Enabled() bool { return bool(m) }

// Executor is the Tool Executor. One instance is shared by every agent in a
// task (and across tasks in the same process), matching the Design Notes'
// preference for explicitly-passed shared state over package globals.
type Executor struct {
	library                  *config.AgentLibrary
	toolServer               *ToolServerClient
	runner                   AgentRunner
	manualMode               ManualMode
	whitelist                map[string]bool
	confirmationPollInterval time.Duration
	metrics                  *observability.Metrics
	tracer                   *observability.Tracer
}

// Option configures an Executor at construction.
type Option func(*Executor)

// WithManualMode overrides the default always-off manual mode.
func WithManualMode(m ManualMode) Option {
	return func(e *Executor) { e.manualMode = m }
}

// WithConfirmationWhitelist overrides the default whitelist of tools that
// require confirmation under manual mode.
func WithConfirmationWhitelist(whitelist map[string]bool) Option {
	return func(e *Executor) { e.whitelist = whitelist }
}

// WithConfirmationPollInterval overrides the default 1s confirmation poll.
func WithConfirmationPollInterval(d time.Duration) Option {
	return func(e *Executor) { e.confirmationPollInterval = d }
}

// WithObservability attaches metrics and tracing to every Execute call.
func WithObservability(metrics *observability.Metrics, tracer *observability.Tracer) Option {
	return func(e *Executor) {
		e.metrics = metrics
		e.tracer = tracer
	}
}

// NewExecutor builds a Tool Executor over library (the loaded agent/tool
// definitions), a tool-server client for external tool_call_agent
// dispatch, and runner for llm_call_agent recursion.
func NewExecutor(library *config.AgentLibrary, toolServer *ToolServerClient, runner AgentRunner, opts ...Option) *Executor {
	e := &Executor{
		library:                  library,
		toolServer:               toolServer,
		runner:                   runner,
		manualMode:               StaticManualMode(false),
		whitelist:                ConfirmationWhitelist,
		confirmationPollInterval: time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// finalOutputArgs is the shape final_output's arguments take: the terminal
// tool simply carries the agent's answer straight through.
type finalOutputArgs struct {
	Output string `json:"output"`
}

// Execute dispatches one execute(tool_name, arguments, task_id) call.
func (e *Executor) Execute(ctx context.Context, toolName string, arguments json.RawMessage, taskID string) (*Result, error) {
	ctx, span := e.tracer.TraceToolExecution(ctx, toolName)
	defer span.End()

	start := time.Now()
	result, err := e.execute(ctx, toolName, arguments, taskID)

	status := "success"
	if err != nil || (result != nil && result.Status == StatusError) {
		status = "error"
	}
	e.metrics.RecordToolExecution(toolName, status, time.Since(start).Seconds())
	if err != nil {
		e.tracer.RecordError(span, err)
	}
	return result, err
}

func (e *Executor) execute(ctx context.Context, toolName string, arguments json.RawMessage, taskID string) (*Result, error) {
	if toolName == "final_output" {
		return e.executeFinalOutput(arguments)
	}

	def, ok := e.library.Lookup(toolName)
	if !ok {
		return &Result{Status: StatusError, ErrorInformation: fmt.Sprintf("unknown tool %q", toolName)}, nil
	}

	switch def.Type {
	case config.AgentTypeFinalOutput:
		return e.executeFinalOutput(arguments)
	case config.AgentTypeToolCallAgent:
		return e.executeExternalTool(ctx, def, arguments, taskID)
	case config.AgentTypeLLMCallAgent:
		return e.executeSubAgent(ctx, def, arguments, taskID)
	default:
		return &Result{Status: StatusError, ErrorInformation: fmt.Sprintf("tool %q has unrecognized type %q", toolName, def.Type)}, nil
	}
}

func (e *Executor) executeFinalOutput(arguments json.RawMessage) (*Result, error) {
	var args finalOutputArgs
	if err := json.Unmarshal(arguments, &args); err != nil {
		return &Result{Status: StatusError, ErrorInformation: fmt.Sprintf("final_output: invalid arguments: %v", err)}, nil
	}
	return &Result{Status: StatusOK, Output: args.Output}, nil
}

// executeExternalTool dispatches a tool_call_agent via the tool-server's
// `/api/tool/execute` endpoint, running the manual-mode confirmation hook
// first when toolName is whitelisted.
func (e *Executor) executeExternalTool(ctx context.Context, def *config.AgentDefinition, arguments json.RawMessage, taskID string) (*Result, error) {
	if e.manualMode.Enabled() && e.whitelist[def.Name] {
		if err := e.awaitConfirmation(ctx, taskID, def.Name, arguments); err != nil {
			return &Result{Status: StatusError, ErrorInformation: err.Error()}, nil
		}
	}

	resp, err := e.toolServer.ExecuteTool(ctx, taskID, def.Name, arguments)
	if err != nil {
		return nil, fmt.Errorf("execute tool %q: %w", def.Name, err)
	}
	if !resp.Success {
		return &Result{Status: StatusError, ErrorInformation: resp.Error}, nil
	}
	return &Result{Status: StatusOK, Output: string(resp.Data)}, nil
}

// subAgentArgs is the shape an llm_call_agent tool call's arguments take:
// the sub-agent receives its own task framing, not raw tool parameters.
type subAgentArgs struct {
	TaskInput string `json:"task_input"`
}

// executeSubAgent recursively instantiates an Agent Executor for def. The
// arguments arrive with the call-id suffix already applied by the Agent
// Executor, which augments before recording the pending tool so the
// persisted history matches what is actually sent; the task_input is passed
// through verbatim here.
func (e *Executor) executeSubAgent(ctx context.Context, def *config.AgentDefinition, arguments json.RawMessage, taskID string) (*Result, error) {
	var args subAgentArgs
	if err := json.Unmarshal(arguments, &args); err != nil {
		return &Result{Status: StatusError, ErrorInformation: fmt.Sprintf("%s: invalid arguments: %v", def.Name, err)}, nil
	}

	output, err := e.runner.RunAgent(ctx, taskID, def.Name, args.TaskInput)
	if err != nil {
		return &Result{Status: StatusError, ErrorInformation: err.Error()}, nil
	}
	return &Result{Status: StatusOK, Output: output}, nil
}
