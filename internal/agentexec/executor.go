// Package agentexec implements the Agent Executor: the
// perceive-act loop that drives one agent activation, including LLM
// invocation, tool dispatch, history management, periodic re-planning,
// crash-safe checkpointing, and resume-from-pending recovery.
package agentexec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/taskmesh/mla/internal/config"
	"github.com/taskmesh/mla/internal/contextbuilder"
	"github.com/taskmesh/mla/internal/events"
	"github.com/taskmesh/mla/internal/hierarchy"
	"github.com/taskmesh/mla/internal/llm"
	"github.com/taskmesh/mla/internal/observability"
	"github.com/taskmesh/mla/internal/store"
	"github.com/taskmesh/mla/internal/thinking"
	"github.com/taskmesh/mla/internal/toolexec"
	"github.com/taskmesh/mla/pkg/models"
)

// Defaults for the loop's two bounding constants.
// MaxTurns is "effectively infinite" in the source (10^7); tests override it
// to something small via Options.
const (
	DefaultMaxTurns         = 10_000_000
	DefaultThinkingInterval = 10
	DefaultNoToolRetryLimit = 5
)

// ErrMaxTurnsExceeded is returned when an agent runs out its turn budget
// without reaching final_output.
var ErrMaxTurnsExceeded = fmt.Errorf("agentexec: max turns exceeded")

// runAttemptStatus classifies a RunAgent failure for the run-attempts
// metric's status label.
func runAttemptStatus(err error) string {
	switch {
	case errors.Is(err, ErrMaxTurnsExceeded):
		return "max_turns"
	case strings.Contains(err.Error(), "no-tool-call turns"):
		return "no_tool_exhausted"
	default:
		return "fatal"
	}
}

// Options configures an Executor at construction. One Executor instance
// serves every agent activation of a single task, including recursive
// sub-agent calls, since RunAgent is itself the recursion point
// toolexec.AgentRunner dispatches through.
type Options struct {
	TaskID           string
	Store            store.Store
	Hierarchy        *hierarchy.Manager
	Library          *config.AgentLibrary
	LLMConfig        *config.LLMConfig
	LLM              *llm.Client
	Thinking         *thinking.Service
	Builder          *contextbuilder.Builder
	ToolServer       *toolexec.ToolServerClient
	Emitter          *events.Emitter
	Logger           *observability.Logger
	Metrics          *observability.Metrics
	Tracer           *observability.Tracer
	MaxTurns         int
	ThinkingInterval int
	NoToolRetryLimit int
	ToolOptions      []toolexec.Option
}

// Executor is the Agent Executor. It owns no per-agent state itself; every
// activation's render/fact history, pending tools, and thinking are loaded
// from and checkpointed to the Persistence Store under that agent's own
// agent_id.
type Executor struct {
	taskID           string
	store            store.Store
	hier             *hierarchy.Manager
	library          *config.AgentLibrary
	llmConfig        *config.LLMConfig
	llmClient        *llm.Client
	thinking         *thinking.Service
	builder          *contextbuilder.Builder
	tools            *toolexec.Executor
	emitter          *events.Emitter
	logger           *observability.Logger
	metrics          *observability.Metrics
	tracer           *observability.Tracer
	maxTurns         int
	thinkingInterval int
	noToolRetryLimit int
}

// New builds an Executor and wires its Tool Executor, passing itself as the
// AgentRunner recursion point so an llm_call_agent tool call re-enters
// RunAgent rather than requiring a separate dispatch path.
func New(opts Options) *Executor {
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = DefaultMaxTurns
	}
	if opts.ThinkingInterval <= 0 {
		opts.ThinkingInterval = DefaultThinkingInterval
	}
	if opts.NoToolRetryLimit <= 0 {
		opts.NoToolRetryLimit = DefaultNoToolRetryLimit
	}
	if opts.Logger == nil {
		opts.Logger = observability.MustNewLogger(observability.LogConfig{Level: "info", Format: "json"})
	}
	if opts.Emitter == nil {
		opts.Emitter = events.New(opts.TaskID, nil)
	}

	e := &Executor{
		taskID:           opts.TaskID,
		store:            opts.Store,
		hier:             opts.Hierarchy,
		library:          opts.Library,
		llmConfig:        opts.LLMConfig,
		llmClient:        opts.LLM,
		thinking:         opts.Thinking,
		builder:          opts.Builder,
		emitter:          opts.Emitter,
		logger:           opts.Logger,
		metrics:          opts.Metrics,
		tracer:           opts.Tracer,
		maxTurns:         opts.MaxTurns,
		thinkingInterval: opts.ThinkingInterval,
		noToolRetryLimit: opts.NoToolRetryLimit,
	}
	toolOpts := append([]toolexec.Option{toolexec.WithObservability(opts.Metrics, opts.Tracer)}, opts.ToolOptions...)
	e.tools = toolexec.NewExecutor(opts.Library, opts.ToolServer, e, toolOpts...)
	return e
}

// RunAgent implements toolexec.AgentRunner and is the Executor's single
// public operation: run one agent activation's full perceive-act loop to
// completion (or crash-safe suspension) and return its final_output.
func (e *Executor) RunAgent(ctx context.Context, taskID, agentName, taskInput string) (finalOutput string, err error) {
	def, ok := e.library.Lookup(agentName)
	if !ok {
		return "", fmt.Errorf("agentexec: unknown agent %q", agentName)
	}

	agentID, resumed, err := e.pushOrResume(def, taskInput)
	if err != nil {
		return "", err
	}

	ctx = observability.AddAgentID(ctx, agentID)
	e.emitter.AgentCall(ctx, "", agentName, taskInput)
	e.logger.Info(ctx, "agentexec: run", "agent", agentName, "resumed", resumed)

	level := fmt.Sprintf("%d", def.Level)
	ctx, span := e.tracer.TraceAgentRun(ctx, agentName, agentID, e.taskID)
	defer span.End()
	if !resumed {
		e.metrics.AgentStarted(level)
	}
	start := time.Now()

	out, runErr := e.runLoop(ctx, agentID, def, taskInput)

	if !resumed {
		e.metrics.AgentEnded(level, agentName, time.Since(start).Seconds())
	}
	if runErr != nil {
		e.metrics.RecordRunAttempt(runAttemptStatus(runErr))
		e.metrics.RecordError("agentexec", runAttemptStatus(runErr))
		e.tracer.RecordError(span, runErr)
		e.emitter.Error(ctx, agentName, runErr.Error())
		return "", runErr
	}
	e.metrics.RecordRunAttempt("completed")
	e.emitter.Result(ctx, agentName, "completed", out)
	return out, nil
}

// pushOrResume registers agentName as a new running activation, or, if one
// is already running for this parent (a crash mid-call left it in
// agents_status as running), resumes that activation's agent_id instead of
// minting a duplicate one.
func (e *Executor) pushOrResume(def *config.AgentDefinition, taskInput string) (agentID string, resumed bool, err error) {
	var parentID string
	if stack := e.hier.Stack(); len(stack) > 0 {
		parentID = stack[len(stack)-1].AgentID
	}

	if existing, ok := e.hier.FindRunningChild(def.Name, parentID); ok {
		if err := e.hier.PushExisting(existing); err != nil {
			return "", false, fmt.Errorf("agentexec: resume %s: %w", def.Name, err)
		}
		return existing, true, nil
	}

	id, err := e.hier.PushAgent(def.Name, taskInput, def.Level)
	if err != nil {
		return "", false, fmt.Errorf("agentexec: push %s: %w", def.Name, err)
	}
	return id, false, nil
}

// loadActions reads the per-agent checkpoint, returning a fresh zero-value
// record if none exists yet.
func (e *Executor) loadActions(agentID string) (*store.AgentActions, error) {
	var actions store.AgentActions
	ok, err := e.store.Read(e.taskID, store.KindActions, agentID, &actions)
	if err != nil {
		return nil, fmt.Errorf("agentexec: load actions(%s): %w", agentID, err)
	}
	if !ok {
		return &store.AgentActions{}, nil
	}
	return &actions, nil
}

func (e *Executor) checkpoint(agentID string, actions *store.AgentActions) error {
	if err := e.store.Write(e.taskID, store.KindActions, agentID, actions); err != nil {
		return fmt.Errorf("agentexec: checkpoint(%s): %w", agentID, err)
	}
	return nil
}

// finalOutputFromFactHistory reports whether fact history already ends in a
// final_output call, and if so returns its recorded output.
func finalOutputFromFactHistory(fact []models.ActionRecord) (string, bool) {
	for i := len(fact) - 1; i >= 0; i-- {
		if fact[i].ToolName == "final_output" {
			return fact[i].Result.Output, true
		}
	}
	return "", false
}

// runLoop drives one agent activation's turn loop to completion. Fatal
// exceptions inside are recovered and converted into a popped agent with a
// synthetic error result embedding latest_thinking.
func (e *Executor) runLoop(ctx context.Context, agentID string, def *config.AgentDefinition, taskInput string) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			actions, loadErr := e.loadActions(agentID)
			thinkingText := ""
			if loadErr == nil {
				thinkingText = actions.LatestThinking
			}
			msg := fmt.Sprintf("agentexec: fatal: %v (latest_thinking: %s)", r, thinkingText)
			_ = e.hier.PopAgent(agentID, msg)
			err = fmt.Errorf("%s", msg)
		}
	}()

	actions, loadErr := e.loadActions(agentID)
	if loadErr != nil {
		return "", loadErr
	}

	if output, done := finalOutputFromFactHistory(actions.FactHistory); done {
		return output, nil
	}

	if recovered, doneOut, recoverErr := e.recoverPending(ctx, agentID, actions); recoverErr != nil {
		return "", recoverErr
	} else if recovered {
		return doneOut, nil
	}

	systemPrompt := e.library.Prompts.Render(def)
	availableTools := def.AvailableTools

	if !actions.FirstThinkingDone {
		result, thinkErr := e.plan(ctx, def, systemPrompt, availableTools, "", actions.ToolCallCounter)
		if thinkErr != nil {
			return "", thinkErr
		}
		actions.LatestThinking = result.Render()
		actions.FirstThinkingDone = true
		if err := e.hier.UpdateThinking(agentID, actions.LatestThinking); err != nil {
			return "", err
		}
		if err := e.checkpoint(agentID, actions); err != nil {
			return "", err
		}
	}

	noToolStreak := 0

	for turn := actions.CurrentTurn; turn < e.maxTurns; turn++ {
		actions.CurrentTurn = turn
		if err := e.checkpoint(agentID, actions); err != nil {
			return "", err
		}

		prompt, tools, buildErr := e.buildPrompt(ctx, agentID, def, systemPrompt, taskInput, actions)
		if buildErr != nil {
			return "", buildErr
		}
		actions.LastSystemPrompt = prompt.Prompt
		actions.RenderHistory = prompt.RenderHistory

		model, modelErr := e.modelFor(def)
		if modelErr != nil {
			return "", modelErr
		}

		result, chatErr := e.llmClient.Chat(ctx, llm.ChatRequest{
			History:      []llm.CompletionMessage{{Role: "user", Content: "emit the next action"}},
			Model:        model,
			SystemPrompt: prompt.Prompt,
			Tools:        tools,
			ToolChoice:   "required",
			MaxRetries:   config.DefaultMaxRetries,
		})
		if chatErr != nil {
			return "", fmt.Errorf("agentexec: chat: %w", chatErr)
		}

		if len(result.ToolCalls) == 0 {
			noToolStreak++
			record := models.ActionRecord{
				CallID:    uuid.NewString(),
				ToolName:  models.NoToolCallToolName,
				CreatedAt: time.Now(),
				Result:    models.ActionResult{Status: models.ToolStatusError, ErrorInformation: "no tool call returned"},
			}
			actions.RenderHistory = append(actions.RenderHistory, record)
			actions.FactHistory = append(actions.FactHistory, record)
			e.emitter.Warn(ctx, def.Name, "no tool call returned, retrying")
			if err := e.checkpoint(agentID, actions); err != nil {
				return "", err
			}

			if noToolStreak >= e.noToolRetryLimit+1 {
				planResult, thinkErr := e.plan(ctx, def, systemPrompt, availableTools, actions.LatestThinking, actions.ToolCallCounter)
				if thinkErr != nil {
					return "", thinkErr
				}
				actions.LatestThinking = planResult.Render()
				msg := fmt.Sprintf("agent gave up after %d consecutive no-tool-call turns (latest_thinking: %s)", noToolStreak, actions.LatestThinking)
				if err := e.hier.PopAgent(agentID, msg); err != nil {
					return "", err
				}
				return "", fmt.Errorf("agentexec: %s", msg)
			}
			continue
		}
		noToolStreak = 0

		call := result.ToolCalls[0]
		done, doneOutput, toolErr := e.handleToolCall(ctx, agentID, def, actions, call)
		if toolErr != nil {
			return "", toolErr
		}
		if done {
			return doneOutput, nil
		}

		if actions.ToolCallCounter > 0 && actions.ToolCallCounter%e.thinkingInterval == 0 {
			planResult, thinkErr := e.plan(ctx, def, systemPrompt, availableTools, actions.LatestThinking, actions.ToolCallCounter)
			if thinkErr != nil {
				return "", thinkErr
			}
			actions.LatestThinking = planResult.Render()
			actions.RenderHistory = nil
			if err := e.hier.UpdateThinking(agentID, actions.LatestThinking); err != nil {
				return "", err
			}
			e.emitter.Progress(ctx, def.Name, "periodic re-plan: render history reset")
			if err := e.checkpoint(agentID, actions); err != nil {
				return "", err
			}
		}
	}

	return "", ErrMaxTurnsExceeded
}

// toModelStatus maps a toolexec.Result's Status into the ActionResult
// status vocabulary persisted in render/fact history.
func toModelStatus(s toolexec.Status) models.ToolStatus {
	if s == toolexec.StatusOK {
		return models.ToolStatusSuccess
	}
	return models.ToolStatusError
}

// recoverPending re-executes any tool calls left in PendingTools by a crash
// between dispatch and checkpoint. Returns recovered=true with the agent's final
// output if recovery itself completed the agent via final_output.
func (e *Executor) recoverPending(ctx context.Context, agentID string, actions *store.AgentActions) (recovered bool, output string, err error) {
	if len(actions.PendingTools) == 0 {
		return false, "", nil
	}

	for _, pt := range actions.PendingTools {
		result, execErr := e.tools.Execute(ctx, pt.ToolName, pt.Arguments, e.taskID)
		if execErr != nil {
			return false, "", fmt.Errorf("agentexec: recover pending tool %s: %w", pt.ToolName, execErr)
		}
		record := models.ActionRecord{
			CallID:    pt.CallID,
			ToolName:  pt.ToolName,
			Arguments: pt.Arguments,
			CreatedAt: time.Now(),
			Result:    models.ActionResult{Status: toModelStatus(result.Status), Output: result.Output, ErrorInformation: result.ErrorInformation},
		}
		actions.RenderHistory = append(actions.RenderHistory, record)
		actions.FactHistory = append(actions.FactHistory, record)
		actions.ToolCallCounter++

		if pt.ToolName == "final_output" && result.Status == toolexec.StatusOK {
			actions.PendingTools = nil
			if err := e.checkpoint(agentID, actions); err != nil {
				return false, "", err
			}
			if err := e.hier.PopAgent(agentID, result.Output); err != nil {
				return false, "", err
			}
			return true, result.Output, nil
		}
	}

	actions.PendingTools = nil
	if err := e.checkpoint(agentID, actions); err != nil {
		return false, "", err
	}
	return false, "", nil
}

// augmentCall applies the call-id suffix rule before a sub-agent call is
// persisted or dispatched: a non-leaf llm_call_agent's task_input gets a
// fresh ` [call-<hex8>]` marker, so the pending tool, both histories, and
// the invocation all carry the same augmented value. Leaf tools and
// unparseable arguments pass through unchanged.
func (e *Executor) augmentCall(call models.ToolCall) models.ToolCall {
	def, ok := e.library.Lookup(call.Name)
	if !ok || def.Type != config.AgentTypeLLMCallAgent || def.Level == 0 {
		return call
	}

	var args map[string]any
	if err := json.Unmarshal(call.Arguments, &args); err != nil {
		return call
	}
	taskInput, _ := args["task_input"].(string)
	args["task_input"] = toolexec.AugmentTaskInput(taskInput)
	if data, err := json.Marshal(args); err == nil {
		call.Arguments = data
	}
	return call
}

// handleToolCall dispatches one LLM-emitted tool call through the Tool
// Executor, recording it as a pending tool before execution (so a crash
// mid-call is recoverable) and as a completed action record after. done is
// true once call resolves the agent via final_output.
func (e *Executor) handleToolCall(ctx context.Context, agentID string, def *config.AgentDefinition, actions *store.AgentActions, call models.ToolCall) (done bool, output string, err error) {
	call = e.augmentCall(call)
	pending := models.PendingTool{CallID: call.ID, ToolName: call.Name, Arguments: call.Arguments, CreatedAt: time.Now()}
	actions.PendingTools = append(actions.PendingTools, pending)
	if err := e.checkpoint(agentID, actions); err != nil {
		return false, "", err
	}

	result, execErr := e.tools.Execute(ctx, call.Name, call.Arguments, e.taskID)
	if execErr != nil {
		return false, "", fmt.Errorf("agentexec: execute %s: %w", call.Name, execErr)
	}

	record := models.ActionRecord{
		CallID:    call.ID,
		ToolName:  call.Name,
		Arguments: call.Arguments,
		CreatedAt: time.Now(),
		Result:    models.ActionResult{Status: toModelStatus(result.Status), Output: result.Output, ErrorInformation: result.ErrorInformation},
	}
	actions.RenderHistory = append(actions.RenderHistory, record)
	actions.FactHistory = append(actions.FactHistory, record)
	actions.PendingTools = nil
	actions.ToolCallCounter++

	e.emitter.ToolCall(ctx, def.Name, call.Name, call.Arguments, result.Status == toolexec.StatusOK, 0)

	if err := e.checkpoint(agentID, actions); err != nil {
		return false, "", err
	}

	if call.Name == "final_output" && result.Status == toolexec.StatusOK {
		if err := e.hier.PopAgent(agentID, result.Output); err != nil {
			return false, "", err
		}
		return true, result.Output, nil
	}
	return false, "", nil
}

// buildPrompt assembles the Context Builder's Input from the live
// Hierarchy Manager snapshot and this agent's own checkpointed histories.
func (e *Executor) buildPrompt(ctx context.Context, agentID string, def *config.AgentDefinition, systemPrompt, taskInput string, actions *store.AgentActions) (*contextbuilder.Result, []llm.Tool, error) {
	snapshot := e.hier.GetContext()

	var activeInstructions []models.Instruction
	for _, inst := range snapshot.Current.Instructions {
		if !inst.Done() {
			activeInstructions = append(activeInstructions, inst)
		}
	}

	result, err := e.builder.Build(ctx, contextbuilder.Input{
		GeneralSystemPrompt: systemPrompt,
		ActiveInstructions:  activeInstructions,
		PriorInstructions:   snapshot.History,
		CurrentAgentID:      agentID,
		CurrentAgentName:    def.Name,
		CurrentAgentTask:    taskInput,
		LatestThinking:      actions.LatestThinking,
		Hierarchy:           snapshot.Current.Hierarchy,
		AgentsStatus:        snapshot.Current.AgentsStatus,
		RenderHistory:       actions.RenderHistory,
		TaskContext:         snapshot,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("agentexec: build prompt: %w", err)
	}

	tools := e.toolsFor(def)
	return result, tools, nil
}

// toolsFor resolves an agent's available_tools list plus the always-offered
// final_output terminal tool into OpenAI-style function schemas.
func (e *Executor) toolsFor(def *config.AgentDefinition) []llm.Tool {
	tools := make([]llm.Tool, 0, len(def.AvailableTools)+1)
	tools = append(tools, finalOutputTool{})
	for _, name := range def.AvailableTools {
		if toolDef, ok := e.library.Lookup(name); ok {
			tools = append(tools, llm.NewAgentTool(toolDef))
		}
	}
	return tools
}

// modelFor picks the model this agent's turns are billed against: its
// model_type looked up in llm_config.yaml if set, otherwise the first
// configured chat model.
func (e *Executor) modelFor(def *config.AgentDefinition) (string, error) {
	if def.ModelType != "" {
		if m, ok := e.llmConfig.ModelByName(def.ModelType); ok {
			return m.Name, nil
		}
	}
	m, err := e.llmConfig.PrimaryModel()
	if err != nil {
		return "", err
	}
	return m.Name, nil
}

// plan invokes the Thinking sub-service once. The same meta-prompt serves
// both the initial plan (priorThinking empty) and every periodic re-plan
// (priorThinking populated).
func (e *Executor) plan(ctx context.Context, def *config.AgentDefinition, systemPrompt string, availableTools []string, priorThinking string, counter int) (*thinking.Result, error) {
	descriptions := map[string]string{}
	for _, name := range availableTools {
		if toolDef, ok := e.library.Lookup(name); ok {
			descriptions[name] = toolDef.Description
		}
	}
	result, err := e.thinking.Plan(ctx, thinking.Input{
		TaskDescription:   def.Description,
		AgentSystemPrompt: systemPrompt,
		AvailableTools:    availableTools,
		ToolDescriptions:  descriptions,
		PriorThinking:     priorThinking,
		ToolCallCounter:   counter,
	})
	if err != nil {
		return nil, fmt.Errorf("agentexec: thinking: %w", err)
	}
	return result, nil
}

// finalOutputTool is the always-available terminal tool the LLM calls to
// end an agent's turn loop: not a config.AgentDefinition, since
// it has no type/level/prompts of its own, just a fixed {output} schema.
type finalOutputTool struct{}

func (finalOutputTool) Name() string        { return "final_output" }
func (finalOutputTool) Description() string { return "Return the final answer and end this agent's turn." }
func (finalOutputTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"output":{"type":"string","description":"the final answer"}},"required":["output"]}`)
}
