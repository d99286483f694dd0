package agentexec

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/mla/internal/config"
	"github.com/taskmesh/mla/internal/contextbuilder"
	"github.com/taskmesh/mla/internal/events"
	"github.com/taskmesh/mla/internal/hierarchy"
	"github.com/taskmesh/mla/internal/llm"
	"github.com/taskmesh/mla/internal/store"
	"github.com/taskmesh/mla/internal/thinking"
	"github.com/taskmesh/mla/pkg/models"
)

// scriptedProvider replays one Complete() outcome per call, in order, so a
// test can drive the turn loop through an exact scripted sequence without a
// network dependency (mirrors internal/llm's own test helper).
type scriptedProvider struct {
	calls   int
	outcome []func() (<-chan *llm.CompletionChunk, error)
}

func (p *scriptedProvider) Name() string { return "scripted" }
func (p *scriptedProvider) Models() []llm.Model {
	return []llm.Model{{ID: "test-model", Name: "test-model", ContextSize: 8000}}
}
func (p *scriptedProvider) SupportsTools() bool { return true }

func (p *scriptedProvider) Complete(ctx context.Context, req *llm.CompletionRequest) (<-chan *llm.CompletionChunk, error) {
	idx := p.calls
	p.calls++
	if idx >= len(p.outcome) {
		idx = len(p.outcome) - 1
	}
	return p.outcome[idx]()
}

func textThenDone(text string) func() (<-chan *llm.CompletionChunk, error) {
	return func() (<-chan *llm.CompletionChunk, error) {
		ch := make(chan *llm.CompletionChunk, 2)
		ch <- &llm.CompletionChunk{Text: text}
		ch <- &llm.CompletionChunk{Done: true}
		close(ch)
		return ch, nil
	}
}

func toolCallThenDone(id, name string, args []byte) func() (<-chan *llm.CompletionChunk, error) {
	return func() (<-chan *llm.CompletionChunk, error) {
		ch := make(chan *llm.CompletionChunk, 2)
		ch <- &llm.CompletionChunk{ToolCall: &models.ToolCall{ID: id, Name: name, Arguments: args}}
		ch <- &llm.CompletionChunk{Done: true}
		close(ch)
		return ch, nil
	}
}

func noToolCall() func() (<-chan *llm.CompletionChunk, error) {
	return func() (<-chan *llm.CompletionChunk, error) {
		ch := make(chan *llm.CompletionChunk, 1)
		ch <- &llm.CompletionChunk{Done: true}
		close(ch)
		return ch, nil
	}
}

func testLibrary() *config.AgentLibrary {
	return &config.AgentLibrary{
		Prompts: config.GeneralPrompts{SystemPromptXML: "you are {agent_name}"},
		Agents: map[string]*config.AgentDefinition{
			"root_agent": {
				Name:           "root_agent",
				Type:           config.AgentTypeLLMCallAgent,
				Level:          2,
				AvailableTools: []string{"helper"},
				Prompts:        &config.Prompts{AgentResponsibility: "answer", AgentWorkflow: "act"},
			},
			"helper": {
				Name:    "helper",
				Type:    config.AgentTypeLLMCallAgent,
				Level:   1,
				Prompts: &config.Prompts{AgentResponsibility: "analyze", AgentWorkflow: "act"},
			},
		},
	}
}

func testLLMConfig() *config.LLMConfig {
	return &config.LLMConfig{
		MaxContextWindow: 0,
		Models:           []config.ModelConfig{{Name: "test-model"}},
	}
}

// newTestExecutor wires a full Executor over a temp-dir FileStore and a
// scripted single-provider LLM Client, so RunAgent exercises the real
// hierarchy, store, context builder, toolexec, and thinking packages end to
// end, with only the model boundary faked.
func newTestExecutor(t *testing.T, taskID string, provider *scriptedProvider) *Executor {
	t.Helper()
	st, err := store.NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)

	hier, err := hierarchy.New(taskID, st)
	require.NoError(t, err)

	client := llm.NewClient(map[string]llm.Provider{"scripted": provider}, llm.DefaultTimeouts(), nil)
	thinker := thinking.New(client, "test-model")
	builder := contextbuilder.New(nil, 0)

	return New(Options{
		TaskID:    taskID,
		Store:     st,
		Hierarchy: hier,
		Library:   testLibrary(),
		LLMConfig: testLLMConfig(),
		LLM:       client,
		Thinking:  thinker,
		Builder:   builder,
		Emitter:   events.New(taskID, nil),
		MaxTurns:  20,
	})
}

// TestRunAgent_HappyPath: a plan call followed by
// one final_output tool call should complete the agent and leave a clean
// fact history ending in exactly one final_output record.
func TestRunAgent_HappyPath(t *testing.T) {
	provider := &scriptedProvider{outcome: []func() (<-chan *llm.CompletionChunk, error){
		textThenDone("<todo_list>say hello</todo_list><fixed_info></fixed_info><next_n_steps></next_n_steps>"),
		toolCallThenDone("call-1", "final_output", []byte(`{"output":"done"}`)),
	}}
	e := newTestExecutor(t, "task-1", provider)

	out, err := e.RunAgent(context.Background(), "task-1", "root_agent", "say hello")
	require.NoError(t, err)
	assert.Equal(t, "done", out)

	actions, err := e.loadActions(firstAgentID(t, e))
	require.NoError(t, err)
	require.Len(t, actions.FactHistory, 1)
	assert.Equal(t, "final_output", actions.FactHistory[0].ToolName)
	assert.Equal(t, models.ToolStatusSuccess, actions.FactHistory[0].Result.Status)
}

// TestRunAgent_Idempotent: once fact history
// ends in final_output, a second RunAgent call for the same agent_id returns
// the same result without making any further LLM calls.
func TestRunAgent_Idempotent(t *testing.T) {
	provider := &scriptedProvider{outcome: []func() (<-chan *llm.CompletionChunk, error){
		textThenDone("<todo_list></todo_list><fixed_info></fixed_info><next_n_steps></next_n_steps>"),
		toolCallThenDone("call-1", "final_output", []byte(`{"output":"done"}`)),
	}}
	e := newTestExecutor(t, "task-1", provider)

	out1, err := e.RunAgent(context.Background(), "task-1", "root_agent", "say hello")
	require.NoError(t, err)

	callsAfterFirstRun := provider.calls

	out2, err := e.RunAgent(context.Background(), "task-1", "root_agent", "say hello")
	require.NoError(t, err)

	assert.Equal(t, out1, out2)
	assert.Equal(t, callsAfterFirstRun, provider.calls, "idempotent re-entry must not invoke the LLM again")
}

// TestRunAgent_NoToolBackoff: five consecutive
// no-tool-call turns append _no_tool_call error records, then the agent
// completes normally on the turn that finally emits final_output.
func TestRunAgent_NoToolBackoff(t *testing.T) {
	outcomes := []func() (<-chan *llm.CompletionChunk, error){
		textThenDone("<todo_list></todo_list><fixed_info></fixed_info><next_n_steps></next_n_steps>"),
	}
	for i := 0; i < 5; i++ {
		outcomes = append(outcomes, noToolCall())
	}
	outcomes = append(outcomes, toolCallThenDone("call-1", "final_output", []byte(`{"output":"done"}`)))
	provider := &scriptedProvider{outcome: outcomes}
	e := newTestExecutor(t, "task-1", provider)

	out, err := e.RunAgent(context.Background(), "task-1", "root_agent", "say hello")
	require.NoError(t, err)
	assert.Equal(t, "done", out)

	actions, err := e.loadActions(firstAgentID(t, e))
	require.NoError(t, err)

	noToolCalls := 0
	for _, rec := range actions.FactHistory {
		if rec.ToolName == models.NoToolCallToolName {
			noToolCalls++
		}
	}
	assert.Equal(t, 5, noToolCalls)
	assert.Equal(t, "final_output", actions.FactHistory[len(actions.FactHistory)-1].ToolName)
}

// TestRunAgent_SubAgentArgumentsAugmentedBeforePersistence drives a root
// agent through one sub-agent call and checks the call-id suffix rule: the
// arguments recorded in the parent's fact history, and the task_input the
// child activation was registered with, both carry the same ` [call-<hex8>]`
// marker appended before the pending tool was checkpointed.
func TestRunAgent_SubAgentArgumentsAugmentedBeforePersistence(t *testing.T) {
	plan := textThenDone("<todo_list></todo_list><fixed_info></fixed_info><next_n_steps></next_n_steps>")
	provider := &scriptedProvider{outcome: []func() (<-chan *llm.CompletionChunk, error){
		plan, // root initial plan
		toolCallThenDone("call-1", "helper", []byte(`{"task_input":"analyze X"}`)),
		plan, // helper initial plan
		toolCallThenDone("call-2", "final_output", []byte(`{"output":"analysis done"}`)),
		toolCallThenDone("call-3", "final_output", []byte(`{"output":"done"}`)),
	}}
	e := newTestExecutor(t, "task-1", provider)

	out, err := e.RunAgent(context.Background(), "task-1", "root_agent", "do the thing")
	require.NoError(t, err)
	assert.Equal(t, "done", out)

	rootID := agentIDByName(t, e, "root_agent")
	actions, err := e.loadActions(rootID)
	require.NoError(t, err)

	var helperRecord *models.ActionRecord
	for i := range actions.FactHistory {
		if actions.FactHistory[i].ToolName == "helper" {
			helperRecord = &actions.FactHistory[i]
		}
	}
	require.NotNil(t, helperRecord, "expected a helper call in root's fact history")

	var args struct {
		TaskInput string `json:"task_input"`
	}
	require.NoError(t, json.Unmarshal(helperRecord.Arguments, &args))
	assert.Contains(t, args.TaskInput, "analyze X [call-")
	assert.Equal(t, "analysis done", helperRecord.Result.Output)

	// The child activation was registered with the same augmented input.
	helperID := agentIDByName(t, e, "helper")
	snap := e.hier.GetContext()
	assert.Equal(t, args.TaskInput, snap.Current.AgentsStatus[helperID].TaskInput)
}

// firstAgentID reads back the sole pushed-then-completed agent's id from the
// hierarchy snapshot, so tests can load its checkpoint by id without having
// to thread agent_id generation through RunAgent's return value.
func firstAgentID(t *testing.T, e *Executor) string {
	t.Helper()
	snap := e.hier.GetContext()
	for id := range snap.Current.AgentsStatus {
		return id
	}
	t.Fatal("no agent found in hierarchy snapshot")
	return ""
}

// agentIDByName finds the activation id pushed for agentName.
func agentIDByName(t *testing.T, e *Executor, agentName string) string {
	t.Helper()
	snap := e.hier.GetContext()
	for id, inst := range snap.Current.AgentsStatus {
		if inst.AgentName == agentName {
			return id
		}
	}
	t.Fatalf("no agent named %s in hierarchy snapshot", agentName)
	return ""
}
