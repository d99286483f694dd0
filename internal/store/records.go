package store

import (
	"fmt"

	"github.com/taskmesh/mla/pkg/models"
)

// RecordKind identifies one of the four file shapes the Persistence Store
// persists.
type RecordKind string

const (
	KindContext      RecordKind = "context"
	KindStack        RecordKind = "stack"
	KindActions      RecordKind = "actions"
	KindLatestOutput RecordKind = "latest_output"
)

// FileName returns the on-disk file name for a (task fingerprint, kind,
// agent id) triple, matching the four record-kind file names
// exactly. agentID is ignored for KindContext and KindStack.
func FileName(taskFingerprint string, kind RecordKind, agentID string) (string, error) {
	switch kind {
	case KindContext:
		return taskFingerprint + "_context.json", nil
	case KindStack:
		return taskFingerprint + "_stack.json", nil
	case KindActions:
		if agentID == "" {
			return "", fmt.Errorf("store: agent id required for kind %q", kind)
		}
		return fmt.Sprintf("%s_%s_actions.json", taskFingerprint, agentID), nil
	case KindLatestOutput:
		if agentID == "" {
			return "", fmt.Errorf("store: agent id required for kind %q", kind)
		}
		return fmt.Sprintf("%s_%s_latest_output.json", taskFingerprint, agentID), nil
	default:
		return "", fmt.Errorf("store: unknown record kind %q", kind)
	}
}

// AgentActions is the per-agent record persisted under KindActions: render
// and fact history, pending tools, and the turn/thinking bookkeeping the
// Agent Executor checkpoints after every state transition.
type AgentActions struct {
	RenderHistory     []models.ActionRecord `json:"render_history"`
	FactHistory       []models.ActionRecord `json:"fact_history"`
	PendingTools      []models.PendingTool  `json:"pending_tools"`
	LatestThinking    string                `json:"latest_thinking"`
	FirstThinkingDone bool                  `json:"first_thinking_done"`
	CurrentTurn       int                   `json:"current_turn"`
	ToolCallCounter   int                   `json:"tool_call_counter"`
	LastSystemPrompt  string                `json:"last_system_prompt,omitempty"`
}

// LatestOutput is the optional per-agent digest record consumed by UIs that
// poll for progress instead of tailing the event stream.
type LatestOutput struct {
	AgentID   string `json:"agent_id"`
	Status    string `json:"status"`
	Output    string `json:"output,omitempty"`
	UpdatedAt string `json:"updated_at"`
}
