package models

// ArchivedInstruction is one entry of TaskContext.History: a prior
// instruction together with the forest it produced, moved out of the
// current view by State Cleaner's archive_current operation.
type ArchivedInstruction struct {
	Instruction  Instruction              `json:"instruction"`
	Hierarchy    map[string]HierarchyNode `json:"hierarchy"`
	AgentsStatus map[string]*AgentInstance `json:"agents_status"`
}

// CurrentTask holds the live instructions, call tree, and agent statuses for
// a task's active instruction. It is the mutable half of a TaskContext;
// History is append-only.
type CurrentTask struct {
	Instructions []Instruction             `json:"instructions"`
	Hierarchy    map[string]HierarchyNode  `json:"hierarchy"`
	AgentsStatus map[string]*AgentInstance `json:"agents_status"`

	// CompressedUserAgentHistory memoizes the §4.3 rule-1 digest of prior
	// instructions' outcomes for this task activation.
	CompressedUserAgentHistory string `json:"_compressed_user_agent_history,omitempty"`

	// CompressedStructuredCallInfo memoizes the §4.3 rule-2 digest of the
	// call tree, one entry per viewing agent_id (the "current agent" marker
	// differs per viewer).
	CompressedStructuredCallInfo map[string]string `json:"_compressed_structured_call_info,omitempty"`
}

// TaskContext is the per-task persisted object: current
// instructions/hierarchy/agents_status plus archived history and ephemeral
// compression caches.
type TaskContext struct {
	Current CurrentTask           `json:"current"`
	History []ArchivedInstruction `json:"history"`
}

// NewTaskContext returns an empty, ready-to-use TaskContext.
func NewTaskContext() *TaskContext {
	return &TaskContext{
		Current: CurrentTask{
			Hierarchy:                    map[string]HierarchyNode{},
			AgentsStatus:                 map[string]*AgentInstance{},
			CompressedStructuredCallInfo: map[string]string{},
		},
	}
}
