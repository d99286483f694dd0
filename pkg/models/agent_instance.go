package models

// AgentStatus is the lifecycle state of an AgentInstance.
type AgentStatus string

const (
	AgentRunning   AgentStatus = "running"
	AgentCompleted AgentStatus = "completed"
)

// AgentInstance is one activation of an agent definition. Level
// is a depth category (0-3), not a raw stack depth; the same agent_name can
// be pushed at any depth any number of times within a task, each time
// allocating a new agent_id.
type AgentInstance struct {
	AgentID        string      `json:"agent_id"`
	AgentName      string      `json:"agent_name"`
	Level          int         `json:"level"`
	ParentID       string      `json:"parent_id,omitempty"`
	Status         AgentStatus `json:"status"`
	LatestThinking string      `json:"latest_thinking,omitempty"`
	FinalOutput    string      `json:"final_output,omitempty"`
	TaskInput      string      `json:"task_input"`
}

// IsRoot reports whether this instance has no parent.
func (a *AgentInstance) IsRoot() bool {
	return a.ParentID == ""
}

// HierarchyNode is one entry in the Call Tree's `agent_id -> {parent,
// children}` mapping. The Hierarchy Manager keeps Children in
// sync with every AgentInstance's ParentID on every mutation.
type HierarchyNode struct {
	Parent   string   `json:"parent,omitempty"`
	Children []string `json:"children"`
}

// ActivationFrame is one entry of the Activation Stack: an
// ordered list of currently-running frames from root to innermost. The top
// of the stack is the agent whose LLM is currently being invoked.
type ActivationFrame struct {
	AgentID   string `json:"agent_id"`
	AgentName string `json:"agent_name"`
	UserInput string `json:"user_input"`
	StartTime int64  `json:"start_time"`
}
