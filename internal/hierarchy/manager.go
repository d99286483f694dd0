// Package hierarchy implements the Hierarchy Manager: the shared, persisted
// model of the live call tree, per-agent status, and historical
// instructions for one task.
package hierarchy

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taskmesh/mla/internal/store"
	"github.com/taskmesh/mla/pkg/models"
)

// Manager owns the Task Context and Activation Stack for exactly one task.
// All mutations are serialized under mu and checkpointed to the
// Persistence Store before returning, so a crash between two operations
// never leaves the in-memory and on-disk views disagreeing.
type Manager struct {
	mu sync.RWMutex

	taskFingerprint string
	store           store.Store

	context *models.TaskContext
	stack   []models.ActivationFrame
}

// New constructs a Manager for taskFingerprint, loading any persisted
// context and stack from st. Missing records start from an empty
// TaskContext and an empty stack.
func New(taskFingerprint string, st store.Store) (*Manager, error) {
	m := &Manager{
		taskFingerprint: taskFingerprint,
		store:           st,
		context:         models.NewTaskContext(),
	}

	var tc models.TaskContext
	ok, err := st.Read(taskFingerprint, store.KindContext, "", &tc)
	if err != nil {
		return nil, fmt.Errorf("hierarchy: load context: %w", err)
	}
	if ok {
		m.context = &tc
	}

	var stack []models.ActivationFrame
	ok, err = st.Read(taskFingerprint, store.KindStack, "", &stack)
	if err != nil {
		return nil, fmt.Errorf("hierarchy: load stack: %w", err)
	}
	if ok {
		m.stack = stack
	}

	return m, nil
}

func (m *Manager) persistContext() error {
	return m.store.Write(m.taskFingerprint, store.KindContext, "", m.context)
}

func (m *Manager) persistStack() error {
	return m.store.Write(m.taskFingerprint, store.KindStack, "", m.stack)
}

// StartNewInstruction appends a new Instruction to current.instructions and
// returns its id.
func (m *Manager) StartNewInstruction(text string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.NewString()
	m.context.Current.Instructions = append(m.context.Current.Instructions, models.Instruction{
		ID:        id,
		Text:      text,
		StartTime: time.Now(),
	})
	if err := m.persistContext(); err != nil {
		return "", err
	}
	return id, nil
}

// LastInstructionID returns the id of the most recent current instruction,
// or "" when none has been started yet.
func (m *Manager) LastInstructionID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if n := len(m.context.Current.Instructions); n > 0 {
		return m.context.Current.Instructions[n-1].ID
	}
	return ""
}

// CompleteInstruction stamps the named instruction's completion_time, closing
// it out once its root agent has finished.
func (m *Manager) CompleteInstruction(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.context.Current.Instructions {
		if m.context.Current.Instructions[i].ID != id {
			continue
		}
		if m.context.Current.Instructions[i].CompletionTime.IsZero() {
			m.context.Current.Instructions[i].CompletionTime = time.Now()
		}
		return m.persistContext()
	}
	return fmt.Errorf("hierarchy: complete_instruction(%s): no such instruction", id)
}

// PushAgent allocates a new agent_id, registers it in the hierarchy and
// agents_status with status=running, and pushes it onto the Activation
// Stack. Parent is the current stack top, or empty for a root agent. level
// is the pushed agent's depth category from its definition, not the raw
// stack depth.
func (m *Manager) PushAgent(agentName, taskInput string, level int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	agentID := uuid.NewString()
	var parentID string
	if n := len(m.stack); n > 0 {
		parentID = m.stack[n-1].AgentID
	}

	if m.context.Current.Hierarchy == nil {
		m.context.Current.Hierarchy = map[string]models.HierarchyNode{}
	}
	if m.context.Current.AgentsStatus == nil {
		m.context.Current.AgentsStatus = map[string]*models.AgentInstance{}
	}

	m.context.Current.Hierarchy[agentID] = models.HierarchyNode{Parent: parentID, Children: []string{}}
	if parentID != "" {
		node := m.context.Current.Hierarchy[parentID]
		node.Children = append(node.Children, agentID)
		m.context.Current.Hierarchy[parentID] = node
	}

	m.context.Current.AgentsStatus[agentID] = &models.AgentInstance{
		AgentID:   agentID,
		AgentName: agentName,
		Level:     level,
		ParentID:  parentID,
		Status:    models.AgentRunning,
		TaskInput: taskInput,
	}

	m.stack = append(m.stack, models.ActivationFrame{
		AgentID:   agentID,
		AgentName: agentName,
		UserInput: taskInput,
		StartTime: time.Now().Unix(),
	})

	if err := m.checkInvariantsLocked(); err != nil {
		return "", err
	}
	if err := m.persistContext(); err != nil {
		return "", err
	}
	if err := m.persistStack(); err != nil {
		return "", err
	}
	return agentID, nil
}

// FindRunningChild returns the agent_id of an existing running instance of
// agentName whose parent is parentID ("" for a root agent), if one exists.
// The Agent Executor calls this before PushAgent so that recovering a
// pending sub-agent tool call after a crash resumes the same activation
// instead of minting a duplicate agent_id for the same logical call.
func (m *Manager) FindRunningChild(agentName, parentID string) (agentID string, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, inst := range m.context.Current.AgentsStatus {
		if inst.AgentName == agentName && inst.ParentID == parentID && inst.Status == models.AgentRunning {
			return id, true
		}
	}
	return "", false
}

// PushExisting re-pushes an already-registered, still-running agent instance
// onto the Activation Stack, for resuming a crashed activation rather than
// starting a fresh one. It is the resume counterpart to PushAgent.
func (m *Manager) PushExisting(agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, ok := m.context.Current.AgentsStatus[agentID]
	if !ok {
		return fmt.Errorf("hierarchy: push_existing(%s): no such agent instance", agentID)
	}
	if inst.Status != models.AgentRunning {
		return fmt.Errorf("hierarchy: push_existing(%s): not running", agentID)
	}

	m.stack = append(m.stack, models.ActivationFrame{
		AgentID:   agentID,
		AgentName: inst.AgentName,
		UserInput: inst.TaskInput,
		StartTime: time.Now().Unix(),
	})

	if err := m.checkInvariantsLocked(); err != nil {
		m.stack = m.stack[:len(m.stack)-1]
		return err
	}
	return m.persistStack()
}

// PopAgent marks agentID completed with finalOutput and pops the stack.
// It is a fatal mismatch (returned as an error so the caller can decide how
// to terminate) if the popped frame's agent_id does not match agentID.
func (m *Manager) PopAgent(agentID, finalOutput string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.stack) == 0 {
		return fmt.Errorf("hierarchy: pop_agent(%s): stack is empty", agentID)
	}
	top := m.stack[len(m.stack)-1]
	if top.AgentID != agentID {
		return fmt.Errorf("hierarchy: pop_agent(%s): stack top is %s (fatal mismatch)", agentID, top.AgentID)
	}

	inst, ok := m.context.Current.AgentsStatus[agentID]
	if !ok {
		return fmt.Errorf("hierarchy: pop_agent(%s): no such agent instance", agentID)
	}
	inst.Status = models.AgentCompleted
	inst.FinalOutput = finalOutput

	m.stack = m.stack[:len(m.stack)-1]

	if err := m.persistContext(); err != nil {
		return err
	}
	return m.persistStack()
}

// UpdateThinking sets agentID's latest_thinking.
func (m *Manager) UpdateThinking(agentID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, ok := m.context.Current.AgentsStatus[agentID]
	if !ok {
		return fmt.Errorf("hierarchy: update_thinking(%s): no such agent instance", agentID)
	}
	inst.LatestThinking = text
	return m.persistContext()
}

// AddAction is a placeholder hook for callers that want agents_status
// mutated as a side effect of recording an action (e.g. a future status
// field); render/fact history themselves live in the Agent Executor's own
// checkpoint (store.KindActions), not in the Task Context.
func (m *Manager) AddAction(agentID string, record models.ActionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.context.Current.AgentsStatus[agentID]; !ok {
		return fmt.Errorf("hierarchy: add_action(%s): no such agent instance", agentID)
	}
	_ = record
	return nil
}

// GetContext returns a deep copy of {current, history}, safe for the caller
// to read and mutate without affecting Manager's internal state.
func (m *Manager) GetContext() *models.TaskContext {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return deepCopyContext(m.context)
}

// Stack returns a copy of the Activation Stack, root to innermost.
func (m *Manager) Stack() []models.ActivationFrame {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.ActivationFrame, len(m.stack))
	copy(out, m.stack)
	return out
}

// ArchiveCurrent moves current into history[] with completion_time set on
// its most recent instruction, and resets current to empty. Used by State
// Cleaner when starting a genuinely new task over interrupted work.
func (m *Manager) ArchiveCurrent() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.context.Current.Instructions) == 0 {
		return nil
	}

	instructions := m.context.Current.Instructions
	last := instructions[len(instructions)-1]
	if last.CompletionTime.IsZero() {
		last.CompletionTime = time.Now()
		instructions[len(instructions)-1] = last
	}

	for _, inst := range instructions {
		m.context.History = append(m.context.History, models.ArchivedInstruction{
			Instruction:  inst,
			Hierarchy:    m.context.Current.Hierarchy,
			AgentsStatus: m.context.Current.AgentsStatus,
		})
	}

	m.context.Current = models.CurrentTask{
		Hierarchy:                    map[string]models.HierarchyNode{},
		AgentsStatus:                 map[string]*models.AgentInstance{},
		CompressedStructuredCallInfo: map[string]string{},
	}
	m.stack = nil

	if err := m.persistContext(); err != nil {
		return err
	}
	return m.persistStack()
}

// checkInvariantsLocked enforces the manager's write-time invariants. Callers
// must hold mu.
func (m *Manager) checkInvariantsLocked() error {
	for i, frame := range m.stack {
		inst, ok := m.context.Current.AgentsStatus[frame.AgentID]
		if !ok {
			return fmt.Errorf("hierarchy: invariant violation: stack frame %s has no agents_status entry", frame.AgentID)
		}
		if inst.Status != models.AgentRunning {
			return fmt.Errorf("hierarchy: invariant violation: stack frame %s is not running", frame.AgentID)
		}
		if i > 0 {
			parent := m.stack[i-1]
			node, ok := m.context.Current.Hierarchy[frame.AgentID]
			if !ok || node.Parent != parent.AgentID {
				return fmt.Errorf("hierarchy: invariant violation: stack is not a root-to-leaf path at %s", frame.AgentID)
			}
		}
	}
	for id, node := range m.context.Current.Hierarchy {
		for _, child := range node.Children {
			childNode, ok := m.context.Current.Hierarchy[child]
			if !ok || childNode.Parent != id {
				return fmt.Errorf("hierarchy: invariant violation: children/parent mismatch for %s -> %s", id, child)
			}
		}
	}
	return nil
}

func deepCopyContext(tc *models.TaskContext) *models.TaskContext {
	out := &models.TaskContext{
		Current: models.CurrentTask{
			Instructions:                 append([]models.Instruction{}, tc.Current.Instructions...),
			Hierarchy:                    map[string]models.HierarchyNode{},
			AgentsStatus:                 map[string]*models.AgentInstance{},
			CompressedUserAgentHistory:   tc.Current.CompressedUserAgentHistory,
			CompressedStructuredCallInfo: map[string]string{},
		},
	}
	for k, v := range tc.Current.Hierarchy {
		out.Current.Hierarchy[k] = models.HierarchyNode{Parent: v.Parent, Children: append([]string{}, v.Children...)}
	}
	for k, v := range tc.Current.AgentsStatus {
		cp := *v
		out.Current.AgentsStatus[k] = &cp
	}
	for k, v := range tc.Current.CompressedStructuredCallInfo {
		out.Current.CompressedStructuredCallInfo[k] = v
	}
	for _, archived := range tc.History {
		out.History = append(out.History, archived)
	}
	return out
}
