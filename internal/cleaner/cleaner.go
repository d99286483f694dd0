// Package cleaner implements the State Cleaner / Resume reconciliation:
// the single operation invoked once before any agent is
// pushed, deciding between the empty, same-task-resume, and
// new-task-archive-and-fresh-start modes by inspecting the persisted Task
// Context directly, ahead of constructing a hierarchy.Manager for the run.
package cleaner

import (
	"fmt"
	"strings"
	"time"

	"github.com/taskmesh/mla/internal/store"
	"github.com/taskmesh/mla/pkg/models"
)

// Mode reports which of the three reconciliation paths Clean took.
type Mode string

const (
	ModeEmpty  Mode = "empty"
	ModeResume Mode = "resume"
	ModeNewTask Mode = "new_task"
)

// archiveMarker prefixes a synthesized final_output for a task interrupted
// mid-run, distinguishing it from an agent's own genuine output.
const archiveMarker = "【中断任务归档】"

// Clean reconciles taskFingerprint's persisted Task Context against
// newUserInput before the driver calls hierarchy.New and pushes a root
// agent.
func Clean(st store.Store, taskFingerprint, newUserInput string) (Mode, error) {
	var tc models.TaskContext
	ok, err := st.Read(taskFingerprint, store.KindContext, "", &tc)
	if err != nil {
		return "", fmt.Errorf("cleaner: load context: %w", err)
	}
	if !ok || len(tc.Current.Instructions) == 0 {
		return ModeEmpty, nil
	}

	last := tc.Current.Instructions[len(tc.Current.Instructions)-1]
	if last.Text == newUserInput {
		return ModeResume, clearStack(st, taskFingerprint)
	}

	if err := archiveAndFreshStart(&tc); err != nil {
		return "", err
	}
	if err := st.Write(taskFingerprint, store.KindContext, "", &tc); err != nil {
		return "", fmt.Errorf("cleaner: persist archived context: %w", err)
	}
	if err := clearStack(st, taskFingerprint); err != nil {
		return "", err
	}
	return ModeNewTask, nil
}

// clearStack resets the Activation Stack to empty; it will be rebuilt by
// the driver's subsequent push_agent call; stack reconciliation is a
// separate operation from push_agent.
func clearStack(st store.Store, taskFingerprint string) error {
	if err := st.Write(taskFingerprint, store.KindStack, "", []models.ActivationFrame{}); err != nil {
		return fmt.Errorf("cleaner: clear stack: %w", err)
	}
	return nil
}

// archiveAndFreshStart implements the "New task" branch: every root-level
// running agent gets a synthesized final_output and is marked completed,
// every other running row is dropped, and the whole current instruction set
// moves to history with its compression caches cleared.
func archiveAndFreshStart(tc *models.TaskContext) error {
	for id, inst := range tc.Current.AgentsStatus {
		if inst.IsRoot() && inst.Status != models.AgentCompleted {
			inst.FinalOutput = synthesizeFinalOutput(inst, tc.Current.AgentsStatus)
			inst.Status = models.AgentCompleted
			tc.Current.AgentsStatus[id] = inst
		}
	}

	for id, inst := range tc.Current.AgentsStatus {
		if inst.Status != models.AgentCompleted {
			delete(tc.Current.AgentsStatus, id)
			delete(tc.Current.Hierarchy, id)
		}
	}
	for id, node := range tc.Current.Hierarchy {
		kept := node.Children[:0]
		for _, child := range node.Children {
			if _, ok := tc.Current.Hierarchy[child]; ok {
				kept = append(kept, child)
			}
		}
		node.Children = kept
		tc.Current.Hierarchy[id] = node
	}

	if len(tc.Current.Instructions) > 0 {
		lastIdx := len(tc.Current.Instructions) - 1
		last := tc.Current.Instructions[lastIdx]
		if last.CompletionTime.IsZero() {
			last.CompletionTime = time.Now()
			tc.Current.Instructions[lastIdx] = last
		}
	}
	for _, instr := range tc.Current.Instructions {
		tc.History = append(tc.History, models.ArchivedInstruction{
			Instruction:  instr,
			Hierarchy:    tc.Current.Hierarchy,
			AgentsStatus: tc.Current.AgentsStatus,
		})
	}

	tc.Current = models.CurrentTask{
		Hierarchy:                    map[string]models.HierarchyNode{},
		AgentsStatus:                 map[string]*models.AgentInstance{},
		CompressedStructuredCallInfo: map[string]string{},
	}
	return nil
}

// synthesizeFinalOutput concatenates an interrupted root agent's
// latest_thinking with the final_outputs of its already-completed children,
// so the work it did before the crash is not wholly lost.
func synthesizeFinalOutput(inst *models.AgentInstance, all map[string]*models.AgentInstance) string {
	var sb strings.Builder
	sb.WriteString(archiveMarker)
	sb.WriteString(inst.LatestThinking)
	for _, child := range all {
		if child.ParentID == inst.AgentID && child.Status == models.AgentCompleted {
			sb.WriteString("\n")
			sb.WriteString(child.FinalOutput)
		}
	}
	return sb.String()
}
