package cleaner

import (
	"log/slog"
	"strings"
	"testing"

	"github.com/taskmesh/mla/internal/store"
	"github.com/taskmesh/mla/pkg/models"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewFileStore(t.TempDir(), slog.Default())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return st
}

func TestClean_EmptyWhenNoContext(t *testing.T) {
	st := newTestStore(t)
	mode, err := Clean(st, "fp1", "do the thing")
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if mode != ModeEmpty {
		t.Fatalf("expected ModeEmpty, got %s", mode)
	}
}

func TestClean_ResumePreservesAgentsClearsStack(t *testing.T) {
	st := newTestStore(t)
	tc := &models.TaskContext{
		Current: models.CurrentTask{
			Instructions: []models.Instruction{{ID: "i1", Text: "do the thing"}},
			Hierarchy:    map[string]models.HierarchyNode{"a1": {Children: []string{}}},
			AgentsStatus: map[string]*models.AgentInstance{
				"a1": {AgentID: "a1", AgentName: "planner", Status: models.AgentRunning, TaskInput: "do the thing"},
			},
		},
	}
	if err := st.Write("fp1", store.KindContext, "", tc); err != nil {
		t.Fatalf("seed context: %v", err)
	}
	if err := st.Write("fp1", store.KindStack, "", []models.ActivationFrame{{AgentID: "a1", AgentName: "planner"}}); err != nil {
		t.Fatalf("seed stack: %v", err)
	}

	mode, err := Clean(st, "fp1", "do the thing")
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if mode != ModeResume {
		t.Fatalf("expected ModeResume, got %s", mode)
	}

	var stack []models.ActivationFrame
	ok, err := st.Read("fp1", store.KindStack, "", &stack)
	if err != nil || !ok {
		t.Fatalf("read stack: ok=%v err=%v", ok, err)
	}
	if len(stack) != 0 {
		t.Fatalf("expected cleared stack, got %+v", stack)
	}

	var after models.TaskContext
	ok, err = st.Read("fp1", store.KindContext, "", &after)
	if err != nil || !ok {
		t.Fatalf("read context: ok=%v err=%v", ok, err)
	}
	if after.Current.AgentsStatus["a1"].Status != models.AgentRunning {
		t.Fatalf("expected a1 preserved as running, got %+v", after.Current.AgentsStatus["a1"])
	}
}

func TestClean_NewTaskArchivesAndSynthesizesOutput(t *testing.T) {
	st := newTestStore(t)
	tc := &models.TaskContext{
		Current: models.CurrentTask{
			Instructions: []models.Instruction{{ID: "i1", Text: "old task"}},
			Hierarchy: map[string]models.HierarchyNode{
				"root":  {Children: []string{"child"}},
				"child": {Parent: "root", Children: []string{}},
			},
			AgentsStatus: map[string]*models.AgentInstance{
				"root":  {AgentID: "root", AgentName: "planner", Status: models.AgentRunning, LatestThinking: "almost done", TaskInput: "old task"},
				"child": {AgentID: "child", AgentName: "searcher", ParentID: "root", Status: models.AgentCompleted, FinalOutput: "found 3 files"},
			},
		},
	}
	if err := st.Write("fp1", store.KindContext, "", tc); err != nil {
		t.Fatalf("seed context: %v", err)
	}
	if err := st.Write("fp1", store.KindStack, "", []models.ActivationFrame{{AgentID: "root"}}); err != nil {
		t.Fatalf("seed stack: %v", err)
	}

	mode, err := Clean(st, "fp1", "new task")
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if mode != ModeNewTask {
		t.Fatalf("expected ModeNewTask, got %s", mode)
	}

	var after models.TaskContext
	ok, err := st.Read("fp1", store.KindContext, "", &after)
	if err != nil || !ok {
		t.Fatalf("read context: ok=%v err=%v", ok, err)
	}
	if len(after.Current.AgentsStatus) != 0 || len(after.Current.Hierarchy) != 0 {
		t.Fatalf("expected current reset to empty, got %+v", after.Current)
	}
	if len(after.History) != 1 {
		t.Fatalf("expected one archived instruction, got %d", len(after.History))
	}
	archivedRoot := after.History[0].AgentsStatus["root"]
	if archivedRoot.Status != models.AgentCompleted {
		t.Fatalf("expected archived root marked completed, got %+v", archivedRoot)
	}
	if !strings.Contains(archivedRoot.FinalOutput, "almost done") || !strings.Contains(archivedRoot.FinalOutput, "found 3 files") {
		t.Fatalf("expected synthesized output to include thinking and child output, got %q", archivedRoot.FinalOutput)
	}

	var stack []models.ActivationFrame
	ok, err = st.Read("fp1", store.KindStack, "", &stack)
	if err != nil || !ok {
		t.Fatalf("read stack: ok=%v err=%v", ok, err)
	}
	if len(stack) != 0 {
		t.Fatalf("expected cleared stack, got %+v", stack)
	}
}
