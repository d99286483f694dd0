package hierarchy

import (
	"log/slog"
	"testing"

	"github.com/taskmesh/mla/internal/store"
)

func newTestManager(t *testing.T) (*Manager, store.Store) {
	t.Helper()
	st, err := store.NewFileStore(t.TempDir(), slog.Default())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	m, err := New("fp1", st)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m, st
}

func TestManager_StartNewInstruction(t *testing.T) {
	m, _ := newTestManager(t)
	id, err := m.StartNewInstruction("build the widget")
	if err != nil {
		t.Fatalf("StartNewInstruction: %v", err)
	}
	if id == "" {
		t.Fatal("expected non-empty instruction id")
	}
	ctx := m.GetContext()
	if len(ctx.Current.Instructions) != 1 || ctx.Current.Instructions[0].ID != id {
		t.Fatalf("unexpected instructions: %+v", ctx.Current.Instructions)
	}
}

func TestManager_CompleteInstruction(t *testing.T) {
	m, _ := newTestManager(t)
	id, err := m.StartNewInstruction("build the widget")
	if err != nil {
		t.Fatalf("StartNewInstruction: %v", err)
	}
	if got := m.LastInstructionID(); got != id {
		t.Fatalf("LastInstructionID = %q, want %q", got, id)
	}
	if err := m.CompleteInstruction(id); err != nil {
		t.Fatalf("CompleteInstruction: %v", err)
	}
	ctx := m.GetContext()
	if ctx.Current.Instructions[0].CompletionTime.IsZero() {
		t.Fatal("expected completion time set")
	}
	if err := m.CompleteInstruction("no-such-id"); err == nil {
		t.Fatal("expected error for unknown instruction")
	}
}

func TestManager_PushPopAgent(t *testing.T) {
	m, _ := newTestManager(t)

	rootID, err := m.PushAgent("planner", "do the task", 2)
	if err != nil {
		t.Fatalf("PushAgent root: %v", err)
	}
	childID, err := m.PushAgent("searcher", "find files", 1)
	if err != nil {
		t.Fatalf("PushAgent child: %v", err)
	}

	stack := m.Stack()
	if len(stack) != 2 || stack[0].AgentID != rootID || stack[1].AgentID != childID {
		t.Fatalf("unexpected stack: %+v", stack)
	}

	ctx := m.GetContext()
	if ctx.Current.Hierarchy[childID].Parent != rootID {
		t.Fatalf("expected child parent to be root, got %+v", ctx.Current.Hierarchy[childID])
	}
	if len(ctx.Current.Hierarchy[rootID].Children) != 1 || ctx.Current.Hierarchy[rootID].Children[0] != childID {
		t.Fatalf("expected root to list child, got %+v", ctx.Current.Hierarchy[rootID])
	}
	if ctx.Current.AgentsStatus[rootID].Level != 2 || ctx.Current.AgentsStatus[childID].Level != 1 {
		t.Fatalf("expected definition levels persisted, got root=%d child=%d",
			ctx.Current.AgentsStatus[rootID].Level, ctx.Current.AgentsStatus[childID].Level)
	}

	if err := m.PopAgent(childID, "found 3 files"); err != nil {
		t.Fatalf("PopAgent child: %v", err)
	}
	stack = m.Stack()
	if len(stack) != 1 || stack[0].AgentID != rootID {
		t.Fatalf("expected only root left on stack, got %+v", stack)
	}

	ctx = m.GetContext()
	childInst := ctx.Current.AgentsStatus[childID]
	if childInst.FinalOutput != "found 3 files" {
		t.Fatalf("expected final output set, got %+v", childInst)
	}

	if err := m.PopAgent(rootID, "done"); err != nil {
		t.Fatalf("PopAgent root: %v", err)
	}
	if len(m.Stack()) != 0 {
		t.Fatal("expected empty stack")
	}
}

func TestManager_PopAgent_MismatchIsFatal(t *testing.T) {
	m, _ := newTestManager(t)
	rootID, _ := m.PushAgent("planner", "task", 2)
	_, _ = m.PushAgent("child", "subtask", 1)

	if err := m.PopAgent(rootID, "wrong"); err == nil {
		t.Fatal("expected error popping non-top agent")
	}
}

func TestManager_UpdateThinking(t *testing.T) {
	m, _ := newTestManager(t)
	id, _ := m.PushAgent("planner", "task", 2)
	if err := m.UpdateThinking(id, "step 1: gather context"); err != nil {
		t.Fatalf("UpdateThinking: %v", err)
	}
	ctx := m.GetContext()
	if ctx.Current.AgentsStatus[id].LatestThinking != "step 1: gather context" {
		t.Fatalf("unexpected thinking: %+v", ctx.Current.AgentsStatus[id])
	}
}

func TestManager_ArchiveCurrent(t *testing.T) {
	m, _ := newTestManager(t)
	_, _ = m.StartNewInstruction("first task")
	rootID, _ := m.PushAgent("planner", "first task", 2)
	_ = m.PopAgent(rootID, "done")

	if err := m.ArchiveCurrent(); err != nil {
		t.Fatalf("ArchiveCurrent: %v", err)
	}

	ctx := m.GetContext()
	if len(ctx.History) != 1 {
		t.Fatalf("expected 1 archived instruction, got %d", len(ctx.History))
	}
	if len(ctx.Current.Instructions) != 0 {
		t.Fatalf("expected current instructions cleared, got %+v", ctx.Current.Instructions)
	}
	if ctx.History[0].Instruction.CompletionTime.IsZero() {
		t.Fatal("expected archived instruction to have completion time set")
	}
}

func TestManager_ArchiveCurrent_Empty(t *testing.T) {
	m, _ := newTestManager(t)
	if err := m.ArchiveCurrent(); err != nil {
		t.Fatalf("ArchiveCurrent on empty context should be a no-op: %v", err)
	}
}

func TestManager_PersistsAcrossReload(t *testing.T) {
	dir := t.TempDir()
	st, err := store.NewFileStore(dir, slog.Default())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	m1, err := New("fp1", st)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	agentID, err := m1.PushAgent("planner", "task", 2)
	if err != nil {
		t.Fatalf("PushAgent: %v", err)
	}

	m2, err := New("fp1", st)
	if err != nil {
		t.Fatalf("New (reload): %v", err)
	}
	stack := m2.Stack()
	if len(stack) != 1 || stack[0].AgentID != agentID {
		t.Fatalf("expected reloaded stack to contain pushed agent, got %+v", stack)
	}
}
