package hierarchy

import (
	"testing"

	"github.com/taskmesh/mla/pkg/models"
)

func TestBuildTree_SimpleChain(t *testing.T) {
	hier := map[string]models.HierarchyNode{
		"root":  {Children: []string{"child"}},
		"child": {Parent: "root"},
	}
	status := map[string]*models.AgentInstance{
		"root":  {AgentID: "root", AgentName: "planner"},
		"child": {AgentID: "child", AgentName: "searcher"},
	}
	tree := BuildTree(hier, status, "root")
	if tree.Instance.AgentName != "planner" {
		t.Fatalf("unexpected root: %+v", tree.Instance)
	}
	if len(tree.Children) != 1 || tree.Children[0].Instance.AgentName != "searcher" {
		t.Fatalf("unexpected children: %+v", tree.Children)
	}
}

func TestBuildTree_CycleProtection(t *testing.T) {
	hier := map[string]models.HierarchyNode{
		"a": {Children: []string{"b"}, Parent: "b"},
		"b": {Children: []string{"a"}, Parent: "a"},
	}
	status := map[string]*models.AgentInstance{
		"a": {AgentID: "a"},
		"b": {AgentID: "b"},
	}
	// Must terminate rather than recurse forever.
	tree := BuildTree(hier, status, "a")
	if tree == nil {
		t.Fatal("expected root node even with a cycle")
	}
	if len(tree.Children) != 1 {
		t.Fatalf("expected one child before the cycle is cut, got %d", len(tree.Children))
	}
	if len(tree.Children[0].Children) != 0 {
		t.Fatal("expected cycle back-edge to be dropped")
	}
}

func TestRoots(t *testing.T) {
	hier := map[string]models.HierarchyNode{
		"root1": {},
		"root2": {},
		"child": {Parent: "root1"},
	}
	roots := Roots(hier)
	if len(roots) != 2 {
		t.Fatalf("expected 2 roots, got %+v", roots)
	}
}
