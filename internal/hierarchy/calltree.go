package hierarchy

import "github.com/taskmesh/mla/pkg/models"

// JudgeAgentName is the reserved agent name skipped by tree rendering: an
// internal scorer not meaningful to other agents, but still traversed into
// for its children.
const JudgeAgentName = "judge_agent"

// Node is one entry of a call-tree walk: the agent instance together with
// its already-visited children, so a renderer can decide independently
// whether to include this node's own fields.
type Node struct {
	Instance *models.AgentInstance
	Children []*Node
}

// BuildTree walks hierarchy/agentsStatus from rootID, producing a Node tree.
// A visited-set is threaded through the recursion so a malformed hierarchy
// containing a cycle is short-circuited rather than looping forever.
func BuildTree(hier map[string]models.HierarchyNode, agentsStatus map[string]*models.AgentInstance, rootID string) *Node {
	visited := map[string]bool{}
	return buildTree(hier, agentsStatus, rootID, visited)
}

func buildTree(hier map[string]models.HierarchyNode, agentsStatus map[string]*models.AgentInstance, id string, visited map[string]bool) *Node {
	if visited[id] {
		return nil
	}
	visited[id] = true

	inst := agentsStatus[id]
	node := &Node{Instance: inst}

	hnode, ok := hier[id]
	if !ok {
		return node
	}
	for _, childID := range hnode.Children {
		if child := buildTree(hier, agentsStatus, childID, visited); child != nil {
			node.Children = append(node.Children, child)
		}
	}
	return node
}

// Roots returns the ids of every hierarchy node with no parent.
func Roots(hier map[string]models.HierarchyNode) []string {
	var roots []string
	for id, node := range hier {
		if node.Parent == "" {
			roots = append(roots, id)
		}
	}
	return roots
}
