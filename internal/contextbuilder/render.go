package contextbuilder

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/taskmesh/mla/internal/hierarchy"
	"github.com/taskmesh/mla/pkg/models"
)

// treeNodeView is the JSON shape rendered for <structured_call_info>: one
// entry per agent, keyed implicitly by position in a flat list rather than
// nested, which keeps the "is this the current agent" marker trivial to
// attach per viewer.
type treeNodeView struct {
	AgentID     string         `json:"agent_id"`
	AgentName   string         `json:"agent_name"`
	Status      models.AgentStatus `json:"status"`
	FinalOutput string         `json:"final_output,omitempty"`
	Thinking    string         `json:"latest_thinking,omitempty"`
	IsCurrent   bool           `json:"is_current,omitempty"`
	Children    []treeNodeView `json:"children,omitempty"`
}

// RenderStructuredCallInfo renders the live call tree rooted at each id in
// roots as JSON, marking currentAgentID, truncating final_output/
// latest_thinking to RenderTruncateChars, and skipping any node named
// judge_agent while still recursing into its children.
func RenderStructuredCallInfo(hier map[string]models.HierarchyNode, agentsStatus map[string]*models.AgentInstance, currentAgentID string) (string, error) {
	var roots []treeNodeView
	for _, rootID := range hierarchy.Roots(hier) {
		node := hierarchy.BuildTree(hier, agentsStatus, rootID)
		views := renderNode(node, currentAgentID)
		roots = append(roots, views...)
	}

	data, err := json.Marshal(roots)
	if err != nil {
		return "", fmt.Errorf("contextbuilder: render structured call info: %w", err)
	}
	return string(data), nil
}

// renderNode converts one hierarchy.Node into zero or more treeNodeViews:
// zero if the instance is missing, one normally, but judge_agent's own
// fields are omitted while its children are spliced into the parent's
// children list (skip-but-recurse).
func renderNode(n *hierarchy.Node, currentAgentID string) []treeNodeView {
	if n == nil || n.Instance == nil {
		return nil
	}

	var children []treeNodeView
	for _, c := range n.Children {
		children = append(children, renderNode(c, currentAgentID)...)
	}

	if n.Instance.AgentName == hierarchy.JudgeAgentName {
		return children
	}

	return []treeNodeView{{
		AgentID:     n.Instance.AgentID,
		AgentName:   n.Instance.AgentName,
		Status:      n.Instance.Status,
		FinalOutput: truncate(n.Instance.FinalOutput, RenderTruncateChars),
		Thinking:    truncate(n.Instance.LatestThinking, RenderTruncateChars),
		IsCurrent:   n.Instance.AgentID == currentAgentID,
		Children:    children,
	}}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// RenderActionHistory renders render history as one record per line, the
// shape <action_history> takes in the assembled prompt.
func RenderActionHistory(records []models.ActionRecord) string {
	var sb strings.Builder
	for _, r := range records {
		sb.WriteString(fmt.Sprintf("[%s] tool=%s args=%s -> status=%s output=%s",
			r.CreatedAt.Format("15:04:05"), r.ToolName, string(r.Arguments), r.Result.Status, r.Result.Output))
		if r.Result.ErrorInformation != "" {
			sb.WriteString(" error=" + r.Result.ErrorInformation)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
