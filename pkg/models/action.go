package models

import (
	"encoding/json"
	"time"
)

// ToolStatus is the outcome of an executed tool call.
type ToolStatus string

const (
	ToolStatusSuccess ToolStatus = "success"
	ToolStatusError   ToolStatus = "error"
)

// ActionResult is the outcome recorded against an ActionRecord once a tool
// call returns (or is synthesized, e.g. for _no_tool_call / _historical_summary).
type ActionResult struct {
	Status           ToolStatus `json:"status"`
	Output           string     `json:"output"`
	ErrorInformation string     `json:"error_information,omitempty"`
}

// ActionRecord is a single tool invocation within an agent's history.
// The same shape is used for both the render
// history (compressible) and the fact history (append-only audit trail);
// which list an instance lives in is a property of where it is stored, not
// of the struct itself.
type ActionRecord struct {
	CallID    string          `json:"call_id"`
	ToolName  string          `json:"tool_name"`
	Arguments json.RawMessage `json:"arguments"`
	Result    ActionResult    `json:"result"`
	CreatedAt time.Time       `json:"created_at"`
}

// HistoricalSummaryToolName is the synthetic tool_name used when the Context
// Builder compresses a prefix of render history into a single digest record.
const HistoricalSummaryToolName = "_historical_summary"

// NoToolCallToolName is the synthetic tool_name appended to render history
// when a turn's LLM call returns no tool call at all.
const NoToolCallToolName = "_no_tool_call"

// IsSynthetic reports whether this action record was generated by the core
// itself rather than by an actual tool invocation.
func (a *ActionRecord) IsSynthetic() bool {
	return a.ToolName == HistoricalSummaryToolName || a.ToolName == NoToolCallToolName
}

// PendingTool is an action recorded as about-to-execute before the tool
// returns. On crash and resume it is
// re-executed exactly once.
type PendingTool struct {
	CallID    string          `json:"call_id"`
	ToolName  string          `json:"tool_name"`
	Arguments json.RawMessage `json:"arguments"`
	CreatedAt time.Time       `json:"created_at"`
}
