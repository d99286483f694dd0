package models

import "time"

// EventType is the `type` discriminator of the JSONL event stream.
// Exactly these ten values are emitted; front ends distinguish
// events by Type rather than by which optional field is populated.
type EventType string

const (
	EventStart    EventType = "start"
	EventProgress EventType = "progress"
	EventToken    EventType = "token"
	EventToolCall EventType = "tool_call"
	EventAgentCall EventType = "agent_call"
	EventNotice   EventType = "notice"
	EventWarn     EventType = "warn"
	EventError    EventType = "error"
	EventResult   EventType = "result"
	EventEnd      EventType = "end"
)

// Event is one line of the Event Emitter's JSONL stream. Fields are
// event-specific; unused fields are omitted from the JSON encoding.
type Event struct {
	Type       EventType `json:"type"`
	Time       time.Time `json:"time"`
	TaskID     string    `json:"task_id"`
	Agent      string    `json:"agent,omitempty"`
	Text       string    `json:"text,omitempty"`
	ToolName   string    `json:"tool_name,omitempty"`
	Parameters any       `json:"parameters,omitempty"`
	Summary    string    `json:"summary,omitempty"`
	Ok         *bool     `json:"ok,omitempty"`
	Status     string    `json:"status,omitempty"`
	DurationMs int64     `json:"duration_ms,omitempty"`
}
