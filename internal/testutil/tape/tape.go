// Package tape records and replays LLM Client traffic so the perceive-act
// loop can be exercised in tests without a live provider. A Recorder wraps a
// real llm.Provider and captures every streamed chunk and tool result onto a
// Tape; a Replayer implements llm.Provider from a saved Tape.
package tape

import (
	"encoding/json"
	"time"

	"github.com/taskmesh/mla/internal/llm"
	"github.com/taskmesh/mla/pkg/models"
)

// Tape is one recorded session: the ordered LLM turns an agent's loop made
// plus the tool results observed between them.
type Tape struct {
	Version   string `json:"version"`
	CreatedAt time.Time `json:"created_at"`

	// Model is the model the session was recorded against.
	Model string `json:"model,omitempty"`

	// SystemPrompt is the rendered system prompt of the first turn, kept for
	// inspection of saved tapes.
	SystemPrompt string `json:"system_prompt,omitempty"`

	Turns    []Turn    `json:"turns"`
	ToolRuns []ToolRun `json:"tool_runs"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// RequestSnapshot is the serializable subset of an llm.CompletionRequest the
// strict replay mode matches against. The full request carries llm.Tool
// interface values that cannot round-trip through JSON, so only their names
// are kept.
type RequestSnapshot struct {
	Model        string   `json:"model"`
	ToolChoice   string   `json:"tool_choice,omitempty"`
	ToolNames    []string `json:"tool_names,omitempty"`
	MessageCount int      `json:"message_count"`
}

// Snapshot reduces a live completion request to its recordable form.
func Snapshot(req *llm.CompletionRequest) RequestSnapshot {
	names := make([]string, 0, len(req.Tools))
	for _, t := range req.Tools {
		names = append(names, t.Name())
	}
	return RequestSnapshot{
		Model:        req.Model,
		ToolChoice:   req.ToolChoice,
		ToolNames:    names,
		MessageCount: len(req.Messages),
	}
}

// Turn is a single recorded LLM call: the request snapshot, the streamed
// chunks in arrival order, and the accumulated response.
type Turn struct {
	Index      int                   `json:"index"`
	Request    RequestSnapshot       `json:"request"`
	Chunks     []llm.CompletionChunk `json:"chunks"`
	ToolCalls  []models.ToolCall     `json:"tool_calls,omitempty"`
	Text       string                `json:"text,omitempty"`
	StopReason string                `json:"stop_reason,omitempty"`
	Duration   time.Duration         `json:"duration"`
}

// ToolRun is a single recorded tool execution between turns.
type ToolRun struct {
	TurnIndex int                 `json:"turn_index"`
	Call      models.ToolCall     `json:"call"`
	Result    models.ActionResult `json:"result"`
	Error     string              `json:"error,omitempty"`
	Duration  time.Duration       `json:"duration"`
}

// NewTape creates an empty tape.
func NewTape() *Tape {
	return &Tape{
		Version:   "1.0",
		CreatedAt: time.Now(),
		Turns:     []Turn{},
		ToolRuns:  []ToolRun{},
		Metadata:  make(map[string]any),
	}
}

// AddTurn appends a turn, assigning its index.
func (t *Tape) AddTurn(turn Turn) {
	turn.Index = len(t.Turns)
	t.Turns = append(t.Turns, turn)
}

// AddToolRun appends a tool run.
func (t *Tape) AddToolRun(run ToolRun) {
	t.ToolRuns = append(t.ToolRuns, run)
}

// GetToolRuns returns the tool runs recorded during turnIndex, in order.
func (t *Tape) GetToolRuns(turnIndex int) []ToolRun {
	var runs []ToolRun
	for _, run := range t.ToolRuns {
		if run.TurnIndex == turnIndex {
			runs = append(runs, run)
		}
	}
	return runs
}

// Marshal serializes the tape to indented JSON, the on-disk tape format.
func (t *Tape) Marshal() ([]byte, error) {
	return json.MarshalIndent(t, "", "  ")
}

// Unmarshal deserializes a tape from JSON.
func Unmarshal(data []byte) (*Tape, error) {
	var tape Tape
	if err := json.Unmarshal(data, &tape); err != nil {
		return nil, err
	}
	return &tape, nil
}

// Clone returns a deep copy so a Replayer can consume a tape without
// mutating the caller's copy.
func (t *Tape) Clone() *Tape {
	if data, err := t.Marshal(); err == nil {
		if clone, err := Unmarshal(data); err == nil {
			return clone
		}
	}
	clone := *t
	clone.Turns = append([]Turn(nil), t.Turns...)
	clone.ToolRuns = append([]ToolRun(nil), t.ToolRuns...)
	if t.Metadata != nil {
		clone.Metadata = make(map[string]any, len(t.Metadata))
		for k, v := range t.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}
