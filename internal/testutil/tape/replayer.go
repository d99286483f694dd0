package tape

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/taskmesh/mla/internal/llm"
	"github.com/taskmesh/mla/pkg/models"
)

// ErrTapeExhausted indicates the tape has no more turns to replay.
var ErrTapeExhausted = errors.New("tape exhausted: no more turns to replay")

// ErrTapeMismatch indicates a replayed request or tool call differs from the
// recorded one.
var ErrTapeMismatch = errors.New("tape mismatch: request differs from recorded")

// ErrToolNotInTape indicates a tool result was requested that was never
// recorded for the current turn.
var ErrToolNotInTape = errors.New("tool call not found in tape")

// ReplayMode controls how strictly the replayer matches requests.
type ReplayMode int

const (
	// ReplayStrict records a Mismatch whenever a live request's snapshot
	// differs from the recorded one.
	ReplayStrict ReplayMode = iota

	// ReplayLoose ignores request differences and just returns recorded
	// responses in order.
	ReplayLoose
)

// Replayer implements llm.Provider from a recorded tape, so an agent loop or
// the LLM Client itself can be driven turn-by-turn without a live backend.
type Replayer struct {
	tape       *Tape
	mode       ReplayMode
	turnIdx    int
	toolRunIdx map[int]int // turn index -> next tool run offset within that turn
	mu         sync.Mutex
	mismatches []Mismatch
}

// Mismatch records one difference between a recorded and a live request.
type Mismatch struct {
	TurnIndex int    `json:"turn_index"`
	Field     string `json:"field"`
	Expected  string `json:"expected"`
	Actual    string `json:"actual"`
}

// NewReplayer creates a replayer over a clone of tape.
func NewReplayer(tape *Tape) *Replayer {
	return &Replayer{
		tape:       tape.Clone(),
		mode:       ReplayLoose,
		toolRunIdx: make(map[int]int),
	}
}

// WithMode sets the replay mode.
func (r *Replayer) WithMode(mode ReplayMode) *Replayer {
	r.mode = mode
	return r
}

// Complete implements llm.Provider, streaming back the next recorded turn's
// chunks.
func (r *Replayer) Complete(ctx context.Context, req *llm.CompletionRequest) (<-chan *llm.CompletionChunk, error) {
	r.mu.Lock()
	if r.turnIdx >= len(r.tape.Turns) {
		r.mu.Unlock()
		return nil, ErrTapeExhausted
	}
	turn := r.tape.Turns[r.turnIdx]
	currentTurn := r.turnIdx
	r.turnIdx++
	r.mu.Unlock()

	if r.mode == ReplayStrict {
		r.checkMismatches(currentTurn, Snapshot(req), turn.Request)
	}

	out := make(chan *llm.CompletionChunk, len(turn.Chunks)+1)
	go func() {
		defer close(out)
		for i := range turn.Chunks {
			chunk := turn.Chunks[i]
			select {
			case <-ctx.Done():
				out <- &llm.CompletionChunk{Error: ctx.Err()}
				return
			case out <- &chunk:
			}
		}
	}()
	return out, nil
}

func (r *Replayer) checkMismatches(turnIndex int, actual, expected RequestSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if expected.Model != "" && actual.Model != expected.Model {
		r.mismatches = append(r.mismatches, Mismatch{
			TurnIndex: turnIndex,
			Field:     "model",
			Expected:  expected.Model,
			Actual:    actual.Model,
		})
	}
	if actual.MessageCount != expected.MessageCount {
		r.mismatches = append(r.mismatches, Mismatch{
			TurnIndex: turnIndex,
			Field:     "message_count",
			Expected:  fmt.Sprintf("%d", expected.MessageCount),
			Actual:    fmt.Sprintf("%d", actual.MessageCount),
		})
	}
	if expected.ToolChoice != "" && actual.ToolChoice != expected.ToolChoice {
		r.mismatches = append(r.mismatches, Mismatch{
			TurnIndex: turnIndex,
			Field:     "tool_choice",
			Expected:  expected.ToolChoice,
			Actual:    actual.ToolChoice,
		})
	}
}

// Name implements llm.Provider.
func (r *Replayer) Name() string { return "replayer" }

// Models implements llm.Provider.
func (r *Replayer) Models() []llm.Model {
	return []llm.Model{{ID: "replay", Name: "replay", ContextSize: 200000}}
}

// SupportsTools implements llm.Provider.
func (r *Replayer) SupportsTools() bool { return true }

// Mismatches returns any differences recorded in strict mode.
func (r *Replayer) Mismatches() []Mismatch {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Mismatch{}, r.mismatches...)
}

// Reset rewinds the replayer to the beginning of the tape.
func (r *Replayer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.turnIdx = 0
	r.toolRunIdx = make(map[int]int)
	r.mismatches = nil
}

// CurrentTurn returns the index of the next turn to replay.
func (r *Replayer) CurrentTurn() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.turnIdx
}

// NextToolResult returns the next recorded tool result for the turn most
// recently replayed, verifying the tool name matches the recording. A test's
// fake Tool Executor dispatches through this instead of a live tool-server.
func (r *Replayer) NextToolResult(toolName string) (models.ActionResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	turnIndex := r.turnIdx - 1
	if turnIndex < 0 {
		turnIndex = 0
	}

	runs := r.tape.GetToolRuns(turnIndex)
	runIdx := r.toolRunIdx[turnIndex]
	if runIdx >= len(runs) {
		return models.ActionResult{}, fmt.Errorf("%w: %s at turn %d", ErrToolNotInTape, toolName, turnIndex)
	}

	run := runs[runIdx]
	r.toolRunIdx[turnIndex] = runIdx + 1

	if run.Call.Name != toolName {
		return models.ActionResult{}, fmt.Errorf("%w: expected %s, got %s", ErrTapeMismatch, run.Call.Name, toolName)
	}
	if run.Error != "" {
		return models.ActionResult{}, errors.New(run.Error)
	}
	return run.Result, nil
}

// ToolCall builds a models.ToolCall from any marshalable input, a small
// helper for composing tapes by hand in tests.
func ToolCall(id, name string, input any) models.ToolCall {
	data, _ := json.Marshal(input)
	return models.ToolCall{ID: id, Name: name, Arguments: data}
}
