package tape

import (
	"context"
	"sync"
	"time"

	"github.com/taskmesh/mla/internal/llm"
	"github.com/taskmesh/mla/pkg/models"
)

// Recorder wraps a live llm.Provider and captures every completion onto a
// Tape while forwarding chunks to the caller unchanged.
type Recorder struct {
	provider llm.Provider
	tape     *Tape
	mu       sync.Mutex
	turnIdx  int
}

// NewRecorder wraps provider for recording.
func NewRecorder(provider llm.Provider) *Recorder {
	tape := NewTape()
	tape.Metadata["provider"] = provider.Name()
	return &Recorder{provider: provider, tape: tape}
}

// WithModel stamps the tape with the model under record.
func (r *Recorder) WithModel(model string) *Recorder {
	r.tape.Model = model
	return r
}

// WithSystemPrompt stamps the tape with the session's system prompt.
func (r *Recorder) WithSystemPrompt(system string) *Recorder {
	r.tape.SystemPrompt = system
	return r
}

// Complete implements llm.Provider. The recorded turn is appended once the
// upstream stream closes, so a partially-consumed stream never leaves a
// half-written turn on the tape.
func (r *Recorder) Complete(ctx context.Context, req *llm.CompletionRequest) (<-chan *llm.CompletionChunk, error) {
	r.mu.Lock()
	turnIndex := r.turnIdx
	r.turnIdx++
	r.mu.Unlock()

	start := time.Now()
	upstream, err := r.provider.Complete(ctx, req)
	if err != nil {
		return nil, err
	}

	out := make(chan *llm.CompletionChunk, 10)
	go func() {
		defer close(out)

		turn := Turn{
			Index:   turnIndex,
			Request: Snapshot(req),
			Chunks:  []llm.CompletionChunk{},
		}
		var text string
		for chunk := range upstream {
			turn.Chunks = append(turn.Chunks, *chunk)
			text += chunk.Text
			if chunk.ToolCall != nil {
				turn.ToolCalls = append(turn.ToolCalls, *chunk.ToolCall)
			}
			out <- chunk
		}
		turn.Text = text
		turn.Duration = time.Since(start)
		if len(turn.ToolCalls) > 0 {
			turn.StopReason = "tool_calls"
		} else {
			turn.StopReason = "stop"
		}

		r.mu.Lock()
		r.tape.AddTurn(turn)
		r.mu.Unlock()
	}()

	return out, nil
}

// Name implements llm.Provider.
func (r *Recorder) Name() string {
	return "recorder:" + r.provider.Name()
}

// Models implements llm.Provider.
func (r *Recorder) Models() []llm.Model {
	return r.provider.Models()
}

// SupportsTools implements llm.Provider.
func (r *Recorder) SupportsTools() bool {
	return r.provider.SupportsTools()
}

// RecordToolRun captures one tool execution observed between LLM turns.
// turnIndex is the turn whose tool call this run answers.
func (r *Recorder) RecordToolRun(turnIndex int, call models.ToolCall, result models.ActionResult, err error, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	run := ToolRun{
		TurnIndex: turnIndex,
		Call:      call,
		Result:    result,
		Duration:  duration,
	}
	if err != nil {
		run.Error = err.Error()
	}
	r.tape.AddToolRun(run)
}

// Tape returns a copy of what has been recorded so far.
func (r *Recorder) Tape() *Tape {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tape.Clone()
}

// Reset discards the recording and starts a fresh tape.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tape = NewTape()
	r.tape.Metadata["provider"] = r.provider.Name()
	r.turnIdx = 0
}
