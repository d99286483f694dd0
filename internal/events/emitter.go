// Package events implements the Event Emitter: a JSONL stream of
// pkg/models.Event, one line per event, written to stdout (or any io.Writer)
// when enabled. The core never blocks on a slow consumer downstream of the
// Sink it is handed; WriterSink itself is a thin, synchronous writer and the
// driver is expected to buffer stdout if needed.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/taskmesh/mla/pkg/models"
)

// Sink receives emitted events. Implementations must be safe for concurrent
// use, since multiple tasks (and, within a task, nested sub-agents) share one
// process-wide Emitter, initialized once per driver invocation.
type Sink interface {
	Emit(ctx context.Context, e models.Event)
}

// NopSink discards every event. Used when the driver runs with the event
// stream disabled.
type NopSink struct{}

func (NopSink) Emit(context.Context, models.Event) {}

// WriterSink serializes each event as one JSON line to an underlying writer,
// guarded by a mutex so concurrent tasks don't interleave partial lines.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterSink wraps w (typically os.Stdout) as a Sink.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

// Emit writes e as a single JSON line, ignoring encode/write errors beyond
// logging them via fmt.Fprintln to stderr-equivalent behavior is out of
// scope here; a broken event stream must never abort the task it is
// reporting on.
func (s *WriterSink) Emit(_ context.Context, e models.Event) {
	line, err := json.Marshal(e)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.w.Write(line)
	_, _ = s.w.Write([]byte("\n"))
}

// MultiSink fans an event out to every wrapped sink, e.g. stdout plus a
// per-task log file for later replay.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink builds a MultiSink, filtering out nils so callers can pass an
// optional sink unconditionally.
func NewMultiSink(sinks ...Sink) *MultiSink {
	filtered := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			filtered = append(filtered, s)
		}
	}
	return &MultiSink{sinks: filtered}
}

func (m *MultiSink) Emit(ctx context.Context, e models.Event) {
	for _, s := range m.sinks {
		s.Emit(ctx, e)
	}
}

// Emitter is the Agent Executor's and driver's handle onto the event stream:
// one constructed per driver invocation and threaded explicitly through the
// components that need to report progress, keeping with the "no global mutable
// state" rule.
type Emitter struct {
	sink   Sink
	taskID string
}

// New builds an Emitter for taskID over sink. If sink is nil, events are
// discarded.
func New(taskID string, sink Sink) *Emitter {
	if sink == nil {
		sink = NopSink{}
	}
	return &Emitter{sink: sink, taskID: taskID}
}

func (e *Emitter) emit(ctx context.Context, ev models.Event) {
	ev.Time = time.Now()
	ev.TaskID = e.taskID
	e.sink.Emit(ctx, ev)
}

// Start emits the task-level `start` event.
func (e *Emitter) Start(ctx context.Context, rootAgent, text string) {
	e.emit(ctx, models.Event{Type: models.EventStart, Agent: rootAgent, Text: text})
}

// Progress emits a free-text `progress` event for long-running work (e.g. a
// periodic re-plan) that doesn't fit a more specific event type.
func (e *Emitter) Progress(ctx context.Context, agent, text string) {
	e.emit(ctx, models.Event{Type: models.EventProgress, Agent: agent, Text: text})
}

// Token emits one streamed text delta from the LLM Client.
func (e *Emitter) Token(ctx context.Context, agent, text string) {
	e.emit(ctx, models.Event{Type: models.EventToken, Agent: agent, Text: text})
}

// ToolCall emits a `tool_call` event once a tool's result is known.
func (e *Emitter) ToolCall(ctx context.Context, agent, toolName string, params any, ok bool, durationMs int64) {
	okCopy := ok
	e.emit(ctx, models.Event{
		Type:       models.EventToolCall,
		Agent:      agent,
		ToolName:   toolName,
		Parameters: params,
		Ok:         &okCopy,
		DurationMs: durationMs,
	})
}

// AgentCall emits an `agent_call` event when a sub-agent is invoked.
func (e *Emitter) AgentCall(ctx context.Context, parentAgent, childAgent, taskInput string) {
	e.emit(ctx, models.Event{Type: models.EventAgentCall, Agent: parentAgent, Text: fmt.Sprintf("%s: %s", childAgent, taskInput)})
}

// Notice emits an informational `notice` event.
func (e *Emitter) Notice(ctx context.Context, agent, text string) {
	e.emit(ctx, models.Event{Type: models.EventNotice, Agent: agent, Text: text})
}

// Warn emits a `warn` event for a recoverable problem (a retry, a no-tool-call).
func (e *Emitter) Warn(ctx context.Context, agent, text string) {
	e.emit(ctx, models.Event{Type: models.EventWarn, Agent: agent, Text: text})
}

// Error emits an `error` event for a terminal or fatal failure.
func (e *Emitter) Error(ctx context.Context, agent, text string) {
	e.emit(ctx, models.Event{Type: models.EventError, Agent: agent, Text: text})
}

// Result emits a `result` event carrying an agent's final_output.
func (e *Emitter) Result(ctx context.Context, agent, status, summary string) {
	e.emit(ctx, models.Event{Type: models.EventResult, Agent: agent, Status: status, Summary: summary})
}

// End emits the task-level `end` event.
func (e *Emitter) End(ctx context.Context, status string, durationMs int64) {
	e.emit(ctx, models.Event{Type: models.EventEnd, Status: status, DurationMs: durationMs})
}
