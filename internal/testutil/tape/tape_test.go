package tape

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/mla/internal/llm"
	"github.com/taskmesh/mla/pkg/models"
)

// scripted is a minimal llm.Provider emitting fixed chunk sequences, one
// sequence per Complete call.
type scripted struct {
	calls     int
	sequences [][]*llm.CompletionChunk
}

func (s *scripted) Name() string { return "scripted" }
func (s *scripted) Models() []llm.Model {
	return []llm.Model{{ID: "test-model", Name: "test-model", ContextSize: 8000}}
}
func (s *scripted) SupportsTools() bool { return true }

func (s *scripted) Complete(ctx context.Context, req *llm.CompletionRequest) (<-chan *llm.CompletionChunk, error) {
	idx := s.calls
	s.calls++
	if idx >= len(s.sequences) {
		idx = len(s.sequences) - 1
	}
	ch := make(chan *llm.CompletionChunk, len(s.sequences[idx]))
	for _, c := range s.sequences[idx] {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func testTimeouts() llm.Timeouts {
	return llm.Timeouts{
		Overall:    2 * time.Second,
		InterChunk: 500 * time.Millisecond,
		FirstChunk: 500 * time.Millisecond,
	}
}

func TestRecordThenReplay_ThroughClient(t *testing.T) {
	upstream := &scripted{sequences: [][]*llm.CompletionChunk{
		{
			{Text: "thinking about it... "},
			{ToolCall: &models.ToolCall{ID: "c1", Name: "echo_tool", Arguments: []byte(`{"text":"hello"}`)}},
			{Done: true},
		},
		{
			{ToolCall: &models.ToolCall{ID: "c2", Name: "final_output", Arguments: []byte(`{"output":"done"}`)}},
			{Done: true},
		},
	}}

	rec := NewRecorder(upstream).WithModel("test-model")
	recClient := llm.NewClient(map[string]llm.Provider{"rec": rec}, testTimeouts(), nil)

	first, err := recClient.Chat(context.Background(), llm.ChatRequest{Model: "test-model", MaxRetries: 1})
	require.NoError(t, err)
	require.Len(t, first.ToolCalls, 1)
	rec.RecordToolRun(0, first.ToolCalls[0],
		models.ActionResult{Status: models.ToolStatusSuccess, Output: "hello"}, nil, 5*time.Millisecond)

	second, err := recClient.Chat(context.Background(), llm.ChatRequest{Model: "test-model", MaxRetries: 1})
	require.NoError(t, err)
	require.Len(t, second.ToolCalls, 1)
	assert.Equal(t, "final_output", second.ToolCalls[0].Name)

	// The tape is written asynchronously as each stream closes; both streams
	// are fully drained by Chat, so both turns must land shortly after.
	require.Eventually(t, func() bool { return len(rec.Tape().Turns) == 2 }, time.Second, 10*time.Millisecond)
	recorded := rec.Tape()
	assert.Equal(t, "tool_calls", recorded.Turns[0].StopReason)
	assert.Equal(t, "thinking about it... ", recorded.Turns[0].Text)

	// Replay the tape through a fresh client and check the session repeats.
	rep := NewReplayer(recorded)
	repClient := llm.NewClient(map[string]llm.Provider{"rep": rep}, testTimeouts(), nil)

	replayFirst, err := repClient.Chat(context.Background(), llm.ChatRequest{Model: "test-model", MaxRetries: 1})
	require.NoError(t, err)
	require.Len(t, replayFirst.ToolCalls, 1)
	assert.Equal(t, "echo_tool", replayFirst.ToolCalls[0].Name)
	assert.JSONEq(t, `{"text":"hello"}`, string(replayFirst.ToolCalls[0].Arguments))

	result, err := rep.NextToolResult("echo_tool")
	require.NoError(t, err)
	assert.Equal(t, models.ToolStatusSuccess, result.Status)
	assert.Equal(t, "hello", result.Output)

	replaySecond, err := repClient.Chat(context.Background(), llm.ChatRequest{Model: "test-model", MaxRetries: 1})
	require.NoError(t, err)
	require.Len(t, replaySecond.ToolCalls, 1)
	assert.Equal(t, "final_output", replaySecond.ToolCalls[0].Name)
}

func TestReplayer_Exhausted(t *testing.T) {
	tp := NewTape()
	tp.AddTurn(Turn{Chunks: []llm.CompletionChunk{{Text: "only turn", Done: true}}})
	rep := NewReplayer(tp)

	_, err := rep.Complete(context.Background(), &llm.CompletionRequest{Model: "m"})
	require.NoError(t, err)

	_, err = rep.Complete(context.Background(), &llm.CompletionRequest{Model: "m"})
	assert.ErrorIs(t, err, ErrTapeExhausted)
}

func TestReplayer_StrictModeRecordsMismatches(t *testing.T) {
	tp := NewTape()
	tp.AddTurn(Turn{
		Request: RequestSnapshot{Model: "recorded-model", ToolChoice: "required", MessageCount: 1},
		Chunks:  []llm.CompletionChunk{{Text: "x", Done: true}},
	})
	rep := NewReplayer(tp).WithMode(ReplayStrict)

	ch, err := rep.Complete(context.Background(), &llm.CompletionRequest{
		Model:      "other-model",
		ToolChoice: "required",
		Messages:   []llm.CompletionMessage{{Role: "user", Content: "a"}},
	})
	require.NoError(t, err)
	for range ch {
	}

	mismatches := rep.Mismatches()
	require.Len(t, mismatches, 1)
	assert.Equal(t, "model", mismatches[0].Field)
	assert.Equal(t, "recorded-model", mismatches[0].Expected)
	assert.Equal(t, "other-model", mismatches[0].Actual)
}

func TestReplayer_ToolRunOrderingAndMismatch(t *testing.T) {
	tp := NewTape()
	tp.AddTurn(Turn{Chunks: []llm.CompletionChunk{{Done: true}}})
	tp.AddToolRun(ToolRun{
		TurnIndex: 0,
		Call:      ToolCall("c1", "file_read", map[string]string{"path": "a.txt"}),
		Result:    models.ActionResult{Status: models.ToolStatusSuccess, Output: "contents"},
	})
	tp.AddToolRun(ToolRun{
		TurnIndex: 0,
		Call:      ToolCall("c2", "file_write", map[string]string{"path": "b.txt"}),
		Result:    models.ActionResult{Status: models.ToolStatusError, ErrorInformation: "disk full"},
	})

	rep := NewReplayer(tp)
	ch, err := rep.Complete(context.Background(), &llm.CompletionRequest{Model: "m"})
	require.NoError(t, err)
	for range ch {
	}

	first, err := rep.NextToolResult("file_read")
	require.NoError(t, err)
	assert.Equal(t, "contents", first.Output)

	// Out-of-order name is a mismatch, and the run is still consumed.
	_, err = rep.NextToolResult("file_read")
	assert.ErrorIs(t, err, ErrTapeMismatch)

	_, err = rep.NextToolResult("anything")
	assert.ErrorIs(t, err, ErrToolNotInTape)
}

func TestTape_RoundTripAndReset(t *testing.T) {
	rec := NewRecorder(&scripted{sequences: [][]*llm.CompletionChunk{{{Text: "hi", Done: true}}}})
	ch, err := rec.Complete(context.Background(), &llm.CompletionRequest{Model: "m"})
	require.NoError(t, err)
	for range ch {
	}
	require.Eventually(t, func() bool { return len(rec.Tape().Turns) == 1 }, time.Second, 10*time.Millisecond)

	data, err := rec.Tape().Marshal()
	require.NoError(t, err)
	loaded, err := Unmarshal(data)
	require.NoError(t, err)
	require.Len(t, loaded.Turns, 1)
	assert.Equal(t, "hi", loaded.Turns[0].Text)

	rec.Reset()
	assert.Empty(t, rec.Tape().Turns)
}
