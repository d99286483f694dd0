package llm

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/mla/pkg/models"
)

// scriptedProvider replays a fixed sequence of Complete() outcomes, one per
// call, to exercise the Client's retry/hint/timeout behavior without a real
// network dependency.
type scriptedProvider struct {
	calls   int
	outcome []func() (<-chan *CompletionChunk, error)
}

func (p *scriptedProvider) Name() string { return "scripted" }
func (p *scriptedProvider) Models() []Model {
	return []Model{{ID: "test-model", Name: "test-model", ContextSize: 8000}}
}
func (p *scriptedProvider) SupportsTools() bool { return true }

func (p *scriptedProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	idx := p.calls
	p.calls++
	if idx >= len(p.outcome) {
		idx = len(p.outcome) - 1
	}
	return p.outcome[idx]()
}

func chunksOf(chunks ...*CompletionChunk) func() (<-chan *CompletionChunk, error) {
	return func() (<-chan *CompletionChunk, error) {
		ch := make(chan *CompletionChunk, len(chunks))
		for _, c := range chunks {
			ch <- c
		}
		close(ch)
		return ch, nil
	}
}

func failWith(err error) func() (<-chan *CompletionChunk, error) {
	return func() (<-chan *CompletionChunk, error) {
		return nil, err
	}
}

type retryableTestErr struct{ retryable bool }

func (e retryableTestErr) Error() string   { return "scripted failure" }
func (e retryableTestErr) IsRetryable() bool { return e.retryable }

func newTestClient(p Provider) *Client {
	return NewClient(map[string]Provider{"scripted": p}, Timeouts{
		Overall:    2 * time.Second,
		InterChunk: 200 * time.Millisecond,
		FirstChunk: 200 * time.Millisecond,
	}, nil)
}

func TestClient_Chat_SimpleText(t *testing.T) {
	p := &scriptedProvider{outcome: []func() (<-chan *CompletionChunk, error){
		chunksOf(&CompletionChunk{Text: "hello "}, &CompletionChunk{Text: "world", Done: true}),
	}}
	c := newTestClient(p)

	result, err := c.Chat(context.Background(), ChatRequest{Model: "test-model", MaxRetries: 1})
	require.NoError(t, err)
	assert.Equal(t, ChatStatusOK, result.Status)
	assert.Equal(t, "hello world", result.Output)
	assert.Equal(t, "stop", result.FinishReason)
}

func TestClient_Chat_ToolCallArgumentsRepaired(t *testing.T) {
	p := &scriptedProvider{outcome: []func() (<-chan *CompletionChunk, error){
		chunksOf(
			&CompletionChunk{ToolCall: &models.ToolCall{ID: "1", Name: "search", Arguments: []byte(`{"q":"x",`)}},
			&CompletionChunk{Done: true},
		),
	}}
	c := newTestClient(p)

	result, err := c.Chat(context.Background(), ChatRequest{Model: "test-model", MaxRetries: 1})
	require.NoError(t, err)
	require.Len(t, result.ToolCalls, 1)
	assert.JSONEq(t, `{"q":"x"}`, string(result.ToolCalls[0].Arguments))
	assert.Equal(t, "tool_calls", result.FinishReason)
}

func TestClient_Chat_RetriesThenSucceeds(t *testing.T) {
	p := &scriptedProvider{outcome: []func() (<-chan *CompletionChunk, error){
		failWith(retryableTestErr{retryable: true}),
		chunksOf(&CompletionChunk{Text: "recovered", Done: true}),
	}}
	c := newTestClient(p)

	result, err := c.Chat(context.Background(), ChatRequest{Model: "test-model", MaxRetries: 3})
	require.NoError(t, err)
	assert.Equal(t, "recovered", result.Output)
	assert.Equal(t, 2, p.calls)
}

func TestClient_Chat_NonRetryableFailsFast(t *testing.T) {
	p := &scriptedProvider{outcome: []func() (<-chan *CompletionChunk, error){
		failWith(retryableTestErr{retryable: false}),
		chunksOf(&CompletionChunk{Text: "should not be reached", Done: true}),
	}}
	c := newTestClient(p)

	_, err := c.Chat(context.Background(), ChatRequest{Model: "test-model", MaxRetries: 3})
	require.Error(t, err)
	assert.Equal(t, 1, p.calls)
}

func TestClient_Chat_MaxRetriesExhausted(t *testing.T) {
	alwaysFail := failWith(retryableTestErr{retryable: true})
	p := &scriptedProvider{outcome: []func() (<-chan *CompletionChunk, error){alwaysFail, alwaysFail, alwaysFail}}
	c := newTestClient(p)

	_, err := c.Chat(context.Background(), ChatRequest{Model: "test-model", MaxRetries: 2})
	require.Error(t, err)
	assert.Equal(t, 2, p.calls)
}

type fakeTool struct {
	name, desc, schema string
}

func (f fakeTool) Name() string             { return f.name }
func (f fakeTool) Description() string      { return f.desc }
func (f fakeTool) Schema() json.RawMessage  { return json.RawMessage(f.schema) }

func TestClient_Chat_ToolChoiceNoneOmitsTools(t *testing.T) {
	var seenTools []Tool
	p := &recordingProvider{
		onComplete: func(req *CompletionRequest) {
			seenTools = req.Tools
		},
		result: chunksOf(&CompletionChunk{Text: "ok", Done: true}),
	}
	c := newTestClient(p)

	_, err := c.Chat(context.Background(), ChatRequest{
		Model:      "test-model",
		ToolChoice: "none",
		Tools:      []Tool{fakeTool{name: "search", desc: "d", schema: `{"type":"object"}`}},
		MaxRetries: 1,
	})
	require.NoError(t, err)
	assert.Nil(t, seenTools)
}

type recordingProvider struct {
	onComplete func(*CompletionRequest)
	result     func() (<-chan *CompletionChunk, error)
}

func (p *recordingProvider) Name() string { return "recording" }
func (p *recordingProvider) Models() []Model {
	return []Model{{ID: "test-model", Name: "test-model", ContextSize: 8000}}
}
func (p *recordingProvider) SupportsTools() bool { return true }
func (p *recordingProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	if p.onComplete != nil {
		p.onComplete(req)
	}
	return p.result()
}

func TestClient_ProviderFor_NoMatch(t *testing.T) {
	c := NewClient(map[string]Provider{}, DefaultTimeouts(), nil)
	_, err := c.providerFor("anything")
	require.Error(t, err)
}

func TestClient_Chat_FirstChunkTimeout(t *testing.T) {
	p := &scriptedProvider{outcome: []func() (<-chan *CompletionChunk, error){
		func() (<-chan *CompletionChunk, error) {
			ch := make(chan *CompletionChunk)
			// never send, simulating a hung connection; channel is left open
			// and cleaned up when the test process exits.
			return ch, nil
		},
	}}
	c := NewClient(map[string]Provider{"scripted": p}, Timeouts{
		Overall:    2 * time.Second,
		InterChunk: 2 * time.Second,
		FirstChunk: 50 * time.Millisecond,
	}, nil)

	_, err := c.Chat(context.Background(), ChatRequest{Model: "test-model", MaxRetries: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "first_chunk")
}
