package contextbuilder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/mla/internal/llm"
)

type stubProvider struct{ output string }

func (p *stubProvider) Name() string               { return "stub" }
func (p *stubProvider) Models() []llm.Model         { return []llm.Model{{ID: "digest-model"}} }
func (p *stubProvider) SupportsTools() bool         { return true }
func (p *stubProvider) Complete(ctx context.Context, req *llm.CompletionRequest) (<-chan *llm.CompletionChunk, error) {
	if len(req.Tools) != 0 {
		panic("summarizer calls must omit tools")
	}
	ch := make(chan *llm.CompletionChunk, 1)
	ch <- &llm.CompletionChunk{Text: p.output, Done: true}
	close(ch)
	return ch, nil
}

func TestLLMSummarizerCallsCompressorModel(t *testing.T) {
	client := llm.NewClient(map[string]llm.Provider{"stub": &stubProvider{output: "digest"}}, llm.DefaultTimeouts(), nil)
	s := NewLLMSummarizer(client, "digest-model")

	out, err := s.Summarize(context.Background(), "a very long history", 100, "summarize it")
	require.NoError(t, err)
	assert.Equal(t, "digest", out)
}
