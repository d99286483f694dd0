package contextbuilder

import (
	"context"
	"fmt"

	"github.com/taskmesh/mla/internal/llm"
)

// LLMSummarizer is the production Summarizer: a tool-free LLM call against
// one of llm_config.yaml's compressor_models, shared by all three
// compression rules.
type LLMSummarizer struct {
	client *llm.Client
	model  string
}

// NewLLMSummarizer builds a Summarizer over client using model (expected to
// be a compressor_models entry; compression is high-volume and tool-free,
// so a cheaper model than the agent's own chat model is typical).
func NewLLMSummarizer(client *llm.Client, model string) *LLMSummarizer {
	return &LLMSummarizer{client: client, model: model}
}

// Summarize asks the compressor model for a digest of text no longer than
// maxChars, framed by instruction (the rule-specific guidance: "files produced and relevance to the current task", "which agents
// are still running", etc). The model is explicitly asked to respect the
// character budget; callers should not assume it is enforced exactly, only
// that the compressor was told to aim for it.
func (s *LLMSummarizer) Summarize(ctx context.Context, text string, maxChars int, instruction string) (string, error) {
	prompt := fmt.Sprintf("%s Keep the result under %d characters.\n\n%s", instruction, maxChars, text)
	result, err := s.client.Chat(ctx, llm.ChatRequest{
		History:      []llm.CompletionMessage{{Role: "user", Content: prompt}},
		Model:        s.model,
		SystemPrompt: "You compress agent working context into a short, faithful digest. Never invent facts not present in the input.",
		ToolChoice:   "none",
		MaxRetries:   3,
	})
	if err != nil {
		return "", fmt.Errorf("contextbuilder: summarize: %w", err)
	}
	if result.Status != llm.ChatStatusOK {
		return "", fmt.Errorf("contextbuilder: summarize failed: %w", result.Error)
	}
	return result.Output, nil
}
