// Package llm defines the provider-facing contract for the LLM Client: the
// single chat() operation and the streaming chunk protocol that
// providers speak underneath it. Provider implementations live in
// internal/llm/providers; the client that owns retries, timeouts, and
// targeted-hint generation lives in this package's client.go.
package llm

import (
	"context"
	"encoding/json"

	"github.com/taskmesh/mla/pkg/models"
)

// Tool is an OpenAI-style function schema declaration: {name, description,
// parameters}. It is the unit the LLM Client hands to a Provider, not the
// Tool Executor's runtime dispatch type.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
}

// CompletionMessage is one turn of conversation history handed to a
// Provider. Role is "user", "assistant", or "tool".
type CompletionMessage struct {
	Role        string             `json:"role"`
	Content     string             `json:"content,omitempty"`
	ToolCalls   []models.ToolCall  `json:"tool_calls,omitempty"`
	ToolResults []models.ToolResult `json:"tool_results,omitempty"`
}

// CompletionRequest carries everything a Provider needs for one streaming
// completion: model, system prompt, history, tool schemas, and generation
// parameters. ToolChoice is "auto", "required", or "none"; when "none" and
// Tools is empty the caller must omit tool definitions from the outgoing
// request entirely rather than merely constraining the choice.
type CompletionRequest struct {
	Model                string              `json:"model"`
	System               string              `json:"system,omitempty"`
	Messages             []CompletionMessage `json:"messages"`
	Tools                []Tool              `json:"tools,omitempty"`
	ToolChoice           string              `json:"tool_choice,omitempty"`
	MaxTokens            int                 `json:"max_tokens,omitempty"`
	EnableThinking       bool                `json:"enable_thinking,omitempty"`
	ThinkingBudgetTokens int                 `json:"thinking_budget_tokens,omitempty"`
}

// CompletionChunk is a single unit of a streaming response. Text deltas
// arrive incrementally; a ToolCall chunk carries one fully-assembled tool
// call (id, name, and the complete, still-unparsed arguments JSON).
type CompletionChunk struct {
	Text          string `json:"text,omitempty"`
	ToolCall      *models.ToolCall `json:"tool_call,omitempty"`
	Done          bool   `json:"done,omitempty"`
	Error         error  `json:"-"`
	Thinking      string `json:"thinking,omitempty"`
	ThinkingStart bool   `json:"thinking_start,omitempty"`
	ThinkingEnd   bool   `json:"thinking_end,omitempty"`
	InputTokens   int    `json:"input_tokens,omitempty"`
	OutputTokens  int    `json:"output_tokens,omitempty"`
}

// Model describes one model a Provider can address.
type Model struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContextSize int    `json:"context_size"`
}

// Provider is the interface every LLM backend (Anthropic, OpenAI, ...)
// implements. Complete returns immediately with a channel that is closed
// once the stream ends, errors, or the context is cancelled.
type Provider interface {
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)
	Name() string
	Models() []Model
	SupportsTools() bool
}
