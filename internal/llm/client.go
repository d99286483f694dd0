// Package llm defines the provider-facing contract for the LLM Client: the
// single chat() operation and the streaming chunk protocol that
// providers speak underneath it.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/taskmesh/mla/internal/backoff"
	"github.com/taskmesh/mla/internal/observability"
	"github.com/taskmesh/mla/pkg/models"
)

// retryableErr is the duck-typed interface internal/llm/providers.ProviderError
// satisfies without this package importing that one, avoiding the import
// cycle (providers already imports llm for CompletionRequest/Tool/Model).
type retryableErr interface {
	IsRetryable() bool
}

// ChatRequest is the LLM Client's single public operation's input:
// `chat(history, model, system_prompt, tool_list, tool_choice,
// max_retries)`.
type ChatRequest struct {
	History     []CompletionMessage
	Model       string
	SystemPrompt string
	Tools       []Tool
	ToolChoice  string
	MaxRetries  int
}

// ChatStatus is the outcome discriminator of a ChatResult.
type ChatStatus string

const (
	ChatStatusOK    ChatStatus = "ok"
	ChatStatusError ChatStatus = "error"
)

// ChatResult is `chat()`'s return value: `{status, output, tool_calls[],
// model, finish_reason, usage?, error?}`.
type ChatResult struct {
	Status       ChatStatus
	Output       string
	ToolCalls    []models.ToolCall
	Model        string
	FinishReason string
	InputTokens  int
	OutputTokens int
	Error        error
}

// Timeouts bundles the client's three streaming budgets.
type Timeouts struct {
	Overall    time.Duration
	InterChunk time.Duration
	FirstChunk time.Duration
}

// DefaultTimeouts matches config.DefaultOverallTimeoutSeconds et al.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Overall:    600 * time.Second,
		InterChunk: 20 * time.Second,
		FirstChunk: 20 * time.Second,
	}
}

// Client is the process-wide LLM connection pool: one per driver invocation,
// passed explicitly rather than held as a package-level singleton.
type Client struct {
	providers map[string]Provider
	timeouts  Timeouts
	logger    *observability.Logger
	metrics   *observability.Metrics
	tracer    *observability.Tracer
}

// NewClient builds a Client over the given named providers (e.g.
// {"anthropic": anthropicProvider, "openai": openaiProvider}).
func NewClient(providers map[string]Provider, timeouts Timeouts, logger *observability.Logger) *Client {
	if logger == nil {
		logger = observability.MustNewLogger(observability.LogConfig{Level: "info", Format: "json"})
	}
	return &Client{providers: providers, timeouts: timeouts, logger: logger}
}

// WithObservability attaches metrics and tracing, returning the same Client
// for chaining. Both are nil-safe, so callers that skip this (tests, ad hoc
// tools) still get a working Client.
func (c *Client) WithObservability(metrics *observability.Metrics, tracer *observability.Tracer) *Client {
	c.metrics = metrics
	c.tracer = tracer
	return c
}

// providerFor resolves which Provider addresses a given model name. Exactly
// one wired provider is expected to claim a model; the first match by
// Models() wins. Falls back to the first registered provider if no model
// list matches, since some deployments run a single provider with models
// the provider's own API accepts but that aren't enumerated locally.
func (c *Client) providerFor(model string) (Provider, error) {
	for _, p := range c.providers {
		for _, m := range p.Models() {
			if m.ID == model {
				return p, nil
			}
		}
	}
	if len(c.providers) == 1 {
		for _, p := range c.providers {
			return p, nil
		}
	}
	return nil, fmt.Errorf("llm: no provider configured for model %q", model)
}

// Chat is the client's single operation. It streams a completion,
// accumulating text deltas and tool-call deltas, repairs truncated
// tool-argument JSON, and retries with contextual hints up to MaxRetries
// (default 3, exponential backoff 2*n seconds).
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	maxRetries := req.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	provider, err := c.providerFor(req.Model)
	if err != nil {
		return &ChatResult{Status: ChatStatusError, Error: err}, err
	}
	providerName := provider.Name()

	ctx, span := c.tracer.TraceLLMRequest(ctx, providerName, req.Model)
	defer span.End()

	var lastChatErr error
	var lastTokensIn, lastTokensOut int
	start := time.Now()
	defer func() {
		c.metrics.RecordLLMRequest(providerName, req.Model, chatStatus(lastChatErr), time.Since(start).Seconds(), lastTokensIn, lastTokensOut)
		if lastChatErr != nil {
			c.metrics.RecordError("llm", classifyErrorType(lastChatErr))
			c.tracer.RecordError(span, lastChatErr)
		}
	}()

	systemPrompt := req.SystemPrompt
	tools := req.Tools
	if req.ToolChoice == "none" {
		// When tool_choice=none, omit tool definitions entirely
		// rather than merely constraining the choice.
		tools = nil
	}

	hintedOnce := false
	var lastErr error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			lastChatErr = err
			return &ChatResult{Status: ChatStatusError, Error: err}, err
		}

		result, callErr := c.attempt(ctx, provider, req, systemPrompt, tools)
		if callErr == nil {
			lastTokensIn, lastTokensOut = result.InputTokens, result.OutputTokens
			return result, nil
		}
		lastErr = callErr
		lastChatErr = callErr

		if argErr, ok := detectToolArgumentTypeError(toolNameHint(req.Tools), callErr); ok && !hintedOnce {
			hintedOnce = true
			var schema json.RawMessage
			for _, t := range req.Tools {
				if t.Name() == argErr.ToolName {
					schema = t.Schema()
					break
				}
			}
			hint := GenerateToolArgumentHint(schema, argErr.ToolName, argErr.Param, argErr.Got)
			systemPrompt = appendHint(systemPrompt, hint)
			c.logger.Warn(ctx, "llm: tool-argument type error, retrying immediately without consuming retry slot", "tool", argErr.ToolName, "param", argErr.Param)
			attempt-- // free retry, doesn't consume the budget
			continue
		}

		if !isRetryable(callErr) {
			break
		}

		hint := ClassifyErrorHint(callErr)
		systemPrompt = appendHint(systemPrompt, hint)
		c.logger.Warn(ctx, "llm: retryable error, backing off", "attempt", attempt, "error", callErr.Error())

		if attempt < maxRetries {
			delay := time.Duration(2*attempt) * time.Second
			if err := backoff.SleepWithContext(ctx, delay); err != nil {
				lastChatErr = err
				return &ChatResult{Status: ChatStatusError, Error: err}, err
			}
		}
	}

	lastChatErr = lastErr
	return &ChatResult{Status: ChatStatusError, Error: lastErr}, lastErr
}

// chatStatus converts a Chat outcome into the label used for metrics.
func chatStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// classifyErrorType maps an error to a coarse error kind for
// the error-counter's error_type label.
func classifyErrorType(err error) string {
	if err == nil {
		return ""
	}
	if isRetryable(err) {
		return "transient_llm"
	}
	return "fatal"
}

// attempt runs one streaming completion end-to-end, enforcing the
// first_chunk/inter_chunk/overall timeouts and assembling the final result.
func (c *Client) attempt(ctx context.Context, provider Provider, req ChatRequest, systemPrompt string, tools []Tool) (*ChatResult, error) {
	overallCtx, cancel := context.WithTimeout(ctx, c.timeouts.Overall)
	defer cancel()

	creq := &CompletionRequest{
		Model:      req.Model,
		System:     systemPrompt,
		Messages:   req.History,
		Tools:      tools,
		ToolChoice: req.ToolChoice,
	}

	// first_chunk is enforced in the application layer: establish the
	// stream and read its first element on a worker with a hard deadline,
	// since the underlying client libraries' own timeouts don't prevent
	// connection-pool deadlocks.
	firstCtx, firstCancel := context.WithTimeout(overallCtx, c.timeouts.FirstChunk)
	defer firstCancel()

	type firstResult struct {
		chunks <-chan *CompletionChunk
		first  *CompletionChunk
		err    error
	}
	resultCh := make(chan firstResult, 1)

	go func() {
		chunks, err := provider.Complete(overallCtx, creq)
		if err != nil {
			resultCh <- firstResult{err: err}
			return
		}
		first, ok := <-chunks
		if !ok {
			resultCh <- firstResult{err: errors.New("llm: stream closed before first chunk")}
			return
		}
		resultCh <- firstResult{chunks: chunks, first: first}
	}()

	var first firstResult
	select {
	case <-firstCtx.Done():
		return nil, fmt.Errorf("llm: first_chunk timeout: %w", firstCtx.Err())
	case first = <-resultCh:
	}
	if first.err != nil {
		return nil, first.err
	}

	return c.drain(overallCtx, req.Model, first.first, first.chunks)
}

// drain consumes the remainder of the stream, enforcing inter_chunk between
// deltas, concatenating text, accumulating tool-call arguments by index
// (already done by the provider), and parsing each tool call's arguments
// JSON once the stream ends (repairing it first if necessary).
func (c *Client) drain(ctx context.Context, model string, first *CompletionChunk, chunks <-chan *CompletionChunk) (*ChatResult, error) {
	result := &ChatResult{Status: ChatStatusOK, Model: model, FinishReason: "stop"}
	var output []byte
	var pendingToolCalls []models.ToolCall

	apply := func(chunk *CompletionChunk) error {
		if chunk.Error != nil {
			return chunk.Error
		}
		if chunk.Text != "" {
			output = append(output, chunk.Text...)
		}
		if chunk.ToolCall != nil {
			pendingToolCalls = append(pendingToolCalls, *chunk.ToolCall)
			result.FinishReason = "tool_calls"
		}
		if chunk.InputTokens > 0 {
			result.InputTokens = chunk.InputTokens
		}
		if chunk.OutputTokens > 0 {
			result.OutputTokens = chunk.OutputTokens
		}
		return nil
	}

	if err := apply(first); err != nil {
		return nil, err
	}
	if first.Done {
		return c.finalize(result, output, pendingToolCalls)
	}

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("llm: overall timeout: %w", ctx.Err())
		case chunk, ok := <-chunks:
			if !ok {
				return c.finalize(result, output, pendingToolCalls)
			}
			if err := apply(chunk); err != nil {
				return nil, err
			}
			if chunk.Done {
				return c.finalize(result, output, pendingToolCalls)
			}
		case <-time.After(c.timeouts.InterChunk):
			return nil, fmt.Errorf("llm: inter_chunk timeout after %s", c.timeouts.InterChunk)
		}
	}
}

// finalize parses (and, if needed, repairs) each accumulated tool call's
// arguments JSON before returning the completed result.
func (c *Client) finalize(result *ChatResult, output []byte, toolCalls []models.ToolCall) (*ChatResult, error) {
	result.Output = string(output)
	for i, tc := range toolCalls {
		if !json.Valid(tc.Arguments) {
			repaired := repairToolArguments(string(tc.Arguments))
			toolCalls[i].Arguments = repaired
		}
	}
	result.ToolCalls = toolCalls
	return result, nil
}

func isRetryable(err error) bool {
	var re retryableErr
	if errors.As(err, &re) {
		return re.IsRetryable()
	}
	// Unclassified errors are retried too: all errors retry
	// by default; only the duck-typed provider errors opt out via
	// ShouldFailover handling at a higher layer.
	return true
}

func appendHint(systemPrompt, hint string) string {
	if hint == "" {
		return systemPrompt
	}
	if systemPrompt == "" {
		return hint
	}
	return systemPrompt + "\n\n" + hint
}

// toolNameHint picks a tool name to attribute a detected argument error to
// when the provider's message doesn't name one explicitly. With exactly one
// tool offered this is unambiguous; with several it's a best-effort label.
func toolNameHint(tools []Tool) string {
	if len(tools) == 1 {
		return tools[0].Name()
	}
	return ""
}
