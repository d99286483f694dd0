// Package contextbuilder assembles the structured system prompt the Agent
// Executor hands to the LLM Client each turn, and compresses the pieces of
// state that would otherwise make that prompt grow without bound.
package contextbuilder

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/taskmesh/mla/pkg/models"
)

// Compression thresholds, named rather than inlined so the
// three rules stay independently adjustable.
const (
	// UserAgentHistoryTriggerChars is rule 1's serialized-length trigger.
	UserAgentHistoryTriggerChars = 5000
	// UserAgentHistoryDigestMaxChars bounds rule 1's compressor output.
	UserAgentHistoryDigestMaxChars = 3000

	// StructuredCallInfoTriggerAgents is rule 2's agent-count trigger.
	StructuredCallInfoTriggerAgents = 10
	// StructuredCallInfoTriggerChars is rule 2's serialized-length trigger.
	StructuredCallInfoTriggerChars = 8000
	// StructuredCallInfoDigestMaxChars bounds rule 2's compressor output.
	StructuredCallInfoDigestMaxChars = 2000

	// RenderTruncateChars bounds final_output/latest_thinking in the
	// rendered call tree (full content still lives in the underlying state).
	RenderTruncateChars = 500
)

// Summarizer is the LLM-backed compressor used by all three rules. It is a
// thin seam over internal/llm's compressor-model client so this package can
// be tested without a live model.
type Summarizer interface {
	Summarize(ctx context.Context, text string, maxChars int, instruction string) (string, error)
}

// EstimateTokens is a cheap, tokenizer-free estimate (character count / 4)
// used only to decide whether action-history compression (rule 3) is
// needed, not to bound billing.
func EstimateTokens(s string) int {
	return len(s) / 4
}

// CompressUserAgentHistory implements compression rule 1: compressed once per
// task activation and memoized at current._compressed_user_agent_history.
// serialize is the caller-supplied rendering of tc.History (the digest is
// about *prior* instructions' outcomes, not the live call tree).
func CompressUserAgentHistory(ctx context.Context, tc *models.TaskContext, serialized string, s Summarizer) (string, error) {
	if tc.Current.CompressedUserAgentHistory != "" {
		return tc.Current.CompressedUserAgentHistory, nil
	}
	if len(serialized) < UserAgentHistoryTriggerChars {
		return serialized, nil
	}
	digest, err := s.Summarize(ctx, serialized, UserAgentHistoryDigestMaxChars,
		"Summarize the files produced and relevance to the current task.")
	if err != nil {
		return "", fmt.Errorf("contextbuilder: compress user agent history: %w", err)
	}
	tc.Current.CompressedUserAgentHistory = digest
	return digest, nil
}

// CompressStructuredCallInfo implements compression rule 2: compressed per
// viewing agent (the "current agent" marker in the rendered tree differs
// per viewer) and memoized at current._compressed_structured_call_info_<agent_id>.
func CompressStructuredCallInfo(ctx context.Context, tc *models.TaskContext, viewerAgentID, renderedJSON string, s Summarizer) (string, error) {
	if tc.Current.CompressedStructuredCallInfo == nil {
		tc.Current.CompressedStructuredCallInfo = map[string]string{}
	}
	if cached, ok := tc.Current.CompressedStructuredCallInfo[viewerAgentID]; ok {
		return cached, nil
	}

	needed := len(tc.Current.AgentsStatus) > StructuredCallInfoTriggerAgents || len(renderedJSON) > StructuredCallInfoTriggerChars
	if !needed {
		return renderedJSON, nil
	}

	digest, err := s.Summarize(ctx, renderedJSON, StructuredCallInfoDigestMaxChars,
		"Summarize this call tree, preserving which agents are still running and their relationship to the current agent.")
	if err != nil {
		return "", fmt.Errorf("contextbuilder: compress structured call info: %w", err)
	}
	tc.Current.CompressedStructuredCallInfo[viewerAgentID] = digest
	return digest, nil
}

// CompressActionHistory implements compression rule 3: triggered when the
// estimated token count of the full prompt exceeds maxContextWindow tokens.
// It summarizes the oldest prefix of render history into a single synthetic
// _historical_summary record and keeps the tail unchanged. fixedChars is the
// size of everything else in the prompt (so the caller doesn't need to
// re-estimate the whole thing here). The fact history passed in is never
// mutated; only the returned render history slice is shortened.
func CompressActionHistory(ctx context.Context, render []models.ActionRecord, fixedChars int, maxContextWindowTokens int, s Summarizer) ([]models.ActionRecord, error) {
	if maxContextWindowTokens <= 0 || len(render) == 0 {
		return render, nil
	}

	serialized, err := json.Marshal(render)
	if err != nil {
		return nil, fmt.Errorf("contextbuilder: serialize render history: %w", err)
	}
	totalTokens := EstimateTokens(string(serialized)) + fixedChars/4
	if totalTokens <= maxContextWindowTokens {
		return render, nil
	}

	// Summarize the oldest half into one record, keep the newer half verbatim.
	// The caller re-measures on the next turn, so repeated triggers keep
	// shrinking the prefix rather than needing a loop here.
	keep := len(render) / 2
	if keep == 0 {
		keep = 1
	}
	if keep >= len(render) {
		return render, nil
	}

	prefix := render[:len(render)-keep]
	tail := render[len(render)-keep:]

	prefixJSON, err := json.Marshal(prefix)
	if err != nil {
		return nil, fmt.Errorf("contextbuilder: serialize history prefix: %w", err)
	}
	digest, err := s.Summarize(ctx, string(prefixJSON), UserAgentHistoryDigestMaxChars,
		"Summarize what this agent has learned and done so far; the reader needs enough to continue the task without the raw trace.")
	if err != nil {
		return nil, fmt.Errorf("contextbuilder: compress action history: %w", err)
	}

	summary := models.ActionRecord{
		CallID:   "historical-summary",
		ToolName: models.HistoricalSummaryToolName,
		Result: models.ActionResult{
			Status: models.ToolStatusSuccess,
			Output: digest,
		},
	}

	out := make([]models.ActionRecord, 0, len(tail)+1)
	out = append(out, summary)
	out = append(out, tail...)
	return out, nil
}
