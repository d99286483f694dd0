package contextbuilder

import (
	"context"
	"fmt"
	"strings"

	"github.com/taskmesh/mla/pkg/models"
)

// Builder assembles the single structured system-prompt string the Agent
// Executor hands the LLM Client each turn.
type Builder struct {
	Summarizer             Summarizer
	MaxContextWindowTokens int
}

// New constructs a Builder. summarizer may be nil if the caller knows the
// task is small enough that compression will never trigger (tests only);
// production callers must supply the compressor-model-backed Summarizer.
func New(summarizer Summarizer, maxContextWindowTokens int) *Builder {
	return &Builder{Summarizer: summarizer, MaxContextWindowTokens: maxContextWindowTokens}
}

// Input is everything the Builder needs to assemble one agent's prompt for
// one turn. RenderHistory may be mutated in place (its oldest prefix
// replaced by a summary record) if rule 3 triggers; the caller is
// responsible for persisting the returned slice back into its checkpoint.
type Input struct {
	GeneralSystemPrompt string
	ActiveInstructions  []models.Instruction
	PriorInstructions   []models.ArchivedInstruction
	CurrentAgentID      string
	CurrentAgentName    string
	CurrentAgentTask    string
	LatestThinking      string
	Hierarchy           map[string]models.HierarchyNode
	AgentsStatus        map[string]*models.AgentInstance
	RenderHistory       []models.ActionRecord
	TaskContext         *models.TaskContext
}

// Result is the assembled prompt plus the (possibly compressed) render
// history the caller should persist.
type Result struct {
	Prompt        string
	RenderHistory []models.ActionRecord
}

// Build produces the labeled-section prompt, sections in a fixed order: general system prompt, <user_latest_input>, <user_agent_history>,
// <current_agent_name>, <structured_call_info>, <current_agent_task>,
// <current_progress_thinking>, <action_history>.
func (b *Builder) Build(ctx context.Context, in Input) (*Result, error) {
	var sb strings.Builder

	sb.WriteString(in.GeneralSystemPrompt)
	sb.WriteString("\n\n")

	sb.WriteString("<user_latest_input>\n")
	for _, inst := range in.ActiveInstructions {
		sb.WriteString(inst.Text)
		sb.WriteString("\n")
	}
	sb.WriteString("</user_latest_input>\n\n")

	userAgentHistory, err := b.renderUserAgentHistory(ctx, in)
	if err != nil {
		return nil, err
	}
	sb.WriteString("<user_agent_history>\n")
	sb.WriteString(userAgentHistory)
	sb.WriteString("\n</user_agent_history>\n\n")

	sb.WriteString("<current_agent_name>")
	sb.WriteString(in.CurrentAgentName)
	sb.WriteString("</current_agent_name>\n\n")

	callInfo, err := b.renderStructuredCallInfo(ctx, in)
	if err != nil {
		return nil, err
	}
	sb.WriteString("<structured_call_info>\n")
	sb.WriteString(callInfo)
	sb.WriteString("\n</structured_call_info>\n\n")

	sb.WriteString("<current_agent_task>")
	sb.WriteString(in.CurrentAgentTask)
	sb.WriteString("</current_agent_task>\n\n")

	sb.WriteString("<current_progress_thinking>\n")
	sb.WriteString(in.LatestThinking)
	sb.WriteString("\n</current_progress_thinking>\n\n")

	renderHistory, err := b.compressActionHistoryIfNeeded(ctx, in, sb.Len())
	if err != nil {
		return nil, err
	}
	sb.WriteString("<action_history>\n")
	sb.WriteString(RenderActionHistory(renderHistory))
	sb.WriteString("</action_history>\n")

	return &Result{Prompt: sb.String(), RenderHistory: renderHistory}, nil
}

func (b *Builder) renderUserAgentHistory(ctx context.Context, in Input) (string, error) {
	var sb strings.Builder
	for _, archived := range in.PriorInstructions {
		sb.WriteString(archived.Instruction.Text)
		sb.WriteString(": ")
		for _, status := range archived.AgentsStatus {
			if status.IsRoot() {
				sb.WriteString(status.FinalOutput)
			}
		}
		sb.WriteString("\n")
	}
	serialized := sb.String()

	if in.TaskContext == nil || b.Summarizer == nil {
		return serialized, nil
	}
	digest, err := CompressUserAgentHistory(ctx, in.TaskContext, serialized, b.Summarizer)
	if err != nil {
		return "", err
	}
	return digest, nil
}

func (b *Builder) renderStructuredCallInfo(ctx context.Context, in Input) (string, error) {
	rendered, err := RenderStructuredCallInfo(in.Hierarchy, in.AgentsStatus, in.CurrentAgentID)
	if err != nil {
		return "", err
	}
	if in.TaskContext == nil || b.Summarizer == nil {
		return rendered, nil
	}
	digest, err := CompressStructuredCallInfo(ctx, in.TaskContext, in.CurrentAgentID, rendered, b.Summarizer)
	if err != nil {
		return "", err
	}
	return digest, nil
}

func (b *Builder) compressActionHistoryIfNeeded(ctx context.Context, in Input, fixedChars int) ([]models.ActionRecord, error) {
	if b.Summarizer == nil || b.MaxContextWindowTokens <= 0 {
		return in.RenderHistory, nil
	}
	out, err := CompressActionHistory(ctx, in.RenderHistory, fixedChars, b.MaxContextWindowTokens, b.Summarizer)
	if err != nil {
		return nil, fmt.Errorf("contextbuilder: build prompt: %w", err)
	}
	return out, nil
}
