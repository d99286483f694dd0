// Package thinking implements the Thinking sub-service: the periodic,
// tool-free LLM call that produces an agent's free-text plan. It has no
// tools and no state of its own; every call is a stateless request against
// a meta-prompt.
package thinking

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/taskmesh/mla/internal/llm"
)

// metaSystemPrompt is the Thinking sub-service's own system prompt: it asks
// for three labeled sections; the caller parses them into a Result rather
// than treating the response as one opaque blob.
const metaSystemPrompt = `You manage the working context of another agent, which asks you to restructure its context immediately before it clears its action history. The context includes whatever you produced last time inside <current_progress_thinking>. Return restructured context in the following format; if <current_progress_thinking> is empty this is the first construction and your output does not need to reference it.

Respond in the language of the agent's <user_latest_input> section, not the language of this instruction.

<todo_list>
A task breakdown for this agent's own responsibility only, never work that belongs to a different agent. Keep each item small enough to finish within about ten tool calls. Mark each item done, ongoing (with what is already known), or waiting.
</todo_list>

<fixed_info>
You must obey this: every fact you are looking at now will be discarded after the next ten tool calls. If something here will still be needed after that point, keep it here — a bullet summary is enough, a direct quote only for things not already safely captured in a file you name in todo_list. Also record any failure counts for an action tried repeatedly (so the agent doesn't loop), and workspace/file map entries worth remembering.
</fixed_info>

<next_n_steps>
The next up to ten steps, each tied to one concrete tool call (not a vague "analyze the remaining files" — name the specific file, or say "the first file in sorted order" if the exact name isn't known yet). The plan should produce a tangible artifact (a written or modified file) by its end.
</next_n_steps>`

// Result is the parsed shape of one Thinking call: <todo_list>, <fixed_info>, <next_n_steps>
// parsed out of the response rather than kept as one opaque string.
type Result struct {
	Todo      []string
	FixedInfo map[string]string
	NextSteps []string
	Raw       string
}

// Render flattens a Result back into the single free-text block stored as
// an AgentInstance's latest_thinking and rendered into
// <current_progress_thinking>, so the Context Builder doesn't need to know
// about Result's structure at all.
func (r *Result) Render() string {
	if r == nil {
		return ""
	}
	return r.Raw
}

var sectionPattern = func(tag string) *regexp.Regexp {
	return regexp.MustCompile(`(?s)<` + tag + `>(.*?)</` + tag + `>`)
}

var (
	todoPattern  = sectionPattern("todo_list")
	fixedPattern = sectionPattern("fixed_info")
	stepsPattern = sectionPattern("next_n_steps")
)

// parse extracts the three labeled sections from raw model output. Any
// section the model omits is left empty rather than treated as an error,
// since a short task may legitimately have nothing to put in fixed_info.
func parse(raw string) *Result {
	r := &Result{Raw: raw, FixedInfo: map[string]string{}}
	if m := todoPattern.FindStringSubmatch(raw); m != nil {
		r.Todo = splitLines(m[1])
	}
	if m := fixedPattern.FindStringSubmatch(raw); m != nil {
		for _, line := range splitLines(m[1]) {
			k, v, ok := strings.Cut(line, ":")
			if ok {
				r.FixedInfo[strings.TrimSpace(k)] = strings.TrimSpace(v)
			}
		}
	}
	if m := stepsPattern.FindStringSubmatch(raw); m != nil {
		r.NextSteps = splitLines(m[1])
	}
	return r
}

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

// Input carries everything one Thinking call needs: the agent's own task
// framing plus whatever the caller wants folded into the request (the
// agent's rendered system prompt, its available tools, and — on a re-plan —
// its current progress-so-far).
type Input struct {
	TaskDescription   string
	AgentSystemPrompt string
	AvailableTools    []string
	ToolDescriptions  map[string]string
	PriorThinking     string
	ToolCallCounter   int
}

// Service is the Thinking sub-service: a thin, stateless wrapper over the
// LLM Client using a dedicated meta-prompt and no tools, small enough to be
// a package with exactly one exported operation.
type Service struct {
	client *llm.Client
	model  string
}

// New builds a Service that calls model (typically a
// llm_config.yaml `compressor_models` entry, since Thinking calls are
// high-volume and tool-free like compression) through client.
func New(client *llm.Client, model string) *Service {
	return &Service{client: client, model: model}
}

// Plan runs one Thinking call and returns its parsed Result. It is the
// service's only operation: both the initial plan and every periodic
// re-plan call Plan with the same meta-prompt, distinguished only by
// whether in.PriorThinking is populated.
func (s *Service) Plan(ctx context.Context, in Input) (*Result, error) {
	req := llm.ChatRequest{
		History:      []llm.CompletionMessage{{Role: "user", Content: buildRequest(in)}},
		Model:        s.model,
		SystemPrompt: metaSystemPrompt,
		ToolChoice:   "none",
		MaxRetries:   3,
	}
	result, err := s.client.Chat(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("thinking: plan: %w", err)
	}
	if result.Status != llm.ChatStatusOK {
		return nil, fmt.Errorf("thinking: plan failed: %w", result.Error)
	}
	return parse(result.Output), nil
}

func buildRequest(in Input) string {
	var sb strings.Builder
	sb.WriteString("Task for the agent being analyzed:\n")
	sb.WriteString(in.TaskDescription)
	sb.WriteString("\n\nThe analyzed agent's own system prompt:\n")
	sb.WriteString(in.AgentSystemPrompt)
	sb.WriteString("\n\nTools it can call:\n")
	for _, name := range in.AvailableTools {
		sb.WriteString("- ")
		sb.WriteString(name)
		if desc, ok := in.ToolDescriptions[name]; ok && desc != "" {
			sb.WriteString(": ")
			sb.WriteString(desc)
		}
		sb.WriteString("\n")
	}
	if in.PriorThinking != "" {
		sb.WriteString("\n<current_progress_thinking>\n")
		sb.WriteString(in.PriorThinking)
		sb.WriteString("\n</current_progress_thinking>\n")
		fmt.Fprintf(&sb, "\nTool calls executed so far: %d. Update the context above.\n", in.ToolCallCounter)
	} else {
		sb.WriteString("\nThis is the first construction of this agent's context; produce it fresh.\n")
	}
	return sb.String()
}
