package config

import (
	"fmt"
	"strings"
)

// AgentType is the tagged-variant discriminator of an agent_library entry.
// It resolves to a Tool Executor dispatch target
// once at load time rather than being re-inspected per call.
type AgentType string

const (
	AgentTypeFinalOutput   AgentType = "final_output"
	AgentTypeToolCallAgent AgentType = "tool_call_agent"
	AgentTypeLLMCallAgent  AgentType = "llm_call_agent"
)

// Prompts holds the two templated fragments substituted into
// general_prompts.yaml's system_prompt_xml for a given agent.
type Prompts struct {
	AgentResponsibility string `yaml:"agent_responsibility"`
	AgentWorkflow       string `yaml:"agent_workflow"`
}

// AgentDefinition is one agent_library/<system>/*.yaml entry. Level
// is the depth category used by the Context Builder's render rules, not a
// raw call-stack depth. Parameters is left as a raw map so it can be handed
// straight to the LLM Client as a tool's JSON-Schema parameter definition.
type AgentDefinition struct {
	Name          string         `yaml:"name"`
	Type          AgentType      `yaml:"type"`
	Level         int            `yaml:"level"`
	Description   string         `yaml:"description"`
	AvailableTools []string      `yaml:"available_tools,omitempty"`
	Parameters    map[string]any `yaml:"parameters"`
	ModelType     string         `yaml:"model_type,omitempty"`
	Prompts       *Prompts       `yaml:"prompts,omitempty"`
}

// Validate checks the minimal shape required before this definition can be
// wired into the Hierarchy Manager's agent registry.
func (d *AgentDefinition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("agent definition: name is required")
	}
	switch d.Type {
	case AgentTypeFinalOutput, AgentTypeToolCallAgent, AgentTypeLLMCallAgent:
	default:
		return fmt.Errorf("agent definition %q: unknown type %q", d.Name, d.Type)
	}
	if d.Level < 0 || d.Level > 3 {
		return fmt.Errorf("agent definition %q: level %d out of range 0..3", d.Name, d.Level)
	}
	if d.Type == AgentTypeLLMCallAgent && d.Prompts == nil {
		return fmt.Errorf("agent definition %q: llm_call_agent requires prompts", d.Name)
	}
	return nil
}

// GeneralPrompts is the decoded shape of agent_library/<system>/general_prompts.yaml:
// a single system prompt template shared by every llm_call_agent in that
// system, with {agent_name}/{agent_responsibility}/{agent_workflow} holes.
type GeneralPrompts struct {
	SystemPromptXML string `yaml:"system_prompt_xml"`
}

// Render substitutes the agent's own name and Prompts fields into the
// template. It uses plain string replacement, matching the template's
// literal `{agent_name}`-style placeholders rather than text/template, since
// the holes are fixed and known at load time.
func (g *GeneralPrompts) Render(def *AgentDefinition) string {
	out := g.SystemPromptXML
	out = strings.ReplaceAll(out, "{agent_name}", def.Name)
	if def.Prompts != nil {
		out = strings.ReplaceAll(out, "{agent_responsibility}", def.Prompts.AgentResponsibility)
		out = strings.ReplaceAll(out, "{agent_workflow}", def.Prompts.AgentWorkflow)
	}
	return out
}

// AgentLibrary is the fully loaded set of agent definitions for one
// system, keyed by agent name.
type AgentLibrary struct {
	System   string
	Prompts  GeneralPrompts
	Agents   map[string]*AgentDefinition
}

// Lookup returns the named agent definition, or ok=false if not registered.
func (l *AgentLibrary) Lookup(name string) (*AgentDefinition, bool) {
	d, ok := l.Agents[name]
	return d, ok
}

// RootAgents returns the llm_call_agent definitions no other agent lists in
// its available_tools: the entry points an Instruction may be pushed
// against. Level alone can't identify them, since level is a depth category
// (0 marks leaf tools, not roots) and a library may define several depth-3
// agents that are still only reachable as sub-agents.
func (l *AgentLibrary) RootAgents() []*AgentDefinition {
	referenced := map[string]bool{}
	for _, d := range l.Agents {
		for _, name := range d.AvailableTools {
			referenced[name] = true
		}
	}
	var out []*AgentDefinition
	for _, d := range l.Agents {
		if d.Type == AgentTypeLLMCallAgent && !referenced[d.Name] {
			out = append(out, d)
		}
	}
	return out
}
