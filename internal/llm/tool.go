package llm

import (
	"encoding/json"

	"github.com/taskmesh/mla/internal/config"
)

// AgentTool adapts a config.AgentDefinition into the OpenAI-style function
// schema a Provider expects: the agent's name/description/parameters become
// the tool's {name, description, parameters}, letting a tool_call_agent or
// llm_call_agent sub-agent be offered to the model exactly like any other
// tool.
type AgentTool struct {
	def *config.AgentDefinition
}

// NewAgentTool wraps def for use in a CompletionRequest.Tools list.
func NewAgentTool(def *config.AgentDefinition) AgentTool {
	return AgentTool{def: def}
}

func (t AgentTool) Name() string        { return t.def.Name }
func (t AgentTool) Description() string { return t.def.Description }

// Schema marshals the agent definition's raw parameters map as the tool's
// JSON-Schema. An empty/nil map still yields a valid, empty object schema.
func (t AgentTool) Schema() json.RawMessage {
	params := t.def.Parameters
	if params == nil {
		params = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return raw
}
