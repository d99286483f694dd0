package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// argTypeErrorPattern extracts the parameter name and the type the backend
// actually received from a provider's schema-validation error message, e.g.
// `Invalid type for parameter 'items': expected array, got string` or
// `parameter "count" must be an integer, got null`. Providers phrase this
// differently; the pattern is deliberately loose and only needs to catch the
// parameter name and the offending value description.
var argTypeErrorPattern = regexp.MustCompile(`(?i)parameter\s+['"]?([a-zA-Z0-9_]+)['"]?.*?(?:got|found)\s+['"]?([a-zA-Z0-9_]+)['"]?`)

// toolArgumentTypeError describes a single schema mismatch the model made
// when filling in a tool call's arguments.
type toolArgumentTypeError struct {
	ToolName string
	Param    string
	Got      string
}

// detectToolArgumentTypeError inspects a provider error's message for the
// parameter-name/actual-value shape of a "tool-argument type
// error" (schema mismatch such as expected array got string, or null for an
// integer). It returns ok=false for anything it can't confidently parse, in
// which case the caller falls back to the generic error-class hint path.
func detectToolArgumentTypeError(toolName string, err error) (toolArgumentTypeError, bool) {
	if err == nil {
		return toolArgumentTypeError{}, false
	}
	m := argTypeErrorPattern.FindStringSubmatch(err.Error())
	if m == nil {
		return toolArgumentTypeError{}, false
	}
	return toolArgumentTypeError{ToolName: toolName, Param: m[1], Got: strings.ToLower(m[2])}, true
}

// schemaProperty is the subset of a JSON-Schema property definition the hint
// generator needs: its declared type plus whatever worked example the
// schema author already supplied.
type schemaProperty struct {
	Type     string `json:"type"`
	Examples []any  `json:"examples"`
	Default  any    `json:"default"`
}

// lookupSchemaProperty finds param's declared type and example value inside
// an OpenAI-style `{type: object, properties: {...}}` tool schema.
func lookupSchemaProperty(schema json.RawMessage, param string) (schemaProperty, bool) {
	var root struct {
		Properties map[string]schemaProperty `json:"properties"`
	}
	if err := json.Unmarshal(schema, &root); err != nil {
		return schemaProperty{}, false
	}
	prop, ok := root.Properties[param]
	return prop, ok
}

// workedExample renders prop's examples/default, if present, as a short
// literal suitable for embedding in a hint (e.g. `["a", "b"]`).
func workedExample(prop schemaProperty) string {
	var v any
	switch {
	case len(prop.Examples) > 0:
		v = prop.Examples[0]
	case prop.Default != nil:
		v = prop.Default
	default:
		return typeStub(prop.Type)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return typeStub(prop.Type)
	}
	return string(b)
}

// typeStub is the fallback worked example used when a schema property gives
// no examples/default of its own, keyed by JSON-Schema type name.
func typeStub(jsonType string) string {
	switch jsonType {
	case "array":
		return `["item1", "item2"]`
	case "object":
		return `{"key": "value"}`
	case "integer":
		return `42`
	case "number":
		return `3.14`
	case "boolean":
		return `true`
	default:
		return `"value"`
	}
}

// GenerateToolArgumentHint renders the targeted hint appended to the
// table-driven-by-JSON-Schema-type supplement: rather than a single generic
// message, it names the tool's own declared type for the offending
// parameter and gives a worked example drawn from the schema's own
// examples/default when present, falling back to a type-appropriate stub.
func GenerateToolArgumentHint(schema json.RawMessage, toolName, param, got string) string {
	prop, ok := lookupSchemaProperty(schema, param)
	if !ok {
		return fmt.Sprintf("parameter %s of tool %s was invalid (got %s): re-check the tool's parameter schema and retry.", param, toolName, got)
	}
	return fmt.Sprintf(
		"parameter %s of tool %s must be %s %s, but the previous call supplied %s. Correct example: %s",
		param, toolName, article(prop.Type), prop.Type, got, workedExample(prop),
	)
}

func article(jsonType string) string {
	switch jsonType {
	case "array", "object", "integer":
		return "an"
	default:
		return "a"
	}
}

// errorHintClass is an error category the contextual-hint generator
// recognizes, ordered roughly by how confidently the message can be
// classified.
type errorHintClass struct {
	match func(msg string) bool
	hint  string
}

var errorHintClasses = []errorHintClass{
	{
		match: func(msg string) bool { return strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline") },
		hint:  "The previous request timed out. Keep the next response concise and avoid unnecessary tool calls so it completes within the time budget.",
	},
	{
		match: func(msg string) bool { return strings.Contains(msg, "rate_limit") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "429") },
		hint:  "The previous request was rate-limited. This retry is being spaced out automatically; no action needed beyond completing the same task.",
	},
	{
		match: func(msg string) bool {
			return strings.Contains(msg, "auth") || strings.Contains(msg, "401") || strings.Contains(msg, "403") || strings.Contains(msg, "api key")
		},
		hint: "The provider rejected the request's credentials. This is an environment problem, not something the response content can fix.",
	},
	{
		match: func(msg string) bool { return strings.Contains(msg, "null") },
		hint:  "A required field was null in the previous tool call. Supply a concrete value for every required parameter, omitting optional ones entirely rather than passing null.",
	},
	{
		match: func(msg string) bool {
			return strings.Contains(msg, "json") && (strings.Contains(msg, "parse") || strings.Contains(msg, "invalid") || strings.Contains(msg, "decode"))
		},
		hint: "The previous tool call's arguments were not valid JSON. Emit arguments as a single well-formed JSON object with no trailing commas or unbalanced brackets.",
	},
	{
		match: func(msg string) bool {
			return strings.Contains(msg, "unknown tool") || strings.Contains(msg, "unknown_tool") || strings.Contains(msg, "not found")
		},
		hint: "The previous tool call named a tool that is not in the available tool list. Choose a tool from the ones explicitly offered, or call final_output if none apply.",
	},
}

// ClassifyErrorHint generates a contextual hint for the given error,
// covering the common error classes (timeout, rate-limit, auth,
// null-value, json-parse, unknown-tool) plus an unknown-error fallback. The
// caller appends the result to the system prompt before the next retry.
func ClassifyErrorHint(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.ToLower(err.Error())
	for _, class := range errorHintClasses {
		if class.match(msg) {
			return class.hint
		}
	}
	return fmt.Sprintf("The previous request failed (%s). Adjust the approach and retry.", err.Error())
}
