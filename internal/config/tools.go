package config

import "fmt"

// ToolConfig is the decoded shape of run_env_config/tool_config.yaml: the
// base URL of the external tool server the Tool Executor dispatches
// tool_call_agent invocations to.
type ToolConfig struct {
	Version     int    `yaml:"version,omitempty"`
	ToolsServer string `yaml:"tools_server"`
}

// Validate checks that the tool server URL is present.
func (c *ToolConfig) Validate() error {
	if c.ToolsServer == "" {
		return fmt.Errorf("tool config: tools_server is required")
	}
	return nil
}
