package config

import "fmt"

// ModelConfig is one entry of LLMConfig.Models/FigureModels/CompressorModels.
// A bare string name in YAML decodes into {Name: name}; a mapping decodes
// into the full shape.
type ModelConfig struct {
	Name         string            `yaml:"name"`
	Provider     string            `yaml:"provider,omitempty"`
	ExtraHeaders map[string]string `yaml:"extra_headers,omitempty"`
	ExtraBody    map[string]any    `yaml:"extra_body,omitempty"`
}

// UnmarshalYAML accepts either a bare scalar model name or a full mapping.
func (m *ModelConfig) UnmarshalYAML(unmarshal func(any) error) error {
	var name string
	if err := unmarshal(&name); err == nil {
		m.Name = name
		return nil
	}
	type plain ModelConfig
	var p plain
	if err := unmarshal(&p); err != nil {
		return err
	}
	*m = ModelConfig(p)
	return nil
}

// LLMConfig is the decoded shape of run_env_config/llm_config.yaml.
// Timeouts are in seconds on disk; Load converts them to time.Duration-ready
// ints consumed directly by internal/llmclient.
type LLMConfig struct {
	Version           int           `yaml:"version,omitempty"`
	BaseURL           string        `yaml:"base_url"`
	APIKey            string        `yaml:"api_key"`
	Temperature       float64       `yaml:"temperature"`
	MaxTokens         int           `yaml:"max_tokens"`
	MaxContextWindow  int           `yaml:"max_context_window"`
	TimeoutSeconds    int           `yaml:"timeout"`
	StreamTimeout     int           `yaml:"stream_timeout"`
	FirstChunkTimeout int           `yaml:"first_chunk_timeout"`
	Models            []ModelConfig `yaml:"models"`
	FigureModels      []ModelConfig `yaml:"figure_models"`
	CompressorModels  []ModelConfig `yaml:"compressor_models"`
}

// Default timeout values applied when the config file omits them.
const (
	DefaultOverallTimeoutSeconds    = 600
	DefaultInterChunkTimeoutSeconds = 20
	DefaultFirstChunkTimeoutSeconds = 20
	DefaultMaxRetries               = 3
)

// applyDefaults fills in the timeout defaults for any field left at zero.
func (c *LLMConfig) applyDefaults() {
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = DefaultOverallTimeoutSeconds
	}
	if c.StreamTimeout == 0 {
		c.StreamTimeout = DefaultInterChunkTimeoutSeconds
	}
	if c.FirstChunkTimeout == 0 {
		c.FirstChunkTimeout = DefaultFirstChunkTimeoutSeconds
	}
}

// Validate checks the minimal invariants Load requires before returning.
func (c *LLMConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("llm config: base_url is required")
	}
	if len(c.Models) == 0 {
		return fmt.Errorf("llm config: at least one entry in models is required")
	}
	return nil
}

// PrimaryModel returns the first configured chat model, the one used for
// ordinary agent turns unless an agent definition overrides model_type.
func (c *LLMConfig) PrimaryModel() (ModelConfig, error) {
	if len(c.Models) == 0 {
		return ModelConfig{}, fmt.Errorf("llm config: no models configured")
	}
	return c.Models[0], nil
}

// ModelByName looks up a model by name across all three pools (models,
// figure_models, compressor_models), in that order.
func (c *LLMConfig) ModelByName(name string) (ModelConfig, bool) {
	for _, pool := range [][]ModelConfig{c.Models, c.FigureModels, c.CompressorModels} {
		for _, m := range pool {
			if m.Name == name {
				return m, true
			}
		}
	}
	return ModelConfig{}, false
}
