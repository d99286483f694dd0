package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// readExpanded reads a YAML file and expands ${VAR}/$VAR references against
// the process environment before parsing, so secrets like api_key can be
// supplied out of band instead of committed to run_env_config/.
func readExpanded(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return []byte(os.ExpandEnv(string(data))), nil
}

// decodeStrict decodes a single YAML document into v, rejecting unknown
// fields so a typo in run_env_config/ fails loudly instead of silently
// falling back to a zero value.
func decodeStrict(data []byte, v any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(new(any)); err != io.EOF {
		return fmt.Errorf("expected a single YAML document")
	}
	return nil
}

// LoadLLMConfig reads and validates run_env_config/llm_config.yaml.
func LoadLLMConfig(path string) (*LLMConfig, error) {
	data, err := readExpanded(path)
	if err != nil {
		return nil, err
	}
	var cfg LLMConfig
	if err := decodeStrict(data, &cfg); err != nil {
		return nil, fmt.Errorf("llm config %s: %w", path, err)
	}
	if err := ValidateVersion(filepath.Base(path), cfg.Version); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("llm config %s: %w", path, err)
	}
	return &cfg, nil
}

// LoadToolConfig reads and validates run_env_config/tool_config.yaml.
func LoadToolConfig(path string) (*ToolConfig, error) {
	data, err := readExpanded(path)
	if err != nil {
		return nil, err
	}
	var cfg ToolConfig
	if err := decodeStrict(data, &cfg); err != nil {
		return nil, fmt.Errorf("tool config %s: %w", path, err)
	}
	if err := ValidateVersion(filepath.Base(path), cfg.Version); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("tool config %s: %w", path, err)
	}
	return &cfg, nil
}

// LoadAgentLibrary reads every *.yaml file directly under dir (one
// agent_library/<system>/ directory) except general_prompts.yaml, which is
// loaded separately as the shared prompt template.
func LoadAgentLibrary(dir string) (*AgentLibrary, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("agent library %s: %w", dir, err)
	}

	lib := &AgentLibrary{
		System: filepath.Base(dir),
		Agents: map[string]*AgentDefinition{},
	}

	var names []string
	haveGeneralPrompts := false
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		if e.Name() == "general_prompts.yaml" {
			haveGeneralPrompts = true
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	if haveGeneralPrompts {
		data, err := readExpanded(filepath.Join(dir, "general_prompts.yaml"))
		if err != nil {
			return nil, err
		}
		if err := decodeStrict(data, &lib.Prompts); err != nil {
			return nil, fmt.Errorf("agent library %s: general_prompts.yaml: %w", dir, err)
		}
	}

	for _, name := range names {
		data, err := readExpanded(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		var def AgentDefinition
		if err := decodeStrict(data, &def); err != nil {
			return nil, fmt.Errorf("agent library %s: %s: %w", dir, name, err)
		}
		if err := def.Validate(); err != nil {
			return nil, fmt.Errorf("agent library %s: %s: %w", dir, name, err)
		}
		if _, dup := lib.Agents[def.Name]; dup {
			return nil, fmt.Errorf("agent library %s: duplicate agent name %q", dir, def.Name)
		}
		lib.Agents[def.Name] = &def
	}

	return lib, nil
}

// LoadAllAgentLibraries loads every system subdirectory of root (the
// agent_library/ directory), keyed by system name.
func LoadAllAgentLibraries(root string) (map[string]*AgentLibrary, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("agent library root %s: %w", root, err)
	}
	out := map[string]*AgentLibrary{}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		lib, err := LoadAgentLibrary(filepath.Join(root, e.Name()))
		if err != nil {
			return nil, err
		}
		out[lib.System] = lib
	}
	return out, nil
}
