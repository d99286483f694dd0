package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadLLMConfig(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TEST_LLM_API_KEY", "sk-secret")
	path := filepath.Join(dir, "llm_config.yaml")
	writeFile(t, path, `
base_url: https://api.example.com/v1
api_key: ${TEST_LLM_API_KEY}
temperature: 0.2
max_tokens: 4096
max_context_window: 200000
models:
  - chat-default
  - name: chat-fast
    provider: openai
figure_models:
  - vision-1
compressor_models:
  - compress-1
`)
	cfg, err := LoadLLMConfig(path)
	if err != nil {
		t.Fatalf("LoadLLMConfig: %v", err)
	}
	if cfg.APIKey != "sk-secret" {
		t.Errorf("expected env expansion, got %q", cfg.APIKey)
	}
	if cfg.TimeoutSeconds != DefaultOverallTimeoutSeconds {
		t.Errorf("expected default timeout applied, got %d", cfg.TimeoutSeconds)
	}
	if len(cfg.Models) != 2 || cfg.Models[1].Provider != "openai" {
		t.Errorf("unexpected models: %+v", cfg.Models)
	}
}

func TestLoadLLMConfig_UnknownField(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "llm_config.yaml")
	writeFile(t, path, "base_url: https://x\nmodels: [m1]\nbogus_field: 1\n")
	if _, err := LoadLLMConfig(path); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoadLLMConfig_VersionChecked(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "llm_config.yaml")
	writeFile(t, path, "version: 1\nbase_url: https://x\nmodels: [m1]\n")
	if _, err := LoadLLMConfig(path); err != nil {
		t.Fatalf("expected current version to load, got %v", err)
	}

	writeFile(t, path, "version: 99\nbase_url: https://x\nmodels: [m1]\n")
	_, err := LoadLLMConfig(path)
	if err == nil {
		t.Fatal("expected error for unsupported version")
	}
	var ve *VersionError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *VersionError, got %T", err)
	}
}

func TestLoadToolConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tool_config.yaml")
	writeFile(t, path, "version: 1\ntools_server: https://tools.internal\n")
	cfg, err := LoadToolConfig(path)
	if err != nil {
		t.Fatalf("LoadToolConfig: %v", err)
	}
	if cfg.ToolsServer != "https://tools.internal" {
		t.Errorf("unexpected tools_server: %q", cfg.ToolsServer)
	}
}

func TestLoadAgentLibrary(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "default")
	writeFile(t, filepath.Join(dir, "general_prompts.yaml"), `
system_prompt_xml: "<agent>{agent_name}: {agent_responsibility}</agent>"
`)
	writeFile(t, filepath.Join(dir, "planner.yaml"), `
name: planner
type: llm_call_agent
level: 0
description: top-level planning agent
available_tools: [search, final_output]
parameters:
  type: object
  properties:
    task:
      type: string
prompts:
  agent_responsibility: decomposes the task
  agent_workflow: think, delegate, summarize
`)
	writeFile(t, filepath.Join(dir, "search.yaml"), `
name: search
type: tool_call_agent
level: 1
description: searches an index
parameters:
  type: object
  properties:
    query:
      type: string
`)

	lib, err := LoadAgentLibrary(dir)
	if err != nil {
		t.Fatalf("LoadAgentLibrary: %v", err)
	}
	if lib.System != "default" {
		t.Errorf("expected system name 'default', got %q", lib.System)
	}
	if len(lib.Agents) != 2 {
		t.Fatalf("expected 2 agents, got %d", len(lib.Agents))
	}
	planner, ok := lib.Lookup("planner")
	if !ok {
		t.Fatal("expected planner agent")
	}
	if planner.Type != AgentTypeLLMCallAgent {
		t.Errorf("unexpected type: %q", planner.Type)
	}
	if got := lib.Prompts.Render(planner); got != "<agent>planner: decomposes the task</agent>" {
		t.Errorf("unexpected rendered prompt: %q", got)
	}
}

func TestLoadAgentLibrary_DuplicateName(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "dup")
	writeFile(t, filepath.Join(dir, "a.yaml"), "name: same\ntype: final_output\nlevel: 1\n")
	writeFile(t, filepath.Join(dir, "b.yaml"), "name: same\ntype: final_output\nlevel: 1\n")
	if _, err := LoadAgentLibrary(dir); err == nil {
		t.Fatal("expected duplicate name error")
	}
}

func TestLoadAllAgentLibraries(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "sys-a", "root.yaml"), "name: root\ntype: final_output\nlevel: 0\n")
	writeFile(t, filepath.Join(root, "sys-b", "root.yaml"), "name: root\ntype: final_output\nlevel: 0\n")
	libs, err := LoadAllAgentLibraries(root)
	if err != nil {
		t.Fatalf("LoadAllAgentLibraries: %v", err)
	}
	if len(libs) != 2 {
		t.Fatalf("expected 2 systems, got %d", len(libs))
	}
	if _, ok := libs["sys-a"]; !ok {
		t.Error("expected sys-a library")
	}
}
