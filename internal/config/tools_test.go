package config

import "testing"

func TestToolConfig_Validate(t *testing.T) {
	cfg := ToolConfig{}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing tools_server")
	}
	cfg.ToolsServer = "https://tools.internal"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}
