package config

import "testing"

func TestModelConfig_UnmarshalYAML_BareString(t *testing.T) {
	data := []byte("models:\n  - gpt-5\n  - name: claude-opus\n    provider: anthropic\n")
	var cfg struct {
		Models []ModelConfig `yaml:"models"`
	}
	if err := decodeStrict(data, &cfg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(cfg.Models) != 2 {
		t.Fatalf("expected 2 models, got %d", len(cfg.Models))
	}
	if cfg.Models[0].Name != "gpt-5" || cfg.Models[0].Provider != "" {
		t.Fatalf("unexpected bare-string model: %+v", cfg.Models[0])
	}
	if cfg.Models[1].Name != "claude-opus" || cfg.Models[1].Provider != "anthropic" {
		t.Fatalf("unexpected mapping model: %+v", cfg.Models[1])
	}
}

func TestLLMConfig_ApplyDefaults(t *testing.T) {
	cfg := LLMConfig{}
	cfg.applyDefaults()
	if cfg.TimeoutSeconds != DefaultOverallTimeoutSeconds {
		t.Errorf("expected overall timeout default %d, got %d", DefaultOverallTimeoutSeconds, cfg.TimeoutSeconds)
	}
	if cfg.StreamTimeout != DefaultInterChunkTimeoutSeconds {
		t.Errorf("expected stream timeout default %d, got %d", DefaultInterChunkTimeoutSeconds, cfg.StreamTimeout)
	}
	if cfg.FirstChunkTimeout != DefaultFirstChunkTimeoutSeconds {
		t.Errorf("expected first-chunk timeout default %d, got %d", DefaultFirstChunkTimeoutSeconds, cfg.FirstChunkTimeout)
	}
}

func TestLLMConfig_Validate(t *testing.T) {
	cfg := LLMConfig{}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing base_url")
	}
	cfg.BaseURL = "https://api.example.com"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing models")
	}
	cfg.Models = []ModelConfig{{Name: "m1"}}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestLLMConfig_ModelByName(t *testing.T) {
	cfg := LLMConfig{
		Models:           []ModelConfig{{Name: "chat-1"}},
		FigureModels:     []ModelConfig{{Name: "vision-1"}},
		CompressorModels: []ModelConfig{{Name: "compress-1"}},
	}
	for _, name := range []string{"chat-1", "vision-1", "compress-1"} {
		if _, ok := cfg.ModelByName(name); !ok {
			t.Errorf("expected to find model %q", name)
		}
	}
	if _, ok := cfg.ModelByName("missing"); ok {
		t.Error("expected missing model to not be found")
	}
}

func TestLLMConfig_PrimaryModel(t *testing.T) {
	cfg := LLMConfig{}
	if _, err := cfg.PrimaryModel(); err == nil {
		t.Fatal("expected error with no models configured")
	}
	cfg.Models = []ModelConfig{{Name: "first"}, {Name: "second"}}
	m, err := cfg.PrimaryModel()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Name != "first" {
		t.Errorf("expected first model, got %q", m.Name)
	}
}
