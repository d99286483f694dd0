package config

import "testing"

func TestAgentDefinition_Validate(t *testing.T) {
	cases := []struct {
		name    string
		def     AgentDefinition
		wantErr bool
	}{
		{"missing name", AgentDefinition{Type: AgentTypeFinalOutput}, true},
		{"unknown type", AgentDefinition{Name: "a", Type: "bogus"}, true},
		{"level out of range", AgentDefinition{Name: "a", Type: AgentTypeFinalOutput, Level: 9}, true},
		{"llm agent missing prompts", AgentDefinition{Name: "a", Type: AgentTypeLLMCallAgent, Level: 0}, true},
		{"valid final_output", AgentDefinition{Name: "a", Type: AgentTypeFinalOutput, Level: 1}, false},
		{"valid llm_call_agent", AgentDefinition{
			Name: "planner", Type: AgentTypeLLMCallAgent, Level: 0,
			Prompts: &Prompts{AgentResponsibility: "plans work", AgentWorkflow: "think then delegate"},
		}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.def.Validate()
			if tc.wantErr && err == nil {
				t.Fatal("expected error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestGeneralPrompts_Render(t *testing.T) {
	g := GeneralPrompts{SystemPromptXML: "<agent name=\"{agent_name}\"><responsibility>{agent_responsibility}</responsibility><workflow>{agent_workflow}</workflow></agent>"}
	def := &AgentDefinition{
		Name: "researcher",
		Prompts: &Prompts{
			AgentResponsibility: "gathers facts",
			AgentWorkflow:       "search, read, summarize",
		},
	}
	got := g.Render(def)
	want := `<agent name="researcher"><responsibility>gathers facts</responsibility><workflow>search, read, summarize</workflow></agent>`
	if got != want {
		t.Fatalf("Render() = %q, want %q", got, want)
	}
}

func TestGeneralPrompts_Render_NoPrompts(t *testing.T) {
	g := GeneralPrompts{SystemPromptXML: "<agent>{agent_name}</agent>"}
	def := &AgentDefinition{Name: "final"}
	got := g.Render(def)
	if got != "<agent>final</agent>" {
		t.Fatalf("Render() = %q", got)
	}
}

func TestAgentLibrary_LookupAndRootAgents(t *testing.T) {
	lib := &AgentLibrary{
		Agents: map[string]*AgentDefinition{
			"coordinator": {Name: "coordinator", Type: AgentTypeLLMCallAgent, Level: 2, AvailableTools: []string{"researcher", "file_read"}},
			"researcher":  {Name: "researcher", Type: AgentTypeLLMCallAgent, Level: 1, AvailableTools: []string{"file_read"}},
			"file_read":   {Name: "file_read", Type: AgentTypeToolCallAgent, Level: 0},
		},
	}
	if _, ok := lib.Lookup("missing"); ok {
		t.Error("expected missing agent to not be found")
	}
	d, ok := lib.Lookup("researcher")
	if !ok || d.Name != "researcher" {
		t.Errorf("expected to find researcher agent, got %+v ok=%v", d, ok)
	}

	// Only the agent nothing else lists as a tool is a root; neither the
	// sub-agent nor the leaf tool qualifies.
	roots := lib.RootAgents()
	if len(roots) != 1 || roots[0].Name != "coordinator" {
		t.Fatalf("expected coordinator as sole root agent, got %+v", roots)
	}
}
