package store

import "testing"

func TestFileName(t *testing.T) {
	cases := []struct {
		kind    RecordKind
		agentID string
		want    string
		wantErr bool
	}{
		{KindContext, "", "fp_context.json", false},
		{KindStack, "", "fp_stack.json", false},
		{KindActions, "a1", "fp_a1_actions.json", false},
		{KindActions, "", "", true},
		{KindLatestOutput, "a1", "fp_a1_latest_output.json", false},
		{KindLatestOutput, "", "", true},
		{RecordKind("bogus"), "", "", true},
	}
	for _, tc := range cases {
		got, err := FileName("fp", tc.kind, tc.agentID)
		if tc.wantErr {
			if err == nil {
				t.Errorf("kind=%v agentID=%q: expected error", tc.kind, tc.agentID)
			}
			continue
		}
		if err != nil {
			t.Errorf("kind=%v agentID=%q: unexpected error: %v", tc.kind, tc.agentID, err)
		}
		if got != tc.want {
			t.Errorf("kind=%v agentID=%q: got %q, want %q", tc.kind, tc.agentID, got, tc.want)
		}
	}
}
