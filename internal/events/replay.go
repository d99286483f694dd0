package events

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/taskmesh/mla/pkg/models"
)

// Replay decodes a JSONL event log (as written by WriterSink) back into an
// ordered slice of events, for `mla inspect <task>` (a supplemented feature:
// the State Cleaner's own persisted state has no timeline, only final
// status, so reconstructing one for a human reader means re-reading the
// event stream the task already wrote). Malformed lines are skipped rather
// than aborting the whole replay, since a truncated trailing line (the
// process was killed mid-write) shouldn't hide everything before it.
func Replay(r io.Reader) ([]models.Event, error) {
	var out []models.Event
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var ev models.Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			continue
		}
		out = append(out, ev)
	}
	if err := scanner.Err(); err != nil {
		return out, fmt.Errorf("events: replay: %w", err)
	}
	return out, nil
}

// Timeline renders a replayed event log as a human-readable, one-line-per-
// event summary, in the order the events were recorded.
func Timeline(events []models.Event) string {
	var sb strings.Builder
	for _, e := range events {
		sb.WriteString(e.Time.Format(time.RFC3339))
		sb.WriteString(" ")
		sb.WriteString(string(e.Type))
		if e.Agent != "" {
			sb.WriteString(" agent=")
			sb.WriteString(e.Agent)
		}
		if e.ToolName != "" {
			sb.WriteString(" tool=")
			sb.WriteString(e.ToolName)
		}
		if e.Status != "" {
			sb.WriteString(" status=")
			sb.WriteString(e.Status)
		}
		if e.Text != "" {
			sb.WriteString(": ")
			sb.WriteString(e.Text)
		}
		if e.Summary != "" {
			sb.WriteString(": ")
			sb.WriteString(e.Summary)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
