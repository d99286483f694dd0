package models

import "time"

// Instruction is a single user request handed to a root agent.
// It is created when a user turn begins and closed out when the root agent
// finishes.
type Instruction struct {
	ID             string    `json:"id"`
	Text           string    `json:"text"`
	StartTime      time.Time `json:"start_time"`
	CompletionTime time.Time `json:"completion_time,omitempty"`
}

// Done reports whether the root agent for this instruction has finished.
func (i *Instruction) Done() bool {
	return !i.CompletionTime.IsZero()
}
