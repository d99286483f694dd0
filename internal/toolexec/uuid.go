package toolexec

import "github.com/google/uuid"

// AugmentTaskInput appends a ` [call-<hex8>]` suffix to a sub-agent's
// task_input. The Agent Executor applies it to non-leaf (level != 0)
// llm_call_agent calls before the pending tool is checkpointed, so the
// persisted history and the invocation carry the same marker. This defeats
// prompt caching across sibling sub-agent invocations that would otherwise
// share an identical task_input string.
func AugmentTaskInput(taskInput string) string {
	return taskInput + " [call-" + uuid.NewString()[:8] + "]"
}
