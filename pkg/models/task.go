// Package models provides domain types shared across the Aura mission
// orchestrator: mission tasks, client events, users and role assignments.
package models

// Task is one unit of work in a mission log. A task moves from pending to
// done, or is replaced wholesale by a replan.
type Task struct {
	// ID is monotonic within a mission, starting at 1. IDs are never reused,
	// even after a replan truncates the tail of the log.
	ID uint32 `json:"id"`

	// Description is the human-readable task sentence produced by the
	// sequencer (or replanner).
	Description string `json:"description"`

	// Done marks completed tasks. Completed tasks are never revisited.
	Done bool `json:"done"`

	// ToolCall is set only for pre-canned tasks (e.g. the initial project
	// index). For everything else the conductor synthesizes an invocation at
	// execution time.
	ToolCall *ToolInvocation `json:"tool_call,omitempty"`

	// LastError holds the most recent failure message for this task. Cleared
	// when the task succeeds.
	LastError string `json:"last_error,omitempty"`
}

// ToolInvocation names a catalog tool and the arguments to call it with.
type ToolInvocation struct {
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments"`
}

// CloneTasks returns a deep copy of a task slice. Mission log readers work
// on snapshots so the single writer can keep mutating.
func CloneTasks(tasks []Task) []Task {
	if tasks == nil {
		return nil
	}
	out := make([]Task, len(tasks))
	copy(out, tasks)
	for i := range out {
		if tasks[i].ToolCall != nil {
			tc := ToolInvocation{ToolName: tasks[i].ToolCall.ToolName}
			if tasks[i].ToolCall.Arguments != nil {
				tc.Arguments = make(map[string]any, len(tasks[i].ToolCall.Arguments))
				for k, v := range tasks[i].ToolCall.Arguments {
					tc.Arguments[k] = v
				}
			}
			out[i].ToolCall = &tc
		}
	}
	return out
}
