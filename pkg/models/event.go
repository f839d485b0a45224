package models

// Event is the unified payload pushed to clients over the notification bus.
// Every event carries a Type discriminator plus the fields that type uses;
// clients must tolerate unknown types for forward compatibility.
type Event struct {
	Type EventType `json:"type"`

	// Status is the agent activity indicator ("thinking", "idle").
	Status string `json:"status,omitempty"`

	// Content carries the text of aura_response, system_log and phase events.
	Content string `json:"content,omitempty"`

	// IsError flags system_log entries that describe failures.
	IsError bool `json:"is_error,omitempty"`

	// FilePath and Chunk carry streamed code for code_stream_chunk events.
	FilePath string `json:"file_path,omitempty"`
	Chunk    string `json:"chunk,omitempty"`

	// TaskID identifies the task now being executed (active_task_updated).
	TaskID uint32 `json:"task_id,omitempty"`

	// Tasks is the full task list snapshot (mission_log_updated).
	Tasks []Task `json:"tasks,omitempty"`

	// Reason explains a mission_failure.
	Reason string `json:"reason,omitempty"`

	// Tree is the workspace listing for file_tree_updated events.
	Tree []FileNode `json:"tree,omitempty"`

	// WidgetID correlates tool_call_initiated with tool_call_completed.
	WidgetID string `json:"widget_id,omitempty"`

	// ToolName and Params describe the invocation (tool_call_initiated).
	ToolName string         `json:"tool_name,omitempty"`
	Params   map[string]any `json:"params,omitempty"`

	// CallStatus and Result describe the outcome (tool_call_completed).
	CallStatus string `json:"status_detail,omitempty"`
	Result     string `json:"result,omitempty"`

	// Question is a clarifying question awaiting a user reply.
	Question string `json:"question,omitempty"`
}

// EventType identifies the kind of client event.
type EventType string

const (
	EventAgentStatus       EventType = "agent_status"
	EventAuraResponse      EventType = "aura_response"
	EventSystemLog         EventType = "system_log"
	EventPhase             EventType = "phase"
	EventChunk             EventType = "chunk"
	EventCodeStreamChunk   EventType = "code_stream_chunk"
	EventActiveTaskUpdated EventType = "active_task_updated"
	EventMissionLogUpdated EventType = "mission_log_updated"
	EventMissionSuccess    EventType = "mission_success"
	EventMissionFailure    EventType = "mission_failure"
	EventFileTreeUpdated   EventType = "file_tree_updated"
	EventToolCallInitiated EventType = "tool_call_initiated"
	EventToolCallCompleted EventType = "tool_call_completed"
	EventUserInputRequest  EventType = "user_input_request"
)

// Agent status values.
const (
	StatusThinking = "thinking"
	StatusIdle     = "idle"
)

// AgentStatus reports whether the agent is thinking or idle.
func AgentStatus(status string) Event {
	return Event{Type: EventAgentStatus, Status: status}
}

// AuraResponse is a conversational reply shown to the user.
func AuraResponse(content string) Event {
	return Event{Type: EventAuraResponse, Content: content}
}

// SystemLog is an operational log line surfaced in the client.
func SystemLog(content string, isError bool) Event {
	return Event{Type: EventSystemLog, Content: content, IsError: isError}
}

// Phase marks planner progress while a structured document is generated.
func Phase(content string) Event {
	return Event{Type: EventPhase, Content: content}
}

// StreamChunk is a raw model text fragment not tied to a file. Tagged
// streams use CodeStreamChunk instead.
func StreamChunk(content string) Event {
	return Event{Type: EventChunk, Content: content}
}

// CodeStreamChunk carries one fragment of generated code for a file.
func CodeStreamChunk(filePath, chunk string) Event {
	return Event{Type: EventCodeStreamChunk, FilePath: filePath, Chunk: chunk}
}

// ActiveTaskUpdated tells clients which task the conductor is on.
func ActiveTaskUpdated(taskID uint32) Event {
	return Event{Type: EventActiveTaskUpdated, TaskID: taskID}
}

// MissionLogUpdated publishes a snapshot of the full task list.
func MissionLogUpdated(tasks []Task) Event {
	return Event{Type: EventMissionLogUpdated, Tasks: tasks}
}

// MissionSuccess is the terminal success marker.
func MissionSuccess() Event {
	return Event{Type: EventMissionSuccess}
}

// MissionFailure is the terminal failure marker.
func MissionFailure(reason string) Event {
	return Event{Type: EventMissionFailure, Reason: reason}
}

// FileTreeUpdated publishes the workspace listing after a mutation.
func FileTreeUpdated(tree []FileNode) Event {
	return Event{Type: EventFileTreeUpdated, Tree: tree}
}

// ToolCallInitiated announces a tool invocation before it runs.
func ToolCallInitiated(widgetID, toolName string, params map[string]any) Event {
	return Event{Type: EventToolCallInitiated, WidgetID: widgetID, ToolName: toolName, Params: params}
}

// ToolCallCompleted reports the classified outcome of a tool invocation.
func ToolCallCompleted(widgetID, status, result string) Event {
	return Event{Type: EventToolCallCompleted, WidgetID: widgetID, CallStatus: status, Result: result}
}

// UserInputRequest asks the user a clarifying question.
func UserInputRequest(widgetID, question string) Event {
	return Event{Type: EventUserInputRequest, WidgetID: widgetID, Question: question}
}
