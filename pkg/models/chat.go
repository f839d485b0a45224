package models

// ChatMessage is one turn in an LLM conversation, in the wire shape the LLM
// service expects.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Chat message roles.
const (
	ChatRoleSystem    = "system"
	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"
)

// AgentRole names an LLM persona. Each role resolves to a per-user
// (provider, model, temperature) assignment.
type AgentRole string

const (
	RoleIntent    AgentRole = "intent"
	RolePlanner   AgentRole = "planner"
	RoleArchitect AgentRole = "architect"
	RoleSequencer AgentRole = "sequencer"
	RoleCoder     AgentRole = "coder"
	RoleChat      AgentRole = "chat"
)

// AllAgentRoles is the closed set of roles the orchestrator uses.
var AllAgentRoles = []AgentRole{
	RoleIntent, RolePlanner, RoleArchitect, RoleSequencer, RoleCoder, RoleChat,
}

// RoleAssignment binds one agent role to a concrete model choice.
type RoleAssignment struct {
	Role        AgentRole `json:"role"`
	Provider    string    `json:"provider"`
	Model       string    `json:"model"`
	Temperature float64   `json:"temperature"`
}
