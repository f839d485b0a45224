package models

import (
	"context"
	"time"
)

// User is an authenticated account. Workspaces, credentials and role
// assignments are all keyed by the user ID.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// CredentialLookup resolves the plaintext API key for a provider, or an
// error when the user has not configured one.
type CredentialLookup func(ctx context.Context, provider string) (string, error)

// UserContext carries everything a mission needs about its owner: identity,
// the active project root, which model serves each agent role, and how to
// fetch provider credentials. It is assembled per request or per background
// job and never persisted.
type UserContext struct {
	UserID      string
	ProjectRoot string
	Assignments map[AgentRole]RoleAssignment
	Credentials CredentialLookup
}
