// Package store persists user accounts, encrypted provider credentials and
// per-role model assignments. Two backends share one interface: SQLite for
// single-node deployments and PostgreSQL for shared ones.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/aura-dev/aura/pkg/models"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrEmailTaken is returned when registering an email that already exists.
	ErrEmailTaken = errors.New("email already registered")
)

// UserRecord is a stored user account. PasswordHash never leaves this layer
// except for verification at login.
type UserRecord struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	CreatedAt    time.Time
}

// User converts the record to its API-facing shape.
func (u *UserRecord) User() *models.User {
	return &models.User{ID: u.ID, Email: u.Email, Name: u.Name, CreatedAt: u.CreatedAt}
}

// Store is the persistence interface for accounts and their settings.
type Store interface {
	// CreateUser inserts a new account. Returns ErrEmailTaken when the
	// email is already registered.
	CreateUser(ctx context.Context, user *UserRecord) error

	// UserByEmail looks an account up for login.
	UserByEmail(ctx context.Context, email string) (*UserRecord, error)

	// UserByID resolves the account behind a token subject.
	UserByID(ctx context.Context, id string) (*UserRecord, error)

	// UpsertCredential stores the encrypted API key for one provider,
	// replacing any previous value.
	UpsertCredential(ctx context.Context, userID, provider, encryptedKey string) error

	// Credential returns the encrypted API key for one provider.
	Credential(ctx context.Context, userID, provider string) (string, error)

	// Providers lists the provider names the user has keys for.
	Providers(ctx context.Context, userID string) ([]string, error)

	// UpsertAssignment stores which provider/model serves one agent role.
	UpsertAssignment(ctx context.Context, userID string, assignment models.RoleAssignment) error

	// Assignments returns all role assignments of a user.
	Assignments(ctx context.Context, userID string) ([]models.RoleAssignment, error)

	// Migrate creates or updates the schema. Idempotent.
	Migrate(ctx context.Context) error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// Options tunes the connection pool.
type Options struct {
	MaxConnections  int
	ConnMaxLifetime time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxConnections <= 0 {
		o.MaxConnections = 25
	}
	if o.ConnMaxLifetime <= 0 {
		o.ConnMaxLifetime = 5 * time.Minute
	}
	return o
}

// Open picks the backend from the database URL: postgres:// URLs get the
// PostgreSQL store, anything else is treated as a SQLite file path.
func Open(databaseURL string, opts Options) (Store, error) {
	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		return NewPostgresStore(databaseURL, opts)
	}
	return NewSQLiteStore(databaseURL, opts)
}
