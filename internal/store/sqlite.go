package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/aura-dev/aura/pkg/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	email         TEXT NOT NULL UNIQUE,
	name          TEXT NOT NULL DEFAULT '',
	password_hash TEXT NOT NULL,
	created_at    TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS provider_credentials (
	user_id       TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	provider_name TEXT NOT NULL,
	encrypted_key TEXT NOT NULL,
	updated_at    TIMESTAMP NOT NULL,
	PRIMARY KEY (user_id, provider_name)
);

CREATE TABLE IF NOT EXISTS role_assignments (
	user_id       TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	role          TEXT NOT NULL,
	provider_name TEXT NOT NULL,
	model_name    TEXT NOT NULL,
	temperature   REAL NOT NULL DEFAULT 0.7,
	PRIMARY KEY (user_id, role)
);
`

// SQLiteStore keeps accounts in a local SQLite file. The default backend;
// nothing to operate, good for a single node.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and creates, if needed) the database at path.
// Use ":memory:" for an ephemeral store.
func NewSQLiteStore(path string, opts Options) (*SQLiteStore, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	// WAL lets readers proceed while a mission writes; the busy timeout
	// covers the writer handoff.
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %s: %w", pragma, err)
		}
	}

	opts = opts.withDefaults()
	if path == ":memory:" {
		// Every pooled connection would otherwise see its own database.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(opts.MaxConnections)
	}
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)

	s := &SQLiteStore{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the schema. Idempotent.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// CreateUser inserts a new account.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *UserRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, name, password_hash, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		user.ID, user.Email, user.Name, user.PasswordHash, user.CreatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return ErrEmailTaken
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// UserByEmail looks an account up for login.
func (s *SQLiteStore) UserByEmail(ctx context.Context, email string) (*UserRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, email, name, password_hash, created_at
		FROM users WHERE email = ?`, email)
	return scanUser(row)
}

// UserByID resolves the account behind a token subject.
func (s *SQLiteStore) UserByID(ctx context.Context, id string) (*UserRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, email, name, password_hash, created_at
		FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// UpsertCredential stores the encrypted API key for one provider.
func (s *SQLiteStore) UpsertCredential(ctx context.Context, userID, provider, encryptedKey string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO provider_credentials (user_id, provider_name, encrypted_key, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (user_id, provider_name)
		DO UPDATE SET encrypted_key = excluded.encrypted_key, updated_at = excluded.updated_at`,
		userID, provider, encryptedKey,
	)
	if err != nil {
		return fmt.Errorf("upsert credential: %w", err)
	}
	return nil
}

// Credential returns the encrypted API key for one provider.
func (s *SQLiteStore) Credential(ctx context.Context, userID, provider string) (string, error) {
	var key string
	err := s.db.QueryRowContext(ctx, `
		SELECT encrypted_key FROM provider_credentials
		WHERE user_id = ? AND provider_name = ?`, userID, provider).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("select credential: %w", err)
	}
	return key, nil
}

// Providers lists the provider names the user has keys for.
func (s *SQLiteStore) Providers(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT provider_name FROM provider_credentials
		WHERE user_id = ? ORDER BY provider_name`, userID)
	if err != nil {
		return nil, fmt.Errorf("select providers: %w", err)
	}
	defer rows.Close()

	var providers []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		providers = append(providers, name)
	}
	return providers, rows.Err()
}

// UpsertAssignment stores which provider/model serves one agent role.
func (s *SQLiteStore) UpsertAssignment(ctx context.Context, userID string, assignment models.RoleAssignment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO role_assignments (user_id, role, provider_name, model_name, temperature)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, role)
		DO UPDATE SET provider_name = excluded.provider_name,
		              model_name = excluded.model_name,
		              temperature = excluded.temperature`,
		userID, string(assignment.Role), assignment.Provider, assignment.Model, assignment.Temperature,
	)
	if err != nil {
		return fmt.Errorf("upsert assignment: %w", err)
	}
	return nil
}

// Assignments returns all role assignments of a user.
func (s *SQLiteStore) Assignments(ctx context.Context, userID string) ([]models.RoleAssignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, provider_name, model_name, temperature
		FROM role_assignments WHERE user_id = ? ORDER BY role`, userID)
	if err != nil {
		return nil, fmt.Errorf("select assignments: %w", err)
	}
	defer rows.Close()
	return scanAssignments(rows)
}

// Ping verifies the database file is usable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanUser(row *sql.Row) (*UserRecord, error) {
	var user UserRecord
	err := row.Scan(&user.ID, &user.Email, &user.Name, &user.PasswordHash, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &user, nil
}

func scanAssignments(rows *sql.Rows) ([]models.RoleAssignment, error) {
	var assignments []models.RoleAssignment
	for rows.Next() {
		var a models.RoleAssignment
		var role string
		if err := rows.Scan(&role, &a.Provider, &a.Model, &a.Temperature); err != nil {
			return nil, err
		}
		a.Role = models.AgentRole(role)
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}
