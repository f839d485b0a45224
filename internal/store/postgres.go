package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/aura-dev/aura/pkg/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	email         TEXT NOT NULL UNIQUE,
	name          TEXT NOT NULL DEFAULT '',
	password_hash TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS provider_credentials (
	user_id       TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	provider_name TEXT NOT NULL,
	encrypted_key TEXT NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (user_id, provider_name)
);

CREATE TABLE IF NOT EXISTS role_assignments (
	user_id       TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	role          TEXT NOT NULL,
	provider_name TEXT NOT NULL,
	model_name    TEXT NOT NULL,
	temperature   DOUBLE PRECISION NOT NULL DEFAULT 0.7,
	PRIMARY KEY (user_id, role)
);
`

// uniqueViolation is the PostgreSQL error code for duplicate keys.
const uniqueViolation = "23505"

// PostgresStore keeps accounts in PostgreSQL for multi-node deployments.
type PostgresStore struct {
	db *sql.DB

	// Prepared statements for the hot paths.
	stmtCreateUser       *sql.Stmt
	stmtUserByEmail      *sql.Stmt
	stmtUserByID         *sql.Stmt
	stmtUpsertCredential *sql.Stmt
	stmtCredential       *sql.Stmt
	stmtProviders        *sql.Stmt
	stmtUpsertAssignment *sql.Stmt
	stmtAssignments      *sql.Stmt
}

// NewPostgresStore connects with the given URL, applies the schema and
// prepares statements.
func NewPostgresStore(databaseURL string, opts Options) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres database: %w", err)
	}

	opts = opts.withDefaults()
	db.SetMaxOpenConns(opts.MaxConnections)
	db.SetMaxIdleConns(opts.MaxConnections / 5)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres database: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStoreWithDB wraps an existing connection. The schema is assumed
// to exist; tests use this with a mock driver.
func NewPostgresStoreWithDB(db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db}
	if err := s.prepareStatements(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) prepareStatements() error {
	var err error

	s.stmtCreateUser, err = s.db.Prepare(`
		INSERT INTO users (id, email, name, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`)
	if err != nil {
		return fmt.Errorf("prepare create user: %w", err)
	}

	s.stmtUserByEmail, err = s.db.Prepare(`
		SELECT id, email, name, password_hash, created_at
		FROM users WHERE email = $1
	`)
	if err != nil {
		return fmt.Errorf("prepare user by email: %w", err)
	}

	s.stmtUserByID, err = s.db.Prepare(`
		SELECT id, email, name, password_hash, created_at
		FROM users WHERE id = $1
	`)
	if err != nil {
		return fmt.Errorf("prepare user by id: %w", err)
	}

	s.stmtUpsertCredential, err = s.db.Prepare(`
		INSERT INTO provider_credentials (user_id, provider_name, encrypted_key, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id, provider_name)
		DO UPDATE SET encrypted_key = excluded.encrypted_key, updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("prepare upsert credential: %w", err)
	}

	s.stmtCredential, err = s.db.Prepare(`
		SELECT encrypted_key FROM provider_credentials
		WHERE user_id = $1 AND provider_name = $2
	`)
	if err != nil {
		return fmt.Errorf("prepare credential: %w", err)
	}

	s.stmtProviders, err = s.db.Prepare(`
		SELECT provider_name FROM provider_credentials
		WHERE user_id = $1 ORDER BY provider_name
	`)
	if err != nil {
		return fmt.Errorf("prepare providers: %w", err)
	}

	s.stmtUpsertAssignment, err = s.db.Prepare(`
		INSERT INTO role_assignments (user_id, role, provider_name, model_name, temperature)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, role)
		DO UPDATE SET provider_name = excluded.provider_name,
		              model_name = excluded.model_name,
		              temperature = excluded.temperature
	`)
	if err != nil {
		return fmt.Errorf("prepare upsert assignment: %w", err)
	}

	s.stmtAssignments, err = s.db.Prepare(`
		SELECT role, provider_name, model_name, temperature
		FROM role_assignments WHERE user_id = $1 ORDER BY role
	`)
	if err != nil {
		return fmt.Errorf("prepare assignments: %w", err)
	}

	return nil
}

// Migrate creates the schema. Idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, postgresSchema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// CreateUser inserts a new account.
func (s *PostgresStore) CreateUser(ctx context.Context, user *UserRecord) error {
	_, err := s.stmtCreateUser.ExecContext(ctx,
		user.ID, user.Email, user.Name, user.PasswordHash, user.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return ErrEmailTaken
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// UserByEmail looks an account up for login.
func (s *PostgresStore) UserByEmail(ctx context.Context, email string) (*UserRecord, error) {
	return scanUser(s.stmtUserByEmail.QueryRowContext(ctx, email))
}

// UserByID resolves the account behind a token subject.
func (s *PostgresStore) UserByID(ctx context.Context, id string) (*UserRecord, error) {
	return scanUser(s.stmtUserByID.QueryRowContext(ctx, id))
}

// UpsertCredential stores the encrypted API key for one provider.
func (s *PostgresStore) UpsertCredential(ctx context.Context, userID, provider, encryptedKey string) error {
	if _, err := s.stmtUpsertCredential.ExecContext(ctx, userID, provider, encryptedKey); err != nil {
		return fmt.Errorf("upsert credential: %w", err)
	}
	return nil
}

// Credential returns the encrypted API key for one provider.
func (s *PostgresStore) Credential(ctx context.Context, userID, provider string) (string, error) {
	var key string
	err := s.stmtCredential.QueryRowContext(ctx, userID, provider).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("select credential: %w", err)
	}
	return key, nil
}

// Providers lists the provider names the user has keys for.
func (s *PostgresStore) Providers(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.stmtProviders.QueryContext(ctx, userID)
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
func (s *PostgresStore) UpsertAssignment(ctx context.Context, userID string, assignment models.RoleAssignment) error {
	_, err := s.stmtUpsertAssignment.ExecContext(ctx,
		userID, string(assignment.Role), assignment.Provider, assignment.Model, assignment.Temperature)
	if err != nil {
		return fmt.Errorf("upsert assignment: %w", err)
	}
	return nil
}

// Assignments returns all role assignments of a user.
func (s *PostgresStore) Assignments(ctx context.Context, userID string) ([]models.RoleAssignment, error) {
	rows, err := s.stmtAssignments.QueryContext(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("select assignments: %w", err)
	}
	defer rows.Close()
	return scanAssignments(rows)
}

// Ping verifies the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the prepared statements and the connection pool.
func (s *PostgresStore) Close() error {
	var errs []error
	for _, stmt := range []*sql.Stmt{
		s.stmtCreateUser, s.stmtUserByEmail, s.stmtUserByID,
		s.stmtUpsertCredential, s.stmtCredential, s.stmtProviders,
		s.stmtUpsertAssignment, s.stmtAssignments,
	} {
		if stmt != nil {
			if err := stmt.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing store: %v", errs)
	}
	return nil
}
