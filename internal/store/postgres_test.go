package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/aura-dev/aura/pkg/models"
)

// preparedMocks holds the prepare expectations in the order the store
// creates them, so tests can attach exec/query expectations.
type preparedMocks struct {
	createUser       *sqlmock.ExpectedPrepare
	userByEmail      *sqlmock.ExpectedPrepare
	userByID         *sqlmock.ExpectedPrepare
	upsertCredential *sqlmock.ExpectedPrepare
	credential       *sqlmock.ExpectedPrepare
	providers        *sqlmock.ExpectedPrepare
	upsertAssignment *sqlmock.ExpectedPrepare
	assignments      *sqlmock.ExpectedPrepare
}

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock, *preparedMocks) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}

	prepared := &preparedMocks{
		createUser:       mock.ExpectPrepare("INSERT INTO users"),
		userByEmail:      mock.ExpectPrepare("SELECT (.+) FROM users WHERE email"),
		userByID:         mock.ExpectPrepare("SELECT (.+) FROM users WHERE id"),
		upsertCredential: mock.ExpectPrepare("INSERT INTO provider_credentials"),
		credential:       mock.ExpectPrepare("SELECT encrypted_key FROM provider_credentials"),
		providers:        mock.ExpectPrepare("SELECT provider_name FROM provider_credentials"),
		upsertAssignment: mock.ExpectPrepare("INSERT INTO role_assignments"),
		assignments:      mock.ExpectPrepare("SELECT (.+) FROM role_assignments"),
	}

	s, err := NewPostgresStoreWithDB(db)
	if err != nil {
		t.Fatalf("NewPostgresStoreWithDB: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return s, mock, prepared
}

func TestPostgresCreateUser(t *testing.T) {
	s, mock, prepared := newMockStore(t)

	prepared.createUser.ExpectExec().
		WithArgs("user-1", "alice@example.com", "Alice", "hash", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.CreateUser(context.Background(), &UserRecord{
		ID:           "user-1",
		Email:        "alice@example.com",
		Name:         "Alice",
		PasswordHash: "hash",
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgresCreateUserDuplicateEmail(t *testing.T) {
	s, _, prepared := newMockStore(t)

	prepared.createUser.ExpectExec().
		WithArgs("user-2", "alice@example.com", "", "hash", sqlmock.AnyArg()).
		WillReturnError(&pq.Error{Code: pq.ErrorCode(uniqueViolation)})

	err := s.CreateUser(context.Background(), &UserRecord{
		ID:           "user-2",
		Email:        "alice@example.com",
		PasswordHash: "hash",
		CreatedAt:    time.Now().UTC(),
	})
	if !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestPostgresUserByEmail(t *testing.T) {
	s, _, prepared := newMockStore(t)
	created := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)

	prepared.userByEmail.ExpectQuery().
		WithArgs("alice@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "name", "password_hash", "created_at"}).
			AddRow("user-1", "alice@example.com", "Alice", "hash", created))

	user, err := s.UserByEmail(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("UserByEmail: %v", err)
	}
	if user.ID != "user-1" || user.Name != "Alice" || !user.CreatedAt.Equal(created) {
		t.Errorf("unexpected record: %+v", user)
	}
}

func TestPostgresUserByIDNotFound(t *testing.T) {
	s, _, prepared := newMockStore(t)

	prepared.userByID.ExpectQuery().
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	if _, err := s.UserByID(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresCredentialRoundTrip(t *testing.T) {
	s, _, prepared := newMockStore(t)
	ctx := context.Background()

	prepared.upsertCredential.ExpectExec().
		WithArgs("user-1", "openai", "encrypted").
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := s.UpsertCredential(ctx, "user-1", "openai", "encrypted"); err != nil {
		t.Fatalf("UpsertCredential: %v", err)
	}

	prepared.credential.ExpectQuery().
		WithArgs("user-1", "openai").
		WillReturnRows(sqlmock.NewRows([]string{"encrypted_key"}).AddRow("encrypted"))
	key, err := s.Credential(ctx, "user-1", "openai")
	if err != nil {
		t.Fatalf("Credential: %v", err)
	}
	if key != "encrypted" {
		t.Errorf("key = %q", key)
	}

	prepared.credential.ExpectQuery().
		WithArgs("user-1", "google").
		WillReturnError(sql.ErrNoRows)
	if _, err := s.Credential(ctx, "user-1", "google"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresAssignments(t *testing.T) {
	s, mock, prepared := newMockStore(t)
	ctx := context.Background()

	prepared.upsertAssignment.ExpectExec().
		WithArgs("user-1", "coder", "openai", "gpt-4o", 0.2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	err := s.UpsertAssignment(ctx, "user-1", models.RoleAssignment{
		Role: models.RoleCoder, Provider: "openai", Model: "gpt-4o", Temperature: 0.2,
	})
	if err != nil {
		t.Fatalf("UpsertAssignment: %v", err)
	}

	prepared.assignments.ExpectQuery().
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"role", "provider_name", "model_name", "temperature"}).
			AddRow("coder", "openai", "gpt-4o", 0.2).
			AddRow("chat", "anthropic", "claude-sonnet-4-0", 0.7))

	assignments, err := s.Assignments(ctx, "user-1")
	if err != nil {
		t.Fatalf("Assignments: %v", err)
	}
	if len(assignments) != 2 {
		t.Fatalf("got %d assignments", len(assignments))
	}
	if assignments[0].Role != models.RoleCoder || assignments[1].Provider != "anthropic" {
		t.Errorf("unexpected assignments: %+v", assignments)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
