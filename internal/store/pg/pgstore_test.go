package pg

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"incidentry.org/internal/auth"
	"incidentry.org/internal/org"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(db), mock
}

func userRow(id string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "external_subject_id", "email", "role", "organization_id", "status", "created_at", "updated_at",
	}).AddRow(id, "sub-"+id, id+"@example.com", "editor", "org1", "active", now, now)
}

func TestGetUserNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`select id, external_subject_id, email, role, organization_id, status, created_at, updated_at from users where id = $1`)).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	if _, err := s.GetUser(context.Background(), "missing"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateUserUniqueViolationMapsToConflict(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`insert into users`)).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	_, err := s.CreateUser(context.Background(), auth.User{
		ID: "u1", ExternalSubjectID: "sub-1", Email: "u1@example.com",
		Role: auth.RoleUnassigned, Status: auth.UserStatusActive,
	})
	if !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateUserBuildsPartialSet(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta(`update users set role = $1, organization_id = $2, updated_at = now() where id = $3`)).
		WithArgs("admin", "org1", "u1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`select id, external_subject_id, email, role, organization_id, status, created_at, updated_at from users where id = $1`)).
		WithArgs("u1").
		WillReturnRows(userRow("u1"))

	role := auth.RoleAdmin
	orgID := "org1"
	if _, err := s.UpdateUser(context.Background(), "u1", org.UserUpdate{Role: &role, OrganizationID: &orgID}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateUserZeroRowsIsNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta(`update users set email = $1, updated_at = now() where id = $2`)).
		WithArgs("new@example.com", "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	email := "new@example.com"
	if _, err := s.UpdateUser(context.Background(), "missing", org.UserUpdate{Email: &email}); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDeleteOrganizationZeroRowsIsNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta(`delete from organizations where id = $1`)).
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.DeleteOrganization(context.Background(), "missing"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetOrganizationDecodesSoftware(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta(`select id, name, status, industry, nationality, software, created_at, updated_at`)).
		WithArgs("org1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "name", "status", "industry", "nationality", "software", "created_at", "updated_at",
		}).AddRow("org1", "Org", "active", "finance", "DE", []byte(`["nginx","postgres"]`), now, now))

	o, err := s.GetOrganization(context.Background(), "org1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(o.Software) != 2 || o.Software[0] != "nginx" {
		t.Fatalf("software = %v", o.Software)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAtomicCommitsTransaction(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`delete from users where id = $1`)).
		WithArgs("u1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.Atomic(context.Background(), func(tx org.Store) error {
		return tx.DeleteUser(context.Background(), "u1")
	})
	if err != nil {
		t.Fatalf("atomic: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAtomicRollsBackOnError(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`delete from users where id = $1`)).
		WithArgs("u1").
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := s.Atomic(context.Background(), func(tx org.Store) error {
		return tx.DeleteUser(context.Background(), "u1")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
