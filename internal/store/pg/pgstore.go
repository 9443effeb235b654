// Package pg implements the persistence interfaces over Postgres using the
// pgx stdlib driver. Atomic batches map onto a single database transaction.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"incidentry.org/internal/auth"
	"incidentry.org/internal/incident"
	"incidentry.org/internal/org"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

var (
	_ org.Store          = (*Store)(nil)
	_ incident.Store     = (*Store)(nil)
	_ auth.UserDirectory = (*Store)(nil)
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store executes statements against either the pool or an open transaction.
type Store struct {
	db   *sql.DB
	q    querier
	inTx bool
}

// Open connects to Postgres with pool settings tuned for a small API fleet.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db, q: db}, nil
}

// NewWithDB wraps an existing connection (used by sqlmock tests).
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db, q: db}
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the pool for readiness probes.
func (s *Store) DB() *sql.DB { return s.db }

// Atomic runs fn inside a single transaction. A nested call joins the outer
// transaction instead of opening a second one.
func (s *Store) Atomic(ctx context.Context, fn func(org.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	txStore := &Store{db: s.db, q: tx, inTx: true}
	if err := fn(txStore); err != nil {
		return err
	}
	return tx.Commit()
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// mapWriteError converts driver constraint violations into domain errors.
func mapWriteError(err error) error {
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return auth.ErrConflict
		case pgErrForeignKeyViolation:
			return auth.ErrNotFound
		}
	}
	return err
}
