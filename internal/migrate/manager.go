// Package migrate applies ordered SQL migration files against postgres.
// Files are named NNNN_description.up.sql with a matching .down.sql; applied
// names are recorded in a bookkeeping table so Up is idempotent.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const defaultTable = "schema_migrations"

// Manager runs migrations from a directory of SQL files.
type Manager struct {
	db    *sql.DB
	dir   string
	table string
}

// Option configures a Manager.
type Option func(*Manager)

// WithTable overrides the bookkeeping table name.
func WithTable(name string) Option {
	return func(m *Manager) {
		if strings.TrimSpace(name) != "" {
			m.table = name
		}
	}
}

// NewManager constructs a Manager for the given migrations directory.
func NewManager(db *sql.DB, dir string, opts ...Option) *Manager {
	m := &Manager{db: db, dir: dir, table: defaultTable}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Up applies every pending .up.sql file in lexical order. Each file runs in
// its own transaction together with its bookkeeping row.
func (m *Manager) Up(ctx context.Context) error {
	if err := m.ensureTable(ctx); err != nil {
		return err
	}
	applied, err := m.appliedSet(ctx)
	if err != nil {
		return err
	}
	files, err := m.collect(".up.sql")
	if err != nil {
		return err
	}
	for _, name := range files {
		if applied[name] {
			continue
		}
		if err := m.apply(ctx, name, true); err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
	}
	return nil
}

// Down rolls back the most recently applied migration.
func (m *Manager) Down(ctx context.Context) error {
	if err := m.ensureTable(ctx); err != nil {
		return err
	}
	history, err := m.Status(ctx)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		return errors.New("migrate: nothing to roll back")
	}
	last := history[len(history)-1]
	down := strings.TrimSuffix(last, ".up.sql") + ".down.sql"
	if _, err := os.Stat(filepath.Join(m.dir, down)); err != nil {
		return fmt.Errorf("migrate: %s has no down file", last)
	}
	if err := m.apply(ctx, down, false); err != nil {
		return fmt.Errorf("rollback %s: %w", last, err)
	}
	return nil
}

// Status returns applied migration names in application order.
func (m *Manager) Status(ctx context.Context) ([]string, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	rows, err := m.db.QueryContext(ctx,
		fmt.Sprintf(`select name from %s order by applied_at asc, name asc`, m.table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (m *Manager) ensureTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, fmt.Sprintf(`
		create table if not exists %s (
			name text primary key,
			applied_at timestamptz not null default now()
		)`, m.table))
	return err
}

func (m *Manager) appliedSet(ctx context.Context) (map[string]bool, error) {
	names, err := m.Status(ctx)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set, nil
}

// apply executes one SQL file inside a transaction. For up files the
// bookkeeping row is inserted in the same transaction; for down files the
// matching up row is deleted.
func (m *Manager) apply(ctx context.Context, name string, up bool) error {
	raw, err := os.ReadFile(filepath.Join(m.dir, name))
	if err != nil {
		return err
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range splitStatements(string(raw)) {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if up {
		_, err = tx.ExecContext(ctx,
			fmt.Sprintf(`insert into %s(name) values ($1)`, m.table), name)
	} else {
		upName := strings.TrimSuffix(name, ".down.sql") + ".up.sql"
		_, err = tx.ExecContext(ctx,
			fmt.Sprintf(`delete from %s where name = $1`, m.table), upName)
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (m *Manager) collect(suffix string) ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// splitStatements splits a file into semicolon-terminated statements,
// ignoring semicolons inside single-quoted strings.
func splitStatements(src string) []string {
	var stmts []string
	var cur strings.Builder
	inString := false
	for _, r := range src {
		cur.WriteRune(r)
		switch r {
		case '\'':
			inString = !inString
		case ';':
			if !inString {
				stmts = append(stmts, cur.String())
				cur.Reset()
			}
		}
	}
	if strings.TrimSpace(cur.String()) != "" {
		stmts = append(stmts, cur.String())
	}
	return stmts
}
