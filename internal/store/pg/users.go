package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"incidentry.org/internal/auth"
	"incidentry.org/internal/org"
)

const userColumns = `id, external_subject_id, email, role, organization_id, status, created_at, updated_at`

func (s *Store) CreateUser(ctx context.Context, u auth.User) (auth.User, error) {
	row := s.q.QueryRowContext(ctx, `
		insert into users (id, external_subject_id, email, role, organization_id, status)
		values ($1, $2, $3, $4, $5, $6)
		returning `+userColumns+`
	`, u.ID, u.ExternalSubjectID, u.Email, string(u.Role), u.OrganizationID, u.Status)
	return scanUser(row)
}

func (s *Store) GetUser(ctx context.Context, id string) (auth.User, error) {
	row := s.q.QueryRowContext(ctx, `
		select `+userColumns+` from users where id = $1
	`, id)
	return scanUser(row)
}

func (s *Store) FindUserBySubject(ctx context.Context, externalSubjectID string) (auth.User, error) {
	row := s.q.QueryRowContext(ctx, `
		select `+userColumns+` from users where external_subject_id = $1
	`, externalSubjectID)
	return scanUser(row)
}

func (s *Store) ListUsersByOrganization(ctx context.Context, organizationID string) ([]auth.User, error) {
	rows, err := s.q.QueryContext(ctx, `
		select `+userColumns+` from users
		where organization_id = $1 and organization_id <> ''
		order by id
	`, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []auth.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) UpdateUser(ctx context.Context, id string, upd org.UserUpdate) (auth.User, error) {
	var (
		sets []string
		args []any
		idx  = 1
	)
	if upd.Email != nil {
		sets = append(sets, fmt.Sprintf("email = $%d", idx))
		args = append(args, *upd.Email)
		idx++
	}
	if upd.Role != nil {
		sets = append(sets, fmt.Sprintf("role = $%d", idx))
		args = append(args, string(*upd.Role))
		idx++
	}
	if upd.OrganizationID != nil {
		sets = append(sets, fmt.Sprintf("organization_id = $%d", idx))
		args = append(args, *upd.OrganizationID)
		idx++
	}
	if upd.Status != nil {
		sets = append(sets, fmt.Sprintf("status = $%d", idx))
		args = append(args, *upd.Status)
		idx++
	}
	if len(sets) == 0 {
		return s.GetUser(ctx, id)
	}
	sets = append(sets, "updated_at = now()")
	query := fmt.Sprintf(`update users set %s where id = $%d`, strings.Join(sets, ", "), idx)
	args = append(args, id)
	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return auth.User{}, mapWriteError(err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return auth.User{}, err
	}
	if aff == 0 {
		return auth.User{}, auth.ErrNotFound
	}
	return s.GetUser(ctx, id)
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `delete from users where id = $1`, id)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (s *Store) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := s.q.QueryRowContext(ctx, `select count(*) from users`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func scanUser(row rowScanner) (auth.User, error) {
	var (
		u    auth.User
		role string
	)
	err := row.Scan(&u.ID, &u.ExternalSubjectID, &u.Email, &role, &u.OrganizationID, &u.Status, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.User{}, mapWriteError(err)
	}
	u.Role = auth.ParseRole(role)
	return u, nil
}
