package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"incidentry.org/internal/auth"
	"incidentry.org/internal/org"
)

func (s *Store) CreateOrganization(ctx context.Context, o auth.Organization) (auth.Organization, error) {
	software, err := encodeStrings(o.Software)
	if err != nil {
		return auth.Organization{}, fmt.Errorf("encode software: %w", err)
	}
	row := s.q.QueryRowContext(ctx, `
		insert into organizations (id, name, status, industry, nationality, software)
		values ($1, $2, $3, $4, $5, $6)
		returning id, name, status, industry, nationality, software, created_at, updated_at
	`, o.ID, o.Name, o.Status, o.Industry, o.Nationality, software)
	return scanOrganization(row)
}

func (s *Store) GetOrganization(ctx context.Context, id string) (auth.Organization, error) {
	row := s.q.QueryRowContext(ctx, `
		select id, name, status, industry, nationality, software, created_at, updated_at
		from organizations
		where id = $1
	`, id)
	return scanOrganization(row)
}

func (s *Store) UpdateOrganization(ctx context.Context, id string, upd org.OrganizationUpdate) (auth.Organization, error) {
	var (
		sets []string
		args []any
		idx  = 1
	)
	if upd.Name != nil {
		sets = append(sets, fmt.Sprintf("name = $%d", idx))
		args = append(args, *upd.Name)
		idx++
	}
	if upd.Status != nil {
		sets = append(sets, fmt.Sprintf("status = $%d", idx))
		args = append(args, *upd.Status)
		idx++
	}
	if upd.Industry != nil {
		sets = append(sets, fmt.Sprintf("industry = $%d", idx))
		args = append(args, *upd.Industry)
		idx++
	}
	if upd.Nationality != nil {
		sets = append(sets, fmt.Sprintf("nationality = $%d", idx))
		args = append(args, *upd.Nationality)
		idx++
	}
	if upd.Software != nil {
		software, err := encodeStrings(upd.Software)
		if err != nil {
			return auth.Organization{}, fmt.Errorf("encode software: %w", err)
		}
		sets = append(sets, fmt.Sprintf("software = $%d", idx))
		args = append(args, software)
		idx++
	}
	if len(sets) == 0 {
		return s.GetOrganization(ctx, id)
	}
	sets = append(sets, "updated_at = now()")
	query := fmt.Sprintf(`update organizations set %s where id = $%d`, strings.Join(sets, ", "), idx)
	args = append(args, id)
	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return auth.Organization{}, mapWriteError(err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return auth.Organization{}, err
	}
	if aff == 0 {
		return auth.Organization{}, auth.ErrNotFound
	}
	return s.GetOrganization(ctx, id)
}

func (s *Store) DeleteOrganization(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `delete from organizations where id = $1`, id)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrganization(row rowScanner) (auth.Organization, error) {
	var (
		o           auth.Organization
		industry    sql.NullString
		nationality sql.NullString
		rawSoftware []byte
	)
	err := row.Scan(&o.ID, &o.Name, &o.Status, &industry, &nationality, &rawSoftware, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Organization{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.Organization{}, mapWriteError(err)
	}
	o.Industry = industry.String
	o.Nationality = nationality.String
	if len(rawSoftware) > 0 {
		if err := json.Unmarshal(rawSoftware, &o.Software); err != nil {
			return auth.Organization{}, fmt.Errorf("decode software: %w", err)
		}
	}
	return o, nil
}

func encodeStrings(values []string) ([]byte, error) {
	if len(values) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal(values)
}
