package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"incidentry.org/internal/auth"
	"incidentry.org/internal/incident"
)

const actorColumns = `id, organization_id, name, aliases, origin, description, created_at, updated_at`

func (s *Store) CreateThreatActor(ctx context.Context, actor incident.ThreatActor) (incident.ThreatActor, error) {
	aliases, err := encodeStrings(actor.Aliases)
	if err != nil {
		return incident.ThreatActor{}, fmt.Errorf("encode aliases: %w", err)
	}
	row := s.q.QueryRowContext(ctx, `
		insert into threat_actors (id, organization_id, name, aliases, origin, description)
		values ($1, $2, $3, $4, $5, $6)
		returning `+actorColumns+`
	`, actor.ID, actor.OrganizationID, actor.Name, aliases, actor.Origin, actor.Description)
	return scanThreatActor(row)
}

func (s *Store) GetThreatActor(ctx context.Context, id string) (incident.ThreatActor, error) {
	row := s.q.QueryRowContext(ctx, `
		select `+actorColumns+` from threat_actors where id = $1
	`, id)
	return scanThreatActor(row)
}

func (s *Store) ListThreatActorsByOrganization(ctx context.Context, organizationID string) ([]incident.ThreatActor, error) {
	rows, err := s.q.QueryContext(ctx, `
		select `+actorColumns+` from threat_actors
		where organization_id = $1
		order by name
	`, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []incident.ThreatActor
	for rows.Next() {
		actor, err := scanThreatActor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, actor)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) UpdateThreatActor(ctx context.Context, id string, upd incident.ThreatActorUpdate) (incident.ThreatActor, error) {
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
	if upd.Aliases != nil {
		encoded, err := encodeStrings(upd.Aliases)
		if err != nil {
			return incident.ThreatActor{}, fmt.Errorf("encode aliases: %w", err)
		}
		sets = append(sets, fmt.Sprintf("aliases = $%d", idx))
		args = append(args, encoded)
		idx++
	}
	if upd.Origin != nil {
		sets = append(sets, fmt.Sprintf("origin = $%d", idx))
		args = append(args, *upd.Origin)
		idx++
	}
	if upd.Description != nil {
		sets = append(sets, fmt.Sprintf("description = $%d", idx))
		args = append(args, *upd.Description)
		idx++
	}
	if len(sets) == 0 {
		return s.GetThreatActor(ctx, id)
	}
	sets = append(sets, "updated_at = now()")
	query := fmt.Sprintf(`update threat_actors set %s where id = $%d`, strings.Join(sets, ", "), idx)
	args = append(args, id)
	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return incident.ThreatActor{}, mapWriteError(err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return incident.ThreatActor{}, err
	}
	if aff == 0 {
		return incident.ThreatActor{}, auth.ErrNotFound
	}
	return s.GetThreatActor(ctx, id)
}

func (s *Store) DeleteThreatActor(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `delete from threat_actors where id = $1`, id)
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

func (s *Store) DeleteThreatActorsByOrganization(ctx context.Context, organizationID string) (int, error) {
	res, err := s.q.ExecContext(ctx, `delete from threat_actors where organization_id = $1`, organizationID)
	if err != nil {
		return 0, err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(aff), nil
}

func scanThreatActor(row rowScanner) (incident.ThreatActor, error) {
	var (
		actor       incident.ThreatActor
		origin      sql.NullString
		description sql.NullString
		rawAliases  []byte
	)
	err := row.Scan(&actor.ID, &actor.OrganizationID, &actor.Name, &rawAliases, &origin, &description, &actor.CreatedAt, &actor.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return incident.ThreatActor{}, auth.ErrNotFound
	}
	if err != nil {
		return incident.ThreatActor{}, mapWriteError(err)
	}
	actor.Origin = origin.String
	actor.Description = description.String
	if len(rawAliases) > 0 {
		if err := json.Unmarshal(rawAliases, &actor.Aliases); err != nil {
			return incident.ThreatActor{}, fmt.Errorf("decode aliases: %w", err)
		}
	}
	return actor, nil
}
