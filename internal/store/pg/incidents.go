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

const incidentColumns = `id, organization_id, reporter_user_id, title, description, severity, status, cve_refs, threat_actor_ids, created_at, updated_at`

func (s *Store) CreateIncident(ctx context.Context, inc incident.Incident) (incident.Incident, error) {
	cveRefs, err := encodeStrings(inc.CVERefs)
	if err != nil {
		return incident.Incident{}, fmt.Errorf("encode cve refs: %w", err)
	}
	actorIDs, err := encodeStrings(inc.ThreatActorIDs)
	if err != nil {
		return incident.Incident{}, fmt.Errorf("encode threat actor ids: %w", err)
	}
	row := s.q.QueryRowContext(ctx, `
		insert into incidents (id, organization_id, reporter_user_id, title, description, severity, status, cve_refs, threat_actor_ids)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		returning `+incidentColumns+`
	`, inc.ID, inc.OrganizationID, inc.ReporterUserID, inc.Title, inc.Description, inc.Severity, inc.Status, cveRefs, actorIDs)
	return scanIncident(row)
}

func (s *Store) GetIncident(ctx context.Context, id string) (incident.Incident, error) {
	row := s.q.QueryRowContext(ctx, `
		select `+incidentColumns+` from incidents where id = $1
	`, id)
	return scanIncident(row)
}

func (s *Store) ListIncidentsByOrganization(ctx context.Context, organizationID string) ([]incident.Incident, error) {
	rows, err := s.q.QueryContext(ctx, `
		select `+incidentColumns+` from incidents
		where organization_id = $1
		order by id desc
	`, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []incident.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) UpdateIncident(ctx context.Context, id string, upd incident.IncidentUpdate) (incident.Incident, error) {
	var (
		sets []string
		args []any
		idx  = 1
	)
	if upd.Title != nil {
		sets = append(sets, fmt.Sprintf("title = $%d", idx))
		args = append(args, *upd.Title)
		idx++
	}
	if upd.Description != nil {
		sets = append(sets, fmt.Sprintf("description = $%d", idx))
		args = append(args, *upd.Description)
		idx++
	}
	if upd.Severity != nil {
		sets = append(sets, fmt.Sprintf("severity = $%d", idx))
		args = append(args, *upd.Severity)
		idx++
	}
	if upd.Status != nil {
		sets = append(sets, fmt.Sprintf("status = $%d", idx))
		args = append(args, *upd.Status)
		idx++
	}
	if upd.CVERefs != nil {
		encoded, err := encodeStrings(upd.CVERefs)
		if err != nil {
			return incident.Incident{}, fmt.Errorf("encode cve refs: %w", err)
		}
		sets = append(sets, fmt.Sprintf("cve_refs = $%d", idx))
		args = append(args, encoded)
		idx++
	}
	if upd.ThreatActorIDs != nil {
		encoded, err := encodeStrings(upd.ThreatActorIDs)
		if err != nil {
			return incident.Incident{}, fmt.Errorf("encode threat actor ids: %w", err)
		}
		sets = append(sets, fmt.Sprintf("threat_actor_ids = $%d", idx))
		args = append(args, encoded)
		idx++
	}
	if len(sets) == 0 {
		return s.GetIncident(ctx, id)
	}
	sets = append(sets, "updated_at = now()")
	query := fmt.Sprintf(`update incidents set %s where id = $%d`, strings.Join(sets, ", "), idx)
	args = append(args, id)
	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return incident.Incident{}, mapWriteError(err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return incident.Incident{}, err
	}
	if aff == 0 {
		return incident.Incident{}, auth.ErrNotFound
	}
	return s.GetIncident(ctx, id)
}

func (s *Store) DeleteIncident(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `delete from incidents where id = $1`, id)
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

func (s *Store) DeleteIncidentsByOrganization(ctx context.Context, organizationID string) (int, error) {
	res, err := s.q.ExecContext(ctx, `delete from incidents where organization_id = $1`, organizationID)
	if err != nil {
		return 0, err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(aff), nil
}

func scanIncident(row rowScanner) (incident.Incident, error) {
	var (
		inc         incident.Incident
		description sql.NullString
		rawRefs     []byte
		rawActors   []byte
	)
	err := row.Scan(&inc.ID, &inc.OrganizationID, &inc.ReporterUserID, &inc.Title, &description,
		&inc.Severity, &inc.Status, &rawRefs, &rawActors, &inc.CreatedAt, &inc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return incident.Incident{}, auth.ErrNotFound
	}
	if err != nil {
		return incident.Incident{}, mapWriteError(err)
	}
	inc.Description = description.String
	if len(rawRefs) > 0 {
		if err := json.Unmarshal(rawRefs, &inc.CVERefs); err != nil {
			return incident.Incident{}, fmt.Errorf("decode cve refs: %w", err)
		}
	}
	if len(rawActors) > 0 {
		if err := json.Unmarshal(rawActors, &inc.ThreatActorIDs); err != nil {
			return incident.Incident{}, fmt.Errorf("decode threat actor ids: %w", err)
		}
	}
	return inc, nil
}
