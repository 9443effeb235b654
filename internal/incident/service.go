// Package incident provides the tenant-scoped incident and threat-actor
// services. Every operation authorizes the caller against the stored
// resource's organization; cross-tenant ids surface as not found so existence
// never leaks across tenants.
package incident

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"incidentry.org/internal/auth"
	"incidentry.org/internal/ids"
)

// Store is the persistence surface the incident service needs.
type Store interface {
	CreateIncident(ctx context.Context, inc Incident) (Incident, error)
	GetIncident(ctx context.Context, id string) (Incident, error)
	ListIncidentsByOrganization(ctx context.Context, organizationID string) ([]Incident, error)
	UpdateIncident(ctx context.Context, id string, upd IncidentUpdate) (Incident, error)
	DeleteIncident(ctx context.Context, id string) error

	CreateThreatActor(ctx context.Context, actor ThreatActor) (ThreatActor, error)
	GetThreatActor(ctx context.Context, id string) (ThreatActor, error)
	ListThreatActorsByOrganization(ctx context.Context, organizationID string) ([]ThreatActor, error)
	UpdateThreatActor(ctx context.Context, id string, upd ThreatActorUpdate) (ThreatActor, error)
	DeleteThreatActor(ctx context.Context, id string) error
}

// IncidentUpdate is a partial incident mutation. Nil fields are left untouched.
type IncidentUpdate struct {
	Title          *string
	Description    *string
	Severity       *string
	Status         *string
	CVERefs        []string
	ThreatActorIDs []string
}

// ThreatActorUpdate is a partial threat-actor mutation.
type ThreatActorUpdate struct {
	Name        *string
	Aliases     []string
	Origin      *string
	Description *string
}

// IncidentInput carries caller-supplied fields for a new incident.
type IncidentInput struct {
	Title          string
	Description    string
	Severity       string
	Status         string
	CVERefs        []string
	ThreatActorIDs []string
}

// ThreatActorInput carries caller-supplied fields for a new threat actor.
type ThreatActorInput struct {
	Name        string
	Aliases     []string
	Origin      string
	Description string
}

// Service exposes org-scoped CRUD over incidents and threat actors.
type Service struct {
	store Store
}

// NewService constructs a Service.
func NewService(store Store) (*Service, error) {
	if store == nil {
		return nil, errors.New("incident: store is required")
	}
	return &Service{store: store}, nil
}

// CreateIncident records an incident inside the caller's organization.
func (s *Service) CreateIncident(ctx context.Context, caller auth.Identity, input IncidentInput) (Incident, error) {
	if caller.OrganizationID == "" {
		return Incident{}, (&auth.DeniedError{Reason: auth.ReasonInsufficientRole})
	}
	if d := auth.Decide(caller.Caller(), auth.Resource{OrganizationID: caller.OrganizationID}, auth.ActionIncidentCreate); !d.Allowed {
		return Incident{}, d.Err()
	}
	inc, err := normalizeIncident(input)
	if err != nil {
		return Incident{}, err
	}
	inc.ID = ids.New()
	inc.OrganizationID = caller.OrganizationID
	inc.ReporterUserID = caller.UserID
	return s.store.CreateIncident(ctx, inc)
}

// GetIncident returns an incident visible to the caller.
func (s *Service) GetIncident(ctx context.Context, caller auth.Identity, id string) (Incident, error) {
	inc, err := s.store.GetIncident(ctx, id)
	if err != nil {
		return Incident{}, err
	}
	if err := s.authorize(caller, inc.OrganizationID, auth.ActionIncidentView); err != nil {
		return Incident{}, err
	}
	return inc, nil
}

// ListIncidents returns the caller's organization incidents.
func (s *Service) ListIncidents(ctx context.Context, caller auth.Identity) ([]Incident, error) {
	if caller.OrganizationID == "" {
		return nil, (&auth.DeniedError{Reason: auth.ReasonInsufficientRole})
	}
	if err := s.authorize(caller, caller.OrganizationID, auth.ActionIncidentView); err != nil {
		return nil, err
	}
	return s.store.ListIncidentsByOrganization(ctx, caller.OrganizationID)
}

// UpdateIncident applies a partial update after scoping and role checks.
func (s *Service) UpdateIncident(ctx context.Context, caller auth.Identity, id string, upd IncidentUpdate) (Incident, error) {
	inc, err := s.store.GetIncident(ctx, id)
	if err != nil {
		return Incident{}, err
	}
	if err := s.authorize(caller, inc.OrganizationID, auth.ActionIncidentUpdate); err != nil {
		return Incident{}, err
	}
	if upd.Title != nil {
		trimmed := strings.TrimSpace(*upd.Title)
		if trimmed == "" {
			return Incident{}, fmt.Errorf("%w: title is required", auth.ErrInvalidInput)
		}
		upd.Title = &trimmed
	}
	if upd.Severity != nil && !validSeverity(*upd.Severity) {
		return Incident{}, fmt.Errorf("%w: unsupported severity %q", auth.ErrInvalidInput, *upd.Severity)
	}
	if upd.Status != nil && !validStatus(*upd.Status) {
		return Incident{}, fmt.Errorf("%w: unsupported status %q", auth.ErrInvalidInput, *upd.Status)
	}
	if upd.CVERefs != nil {
		refs, err := normalizeCVERefs(upd.CVERefs)
		if err != nil {
			return Incident{}, err
		}
		upd.CVERefs = refs
	}
	return s.store.UpdateIncident(ctx, id, upd)
}

// DeleteIncident removes an incident from the caller's organization.
func (s *Service) DeleteIncident(ctx context.Context, caller auth.Identity, id string) error {
	inc, err := s.store.GetIncident(ctx, id)
	if err != nil {
		return err
	}
	if err := s.authorize(caller, inc.OrganizationID, auth.ActionIncidentDelete); err != nil {
		return err
	}
	return s.store.DeleteIncident(ctx, id)
}

// CreateThreatActor records a threat actor inside the caller's organization.
func (s *Service) CreateThreatActor(ctx context.Context, caller auth.Identity, input ThreatActorInput) (ThreatActor, error) {
	if caller.OrganizationID == "" {
		return ThreatActor{}, (&auth.DeniedError{Reason: auth.ReasonInsufficientRole})
	}
	if d := auth.Decide(caller.Caller(), auth.Resource{OrganizationID: caller.OrganizationID}, auth.ActionActorCreate); !d.Allowed {
		return ThreatActor{}, d.Err()
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return ThreatActor{}, fmt.Errorf("%w: name is required", auth.ErrInvalidInput)
	}
	return s.store.CreateThreatActor(ctx, ThreatActor{
		ID:             ids.New(),
		OrganizationID: caller.OrganizationID,
		Name:           name,
		Aliases:        input.Aliases,
		Origin:         strings.TrimSpace(input.Origin),
		Description:    strings.TrimSpace(input.Description),
	})
}

// GetThreatActor returns a threat actor visible to the caller.
func (s *Service) GetThreatActor(ctx context.Context, caller auth.Identity, id string) (ThreatActor, error) {
	actor, err := s.store.GetThreatActor(ctx, id)
	if err != nil {
		return ThreatActor{}, err
	}
	if err := s.authorize(caller, actor.OrganizationID, auth.ActionActorView); err != nil {
		return ThreatActor{}, err
	}
	return actor, nil
}

// ListThreatActors returns the caller's organization threat actors.
func (s *Service) ListThreatActors(ctx context.Context, caller auth.Identity) ([]ThreatActor, error) {
	if caller.OrganizationID == "" {
		return nil, (&auth.DeniedError{Reason: auth.ReasonInsufficientRole})
	}
	if err := s.authorize(caller, caller.OrganizationID, auth.ActionActorView); err != nil {
		return nil, err
	}
	return s.store.ListThreatActorsByOrganization(ctx, caller.OrganizationID)
}

// UpdateThreatActor applies a partial update after scoping and role checks.
func (s *Service) UpdateThreatActor(ctx context.Context, caller auth.Identity, id string, upd ThreatActorUpdate) (ThreatActor, error) {
	actor, err := s.store.GetThreatActor(ctx, id)
	if err != nil {
		return ThreatActor{}, err
	}
	if err := s.authorize(caller, actor.OrganizationID, auth.ActionActorUpdate); err != nil {
		return ThreatActor{}, err
	}
	if upd.Name != nil {
		trimmed := strings.TrimSpace(*upd.Name)
		if trimmed == "" {
			return ThreatActor{}, fmt.Errorf("%w: name is required", auth.ErrInvalidInput)
		}
		upd.Name = &trimmed
	}
	return s.store.UpdateThreatActor(ctx, id, upd)
}

// DeleteThreatActor removes a threat actor from the caller's organization.
func (s *Service) DeleteThreatActor(ctx context.Context, caller auth.Identity, id string) error {
	actor, err := s.store.GetThreatActor(ctx, id)
	if err != nil {
		return err
	}
	if err := s.authorize(caller, actor.OrganizationID, auth.ActionActorDelete); err != nil {
		return err
	}
	return s.store.DeleteThreatActor(ctx, id)
}

// authorize runs the policy decision for a stored resource. Wrong-organization
// denials are converted to not-found so tenant boundaries never leak.
func (s *Service) authorize(caller auth.Identity, resourceOrgID string, action auth.Action) error {
	d := auth.Decide(caller.Caller(), auth.Resource{OrganizationID: resourceOrgID}, action)
	if d.Allowed {
		return nil
	}
	if d.Reason == auth.ReasonWrongOrganization && (action == auth.ActionIncidentView || action == auth.ActionActorView) {
		// Reads never reveal that a foreign resource exists.
		return auth.ErrNotFound
	}
	return d.Err()
}

func normalizeIncident(input IncidentInput) (Incident, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return Incident{}, fmt.Errorf("%w: title is required", auth.ErrInvalidInput)
	}
	severity := strings.TrimSpace(strings.ToLower(input.Severity))
	if severity == "" {
		severity = SeverityMedium
	}
	if !validSeverity(severity) {
		return Incident{}, fmt.Errorf("%w: unsupported severity %q", auth.ErrInvalidInput, input.Severity)
	}
	status := strings.TrimSpace(strings.ToLower(input.Status))
	if status == "" {
		status = StatusOpen
	}
	if !validStatus(status) {
		return Incident{}, fmt.Errorf("%w: unsupported status %q", auth.ErrInvalidInput, input.Status)
	}
	refs, err := normalizeCVERefs(input.CVERefs)
	if err != nil {
		return Incident{}, err
	}
	return Incident{
		Title:          title,
		Description:    strings.TrimSpace(input.Description),
		Severity:       severity,
		Status:         status,
		CVERefs:        refs,
		ThreatActorIDs: input.ThreatActorIDs,
	}, nil
}

func normalizeCVERefs(refs []string) ([]string, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	seen := make(map[string]struct{}, len(refs))
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		ref = strings.ToUpper(strings.TrimSpace(ref))
		if ref == "" {
			continue
		}
		if !ValidCVE(ref) {
			return nil, fmt.Errorf("%w: malformed CVE id %q", auth.ErrInvalidInput, ref)
		}
		if _, ok := seen[ref]; ok {
			continue
		}
		seen[ref] = struct{}{}
		out = append(out, ref)
	}
	return out, nil
}
