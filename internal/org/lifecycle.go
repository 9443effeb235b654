// Package org enforces the cross-entity invariants of organization
// membership: admin retention, tenant-scoped visibility and the atomic
// cascading delete. Every compound mutation goes through Manager so the
// invariants cannot be bypassed by ad-hoc field updates elsewhere.
package org

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"incidentry.org/internal/auth"
	"incidentry.org/internal/ids"
)

// Store is the persistence surface the lifecycle manager needs. The pg and
// mem stores implement it. Atomic runs fn against a store view whose writes
// commit together or not at all.
type Store interface {
	CreateOrganization(ctx context.Context, org auth.Organization) (auth.Organization, error)
	GetOrganization(ctx context.Context, id string) (auth.Organization, error)
	UpdateOrganization(ctx context.Context, id string, upd OrganizationUpdate) (auth.Organization, error)
	DeleteOrganization(ctx context.Context, id string) error

	CreateUser(ctx context.Context, user auth.User) (auth.User, error)
	GetUser(ctx context.Context, id string) (auth.User, error)
	FindUserBySubject(ctx context.Context, externalSubjectID string) (auth.User, error)
	ListUsersByOrganization(ctx context.Context, organizationID string) ([]auth.User, error)
	UpdateUser(ctx context.Context, id string, upd UserUpdate) (auth.User, error)
	DeleteUser(ctx context.Context, id string) error
	CountUsers(ctx context.Context) (int, error)

	DeleteIncidentsByOrganization(ctx context.Context, organizationID string) (int, error)
	DeleteThreatActorsByOrganization(ctx context.Context, organizationID string) (int, error)

	Atomic(ctx context.Context, fn func(Store) error) error
}

// OrganizationUpdate is a partial organization mutation. Nil fields are left
// untouched.
type OrganizationUpdate struct {
	Name        *string
	Status      *string
	Industry    *string
	Nationality *string
	Software    []string
}

// UserUpdate is a partial user mutation. Nil fields are left untouched.
// OrganizationID distinguishes "unset" (nil) from "clear" (pointer to "").
type UserUpdate struct {
	Email          *string
	Role           *auth.Role
	OrganizationID *string
	Status         *string
}

// OrganizationInput carries the caller-supplied fields for a new organization.
type OrganizationInput struct {
	Name        string
	Industry    string
	Nationality string
	Software    []string
}

// DeleteSummary reports the effects of a cascading organization delete.
type DeleteSummary struct {
	UsersReassigned     int `json:"users_reassigned"`
	IncidentsDeleted    int `json:"incidents_deleted"`
	ThreatActorsDeleted int `json:"threat_actors_deleted"`
}

const defaultOrganizationName = "Default Organization"

// Manager owns every compound membership operation.
type Manager struct {
	store Store
	now   func() time.Time
}

// NewManager constructs a Manager.
func NewManager(store Store) (*Manager, error) {
	if store == nil {
		return nil, errors.New("org: store is required")
	}
	return &Manager{store: store, now: time.Now}, nil
}

// ProvisionUser creates the application user record for a verified identity
// subject. The very first user in the system is promoted to admin of an
// auto-created default organization; everyone else starts unassigned.
func (m *Manager) ProvisionUser(ctx context.Context, externalSubjectID, email string) (auth.User, error) {
	externalSubjectID = strings.TrimSpace(externalSubjectID)
	if externalSubjectID == "" {
		return auth.User{}, fmt.Errorf("%w: subject id is required", auth.ErrInvalidInput)
	}
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return auth.User{}, fmt.Errorf("%w: valid email is required", auth.ErrInvalidInput)
	}

	if _, err := m.store.FindUserBySubject(ctx, externalSubjectID); err == nil {
		return auth.User{}, fmt.Errorf("%w: subject already registered", auth.ErrConflict)
	} else if !errors.Is(err, auth.ErrNotFound) {
		return auth.User{}, err
	}

	total, err := m.store.CountUsers(ctx)
	if err != nil {
		return auth.User{}, err
	}

	user := auth.User{
		ID:                ids.New(),
		ExternalSubjectID: externalSubjectID,
		Email:             email,
		Role:              auth.RoleUnassigned,
		Status:            auth.UserStatusActive,
	}
	if total > 0 {
		return m.store.CreateUser(ctx, user)
	}

	// Bootstrap: first user ever becomes admin of the default organization.
	var created auth.User
	err = m.store.Atomic(ctx, func(s Store) error {
		org, err := s.CreateOrganization(ctx, auth.Organization{
			ID:     ids.New(),
			Name:   defaultOrganizationName,
			Status: auth.OrganizationStatusActive,
		})
		if err != nil {
			return err
		}
		user.Role = auth.RoleAdmin
		user.OrganizationID = org.ID
		created, err = s.CreateUser(ctx, user)
		return err
	})
	if err != nil {
		return auth.User{}, err
	}
	return created, nil
}

// CreateOrganization creates an organization and promotes the caller to its
// sole admin inside one atomic batch. A caller who is the sole admin of an
// organization that still has other members may not leave it this way.
func (m *Manager) CreateOrganization(ctx context.Context, caller auth.Identity, input OrganizationInput) (auth.Organization, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return auth.Organization{}, fmt.Errorf("%w: organization name is required", auth.ErrInvalidInput)
	}
	if d := auth.Decide(caller.Caller(), auth.Resource{}, auth.ActionOrgCreate); !d.Allowed {
		return auth.Organization{}, d.Err()
	}
	if caller.OrganizationID != "" {
		if err := m.checkAdminRetention(ctx, m.store, caller.OrganizationID, caller.UserID); err != nil {
			return auth.Organization{}, err
		}
	}

	var created auth.Organization
	err := m.store.Atomic(ctx, func(s Store) error {
		org, err := s.CreateOrganization(ctx, auth.Organization{
			ID:          ids.New(),
			Name:        name,
			Status:      auth.OrganizationStatusActive,
			Industry:    strings.TrimSpace(input.Industry),
			Nationality: strings.TrimSpace(input.Nationality),
			Software:    input.Software,
		})
		if err != nil {
			return err
		}
		role := auth.RoleAdmin
		if _, err := s.UpdateUser(ctx, caller.UserID, UserUpdate{Role: &role, OrganizationID: &org.ID}); err != nil {
			return err
		}
		created = org
		return nil
	})
	if err != nil {
		return auth.Organization{}, err
	}
	return created, nil
}

// GetOrganization returns the organization if the caller may see it.
// Cross-tenant ids surface as not found, never as forbidden.
func (m *Manager) GetOrganization(ctx context.Context, caller auth.Identity, orgID string) (auth.Organization, error) {
	org, err := m.store.GetOrganization(ctx, orgID)
	if err != nil {
		return auth.Organization{}, err
	}
	if d := auth.Decide(caller.Caller(), auth.Resource{OrganizationID: org.ID}, auth.ActionOrgView); !d.Allowed {
		if d.Reason == auth.ReasonWrongOrganization {
			return auth.Organization{}, auth.ErrNotFound
		}
		return auth.Organization{}, d.Err()
	}
	return org, nil
}

// UpdateOrganization applies a partial update after an admin check.
func (m *Manager) UpdateOrganization(ctx context.Context, caller auth.Identity, orgID string, upd OrganizationUpdate) (auth.Organization, error) {
	org, err := m.store.GetOrganization(ctx, orgID)
	if err != nil {
		return auth.Organization{}, err
	}
	if d := auth.Decide(caller.Caller(), auth.Resource{OrganizationID: org.ID}, auth.ActionOrgUpdate); !d.Allowed {
		return auth.Organization{}, d.Err()
	}
	if upd.Name != nil {
		trimmed := strings.TrimSpace(*upd.Name)
		if trimmed == "" {
			return auth.Organization{}, fmt.Errorf("%w: organization name is required", auth.ErrInvalidInput)
		}
		upd.Name = &trimmed
	}
	if upd.Status != nil {
		status := strings.TrimSpace(strings.ToLower(*upd.Status))
		if status != auth.OrganizationStatusActive && status != auth.OrganizationStatusInactive {
			return auth.Organization{}, fmt.Errorf("%w: unsupported status %s", auth.ErrInvalidInput, status)
		}
		upd.Status = &status
	}
	return m.store.UpdateOrganization(ctx, orgID, upd)
}

// ListMembers returns the organization's users for an admin of that org.
func (m *Manager) ListMembers(ctx context.Context, caller auth.Identity, orgID string) ([]auth.User, error) {
	if _, err := m.store.GetOrganization(ctx, orgID); err != nil {
		return nil, err
	}
	if d := auth.Decide(caller.Caller(), auth.Resource{OrganizationID: orgID}, auth.ActionUserList); !d.Allowed {
		if d.Reason == auth.ReasonWrongOrganization {
			return nil, auth.ErrNotFound
		}
		return nil, d.Err()
	}
	return m.store.ListUsersByOrganization(ctx, orgID)
}

// ChangeMemberRole re-validates via the policy engine, then checks the
// admin-retention invariant before committing. Demoting the sole admin of an
// organization that still has other members is rejected rather than letting
// the organization go adminless. Self-demotion is allowed through this flow
// when another admin remains.
func (m *Manager) ChangeMemberRole(ctx context.Context, caller auth.Identity, orgID, targetUserID string, newRole auth.Role) (auth.User, error) {
	if newRole != auth.RoleAdmin && newRole != auth.RoleEditor && newRole != auth.RoleViewer {
		return auth.User{}, fmt.Errorf("%w: unsupported role %q", auth.ErrInvalidInput, newRole)
	}
	if d := auth.Decide(caller.Caller(), auth.Resource{OrganizationID: orgID}, auth.ActionRoleChange); !d.Allowed {
		return auth.User{}, d.Err()
	}
	target, err := m.store.GetUser(ctx, targetUserID)
	if err != nil {
		return auth.User{}, err
	}
	if target.OrganizationID != orgID {
		return auth.User{}, auth.ErrNotFound
	}
	if target.Role == auth.RoleAdmin && newRole != auth.RoleAdmin {
		if err := m.checkAdminRetention(ctx, m.store, orgID, target.ID); err != nil {
			return auth.User{}, err
		}
	}
	return m.store.UpdateUser(ctx, targetUserID, UserUpdate{Role: &newRole})
}

// RemoveMember detaches a user from the organization, resetting them to the
// unassigned role. Admins remove others; any member may leave on their own.
// The admin-retention invariant applies to both paths.
func (m *Manager) RemoveMember(ctx context.Context, caller auth.Identity, orgID, targetUserID string) (auth.User, error) {
	if d := auth.Decide(caller.Caller(), auth.Resource{OrganizationID: orgID, OwnerUserID: targetUserID}, auth.ActionMemberRemove); !d.Allowed {
		return auth.User{}, d.Err()
	}
	target, err := m.store.GetUser(ctx, targetUserID)
	if err != nil {
		return auth.User{}, err
	}
	if target.OrganizationID != orgID {
		return auth.User{}, auth.ErrNotFound
	}
	if target.Role == auth.RoleAdmin {
		if err := m.checkAdminRetention(ctx, m.store, orgID, target.ID); err != nil {
			return auth.User{}, err
		}
	}
	role := auth.RoleUnassigned
	noOrg := ""
	return m.store.UpdateUser(ctx, targetUserID, UserUpdate{Role: &role, OrganizationID: &noOrg})
}

// DeleteUser removes a user account entirely. Admins may delete members of
// their own organization; users may delete themselves. Retention applies when
// the target is an admin.
func (m *Manager) DeleteUser(ctx context.Context, caller auth.Identity, targetUserID string) error {
	target, err := m.store.GetUser(ctx, targetUserID)
	if err != nil {
		return err
	}
	if d := auth.Decide(caller.Caller(), auth.Resource{OrganizationID: target.OrganizationID, OwnerUserID: target.ID}, auth.ActionUserDelete); !d.Allowed {
		return d.Err()
	}
	if target.Role == auth.RoleAdmin && target.OrganizationID != "" {
		if err := m.checkAdminRetention(ctx, m.store, target.OrganizationID, target.ID); err != nil {
			return err
		}
	}
	return m.store.DeleteUser(ctx, targetUserID)
}

// UpdateProfile applies a self-service profile mutation. Role and
// organization fields are not reachable through this path.
func (m *Manager) UpdateProfile(ctx context.Context, caller auth.Identity, email string) (auth.User, error) {
	if d := auth.Decide(caller.Caller(), auth.Resource{OwnerUserID: caller.UserID}, auth.ActionProfileUpdate); !d.Allowed {
		return auth.User{}, d.Err()
	}
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return auth.User{}, fmt.Errorf("%w: valid email is required", auth.ErrInvalidInput)
	}
	return m.store.UpdateUser(ctx, caller.UserID, UserUpdate{Email: &email})
}

// GetProfile returns the caller's own user record.
func (m *Manager) GetProfile(ctx context.Context, caller auth.Identity) (auth.User, error) {
	if d := auth.Decide(caller.Caller(), auth.Resource{OwnerUserID: caller.UserID}, auth.ActionProfileView); !d.Allowed {
		return auth.User{}, d.Err()
	}
	return m.store.GetUser(ctx, caller.UserID)
}

// DeleteOrganization performs the cascading delete as one atomic batch:
// every member is reset to unassigned, every incident and threat actor of the
// organization is deleted, then the organization itself. Either all of it
// applies or none of it does. A second call for the same id reports not found.
func (m *Manager) DeleteOrganization(ctx context.Context, caller auth.Identity, orgID string) (DeleteSummary, error) {
	if _, err := m.store.GetOrganization(ctx, orgID); err != nil {
		return DeleteSummary{}, err
	}
	if d := auth.Decide(caller.Caller(), auth.Resource{OrganizationID: orgID}, auth.ActionOrgDelete); !d.Allowed {
		return DeleteSummary{}, d.Err()
	}

	var summary DeleteSummary
	err := m.store.Atomic(ctx, func(s Store) error {
		members, err := s.ListUsersByOrganization(ctx, orgID)
		if err != nil {
			return err
		}
		role := auth.RoleUnassigned
		noOrg := ""
		for _, member := range members {
			if _, err := s.UpdateUser(ctx, member.ID, UserUpdate{Role: &role, OrganizationID: &noOrg}); err != nil {
				return err
			}
		}
		summary.UsersReassigned = len(members)

		if summary.IncidentsDeleted, err = s.DeleteIncidentsByOrganization(ctx, orgID); err != nil {
			return err
		}
		if summary.ThreatActorsDeleted, err = s.DeleteThreatActorsByOrganization(ctx, orgID); err != nil {
			return err
		}
		return s.DeleteOrganization(ctx, orgID)
	})
	if err != nil {
		return DeleteSummary{}, err
	}
	return summary, nil
}

// checkAdminRetention fails with ErrAdminRequirement when removing or
// demoting departingAdminID would leave an organization that still has other
// members without any admin.
func (m *Manager) checkAdminRetention(ctx context.Context, s Store, orgID, departingAdminID string) error {
	members, err := s.ListUsersByOrganization(ctx, orgID)
	if err != nil {
		return err
	}
	if len(members) <= 1 {
		return nil
	}
	admins := 0
	departingIsAdmin := false
	for _, member := range members {
		if member.Role != auth.RoleAdmin {
			continue
		}
		admins++
		if member.ID == departingAdminID {
			departingIsAdmin = true
		}
	}
	if departingIsAdmin && admins == 1 {
		return auth.ErrAdminRequirement
	}
	return nil
}
