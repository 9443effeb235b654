package org_test

import (
	"context"
	"errors"
	"testing"

	"incidentry.org/internal/auth"
	"incidentry.org/internal/incident"
	"incidentry.org/internal/org"
	"incidentry.org/internal/store/mem"
)

func newManager(t *testing.T) (*org.Manager, *mem.Store) {
	t.Helper()
	store := mem.New()
	m, err := org.NewManager(store)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m, store
}

func seedUser(t *testing.T, store *mem.Store, user auth.User) auth.User {
	t.Helper()
	created, err := store.CreateUser(context.Background(), user)
	if err != nil {
		t.Fatalf("seed user %s: %v", user.ID, err)
	}
	return created
}

func seedOrg(t *testing.T, store *mem.Store, o auth.Organization) auth.Organization {
	t.Helper()
	created, err := store.CreateOrganization(context.Background(), o)
	if err != nil {
		t.Fatalf("seed org %s: %v", o.ID, err)
	}
	return created
}

func identityOf(u auth.User) auth.Identity {
	return auth.Identity{UserID: u.ID, Role: u.Role, OrganizationID: u.OrganizationID}
}

func TestProvisionFirstUserBootstrapsOrganization(t *testing.T) {
	m, store := newManager(t)
	ctx := context.Background()

	user, err := m.ProvisionUser(ctx, "sub-1", "first@example.com")
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	if user.Role != auth.RoleAdmin {
		t.Fatalf("first user role = %s, want admin", user.Role)
	}
	if user.OrganizationID == "" {
		t.Fatal("first user should belong to the default organization")
	}
	if _, err := store.GetOrganization(ctx, user.OrganizationID); err != nil {
		t.Fatalf("default organization missing: %v", err)
	}
}

func TestProvisionSubsequentUserIsUnassigned(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	if _, err := m.ProvisionUser(ctx, "sub-1", "first@example.com"); err != nil {
		t.Fatalf("provision first: %v", err)
	}
	second, err := m.ProvisionUser(ctx, "sub-2", "second@example.com")
	if err != nil {
		t.Fatalf("provision second: %v", err)
	}
	if second.Role != auth.RoleUnassigned || second.OrganizationID != "" {
		t.Fatalf("second user = %+v, want unassigned without organization", second)
	}
}

func TestProvisionDuplicateSubject(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	if _, err := m.ProvisionUser(ctx, "sub-1", "first@example.com"); err != nil {
		t.Fatalf("provision: %v", err)
	}
	if _, err := m.ProvisionUser(ctx, "sub-1", "other@example.com"); !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestCreateOrganizationPromotesCaller(t *testing.T) {
	m, store := newManager(t)
	ctx := context.Background()

	caller := seedUser(t, store, auth.User{
		ID: "u1", ExternalSubjectID: "sub-1", Email: "u1@example.com",
		Role: auth.RoleUnassigned, Status: auth.UserStatusActive,
	})
	created, err := m.CreateOrganization(ctx, identityOf(caller), org.OrganizationInput{Name: "Acme SOC"})
	if err != nil {
		t.Fatalf("create organization: %v", err)
	}
	updated, err := store.GetUser(ctx, caller.ID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if updated.Role != auth.RoleAdmin || updated.OrganizationID != created.ID {
		t.Fatalf("caller = %+v, want admin of %s", updated, created.ID)
	}
}

func TestCreateOrganizationBlockedForSoleAdmin(t *testing.T) {
	m, store := newManager(t)
	ctx := context.Background()

	o := seedOrg(t, store, auth.Organization{ID: "org1", Name: "Org", Status: auth.OrganizationStatusActive})
	admin := seedUser(t, store, auth.User{
		ID: "u1", ExternalSubjectID: "sub-1", Email: "admin@example.com",
		Role: auth.RoleAdmin, OrganizationID: o.ID, Status: auth.UserStatusActive,
	})
	seedUser(t, store, auth.User{
		ID: "u2", ExternalSubjectID: "sub-2", Email: "viewer@example.com",
		Role: auth.RoleViewer, OrganizationID: o.ID, Status: auth.UserStatusActive,
	})

	_, err := m.CreateOrganization(ctx, identityOf(admin), org.OrganizationInput{Name: "New Org"})
	if !errors.Is(err, auth.ErrAdminRequirement) {
		t.Fatalf("expected ErrAdminRequirement, got %v", err)
	}
}

func TestChangeMemberRoleDemoteSoleAdminRejected(t *testing.T) {
	m, store := newManager(t)
	ctx := context.Background()

	o := seedOrg(t, store, auth.Organization{ID: "org1", Name: "Org", Status: auth.OrganizationStatusActive})
	admin := seedUser(t, store, auth.User{
		ID: "u1", ExternalSubjectID: "sub-1", Email: "admin@example.com",
		Role: auth.RoleAdmin, OrganizationID: o.ID, Status: auth.UserStatusActive,
	})
	seedUser(t, store, auth.User{
		ID: "u2", ExternalSubjectID: "sub-2", Email: "viewer@example.com",
		Role: auth.RoleViewer, OrganizationID: o.ID, Status: auth.UserStatusActive,
	})

	// Self-demotion of the only admin would leave the org adminless.
	_, err := m.ChangeMemberRole(ctx, identityOf(admin), o.ID, admin.ID, auth.RoleViewer)
	if !errors.Is(err, auth.ErrAdminRequirement) {
		t.Fatalf("expected ErrAdminRequirement, got %v", err)
	}
}

func TestChangeMemberRoleSelfDemoteWithSecondAdmin(t *testing.T) {
	m, store := newManager(t)
	ctx := context.Background()

	o := seedOrg(t, store, auth.Organization{ID: "org1", Name: "Org", Status: auth.OrganizationStatusActive})
	admin := seedUser(t, store, auth.User{
		ID: "u1", ExternalSubjectID: "sub-1", Email: "admin@example.com",
		Role: auth.RoleAdmin, OrganizationID: o.ID, Status: auth.UserStatusActive,
	})
	seedUser(t, store, auth.User{
		ID: "u2", ExternalSubjectID: "sub-2", Email: "admin2@example.com",
		Role: auth.RoleAdmin, OrganizationID: o.ID, Status: auth.UserStatusActive,
	})

	demoted, err := m.ChangeMemberRole(ctx, identityOf(admin), o.ID, admin.ID, auth.RoleEditor)
	if err != nil {
		t.Fatalf("self demotion with second admin should succeed: %v", err)
	}
	if demoted.Role != auth.RoleEditor {
		t.Fatalf("role = %s, want editor", demoted.Role)
	}
}

func TestChangeMemberRoleInvalidRole(t *testing.T) {
	m, store := newManager(t)
	ctx := context.Background()

	o := seedOrg(t, store, auth.Organization{ID: "org1", Name: "Org", Status: auth.OrganizationStatusActive})
	admin := seedUser(t, store, auth.User{
		ID: "u1", ExternalSubjectID: "sub-1", Email: "admin@example.com",
		Role: auth.RoleAdmin, OrganizationID: o.ID, Status: auth.UserStatusActive,
	})

	if _, err := m.ChangeMemberRole(ctx, identityOf(admin), o.ID, admin.ID, auth.RoleUnassigned); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestChangeMemberRoleForeignTargetIsNotFound(t *testing.T) {
	m, store := newManager(t)
	ctx := context.Background()

	org1 := seedOrg(t, store, auth.Organization{ID: "org1", Name: "Org 1", Status: auth.OrganizationStatusActive})
	org2 := seedOrg(t, store, auth.Organization{ID: "org2", Name: "Org 2", Status: auth.OrganizationStatusActive})
	admin := seedUser(t, store, auth.User{
		ID: "u1", ExternalSubjectID: "sub-1", Email: "admin@example.com",
		Role: auth.RoleAdmin, OrganizationID: org1.ID, Status: auth.UserStatusActive,
	})
	outsider := seedUser(t, store, auth.User{
		ID: "u2", ExternalSubjectID: "sub-2", Email: "other@example.com",
		Role: auth.RoleViewer, OrganizationID: org2.ID, Status: auth.UserStatusActive,
	})

	// The target exists but in another tenant; that must be indistinguishable
	// from a nonexistent user.
	if _, err := m.ChangeMemberRole(ctx, identityOf(admin), org1.ID, outsider.ID, auth.RoleEditor); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRemoveMemberSelfLeave(t *testing.T) {
	m, store := newManager(t)
	ctx := context.Background()

	o := seedOrg(t, store, auth.Organization{ID: "org1", Name: "Org", Status: auth.OrganizationStatusActive})
	seedUser(t, store, auth.User{
		ID: "u1", ExternalSubjectID: "sub-1", Email: "admin@example.com",
		Role: auth.RoleAdmin, OrganizationID: o.ID, Status: auth.UserStatusActive,
	})
	viewer := seedUser(t, store, auth.User{
		ID: "u2", ExternalSubjectID: "sub-2", Email: "viewer@example.com",
		Role: auth.RoleViewer, OrganizationID: o.ID, Status: auth.UserStatusActive,
	})

	left, err := m.RemoveMember(ctx, identityOf(viewer), o.ID, viewer.ID)
	if err != nil {
		t.Fatalf("self leave: %v", err)
	}
	if left.Role != auth.RoleUnassigned || left.OrganizationID != "" {
		t.Fatalf("after leaving: %+v, want unassigned without organization", left)
	}
}

func TestRemoveMemberLastAdminRejected(t *testing.T) {
	m, store := newManager(t)
	ctx := context.Background()

	o := seedOrg(t, store, auth.Organization{ID: "org1", Name: "Org", Status: auth.OrganizationStatusActive})
	admin := seedUser(t, store, auth.User{
		ID: "u1", ExternalSubjectID: "sub-1", Email: "admin@example.com",
		Role: auth.RoleAdmin, OrganizationID: o.ID, Status: auth.UserStatusActive,
	})
	seedUser(t, store, auth.User{
		ID: "u2", ExternalSubjectID: "sub-2", Email: "viewer@example.com",
		Role: auth.RoleViewer, OrganizationID: o.ID, Status: auth.UserStatusActive,
	})

	if _, err := m.RemoveMember(ctx, identityOf(admin), o.ID, admin.ID); !errors.Is(err, auth.ErrAdminRequirement) {
		t.Fatalf("expected ErrAdminRequirement, got %v", err)
	}
}

func TestRemoveMemberSoleMemberMayLeave(t *testing.T) {
	m, store := newManager(t)
	ctx := context.Background()

	o := seedOrg(t, store, auth.Organization{ID: "org1", Name: "Org", Status: auth.OrganizationStatusActive})
	admin := seedUser(t, store, auth.User{
		ID: "u1", ExternalSubjectID: "sub-1", Email: "admin@example.com",
		Role: auth.RoleAdmin, OrganizationID: o.ID, Status: auth.UserStatusActive,
	})

	if _, err := m.RemoveMember(ctx, identityOf(admin), o.ID, admin.ID); err != nil {
		t.Fatalf("sole member should be free to leave: %v", err)
	}
}

func TestGetOrganizationCrossTenantIsNotFound(t *testing.T) {
	m, store := newManager(t)
	ctx := context.Background()

	seedOrg(t, store, auth.Organization{ID: "org1", Name: "Org 1", Status: auth.OrganizationStatusActive})
	seedOrg(t, store, auth.Organization{ID: "org2", Name: "Org 2", Status: auth.OrganizationStatusActive})
	viewer := seedUser(t, store, auth.User{
		ID: "u1", ExternalSubjectID: "sub-1", Email: "viewer@example.com",
		Role: auth.RoleViewer, OrganizationID: "org1", Status: auth.UserStatusActive,
	})

	if _, err := m.GetOrganization(ctx, identityOf(viewer), "org2"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteOrganizationCascades(t *testing.T) {
	m, store := newManager(t)
	ctx := context.Background()

	o := seedOrg(t, store, auth.Organization{ID: "org1", Name: "Org", Status: auth.OrganizationStatusActive})
	admin := seedUser(t, store, auth.User{
		ID: "u1", ExternalSubjectID: "sub-1", Email: "admin@example.com",
		Role: auth.RoleAdmin, OrganizationID: o.ID, Status: auth.UserStatusActive,
	})
	member := seedUser(t, store, auth.User{
		ID: "u2", ExternalSubjectID: "sub-2", Email: "editor@example.com",
		Role: auth.RoleEditor, OrganizationID: o.ID, Status: auth.UserStatusActive,
	})
	if _, err := store.CreateIncident(ctx, incident.Incident{
		ID: "inc1", OrganizationID: o.ID, Title: "Phishing wave",
		Severity: incident.SeverityHigh, Status: incident.StatusOpen,
	}); err != nil {
		t.Fatalf("seed incident: %v", err)
	}
	if _, err := store.CreateThreatActor(ctx, incident.ThreatActor{
		ID: "actor1", OrganizationID: o.ID, Name: "FIN-000",
	}); err != nil {
		t.Fatalf("seed actor: %v", err)
	}

	summary, err := m.DeleteOrganization(ctx, identityOf(admin), o.ID)
	if err != nil {
		t.Fatalf("delete organization: %v", err)
	}
	if summary.UsersReassigned != 2 || summary.IncidentsDeleted != 1 || summary.ThreatActorsDeleted != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	for _, id := range []string{admin.ID, member.ID} {
		u, err := store.GetUser(ctx, id)
		if err != nil {
			t.Fatalf("get user %s: %v", id, err)
		}
		if u.Role != auth.RoleUnassigned || u.OrganizationID != "" {
			t.Fatalf("user %s = %+v, want unassigned", id, u)
		}
	}
	if _, err := store.GetIncident(ctx, "inc1"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("incident should be gone, got %v", err)
	}
	if _, err := store.GetThreatActor(ctx, "actor1"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("threat actor should be gone, got %v", err)
	}

	// Repeating the delete must report not found, not re-run the cascade.
	if _, err := m.DeleteOrganization(ctx, identityOf(admin), o.ID); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestDeleteOrganizationRequiresAdmin(t *testing.T) {
	m, store := newManager(t)
	ctx := context.Background()

	o := seedOrg(t, store, auth.Organization{ID: "org1", Name: "Org", Status: auth.OrganizationStatusActive})
	editor := seedUser(t, store, auth.User{
		ID: "u1", ExternalSubjectID: "sub-1", Email: "editor@example.com",
		Role: auth.RoleEditor, OrganizationID: o.ID, Status: auth.UserStatusActive,
	})

	var denied *auth.DeniedError
	_, err := m.DeleteOrganization(ctx, identityOf(editor), o.ID)
	if !errors.As(err, &denied) || denied.Reason != auth.ReasonInsufficientRole {
		t.Fatalf("expected insufficient_role denial, got %v", err)
	}
}

func TestUpdateProfileValidation(t *testing.T) {
	m, store := newManager(t)
	ctx := context.Background()

	user := seedUser(t, store, auth.User{
		ID: "u1", ExternalSubjectID: "sub-1", Email: "old@example.com",
		Role: auth.RoleUnassigned, Status: auth.UserStatusActive,
	})
	if _, err := m.UpdateProfile(ctx, identityOf(user), "not-an-email"); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	updated, err := m.UpdateProfile(ctx, identityOf(user), " New@Example.COM ")
	if err != nil {
		t.Fatalf("update profile: %v", err)
	}
	if updated.Email != "new@example.com" {
		t.Fatalf("email = %q, want normalized", updated.Email)
	}
}
