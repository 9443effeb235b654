package mem

import (
	"context"
	"errors"
	"testing"

	"incidentry.org/internal/auth"
	"incidentry.org/internal/incident"
	"incidentry.org/internal/org"
)

func TestAtomicRollsBackOnError(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := s.CreateOrganization(ctx, auth.Organization{ID: "org1", Name: "Org", Status: "active"}); err != nil {
		t.Fatalf("seed org: %v", err)
	}
	if _, err := s.CreateUser(ctx, auth.User{
		ID: "u1", ExternalSubjectID: "sub-1", Email: "u1@example.com",
		Role: auth.RoleAdmin, OrganizationID: "org1", Status: auth.UserStatusActive,
	}); err != nil {
		t.Fatalf("seed user: %v", err)
	}

	boom := errors.New("boom")
	err := s.Atomic(ctx, func(tx org.Store) error {
		role := auth.RoleViewer
		if _, err := tx.UpdateUser(ctx, "u1", org.UserUpdate{Role: &role}); err != nil {
			return err
		}
		if err := tx.DeleteOrganization(ctx, "org1"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	// Every write inside the failed batch must be undone.
	u, err := s.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if u.Role != auth.RoleAdmin {
		t.Fatalf("role = %s, want rollback to admin", u.Role)
	}
	if _, err := s.GetOrganization(ctx, "org1"); err != nil {
		t.Fatalf("organization should have been restored: %v", err)
	}
}

func TestAtomicCommitsOnSuccess(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.Atomic(ctx, func(tx org.Store) error {
		if _, err := tx.CreateOrganization(ctx, auth.Organization{ID: "org1", Name: "Org", Status: "active"}); err != nil {
			return err
		}
		_, err := tx.CreateUser(ctx, auth.User{
			ID: "u1", ExternalSubjectID: "sub-1", Email: "u1@example.com",
			Role: auth.RoleAdmin, OrganizationID: "org1", Status: auth.UserStatusActive,
		})
		return err
	})
	if err != nil {
		t.Fatalf("atomic: %v", err)
	}
	if _, err := s.GetOrganization(ctx, "org1"); err != nil {
		t.Fatalf("org not committed: %v", err)
	}
	if _, err := s.GetUser(ctx, "u1"); err != nil {
		t.Fatalf("user not committed: %v", err)
	}
}

func TestNestedAtomicJoinsOuterBatch(t *testing.T) {
	s := New()
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.Atomic(ctx, func(tx org.Store) error {
		if _, err := tx.CreateOrganization(ctx, auth.Organization{ID: "org1", Name: "Org", Status: "active"}); err != nil {
			return err
		}
		return tx.Atomic(ctx, func(inner org.Store) error {
			if _, err := inner.CreateUser(ctx, auth.User{
				ID: "u1", ExternalSubjectID: "sub-1", Email: "u1@example.com",
				Role: auth.RoleAdmin, OrganizationID: "org1", Status: auth.UserStatusActive,
			}); err != nil {
				return err
			}
			return boom
		})
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, err := s.GetOrganization(ctx, "org1"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("outer write should have rolled back too, got %v", err)
	}
}

func TestCreateUserUniqueness(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := s.CreateUser(ctx, auth.User{
		ID: "u1", ExternalSubjectID: "sub-1", Email: "u1@example.com", Status: auth.UserStatusActive,
	}); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := s.CreateUser(ctx, auth.User{
		ID: "u2", ExternalSubjectID: "sub-1", Email: "other@example.com", Status: auth.UserStatusActive,
	}); !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("duplicate subject: got %v", err)
	}
	if _, err := s.CreateUser(ctx, auth.User{
		ID: "u3", ExternalSubjectID: "sub-3", Email: "U1@EXAMPLE.COM", Status: auth.UserStatusActive,
	}); !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("duplicate email: got %v", err)
	}
}

func TestListUsersEmptyOrganizationIDMatchesNobody(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := s.CreateUser(ctx, auth.User{
		ID: "u1", ExternalSubjectID: "sub-1", Email: "u1@example.com",
		Role: auth.RoleUnassigned, Status: auth.UserStatusActive,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	// Unassigned users all have an empty organization id; listing by "" must
	// not treat them as one giant organization.
	users, err := s.ListUsersByOrganization(ctx, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(users) != 0 {
		t.Fatalf("len = %d, want 0", len(users))
	}
}

func TestDeleteByOrganizationCounts(t *testing.T) {
	s := New()
	ctx := context.Background()

	for _, inc := range []incident.Incident{
		{ID: "a", OrganizationID: "org1", Title: "one"},
		{ID: "b", OrganizationID: "org2", Title: "two"},
		{ID: "c", OrganizationID: "org1", Title: "three"},
	} {
		if _, err := s.CreateIncident(ctx, inc); err != nil {
			t.Fatalf("seed %s: %v", inc.ID, err)
		}
	}
	n, err := s.DeleteIncidentsByOrganization(ctx, "org1")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n != 2 {
		t.Fatalf("deleted %d, want 2", n)
	}
	if _, err := s.GetIncident(ctx, "b"); err != nil {
		t.Fatalf("foreign incident must survive: %v", err)
	}
}
