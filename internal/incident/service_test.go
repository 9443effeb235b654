package incident_test

import (
	"context"
	"errors"
	"testing"

	"incidentry.org/internal/auth"
	"incidentry.org/internal/incident"
	"incidentry.org/internal/store/mem"
)

func newService(t *testing.T) (*incident.Service, *mem.Store) {
	t.Helper()
	store := mem.New()
	svc, err := incident.NewService(store)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, store
}

var (
	org1Editor = auth.Identity{UserID: "u1", Role: auth.RoleEditor, OrganizationID: "org1"}
	org1Viewer = auth.Identity{UserID: "u2", Role: auth.RoleViewer, OrganizationID: "org1"}
	org2Admin  = auth.Identity{UserID: "u3", Role: auth.RoleAdmin, OrganizationID: "org2"}
	unassigned = auth.Identity{UserID: "u4", Role: auth.RoleUnassigned}
)

func TestCreateIncidentDefaultsAndScoping(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	inc, err := svc.CreateIncident(ctx, org1Editor, incident.IncidentInput{
		Title:   "Suspicious login burst",
		CVERefs: []string{" cve-2024-1234 ", "CVE-2024-1234", "CVE-2023-99999"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if inc.Severity != incident.SeverityMedium || inc.Status != incident.StatusOpen {
		t.Fatalf("defaults not applied: severity=%s status=%s", inc.Severity, inc.Status)
	}
	if inc.OrganizationID != "org1" || inc.ReporterUserID != "u1" {
		t.Fatalf("scoping fields wrong: %+v", inc)
	}
	if len(inc.CVERefs) != 2 || inc.CVERefs[0] != "CVE-2024-1234" {
		t.Fatalf("cve refs not normalized: %v", inc.CVERefs)
	}
}

func TestCreateIncidentValidation(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	if _, err := svc.CreateIncident(ctx, org1Editor, incident.IncidentInput{Title: "  "}); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("blank title: got %v", err)
	}
	if _, err := svc.CreateIncident(ctx, org1Editor, incident.IncidentInput{
		Title: "x", Severity: "apocalyptic",
	}); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("bad severity: got %v", err)
	}
	if _, err := svc.CreateIncident(ctx, org1Editor, incident.IncidentInput{
		Title: "x", CVERefs: []string{"CVE-24-1"},
	}); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("bad cve: got %v", err)
	}
}

func TestCreateIncidentDeniedForViewerAndUnassigned(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	var denied *auth.DeniedError
	_, err := svc.CreateIncident(ctx, org1Viewer, incident.IncidentInput{Title: "x"})
	if !errors.As(err, &denied) || denied.Reason != auth.ReasonInsufficientRole {
		t.Fatalf("viewer create: got %v", err)
	}
	_, err = svc.CreateIncident(ctx, unassigned, incident.IncidentInput{Title: "x"})
	if !errors.As(err, &denied) {
		t.Fatalf("unassigned create: got %v", err)
	}
}

func TestGetIncidentCrossTenantIsNotFound(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	seeded, err := store.CreateIncident(ctx, incident.Incident{
		ID: "inc1", OrganizationID: "org1", Title: "Data exfil",
		Severity: incident.SeverityHigh, Status: incident.StatusOpen,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Same org reads fine.
	if _, err := svc.GetIncident(ctx, org1Viewer, seeded.ID); err != nil {
		t.Fatalf("same-org read: %v", err)
	}
	// Foreign org gets not-found, never forbidden.
	if _, err := svc.GetIncident(ctx, org2Admin, seeded.ID); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("cross-tenant read: got %v, want ErrNotFound", err)
	}
}

func TestUpdateIncidentCrossTenantIsForbidden(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	if _, err := store.CreateIncident(ctx, incident.Incident{
		ID: "inc1", OrganizationID: "org1", Title: "Data exfil",
		Severity: incident.SeverityHigh, Status: incident.StatusOpen,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	title := "hijacked"
	var denied *auth.DeniedError
	_, err := svc.UpdateIncident(ctx, org2Admin, "inc1", incident.IncidentUpdate{Title: &title})
	if !errors.As(err, &denied) || denied.Reason != auth.ReasonWrongOrganization {
		t.Fatalf("cross-tenant update: got %v, want wrong_organization denial", err)
	}
}

func TestUpdateIncidentStatusTransition(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	if _, err := store.CreateIncident(ctx, incident.Incident{
		ID: "inc1", OrganizationID: "org1", Title: "Ransomware",
		Severity: incident.SeverityCritical, Status: incident.StatusOpen,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	status := incident.StatusContained
	updated, err := svc.UpdateIncident(ctx, org1Editor, "inc1", incident.IncidentUpdate{Status: &status})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Status != incident.StatusContained {
		t.Fatalf("status = %s", updated.Status)
	}

	bad := "closed"
	if _, err := svc.UpdateIncident(ctx, org1Editor, "inc1", incident.IncidentUpdate{Status: &bad}); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("invalid status: got %v", err)
	}
}

func TestListIncidentsScopedToCallerOrganization(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	for _, inc := range []incident.Incident{
		{ID: "a", OrganizationID: "org1", Title: "one", Severity: incident.SeverityLow, Status: incident.StatusOpen},
		{ID: "b", OrganizationID: "org2", Title: "two", Severity: incident.SeverityLow, Status: incident.StatusOpen},
		{ID: "c", OrganizationID: "org1", Title: "three", Severity: incident.SeverityLow, Status: incident.StatusOpen},
	} {
		if _, err := store.CreateIncident(ctx, inc); err != nil {
			t.Fatalf("seed %s: %v", inc.ID, err)
		}
	}

	got, err := svc.ListIncidents(ctx, org1Viewer)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	for _, inc := range got {
		if inc.OrganizationID != "org1" {
			t.Fatalf("leaked foreign incident %s", inc.ID)
		}
	}

	if _, err := svc.ListIncidents(ctx, unassigned); err == nil {
		t.Fatal("unassigned list should be denied")
	}
}

func TestThreatActorLifecycle(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	actor, err := svc.CreateThreatActor(ctx, org1Editor, incident.ThreatActorInput{
		Name: " Lazarus Group ", Aliases: []string{"HIDDEN COBRA"}, Origin: "KP",
	})
	if err != nil {
		t.Fatalf("create actor: %v", err)
	}
	if actor.Name != "Lazarus Group" {
		t.Fatalf("name not trimmed: %q", actor.Name)
	}

	// Viewer can read but not delete.
	if _, err := svc.GetThreatActor(ctx, org1Viewer, actor.ID); err != nil {
		t.Fatalf("viewer read: %v", err)
	}
	var denied *auth.DeniedError
	if err := svc.DeleteThreatActor(ctx, org1Viewer, actor.ID); !errors.As(err, &denied) {
		t.Fatalf("viewer delete: got %v", err)
	}

	// Cross-tenant read is not-found.
	if _, err := svc.GetThreatActor(ctx, org2Admin, actor.ID); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("cross-tenant actor read: got %v", err)
	}

	if err := svc.DeleteThreatActor(ctx, org1Editor, actor.ID); err != nil {
		t.Fatalf("editor delete: %v", err)
	}
	if _, err := svc.GetThreatActor(ctx, org1Editor, actor.ID); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("actor should be gone, got %v", err)
	}
}
