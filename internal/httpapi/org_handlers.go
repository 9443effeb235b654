package httpapi

import (
	"net/http"
	"strings"

	"incidentry.org/internal/audit"
	"incidentry.org/internal/auth"
	"incidentry.org/internal/org"
)

type createOrganizationRequest struct {
	Name        string   `json:"name"`
	Industry    string   `json:"industry"`
	Nationality string   `json:"nationality"`
	Software    []string `json:"software"`
}

func (a *API) handleOrganizations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	identity, ok := identityFrom(w, r)
	if !ok {
		return
	}
	var req createOrganizationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	created, err := a.lifecycle.CreateOrganization(r.Context(), identity, org.OrganizationInput{
		Name:        req.Name,
		Industry:    req.Industry,
		Nationality: req.Nationality,
		Software:    req.Software,
	})
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	audit.LogEvent(r.Context(), "organization_created", map[string]any{
		"target_organization_id": created.ID,
	})
	writeJSON(w, http.StatusCreated, created)
}

type updateOrganizationRequest struct {
	Name        *string  `json:"name"`
	Status      *string  `json:"status"`
	Industry    *string  `json:"industry"`
	Nationality *string  `json:"nationality"`
	Software    []string `json:"software"`
}

type changeRoleRequest struct {
	Role string `json:"role"`
}

// handleOrganizationScoped routes everything under /v1/organizations/{id}:
// the organization itself, its member list, and per-member role/removal.
func (a *API) handleOrganizationScoped(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(w, r)
	if !ok {
		return
	}
	rest := trimPathPrefix(r.URL.Path, "/v1/organizations/")
	if rest == "" {
		writeError(w, r, http.StatusNotFound, "not_found", "resource not found")
		return
	}
	parts := strings.Split(rest, "/")
	orgID := parts[0]

	switch {
	case len(parts) == 1:
		a.serveOrganization(w, r, identity, orgID)
	case len(parts) == 2 && parts[1] == "users":
		a.serveMemberList(w, r, identity, orgID)
	case len(parts) == 3 && parts[1] == "users":
		a.serveMember(w, r, identity, orgID, parts[2])
	case len(parts) == 4 && parts[1] == "users" && parts[3] == "role":
		a.serveMemberRole(w, r, identity, orgID, parts[2])
	default:
		writeError(w, r, http.StatusNotFound, "not_found", "resource not found")
	}
}

func (a *API) serveOrganization(w http.ResponseWriter, r *http.Request, identity auth.Identity, orgID string) {
	switch r.Method {
	case http.MethodGet:
		o, err := a.lifecycle.GetOrganization(r.Context(), identity, orgID)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, o)
	case http.MethodPatch:
		var req updateOrganizationRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
			return
		}
		o, err := a.lifecycle.UpdateOrganization(r.Context(), identity, orgID, org.OrganizationUpdate{
			Name:        req.Name,
			Status:      req.Status,
			Industry:    req.Industry,
			Nationality: req.Nationality,
			Software:    req.Software,
		})
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		audit.LogEvent(r.Context(), "organization_updated", map[string]any{
			"target_organization_id": orgID,
		})
		writeJSON(w, http.StatusOK, o)
	case http.MethodDelete:
		summary, err := a.lifecycle.DeleteOrganization(r.Context(), identity, orgID)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		audit.LogEvent(r.Context(), "organization_deleted", map[string]any{
			"target_organization_id": orgID,
			"users_reassigned":       summary.UsersReassigned,
			"incidents_deleted":      summary.IncidentsDeleted,
			"threat_actors_deleted":  summary.ThreatActorsDeleted,
		})
		writeJSON(w, http.StatusOK, summary)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) serveMemberList(w http.ResponseWriter, r *http.Request, identity auth.Identity, orgID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	members, err := a.lifecycle.ListMembers(r.Context(), identity, orgID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"users": members,
		"count": len(members),
	})
}

func (a *API) serveMember(w http.ResponseWriter, r *http.Request, identity auth.Identity, orgID, userID string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	user, err := a.lifecycle.RemoveMember(r.Context(), identity, orgID, userID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	audit.LogEvent(r.Context(), "member_removed", map[string]any{
		"target_organization_id": orgID,
		"target_user_id":         userID,
	})
	writeJSON(w, http.StatusOK, user)
}

func (a *API) serveMemberRole(w http.ResponseWriter, r *http.Request, identity auth.Identity, orgID, userID string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	var req changeRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	user, err := a.lifecycle.ChangeMemberRole(r.Context(), identity, orgID, userID, auth.ParseRole(req.Role))
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	audit.LogEvent(r.Context(), "member_role_changed", map[string]any{
		"target_organization_id": orgID,
		"target_user_id":         userID,
		"new_role":               string(user.Role),
	})
	writeJSON(w, http.StatusOK, user)
}

// handleUserResource serves DELETE /v1/users/{id}: account deletion by an
// admin of the user's organization or by the user themselves.
func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(w, r)
	if !ok {
		return
	}
	userID := trimPathPrefix(r.URL.Path, "/v1/users/")
	if userID == "" || strings.Contains(userID, "/") {
		writeError(w, r, http.StatusNotFound, "not_found", "resource not found")
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	if err := a.lifecycle.DeleteUser(r.Context(), identity, userID); err != nil {
		handleDomainError(w, r, err)
		return
	}
	audit.LogEvent(r.Context(), "user_deleted", map[string]any{
		"target_user_id": userID,
	})
	w.WriteHeader(http.StatusNoContent)
}
