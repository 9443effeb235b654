package httpapi

import (
	"net/http"
	"strings"

	"incidentry.org/internal/audit"
	"incidentry.org/internal/incident"
)

type createIncidentRequest struct {
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Severity       string   `json:"severity"`
	Status         string   `json:"status"`
	CVERefs        []string `json:"cve_refs"`
	ThreatActorIDs []string `json:"threat_actor_ids"`
}

type updateIncidentRequest struct {
	Title          *string  `json:"title"`
	Description    *string  `json:"description"`
	Severity       *string  `json:"severity"`
	Status         *string  `json:"status"`
	CVERefs        []string `json:"cve_refs"`
	ThreatActorIDs []string `json:"threat_actor_ids"`
}

func (a *API) handleIncidents(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		incidents, err := a.incidents.ListIncidents(r.Context(), identity)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"incidents": incidents,
			"count":     len(incidents),
		})
	case http.MethodPost:
		var req createIncidentRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
			return
		}
		created, err := a.incidents.CreateIncident(r.Context(), identity, incident.IncidentInput{
			Title:          req.Title,
			Description:    req.Description,
			Severity:       req.Severity,
			Status:         req.Status,
			CVERefs:        req.CVERefs,
			ThreatActorIDs: req.ThreatActorIDs,
		})
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		audit.LogEvent(r.Context(), "incident_created", map[string]any{
			"incident_id": created.ID,
			"severity":    created.Severity,
		})
		writeJSON(w, http.StatusCreated, created)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleIncidentResource(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(w, r)
	if !ok {
		return
	}
	id := trimPathPrefix(r.URL.Path, "/v1/incidents/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "not_found", "resource not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		inc, err := a.incidents.GetIncident(r.Context(), identity, id)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, inc)
	case http.MethodPatch:
		var req updateIncidentRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
			return
		}
		inc, err := a.incidents.UpdateIncident(r.Context(), identity, id, incident.IncidentUpdate{
			Title:          req.Title,
			Description:    req.Description,
			Severity:       req.Severity,
			Status:         req.Status,
			CVERefs:        req.CVERefs,
			ThreatActorIDs: req.ThreatActorIDs,
		})
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		audit.LogEvent(r.Context(), "incident_updated", map[string]any{
			"incident_id": id,
		})
		writeJSON(w, http.StatusOK, inc)
	case http.MethodDelete:
		if err := a.incidents.DeleteIncident(r.Context(), identity, id); err != nil {
			handleDomainError(w, r, err)
			return
		}
		audit.LogEvent(r.Context(), "incident_deleted", map[string]any{
			"incident_id": id,
		})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

type createThreatActorRequest struct {
	Name        string   `json:"name"`
	Aliases     []string `json:"aliases"`
	Origin      string   `json:"origin"`
	Description string   `json:"description"`
}

type updateThreatActorRequest struct {
	Name        *string  `json:"name"`
	Aliases     []string `json:"aliases"`
	Origin      *string  `json:"origin"`
	Description *string  `json:"description"`
}

func (a *API) handleThreatActors(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		actors, err := a.incidents.ListThreatActors(r.Context(), identity)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"threat_actors": actors,
			"count":         len(actors),
		})
	case http.MethodPost:
		var req createThreatActorRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
			return
		}
		created, err := a.incidents.CreateThreatActor(r.Context(), identity, incident.ThreatActorInput{
			Name:        req.Name,
			Aliases:     req.Aliases,
			Origin:      req.Origin,
			Description: req.Description,
		})
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		audit.LogEvent(r.Context(), "threat_actor_created", map[string]any{
			"threat_actor_id": created.ID,
		})
		writeJSON(w, http.StatusCreated, created)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleThreatActorResource(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(w, r)
	if !ok {
		return
	}
	id := trimPathPrefix(r.URL.Path, "/v1/threat-actors/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "not_found", "resource not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		actor, err := a.incidents.GetThreatActor(r.Context(), identity, id)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, actor)
	case http.MethodPatch:
		var req updateThreatActorRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
			return
		}
		actor, err := a.incidents.UpdateThreatActor(r.Context(), identity, id, incident.ThreatActorUpdate{
			Name:        req.Name,
			Aliases:     req.Aliases,
			Origin:      req.Origin,
			Description: req.Description,
		})
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		audit.LogEvent(r.Context(), "threat_actor_updated", map[string]any{
			"threat_actor_id": id,
		})
		writeJSON(w, http.StatusOK, actor)
	case http.MethodDelete:
		if err := a.incidents.DeleteThreatActor(r.Context(), identity, id); err != nil {
			handleDomainError(w, r, err)
			return
		}
		audit.LogEvent(r.Context(), "threat_actor_deleted", map[string]any{
			"threat_actor_id": id,
		})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}
