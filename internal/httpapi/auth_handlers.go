package httpapi

import (
	"net/http"
	"time"

	"incidentry.org/internal/audit"
)

type registerRequest struct {
	Email string `json:"email"`
}

// handleRegister provisions the application user record for a verified
// subject. The route is public for the gate but still requires a valid
// credential: the subject is taken from the token, never from the body.
func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	subject, err := a.resolver.Subject(r.Context(), r.Header.Get(authHeader))
	if err != nil {
		respondAuthError(w, r, err)
		return
	}

	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	email := req.Email
	if email == "" {
		email = subject.Email
	}

	user, err := a.lifecycle.ProvisionUser(r.Context(), subject.ID, email)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	audit.LogEvent(r.Context(), "user_registered", map[string]any{
		"new_user_id":     user.ID,
		"role":            string(user.Role),
		"organization_id": user.OrganizationID,
	})
	writeJSON(w, http.StatusCreated, user)
}

type profileUpdateRequest struct {
	Email string `json:"email"`
}

// handleMe serves the caller's own profile: GET to read, PATCH to update.
func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		user, err := a.lifecycle.GetProfile(r.Context(), identity)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	case http.MethodPatch:
		var req profileUpdateRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
			return
		}
		user, err := a.lifecycle.UpdateProfile(r.Context(), identity, req.Email)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		audit.LogEvent(r.Context(), "profile_updated", nil)
		writeJSON(w, http.StatusOK, user)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch)
	}
}

type devTokenRequest struct {
	SubjectID  string `json:"subject_id"`
	Email      string `json:"email"`
	TTLSeconds int    `json:"ttl_seconds"`
}

// handleDevToken mints a signed token for local development. Disabled unless
// the server was started with the dev issuer.
func (a *API) handleDevToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if a.issuer == nil {
		writeError(w, r, http.StatusNotFound, "not_found", "resource not found")
		return
	}
	var req devTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	ttl := time.Duration(req.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = time.Hour
	}
	token, err := a.issuer.Issue(req.SubjectID, req.Email, ttl)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_in": int(ttl.Seconds()),
	})
}
