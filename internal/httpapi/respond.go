package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"incidentry.org/internal/auth"
	"incidentry.org/internal/obs"
)

// errorBody is the uniform error envelope: a machine-distinguishable code
// plus a human message, never internals.
type errorBody struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, errCode, message string) {
	writeJSON(w, code, errorBody{
		Error:     errCode,
		Message:   message,
		RequestID: requestIDFrom(r),
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
}

// handleDomainError maps service failures onto the response taxonomy.
// Authorization denials carry the violated rule; store failures are
// collapsed into an internal error without details.
func handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var denied *auth.DeniedError
	switch {
	case errors.As(err, &denied):
		obs.CountAuthzDenial(string(denied.Reason))
		writeError(w, r, http.StatusForbidden, string(denied.Reason), deniedMessage(denied.Reason))
	case errors.Is(err, auth.ErrAdminRequirement):
		obs.CountAuthzDenial(string(auth.ReasonAdminRequirement))
		writeError(w, r, http.StatusConflict, string(auth.ReasonAdminRequirement),
			"organization must retain at least one admin while other members remain")
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", "resource not found")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal", "operation failed")
	}
}

func deniedMessage(reason auth.Reason) string {
	switch reason {
	case auth.ReasonInsufficientRole:
		return "your role does not permit this action"
	case auth.ReasonWrongOrganization:
		return "resource belongs to a different organization"
	case auth.ReasonCannotActOnSelf:
		return "you cannot perform this action on your own account"
	case auth.ReasonAdminRequirement:
		return "organization must retain at least one admin while other members remain"
	default:
		return "forbidden"
	}
}
