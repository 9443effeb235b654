package auth

import (
	"strings"
	"time"
)

// Role controls the action allow-list for a user. Exactly one role at a time.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleEditor     Role = "editor"
	RoleViewer     Role = "viewer"
	RoleUnassigned Role = "unassigned"
)

// ParseRole normalizes a stored or transmitted role value.
// Unknown and empty values map to RoleUnassigned (least privilege).
func ParseRole(s string) Role {
	switch Role(strings.TrimSpace(strings.ToLower(s))) {
	case RoleAdmin:
		return RoleAdmin
	case RoleEditor:
		return RoleEditor
	case RoleViewer:
		return RoleViewer
	default:
		return RoleUnassigned
	}
}

// Valid reports whether r is one of the four recognised role values.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleEditor, RoleViewer, RoleUnassigned:
		return true
	}
	return false
}

const (
	UserStatusActive   = "active"
	UserStatusInactive = "inactive"

	OrganizationStatusActive   = "active"
	OrganizationStatusInactive = "inactive"
)

// User represents an application account resolved from a verified identity subject.
// OrganizationID is the empty string while the user is unassigned.
type User struct {
	ID                string    `json:"id"`
	ExternalSubjectID string    `json:"external_subject_id"`
	Email             string    `json:"email"`
	Role              Role      `json:"role"`
	OrganizationID    string    `json:"organization_id"`
	Status            string    `json:"status"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Organization is the tenant-isolation boundary. Users and incidents belong to
// exactly one organization or none.
type Organization struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Status      string    `json:"status"`
	Industry    string    `json:"industry,omitempty"`
	Nationality string    `json:"nationality,omitempty"`
	Software    []string  `json:"software,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Identity is the verified caller attached to a request context by the gate.
type Identity struct {
	UserID         string `json:"user_id"`
	Role           Role   `json:"role"`
	OrganizationID string `json:"organization_id"`
}

// Caller converts an identity into the policy engine's caller view.
func (id Identity) Caller() Caller {
	return Caller{UserID: id.UserID, Role: id.Role, OrganizationID: id.OrganizationID}
}
