package incident

import (
	"regexp"
	"time"
)

// Severity levels, ordered from least to most urgent.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Incident workflow states.
const (
	StatusOpen          = "open"
	StatusInvestigating = "investigating"
	StatusContained     = "contained"
	StatusResolved      = "resolved"
)

// Incident is a tenant-scoped security incident record.
type Incident struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	ReporterUserID string    `json:"reporter_user_id"`
	Title          string    `json:"title"`
	Description    string    `json:"description,omitempty"`
	Severity       string    `json:"severity"`
	Status         string    `json:"status"`
	CVERefs        []string  `json:"cve_refs,omitempty"`
	ThreatActorIDs []string  `json:"threat_actor_ids,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ThreatActor is a tenant-scoped adversary profile referenced by incidents.
type ThreatActor struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Name           string    `json:"name"`
	Aliases        []string  `json:"aliases,omitempty"`
	Origin         string    `json:"origin,omitempty"`
	Description    string    `json:"description,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

var cvePattern = regexp.MustCompile(`^CVE-\d{4}-\d{4,}$`)

// ValidCVE reports whether s has the canonical CVE identifier shape.
func ValidCVE(s string) bool {
	return cvePattern.MatchString(s)
}

func validSeverity(s string) bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

func validStatus(s string) bool {
	switch s {
	case StatusOpen, StatusInvestigating, StatusContained, StatusResolved:
		return true
	}
	return false
}
