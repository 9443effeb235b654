// Package mem is an in-memory store used by tests and single-binary
// deployments without Postgres. Atomic batches are implemented with full
// mutual exclusion plus a snapshot restored on failure, so a failed batch
// leaves no partial effects.
package mem

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"incidentry.org/internal/auth"
	"incidentry.org/internal/incident"
	"incidentry.org/internal/org"
)

// Store holds all collections behind one mutex.
type Store struct {
	mu  sync.Mutex
	st  state
	now func() time.Time
}

type state struct {
	users     map[string]auth.User
	orgs      map[string]auth.Organization
	incidents map[string]incident.Incident
	actors    map[string]incident.ThreatActor
}

var (
	_ org.Store          = (*Store)(nil)
	_ incident.Store     = (*Store)(nil)
	_ auth.UserDirectory = (*Store)(nil)
)

// New returns an empty store.
func New() *Store {
	return &Store{
		st: state{
			users:     make(map[string]auth.User),
			orgs:      make(map[string]auth.Organization),
			incidents: make(map[string]incident.Incident),
			actors:    make(map[string]incident.ThreatActor),
		},
		now: time.Now,
	}
}

func (st state) clone() state {
	out := state{
		users:     make(map[string]auth.User, len(st.users)),
		orgs:      make(map[string]auth.Organization, len(st.orgs)),
		incidents: make(map[string]incident.Incident, len(st.incidents)),
		actors:    make(map[string]incident.ThreatActor, len(st.actors)),
	}
	for k, v := range st.users {
		out.users[k] = v
	}
	for k, v := range st.orgs {
		v.Software = append([]string(nil), v.Software...)
		out.orgs[k] = v
	}
	for k, v := range st.incidents {
		v.CVERefs = append([]string(nil), v.CVERefs...)
		v.ThreatActorIDs = append([]string(nil), v.ThreatActorIDs...)
		out.incidents[k] = v
	}
	for k, v := range st.actors {
		v.Aliases = append([]string(nil), v.Aliases...)
		out.actors[k] = v
	}
	return out
}

// Atomic runs fn under full exclusion. On error the pre-batch snapshot is
// restored, so either every write in fn applies or none do.
func (s *Store) Atomic(ctx context.Context, fn func(org.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.st.clone()
	if err := fn(txView{s}); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

// txView exposes the unlocked operations to an Atomic body. The outer call
// already holds the store mutex.
type txView struct{ s *Store }

func (t txView) CreateOrganization(ctx context.Context, o auth.Organization) (auth.Organization, error) {
	return t.s.createOrganization(o)
}
func (t txView) GetOrganization(ctx context.Context, id string) (auth.Organization, error) {
	return t.s.getOrganization(id)
}
func (t txView) UpdateOrganization(ctx context.Context, id string, upd org.OrganizationUpdate) (auth.Organization, error) {
	return t.s.updateOrganization(id, upd)
}
func (t txView) DeleteOrganization(ctx context.Context, id string) error {
	return t.s.deleteOrganization(id)
}
func (t txView) CreateUser(ctx context.Context, u auth.User) (auth.User, error) {
	return t.s.createUser(u)
}
func (t txView) GetUser(ctx context.Context, id string) (auth.User, error) { return t.s.getUser(id) }
func (t txView) FindUserBySubject(ctx context.Context, subjectID string) (auth.User, error) {
	return t.s.findUserBySubject(subjectID)
}
func (t txView) ListUsersByOrganization(ctx context.Context, orgID string) ([]auth.User, error) {
	return t.s.listUsersByOrganization(orgID)
}
func (t txView) UpdateUser(ctx context.Context, id string, upd org.UserUpdate) (auth.User, error) {
	return t.s.updateUser(id, upd)
}
func (t txView) DeleteUser(ctx context.Context, id string) error { return t.s.deleteUser(id) }
func (t txView) CountUsers(ctx context.Context) (int, error)     { return len(t.s.st.users), nil }
func (t txView) DeleteIncidentsByOrganization(ctx context.Context, orgID string) (int, error) {
	return t.s.deleteIncidentsByOrganization(orgID)
}
func (t txView) DeleteThreatActorsByOrganization(ctx context.Context, orgID string) (int, error) {
	return t.s.deleteThreatActorsByOrganization(orgID)
}
func (t txView) Atomic(ctx context.Context, fn func(org.Store) error) error {
	// Nested batches join the outer one.
	return fn(t)
}

// --- organizations ---

func (s *Store) CreateOrganization(ctx context.Context, o auth.Organization) (auth.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createOrganization(o)
}

func (s *Store) createOrganization(o auth.Organization) (auth.Organization, error) {
	if o.ID == "" {
		return auth.Organization{}, fmt.Errorf("%w: organization id is required", auth.ErrInvalidInput)
	}
	if _, ok := s.st.orgs[o.ID]; ok {
		return auth.Organization{}, auth.ErrConflict
	}
	now := s.now().UTC()
	o.CreatedAt = now
	o.UpdatedAt = now
	s.st.orgs[o.ID] = o
	return o, nil
}

func (s *Store) GetOrganization(ctx context.Context, id string) (auth.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrganization(id)
}

func (s *Store) getOrganization(id string) (auth.Organization, error) {
	o, ok := s.st.orgs[id]
	if !ok {
		return auth.Organization{}, auth.ErrNotFound
	}
	return o, nil
}

func (s *Store) UpdateOrganization(ctx context.Context, id string, upd org.OrganizationUpdate) (auth.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateOrganization(id, upd)
}

func (s *Store) updateOrganization(id string, upd org.OrganizationUpdate) (auth.Organization, error) {
	o, ok := s.st.orgs[id]
	if !ok {
		return auth.Organization{}, auth.ErrNotFound
	}
	if upd.Name != nil {
		o.Name = *upd.Name
	}
	if upd.Status != nil {
		o.Status = *upd.Status
	}
	if upd.Industry != nil {
		o.Industry = *upd.Industry
	}
	if upd.Nationality != nil {
		o.Nationality = *upd.Nationality
	}
	if upd.Software != nil {
		o.Software = append([]string(nil), upd.Software...)
	}
	o.UpdatedAt = s.now().UTC()
	s.st.orgs[id] = o
	return o, nil
}

func (s *Store) DeleteOrganization(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteOrganization(id)
}

func (s *Store) deleteOrganization(id string) error {
	if _, ok := s.st.orgs[id]; !ok {
		return auth.ErrNotFound
	}
	delete(s.st.orgs, id)
	return nil
}

// --- users ---

func (s *Store) CreateUser(ctx context.Context, u auth.User) (auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createUser(u)
}

func (s *Store) createUser(u auth.User) (auth.User, error) {
	if u.ID == "" {
		return auth.User{}, fmt.Errorf("%w: user id is required", auth.ErrInvalidInput)
	}
	if _, ok := s.st.users[u.ID]; ok {
		return auth.User{}, auth.ErrConflict
	}
	for _, existing := range s.st.users {
		if existing.ExternalSubjectID == u.ExternalSubjectID || strings.EqualFold(existing.Email, u.Email) {
			return auth.User{}, auth.ErrConflict
		}
	}
	now := s.now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	s.st.users[u.ID] = u
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getUser(id)
}

func (s *Store) getUser(id string) (auth.User, error) {
	u, ok := s.st.users[id]
	if !ok {
		return auth.User{}, auth.ErrNotFound
	}
	return u, nil
}

func (s *Store) FindUserBySubject(ctx context.Context, subjectID string) (auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findUserBySubject(subjectID)
}

func (s *Store) findUserBySubject(subjectID string) (auth.User, error) {
	for _, u := range s.st.users {
		if u.ExternalSubjectID == subjectID {
			return u, nil
		}
	}
	return auth.User{}, auth.ErrNotFound
}

func (s *Store) ListUsersByOrganization(ctx context.Context, orgID string) ([]auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listUsersByOrganization(orgID)
}

func (s *Store) listUsersByOrganization(orgID string) ([]auth.User, error) {
	var out []auth.User
	for _, u := range s.st.users {
		if u.OrganizationID == orgID && orgID != "" {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) UpdateUser(ctx context.Context, id string, upd org.UserUpdate) (auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateUser(id, upd)
}

func (s *Store) updateUser(id string, upd org.UserUpdate) (auth.User, error) {
	u, ok := s.st.users[id]
	if !ok {
		return auth.User{}, auth.ErrNotFound
	}
	if upd.Email != nil {
		u.Email = *upd.Email
	}
	if upd.Role != nil {
		u.Role = *upd.Role
	}
	if upd.OrganizationID != nil {
		u.OrganizationID = *upd.OrganizationID
	}
	if upd.Status != nil {
		u.Status = *upd.Status
	}
	u.UpdatedAt = s.now().UTC()
	s.st.users[id] = u
	return u, nil
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteUser(id)
}

func (s *Store) deleteUser(id string) error {
	if _, ok := s.st.users[id]; !ok {
		return auth.ErrNotFound
	}
	delete(s.st.users, id)
	return nil
}

func (s *Store) CountUsers(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.users), nil
}

// --- incidents ---

func (s *Store) CreateIncident(ctx context.Context, inc incident.Incident) (incident.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inc.ID == "" {
		return incident.Incident{}, fmt.Errorf("%w: incident id is required", auth.ErrInvalidInput)
	}
	if _, ok := s.st.incidents[inc.ID]; ok {
		return incident.Incident{}, auth.ErrConflict
	}
	now := s.now().UTC()
	inc.CreatedAt = now
	inc.UpdatedAt = now
	s.st.incidents[inc.ID] = inc
	return inc, nil
}

func (s *Store) GetIncident(ctx context.Context, id string) (incident.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inc, ok := s.st.incidents[id]
	if !ok {
		return incident.Incident{}, auth.ErrNotFound
	}
	return inc, nil
}

func (s *Store) ListIncidentsByOrganization(ctx context.Context, orgID string) ([]incident.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []incident.Incident
	for _, inc := range s.st.incidents {
		if inc.OrganizationID == orgID && orgID != "" {
			out = append(out, inc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) UpdateIncident(ctx context.Context, id string, upd incident.IncidentUpdate) (incident.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inc, ok := s.st.incidents[id]
	if !ok {
		return incident.Incident{}, auth.ErrNotFound
	}
	if upd.Title != nil {
		inc.Title = *upd.Title
	}
	if upd.Description != nil {
		inc.Description = *upd.Description
	}
	if upd.Severity != nil {
		inc.Severity = *upd.Severity
	}
	if upd.Status != nil {
		inc.Status = *upd.Status
	}
	if upd.CVERefs != nil {
		inc.CVERefs = append([]string(nil), upd.CVERefs...)
	}
	if upd.ThreatActorIDs != nil {
		inc.ThreatActorIDs = append([]string(nil), upd.ThreatActorIDs...)
	}
	inc.UpdatedAt = s.now().UTC()
	s.st.incidents[id] = inc
	return inc, nil
}

func (s *Store) DeleteIncident(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.incidents[id]; !ok {
		return auth.ErrNotFound
	}
	delete(s.st.incidents, id)
	return nil
}

func (s *Store) deleteIncidentsByOrganization(orgID string) (int, error) {
	n := 0
	for id, inc := range s.st.incidents {
		if inc.OrganizationID == orgID {
			delete(s.st.incidents, id)
			n++
		}
	}
	return n, nil
}

// DeleteIncidentsByOrganization removes every incident in the organization.
func (s *Store) DeleteIncidentsByOrganization(ctx context.Context, orgID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteIncidentsByOrganization(orgID)
}

// --- threat actors ---

func (s *Store) CreateThreatActor(ctx context.Context, actor incident.ThreatActor) (incident.ThreatActor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if actor.ID == "" {
		return incident.ThreatActor{}, fmt.Errorf("%w: threat actor id is required", auth.ErrInvalidInput)
	}
	if _, ok := s.st.actors[actor.ID]; ok {
		return incident.ThreatActor{}, auth.ErrConflict
	}
	now := s.now().UTC()
	actor.CreatedAt = now
	actor.UpdatedAt = now
	s.st.actors[actor.ID] = actor
	return actor, nil
}

func (s *Store) GetThreatActor(ctx context.Context, id string) (incident.ThreatActor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	actor, ok := s.st.actors[id]
	if !ok {
		return incident.ThreatActor{}, auth.ErrNotFound
	}
	return actor, nil
}

func (s *Store) ListThreatActorsByOrganization(ctx context.Context, orgID string) ([]incident.ThreatActor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []incident.ThreatActor
	for _, actor := range s.st.actors {
		if actor.OrganizationID == orgID && orgID != "" {
			out = append(out, actor)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) UpdateThreatActor(ctx context.Context, id string, upd incident.ThreatActorUpdate) (incident.ThreatActor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	actor, ok := s.st.actors[id]
	if !ok {
		return incident.ThreatActor{}, auth.ErrNotFound
	}
	if upd.Name != nil {
		actor.Name = *upd.Name
	}
	if upd.Aliases != nil {
		actor.Aliases = append([]string(nil), upd.Aliases...)
	}
	if upd.Origin != nil {
		actor.Origin = *upd.Origin
	}
	if upd.Description != nil {
		actor.Description = *upd.Description
	}
	actor.UpdatedAt = s.now().UTC()
	s.st.actors[id] = actor
	return actor, nil
}

func (s *Store) DeleteThreatActor(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.actors[id]; !ok {
		return auth.ErrNotFound
	}
	delete(s.st.actors, id)
	return nil
}

func (s *Store) deleteThreatActorsByOrganization(orgID string) (int, error) {
	n := 0
	for id, actor := range s.st.actors {
		if actor.OrganizationID == orgID {
			delete(s.st.actors, id)
			n++
		}
	}
	return n, nil
}

// DeleteThreatActorsByOrganization removes every threat actor in the organization.
func (s *Store) DeleteThreatActorsByOrganization(ctx context.Context, orgID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteThreatActorsByOrganization(orgID)
}
