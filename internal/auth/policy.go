package auth

import "fmt"

// Action identifies an operation a caller is about to perform. Every route
// handler names its action explicitly; the allow-list below is the single
// source of truth for role requirements.
type Action string

const (
	ActionOrgCreate Action = "org.create"
	ActionOrgView   Action = "org.view"
	ActionOrgUpdate Action = "org.update"
	ActionOrgDelete Action = "org.delete"

	ActionUserList     Action = "user.list"
	ActionUserUpdate   Action = "user.update"
	ActionUserDelete   Action = "user.delete"
	ActionRoleChange   Action = "user.role.change"
	ActionMemberRemove Action = "org.member.remove"

	ActionProfileView   Action = "profile.view"
	ActionProfileUpdate Action = "profile.update"

	ActionIncidentCreate Action = "incident.create"
	ActionIncidentView   Action = "incident.view"
	ActionIncidentUpdate Action = "incident.update"
	ActionIncidentDelete Action = "incident.delete"

	ActionActorCreate Action = "threat_actor.create"
	ActionActorView   Action = "threat_actor.view"
	ActionActorUpdate Action = "threat_actor.update"
	ActionActorDelete Action = "threat_actor.delete"
)

// Reason tags a denial so callers can produce precise error messages.
type Reason string

const (
	ReasonInsufficientRole  Reason = "insufficient_role"
	ReasonWrongOrganization Reason = "wrong_organization"
	ReasonCannotActOnSelf   Reason = "cannot_act_on_self"
	ReasonAdminRequirement  Reason = "admin_requirement_violated"
)

// Caller is the policy engine's view of the verified identity.
type Caller struct {
	UserID         string
	Role           Role
	OrganizationID string
}

// Resource is the policy engine's view of the target. OwnerUserID is set only
// for user-owned targets (profiles, accounts); OrganizationID is empty for
// resources that exist outside any tenant (a new organization, for example).
type Resource struct {
	OrganizationID string
	OwnerUserID    string
}

// Decision is the outcome of a single authorization check.
type Decision struct {
	Allowed bool
	Reason  Reason
}

func allow() Decision             { return Decision{Allowed: true} }
func deny(reason Reason) Decision { return Decision{Reason: reason} }

// Err converts a denial into an error carrying its reason; nil when allowed.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &DeniedError{Reason: d.Reason}
}

// DeniedError is returned by authorization checks; Reason names the rule that
// failed.
type DeniedError struct {
	Reason Reason
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("authorization denied: %s", e.Reason)
}

// actionRoles maps every action to the set of roles allowed to perform it.
// Roles form a partial order by capability, not a strict hierarchy: some
// actions are admin-only regardless of editor capability.
var actionRoles = map[Action][]Role{
	ActionOrgCreate: {RoleAdmin, RoleEditor, RoleViewer, RoleUnassigned},
	ActionOrgView:   {RoleAdmin, RoleEditor, RoleViewer},
	ActionOrgUpdate: {RoleAdmin},
	ActionOrgDelete: {RoleAdmin},

	ActionUserList:     {RoleAdmin},
	ActionUserUpdate:   {RoleAdmin},
	ActionUserDelete:   {RoleAdmin},
	ActionRoleChange:   {RoleAdmin},
	ActionMemberRemove: {RoleAdmin},

	ActionProfileView:   {RoleAdmin, RoleEditor, RoleViewer, RoleUnassigned},
	ActionProfileUpdate: {RoleAdmin, RoleEditor, RoleViewer, RoleUnassigned},

	ActionIncidentCreate: {RoleAdmin, RoleEditor},
	ActionIncidentView:   {RoleAdmin, RoleEditor, RoleViewer},
	ActionIncidentUpdate: {RoleAdmin, RoleEditor},
	ActionIncidentDelete: {RoleAdmin, RoleEditor},

	ActionActorCreate: {RoleAdmin, RoleEditor},
	ActionActorView:   {RoleAdmin, RoleEditor, RoleViewer},
	ActionActorUpdate: {RoleAdmin, RoleEditor},
	ActionActorDelete: {RoleAdmin, RoleEditor},
}

// selfScoped actions are permitted to the resource's own user regardless of
// role, layered on top of the role rules for acting on other users.
var selfScoped = map[Action]bool{
	ActionProfileView:   true,
	ActionProfileUpdate: true,
	ActionUserDelete:    true,
	ActionMemberRemove:  true,
}

// Decide is the pure authorization decision function. No state, no I/O.
//
// Checks run independently and deny wins:
//   - self-role-change: a caller may not change their own role through the
//     generic role action (dedicated lifecycle flows re-check the admin
//     invariant instead);
//   - self-scope: own-profile actions bypass the role table;
//   - role set: the caller's role must be in the action's allow-list;
//   - organization scope: for any tenant-scoped resource the caller must
//     belong to the same organization, regardless of role.
func Decide(caller Caller, res Resource, action Action) Decision {
	if action == ActionRoleChange && res.OwnerUserID != "" && res.OwnerUserID == caller.UserID {
		return deny(ReasonCannotActOnSelf)
	}
	if selfScoped[action] && res.OwnerUserID != "" && res.OwnerUserID == caller.UserID {
		return allow()
	}
	if !roleAllowed(caller.Role, action) {
		return deny(ReasonInsufficientRole)
	}
	if res.OrganizationID != "" && caller.OrganizationID != res.OrganizationID {
		return deny(ReasonWrongOrganization)
	}
	return allow()
}

func roleAllowed(role Role, action Action) bool {
	for _, allowed := range actionRoles[action] {
		if role == allowed {
			return true
		}
	}
	return false
}
