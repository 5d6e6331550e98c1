// Package roles defines the organization role and permission model.
//
// Permissions are a fixed mapping from each role to a set of named
// capabilities. The mapping is static: owner holds every permission,
// admin everything except organization deletion and role changes, and
// member read-only access. Unknown roles resolve to the empty set.
package roles

// Role is an organization-level role.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// GlobalRole is a platform-level role carried on the user record.
type GlobalRole string

const (
	GlobalRoleUser  GlobalRole = "user"
	GlobalRoleAdmin GlobalRole = "admin"
)

// Resource is an entity class a permission applies to.
type Resource string

const (
	ResourceOrganization Resource = "organization"
	ResourceMember       Resource = "member"
	ResourceInvitation   Resource = "invitation"
)

// Action is an operation on a resource.
type Action string

const (
	ActionRead       Action = "read"
	ActionUpdate     Action = "update"
	ActionDelete     Action = "delete"
	ActionInvite     Action = "invite"
	ActionRemove     Action = "remove"
	ActionUpdateRole Action = "updateRole"
	ActionCreate     Action = "create"
	ActionRevoke     Action = "revoke"
)

// Permission is a named capability gating one organization or membership action.
type Permission struct {
	Resource Resource `json:"resource"`
	Action   Action   `json:"action"`
}

// String returns the canonical "resource:action" form.
func (p Permission) String() string {
	return string(p.Resource) + ":" + string(p.Action)
}

// The nine permissions in the system.
var (
	PermOrganizationRead   = Permission{ResourceOrganization, ActionRead}
	PermOrganizationUpdate = Permission{ResourceOrganization, ActionUpdate}
	PermOrganizationDelete = Permission{ResourceOrganization, ActionDelete}
	PermMemberRead         = Permission{ResourceMember, ActionRead}
	PermMemberInvite       = Permission{ResourceMember, ActionInvite}
	PermMemberRemove       = Permission{ResourceMember, ActionRemove}
	PermMemberUpdateRole   = Permission{ResourceMember, ActionUpdateRole}
	PermInvitationCreate   = Permission{ResourceInvitation, ActionCreate}
	PermInvitationRevoke   = Permission{ResourceInvitation, ActionRevoke}
)

// AllPermissions lists every permission, in stable order.
func AllPermissions() []Permission {
	return []Permission{
		PermOrganizationRead,
		PermOrganizationUpdate,
		PermOrganizationDelete,
		PermMemberRead,
		PermMemberInvite,
		PermMemberRemove,
		PermMemberUpdateRole,
		PermInvitationCreate,
		PermInvitationRevoke,
	}
}

// rolePermissions is the static grant table. Owner holds all nine; admin
// everything except organization:delete and member:updateRole; member is
// read-only.
var rolePermissions = map[Role][]Permission{
	RoleOwner: AllPermissions(),
	RoleAdmin: {
		PermOrganizationRead,
		PermOrganizationUpdate,
		PermMemberRead,
		PermMemberInvite,
		PermMemberRemove,
		PermInvitationCreate,
		PermInvitationRevoke,
	},
	RoleMember: {
		PermOrganizationRead,
		PermMemberRead,
	},
}

// PermissionsFor returns the permission set for a role. Unknown roles get
// the empty set.
func PermissionsFor(role Role) []Permission {
	perms, ok := rolePermissions[role]
	if !ok {
		return nil
	}
	out := make([]Permission, len(perms))
	copy(out, perms)
	return out
}

// HasPermission reports whether a role holds a permission. Fails closed on
// unknown roles.
func HasPermission(role Role, perm Permission) bool {
	for _, p := range rolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}

// Valid reports whether role is one of the three defined organization roles.
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember:
		return true
	}
	return false
}

// ValidInvitationRole reports whether role may be proposed on an invitation.
// Ownership is never granted by invitation.
func ValidInvitationRole(role Role) bool {
	return role == RoleAdmin || role == RoleMember
}

// Valid reports whether r is a defined platform role.
func (r GlobalRole) Valid() bool {
	return r == GlobalRoleUser || r == GlobalRoleAdmin
}
