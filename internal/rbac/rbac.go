// Package rbac defines the single closed role set shared by team
// memberships and team invitations.
package rbac

type Role string
type Action string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionInvite Action = "invite"
	ActionManage Action = "manage"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleOwner:
		return true
	case RoleAdmin:
		return action == ActionRead || action == ActionWrite || action == ActionInvite
	case RoleMember:
		return action == ActionRead || action == ActionWrite
	default:
		return false
	}
}

// Valid reports whether a raw string names a role in the closed set.
// Unlike Normalize it does not coerce; invitation roles must be exact.
func Valid(role string) bool {
	switch Role(role) {
	case RoleOwner, RoleAdmin, RoleMember:
		return true
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleOwner, RoleAdmin, RoleMember:
		return Role(role)
	default:
		return RoleMember
	}
}

// Assignable reports whether a role may appear on an invitation. Ownership
// is never granted by invitation; it moves only by explicit transfer.
func Assignable(role Role) bool {
	return role == RoleAdmin || role == RoleMember
}
