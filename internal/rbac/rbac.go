package rbac

// Role is a user's standing on one board. Every board has exactly one owner.
type Role string

// Action groups board operations by the standing they need.
type Action string

const (
	RoleOwner  Role = "owner"
	RoleMember Role = "member"
)

const (
	ActionRead  Action = "read"
	ActionWrite Action = "write"
	ActionAdmin Action = "admin"
)

// Board rename/delete and membership changes are ActionAdmin; column, card and
// label mutations are ActionWrite.
var grants = map[Role]map[Action]bool{
	RoleOwner:  {ActionRead: true, ActionWrite: true, ActionAdmin: true},
	RoleMember: {ActionRead: true, ActionWrite: true},
}

// Can reports whether role may perform action on its board.
func Can(role Role, action Action) bool {
	return grants[role][action]
}

// Normalize maps a stored role to a known one; unknown values demote to member.
func Normalize(role string) Role {
	if _, ok := grants[Role(role)]; ok {
		return Role(role)
	}
	return RoleMember
}
