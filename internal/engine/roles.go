package engine

// Role is resolved by the external identity layer and never mutated here.
type Role string

const (
	RoleOwner     Role = "owner"
	RoleModerator Role = "moderator"
	RoleMember    Role = "member"
	RoleGuest     Role = "guest"
)

// NormalizeRole maps unknown role strings to guest, the least-privileged role.
func NormalizeRole(role string) Role {
	switch Role(role) {
	case RoleOwner, RoleModerator, RoleMember, RoleGuest:
		return Role(role)
	default:
		return RoleGuest
	}
}

// Permissions is the flag set derived from a participant's role at join time.
type Permissions struct {
	CanEdit    bool `json:"canEdit"`
	CanExecute bool `json:"canExecute"`
	CanShare   bool `json:"canShare"`
	CanInvite  bool `json:"canInvite"`
	CanManage  bool `json:"canManage"`
}

func permissionsFor(role Role) Permissions {
	switch role {
	case RoleOwner:
		return Permissions{CanEdit: true, CanExecute: true, CanShare: true, CanInvite: true, CanManage: true}
	case RoleModerator:
		return Permissions{CanEdit: true, CanExecute: true, CanShare: true, CanInvite: true}
	case RoleMember:
		return Permissions{CanEdit: true, CanExecute: true}
	default:
		return Permissions{}
	}
}
