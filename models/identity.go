package models

type Role string

const (
	RoleRequester Role = "requester"
	RoleProvider  Role = "provider"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleRequester, RoleProvider, RoleModerator, RoleAdmin:
		return true
	}
	return false
}

// Identity is a verified caller as resolved from a bearer credential.
type Identity struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// Staff identities (moderators and admins) may view any booking and bypass
// the per-booking role checks of the state machine.
func (i Identity) Staff() bool {
	return i.Role == RoleModerator || i.Role == RoleAdmin
}
