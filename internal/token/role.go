package token

// Role is the authorization level carried by a credential. The order is
// meaningful only for display; routing compares roles exactly.
type Role int

const (
	RoleGuest Role = iota
	RoleUser
	RoleAdmin
	RoleSuperAdmin
)

var roleNames = map[Role]string{
	RoleGuest:      "Guest",
	RoleUser:       "User",
	RoleAdmin:      "Admin",
	RoleSuperAdmin: "SuperAdmin",
}

// String returns the canonical claim value for the role.
func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return "Unknown"
}

// ParseRole matches a claim value against the canonical role names.
// Matching is exact and case-sensitive: "Superadmin" is not a role.
func ParseRole(s string) (Role, bool) {
	for role, name := range roleNames {
		if name == s {
			return role, true
		}
	}
	return RoleGuest, false
}
