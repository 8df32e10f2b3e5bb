package authgate

// Role is a user's authorization level.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
	RoleReviewer  Role = "reviewer"
	RoleViewer    Role = "viewer"
)

// ParseRole maps a directory role string onto a known Role.
// Unknown strings degrade to viewer, the least-privileged role.
func ParseRole(s string) Role {
	switch Role(s) {
	case RoleAdmin, RoleModerator, RoleReviewer, RoleViewer:
		return Role(s)
	default:
		return RoleViewer
	}
}

// Permission is a single capability derivable from a role.
type Permission string

const (
	PermView         Permission = "view"
	PermMessage      Permission = "message"
	PermReview       Permission = "review"
	PermModerate     Permission = "moderate"
	PermManageUsers  Permission = "manage_users"
	PermManageSystem Permission = "manage_system"
)

// rolePermissions is the static role → capability table.
var rolePermissions = map[Role][]Permission{
	RoleAdmin:     {PermView, PermMessage, PermReview, PermModerate, PermManageUsers, PermManageSystem},
	RoleModerator: {PermView, PermMessage, PermReview, PermModerate},
	RoleReviewer:  {PermView, PermMessage, PermReview},
	RoleViewer:    {PermView, PermMessage},
}

// PermissionsForRole returns a copy of the capability set for a role.
func PermissionsForRole(role Role) []Permission {
	perms := rolePermissions[role]
	out := make([]Permission, len(perms))
	copy(out, perms)
	return out
}

// AuthContext is the result of a successful authentication check.
// Immutable once constructed; one instance per accepted connection.
type AuthContext struct {
	UserID      int64
	Username    string
	Email       string
	Role        Role
	SessionID   string
	Permissions []Permission
	IsAdmin     bool

	// Optional platform connection the session is bound to.
	PlatformConnectionID *int64
	PlatformName         string
	PlatformType         string
}

// HasPermission reports whether the context carries the given capability.
func (c *AuthContext) HasPermission(p Permission) bool {
	for _, perm := range c.Permissions {
		if perm == p {
			return true
		}
	}
	return false
}
