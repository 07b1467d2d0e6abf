package auth

import "errors"

// Role is the authorisation tier carried in an API token.
type Role string

const (
	// RoleViewer can read devices, models, playlists and the event stream.
	RoleViewer Role = "viewer"

	// RoleOperator can additionally send commands and read the audit log.
	RoleOperator Role = "operator"
)

// ValidRoles lists the roles a token may carry.
var ValidRoles = []Role{RoleViewer, RoleOperator}

// IsValidRole reports whether r is a known role.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if v == r {
			return true
		}
	}
	return false
}

// Token errors.
var (
	ErrTokenInvalid   = errors.New("invalid token")
	ErrTokenExpired   = errors.New("token has expired")
	ErrSecretTooShort = errors.New("jwt secret must be at least 32 characters")
)
