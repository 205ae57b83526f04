package auth

import "github.com/golang-jwt/jwt/v5"

// RoleAdmin is the only role allowed to drive manual order transitions.
const RoleAdmin = "admin"

// AdminClaims is the bearer token issued to back-office operators by the
// external identity provider.
type AdminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// IsAdmin reports whether the token grants admin access.
func (c *AdminClaims) IsAdmin() bool {
	return c != nil && c.Role == RoleAdmin
}
