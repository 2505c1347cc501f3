package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	// TokenTypeAccess is a short-lived user token (agents, supervisors, admins).
	TokenTypeAccess TokenType = "access"
	// TokenTypeService is a long-lived machine token for the dialer and engagement services.
	TokenTypeService TokenType = "service"
)

// ServiceRole is the only role a service token may carry.
const ServiceRole = "integration"

// Claims are the only supported JWT claims shape for this service.
// Subject mirrors UserID; for agents it is the rep ID.
type Claims struct {
	jwt.RegisteredClaims

	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	TokenType TokenType `json:"token_type"`
}

func (c Claims) Identity() Identity {
	return Identity{UserID: c.UserID, Role: c.Role}
}
