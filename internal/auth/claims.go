package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess TokenType = "access"
	// TokenTypeRefresh is issued by the CRM for its own session renewal;
	// this service never accepts it.
	TokenTypeRefresh TokenType = "refresh"
)

// Claims are the only supported JWT claims shape for this service.
// AssignedNumbers is the caller's phone-number allow-list; admins may
// carry none and still see every call.
type Claims struct {
	jwt.RegisteredClaims

	UserID          string    `json:"user_id"`
	Role            string    `json:"role"`
	AssignedNumbers []string  `json:"assigned_numbers,omitempty"`
	TokenType       TokenType `json:"token_type"`
}

// Identity is the caller view handlers consume.
type Identity struct {
	UserID          string   `json:"userId"`
	Role            string   `json:"role"`
	AssignedNumbers []string `json:"assignedNumbers"`
}

func (c Claims) Identity() Identity {
	return Identity{UserID: c.UserID, Role: c.Role, AssignedNumbers: c.AssignedNumbers}
}
