package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// LoginRequest holds credentials for authenticating a user.
type LoginRequest struct {
	ID       string `json:"id" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse returns the issued token and user info.
type LoginResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresIn   int64     `json:"expires_in"`
	User        UserInfo  `json:"user"`
	IssuedAt    time.Time `json:"issued_at"`
}

// UserInfo describes the authenticated user in responses.
type UserInfo struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Role      UserRole `json:"role"`
	Grade     int      `json:"grade,omitempty"`
	ClassName string   `json:"class_name,omitempty"`
}

// JWTClaims is the access token payload; it is the verified (id, role) pair
// every request acts under.
type JWTClaims struct {
	UserID    string   `json:"user_id"`
	Role      UserRole `json:"role"`
	Name      string   `json:"name"`
	Grade     int      `json:"grade,omitempty"`
	ClassName string   `json:"class_name,omitempty"`
	jwt.RegisteredClaims
}

// Group returns the grade+class carried in the token.
func (c *JWTClaims) Group() Group {
	return Group{Grade: c.Grade, ClassName: c.ClassName}
}
