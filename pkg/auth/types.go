package auth

import (
	"time"

	"github.com/unuxt/unuxt/pkg/roles"
)

// User represents a registered account.
type User struct {
	ID            string           `json:"id"`
	Email         string           `json:"email"`
	EmailVerified bool             `json:"email_verified"`
	Name          string           `json:"name,omitempty"`
	Image         string           `json:"image,omitempty"`
	Role          roles.GlobalRole `json:"role"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// IsAdmin reports whether the user holds the platform admin role.
func (u *User) IsAdmin() bool {
	return u.Role == roles.GlobalRoleAdmin
}

// Session represents a logged-in session. The raw token is only returned at
// creation time; at rest only its SHA-256 hash is stored.
type Session struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Token       string    `json:"token,omitempty"`
	TokenPrefix string    `json:"token_prefix"`
	IPAddress   string    `json:"ip_address,omitempty"`
	UserAgent   string    `json:"user_agent,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SessionInfo is the session gateway result handed to downstream components:
// who is calling, as ground truth.
type SessionInfo struct {
	SessionID     string
	UserID        string
	Email         string
	EmailVerified bool
	Role          roles.GlobalRole
}

// TokenPurpose classifies single-use login tokens.
type TokenPurpose string

const (
	PurposeVerifyEmail   TokenPurpose = "verify_email"
	PurposePasswordReset TokenPurpose = "password_reset"
	PurposeMagicLink     TokenPurpose = "magic_link"
)

// LoginToken is a single-use emailed token (verification, password reset,
// magic link). Only its hash is stored.
type LoginToken struct {
	ID         string       `json:"id"`
	Email      string       `json:"email"`
	Purpose    TokenPurpose `json:"purpose"`
	Token      string       `json:"token,omitempty"`
	ExpiresAt  time.Time    `json:"expires_at"`
	ConsumedAt *time.Time   `json:"consumed_at,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}

// RegisterRequest is the payload for password registration.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// LoginRequest is the payload for password login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UpdateUserRequest is the payload for profile updates.
type UpdateUserRequest struct {
	Name  *string `json:"name,omitempty"`
	Image *string `json:"image,omitempty"`
}
