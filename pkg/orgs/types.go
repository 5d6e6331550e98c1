package orgs

import (
	"context"
	"time"

	"github.com/unuxt/unuxt/pkg/roles"
)

// Organization is a tenant. Slug is the URL-safe unique handle.
type Organization struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Slug      string                 `json:"slug"`
	Logo      string                 `json:"logo,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// Member links a user to an organization with a role. Email and Name are
// joined in from the user record for display.
type Member struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organization_id"`
	UserID         string     `json:"user_id"`
	Role           roles.Role `json:"role"`
	Email          string     `json:"email,omitempty"`
	Name           string     `json:"name,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// InvitationStatus tracks the invitation lifecycle. Pending is the only
// state with outgoing transitions.
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationExpired  InvitationStatus = "expired"
	InvitationCanceled InvitationStatus = "canceled"
)

// Invitation is an emailed offer to join an organization. The raw token is
// populated only when the invitation is created or re-sent.
type Invitation struct {
	ID             string           `json:"id"`
	OrganizationID string           `json:"organization_id"`
	Email          string           `json:"email"`
	Role           roles.Role       `json:"role"`
	Token          string           `json:"token,omitempty"`
	Status         InvitationStatus `json:"status"`
	ExpiresAt      time.Time        `json:"expires_at"`
	InviterID      string           `json:"inviter_id"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// Actor identifies who is performing an operation. Admin marks a platform
// administrator, who passes all organization permission checks.
type Actor struct {
	UserID string
	Admin  bool
}

// CreateOrgRequest is the payload for creating an organization.
type CreateOrgRequest struct {
	Name     string                 `json:"name"`
	Slug     string                 `json:"slug"`
	Logo     string                 `json:"logo,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// UpdateOrgRequest is the payload for a partial organization update.
type UpdateOrgRequest struct {
	Name     *string                `json:"name,omitempty"`
	Slug     *string                `json:"slug,omitempty"`
	Logo     *string                `json:"logo,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// CreateInvitationRequest is the payload for inviting a user.
type CreateInvitationRequest struct {
	Email string     `json:"email"`
	Role  roles.Role `json:"role"`
}

// Notifier delivers invitation emails. Implementations must not block the
// caller; delivery happens after the database transaction commits and its
// failure never rolls back the invitation.
type Notifier interface {
	InvitationCreated(ctx context.Context, org *Organization, invitation *Invitation)
}
