package sso

import (
	"context"
	"errors"
	"fmt"

	"github.com/unuxt/unuxt/pkg/auth"
	"github.com/unuxt/unuxt/pkg/errdefs"
	"github.com/unuxt/unuxt/pkg/observability"
	"github.com/unuxt/unuxt/pkg/validation"
)

// Provisioner maps a social identity to a local user, creating the account
// on first login (just-in-time provisioning).
type Provisioner struct {
	users  *auth.PostgresService
	logger *observability.Logger
}

// NewProvisioner creates a Provisioner.
func NewProvisioner(users *auth.PostgresService, logger *observability.Logger) *Provisioner {
	return &Provisioner{users: users, logger: logger}
}

// Provision returns the local user for an identity. Accounts are matched by
// email; a first-time login creates the user with the provider's profile. A
// provider-verified email upgrades an unverified local account.
func (p *Provisioner) Provision(ctx context.Context, identity *Identity) (*auth.User, error) {
	email, err := validation.Email(identity.Email)
	if err != nil {
		return nil, err
	}

	user, err := p.users.GetUserByEmail(ctx, email)
	if err == nil {
		if identity.EmailVerified && !user.EmailVerified {
			if err := p.users.MarkEmailVerified(ctx, email); err != nil {
				return nil, err
			}
			user.EmailVerified = true
		}
		return user, nil
	}
	if !errors.Is(err, errdefs.ErrNotFound) {
		return nil, err
	}

	user = &auth.User{
		Email:         email,
		EmailVerified: identity.EmailVerified,
		Name:          identity.Name,
		Image:         identity.AvatarURL,
	}
	if err := p.users.CreateUser(ctx, user); err != nil {
		// A concurrent first login may have just created the account.
		if errors.Is(err, errdefs.ErrConflict) {
			return p.users.GetUserByEmail(ctx, email)
		}
		return nil, fmt.Errorf("failed to provision user: %w", err)
	}

	p.logger.WithFields(map[string]interface{}{
		"user_id":  user.ID,
		"provider": identity.Provider,
	}).Info("user provisioned from social login")

	return user, nil
}
