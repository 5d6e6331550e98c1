// Package sso implements social login with Google and GitHub. Each provider
// runs the OAuth2 authorization code flow and resolves the remote account to
// an Identity; the Provisioner then finds or creates the matching local user.
package sso

import (
	"context"
	"fmt"

	"github.com/unuxt/unuxt/pkg/config"
	"github.com/unuxt/unuxt/pkg/errdefs"
)

// Identity is what a provider knows about the signed-in account.
type Identity struct {
	Provider      string `json:"provider"`
	ExternalID    string `json:"external_id"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name,omitempty"`
	AvatarURL     string `json:"avatar_url,omitempty"`
}

// Provider runs the authorization code flow for one social login provider.
type Provider interface {
	Name() string
	// AuthCodeURL builds the provider's authorization URL for a state value.
	AuthCodeURL(state string) string
	// FetchIdentity exchanges the callback code and resolves the identity.
	FetchIdentity(ctx context.Context, code string) (*Identity, error)
}

// Registry holds the configured providers keyed by name.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry builds providers for every configured OAuth credential pair.
// Callback URLs are rooted at baseURL.
func NewRegistry(ctx context.Context, cfg config.OAuthConfig, baseURL string) (*Registry, error) {
	r := &Registry{providers: make(map[string]Provider)}

	if cfg.GoogleEnabled() {
		google, err := newGoogleProvider(ctx, googleIssuer, cfg.GoogleClientID, cfg.GoogleClientSecret,
			callbackURL(baseURL, "google"))
		if err != nil {
			return nil, fmt.Errorf("failed to configure google provider: %w", err)
		}
		r.providers[google.Name()] = google
	}

	if cfg.GitHubEnabled() {
		r.providers["github"] = newGitHubProvider(cfg.GitHubClientID, cfg.GitHubClientSecret,
			callbackURL(baseURL, "github"))
	}

	return r, nil
}

// Provider looks up a provider by name.
func (r *Registry) Provider(name string) (Provider, error) {
	provider, ok := r.providers[name]
	if !ok {
		return nil, errdefs.NotFound("unknown social login provider %q", name)
	}
	return provider, nil
}

// Names lists the configured provider names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

func callbackURL(baseURL, provider string) string {
	return fmt.Sprintf("%s/api/auth/callback/%s", baseURL, provider)
}
