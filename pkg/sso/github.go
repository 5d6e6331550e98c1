package sso

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

const githubAPIBaseURL = "https://api.github.com"

// githubProvider signs users in through GitHub's OAuth2 flow. GitHub is not
// an OIDC issuer, so the identity comes from the REST API instead of an ID
// token. The primary email may be private and requires a second call.
type githubProvider struct {
	oauth2Config *oauth2.Config
	apiBaseURL   string
}

func newGitHubProvider(clientID, clientSecret, redirectURL string) *githubProvider {
	return &githubProvider{
		oauth2Config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     github.Endpoint,
			RedirectURL:  redirectURL,
			Scopes:       []string{"read:user", "user:email"},
		},
		apiBaseURL: githubAPIBaseURL,
	}
}

func (p *githubProvider) Name() string { return "github" }

func (p *githubProvider) AuthCodeURL(state string) string {
	return p.oauth2Config.AuthCodeURL(state)
}

func (p *githubProvider) FetchIdentity(ctx context.Context, code string) (*Identity, error) {
	token, err := p.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}

	client := p.oauth2Config.Client(ctx, token)

	var profile struct {
		ID        int64  `json:"id"`
		Login     string `json:"login"`
		Name      string `json:"name"`
		Email     string `json:"email"`
		AvatarURL string `json:"avatar_url"`
	}
	if err := p.getJSON(client, "/user", &profile); err != nil {
		return nil, fmt.Errorf("failed to fetch user profile: %w", err)
	}

	identity := &Identity{
		Provider:   p.Name(),
		ExternalID: strconv.FormatInt(profile.ID, 10),
		Email:      profile.Email,
		Name:       profile.Name,
		AvatarURL:  profile.AvatarURL,
	}
	if identity.Name == "" {
		identity.Name = profile.Login
	}

	// The profile email is empty when the user keeps it private; the emails
	// endpoint always has the primary address.
	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := p.getJSON(client, "/user/emails", &emails); err != nil {
		return nil, fmt.Errorf("failed to fetch user emails: %w", err)
	}

	for _, e := range emails {
		if e.Primary {
			identity.Email = e.Email
			identity.EmailVerified = e.Verified
			break
		}
	}

	if identity.Email == "" {
		return nil, fmt.Errorf("missing email in GitHub response")
	}

	return identity, nil
}

func (p *githubProvider) getJSON(client *http.Client, path string, out interface{}) error {
	resp, err := client.Get(p.apiBaseURL + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
