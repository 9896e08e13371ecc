package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
	"golang.org/x/oauth2/github"
)

// Profile is the provider-independent identity returned by Exchange.
type Profile struct {
	ProviderAccountID string // stable ID at the provider, never the email
	Email             string
	Name              string
	Image             string
}

// Provider wraps golang.org/x/oauth2 for one Authorization Code provider.
//
// OAUTH 2.0 AUTHORIZATION CODE FLOW:
//  1. The server redirects the user to the provider's authorization
//     endpoint with our ClientID and the requested scopes.
//  2. The user approves (or denies) on the provider's site.
//  3. The provider redirects back to our callback URL with a short-lived code.
//  4. The server exchanges the code for an access token (server-to-server).
//  5. The server uses the access token to fetch the user's profile.
//
// The code-for-token exchange uses the ClientSecret and never passes through
// the browser.
type Provider struct {
	name    string
	config  *oauth2.Config
	apiBase string
	fetch   func(ctx context.Context, p *Provider, client *http.Client) (*Profile, error)
}

// Name is the provider's route segment, e.g. "github".
func (p *Provider) Name() string { return p.name }

// NewGitHubProvider creates a GitHub provider.
//
// Register an OAuth App at https://github.com/settings/developers.
// callbackURL must match the "Authorization callback URL" exactly,
// e.g. "http://localhost:8080/auth/github/callback".
//
// Scopes:
//   - "read:user": public profile (ID, login, avatar)
//   - "user:email": email addresses, including hidden ones
func NewGitHubProvider(clientID, clientSecret, callbackURL string) *Provider {
	return &Provider{
		name: "github",
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Scopes:       []string{"read:user", "user:email"},
			Endpoint:     github.Endpoint,
		},
		apiBase: "https://api.github.com",
		fetch:   fetchGitHubProfile,
	}
}

// NewGoogleProvider creates a Google provider using the OpenID Connect
// userinfo endpoint.
func NewGoogleProvider(clientID, clientSecret, callbackURL string) *Provider {
	return &Provider{
		name: "google",
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     endpoints.Google,
		},
		apiBase: "https://openidconnect.googleapis.com",
		fetch:   fetchGoogleProfile,
	}
}

// AuthURL returns the URL to redirect the user to for authorization.
//
// STATE PARAMETER:
// state is a random value the handler also stores in a short-lived cookie.
// The callback checks that both match, which stops CSRF attacks that would
// complete an OAuth flow for the attacker's account in the victim's browser.
func (p *Provider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange trades the authorization code for the provider token and the
// user's profile.
func (p *Provider) Exchange(ctx context.Context, code string) (*Profile, *oauth2.Token, error) {
	oauthToken, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, nil, fmt.Errorf("auth: exchanging %s OAuth code: %w", p.name, err)
	}

	// config.Client adds "Authorization: Bearer <token>" to every request.
	client := p.config.Client(ctx, oauthToken)

	profile, err := p.fetch(ctx, p, client)
	if err != nil {
		return nil, nil, err
	}
	if profile.ProviderAccountID == "" {
		return nil, nil, fmt.Errorf("auth: %s returned a profile without an ID", p.name)
	}
	if profile.Email == "" {
		return nil, nil, fmt.Errorf("auth: %s account has no usable email address", p.name)
	}
	return profile, oauthToken, nil
}

func getJSON(ctx context.Context, client *http.Client, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("auth: building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("auth: calling %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("auth: %s returned status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("auth: decoding %s response: %w", url, err)
	}
	return nil
}

// githubUser is the portion of the GitHub /user response we care about.
// https://docs.github.com/en/rest/users/users#get-the-authenticated-user
type githubUser struct {
	ID        int64  `json:"id"` // stable, never changes
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"` // empty if hidden in GitHub settings
	AvatarURL string `json:"avatar_url"`
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

func fetchGitHubProfile(ctx context.Context, p *Provider, client *http.Client) (*Profile, error) {
	var u githubUser
	if err := getJSON(ctx, client, p.apiBase+"/user", &u); err != nil {
		return nil, err
	}
	if u.ID == 0 {
		return nil, errors.New("auth: GitHub returned an invalid user (ID = 0)")
	}

	email := u.Email
	if email == "" {
		// Hidden email: ask /user/emails for the primary verified address.
		var emails []githubEmail
		if err := getJSON(ctx, client, p.apiBase+"/user/emails", &emails); err != nil {
			return nil, err
		}
		for _, e := range emails {
			if e.Primary && e.Verified {
				email = e.Email
				break
			}
		}
	}

	name := u.Name
	if name == "" {
		name = u.Login
	}
	return &Profile{
		ProviderAccountID: strconv.FormatInt(u.ID, 10),
		Email:             email,
		Name:              name,
		Image:             u.AvatarURL,
	}, nil
}

type googleUserInfo struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

func fetchGoogleProfile(ctx context.Context, p *Provider, client *http.Client) (*Profile, error) {
	var u googleUserInfo
	if err := getJSON(ctx, client, p.apiBase+"/v1/userinfo", &u); err != nil {
		return nil, err
	}
	email := u.Email
	if !u.EmailVerified {
		email = ""
	}
	return &Profile{
		ProviderAccountID: u.Sub,
		Email:             email,
		Name:              u.Name,
		Image:             u.Picture,
	}, nil
}
