package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"

	"github.com/sakif/ghostwriter/internal/model"
)

const defaultGitHubAPI = "https://api.github.com"

// GitHubProvider implements Provider for GitHub OAuth Apps.
type GitHubProvider struct {
	config  *oauth2.Config
	apiBase string
}

type githubUser struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// NewGitHubProvider requests read:user and user:email, the latter so that
// accounts with a private email can still be resolved.
func NewGitHubProvider(cfg ProviderConfig) *GitHubProvider {
	endpoint := cfg.Endpoint
	if endpoint.TokenURL == "" {
		endpoint = github.Endpoint
	}
	apiBase := cfg.APIBaseURL
	if apiBase == "" {
		apiBase = defaultGitHubAPI
	}

	return &GitHubProvider{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.CallbackURL,
			Scopes:       []string{"read:user", "user:email", "repo"},
			Endpoint:     endpoint,
		},
		apiBase: strings.TrimRight(apiBase, "/"),
	}
}

func (p *GitHubProvider) Name() model.Provider { return model.ProviderGitHub }

func (p *GitHubProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

func (p *GitHubProvider) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("auth/github: exchanging code: %w", err)
	}
	return tok, nil
}

func (p *GitHubProvider) FetchProfile(ctx context.Context, tok *oauth2.Token) (*Profile, error) {
	var u githubUser
	if err := getJSON(ctx, p.config.Client(ctx, tok), p.apiBase+"/user", &u); err != nil {
		return nil, fmt.Errorf("auth/github: fetching profile: %w", err)
	}
	if u.ID == 0 {
		return nil, errors.New("auth/github: profile has no id")
	}

	name := u.Name
	if name == "" {
		name = u.Login
	}
	return &Profile{
		ExternalID: strconv.FormatInt(u.ID, 10),
		Login:      u.Login,
		Name:       name,
		Email:      u.Email,
		AvatarURL:  u.AvatarURL,
	}, nil
}

// ResolveEmail returns the public profile email when present. Otherwise it
// asks /user/emails and picks the primary verified address, falling back to
// the first one listed.
func (p *GitHubProvider) ResolveEmail(ctx context.Context, tok *oauth2.Token, prof *Profile) (string, error) {
	if prof.Email != "" {
		return prof.Email, nil
	}

	var emails []githubEmail
	if err := getJSON(ctx, p.config.Client(ctx, tok), p.apiBase+"/user/emails", &emails); err != nil {
		return "", fmt.Errorf("auth/github: fetching emails: %w", err)
	}
	if len(emails) == 0 {
		return "", errors.New("auth/github: account has no email addresses")
	}

	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email, nil
		}
	}
	return emails[0].Email, nil
}
