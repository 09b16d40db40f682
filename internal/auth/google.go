package auth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/sakif/ghostwriter/internal/model"
)

const defaultGoogleUserInfo = "https://www.googleapis.com/oauth2/v2/userinfo"

// GoogleProvider implements Provider for Google sign-in.
type GoogleProvider struct {
	config      *oauth2.Config
	userInfoURL string
}

type googleUser struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// NewGoogleProvider builds the provider. cfg.APIBaseURL, when set, replaces
// the full userinfo URL.
func NewGoogleProvider(cfg ProviderConfig) *GoogleProvider {
	endpoint := cfg.Endpoint
	if endpoint.TokenURL == "" {
		endpoint = endpoints.Google
	}
	userInfo := cfg.APIBaseURL
	if userInfo == "" {
		userInfo = defaultGoogleUserInfo
	}

	return &GoogleProvider{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.CallbackURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     endpoint,
		},
		userInfoURL: userInfo,
	}
}

func (p *GoogleProvider) Name() model.Provider { return model.ProviderGoogle }

func (p *GoogleProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
}

func (p *GoogleProvider) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("auth/google: exchanging code: %w", err)
	}
	return tok, nil
}

func (p *GoogleProvider) FetchProfile(ctx context.Context, tok *oauth2.Token) (*Profile, error) {
	var u googleUser
	if err := getJSON(ctx, p.config.Client(ctx, tok), p.userInfoURL, &u); err != nil {
		return nil, fmt.Errorf("auth/google: fetching profile: %w", err)
	}
	if u.ID == "" {
		return nil, errors.New("auth/google: profile has no id")
	}

	return &Profile{
		ExternalID:    u.ID,
		Name:          u.Name,
		Email:         u.Email,
		EmailVerified: u.VerifiedEmail,
		AvatarURL:     u.Picture,
	}, nil
}

// ResolveEmail rejects addresses Google has not verified.
func (p *GoogleProvider) ResolveEmail(_ context.Context, _ *oauth2.Token, prof *Profile) (string, error) {
	if prof.Email == "" || !prof.EmailVerified {
		return "", ErrUnverifiedEmail
	}
	return prof.Email, nil
}
