package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/sakif/ghostwriter/internal/model"
)

// ErrUnverifiedEmail is returned by ResolveEmail when the provider does not
// vouch for the address.
var ErrUnverifiedEmail = errors.New("auth: provider email is not verified")

// Profile is the provider-neutral part of a user's identity.
type Profile struct {
	ExternalID    string
	Login         string
	Name          string
	Email         string
	EmailVerified bool
	AvatarURL     string
}

// Provider is one OAuth identity provider. The handshake logic (state,
// cookies, session issuance) is written once against this interface.
type Provider interface {
	Name() model.Provider
	AuthURL(state string) string
	ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error)
	FetchProfile(ctx context.Context, tok *oauth2.Token) (*Profile, error)
	ResolveEmail(ctx context.Context, tok *oauth2.Token, p *Profile) (string, error)
}

// ProviderConfig holds the OAuth client registration for a provider.
// Endpoint and APIBaseURL are optional overrides (tests point them at httptest servers).
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
	Endpoint     oauth2.Endpoint
	APIBaseURL   string
}

// Configured reports whether client credentials are present.
func (c ProviderConfig) Configured() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// getJSON performs an authenticated GET and decodes the JSON body into v.
func getJSON(ctx context.Context, client *http.Client, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("GET %s: unexpected status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding %s: %w", url, err)
	}
	return nil
}
