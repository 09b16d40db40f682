package auth

import (
	"net/http"
	"strconv"
	"time"

	"github.com/sakif/ghostwriter/internal/model"
)

const (
	SessionCookie        = "session"
	GitHubTokenCookie    = "github_token"
	GoogleTokenCookie    = "google_token"
	InstallationIDCookie = "github_installation_id"

	// providerTokenMaxAge is the lifetime of the provider access-token cookies.
	providerTokenMaxAge = 365 * 24 * time.Hour
)

// Cookies writes and clears the auth cookies. All of them are HttpOnly,
// SameSite=Lax and scoped to "/"; Secure follows the deployment environment.
type Cookies struct {
	Secure     bool
	SessionTTL time.Duration
}

func (c Cookies) set(w http.ResponseWriter, name, value string, maxAge time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (c Cookies) clear(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// SetSession stores a signed session token.
func (c Cookies) SetSession(w http.ResponseWriter, token string) {
	ttl := c.SessionTTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	c.set(w, SessionCookie, token, ttl)
}

// SetProviderToken stores the OAuth access token for the given provider.
func (c Cookies) SetProviderToken(w http.ResponseWriter, p model.Provider, token string) {
	if name := providerTokenCookie(p); name != "" {
		c.set(w, name, token, providerTokenMaxAge)
	}
}

// SetInstallationID remembers the GitHub App installation for the browser.
func (c Cookies) SetInstallationID(w http.ResponseWriter, id int64) {
	c.set(w, InstallationIDCookie, strconv.FormatInt(id, 10), providerTokenMaxAge)
}

// ClearAll removes the session and every provider cookie. Used by logout.
func (c Cookies) ClearAll(w http.ResponseWriter) {
	for _, name := range []string{SessionCookie, GitHubTokenCookie, GoogleTokenCookie, InstallationIDCookie} {
		c.clear(w, name)
	}
}

// ProviderToken returns the provider access token sent by the browser, if any.
func ProviderToken(r *http.Request, p model.Provider) string {
	name := providerTokenCookie(p)
	if name == "" {
		return ""
	}
	cookie, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// InstallationID returns the installation ID cookie, or 0.
func InstallationID(r *http.Request) int64 {
	cookie, err := r.Cookie(InstallationIDCookie)
	if err != nil {
		return 0
	}
	id, err := strconv.ParseInt(cookie.Value, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func providerTokenCookie(p model.Provider) string {
	switch p {
	case model.ProviderGitHub:
		return GitHubTokenCookie
	case model.ProviderGoogle:
		return GoogleTokenCookie
	}
	return ""
}
