package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/sakif/ghostwriter/internal/auth"
	"github.com/sakif/ghostwriter/internal/model"
	"github.com/sakif/ghostwriter/internal/service"
)

// OAuthHandler drives the browser side of one provider's OAuth flow. The
// same handler type serves GitHub and Google; only the auth.Provider differs.
type OAuthHandler struct {
	provider    auth.Provider
	states      *auth.StateStore
	users       *service.AuthService
	cookies     auth.Cookies
	frontendURL string
	logger      *slog.Logger
}

func NewOAuthHandler(
	provider auth.Provider,
	states *auth.StateStore,
	users *service.AuthService,
	cookies auth.Cookies,
	frontendURL string,
	logger *slog.Logger,
) *OAuthHandler {
	return &OAuthHandler{
		provider:    provider,
		states:      states,
		users:       users,
		cookies:     cookies,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		logger:      logger.With(slog.String("provider", string(provider.Name()))),
	}
}

// HandleStart redirects the browser to the provider's consent page.
//
// HTTP: GET /api/auth/{provider}
func (h *OAuthHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	state, err := h.states.Issue(w, r, string(h.provider.Name()))
	if err != nil {
		h.logger.Error("oauth start: issuing state", slog.String("error", err.Error()))
		h.fail(w, r)
		return
	}
	http.Redirect(w, r, h.provider.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleCallback completes the flow. Every failure ends in a redirect to the
// login page with an opaque error code; details only go to the log.
//
// HTTP: GET /api/auth/{provider}/callback?code=xxx&state=yyy
func (h *OAuthHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	// Consume first: the state cookie is cleared on every outcome.
	if err := h.states.Consume(w, r, string(h.provider.Name()), q.Get("state")); err != nil {
		h.logger.Warn("oauth callback: state check failed")
		h.fail(w, r)
		return
	}
	if errParam := q.Get("error"); errParam != "" {
		h.logger.Info("oauth callback: provider returned error", slog.String("error", errParam))
		h.fail(w, r)
		return
	}
	code := q.Get("code")
	if code == "" {
		h.logger.Warn("oauth callback: missing code")
		h.fail(w, r)
		return
	}

	ctx := r.Context()
	tok, err := h.provider.ExchangeCode(ctx, code)
	if err != nil {
		h.logger.Error("oauth callback: code exchange failed", slog.String("error", err.Error()))
		h.fail(w, r)
		return
	}
	profile, err := h.provider.FetchProfile(ctx, tok)
	if err != nil {
		h.logger.Error("oauth callback: fetching profile failed", slog.String("error", err.Error()))
		h.fail(w, r)
		return
	}
	email, err := h.provider.ResolveEmail(ctx, tok, profile)
	if err != nil {
		h.logger.Warn("oauth callback: resolving email failed", slog.String("error", err.Error()))
		h.fail(w, r)
		return
	}

	result, err := h.users.LoginOAuth(ctx, service.OAuthLogin{
		Provider:    h.provider.Name(),
		Profile:     profile,
		Email:       email,
		AccessToken: tok.AccessToken,
	})
	var collision *service.CollisionError
	switch {
	case errors.As(err, &collision):
		h.logger.Info("oauth callback: email already registered",
			slog.String("existingProvider", string(collision.ExistingProvider)))
		if collision.Local() {
			h.redirectLogin(w, r, url.Values{"error": {"local_account_exists"}})
			return
		}
		h.redirectLogin(w, r, url.Values{
			"error":    {"account_exists"},
			"provider": {string(collision.ExistingProvider)},
		})
		return
	case err != nil:
		h.logger.Error("oauth callback: resolving user failed", slog.String("error", err.Error()))
		h.fail(w, r)
		return
	}

	h.cookies.SetSession(w, result.Token)
	h.cookies.SetProviderToken(w, h.provider.Name(), tok.AccessToken)
	http.Redirect(w, r, h.frontendURL+"/dashboard/"+url.PathEscape(result.User.ID), http.StatusSeeOther)
}

func (h *OAuthHandler) fail(w http.ResponseWriter, r *http.Request) {
	h.redirectLogin(w, r, url.Values{"error": {"oauth_failed"}})
}

func (h *OAuthHandler) redirectLogin(w http.ResponseWriter, r *http.Request, q url.Values) {
	http.Redirect(w, r, h.frontendURL+"/login?"+q.Encode(), http.StatusSeeOther)
}

// SessionHandler serves the local credential endpoints and the session check.
type SessionHandler struct {
	users   *service.AuthService
	cookies auth.Cookies
	logger  *slog.Logger
}

func NewSessionHandler(users *service.AuthService, cookies auth.Cookies, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{users: users, cookies: cookies, logger: logger}
}

// UserView is the public projection of a user returned by the auth endpoints.
type UserView struct {
	ID        string         `json:"id"`
	Email     string         `json:"email"`
	Name      string         `json:"name"`
	FirstName string         `json:"firstName,omitempty"`
	LastName  string         `json:"lastName,omitempty"`
	Avatar    string         `json:"avatar,omitempty"`
	Provider  model.Provider `json:"provider"`
}

func userView(u *model.User) UserView {
	first, last, _ := strings.Cut(u.Name, " ")
	return UserView{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		FirstName: first,
		LastName:  last,
		Avatar:    u.AvatarURL,
		Provider:  u.Provider,
	}
}

func claimsView(c *auth.SessionClaims) UserView {
	first, last, _ := strings.Cut(c.Name, " ")
	return UserView{
		ID:        c.UserID(),
		Email:     c.Email,
		Name:      c.Name,
		FirstName: first,
		LastName:  last,
		Avatar:    c.Avatar,
		Provider:  c.Provider,
	}
}

type authResponse struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	User    UserView `json:"user"`
}

// HandleRegister creates an email/password account and signs it in.
//
// HTTP: POST /api/auth/register
func (h *SessionHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var in service.RegisterInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.users.Register(r.Context(), in)
	if err != nil {
		h.logFailure("register", err)
		writeError(w, err)
		return
	}

	h.cookies.SetSession(w, result.Token)
	writeJSON(w, http.StatusCreated, authResponse{
		Success: true,
		Message: "Account created successfully.",
		User:    userView(result.User),
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleLogin checks email/password credentials.
//
// HTTP: POST /api/auth/login
func (h *SessionHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var in loginRequest
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.users.Login(r.Context(), in.Email, in.Password)
	if err != nil {
		h.logFailure("login", err)
		writeError(w, err)
		return
	}

	h.cookies.SetSession(w, result.Token)
	writeJSON(w, http.StatusOK, authResponse{
		Success: true,
		Message: "Authentication successful.",
		User:    userView(result.User),
	})
}

// HandleLogout deletes the session and provider cookies. Tokens already
// issued stay valid until they expire.
//
// HTTP: POST|GET /api/auth/logout
func (h *SessionHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	h.cookies.ClearAll(w)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Session terminated successfully.",
	})
}

type sessionResponse struct {
	Authenticated bool      `json:"authenticated"`
	User          *UserView `json:"user"`
}

// HandleSession reports who is signed in. It runs behind OptionalSession and
// always answers 200. The user comes from the database when possible so a
// changed name shows up before the token is reissued.
//
// HTTP: GET /api/auth/session
func (h *SessionHandler) HandleSession(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.SessionFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusOK, sessionResponse{Authenticated: false})
		return
	}

	view := claimsView(claims)
	if user, err := h.users.GetUserByID(r.Context(), claims.UserID()); err == nil {
		view = userView(user)
	} else {
		h.logger.Debug("session user not loaded", slog.String("userID", claims.UserID()), slog.String("error", err.Error()))
	}
	writeJSON(w, http.StatusOK, sessionResponse{Authenticated: true, User: &view})
}

// logFailure logs unexpected errors only; client mistakes are routine.
func (h *SessionHandler) logFailure(op string, err error) {
	if status, _ := statusFor(err); status >= http.StatusInternalServerError {
		h.logger.Error(op+" failed", slog.String("error", err.Error()))
	}
}
