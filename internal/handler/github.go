package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/sakif/ghostwriter/internal/apperror"
	"github.com/sakif/ghostwriter/internal/auth"
	"github.com/sakif/ghostwriter/internal/githubapp"
	"github.com/sakif/ghostwriter/internal/model"
	"github.com/sakif/ghostwriter/internal/scm"
	"github.com/sakif/ghostwriter/internal/service"
)

// RepoLister lists repositories on GitHub. *scm.Client satisfies it.
type RepoLister interface {
	ListUserRepos(ctx context.Context, token string) ([]scm.Repository, error)
	ListInstallationRepos(ctx context.Context, installationToken string) ([]scm.Repository, error)
}

// InstallationTokens issues GitHub App installation tokens.
// *githubapp.Client satisfies it.
type InstallationTokens interface {
	InstallationToken(ctx context.Context, installationID int64) (*githubapp.InstallationToken, error)
}

// GitHubHandler connects a signed-in user's GitHub account: app
// installation, repository sync by user token or by installation.
type GitHubHandler struct {
	appName     string
	app         InstallationTokens // nil when the GitHub App is not configured
	github      RepoLister
	repos       *service.RepoService
	users       *service.AuthService
	cookies     auth.Cookies
	frontendURL string
	logger      *slog.Logger
}

func NewGitHubHandler(
	appName string,
	app InstallationTokens,
	github RepoLister,
	repos *service.RepoService,
	users *service.AuthService,
	cookies auth.Cookies,
	frontendURL string,
	logger *slog.Logger,
) *GitHubHandler {
	return &GitHubHandler{
		appName:     appName,
		app:         app,
		github:      github,
		repos:       repos,
		users:       users,
		cookies:     cookies,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		logger:      logger,
	}
}

// HandleInstall sends the user to the app installation page. The session ID
// travels as the state and is checked on the way back.
//
// HTTP: GET /api/github/install
func (h *GitHubHandler) HandleInstall(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.SessionFromContext(r.Context())
	if h.appName == "" {
		h.logger.Error("github install: GITHUB_APP_NAME is not configured")
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{
			Error:   "not_configured",
			Message: "GitHub App is not configured. Please contact support.",
		})
		return
	}
	target := "https://github.com/apps/" + url.PathEscape(h.appName) +
		"/installations/new?state=" + url.QueryEscape(claims.SessionID)
	http.Redirect(w, r, target, http.StatusTemporaryRedirect)
}

// HandleInstallCallback records the installation GitHub redirected back with.
// It runs behind OptionalSession: a missing session is a redirect, not a 401.
//
// HTTP: GET /api/github/install/callback?installation_id=..&state=..
func (h *GitHubHandler) HandleInstallCallback(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.SessionFromContext(r.Context())
	if !ok {
		http.Redirect(w, r, h.frontendURL+"/login?error=session_expired", http.StatusSeeOther)
		return
	}
	dashboard := h.frontendURL + "/dashboard/" + url.PathEscape(claims.UserID())

	q := r.URL.Query()
	if state := q.Get("state"); state != "" && state != claims.SessionID {
		h.logger.Warn("github install: state mismatch", slog.String("userID", claims.UserID()))
		http.Redirect(w, r, dashboard+"?error=invalid_state", http.StatusSeeOther)
		return
	}

	raw := q.Get("installation_id")
	if raw == "" {
		http.Redirect(w, r, dashboard+"?error=missing_parameters", http.StatusSeeOther)
		return
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		http.Redirect(w, r, dashboard+"?error=missing_parameters", http.StatusSeeOther)
		return
	}

	if err := h.users.LinkInstallation(r.Context(), claims.UserID(), id); err != nil {
		// The cookie below still lets the browser continue.
		h.logger.Warn("github install: storing installation failed", slog.String("error", err.Error()))
	}
	h.cookies.SetInstallationID(w, id)
	http.Redirect(w, r, dashboard+"?github_installed=true", http.StatusSeeOther)
}

// HandleInstallationRepos syncs the repositories visible to the user's app
// installation and returns the stored list.
//
// HTTP: GET /api/github/installation/repos[?installation_id=..]
func (h *GitHubHandler) HandleInstallationRepos(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.SessionFromContext(r.Context())
	ctx := r.Context()

	if h.app == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{
			Error:   "not_configured",
			Message: "GitHub App credentials not configured",
		})
		return
	}

	id, err := h.installationID(r, claims.UserID())
	if err != nil {
		writeError(w, err)
		return
	}
	if id <= 0 {
		writeError(w, apperror.ValidationFailed("installation_id",
			"GitHub App not installed. Please connect your GitHub account first."))
		return
	}

	tok, err := h.app.InstallationToken(ctx, id)
	if err != nil {
		h.logger.Error("github installation token failed", slog.Int64("installationID", id), slog.String("error", err.Error()))
		writeError(w, apperror.Upstream("GitHub App authentication failed", err))
		return
	}
	listed, err := h.github.ListInstallationRepos(ctx, tok.Token)
	if err != nil {
		h.logger.Error("github installation repos failed", slog.String("error", err.Error()))
		writeError(w, apperror.Upstream("Failed to fetch repositories from GitHub App", err))
		return
	}

	repos, err := h.repos.SaveFromGitHub(ctx, claims.UserID(), listed)
	if err != nil {
		h.logger.Error("saving installation repos failed", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}
	if err := h.users.LinkInstallation(ctx, claims.UserID(), id); err != nil {
		h.logger.Warn("storing installation failed", slog.String("error", err.Error()))
	}
	writeJSON(w, http.StatusOK, repos)
}

// HandleUserRepos syncs the user's public repositories using their OAuth
// token and returns the stored list.
//
// HTTP: GET /api/github/repos
func (h *GitHubHandler) HandleUserRepos(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.SessionFromContext(r.Context())
	ctx := r.Context()

	token := auth.ProviderToken(r, model.ProviderGitHub)
	if token == "" {
		if user, err := h.users.GetUserByID(ctx, claims.UserID()); err == nil {
			token = user.GitHubToken
		}
	}
	if token == "" {
		writeError(w, apperror.Unauthorized("Not authenticated. Please connect your GitHub account first."))
		return
	}

	listed, err := h.github.ListUserRepos(ctx, token)
	if err != nil {
		if errors.Is(err, apperror.ErrTimeout) {
			h.logger.Warn("github repos timed out", slog.String("userID", claims.UserID()))
		} else {
			h.logger.Error("github repos failed", slog.String("error", err.Error()))
		}
		writeError(w, err)
		return
	}

	repos, err := h.repos.SaveFromGitHub(ctx, claims.UserID(), listed)
	if err != nil {
		h.logger.Error("saving github repos failed", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, repos)
}

// installationID resolves the installation to act on: the cookie, then the
// user record. A query installation_id is only honoured when it matches one
// of those, or when the user has none yet (first sync right after installing).
func (h *GitHubHandler) installationID(r *http.Request, userID string) (int64, error) {
	var owned []int64
	if id := auth.InstallationID(r); id > 0 {
		owned = append(owned, id)
	}
	if user, err := h.users.GetUserByID(r.Context(), userID); err == nil && user.InstallationID > 0 {
		owned = append(owned, user.InstallationID)
	}

	raw := r.URL.Query().Get("installation_id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if raw == "" || err != nil || id <= 0 {
		if len(owned) == 0 {
			return 0, nil
		}
		return owned[0], nil
	}
	if len(owned) == 0 || slices.Contains(owned, id) {
		return id, nil
	}
	h.logger.Warn("installation id does not belong to user",
		slog.String("userID", userID), slog.Int64("installationID", id))
	return 0, apperror.Forbidden("Installation does not belong to this account")
}
