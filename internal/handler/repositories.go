package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/ghostwriter/internal/auth"
	"github.com/sakif/ghostwriter/internal/model"
	"github.com/sakif/ghostwriter/internal/service"
)

// RepositoryHandler serves the signed-in user's cached repositories.
// {id} is the stored repository ID or the numeric GitHub repository ID.
type RepositoryHandler struct {
	repos  *service.RepoService
	users  *service.AuthService
	logger *slog.Logger
}

func NewRepositoryHandler(repos *service.RepoService, users *service.AuthService, logger *slog.Logger) *RepositoryHandler {
	return &RepositoryHandler{repos: repos, users: users, logger: logger}
}

// HTTP: GET /api/repositories
func (h *RepositoryHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.SessionFromContext(r.Context())

	repos, err := h.repos.List(r.Context(), claims.UserID())
	if err != nil {
		h.logger.Error("listing repositories", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, repos)
}

// HTTP: GET /api/repositories/{id}
func (h *RepositoryHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.SessionFromContext(r.Context())

	repo, err := h.repos.Get(r.Context(), claims.UserID(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, repo)
}

// HTTP: GET /api/repositories/{id}/audits
func (h *RepositoryHandler) HandleAudits(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.SessionFromContext(r.Context())

	recs, err := h.repos.Audits(r.Context(), claims.UserID(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// HandleContributors lists the repository's top contributors from GitHub,
// using the user's GitHub token when there is one.
//
// HTTP: GET /api/repositories/{id}/contributors
func (h *RepositoryHandler) HandleContributors(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.SessionFromContext(r.Context())

	token := auth.ProviderToken(r, model.ProviderGitHub)
	if token == "" {
		if user, err := h.users.GetUserByID(r.Context(), claims.UserID()); err == nil {
			token = user.GitHubToken
		}
	}

	contributors, err := h.repos.Contributors(r.Context(), claims.UserID(), chi.URLParam(r, "id"), token)
	if err != nil {
		if status, _ := statusFor(err); status >= http.StatusInternalServerError {
			h.logger.Error("listing contributors", slog.String("error", err.Error()))
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, contributors)
}
