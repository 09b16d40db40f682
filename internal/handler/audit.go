package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/ghostwriter/internal/apperror"
	"github.com/sakif/ghostwriter/internal/audit"
	"github.com/sakif/ghostwriter/internal/auth"
	"github.com/sakif/ghostwriter/internal/model"
	"github.com/sakif/ghostwriter/internal/scm"
	"github.com/sakif/ghostwriter/internal/service"
)

// AuditHandler serves the audit read endpoints and the dispatch triggers
// (webhook, manual analyze, PR URL submission).
type AuditHandler struct {
	dispatcher    *service.Dispatcher
	store         audit.Store
	users         *service.AuthService
	webhookSecret string
	logger        *slog.Logger
}

func NewAuditHandler(
	dispatcher *service.Dispatcher,
	store audit.Store,
	users *service.AuthService,
	webhookSecret string,
	logger *slog.Logger,
) *AuditHandler {
	return &AuditHandler{
		dispatcher:    dispatcher,
		store:         store,
		users:         users,
		webhookSecret: webhookSecret,
		logger:        logger,
	}
}

// HandleList returns every stored audit, newest first.
//
// HTTP: GET /api/audits
func (h *AuditHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	recs, err := h.store.List(r.Context())
	if err != nil {
		h.logger.Error("listing audits", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// HandleGet returns one audit.
//
// HTTP: GET /api/audits/{owner}/{repo}/{number}
func (h *AuditHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(chi.URLParam(r, "number"))
	if err != nil || n <= 0 {
		writeError(w, apperror.ValidationFailed("number", "PR number must be a positive integer"))
		return
	}
	key := model.AuditKey(chi.URLParam(r, "owner"), chi.URLParam(r, "repo"), n)

	rec, err := h.store.Get(r.Context(), key)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// HandleStats returns the dashboard counters, computed on every call.
//
// HTTP: GET /api/stats
func (h *AuditHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		h.logger.Error("computing stats", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type webhookPayload struct {
	Action      string `json:"action"`
	PullRequest *struct {
		Number int    `json:"number"`
		Title  string `json:"title"`
		Body   string `json:"body"`
	} `json:"pull_request"`
	Repository *struct {
		Name     string `json:"name"`
		FullName string `json:"full_name"`
		Owner    struct {
			Login string `json:"login"`
		} `json:"owner"`
	} `json:"repository"`
	Email string `json:"email"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// HandleWebhook accepts GitHub pull_request events. Irrelevant events and
// actions are acknowledged with 200 so GitHub never retries them.
//
// HTTP: POST /api/webhook/github
func (h *AuditHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, apperror.ValidationFailed("body", "Invalid payload"))
		return
	}
	if h.webhookSecret != "" && !validSignature(h.webhookSecret, body, r.Header.Get("X-Hub-Signature-256")) {
		h.logger.Warn("webhook signature mismatch", slog.String("delivery", r.Header.Get("X-GitHub-Delivery")))
		writeError(w, apperror.Unauthorized("Invalid webhook signature"))
		return
	}

	if r.Header.Get("X-GitHub-Event") != "pull_request" {
		writeJSON(w, http.StatusOK, messageResponse{Message: "Ignored event type"})
		return
	}

	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil || p.PullRequest == nil || p.Repository == nil {
		writeError(w, apperror.ValidationFailed("body", "Invalid payload"))
		return
	}
	if p.Action != "opened" && p.Action != "synchronize" {
		writeJSON(w, http.StatusOK, messageResponse{Message: "Ignored action"})
		return
	}

	h.dispatch(w, r, service.DispatchRequest{
		Owner:       p.Repository.Owner.Login,
		Repo:        p.Repository.Name,
		PRNumber:    p.PullRequest.Number,
		Title:       p.PullRequest.Title,
		Description: p.PullRequest.Body,
		NotifyEmail: p.Email,
		DeliveryID:  r.Header.Get("X-GitHub-Delivery"),
		Source:      service.SourceWebhook,
	})
}

type analyzeRequest struct {
	Owner      string `json:"owner"`
	Repo       string `json:"repo"`
	PullNumber int    `json:"pull_number"`
	Diff       string `json:"diff"`
	Email      string `json:"email"`
}

// HandleAnalyze triggers a dispatch by explicit coordinates. The live PR is
// fetched for its title and body; a supplied diff is used verbatim and lets
// the run proceed even when the PR lookup fails.
//
// HTTP: POST /api/analyze
func (h *AuditHandler) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	var in analyzeRequest
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, err)
		return
	}

	req := service.DispatchRequest{
		Owner:       in.Owner,
		Repo:        in.Repo,
		PRNumber:    in.PullNumber,
		Diff:        in.Diff,
		NotifyEmail: in.Email,
		Source:      service.SourceManual,
	}
	if !h.withPullRequest(w, r, &req) {
		return
	}
	h.dispatch(w, r, req)
}

type submitRequest struct {
	PRURL string `json:"prUrl"`
	Email string `json:"email"`
}

// HandleSubmitPR triggers a dispatch from a pull-request URL on behalf of
// the signed-in user, using their GitHub token when they have one.
//
// HTTP: POST /api/submit-pr
func (h *AuditHandler) HandleSubmitPR(w http.ResponseWriter, r *http.Request) {
	var in submitRequest
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(in.PRURL) == "" {
		writeError(w, apperror.ValidationFailed("prUrl", "PR URL is required"))
		return
	}
	ref, err := scm.ParsePRURL(in.PRURL)
	if err != nil {
		writeError(w, err)
		return
	}

	req := service.DispatchRequest{
		Owner:       ref.Owner,
		Repo:        ref.Repo,
		PRNumber:    ref.Number,
		NotifyEmail: in.Email,
		AuthToken:   h.githubToken(r),
		Source:      service.SourceSubmit,
	}
	if !h.withPullRequest(w, r, &req) {
		return
	}
	h.dispatch(w, r, req)
}

// withPullRequest fills title and description from the live PR. It writes
// the error response and returns false when the run cannot continue.
func (h *AuditHandler) withPullRequest(w http.ResponseWriter, r *http.Request, req *service.DispatchRequest) bool {
	pr, err := h.dispatcher.PullRequest(r.Context(), req.AuthToken, req.Owner, req.Repo, req.PRNumber)
	switch {
	case err == nil:
		req.Title = pr.Title
		req.Description = pr.Body
	case req.Diff != "" && errors.Is(err, apperror.ErrUpstream):
		h.logger.Warn("PR lookup failed, using supplied diff", slog.String("error", err.Error()))
		req.Title = fmt.Sprintf("PR #%d", req.PRNumber)
	default:
		writeError(w, err)
		return false
	}
	if req.Description == "" {
		req.Description = "No description provided"
	}
	return true
}

func (h *AuditHandler) githubToken(r *http.Request) string {
	if tok := auth.ProviderToken(r, model.ProviderGitHub); tok != "" {
		return tok
	}
	claims, ok := auth.SessionFromContext(r.Context())
	if !ok {
		return ""
	}
	user, err := h.users.GetUserByID(r.Context(), claims.UserID())
	if err != nil {
		return ""
	}
	return user.GitHubToken
}

type analysisFailedResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// dispatch runs req and writes the outcome. An engine failure on a webhook
// delivery is still a handled delivery (the error record is stored), so
// GitHub gets 200; manual triggers get 502.
func (h *AuditHandler) dispatch(w http.ResponseWriter, r *http.Request, req service.DispatchRequest) {
	summary, err := h.dispatcher.Run(r.Context(), req)
	var failed *service.AnalysisFailedError
	switch {
	case errors.As(err, &failed):
		status := http.StatusBadGateway
		if req.Source == service.SourceWebhook {
			status = http.StatusOK
		}
		writeJSON(w, status, analysisFailedResponse{
			Error:   "Analysis Failed",
			Message: failed.Error(),
		})
	case err != nil:
		if status, _ := statusFor(err); status >= http.StatusInternalServerError {
			h.logger.Error("dispatch failed", slog.String("error", err.Error()))
		}
		writeError(w, err)
	default:
		writeJSON(w, http.StatusOK, summary)
	}
}

// validSignature checks GitHub's X-Hub-Signature-256 header
// ("sha256=<hex hmac of the raw body>").
func validSignature(secret string, body []byte, header string) bool {
	got, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	sig, err := hex.DecodeString(got)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(sig, mac.Sum(nil))
}
