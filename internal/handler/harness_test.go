package handler_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/sakif/ghostwriter/internal/analysis"
	"github.com/sakif/ghostwriter/internal/audit"
	"github.com/sakif/ghostwriter/internal/auth"
	"github.com/sakif/ghostwriter/internal/githubapp"
	"github.com/sakif/ghostwriter/internal/handler"
	"github.com/sakif/ghostwriter/internal/model"
	"github.com/sakif/ghostwriter/internal/repository/sqlite"
	"github.com/sakif/ghostwriter/internal/scm"
	"github.com/sakif/ghostwriter/internal/service"
)

const (
	testSecret   = "handler-test-secret-0123456789"
	testFrontend = "http://frontend.test"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockEngine is a canned analysis.Engine.
type mockEngine struct {
	Result *model.AnalysisResult
	Err    error
	Calls  int
}

func (m *mockEngine) Analyze(_ context.Context, _ analysis.Request) (*model.AnalysisResult, error) {
	m.Calls++
	if m.Err != nil {
		return nil, m.Err
	}
	res := *m.Result
	return &res, nil
}

// mockGitHub stands in for the GitHub REST client.
type mockGitHub struct {
	Diff      string
	DiffErr   error
	PR        *scm.PullRequest
	PRErr     error
	Repos     []scm.Repository
	ReposErr  error
	GotToken  string
	InstRepos []scm.Repository

	Contributors    []scm.Contributor
	ContributorsErr error
	GotRepo         string
}

func (m *mockGitHub) FetchDiff(_ context.Context, token, _, _ string, _ int) (string, error) {
	m.GotToken = token
	return m.Diff, m.DiffErr
}

func (m *mockGitHub) GetPullRequest(_ context.Context, token, _, _ string, n int) (*scm.PullRequest, error) {
	m.GotToken = token
	if m.PRErr != nil {
		return nil, m.PRErr
	}
	if m.PR != nil {
		return m.PR, nil
	}
	return &scm.PullRequest{Number: n, Title: "PR title", Body: "PR body"}, nil
}

func (m *mockGitHub) ListUserRepos(_ context.Context, token string) ([]scm.Repository, error) {
	m.GotToken = token
	return m.Repos, m.ReposErr
}

func (m *mockGitHub) ListInstallationRepos(_ context.Context, token string) ([]scm.Repository, error) {
	m.GotToken = token
	return m.InstRepos, nil
}

func (m *mockGitHub) ListContributors(_ context.Context, token, owner, repo string) ([]scm.Contributor, error) {
	m.GotToken = token
	m.GotRepo = owner + "/" + repo
	return m.Contributors, m.ContributorsErr
}

// mockInstallations issues a fixed installation token.
type mockInstallations struct {
	GotID int64
}

func (m *mockInstallations) InstallationToken(_ context.Context, id int64) (*githubapp.InstallationToken, error) {
	m.GotID = id
	return &githubapp.InstallationToken{Token: "ghs_installation"}, nil
}

// mockProvider is an auth.Provider that accepts the code "good-code".
type mockProvider struct {
	name    model.Provider
	profile auth.Profile
	email   string
}

func (p *mockProvider) Name() model.Provider { return p.name }

func (p *mockProvider) AuthURL(state string) string {
	return "https://idp.test/authorize?state=" + url.QueryEscape(state)
}

func (p *mockProvider) ExchangeCode(_ context.Context, code string) (*oauth2.Token, error) {
	if code != "good-code" {
		return nil, &oauth2.RetrieveError{ErrorCode: "bad_verification_code"}
	}
	return &oauth2.Token{AccessToken: "provider-access-token"}, nil
}

func (p *mockProvider) FetchProfile(_ context.Context, _ *oauth2.Token) (*auth.Profile, error) {
	prof := p.profile
	return &prof, nil
}

func (p *mockProvider) ResolveEmail(_ context.Context, _ *oauth2.Token, _ *auth.Profile) (string, error) {
	return p.email, nil
}

// testEnv wires real services over in-memory sqlite with mocked externals.
type testEnv struct {
	db         *sqlite.DB
	store      *audit.MemoryStore
	tokens     *auth.TokenService
	authSvc    *service.AuthService
	engine     *mockEngine
	gh         *mockGitHub
	inst       *mockInstallations
	provider   *mockProvider
	router     chi.Router
	dispatcher *service.Dispatcher
}

func newTestEnv(t *testing.T, webhookSecret string) *testEnv {
	t.Helper()
	logger := quietLogger()

	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tokens, err := auth.NewTokenService(testSecret, 0)
	require.NoError(t, err)

	env := &testEnv{
		db:     db,
		store:  audit.NewMemoryStore(),
		tokens: tokens,
		engine: &mockEngine{Result: &model.AnalysisResult{Status: model.StatusSuccess, Comment: "LGTM", ConfidenceScore: 0.92}},
		gh:     &mockGitHub{Diff: "diff --git a/a b/a"},
		inst:   &mockInstallations{},
		provider: &mockProvider{
			name:    model.ProviderGitHub,
			profile: auth.Profile{ExternalID: "4242", Login: "octocat", Name: "Octo Cat", AvatarURL: "https://avatars.test/4242"},
			email:   "octo@example.com",
		},
	}
	env.authSvc = service.NewAuthService(db.Users(), tokens, auth.NewPasswordServiceForTest(4), logger)
	env.dispatcher = service.NewDispatcher(env.gh, env.engine, env.store, nil, "fallback-token", logger)
	repoSvc := service.NewRepoService(db.Repos(), env.store, env.gh, "fallback-token", logger)
	cookies := auth.Cookies{}

	oauthH := handler.NewOAuthHandler(env.provider, auth.NewStateStore(testSecret, false), env.authSvc, cookies, testFrontend, logger)
	sessionH := handler.NewSessionHandler(env.authSvc, cookies, logger)
	auditH := handler.NewAuditHandler(env.dispatcher, env.store, env.authSvc, webhookSecret, logger)
	githubH := handler.NewGitHubHandler("ghostwriter-test", env.inst, env.gh, repoSvc, env.authSvc, cookies, testFrontend, logger)
	repoH := handler.NewRepositoryHandler(repoSvc, env.authSvc, logger)

	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Get("/audits", auditH.HandleList)
		r.Get("/audits/{owner}/{repo}/{number}", auditH.HandleGet)
		r.Get("/stats", auditH.HandleStats)
		r.Post("/webhook/github", auditH.HandleWebhook)
		r.Post("/analyze", auditH.HandleAnalyze)

		r.Get("/auth/github", oauthH.HandleStart)
		r.Get("/auth/github/callback", oauthH.HandleCallback)
		r.Post("/auth/register", sessionH.HandleRegister)
		r.Post("/auth/login", sessionH.HandleLogin)
		r.Post("/auth/logout", sessionH.HandleLogout)
		r.With(auth.OptionalSession(tokens)).Get("/auth/session", sessionH.HandleSession)
		r.With(auth.OptionalSession(tokens)).Get("/github/install/callback", githubH.HandleInstallCallback)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireSession(tokens))
			r.Post("/submit-pr", auditH.HandleSubmitPR)
			r.Get("/github/install", githubH.HandleInstall)
			r.Get("/github/repos", githubH.HandleUserRepos)
			r.Get("/github/installation/repos", githubH.HandleInstallationRepos)
			r.Get("/repositories", repoH.HandleList)
			r.Get("/repositories/{id}", repoH.HandleGet)
			r.Get("/repositories/{id}/audits", repoH.HandleAudits)
			r.Get("/repositories/{id}/contributors", repoH.HandleContributors)
		})
	})
	env.router = r
	return env
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

// signIn registers a local user and returns its session cookie.
func (e *testEnv) signIn(t *testing.T, email string) (*model.User, *http.Cookie) {
	t.Helper()
	res, err := e.authSvc.Register(context.Background(), service.RegisterInput{
		FirstName: "Test", LastName: "User", Email: email, Password: "password123",
	})
	require.NoError(t, err)
	return res.User, &http.Cookie{Name: auth.SessionCookie, Value: res.Token}
}

func cookieNamed(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rr.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}
