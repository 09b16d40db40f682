package server

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/ghostwriter/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Port:              3001,
		BaseURL:           "http://localhost:3001",
		FrontendURL:       "http://localhost:3000",
		DBPath:            ":memory:",
		AuditStore:        config.StoreMemory,
		JWTSecret:         "server-test-secret-0123456789",
		AnalysisEngineURL: "http://127.0.0.1:1/analyze-pr",
		GitHub: config.GitHubConfig{
			ClientID:     "gh-client",
			ClientSecret: "gh-secret",
			CallbackURL:  "http://localhost:3001/api/auth/github/callback",
			APIURL:       "http://127.0.0.1:1",
		},
	}
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	srv, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })
	return srv
}

func TestRoutes(t *testing.T) {
	srv := newTestServer(t, testConfig())

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/api/audits", http.StatusOK},
		{http.MethodGet, "/api/stats", http.StatusOK},
		{http.MethodGet, "/api/audits/acme/widgets/1", http.StatusNotFound},
		{http.MethodGet, "/api/auth/session", http.StatusOK},
		{http.MethodGet, "/api/auth/github", http.StatusTemporaryRedirect},
		{http.MethodGet, "/api/auth/google", http.StatusNotFound},
		{http.MethodGet, "/api/repositories", http.StatusUnauthorized},
		{http.MethodGet, "/api/repositories/123/contributors", http.StatusUnauthorized},
		{http.MethodGet, "/api/github/repos", http.StatusUnauthorized},
		{http.MethodPost, "/api/submit-pr", http.StatusUnauthorized},
		{http.MethodGet, "/api/auth/logout", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rr := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rr, httptest.NewRequest(tt.method, tt.path, nil))

			assert.Equal(t, tt.want, rr.Code)
		})
	}
}

func TestOAuthStartRedirectsToGitHub(t *testing.T) {
	srv := newTestServer(t, testConfig())

	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/auth/github", nil))

	loc := rr.Header().Get("Location")
	assert.True(t, strings.HasPrefix(loc, "https://github.com/login/oauth/authorize?"), loc)
	assert.Contains(t, loc, "client_id=gh-client")
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t, testConfig())

	req := httptest.NewRequest(http.MethodOptions, "/api/auth/login", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	assert.Equal(t, "http://localhost:3000", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rr.Header().Get("Access-Control-Allow-Credentials"))

	req.Header.Set("Origin", "http://evil.test")
	rr = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestGitHubAppRequiresValidKey(t *testing.T) {
	cfg := testConfig()
	cfg.GitHubApp = config.GitHubAppConfig{ID: "123", Name: "ghostwriter", PrivateKey: "not a key"}

	_, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))

	assert.Error(t, err)
}

func TestSQLiteAuditStore(t *testing.T) {
	cfg := testConfig()
	cfg.AuditStore = config.StoreSQLite
	srv := newTestServer(t, cfg)

	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/stats", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"total_audits":0`)
}
