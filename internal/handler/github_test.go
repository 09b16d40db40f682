package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/ghostwriter/internal/apperror"
	"github.com/sakif/ghostwriter/internal/auth"
	"github.com/sakif/ghostwriter/internal/model"
	"github.com/sakif/ghostwriter/internal/scm"
)

func ghRepo(id int64, owner, name string, stars int, lang string) scm.Repository {
	r := scm.Repository{
		ID:       id,
		Name:     name,
		FullName: owner + "/" + name,
		Stars:    stars,
		Language: lang,
	}
	r.Owner.Login = owner
	return r
}

func TestUserRepos(t *testing.T) {
	t.Run("requires a session", func(t *testing.T) {
		env := newTestEnv(t, "")

		rr := env.do(httptest.NewRequest(http.MethodGet, "/api/github/repos", nil))

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("no GitHub token", func(t *testing.T) {
		env := newTestEnv(t, "")
		_, session := env.signIn(t, "local@example.com")
		req := httptest.NewRequest(http.MethodGet, "/api/github/repos", nil)
		req.AddCookie(session)

		rr := env.do(req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Contains(t, rr.Body.String(), "connect your GitHub account")
	})

	t.Run("syncs with the cookie token", func(t *testing.T) {
		env := newTestEnv(t, "")
		user, session := env.signIn(t, "dev@example.com")
		env.gh.Repos = []scm.Repository{
			ghRepo(1, "dev", "small", 5, ""),
			ghRepo(2, "dev", "popular", 5000, "Go"),
		}
		req := httptest.NewRequest(http.MethodGet, "/api/github/repos", nil)
		req.AddCookie(session)
		req.AddCookie(&http.Cookie{Name: auth.GitHubTokenCookie, Value: "gho_cookie"})

		rr := env.do(req)

		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		assert.Equal(t, "gho_cookie", env.gh.GotToken)

		var repos []model.Repo
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&repos))
		require.Len(t, repos, 2)
		assert.Equal(t, "dev/popular", repos[0].FullName)
		assert.Equal(t, 100, repos[0].HealthScore)
		assert.Equal(t, model.RepoClean, repos[0].Status)
		assert.Equal(t, 70, repos[1].HealthScore)
		assert.Equal(t, 6, repos[1].Findings)
		assert.Equal(t, user.ID, repos[1].UserID)

		// Re-syncing must not duplicate rows.
		req = httptest.NewRequest(http.MethodGet, "/api/github/repos", nil)
		req.AddCookie(session)
		req.AddCookie(&http.Cookie{Name: auth.GitHubTokenCookie, Value: "gho_cookie"})
		rr = env.do(req)
		require.Equal(t, http.StatusOK, rr.Code)
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&repos))
		assert.Len(t, repos, 2)
	})

	t.Run("falls back to the stored token", func(t *testing.T) {
		env := newTestEnv(t, "")
		user, session := env.signIn(t, "stored@example.com")
		require.NoError(t, env.db.Users().SetProviderToken(context.Background(), user.ID, model.ProviderGitHub, "gho_stored"))
		req := httptest.NewRequest(http.MethodGet, "/api/github/repos", nil)
		req.AddCookie(session)

		rr := env.do(req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "gho_stored", env.gh.GotToken)
	})

	t.Run("timeout is a 504", func(t *testing.T) {
		env := newTestEnv(t, "")
		_, session := env.signIn(t, "slow@example.com")
		env.gh.ReposErr = apperror.Timeout("Connection to GitHub timed out. Please try again.")
		req := httptest.NewRequest(http.MethodGet, "/api/github/repos", nil)
		req.AddCookie(session)
		req.AddCookie(&http.Cookie{Name: auth.GitHubTokenCookie, Value: "gho_cookie"})

		rr := env.do(req)

		assert.Equal(t, http.StatusGatewayTimeout, rr.Code)
		assert.Contains(t, rr.Body.String(), "timed out")
	})

	t.Run("GitHub failure is a 502", func(t *testing.T) {
		env := newTestEnv(t, "")
		_, session := env.signIn(t, "broken@example.com")
		env.gh.ReposErr = apperror.Upstream("Failed to fetch repositories", errors.New("status 500"))
		req := httptest.NewRequest(http.MethodGet, "/api/github/repos", nil)
		req.AddCookie(session)
		req.AddCookie(&http.Cookie{Name: auth.GitHubTokenCookie, Value: "gho_cookie"})

		rr := env.do(req)

		assert.Equal(t, http.StatusBadGateway, rr.Code)
		assert.NotContains(t, rr.Body.String(), "status 500")
	})
}

func TestInstall(t *testing.T) {
	env := newTestEnv(t, "")
	_, session := env.signIn(t, "installer@example.com")
	claims, err := env.tokens.Verify(session.Value)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/github/install", nil)
	req.AddCookie(session)
	rr := env.do(req)

	assert.Equal(t, http.StatusTemporaryRedirect, rr.Code)
	assert.Equal(t,
		"https://github.com/apps/ghostwriter-test/installations/new?state="+claims.SessionID,
		rr.Header().Get("Location"))
}

func TestInstallCallback(t *testing.T) {
	env := newTestEnv(t, "")
	user, session := env.signIn(t, "cb@example.com")
	claims, err := env.tokens.Verify(session.Value)
	require.NoError(t, err)
	dashboard := testFrontend + "/dashboard/" + user.ID

	tests := []struct {
		name     string
		query    string
		session  bool
		wantLoc  string
		wantLink bool
	}{
		{"no session", "?installation_id=77&state=" + claims.SessionID, false, testFrontend + "/login?error=session_expired", false},
		{"state mismatch", "?installation_id=77&state=other", true, dashboard + "?error=invalid_state", false},
		{"missing installation", "?state=" + claims.SessionID, true, dashboard + "?error=missing_parameters", false},
		{"bad installation", "?installation_id=abc", true, dashboard + "?error=missing_parameters", false},
		{"installed", "?installation_id=77&state=" + claims.SessionID, true, dashboard + "?github_installed=true", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/github/install/callback"+tt.query, nil)
			if tt.session {
				req.AddCookie(session)
			}

			rr := env.do(req)

			assert.Equal(t, http.StatusSeeOther, rr.Code)
			assert.Equal(t, tt.wantLoc, rr.Header().Get("Location"))
			if tt.wantLink {
				c := cookieNamed(rr, auth.InstallationIDCookie)
				require.NotNil(t, c)
				assert.Equal(t, "77", c.Value)

				stored, err := env.db.Users().GetByID(context.Background(), user.ID)
				require.NoError(t, err)
				assert.EqualValues(t, 77, stored.InstallationID)
			}
		})
	}
}

func TestInstallationRepos(t *testing.T) {
	t.Run("not installed", func(t *testing.T) {
		env := newTestEnv(t, "")
		_, session := env.signIn(t, "none@example.com")
		req := httptest.NewRequest(http.MethodGet, "/api/github/installation/repos", nil)
		req.AddCookie(session)

		rr := env.do(req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, rr.Body.String(), "GitHub App not installed")
	})

	t.Run("uses the installation cookie", func(t *testing.T) {
		env := newTestEnv(t, "")
		user, session := env.signIn(t, "app@example.com")
		env.gh.InstRepos = []scm.Repository{ghRepo(9, "org", "service", 120, "Go")}
		req := httptest.NewRequest(http.MethodGet, "/api/github/installation/repos", nil)
		req.AddCookie(session)
		req.AddCookie(&http.Cookie{Name: auth.InstallationIDCookie, Value: "555"})

		rr := env.do(req)

		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		assert.EqualValues(t, 555, env.inst.GotID)
		assert.Equal(t, "ghs_installation", env.gh.GotToken)

		var repos []model.Repo
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&repos))
		require.Len(t, repos, 1)
		assert.Equal(t, "org/service", repos[0].FullName)
		assert.Equal(t, 81, repos[0].HealthScore)

		stored, err := env.db.Users().GetByID(context.Background(), user.ID)
		require.NoError(t, err)
		assert.EqualValues(t, 555, stored.InstallationID)
	})

	t.Run("query id of another installation is rejected", func(t *testing.T) {
		env := newTestEnv(t, "")
		user, session := env.signIn(t, "mine@example.com")
		require.NoError(t, env.db.Users().SetInstallationID(context.Background(), user.ID, 555))
		req := httptest.NewRequest(http.MethodGet, "/api/github/installation/repos?installation_id=999", nil)
		req.AddCookie(session)

		rr := env.do(req)

		assert.Equal(t, http.StatusForbidden, rr.Code)
		assert.Zero(t, env.inst.GotID, "no token may be minted for a foreign installation")
		stored, err := env.db.Users().GetByID(context.Background(), user.ID)
		require.NoError(t, err)
		assert.EqualValues(t, 555, stored.InstallationID)
	})

	t.Run("query id matching the stored installation", func(t *testing.T) {
		env := newTestEnv(t, "")
		user, session := env.signIn(t, "match@example.com")
		require.NoError(t, env.db.Users().SetInstallationID(context.Background(), user.ID, 555))
		req := httptest.NewRequest(http.MethodGet, "/api/github/installation/repos?installation_id=555", nil)
		req.AddCookie(session)
		req.AddCookie(&http.Cookie{Name: auth.InstallationIDCookie, Value: "777"})

		rr := env.do(req)

		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		assert.EqualValues(t, 555, env.inst.GotID)
	})

	t.Run("query id accepted for a first install", func(t *testing.T) {
		env := newTestEnv(t, "")
		_, session := env.signIn(t, "fresh@example.com")
		req := httptest.NewRequest(http.MethodGet, "/api/github/installation/repos?installation_id=321", nil)
		req.AddCookie(session)

		rr := env.do(req)

		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		assert.EqualValues(t, 321, env.inst.GotID)
	})
}

func TestRepositories(t *testing.T) {
	env := newTestEnv(t, "")
	_, session := env.signIn(t, "owner@example.com")
	_, otherSession := env.signIn(t, "other@example.com")

	env.gh.Repos = []scm.Repository{ghRepo(3, "acme", "widgets", 250, "Go")}
	req := httptest.NewRequest(http.MethodGet, "/api/github/repos", nil)
	req.AddCookie(session)
	req.AddCookie(&http.Cookie{Name: auth.GitHubTokenCookie, Value: "gho"})
	require.Equal(t, http.StatusOK, env.do(req).Code)

	req = httptest.NewRequest(http.MethodGet, "/api/repositories", nil)
	req.AddCookie(session)
	rr := env.do(req)
	require.Equal(t, http.StatusOK, rr.Code)
	var repos []model.Repo
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&repos))
	require.Len(t, repos, 1)
	id := repos[0].ID

	require.NoError(t, env.store.Put(context.Background(), &model.AuditRecord{
		Key: "acme/widgets/5", Repo: "acme/widgets", PRNumber: 5, Timestamp: time.Now(),
		Result: model.AnalysisResult{Status: model.StatusSuccess},
	}))
	require.NoError(t, env.store.Put(context.Background(), &model.AuditRecord{
		Key: "acme/gadgets/1", Repo: "acme/gadgets", PRNumber: 1, Timestamp: time.Now(),
		Result: model.AnalysisResult{Status: model.StatusSuccess},
	}))

	t.Run("get", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/repositories/"+id, nil)
		req.AddCookie(session)
		rr := env.do(req)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), `"fullName":"acme/widgets"`)
	})

	t.Run("get by GitHub repository id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/repositories/3", nil)
		req.AddCookie(session)
		rr := env.do(req)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		assert.Contains(t, rr.Body.String(), `"id":"`+id+`"`)
	})

	t.Run("contributors", func(t *testing.T) {
		env.gh.Contributors = []scm.Contributor{
			{ID: 11, Login: "lead", AvatarURL: "https://avatars.test/11", HTMLURL: "https://github.com/lead", Contributions: 40},
			{ID: 12, Login: "helper", Contributions: 7},
		}
		req := httptest.NewRequest(http.MethodGet, "/api/repositories/"+id+"/contributors", nil)
		req.AddCookie(session)
		req.AddCookie(&http.Cookie{Name: auth.GitHubTokenCookie, Value: "gho_browser"})

		rr := env.do(req)

		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		assert.Equal(t, "acme/widgets", env.gh.GotRepo)
		assert.Equal(t, "gho_browser", env.gh.GotToken)
		assert.JSONEq(t, `[
			{"id":11,"name":"lead","avatar":"https://avatars.test/11","commits":40,"prs":12,"role":"Lead Developer","profileUrl":"https://github.com/lead"},
			{"id":12,"name":"helper","avatar":"","commits":7,"prs":2,"role":"Senior Dev","profileUrl":""}
		]`, rr.Body.String())
	})

	t.Run("contributors without a user token use the fallback", func(t *testing.T) {
		env.gh.Contributors = nil
		req := httptest.NewRequest(http.MethodGet, "/api/repositories/3/contributors", nil)
		req.AddCookie(session)

		rr := env.do(req)

		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		assert.Equal(t, "fallback-token", env.gh.GotToken)
		assert.JSONEq(t, `[]`, rr.Body.String())
	})

	t.Run("contributors upstream failure", func(t *testing.T) {
		env.gh.ContributorsErr = errors.New("github responded with status 500")
		t.Cleanup(func() { env.gh.ContributorsErr = nil })
		req := httptest.NewRequest(http.MethodGet, "/api/repositories/"+id+"/contributors", nil)
		req.AddCookie(session)

		rr := env.do(req)

		assert.Equal(t, http.StatusBadGateway, rr.Code)
		assert.NotContains(t, rr.Body.String(), "status 500")
	})

	t.Run("contributors of another user's repository", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/repositories/"+id+"/contributors", nil)
		req.AddCookie(otherSession)
		rr := env.do(req)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("another user cannot see it", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/repositories/"+id, nil)
		req.AddCookie(otherSession)
		rr := env.do(req)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("audits for the repository only", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/repositories/"+id+"/audits", nil)
		req.AddCookie(session)
		rr := env.do(req)
		require.Equal(t, http.StatusOK, rr.Code)

		var recs []model.AuditRecord
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&recs))
		require.Len(t, recs, 1)
		assert.Equal(t, "acme/widgets/5", recs[0].Key)
	})

	t.Run("empty list for a new user", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/repositories", nil)
		req.AddCookie(otherSession)
		rr := env.do(req)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `[]`, rr.Body.String())
	})
}
