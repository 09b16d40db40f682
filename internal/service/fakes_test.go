package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sakif/ghostwriter/internal/analysis"
	"github.com/sakif/ghostwriter/internal/apperror"
	"github.com/sakif/ghostwriter/internal/model"
	"github.com/sakif/ghostwriter/internal/notify"
	"github.com/sakif/ghostwriter/internal/scm"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeUserRepo is an in-memory repository.UserRepository enforcing the same
// uniqueness rules as the sqlite tables.
type fakeUserRepo struct {
	mu     sync.Mutex
	users  map[string]*model.User
	nextID int

	// beforeCreate runs before the uniqueness checks; tests use it to slip in
	// a concurrent insert.
	beforeCreate func()
	createErr    error
	updates      int
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]*model.User)}
}

func (f *fakeUserRepo) insert(u *model.User) error {
	for _, existing := range f.users {
		if existing.Email == u.Email ||
			(u.GitHubID != "" && existing.GitHubID == u.GitHubID) ||
			(u.GoogleID != "" && existing.GoogleID == u.GoogleID) {
			return apperror.Conflict("An account with this email already exists")
		}
	}
	f.nextID++
	u.ID = fmt.Sprintf("user-%d", f.nextID)
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	copied := *u
	f.users[u.ID] = &copied
	return nil
}

func (f *fakeUserRepo) Create(_ context.Context, u *model.User) error {
	if f.beforeCreate != nil {
		hook := f.beforeCreate
		f.beforeCreate = nil
		hook()
	}
	if f.createErr != nil {
		return f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	u.Email = model.NormalizeEmail(u.Email)
	return f.insert(u)
}

func (f *fakeUserRepo) GetByID(_ context.Context, id string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, apperror.NotFound("user", id)
	}
	copied := *u
	return &copied, nil
}

func (f *fakeUserRepo) GetByEmail(_ context.Context, email string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	email = model.NormalizeEmail(email)
	for _, u := range f.users {
		if u.Email == email {
			copied := *u
			return &copied, nil
		}
	}
	return nil, apperror.NotFound("user", email)
}

func (f *fakeUserRepo) GetByExternalID(_ context.Context, p model.Provider, id string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if id != "" && u.ExternalID(p) == id {
			copied := *u
			return &copied, nil
		}
	}
	return nil, apperror.NotFound("user", id)
}

func (f *fakeUserRepo) UpdateProfile(_ context.Context, id, name, avatar string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return apperror.NotFound("user", id)
	}
	u.Name, u.AvatarURL = name, avatar
	f.updates++
	return nil
}

func (f *fakeUserRepo) SetProviderToken(_ context.Context, id string, p model.Provider, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return apperror.NotFound("user", id)
	}
	switch p {
	case model.ProviderGitHub:
		u.GitHubToken = token
	case model.ProviderGoogle:
		u.GoogleToken = token
	}
	return nil
}

func (f *fakeUserRepo) SetInstallationID(_ context.Context, id string, inst int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return apperror.NotFound("user", id)
	}
	u.InstallationID = inst
	return nil
}

func (f *fakeUserRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.users)
}

// fakeRepoRepo is an in-memory repository.RepoRepository keyed by (user, repo id).
type fakeRepoRepo struct {
	rows   map[string]*model.Repo
	nextID int
}

func newFakeRepoRepo() *fakeRepoRepo {
	return &fakeRepoRepo{rows: make(map[string]*model.Repo)}
}

func (f *fakeRepoRepo) Upsert(_ context.Context, r *model.Repo) error {
	k := fmt.Sprintf("%s/%d", r.UserID, r.RepoID)
	if existing, ok := f.rows[k]; ok {
		r.ID = existing.ID
		r.CreatedAt = existing.CreatedAt
	} else {
		f.nextID++
		r.ID = fmt.Sprintf("repo-%d", f.nextID)
		r.CreatedAt = time.Now()
	}
	copied := *r
	f.rows[k] = &copied
	return nil
}

func (f *fakeRepoRepo) GetByID(_ context.Context, userID, id string) (*model.Repo, error) {
	for _, r := range f.rows {
		if r.UserID == userID && r.ID == id {
			copied := *r
			return &copied, nil
		}
	}
	return nil, apperror.NotFound("repository", id)
}

func (f *fakeRepoRepo) GetByRepoID(_ context.Context, userID string, repoID int64) (*model.Repo, error) {
	if r, ok := f.rows[fmt.Sprintf("%s/%d", userID, repoID)]; ok {
		copied := *r
		return &copied, nil
	}
	return nil, apperror.NotFound("repository", fmt.Sprint(repoID))
}

func (f *fakeRepoRepo) ListByUser(_ context.Context, userID string) ([]model.Repo, error) {
	out := []model.Repo{}
	for _, r := range f.rows {
		if r.UserID == userID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Stars != out[j].Stars {
			return out[i].Stars > out[j].Stars
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// fakeSource serves a canned diff and PR.
type fakeSource struct {
	diff      string
	diffErr   error
	pr        *scm.PullRequest
	prErr     error
	gotToken  string
	diffCalls int
}

func (f *fakeSource) FetchDiff(_ context.Context, token, _, _ string, _ int) (string, error) {
	f.diffCalls++
	f.gotToken = token
	return f.diff, f.diffErr
}

func (f *fakeSource) GetPullRequest(_ context.Context, token, _, _ string, _ int) (*scm.PullRequest, error) {
	f.gotToken = token
	return f.pr, f.prErr
}

// fakeEngine returns a canned result and records the last request.
type fakeEngine struct {
	result *model.AnalysisResult
	err    error
	got    analysis.Request
}

func (f *fakeEngine) Analyze(_ context.Context, req analysis.Request) (*model.AnalysisResult, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	res := *f.result
	return &res, nil
}

// fakeContributors serves a canned contributor listing.
type fakeContributors struct {
	list     []scm.Contributor
	err      error
	gotToken string
	gotRepo  string
}

func (f *fakeContributors) ListContributors(_ context.Context, token, owner, repo string) ([]scm.Contributor, error) {
	f.gotToken = token
	f.gotRepo = owner + "/" + repo
	return f.list, f.err
}

// fakeSender records report deliveries.
type fakeSender struct {
	result notify.Result
	sentTo []string
}

func (f *fakeSender) Send(_ context.Context, _ model.AuditRecord, to string) notify.Result {
	f.sentTo = append(f.sentTo, to)
	return f.result
}
