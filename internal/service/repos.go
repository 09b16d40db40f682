package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/sakif/ghostwriter/internal/apperror"
	"github.com/sakif/ghostwriter/internal/audit"
	"github.com/sakif/ghostwriter/internal/model"
	"github.com/sakif/ghostwriter/internal/repository"
	"github.com/sakif/ghostwriter/internal/scm"
)

// HealthScore is the dashboard health estimate for a repository:
// 70 base, up to 20 for stars (one per hundred), 10 for a detected language.
func HealthScore(stars int, language string) int {
	score := 70.0 + math.Min(float64(stars)/100, 20)
	if language != "" {
		score += 10
	}
	return int(math.Min(100, math.Floor(score)))
}

// StatusFor maps a health score onto a dashboard status.
func StatusFor(health int) model.RepoStatus {
	switch {
	case health >= 95:
		return model.RepoClean
	case health >= 85:
		return model.RepoReviewRequired
	default:
		return model.RepoAuditActive
	}
}

// FindingsFor estimates open findings from the health score.
func FindingsFor(health int) int {
	return (100 - health) / 5
}

// ContributorRole names a contributor by rank in GitHub's listing, which is
// ordered by commit count.
func ContributorRole(rank int) string {
	switch {
	case rank == 0:
		return "Lead Developer"
	case rank < 3:
		return "Senior Dev"
	case rank < 5:
		return "Developer"
	default:
		return "Junior Dev"
	}
}

// ContributorSource lists a repository's contributors. *scm.Client satisfies it.
type ContributorSource interface {
	ListContributors(ctx context.Context, token, owner, repo string) ([]scm.Contributor, error)
}

// RepoService caches a user's GitHub repositories with computed health.
type RepoService struct {
	repos        repository.RepoRepository
	audits       audit.Store
	github       ContributorSource
	defaultToken string
	logger       *slog.Logger
}

// NewRepoService creates a RepoService. defaultToken is used for GitHub
// calls when the user has no token of their own.
func NewRepoService(
	repos repository.RepoRepository,
	audits audit.Store,
	github ContributorSource,
	defaultToken string,
	logger *slog.Logger,
) *RepoService {
	return &RepoService{
		repos:        repos,
		audits:       audits,
		github:       github,
		defaultToken: defaultToken,
		logger:       logger,
	}
}

// SaveFromGitHub upserts every listed repository for userID and returns the
// user's stored list. Upsert keys on (user, repo id) so re-fetching never
// duplicates rows.
func (s *RepoService) SaveFromGitHub(ctx context.Context, userID string, listed []scm.Repository) ([]model.Repo, error) {
	for _, gh := range listed {
		repo := fromGitHub(userID, gh)
		if err := s.repos.Upsert(ctx, repo); err != nil {
			return nil, fmt.Errorf("service/repos: saving %s: %w", gh.FullName, err)
		}
	}
	s.logger.Info("repositories synced", slog.String("userID", userID), slog.Int("count", len(listed)))
	return s.List(ctx, userID)
}

// List returns the user's stored repositories, most starred first.
func (s *RepoService) List(ctx context.Context, userID string) ([]model.Repo, error) {
	repos, err := s.repos.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/repos: listing for %s: %w", userID, err)
	}
	return repos, nil
}

// Get returns one of the user's repositories. id is either the stored ID or
// the numeric GitHub repository ID.
func (s *RepoService) Get(ctx context.Context, userID, id string) (*model.Repo, error) {
	if repoID, err := strconv.ParseInt(id, 10, 64); err == nil && repoID > 0 {
		repo, err := s.repos.GetByRepoID(ctx, userID, repoID)
		switch {
		case err == nil:
			return repo, nil
		case !errors.Is(err, apperror.ErrNotFound):
			return nil, fmt.Errorf("service/repos: getting repo id %d: %w", repoID, err)
		}
	}
	repo, err := s.repos.GetByID(ctx, userID, id)
	if err != nil {
		return nil, fmt.Errorf("service/repos: getting %s: %w", id, err)
	}
	return repo, nil
}

// Contributors lists the top contributors of one of the user's repositories.
// PRs are estimated as 30% of commits.
func (s *RepoService) Contributors(ctx context.Context, userID, id, token string) ([]model.Contributor, error) {
	repo, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if token == "" {
		token = s.defaultToken
	}

	listed, err := s.github.ListContributors(ctx, token, repo.Owner, repo.Name)
	if err != nil {
		return nil, apperror.Upstream("Failed to fetch contributors", err)
	}

	out := make([]model.Contributor, 0, len(listed))
	for i, c := range listed {
		out = append(out, model.Contributor{
			ID:         c.ID,
			Name:       c.Login,
			Avatar:     c.AvatarURL,
			Commits:    c.Contributions,
			PRs:        c.Contributions * 3 / 10,
			Role:       ContributorRole(i),
			ProfileURL: c.HTMLURL,
		})
	}
	return out, nil
}

// Audits returns the stored audits of one of the user's repositories, newest first.
func (s *RepoService) Audits(ctx context.Context, userID, id string) ([]model.AuditRecord, error) {
	repo, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	all, err := s.audits.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("service/repos: listing audits: %w", err)
	}

	out := []model.AuditRecord{}
	for _, rec := range all {
		if rec.Repo == repo.FullName {
			out = append(out, rec)
		}
	}
	return out, nil
}

func fromGitHub(userID string, gh scm.Repository) *model.Repo {
	health := HealthScore(gh.Stars, gh.Language)

	visibility := gh.Visibility
	if visibility == "" {
		visibility = "public"
		if gh.Private {
			visibility = "private"
		}
	}
	branch := gh.DefaultBranch
	if branch == "" {
		branch = "main"
	}
	owner := gh.Owner.Login
	if owner == "" {
		owner = ownerOf(gh.FullName)
	}

	return &model.Repo{
		UserID:        userID,
		RepoID:        gh.ID,
		Name:          gh.Name,
		FullName:      gh.FullName,
		Description:   gh.Description,
		Language:      gh.Language,
		Topics:        gh.Topics,
		Stars:         gh.Stars,
		Forks:         gh.Forks,
		Owner:         owner,
		Visibility:    visibility,
		DefaultBranch: branch,
		HealthScore:   health,
		Findings:      FindingsFor(health),
		Status:        StatusFor(health),
	}
}

func ownerOf(fullName string) string {
	owner, _, _ := strings.Cut(fullName, "/")
	return owner
}
