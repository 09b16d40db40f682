package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/ghostwriter/internal/apperror"
	"github.com/sakif/ghostwriter/internal/model"
	"github.com/sakif/ghostwriter/internal/repository"
)

// RepoDB implements repository.RepoRepository.
type RepoDB struct {
	conn *sql.DB
}

var _ repository.RepoRepository = (*RepoDB)(nil)

const repoColumns = `id, user_id, repo_id, name, full_name, description, language, topics,
	stars, forks, owner, visibility, default_branch, last_analyzed, health_score, findings,
	status, created_at, updated_at`

// Upsert inserts or updates by (user_id, repo_id) and reloads the stored row
// into repo. If the full name is held by a row with another repo_id (the
// repository was deleted and recreated on GitHub), that row is taken over.
func (r *RepoDB) Upsert(ctx context.Context, repo *model.Repo) error {
	topics, err := json.Marshal(nonNil(repo.Topics))
	if err != nil {
		return fmt.Errorf("sqlite: encoding topics: %w", err)
	}
	now := time.Now().UTC()

	_, err = r.conn.ExecContext(ctx, `
		INSERT INTO repositories (`+repoColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, repo_id) DO UPDATE SET
			name = excluded.name,
			full_name = excluded.full_name,
			description = excluded.description,
			language = excluded.language,
			topics = excluded.topics,
			stars = excluded.stars,
			forks = excluded.forks,
			owner = excluded.owner,
			visibility = excluded.visibility,
			default_branch = excluded.default_branch,
			last_analyzed = excluded.last_analyzed,
			health_score = excluded.health_score,
			findings = excluded.findings,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		xid.New().String(), repo.UserID, repo.RepoID, repo.Name, repo.FullName,
		repo.Description, repo.Language, string(topics), repo.Stars, repo.Forks,
		repo.Owner, repo.Visibility, repo.DefaultBranch, repo.LastAnalyzed,
		repo.HealthScore, repo.Findings, string(repo.Status), now, now,
	)
	if err != nil {
		if !isUniqueViolation(err) {
			return fmt.Errorf("sqlite: upserting repository %s: %w", repo.FullName, err)
		}
		if err := r.takeOverByFullName(ctx, repo, string(topics), now); err != nil {
			return err
		}
	}

	stored, err := r.getOne(ctx, repo.FullName,
		`SELECT `+repoColumns+` FROM repositories WHERE user_id = ? AND repo_id = ?`,
		repo.UserID, repo.RepoID)
	if err != nil {
		return err
	}
	*repo = *stored
	return nil
}

func (r *RepoDB) takeOverByFullName(ctx context.Context, repo *model.Repo, topics string, now time.Time) error {
	_, err := r.conn.ExecContext(ctx, `
		UPDATE repositories SET
			repo_id = ?, name = ?, description = ?, language = ?, topics = ?, stars = ?,
			forks = ?, owner = ?, visibility = ?, default_branch = ?, last_analyzed = ?,
			health_score = ?, findings = ?, status = ?, updated_at = ?
		WHERE user_id = ? AND full_name = ?`,
		repo.RepoID, repo.Name, repo.Description, repo.Language, topics, repo.Stars,
		repo.Forks, repo.Owner, repo.Visibility, repo.DefaultBranch, repo.LastAnalyzed,
		repo.HealthScore, repo.Findings, string(repo.Status), now,
		repo.UserID, repo.FullName,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating repository %s by full name: %w", repo.FullName, err)
	}
	return nil
}

// GetByID is scoped to userID: another user's repository is not found.
func (r *RepoDB) GetByID(ctx context.Context, userID, id string) (*model.Repo, error) {
	return r.getOne(ctx, id,
		`SELECT `+repoColumns+` FROM repositories WHERE user_id = ? AND id = ?`, userID, id)
}

// GetByRepoID looks a repository up by its GitHub ID.
func (r *RepoDB) GetByRepoID(ctx context.Context, userID string, repoID int64) (*model.Repo, error) {
	return r.getOne(ctx, strconv.FormatInt(repoID, 10),
		`SELECT `+repoColumns+` FROM repositories WHERE user_id = ? AND repo_id = ?`, userID, repoID)
}

// ListByUser returns the user's repositories, most starred first, then by name.
func (r *RepoDB) ListByUser(ctx context.Context, userID string) ([]model.Repo, error) {
	rows, err := r.conn.QueryContext(ctx,
		`SELECT `+repoColumns+` FROM repositories WHERE user_id = ?
		 ORDER BY stars DESC, name ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing repositories: %w", err)
	}
	defer rows.Close()

	repos := []model.Repo{}
	for rows.Next() {
		repo, err := scanRepo(rows)
		if err != nil {
			return nil, err
		}
		repos = append(repos, *repo)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating repositories: %w", err)
	}
	return repos, nil
}

func (r *RepoDB) getOne(ctx context.Context, ref, query string, args ...any) (*model.Repo, error) {
	repo, err := scanRepo(r.conn.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("repository", ref)
		}
		return nil, err
	}
	return repo, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRepo(s scanner) (*model.Repo, error) {
	var (
		repo         model.Repo
		topics       string
		status       string
		lastAnalyzed sql.NullTime
	)
	err := s.Scan(
		&repo.ID, &repo.UserID, &repo.RepoID, &repo.Name, &repo.FullName,
		&repo.Description, &repo.Language, &topics, &repo.Stars, &repo.Forks,
		&repo.Owner, &repo.Visibility, &repo.DefaultBranch, &lastAnalyzed,
		&repo.HealthScore, &repo.Findings, &status, &repo.CreatedAt, &repo.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("sqlite: scanning repository: %w", err)
	}

	if err := json.Unmarshal([]byte(topics), &repo.Topics); err != nil {
		return nil, fmt.Errorf("sqlite: decoding topics of %s: %w", repo.FullName, err)
	}
	repo.Status = model.RepoStatus(status)
	if lastAnalyzed.Valid {
		t := lastAnalyzed.Time
		repo.LastAnalyzed = &t
	}
	return &repo, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
