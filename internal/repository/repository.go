// Package repository declares the persistence interfaces for durable entities.
// Implementations live in subpackages (sqlite).
package repository

import (
	"context"

	"github.com/sakif/ghostwriter/internal/model"
)

// UserRepository stores accounts. Create returns an apperror.ErrConflict
// error when the email or provider ID is already taken; lookups return
// apperror.ErrNotFound.
type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetByExternalID(ctx context.Context, provider model.Provider, externalID string) (*model.User, error)
	UpdateProfile(ctx context.Context, id, name, avatarURL string) error
	SetProviderToken(ctx context.Context, id string, provider model.Provider, token string) error
	SetInstallationID(ctx context.Context, id string, installationID int64) error
}

// RepoRepository stores per-user repository metadata. Upsert never creates
// a second row for the same (user, repo ID) or (user, full name).
type RepoRepository interface {
	Upsert(ctx context.Context, repo *model.Repo) error
	GetByID(ctx context.Context, userID, id string) (*model.Repo, error)
	GetByRepoID(ctx context.Context, userID string, repoID int64) (*model.Repo, error)
	ListByUser(ctx context.Context, userID string) ([]model.Repo, error)
}
