package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/ghostwriter/internal/apperror"
	"github.com/sakif/ghostwriter/internal/model"
	"github.com/sakif/ghostwriter/internal/repository"
)

// UserDB implements repository.UserRepository.
type UserDB struct {
	conn *sql.DB
}

var _ repository.UserRepository = (*UserDB)(nil)

const userColumns = `id, email, name, password_hash, provider, github_id, google_id,
	avatar_url, github_token, google_token, installation_id, created_at, updated_at`

// Create inserts a new user, assigning ID and timestamps. Email is stored
// normalised. A UNIQUE violation (email, github_id or google_id) is reported
// as apperror.ErrConflict so callers can re-read the winning row.
//
// OAuth accounts must carry the external ID of their own provider.
func (u *UserDB) Create(ctx context.Context, user *model.User) error {
	if !user.Provider.Valid() {
		return apperror.ValidationFailed("provider", fmt.Sprintf("unknown provider %q", user.Provider))
	}
	if user.Provider != model.ProviderEmail && user.ExternalID(user.Provider) == "" {
		return apperror.ValidationFailed("provider", fmt.Sprintf("%s account has no external id", user.Provider))
	}

	now := time.Now().UTC()
	user.ID = xid.New().String()
	user.Email = model.NormalizeEmail(user.Email)
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := u.conn.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.Email,
		user.Name,
		user.PasswordHash,
		string(user.Provider),
		nullString(user.GitHubID),
		nullString(user.GoogleID),
		user.AvatarURL,
		user.GitHubToken,
		user.GoogleToken,
		user.InstallationID,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		user.ID = ""
		if isUniqueViolation(err) {
			return apperror.Conflict("An account with this email already exists")
		}
		return fmt.Errorf("sqlite: inserting user %s: %w", user.Email, err)
	}
	return nil
}

// GetByID returns apperror.ErrNotFound for an unknown id.
func (u *UserDB) GetByID(ctx context.Context, id string) (*model.User, error) {
	return u.getOne(ctx, id, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

// GetByEmail matches case-insensitively (the column is COLLATE NOCASE).
func (u *UserDB) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	email = model.NormalizeEmail(email)
	return u.getOne(ctx, email, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
}

// GetByExternalID looks up an OAuth account by the provider's user ID.
// ProviderEmail has no external ID and is rejected as a validation error.
func (u *UserDB) GetByExternalID(ctx context.Context, provider model.Provider, externalID string) (*model.User, error) {
	var column string
	switch provider {
	case model.ProviderGitHub:
		column = "github_id"
	case model.ProviderGoogle:
		column = "google_id"
	default:
		return nil, apperror.ValidationFailed("provider", fmt.Sprintf("provider %q has no external id", provider))
	}
	if externalID == "" {
		return nil, apperror.NotFound("user", "(empty external id)")
	}
	return u.getOne(ctx, externalID, `SELECT `+userColumns+` FROM users WHERE `+column+` = ?`, externalID)
}

// UpdateProfile overwrites the mutable profile fields. Repeating it with the
// same values is a no-op apart from updated_at.
func (u *UserDB) UpdateProfile(ctx context.Context, id, name, avatarURL string) error {
	return u.exec(ctx, id,
		`UPDATE users SET name = ?, avatar_url = ?, updated_at = ? WHERE id = ?`,
		name, avatarURL, time.Now().UTC(), id)
}

// SetProviderToken stores the latest OAuth access token for provider.
func (u *UserDB) SetProviderToken(ctx context.Context, id string, provider model.Provider, token string) error {
	var column string
	switch provider {
	case model.ProviderGitHub:
		column = "github_token"
	case model.ProviderGoogle:
		column = "google_token"
	default:
		return apperror.ValidationFailed("provider", fmt.Sprintf("provider %q has no access token", provider))
	}
	return u.exec(ctx, id,
		`UPDATE users SET `+column+` = ?, updated_at = ? WHERE id = ?`,
		token, time.Now().UTC(), id)
}

// SetInstallationID links the user to a GitHub App installation.
func (u *UserDB) SetInstallationID(ctx context.Context, id string, installationID int64) error {
	return u.exec(ctx, id,
		`UPDATE users SET installation_id = ?, updated_at = ? WHERE id = ?`,
		installationID, time.Now().UTC(), id)
}

func (u *UserDB) exec(ctx context.Context, id, query string, args ...any) error {
	res, err := u.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("sqlite: updating user %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("user", id)
	}
	return nil
}

func (u *UserDB) getOne(ctx context.Context, ref, query string, args ...any) (*model.User, error) {
	var (
		usr      model.User
		provider string
		githubID sql.NullString
		googleID sql.NullString
	)
	err := u.conn.QueryRowContext(ctx, query, args...).Scan(
		&usr.ID,
		&usr.Email,
		&usr.Name,
		&usr.PasswordHash,
		&provider,
		&githubID,
		&googleID,
		&usr.AvatarURL,
		&usr.GitHubToken,
		&usr.GoogleToken,
		&usr.InstallationID,
		&usr.CreatedAt,
		&usr.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", ref)
		}
		return nil, fmt.Errorf("sqlite: getting user %s: %w", ref, err)
	}

	usr.Provider = model.Provider(provider)
	usr.GitHubID = githubID.String
	usr.GoogleID = googleID.String
	return &usr, nil
}
