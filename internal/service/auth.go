// Package service holds the business rules of the application.
//
//	Handler (HTTP) → Service (rules, orchestration) → Repository / external clients
//
// Services take interfaces (repository.UserRepository, analysis.Engine,
// audit.Store, notify.Mailer) so tests can pass in-memory fakes.
//
// AuthService (this file):
//   - LoginOAuth: resolve a provider identity to an account. One provider per
//     account; an email already owned by another provider is a collision.
//   - Register / Login: local email + bcrypt password accounts. Both
//     "unknown email" and "wrong password" answer the same 401 message.
//   - LinkInstallation: remember the user's GitHub App installation.
//
// Dispatcher (dispatch.go):
//
//	trigger → [fetch diff] → engine.Analyze → store.Put → [mail report]
//
// A failed diff fetch stores nothing. A failed engine call stores an
// "error" record. Every run past the diff leaves exactly one record.
//
// RepoService (repos.go): caches GitHub repositories per user with a
// computed health score, and lists their audits and contributors.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/sakif/ghostwriter/internal/apperror"
	"github.com/sakif/ghostwriter/internal/auth"
	"github.com/sakif/ghostwriter/internal/model"
	"github.com/sakif/ghostwriter/internal/repository"
)

const MinPasswordLength = 8

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// CollisionError reports that an OAuth login targets an email already owned
// by an account of another provider. Accounts are never merged.
type CollisionError struct {
	Email            string
	ExistingProvider model.Provider
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("email %s is already registered with %s sign-in", e.Email, e.ExistingProvider)
}

func (e *CollisionError) Unwrap() error {
	return apperror.ErrConflict
}

// Local reports whether the existing account is an email/password account.
func (e *CollisionError) Local() bool {
	return e.ExistingProvider == model.ProviderEmail
}

// AuthService resolves identities (OAuth or local credentials) to users and
// issues session tokens for them.
type AuthService struct {
	users     repository.UserRepository
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	logger    *slog.Logger
}

// NewAuthService creates an AuthService.
func NewAuthService(
	users repository.UserRepository,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:     users,
		tokens:    tokens,
		passwords: passwords,
		logger:    logger,
	}
}

// AuthResult bundles the user and the signed session so the handler can set
// the cookie and respond in one step.
type AuthResult struct {
	User  *model.User
	Token string
}

// OAuthLogin is the verified outcome of a provider handshake.
type OAuthLogin struct {
	Provider    model.Provider
	Profile     *auth.Profile
	Email       string
	AccessToken string
}

// LoginOAuth resolves an OAuth identity to a user.
//
//  1. Known (provider, external id): refresh name and avatar.
//  2. Email owned by any other account: *CollisionError.
//  3. Otherwise create the user.
//
// A UNIQUE violation on create means a concurrent login won the race; the
// winning row is re-read instead of failing.
func (s *AuthService) LoginOAuth(ctx context.Context, in OAuthLogin) (*AuthResult, error) {
	if in.Profile == nil || in.Profile.ExternalID == "" {
		return nil, fmt.Errorf("service/auth: %s profile has no id", in.Provider)
	}
	email := model.NormalizeEmail(in.Email)
	if email == "" {
		return nil, apperror.ValidationFailed("email", "Provider did not return an email address")
	}

	user, err := s.users.GetByExternalID(ctx, in.Provider, in.Profile.ExternalID)
	switch {
	case err == nil:
		if err := s.refreshProfile(ctx, user, in); err != nil {
			return nil, err
		}
	case errors.Is(err, apperror.ErrNotFound):
		user, err = s.createOAuthUser(ctx, in, email)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("service/auth: looking up %s user %s: %w", in.Provider, in.Profile.ExternalID, err)
	}

	s.logger.Info("user authenticated via oauth",
		slog.String("provider", string(in.Provider)),
		slog.String("userID", user.ID),
	)
	return s.issue(user)
}

func (s *AuthService) createOAuthUser(ctx context.Context, in OAuthLogin, email string) (*model.User, error) {
	if err := s.checkCollision(ctx, email); err != nil {
		return nil, err
	}

	user := &model.User{
		Email:     email,
		Name:      in.Profile.Name,
		Provider:  in.Provider,
		AvatarURL: in.Profile.AvatarURL,
	}
	switch in.Provider {
	case model.ProviderGitHub:
		user.GitHubID = in.Profile.ExternalID
		user.GitHubToken = in.AccessToken
	case model.ProviderGoogle:
		user.GoogleID = in.Profile.ExternalID
		user.GoogleToken = in.AccessToken
	}

	err := s.users.Create(ctx, user)
	if err == nil {
		s.logger.Info("user created", slog.String("provider", string(in.Provider)), slog.String("userID", user.ID))
		return user, nil
	}
	if !errors.Is(err, apperror.ErrConflict) {
		return nil, fmt.Errorf("service/auth: creating %s user: %w", in.Provider, err)
	}

	existing, lookupErr := s.users.GetByExternalID(ctx, in.Provider, in.Profile.ExternalID)
	if lookupErr == nil {
		if err := s.refreshProfile(ctx, existing, in); err != nil {
			return nil, err
		}
		return existing, nil
	}
	if err := s.checkCollision(ctx, email); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("service/auth: creating %s user: %w", in.Provider, err)
}

// checkCollision returns *CollisionError when email already has an account.
func (s *AuthService) checkCollision(ctx context.Context, email string) error {
	existing, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, apperror.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("service/auth: looking up email: %w", err)
	}
	return &CollisionError{Email: email, ExistingProvider: existing.Provider}
}

func (s *AuthService) refreshProfile(ctx context.Context, user *model.User, in OAuthLogin) error {
	name := in.Profile.Name
	if name == "" {
		name = user.Name
	}
	if err := s.users.UpdateProfile(ctx, user.ID, name, in.Profile.AvatarURL); err != nil {
		return fmt.Errorf("service/auth: updating profile of %s: %w", user.ID, err)
	}
	user.Name = name
	user.AvatarURL = in.Profile.AvatarURL

	if in.AccessToken != "" {
		if err := s.users.SetProviderToken(ctx, user.ID, in.Provider, in.AccessToken); err != nil {
			return fmt.Errorf("service/auth: storing %s token: %w", in.Provider, err)
		}
		switch in.Provider {
		case model.ProviderGitHub:
			user.GitHubToken = in.AccessToken
		case model.ProviderGoogle:
			user.GoogleToken = in.AccessToken
		}
	}
	return nil
}

// RegisterInput is the body of a local sign-up.
type RegisterInput struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

// Register creates an email/password account and signs it in.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	first := strings.TrimSpace(in.FirstName)
	last := strings.TrimSpace(in.LastName)
	email := model.NormalizeEmail(in.Email)

	if first == "" || last == "" || email == "" || in.Password == "" {
		return nil, apperror.ValidationFailed("", "All fields are required")
	}
	if !emailPattern.MatchString(email) {
		return nil, apperror.ValidationFailed("email", "Invalid email format")
	}
	if len(in.Password) < MinPasswordLength {
		return nil, apperror.ValidationFailed("password",
			fmt.Sprintf("Password must be at least %d characters", MinPasswordLength))
	}

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return nil, apperror.ValidationFailed("password", "Password is too long")
	}

	user := &model.User{
		Email:        email,
		Name:         first + " " + last,
		PasswordHash: hash,
		Provider:     model.ProviderEmail,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, apperror.Conflict("An account with this email already exists")
		}
		return nil, fmt.Errorf("service/auth: registering %s: %w", email, err)
	}

	s.logger.Info("user registered", slog.String("userID", user.ID))
	return s.issue(user)
}

// Login checks email/password credentials. Unknown email and wrong password
// produce the same error. Accounts without a password are told which
// provider to use instead.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email = model.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, apperror.ValidationFailed("", "Email and password are required")
	}
	if !emailPattern.MatchString(email) {
		return nil, apperror.ValidationFailed("email", "Invalid email format")
	}

	invalid := apperror.Unauthorized("Invalid email or password")

	user, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, apperror.ErrNotFound) {
		return nil, invalid
	}
	if err != nil {
		return nil, fmt.Errorf("service/auth: looking up %s: %w", email, err)
	}

	if !user.HasPassword() {
		return nil, apperror.Unauthorized(fmt.Sprintf(
			"This account uses %s sign-in. Please sign in with %s.",
			ProviderLabel(user.Provider), ProviderLabel(user.Provider)))
	}
	if err := s.passwords.Verify(user.PasswordHash, password); err != nil {
		return nil, invalid
	}

	return s.issue(user)
}

// GetUserByID returns the user or an apperror.ErrNotFound error.
func (s *AuthService) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	if id == "" {
		return nil, apperror.ValidationFailed("id", "user id is required")
	}
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/auth: fetching user %s: %w", id, err)
	}
	return user, nil
}

// LinkInstallation records the GitHub App installation chosen by the user.
func (s *AuthService) LinkInstallation(ctx context.Context, userID string, installationID int64) error {
	if installationID <= 0 {
		return apperror.ValidationFailed("installation_id", "installation id must be positive")
	}
	if err := s.users.SetInstallationID(ctx, userID, installationID); err != nil {
		return fmt.Errorf("service/auth: linking installation %d: %w", installationID, err)
	}
	return nil
}

func (s *AuthService) issue(user *model.User) (*AuthResult, error) {
	token, err := s.tokens.Issue(IdentityOf(user))
	if err != nil {
		return nil, fmt.Errorf("service/auth: issuing session for %s: %w", user.ID, err)
	}
	return &AuthResult{User: user, Token: token}, nil
}

// IdentityOf maps a user onto session claims.
func IdentityOf(user *model.User) auth.Identity {
	return auth.Identity{
		UserID:   user.ID,
		Email:    user.Email,
		Name:     user.Name,
		Avatar:   user.AvatarURL,
		Provider: user.Provider,
	}
}

// ProviderLabel is the display name of a provider.
func ProviderLabel(p model.Provider) string {
	switch p {
	case model.ProviderGitHub:
		return "GitHub"
	case model.ProviderGoogle:
		return "Google"
	case model.ProviderEmail:
		return "email"
	}
	return string(p)
}
