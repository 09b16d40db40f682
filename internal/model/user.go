// Package model defines the data structures used throughout the application.
package model

import (
	"strings"
	"time"
)

// Provider identifies how an account authenticates. Each account has exactly
// one provider; a second provider with the same email is a collision, not a link.
type Provider string

const (
	ProviderEmail  Provider = "email"
	ProviderGitHub Provider = "github"
	ProviderGoogle Provider = "google"
)

// Valid reports whether p is one of the known providers.
func (p Provider) Valid() bool {
	switch p {
	case ProviderEmail, ProviderGitHub, ProviderGoogle:
		return true
	}
	return false
}

// User represents a registered account.
//
// Email is stored lower-cased so uniqueness is case-insensitive. GitHubID and
// GoogleID are the provider's stable user IDs (decimal string for GitHub);
// they are empty for accounts of another provider and unique when set.
type User struct {
	ID             string    `json:"id"             db:"id"`
	Email          string    `json:"email"          db:"email"`
	Name           string    `json:"name"           db:"name"`
	PasswordHash   string    `json:"-"              db:"password_hash"`
	Provider       Provider  `json:"provider"       db:"provider"`
	GitHubID       string    `json:"githubId,omitempty" db:"github_id"`
	GoogleID       string    `json:"googleId,omitempty" db:"google_id"`
	AvatarURL      string    `json:"avatar"         db:"avatar_url"`
	GitHubToken    string    `json:"-"              db:"github_token"`
	GoogleToken    string    `json:"-"              db:"google_token"`
	InstallationID int64     `json:"installationId,omitempty" db:"installation_id"`
	CreatedAt      time.Time `json:"createdAt"      db:"created_at"`
	UpdatedAt      time.Time `json:"updatedAt"      db:"updated_at"`
}

// HasPassword reports whether the account can sign in with email + password.
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// ExternalID returns the provider-specific ID for p, or "" for local accounts.
func (u *User) ExternalID(p Provider) string {
	switch p {
	case ProviderGitHub:
		return u.GitHubID
	case ProviderGoogle:
		return u.GoogleID
	}
	return ""
}

// NormalizeEmail trims and lower-cases an address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
