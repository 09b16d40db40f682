// Package auth issues and verifies session credentials and drives the OAuth
// handshake with external identity providers.
//
// SIGN-IN FLOW (OAuth):
//  1. GET /api/auth/{provider}: StateStore.Issue writes a random state into
//     a signed, 10-minute cookie; the browser is sent to the provider.
//  2. The provider redirects to /api/auth/{provider}/callback with code and
//     state. StateStore.Consume compares the state and deletes the cookie,
//     so a state works once.
//  3. Provider.ExchangeCode trades the code for an access token,
//     FetchProfile and ResolveEmail describe the user.
//  4. The service layer resolves the account; TokenService.Issue signs the
//     session and Cookies.SetSession stores it.
//  5. RequireSession / OptionalSession read the cookie on later requests and
//     put the verified *SessionClaims in the request context.
//
// SESSIONS:
// A session is a stateless HS256 JWT in the HttpOnly "session" cookie:
//
//	{"sub":"<user id>","sid":"<uuid>","email":"...","name":"...","provider":"github","iss":"ghostwriter","exp":...}
//
// Validity depends only on the signature and expiry, so logout deletes the
// cookie but cannot revoke a copy of the token held elsewhere. The sid is
// reused as the state of the GitHub App installation redirect.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/sakif/ghostwriter/internal/model"
)

const (
	issuer = "ghostwriter"

	// DefaultSessionTTL is used when no TTL is configured.
	DefaultSessionTTL = 7 * 24 * time.Hour
)

// ErrInvalidSession is the single answer for any token that fails
// verification. Expired and forged tokens are deliberately indistinguishable.
var ErrInvalidSession = errors.New("auth: invalid session")

// Identity is the set of user claims embedded in a session.
type Identity struct {
	UserID   string
	Email    string
	Name     string
	Avatar   string
	Provider model.Provider
}

// SessionClaims is the JWT payload. Subject carries the user ID.
type SessionClaims struct {
	jwt.RegisteredClaims
	SessionID string         `json:"sid"`
	Email     string         `json:"email"`
	Name      string         `json:"name"`
	Avatar    string         `json:"avatar,omitempty"`
	Provider  model.Provider `json:"provider"`
}

// UserID returns the subject claim.
func (c *SessionClaims) UserID() string {
	return c.Subject
}

// TokenService mints and verifies session tokens.
type TokenService struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenService creates a TokenService. ttl <= 0 selects DefaultSessionTTL.
// The secret should be at least 32 bytes of random data in production.
func NewTokenService(secret string, ttl time.Duration) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: session secret must be at least 16 characters")
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &TokenService{secret: []byte(secret), ttl: ttl}, nil
}

// TTL returns the lifetime of newly issued tokens.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// Issue signs a new session for id with a fresh random session ID.
func (s *TokenService) Issue(id Identity) (string, error) {
	return s.IssueWithTTL(id, s.ttl)
}

// IssueWithTTL is Issue with an explicit lifetime. A negative ttl yields an
// already-expired token, which tests use to exercise expiry.
func (s *TokenService) IssueWithTTL(id Identity, ttl time.Duration) (string, error) {
	if id.UserID == "" {
		return "", errors.New("auth: session identity has no user ID")
	}

	now := time.Now()
	c := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    issuer,
		},
		SessionID: uuid.NewString(),
		Email:     id.Email,
		Name:      id.Name,
		Avatar:    id.Avatar,
		Provider:  id.Provider,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing session: %w", err)
	}
	return signed, nil
}

// Verify parses tokenStr and returns its claims. Every failure (bad
// signature, wrong algorithm, expiry, missing subject) returns
// ErrInvalidSession.
func (s *TokenService) Verify(tokenStr string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&SessionClaims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, ErrInvalidSession
	}

	c, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid || c.Subject == "" {
		return nil, ErrInvalidSession
	}
	return c, nil
}
