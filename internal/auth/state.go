package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"
)

const (
	stateCookie   = "oauth_state"
	stateKey      = "state"
	stateProvider = "provider"
	stateMaxAge   = 600 // seconds; long enough for the user to approve the app
)

// ErrStateMismatch covers every CSRF state failure: missing cookie, tampered
// cookie, wrong provider or a value that does not match the callback.
var ErrStateMismatch = errors.New("auth: oauth state mismatch")

// StateStore keeps the OAuth CSRF state in a signed, short-lived cookie.
type StateStore struct {
	store *sessions.CookieStore
}

// NewStateStore derives the cookie signing key from secret.
func NewStateStore(secret string, secure bool) *StateStore {
	key := sha256.Sum256([]byte(secret))

	store := sessions.NewCookieStore(key[:])
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   stateMaxAge,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	return &StateStore{store: store}
}

// Issue generates a new random state bound to provider and writes the cookie.
func (s *StateStore) Issue(w http.ResponseWriter, r *http.Request, provider string) (string, error) {
	// A tampered or stale cookie decodes with an error but still yields a
	// fresh session, which is all we need here.
	sess, _ := s.store.New(r, stateCookie)

	state := uuid.NewString()
	sess.Values[stateKey] = state
	sess.Values[stateProvider] = provider
	if err := sess.Save(r, w); err != nil {
		return "", fmt.Errorf("auth: saving oauth state: %w", err)
	}
	return state, nil
}

// Consume checks got against the stored state for provider and always clears
// the cookie, so a state value can be used at most once.
func (s *StateStore) Consume(w http.ResponseWriter, r *http.Request, provider, got string) error {
	sess, err := s.store.Get(r, stateCookie)
	want, _ := sess.Values[stateKey].(string)
	boundTo, _ := sess.Values[stateProvider].(string)

	sess.Options.MaxAge = -1
	_ = sess.Save(r, w)

	if err != nil || sess.IsNew || want == "" || got == "" || boundTo != provider {
		return ErrStateMismatch
	}
	if subtle.ConstantTimeCompare([]byte(want), []byte(got)) != 1 {
		return ErrStateMismatch
	}
	return nil
}
