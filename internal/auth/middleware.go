package auth

import (
	"context"
	"net/http"
)

// contextKey is unexported so no other package can read or shadow our values.
type contextKey string

const sessionKey contextKey = "session"

// RequireSession rejects requests without a valid session cookie with a 401
// JSON body. On success the claims are available via SessionFromContext.
func RequireSession(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := sessionFromRequest(r, tokens)
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized","message":"Not authenticated. Please log in first."}` + "\n"))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), claims)))
		})
	}
}

// OptionalSession attaches the session when a valid cookie is present and
// otherwise lets the request through anonymously.
func OptionalSession(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if claims, err := sessionFromRequest(r, tokens); err == nil {
				r = r.WithContext(WithSession(r.Context(), claims))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithSession returns a context carrying claims. Exposed for handler tests.
func WithSession(ctx context.Context, claims *SessionClaims) context.Context {
	return context.WithValue(ctx, sessionKey, claims)
}

// SessionFromContext returns the authenticated session, or (nil, false).
func SessionFromContext(ctx context.Context) (*SessionClaims, bool) {
	c, ok := ctx.Value(sessionKey).(*SessionClaims)
	return c, ok && c != nil
}

func sessionFromRequest(r *http.Request, tokens *TokenService) (*SessionClaims, error) {
	cookie, err := r.Cookie(SessionCookie)
	if err != nil {
		return nil, ErrInvalidSession
	}
	return tokens.Verify(cookie.Value)
}
