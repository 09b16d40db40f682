// Package githubapp issues GitHub App credentials: a short-lived RS256 JWT
// identifying the app, exchanged for an installation access token.
package githubapp

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultBackdate tolerates clock drift between us and GitHub.
	DefaultBackdate = 60 * time.Second
	// DefaultTTL is GitHub's maximum app JWT lifetime.
	DefaultTTL = 10 * time.Minute

	defaultAPI = "https://api.github.com"
)

// Signer mints app JWTs.
type Signer struct {
	appID    string
	key      *rsa.PrivateKey
	backdate time.Duration
	ttl      time.Duration
}

// SignerOption customises a Signer.
type SignerOption func(*Signer)

// WithBackdate sets how far iat is moved into the past.
func WithBackdate(d time.Duration) SignerOption {
	return func(s *Signer) { s.backdate = d }
}

// WithTTL sets the token lifetime measured from now.
func WithTTL(d time.Duration) SignerOption {
	return func(s *Signer) { s.ttl = d }
}

// NewSigner parses the private key (see ParsePrivateKey) for appID.
func NewSigner(appID, privateKey string, opts ...SignerOption) (*Signer, error) {
	if appID == "" {
		return nil, errors.New("githubapp: app id is required")
	}
	key, err := ParsePrivateKey(privateKey)
	if err != nil {
		return nil, err
	}

	s := &Signer{appID: appID, key: key, backdate: DefaultBackdate, ttl: DefaultTTL}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ParsePrivateKey accepts a PEM key as-is, with literal "\n" sequences (as
// stored in most .env files), or base64 encoded. Surrounding quotes left by
// some .env parsers are stripped.
func ParsePrivateKey(raw string) (*rsa.PrivateKey, error) {
	raw = strings.TrimSpace(strings.Trim(strings.TrimSpace(raw), `"'`))
	if raw == "" {
		return nil, errors.New("githubapp: private key is empty")
	}

	pemText := raw
	if !strings.Contains(raw, "-----BEGIN") {
		decoded, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("githubapp: private key is neither PEM nor base64: %w", err)
		}
		pemText = string(decoded)
	}
	pemText = strings.ReplaceAll(pemText, `\n`, "\n")

	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(pemText))
	if err != nil {
		return nil, fmt.Errorf("githubapp: parsing private key: %w", err)
	}
	return key, nil
}

// AppJWT returns a token with iat = now-backdate and exp = now+ttl.
func (s *Signer) AppJWT(now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Issuer:    s.appID,
		IssuedAt:  jwt.NewNumericDate(now.Add(-s.backdate)),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("githubapp: signing app jwt: %w", err)
	}
	return signed, nil
}

// Verify checks a token against the signer's public key at time now.
// GitHub performs the real check; this exists for diagnostics and tests.
func (s *Signer) Verify(token string, now time.Time) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return &s.key.PublicKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(s.appID),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		return nil, fmt.Errorf("githubapp: invalid app jwt: %w", err)
	}
	return claims, nil
}

// InstallationToken is a short-lived token scoped to one installation.
type InstallationToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Client exchanges app JWTs for installation tokens.
type Client struct {
	signer  *Signer
	http    *http.Client
	baseURL string
	now     func() time.Time
}

// NewClient creates a Client. baseURL defaults to the public GitHub API.
func NewClient(signer *Signer, httpClient *http.Client, baseURL string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if baseURL == "" {
		baseURL = defaultAPI
	}
	return &Client{
		signer:  signer,
		http:    httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
		now:     time.Now,
	}
}

// InstallationToken POSTs to /app/installations/{id}/access_tokens.
func (c *Client) InstallationToken(ctx context.Context, installationID int64) (*InstallationToken, error) {
	appJWT, err := c.signer.AppJWT(c.now())
	if err != nil {
		return nil, err
	}

	url := c.baseURL + "/app/installations/" + strconv.FormatInt(installationID, 10) + "/access_tokens"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(nil))
	if err != nil {
		return nil, fmt.Errorf("githubapp: building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+appJWT)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("githubapp: requesting installation token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("githubapp: installation token: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tok InstallationToken
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return nil, fmt.Errorf("githubapp: decoding installation token: %w", err)
	}
	if tok.Token == "" {
		return nil, errors.New("githubapp: empty installation token")
	}
	return &tok, nil
}
