// Package scm talks to the source-control provider's REST API (GitHub):
// pull-request diffs and metadata, and repository listings.
package scm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/sakif/ghostwriter/internal/apperror"
)

const (
	DefaultBaseURL = "https://api.github.com"

	// ListReposTimeout bounds the user repository listing; exceeding it is
	// reported as apperror.ErrTimeout rather than a generic failure.
	ListReposTimeout = 8 * time.Second

	diffMediaType = "application/vnd.github.v3.diff"
	jsonMediaType = "application/vnd.github+json"
	apiVersion    = "2022-11-28"
	userAgent     = "ghostwriter"
)

// ErrUnauthorized is returned when GitHub rejects the token with 401.
var ErrUnauthorized = errors.New("scm: github token rejected")

// PullRequest is the subset of the PR object we use.
type PullRequest struct {
	Number  int    `json:"number"`
	Title   string `json:"title"`
	Body    string `json:"body"`
	State   string `json:"state"`
	HTMLURL string `json:"html_url"`
	User    struct {
		Login string `json:"login"`
	} `json:"user"`
	Head struct {
		SHA string `json:"sha"`
	} `json:"head"`
}

// Repository is the subset of the repository object we cache.
type Repository struct {
	ID            int64    `json:"id"`
	Name          string   `json:"name"`
	FullName      string   `json:"full_name"`
	Description   string   `json:"description"`
	Language      string   `json:"language"`
	Topics        []string `json:"topics"`
	Stars         int      `json:"stargazers_count"`
	Forks         int      `json:"forks_count"`
	Private       bool     `json:"private"`
	Visibility    string   `json:"visibility"`
	DefaultBranch string   `json:"default_branch"`
	HTMLURL       string   `json:"html_url"`
	Owner         struct {
		Login string `json:"login"`
	} `json:"owner"`
}

// Contributor is one entry of a repository's contributor listing.
type Contributor struct {
	ID            int64  `json:"id"`
	Login         string `json:"login"`
	AvatarURL     string `json:"avatar_url"`
	HTMLURL       string `json:"html_url"`
	Contributions int    `json:"contributions"`
}

// Client is a small GitHub REST client. The zero timeout on the underlying
// http.Client is intentional: callers bound requests with their context.
type Client struct {
	http        *http.Client
	baseURL     string
	logger      *slog.Logger
	listTimeout time.Duration
}

// New creates a Client. A nil httpClient uses http.DefaultClient.
func New(httpClient *http.Client, baseURL string, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		http:        httpClient,
		baseURL:     strings.TrimRight(baseURL, "/"),
		logger:      logger,
		listTimeout: ListReposTimeout,
	}
}

// FetchDiff returns the unified diff of a pull request.
func (c *Client) FetchDiff(ctx context.Context, token, owner, repo string, number int) (string, error) {
	path := fmt.Sprintf("/repos/%s/%s/pulls/%d", url.PathEscape(owner), url.PathEscape(repo), number)

	body, err := c.get(ctx, token, path, diffMediaType)
	if err != nil {
		return "", fmt.Errorf("scm: fetching diff for %s/%s#%d: %w", owner, repo, number, err)
	}
	return string(body), nil
}

// GetPullRequest returns the live PR object (title, body, state).
func (c *Client) GetPullRequest(ctx context.Context, token, owner, repo string, number int) (*PullRequest, error) {
	path := fmt.Sprintf("/repos/%s/%s/pulls/%d", url.PathEscape(owner), url.PathEscape(repo), number)

	body, err := c.get(ctx, token, path, jsonMediaType)
	if err != nil {
		return nil, fmt.Errorf("scm: fetching %s/%s#%d: %w", owner, repo, number, err)
	}

	var pr PullRequest
	if err := json.Unmarshal(body, &pr); err != nil {
		return nil, fmt.Errorf("scm: decoding pull request: %w", err)
	}
	return &pr, nil
}

// ListUserRepos lists the authenticated user's public repositories, most
// recently updated first. The call is bounded by ListReposTimeout.
func (c *Client) ListUserRepos(ctx context.Context, token string) ([]Repository, error) {
	ctx, cancel := context.WithTimeout(ctx, c.listTimeout)
	defer cancel()

	body, err := c.get(ctx, token, "/user/repos?type=public&sort=updated&per_page=20", jsonMediaType)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return nil, apperror.Timeout("Connection to GitHub timed out. Please try again.")
	case errors.Is(err, ErrUnauthorized):
		return nil, apperror.Unauthorized("GitHub token expired or invalid. Please reconnect your account.")
	case err != nil:
		return nil, apperror.Upstream("Failed to fetch repositories from GitHub.", err)
	}

	var repos []Repository
	if err := json.Unmarshal(body, &repos); err != nil {
		return nil, fmt.Errorf("scm: decoding repositories: %w", err)
	}
	return repos, nil
}

// ListInstallationRepos lists the repositories an app installation can access.
func (c *Client) ListInstallationRepos(ctx context.Context, installationToken string) ([]Repository, error) {
	body, err := c.get(ctx, installationToken, "/installation/repositories?per_page=100", jsonMediaType)
	if err != nil {
		return nil, fmt.Errorf("scm: listing installation repositories: %w", err)
	}

	var page struct {
		TotalCount   int          `json:"total_count"`
		Repositories []Repository `json:"repositories"`
	}
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("scm: decoding installation repositories: %w", err)
	}
	return page.Repositories, nil
}

// ListContributors lists up to 20 contributors of owner/repo, most commits
// first. GitHub answers an empty repository with 204 and no body.
func (c *Client) ListContributors(ctx context.Context, token, owner, repo string) ([]Contributor, error) {
	path := fmt.Sprintf("/repos/%s/%s/contributors?per_page=20", url.PathEscape(owner), url.PathEscape(repo))

	body, err := c.get(ctx, token, path, jsonMediaType)
	if err != nil {
		return nil, fmt.Errorf("scm: listing contributors of %s/%s: %w", owner, repo, err)
	}
	if strings.TrimSpace(string(body)) == "" {
		return []Contributor{}, nil
	}

	var contributors []Contributor
	if err := json.Unmarshal(body, &contributors); err != nil {
		return nil, fmt.Errorf("scm: decoding contributors: %w", err)
	}
	return contributors, nil
}

// get performs a GET with the given token (may be empty) and returns the body
// of a 2xx response.
func (c *Client) get(ctx context.Context, token, path, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := c.client(token).Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	c.logger.Debug("github request",
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, ErrUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("github responded with status %d: %s", resp.StatusCode, excerpt(body))
	}
	return body, nil
}

// client returns an http.Client that adds the bearer token, if any.
func (c *Client) client(token string) *http.Client {
	if token == "" {
		return c.http
	}
	return &http.Client{
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}),
			Base:   c.http.Transport,
		},
		Timeout: c.http.Timeout,
	}
}

func excerpt(body []byte) string {
	const max = 200
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
