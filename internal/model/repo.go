package model

import "time"

// RepoStatus is the dashboard status derived from a repository's health score.
type RepoStatus string

const (
	RepoClean          RepoStatus = "clean"
	RepoReviewRequired RepoStatus = "review_required"
	RepoAuditActive    RepoStatus = "audit_active"
	RepoProtected      RepoStatus = "protected"
)

// Repo is a user's cached copy of a GitHub repository plus computed health.
// Unique on (UserID, RepoID) and on (UserID, FullName).
type Repo struct {
	ID            string     `json:"id"`
	UserID        string     `json:"userId"`
	RepoID        int64      `json:"repoId"`
	Name          string     `json:"name"`
	FullName      string     `json:"fullName"`
	Description   string     `json:"description"`
	Language      string     `json:"language"`
	Topics        []string   `json:"topics"`
	Stars         int        `json:"stars"`
	Forks         int        `json:"forks"`
	Owner         string     `json:"owner"`
	Visibility    string     `json:"visibility"`
	DefaultBranch string     `json:"defaultBranch"`
	LastAnalyzed  *time.Time `json:"lastAnalyzed,omitempty"`
	HealthScore   int        `json:"healthScore"`
	Findings      int        `json:"findings"`
	Status        RepoStatus `json:"status"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// Contributor is a repository contributor as shown on the dashboard. PRs and
// Role are estimates derived from the commit count and listing rank.
type Contributor struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Avatar     string `json:"avatar"`
	Commits    int    `json:"commits"`
	PRs        int    `json:"prs"`
	Role       string `json:"role"`
	ProfileURL string `json:"profileUrl"`
}
