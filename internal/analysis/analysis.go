// Package analysis is the contract with the external PR analysis engine.
package analysis

import (
	"context"

	"github.com/sakif/ghostwriter/internal/model"
)

// Request is the payload forwarded to the engine.
type Request struct {
	RepoID      string `json:"repo_id"` // "owner/repo"
	PRID        int    `json:"pr_id"`
	DiffText    string `json:"diff_text"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Engine analyses a pull request diff.
type Engine interface {
	Analyze(ctx context.Context, req Request) (*model.AnalysisResult, error)
}
