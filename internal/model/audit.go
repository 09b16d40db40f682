package model

import (
	"fmt"
	"time"
)

// Analysis result statuses. The engine may also answer "approved", which
// counts as a success in the dashboard stats.
const (
	StatusSuccess  = "success"
	StatusError    = "error"
	StatusIssues   = "issues"
	StatusApproved = "approved"
)

// AuditRecord is the stored outcome of one analysis run for one pull request.
// Key is "owner/repo/number"; a newer run for the same key replaces it.
type AuditRecord struct {
	Key        string         `json:"id"`
	Repo       string         `json:"repo"`
	PRNumber   int            `json:"pr_id"`
	Title      string         `json:"title,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Result     AnalysisResult `json:"result"`
	Diff       string         `json:"diff"`
	Source     string         `json:"source,omitempty"`      // "webhook", "manual", "submit"
	DeliveryID string         `json:"delivery_id,omitempty"` // X-GitHub-Delivery when triggered by a webhook

	// Seq orders records written with identical timestamps. Assigned by the store.
	Seq int64 `json:"-"`
}

// AuditKey builds the composite key for a pull request.
func AuditKey(owner, repo string, number int) string {
	return fmt.Sprintf("%s/%s/%d", owner, repo, number)
}

// AnalysisResult is the analysis engine's verdict for a diff.
type AnalysisResult struct {
	Status           string            `json:"status"`
	Comment          string            `json:"comment"`
	ConfidenceScore  float64           `json:"confidence_score"`
	RuntimeSnapshot  *RuntimeSnapshot  `json:"runtime_snapshot,omitempty"`
	SecuritySnapshot *SecuritySnapshot `json:"security_snapshot,omitempty"`
}

type RuntimeSnapshot struct {
	Steps                  []RuntimeStep `json:"steps"`
	FinalVerdict           string        `json:"final_verdict"`
	ErrorRecoveryAttempted bool          `json:"error_recovery_attempted"`
	RecoveryTrace          *string       `json:"recovery_trace"`
}

type RuntimeStep struct {
	StepName       string `json:"step_name"`
	Description    string `json:"description"`
	ExpectedOutput string `json:"expected_output"`
	ActualOutput   string `json:"actual_output"`
	Status         string `json:"status"` // PASS | FAIL
}

type SecuritySnapshot struct {
	IsSecure         bool            `json:"is_secure"`
	Vulnerabilities  []Vulnerability `json:"vulnerabilities"`
	SummaryReasoning string          `json:"summary_reasoning"`
}

type Vulnerability struct {
	Type            string  `json:"type"`
	Severity        string  `json:"severity"`
	Description     string  `json:"description"`
	FilePath        string  `json:"file_path"`
	LineNumber      *int    `json:"line_number"`
	ReasoningPath   string  `json:"reasoning_path"`
	ConfidenceScore float64 `json:"confidence_score"`
}

// AuditStats are the dashboard counters derived from all stored records.
type AuditStats struct {
	TotalAudits          int    `json:"total_audits"`
	VulnerabilitiesFound int    `json:"vulnerabilities_found"`
	AgentSuccessRate     string `json:"agent_success_rate"`
	AvgReviewTime        string `json:"avg_review_time"`
}
