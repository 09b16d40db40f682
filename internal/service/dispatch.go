package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/ghostwriter/internal/analysis"
	"github.com/sakif/ghostwriter/internal/apperror"
	"github.com/sakif/ghostwriter/internal/audit"
	"github.com/sakif/ghostwriter/internal/model"
	"github.com/sakif/ghostwriter/internal/notify"
	"github.com/sakif/ghostwriter/internal/scm"
)

// Dispatch sources recorded on audit records.
const (
	SourceWebhook = "webhook"
	SourceManual  = "manual"
	SourceSubmit  = "submit"
)

// DiffSource fetches pull-request data from the source-control provider.
// *scm.Client satisfies it.
type DiffSource interface {
	FetchDiff(ctx context.Context, token, owner, repo string, number int) (string, error)
	GetPullRequest(ctx context.Context, token, owner, repo string, number int) (*scm.PullRequest, error)
}

// ReportSender delivers an audit report. *notify.Notifier satisfies it.
type ReportSender interface {
	Send(ctx context.Context, rec model.AuditRecord, to string) notify.Result
}

// DispatchRequest carries PR coordinates plus whatever the trigger already
// knows. An empty Diff is fetched; an empty AuthToken falls back to the
// configured token.
type DispatchRequest struct {
	Owner       string
	Repo        string
	PRNumber    int
	Diff        string
	Title       string
	Description string
	NotifyEmail string
	AuthToken   string
	DeliveryID  string
	Source      string
}

// DispatchSummary is returned to the trigger after a successful analysis.
type DispatchSummary struct {
	Message         string         `json:"message"`
	Key             string         `json:"key"`
	Status          string         `json:"status"`
	ConfidenceScore float64        `json:"confidence_score"`
	Notification    *notify.Result `json:"notification,omitempty"`
}

// AnalysisFailedError is returned when the engine call failed. The error
// record has already been stored under Key when this is returned.
type AnalysisFailedError struct {
	Key string
	Err error
}

func (e *AnalysisFailedError) Error() string {
	return e.Err.Error()
}

func (e *AnalysisFailedError) Unwrap() error {
	return e.Err
}

// Dispatcher drives one PR through diff fetch, analysis, storage and the
// optional report mail.
type Dispatcher struct {
	source       DiffSource
	engine       analysis.Engine
	store        audit.Store
	notifier     ReportSender
	defaultToken string
	logger       *slog.Logger
	now          func() time.Time
}

// NewDispatcher creates a Dispatcher. notifier may be nil when mail is not
// configured; reports are then skipped.
func NewDispatcher(
	source DiffSource,
	engine analysis.Engine,
	store audit.Store,
	notifier ReportSender,
	defaultToken string,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		source:       source,
		engine:       engine,
		store:        store,
		notifier:     notifier,
		defaultToken: defaultToken,
		logger:       logger,
		now:          time.Now,
	}
}

// Run dispatches one pull request. Every call that gets past diff
// acquisition leaves exactly one record under owner/repo/number.
//
// A diff fetch failure is returned as an upstream error and stores nothing.
// An engine failure stores an "error" record and returns *AnalysisFailedError.
//
// Once the diff is in hand the dispatch no longer follows ctx cancellation:
// a caller that hangs up (GitHub drops webhook connections after 10s) must
// not abort the analysis or the record write.
func (d *Dispatcher) Run(ctx context.Context, req DispatchRequest) (*DispatchSummary, error) {
	if err := validateCoordinates(req.Owner, req.Repo, req.PRNumber); err != nil {
		return nil, err
	}
	key := model.AuditKey(req.Owner, req.Repo, req.PRNumber)
	logger := d.logger.With(slog.String("key", key), slog.String("source", req.Source))

	diff := req.Diff
	if diff == "" {
		fetched, err := d.source.FetchDiff(ctx, d.token(req), req.Owner, req.Repo, req.PRNumber)
		if err != nil {
			logger.Error("diff fetch failed", slog.String("error", err.Error()))
			return nil, apperror.Upstream("Failed to fetch diff", err)
		}
		diff = fetched
		logger.Info("diff fetched", slog.Int("length", len(diff)))
	}
	ctx = context.WithoutCancel(ctx)

	rec := &model.AuditRecord{
		Key:        key,
		Repo:       req.Owner + "/" + req.Repo,
		PRNumber:   req.PRNumber,
		Title:      req.Title,
		Diff:       diff,
		Source:     req.Source,
		DeliveryID: req.DeliveryID,
	}

	result, engineErr := d.engine.Analyze(ctx, analysis.Request{
		RepoID:      rec.Repo,
		PRID:        req.PRNumber,
		DiffText:    diff,
		Title:       req.Title,
		Description: req.Description,
	})
	if engineErr != nil {
		logger.Error("analysis engine failed", slog.String("error", engineErr.Error()))
		rec.Result = model.AnalysisResult{
			Status:          model.StatusError,
			Comment:         "Analysis engine failed: " + engineErr.Error(),
			ConfidenceScore: 0,
		}
		rec.Timestamp = d.now()
		if err := d.store.Put(ctx, rec); err != nil {
			return nil, fmt.Errorf("service/dispatch: storing error record %s: %w", key, err)
		}
		return nil, &AnalysisFailedError{Key: key, Err: engineErr}
	}

	rec.Result = *result
	rec.Timestamp = d.now()
	if err := d.store.Put(ctx, rec); err != nil {
		return nil, fmt.Errorf("service/dispatch: storing audit %s: %w", key, err)
	}
	logger.Info("audit stored",
		slog.String("status", rec.Result.Status),
		slog.Float64("confidence", rec.Result.ConfidenceScore),
	)

	summary := &DispatchSummary{
		Message:         "Analysis Complete",
		Key:             key,
		Status:          rec.Result.Status,
		ConfidenceScore: rec.Result.ConfidenceScore,
	}
	if req.NotifyEmail != "" && d.notifier != nil {
		res := d.notifier.Send(ctx, *rec, req.NotifyEmail)
		summary.Notification = &res
	}
	return summary, nil
}

// PullRequest fetches the live PR object for manual triggers.
func (d *Dispatcher) PullRequest(ctx context.Context, token, owner, repo string, number int) (*scm.PullRequest, error) {
	if err := validateCoordinates(owner, repo, number); err != nil {
		return nil, err
	}
	if token == "" {
		token = d.defaultToken
	}
	pr, err := d.source.GetPullRequest(ctx, token, owner, repo, number)
	if err != nil {
		return nil, apperror.Upstream(fmt.Sprintf("Failed to fetch PR %s/%s#%d from GitHub", owner, repo, number), err)
	}
	return pr, nil
}

func (d *Dispatcher) token(req DispatchRequest) string {
	if req.AuthToken != "" {
		return req.AuthToken
	}
	return d.defaultToken
}

func validateCoordinates(owner, repo string, number int) error {
	if strings.TrimSpace(owner) == "" || strings.TrimSpace(repo) == "" {
		return apperror.ValidationFailed("repo", "owner and repo are required")
	}
	if strings.Contains(owner, "/") || strings.Contains(repo, "/") {
		return apperror.ValidationFailed("repo", "owner and repo must not contain '/'")
	}
	if number <= 0 {
		return apperror.ValidationFailed("pull_number", "pull_number must be a positive integer")
	}
	return nil
}
