package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sakif/ghostwriter/internal/model"
)

// HTTPEngine posts requests to the engine's single analysis endpoint.
//
// No timeout is configured here and nothing is retried: a slow engine holds
// the dispatch until the transport gives up. The dispatcher detaches the
// context from the inbound request before calling Analyze.
type HTTPEngine struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

var _ Engine = (*HTTPEngine)(nil)

// NewHTTPEngine creates an engine client. A nil client uses a plain
// http.Client with no timeout.
func NewHTTPEngine(url string, client *http.Client, logger *slog.Logger) *HTTPEngine {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPEngine{url: url, client: client, logger: logger}
}

// Analyze sends req and decodes the verdict. Any transport error, non-2xx
// status or undecodable body is returned as an error.
func (e *HTTPEngine) Analyze(ctx context.Context, req Request) (*model.AnalysisResult, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("analysis: encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("analysis: building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("analysis: calling engine: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("analysis: reading response: %w", err)
	}

	e.logger.Info("analysis engine responded",
		slog.String("repo", req.RepoID),
		slog.Int("pr", req.PRID),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("analysis: engine returned status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var result model.AnalysisResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("analysis: decoding response: %w", err)
	}
	if result.Status == "" {
		return nil, errors.New("analysis: engine response has no status")
	}
	return &result, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
