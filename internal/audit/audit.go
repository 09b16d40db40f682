// Package audit holds the latest analysis result per pull request.
//
// The Store interface lets the in-memory map be swapped for a durable table
// (see repository/sqlite.AuditDB) without touching callers. Ordering and
// aggregation are pure functions over a snapshot so they can be tested
// independently of any storage.
package audit

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sakif/ghostwriter/internal/model"
)

// AvgReviewTime is reported verbatim; review time is not measured.
const AvgReviewTime = "1.2s"

// Store is a keyed collection of audit records ("owner/repo/number").
//
// Put is a blind overwrite: concurrent puts for the same key race and the
// one that finishes last wins.
type Store interface {
	Get(ctx context.Context, key string) (*model.AuditRecord, error)
	Put(ctx context.Context, rec *model.AuditRecord) error
	List(ctx context.Context) ([]model.AuditRecord, error)
	Stats(ctx context.Context) (model.AuditStats, error)
}

// SortByRecency orders records newest first. Records with equal timestamps
// are ordered by write sequence, most recent write first.
func SortByRecency(recs []model.AuditRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		ti, tj := recs[i].Timestamp, recs[j].Timestamp
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return recs[i].Seq > recs[j].Seq
	})
}

// ComputeStats derives the dashboard counters. It is recomputed on every call.
func ComputeStats(recs []model.AuditRecord) model.AuditStats {
	stats := model.AuditStats{
		TotalAudits:      len(recs),
		AgentSuccessRate: "100.0",
		AvgReviewTime:    AvgReviewTime,
	}
	if len(recs) == 0 {
		return stats
	}

	var succeeded int
	for _, r := range recs {
		if IsVulnerable(r) {
			stats.VulnerabilitiesFound++
		}
		if r.Result.Status == model.StatusSuccess || r.Result.Status == model.StatusApproved {
			succeeded++
		}
	}
	stats.AgentSuccessRate = fmt.Sprintf("%.1f", float64(succeeded)*100/float64(len(recs)))
	return stats
}

// IsVulnerable is the dashboard heuristic: an errored run, or a comment that
// mentions a vulnerability.
func IsVulnerable(r model.AuditRecord) bool {
	return r.Result.Status == model.StatusError ||
		strings.Contains(strings.ToLower(r.Result.Comment), "vulnerability")
}
