package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sakif/ghostwriter/internal/apperror"
	"github.com/sakif/ghostwriter/internal/audit"
	"github.com/sakif/ghostwriter/internal/model"
)

// AuditDB is a durable audit.Store. The analysis result is kept as a JSON
// document; only the fields used for ordering are real columns.
type AuditDB struct {
	conn *sql.DB
}

var _ audit.Store = (*AuditDB)(nil)

const auditColumns = `key, repo, pr_number, title, timestamp, result, diff, source, delivery_id, seq`

// Get returns the record stored under key ("owner/repo/number").
func (a *AuditDB) Get(ctx context.Context, key string) (*model.AuditRecord, error) {
	rec, err := scanAudit(a.conn.QueryRowContext(ctx,
		`SELECT `+auditColumns+` FROM audits WHERE key = ?`, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("audit", key)
		}
		return nil, err
	}
	return rec, nil
}

// Put replaces any record stored under rec.Key. Seq is allocated inside the
// statement so it increases with every write.
func (a *AuditDB) Put(ctx context.Context, rec *model.AuditRecord) error {
	if rec.Key == "" {
		return apperror.ValidationFailed("key", "audit record has no key")
	}
	result, err := json.Marshal(rec.Result)
	if err != nil {
		return fmt.Errorf("sqlite: encoding audit result: %w", err)
	}

	err = a.conn.QueryRowContext(ctx, `
		INSERT INTO audits (`+auditColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM audits))
		ON CONFLICT (key) DO UPDATE SET
			repo = excluded.repo,
			pr_number = excluded.pr_number,
			title = excluded.title,
			timestamp = excluded.timestamp,
			result = excluded.result,
			diff = excluded.diff,
			source = excluded.source,
			delivery_id = excluded.delivery_id,
			seq = excluded.seq
		RETURNING seq`,
		rec.Key, rec.Repo, rec.PRNumber, rec.Title, rec.Timestamp.UTC(), string(result),
		rec.Diff, rec.Source, rec.DeliveryID,
	).Scan(&rec.Seq)
	if err != nil {
		return fmt.Errorf("sqlite: storing audit %s: %w", rec.Key, err)
	}
	return nil
}

// List returns every record, newest first; ties go to the later write.
func (a *AuditDB) List(ctx context.Context) ([]model.AuditRecord, error) {
	rows, err := a.conn.QueryContext(ctx,
		`SELECT `+auditColumns+` FROM audits ORDER BY timestamp DESC, seq DESC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing audits: %w", err)
	}
	defer rows.Close()

	recs := []model.AuditRecord{}
	for rows.Next() {
		rec, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating audits: %w", err)
	}

	// Stored timestamps are text; order on the parsed values.
	audit.SortByRecency(recs)
	return recs, nil
}

// Stats loads all records and aggregates them with audit.ComputeStats.
func (a *AuditDB) Stats(ctx context.Context) (model.AuditStats, error) {
	recs, err := a.List(ctx)
	if err != nil {
		return model.AuditStats{}, err
	}
	return audit.ComputeStats(recs), nil
}

func scanAudit(s scanner) (*model.AuditRecord, error) {
	var (
		rec    model.AuditRecord
		result string
	)
	err := s.Scan(&rec.Key, &rec.Repo, &rec.PRNumber, &rec.Title, &rec.Timestamp,
		&result, &rec.Diff, &rec.Source, &rec.DeliveryID, &rec.Seq)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("sqlite: scanning audit: %w", err)
	}
	if err := json.Unmarshal([]byte(result), &rec.Result); err != nil {
		return nil, fmt.Errorf("sqlite: decoding audit result %s: %w", rec.Key, err)
	}
	return &rec, nil
}
