package audit

import (
	"context"
	"sync"

	"github.com/sakif/ghostwriter/internal/apperror"
	"github.com/sakif/ghostwriter/internal/model"
)

// MemoryStore is a process-local Store. Records are lost on restart and the
// map grows without bound.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]model.AuditRecord
	seq     int64
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]model.AuditRecord)}
}

// Get returns a copy of the record stored under key.
func (s *MemoryStore) Get(_ context.Context, key string) (*model.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[key]
	if !ok {
		return nil, apperror.NotFound("audit", key)
	}
	return &rec, nil
}

// Put stores a copy of rec under rec.Key and stamps rec.Seq.
func (s *MemoryStore) Put(_ context.Context, rec *model.AuditRecord) error {
	if rec.Key == "" {
		return apperror.ValidationFailed("key", "audit record has no key")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	rec.Seq = s.seq
	s.records[rec.Key] = *rec
	return nil
}

// List returns a snapshot of all records, newest first.
func (s *MemoryStore) List(_ context.Context) ([]model.AuditRecord, error) {
	s.mu.RLock()
	out := make([]model.AuditRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	s.mu.RUnlock()

	SortByRecency(out)
	return out, nil
}

// Stats computes the dashboard counters over a snapshot taken by List.
func (s *MemoryStore) Stats(ctx context.Context) (model.AuditStats, error) {
	recs, err := s.List(ctx)
	if err != nil {
		return model.AuditStats{}, err
	}
	return ComputeStats(recs), nil
}
