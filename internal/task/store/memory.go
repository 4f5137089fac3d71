package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"judgebridge/internal/task/model"
	"judgebridge/pkg/errors"
)

// MemoryStore keeps records in process memory. Every method copies records in
// and out, so callers never alias stored maps.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]model.Record
	now     Clock
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]model.Record), now: time.Now}
}

func (s *MemoryStore) Name() string { return "memory" }

func (s *MemoryStore) Put(ctx context.Context, rec model.Record) error {
	if rec.Token == "" {
		return errors.ValidationError("token", "required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.records[rec.Token]; ok {
		existing.Adopt(rec)
		s.records[rec.Token] = existing
		return nil
	}
	s.records[rec.Token] = rec.Clone()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, token string) (model.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[token]
	if !ok {
		return model.Record{}, false, nil
	}
	return rec.Clone(), true, nil
}

func (s *MemoryStore) Merge(ctx context.Context, token string, patch model.Patch) (MergeResult, error) {
	if token == "" {
		return MergeResult{}, errors.ValidationError("token", "required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	rec, ok := s.records[token]
	if !ok {
		rec = newRecordFor(token, now)
	}
	completed := rec.Apply(patch, now)
	s.records[token] = rec
	return MergeResult{Record: rec.Clone(), Completed: completed}, nil
}

func (s *MemoryStore) List(ctx context.Context, limit int) ([]model.Record, error) {
	limit = normalizeLimit(limit)
	s.mu.Lock()
	out := make([]model.Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Clone())
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].Token < out[j].Token
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
