// Package store persists task records keyed by submission token.
package store

import (
	"context"
	"time"

	"judgebridge/internal/task/model"
)

const (
	defaultListLimit = 10
	maxListLimit     = 100
)

// MergeResult is the outcome of a merge.
type MergeResult struct {
	Record model.Record
	// Completed is true only for the merge that moved the record to DONE.
	Completed bool
}

// Store is the token-keyed record store. Merge is linearizable per token.
type Store interface {
	// Put stores a newly created record. When the token already exists, for
	// example because its callback arrived first, only the creation fields
	// are adopted and the existing state, result and error are kept.
	Put(ctx context.Context, rec model.Record) error
	Get(ctx context.Context, token string) (model.Record, bool, error)
	// Merge applies patch to the current record, creating a PENDING record
	// when the token is unknown, and returns the merged state.
	Merge(ctx context.Context, token string, patch model.Patch) (MergeResult, error)
	// List returns up to limit records, most recently updated first.
	List(ctx context.Context, limit int) ([]model.Record, error)
	Name() string
	Close() error
}

// Clock returns the current time.
type Clock func() time.Time

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

func newRecordFor(token string, now time.Time) model.Record {
	return model.Record{
		Token:       token,
		State:       model.StatePending,
		QueryParams: model.QueryParams{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
