package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"judgebridge/internal/common/db"
	"judgebridge/internal/task/model"
	"judgebridge/pkg/errors"
)

const (
	taskTable = "bridge_tasks"

	createTaskTableSQL = `CREATE TABLE IF NOT EXISTS ` + taskTable + ` (
	token VARCHAR(191) NOT NULL,
	state VARCHAR(16) NOT NULL,
	data MEDIUMTEXT NOT NULL,
	updated_at BIGINT NOT NULL,
	PRIMARY KEY (token),
	KEY idx_bridge_tasks_updated_at (updated_at)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`

	selectTaskSQL          = `SELECT data FROM ` + taskTable + ` WHERE token = ?`
	selectTaskForUpdateSQL = selectTaskSQL + ` FOR UPDATE`
	insertTaskSQL          = `INSERT INTO ` + taskTable + ` (token, state, data, updated_at) VALUES (?, ?, ?, ?)`
	updateTaskSQL          = `UPDATE ` + taskTable + ` SET state = ?, data = ?, updated_at = ? WHERE token = ?`
	listTasksSQL           = `SELECT data FROM ` + taskTable + ` ORDER BY updated_at DESC, token ASC LIMIT ?`
)

// SQLStore keeps records in a MySQL table, one row per token. Updates run in
// a transaction holding the row lock; a lost insert race or a deadlock
// restarts the transaction.
type SQLStore struct {
	db         *sql.DB
	maxRetries int
	now        Clock
}

// NewSQLStore wraps an open handle. Call EnsureSchema before first use.
func NewSQLStore(database *sql.DB, maxRetries int) *SQLStore {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxMergeRetries
	}
	return &SQLStore{db: database, maxRetries: maxRetries, now: time.Now}
}

// EnsureSchema creates the task table when missing.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createTaskTableSQL); err != nil {
		return errors.Wrapf(err, errors.StoreError, "create %s", taskTable)
	}
	return nil
}

func (s *SQLStore) Name() string { return "mysql" }

func (s *SQLStore) Put(ctx context.Context, rec model.Record) error {
	if rec.Token == "" {
		return errors.ValidationError("token", "required")
	}
	_, err := s.update(ctx, rec.Token, func(current *model.Record, exists bool) bool {
		if exists {
			current.Adopt(rec)
		} else {
			*current = rec.Clone()
		}
		return false
	})
	return err
}

func (s *SQLStore) Get(ctx context.Context, token string) (model.Record, bool, error) {
	var data string
	err := s.db.QueryRowContext(ctx, selectTaskSQL, token).Scan(&data)
	if db.IsNoRows(err) {
		return model.Record{}, false, nil
	}
	if err != nil {
		return model.Record{}, false, errors.Wrapf(err, errors.StoreError, "get task %s", token)
	}
	rec, err := decodeRecord([]byte(data))
	if err != nil {
		return model.Record{}, false, errors.Wrapf(err, errors.StoreError, "decode task %s", token)
	}
	return rec, true, nil
}

func (s *SQLStore) Merge(ctx context.Context, token string, patch model.Patch) (MergeResult, error) {
	if token == "" {
		return MergeResult{}, errors.ValidationError("token", "required")
	}
	return s.update(ctx, token, func(current *model.Record, exists bool) bool {
		return current.Apply(patch, s.now())
	})
}

func (s *SQLStore) update(ctx context.Context, token string, mutate func(rec *model.Record, exists bool) bool) (MergeResult, error) {
	var result MergeResult
	txf := func(tx *sql.Tx) error {
		rec := newRecordFor(token, s.now())
		exists := false
		var data string
		err := tx.QueryRowContext(ctx, selectTaskForUpdateSQL, token).Scan(&data)
		switch {
		case db.IsNoRows(err):
		case err != nil:
			return err
		default:
			if rec, err = decodeRecord([]byte(data)); err != nil {
				return err
			}
			exists = true
		}

		completed := mutate(&rec, exists)
		encoded, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if exists {
			_, err = tx.ExecContext(ctx, updateTaskSQL, string(rec.State), string(encoded), rec.UpdatedAt.UnixNano(), token)
		} else {
			_, err = tx.ExecContext(ctx, insertTaskSQL, token, string(rec.State), string(encoded), rec.UpdatedAt.UnixNano())
		}
		if err != nil {
			return err
		}
		result = MergeResult{Record: rec, Completed: completed}
		return nil
	}

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err := db.Transaction(ctx, s.db, txf)
		if err == nil {
			return result, nil
		}
		if _, dup := db.UniqueViolation(err); !dup && !db.IsRetryable(err) {
			return MergeResult{}, errors.Wrapf(err, errors.StoreError, "update task %s", token)
		}
		if ctx.Err() != nil {
			return MergeResult{}, errors.Wrapf(ctx.Err(), errors.StoreError, "update task %s", token)
		}
	}
	return MergeResult{}, errors.Newf(errors.StoreConflict, "update task %s: retries exhausted", token).
		WithDetail("token", token).
		WithDetail("attempts", s.maxRetries)
}

func (s *SQLStore) List(ctx context.Context, limit int) ([]model.Record, error) {
	rows, err := s.db.QueryContext(ctx, listTasksSQL, normalizeLimit(limit))
	if err != nil {
		return nil, errors.Wrap(err, errors.StoreError)
	}
	defer rows.Close()

	out := []model.Record{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, errors.Wrap(err, errors.StoreError)
		}
		rec, err := decodeRecord([]byte(data))
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.StoreError)
	}
	return out, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
