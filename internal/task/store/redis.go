package store

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"judgebridge/internal/task/model"
	"judgebridge/pkg/errors"

	"github.com/redis/go-redis/v9"
)

const (
	taskKeyPrefix = "task:"
	recentKey     = "task:recent"

	// DefaultMaxMergeRetries bounds optimistic transaction retries under contention.
	DefaultMaxMergeRetries = 16
)

// RedisStore keeps each record as JSON under task:<token> and indexes tokens by
// update time in the task:recent sorted set.
type RedisStore struct {
	client     *redis.Client
	maxRetries int
	now        Clock
}

// NewRedisStore wraps an already connected client.
func NewRedisStore(client *redis.Client, maxRetries int) *RedisStore {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxMergeRetries
	}
	return &RedisStore{client: client, maxRetries: maxRetries, now: time.Now}
}

func taskKey(token string) string {
	return taskKeyPrefix + token
}

func (s *RedisStore) Name() string { return "redis" }

func (s *RedisStore) Put(ctx context.Context, rec model.Record) error {
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

func (s *RedisStore) Get(ctx context.Context, token string) (model.Record, bool, error) {
	data, err := s.client.Get(ctx, taskKey(token)).Bytes()
	if stderrors.Is(err, redis.Nil) {
		return model.Record{}, false, nil
	}
	if err != nil {
		return model.Record{}, false, errors.Wrapf(err, errors.StoreError, "get task %s", token)
	}
	rec, err := decodeRecord(data)
	if err != nil {
		return model.Record{}, false, errors.Wrapf(err, errors.StoreError, "decode task %s", token)
	}
	return rec, true, nil
}

func (s *RedisStore) Merge(ctx context.Context, token string, patch model.Patch) (MergeResult, error) {
	if token == "" {
		return MergeResult{}, errors.ValidationError("token", "required")
	}
	return s.update(ctx, token, func(current *model.Record, exists bool) bool {
		return current.Apply(patch, s.now())
	})
}

// update runs WATCH/GET/MULTI/EXEC around mutate and retries when another
// writer touched the key between the read and the commit. mutate reports
// whether the record was completed by this change.
func (s *RedisStore) update(ctx context.Context, token string, mutate func(rec *model.Record, exists bool) bool) (MergeResult, error) {
	key := taskKey(token)
	var result MergeResult

	txf := func(tx *redis.Tx) error {
		rec := newRecordFor(token, s.now())
		exists := false
		data, err := tx.Get(ctx, key).Bytes()
		switch {
		case stderrors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			if rec, err = decodeRecord(data); err != nil {
				return err
			}
			exists = true
		}

		completed := mutate(&rec, exists)
		encoded, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			pipe.ZAdd(ctx, recentKey, redis.Z{Score: float64(rec.UpdatedAt.UnixNano()), Member: token})
			return nil
		})
		if err != nil {
			return err
		}
		result = MergeResult{Record: rec, Completed: completed}
		return nil
	}

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return result, nil
		}
		if !stderrors.Is(err, redis.TxFailedErr) {
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

func (s *RedisStore) List(ctx context.Context, limit int) ([]model.Record, error) {
	limit = normalizeLimit(limit)
	tokens, err := s.client.ZRevRange(ctx, recentKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, errors.Wrap(err, errors.StoreError)
	}
	if len(tokens) == 0 {
		return []model.Record{}, nil
	}

	keys := make([]string, len(tokens))
	for i, token := range tokens {
		keys[i] = taskKey(token)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errors.Wrap(err, errors.StoreError)
	}

	out := make([]model.Record, 0, len(values))
	for _, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}
		rec, err := decodeRecord([]byte(raw))
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func decodeRecord(data []byte) (model.Record, error) {
	var rec model.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return model.Record{}, err
	}
	if rec.QueryParams == nil {
		rec.QueryParams = model.QueryParams{}
	}
	return rec, nil
}
