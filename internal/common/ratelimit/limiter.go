// Package ratelimit implements fixed-window request limits.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	pkgerrors "judgebridge/pkg/errors"

	"github.com/redis/go-redis/v9"
)

const defaultRedisTimeout = 200 * time.Millisecond

// Limiter counts hits per key within a window.
type Limiter interface {
	// Allow records one hit for key and returns a TooManyRequests error once
	// more than max hits fell into the current window.
	Allow(ctx context.Context, key string, max int, window time.Duration) error
}

// RedisLimiter shares windows across bridge instances.
type RedisLimiter struct {
	client       redis.Cmdable
	redisTimeout time.Duration
}

func NewRedisLimiter(client redis.Cmdable, redisTimeout time.Duration) *RedisLimiter {
	if redisTimeout <= 0 {
		redisTimeout = defaultRedisTimeout
	}
	return &RedisLimiter{client: client, redisTimeout: redisTimeout}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, max int, window time.Duration) error {
	if l.client == nil {
		return pkgerrors.New(pkgerrors.ServiceUnavailable).WithMessage("rate limit cache is unavailable")
	}
	if max <= 0 || window <= 0 {
		return nil
	}

	ctxCache, cancel := context.WithTimeout(ctx, l.redisTimeout)
	defer cancel()

	acquired, err := l.client.SetNX(ctxCache, key, 1, window).Result()
	if err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.CacheError, "rate limit check failed")
	}
	var count int64 = 1
	if !acquired {
		count, err = l.client.Incr(ctxCache, key).Result()
		if err != nil {
			return pkgerrors.Wrapf(err, pkgerrors.CacheError, "rate limit check failed")
		}
		// A key that lost its TTL would otherwise block forever.
		ttl, ttlErr := l.client.TTL(ctxCache, key).Result()
		if ttlErr == nil && ttl < 0 {
			_ = l.client.Expire(ctxCache, key, window).Err()
		}
	}
	if int(count) > max {
		return exceeded(key)
	}
	return nil
}

// MemoryLimiter keeps windows in process memory.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]memoryWindow
	now     func() time.Time
}

type memoryWindow struct {
	count   int
	expires time.Time
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{windows: make(map[string]memoryWindow), now: time.Now}
}

func (l *MemoryLimiter) Allow(ctx context.Context, key string, max int, window time.Duration) error {
	if max <= 0 || window <= 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || !now.Before(w.expires) {
		l.sweep(now)
		w = memoryWindow{expires: now.Add(window)}
	}
	w.count++
	l.windows[key] = w
	if w.count > max {
		return exceeded(key)
	}
	return nil
}

// sweep drops expired windows; callers hold mu.
func (l *MemoryLimiter) sweep(now time.Time) {
	for key, w := range l.windows {
		if !now.Before(w.expires) {
			delete(l.windows, key)
		}
	}
}

func exceeded(key string) error {
	return pkgerrors.New(pkgerrors.TooManyRequests).WithMessage(fmt.Sprintf("rate limit exceeded for %s", key))
}
