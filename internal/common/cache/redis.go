package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds the configuration for the Redis client.
// URL takes precedence over Addr/Password/DB when set.
type RedisConfig struct {
	URL             string        `yaml:"url"`
	Addr            string        `yaml:"addr"`
	Password        string        `yaml:"password"`
	DB              int           `yaml:"db"`
	MaxRetries      int           `yaml:"maxRetries"`
	DialTimeout     time.Duration `yaml:"dialTimeout"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	PoolSize        int           `yaml:"poolSize"`
	MinIdleConns    int           `yaml:"minIdleConns"`
	PoolTimeout     time.Duration `yaml:"poolTimeout"`
	ConnMaxIdleTime time.Duration `yaml:"connMaxIdleTime"`
	PingTimeout     time.Duration `yaml:"pingTimeout"`
}

// DefaultRedisConfig returns a RedisConfig with sensible defaults.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		MaxRetries:      3,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     3 * time.Second,
		WriteTimeout:    3 * time.Second,
		PoolSize:        20,
		MinIdleConns:    2,
		PoolTimeout:     4 * time.Second,
		ConnMaxIdleTime: 10 * time.Minute,
		PingTimeout:     3 * time.Second,
	}
}

// Configured reports whether any Redis endpoint was supplied.
func (c RedisConfig) Configured() bool {
	return c.URL != "" || c.Addr != ""
}

// Options builds go-redis options, parsing URL when present.
func (c RedisConfig) Options() (*redis.Options, error) {
	var options *redis.Options
	if c.URL != "" {
		parsed, err := redis.ParseURL(c.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		options = parsed
	} else {
		if c.Addr == "" {
			return nil, fmt.Errorf("addr cannot be empty")
		}
		options = &redis.Options{Addr: c.Addr, Password: c.Password, DB: c.DB}
	}

	if c.MaxRetries != 0 {
		options.MaxRetries = c.MaxRetries
	}
	if c.DialTimeout > 0 {
		options.DialTimeout = c.DialTimeout
	}
	if c.ReadTimeout > 0 {
		options.ReadTimeout = c.ReadTimeout
	}
	if c.WriteTimeout > 0 {
		options.WriteTimeout = c.WriteTimeout
	}
	if c.PoolSize > 0 {
		options.PoolSize = c.PoolSize
	}
	if c.MinIdleConns > 0 {
		options.MinIdleConns = c.MinIdleConns
	}
	if c.PoolTimeout > 0 {
		options.PoolTimeout = c.PoolTimeout
	}
	if c.ConnMaxIdleTime > 0 {
		options.ConnMaxIdleTime = c.ConnMaxIdleTime
	}
	return options, nil
}

// NewRedisClient creates a client and verifies the connection with a ping.
// The client is closed again when the ping fails.
func NewRedisClient(ctx context.Context, config RedisConfig) (*redis.Client, error) {
	options, err := config.Options()
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(options)
	timeout := config.PingTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}
