package main

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	commonmw "judgebridge/internal/common/http/middleware"
	"judgebridge/internal/common/mq"
	"judgebridge/internal/common/storage"
	"judgebridge/internal/common/workerpool"
	"judgebridge/internal/engine"
	"judgebridge/internal/task/service"
	"judgebridge/internal/task/store"
	"judgebridge/pkg/utils/logger"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:5000"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second

	defaultEngineURL       = "http://localhost:2358"
	defaultEngineTimeout   = 15 * time.Second
	defaultPublicURL       = "http://localhost:5000"
	defaultCompletionTopic = "judgebridge.task.completed"
	defaultStoreTimeout    = 2 * time.Second
	defaultPublishTimeout  = 3 * time.Second
	defaultArchiveBucket   = "judgebridge-results"
	defaultArchivePrefix   = "results/"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`

	CORS      commonmw.CORSConfig `yaml:"cors"`
	RateLimit RateLimitConfig     `yaml:"rateLimit"`
}

// RateLimitConfig holds per-route limits. A route without a window is unlimited.
type RateLimitConfig struct {
	Submit   commonmw.RateLimitPolicy `yaml:"submit"`
	Callback commonmw.RateLimitPolicy `yaml:"callback"`
}

// Enabled reports whether any route is limited.
func (c RateLimitConfig) Enabled() bool {
	return c.Submit.Window > 0 || c.Callback.Window > 0
}

// BridgeConfig holds task lifecycle settings.
type BridgeConfig struct {
	PublicURL       string                `yaml:"publicURL"`
	EnableCallbacks *bool                 `yaml:"enableCallbacks"`
	FetchUnknown    *bool                 `yaml:"fetchUnknown"`
	CompletionTopic string                `yaml:"completionTopic"`
	Pool            workerpool.Config     `yaml:"pool"`
	Poll            service.PollConfig    `yaml:"poll"`
	Timeouts        service.TimeoutConfig `yaml:"timeouts"`
}

// ArchiveConfig holds the completed-result archive settings.
type ArchiveConfig struct {
	MinIO  storage.MinIOConfig `yaml:"minio"`
	Prefix string              `yaml:"prefix"`
}

// AppConfig holds judgebridge configuration.
type AppConfig struct {
	Server  ServerConfig   `yaml:"server"`
	Logger  logger.Config  `yaml:"logger"`
	Engine  engine.Config  `yaml:"engine"`
	Store   store.Config   `yaml:"store"`
	Kafka   mq.KafkaConfig `yaml:"kafka"`
	Archive ArchiveConfig  `yaml:"archive"`
	Bridge  BridgeConfig   `yaml:"bridge"`
}

// CallbacksEnabled reports the effective callback default.
func (c *AppConfig) CallbacksEnabled() bool {
	return c.Bridge.EnableCallbacks == nil || *c.Bridge.EnableCallbacks
}

// FetchUnknownEnabled reports whether unknown tokens are looked up on the engine.
func (c *AppConfig) FetchUnknownEnabled() bool {
	return c.Bridge.FetchUnknown == nil || *c.Bridge.FetchUnknown
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

// loadAppConfig reads the optional YAML file, then .env, then the process environment.
func loadAppConfig(path string) (*AppConfig, error) {
	_ = godotenv.Load()
	return loadAppConfigWithEnv(path, os.LookupEnv)
}

func loadAppConfigWithEnv(path string, lookup func(string) (string, bool)) (*AppConfig, error) {
	var cfg AppConfig
	if path != "" {
		if err := loadYAML(path, &cfg); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	if err := applyEnv(&cfg, lookup); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyEnv(cfg *AppConfig, lookup func(string) (string, bool)) error {
	if v, ok := lookup("JUDGE0_URL"); ok && v != "" {
		cfg.Engine.BaseURL = v
	}
	if v, ok := lookup("APP_PUBLIC_URL"); ok && v != "" {
		cfg.Bridge.PublicURL = v
	}
	if v, ok := lookup("JUDGE0_WORKERS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid JUDGE0_WORKERS %q", v)
		}
		cfg.Bridge.Pool.Workers = n
	}
	if v, ok := lookup("ENABLE_CALLBACKS"); ok && v != "" {
		enabled := parseFlag(v)
		cfg.Bridge.EnableCallbacks = &enabled
	}
	if v, ok := lookup("REDIS_URL"); ok && v != "" {
		cfg.Store.Redis.URL = v
	}
	if v, ok := lookup("MYSQL_DSN"); ok && v != "" {
		cfg.Store.MySQL.DSN = v
	}
	if v, ok := lookup("MINIO_ENDPOINT"); ok && v != "" {
		cfg.Archive.MinIO.Endpoint = v
	}
	if v, ok := lookup("MINIO_ACCESS_KEY"); ok && v != "" {
		cfg.Archive.MinIO.AccessKey = v
	}
	if v, ok := lookup("MINIO_SECRET_KEY"); ok && v != "" {
		cfg.Archive.MinIO.SecretKey = v
	}
	if v, ok := lookup("MINIO_BUCKET"); ok && v != "" {
		cfg.Archive.MinIO.Bucket = v
	}
	if v, ok := lookup("SUBMIT_RATE_LIMIT"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return fmt.Errorf("invalid SUBMIT_RATE_LIMIT %q", v)
		}
		cfg.Server.RateLimit.Submit.IPMax = n
		if cfg.Server.RateLimit.Submit.Window == 0 && n > 0 {
			cfg.Server.RateLimit.Submit.Window = time.Minute
		}
	}
	if v, ok := lookup("HTTP_ADDR"); ok && v != "" {
		cfg.Server.Addr = v
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		cfg.Logger.Level = v
	}
	if v, ok := lookup("KAFKA_BROKERS"); ok && v != "" {
		cfg.Kafka.Brokers = splitList(v)
	}
	if v, ok := lookup("COMPLETION_TOPIC"); ok && v != "" {
		cfg.Bridge.CompletionTopic = v
	}
	return nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}

	if cfg.Engine.BaseURL == "" {
		cfg.Engine.BaseURL = defaultEngineURL
	}
	if cfg.Engine.Timeout == 0 {
		cfg.Engine.Timeout = defaultEngineTimeout
	}
	if cfg.Bridge.PublicURL == "" {
		cfg.Bridge.PublicURL = defaultPublicURL
	}
	if cfg.Bridge.CompletionTopic == "" {
		cfg.Bridge.CompletionTopic = defaultCompletionTopic
	}
	if cfg.Bridge.Pool.Workers == 0 {
		cfg.Bridge.Pool.Workers = workerpool.DefaultWorkers
	}
	if cfg.Bridge.Pool.QueueSize == 0 {
		cfg.Bridge.Pool.QueueSize = workerpool.DefaultQueueSize
	}
	if cfg.Bridge.Poll.Interval == 0 {
		cfg.Bridge.Poll.Interval = time.Second
	}
	if cfg.Bridge.Timeouts.Store == 0 {
		cfg.Bridge.Timeouts.Store = defaultStoreTimeout
	}
	if cfg.Bridge.Timeouts.Publish == 0 {
		cfg.Bridge.Timeouts.Publish = defaultPublishTimeout
	}
	if cfg.Store.MaxMergeRetries == 0 {
		cfg.Store.MaxMergeRetries = store.DefaultMaxMergeRetries
	}
	if cfg.Archive.MinIO.Bucket == "" {
		cfg.Archive.MinIO.Bucket = defaultArchiveBucket
	}
	if cfg.Archive.Prefix == "" {
		cfg.Archive.Prefix = defaultArchivePrefix
	}
	if cfg.Kafka.ClientID == "" {
		cfg.Kafka.ClientID = "judgebridge"
	}
}

func parseFlag(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
