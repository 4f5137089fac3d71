package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func envMap(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestDefaultsWithoutConfigFile(t *testing.T) {
	cfg, err := loadAppConfigWithEnv(filepath.Join(t.TempDir(), "missing.yaml"), envMap(nil))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Server.Addr != defaultHTTPAddr || cfg.Engine.BaseURL != defaultEngineURL {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if !cfg.CallbacksEnabled() || !cfg.FetchUnknownEnabled() {
		t.Fatalf("callbacks and unknown fetch should default on")
	}
	if cfg.Bridge.Pool.Workers != 8 || cfg.Bridge.Poll.Interval != time.Second || cfg.Bridge.Poll.MaxAttempts != 0 {
		t.Fatalf("unexpected poll defaults %+v", cfg.Bridge)
	}
	if cfg.Store.Redis.Configured() || cfg.Store.MySQL.Configured() || cfg.Archive.MinIO.Configured() {
		t.Fatalf("durable backends should be unconfigured by default")
	}
}

func TestYAMLThenEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "judgebridge.yaml")
	yamlData := `
server:
  addr: "127.0.0.1:9000"
engine:
  baseURL: "http://judge0.internal:2358"
  timeout: 5s
bridge:
  enableCallbacks: true
  poll:
    interval: 250ms
    maxAttempts: 40
store:
  redis:
    addr: "redis.internal:6379"
`
	if err := os.WriteFile(path, []byte(yamlData), 0o600); err != nil {
		t.Fatalf("write config failed: %v", err)
	}

	cfg, err := loadAppConfigWithEnv(path, envMap(map[string]string{
		"JUDGE0_URL":       "http://judge0.override:2358",
		"ENABLE_CALLBACKS": "false",
		"JUDGE0_WORKERS":   "4",
		"REDIS_URL":        "redis://cache:6379/1",
		"KAFKA_BROKERS":    "k1:9092, k2:9092",
		"MYSQL_DSN":        "bridge:secret@tcp(db:3306)/bridge",
		"MINIO_ENDPOINT":   "minio:9000",
		"MINIO_BUCKET":     "results",
	}))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:9000" || cfg.Engine.Timeout != 5*time.Second {
		t.Fatalf("yaml values lost: %+v", cfg)
	}
	if cfg.Engine.BaseURL != "http://judge0.override:2358" {
		t.Fatalf("engine url = %q", cfg.Engine.BaseURL)
	}
	if cfg.CallbacksEnabled() {
		t.Fatalf("ENABLE_CALLBACKS=false should win over yaml")
	}
	if cfg.Bridge.Pool.Workers != 4 || cfg.Bridge.Poll.Interval != 250*time.Millisecond || cfg.Bridge.Poll.MaxAttempts != 40 {
		t.Fatalf("unexpected bridge config %+v", cfg.Bridge)
	}
	if cfg.Store.Redis.URL != "redis://cache:6379/1" {
		t.Fatalf("redis url = %q", cfg.Store.Redis.URL)
	}
	if cfg.Store.MySQL.DSN != "bridge:secret@tcp(db:3306)/bridge" {
		t.Fatalf("mysql dsn = %q", cfg.Store.MySQL.DSN)
	}
	if !cfg.Archive.MinIO.Configured() || cfg.Archive.MinIO.Bucket != "results" || cfg.Archive.Prefix != defaultArchivePrefix {
		t.Fatalf("unexpected archive config %+v", cfg.Archive)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Fatalf("brokers = %v", cfg.Kafka.Brokers)
	}
}

func TestInvalidWorkerCount(t *testing.T) {
	if _, err := loadAppConfigWithEnv("", envMap(map[string]string{"JUDGE0_WORKERS": "many"})); err == nil {
		t.Fatalf("expected invalid worker error")
	}
}

func TestMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("server: [unclosed"), 0o600); err != nil {
		t.Fatalf("write config failed: %v", err)
	}
	if _, err := loadAppConfigWithEnv(path, envMap(nil)); err == nil {
		t.Fatalf("expected parse error")
	}
}
