package logger

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"judgebridge/pkg/utils/contextkey"

	"go.uber.org/zap"
)

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	if _, err := NewLogger(Config{Level: "chatty"}); err == nil {
		t.Fatalf("expected invalid level error")
	}
}

func TestContextFieldsAreWritten(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.log")
	l, err := NewLogger(Config{Level: "debug", Format: "json", OutputPath: path})
	if err != nil {
		t.Fatalf("new logger failed: %v", err)
	}

	ctx := context.WithValue(context.Background(), contextkey.TraceID, "trace-1")
	ctx = ContextWithToken(ctx, "tok-9")
	l.WithContext(ctx).Info("merged", zap.String("state", "DONE"))
	_ = l.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log failed: %v", err)
	}
	line := string(data)
	for _, want := range []string{`"trace_id":"trace-1"`, `"token":"tok-9"`, `"state":"DONE"`} {
		if !strings.Contains(line, want) {
			t.Fatalf("log line %q missing %s", line, want)
		}
	}
}

func TestGlobalHelpersAreNoopsBeforeInit(t *testing.T) {
	Info(context.Background(), "not initialised")
	if err := Sync(); err != nil {
		t.Fatalf("sync without init failed: %v", err)
	}
}
