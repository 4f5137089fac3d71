package repl

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"judgebridge/internal/cli/command"
	httpclient "judgebridge/internal/cli/http"
	"judgebridge/internal/cli/state"
)

type scriptedReader struct {
	lines   []string
	prompts []string
}

func (r *scriptedReader) Readline() (string, error) {
	if len(r.lines) == 0 {
		return "", io.EOF
	}
	line := r.lines[0]
	r.lines = r.lines[1:]
	return line, nil
}

func (r *scriptedReader) SetPrompt(prompt string) {
	r.prompts = append(r.prompts, prompt)
}

type fakeBridge struct {
	mu       sync.Mutex
	paths    []string
	requests []string
}

func (b *fakeBridge) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.paths = append(b.paths, r.Method+" "+r.URL.RequestURI())
		b.requests = append(b.requests, r.Header.Get("X-Request-Id"))
		b.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Trace-Id", "trace-1")
		switch {
		case r.URL.Path == "/api/submit":
			_, _ = w.Write([]byte(`{"code":10000,"message":"Success","data":{"token":"tok-9"}}`))
		case strings.HasPrefix(r.URL.Path, "/api/result/"):
			_, _ = w.Write([]byte(`{"code":10000,"message":"Success","data":{"token":"tok-9","state":"DONE"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func (b *fakeBridge) seen() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.paths...)
}

func newTestSession(t *testing.T, reader LineReader) (*Session, *fakeBridge, *bytes.Buffer, string) {
	bridge := &fakeBridge{}
	srv := httptest.NewServer(bridge.handler())
	t.Cleanup(srv.Close)

	statePath := filepath.Join(t.TempDir(), "state.json")
	out := &bytes.Buffer{}
	session := New(httpclient.New(srv.URL, time.Second), command.Registry(), &state.SessionState{}, statePath, false, reader, out)
	return session, bridge, out, statePath
}

func TestSubmitRemembersTokenForResult(t *testing.T) {
	session, bridge, out, statePath := newTestSession(t, nil)
	ctx := context.Background()

	if err := session.Execute(ctx, `task submit code="print(1)" lang=71`); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if err := session.Execute(ctx, "task result decode=false"); err != nil {
		t.Fatalf("result failed: %v", err)
	}

	seen := bridge.seen()
	if len(seen) != 2 || seen[0] != "POST /api/submit" || seen[1] != "GET /api/result/tok-9?auto_decode=false" {
		t.Fatalf("unexpected requests %v", seen)
	}
	if !strings.Contains(out.String(), "trace=trace-1") {
		t.Fatalf("trace id not rendered: %s", out.String())
	}

	saved, err := state.Load(statePath)
	if err != nil || saved.LastToken != "tok-9" {
		t.Fatalf("state = %+v, %v", saved, err)
	}
	if bridge.requests[0] == "" || bridge.requests[0] == bridge.requests[1] {
		t.Fatalf("request ids should be fresh per call: %v", bridge.requests)
	}
}

func TestMissingRequiredValueIsPrompted(t *testing.T) {
	reader := &scriptedReader{lines: []string{"abc"}}
	session, bridge, _, _ := newTestSession(t, reader)

	if err := session.Execute(context.Background(), "task result"); err != nil {
		t.Fatalf("result failed: %v", err)
	}
	if seen := bridge.seen(); len(seen) != 1 || seen[0] != "GET /api/result/abc" {
		t.Fatalf("unexpected requests %v", seen)
	}
	if len(reader.prompts) == 0 || reader.prompts[0] != "token: " {
		t.Fatalf("prompts = %v", reader.prompts)
	}
}

func TestMissingValueWithoutReaderFails(t *testing.T) {
	session, _, _, _ := newTestSession(t, nil)
	if err := session.Execute(context.Background(), "task result"); err == nil {
		t.Fatalf("expected missing parameter error")
	}
}

func TestSystemCommands(t *testing.T) {
	session, _, out, _ := newTestSession(t, nil)
	ctx := context.Background()

	if err := session.Execute(ctx, "exit"); !errors.Is(err, ErrExit) {
		t.Fatalf("exit = %v", err)
	}
	for _, line := range []string{"help", "show tokens", "set timeout 2s", "set base http://127.0.0.1:9", "show config"} {
		if err := session.Execute(ctx, line); err != nil {
			t.Fatalf("%q failed: %v", line, err)
		}
	}
	text := out.String()
	for _, want := range []string{"task submit", "tokens: <empty>", "timeout set to 2s", "base: http://127.0.0.1:9"} {
		if !strings.Contains(text, want) {
			t.Fatalf("output missing %q:\n%s", want, text)
		}
	}

	if err := session.Execute(ctx, "task"); err == nil {
		t.Fatalf("expected invalid command error")
	}
	if err := session.Execute(ctx, "task explode"); err == nil {
		t.Fatalf("expected unknown command error")
	}
	if err := session.Execute(ctx, `task submit code="unterminated`); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestRunStopsOnExitAndEOF(t *testing.T) {
	reader := &scriptedReader{lines: []string{"", "help", "exit", "help"}}
	session, _, out, _ := newTestSession(t, reader)
	session.Run(context.Background())
	if !strings.Contains(out.String(), "bye") || len(reader.lines) != 1 {
		t.Fatalf("run did not stop at exit: %q, remaining %v", out.String(), reader.lines)
	}

	session, _, _, _ = newTestSession(t, &scriptedReader{})
	session.Run(context.Background())
}
