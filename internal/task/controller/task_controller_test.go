package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"judgebridge/internal/common/workerpool"
	"judgebridge/internal/engine"
	"judgebridge/internal/task/model"
	"judgebridge/internal/task/service"
	"judgebridge/internal/task/store"

	"github.com/gin-gonic/gin"
)

type fakeJudge struct {
	mu       sync.Mutex
	lastBody map[string]any
	lastURL  string
	reject   bool
}

func (f *fakeJudge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/submissions":
		data, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.lastBody = map[string]any{}
		_ = json.Unmarshal(data, &f.lastBody)
		f.lastURL = r.URL.String()
		reject := f.reject
		f.mu.Unlock()
		if reject {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"language_id":["language with id 999 doesn't exist"]}`))
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"token":"T"}`))
	case r.Method == http.MethodGet && r.URL.Path == "/submissions/T":
		_, _ = w.Write([]byte(`{"token":"T","status":{"id":3,"description":"Accepted"},"stdout":"aGVsbG8="}`))
	case r.Method == http.MethodGet && r.URL.Path == "/languages":
		_, _ = w.Write([]byte(`[{"id":71,"name":"Python (3.8.1)"}]`))
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"Not Found"}`))
	}
}

func (f *fakeJudge) url() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastURL
}

func (f *fakeJudge) body() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastBody
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newTestRouter(t *testing.T, judge *fakeJudge, cfg Config) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	srv := httptest.NewServer(judge)
	t.Cleanup(srv.Close)
	client, err := engine.NewClient(engine.Config{BaseURL: srv.URL, Timeout: time.Second})
	if err != nil {
		t.Fatalf("new engine client failed: %v", err)
	}
	pool := workerpool.New(workerpool.Config{Workers: 2, QueueSize: 8})
	svc, err := service.NewService(service.Config{
		Store:        store.NewMemoryStore(),
		Engine:       client,
		Pool:         pool,
		Poll:         service.PollConfig{Interval: 5 * time.Millisecond},
		FetchUnknown: true,
	})
	if err != nil {
		t.Fatalf("new service failed: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close(context.Background()) })

	h := NewTaskController(svc, cfg)
	router := gin.New()
	api := router.Group("/api")
	api.POST("/submit", h.Submit)
	api.GET("/result/:token", h.Result)
	api.GET("/tasks", h.List)
	api.POST("/callback", h.Callback)
	api.PUT("/callback", h.Callback)
	api.GET("/languages", h.Languages)
	return router
}

func do(router *gin.Engine, method, target, body string, mutate func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if mutate != nil {
		mutate(req)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder, data any) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	if data != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, data); err != nil {
			t.Fatalf("decode data: %v", err)
		}
	}
	return env
}

func TestSubmitUsesPublicURLBehindLoopback(t *testing.T) {
	judge := &fakeJudge{}
	router := newTestRouter(t, judge, Config{EnableCallbacks: true, PublicURL: "https://judge.example.com/"})

	rec := do(router, http.MethodPost, "/api/submit", `{"sourceCode":"print(1)","languageId":71,"base64EncodedRequest":true}`, func(r *http.Request) {
		r.Host = "127.0.0.1:5000"
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	var data SubmitResponse
	decodeEnvelope(t, rec, &data)
	if data.Token != "T" {
		t.Fatalf("token = %q", data.Token)
	}
	if judge.body()["callback_url"] != "https://judge.example.com/api/callback" {
		t.Fatalf("callback_url = %v", judge.body()["callback_url"])
	}
	if !strings.Contains(judge.url(), "base64_encoded=true") {
		t.Fatalf("query params not forwarded: %s", judge.url())
	}
}

func TestSubmitUsesRequestHostOtherwise(t *testing.T) {
	judge := &fakeJudge{}
	router := newTestRouter(t, judge, Config{EnableCallbacks: true, PublicURL: "http://localhost:5000"})

	rec := do(router, http.MethodPost, "/api/submit", `{"source_code":"print(1)"}`, func(r *http.Request) {
		r.Host = "bridge.internal:5000"
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	if judge.body()["callback_url"] != "http://bridge.internal:5000/api/callback" {
		t.Fatalf("callback_url = %v", judge.body()["callback_url"])
	}
	if judge.body()["language_id"] != float64(defaultLanguageID) {
		t.Fatalf("language_id = %v", judge.body()["language_id"])
	}
}

func TestSubmitPollModeCompletesAndResultDecodes(t *testing.T) {
	router := newTestRouter(t, &fakeJudge{}, Config{})

	rec := do(router, http.MethodPost, "/api/submit", `{"source_code":"print('hello')"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}

	var result map[string]any
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rec = do(router, http.MethodGet, "/api/result/T", "", nil)
		result = map[string]any{}
		decodeEnvelope(t, rec, &result)
		if result["done"] == true {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if result["done"] != true || result["stored"] != true {
		t.Fatalf("task not completed: %v", result)
	}
	res := result["result"].(map[string]any)
	if res["stdout"] != "hello" || res["decoded_stdout"] != "hello" {
		t.Fatalf("result not decoded: %v", res)
	}

	rec = do(router, http.MethodGet, "/api/result/T?auto_decode=false", "", nil)
	result = map[string]any{}
	decodeEnvelope(t, rec, &result)
	if result["result"].(map[string]any)["stdout"] != "aGVsbG8=" {
		t.Fatalf("auto_decode=false should keep raw output: %v", result["result"])
	}
}

func TestSubmitRelaysEngineRejection(t *testing.T) {
	router := newTestRouter(t, &fakeJudge{reject: true}, Config{})
	rec := do(router, http.MethodPost, "/api/submit", `{"source_code":"x","language_id":999}`, nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "doesn't exist") {
		t.Fatalf("engine body not relayed: %s", rec.Body.String())
	}
}

func TestSubmitValidatesBody(t *testing.T) {
	router := newTestRouter(t, &fakeJudge{}, Config{})
	for _, body := range []string{`not json`, `{"stdin":"1"}`, `{"source_code":"x","language_id":"abc"}`} {
		if rec := do(router, http.MethodPost, "/api/submit", body, nil); rec.Code != http.StatusBadRequest {
			t.Fatalf("body %s: status = %d", body, rec.Code)
		}
	}
}

func TestCallbackThenResult(t *testing.T) {
	router := newTestRouter(t, &fakeJudge{}, Config{EnableCallbacks: true})

	rec := do(router, http.MethodPut, "/api/callback", `{"token":"CB","status":{"id":3},"stdout":"aGVsbG8="}`, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("callback status = %d body = %s", rec.Code, rec.Body.String())
	}

	rec = do(router, http.MethodGet, "/api/result/CB", "", nil)
	var result map[string]any
	decodeEnvelope(t, rec, &result)
	if result["state"] != string(model.StateDone) {
		t.Fatalf("state = %v", result["state"])
	}
	if result["result"].(map[string]any)["stdout"] != "hello" {
		t.Fatalf("stdout = %v", result["result"])
	}
}

func TestCallbackRejectsMalformedPayloads(t *testing.T) {
	router := newTestRouter(t, &fakeJudge{}, Config{})
	for _, body := range []string{`{"status":{"id":3}}`, `{broken`, ``} {
		rec := do(router, http.MethodPost, "/api/callback", body, nil)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %q: status = %d", body, rec.Code)
		}
	}
}

func TestResultUnknownTokenNotFound(t *testing.T) {
	router := newTestRouter(t, &fakeJudge{}, Config{})
	rec := do(router, http.MethodGet, "/api/result/missing", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestResultUnknownTokenFetchedOnce(t *testing.T) {
	router := newTestRouter(t, &fakeJudge{}, Config{})
	rec := do(router, http.MethodGet, "/api/result/T", "", nil)
	var result map[string]any
	decodeEnvelope(t, rec, &result)
	if result["stored"] != false || result["done"] != true {
		t.Fatalf("unexpected transient view %v", result)
	}
}

func TestListTasks(t *testing.T) {
	router := newTestRouter(t, &fakeJudge{}, Config{})
	do(router, http.MethodPost, "/api/callback", `{"token":"A","status":{"id":3}}`, nil)

	rec := do(router, http.MethodGet, "/api/tasks?limit=5", "", nil)
	var summaries []model.Summary
	decodeEnvelope(t, rec, &summaries)
	if len(summaries) != 1 || summaries[0].Token != "A" || summaries[0].State != model.StateDone {
		t.Fatalf("unexpected summaries %+v", summaries)
	}

	if rec := do(router, http.MethodGet, "/api/tasks?limit=abc", "", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestLanguagesPassthrough(t *testing.T) {
	router := newTestRouter(t, &fakeJudge{}, Config{})
	rec := do(router, http.MethodGet, "/api/languages", "", nil)
	if rec.Code != http.StatusOK || !bytes.Contains(rec.Body.Bytes(), []byte("Python")) {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
}

func TestParseSubmitRequest(t *testing.T) {
	req, err := parseSubmitRequest(map[string]any{
		"sourceCode":   "print(1)",
		"languageId":   float64(62),
		"stdin":        "in",
		"memory_limit": float64(128000),
		"fields":       "stdout,stderr,status",
		"authnHeader":  "X-Auth-Token",
		"authnToken":   "secret",
		"waitResponse": "true",
		"notifyMode":   "poll",
	})
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if req.Payload["language_id"] != 62 || req.Payload["memory_limit"] != float64(128000) {
		t.Fatalf("payload = %v", req.Payload)
	}
	want := model.QueryParams{"fields": "stdout,stderr,status", "X-Auth-Token": "secret", "wait": "true"}
	for k, v := range want {
		if req.QueryParams[k] != v {
			t.Fatalf("query param %s = %q, want %q", k, req.QueryParams[k], v)
		}
	}
	if _, ok := req.QueryParams["base64_encoded"]; ok {
		t.Fatalf("base64_encoded set without a flag")
	}
	if req.NotifyMode != "poll" {
		t.Fatalf("notify mode = %q", req.NotifyMode)
	}
}

func TestIsLoopbackURL(t *testing.T) {
	tests := map[string]bool{
		"http://127.0.0.1:5000":       true,
		"http://localhost:5000":       true,
		"http://[::1]:5000":           true,
		"https://judge.example.com":   false,
		"http://bridge.internal:5000": false,
	}
	for raw, want := range tests {
		if got := isLoopbackURL(raw); got != want {
			t.Fatalf("isLoopbackURL(%q) = %v, want %v", raw, got, want)
		}
	}
}
