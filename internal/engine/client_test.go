package engine

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"judgebridge/internal/task/model"
	"judgebridge/pkg/errors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{BaseURL: srv.URL + "/", Timeout: time.Second})
	if err != nil {
		t.Fatalf("new client failed: %v", err)
	}
	return c
}

func TestCreateSubmissionForwardsBodyAndParams(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/submissions" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.URL.Query().Get("base64_encoded") != "true" || r.URL.Query().Get("X-Auth-Token") != "secret" {
			t.Errorf("query params not forwarded: %s", r.URL.RawQuery)
		}
		var body map[string]any
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &body)
		if body["callback_url"] != "http://bridge/api/callback" {
			t.Errorf("callback_url = %v", body["callback_url"])
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"token":"tok-1"}`))
	})

	doc, err := c.CreateSubmission(context.Background(),
		model.Payload{"source_code": "print(1)", "language_id": 71, "callback_url": "http://bridge/api/callback"},
		model.QueryParams{"base64_encoded": "true", "X-Auth-Token": "secret"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if token, _ := doc.String("token"); token != "tok-1" {
		t.Fatalf("token = %q", token)
	}
}

func TestCreateSubmissionWithoutTokenIsProtocolError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":{"id":1}}`))
	})
	_, err := c.CreateSubmission(context.Background(), model.Payload{}, nil)
	if errors.GetCode(err) != errors.RemoteProtocolError {
		t.Fatalf("code = %v, err = %v", errors.GetCode(err), err)
	}
}

func TestNon2xxIsHTTPError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"language_id":["can't be blank"]}`))
	})
	_, err := c.CreateSubmission(context.Background(), model.Payload{}, nil)
	httpErr, ok := AsHTTPError(err)
	if !ok {
		t.Fatalf("expected HTTPError, got %v", err)
	}
	if httpErr.Status != http.StatusUnprocessableEntity || string(httpErr.Body) != `{"language_id":["can't be blank"]}` {
		t.Fatalf("unexpected http error %+v", httpErr)
	}
	if errors.GetCode(err) != errors.RemoteRejected {
		t.Fatalf("code = %v", errors.GetCode(err))
	}
}

func TestGetSubmissionUsesTokenPath(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/submissions/tok-9" || r.URL.Query().Get("fields") != "*" {
			t.Errorf("unexpected request %s?%s", r.URL.Path, r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"token":"tok-9","status":{"id":3,"description":"Accepted"}}`))
	})
	doc, err := c.GetSubmission(context.Background(), "tok-9", model.QueryParams{"fields": "*"})
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !doc.IsTerminal() {
		t.Fatalf("status not decoded: %v", doc)
	}
}

func TestTimeoutIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()
	c, err := NewClient(Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("new client failed: %v", err)
	}
	_, err = c.GetSubmission(context.Background(), "tok", nil)
	if errors.GetCode(err) != errors.TransportError {
		t.Fatalf("code = %v, err = %v", errors.GetCode(err), err)
	}
}

func TestMalformedJSONIsTransportError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>`))
	})
	_, err := c.GetSubmission(context.Background(), "tok", nil)
	if errors.GetCode(err) != errors.TransportError {
		t.Fatalf("code = %v", errors.GetCode(err))
	}
}

func TestLanguagesRelaysAnyStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"maintenance"}`))
	})
	resp, err := c.Languages(context.Background())
	if err != nil {
		t.Fatalf("languages failed: %v", err)
	}
	if resp.Status != http.StatusServiceUnavailable || resp.ContentType != "application/json" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestNewClientValidatesBaseURL(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatalf("expected error for empty base url")
	}
}
