// Package engine is the HTTP client for the remote judging engine.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"judgebridge/internal/task/model"
	"judgebridge/pkg/errors"
	"judgebridge/pkg/utils/logger"

	"github.com/zeromicro/go-zero/core/breaker"
	"go.uber.org/zap"
)

const (
	defaultTimeout = 15 * time.Second
	maxLoggedBody  = 2000
)

// Config configures the engine client.
type Config struct {
	BaseURL string        `yaml:"baseURL"`
	Timeout time.Duration `yaml:"timeout"`
	// BreakerName isolates breaker state per engine; defaults to the base URL.
	BreakerName string `yaml:"breakerName"`
}

// HTTPError is a non-2xx engine response, kept verbatim so the HTTP surface can relay it.
type HTTPError struct {
	Status      int
	ContentType string
	Body        []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("engine returned HTTP %d: %s", e.Status, truncate(e.Body))
}

// Unwrap exposes the coded error so errors.GetCode reports RemoteRejected.
func (e *HTTPError) Unwrap() error {
	return errors.New(errors.RemoteRejected).WithDetail("status", e.Status)
}

// RawResponse is an engine response relayed without interpretation.
type RawResponse struct {
	Status      int
	ContentType string
	Body        []byte
}

// Client talks to the engine. It is safe for concurrent use and keeps no per-call state.
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	breaker    breaker.Breaker
}

// NewClient validates cfg and builds a client.
func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.ValidationError("baseURL", "required")
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, errors.ValidationError("baseURL", err.Error())
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	name := cfg.BreakerName
	if name == "" {
		name = base
	}
	return &Client{
		baseURL:    base,
		timeout:    timeout,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    breaker.NewBreaker(breaker.WithName(name)),
	}, nil
}

// CreateSubmission posts payload to /submissions. The returned document always
// has a token unless the engine broke protocol, which is reported as RemoteProtocolError.
func (c *Client) CreateSubmission(ctx context.Context, payload model.Payload, params model.QueryParams) (model.Payload, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrapf(err, errors.InvalidParams, "encode submission")
	}
	doc, err := c.doJSON(ctx, http.MethodPost, "/submissions", params, body, "create submission")
	if err != nil {
		return nil, err
	}
	if token, _ := doc.String("token"); token == "" {
		return nil, errors.New(errors.RemoteProtocolError).WithMessage("engine create response has no token")
	}
	return doc, nil
}

// GetSubmission fetches the current status document of token.
func (c *Client) GetSubmission(ctx context.Context, token string, params model.QueryParams) (model.Payload, error) {
	return c.doJSON(ctx, http.MethodGet, "/submissions/"+url.PathEscape(token), params, nil, "get submission")
}

// Languages relays GET /languages. Only transport failures are errors.
func (c *Client) Languages(ctx context.Context) (RawResponse, error) {
	resp, err := c.do(ctx, http.MethodGet, "/languages", nil, nil, "list languages")
	if err != nil {
		var httpErr *HTTPError
		if asHTTPError(err, &httpErr) {
			return RawResponse{Status: httpErr.Status, ContentType: httpErr.ContentType, Body: httpErr.Body}, nil
		}
		return RawResponse{}, err
	}
	return resp, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, params model.QueryParams, body []byte, op string) (model.Payload, error) {
	resp, err := c.do(ctx, method, path, params, body, op)
	if err != nil {
		return nil, err
	}
	var doc model.Payload
	if err := json.Unmarshal(resp.Body, &doc); err != nil {
		return nil, errors.Transport(fmt.Errorf("decode response: %w", err), op)
	}
	if doc == nil {
		return nil, errors.Transport(fmt.Errorf("decode response: empty document"), op)
	}
	return doc, nil
}

// do runs one request under the breaker. Engine 4xx responses do not count as
// breaker failures; 5xx and transport errors do.
func (c *Client) do(ctx context.Context, method, path string, params model.QueryParams, body []byte, op string) (RawResponse, error) {
	var out RawResponse
	err := c.breaker.DoWithAcceptable(func() error {
		resp, err := c.roundTrip(ctx, method, path, params, body)
		if err != nil {
			return err
		}
		out = resp
		if resp.Status < 200 || resp.Status > 299 {
			return &HTTPError{Status: resp.Status, ContentType: resp.ContentType, Body: resp.Body}
		}
		return nil
	}, acceptable)

	switch {
	case err == nil:
		return out, nil
	case err == breaker.ErrServiceUnavailable:
		return RawResponse{}, errors.Transport(err, op).WithMessage("engine circuit breaker is open")
	default:
		var httpErr *HTTPError
		if asHTTPError(err, &httpErr) {
			return RawResponse{}, httpErr
		}
		return RawResponse{}, errors.Transport(err, op)
	}
}

func acceptable(err error) bool {
	if err == nil {
		return true
	}
	var httpErr *HTTPError
	return asHTTPError(err, &httpErr) && httpErr.Status < http.StatusInternalServerError
}

func (c *Client) roundTrip(ctx context.Context, method, path string, params model.QueryParams, body []byte) (RawResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Values().Encode()
	}

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return RawResponse{}, fmt.Errorf("build request failed: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	logger.Debug(ctx, "engine request",
		zap.String("method", method),
		zap.String("url", endpoint),
		zap.String("body", truncate(body)),
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return RawResponse{}, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return RawResponse{}, fmt.Errorf("read response body failed: %w", err)
	}
	logger.Debug(ctx, "engine response",
		zap.String("method", method),
		zap.String("url", endpoint),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
		zap.String("body", truncate(respBody)),
	)
	return RawResponse{
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        respBody,
	}, nil
}

func truncate(b []byte) string {
	if len(b) > maxLoggedBody {
		return string(b[:maxLoggedBody]) + "...(truncated)"
	}
	return string(b)
}
