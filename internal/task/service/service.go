// Package service owns the task lifecycle: creation, polling, callbacks and the
// single merge path that moves a task between states.
package service

import (
	"context"
	"fmt"
	"time"

	"judgebridge/internal/common/workerpool"
	"judgebridge/internal/engine"
	"judgebridge/internal/task/event"
	"judgebridge/internal/task/model"
	"judgebridge/internal/task/store"
	appErr "judgebridge/pkg/errors"
	"judgebridge/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	defaultPollInterval = time.Second
	defaultListLimit    = 10
	maxListLimit        = 100
)

// Engine is the remote engine as seen by the service.
type Engine interface {
	CreateSubmission(ctx context.Context, payload model.Payload, params model.QueryParams) (model.Payload, error)
	GetSubmission(ctx context.Context, token string, params model.QueryParams) (model.Payload, error)
	Languages(ctx context.Context) (engine.RawResponse, error)
}

// Scheduler runs poll fetches in the background.
type Scheduler interface {
	Submit(job workerpool.Job) error
	Schedule(delay time.Duration, job workerpool.Job, onReject func(error))
	Close(ctx context.Context) error
}

// PollConfig tunes the poll loop.
type PollConfig struct {
	Interval time.Duration `yaml:"interval"`
	// MaxAttempts bounds fetches per task; 0 polls until DONE or shutdown.
	MaxAttempts int `yaml:"maxAttempts"`
	// BackoffMax enables exponential backoff on consecutive fetch failures.
	BackoffMax time.Duration `yaml:"backoffMax"`
}

// TimeoutConfig holds timeout settings for store and event calls.
type TimeoutConfig struct {
	Store   time.Duration `yaml:"store"`
	Publish time.Duration `yaml:"publish"`
}

// Config holds service dependencies and settings.
type Config struct {
	Store     store.Store
	Engine    Engine
	Pool      Scheduler
	Publisher event.CompletionPublisher

	Poll PollConfig
	// FetchUnknown lets Lookup ask the engine about tokens this service never stored.
	FetchUnknown bool
	Timeouts     TimeoutConfig
	Now          func() time.Time
}

// Service manages the lifecycle of engine submissions.
type Service struct {
	store     store.Store
	engine    Engine
	pool      Scheduler
	publisher event.CompletionPublisher

	poll         PollConfig
	fetchUnknown bool
	timeouts     TimeoutConfig
	now          func() time.Time
}

// SubmitInput describes a submission request.
type SubmitInput struct {
	Payload     model.Payload
	QueryParams model.QueryParams
	NotifyMode  model.NotifyMode
	// CallbackURL is required in callback mode and ignored otherwise.
	CallbackURL string
}

// LookupResult is a task view that may come straight from the engine.
type LookupResult struct {
	Record model.Record
	// Stored is false for a transient record fetched for an unknown token.
	Stored bool
}

// NewService creates a new task service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("task store is required")
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("engine client is required")
	}
	if cfg.Pool == nil {
		return nil, fmt.Errorf("poller pool is required")
	}
	if cfg.Publisher == nil {
		cfg.Publisher = event.NopPublisher{}
	}
	if cfg.Poll.Interval <= 0 {
		cfg.Poll.Interval = defaultPollInterval
	}
	if cfg.Poll.MaxAttempts < 0 {
		cfg.Poll.MaxAttempts = 0
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		store:        cfg.Store,
		engine:       cfg.Engine,
		pool:         cfg.Pool,
		publisher:    cfg.Publisher,
		poll:         cfg.Poll,
		fetchUnknown: cfg.FetchUnknown,
		timeouts:     cfg.Timeouts,
		now:          cfg.Now,
	}, nil
}

// Submit creates the submission on the engine, records it as PENDING and, in
// poll mode, schedules a poller. A poller that cannot be scheduled is recorded
// as the task's error; the token is still returned.
func (s *Service) Submit(ctx context.Context, input SubmitInput) (string, error) {
	mode := input.NotifyMode
	if mode == "" {
		mode = model.NotifyPoll
	}
	if mode == model.NotifyCallback && input.CallbackURL == "" {
		return "", appErr.ValidationError("callback_url", "required in callback mode")
	}

	payload := input.Payload.Clone()
	if payload == nil {
		payload = model.Payload{}
	}
	if mode == model.NotifyCallback {
		payload["callback_url"] = input.CallbackURL
	}
	params := input.QueryParams.Clone()

	created, err := s.engine.CreateSubmission(ctx, payload, params)
	if err != nil {
		submissionsTotal.WithLabelValues(string(mode), "error").Inc()
		return "", err
	}
	token, _ := created.String("token")
	if token == "" {
		submissionsTotal.WithLabelValues(string(mode), "error").Inc()
		return "", appErr.New(appErr.RemoteProtocolError).WithMessage("engine create response has no token")
	}
	submissionsTotal.WithLabelValues(string(mode), "ok").Inc()
	ctx = logger.ContextWithToken(ctx, token)

	rec := model.NewPendingRecord(token, params, mode, s.now())
	storeCtx := withTimeout(ctx, s.timeouts.Store)
	err = s.store.Put(storeCtx.ctx, rec)
	storeCtx.cancel()
	if err != nil {
		return "", err
	}
	logger.Info(ctx, "submission created", zap.String("notify_mode", string(mode)))

	// A synchronous (wait=true) create already carries the status.
	if created.HasStatus() {
		current, err := s.apply(ctx, token, created, nil, false, SourceSubmit)
		if err != nil {
			logger.Warn(ctx, "apply create status failed", zap.Error(err))
		} else if current.Done() {
			return token, nil
		}
	}

	if mode == model.NotifyPoll {
		if err := s.schedulePoller(ctx, token, params); err != nil {
			logger.Warn(ctx, "poller not scheduled", zap.Error(err))
			if _, mergeErr := s.apply(ctx, token, nil, err, false, SourcePoll); mergeErr != nil {
				logger.Error(ctx, "record scheduling failure failed", zap.Error(mergeErr))
			}
		}
	}
	return token, nil
}

// ApplyRemoteStatus merges an engine status document, or a fetch failure, into
// the task. A document with a terminal status moves the task to DONE and
// clears any previous error; a failure alone only sets the error and leaves
// the last known result and state as they were.
func (s *Service) ApplyRemoteStatus(ctx context.Context, token string, payload model.Payload, fetchErr error) (model.Record, error) {
	return s.apply(ctx, token, payload, fetchErr, false, SourcePoll)
}

func (s *Service) apply(ctx context.Context, token string, payload model.Payload, fetchErr error, forceDone bool, source string) (model.Record, error) {
	patch := model.Patch{Error: model.ErrorText(fetchErr)}
	if payload != nil {
		state := model.StatePending
		if forceDone || payload.IsTerminal() {
			state = model.StateDone
		}
		patch.State = &state
		patch.Result = payload
	}

	// A merge that has started is never abandoned because the caller went away.
	detached := context.WithoutCancel(ctx)
	storeCtx := withTimeout(detached, s.timeouts.Store)
	defer storeCtx.cancel()
	res, err := s.store.Merge(storeCtx.ctx, token, patch)
	if err != nil {
		return model.Record{}, err
	}
	if res.Completed {
		s.onCompleted(detached, source, res.Record)
	}
	return res.Record, nil
}

func (s *Service) onCompleted(ctx context.Context, source string, rec model.Record) {
	completionsTotal.WithLabelValues(source).Inc()
	id, _ := rec.Result.StatusID()
	logger.Info(ctx, "task completed",
		zap.String("source", source),
		zap.Int("status_id", id),
		zap.String("status", rec.Result.StatusDescription()),
	)

	publishCtx := withTimeout(ctx, s.timeouts.Publish)
	defer publishCtx.cancel()
	if err := s.publisher.PublishCompleted(publishCtx.ctx, source, rec); err != nil {
		logger.Warn(ctx, "publish completion event failed", zap.Error(err))
	}
}

// GetTask returns the stored record for token.
func (s *Service) GetTask(ctx context.Context, token string) (model.Record, error) {
	storeCtx := withTimeout(ctx, s.timeouts.Store)
	defer storeCtx.cancel()
	rec, ok, err := s.store.Get(storeCtx.ctx, token)
	if err != nil {
		return model.Record{}, err
	}
	if !ok {
		return model.Record{}, appErr.TaskNotFoundError(token)
	}
	return rec, nil
}

// Lookup returns the stored record, or for an unknown token a one-shot
// engine view that is not stored.
func (s *Service) Lookup(ctx context.Context, token string) (LookupResult, error) {
	rec, err := s.GetTask(ctx, token)
	if err == nil {
		return LookupResult{Record: rec, Stored: true}, nil
	}
	if !appErr.Is(err, appErr.TaskNotFound) || !s.fetchUnknown {
		return LookupResult{}, err
	}

	payload, fetchErr := s.engine.GetSubmission(ctx, token, nil)
	if fetchErr != nil {
		logger.Warn(logger.ContextWithToken(ctx, token), "lookup of unknown token failed", zap.Error(fetchErr))
		return LookupResult{}, appErr.TaskNotFoundError(token).WithDetail("engine_error", fetchErr.Error())
	}
	now := s.now()
	transient := model.Record{
		Token:       token,
		State:       model.StatePending,
		Result:      payload,
		QueryParams: model.QueryParams{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if payload.IsTerminal() {
		transient.State = model.StateDone
	}
	return LookupResult{Record: transient}, nil
}

// ListRecent returns summaries of the most recently updated tasks.
func (s *Service) ListRecent(ctx context.Context, limit int) ([]model.Summary, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	storeCtx := withTimeout(ctx, s.timeouts.Store)
	defer storeCtx.cancel()
	recs, err := s.store.List(storeCtx.ctx, limit)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]model.Summary, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.Summarize(now))
	}
	return out, nil
}

// Languages relays the engine's language list.
func (s *Service) Languages(ctx context.Context) (engine.RawResponse, error) {
	return s.engine.Languages(ctx)
}

// StoreName reports the active store backend.
func (s *Service) StoreName() string {
	return s.store.Name()
}

// Close stops pollers and waits for them, bounded by ctx.
func (s *Service) Close(ctx context.Context) error {
	return s.pool.Close(ctx)
}

type timeoutCtx struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func withTimeout(ctx context.Context, timeout time.Duration) timeoutCtx {
	if timeout <= 0 {
		return timeoutCtx{ctx: ctx, cancel: func() {}}
	}
	ctxTimeout, cancel := context.WithTimeout(ctx, timeout)
	return timeoutCtx{ctx: ctxTimeout, cancel: cancel}
}
