package service

import (
	"context"
	"time"

	"judgebridge/internal/common/workerpool"
	"judgebridge/internal/task/model"
	appErr "judgebridge/pkg/errors"
	"judgebridge/pkg/utils/logger"

	"go.uber.org/zap"
)

// poller tracks one token across fetches. Each fetch runs as its own pool job
// and the next one is scheduled after the poll delay, so a worker is only held
// for a single fetch and merge.
type poller struct {
	svc      *Service
	logCtx   context.Context
	token    string
	params   model.QueryParams
	attempt  int
	failures int
}

func (s *Service) schedulePoller(ctx context.Context, token string, params model.QueryParams) error {
	p := &poller{
		svc: s,
		// The poller outlives the request but keeps its trace fields for logging.
		logCtx: context.WithoutCancel(ctx),
		token:  token,
		params: params.Clone(),
	}
	activePollers.Inc()
	if err := s.pool.Submit(p.step); err != nil {
		activePollers.Dec()
		return err
	}
	return nil
}

// step performs one fetch with the query params fixed at creation and merges
// the outcome. Fetch failures are recorded on the task and polling continues
// until the task is DONE, the attempt budget is spent or the pool shuts down.
func (p *poller) step(poolCtx context.Context) {
	s := p.svc
	ctx, cancel := context.WithCancel(p.logCtx)
	defer cancel()
	stop := context.AfterFunc(poolCtx, cancel)
	defer stop()

	if ctx.Err() != nil {
		p.finish()
		logger.Info(ctx, "poller stopped by shutdown", zap.Int("attempts", p.attempt))
		return
	}
	p.attempt++

	payload, err := s.engine.GetSubmission(ctx, p.token, p.params)
	if err != nil {
		if ctx.Err() != nil {
			p.finish()
			logger.Info(ctx, "poller stopped by shutdown", zap.Int("attempts", p.attempt))
			return
		}
		p.failures++
		pollAttemptsTotal.WithLabelValues(pollError).Inc()
		logger.Warn(ctx, "poll fetch failed", zap.Int("attempt", p.attempt), zap.Error(err))
		if _, mergeErr := s.apply(ctx, p.token, nil, err, false, SourcePoll); mergeErr != nil {
			logger.Error(ctx, "record poll failure failed", zap.Error(mergeErr))
		}
	} else {
		p.failures = 0
		rec, mergeErr := s.apply(ctx, p.token, payload, nil, false, SourcePoll)
		if mergeErr != nil {
			logger.Error(ctx, "merge poll result failed", zap.Error(mergeErr))
		}
		// The record may already be DONE through a callback.
		if payload.IsTerminal() || (mergeErr == nil && rec.Done()) {
			pollAttemptsTotal.WithLabelValues(pollDone).Inc()
			p.finish()
			logger.Debug(ctx, "poller finished", zap.Int("attempts", p.attempt))
			return
		}
		pollAttemptsTotal.WithLabelValues(pollPending).Inc()
	}

	if s.poll.MaxAttempts > 0 && p.attempt >= s.poll.MaxAttempts {
		p.finish()
		logger.Info(ctx, "poller gave up", zap.Int("attempts", p.attempt))
		return
	}
	s.pool.Schedule(s.pollDelay(p.failures), p.step, p.rejected)
}

// rejected handles a next fetch the pool would not take. A full queue is
// recorded on the task so the stall is visible.
func (p *poller) rejected(err error) {
	p.finish()
	if appErr.Is(err, appErr.ServiceUnavailable) {
		logger.Info(p.logCtx, "poller stopped by shutdown", zap.Int("attempts", p.attempt))
		return
	}
	logger.Warn(p.logCtx, "poller not rescheduled", zap.Int("attempts", p.attempt), zap.Error(err))
	if _, mergeErr := p.svc.apply(p.logCtx, p.token, nil, err, false, SourcePoll); mergeErr != nil {
		logger.Error(p.logCtx, "record scheduling failure failed", zap.Error(mergeErr))
	}
}

func (p *poller) finish() {
	activePollers.Dec()
}

func (s *Service) pollDelay(failures int) time.Duration {
	if failures == 0 || s.poll.BackoffMax <= 0 {
		return s.poll.Interval
	}
	return workerpool.Backoff(failures-1, s.poll.Interval, s.poll.BackoffMax)
}
