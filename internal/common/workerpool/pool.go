// Package workerpool runs fire-and-forget jobs on a fixed set of goroutines
// fed by a bounded queue.
package workerpool

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"judgebridge/pkg/errors"
	"judgebridge/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	DefaultWorkers   = 8
	DefaultQueueSize = 1024
)

// Job receives the pool context, which is cancelled on Close.
type Job func(ctx context.Context)

// Config sizes the pool.
type Config struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queueSize"`
}

// Pool is a bounded worker pool.
type Pool struct {
	queue chan Job
	ctx   context.Context
	stop  context.CancelFunc
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	pending atomic.Int64
	active  atomic.Int64
}

// New starts cfg.Workers goroutines.
func New(cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		queue: make(chan Job, cfg.QueueSize),
		ctx:   ctx,
		stop:  cancel,
	}
	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case job := <-p.queue:
			p.run(job)
		}
	}
}

func (p *Pool) run(job Job) {
	p.active.Add(1)
	defer func() {
		p.active.Add(-1)
		p.pending.Add(-1)
		if r := recover(); r != nil {
			logger.Error(p.ctx, "worker recovered panic",
				zap.String("panic", fmt.Sprint(r)),
				zap.String("stack", string(debug.Stack())),
			)
		}
	}()
	job(p.ctx)
}

// Submit enqueues job without blocking. A full queue yields PollerQueueFull and
// a closed pool yields ServiceUnavailable.
func (p *Pool) Submit(job Job) error {
	if job == nil {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return errors.New(errors.ServiceUnavailable).WithMessage("worker pool is closed")
	}

	p.pending.Add(1)
	select {
	case p.queue <- job:
		return nil
	default:
		p.pending.Add(-1)
		return errors.New(errors.PollerQueueFull).WithDetail("capacity", cap(p.queue))
	}
}

// Schedule submits job once delay has passed without holding a worker while
// waiting. onReject receives the Submit error when the job cannot be queued,
// including when the pool closes first. It is called at most once.
func (p *Pool) Schedule(delay time.Duration, job Job, onReject func(error)) {
	if job == nil {
		return
	}
	reject := func(err error) {
		if onReject != nil {
			onReject(err)
		}
	}

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	mu.Lock()
	defer mu.Unlock()
	stopWatch := context.AfterFunc(p.ctx, func() {
		mu.Lock()
		t := timer
		mu.Unlock()
		if t.Stop() {
			reject(errors.New(errors.ServiceUnavailable).WithMessage("worker pool is closed"))
		}
	})
	timer = time.AfterFunc(delay, func() {
		stopWatch()
		if err := p.Submit(job); err != nil {
			reject(err)
		}
	})
}

// Pending is the number of queued plus running jobs.
func (p *Pool) Pending() int64 {
	return p.pending.Load()
}

// Active is the number of jobs currently running.
func (p *Pool) Active() int64 {
	return p.active.Load()
}

// Close cancels the pool context, drops queued jobs and waits for running
// jobs to observe cancellation, bounded by ctx.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.stop()
	dropped := 0
drain:
	for {
		select {
		case <-p.queue:
			p.pending.Add(-1)
			dropped++
		default:
			break drain
		}
	}
	if dropped > 0 {
		logger.Warn(ctx, "worker pool dropped queued jobs on close", zap.Int("dropped", dropped))
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), errors.Timeout).WithMessage("worker pool did not stop in time")
	}
}
