package workerpool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"judgebridge/pkg/errors"
)

func TestPoolRunsJobs(t *testing.T) {
	p := New(Config{Workers: 3, QueueSize: 10})
	defer p.Close(context.Background())

	var wg sync.WaitGroup
	var count atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		if err := p.Submit(func(ctx context.Context) {
			defer wg.Done()
			count.Add(1)
		}); err != nil {
			t.Fatalf("submit failed: %v", err)
		}
	}
	wg.Wait()
	if count.Load() != 10 {
		t.Fatalf("ran %d jobs, want 10", count.Load())
	}
}

func TestSubmitRejectsWhenQueueFull(t *testing.T) {
	p := New(Config{Workers: 1, QueueSize: 1})
	defer p.Close(context.Background())

	release := make(chan struct{})
	started := make(chan struct{})
	_ = p.Submit(func(ctx context.Context) {
		close(started)
		<-release
	})
	<-started
	if err := p.Submit(func(ctx context.Context) {}); err != nil {
		t.Fatalf("queue slot should be free: %v", err)
	}
	err := p.Submit(func(ctx context.Context) {})
	if !errors.Is(err, errors.PollerQueueFull) {
		t.Fatalf("expected PollerQueueFull, got %v", err)
	}
	if p.Pending() != 2 {
		t.Fatalf("pending = %d, want 2", p.Pending())
	}
	close(release)
}

func TestPanicDoesNotKillWorker(t *testing.T) {
	p := New(Config{Workers: 1, QueueSize: 4})
	defer p.Close(context.Background())

	_ = p.Submit(func(ctx context.Context) { panic("boom") })
	done := make(chan struct{})
	_ = p.Submit(func(ctx context.Context) { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("worker did not survive panic")
	}
}

func TestCloseCancelsRunningJobs(t *testing.T) {
	p := New(Config{Workers: 2, QueueSize: 4})
	started := make(chan struct{})
	_ = p.Submit(func(ctx context.Context) {
		close(started)
		<-ctx.Done()
	})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.Close(ctx); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := p.Submit(func(ctx context.Context) {}); !errors.Is(err, errors.ServiceUnavailable) {
		t.Fatalf("submit after close = %v", err)
	}
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt   int
		base, max time.Duration
		want      time.Duration
	}{
		{0, time.Second, 0, time.Second},
		{1, time.Second, 0, 2 * time.Second},
		{3, time.Second, 5 * time.Second, 5 * time.Second},
		{2, time.Second, 10 * time.Second, 4 * time.Second},
		{5, 0, time.Second, 0},
	}
	for _, tt := range tests {
		if got := Backoff(tt.attempt, tt.base, tt.max); got != tt.want {
			t.Fatalf("Backoff(%d, %v, %v) = %v, want %v", tt.attempt, tt.base, tt.max, got, tt.want)
		}
	}
}

func TestScheduleDoesNotHoldWorker(t *testing.T) {
	p := New(Config{Workers: 1, QueueSize: 4})
	defer p.Close(context.Background())

	delayed := make(chan struct{})
	p.Schedule(200*time.Millisecond, func(ctx context.Context) { close(delayed) }, func(err error) {
		t.Errorf("unexpected reject: %v", err)
	})

	// The only worker stays free while the delayed job waits.
	ran := make(chan struct{})
	if err := p.Submit(func(ctx context.Context) { close(ran) }); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	select {
	case <-ran:
	case <-time.After(100 * time.Millisecond):
		t.Fatalf("worker held by a scheduled job")
	}
	select {
	case <-delayed:
	case <-time.After(time.Second):
		t.Fatalf("scheduled job did not run")
	}
}

func TestScheduleRejectsOnClose(t *testing.T) {
	p := New(Config{Workers: 1, QueueSize: 4})

	rejected := make(chan error, 1)
	p.Schedule(time.Hour, func(ctx context.Context) {
		t.Errorf("job ran after close")
	}, func(err error) { rejected <- err })

	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	select {
	case err := <-rejected:
		if !errors.Is(err, errors.ServiceUnavailable) {
			t.Fatalf("reject err = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("scheduled job not rejected on close")
	}
}
