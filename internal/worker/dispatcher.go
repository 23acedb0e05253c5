package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/atomic"
)

var ErrDispatcherClosed = errors.New("dispatcher is shut down")

// Task is detached work. Its context carries the task timeout and is not
// tied to any inbound request.
type Task func(ctx context.Context) error

type Config struct {
	MaxConcurrent  int `mapstructure:"max_concurrent"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

type Stats struct {
	Submitted int64
	Completed int64
	Failed    int64
	Rejected  int64
	InFlight  int64
}

// Dispatcher runs background tasks with bounded concurrency and a per-task
// deadline. Failures are logged and counted; nothing is retried.
type Dispatcher struct {
	sem            chan struct{}
	defaultTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
	inFlight  atomic.Int64
}

func NewDispatcher(cfg Config) *Dispatcher {
	n := cfg.MaxConcurrent
	if n <= 0 {
		n = 16
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Dispatcher{
		sem:            make(chan struct{}, n),
		defaultTimeout: timeout,
	}
}

// Submit schedules task and returns immediately. A timeout of zero uses the
// dispatcher default.
func (d *Dispatcher) Submit(name string, timeout time.Duration, task Task) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.rejected.Inc()
		slog.Warn("Dropping background task after shutdown", "task", name)
		return ErrDispatcherClosed
	}
	if timeout <= 0 {
		timeout = d.defaultTimeout
	}

	d.submitted.Inc()
	d.wg.Add(1)
	go d.run(name, timeout, task)
	return nil
}

func (d *Dispatcher) run(name string, timeout time.Duration, task Task) {
	defer d.wg.Done()

	d.sem <- struct{}{}
	defer func() { <-d.sem }()

	d.inFlight.Inc()
	defer d.inFlight.Dec()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	start := time.Now()
	err := d.safeRun(ctx, name, task)
	if err != nil {
		d.failed.Inc()
		slog.Warn("Background task failed",
			"task", name,
			"duration", time.Since(start),
			"error", err)
		return
	}
	d.completed.Inc()
	slog.Debug("Background task completed", "task", name, "duration", time.Since(start))
}

func (d *Dispatcher) safeRun(ctx context.Context, name string, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Background task panicked", "task", name, "panic", r)
			err = errors.New("task panicked")
		}
	}()
	return task(ctx)
}

// Wait blocks until every submitted task has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Shutdown stops accepting tasks and waits for running ones until ctx is
// done.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Background dispatcher drained")
		return nil
	case <-ctx.Done():
		slog.Warn("Background dispatcher shutdown timed out", "in_flight", d.inFlight.Load())
		return ctx.Err()
	}
}

func (d *Dispatcher) Stats() Stats {
	return Stats{
		Submitted: d.submitted.Load(),
		Completed: d.completed.Load(),
		Failed:    d.failed.Load(),
		Rejected:  d.rejected.Load(),
		InFlight:  d.inFlight.Load(),
	}
}
