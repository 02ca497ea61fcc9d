// Package jobs is a small in-process job engine: a buffered queue drained
// by a worker pool, with bounded retry per job, plus named recurring
// triggers driven by cron expressions.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"go.uber.org/zap"
)

// Job is one unit of queued work.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// Config holds queue tuning knobs.
type Config struct {
	Workers    int
	MaxRetries int // attempts per job, including the first
	QueueSize  int
}

// Stats is a snapshot of queue counters.
type Stats struct {
	Enqueued   int64 `json:"enqueued"`
	Processing int64 `json:"processing"`
	Succeeded  int64 `json:"succeeded"`
	Failed     int64 `json:"failed"`
	Depth      int   `json:"depth"`
}

// Queue executes enqueued jobs on a worker pool. Enqueue never blocks the
// caller; jobs run with automatic bounded retry and a crash in one job
// never affects another.
type Queue struct {
	cfg    Config
	logger *zap.Logger
	jobs   chan Job

	enqueued   atomic.Int64
	processing atomic.Int64
	succeeded  atomic.Int64
	failed     atomic.Int64

	wg sync.WaitGroup
}

// NewQueue creates a queue with defaults applied.
func NewQueue(cfg Config, logger *zap.Logger) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}

	return &Queue{
		cfg:    cfg,
		logger: logger,
		jobs:   make(chan Job, cfg.QueueSize),
	}
}

// Start launches the worker pool. Workers exit when ctx is canceled; jobs
// already dispatched to a worker are not interrupted mid-attempt beyond
// context propagation.
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}

	q.logger.Info("job queue started",
		zap.Int("workers", q.cfg.Workers),
		zap.Int("max_retries", q.cfg.MaxRetries),
	)
}

// Wait blocks until all workers have exited.
func (q *Queue) Wait() {
	q.wg.Wait()
}

// Enqueue submits a job and returns immediately. It fails when the queue
// buffer is full rather than blocking the caller.
func (q *Queue) Enqueue(name string, fn func(ctx context.Context) error) error {
	select {
	case q.jobs <- Job{Name: name, Run: fn}:
		q.enqueued.Add(1)
		q.logger.Debug("job enqueued", zap.String("job", name))
		return nil
	default:
		return fmt.Errorf("job queue full, rejecting %q", name)
	}
}

// Stats returns a snapshot of the queue counters.
func (q *Queue) Stats() Stats {
	return Stats{
		Enqueued:   q.enqueued.Load(),
		Processing: q.processing.Load(),
		Succeeded:  q.succeeded.Load(),
		Failed:     q.failed.Load(),
		Depth:      len(q.jobs),
	}
}

func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			q.logger.Info("job worker stopping", zap.Int("worker", id))
			return
		case job := <-q.jobs:
			q.execute(ctx, job)
		}
	}
}

// execute runs one job with bounded retry and panic isolation.
func (q *Queue) execute(ctx context.Context, job Job) {
	q.processing.Add(1)
	defer q.processing.Add(-1)

	defer func() {
		if rec := recover(); rec != nil {
			q.failed.Add(1)
			q.logger.Error("job panicked",
				zap.String("job", job.Name),
				zap.Any("panic", rec),
			)
		}
	}()

	err := retry.Do(
		func() error { return job.Run(ctx) },
		retry.Attempts(uint(q.cfg.MaxRetries)),
		retry.Delay(500*time.Millisecond),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			q.logger.Warn("job attempt failed, retrying",
				zap.String("job", job.Name),
				zap.Uint("attempt", n+1),
				zap.Error(retryErr),
			)
		}),
	)

	if err != nil {
		q.failed.Add(1)
		q.logger.Error("job failed after retries",
			zap.String("job", job.Name),
			zap.Int("attempts", q.cfg.MaxRetries),
			zap.Error(err),
		)
		return
	}

	q.succeeded.Add(1)
	q.logger.Debug("job completed", zap.String("job", job.Name))
}
