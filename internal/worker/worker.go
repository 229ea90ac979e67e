// Package worker drives the queue: each pass claims a bounded batch of
// due jobs and hands them to the executor.
//
// Passes are stateless and short-lived. The caller supplies the cadence;
// there are no timers here, which keeps passes deterministic under test
// and idempotent to invoke at any time. Overlapping passes (periodic
// triggers firing close together, or horizontally scaled instances) are
// safe because the store's claim is the only synchronization: a job can
// be claimed by exactly one pass.
package worker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/flowrule/flowrule/internal/domain"
	"github.com/flowrule/flowrule/internal/retry"
)

type Store interface {
	// ClaimDueJobs atomically selects up to limit jobs with
	// status=pending, attempts < maxAttempts and scheduled_for <= now,
	// oldest created_at first, and transitions each to processing while
	// incrementing its attempts in the same conditional update. Returns
	// the claimed jobs with their post-claim state.
	ClaimDueJobs(ctx context.Context, limit, maxAttempts int, now time.Time) ([]domain.QueueJob, error)
}

type Executor interface {
	Execute(ctx context.Context, job domain.QueueJob) error
}

// MetricsSink defines the interface for recording worker metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	PassStarted()
	PassCompleted(duration time.Duration, claimed int, err error)
}

type Config struct {
	// BatchSize caps the number of jobs claimed per pass.
	BatchSize int

	// MaxAttempts is the claim-side attempt cap. Jobs at the cap are
	// never claimed again; the retry policy has already failed them
	// terminally.
	MaxAttempts int

	// Parallelism bounds concurrent executions within one pass.
	Parallelism int
}

func DefaultConfig() Config {
	return Config{
		BatchSize:   50,
		MaxAttempts: retry.DefaultMaxAttempts,
		Parallelism: 4,
	}
}

type Worker struct {
	config   Config
	store    Store
	executor Executor
	clock    func() time.Time
	metrics  MetricsSink // optional, nil = disabled
}

func New(config Config, store Store, executor Executor) *Worker {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultConfig().BatchSize
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if config.Parallelism <= 0 {
		config.Parallelism = 1
	}
	return &Worker{
		config:   config,
		store:    store,
		executor: executor,
		clock:    time.Now,
	}
}

// WithMetrics attaches a metrics sink to the worker.
func (w *Worker) WithMetrics(sink MetricsSink) *Worker {
	w.metrics = sink
	return w
}

// WithClock replaces the wall clock for deterministic scheduling in
// tests.
func (w *Worker) WithClock(clock func() time.Time) *Worker {
	w.clock = clock
	return w
}

// RunPass claims one batch of due jobs and executes them with bounded
// parallelism. Returns the number of jobs claimed. A single job's fault
// never aborts the pass; the error return is reserved for the claim
// itself failing, in which case no job was left in an inconsistent
// state.
func (w *Worker) RunPass(ctx context.Context) (int, error) {
	start := w.clock()
	if w.metrics != nil {
		w.metrics.PassStarted()
	}

	now := start.UTC()
	jobs, err := w.store.ClaimDueJobs(ctx, w.config.BatchSize, w.config.MaxAttempts, now)
	if err != nil {
		if w.metrics != nil {
			w.metrics.PassCompleted(w.clock().Sub(start), 0, err)
		}
		return 0, fmt.Errorf("claim jobs: %w", err)
	}
	if len(jobs) == 0 {
		if w.metrics != nil {
			w.metrics.PassCompleted(w.clock().Sub(start), 0, nil)
		}
		return 0, nil
	}

	sem := semaphore.NewWeighted(int64(w.config.Parallelism))
	var wg sync.WaitGroup

	for _, job := range jobs {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Context cancelled mid-pass. Jobs not yet started stay in
			// processing until the sweeper returns them to pending.
			log.Printf("worker: pass interrupted, %d jobs left to the sweeper: %v", remaining(jobs, job), err)
			break
		}
		wg.Add(1)
		go func(job domain.QueueJob) {
			defer wg.Done()
			defer sem.Release(1)
			if err := w.executor.Execute(ctx, job); err != nil {
				log.Printf("worker: job=%s error: %v", job.ID, err)
			}
		}(job)
	}

	wg.Wait()

	if w.metrics != nil {
		w.metrics.PassCompleted(w.clock().Sub(start), len(jobs), nil)
	}
	log.Printf("worker: pass complete, claimed=%d duration=%s", len(jobs), w.clock().Sub(start).Round(time.Millisecond))
	return len(jobs), nil
}

// remaining counts jobs from the cursor position onward, cursor
// included.
func remaining(jobs []domain.QueueJob, cursor domain.QueueJob) int {
	for i, j := range jobs {
		if j.ID == cursor.ID {
			return len(jobs) - i
		}
	}
	return 0
}
