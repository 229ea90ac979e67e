// Package sweeper returns stale processing jobs to the pending queue.
//
// A job is stale when a worker claimed it but crashed before resolving
// the attempt, leaving it in processing forever. The sweeper
// periodically requeues such jobs once their claim is older than a
// threshold. The threshold must exceed the longest legitimate
// execution (collaborator timeout x actions per pass segment), or a
// slow job could run twice. A requeued job keeps its attempts count, so
// the claim-side cap still bounds total work.
//
// Run exactly one sweeper across all instances (see the leaderelection
// package).
package sweeper

import (
	"context"
	"log"
	"time"
)

type Store interface {
	RequeueStaleJobs(ctx context.Context, olderThan time.Time, limit int) (int, error)
}

// MetricsSink defines the interface for recording sweeper metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	StaleJobsRequeued(count int)
}

// Config holds sweeper configuration.
type Config struct {
	// Interval is how often the sweeper runs.
	Interval time.Duration

	// Threshold is the claim age after which a processing job is
	// considered abandoned.
	Threshold time.Duration

	// BatchSize is the maximum number of jobs requeued per cycle.
	BatchSize int
}

// DefaultConfig returns the default sweeper configuration.
func DefaultConfig() Config {
	return Config{
		Interval:  5 * time.Minute,
		Threshold: 15 * time.Minute,
		BatchSize: 100,
	}
}

type Sweeper struct {
	config  Config
	store   Store
	clock   func() time.Time
	metrics MetricsSink // optional, nil = disabled
}

func New(config Config, store Store) *Sweeper {
	return &Sweeper{
		config: config,
		store:  store,
		clock:  time.Now,
	}
}

// WithMetrics attaches a metrics sink to the sweeper.
func (s *Sweeper) WithMetrics(sink MetricsSink) *Sweeper {
	s.metrics = sink
	return s
}

// Run starts the sweep loop. It blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	log.Printf("sweeper: started (interval=%s, threshold=%s, batch=%d)",
		s.config.Interval, s.config.Threshold, s.config.BatchSize)

	// Run immediately on startup, then on ticker
	s.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Println("sweeper: stopped")
			return
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

// runCycle executes one sweep. Cycle faults are logged and retried on
// the next interval.
func (s *Sweeper) runCycle(ctx context.Context) {
	olderThan := s.clock().UTC().Add(-s.config.Threshold)

	requeued, err := s.store.RequeueStaleJobs(ctx, olderThan, s.config.BatchSize)
	if err != nil {
		log.Printf("sweeper: failed to requeue stale jobs: %v", err)
		return
	}

	if s.metrics != nil {
		s.metrics.StaleJobsRequeued(requeued)
	}

	if requeued > 0 {
		log.Printf("sweeper: requeued %d stale jobs (claimed before %s)",
			requeued, olderThan.Format(time.RFC3339))
	}
}
