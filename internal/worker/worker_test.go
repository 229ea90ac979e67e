package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/flowrule/flowrule/internal/domain"
)

// queueStore is an in-memory job queue with the same claim semantics as
// the Postgres store: pending, under the attempt cap, due, one winner.
type queueStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*domain.QueueJob

	claimErr error
}

func newQueueStore() *queueStore {
	return &queueStore{jobs: make(map[uuid.UUID]*domain.QueueJob)}
}

func (s *queueStore) add(job domain.QueueJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := job
	s.jobs[job.ID] = &copied
}

func (s *queueStore) ClaimDueJobs(ctx context.Context, limit, maxAttempts int, now time.Time) ([]domain.QueueJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimErr != nil {
		return nil, s.claimErr
	}

	var claimed []domain.QueueJob
	for _, job := range s.jobs {
		if len(claimed) >= limit {
			break
		}
		if job.Status != domain.JobStatusPending {
			continue
		}
		if job.Attempts >= maxAttempts {
			continue
		}
		if job.ScheduledFor.After(now) {
			continue
		}
		job.Status = domain.JobStatusProcessing
		job.Attempts++
		claimed = append(claimed, *job)
	}
	return claimed, nil
}

func (s *queueStore) status(id uuid.UUID) domain.JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id].Status
}

// recordingExecutor collects executed jobs.
type recordingExecutor struct {
	mu       sync.Mutex
	executed []domain.QueueJob
}

func (e *recordingExecutor) Execute(ctx context.Context, job domain.QueueJob) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.executed = append(e.executed, job)
	return nil
}

func (e *recordingExecutor) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.executed)
}

func pendingJob(scheduledFor time.Time) domain.QueueJob {
	return domain.QueueJob{
		ID:           uuid.New(),
		RuleID:       uuid.New(),
		Status:       domain.JobStatusPending,
		ScheduledFor: scheduledFor,
		CreatedAt:    scheduledFor,
	}
}

func TestRunPassExecutesDueJobs(t *testing.T) {
	store := newQueueStore()
	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		store.add(pendingJob(now.Add(-time.Minute)))
	}
	exec := &recordingExecutor{}

	w := New(DefaultConfig(), store, exec)
	n, err := w.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass() error = %v", err)
	}
	if n != 5 {
		t.Errorf("RunPass() = %d, want 5", n)
	}
	if exec.count() != 5 {
		t.Errorf("executed %d jobs, want 5", exec.count())
	}

	// All executed jobs carry post-claim state.
	exec.mu.Lock()
	defer exec.mu.Unlock()
	for _, job := range exec.executed {
		if job.Status != domain.JobStatusProcessing {
			t.Errorf("job %s status = %q, want processing", job.ID, job.Status)
		}
		if job.Attempts != 1 {
			t.Errorf("job %s attempts = %d, want 1", job.ID, job.Attempts)
		}
	}
}

func TestRunPassSkipsFutureJobs(t *testing.T) {
	store := newQueueStore()
	now := time.Now().UTC()
	due := pendingJob(now.Add(-time.Second))
	future := pendingJob(now.Add(time.Hour))
	store.add(due)
	store.add(future)
	exec := &recordingExecutor{}

	w := New(DefaultConfig(), store, exec)
	n, err := w.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass() error = %v", err)
	}
	if n != 1 {
		t.Errorf("RunPass() = %d, want 1", n)
	}
	if got := store.status(future.ID); got != domain.JobStatusPending {
		t.Errorf("future job status = %q, want pending", got)
	}
}

func TestRunPassSkipsExhaustedJobs(t *testing.T) {
	store := newQueueStore()
	now := time.Now().UTC()
	exhausted := pendingJob(now.Add(-time.Minute))
	exhausted.Attempts = 3
	store.add(exhausted)
	exec := &recordingExecutor{}

	w := New(Config{MaxAttempts: 3}, store, exec)
	n, err := w.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass() error = %v", err)
	}
	if n != 0 {
		t.Errorf("RunPass() = %d, want 0 for a job at the attempt cap", n)
	}
}

func TestRunPassRespectsBatchSize(t *testing.T) {
	store := newQueueStore()
	now := time.Now().UTC()
	for i := 0; i < 10; i++ {
		store.add(pendingJob(now.Add(-time.Minute)))
	}
	exec := &recordingExecutor{}

	w := New(Config{BatchSize: 3}, store, exec)
	n, err := w.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass() error = %v", err)
	}
	if n != 3 {
		t.Errorf("RunPass() = %d, want 3", n)
	}
}

func TestRunPassClaimError(t *testing.T) {
	store := newQueueStore()
	store.claimErr = errors.New("db down")
	exec := &recordingExecutor{}

	w := New(DefaultConfig(), store, exec)
	if _, err := w.RunPass(context.Background()); err == nil {
		t.Fatal("RunPass() should propagate claim failure")
	}
	if exec.count() != 0 {
		t.Error("nothing should execute when the claim fails")
	}
}

func TestConcurrentPassesClaimEachJobOnce(t *testing.T) {
	store := newQueueStore()
	now := time.Now().UTC()
	job := pendingJob(now.Add(-time.Minute))
	store.add(job)
	exec := &recordingExecutor{}

	w := New(DefaultConfig(), store, exec)

	const passes = 16
	var wg sync.WaitGroup
	totals := make([]int, passes)
	for i := 0; i < passes; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			n, err := w.RunPass(context.Background())
			if err != nil {
				t.Errorf("RunPass() error = %v", err)
			}
			totals[i] = n
		}(i)
	}
	wg.Wait()

	sum := 0
	for _, n := range totals {
		sum += n
	}
	if sum != 1 {
		t.Errorf("%d passes claimed the job %d times, want exactly 1", passes, sum)
	}
	if exec.count() != 1 {
		t.Errorf("job executed %d times, want exactly 1", exec.count())
	}
}

func TestNewNormalizesConfig(t *testing.T) {
	w := New(Config{}, newQueueStore(), &recordingExecutor{})
	if w.config.BatchSize <= 0 || w.config.MaxAttempts <= 0 || w.config.Parallelism <= 0 {
		t.Errorf("zero config should be normalized, got %+v", w.config)
	}
}
