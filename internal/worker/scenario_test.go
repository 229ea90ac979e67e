package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/flowrule/flowrule/internal/domain"
	"github.com/flowrule/flowrule/internal/executor"
	"github.com/flowrule/flowrule/internal/matcher"
	"github.com/flowrule/flowrule/internal/stats"
	"github.com/flowrule/flowrule/internal/testutil"
)

// engineStore is an in-memory rule and queue store for end-to-end
// scenarios: the matcher enqueues into it, the worker claims from it
// and the executor resolves against it, with the same claim and
// transition guards as the Postgres store.
type engineStore struct {
	mu    sync.Mutex
	rules map[uuid.UUID]domain.AutomationRule
	jobs  map[uuid.UUID]*domain.QueueJob
}

func newEngineStore() *engineStore {
	return &engineStore{
		rules: make(map[uuid.UUID]domain.AutomationRule),
		jobs:  make(map[uuid.UUID]*domain.QueueJob),
	}
}

func (s *engineStore) addRule(rule domain.AutomationRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[rule.ID] = rule
}

func (s *engineStore) GetActiveRules(ctx context.Context, scopeID uuid.UUID, kind domain.TriggerKind) ([]domain.AutomationRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := domain.NormalizeTriggerKind(kind)
	var out []domain.AutomationRule
	for _, rule := range s.rules {
		if rule.ScopeID != scopeID || !rule.IsActive || rule.IsTemplate {
			continue
		}
		if domain.NormalizeTriggerKind(rule.Trigger.Kind) != want {
			continue
		}
		out = append(out, rule)
	}
	return out, nil
}

func (s *engineStore) GetRuleByID(ctx context.Context, ruleID uuid.UUID) (domain.AutomationRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rule, ok := s.rules[ruleID]
	if !ok {
		return domain.AutomationRule{}, executor.ErrRuleNotFound
	}
	return rule, nil
}

func (s *engineStore) EnqueueJobs(ctx context.Context, jobs []domain.QueueJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range jobs {
		copied := job
		s.jobs[job.ID] = &copied
	}
	return nil
}

func (s *engineStore) EnqueueJob(ctx context.Context, job domain.QueueJob) error {
	return s.EnqueueJobs(ctx, []domain.QueueJob{job})
}

func (s *engineStore) ClaimDueJobs(ctx context.Context, limit, maxAttempts int, now time.Time) ([]domain.QueueJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
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

func (s *engineStore) transition(jobID uuid.UUID, to domain.JobStatus) error {
	job, ok := s.jobs[jobID]
	if !ok || job.Status != domain.JobStatusProcessing {
		return executor.ErrJobNotProcessing
	}
	job.Status = to
	return nil
}

func (s *engineStore) CompleteJob(ctx context.Context, jobID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transition(jobID, domain.JobStatusCompleted)
}

func (s *engineStore) SkipJob(ctx context.Context, jobID uuid.UUID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transition(jobID, domain.JobStatusSkipped); err != nil {
		return err
	}
	s.jobs[jobID].LastError = reason
	return nil
}

func (s *engineStore) FailJob(ctx context.Context, jobID uuid.UUID, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transition(jobID, domain.JobStatusFailed); err != nil {
		return err
	}
	s.jobs[jobID].LastError = lastError
	return nil
}

func (s *engineStore) RetryJob(ctx context.Context, jobID uuid.UUID, actionIndex int, delayHonored bool, lastError string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transition(jobID, domain.JobStatusPending); err != nil {
		return err
	}
	job := s.jobs[jobID]
	job.ActionIndex = actionIndex
	job.DelayHonored = delayHonored
	job.LastError = lastError
	job.ScheduledFor = at
	return nil
}

func (s *engineStore) IncrementRuleStats(ctx context.Context, ruleID uuid.UUID, outcome domain.Outcome, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rule := s.rules[ruleID]
	rule.Stats.ExecutionCount++
	switch outcome {
	case domain.OutcomeCompleted:
		rule.Stats.SuccessCount++
	case domain.OutcomeFailed:
		rule.Stats.FailureCount++
	}
	rule.Stats.LastExecuted = &now
	s.rules[ruleID] = rule
	return nil
}

func (s *engineStore) ruleStats(ruleID uuid.UUID) domain.ExecutionStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rules[ruleID].Stats
}

func (s *engineStore) countJobs(status domain.JobStatus) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, job := range s.jobs {
		if job.Status == status {
			n++
		}
	}
	return n
}

// chainCollaborators records dispatches in order.
type chainCollaborators struct {
	mu    sync.Mutex
	calls []string
}

func (c *chainCollaborators) SendSMS(ctx context.Context, to, body string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, "sms:"+to)
	return nil
}

func (c *chainCollaborators) CreateTask(ctx context.Context, title, assignee string, dueAt *time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, "task:"+title)
	return nil
}

func (c *chainCollaborators) callLog() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.calls))
	copy(out, c.calls)
	return out
}

// TestStageEnteredChainAcrossPasses walks a two-step rule through the
// whole engine: event in, sms out on the first pass, a five minute gap
// the claim respects, task out on the second pass, counters bumped
// exactly once for the chain.
func TestStageEnteredChainAcrossPasses(t *testing.T) {
	clock := testutil.NewFakeClock(time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC))
	ctx := testutil.TestContext(t)

	store := newEngineStore()
	rule := domain.AutomationRule{
		ID:       testutil.MustParseUUID("00000000-0000-0000-0000-00000000000a"),
		ScopeID:  testutil.MustParseUUID("00000000-0000-0000-0000-00000000000b"),
		Name:     "stage welcome",
		IsActive: true,
		Trigger:  domain.Trigger{Kind: domain.TriggerStageEntered, PipelineID: "p1", StageID: "stage-b"},
		Actions: []domain.Action{
			{
				ID:      "a1",
				Type:    domain.ActionSendSMS,
				SendSMS: &domain.SendSMSConfig{To: "+1555", Body: "welcome"},
			},
			{
				ID:         "a2",
				Type:       domain.ActionCreateTask,
				Delay:      &domain.Delay{Amount: 5, Unit: domain.DelayUnitMinutes},
				CreateTask: &domain.CreateTaskConfig{Title: "follow up", Assignee: "rep-1"},
			},
		},
	}
	store.addRule(rule)

	collab := &chainCollaborators{}
	exec := executor.New(store, store, stats.New(store), executor.Collaborators{
		Messenger: collab,
		Tasks:     collab,
	}).WithClock(clock.Now)
	m := matcher.New(store).WithClock(clock.Now)
	w := New(DefaultConfig(), store, exec).WithClock(clock.Now)

	enqueued, err := m.Notify(ctx, domain.TriggerEvent{
		ScopeID:    rule.ScopeID,
		Kind:       domain.TriggerStageEntered,
		PipelineID: "p1",
		StageID:    "stage-b",
		EntityID:   "contact-7",
	})
	if err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if enqueued != 1 {
		t.Fatalf("Notify() enqueued %d jobs, want 1", enqueued)
	}

	// First pass sends the sms and defers the task behind its delay.
	n, err := w.RunPass(ctx)
	if err != nil {
		t.Fatalf("RunPass() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("first pass claimed %d jobs, want 1", n)
	}
	if calls := collab.callLog(); len(calls) != 1 || calls[0] != "sms:+1555" {
		t.Fatalf("calls after first pass = %v, want only the sms", calls)
	}
	if got := store.countJobs(domain.JobStatusPending); got != 1 {
		t.Fatalf("%d pending continuations, want 1", got)
	}

	// The continuation is invisible to a claim until the delay elapses.
	clock.Advance(4 * time.Minute)
	n, err = w.RunPass(ctx)
	if err != nil {
		t.Fatalf("RunPass() error = %v", err)
	}
	if n != 0 {
		t.Fatalf("pass before the delay elapsed claimed %d jobs, want 0", n)
	}
	if calls := collab.callLog(); len(calls) != 1 {
		t.Fatalf("calls before the delay elapsed = %v, the task ran early", calls)
	}

	// Once the five minutes are up, the task runs and the chain ends.
	clock.Advance(time.Minute)
	n, err = w.RunPass(ctx)
	if err != nil {
		t.Fatalf("RunPass() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("second pass claimed %d jobs, want 1", n)
	}
	calls := collab.callLog()
	if len(calls) != 2 || calls[1] != "task:follow up" {
		t.Fatalf("calls after second pass = %v, want sms then task", calls)
	}
	if got := store.countJobs(domain.JobStatusCompleted); got != 2 {
		t.Errorf("%d completed jobs, want 2 (original and continuation)", got)
	}
	if got := store.countJobs(domain.JobStatusPending); got != 0 {
		t.Errorf("%d jobs still pending after the chain finished", got)
	}

	// The two-job chain counts exactly once.
	got := store.ruleStats(rule.ID)
	if got.ExecutionCount != 1 {
		t.Errorf("execution count = %d, want 1 for the whole chain", got.ExecutionCount)
	}
	if got.SuccessCount != 1 || got.FailureCount != 0 {
		t.Errorf("success/failure = %d/%d, want 1/0", got.SuccessCount, got.FailureCount)
	}
}
