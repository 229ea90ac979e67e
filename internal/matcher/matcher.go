// Package matcher turns incoming business events into queue jobs.
//
// Matching never executes actions: it only snapshots the event and
// enqueues one pending job per matching rule, in a single transaction so
// a store failure leaves nothing partially enqueued and the caller can
// retry the whole notification.
package matcher

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/flowrule/flowrule/internal/domain"
)

type Store interface {
	// GetActiveRules returns the active, non-template rules in the scope
	// whose trigger kind equals kind. Implementations MUST treat the
	// stage-entered/enter-stage spellings as the same kind.
	GetActiveRules(ctx context.Context, scopeID uuid.UUID, kind domain.TriggerKind) ([]domain.AutomationRule, error)

	// EnqueueJobs inserts all jobs in one transaction; on error nothing
	// is enqueued.
	EnqueueJobs(ctx context.Context, jobs []domain.QueueJob) error
}

// MetricsSink defines the interface for recording matcher metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	TriggerReceived(kind string)
	JobsEnqueued(count int)
	MatchError()
}

type Matcher struct {
	store   Store
	clock   func() time.Time
	metrics MetricsSink // optional, nil = disabled
}

func New(store Store) *Matcher {
	return &Matcher{
		store: store,
		clock: time.Now,
	}
}

// WithMetrics attaches a metrics sink to the matcher.
func (m *Matcher) WithMetrics(sink MetricsSink) *Matcher {
	m.metrics = sink
	return m
}

// WithClock replaces the wall clock for deterministic scheduling in
// tests.
func (m *Matcher) WithClock(clock func() time.Time) *Matcher {
	m.clock = clock
	return m
}

// Notify matches the event against the rules in its scope and enqueues
// one job per match. Returns the number of jobs enqueued. Distinct
// events matching the same rule each produce their own job; dedup is the
// caller's responsibility.
func (m *Matcher) Notify(ctx context.Context, event domain.TriggerEvent) (int, error) {
	now := m.clock().UTC()
	if event.OccurredAt.IsZero() {
		event.OccurredAt = now
	}

	if m.metrics != nil {
		m.metrics.TriggerReceived(string(event.Kind))
	}

	rules, err := m.store.GetActiveRules(ctx, event.ScopeID, event.Kind)
	if err != nil {
		if m.metrics != nil {
			m.metrics.MatchError()
		}
		return 0, fmt.Errorf("get rules: %w", err)
	}

	var jobs []domain.QueueJob
	for _, rule := range rules {
		if !rule.Trigger.Matches(event) {
			continue
		}
		jobs = append(jobs, domain.QueueJob{
			ID:           uuid.New(),
			RuleID:       rule.ID,
			Trigger:      event,
			Status:       domain.JobStatusPending,
			ScheduledFor: now,
			CreatedAt:    now,
		})
	}

	if len(jobs) == 0 {
		return 0, nil
	}

	if err := m.store.EnqueueJobs(ctx, jobs); err != nil {
		if m.metrics != nil {
			m.metrics.MatchError()
		}
		return 0, fmt.Errorf("enqueue jobs: %w", err)
	}

	if m.metrics != nil {
		m.metrics.JobsEnqueued(len(jobs))
	}

	log.Printf("matcher: scope=%s kind=%s stage=%s matched=%d", event.ScopeID, event.Kind, event.StageID, len(jobs))
	return len(jobs), nil
}
