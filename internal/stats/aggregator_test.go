package stats

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/flowrule/flowrule/internal/domain"
)

type mockStore struct {
	mu    sync.Mutex
	calls []call
}

type call struct {
	RuleID  uuid.UUID
	Outcome domain.Outcome
	Now     time.Time
}

func (s *mockStore) IncrementRuleStats(ctx context.Context, ruleID uuid.UUID, outcome domain.Outcome, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call{RuleID: ruleID, Outcome: outcome, Now: now})
	return nil
}

func (s *mockStore) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func TestRecordOutcomeTerminal(t *testing.T) {
	store := &mockStore{}
	agg := New(store)
	ruleID := uuid.New()

	for _, outcome := range []domain.Outcome{domain.OutcomeCompleted, domain.OutcomeSkipped, domain.OutcomeFailed} {
		if err := agg.RecordOutcome(context.Background(), ruleID, outcome); err != nil {
			t.Fatalf("RecordOutcome(%q) error = %v", outcome, err)
		}
	}

	if got := store.callCount(); got != 3 {
		t.Errorf("store called %d times, want 3", got)
	}
}

func TestRecordOutcomeIgnoresIntermediate(t *testing.T) {
	store := &mockStore{}
	agg := New(store)
	ruleID := uuid.New()

	for _, outcome := range []domain.Outcome{domain.OutcomeDeferred, domain.OutcomeRetried} {
		if err := agg.RecordOutcome(context.Background(), ruleID, outcome); err != nil {
			t.Fatalf("RecordOutcome(%q) error = %v", outcome, err)
		}
	}

	if got := store.callCount(); got != 0 {
		t.Errorf("intermediate outcomes must not touch stats, got %d calls", got)
	}
}

func TestRecordOutcomeUsesClock(t *testing.T) {
	store := &mockStore{}
	agg := New(store)
	fixed := time.Date(2026, 5, 2, 8, 30, 0, 0, time.UTC)
	agg.clock = func() time.Time { return fixed }

	if err := agg.RecordOutcome(context.Background(), uuid.New(), domain.OutcomeCompleted); err != nil {
		t.Fatalf("RecordOutcome() error = %v", err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.calls) != 1 {
		t.Fatalf("store called %d times, want 1", len(store.calls))
	}
	if !store.calls[0].Now.Equal(fixed) {
		t.Errorf("now = %v, want %v", store.calls[0].Now, fixed)
	}
}
