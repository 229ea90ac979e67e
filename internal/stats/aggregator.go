// Package stats maintains per-rule execution counters.
//
// Counters are updated with additive store operations (increments), not
// read-modify-write round trips, so concurrent job resolutions for the
// same rule never lose updates.
package stats

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/flowrule/flowrule/internal/domain"
)

type Store interface {
	// IncrementRuleStats applies an additive update: execution_count
	// always +1, success_count +1 for completed, failure_count +1 for
	// failed, and last_executed set to now.
	IncrementRuleStats(ctx context.Context, ruleID uuid.UUID, outcome domain.Outcome, now time.Time) error
}

type Aggregator struct {
	store Store
	clock func() time.Time
}

func New(store Store) *Aggregator {
	return &Aggregator{store: store, clock: time.Now}
}

// RecordOutcome updates the rule's counters for a chain-terminal
// resolution. Deferred and retried outcomes carry no stats: the chain is
// still in flight and must count exactly once when it finishes.
// Skipped increments execution_count only.
func (a *Aggregator) RecordOutcome(ctx context.Context, ruleID uuid.UUID, outcome domain.Outcome) error {
	if !outcome.TerminalForChain() {
		return nil
	}
	return a.store.IncrementRuleStats(ctx, ruleID, outcome, a.clock().UTC())
}
