package domain

import (
	"time"

	"github.com/google/uuid"
)

// TriggerEvent is the snapshot of a business event carried by a queue
// job. It is copied at match time, so rule edits after enqueue do not
// alter in-flight trigger context.
type TriggerEvent struct {
	ScopeID    uuid.UUID   `json:"scope_id"`
	Kind       TriggerKind `json:"kind"`
	PipelineID string      `json:"pipeline_id,omitempty"`
	StageID    string      `json:"stage_id,omitempty"`

	EntityID   string `json:"entity_id,omitempty"`
	EntityType string `json:"entity_type,omitempty"`

	OccurredAt time.Time `json:"occurred_at"`
}

// Outcome describes how a claimed job resolved within one worker pass.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"

	// OutcomeDeferred means the chain continues via a delayed successor
	// job; the current job completed without finishing the chain.
	OutcomeDeferred Outcome = "deferred"

	// OutcomeRetried means the attempt failed transiently and the job
	// returned to pending with a backoff.
	OutcomeRetried Outcome = "retried"
)

// TerminalForChain reports whether the outcome ends the whole action
// chain rather than a single attempt or segment.
func (o Outcome) TerminalForChain() bool {
	return o == OutcomeCompleted || o == OutcomeSkipped || o == OutcomeFailed
}

// JobOutcome is published on the outcome bus for best-effort consumers.
type JobOutcome struct {
	JobID   uuid.UUID
	RuleID  uuid.UUID
	ScopeID uuid.UUID
	Outcome Outcome
	At      time.Time
}
