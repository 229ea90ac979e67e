package domain

import (
	"time"

	"github.com/google/uuid"
)

// TriggerKind identifies the class of business event a rule reacts to.
type TriggerKind string

const (
	// TriggerStageEntered fires when an entity enters a pipeline stage.
	TriggerStageEntered TriggerKind = "stage-entered"

	// TriggerEnterStage is a legacy spelling of TriggerStageEntered kept for
	// rules authored before the rename. The two kinds match each other.
	TriggerEnterStage TriggerKind = "enter-stage"

	TriggerCustom TriggerKind = "custom"
)

// NormalizeTriggerKind collapses legacy aliases onto the canonical kind.
func NormalizeTriggerKind(k TriggerKind) TriggerKind {
	if k == TriggerEnterStage {
		return TriggerStageEntered
	}
	return k
}

// Trigger is the matching key of a rule: an event kind plus optional
// pipeline/stage constraints. An empty StageID matches any stage of
// the kind.
type Trigger struct {
	Kind       TriggerKind `json:"kind"`
	PipelineID string      `json:"pipeline_id,omitempty"`
	StageID    string      `json:"stage_id,omitempty"`
}

// Matches reports whether the trigger selects the given event.
func (t Trigger) Matches(ev TriggerEvent) bool {
	if NormalizeTriggerKind(t.Kind) != NormalizeTriggerKind(ev.Kind) {
		return false
	}
	if t.StageID != "" && t.StageID != ev.StageID {
		return false
	}
	return true
}

// ExecutionStats are the per-rule outcome counters. They are only ever
// incremented; the engine never resets them.
type ExecutionStats struct {
	ExecutionCount int64      `json:"execution_count"`
	SuccessCount   int64      `json:"success_count"`
	FailureCount   int64      `json:"failure_count"`
	LastExecuted   *time.Time `json:"last_executed,omitempty"`
}

// AutomationRule binds a trigger to an ordered action chain within one
// location scope. Rules are created and edited by the authoring API;
// the engine only reads definitions and increments Stats.
type AutomationRule struct {
	ID      uuid.UUID
	ScopeID uuid.UUID

	Name       string
	IsActive   bool
	IsTemplate bool

	Trigger Trigger
	Actions []Action

	Stats ExecutionStats

	CreatedAt time.Time
	UpdatedAt time.Time
}
