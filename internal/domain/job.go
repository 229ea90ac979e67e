package domain

import (
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusSkipped    JobStatus = "skipped"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether the status can never change again.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusSkipped || s == JobStatusFailed
}

// QueueJob is one unit of rule execution: either a fresh rule match or a
// continuation resuming a delayed action chain. At most one worker owns
// a job at a time, enforced by the store's atomic pending→processing
// claim.
type QueueJob struct {
	ID     uuid.UUID
	RuleID uuid.UUID

	// Trigger is a snapshot of the originating event, not a live
	// reference.
	Trigger TriggerEvent

	Status JobStatus

	// Attempts counts claims, incremented atomically with each claim.
	Attempts int

	// ActionIndex is the cursor into the rule's action chain.
	// DelayHonored marks that the delay of the action at ActionIndex was
	// already served by this job's ScheduledFor.
	ActionIndex  int
	DelayHonored bool

	ScheduledFor time.Time
	ClaimedAt    *time.Time
	LastError    string

	CreatedAt time.Time
}
