package domain

import "time"

// ActionType enumerates the known action kinds. An Action whose type is
// not in this set is a permanent execution failure, never silently
// ignored.
type ActionType string

const (
	ActionSendSMS            ActionType = "send-sms"
	ActionSendEmail          ActionType = "send-email"
	ActionCreateTask         ActionType = "create-task"
	ActionTransitionPipeline ActionType = "transition-pipeline"
	ActionMoveToStage        ActionType = "move-to-stage"
)

// DelayUnit values accepted in action delay configs.
const (
	DelayUnitSeconds = "seconds"
	DelayUnitMinutes = "minutes"
	DelayUnitHours   = "hours"
	DelayUnitDays    = "days"
)

// Delay postpones an action relative to the completion of its
// predecessor in the chain.
type Delay struct {
	Amount int    `json:"amount"`
	Unit   string `json:"unit"`
}

// Valid reports whether both fields are present. The authoring API drops
// invalid delays at save time; the executor re-checks so a malformed row
// executes immediately rather than with a guessed delay.
func (d *Delay) Valid() bool {
	return d != nil && d.Amount > 0 && d.Unit != ""
}

// Duration converts the delay to a time.Duration. Callers must check
// Valid first; an invalid delay converts to zero.
func (d *Delay) Duration() time.Duration {
	if !d.Valid() {
		return 0
	}
	switch d.Unit {
	case DelayUnitSeconds:
		return time.Duration(d.Amount) * time.Second
	case DelayUnitMinutes:
		return time.Duration(d.Amount) * time.Minute
	case DelayUnitHours:
		return time.Duration(d.Amount) * time.Hour
	case DelayUnitDays:
		return time.Duration(d.Amount) * 24 * time.Hour
	default:
		return 0
	}
}

// Action is one step of a rule's action chain. Exactly one config field
// matching Type is set; Transition serves both transition-pipeline and
// move-to-stage.
type Action struct {
	ID    string     `json:"id"`
	Type  ActionType `json:"type"`
	Delay *Delay     `json:"delay,omitempty"`

	SendSMS    *SendSMSConfig    `json:"send_sms,omitempty"`
	SendEmail  *SendEmailConfig  `json:"send_email,omitempty"`
	CreateTask *CreateTaskConfig `json:"create_task,omitempty"`
	Transition *TransitionConfig `json:"transition,omitempty"`
}

type SendSMSConfig struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

type SendEmailConfig struct {
	To       string `json:"to"`
	Subject  string `json:"subject"`
	HTMLBody string `json:"html_body"`
}

type CreateTaskConfig struct {
	Title    string     `json:"title"`
	Assignee string     `json:"assignee"`
	DueAt    *time.Time `json:"due_at,omitempty"`
}

// TransitionConfig moves the triggering entity. move-to-stage leaves
// ToPipelineID empty.
type TransitionConfig struct {
	ToPipelineID string `json:"to_pipeline_id,omitempty"`
	ToStageID    string `json:"to_stage_id"`
}
