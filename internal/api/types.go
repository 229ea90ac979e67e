package api

import (
	"time"

	"github.com/flowrule/flowrule/internal/domain"
)

type TriggerRequest struct {
	ScopeID    string `json:"scope_id"`
	Kind       string `json:"kind"`
	PipelineID string `json:"pipeline_id"`
	StageID    string `json:"stage_id,omitempty"`
	EntityID   string `json:"entity_id"`
	EntityType string `json:"entity_type,omitempty"`
}

type TriggerResponse struct {
	JobsEnqueued int `json:"jobs_enqueued"`
}

type RuleResponse struct {
	ID             string          `json:"id"`
	ScopeID        string          `json:"scope_id"`
	Name           string          `json:"name"`
	IsActive       bool            `json:"is_active"`
	TriggerKind    string          `json:"trigger_kind"`
	PipelineID     string          `json:"pipeline_id"`
	StageID        string          `json:"stage_id,omitempty"`
	Actions        []domain.Action `json:"actions"`
	ExecutionCount int64           `json:"execution_count"`
	SuccessCount   int64           `json:"success_count"`
	FailureCount   int64           `json:"failure_count"`
	LastExecuted   string          `json:"last_executed,omitempty"`
	CreatedAt      string          `json:"created_at"`
}

type JobResponse struct {
	ID           string `json:"id"`
	RuleID       string `json:"rule_id"`
	Status       string `json:"status"`
	Attempts     int    `json:"attempts"`
	ActionIndex  int    `json:"action_index"`
	ScheduledFor string `json:"scheduled_for"`
	LastError    string `json:"last_error,omitempty"`
	CreatedAt    string `json:"created_at"`
}

type ListJobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func ruleResponseFrom(rule domain.AutomationRule) RuleResponse {
	resp := RuleResponse{
		ID:             rule.ID.String(),
		ScopeID:        rule.ScopeID.String(),
		Name:           rule.Name,
		IsActive:       rule.IsActive,
		TriggerKind:    string(rule.Trigger.Kind),
		PipelineID:     rule.Trigger.PipelineID,
		StageID:        rule.Trigger.StageID,
		Actions:        rule.Actions,
		ExecutionCount: rule.Stats.ExecutionCount,
		SuccessCount:   rule.Stats.SuccessCount,
		FailureCount:   rule.Stats.FailureCount,
		CreatedAt:      formatTime(rule.CreatedAt),
	}
	if rule.Stats.LastExecuted != nil {
		resp.LastExecuted = formatTime(*rule.Stats.LastExecuted)
	}
	return resp
}

func jobResponseFrom(job domain.QueueJob) JobResponse {
	return JobResponse{
		ID:           job.ID.String(),
		RuleID:       job.RuleID.String(),
		Status:       string(job.Status),
		Attempts:     job.Attempts,
		ActionIndex:  job.ActionIndex,
		ScheduledFor: formatTime(job.ScheduledFor),
		LastError:    job.LastError,
		CreatedAt:    formatTime(job.CreatedAt),
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
