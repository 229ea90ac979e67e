// Package executor runs the action chain of a claimed queue job.
//
// The executor owns only the job record: every mutation of the
// triggering business entity happens inside the dispatched collaborator.
// A claimed job always resolves to a terminal-for-this-attempt state
// before Execute returns; nothing is left dangling in processing.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/flowrule/flowrule/internal/domain"
	"github.com/flowrule/flowrule/internal/retry"
)

// ErrRuleNotFound is returned by RuleStore implementations when the
// job's rule no longer exists. The job is then skipped, not retried.
var ErrRuleNotFound = errors.New("rule not found")

// ErrJobNotProcessing is returned by JobStore implementations when a
// status mutation finds the job outside the processing state. The write
// is rejected so terminal states stay immutable; callers treat it as an
// already-resolved job (safe on replay).
var ErrJobNotProcessing = errors.New("job is not in processing state")

type RuleStore interface {
	GetRuleByID(ctx context.Context, ruleID uuid.UUID) (domain.AutomationRule, error)
}

// JobStore mutations are atomic conditional updates guarded by
// status='processing'; see ErrJobNotProcessing.
type JobStore interface {
	CompleteJob(ctx context.Context, jobID uuid.UUID) error
	SkipJob(ctx context.Context, jobID uuid.UUID, reason string) error
	FailJob(ctx context.Context, jobID uuid.UUID, lastError string) error

	// RetryJob returns the job to pending, scheduled for at, with its
	// action cursor moved to actionIndex so the next claim resumes at
	// the failed action instead of re-dispatching the ones that already
	// succeeded.
	RetryJob(ctx context.Context, jobID uuid.UUID, actionIndex int, delayHonored bool, lastError string, at time.Time) error

	// EnqueueJob inserts a continuation job for a delayed action.
	EnqueueJob(ctx context.Context, job domain.QueueJob) error
}

// StatsRecorder receives chain-terminal resolutions.
type StatsRecorder interface {
	RecordOutcome(ctx context.Context, ruleID uuid.UUID, outcome domain.Outcome) error
}

// OutcomeSink receives per-attempt resolutions for best-effort
// consumers. Emit must not block.
type OutcomeSink interface {
	Emit(ctx context.Context, outcome domain.JobOutcome) error
}

// MetricsSink defines the interface for recording executor metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	ActionDispatched(actionType string, duration time.Duration)
	JobResolved(outcome string)
	RetryScheduled(attempt int)
	JobsInFlightIncr()
	JobsInFlightDecr()
}

// Collaborator interfaces. Implementations report failures as errors
// marked retry.Transient or retry.Permanent; an unmarked error is
// retried as transient.

type Messenger interface {
	SendSMS(ctx context.Context, to, body string) error
}

type Mailer interface {
	SendEmail(ctx context.Context, to, subject, htmlBody string) error
}

type TaskCreator interface {
	CreateTask(ctx context.Context, title, assignee string, dueAt *time.Time) error
}

type PipelineClient interface {
	TransitionPipeline(ctx context.Context, entityID, toPipelineID, toStageID string) error
	MoveToStage(ctx context.Context, entityID, stageID string) error
}

// Collaborators bundles the side-effect clients by action family. A nil
// entry makes the corresponding action types fail permanently.
type Collaborators struct {
	Messenger Messenger
	Mailer    Mailer
	Tasks     TaskCreator
	Pipeline  PipelineClient
}

type Executor struct {
	rules    RuleStore
	jobs     JobStore
	stats    StatsRecorder
	collab   Collaborators
	policy   retry.Policy
	clock    func() time.Time
	metrics  MetricsSink // optional, nil = disabled
	outcomes OutcomeSink // optional, nil = disabled
}

func New(rules RuleStore, jobs JobStore, stats StatsRecorder, collab Collaborators) *Executor {
	return &Executor{
		rules:  rules,
		jobs:   jobs,
		stats:  stats,
		collab: collab,
		policy: retry.NewPolicy(),
		clock:  time.Now,
	}
}

// WithPolicy replaces the default retry policy.
func (e *Executor) WithPolicy(p retry.Policy) *Executor {
	e.policy = p
	return e
}

// WithMetrics attaches a metrics sink to the executor.
func (e *Executor) WithMetrics(sink MetricsSink) *Executor {
	e.metrics = sink
	return e
}

// WithOutcomes attaches an outcome sink to the executor.
func (e *Executor) WithOutcomes(sink OutcomeSink) *Executor {
	e.outcomes = sink
	return e
}

// WithClock replaces the wall clock for deterministic scheduling in
// tests.
func (e *Executor) WithClock(clock func() time.Time) *Executor {
	e.clock = clock
	return e
}

// Execute resolves one claimed job. Job faults are recorded on the job
// itself and never returned; the error return is reserved for store
// faults that prevented resolution.
func (e *Executor) Execute(ctx context.Context, job domain.QueueJob) error {
	if e.metrics != nil {
		e.metrics.JobsInFlightIncr()
		defer e.metrics.JobsInFlightDecr()
	}

	rule, err := e.rules.GetRuleByID(ctx, job.RuleID)
	if err != nil {
		if errors.Is(err, ErrRuleNotFound) {
			return e.skip(ctx, job, "rule deleted")
		}
		// Rule store unreachable: retryable, not the job's fault. No
		// action ran, so the cursor stays where it was.
		return e.resolveFailure(ctx, job, job.ActionIndex, job.DelayHonored, retry.Transient(fmt.Errorf("get rule: %w", err)))
	}

	// Re-validate at execution time. Deactivating a rule does not cancel
	// queued jobs eagerly; this check is the cancellation mechanism.
	if !rule.IsActive {
		return e.skip(ctx, job, "rule inactive")
	}
	if !rule.Trigger.Matches(job.Trigger) {
		return e.skip(ctx, job, "trigger no longer matches")
	}

	for i := job.ActionIndex; i < len(rule.Actions); i++ {
		action := rule.Actions[i]

		delayPending := action.Delay.Valid() && !(i == job.ActionIndex && job.DelayHonored)
		if delayPending {
			return e.deferAction(ctx, job, action, i)
		}

		start := e.clock()
		err := e.dispatch(ctx, action, job.Trigger)
		if e.metrics != nil {
			e.metrics.ActionDispatched(string(action.Type), e.clock().Sub(start))
		}
		if err != nil {
			// Resume at the failed action. Its delay, if it had one, was
			// served before this dispatch, so it is not waited again.
			return e.resolveFailure(ctx, job, i, true, fmt.Errorf("action %s (%s): %w", action.ID, action.Type, err))
		}
	}

	if err := e.jobs.CompleteJob(ctx, job.ID); err != nil {
		if errors.Is(err, ErrJobNotProcessing) {
			log.Printf("executor: job=%s already resolved, skipping completion", job.ID)
			return nil
		}
		return fmt.Errorf("complete job: %w", err)
	}
	e.recordOutcome(ctx, job, domain.OutcomeCompleted)
	log.Printf("executor: job=%s rule=%s completed", job.ID, job.RuleID)
	return nil
}

// deferAction reschedules the chain: the action's delay has not been honored
// yet, so a continuation job is created at now+delay resuming at this
// action, and the current job completes. Enqueue happens before
// completion so a crash in between duplicates the continuation
// (at-least-once) rather than losing the chain.
func (e *Executor) deferAction(ctx context.Context, job domain.QueueJob, action domain.Action, index int) error {
	now := e.clock().UTC()

	cont := domain.QueueJob{
		ID:           uuid.New(),
		RuleID:       job.RuleID,
		Trigger:      job.Trigger,
		Status:       domain.JobStatusPending,
		ActionIndex:  index,
		DelayHonored: true,
		ScheduledFor: now.Add(action.Delay.Duration()),
		CreatedAt:    now,
	}

	if err := e.jobs.EnqueueJob(ctx, cont); err != nil {
		// The delay was never served; the retried attempt must defer
		// again rather than execute the action early.
		return e.resolveFailure(ctx, job, index, false, retry.Transient(fmt.Errorf("enqueue continuation: %w", err)))
	}

	if err := e.jobs.CompleteJob(ctx, job.ID); err != nil {
		if errors.Is(err, ErrJobNotProcessing) {
			log.Printf("executor: job=%s already resolved, skipping completion", job.ID)
			return nil
		}
		return fmt.Errorf("complete job: %w", err)
	}

	e.recordOutcome(ctx, job, domain.OutcomeDeferred)
	log.Printf("executor: job=%s rule=%s deferred action=%s until %s (continuation=%s)",
		job.ID, job.RuleID, action.ID, cont.ScheduledFor.Format(time.RFC3339), cont.ID)
	return nil
}

func (e *Executor) dispatch(ctx context.Context, action domain.Action, ev domain.TriggerEvent) error {
	switch action.Type {
	case domain.ActionSendSMS:
		if action.SendSMS == nil {
			return retry.Permanent(errors.New("missing send-sms config"))
		}
		if e.collab.Messenger == nil {
			return retry.Permanent(errors.New("no messenger collaborator configured"))
		}
		return e.collab.Messenger.SendSMS(ctx, action.SendSMS.To, action.SendSMS.Body)

	case domain.ActionSendEmail:
		if action.SendEmail == nil {
			return retry.Permanent(errors.New("missing send-email config"))
		}
		if e.collab.Mailer == nil {
			return retry.Permanent(errors.New("no mailer collaborator configured"))
		}
		return e.collab.Mailer.SendEmail(ctx, action.SendEmail.To, action.SendEmail.Subject, action.SendEmail.HTMLBody)

	case domain.ActionCreateTask:
		if action.CreateTask == nil {
			return retry.Permanent(errors.New("missing create-task config"))
		}
		if e.collab.Tasks == nil {
			return retry.Permanent(errors.New("no task collaborator configured"))
		}
		return e.collab.Tasks.CreateTask(ctx, action.CreateTask.Title, action.CreateTask.Assignee, action.CreateTask.DueAt)

	case domain.ActionTransitionPipeline:
		if action.Transition == nil {
			return retry.Permanent(errors.New("missing transition config"))
		}
		if e.collab.Pipeline == nil {
			return retry.Permanent(errors.New("no pipeline collaborator configured"))
		}
		return e.collab.Pipeline.TransitionPipeline(ctx, ev.EntityID, action.Transition.ToPipelineID, action.Transition.ToStageID)

	case domain.ActionMoveToStage:
		if action.Transition == nil {
			return retry.Permanent(errors.New("missing transition config"))
		}
		if e.collab.Pipeline == nil {
			return retry.Permanent(errors.New("no pipeline collaborator configured"))
		}
		return e.collab.Pipeline.MoveToStage(ctx, ev.EntityID, action.Transition.ToStageID)

	default:
		return retry.Permanent(fmt.Errorf("unknown action type %q", action.Type))
	}
}

func (e *Executor) skip(ctx context.Context, job domain.QueueJob, reason string) error {
	if err := e.jobs.SkipJob(ctx, job.ID, reason); err != nil {
		if errors.Is(err, ErrJobNotProcessing) {
			log.Printf("executor: job=%s already resolved, skipping skip", job.ID)
			return nil
		}
		return fmt.Errorf("skip job: %w", err)
	}
	e.recordOutcome(ctx, job, domain.OutcomeSkipped)
	log.Printf("executor: job=%s rule=%s skipped (%s)", job.ID, job.RuleID, reason)
	return nil
}

// resolveFailure applies the retry policy to a failed attempt.
// resumeIndex and resumeDelayHonored persist the chain cursor so a
// retried claim picks up where this attempt stopped.
func (e *Executor) resolveFailure(ctx context.Context, job domain.QueueJob, resumeIndex int, resumeDelayHonored bool, cause error) error {
	now := e.clock().UTC()
	decision := e.policy.Decide(cause, job.Attempts, now)

	if decision.Retry {
		if err := e.jobs.RetryJob(ctx, job.ID, resumeIndex, resumeDelayHonored, cause.Error(), decision.RetryAt); err != nil {
			if errors.Is(err, ErrJobNotProcessing) {
				log.Printf("executor: job=%s already resolved, skipping retry", job.ID)
				return nil
			}
			return fmt.Errorf("retry job: %w", err)
		}
		if e.metrics != nil {
			e.metrics.RetryScheduled(job.Attempts)
		}
		e.emitOutcome(ctx, job, domain.OutcomeRetried)
		log.Printf("executor: job=%s attempt=%d failed, retrying at %s: %v",
			job.ID, job.Attempts, decision.RetryAt.Format(time.RFC3339), cause)
		return nil
	}

	if err := e.jobs.FailJob(ctx, job.ID, cause.Error()); err != nil {
		if errors.Is(err, ErrJobNotProcessing) {
			log.Printf("executor: job=%s already resolved, skipping failure", job.ID)
			return nil
		}
		return fmt.Errorf("fail job: %w", err)
	}
	e.recordOutcome(ctx, job, domain.OutcomeFailed)
	log.Printf("executor: job=%s rule=%s failed terminally after %d attempts: %v",
		job.ID, job.RuleID, job.Attempts, cause)
	return nil
}

// recordOutcome updates rule stats and publishes the outcome. Both are
// best-effort once the job record itself is resolved.
func (e *Executor) recordOutcome(ctx context.Context, job domain.QueueJob, outcome domain.Outcome) {
	if e.metrics != nil {
		e.metrics.JobResolved(string(outcome))
	}
	if e.stats != nil {
		if err := e.stats.RecordOutcome(ctx, job.RuleID, outcome); err != nil {
			log.Printf("executor: job=%s failed to record stats: %v", job.ID, err)
		}
	}
	e.emitOutcome(ctx, job, outcome)
}

func (e *Executor) emitOutcome(ctx context.Context, job domain.QueueJob, outcome domain.Outcome) {
	if e.outcomes == nil {
		return
	}
	o := domain.JobOutcome{
		JobID:   job.ID,
		RuleID:  job.RuleID,
		ScopeID: job.Trigger.ScopeID,
		Outcome: outcome,
		At:      e.clock().UTC(),
	}
	if err := e.outcomes.Emit(ctx, o); err != nil {
		log.Printf("executor: job=%s failed to emit outcome: %v", job.ID, err)
	}
}
