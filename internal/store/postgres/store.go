// Package postgres stores automation rules and the job queue.
//
// All mutations are atomic per-row conditional updates; the claim and
// the terminal-state guards depend on find-and-modify semantics, which
// is why PostgreSQL is a hard requirement rather than an implementation
// detail.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/flowrule/flowrule/internal/api"
	"github.com/flowrule/flowrule/internal/domain"
	"github.com/flowrule/flowrule/internal/executor"
	"github.com/flowrule/flowrule/internal/matcher"
	"github.com/flowrule/flowrule/internal/stats"
	"github.com/flowrule/flowrule/internal/sweeper"
	"github.com/flowrule/flowrule/internal/worker"
)

// Store implements the store interfaces of matcher, worker, executor,
// stats, sweeper and api using PostgreSQL.
type Store struct {
	db        *sql.DB
	opTimeout time.Duration
}

// New creates a Store. opTimeout bounds every single database
// operation; 0 disables the bound.
func New(db *sql.DB, opTimeout time.Duration) *Store {
	return &Store{db: db, opTimeout: opTimeout}
}

func (s *Store) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// GetActiveRules returns active, non-template rules in scope matching
// the trigger kind, treating the legacy enter-stage spelling as equal.
func (s *Store) GetActiveRules(ctx context.Context, scopeID uuid.UUID, kind domain.TriggerKind) ([]domain.AutomationRule, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	canonical := domain.NormalizeTriggerKind(kind)
	alias := canonical
	if canonical == domain.TriggerStageEntered {
		alias = domain.TriggerEnterStage
	}

	rows, err := s.db.QueryContext(ctx, queryGetActiveRules, scopeID, string(canonical), string(alias))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.AutomationRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rule)
	}
	return result, rows.Err()
}

// GetRuleByID returns a rule by its ID, or executor.ErrRuleNotFound.
func (s *Store) GetRuleByID(ctx context.Context, ruleID uuid.UUID) (domain.AutomationRule, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx, queryGetRuleByID, ruleID)
	rule, err := scanRule(row)
	if err == sql.ErrNoRows {
		return domain.AutomationRule{}, executor.ErrRuleNotFound
	}
	if err != nil {
		return domain.AutomationRule{}, err
	}
	return rule, nil
}

// EnqueueJobs inserts all jobs in one transaction. On error nothing is
// enqueued, so the event producer can retry the whole notification.
func (s *Store) EnqueueJobs(ctx context.Context, jobs []domain.QueueJob) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, job := range jobs {
		if err := insertJob(ctx, tx, job); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// EnqueueJob inserts a single job (delay continuations).
func (s *Store) EnqueueJob(ctx context.Context, job domain.QueueJob) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	return insertJob(ctx, s.db, job)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertJob(ctx context.Context, db execer, job domain.QueueJob) error {
	snapshot, err := json.Marshal(job.Trigger)
	if err != nil {
		return fmt.Errorf("marshal trigger snapshot: %w", err)
	}
	_, err = db.ExecContext(ctx, queryInsertJob,
		job.ID,
		job.RuleID,
		snapshot,
		string(job.Status),
		job.Attempts,
		job.ActionIndex,
		job.DelayHonored,
		job.ScheduledFor,
		job.LastError,
		job.CreatedAt,
	)
	return err
}

// ClaimDueJobs atomically claims up to limit due pending jobs. The
// pending check, the attempts increment and the processing transition
// are one statement, so two overlapping passes can never claim the same
// job.
func (s *Store) ClaimDueJobs(ctx context.Context, limit, maxAttempts int, now time.Time) ([]domain.QueueJob, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryClaimDueJobs, maxAttempts, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.QueueJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, job)
	}
	return result, rows.Err()
}

func (s *Store) CompleteJob(ctx context.Context, jobID uuid.UUID) error {
	return s.resolveJob(ctx, queryCompleteJob, jobID)
}

func (s *Store) SkipJob(ctx context.Context, jobID uuid.UUID, reason string) error {
	return s.resolveJob(ctx, querySkipJob, jobID, reason)
}

func (s *Store) FailJob(ctx context.Context, jobID uuid.UUID, lastError string) error {
	return s.resolveJob(ctx, queryFailJob, jobID, lastError)
}

// RetryJob returns the job to pending and persists the action cursor,
// so the retried claim resumes at the failed action rather than
// re-dispatching the ones that already succeeded.
func (s *Store) RetryJob(ctx context.Context, jobID uuid.UUID, actionIndex int, delayHonored bool, lastError string, at time.Time) error {
	return s.resolveJob(ctx, queryRetryJob, jobID, actionIndex, delayHonored, lastError, at)
}

// resolveJob runs one of the guarded resolution updates. Zero rows
// affected means either the job is gone (sql.ErrNoRows) or another
// writer already resolved it (executor.ErrJobNotProcessing); the row
// lock taken by UPDATE serializes concurrent resolvers.
func (s *Store) resolveJob(ctx context.Context, query string, jobID uuid.UUID, args ...any) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, query, append([]any{jobID}, args...)...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var current string
		err := s.db.QueryRowContext(ctx, queryGetJobStatus, jobID).Scan(&current)
		if err == sql.ErrNoRows {
			return sql.ErrNoRows
		}
		if err != nil {
			return err
		}
		return executor.ErrJobNotProcessing
	}
	return nil
}

// IncrementRuleStats applies the additive counter update for one
// chain-terminal outcome. Increments happen in SQL, never as a
// read-modify-write from application memory.
func (s *Store) IncrementRuleStats(ctx context.Context, ruleID uuid.UUID, outcome domain.Outcome, now time.Time) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var successDelta, failureDelta int
	switch outcome {
	case domain.OutcomeCompleted:
		successDelta = 1
	case domain.OutcomeFailed:
		failureDelta = 1
	}

	_, err := s.db.ExecContext(ctx, queryIncrementRuleStats, ruleID, successDelta, failureDelta, now)
	return err
}

// RequeueStaleJobs returns jobs stuck in processing since before
// olderThan to the pending queue, up to limit per call.
func (s *Store) RequeueStaleJobs(ctx context.Context, olderThan time.Time, limit int) (int, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, queryRequeueStaleJobs, olderThan, limit)
	if err != nil {
		return 0, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

// ListJobsByRule returns a rule's job history, newest first.
func (s *Store) ListJobsByRule(ctx context.Context, ruleID uuid.UUID, limit, offset int) ([]domain.QueueJob, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListJobsByRule, ruleID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.QueueJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, job)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRule(row scanner) (domain.AutomationRule, error) {
	var rule domain.AutomationRule
	var actionsRaw []byte
	var lastExecuted sql.NullTime

	err := row.Scan(
		&rule.ID,
		&rule.ScopeID,
		&rule.Name,
		&rule.IsActive,
		&rule.IsTemplate,
		&rule.Trigger.Kind,
		&rule.Trigger.PipelineID,
		&rule.Trigger.StageID,
		&actionsRaw,
		&rule.Stats.ExecutionCount,
		&rule.Stats.SuccessCount,
		&rule.Stats.FailureCount,
		&lastExecuted,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		return domain.AutomationRule{}, err
	}
	if lastExecuted.Valid {
		t := lastExecuted.Time
		rule.Stats.LastExecuted = &t
	}
	if err := json.Unmarshal(actionsRaw, &rule.Actions); err != nil {
		return domain.AutomationRule{}, fmt.Errorf("unmarshal actions: %w", err)
	}
	return rule, nil
}

func scanJob(row scanner) (domain.QueueJob, error) {
	var job domain.QueueJob
	var snapshot []byte
	var claimedAt sql.NullTime

	err := row.Scan(
		&job.ID,
		&job.RuleID,
		&snapshot,
		&job.Status,
		&job.Attempts,
		&job.ActionIndex,
		&job.DelayHonored,
		&job.ScheduledFor,
		&claimedAt,
		&job.LastError,
		&job.CreatedAt,
	)
	if err != nil {
		return domain.QueueJob{}, err
	}
	if claimedAt.Valid {
		t := claimedAt.Time
		job.ClaimedAt = &t
	}
	if err := json.Unmarshal(snapshot, &job.Trigger); err != nil {
		return domain.QueueJob{}, fmt.Errorf("unmarshal trigger snapshot: %w", err)
	}
	return job, nil
}

// Compile-time interface assertions
var (
	_ matcher.Store      = (*Store)(nil)
	_ worker.Store       = (*Store)(nil)
	_ executor.RuleStore = (*Store)(nil)
	_ executor.JobStore  = (*Store)(nil)
	_ stats.Store        = (*Store)(nil)
	_ sweeper.Store      = (*Store)(nil)
	_ api.Store          = (*Store)(nil)
)
