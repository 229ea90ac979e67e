package postgres

const queryGetActiveRules = `
SELECT
    id, scope_id, name, is_active, is_template,
    trigger_kind, trigger_pipeline_id, trigger_stage_id, actions,
    execution_count, success_count, failure_count, last_executed,
    created_at, updated_at
FROM automation_rules
WHERE scope_id = $1
  AND is_active = true
  AND is_template = false
  AND trigger_kind IN ($2, $3)
ORDER BY created_at ASC
`

const queryGetRuleByID = `
SELECT
    id, scope_id, name, is_active, is_template,
    trigger_kind, trigger_pipeline_id, trigger_stage_id, actions,
    execution_count, success_count, failure_count, last_executed,
    created_at, updated_at
FROM automation_rules
WHERE id = $1
`

const queryInsertJob = `
INSERT INTO queue_jobs (id, rule_id, trigger_snapshot, status, attempts, action_index, delay_honored, scheduled_for, last_error, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`

// queryClaimDueJobs is the lease primitive: selection and the
// pending→processing transition happen in one statement, with
// FOR UPDATE SKIP LOCKED so overlapping passes never block on or double-
// claim the same rows.
const queryClaimDueJobs = `
WITH due AS (
    SELECT id FROM queue_jobs
    WHERE status = 'pending'
      AND attempts < $1
      AND scheduled_for <= $2
    ORDER BY created_at ASC
    LIMIT $3
    FOR UPDATE SKIP LOCKED
)
UPDATE queue_jobs
SET status = 'processing', attempts = queue_jobs.attempts + 1, claimed_at = $2
FROM due
WHERE queue_jobs.id = due.id
RETURNING queue_jobs.id, queue_jobs.rule_id, queue_jobs.trigger_snapshot,
          queue_jobs.status, queue_jobs.attempts, queue_jobs.action_index,
          queue_jobs.delay_honored, queue_jobs.scheduled_for,
          queue_jobs.claimed_at, queue_jobs.last_error, queue_jobs.created_at
`

// Resolution updates are guarded by status='processing' so terminal
// states stay immutable and only the claiming pass can resolve the
// attempt.
const queryCompleteJob = `
UPDATE queue_jobs
SET status = 'completed', claimed_at = NULL
WHERE id = $1
  AND status = 'processing'
`

const querySkipJob = `
UPDATE queue_jobs
SET status = 'skipped', last_error = $2, claimed_at = NULL
WHERE id = $1
  AND status = 'processing'
`

const queryFailJob = `
UPDATE queue_jobs
SET status = 'failed', last_error = $2, claimed_at = NULL
WHERE id = $1
  AND status = 'processing'
`

const queryRetryJob = `
UPDATE queue_jobs
SET status = 'pending', action_index = $2, delay_honored = $3,
    last_error = $4, scheduled_for = $5, claimed_at = NULL
WHERE id = $1
  AND status = 'processing'
`

const queryGetJobStatus = `
SELECT status FROM queue_jobs WHERE id = $1
`

const queryIncrementRuleStats = `
UPDATE automation_rules
SET execution_count = execution_count + 1,
    success_count = success_count + $2,
    failure_count = failure_count + $3,
    last_executed = $4
WHERE id = $1
`

const queryRequeueStaleJobs = `
WITH stale AS (
    SELECT id FROM queue_jobs
    WHERE status = 'processing'
      AND claimed_at < $1
    ORDER BY claimed_at ASC
    LIMIT $2
    FOR UPDATE SKIP LOCKED
)
UPDATE queue_jobs
SET status = 'pending', claimed_at = NULL
FROM stale
WHERE queue_jobs.id = stale.id
`

const queryListJobsByRule = `
SELECT id, rule_id, trigger_snapshot, status, attempts, action_index,
       delay_honored, scheduled_for, claimed_at, last_error, created_at
FROM queue_jobs
WHERE rule_id = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3
`
