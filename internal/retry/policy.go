// Package retry classifies action failures and schedules re-attempts.
//
// Failures are either transient (collaborator timeouts, rate limits,
// network faults) or permanent (missing rule, malformed config, unknown
// action type). Permanent failures terminate a job immediately;
// transient ones return it to pending with an exponential backoff until
// the attempt cap is reached. The policy is evaluated once per claimed
// job per worker pass and never retries inside a single attempt.
package retry

import (
	"errors"
	"time"
)

// DefaultBackoff spaces retries of transiently failed jobs. Attempts
// beyond the slice reuse the last entry.
var DefaultBackoff = []time.Duration{
	time.Minute,
	5 * time.Minute,
	15 * time.Minute,
}

const DefaultMaxAttempts = 3

type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Transient marks err as retryable. Returns nil for a nil err.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// Permanent marks err as not retryable. Returns nil for a nil err.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err carries a permanent marker.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// IsTransient reports whether err carries a transient marker.
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

// Policy decides, after a failed attempt, whether a job retries and
// when. An unmarked error is treated as transient: the attempt cap
// bounds the damage, whereas misclassifying a recoverable fault as
// permanent loses work.
type Policy struct {
	MaxAttempts int
	Backoff     []time.Duration
}

// NewPolicy returns a Policy with the default cap and backoff schedule.
func NewPolicy() Policy {
	return Policy{MaxAttempts: DefaultMaxAttempts, Backoff: DefaultBackoff}
}

// Decision is the verdict for one failed attempt. A zero Decision means
// terminal failure.
type Decision struct {
	Retry   bool
	RetryAt time.Time
}

// Decide classifies err and applies the attempt cap. attempts is the
// number of claims the job has consumed, including the one that just
// failed.
func (p Policy) Decide(err error, attempts int, now time.Time) Decision {
	if IsPermanent(err) {
		return Decision{}
	}
	if attempts >= p.MaxAttempts {
		return Decision{}
	}
	return Decision{Retry: true, RetryAt: now.Add(p.delay(attempts))}
}

// delay returns the backoff for the given attempt count (1-based),
// clamped to the last entry.
func (p Policy) delay(attempts int) time.Duration {
	if len(p.Backoff) == 0 {
		return 0
	}
	idx := attempts - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(p.Backoff) {
		idx = len(p.Backoff) - 1
	}
	return p.Backoff[idx]
}
