package metrics

import "time"

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
// If the metrics backend is unavailable, implementations log warnings and continue.
type Sink interface {
	// Matcher metrics
	TriggerReceived(kind string)
	JobsEnqueued(count int)
	MatchError()

	// Worker metrics
	PassStarted()
	PassCompleted(duration time.Duration, claimed int, err error)

	// Executor metrics
	ActionDispatched(actionType string, duration time.Duration)
	JobResolved(outcome string)
	RetryScheduled(attempt int)
	JobsInFlightIncr()
	JobsInFlightDecr()

	// Sweeper metrics
	StaleJobsRequeued(count int)

	// Leader election metrics
	LeaderStatus(isLeader bool)
}
