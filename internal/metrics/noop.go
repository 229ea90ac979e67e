package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) TriggerReceived(kind string)                                  {}
func (n *NoopSink) JobsEnqueued(count int)                                       {}
func (n *NoopSink) MatchError()                                                  {}
func (n *NoopSink) PassStarted()                                                 {}
func (n *NoopSink) PassCompleted(duration time.Duration, claimed int, err error) {}
func (n *NoopSink) ActionDispatched(actionType string, duration time.Duration)   {}
func (n *NoopSink) JobResolved(outcome string)                                   {}
func (n *NoopSink) RetryScheduled(attempt int)                                   {}
func (n *NoopSink) JobsInFlightIncr()                                            {}
func (n *NoopSink) JobsInFlightDecr()                                            {}
func (n *NoopSink) StaleJobsRequeued(count int)                                  {}
func (n *NoopSink) LeaderStatus(isLeader bool)                                   {}

var _ Sink = (*NoopSink)(nil)
