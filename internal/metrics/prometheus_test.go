package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusSinkCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := NewPrometheusSink(reg)

	sink.TriggerReceived("stage-entered")
	sink.TriggerReceived("stage-entered")
	sink.TriggerReceived("custom")
	sink.JobsEnqueued(5)
	sink.MatchError()

	if got := testutil.ToFloat64(sink.triggersTotal.WithLabelValues("stage-entered")); got != 2 {
		t.Errorf("triggers_total{stage-entered} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(sink.triggersTotal.WithLabelValues("custom")); got != 1 {
		t.Errorf("triggers_total{custom} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(sink.jobsEnqueuedTotal); got != 5 {
		t.Errorf("jobs_enqueued_total = %v, want 5", got)
	}
	if got := testutil.ToFloat64(sink.matchErrorsTotal); got != 1 {
		t.Errorf("errors_total = %v, want 1", got)
	}
}

func TestPrometheusSinkPassCompleted(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := NewPrometheusSink(reg)

	sink.PassStarted()
	sink.PassCompleted(200*time.Millisecond, 4, nil)
	sink.PassStarted()
	sink.PassCompleted(time.Second, 0, errors.New("claim failed"))

	if got := testutil.ToFloat64(sink.passesTotal); got != 2 {
		t.Errorf("passes_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(sink.jobsClaimed); got != 4 {
		t.Errorf("jobs_claimed_total = %v, want 4", got)
	}
	if got := testutil.ToFloat64(sink.passErrorsTotal); got != 1 {
		t.Errorf("pass_errors_total = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(sink.passDuration); n != 1 {
		t.Errorf("pass duration series = %d, want 1", n)
	}
}

func TestPrometheusSinkExecutorMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := NewPrometheusSink(reg)

	sink.ActionDispatched("send-sms", 300*time.Millisecond)
	sink.JobResolved("completed")
	sink.JobResolved("completed")
	sink.JobResolved("failed")
	sink.RetryScheduled(2)

	if got := testutil.ToFloat64(sink.actionsDispatchedTotal.WithLabelValues("send-sms")); got != 1 {
		t.Errorf("actions_dispatched{send-sms} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(sink.jobsResolvedTotal.WithLabelValues("completed")); got != 2 {
		t.Errorf("jobs_resolved{completed} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(sink.retriesTotal.WithLabelValues("2")); got != 1 {
		t.Errorf("retries{2} = %v, want 1", got)
	}
}

func TestPrometheusSinkJobsInFlight(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := NewPrometheusSink(reg)

	sink.JobsInFlightIncr()
	sink.JobsInFlightIncr()
	sink.JobsInFlightDecr()

	if got := testutil.ToFloat64(sink.jobsInFlight); got != 1 {
		t.Errorf("jobs_in_flight = %v, want 1", got)
	}
}

func TestPrometheusSinkLeaderStatus(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := NewPrometheusSink(reg)

	sink.LeaderStatus(true)
	if got := testutil.ToFloat64(sink.leaderStatus); got != 1 {
		t.Errorf("leader_status = %v, want 1", got)
	}

	sink.LeaderStatus(false)
	if got := testutil.ToFloat64(sink.leaderStatus); got != 0 {
		t.Errorf("leader_status = %v, want 0", got)
	}
}

func TestPrometheusSinkDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewPrometheusSink(reg)

	// A second sink on the same registry logs registration failures
	// but must still hand back a usable sink.
	sink := NewPrometheusSink(reg)
	sink.TriggerReceived("custom")
	sink.JobResolved("completed")
	sink.StaleJobsRequeued(2)
}

func TestNoopSinkSatisfiesSink(t *testing.T) {
	var sink Sink = NewNoopSink()
	sink.TriggerReceived("custom")
	sink.JobsEnqueued(1)
	sink.PassCompleted(time.Second, 1, nil)
	sink.JobResolved("failed")
	sink.LeaderStatus(true)
}
