package metrics

import (
	"log"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink using Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Matcher metrics
	triggersTotal     *prometheus.CounterVec
	jobsEnqueuedTotal prometheus.Counter
	matchErrorsTotal  prometheus.Counter

	// Worker metrics
	passesTotal     prometheus.Counter
	passErrorsTotal prometheus.Counter
	jobsClaimed     prometheus.Counter
	passDuration    prometheus.Histogram

	// Executor metrics
	actionsDispatchedTotal *prometheus.CounterVec
	actionDuration         prometheus.Histogram
	jobsResolvedTotal      *prometheus.CounterVec
	retriesTotal           *prometheus.CounterVec
	jobsInFlight           prometheus.Gauge

	// Sweeper metrics
	staleRequeuedTotal prometheus.Counter

	// Leader election metrics
	leaderStatus prometheus.Gauge
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initMatcherMetrics(reg)
	s.initWorkerMetrics(reg)
	s.initExecutorMetrics(reg)
	s.initSweeperMetrics(reg)
	return s
}

func (s *PrometheusSink) initMatcherMetrics(reg prometheus.Registerer) {
	s.triggersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flowrule_matcher_triggers_total",
		Help: "Total number of trigger events received.",
	}, []string{"kind"})
	s.jobsEnqueuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flowrule_matcher_jobs_enqueued_total",
		Help: "Total number of action jobs enqueued by the matcher.",
	})
	s.matchErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flowrule_matcher_errors_total",
		Help: "Total number of failed match passes.",
	})

	s.register(reg, s.triggersTotal, "flowrule_matcher_triggers_total")
	s.register(reg, s.jobsEnqueuedTotal, "flowrule_matcher_jobs_enqueued_total")
	s.register(reg, s.matchErrorsTotal, "flowrule_matcher_errors_total")
}

func (s *PrometheusSink) initWorkerMetrics(reg prometheus.Registerer) {
	s.passesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flowrule_worker_passes_total",
		Help: "Total number of worker passes started.",
	})
	s.passErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flowrule_worker_pass_errors_total",
		Help: "Total number of worker passes whose claim failed.",
	})
	s.jobsClaimed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flowrule_worker_jobs_claimed_total",
		Help: "Total number of jobs claimed for execution.",
	})
	s.passDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "flowrule_worker_pass_duration_seconds",
		Help:    "Duration of each worker pass in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	})

	s.register(reg, s.passesTotal, "flowrule_worker_passes_total")
	s.register(reg, s.passErrorsTotal, "flowrule_worker_pass_errors_total")
	s.register(reg, s.jobsClaimed, "flowrule_worker_jobs_claimed_total")
	s.register(reg, s.passDuration, "flowrule_worker_pass_duration_seconds")
}

func (s *PrometheusSink) initExecutorMetrics(reg prometheus.Registerer) {
	s.actionsDispatchedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flowrule_executor_actions_dispatched_total",
		Help: "Total number of actions dispatched to collaborators.",
	}, []string{"type"})

	s.actionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "flowrule_executor_action_duration_seconds",
		Help:    "Collaborator call latency in seconds.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	s.jobsResolvedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flowrule_executor_jobs_resolved_total",
		Help: "Total number of job resolutions per outcome.",
	}, []string{"outcome"})

	s.retriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flowrule_executor_retries_scheduled_total",
		Help: "Total number of retries scheduled after transient failures.",
	}, []string{"attempt"})

	s.jobsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flowrule_executor_jobs_in_flight",
		Help: "Number of jobs currently being executed.",
	})

	s.register(reg, s.actionsDispatchedTotal, "flowrule_executor_actions_dispatched_total")
	s.register(reg, s.actionDuration, "flowrule_executor_action_duration_seconds")
	s.register(reg, s.jobsResolvedTotal, "flowrule_executor_jobs_resolved_total")
	s.register(reg, s.retriesTotal, "flowrule_executor_retries_scheduled_total")
	s.register(reg, s.jobsInFlight, "flowrule_executor_jobs_in_flight")
}

func (s *PrometheusSink) initSweeperMetrics(reg prometheus.Registerer) {
	s.staleRequeuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flowrule_sweeper_stale_jobs_requeued_total",
		Help: "Total number of stale processing jobs returned to pending.",
	})
	s.leaderStatus = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flowrule_leader_status",
		Help: "1 when this instance holds the sweep leader lock, 0 otherwise.",
	})

	s.register(reg, s.staleRequeuedTotal, "flowrule_sweeper_stale_jobs_requeued_total")
	s.register(reg, s.leaderStatus, "flowrule_leader_status")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Printf("metrics: failed to register %s: %v", name, err)
	}
}

// Matcher metrics implementation

func (s *PrometheusSink) TriggerReceived(kind string) {
	s.triggersTotal.WithLabelValues(kind).Inc()
}

func (s *PrometheusSink) JobsEnqueued(count int) {
	s.jobsEnqueuedTotal.Add(float64(count))
}

func (s *PrometheusSink) MatchError() {
	s.matchErrorsTotal.Inc()
}

// Worker metrics implementation

func (s *PrometheusSink) PassStarted() {
	s.passesTotal.Inc()
}

func (s *PrometheusSink) PassCompleted(duration time.Duration, claimed int, err error) {
	s.passDuration.Observe(duration.Seconds())
	s.jobsClaimed.Add(float64(claimed))
	if err != nil {
		s.passErrorsTotal.Inc()
	}
}

// Executor metrics implementation

func (s *PrometheusSink) ActionDispatched(actionType string, duration time.Duration) {
	s.actionsDispatchedTotal.WithLabelValues(actionType).Inc()
	s.actionDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) JobResolved(outcome string) {
	s.jobsResolvedTotal.WithLabelValues(outcome).Inc()
}

func (s *PrometheusSink) RetryScheduled(attempt int) {
	s.retriesTotal.WithLabelValues(strconv.Itoa(attempt)).Inc()
}

func (s *PrometheusSink) JobsInFlightIncr() {
	s.jobsInFlight.Inc()
}

func (s *PrometheusSink) JobsInFlightDecr() {
	s.jobsInFlight.Dec()
}

// Sweeper metrics implementation

func (s *PrometheusSink) StaleJobsRequeued(count int) {
	s.staleRequeuedTotal.Add(float64(count))
}

// Leader election metrics implementation

func (s *PrometheusSink) LeaderStatus(isLeader bool) {
	if isLeader {
		s.leaderStatus.Set(1)
	} else {
		s.leaderStatus.Set(0)
	}
}

var _ Sink = (*PrometheusSink)(nil)
