package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs      *prometheus.CounterVec
	failures  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	members   *prometheus.CounterVec
	allocated *prometheus.CounterVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker provides lifecycle instrumentation helpers for a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track spawns a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job, start: time.Now()}
	}
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End finalises the tracker, recording duration, success/failure counts and
// returning the provided error untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// ObserveMember counts a member outcome within a period run: processed or
// skipped.
func (m *Metrics) ObserveMember(outcome string) {
	if m == nil || outcome == "" {
		return
	}
	m.members.WithLabelValues(outcome).Inc()
}

// AddAllocated accumulates the amount written to the ledger per transaction
// type.
func (m *Metrics) AddAllocated(txType string, amount float64) {
	if m == nil || amount <= 0 {
		return
	}
	m.allocated.WithLabelValues(txType).Add(amount)
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coopledger_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coopledger_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "coopledger_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	members := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coopledger_period_members_total",
		Help: "Members visited by period close runs grouped by outcome.",
	}, []string{"outcome"})
	allocated := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coopledger_allocated_amount_total",
		Help: "Currency allocated by period close runs grouped by transaction type.",
	}, []string{"type"})
	registerer.MustRegister(runs, failures, duration, members, allocated)
	return &Metrics{runs: runs, failures: failures, duration: duration, members: members, allocated: allocated}
}
