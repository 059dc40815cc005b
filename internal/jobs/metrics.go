// Package jobmetrics instruments background jobs: run outcomes, duration, the time of the
// last successful run and the drift counts published by the integrity job.
package jobmetrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the job collectors.
type Metrics struct {
	runs        *prometheus.CounterVec
	failures    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	running     *prometheus.GaugeVec
	lastSuccess *prometheus.GaugeVec
	findings    *prometheus.GaugeVec
	now         func() time.Time
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the collectors. A nil registerer uses the default registerer once.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = register(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return register(registerer)
}

func register(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_jobs_total",
			Help: "Job executions by job and status.",
		}, []string{"job", "status"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_jobs_failures_total",
			Help: "Failed job executions by job.",
		}, []string{"job"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledger_job_duration_seconds",
			Help:    "Job execution time.",
			Buckets: []float64{.1, .5, 1, 5, 15, 60, 300, 900},
		}, []string{"job"}),
		running: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ledger_jobs_running",
			Help: "Job executions in progress.",
		}, []string{"job"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ledger_job_last_success_timestamp_seconds",
			Help: "Unix time of the last successful execution.",
		}, []string{"job"}),
		findings: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ledger_integrity_findings",
			Help: "Inconsistencies found by the last integrity run per check and tenant.",
		}, []string{"check", "tenant"}),
		now: time.Now,
	}
	registerer.MustRegister(m.runs, m.failures, m.duration, m.running, m.lastSuccess, m.findings)
	return m
}

// Tracker instruments one execution.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track marks job as running. Safe on a nil receiver.
func (m *Metrics) Track(job string) *Tracker {
	t := &Tracker{job: job, start: time.Now()}
	if m == nil || job == "" {
		return t
	}
	t.metrics = m
	m.running.WithLabelValues(job).Inc()
	return t
}

// End records the outcome and returns err unchanged.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil {
		return err
	}
	m := t.metrics
	m.running.WithLabelValues(t.job).Dec()
	m.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	if err != nil {
		m.runs.WithLabelValues(t.job, "failure").Inc()
		m.failures.WithLabelValues(t.job).Inc()
		return err
	}
	m.runs.WithLabelValues(t.job, "success").Inc()
	m.lastSuccess.WithLabelValues(t.job).Set(float64(m.now().Unix()))
	return nil
}

// SetFindings publishes the drift count of one check for one tenant.
func (m *Metrics) SetFindings(check string, tenantID int64, count int) {
	if m == nil {
		return
	}
	m.findings.WithLabelValues(check, strconv.FormatInt(tenantID, 10)).Set(float64(count))
}
