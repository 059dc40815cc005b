package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/odyssey-erp/ledgercore/internal/jobs"
	"github.com/odyssey-erp/ledgercore/internal/reconcile"
)

type stubRunner struct {
	report   reconcile.Report
	err      error
	tenantID int64
}

func (s *stubRunner) Run(_ context.Context, tenantID int64) (reconcile.Report, error) {
	s.tenantID = tenantID
	if s.err != nil {
		return reconcile.Report{}, s.err
	}
	s.report.TenantID = tenantID
	return s.report, nil
}

type stubPurger struct {
	olderThan time.Duration
	removed   int64
	err       error
}

func (s *stubPurger) Cleanup(_ context.Context, olderThan time.Duration) (int64, error) {
	s.olderThan = olderThan
	return s.removed, s.err
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func gaugeValue(t *testing.T, reg *prometheus.Registry, check, tenant string) (float64, bool) {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "ledger_integrity_findings" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["check"] == check && labels["tenant"] == tenant {
				return m.GetGauge().GetValue(), true
			}
		}
	}
	return 0, false
}

func counterValue(t *testing.T, reg *prometheus.Registry, name, job, status string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["job"] == job && (status == "" || labels["status"] == status) {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestIntegrityJobPublishesFindings(t *testing.T) {
	reg := prometheus.NewRegistry()
	runner := &stubRunner{report: reconcile.Report{Findings: []reconcile.Finding{
		{Check: reconcile.CheckOnHandDrift, TenantID: 4, Ref: "sku 1"},
		{Check: reconcile.CheckOnHandDrift, TenantID: 4, Ref: "sku 2"},
	}}}
	job := NewIntegrityJob(runner, discard(), jobmetrics.NewMetrics(reg))

	task, err := NewIntegrityTask(4)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, int64(4), runner.tenantID)

	value, ok := gaugeValue(t, reg, reconcile.CheckOnHandDrift, "4")
	require.True(t, ok)
	require.Equal(t, float64(2), value)
	value, ok = gaugeValue(t, reg, reconcile.CheckUnbalancedEntries, "4")
	require.True(t, ok)
	require.Zero(t, value)
	require.Equal(t, float64(1), counterValue(t, reg, "ledger_jobs_total", TaskLedgerIntegrity, "success"))
}

func TestIntegrityJobRecordsFailure(t *testing.T) {
	reg := prometheus.NewRegistry()
	job := NewIntegrityJob(&stubRunner{err: errors.New("db down")}, discard(), jobmetrics.NewMetrics(reg))
	task, err := NewIntegrityTask(0)
	require.NoError(t, err)

	require.Error(t, job.Handle(context.Background(), task))
	require.Equal(t, float64(1), counterValue(t, reg, "ledger_jobs_failures_total", TaskLedgerIntegrity, ""))
}

func TestIntegrityJobSkipsMalformedPayload(t *testing.T) {
	job := NewIntegrityJob(&stubRunner{}, discard(), nil)
	err := job.Handle(context.Background(), asynq.NewTask(TaskLedgerIntegrity, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestIdempotencyPurgeUsesRetention(t *testing.T) {
	purger := &stubPurger{removed: 3}
	job := NewIdempotencyPurgeJob(purger, 72*time.Hour, discard(), nil)

	task, err := NewIdempotencyPurgeTask(0)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 72*time.Hour, purger.olderThan)

	task, err = NewIdempotencyPurgeTask(6)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 6*time.Hour, purger.olderThan)
}

func TestIdempotencyPurgePropagatesError(t *testing.T) {
	job := NewIdempotencyPurgeJob(&stubPurger{err: errors.New("locked")}, time.Hour, discard(), nil)
	task, err := NewIdempotencyPurgeTask(0)
	require.NoError(t, err)
	require.EqualError(t, job.Handle(context.Background(), task), "locked")
}
