package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/ledgercore/internal/jobs"
	"github.com/odyssey-erp/ledgercore/internal/reconcile"
)

// IntegrityRunner executes the reconciliation checks.
type IntegrityRunner interface {
	Run(ctx context.Context, tenantID int64) (reconcile.Report, error)
}

// IntegrityJob recomputes ledger invariants from source rows and publishes drift counts.
type IntegrityJob struct {
	Runner  IntegrityRunner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewIntegrityJob initialises the integrity handler.
func NewIntegrityJob(runner IntegrityRunner, logger *slog.Logger, metrics *jobmetrics.Metrics) *IntegrityJob {
	return &IntegrityJob{
		Runner:  runner,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes one integrity run.
func (j *IntegrityJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Runner == nil {
		return errors.New("ledger integrity: handler not configured")
	}
	var payload IntegrityPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	start := j.now()
	tracker := j.Metrics.Track(TaskLedgerIntegrity)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.Int64("tenant_id", payload.TenantID))
	logger.Info("starting ledger integrity run")

	report, err := j.Runner.Run(ctx, payload.TenantID)
	if err != nil {
		resultErr = err
		logger.Error("integrity run failed", slog.Any("error", err))
		return resultErr
	}
	for check, tenants := range report.Counts() {
		for tenantID, count := range tenants {
			j.Metrics.SetFindings(check, tenantID, count)
		}
	}

	logger.Info("completed ledger integrity run",
		slog.Int("findings", len(report.Findings)),
		slog.Duration("duration", j.now().Sub(start)),
	)
	return resultErr
}

func (j *IntegrityJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

func (j *IntegrityJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
