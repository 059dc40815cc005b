package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerIntegrity runs the ledger reconciliation checks.
	TaskLedgerIntegrity = "ledger:integrity"
	// TaskIdempotencyPurge removes expired idempotency keys.
	TaskIdempotencyPurge = "ledger:idempotency_purge"
)

// IntegrityPayload scopes an integrity run. TenantID 0 checks every tenant.
type IntegrityPayload struct {
	TenantID int64 `json:"tenant_id"`
}

// NewIntegrityTask constructs an integrity task.
func NewIntegrityTask(tenantID int64) (*asynq.Task, error) {
	data, err := json.Marshal(IntegrityPayload{TenantID: tenantID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerIntegrity, data), nil
}

// IdempotencyPurgePayload overrides the configured retention when RetentionHours is positive.
type IdempotencyPurgePayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewIdempotencyPurgeTask constructs a purge task.
func NewIdempotencyPurgeTask(retentionHours int) (*asynq.Task, error) {
	data, err := json.Marshal(IdempotencyPurgePayload{RetentionHours: retentionHours})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyPurge, data), nil
}
