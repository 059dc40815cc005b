package shared

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// AuditLog is one ledger_audit_logs row. Meta is stored as jsonb.
type AuditLog struct {
	TenantID int64  `validate:"required"`
	ActorID  int64  `validate:"gte=0"`
	Action   string `validate:"required,max=64"`
	Entity   string `validate:"required,max=64"`
	EntityID string `validate:"required,max=128"`
	Meta     map[string]any
	At       time.Time
}

// AuditLogger appends audit rows. It runs outside the posting transaction so a failed
// insert never rolls back a committed posting.
type AuditLogger struct {
	db  DBTX
	now func() time.Time
}

// NewAuditLogger binds the logger to a pool or transaction.
func NewAuditLogger(db DBTX) *AuditLogger {
	return &AuditLogger{db: db, now: time.Now}
}

// Record validates and persists the entry. A zero At is stamped with the current time.
func (l *AuditLogger) Record(ctx context.Context, entry AuditLog) error {
	if l == nil || l.db == nil {
		return fmt.Errorf("audit: logger not initialised")
	}
	if err := Validate(entry); err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	if entry.Meta == nil {
		entry.Meta = map[string]any{}
	}
	meta, err := json.Marshal(entry.Meta)
	if err != nil {
		return fmt.Errorf("audit: encode meta: %w", err)
	}
	at := entry.At
	if at.IsZero() {
		at = l.now()
	}
	_, err = l.db.Exec(ctx, `INSERT INTO ledger_audit_logs (tenant_id, actor_id, action, entity, entity_id, meta, occurred_at)
VALUES ($1, NULLIF($2, 0), $3, $4, $5, $6, $7)`,
		entry.TenantID, entry.ActorID, entry.Action, entry.Entity, entry.EntityID, meta, at.UTC())
	return err
}
