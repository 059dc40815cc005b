package posting

import (
	"context"

	"github.com/odyssey-erp/ledgercore/internal/accounting/journals"
	"github.com/odyssey-erp/ledgercore/internal/accounting/mappings"
	"github.com/odyssey-erp/ledgercore/internal/ap"
	"github.com/odyssey-erp/ledgercore/internal/costing"
	"github.com/odyssey-erp/ledgercore/internal/inventory"
	"github.com/odyssey-erp/ledgercore/internal/shared"
)

// Tx is one unit of work. Every repository it hands out writes to the same transaction.
type Tx interface {
	Stock() inventory.TxRepository
	Costing() costing.Store
	Journal() journals.TxRepository
	Payables() ap.TxRepository
	// Claim records an idempotency key; a duplicate fails with shared.ErrIdempotencyConflict.
	Claim(ctx context.Context, key, module string) error
}

// UnitOfWork commits fn's writes together or not at all.
type UnitOfWork interface {
	WithTx(ctx context.Context, fn func(context.Context, Tx) error) error
}

// Catalog exposes the costing policy configured for a tenant.
type Catalog interface {
	CostingMethod(ctx context.Context, tenantID int64) (costing.Method, error)
}

// ChartSource loads the tenant chart once per posting.
type ChartSource interface {
	LoadChart(ctx context.Context, tenantID int64) (mappings.Chart, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}
