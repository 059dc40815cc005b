package reconcile

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository runs the checks against PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// UnbalancedEntries lists entries whose lines do not net to zero. Expected is the debit
// total, Actual the credit total.
func (r *Repository) UnbalancedEntries(ctx context.Context, tenantID int64) ([]Finding, error) {
	return r.query(ctx, "entry %s", `SELECT e.tenant_id, e.number, COALESCE(SUM(l.debit), 0), COALESCE(SUM(l.credit), 0)
FROM ledger_journal_entries e
LEFT JOIN ledger_journal_lines l ON l.entry_id = e.id
WHERE ($1::bigint = 0 OR e.tenant_id = $1)
GROUP BY e.tenant_id, e.id, e.number
HAVING COALESCE(SUM(l.debit), 0) <> COALESCE(SUM(l.credit), 0)`, tenantID)
}

// OnHandDrift compares each balance row with the sum of posted movements.
func (r *Repository) OnHandDrift(ctx context.Context, tenantID int64) ([]Finding, error) {
	return r.query(ctx, "sku %s", `SELECT b.tenant_id, b.sku_id::text, COALESCE(m.total, 0), b.on_hand
FROM ledger_stock_balances b
LEFT JOIN (
	SELECT tenant_id, sku_id, SUM(qty) AS total FROM ledger_stock_movements
	WHERE state = 'POSTED' GROUP BY tenant_id, sku_id
) m ON m.tenant_id = b.tenant_id AND m.sku_id = b.sku_id
WHERE ($1::bigint = 0 OR b.tenant_id = $1) AND b.on_hand <> COALESCE(m.total, 0)`, tenantID)
}

// BatchDrift compares on-hand with the cost basis quantity of the tenant's method.
func (r *Repository) BatchDrift(ctx context.Context, tenantID int64) ([]Finding, error) {
	return r.query(ctx, "sku %s", `SELECT b.tenant_id, b.sku_id::text, b.on_hand, COALESCE(s.remaining, 0)
FROM ledger_stock_balances b
JOIN ledger_tenant_policies p ON p.tenant_id = b.tenant_id AND p.costing_method = 'FIFO'
LEFT JOIN (
	SELECT tenant_id, sku_id, SUM(qty_remaining) AS remaining FROM ledger_stock_batches
	WHERE active GROUP BY tenant_id, sku_id
) s ON s.tenant_id = b.tenant_id AND s.sku_id = b.sku_id
WHERE ($1::bigint = 0 OR b.tenant_id = $1) AND b.on_hand <> COALESCE(s.remaining, 0)
UNION ALL
SELECT b.tenant_id, b.sku_id::text, b.on_hand, COALESCE(a.qty, 0)
FROM ledger_stock_balances b
JOIN ledger_tenant_policies p ON p.tenant_id = b.tenant_id AND p.costing_method = 'WEIGHTED_AVERAGE'
LEFT JOIN ledger_cost_averages a ON a.tenant_id = b.tenant_id AND a.sku_id = b.sku_id
WHERE ($1::bigint = 0 OR b.tenant_id = $1) AND b.on_hand <> COALESCE(a.qty, 0)`, tenantID)
}

// InvoicePaidDrift compares amount_paid with the applications of active payments.
func (r *Repository) InvoicePaidDrift(ctx context.Context, tenantID int64) ([]Finding, error) {
	return r.query(ctx, "invoice %s", `SELECT i.tenant_id, i.number, COALESCE(a.applied, 0), i.amount_paid
FROM vendor_invoices i
LEFT JOIN (
	SELECT pa.invoice_id, SUM(pa.amount) AS applied
	FROM ap_payment_applications pa
	JOIN ap_payments p ON p.id = pa.payment_id
	WHERE p.status = 'ACTIVE'
	GROUP BY pa.invoice_id
) a ON a.invoice_id = i.id
WHERE ($1::bigint = 0 OR i.tenant_id = $1) AND i.amount_paid <> COALESCE(a.applied, 0)`, tenantID)
}

// UnjournaledMovements lists posted movements with a ledger effect but no entry. Expected
// is the movement cost, Actual is zero.
func (r *Repository) UnjournaledMovements(ctx context.Context, tenantID int64) ([]Finding, error) {
	return r.query(ctx, "movement %s", `SELECT m.tenant_id, m.id::text, ROUND((m.cost_detail->>'total_cost')::numeric, 2), 0::numeric
FROM ledger_stock_movements m
WHERE ($1::bigint = 0 OR m.tenant_id = $1)
  AND m.state = 'POSTED'
  AND m.kind IN ('PURCHASE_RECEIPT', 'SALES_ISSUE', 'AUDIT_ADJUSTMENT', 'MANUAL')
  AND m.journal_entry_id IS NULL
  AND ROUND((m.cost_detail->>'total_cost')::numeric, 2) > 0`, tenantID)
}

// UnpairedTransfers lists posted transfer-outs not received by exactly one posted transfer-in,
// and posted transfer-ins whose transfer-out is not posted. Expected is the quantity sent,
// Actual the quantity received.
func (r *Repository) UnpairedTransfers(ctx context.Context, tenantID int64) ([]Finding, error) {
	return r.query(ctx, "movement %s", `SELECT o.tenant_id, o.id::text, -o.qty, COALESCE(SUM(i.qty), 0)
FROM ledger_stock_movements o
LEFT JOIN ledger_stock_movements i
  ON i.linked_movement_id = o.id AND i.kind = 'TRANSFER_IN' AND i.state = 'POSTED'
WHERE ($1::bigint = 0 OR o.tenant_id = $1) AND o.kind = 'TRANSFER_OUT' AND o.state = 'POSTED'
GROUP BY o.tenant_id, o.id, o.qty
HAVING COUNT(i.id) <> 1 OR COALESCE(SUM(i.qty), 0) <> -o.qty
UNION ALL
SELECT i.tenant_id, i.id::text, 0::numeric, i.qty
FROM ledger_stock_movements i
LEFT JOIN ledger_stock_movements o ON o.id = i.linked_movement_id
WHERE ($1::bigint = 0 OR i.tenant_id = $1) AND i.kind = 'TRANSFER_IN' AND i.state = 'POSTED'
  AND (o.id IS NULL OR o.state <> 'POSTED')`, tenantID)
}

func (r *Repository) query(ctx context.Context, refFormat, sql string, tenantID int64) ([]Finding, error) {
	rows, err := r.pool.Query(ctx, sql, tenantID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Finding, error) {
		var (
			f   Finding
			ref string
		)
		if err := row.Scan(&f.TenantID, &ref, &f.Expected, &f.Actual); err != nil {
			return Finding{}, err
		}
		f.Ref = fmt.Sprintf(refFormat, ref)
		return f, nil
	})
}

var _ Store = (*Repository)(nil)
