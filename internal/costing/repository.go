package costing

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

type txStore struct {
	tx pgx.Tx
}

// NewTxStore returns a Store bound to an open PostgreSQL transaction.
func NewTxStore(tx pgx.Tx) Store {
	return &txStore{tx: tx}
}

const batchColumns = `id, tenant_id, sku_id, qty_received, qty_remaining, unit_cost, received_at, receipt_movement_id, active`

func scanBatch(row pgx.Row) (Batch, error) {
	var b Batch
	err := row.Scan(&b.ID, &b.TenantID, &b.SKUID, &b.QtyReceived, &b.QtyRemaining, &b.UnitCost, &b.ReceivedAt, &b.ReceiptMovementID, &b.Active)
	return b, err
}

func (s *txStore) ActiveBatchesForUpdate(ctx context.Context, tenantID, skuID int64) ([]Batch, error) {
	rows, err := s.tx.Query(ctx, `SELECT `+batchColumns+`
FROM ledger_stock_batches
WHERE tenant_id=$1 AND sku_id=$2 AND active
ORDER BY received_at ASC, id ASC
FOR UPDATE`, tenantID, skuID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var batches []Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

func (s *txStore) GetBatchForUpdate(ctx context.Context, tenantID, batchID int64) (Batch, error) {
	b, err := scanBatch(s.tx.QueryRow(ctx, `SELECT `+batchColumns+`
FROM ledger_stock_batches WHERE tenant_id=$1 AND id=$2 FOR UPDATE`, tenantID, batchID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Batch{}, ErrBatchNotFound
	}
	return b, err
}

func (s *txStore) InsertBatch(ctx context.Context, b Batch) (Batch, error) {
	err := s.tx.QueryRow(ctx, `INSERT INTO ledger_stock_batches
(tenant_id, sku_id, qty_received, qty_remaining, unit_cost, received_at, receipt_movement_id, active)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
		b.TenantID, b.SKUID, b.QtyReceived, b.QtyRemaining, b.UnitCost, b.ReceivedAt, b.ReceiptMovementID, b.Active).Scan(&b.ID)
	if err != nil {
		return Batch{}, err
	}
	return b, nil
}

func (s *txStore) UpdateBatch(ctx context.Context, b Batch) error {
	tag, err := s.tx.Exec(ctx, `UPDATE ledger_stock_batches SET qty_remaining=$3, active=$4, updated_at=NOW()
WHERE tenant_id=$1 AND id=$2`, b.TenantID, b.ID, b.QtyRemaining, b.Active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBatchNotFound
	}
	return nil
}

func (s *txStore) GetAverageForUpdate(ctx context.Context, tenantID, skuID int64) (Average, error) {
	var a Average
	err := s.tx.QueryRow(ctx, `SELECT tenant_id, sku_id, qty, unit_cost, updated_at
FROM ledger_cost_averages WHERE tenant_id=$1 AND sku_id=$2 FOR UPDATE`, tenantID, skuID).
		Scan(&a.TenantID, &a.SKUID, &a.Qty, &a.UnitCost, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Average{}, ErrAverageNotFound
	}
	return a, err
}

func (s *txStore) UpsertAverage(ctx context.Context, a Average) error {
	_, err := s.tx.Exec(ctx, `INSERT INTO ledger_cost_averages (tenant_id, sku_id, qty, unit_cost, updated_at)
VALUES ($1,$2,$3,$4,NOW())
ON CONFLICT (tenant_id, sku_id) DO UPDATE SET qty=EXCLUDED.qty, unit_cost=EXCLUDED.unit_cost, updated_at=NOW()`,
		a.TenantID, a.SKUID, a.Qty, a.UnitCost)
	return err
}
