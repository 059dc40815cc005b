package inventory

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/ledgercore/internal/costing"
	"github.com/odyssey-erp/ledgercore/internal/platform/db"
)

// Repository serves read-side queries on the stock ledger.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// MovementFilter narrows ListMovements.
type MovementFilter struct {
	TenantID int64
	SKUID    int64
	State    MovementState
	Limit    int
}

// ListMovements returns movements of a sku newest first.
func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	if r == nil {
		return nil, errors.New("inventory repository not initialised")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT `+movementColumns+`
FROM ledger_stock_movements
WHERE tenant_id=$1 AND sku_id=$2 AND ($3 = '' OR state=$3)
ORDER BY id DESC
LIMIT $4`, filter.TenantID, filter.SKUID, string(filter.State), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Movement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type txRepository struct {
	tx pgx.Tx
}

// NewTxRepository binds stock ledger persistence to an open transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

const movementColumns = `id, tenant_id, sku_id, kind, qty, stock_before, stock_after, unit_cost, state,
from_location_id, to_location_id, source_module, source_ref, linked_movement_id, cost_detail, journal_entry_id,
posting_seq, revision, reject_reason, COALESCE(created_by, 0), created_at, posted_at, rejected_at`

func scanMovement(row pgx.Row) (Movement, error) {
	var m Movement
	var detail []byte
	err := row.Scan(&m.ID, &m.TenantID, &m.SKUID, &m.Kind, &m.Qty, &m.StockBefore, &m.StockAfter, &m.UnitCost, &m.State,
		&m.FromLocationID, &m.ToLocationID, &m.SourceModule, &m.SourceRef, &m.LinkedMovementID, &detail, &m.JournalEntryID,
		&m.PostingSeq, &m.Revision, &m.RejectReason, &m.CreatedBy, &m.CreatedAt, &m.PostedAt, &m.RejectedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Movement{}, ErrMovementNotFound
		}
		return Movement{}, err
	}
	if len(detail) > 0 {
		var d costing.Detail
		if err := json.Unmarshal(detail, &d); err != nil {
			return Movement{}, err
		}
		m.CostDetail = &d
	}
	return m, nil
}

func encodeDetail(d *costing.Detail) ([]byte, error) {
	if d == nil {
		return nil, nil
	}
	return json.Marshal(d)
}

func nullInt(v int64) *int64 {
	if v == 0 {
		return nil
	}
	return &v
}

func (r *txRepository) InsertMovement(ctx context.Context, m Movement) (Movement, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO ledger_stock_movements
(tenant_id, sku_id, kind, qty, stock_before, stock_after, unit_cost, state, from_location_id, to_location_id,
 source_module, source_ref, linked_movement_id, revision, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16) RETURNING id`,
		m.TenantID, m.SKUID, m.Kind, m.Qty, m.StockBefore, m.StockAfter, m.UnitCost, m.State, m.FromLocationID, m.ToLocationID,
		m.SourceModule, m.SourceRef, m.LinkedMovementID, m.Revision, nullInt(m.CreatedBy), m.CreatedAt).Scan(&m.ID)
	if err != nil {
		if db.IsUniqueViolation(err, "uq_ledger_stock_transfer_in") {
			return Movement{}, ErrTransferAlreadyReceived
		}
		return Movement{}, err
	}
	return m, nil
}

func (r *txRepository) GetMovementForUpdate(ctx context.Context, tenantID, movementID int64) (Movement, error) {
	return scanMovement(r.tx.QueryRow(ctx, `SELECT `+movementColumns+`
FROM ledger_stock_movements WHERE tenant_id=$1 AND id=$2 FOR UPDATE`, tenantID, movementID))
}

func (r *txRepository) UpdateMovement(ctx context.Context, m Movement) error {
	detail, err := encodeDetail(m.CostDetail)
	if err != nil {
		return err
	}
	tag, err := r.tx.Exec(ctx, `UPDATE ledger_stock_movements SET
stock_before=$3, stock_after=$4, unit_cost=$5, state=$6, linked_movement_id=$7, cost_detail=$8, journal_entry_id=$9,
posting_seq=$10, revision=$11, reject_reason=$12, posted_at=$13, rejected_at=$14, updated_at=NOW()
WHERE tenant_id=$1 AND id=$2`,
		m.TenantID, m.ID, m.StockBefore, m.StockAfter, m.UnitCost, m.State, m.LinkedMovementID, detail, m.JournalEntryID,
		m.PostingSeq, m.Revision, m.RejectReason, m.PostedAt, m.RejectedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrMovementNotFound
	}
	return nil
}

func (r *txRepository) LatestPosted(ctx context.Context, tenantID, skuID int64) (Movement, error) {
	return scanMovement(r.tx.QueryRow(ctx, `SELECT `+movementColumns+`
FROM ledger_stock_movements
WHERE tenant_id=$1 AND sku_id=$2 AND state='POSTED'
ORDER BY posting_seq DESC
LIMIT 1`, tenantID, skuID))
}

func (r *txRepository) TransferInFor(ctx context.Context, tenantID, outID int64) (Movement, error) {
	return scanMovement(r.tx.QueryRow(ctx, `SELECT `+movementColumns+`
FROM ledger_stock_movements
WHERE tenant_id=$1 AND linked_movement_id=$2 AND kind='TRANSFER_IN' AND state<>'REJECTED'
ORDER BY id
LIMIT 1
FOR UPDATE`, tenantID, outID))
}

func (r *txRepository) GetBalanceForUpdate(ctx context.Context, tenantID, skuID int64) (Balance, error) {
	var b Balance
	err := r.tx.QueryRow(ctx, `SELECT tenant_id, sku_id, on_hand, last_seq, updated_at
FROM ledger_stock_balances WHERE tenant_id=$1 AND sku_id=$2 FOR UPDATE`, tenantID, skuID).
		Scan(&b.TenantID, &b.SKUID, &b.OnHand, &b.LastSeq, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Balance{}, ErrBalanceNotFound
	}
	return b, err
}

func (r *txRepository) UpsertBalance(ctx context.Context, b Balance) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO ledger_stock_balances (tenant_id, sku_id, on_hand, last_seq, updated_at)
VALUES ($1,$2,$3,$4,NOW())
ON CONFLICT (tenant_id, sku_id) DO UPDATE SET on_hand=EXCLUDED.on_hand, last_seq=EXCLUDED.last_seq, updated_at=NOW()`,
		b.TenantID, b.SKUID, b.OnHand, b.LastSeq)
	return err
}

func (r *txRepository) InsertEvent(ctx context.Context, e MovementEvent) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO ledger_stock_movement_events
(tenant_id, movement_id, action, from_state, to_state, qty, stock_before, stock_after, actor_id, note, created_at)
VALUES ($1,$2,$3,NULLIF($4,''),$5,$6,$7,$8,$9,$10,$11)`,
		e.TenantID, e.MovementID, e.Action, string(e.FromState), e.ToState, e.Qty, e.StockBefore, e.StockAfter,
		nullInt(e.ActorID), e.Note, e.At)
	return err
}
