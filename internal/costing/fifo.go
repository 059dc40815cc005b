package costing

import (
	"context"
	"errors"
	"sort"

	"github.com/shopspring/decimal"
)

// FIFO consumes the oldest active batches first.
type FIFO struct{}

func (FIFO) Method() Method { return MethodFIFO }

func (FIFO) Receive(ctx context.Context, store Store, tenantID int64, in ReceiptInput) (Detail, error) {
	batch, err := store.InsertBatch(ctx, Batch{
		TenantID:          tenantID,
		SKUID:             in.SKUID,
		QtyReceived:       in.Qty,
		QtyRemaining:      in.Qty,
		UnitCost:          in.UnitCost,
		ReceivedAt:        in.ReceivedAt,
		ReceiptMovementID: in.MovementID,
		Active:            true,
	})
	if err != nil {
		return Detail{}, err
	}
	return Detail{
		Method:    MethodFIFO,
		SKUID:     in.SKUID,
		Qty:       in.Qty,
		UnitCost:  in.UnitCost,
		TotalCost: in.Qty.Mul(in.UnitCost),
		BatchID:   batch.ID,
	}, nil
}

func (FIFO) Issue(ctx context.Context, store Store, tenantID, skuID int64, qty decimal.Decimal) (Detail, error) {
	batches, err := store.ActiveBatchesForUpdate(ctx, tenantID, skuID)
	if err != nil {
		return Detail{}, err
	}
	sort.SliceStable(batches, func(i, j int) bool {
		if batches[i].ReceivedAt.Equal(batches[j].ReceivedAt) {
			return batches[i].ID < batches[j].ID
		}
		return batches[i].ReceivedAt.Before(batches[j].ReceivedAt)
	})
	available := decimal.Zero
	for _, b := range batches {
		if b.Active {
			available = available.Add(b.QtyRemaining)
		}
	}
	if available.LessThan(qty) {
		return Detail{}, &InsufficientStockError{SKUID: skuID, Requested: qty, Available: available}
	}

	detail := Detail{Method: MethodFIFO, SKUID: skuID, Qty: qty, TotalCost: decimal.Zero}
	needed := qty
	for _, b := range batches {
		if !needed.IsPositive() {
			break
		}
		if !b.Active || !b.QtyRemaining.IsPositive() {
			continue
		}
		take := decimal.Min(b.QtyRemaining, needed)
		b.QtyRemaining = b.QtyRemaining.Sub(take)
		b.Active = b.QtyRemaining.IsPositive()
		if err := store.UpdateBatch(ctx, b); err != nil {
			return Detail{}, err
		}
		detail.Consumptions = append(detail.Consumptions, Consumption{BatchID: b.ID, Qty: take, UnitCost: b.UnitCost})
		detail.TotalCost = detail.TotalCost.Add(take.Mul(b.UnitCost))
		needed = needed.Sub(take)
	}
	detail.UnitCost = unitCostOf(detail.TotalCost, qty)
	return detail, nil
}

func (FIFO) ReverseIssue(ctx context.Context, store Store, tenantID int64, detail Detail) error {
	for _, c := range detail.Consumptions {
		batch, err := store.GetBatchForUpdate(ctx, tenantID, c.BatchID)
		if err != nil {
			return err
		}
		batch.QtyRemaining = batch.QtyRemaining.Add(c.Qty)
		if batch.QtyRemaining.GreaterThan(batch.QtyReceived) {
			return ErrCostBasisMoved
		}
		batch.Active = true
		if err := store.UpdateBatch(ctx, batch); err != nil {
			return err
		}
	}
	return nil
}

func (FIFO) ReapplyIssue(ctx context.Context, store Store, tenantID int64, detail Detail) error {
	for _, c := range detail.Consumptions {
		batch, err := store.GetBatchForUpdate(ctx, tenantID, c.BatchID)
		if err != nil {
			return err
		}
		if batch.QtyRemaining.LessThan(c.Qty) {
			return ErrCostBasisMoved
		}
		batch.QtyRemaining = batch.QtyRemaining.Sub(c.Qty)
		batch.Active = batch.QtyRemaining.IsPositive()
		if err := store.UpdateBatch(ctx, batch); err != nil {
			return err
		}
	}
	return nil
}

func (FIFO) ReverseReceive(ctx context.Context, store Store, tenantID int64, detail Detail) error {
	if detail.BatchID == 0 {
		return ErrBatchNotFound
	}
	batch, err := store.GetBatchForUpdate(ctx, tenantID, detail.BatchID)
	if err != nil {
		return err
	}
	if !batch.QtyRemaining.Equal(batch.QtyReceived) {
		return ErrBatchConsumed
	}
	batch.QtyRemaining = decimal.Zero
	batch.Active = false
	return store.UpdateBatch(ctx, batch)
}

func (FIFO) CurrentUnitCost(ctx context.Context, store Store, tenantID, skuID int64) (decimal.Decimal, bool, error) {
	batches, err := store.ActiveBatchesForUpdate(ctx, tenantID, skuID)
	if err != nil {
		if errors.Is(err, ErrBatchNotFound) {
			return decimal.Zero, false, nil
		}
		return decimal.Zero, false, err
	}
	var newest *Batch
	for i := range batches {
		b := &batches[i]
		if !b.Active {
			continue
		}
		if newest == nil || b.ReceivedAt.After(newest.ReceivedAt) || (b.ReceivedAt.Equal(newest.ReceivedAt) && b.ID > newest.ID) {
			newest = b
		}
	}
	if newest == nil {
		return decimal.Zero, false, nil
	}
	return newest.UnitCost, true, nil
}
