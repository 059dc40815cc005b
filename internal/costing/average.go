package costing

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// WeightedAverage keeps one blended unit cost per sku.
type WeightedAverage struct{}

func (WeightedAverage) Method() Method { return MethodWeightedAverage }

func loadAverage(ctx context.Context, store Store, tenantID, skuID int64) (Average, error) {
	avg, err := store.GetAverageForUpdate(ctx, tenantID, skuID)
	if errors.Is(err, ErrAverageNotFound) {
		return Average{TenantID: tenantID, SKUID: skuID, Qty: decimal.Zero, UnitCost: decimal.Zero}, nil
	}
	return avg, err
}

// blend folds qty at unitCost into the average. A non-positive starting quantity resets it.
func blend(avg Average, qty, unitCost decimal.Decimal) Average {
	newQty := avg.Qty.Add(qty)
	if !avg.Qty.IsPositive() || !newQty.IsPositive() {
		avg.Qty = newQty
		avg.UnitCost = unitCost
		return avg
	}
	total := avg.Qty.Mul(avg.UnitCost).Add(qty.Mul(unitCost))
	avg.Qty = newQty
	avg.UnitCost = unitCostOf(total, newQty)
	return avg
}

// unblend removes qty at unitCost from the average. The average is kept when nothing remains.
func unblend(avg Average, qty, unitCost decimal.Decimal) Average {
	remaining := avg.Qty.Sub(qty)
	if remaining.IsPositive() {
		total := avg.Qty.Mul(avg.UnitCost).Sub(qty.Mul(unitCost))
		avg.UnitCost = unitCostOf(total, remaining)
	}
	avg.Qty = remaining
	return avg
}

func (WeightedAverage) Receive(ctx context.Context, store Store, tenantID int64, in ReceiptInput) (Detail, error) {
	avg, err := loadAverage(ctx, store, tenantID, in.SKUID)
	if err != nil {
		return Detail{}, err
	}
	detail := Detail{
		Method:       MethodWeightedAverage,
		SKUID:        in.SKUID,
		Qty:          in.Qty,
		UnitCost:     in.UnitCost,
		TotalCost:    in.Qty.Mul(in.UnitCost),
		PrevQty:      avg.Qty,
		PrevUnitCost: avg.UnitCost,
	}
	if err := store.UpsertAverage(ctx, blend(avg, in.Qty, in.UnitCost)); err != nil {
		return Detail{}, err
	}
	return detail, nil
}

func (WeightedAverage) Issue(ctx context.Context, store Store, tenantID, skuID int64, qty decimal.Decimal) (Detail, error) {
	avg, err := loadAverage(ctx, store, tenantID, skuID)
	if err != nil {
		return Detail{}, err
	}
	if avg.Qty.LessThan(qty) {
		return Detail{}, &InsufficientStockError{SKUID: skuID, Requested: qty, Available: avg.Qty}
	}
	detail := Detail{
		Method:       MethodWeightedAverage,
		SKUID:        skuID,
		Qty:          qty,
		UnitCost:     avg.UnitCost,
		TotalCost:    qty.Mul(avg.UnitCost),
		PrevQty:      avg.Qty,
		PrevUnitCost: avg.UnitCost,
	}
	avg.Qty = avg.Qty.Sub(qty)
	if err := store.UpsertAverage(ctx, avg); err != nil {
		return Detail{}, err
	}
	return detail, nil
}

func (WeightedAverage) ReverseIssue(ctx context.Context, store Store, tenantID int64, detail Detail) error {
	avg, err := loadAverage(ctx, store, tenantID, detail.SKUID)
	if err != nil {
		return err
	}
	return store.UpsertAverage(ctx, blend(avg, detail.Qty, detail.UnitCost))
}

func (WeightedAverage) ReapplyIssue(ctx context.Context, store Store, tenantID int64, detail Detail) error {
	avg, err := loadAverage(ctx, store, tenantID, detail.SKUID)
	if err != nil {
		return err
	}
	if avg.Qty.LessThan(detail.Qty) {
		return ErrCostBasisMoved
	}
	return store.UpsertAverage(ctx, unblend(avg, detail.Qty, detail.UnitCost))
}

func (WeightedAverage) ReverseReceive(ctx context.Context, store Store, tenantID int64, detail Detail) error {
	avg, err := loadAverage(ctx, store, tenantID, detail.SKUID)
	if err != nil {
		return err
	}
	if avg.Qty.LessThan(detail.Qty) {
		return ErrBatchConsumed
	}
	if avg.Qty.Sub(detail.Qty).Equal(detail.PrevQty) {
		avg.Qty = detail.PrevQty
		avg.UnitCost = detail.PrevUnitCost
		return store.UpsertAverage(ctx, avg)
	}
	return store.UpsertAverage(ctx, unblend(avg, detail.Qty, detail.UnitCost))
}

func (WeightedAverage) CurrentUnitCost(ctx context.Context, store Store, tenantID, skuID int64) (decimal.Decimal, bool, error) {
	avg, err := store.GetAverageForUpdate(ctx, tenantID, skuID)
	if errors.Is(err, ErrAverageNotFound) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	return avg.UnitCost, true, nil
}
