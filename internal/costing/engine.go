package costing

import (
	"context"

	"github.com/shopspring/decimal"
)

// Strategy implements one costing policy. Implementations hold no state.
type Strategy interface {
	Method() Method
	Receive(ctx context.Context, store Store, tenantID int64, in ReceiptInput) (Detail, error)
	Issue(ctx context.Context, store Store, tenantID, skuID int64, qty decimal.Decimal) (Detail, error)
	ReverseIssue(ctx context.Context, store Store, tenantID int64, detail Detail) error
	ReapplyIssue(ctx context.Context, store Store, tenantID int64, detail Detail) error
	ReverseReceive(ctx context.Context, store Store, tenantID int64, detail Detail) error
	CurrentUnitCost(ctx context.Context, store Store, tenantID, skuID int64) (decimal.Decimal, bool, error)
}

// StrategyFor returns the strategy implementing method.
func StrategyFor(method Method) (Strategy, error) {
	switch method {
	case MethodFIFO:
		return FIFO{}, nil
	case MethodWeightedAverage:
		return WeightedAverage{}, nil
	}
	return nil, ErrUnknownMethod
}

// Engine binds a tenant's strategy to the transaction store.
type Engine struct {
	tenantID int64
	strategy Strategy
	store    Store
}

// NewEngine resolves the strategy for method once.
func NewEngine(tenantID int64, method Method, store Store) (*Engine, error) {
	strategy, err := StrategyFor(method)
	if err != nil {
		return nil, err
	}
	return &Engine{tenantID: tenantID, strategy: strategy, store: store}, nil
}

func (e *Engine) Method() Method { return e.strategy.Method() }

// Receive adds stock to the cost basis.
func (e *Engine) Receive(ctx context.Context, in ReceiptInput) (Detail, error) {
	if !in.Qty.IsPositive() {
		return Detail{}, ErrInvalidQty
	}
	if in.UnitCost.IsNegative() {
		return Detail{}, ErrInvalidCost
	}
	return e.strategy.Receive(ctx, e.store, e.tenantID, in)
}

// Issue removes qty from the cost basis and reports the cost of what left.
func (e *Engine) Issue(ctx context.Context, skuID int64, qty decimal.Decimal) (Detail, error) {
	if !qty.IsPositive() {
		return Detail{}, ErrInvalidQty
	}
	return e.strategy.Issue(ctx, e.store, e.tenantID, skuID, qty)
}

// ReverseIssue puts an issue back exactly as it was taken.
func (e *Engine) ReverseIssue(ctx context.Context, detail Detail) error {
	if detail.Method != e.strategy.Method() {
		return ErrCostBasisMoved
	}
	return e.strategy.ReverseIssue(ctx, e.store, e.tenantID, detail)
}

// ReapplyIssue takes a previously reversed issue again.
func (e *Engine) ReapplyIssue(ctx context.Context, detail Detail) error {
	if detail.Method != e.strategy.Method() {
		return ErrCostBasisMoved
	}
	return e.strategy.ReapplyIssue(ctx, e.store, e.tenantID, detail)
}

// ReverseReceive withdraws a receipt that has not been consumed.
func (e *Engine) ReverseReceive(ctx context.Context, detail Detail) error {
	if detail.Method != e.strategy.Method() {
		return ErrCostBasisMoved
	}
	return e.strategy.ReverseReceive(ctx, e.store, e.tenantID, detail)
}

// CurrentUnitCost values stock that arrives without a purchase cost. ok is false when the
// sku has no cost basis yet.
func (e *Engine) CurrentUnitCost(ctx context.Context, skuID int64) (decimal.Decimal, bool, error) {
	return e.strategy.CurrentUnitCost(ctx, e.store, e.tenantID, skuID)
}

func unitCostOf(total, qty decimal.Decimal) decimal.Decimal {
	if qty.IsZero() {
		return decimal.Zero
	}
	return total.DivRound(qty, unitCostPlaces)
}
