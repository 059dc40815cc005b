package costing

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Method selects how a tenant values issued stock.
type Method string

const (
	MethodFIFO            Method = "FIFO"
	MethodWeightedAverage Method = "WEIGHTED_AVERAGE"
)

// ParseMethod normalises a configured costing policy.
func ParseMethod(raw string) (Method, error) {
	switch Method(strings.ToUpper(strings.TrimSpace(raw))) {
	case MethodFIFO:
		return MethodFIFO, nil
	case MethodWeightedAverage, "WAC", "AVERAGE":
		return MethodWeightedAverage, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMethod, raw)
}

// unitCostPlaces is the precision kept for derived unit costs.
const unitCostPlaces int32 = 6

// Batch is a FIFO lot created by a posted receipt.
type Batch struct {
	ID                int64
	TenantID          int64
	SKUID             int64
	QtyReceived       decimal.Decimal
	QtyRemaining      decimal.Decimal
	UnitCost          decimal.Decimal
	ReceivedAt        time.Time
	ReceiptMovementID int64
	Active            bool
}

// Average is the weighted-average cost basis of a sku.
type Average struct {
	TenantID  int64
	SKUID     int64
	Qty       decimal.Decimal
	UnitCost  decimal.Decimal
	UpdatedAt time.Time
}

// Consumption records how much of one batch an issue used.
type Consumption struct {
	BatchID  int64           `json:"batch_id"`
	Qty      decimal.Decimal `json:"qty"`
	UnitCost decimal.Decimal `json:"unit_cost"`
}

// Detail describes one costing mutation precisely enough to undo it.
type Detail struct {
	Method       Method          `json:"method"`
	SKUID        int64           `json:"sku_id"`
	Qty          decimal.Decimal `json:"qty"`
	UnitCost     decimal.Decimal `json:"unit_cost"`
	TotalCost    decimal.Decimal `json:"total_cost"`
	Consumptions []Consumption   `json:"consumptions,omitempty"`
	BatchID      int64           `json:"batch_id,omitempty"`
	PrevQty      decimal.Decimal `json:"prev_qty"`
	PrevUnitCost decimal.Decimal `json:"prev_unit_cost"`
}

// ConsumedQty sums the quantity taken from batches.
func (d Detail) ConsumedQty() decimal.Decimal {
	total := decimal.Zero
	for _, c := range d.Consumptions {
		total = total.Add(c.Qty)
	}
	return total
}

// ReceiptInput describes stock entering the cost basis.
type ReceiptInput struct {
	SKUID      int64
	Qty        decimal.Decimal
	UnitCost   decimal.Decimal
	ReceivedAt time.Time
	MovementID int64
}

var (
	// ErrInsufficientStock is matched by every InsufficientStockError.
	ErrInsufficientStock = errors.New("costing: insufficient stock")
	// ErrBatchConsumed is returned when a receipt is undone after part of it was issued.
	ErrBatchConsumed = errors.New("costing: receipt batch already consumed")
	// ErrCostBasisMoved is returned when a recorded detail no longer matches the cost basis.
	ErrCostBasisMoved = errors.New("costing: cost basis changed since detail was recorded")
	ErrUnknownMethod  = errors.New("costing: unknown costing method")
	ErrInvalidQty     = errors.New("costing: quantity must be positive")
	ErrInvalidCost    = errors.New("costing: unit cost must be >= 0")
	ErrBatchNotFound  = errors.New("costing: batch not found")
	// ErrAverageNotFound signals a sku without a weighted-average row yet.
	ErrAverageNotFound = errors.New("costing: average not found")
)

// InsufficientStockError reports an issue larger than the available cost basis.
type InsufficientStockError struct {
	SKUID     int64
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("costing: insufficient stock for sku %d: requested %s, available %s",
		e.SKUID, e.Requested.String(), e.Available.String())
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}
