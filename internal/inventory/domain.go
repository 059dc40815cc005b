package inventory

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledgercore/internal/costing"
)

// MovementKind enumerates supported stock movements.
type MovementKind string

const (
	KindPurchaseReceipt MovementKind = "PURCHASE_RECEIPT"
	KindSalesIssue      MovementKind = "SALES_ISSUE"
	KindTransferIn      MovementKind = "TRANSFER_IN"
	KindTransferOut     MovementKind = "TRANSFER_OUT"
	KindAuditAdjustment MovementKind = "AUDIT_ADJUSTMENT"
	KindManual          MovementKind = "MANUAL"
)

// checkSign enforces the direction each kind may move stock in.
// Transfer reports whether the kind is one leg of a location transfer.
func (k MovementKind) Transfer() bool { return k == KindTransferOut || k == KindTransferIn }

func (k MovementKind) checkSign(qty decimal.Decimal) error {
	if qty.IsZero() {
		return ErrInvalidQuantity
	}
	switch k {
	case KindPurchaseReceipt, KindTransferIn:
		if qty.IsNegative() {
			return fmt.Errorf("%w: %s must be inbound", ErrInvalidQuantity, k)
		}
	case KindSalesIssue, KindTransferOut:
		if qty.IsPositive() {
			return fmt.Errorf("%w: %s must be outbound", ErrInvalidQuantity, k)
		}
	case KindAuditAdjustment, KindManual:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, k)
	}
	return nil
}

// MovementState is the posting state of a movement.
type MovementState string

const (
	StateDraft    MovementState = "DRAFT"
	StatePosted   MovementState = "POSTED"
	StateRejected MovementState = "REJECTED"
)

// Movement is one line of the stock ledger. Qty is signed.
type Movement struct {
	ID               int64
	TenantID         int64
	SKUID            int64
	Kind             MovementKind
	Qty              decimal.Decimal
	StockBefore      decimal.Decimal
	StockAfter       decimal.Decimal
	UnitCost         *decimal.Decimal
	State            MovementState
	FromLocationID   *int64
	ToLocationID     *int64
	SourceModule     string
	SourceRef        string
	LinkedMovementID *int64
	CostDetail       *costing.Detail
	JournalEntryID   *int64
	PostingSeq       int64
	Revision         int
	RejectReason     string
	CreatedBy        int64
	CreatedAt        time.Time
	PostedAt         *time.Time
	RejectedAt       *time.Time
}

// Inbound reports whether the movement adds stock.
func (m Movement) Inbound() bool { return m.Qty.IsPositive() }

// Balance is the on-hand projection of one sku.
type Balance struct {
	TenantID  int64
	SKUID     int64
	OnHand    decimal.Decimal
	LastSeq   int64
	UpdatedAt time.Time
}

// MovementEvent is an append-only record of a state transition.
type MovementEvent struct {
	ID          int64
	TenantID    int64
	MovementID  int64
	Action      string
	FromState   MovementState
	ToState     MovementState
	Qty         decimal.Decimal
	StockBefore decimal.Decimal
	StockAfter  decimal.Decimal
	ActorID     int64
	Note        string
	At          time.Time
}

// DraftInput describes a movement to record as draft.
type DraftInput struct {
	TenantID         int64        `validate:"required"`
	SKUID            int64        `validate:"required"`
	Kind             MovementKind `validate:"required"`
	Qty              decimal.Decimal
	UnitCost         *decimal.Decimal
	FromLocationID   *int64
	ToLocationID     *int64
	SourceModule     string `validate:"max=64"`
	SourceRef        string `validate:"max=128"`
	LinkedMovementID *int64
	ActorID          int64
}

// UnpostResult reports what an unpost undid so the caller can mirror its journal.
type UnpostResult struct {
	Movement       Movement
	JournalEntryID *int64
	Detail         *costing.Detail
}

var (
	// ErrNegativeStock is matched by every NegativeStockError.
	ErrNegativeStock = errors.New("inventory: negative stock not allowed")
	// ErrInvalidPostingState is matched by every InvalidPostingStateError.
	ErrInvalidPostingState = errors.New("inventory: invalid posting state")
	ErrInvalidQuantity     = errors.New("inventory: quantity must be non zero")
	ErrInvalidUnitCost     = errors.New("inventory: unit cost must be >= 0")
	ErrUnknownKind         = errors.New("inventory: unknown movement kind")
	// ErrUnitCostRequired indicates an inbound movement with no way to value it.
	ErrUnitCostRequired = errors.New("inventory: unit cost required")
	ErrMovementNotFound = errors.New("inventory: movement not found")
	ErrBalanceNotFound  = errors.New("inventory: balance not found")
	// ErrBalanceOutOfSync indicates the on-hand projection no longer matches the movement log.
	ErrBalanceOutOfSync = errors.New("inventory: balance out of sync with movements")
	ErrTransferMismatch = errors.New("inventory: transfer-in does not match its transfer-out")
	// ErrTransferAlreadyReceived indicates a transfer-out that already has its transfer-in.
	ErrTransferAlreadyReceived = errors.New("inventory: transfer-out already has a transfer-in")
)

// NegativeStockError reports a post that would drive on-hand below zero.
type NegativeStockError struct {
	SKUID  int64
	OnHand decimal.Decimal
	Qty    decimal.Decimal
}

func (e *NegativeStockError) Error() string {
	return fmt.Sprintf("inventory: negative stock not allowed for sku %d: on hand %s, movement %s",
		e.SKUID, e.OnHand.String(), e.Qty.String())
}

func (e *NegativeStockError) Is(target error) bool { return target == ErrNegativeStock }

// InvalidPostingStateError reports a transition the state machine refuses.
type InvalidPostingStateError struct {
	MovementID int64
	State      MovementState
	Action     string
	Reason     string
}

func (e *InvalidPostingStateError) Error() string {
	msg := fmt.Sprintf("inventory: cannot %s movement %d in state %s", e.Action, e.MovementID, e.State)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *InvalidPostingStateError) Is(target error) bool { return target == ErrInvalidPostingState }
