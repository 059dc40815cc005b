package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledgercore/internal/costing"
	"github.com/odyssey-erp/ledgercore/internal/shared"
)

// TxRepository exposes transactional operations used by the ledger.
type TxRepository interface {
	InsertMovement(ctx context.Context, m Movement) (Movement, error)
	GetMovementForUpdate(ctx context.Context, tenantID, movementID int64) (Movement, error)
	UpdateMovement(ctx context.Context, m Movement) error
	LatestPosted(ctx context.Context, tenantID, skuID int64) (Movement, error)
	// TransferInFor returns the non-rejected transfer-in linked to a transfer-out, or ErrMovementNotFound.
	TransferInFor(ctx context.Context, tenantID, outID int64) (Movement, error)
	GetBalanceForUpdate(ctx context.Context, tenantID, skuID int64) (Balance, error)
	UpsertBalance(ctx context.Context, balance Balance) error
	InsertEvent(ctx context.Context, evt MovementEvent) error
}

// Ledger runs the movement state machine. It never commits; the caller owns the transaction.
type Ledger struct {
	now func() time.Time
}

func NewLedger() *Ledger {
	return &Ledger{now: time.Now}
}

func (l *Ledger) WithNow(now func() time.Time) {
	if now != nil {
		l.now = now
	}
}

// CreateDraft records a movement without any ledger effect.
func (l *Ledger) CreateDraft(ctx context.Context, tx TxRepository, in DraftInput) (Movement, error) {
	if err := shared.Validate(in); err != nil {
		return Movement{}, err
	}
	if err := in.Kind.checkSign(in.Qty); err != nil {
		return Movement{}, err
	}
	if in.UnitCost != nil && in.UnitCost.IsNegative() {
		return Movement{}, ErrInvalidUnitCost
	}
	if in.Kind == KindPurchaseReceipt && in.UnitCost == nil {
		return Movement{}, ErrUnitCostRequired
	}
	if in.Kind == KindTransferIn {
		if in.LinkedMovementID == nil {
			return Movement{}, ErrTransferMismatch
		}
		if err := l.ensureUnpaired(ctx, tx, in.TenantID, *in.LinkedMovementID, 0); err != nil {
			return Movement{}, err
		}
	}
	now := l.now().UTC()
	m := Movement{
		TenantID:         in.TenantID,
		SKUID:            in.SKUID,
		Kind:             in.Kind,
		Qty:              in.Qty,
		StockBefore:      decimal.Zero,
		StockAfter:       decimal.Zero,
		UnitCost:         in.UnitCost,
		State:            StateDraft,
		FromLocationID:   in.FromLocationID,
		ToLocationID:     in.ToLocationID,
		SourceModule:     in.SourceModule,
		SourceRef:        in.SourceRef,
		LinkedMovementID: in.LinkedMovementID,
		CreatedBy:        in.ActorID,
		CreatedAt:        now,
	}
	inserted, err := tx.InsertMovement(ctx, m)
	if err != nil {
		return Movement{}, err
	}
	if err := tx.InsertEvent(ctx, MovementEvent{
		TenantID:   inserted.TenantID,
		MovementID: inserted.ID,
		Action:     "create",
		ToState:    StateDraft,
		Qty:        inserted.Qty,
		ActorID:    in.ActorID,
		At:         now,
	}); err != nil {
		return Movement{}, err
	}
	return inserted, nil
}

func (l *Ledger) loadBalance(ctx context.Context, tx TxRepository, tenantID, skuID int64) (Balance, error) {
	balance, err := tx.GetBalanceForUpdate(ctx, tenantID, skuID)
	if errors.Is(err, ErrBalanceNotFound) {
		return Balance{TenantID: tenantID, SKUID: skuID, OnHand: decimal.Zero}, nil
	}
	return balance, err
}

// Post makes a draft authoritative: on-hand changes and the cost basis is updated.
func (l *Ledger) Post(ctx context.Context, tx TxRepository, engine *costing.Engine, tenantID, movementID, actorID int64) (Movement, error) {
	m, err := tx.GetMovementForUpdate(ctx, tenantID, movementID)
	if err != nil {
		return Movement{}, err
	}
	if m.State != StateDraft {
		return Movement{}, &InvalidPostingStateError{MovementID: m.ID, State: m.State, Action: "post"}
	}
	balance, err := l.loadBalance(ctx, tx, tenantID, m.SKUID)
	if err != nil {
		return Movement{}, err
	}
	after := balance.OnHand.Add(m.Qty)
	if after.IsNegative() {
		return Movement{}, &NegativeStockError{SKUID: m.SKUID, OnHand: balance.OnHand, Qty: m.Qty}
	}
	now := l.now().UTC()

	detail, err := l.applyCosting(ctx, tx, engine, m, now)
	if err != nil {
		return Movement{}, err
	}

	balance.OnHand = after
	balance.LastSeq++
	balance.UpdatedAt = now
	if err := tx.UpsertBalance(ctx, balance); err != nil {
		return Movement{}, err
	}

	m.StockBefore = after.Sub(m.Qty)
	m.StockAfter = after
	m.State = StatePosted
	m.CostDetail = &detail
	m.PostingSeq = balance.LastSeq
	m.Revision++
	m.PostedAt = &now
	if err := tx.UpdateMovement(ctx, m); err != nil {
		return Movement{}, err
	}
	if err := tx.InsertEvent(ctx, MovementEvent{
		TenantID:    tenantID,
		MovementID:  m.ID,
		Action:      "post",
		FromState:   StateDraft,
		ToState:     StatePosted,
		Qty:         m.Qty,
		StockBefore: m.StockBefore,
		StockAfter:  m.StockAfter,
		ActorID:     actorID,
		At:          now,
	}); err != nil {
		return Movement{}, err
	}
	return m, nil
}

func (l *Ledger) applyCosting(ctx context.Context, tx TxRepository, engine *costing.Engine, m Movement, now time.Time) (costing.Detail, error) {
	if !m.Inbound() {
		return engine.Issue(ctx, m.SKUID, m.Qty.Neg())
	}
	if m.Kind == KindTransferIn {
		out, err := l.linkedTransferOut(ctx, tx, m)
		if err != nil {
			return costing.Detail{}, err
		}
		if err := engine.ReverseIssue(ctx, *out.CostDetail); err != nil {
			return costing.Detail{}, err
		}
		return *out.CostDetail, nil
	}
	var unitCost decimal.Decimal
	if m.UnitCost != nil {
		unitCost = *m.UnitCost
	} else {
		current, ok, err := engine.CurrentUnitCost(ctx, m.SKUID)
		if err != nil {
			return costing.Detail{}, err
		}
		if !ok {
			return costing.Detail{}, ErrUnitCostRequired
		}
		unitCost = current
	}
	return engine.Receive(ctx, costing.ReceiptInput{
		SKUID:      m.SKUID,
		Qty:        m.Qty,
		UnitCost:   unitCost,
		ReceivedAt: now,
		MovementID: m.ID,
	})
}

func (l *Ledger) linkedTransferOut(ctx context.Context, tx TxRepository, in Movement) (Movement, error) {
	if in.LinkedMovementID == nil {
		return Movement{}, ErrTransferMismatch
	}
	out, err := tx.GetMovementForUpdate(ctx, in.TenantID, *in.LinkedMovementID)
	if err != nil {
		return Movement{}, err
	}
	if out.Kind != KindTransferOut || out.SKUID != in.SKUID || !out.Qty.Neg().Equal(in.Qty) {
		return Movement{}, ErrTransferMismatch
	}
	if out.State != StatePosted || out.CostDetail == nil {
		return Movement{}, &InvalidPostingStateError{MovementID: in.ID, State: in.State, Action: "post", Reason: "linked transfer-out is not posted"}
	}
	if err := l.ensureUnpaired(ctx, tx, in.TenantID, out.ID, in.ID); err != nil {
		return Movement{}, err
	}
	return out, nil
}

// ensureUnpaired fails when a transfer-in other than self already links outID.
func (l *Ledger) ensureUnpaired(ctx context.Context, tx TxRepository, tenantID, outID, self int64) error {
	paired, err := tx.TransferInFor(ctx, tenantID, outID)
	if errors.Is(err, ErrMovementNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if paired.ID != self {
		return fmt.Errorf("%w: movement %d is linked by %d", ErrTransferAlreadyReceived, outID, paired.ID)
	}
	return nil
}

// Unpost returns the latest posted movement of its sku to draft, restoring on-hand and cost basis.
func (l *Ledger) Unpost(ctx context.Context, tx TxRepository, engine *costing.Engine, tenantID, movementID, actorID int64) (UnpostResult, error) {
	m, err := tx.GetMovementForUpdate(ctx, tenantID, movementID)
	if err != nil {
		return UnpostResult{}, err
	}
	if m.State != StatePosted {
		return UnpostResult{}, &InvalidPostingStateError{MovementID: m.ID, State: m.State, Action: "unpost"}
	}
	balance, err := tx.GetBalanceForUpdate(ctx, tenantID, m.SKUID)
	if err != nil {
		return UnpostResult{}, err
	}
	latest, err := tx.LatestPosted(ctx, tenantID, m.SKUID)
	if err != nil {
		return UnpostResult{}, err
	}
	if latest.ID != m.ID {
		return UnpostResult{}, &InvalidPostingStateError{MovementID: m.ID, State: m.State, Action: "unpost", Reason: "not the latest posted movement of its sku"}
	}
	if !balance.OnHand.Equal(m.StockAfter) {
		return UnpostResult{}, ErrBalanceOutOfSync
	}
	if m.CostDetail == nil {
		return UnpostResult{}, ErrBalanceOutOfSync
	}
	detail := *m.CostDetail
	switch {
	case !m.Inbound():
		err = engine.ReverseIssue(ctx, detail)
	case m.Kind == KindTransferIn:
		err = engine.ReapplyIssue(ctx, detail)
	default:
		err = engine.ReverseReceive(ctx, detail)
	}
	if err != nil {
		return UnpostResult{}, err
	}

	now := l.now().UTC()
	balance.OnHand = m.StockBefore
	balance.UpdatedAt = now
	if err := tx.UpsertBalance(ctx, balance); err != nil {
		return UnpostResult{}, err
	}

	result := UnpostResult{JournalEntryID: m.JournalEntryID, Detail: &detail}
	before, after := m.StockBefore, m.StockAfter
	m.State = StateDraft
	m.StockBefore = decimal.Zero
	m.StockAfter = decimal.Zero
	m.CostDetail = nil
	m.JournalEntryID = nil
	m.PostingSeq = 0
	m.PostedAt = nil
	if err := tx.UpdateMovement(ctx, m); err != nil {
		return UnpostResult{}, err
	}
	if err := tx.InsertEvent(ctx, MovementEvent{
		TenantID:    tenantID,
		MovementID:  m.ID,
		Action:      "unpost",
		FromState:   StatePosted,
		ToState:     StateDraft,
		Qty:         m.Qty,
		StockBefore: after,
		StockAfter:  before,
		ActorID:     actorID,
		At:          now,
	}); err != nil {
		return UnpostResult{}, err
	}
	result.Movement = m
	return result, nil
}

// Reject closes a draft without ledger effect.
func (l *Ledger) Reject(ctx context.Context, tx TxRepository, tenantID, movementID, actorID int64, reason string) (Movement, error) {
	m, err := tx.GetMovementForUpdate(ctx, tenantID, movementID)
	if err != nil {
		return Movement{}, err
	}
	if m.State != StateDraft {
		return Movement{}, &InvalidPostingStateError{MovementID: m.ID, State: m.State, Action: "reject"}
	}
	now := l.now().UTC()
	m.State = StateRejected
	m.RejectReason = reason
	m.RejectedAt = &now
	if err := tx.UpdateMovement(ctx, m); err != nil {
		return Movement{}, err
	}
	if err := tx.InsertEvent(ctx, MovementEvent{
		TenantID:   tenantID,
		MovementID: m.ID,
		Action:     "reject",
		FromState:  StateDraft,
		ToState:    StateRejected,
		Qty:        m.Qty,
		ActorID:    actorID,
		Note:       reason,
		At:         now,
	}); err != nil {
		return Movement{}, err
	}
	return m, nil
}

// AttachJournal links the entry posted for a movement.
func (l *Ledger) AttachJournal(ctx context.Context, tx TxRepository, m Movement, entryID int64) (Movement, error) {
	m.JournalEntryID = &entryID
	if err := tx.UpdateMovement(ctx, m); err != nil {
		return Movement{}, err
	}
	return m, nil
}
