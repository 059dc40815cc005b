package posting

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/odyssey-erp/ledgercore/internal/accounting/journals"
	"github.com/odyssey-erp/ledgercore/internal/integration"
	"github.com/odyssey-erp/ledgercore/internal/inventory"
	"github.com/odyssey-erp/ledgercore/internal/shared"
)

// MovementCommand addresses one movement.
type MovementCommand struct {
	TenantID       int64 `validate:"required"`
	MovementID     int64 `validate:"required"`
	ActorID        int64
	IdempotencyKey string
}

// RejectCommand closes a draft.
type RejectCommand struct {
	TenantID   int64 `validate:"required"`
	MovementID int64 `validate:"required"`
	ActorID    int64
	Reason     string `validate:"max=255"`
}

// MovementResult is a movement together with the entry its transition produced, if any.
type MovementResult struct {
	Movement inventory.Movement
	Entry    *journals.Entry
}

// CreateDraftMovement records a movement as draft. No lock is needed: drafts have no ledger effect.
func (s *Service) CreateDraftMovement(ctx context.Context, in inventory.DraftInput) (inventory.Movement, error) {
	if in.Kind.Transfer() {
		return inventory.Movement{}, ErrTransferLeg
	}
	u := unit{op: "create_draft_movement", tenantID: in.TenantID, actorID: in.ActorID}
	var out inventory.Movement
	err := s.run(ctx, u, func(ctx context.Context, sc *scope) error {
		m, err := s.ledger.CreateDraft(ctx, sc.tx.Stock(), in)
		if err != nil {
			return err
		}
		out = m
		return nil
	})
	if err != nil {
		return inventory.Movement{}, err
	}
	s.record(ctx, u, "stock_movement", strconv.FormatInt(out.ID, 10), map[string]any{"kind": out.Kind, "qty": out.Qty.String()})
	return out, nil
}

// PostStockMovement posts a draft movement and its journal entry.
func (s *Service) PostStockMovement(ctx context.Context, cmd MovementCommand) (MovementResult, error) {
	if err := shared.Validate(cmd); err != nil {
		return MovementResult{}, err
	}
	target, err := s.peekMovement(ctx, cmd.TenantID, cmd.MovementID)
	if err != nil {
		return MovementResult{}, err
	}
	if target.Kind.Transfer() {
		return MovementResult{}, ErrTransferLeg
	}
	u := unit{
		op:          "post_stock_movement",
		tenantID:    cmd.TenantID,
		actorID:     cmd.ActorID,
		locks:       []string{shared.SKULockKey(cmd.TenantID, target.SKUID)},
		idemKey:     cmd.IdempotencyKey,
		withChart:   true,
		withCosting: true,
	}
	var out MovementResult
	err = s.run(ctx, u, func(ctx context.Context, sc *scope) error {
		res, err := s.postMovement(ctx, sc, cmd.TenantID, cmd.MovementID, cmd.ActorID)
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	if err != nil {
		return MovementResult{}, err
	}
	s.record(ctx, u, "stock_movement", strconv.FormatInt(out.Movement.ID, 10), movementMeta(out))
	return out, nil
}

// UnpostStockMovement returns the latest posted movement of a sku to draft and mirrors its entry.
// A transfer leg takes its partner with it.
func (s *Service) UnpostStockMovement(ctx context.Context, cmd MovementCommand) (MovementResult, error) {
	if err := shared.Validate(cmd); err != nil {
		return MovementResult{}, err
	}
	target, err := s.peekMovement(ctx, cmd.TenantID, cmd.MovementID)
	if err != nil {
		return MovementResult{}, err
	}
	u := unit{
		op:          "unpost_stock_movement",
		tenantID:    cmd.TenantID,
		actorID:     cmd.ActorID,
		locks:       []string{shared.SKULockKey(cmd.TenantID, target.SKUID)},
		idemKey:     cmd.IdempotencyKey,
		withCosting: true,
	}
	var out MovementResult
	err = s.run(ctx, u, func(ctx context.Context, sc *scope) error {
		if target.Kind.Transfer() {
			m, err := s.unpostTransfer(ctx, sc, cmd)
			if err != nil {
				return err
			}
			out.Movement = m
			return nil
		}
		res, err := s.ledger.Unpost(ctx, sc.tx.Stock(), sc.engine, cmd.TenantID, cmd.MovementID, cmd.ActorID)
		if err != nil {
			return err
		}
		out.Movement = res.Movement
		if res.JournalEntryID == nil {
			return nil
		}
		reversal, err := s.book.Reverse(ctx, sc.tx.Journal(), journals.ReverseInput{
			TenantID: cmd.TenantID,
			EntryID:  *res.JournalEntryID,
			Date:     s.now(),
			PostedBy: cmd.ActorID,
		})
		if err != nil {
			return fmt.Errorf("reverse movement entry: %w", err)
		}
		out.Entry = &reversal
		return nil
	})
	if err != nil {
		return MovementResult{}, err
	}
	s.record(ctx, u, "stock_movement", strconv.FormatInt(out.Movement.ID, 10), movementMeta(out))
	return out, nil
}

// RejectStockMovement closes a draft movement.
func (s *Service) RejectStockMovement(ctx context.Context, cmd RejectCommand) (inventory.Movement, error) {
	if err := shared.Validate(cmd); err != nil {
		return inventory.Movement{}, err
	}
	u := unit{op: "reject_stock_movement", tenantID: cmd.TenantID, actorID: cmd.ActorID}
	var out inventory.Movement
	err := s.run(ctx, u, func(ctx context.Context, sc *scope) error {
		m, err := s.ledger.Reject(ctx, sc.tx.Stock(), cmd.TenantID, cmd.MovementID, cmd.ActorID, cmd.Reason)
		if err != nil {
			return err
		}
		out = m
		return nil
	})
	if err != nil {
		return inventory.Movement{}, err
	}
	s.record(ctx, u, "stock_movement", strconv.FormatInt(out.ID, 10), map[string]any{"reason": cmd.Reason})
	return out, nil
}

// peekMovement reads a movement so its sku lock can be taken before the posting unit starts.
// Sku and kind never change after insert.
func (s *Service) peekMovement(ctx context.Context, tenantID, movementID int64) (inventory.Movement, error) {
	var out inventory.Movement
	err := s.uow.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		m, err := tx.Stock().GetMovementForUpdate(ctx, tenantID, movementID)
		if err != nil {
			return err
		}
		out = m
		return nil
	})
	return out, err
}

// unpostTransfer returns both legs of a transfer to draft, the transfer-in first so the
// transfer-out is the latest posted movement when its turn comes.
func (s *Service) unpostTransfer(ctx context.Context, sc *scope, cmd MovementCommand) (inventory.Movement, error) {
	stock := sc.tx.Stock()
	m, err := stock.GetMovementForUpdate(ctx, cmd.TenantID, cmd.MovementID)
	if err != nil {
		return inventory.Movement{}, err
	}
	var inID, outID int64
	switch m.Kind {
	case inventory.KindTransferIn:
		if m.LinkedMovementID == nil {
			return inventory.Movement{}, inventory.ErrTransferMismatch
		}
		inID, outID = m.ID, *m.LinkedMovementID
	case inventory.KindTransferOut:
		outID = m.ID
		in, err := stock.TransferInFor(ctx, cmd.TenantID, m.ID)
		switch {
		case err == nil && in.State == inventory.StatePosted:
			inID = in.ID
		case err != nil && !errors.Is(err, inventory.ErrMovementNotFound):
			return inventory.Movement{}, err
		}
	default:
		return inventory.Movement{}, inventory.ErrTransferMismatch
	}
	var target inventory.Movement
	for _, id := range []int64{inID, outID} {
		if id == 0 {
			continue
		}
		res, err := s.ledger.Unpost(ctx, stock, sc.engine, cmd.TenantID, id, cmd.ActorID)
		if err != nil {
			return inventory.Movement{}, fmt.Errorf("unpost transfer leg %d: %w", id, err)
		}
		if id == m.ID {
			target = res.Movement
		}
	}
	return target, nil
}

// postMovement posts a draft inside the current unit and books its entry.
func (s *Service) postMovement(ctx context.Context, sc *scope, tenantID, movementID, actorID int64) (MovementResult, error) {
	m, err := s.ledger.Post(ctx, sc.tx.Stock(), sc.engine, tenantID, movementID, actorID)
	if err != nil {
		return MovementResult{}, err
	}
	in, ok := integration.MovementPosting(m, *m.PostedAt, actorID)
	if !ok {
		return MovementResult{Movement: m}, nil
	}
	entry, err := s.book.Post(ctx, sc.tx.Journal(), sc.chart, in)
	if err != nil {
		return MovementResult{}, fmt.Errorf("post movement %d entry: %w", m.ID, err)
	}
	m, err = s.ledger.AttachJournal(ctx, sc.tx.Stock(), m, entry.ID)
	if err != nil {
		return MovementResult{}, err
	}
	return MovementResult{Movement: m, Entry: &entry}, nil
}

// draftAndPost creates a draft and posts it in the same unit.
func (s *Service) draftAndPost(ctx context.Context, sc *scope, in inventory.DraftInput) (MovementResult, error) {
	draft, err := s.ledger.CreateDraft(ctx, sc.tx.Stock(), in)
	if err != nil {
		return MovementResult{}, err
	}
	return s.postMovement(ctx, sc, in.TenantID, draft.ID, in.ActorID)
}

func movementMeta(res MovementResult) map[string]any {
	meta := map[string]any{
		"kind":  res.Movement.Kind,
		"state": res.Movement.State,
		"qty":   res.Movement.Qty.String(),
	}
	if res.Entry != nil {
		meta["entry_number"] = res.Entry.Number
	}
	return meta
}
