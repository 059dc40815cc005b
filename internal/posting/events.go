package posting

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledgercore/internal/accounting/journals"
	"github.com/odyssey-erp/ledgercore/internal/accounting/mappings"
	"github.com/odyssey-erp/ledgercore/internal/integration"
	"github.com/odyssey-erp/ledgercore/internal/inventory"
	"github.com/odyssey-erp/ledgercore/internal/shared"
)

// Source modules recorded on movements created by business events.
const (
	ModuleReceipt  = "purchasing.receipt"
	ModuleSale     = "sales.invoice"
	ModuleAudit    = "inventory.audit"
	ModuleTransfer = "inventory.transfer"
)

// ReceiptLine is one sku of a goods receipt.
type ReceiptLine struct {
	SKUID    int64 `validate:"required"`
	Qty      decimal.Decimal
	UnitCost decimal.Decimal
}

// ReceivePurchaseInput records goods received against a purchase.
type ReceivePurchaseInput struct {
	TenantID       int64  `validate:"required"`
	ReceiptRef     string `validate:"required,max=128"`
	LocationID     *int64
	Lines          []ReceiptLine `validate:"required,min=1,dive"`
	ActorID        int64
	IdempotencyKey string
}

// SaleLine is one sku of a sale.
type SaleLine struct {
	SKUID     int64 `validate:"required"`
	Qty       decimal.Decimal
	UnitPrice decimal.Decimal
}

// FinalizeSaleInput finalizes a sale: stock issues plus the revenue entry.
type FinalizeSaleInput struct {
	TenantID   int64  `validate:"required"`
	SaleRef    string `validate:"required,max=128"`
	LocationID *int64
	Lines      []SaleLine `validate:"required,min=1,dive"`
	// TaxRate is the pre-resolved rate, 0.11 for 11%.
	TaxRate decimal.Decimal
	// SettleTo is RoleAccountsReceivable (default) or RoleCustomerWallet.
	SettleTo       mappings.Role
	ActorID        int64
	IdempotencyKey string
}

// CountLine is the counted quantity of one sku.
type CountLine struct {
	SKUID   int64 `validate:"required"`
	Counted decimal.Decimal
	// UnitCost values an overage; without it the current cost basis is used.
	UnitCost *decimal.Decimal
}

// AuditAdjustmentInput applies a stock count.
type AuditAdjustmentInput struct {
	TenantID       int64       `validate:"required"`
	AuditRef       string      `validate:"required,max=128"`
	Counts         []CountLine `validate:"required,min=1,dive"`
	ActorID        int64
	IdempotencyKey string
}

// TransferInput moves stock between two locations.
type TransferInput struct {
	TenantID       int64 `validate:"required"`
	SKUID          int64 `validate:"required"`
	Qty            decimal.Decimal
	FromLocationID int64  `validate:"required"`
	ToLocationID   int64  `validate:"required,nefield=FromLocationID"`
	TransferRef    string `validate:"max=128"`
	ActorID        int64
	IdempotencyKey string
}

// EventResult lists what a business event posted.
type EventResult struct {
	Movements []inventory.Movement
	Entries   []journals.Entry
}

func (r *EventResult) add(res MovementResult) {
	r.Movements = append(r.Movements, res.Movement)
	if res.Entry != nil {
		r.Entries = append(r.Entries, *res.Entry)
	}
}

// SaleResult is an EventResult plus the revenue entry, absent for a zero-value sale.
type SaleResult struct {
	EventResult
	Revenue *journals.Entry
}

// TransferResult holds both legs of a transfer.
type TransferResult struct {
	Out inventory.Movement
	In  inventory.Movement
}

// ReceivePurchase posts one receipt movement per line, each with Dr Inventory / Cr AP.
func (s *Service) ReceivePurchase(ctx context.Context, in ReceivePurchaseInput) (EventResult, error) {
	if err := shared.Validate(in); err != nil {
		return EventResult{}, err
	}
	u := unit{
		op:          "receive_purchase",
		tenantID:    in.TenantID,
		actorID:     in.ActorID,
		locks:       lineLocks(in.TenantID, len(in.Lines), func(i int) int64 { return in.Lines[i].SKUID }),
		idemKey:     in.IdempotencyKey,
		withChart:   true,
		withCosting: true,
	}
	var out EventResult
	err := s.run(ctx, u, func(ctx context.Context, sc *scope) error {
		for _, line := range in.Lines {
			cost := line.UnitCost
			res, err := s.draftAndPost(ctx, sc, inventory.DraftInput{
				TenantID:     in.TenantID,
				SKUID:        line.SKUID,
				Kind:         inventory.KindPurchaseReceipt,
				Qty:          line.Qty,
				UnitCost:     &cost,
				ToLocationID: in.LocationID,
				SourceModule: ModuleReceipt,
				SourceRef:    in.ReceiptRef,
				ActorID:      in.ActorID,
			})
			if err != nil {
				return fmt.Errorf("receipt sku %d: %w", line.SKUID, err)
			}
			out.add(res)
		}
		return nil
	})
	if err != nil {
		return EventResult{}, err
	}
	s.record(ctx, u, "purchase_receipt", in.ReceiptRef, map[string]any{"lines": len(in.Lines)})
	return out, nil
}

// FinalizeSale issues every line (Dr COGS / Cr Inventory each) and posts the revenue entry
// Dr Receivable-or-Wallet / Cr Sales Revenue, Cr Tax Payable.
func (s *Service) FinalizeSale(ctx context.Context, in FinalizeSaleInput) (SaleResult, error) {
	if err := shared.Validate(in); err != nil {
		return SaleResult{}, err
	}
	settle := in.SettleTo
	if settle == "" {
		settle = mappings.RoleAccountsReceivable
	}
	if settle != mappings.RoleAccountsReceivable && settle != mappings.RoleCustomerWallet {
		return SaleResult{}, fmt.Errorf("%w: sale cannot settle to %s", shared.ErrValidation, settle)
	}
	if in.TaxRate.IsNegative() {
		return SaleResult{}, fmt.Errorf("%w: tax rate must be >= 0", shared.ErrValidation)
	}
	net := decimal.Zero
	for idx, line := range in.Lines {
		if !line.Qty.IsPositive() {
			return SaleResult{}, fmt.Errorf("%w: line %d qty must be positive", shared.ErrValidation, idx)
		}
		if line.UnitPrice.IsNegative() || !shared.IsMinorUnit(line.UnitPrice) {
			return SaleResult{}, fmt.Errorf("%w: line %d unit price must be a non-negative money amount", shared.ErrValidation, idx)
		}
		net = net.Add(shared.RoundMoney(line.Qty.Mul(line.UnitPrice)))
	}
	tax := shared.RoundMoney(net.Mul(in.TaxRate))

	u := unit{
		op:          "finalize_sale",
		tenantID:    in.TenantID,
		actorID:     in.ActorID,
		locks:       lineLocks(in.TenantID, len(in.Lines), func(i int) int64 { return in.Lines[i].SKUID }),
		idemKey:     in.IdempotencyKey,
		withChart:   true,
		withCosting: true,
	}
	var out SaleResult
	err := s.run(ctx, u, func(ctx context.Context, sc *scope) error {
		for _, line := range in.Lines {
			res, err := s.draftAndPost(ctx, sc, inventory.DraftInput{
				TenantID:       in.TenantID,
				SKUID:          line.SKUID,
				Kind:           inventory.KindSalesIssue,
				Qty:            line.Qty.Neg(),
				FromLocationID: in.LocationID,
				SourceModule:   ModuleSale,
				SourceRef:      in.SaleRef,
				ActorID:        in.ActorID,
			})
			if err != nil {
				return fmt.Errorf("sale sku %d: %w", line.SKUID, err)
			}
			out.add(res)
		}
		if net.IsZero() {
			return nil
		}
		revenue, err := s.book.Post(ctx, sc.tx.Journal(), sc.chart, integration.SalePosting(integration.SaleRevenue{
			TenantID: in.TenantID,
			SaleRef:  in.SaleRef,
			Date:     s.now(),
			Net:      net,
			Tax:      tax,
			SettleTo: settle,
			ActorID:  in.ActorID,
		}))
		if err != nil {
			return fmt.Errorf("sale revenue: %w", err)
		}
		out.Revenue = &revenue
		return nil
	})
	if err != nil {
		return SaleResult{}, err
	}
	s.record(ctx, u, "sale", in.SaleRef, map[string]any{"net": net.String(), "tax": tax.String(), "settle_to": settle})
	return out, nil
}

// ApplyAuditAdjustments posts counted minus on-hand for every counted sku. Skus whose count
// matches the books produce nothing.
func (s *Service) ApplyAuditAdjustments(ctx context.Context, in AuditAdjustmentInput) (EventResult, error) {
	if err := shared.Validate(in); err != nil {
		return EventResult{}, err
	}
	seen := make(map[int64]struct{}, len(in.Counts))
	for idx, c := range in.Counts {
		if c.Counted.IsNegative() {
			return EventResult{}, fmt.Errorf("%w: count %d is negative", shared.ErrValidation, idx)
		}
		if _, dup := seen[c.SKUID]; dup {
			return EventResult{}, fmt.Errorf("%w: sku %d counted twice", shared.ErrValidation, c.SKUID)
		}
		seen[c.SKUID] = struct{}{}
	}
	u := unit{
		op:          "apply_audit_adjustments",
		tenantID:    in.TenantID,
		actorID:     in.ActorID,
		locks:       lineLocks(in.TenantID, len(in.Counts), func(i int) int64 { return in.Counts[i].SKUID }),
		idemKey:     in.IdempotencyKey,
		withChart:   true,
		withCosting: true,
	}
	var out EventResult
	err := s.run(ctx, u, func(ctx context.Context, sc *scope) error {
		for _, c := range in.Counts {
			onHand := decimal.Zero
			balance, err := sc.tx.Stock().GetBalanceForUpdate(ctx, in.TenantID, c.SKUID)
			switch {
			case err == nil:
				onHand = balance.OnHand
			case !errors.Is(err, inventory.ErrBalanceNotFound):
				return err
			}
			diff := c.Counted.Sub(onHand)
			if diff.IsZero() {
				continue
			}
			res, err := s.draftAndPost(ctx, sc, inventory.DraftInput{
				TenantID:     in.TenantID,
				SKUID:        c.SKUID,
				Kind:         inventory.KindAuditAdjustment,
				Qty:          diff,
				UnitCost:     c.UnitCost,
				SourceModule: ModuleAudit,
				SourceRef:    in.AuditRef,
				ActorID:      in.ActorID,
			})
			if err != nil {
				return fmt.Errorf("adjust sku %d: %w", c.SKUID, err)
			}
			out.add(res)
		}
		return nil
	})
	if err != nil {
		return EventResult{}, err
	}
	s.record(ctx, u, "stock_audit", in.AuditRef, map[string]any{"adjusted": len(out.Movements)})
	return out, nil
}

// TransferStock posts a transfer-out and its linked transfer-in. Cost layers move with the
// goods, so no journal entry is produced.
func (s *Service) TransferStock(ctx context.Context, in TransferInput) (TransferResult, error) {
	if err := shared.Validate(in); err != nil {
		return TransferResult{}, err
	}
	if !in.Qty.IsPositive() {
		return TransferResult{}, fmt.Errorf("%w: transfer qty must be positive", shared.ErrValidation)
	}
	u := unit{
		op:          "transfer_stock",
		tenantID:    in.TenantID,
		actorID:     in.ActorID,
		locks:       []string{shared.SKULockKey(in.TenantID, in.SKUID)},
		idemKey:     in.IdempotencyKey,
		withChart:   true,
		withCosting: true,
	}
	from, to := in.FromLocationID, in.ToLocationID
	var out TransferResult
	err := s.run(ctx, u, func(ctx context.Context, sc *scope) error {
		outLeg, err := s.draftAndPost(ctx, sc, inventory.DraftInput{
			TenantID:       in.TenantID,
			SKUID:          in.SKUID,
			Kind:           inventory.KindTransferOut,
			Qty:            in.Qty.Neg(),
			FromLocationID: &from,
			ToLocationID:   &to,
			SourceModule:   ModuleTransfer,
			SourceRef:      in.TransferRef,
			ActorID:        in.ActorID,
		})
		if err != nil {
			return fmt.Errorf("transfer out: %w", err)
		}
		linked := outLeg.Movement.ID
		inLeg, err := s.draftAndPost(ctx, sc, inventory.DraftInput{
			TenantID:         in.TenantID,
			SKUID:            in.SKUID,
			Kind:             inventory.KindTransferIn,
			Qty:              in.Qty,
			FromLocationID:   &from,
			ToLocationID:     &to,
			SourceModule:     ModuleTransfer,
			SourceRef:        in.TransferRef,
			LinkedMovementID: &linked,
			ActorID:          in.ActorID,
		})
		if err != nil {
			return fmt.Errorf("transfer in: %w", err)
		}
		out = TransferResult{Out: outLeg.Movement, In: inLeg.Movement}
		return nil
	})
	if err != nil {
		return TransferResult{}, err
	}
	s.record(ctx, u, "stock_transfer", in.TransferRef, map[string]any{
		"sku_id": in.SKUID, "qty": in.Qty.String(), "out_id": out.Out.ID, "in_id": out.In.ID,
	})
	return out, nil
}

func lineLocks(tenantID int64, n int, sku func(int) int64) []string {
	keys := make([]string, 0, n)
	for i := 0; i < n; i++ {
		keys = append(keys, shared.SKULockKey(tenantID, sku(i)))
	}
	return keys
}
