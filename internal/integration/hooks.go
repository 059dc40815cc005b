// Package integration turns posted business documents into journal postings.
package integration

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledgercore/internal/accounting/journals"
	"github.com/odyssey-erp/ledgercore/internal/accounting/mappings"
	"github.com/odyssey-erp/ledgercore/internal/ap"
	"github.com/odyssey-erp/ledgercore/internal/inventory"
	"github.com/odyssey-erp/ledgercore/internal/shared"
)

// Document types used for entries produced here.
const (
	DocStock   = "STK"
	DocSale    = "SI"
	DocPayment = ap.DocumentType
	DocManual  = "JV"
)

// Source modules recorded on entries.
const (
	ModuleStock   = "inventory.movement"
	ModuleSale    = "sales.invoice"
	ModulePayment = "ap.payment"
	ModuleManual  = "manual"
)

// MovementPosting builds the entry for a posted movement. ok is false when the movement has
// no ledger effect: transfers, or a cost that rounds to zero.
func MovementPosting(m inventory.Movement, date time.Time, actorID int64) (journals.PostingInput, bool) {
	if m.State != inventory.StatePosted || m.CostDetail == nil {
		return journals.PostingInput{}, false
	}
	amount := shared.RoundMoney(m.CostDetail.TotalCost)
	if !amount.IsPositive() {
		return journals.PostingInput{}, false
	}
	memo := fmt.Sprintf("%s sku %d qty %s", m.Kind, m.SKUID, m.Qty.String())
	var debit, credit mappings.Role
	switch m.Kind {
	case inventory.KindPurchaseReceipt:
		debit, credit = mappings.RoleInventory, mappings.RoleAccountsPayable
	case inventory.KindSalesIssue:
		debit, credit = mappings.RoleCostOfGoodsSold, mappings.RoleInventory
	case inventory.KindAuditAdjustment, inventory.KindManual:
		if m.Inbound() {
			debit, credit = mappings.RoleInventory, mappings.RoleInventoryGain
		} else {
			debit, credit = mappings.RoleInventoryShrinkage, mappings.RoleInventory
		}
	default:
		return journals.PostingInput{}, false
	}
	return journals.PostingInput{
		TenantID:     m.TenantID,
		DocumentType: DocStock,
		Date:         date,
		SourceModule: ModuleStock,
		SourceID:     uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("STK:%d:%d:%d", m.TenantID, m.ID, m.Revision))),
		Description:  describe(m),
		PostedBy:     actorID,
		Lines: []journals.LineInput{
			journals.Debit(debit, amount, memo),
			journals.Credit(credit, amount, memo),
		},
	}, true
}

func describe(m inventory.Movement) string {
	if m.SourceRef != "" {
		return fmt.Sprintf("%s %s", m.Kind, m.SourceRef)
	}
	return fmt.Sprintf("%s movement %d", m.Kind, m.ID)
}

// PaymentPosting builds Dr Accounts Payable / Cr Bank for a payment.
func PaymentPosting(p ap.Payment, actorID int64) journals.PostingInput {
	amount := shared.RoundMoney(p.Amount)
	memo := fmt.Sprintf("Payment %s vendor %d", p.Number, p.VendorID)
	return journals.PostingInput{
		TenantID:     p.TenantID,
		DocumentType: DocPayment,
		Date:         p.PaidAt,
		SourceModule: ModulePayment,
		SourceID:     uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("APPAY:%d:%d", p.TenantID, p.ID))),
		Description:  memo,
		PostedBy:     actorID,
		Lines: []journals.LineInput{
			journals.Debit(mappings.RoleAccountsPayable, amount, memo),
			journals.Credit(mappings.RoleBank, amount, memo),
		},
	}
}

// PaymentVoidPosting builds Dr Bank / Cr Accounts Payable for a voided payment that never
// had its own entry linked.
func PaymentVoidPosting(p ap.Payment, actorID int64) journals.PostingInput {
	in := PaymentPosting(p, actorID)
	memo := fmt.Sprintf("Void payment %s", p.Number)
	amount := in.Lines[0].Debit
	in.SourceID = uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("APPAYVOID:%d:%d", p.TenantID, p.ID)))
	in.Description = memo
	if p.VoidedAt != nil {
		in.Date = *p.VoidedAt
	}
	in.Lines = []journals.LineInput{
		journals.Debit(mappings.RoleBank, amount, memo),
		journals.Credit(mappings.RoleAccountsPayable, amount, memo),
	}
	return in
}

// SaleRevenue summarises the revenue side of a finalized sale.
type SaleRevenue struct {
	TenantID int64
	SaleRef  string
	Date     time.Time
	Net      decimal.Decimal
	Tax      decimal.Decimal
	SettleTo mappings.Role
	ActorID  int64
}

// SalePosting builds Dr Receivable-or-Wallet / Cr Sales Revenue (+ Cr Tax Payable).
func SalePosting(s SaleRevenue) journals.PostingInput {
	net := shared.RoundMoney(s.Net)
	tax := shared.RoundMoney(s.Tax)
	memo := fmt.Sprintf("Sale %s", s.SaleRef)
	lines := []journals.LineInput{
		journals.Debit(s.SettleTo, net.Add(tax), memo),
		journals.Credit(mappings.RoleSalesRevenue, net, memo),
	}
	if tax.IsPositive() {
		lines = append(lines, journals.Credit(mappings.RoleTaxPayable, tax, memo))
	}
	return journals.PostingInput{
		TenantID:     s.TenantID,
		DocumentType: DocSale,
		Date:         s.Date,
		SourceModule: ModuleSale,
		SourceID:     uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("SALE:%d:%s", s.TenantID, s.SaleRef))),
		Description:  memo,
		PostedBy:     s.ActorID,
		Lines:        lines,
	}
}
