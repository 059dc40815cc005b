package ap

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledgercore/internal/shared"
)

// TxRepository exposes payables persistence inside the posting transaction.
type TxRepository interface {
	GetInvoiceForUpdate(ctx context.Context, tenantID, invoiceID int64) (VendorInvoice, error)
	ListOpenInvoicesForUpdate(ctx context.Context, tenantID, vendorID int64) ([]VendorInvoice, error)
	UpdateInvoicePayment(ctx context.Context, inv VendorInvoice) error
	GetBankAccountForUpdate(ctx context.Context, tenantID, bankAccountID int64) (BankAccount, error)
	UpdateBankBalance(ctx context.Context, acct BankAccount) error
	InsertPayment(ctx context.Context, p Payment) (Payment, error)
	GetPaymentForUpdate(ctx context.Context, tenantID, paymentID int64) (Payment, error)
	UpdatePayment(ctx context.Context, p Payment) error
}

// Numberer hands out payment numbers.
type Numberer interface {
	NextNumber(ctx context.Context, tenantID int64, documentType string, date time.Time) (string, error)
}

// DocumentType is the numbering series of payments.
const DocumentType = "PAY"

// Engine applies payments to invoices and keeps bank balances in step.
type Engine struct {
	numbers Numberer
	now     func() time.Time
}

func NewEngine(numbers Numberer) *Engine {
	return &Engine{numbers: numbers, now: time.Now}
}

func (e *Engine) WithNow(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

// CreatePayment validates every allocation before touching any invoice.
func (e *Engine) CreatePayment(ctx context.Context, tx TxRepository, in CreatePaymentInput) (Payment, error) {
	if err := shared.Validate(in); err != nil {
		return Payment{}, err
	}
	if err := shared.ValidateAmount("amount", in.Amount); err != nil {
		return Payment{}, err
	}
	paidAt := in.PaidAt
	if paidAt.IsZero() {
		paidAt = e.now().UTC()
	}

	allocations := in.Allocations
	invoices := make(map[int64]VendorInvoice, len(allocations))
	if len(allocations) == 0 {
		open, err := tx.ListOpenInvoicesForUpdate(ctx, in.TenantID, in.VendorID)
		if err != nil {
			return Payment{}, err
		}
		allocations = AllocateOldestFirst(open, in.Amount)
		for _, inv := range open {
			invoices[inv.ID] = inv
		}
	} else {
		requested := decimal.Zero
		for _, alloc := range allocations {
			if err := shared.ValidateAmount("allocation amount", alloc.Amount); err != nil {
				return Payment{}, err
			}
			if _, dup := invoices[alloc.InvoiceID]; dup {
				return Payment{}, fmt.Errorf("%w: %d", ErrDuplicateInvoice, alloc.InvoiceID)
			}
			inv, err := tx.GetInvoiceForUpdate(ctx, in.TenantID, alloc.InvoiceID)
			if err != nil {
				return Payment{}, err
			}
			if inv.VendorID != in.VendorID {
				return Payment{}, fmt.Errorf("%w: invoice %d", ErrVendorMismatch, inv.ID)
			}
			if alloc.Amount.GreaterThan(inv.Remaining()) {
				return Payment{}, &OverapplicationError{InvoiceID: inv.ID, Requested: alloc.Amount, Available: inv.Remaining()}
			}
			invoices[inv.ID] = inv
			requested = requested.Add(alloc.Amount)
		}
		if requested.GreaterThan(in.Amount) {
			return Payment{}, &OverapplicationError{Requested: requested, Available: in.Amount}
		}
	}

	bank, err := tx.GetBankAccountForUpdate(ctx, in.TenantID, in.BankAccountID)
	if err != nil {
		return Payment{}, err
	}
	number, err := e.numbers.NextNumber(ctx, in.TenantID, DocumentType, paidAt)
	if err != nil {
		return Payment{}, fmt.Errorf("ap: next number: %w", err)
	}

	now := e.now().UTC()
	payment := Payment{
		TenantID:      in.TenantID,
		VendorID:      in.VendorID,
		BankAccountID: in.BankAccountID,
		Number:        number,
		Amount:        in.Amount,
		PaidAt:        paidAt,
		Status:        PaymentActive,
		Note:          in.Note,
		CreatedBy:     in.ActorID,
		CreatedAt:     now,
	}
	for _, alloc := range allocations {
		inv := invoices[alloc.InvoiceID]
		inv.AmountPaid = inv.AmountPaid.Add(alloc.Amount)
		inv.Status = StatusFor(inv.TotalAmount, inv.AmountPaid)
		inv.UpdatedAt = now
		if err := tx.UpdateInvoicePayment(ctx, inv); err != nil {
			return Payment{}, err
		}
		payment.Applications = append(payment.Applications, Application{
			InvoiceID: inv.ID,
			Amount:    alloc.Amount,
			CreatedAt: now,
		})
	}

	bank.CurrentBalance = bank.CurrentBalance.Sub(in.Amount)
	bank.UpdatedAt = now
	if err := tx.UpdateBankBalance(ctx, bank); err != nil {
		return Payment{}, err
	}
	return tx.InsertPayment(ctx, payment)
}

// VoidPayment reverses every application and restores the bank balance. The payment
// and its applications stay on record.
func (e *Engine) VoidPayment(ctx context.Context, tx TxRepository, in VoidPaymentInput) (Payment, error) {
	if err := shared.Validate(in); err != nil {
		return Payment{}, err
	}
	payment, err := tx.GetPaymentForUpdate(ctx, in.TenantID, in.PaymentID)
	if err != nil {
		return Payment{}, err
	}
	if payment.Status == PaymentVoid {
		return Payment{}, ErrAlreadyVoid
	}
	now := e.now().UTC()

	apps := append([]Application(nil), payment.Applications...)
	sort.Slice(apps, func(i, j int) bool { return apps[i].InvoiceID < apps[j].InvoiceID })
	for _, app := range apps {
		inv, err := tx.GetInvoiceForUpdate(ctx, in.TenantID, app.InvoiceID)
		if err != nil {
			return Payment{}, err
		}
		inv.AmountPaid = decimal.Max(inv.AmountPaid.Sub(app.Amount), decimal.Zero)
		inv.Status = StatusFor(inv.TotalAmount, inv.AmountPaid)
		inv.UpdatedAt = now
		if err := tx.UpdateInvoicePayment(ctx, inv); err != nil {
			return Payment{}, err
		}
	}

	bank, err := tx.GetBankAccountForUpdate(ctx, in.TenantID, payment.BankAccountID)
	if err != nil {
		return Payment{}, err
	}
	bank.CurrentBalance = bank.CurrentBalance.Add(payment.Amount)
	bank.UpdatedAt = now
	if err := tx.UpdateBankBalance(ctx, bank); err != nil {
		return Payment{}, err
	}

	payment.Status = PaymentVoid
	payment.VoidedAt = &now
	payment.VoidReason = in.Reason
	if err := tx.UpdatePayment(ctx, payment); err != nil {
		return Payment{}, err
	}
	return payment, nil
}

// LinkJournal records the entry posted for the payment.
func (e *Engine) LinkJournal(ctx context.Context, tx TxRepository, p Payment, entryID int64) (Payment, error) {
	p.JournalEntryID = &entryID
	if err := tx.UpdatePayment(ctx, p); err != nil {
		return Payment{}, err
	}
	return p, nil
}

// LinkVoidJournal records the mirror entry posted when the payment was voided.
func (e *Engine) LinkVoidJournal(ctx context.Context, tx TxRepository, p Payment, entryID int64) (Payment, error) {
	p.VoidJournalEntryID = &entryID
	if err := tx.UpdatePayment(ctx, p); err != nil {
		return Payment{}, err
	}
	return p, nil
}
