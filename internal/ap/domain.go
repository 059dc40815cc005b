package ap

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceStatus enumerates vendor invoice payment statuses.
type InvoiceStatus string

const (
	InvoiceOpen          InvoiceStatus = "OPEN"
	InvoicePartiallyPaid InvoiceStatus = "PARTIALLY_PAID"
	InvoicePaid          InvoiceStatus = "PAID"
)

// StatusFor derives the payment status from the invoice amounts.
func StatusFor(total, paid decimal.Decimal) InvoiceStatus {
	switch {
	case !paid.IsPositive():
		return InvoiceOpen
	case paid.GreaterThanOrEqual(total):
		return InvoicePaid
	default:
		return InvoicePartiallyPaid
	}
}

// VendorInvoice is the payable side of a purchase.
type VendorInvoice struct {
	ID          int64
	TenantID    int64
	VendorID    int64
	Number      string
	TotalAmount decimal.Decimal
	AmountPaid  decimal.Decimal
	Status      InvoiceStatus
	IssuedAt    time.Time
	DueAt       time.Time
	UpdatedAt   time.Time
}

// Remaining is the amount still open on the invoice.
func (i VendorInvoice) Remaining() decimal.Decimal {
	return i.TotalAmount.Sub(i.AmountPaid)
}

// BankAccount is a company account payments are drawn from.
type BankAccount struct {
	ID             int64
	TenantID       int64
	Name           string
	CurrentBalance decimal.Decimal
	UpdatedAt      time.Time
}

// PaymentStatus enumerates payment lifecycle values.
type PaymentStatus string

const (
	PaymentActive PaymentStatus = "ACTIVE"
	PaymentVoid   PaymentStatus = "VOID"
)

// Payment records money paid from a bank account to a vendor.
type Payment struct {
	ID                 int64
	TenantID           int64
	VendorID           int64
	BankAccountID      int64
	Number             string
	Amount             decimal.Decimal
	PaidAt             time.Time
	Status             PaymentStatus
	Note               string
	JournalEntryID     *int64
	VoidJournalEntryID *int64
	VoidedAt           *time.Time
	VoidReason         string
	CreatedBy          int64
	CreatedAt          time.Time
	Applications       []Application
}

// Applied sums the applications of the payment.
func (p Payment) Applied() decimal.Decimal {
	total := decimal.Zero
	for _, a := range p.Applications {
		total = total.Add(a.Amount)
	}
	return total
}

// Unapplied is the part of the payment not matched to an invoice.
func (p Payment) Unapplied() decimal.Decimal {
	return p.Amount.Sub(p.Applied())
}

// Application links part of a payment to one invoice.
type Application struct {
	ID        int64
	PaymentID int64
	InvoiceID int64
	Amount    decimal.Decimal
	CreatedAt time.Time
}

// Allocation is a requested application.
type Allocation struct {
	InvoiceID int64
	Amount    decimal.Decimal
}

// CreatePaymentInput describes a payment. Without allocations the amount is spread over
// the vendor's open invoices, oldest first.
type CreatePaymentInput struct {
	TenantID      int64 `validate:"required"`
	VendorID      int64 `validate:"required"`
	BankAccountID int64 `validate:"required"`
	Amount        decimal.Decimal
	PaidAt        time.Time
	Note          string `validate:"max=255"`
	Allocations   []Allocation
	ActorID       int64
}

// VoidPaymentInput wraps parameters for voiding.
type VoidPaymentInput struct {
	TenantID  int64 `validate:"required"`
	PaymentID int64 `validate:"required"`
	Reason    string
	ActorID   int64
}

var (
	// ErrOverapplication is matched by every OverapplicationError.
	ErrOverapplication = errors.New("ap: payment overapplied")
	// ErrAlreadyVoid indicates a second void of the same payment.
	ErrAlreadyVoid         = errors.New("ap: payment already void")
	ErrInvoiceNotFound     = errors.New("ap: invoice not found")
	ErrPaymentNotFound     = errors.New("ap: payment not found")
	ErrBankAccountNotFound = errors.New("ap: bank account not found")
	ErrVendorMismatch      = errors.New("ap: invoice belongs to another vendor")
	ErrDuplicateInvoice    = errors.New("ap: invoice allocated more than once")
)

// OverapplicationError reports an allocation larger than what it is applied against.
// InvoiceID is zero when the allocations exceed the payment amount.
type OverapplicationError struct {
	InvoiceID int64
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *OverapplicationError) Error() string {
	if e.InvoiceID == 0 {
		return fmt.Sprintf("ap: allocations %s exceed payment amount %s", e.Requested.String(), e.Available.String())
	}
	return fmt.Sprintf("ap: allocation %s exceeds remaining %s on invoice %d", e.Requested.String(), e.Available.String(), e.InvoiceID)
}

func (e *OverapplicationError) Is(target error) bool { return target == ErrOverapplication }
