package posting

import (
	"context"
	"fmt"
	"strconv"

	"github.com/odyssey-erp/ledgercore/internal/accounting/journals"
	"github.com/odyssey-erp/ledgercore/internal/ap"
	"github.com/odyssey-erp/ledgercore/internal/integration"
	"github.com/odyssey-erp/ledgercore/internal/shared"
)

// PaymentInput creates a vendor payment.
type PaymentInput struct {
	ap.CreatePaymentInput
	IdempotencyKey string
}

// VoidInput voids a vendor payment.
type VoidInput struct {
	ap.VoidPaymentInput
	IdempotencyKey string
}

// PaymentResult is a payment with the entry the operation posted.
type PaymentResult struct {
	Payment ap.Payment
	Entry   journals.Entry
}

// CreatePayment applies a payment to invoices, decrements the bank and posts Dr AP / Cr Bank.
func (s *Service) CreatePayment(ctx context.Context, in PaymentInput) (PaymentResult, error) {
	if err := shared.Validate(in.CreatePaymentInput); err != nil {
		return PaymentResult{}, err
	}
	u := unit{
		op:        "create_payment",
		tenantID:  in.TenantID,
		actorID:   in.ActorID,
		locks:     []string{shared.BankAccountLockKey(in.TenantID, in.BankAccountID)},
		idemKey:   in.IdempotencyKey,
		withChart: true,
	}
	var out PaymentResult
	err := s.run(ctx, u, func(ctx context.Context, sc *scope) error {
		p, err := s.payables.CreatePayment(ctx, sc.tx.Payables(), in.CreatePaymentInput)
		if err != nil {
			return err
		}
		entry, err := s.book.Post(ctx, sc.tx.Journal(), sc.chart, integration.PaymentPosting(p, in.ActorID))
		if err != nil {
			return fmt.Errorf("payment entry: %w", err)
		}
		p, err = s.payables.LinkJournal(ctx, sc.tx.Payables(), p, entry.ID)
		if err != nil {
			return err
		}
		out = PaymentResult{Payment: p, Entry: entry}
		return nil
	})
	if err != nil {
		return PaymentResult{}, err
	}
	s.record(ctx, u, "ap_payment", strconv.FormatInt(out.Payment.ID, 10), map[string]any{
		"number":       out.Payment.Number,
		"amount":       out.Payment.Amount.String(),
		"applications": len(out.Payment.Applications),
		"entry_number": out.Entry.Number,
	})
	return out, nil
}

// VoidPayment undoes a payment's applications and bank effect and mirrors its entry.
func (s *Service) VoidPayment(ctx context.Context, in VoidInput) (PaymentResult, error) {
	if err := shared.Validate(in.VoidPaymentInput); err != nil {
		return PaymentResult{}, err
	}
	u := unit{
		op:        "void_payment",
		tenantID:  in.TenantID,
		actorID:   in.ActorID,
		idemKey:   in.IdempotencyKey,
		withChart: true,
	}
	var out PaymentResult
	err := s.run(ctx, u, func(ctx context.Context, sc *scope) error {
		p, err := s.payables.VoidPayment(ctx, sc.tx.Payables(), in.VoidPaymentInput)
		if err != nil {
			return err
		}
		var entry journals.Entry
		if p.JournalEntryID != nil {
			entry, err = s.book.Reverse(ctx, sc.tx.Journal(), journals.ReverseInput{
				TenantID:    in.TenantID,
				EntryID:     *p.JournalEntryID,
				Date:        s.now(),
				Description: fmt.Sprintf("Void payment %s", p.Number),
				PostedBy:    in.ActorID,
			})
		} else {
			entry, err = s.book.Post(ctx, sc.tx.Journal(), sc.chart, integration.PaymentVoidPosting(p, in.ActorID))
		}
		if err != nil {
			return fmt.Errorf("void entry: %w", err)
		}
		p, err = s.payables.LinkVoidJournal(ctx, sc.tx.Payables(), p, entry.ID)
		if err != nil {
			return err
		}
		out = PaymentResult{Payment: p, Entry: entry}
		return nil
	})
	if err != nil {
		return PaymentResult{}, err
	}
	s.record(ctx, u, "ap_payment", strconv.FormatInt(out.Payment.ID, 10), map[string]any{
		"reason":       in.Reason,
		"entry_number": out.Entry.Number,
	})
	return out, nil
}
