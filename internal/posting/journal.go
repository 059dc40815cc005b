package posting

import (
	"context"
	"fmt"
	"strconv"

	"github.com/odyssey-erp/ledgercore/internal/accounting/journals"
	"github.com/odyssey-erp/ledgercore/internal/integration"
	"github.com/odyssey-erp/ledgercore/internal/shared"
)

// ErrReservedSourceModule is returned when a manual entry claims a module whose entries are
// owned by stock movements or payments.
var ErrReservedSourceModule = fmt.Errorf("%w: source module is reserved for document postings", shared.ErrValidation)

func documentModule(module string) bool {
	return module == integration.ModuleStock || module == integration.ModulePayment
}

type reverseCommand struct {
	TenantID int64 `validate:"required"`
	EntryID  int64 `validate:"required"`
	PostedBy int64
}

// ManualEntryInput posts a hand-written journal entry.
type ManualEntryInput struct {
	journals.PostingInput
	IdempotencyKey string
}

// PostJournalEntry posts a manual entry. Document type defaults to JV and source module to manual.
func (s *Service) PostJournalEntry(ctx context.Context, in ManualEntryInput) (journals.Entry, error) {
	posting := in.PostingInput
	if posting.DocumentType == "" {
		posting.DocumentType = integration.DocManual
	}
	if posting.SourceModule == "" {
		posting.SourceModule = integration.ModuleManual
	}
	if documentModule(posting.SourceModule) {
		return journals.Entry{}, fmt.Errorf("%w: %s", ErrReservedSourceModule, posting.SourceModule)
	}
	if posting.Date.IsZero() {
		posting.Date = s.now()
	}
	u := unit{
		op:        "post_journal_entry",
		tenantID:  posting.TenantID,
		actorID:   posting.PostedBy,
		idemKey:   in.IdempotencyKey,
		withChart: true,
	}
	var out journals.Entry
	err := s.run(ctx, u, func(ctx context.Context, sc *scope) error {
		entry, err := s.book.Post(ctx, sc.tx.Journal(), sc.chart, posting)
		if err != nil {
			return err
		}
		out = entry
		return nil
	})
	if err != nil {
		return journals.Entry{}, err
	}
	s.record(ctx, u, "journal_entry", strconv.FormatInt(out.ID, 10), map[string]any{"number": out.Number})
	return out, nil
}

// ReverseJournalEntry mirrors a manual entry. Entries booked for movements or payments are
// reversed by unposting or voiding their document.
func (s *Service) ReverseJournalEntry(ctx context.Context, in journals.ReverseInput) (journals.Entry, error) {
	if err := shared.Validate(reverseCommand{TenantID: in.TenantID, EntryID: in.EntryID, PostedBy: in.PostedBy}); err != nil {
		return journals.Entry{}, err
	}
	u := unit{op: "reverse_journal_entry", tenantID: in.TenantID, actorID: in.PostedBy}
	var out journals.Entry
	err := s.run(ctx, u, func(ctx context.Context, sc *scope) error {
		original, err := sc.tx.Journal().GetEntry(ctx, in.TenantID, in.EntryID)
		if err != nil {
			return err
		}
		if documentModule(original.SourceModule) {
			return ErrDocumentEntry
		}
		if in.Date.IsZero() {
			in.Date = s.now()
		}
		entry, err := s.book.Reverse(ctx, sc.tx.Journal(), in)
		if err != nil {
			return err
		}
		out = entry
		return nil
	})
	if err != nil {
		return journals.Entry{}, err
	}
	s.record(ctx, u, "journal_entry", strconv.FormatInt(out.ID, 10), map[string]any{
		"number":   out.Number,
		"reverses": in.EntryID,
	})
	return out, nil
}
