package journals

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/ledgercore/internal/accounting/mappings"
)

// TxRepository exposes journal persistence inside the posting transaction.
type TxRepository interface {
	InsertEntry(ctx context.Context, entry Entry) (Entry, error)
	GetEntry(ctx context.Context, tenantID, entryID int64) (Entry, error)
	FindReversal(ctx context.Context, tenantID, entryID int64) (Entry, error)
}

// Numberer hands out document numbers. Numbers are opaque and already unique.
type Numberer interface {
	NextNumber(ctx context.Context, tenantID int64, documentType string, date time.Time) (string, error)
}

// Book writes balanced entries and their mirrors.
type Book struct {
	numbers Numberer
	now     func() time.Time
}

func NewBook(numbers Numberer) *Book {
	return &Book{numbers: numbers, now: time.Now}
}

func (b *Book) WithNow(now func() time.Time) {
	if now != nil {
		b.now = now
	}
}

// Post validates, resolves and persists an entry.
func (b *Book) Post(ctx context.Context, tx TxRepository, chart mappings.Resolver, in PostingInput) (Entry, error) {
	if err := in.Validate(); err != nil {
		return Entry{}, err
	}
	lines := make([]Line, 0, len(in.Lines))
	for idx, li := range in.Lines {
		accountID, err := chart.Resolve(li.Role)
		if err != nil {
			return Entry{}, err
		}
		lines = append(lines, Line{
			LineNo:    idx + 1,
			Role:      li.Role,
			AccountID: accountID,
			Debit:     li.Debit,
			Credit:    li.Credit,
			Memo:      li.Memo,
		})
	}
	sourceID := in.SourceID
	if sourceID == uuid.Nil {
		sourceID = uuid.New()
	}
	return b.insert(ctx, tx, Entry{
		TenantID:     in.TenantID,
		DocumentType: in.DocumentType,
		Date:         in.Date,
		SourceModule: in.SourceModule,
		SourceID:     sourceID,
		Description:  in.Description,
		PostedBy:     in.PostedBy,
		Lines:        lines,
	})
}

// Reverse inserts the debit/credit mirror of an entry. An entry is reversed at most once.
func (b *Book) Reverse(ctx context.Context, tx TxRepository, in ReverseInput) (Entry, error) {
	if in.EntryID == 0 {
		return Entry{}, errors.New("accounting: entry id required")
	}
	original, err := tx.GetEntry(ctx, in.TenantID, in.EntryID)
	if err != nil {
		return Entry{}, err
	}
	if original.ReversesEntryID != nil {
		return Entry{}, ErrInvalidReversal
	}
	if _, err := tx.FindReversal(ctx, in.TenantID, in.EntryID); err == nil {
		return Entry{}, ErrAlreadyReversed
	} else if !errors.Is(err, ErrEntryNotFound) {
		return Entry{}, err
	}
	date := in.Date
	if date.IsZero() {
		date = original.Date
	}
	description := in.Description
	if description == "" {
		description = fmt.Sprintf("Reversal of %s", original.Number)
	}
	reversesID := original.ID
	return b.insert(ctx, tx, Entry{
		TenantID:        original.TenantID,
		DocumentType:    original.DocumentType,
		Date:            date,
		SourceModule:    original.SourceModule,
		SourceID:        uuid.NewSHA1(original.SourceID, []byte("reversal")),
		Description:     description,
		ReversesEntryID: &reversesID,
		PostedBy:        in.PostedBy,
		Lines:           Mirror(original.Lines),
	})
}

func (b *Book) insert(ctx context.Context, tx TxRepository, entry Entry) (Entry, error) {
	if debit, credit := entry.Totals(); !debit.Equal(credit) {
		return Entry{}, &UnbalancedEntryError{Debit: debit, Credit: credit}
	}
	number, err := b.numbers.NextNumber(ctx, entry.TenantID, entry.DocumentType, entry.Date)
	if err != nil {
		return Entry{}, fmt.Errorf("accounting: next number: %w", err)
	}
	entry.Number = number
	entry.PostedAt = b.now().UTC()
	return tx.InsertEntry(ctx, entry)
}

// Mirror swaps debit and credit on every line, keeping accounts and order.
func Mirror(lines []Line) []Line {
	out := make([]Line, 0, len(lines))
	for _, l := range lines {
		out = append(out, Line{
			LineNo:    l.LineNo,
			Role:      l.Role,
			AccountID: l.AccountID,
			Debit:     l.Credit,
			Credit:    l.Debit,
			Memo:      l.Memo,
		})
	}
	return out
}
