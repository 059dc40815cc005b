package journals

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledgercore/internal/accounting/mappings"
	"github.com/odyssey-erp/ledgercore/internal/shared"
)

// Entry is an immutable, balanced journal entry.
type Entry struct {
	ID              int64
	TenantID        int64
	Number          string
	DocumentType    string
	Date            time.Time
	SourceModule    string
	SourceID        uuid.UUID
	Description     string
	ReversesEntryID *int64
	PostedBy        int64
	PostedAt        time.Time
	Lines           []Line
}

// Totals sums the debit and credit side of the entry.
func (e Entry) Totals() (debit, credit decimal.Decimal) {
	return totals(e.Lines)
}

// Line stores a debit or credit against a resolved account.
type Line struct {
	ID        int64
	EntryID   int64
	LineNo    int
	Role      mappings.Role
	AccountID int64
	Debit     decimal.Decimal
	Credit    decimal.Decimal
	Memo      string
}

// LineInput names the account by role; the book resolves it against the tenant chart.
type LineInput struct {
	Role   mappings.Role
	Debit  decimal.Decimal
	Credit decimal.Decimal
	Memo   string
}

// Debit builds a debit line.
func Debit(role mappings.Role, amount decimal.Decimal, memo string) LineInput {
	return LineInput{Role: role, Debit: amount, Credit: decimal.Zero, Memo: memo}
}

// Credit builds a credit line.
func Credit(role mappings.Role, amount decimal.Decimal, memo string) LineInput {
	return LineInput{Role: role, Debit: decimal.Zero, Credit: amount, Memo: memo}
}

// PostingInput groups fields required to create a journal entry.
type PostingInput struct {
	TenantID     int64
	DocumentType string
	Date         time.Time
	SourceModule string
	SourceID     uuid.UUID
	Description  string
	PostedBy     int64
	Lines        []LineInput
}

// Validate checks line shape and balance. It never adjusts amounts.
func (in PostingInput) Validate() error {
	if in.TenantID == 0 {
		return fmt.Errorf("%w: tenant required", shared.ErrValidation)
	}
	if in.DocumentType == "" {
		return fmt.Errorf("%w: document type required", shared.ErrValidation)
	}
	if in.SourceModule == "" {
		return fmt.Errorf("%w: source module required", shared.ErrValidation)
	}
	if in.Date.IsZero() {
		return fmt.Errorf("%w: date required", shared.ErrValidation)
	}
	if len(in.Lines) < 2 {
		return ErrTooFewLines
	}
	debit, credit := decimal.Zero, decimal.Zero
	for idx, line := range in.Lines {
		if line.Role == "" {
			return fmt.Errorf("%w: line %d missing role", shared.ErrValidation, idx)
		}
		if line.Debit.IsNegative() || line.Credit.IsNegative() {
			return fmt.Errorf("%w: line %d negative amount", shared.ErrValidation, idx)
		}
		if line.Debit.IsPositive() == line.Credit.IsPositive() {
			return fmt.Errorf("%w: line %d must be either debit or credit", shared.ErrValidation, idx)
		}
		if !shared.IsMinorUnit(line.Debit) || !shared.IsMinorUnit(line.Credit) {
			return fmt.Errorf("%w: line %d amount below minor unit", shared.ErrValidation, idx)
		}
		debit = debit.Add(line.Debit)
		credit = credit.Add(line.Credit)
	}
	if !debit.Equal(credit) {
		return &UnbalancedEntryError{Debit: debit, Credit: credit}
	}
	return nil
}

// ReverseInput wraps parameters for reversal.
type ReverseInput struct {
	TenantID    int64
	EntryID     int64
	Date        time.Time
	Description string
	PostedBy    int64
}

var (
	// ErrUnbalanced is matched by every UnbalancedEntryError.
	ErrUnbalanced = errors.New("accounting: journal lines must balance")
	// ErrTooFewLines indicates less than two lines.
	ErrTooFewLines = errors.New("accounting: journal requires at least two lines")
	// ErrEntryNotFound indicates missing entry.
	ErrEntryNotFound = errors.New("accounting: journal entry not found")
	// ErrSourceAlreadyLinked indicates the source already produced an entry.
	ErrSourceAlreadyLinked = errors.New("accounting: source already linked")
	// ErrAlreadyReversed indicates the entry already has a mirror.
	ErrAlreadyReversed = errors.New("accounting: journal entry already reversed")
	// ErrInvalidReversal indicates an attempt to reverse a reversal.
	ErrInvalidReversal = errors.New("accounting: reversal entries cannot be reversed")
)

// UnbalancedEntryError carries the totals that failed to match.
type UnbalancedEntryError struct {
	Debit  decimal.Decimal
	Credit decimal.Decimal
}

func (e *UnbalancedEntryError) Error() string {
	return fmt.Sprintf("accounting: journal lines must balance: debit %s credit %s",
		e.Debit.StringFixed(shared.MinorUnitPlaces), e.Credit.StringFixed(shared.MinorUnitPlaces))
}

func (e *UnbalancedEntryError) Is(target error) bool {
	return target == ErrUnbalanced
}

func totals(lines []Line) (decimal.Decimal, decimal.Decimal) {
	debit, credit := decimal.Zero, decimal.Zero
	for _, l := range lines {
		debit = debit.Add(l.Debit)
		credit = credit.Add(l.Credit)
	}
	return debit, credit
}
