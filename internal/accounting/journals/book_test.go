package journals

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/ledgercore/internal/accounting/mappings"
	"github.com/odyssey-erp/ledgercore/internal/shared"
)

type memoryTx struct {
	entries []Entry
	seq     int
}

func (m *memoryTx) InsertEntry(ctx context.Context, entry Entry) (Entry, error) {
	for _, e := range m.entries {
		if e.TenantID == entry.TenantID && e.SourceModule == entry.SourceModule && e.SourceID == entry.SourceID {
			return Entry{}, ErrSourceAlreadyLinked
		}
	}
	entry.ID = int64(len(m.entries) + 1)
	m.entries = append(m.entries, entry)
	return entry, nil
}

func (m *memoryTx) GetEntry(ctx context.Context, tenantID, entryID int64) (Entry, error) {
	for _, e := range m.entries {
		if e.TenantID == tenantID && e.ID == entryID {
			return e, nil
		}
	}
	return Entry{}, ErrEntryNotFound
}

func (m *memoryTx) FindReversal(ctx context.Context, tenantID, entryID int64) (Entry, error) {
	for _, e := range m.entries {
		if e.TenantID == tenantID && e.ReversesEntryID != nil && *e.ReversesEntryID == entryID {
			return e, nil
		}
	}
	return Entry{}, ErrEntryNotFound
}

func (m *memoryTx) NextNumber(ctx context.Context, tenantID int64, docType string, date time.Time) (string, error) {
	m.seq++
	return fmt.Sprintf("%s-%s-%05d", docType, date.Format("200601"), m.seq), nil
}

func testChart() mappings.Chart {
	return mappings.NewChart(1, []mappings.AccountMapping{
		{TenantID: 1, Role: mappings.RoleAccountsPayable, AccountID: 2100},
		{TenantID: 1, Role: mappings.RoleBank, AccountID: 1100},
	})
}

func amt(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var postDate = time.Date(2025, 4, 10, 0, 0, 0, 0, time.UTC)

func paymentInput(debit, credit string) PostingInput {
	return PostingInput{
		TenantID:     1,
		DocumentType: "PAY",
		Date:         postDate,
		SourceModule: "ap.payment",
		SourceID:     uuid.New(),
		Lines: []LineInput{
			Debit(mappings.RoleAccountsPayable, amt(debit), ""),
			Credit(mappings.RoleBank, amt(credit), ""),
		},
	}
}

func TestPostResolvesRolesAndNumbers(t *testing.T) {
	tx := &memoryTx{}
	book := NewBook(tx)
	entry, err := book.Post(context.Background(), tx, testChart(), paymentInput("60.00", "60.00"))
	require.NoError(t, err)
	require.Equal(t, "PAY-202504-00001", entry.Number)
	require.EqualValues(t, 2100, entry.Lines[0].AccountID)
	require.EqualValues(t, 1100, entry.Lines[1].AccountID)
	debit, credit := entry.Totals()
	require.True(t, debit.Equal(credit))
}

func TestPostRejectsUnbalanced(t *testing.T) {
	tx := &memoryTx{}
	book := NewBook(tx)
	_, err := book.Post(context.Background(), tx, testChart(), paymentInput("60.00", "59.99"))
	require.ErrorIs(t, err, ErrUnbalanced)
	var unbalanced *UnbalancedEntryError
	require.True(t, errors.As(err, &unbalanced))
	require.True(t, unbalanced.Debit.Equal(amt("60")))
	require.Empty(t, tx.entries)
}

func TestPostRejectsSubMinorUnit(t *testing.T) {
	tx := &memoryTx{}
	_, err := NewBook(tx).Post(context.Background(), tx, testChart(), paymentInput("60.001", "60.001"))
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestPostFailsOnMissingAccount(t *testing.T) {
	tx := &memoryTx{}
	in := paymentInput("10", "10")
	in.Lines[1].Role = mappings.RoleTaxPayable
	_, err := NewBook(tx).Post(context.Background(), tx, testChart(), in)
	require.ErrorIs(t, err, mappings.ErrAccountNotConfigured)
	require.Empty(t, tx.entries)
}

func TestPostValidatesShape(t *testing.T) {
	in := paymentInput("10", "10")
	in.Lines = in.Lines[:1]
	require.ErrorIs(t, in.Validate(), ErrTooFewLines)

	in = paymentInput("10", "10")
	in.Lines[0].Credit = amt("1")
	require.ErrorIs(t, in.Validate(), shared.ErrValidation)

	in = paymentInput("0", "0")
	require.ErrorIs(t, in.Validate(), shared.ErrValidation)
}

func TestReverseMirrorsOnce(t *testing.T) {
	tx := &memoryTx{}
	book := NewBook(tx)
	ctx := context.Background()
	original, err := book.Post(ctx, tx, testChart(), paymentInput("60.00", "60.00"))
	require.NoError(t, err)

	reversal, err := book.Reverse(ctx, tx, ReverseInput{TenantID: 1, EntryID: original.ID})
	require.NoError(t, err)
	require.NotNil(t, reversal.ReversesEntryID)
	require.Equal(t, original.ID, *reversal.ReversesEntryID)
	require.Equal(t, mappings.RoleAccountsPayable, reversal.Lines[0].Role)
	require.True(t, reversal.Lines[0].Credit.Equal(amt("60")))
	require.True(t, reversal.Lines[1].Debit.Equal(amt("60")))
	require.Contains(t, reversal.Description, original.Number)

	_, err = book.Reverse(ctx, tx, ReverseInput{TenantID: 1, EntryID: original.ID})
	require.ErrorIs(t, err, ErrAlreadyReversed)
	_, err = book.Reverse(ctx, tx, ReverseInput{TenantID: 1, EntryID: reversal.ID})
	require.ErrorIs(t, err, ErrInvalidReversal)
	_, err = book.Reverse(ctx, tx, ReverseInput{TenantID: 1, EntryID: 99})
	require.ErrorIs(t, err, ErrEntryNotFound)
}
