package journals

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/ledgercore/internal/platform/db"
)

type txRepository struct {
	tx pgx.Tx
}

// NewTxRepository binds journal persistence to an open transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

func (r *txRepository) InsertEntry(ctx context.Context, entry Entry) (Entry, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO ledger_journal_entries
(tenant_id, number, document_type, entry_date, source_module, source_id, description, reverses_entry_id, posted_by, posted_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id`,
		entry.TenantID, entry.Number, entry.DocumentType, entry.Date, entry.SourceModule, entry.SourceID,
		entry.Description, entry.ReversesEntryID, nullInt(entry.PostedBy), entry.PostedAt).Scan(&entry.ID)
	if err != nil {
		switch {
		case db.IsUniqueViolation(err, "uq_ledger_journal_reverses"):
			return Entry{}, ErrAlreadyReversed
		case db.IsUniqueViolation(err, "uq_ledger_journal_source"):
			return Entry{}, ErrSourceAlreadyLinked
		}
		return Entry{}, err
	}
	for i := range entry.Lines {
		line := &entry.Lines[i]
		line.EntryID = entry.ID
		if err := r.tx.QueryRow(ctx, `INSERT INTO ledger_journal_lines (entry_id, line_no, role, account_id, debit, credit, memo)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
			entry.ID, line.LineNo, line.Role, line.AccountID, line.Debit, line.Credit, line.Memo).Scan(&line.ID); err != nil {
			return Entry{}, err
		}
	}
	return entry, nil
}

const entryColumns = `id, tenant_id, number, document_type, entry_date, source_module, source_id, description, reverses_entry_id, COALESCE(posted_by, 0), posted_at`

func (r *txRepository) scanEntry(ctx context.Context, row pgx.Row) (Entry, error) {
	var e Entry
	if err := row.Scan(&e.ID, &e.TenantID, &e.Number, &e.DocumentType, &e.Date, &e.SourceModule, &e.SourceID,
		&e.Description, &e.ReversesEntryID, &e.PostedBy, &e.PostedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, ErrEntryNotFound
		}
		return Entry{}, err
	}
	rows, err := r.tx.Query(ctx, `SELECT id, entry_id, line_no, role, account_id, debit, credit, memo
FROM ledger_journal_lines WHERE entry_id=$1 ORDER BY line_no ASC`, e.ID)
	if err != nil {
		return Entry{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.EntryID, &l.LineNo, &l.Role, &l.AccountID, &l.Debit, &l.Credit, &l.Memo); err != nil {
			return Entry{}, err
		}
		e.Lines = append(e.Lines, l)
	}
	return e, rows.Err()
}

func (r *txRepository) GetEntry(ctx context.Context, tenantID, entryID int64) (Entry, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM ledger_journal_entries WHERE tenant_id=$1 AND id=$2`, tenantID, entryID)
	return r.scanEntry(ctx, row)
}

func (r *txRepository) FindReversal(ctx context.Context, tenantID, entryID int64) (Entry, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM ledger_journal_entries WHERE tenant_id=$1 AND reverses_entry_id=$2`, tenantID, entryID)
	return r.scanEntry(ctx, row)
}

func nullInt(v int64) *int64 {
	if v == 0 {
		return nil
	}
	return &v
}
