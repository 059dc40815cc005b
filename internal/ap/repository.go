package ap

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

type txRepository struct {
	tx pgx.Tx
}

// NewTxRepository binds payables persistence to an open transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

const invoiceColumns = `id, tenant_id, vendor_id, number, total_amount, amount_paid, status, issued_at, due_at, updated_at`

func scanInvoice(row pgx.Row) (VendorInvoice, error) {
	var inv VendorInvoice
	err := row.Scan(&inv.ID, &inv.TenantID, &inv.VendorID, &inv.Number, &inv.TotalAmount, &inv.AmountPaid, &inv.Status,
		&inv.IssuedAt, &inv.DueAt, &inv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return VendorInvoice{}, ErrInvoiceNotFound
	}
	return inv, err
}

func (r *txRepository) GetInvoiceForUpdate(ctx context.Context, tenantID, invoiceID int64) (VendorInvoice, error) {
	return scanInvoice(r.tx.QueryRow(ctx, `SELECT `+invoiceColumns+`
FROM vendor_invoices WHERE tenant_id=$1 AND id=$2 FOR UPDATE`, tenantID, invoiceID))
}

func (r *txRepository) ListOpenInvoicesForUpdate(ctx context.Context, tenantID, vendorID int64) ([]VendorInvoice, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+invoiceColumns+`
FROM vendor_invoices
WHERE tenant_id=$1 AND vendor_id=$2 AND status <> 'PAID'
ORDER BY due_at ASC, issued_at ASC, id ASC
FOR UPDATE`, tenantID, vendorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []VendorInvoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (r *txRepository) UpdateInvoicePayment(ctx context.Context, inv VendorInvoice) error {
	tag, err := r.tx.Exec(ctx, `UPDATE vendor_invoices SET amount_paid=$3, status=$4, updated_at=NOW()
WHERE tenant_id=$1 AND id=$2`, inv.TenantID, inv.ID, inv.AmountPaid, inv.Status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvoiceNotFound
	}
	return nil
}

func (r *txRepository) GetBankAccountForUpdate(ctx context.Context, tenantID, bankAccountID int64) (BankAccount, error) {
	var acct BankAccount
	err := r.tx.QueryRow(ctx, `SELECT id, tenant_id, name, current_balance, updated_at
FROM company_bank_accounts WHERE tenant_id=$1 AND id=$2 FOR UPDATE`, tenantID, bankAccountID).
		Scan(&acct.ID, &acct.TenantID, &acct.Name, &acct.CurrentBalance, &acct.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return BankAccount{}, ErrBankAccountNotFound
	}
	return acct, err
}

func (r *txRepository) UpdateBankBalance(ctx context.Context, acct BankAccount) error {
	tag, err := r.tx.Exec(ctx, `UPDATE company_bank_accounts SET current_balance=$3, updated_at=NOW()
WHERE tenant_id=$1 AND id=$2`, acct.TenantID, acct.ID, acct.CurrentBalance)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBankAccountNotFound
	}
	return nil
}

func (r *txRepository) InsertPayment(ctx context.Context, p Payment) (Payment, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO ap_payments
(tenant_id, vendor_id, bank_account_id, number, amount, paid_at, status, note, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NULLIF($9,0),$10) RETURNING id`,
		p.TenantID, p.VendorID, p.BankAccountID, p.Number, p.Amount, p.PaidAt, p.Status, p.Note, p.CreatedBy, p.CreatedAt).Scan(&p.ID)
	if err != nil {
		return Payment{}, err
	}
	for i := range p.Applications {
		app := &p.Applications[i]
		app.PaymentID = p.ID
		if err := r.tx.QueryRow(ctx, `INSERT INTO ap_payment_applications (payment_id, invoice_id, amount, created_at)
VALUES ($1,$2,$3,$4) RETURNING id`, p.ID, app.InvoiceID, app.Amount, app.CreatedAt).Scan(&app.ID); err != nil {
			return Payment{}, err
		}
	}
	return p, nil
}

func (r *txRepository) GetPaymentForUpdate(ctx context.Context, tenantID, paymentID int64) (Payment, error) {
	var p Payment
	err := r.tx.QueryRow(ctx, `SELECT id, tenant_id, vendor_id, bank_account_id, number, amount, paid_at, status, note,
journal_entry_id, void_journal_entry_id, voided_at, void_reason, COALESCE(created_by, 0), created_at
FROM ap_payments WHERE tenant_id=$1 AND id=$2 FOR UPDATE`, tenantID, paymentID).
		Scan(&p.ID, &p.TenantID, &p.VendorID, &p.BankAccountID, &p.Number, &p.Amount, &p.PaidAt, &p.Status, &p.Note,
			&p.JournalEntryID, &p.VoidJournalEntryID, &p.VoidedAt, &p.VoidReason, &p.CreatedBy, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payment{}, ErrPaymentNotFound
		}
		return Payment{}, err
	}
	rows, err := r.tx.Query(ctx, `SELECT id, payment_id, invoice_id, amount, created_at
FROM ap_payment_applications WHERE payment_id=$1 ORDER BY id ASC`, p.ID)
	if err != nil {
		return Payment{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var app Application
		if err := rows.Scan(&app.ID, &app.PaymentID, &app.InvoiceID, &app.Amount, &app.CreatedAt); err != nil {
			return Payment{}, err
		}
		p.Applications = append(p.Applications, app)
	}
	return p, rows.Err()
}

func (r *txRepository) UpdatePayment(ctx context.Context, p Payment) error {
	tag, err := r.tx.Exec(ctx, `UPDATE ap_payments SET status=$3, journal_entry_id=$4, void_journal_entry_id=$5,
voided_at=$6, void_reason=$7, updated_at=NOW()
WHERE tenant_id=$1 AND id=$2`, p.TenantID, p.ID, p.Status, p.JournalEntryID, p.VoidJournalEntryID, p.VoidedAt, p.VoidReason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}
