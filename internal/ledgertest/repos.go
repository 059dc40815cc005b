package ledgertest

import (
	"context"
	"sort"

	"github.com/odyssey-erp/ledgercore/internal/accounting/journals"
	"github.com/odyssey-erp/ledgercore/internal/ap"
	"github.com/odyssey-erp/ledgercore/internal/costing"
	"github.com/odyssey-erp/ledgercore/internal/inventory"
)

type stockTx struct{ st *state }

func (r stockTx) InsertMovement(ctx context.Context, m inventory.Movement) (inventory.Movement, error) {
	m.ID = r.st.id()
	r.st.movements[m.ID] = m
	return m, nil
}

func (r stockTx) GetMovementForUpdate(ctx context.Context, tenantID, movementID int64) (inventory.Movement, error) {
	m, ok := r.st.movements[movementID]
	if !ok || m.TenantID != tenantID {
		return inventory.Movement{}, inventory.ErrMovementNotFound
	}
	return m, nil
}

func (r stockTx) UpdateMovement(ctx context.Context, m inventory.Movement) error {
	if _, ok := r.st.movements[m.ID]; !ok {
		return inventory.ErrMovementNotFound
	}
	r.st.movements[m.ID] = m
	return nil
}

func (r stockTx) LatestPosted(ctx context.Context, tenantID, skuID int64) (inventory.Movement, error) {
	var latest inventory.Movement
	found := false
	for _, m := range r.st.movements {
		if m.TenantID != tenantID || m.SKUID != skuID || m.State != inventory.StatePosted {
			continue
		}
		if !found || m.PostingSeq > latest.PostingSeq {
			latest, found = m, true
		}
	}
	if !found {
		return inventory.Movement{}, inventory.ErrMovementNotFound
	}
	return latest, nil
}

func (r stockTx) TransferInFor(ctx context.Context, tenantID, outID int64) (inventory.Movement, error) {
	var found *inventory.Movement
	for _, m := range r.st.movements {
		if m.TenantID != tenantID || m.Kind != inventory.KindTransferIn || m.State == inventory.StateRejected {
			continue
		}
		if m.LinkedMovementID == nil || *m.LinkedMovementID != outID {
			continue
		}
		if found == nil || m.ID < found.ID {
			m := m
			found = &m
		}
	}
	if found == nil {
		return inventory.Movement{}, inventory.ErrMovementNotFound
	}
	return *found, nil
}

func (r stockTx) GetBalanceForUpdate(ctx context.Context, tenantID, skuID int64) (inventory.Balance, error) {
	b, ok := r.st.balances[skuKey{tenantID, skuID}]
	if !ok {
		return inventory.Balance{}, inventory.ErrBalanceNotFound
	}
	return b, nil
}

func (r stockTx) UpsertBalance(ctx context.Context, b inventory.Balance) error {
	r.st.balances[skuKey{b.TenantID, b.SKUID}] = b
	return nil
}

func (r stockTx) InsertEvent(ctx context.Context, e inventory.MovementEvent) error {
	e.ID = r.st.id()
	r.st.events = append(r.st.events, e)
	return nil
}

type costTx struct{ st *state }

func (r costTx) ActiveBatchesForUpdate(ctx context.Context, tenantID, skuID int64) ([]costing.Batch, error) {
	var out []costing.Batch
	for _, b := range r.st.batches {
		if b.TenantID == tenantID && b.SKUID == skuID && b.Active {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r costTx) GetBatchForUpdate(ctx context.Context, tenantID, batchID int64) (costing.Batch, error) {
	b, ok := r.st.batches[batchID]
	if !ok || b.TenantID != tenantID {
		return costing.Batch{}, costing.ErrBatchNotFound
	}
	return b, nil
}

func (r costTx) InsertBatch(ctx context.Context, b costing.Batch) (costing.Batch, error) {
	b.ID = r.st.id()
	r.st.batches[b.ID] = b
	return b, nil
}

func (r costTx) UpdateBatch(ctx context.Context, b costing.Batch) error {
	if _, ok := r.st.batches[b.ID]; !ok {
		return costing.ErrBatchNotFound
	}
	r.st.batches[b.ID] = b
	return nil
}

func (r costTx) GetAverageForUpdate(ctx context.Context, tenantID, skuID int64) (costing.Average, error) {
	a, ok := r.st.averages[skuKey{tenantID, skuID}]
	if !ok {
		return costing.Average{}, costing.ErrAverageNotFound
	}
	return a, nil
}

func (r costTx) UpsertAverage(ctx context.Context, a costing.Average) error {
	r.st.averages[skuKey{a.TenantID, a.SKUID}] = a
	return nil
}

type journalTx struct{ st *state }

func (r journalTx) InsertEntry(ctx context.Context, e journals.Entry) (journals.Entry, error) {
	for _, existing := range r.st.entries {
		if existing.TenantID != e.TenantID {
			continue
		}
		if existing.SourceModule == e.SourceModule && existing.SourceID == e.SourceID {
			return journals.Entry{}, journals.ErrSourceAlreadyLinked
		}
		if e.ReversesEntryID != nil && existing.ReversesEntryID != nil && *existing.ReversesEntryID == *e.ReversesEntryID {
			return journals.Entry{}, journals.ErrAlreadyReversed
		}
	}
	e.ID = r.st.id()
	lines := make([]journals.Line, len(e.Lines))
	for i, l := range e.Lines {
		l.ID = r.st.id()
		l.EntryID = e.ID
		lines[i] = l
	}
	e.Lines = lines
	r.st.entries = append(r.st.entries, e)
	return e, nil
}

func (r journalTx) GetEntry(ctx context.Context, tenantID, entryID int64) (journals.Entry, error) {
	for _, e := range r.st.entries {
		if e.TenantID == tenantID && e.ID == entryID {
			return e, nil
		}
	}
	return journals.Entry{}, journals.ErrEntryNotFound
}

func (r journalTx) FindReversal(ctx context.Context, tenantID, entryID int64) (journals.Entry, error) {
	for _, e := range r.st.entries {
		if e.TenantID == tenantID && e.ReversesEntryID != nil && *e.ReversesEntryID == entryID {
			return e, nil
		}
	}
	return journals.Entry{}, journals.ErrEntryNotFound
}

type payablesTx struct{ st *state }

func (r payablesTx) GetInvoiceForUpdate(ctx context.Context, tenantID, invoiceID int64) (ap.VendorInvoice, error) {
	inv, ok := r.st.invoices[invoiceID]
	if !ok || inv.TenantID != tenantID {
		return ap.VendorInvoice{}, ap.ErrInvoiceNotFound
	}
	return inv, nil
}

func (r payablesTx) ListOpenInvoicesForUpdate(ctx context.Context, tenantID, vendorID int64) ([]ap.VendorInvoice, error) {
	var out []ap.VendorInvoice
	for _, inv := range r.st.invoices {
		if inv.TenantID == tenantID && inv.VendorID == vendorID && inv.Status != ap.InvoicePaid {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r payablesTx) UpdateInvoicePayment(ctx context.Context, inv ap.VendorInvoice) error {
	if _, ok := r.st.invoices[inv.ID]; !ok {
		return ap.ErrInvoiceNotFound
	}
	r.st.invoices[inv.ID] = inv
	return nil
}

func (r payablesTx) GetBankAccountForUpdate(ctx context.Context, tenantID, bankAccountID int64) (ap.BankAccount, error) {
	acct, ok := r.st.banks[bankAccountID]
	if !ok || acct.TenantID != tenantID {
		return ap.BankAccount{}, ap.ErrBankAccountNotFound
	}
	return acct, nil
}

func (r payablesTx) UpdateBankBalance(ctx context.Context, acct ap.BankAccount) error {
	if _, ok := r.st.banks[acct.ID]; !ok {
		return ap.ErrBankAccountNotFound
	}
	r.st.banks[acct.ID] = acct
	return nil
}

func (r payablesTx) InsertPayment(ctx context.Context, p ap.Payment) (ap.Payment, error) {
	p.ID = r.st.id()
	apps := make([]ap.Application, len(p.Applications))
	for i, a := range p.Applications {
		a.ID = r.st.id()
		a.PaymentID = p.ID
		apps[i] = a
	}
	p.Applications = apps
	r.st.payments[p.ID] = p
	return p, nil
}

func (r payablesTx) GetPaymentForUpdate(ctx context.Context, tenantID, paymentID int64) (ap.Payment, error) {
	p, ok := r.st.payments[paymentID]
	if !ok || p.TenantID != tenantID {
		return ap.Payment{}, ap.ErrPaymentNotFound
	}
	p.Applications = append([]ap.Application(nil), p.Applications...)
	return p, nil
}

func (r payablesTx) UpdatePayment(ctx context.Context, p ap.Payment) error {
	existing, ok := r.st.payments[p.ID]
	if !ok {
		return ap.ErrPaymentNotFound
	}
	p.Applications = existing.Applications
	r.st.payments[p.ID] = p
	return nil
}
