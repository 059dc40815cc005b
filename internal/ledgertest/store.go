// Package ledgertest provides an in-memory, transactional stand-in for the PostgreSQL
// repositories so posting flows can be tested without a database.
package ledgertest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledgercore/internal/accounting/journals"
	"github.com/odyssey-erp/ledgercore/internal/ap"
	"github.com/odyssey-erp/ledgercore/internal/costing"
	"github.com/odyssey-erp/ledgercore/internal/inventory"
	"github.com/odyssey-erp/ledgercore/internal/posting"
	"github.com/odyssey-erp/ledgercore/internal/shared"
)

type skuKey struct {
	tenantID int64
	skuID    int64
}

type state struct {
	movements   map[int64]inventory.Movement
	balances    map[skuKey]inventory.Balance
	events      []inventory.MovementEvent
	batches     map[int64]costing.Batch
	averages    map[skuKey]costing.Average
	entries     []journals.Entry
	invoices    map[int64]ap.VendorInvoice
	banks       map[int64]ap.BankAccount
	payments    map[int64]ap.Payment
	idempotency map[string]string
	nextID      int64
}

func newState() *state {
	return &state{
		movements:   make(map[int64]inventory.Movement),
		balances:    make(map[skuKey]inventory.Balance),
		batches:     make(map[int64]costing.Batch),
		averages:    make(map[skuKey]costing.Average),
		invoices:    make(map[int64]ap.VendorInvoice),
		banks:       make(map[int64]ap.BankAccount),
		payments:    make(map[int64]ap.Payment),
		idempotency: make(map[string]string),
	}
}

func (s *state) clone() *state {
	c := &state{
		movements:   make(map[int64]inventory.Movement, len(s.movements)),
		balances:    make(map[skuKey]inventory.Balance, len(s.balances)),
		events:      append([]inventory.MovementEvent(nil), s.events...),
		batches:     make(map[int64]costing.Batch, len(s.batches)),
		averages:    make(map[skuKey]costing.Average, len(s.averages)),
		entries:     append([]journals.Entry(nil), s.entries...),
		invoices:    make(map[int64]ap.VendorInvoice, len(s.invoices)),
		banks:       make(map[int64]ap.BankAccount, len(s.banks)),
		payments:    make(map[int64]ap.Payment, len(s.payments)),
		idempotency: make(map[string]string, len(s.idempotency)),
		nextID:      s.nextID,
	}
	for k, v := range s.movements {
		c.movements[k] = v
	}
	for k, v := range s.balances {
		c.balances[k] = v
	}
	for k, v := range s.batches {
		c.batches[k] = v
	}
	for k, v := range s.averages {
		c.averages[k] = v
	}
	for k, v := range s.invoices {
		c.invoices[k] = v
	}
	for k, v := range s.banks {
		c.banks[k] = v
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	for k, v := range s.idempotency {
		c.idempotency[k] = v
	}
	return c
}

func (s *state) id() int64 {
	s.nextID++
	return s.nextID
}

// Store keeps every ledger table in memory. Transactions run one at a time against a
// copy of the state that replaces the committed state only when fn succeeds.
type Store struct {
	mu        sync.Mutex
	committed *state

	numMu   sync.Mutex
	numbers map[string]int
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{committed: newState(), numbers: make(map[string]int)}
}

// WithTx implements posting.UnitOfWork.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, posting.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	working := s.committed.clone()
	if err := fn(ctx, &tx{st: working}); err != nil {
		return err
	}
	s.committed = working
	return nil
}

// NextNumber hands out PREFIX-YYYYMM-00001 style numbers. Like a database sequence the
// counter is not rolled back with the transaction.
func (s *Store) NextNumber(ctx context.Context, tenantID int64, documentType string, date time.Time) (string, error) {
	s.numMu.Lock()
	defer s.numMu.Unlock()
	period := date.Format("200601")
	key := fmt.Sprintf("%d:%s:%s", tenantID, documentType, period)
	s.numbers[key]++
	return fmt.Sprintf("%s-%s-%05d", documentType, period, s.numbers[key]), nil
}

type tx struct {
	st *state
}

func (t *tx) Stock() inventory.TxRepository  { return stockTx{t.st} }
func (t *tx) Costing() costing.Store         { return costTx{t.st} }
func (t *tx) Journal() journals.TxRepository { return journalTx{t.st} }
func (t *tx) Payables() ap.TxRepository      { return payablesTx{t.st} }

func (t *tx) Claim(ctx context.Context, key, module string) error {
	if _, ok := t.st.idempotency[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	t.st.idempotency[key] = module
	return nil
}

// SeedInvoice stores an invoice and returns it with its id.
func (s *Store) SeedInvoice(inv ap.VendorInvoice) ap.VendorInvoice {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv.ID = s.committed.id()
	if inv.AmountPaid.IsZero() {
		inv.AmountPaid = decimal.Zero
	}
	inv.Status = ap.StatusFor(inv.TotalAmount, inv.AmountPaid)
	s.committed.invoices[inv.ID] = inv
	return inv
}

// SeedBankAccount stores a bank account and returns it with its id.
func (s *Store) SeedBankAccount(acct ap.BankAccount) ap.BankAccount {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct.ID = s.committed.id()
	s.committed.banks[acct.ID] = acct
	return acct
}

// Movement returns a committed movement.
func (s *Store) Movement(id int64) (inventory.Movement, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.committed.movements[id]
	return m, ok
}

// Movements returns every committed movement of a sku ordered by id.
func (s *Store) Movements(tenantID, skuID int64) []inventory.Movement {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []inventory.Movement
	for _, m := range s.committed.movements {
		if m.TenantID == tenantID && m.SKUID == skuID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// OnHand returns the committed on-hand quantity of a sku.
func (s *Store) OnHand(tenantID, skuID int64) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.committed.balances[skuKey{tenantID, skuID}]; ok {
		return b.OnHand
	}
	return decimal.Zero
}

// Events returns the transition history of a movement.
func (s *Store) Events(movementID int64) []inventory.MovementEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []inventory.MovementEvent
	for _, e := range s.committed.events {
		if e.MovementID == movementID {
			out = append(out, e)
		}
	}
	return out
}

// Batches returns every FIFO batch of a sku ordered by id, active or not.
func (s *Store) Batches(tenantID, skuID int64) []costing.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []costing.Batch
	for _, b := range s.committed.batches {
		if b.TenantID == tenantID && b.SKUID == skuID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Average returns the weighted-average basis of a sku.
func (s *Store) Average(tenantID, skuID int64) (costing.Average, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.committed.averages[skuKey{tenantID, skuID}]
	return a, ok
}

// Entries returns committed journal entries in insertion order.
func (s *Store) Entries() []journals.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]journals.Entry(nil), s.committed.entries...)
}

// AccountBalance nets debits minus credits posted to an account.
func (s *Store) AccountBalance(tenantID, accountID int64) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := decimal.Zero
	for _, e := range s.committed.entries {
		if e.TenantID != tenantID {
			continue
		}
		for _, l := range e.Lines {
			if l.AccountID == accountID {
				total = total.Add(l.Debit).Sub(l.Credit)
			}
		}
	}
	return total
}

// Invoice returns a committed invoice.
func (s *Store) Invoice(id int64) ap.VendorInvoice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.committed.invoices[id]
}

// BankAccount returns a committed bank account.
func (s *Store) BankAccount(id int64) ap.BankAccount {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.committed.banks[id]
}

// Payment returns a committed payment.
func (s *Store) Payment(id int64) (ap.Payment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.committed.payments[id]
	return p, ok
}
