package posting_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/ledgercore/internal/accounting/journals"
	"github.com/odyssey-erp/ledgercore/internal/accounting/mappings"
	"github.com/odyssey-erp/ledgercore/internal/ap"
	"github.com/odyssey-erp/ledgercore/internal/costing"
	"github.com/odyssey-erp/ledgercore/internal/integration"
	"github.com/odyssey-erp/ledgercore/internal/inventory"
	"github.com/odyssey-erp/ledgercore/internal/ledgertest"
	"github.com/odyssey-erp/ledgercore/internal/observability"
	"github.com/odyssey-erp/ledgercore/internal/posting"
	"github.com/odyssey-erp/ledgercore/internal/shared"
)

const (
	tenant    int64 = 7
	walTenant int64 = 8
	skuA      int64 = 101
	skuB      int64 = 102
	skuC      int64 = 103
	actor     int64 = 42
)

var fixedNow = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

type recorder struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (r *recorder) Record(ctx context.Context, log shared.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, log)
	return nil
}

func (r *recorder) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.logs))
	for _, l := range r.logs {
		out = append(out, l.Action)
	}
	return out
}

type fixture struct {
	svc   *posting.Service
	store *ledgertest.Store
	audit *recorder
	reg   *prometheus.Registry
}

func newFixture(t *testing.T, charts ledgertest.Charts) *fixture {
	t.Helper()
	if charts == nil {
		charts = ledgertest.Charts{
			tenant:    ledgertest.DefaultMappings(tenant),
			walTenant: ledgertest.DefaultMappings(walTenant),
		}
	}
	store := ledgertest.NewStore()
	rec := &recorder{}
	reg := prometheus.NewRegistry()
	svc := posting.NewService(posting.Config{
		UnitOfWork: store,
		Catalog:    ledgertest.Catalog{tenant: costing.MethodFIFO, walTenant: costing.MethodWeightedAverage},
		Charts:     charts,
		Numbers:    store,
		Audit:      rec,
		Metrics:    observability.NewPostingMetrics(reg),
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	svc.WithNow(func() time.Time { return fixedNow })
	return &fixture{svc: svc, store: store, audit: rec, reg: reg}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, dec(want).Equal(got), "want %s, got %s", want, got.String())
}

func (f *fixture) receive(t *testing.T, tenantID, skuID int64, qty, cost string) posting.EventResult {
	t.Helper()
	res, err := f.svc.ReceivePurchase(context.Background(), posting.ReceivePurchaseInput{
		TenantID:   tenantID,
		ReceiptRef: "GRN-1",
		Lines:      []posting.ReceiptLine{{SKUID: skuID, Qty: dec(qty), UnitCost: dec(cost)}},
		ActorID:    actor,
	})
	require.NoError(t, err)
	return res
}

func requireBalancedEntries(t *testing.T, entries []journals.Entry) {
	t.Helper()
	for _, e := range entries {
		debit, credit := e.Totals()
		require.Truef(t, debit.Equal(credit), "entry %s unbalanced: %s vs %s", e.Number, debit, credit)
	}
}

func TestFinalizeSaleCostsFIFOLayersAndPostsRevenue(t *testing.T) {
	f := newFixture(t, nil)
	f.receive(t, tenant, skuA, "10", "2")
	f.receive(t, tenant, skuA, "5", "3")

	res, err := f.svc.FinalizeSale(context.Background(), posting.FinalizeSaleInput{
		TenantID: tenant,
		SaleRef:  "SO-1",
		Lines:    []posting.SaleLine{{SKUID: skuA, Qty: dec("12"), UnitPrice: dec("5")}},
		TaxRate:  dec("0.10"),
		ActorID:  actor,
	})
	require.NoError(t, err)
	require.Len(t, res.Movements, 1)
	require.Len(t, res.Entries, 1)
	require.NotNil(t, res.Revenue)

	requireDecimal(t, "26", res.Movements[0].CostDetail.TotalCost)
	requireDecimal(t, "3", f.store.OnHand(tenant, skuA))
	requireDecimal(t, "26", f.store.AccountBalance(tenant, ledgertest.AccountCostOfGoodsSold))
	requireDecimal(t, "9", f.store.AccountBalance(tenant, ledgertest.AccountInventory))
	requireDecimal(t, "-35", f.store.AccountBalance(tenant, ledgertest.AccountPayable))
	requireDecimal(t, "66", f.store.AccountBalance(tenant, ledgertest.AccountReceivable))
	requireDecimal(t, "-60", f.store.AccountBalance(tenant, ledgertest.AccountSalesRevenue))
	requireDecimal(t, "-6", f.store.AccountBalance(tenant, ledgertest.AccountTaxPayable))
	requireBalancedEntries(t, f.store.Entries())

	batches := f.store.Batches(tenant, skuA)
	require.Len(t, batches, 2)
	require.False(t, batches[0].Active)
	requireDecimal(t, "3", batches[1].QtyRemaining)
	require.Equal(t, "SI-202503-00001", res.Revenue.Number)
}

func TestFinalizeSaleSettlesToWallet(t *testing.T) {
	f := newFixture(t, nil)
	f.receive(t, tenant, skuA, "1", "4")

	_, err := f.svc.FinalizeSale(context.Background(), posting.FinalizeSaleInput{
		TenantID: tenant,
		SaleRef:  "POS-9",
		Lines:    []posting.SaleLine{{SKUID: skuA, Qty: dec("1"), UnitPrice: dec("10")}},
		SettleTo: mappings.RoleCustomerWallet,
		ActorID:  actor,
	})
	require.NoError(t, err)
	requireDecimal(t, "10", f.store.AccountBalance(tenant, ledgertest.AccountCustomerWallet))
	requireDecimal(t, "0", f.store.AccountBalance(tenant, ledgertest.AccountReceivable))
}

func TestFinalizeSaleRollsBackEveryLineOnFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.receive(t, tenant, skuA, "10", "2")
	entriesBefore := len(f.store.Entries())

	_, err := f.svc.FinalizeSale(context.Background(), posting.FinalizeSaleInput{
		TenantID: tenant,
		SaleRef:  "SO-2",
		Lines: []posting.SaleLine{
			{SKUID: skuA, Qty: dec("2"), UnitPrice: dec("5")},
			{SKUID: skuB, Qty: dec("5"), UnitPrice: dec("5")},
		},
		ActorID: actor,
	})
	require.ErrorIs(t, err, inventory.ErrNegativeStock)
	var negErr *inventory.NegativeStockError
	require.ErrorAs(t, err, &negErr)
	require.Equal(t, skuB, negErr.SKUID)

	requireDecimal(t, "10", f.store.OnHand(tenant, skuA))
	require.Len(t, f.store.Entries(), entriesBefore)
	require.Len(t, f.store.Movements(tenant, skuA), 1)
	requireDecimal(t, "10", f.store.Batches(tenant, skuA)[0].QtyRemaining)
	require.NotContains(t, f.audit.actions(), "finalize_sale")
}

func TestWeightedAverageSaleUsesCurrentAverage(t *testing.T) {
	f := newFixture(t, nil)
	f.receive(t, walTenant, skuA, "10", "2")
	f.receive(t, walTenant, skuA, "10", "4")

	_, err := f.svc.FinalizeSale(context.Background(), posting.FinalizeSaleInput{
		TenantID: walTenant,
		SaleRef:  "SO-3",
		Lines:    []posting.SaleLine{{SKUID: skuA, Qty: dec("5"), UnitPrice: dec("8")}},
		ActorID:  actor,
	})
	require.NoError(t, err)
	requireDecimal(t, "15", f.store.AccountBalance(walTenant, ledgertest.AccountCostOfGoodsSold))
	avg, ok := f.store.Average(walTenant, skuA)
	require.True(t, ok)
	requireDecimal(t, "15", avg.Qty)
	requireDecimal(t, "3", avg.UnitCost)
}

func TestUnpostRestoresStockCostAndLedger(t *testing.T) {
	f := newFixture(t, nil)
	receipt := f.receive(t, tenant, skuA, "10", "2")
	sale, err := f.svc.FinalizeSale(context.Background(), posting.FinalizeSaleInput{
		TenantID: tenant,
		SaleRef:  "SO-4",
		Lines:    []posting.SaleLine{{SKUID: skuA, Qty: dec("4"), UnitPrice: dec("5")}},
		ActorID:  actor,
	})
	require.NoError(t, err)
	issue := sale.Movements[0]

	_, err = f.svc.UnpostStockMovement(context.Background(), posting.MovementCommand{
		TenantID: tenant, MovementID: receipt.Movements[0].ID, ActorID: actor,
	})
	require.ErrorIs(t, err, inventory.ErrInvalidPostingState)

	res, err := f.svc.UnpostStockMovement(context.Background(), posting.MovementCommand{
		TenantID: tenant, MovementID: issue.ID, ActorID: actor,
	})
	require.NoError(t, err)
	require.Equal(t, inventory.StateDraft, res.Movement.State)
	require.NotNil(t, res.Entry)
	require.NotNil(t, res.Entry.ReversesEntryID)
	require.Equal(t, *issue.JournalEntryID, *res.Entry.ReversesEntryID)

	requireDecimal(t, "10", f.store.OnHand(tenant, skuA))
	requireDecimal(t, "0", f.store.AccountBalance(tenant, ledgertest.AccountCostOfGoodsSold))
	requireDecimal(t, "20", f.store.AccountBalance(tenant, ledgertest.AccountInventory))
	batch := f.store.Batches(tenant, skuA)[0]
	require.True(t, batch.Active)
	requireDecimal(t, "10", batch.QtyRemaining)

	reposted, err := f.svc.PostStockMovement(context.Background(), posting.MovementCommand{
		TenantID: tenant, MovementID: issue.ID, ActorID: actor,
	})
	require.NoError(t, err)
	require.NotNil(t, reposted.Entry)
	require.NotEqual(t, *issue.JournalEntryID, reposted.Entry.ID)
	requireDecimal(t, "8", f.store.AccountBalance(tenant, ledgertest.AccountCostOfGoodsSold))
	requireDecimal(t, "6", f.store.OnHand(tenant, skuA))

	actions := make([]string, 0)
	for _, e := range f.store.Events(issue.ID) {
		actions = append(actions, e.Action)
	}
	require.Equal(t, []string{"create", "post", "unpost", "post"}, actions)
	requireBalancedEntries(t, f.store.Entries())
}

func TestRejectDraftMovement(t *testing.T) {
	f := newFixture(t, nil)
	draft, err := f.svc.CreateDraftMovement(context.Background(), inventory.DraftInput{
		TenantID: tenant,
		SKUID:    skuA,
		Kind:     inventory.KindManual,
		Qty:      dec("3"),
		ActorID:  actor,
	})
	require.NoError(t, err)
	require.Equal(t, inventory.StateDraft, draft.State)

	rejected, err := f.svc.RejectStockMovement(context.Background(), posting.RejectCommand{
		TenantID: tenant, MovementID: draft.ID, ActorID: actor, Reason: "duplicate",
	})
	require.NoError(t, err)
	require.Equal(t, inventory.StateRejected, rejected.State)

	_, err = f.svc.PostStockMovement(context.Background(), posting.MovementCommand{
		TenantID: tenant, MovementID: draft.ID, ActorID: actor,
	})
	var stateErr *inventory.InvalidPostingStateError
	require.ErrorAs(t, err, &stateErr)
	require.Equal(t, inventory.StateRejected, stateErr.State)
	requireDecimal(t, "0", f.store.OnHand(tenant, skuA))
}

func TestManualInboundWithoutCostBasisFails(t *testing.T) {
	f := newFixture(t, nil)
	draft, err := f.svc.CreateDraftMovement(context.Background(), inventory.DraftInput{
		TenantID: tenant, SKUID: skuC, Kind: inventory.KindManual, Qty: dec("2"), ActorID: actor,
	})
	require.NoError(t, err)

	_, err = f.svc.PostStockMovement(context.Background(), posting.MovementCommand{
		TenantID: tenant, MovementID: draft.ID, ActorID: actor,
	})
	require.ErrorIs(t, err, inventory.ErrUnitCostRequired)
	m, ok := f.store.Movement(draft.ID)
	require.True(t, ok)
	require.Equal(t, inventory.StateDraft, m.State)
}

func TestApplyAuditAdjustments(t *testing.T) {
	f := newFixture(t, nil)
	f.receive(t, tenant, skuA, "10", "2")
	overageCost := dec("1.50")

	res, err := f.svc.ApplyAuditAdjustments(context.Background(), posting.AuditAdjustmentInput{
		TenantID: tenant,
		AuditRef: "CNT-1",
		Counts: []posting.CountLine{
			{SKUID: skuA, Counted: dec("8")},
			{SKUID: skuB, Counted: dec("5"), UnitCost: &overageCost},
			{SKUID: skuC, Counted: dec("0")},
		},
		ActorID: actor,
	})
	require.NoError(t, err)
	require.Len(t, res.Movements, 2)
	require.Len(t, res.Entries, 2)

	requireDecimal(t, "8", f.store.OnHand(tenant, skuA))
	requireDecimal(t, "5", f.store.OnHand(tenant, skuB))
	requireDecimal(t, "4", f.store.AccountBalance(tenant, ledgertest.AccountInventoryShrinkage))
	requireDecimal(t, "-7.5", f.store.AccountBalance(tenant, ledgertest.AccountInventoryGain))
	requireDecimal(t, "23.5", f.store.AccountBalance(tenant, ledgertest.AccountInventory))
}

func TestApplyAuditAdjustmentsRejectsDuplicateSKU(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.ApplyAuditAdjustments(context.Background(), posting.AuditAdjustmentInput{
		TenantID: tenant,
		AuditRef: "CNT-2",
		Counts:   []posting.CountLine{{SKUID: skuA, Counted: dec("1")}, {SKUID: skuA, Counted: dec("2")}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestTransferStockKeepsCostLayers(t *testing.T) {
	f := newFixture(t, nil)
	f.receive(t, tenant, skuA, "10", "2")
	f.receive(t, tenant, skuA, "5", "3")
	entriesBefore := len(f.store.Entries())

	res, err := f.svc.TransferStock(context.Background(), posting.TransferInput{
		TenantID:       tenant,
		SKUID:          skuA,
		Qty:            dec("12"),
		FromLocationID: 1,
		ToLocationID:   2,
		TransferRef:    "TR-1",
		ActorID:        actor,
	})
	require.NoError(t, err)
	require.Equal(t, inventory.KindTransferOut, res.Out.Kind)
	require.Equal(t, inventory.KindTransferIn, res.In.Kind)
	require.Equal(t, res.Out.ID, *res.In.LinkedMovementID)

	requireDecimal(t, "15", f.store.OnHand(tenant, skuA))
	require.Len(t, f.store.Entries(), entriesBefore)
	batches := f.store.Batches(tenant, skuA)
	require.Len(t, batches, 2)
	requireDecimal(t, "10", batches[0].QtyRemaining)
	requireDecimal(t, "5", batches[1].QtyRemaining)
	require.True(t, batches[0].Active)

	_, err = f.svc.TransferStock(context.Background(), posting.TransferInput{
		TenantID: tenant, SKUID: skuA, Qty: dec("16"), FromLocationID: 1, ToLocationID: 2,
	})
	require.ErrorIs(t, err, inventory.ErrNegativeStock)

	_, err = f.svc.TransferStock(context.Background(), posting.TransferInput{
		TenantID: tenant, SKUID: skuA, Qty: dec("1"), FromLocationID: 1, ToLocationID: 1,
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestTransferLegsCannotMoveAlone(t *testing.T) {
	f := newFixture(t, nil)
	f.receive(t, tenant, skuA, "10", "2")
	res, err := f.svc.TransferStock(context.Background(), posting.TransferInput{
		TenantID: tenant, SKUID: skuA, Qty: dec("5"), FromLocationID: 1, ToLocationID: 2, TransferRef: "TR-2", ActorID: actor,
	})
	require.NoError(t, err)
	_, err = f.svc.FinalizeSale(context.Background(), posting.FinalizeSaleInput{
		TenantID: tenant,
		SaleRef:  "SO-9",
		Lines:    []posting.SaleLine{{SKUID: skuA, Qty: dec("10"), UnitPrice: dec("3")}},
		ActorID:  actor,
	})
	require.NoError(t, err)

	linked := res.Out.ID
	_, err = f.svc.CreateDraftMovement(context.Background(), inventory.DraftInput{
		TenantID: tenant, SKUID: skuA, Kind: inventory.KindTransferIn, Qty: dec("5"), LinkedMovementID: &linked, ActorID: actor,
	})
	require.ErrorIs(t, err, posting.ErrTransferLeg)

	_, err = f.svc.CreateDraftMovement(context.Background(), inventory.DraftInput{
		TenantID: tenant, SKUID: skuA, Kind: inventory.KindTransferOut, Qty: dec("-4"), ActorID: actor,
	})
	require.ErrorIs(t, err, posting.ErrTransferLeg)
	require.ErrorIs(t, err, inventory.ErrTransferMismatch)

	requireDecimal(t, "0", f.store.OnHand(tenant, skuA))
	requireDecimal(t, "0", f.store.AccountBalance(tenant, ledgertest.AccountInventory))
	for _, b := range f.store.Batches(tenant, skuA) {
		requireDecimal(t, "0", b.QtyRemaining)
	}
}

func TestUnpostTransferLegUnpostsBoth(t *testing.T) {
	f := newFixture(t, nil)
	f.receive(t, tenant, skuA, "10", "2")
	entriesBefore := len(f.store.Entries())
	res, err := f.svc.TransferStock(context.Background(), posting.TransferInput{
		TenantID: tenant, SKUID: skuA, Qty: dec("4"), FromLocationID: 1, ToLocationID: 2, TransferRef: "TR-3", ActorID: actor,
	})
	require.NoError(t, err)

	undone, err := f.svc.UnpostStockMovement(context.Background(), posting.MovementCommand{
		TenantID: tenant, MovementID: res.Out.ID, ActorID: actor,
	})
	require.NoError(t, err)
	require.Equal(t, res.Out.ID, undone.Movement.ID)
	require.Equal(t, inventory.StateDraft, undone.Movement.State)
	require.Nil(t, undone.Entry)

	in, ok := f.store.Movement(res.In.ID)
	require.True(t, ok)
	require.Equal(t, inventory.StateDraft, in.State)
	requireDecimal(t, "10", f.store.OnHand(tenant, skuA))
	batch := f.store.Batches(tenant, skuA)[0]
	require.True(t, batch.Active)
	requireDecimal(t, "10", batch.QtyRemaining)
	require.Len(t, f.store.Entries(), entriesBefore)

	_, err = f.svc.PostStockMovement(context.Background(), posting.MovementCommand{
		TenantID: tenant, MovementID: res.In.ID, ActorID: actor,
	})
	require.ErrorIs(t, err, posting.ErrTransferLeg)
	requireDecimal(t, "10", f.store.OnHand(tenant, skuA))
}

func TestPaymentCreateAndVoid(t *testing.T) {
	f := newFixture(t, nil)
	inv := f.store.SeedInvoice(ap.VendorInvoice{TenantID: tenant, VendorID: 9, Number: "INV-1", TotalAmount: dec("100")})
	bank := f.store.SeedBankAccount(ap.BankAccount{TenantID: tenant, Name: "Operating", CurrentBalance: dec("500")})

	res, err := f.svc.CreatePayment(context.Background(), posting.PaymentInput{CreatePaymentInput: ap.CreatePaymentInput{
		TenantID:      tenant,
		VendorID:      9,
		BankAccountID: bank.ID,
		Amount:        dec("60"),
		Allocations:   []ap.Allocation{{InvoiceID: inv.ID, Amount: dec("60")}},
		ActorID:       actor,
	}})
	require.NoError(t, err)
	require.Equal(t, "PAY-202503-00001", res.Payment.Number)
	require.NotNil(t, res.Payment.JournalEntryID)

	paid := f.store.Invoice(inv.ID)
	require.Equal(t, ap.InvoicePartiallyPaid, paid.Status)
	requireDecimal(t, "60", paid.AmountPaid)
	requireDecimal(t, "440", f.store.BankAccount(bank.ID).CurrentBalance)
	requireDecimal(t, "60", f.store.AccountBalance(tenant, ledgertest.AccountPayable))
	requireDecimal(t, "-60", f.store.AccountBalance(tenant, ledgertest.AccountBank))

	voided, err := f.svc.VoidPayment(context.Background(), posting.VoidInput{VoidPaymentInput: ap.VoidPaymentInput{
		TenantID: tenant, PaymentID: res.Payment.ID, Reason: "wrong vendor", ActorID: actor,
	}})
	require.NoError(t, err)
	require.Equal(t, ap.PaymentVoid, voided.Payment.Status)
	require.Equal(t, *res.Payment.JournalEntryID, *voided.Entry.ReversesEntryID)

	reopened := f.store.Invoice(inv.ID)
	require.Equal(t, ap.InvoiceOpen, reopened.Status)
	requireDecimal(t, "0", reopened.AmountPaid)
	requireDecimal(t, "500", f.store.BankAccount(bank.ID).CurrentBalance)
	requireDecimal(t, "0", f.store.AccountBalance(tenant, ledgertest.AccountPayable))
	requireDecimal(t, "0", f.store.AccountBalance(tenant, ledgertest.AccountBank))

	stored, ok := f.store.Payment(res.Payment.ID)
	require.True(t, ok)
	require.Len(t, stored.Applications, 1)

	_, err = f.svc.VoidPayment(context.Background(), posting.VoidInput{VoidPaymentInput: ap.VoidPaymentInput{
		TenantID: tenant, PaymentID: res.Payment.ID, ActorID: actor,
	}})
	require.ErrorIs(t, err, ap.ErrAlreadyVoid)
	require.Len(t, f.store.Entries(), 2)
}

func TestPaymentOverapplicationChangesNothing(t *testing.T) {
	f := newFixture(t, nil)
	inv := f.store.SeedInvoice(ap.VendorInvoice{TenantID: tenant, VendorID: 9, Number: "INV-2", TotalAmount: dec("100")})
	bank := f.store.SeedBankAccount(ap.BankAccount{TenantID: tenant, Name: "Operating", CurrentBalance: dec("500")})

	_, err := f.svc.CreatePayment(context.Background(), posting.PaymentInput{CreatePaymentInput: ap.CreatePaymentInput{
		TenantID:      tenant,
		VendorID:      9,
		BankAccountID: bank.ID,
		Amount:        dec("150"),
		Allocations:   []ap.Allocation{{InvoiceID: inv.ID, Amount: dec("150")}},
		ActorID:       actor,
	}})
	var overErr *ap.OverapplicationError
	require.ErrorAs(t, err, &overErr)
	require.Equal(t, inv.ID, overErr.InvoiceID)

	requireDecimal(t, "500", f.store.BankAccount(bank.ID).CurrentBalance)
	requireDecimal(t, "0", f.store.Invoice(inv.ID).AmountPaid)
	require.Empty(t, f.store.Entries())
}

func TestIdempotencyKeyRejectsReplay(t *testing.T) {
	f := newFixture(t, nil)
	in := posting.ReceivePurchaseInput{
		TenantID:       tenant,
		ReceiptRef:     "GRN-7",
		Lines:          []posting.ReceiptLine{{SKUID: skuA, Qty: dec("10"), UnitCost: dec("2")}},
		ActorID:        actor,
		IdempotencyKey: "grn-7",
	}
	_, err := f.svc.ReceivePurchase(context.Background(), in)
	require.NoError(t, err)
	_, err = f.svc.ReceivePurchase(context.Background(), in)
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
	requireDecimal(t, "10", f.store.OnHand(tenant, skuA))
}

func TestMissingAccountRollsBackStock(t *testing.T) {
	partial := ledgertest.DefaultMappings(tenant)
	kept := partial[:0]
	for _, m := range partial {
		if m.Role != mappings.RoleAccountsPayable {
			kept = append(kept, m)
		}
	}
	f := newFixture(t, ledgertest.Charts{tenant: kept})

	_, err := f.svc.ReceivePurchase(context.Background(), posting.ReceivePurchaseInput{
		TenantID:   tenant,
		ReceiptRef: "GRN-8",
		Lines:      []posting.ReceiptLine{{SKUID: skuA, Qty: dec("3"), UnitCost: dec("2")}},
		ActorID:    actor,
	})
	var missing *mappings.AccountNotConfiguredError
	require.ErrorAs(t, err, &missing)
	require.Equal(t, mappings.RoleAccountsPayable, missing.Role)
	requireDecimal(t, "0", f.store.OnHand(tenant, skuA))
	require.Empty(t, f.store.Movements(tenant, skuA))
	require.Empty(t, f.store.Batches(tenant, skuA))
}

func TestManualJournalPostAndReverse(t *testing.T) {
	f := newFixture(t, nil)
	entry, err := f.svc.PostJournalEntry(context.Background(), posting.ManualEntryInput{PostingInput: journals.PostingInput{
		TenantID:    tenant,
		Description: "Owner top-up",
		PostedBy:    actor,
		Lines: []journals.LineInput{
			journals.Debit(mappings.RoleBank, dec("100"), ""),
			journals.Credit(mappings.RoleSalesRevenue, dec("100"), ""),
		},
	}})
	require.NoError(t, err)
	require.Equal(t, "JV-202503-00001", entry.Number)

	reversal, err := f.svc.ReverseJournalEntry(context.Background(), journals.ReverseInput{
		TenantID: tenant, EntryID: entry.ID, PostedBy: actor,
	})
	require.NoError(t, err)
	require.Equal(t, entry.ID, *reversal.ReversesEntryID)
	requireDecimal(t, "0", f.store.AccountBalance(tenant, ledgertest.AccountBank))

	_, err = f.svc.ReverseJournalEntry(context.Background(), journals.ReverseInput{
		TenantID: tenant, EntryID: entry.ID, PostedBy: actor,
	})
	require.ErrorIs(t, err, journals.ErrAlreadyReversed)
}

func TestManualJournalUnbalancedIsRejected(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.PostJournalEntry(context.Background(), posting.ManualEntryInput{PostingInput: journals.PostingInput{
		TenantID: tenant,
		Lines: []journals.LineInput{
			journals.Debit(mappings.RoleBank, dec("100.00"), ""),
			journals.Credit(mappings.RoleSalesRevenue, dec("99.99"), ""),
		},
	}})
	var unbalanced *journals.UnbalancedEntryError
	require.ErrorAs(t, err, &unbalanced)
	require.Empty(t, f.store.Entries())
}

func TestReverseJournalEntryRefusesDocumentEntries(t *testing.T) {
	f := newFixture(t, nil)
	receipt := f.receive(t, tenant, skuA, "1", "2")

	_, err := f.svc.ReverseJournalEntry(context.Background(), journals.ReverseInput{
		TenantID: tenant, EntryID: receipt.Entries[0].ID, PostedBy: actor,
	})
	require.ErrorIs(t, err, posting.ErrDocumentEntry)
}

func TestManualJournalCannotClaimDocumentModules(t *testing.T) {
	f := newFixture(t, nil)
	for _, module := range []string{integration.ModuleStock, integration.ModulePayment} {
		_, err := f.svc.PostJournalEntry(context.Background(), posting.ManualEntryInput{PostingInput: journals.PostingInput{
			TenantID:     tenant,
			SourceModule: module,
			PostedBy:     actor,
			Lines: []journals.LineInput{
				journals.Debit(mappings.RoleBank, dec("10"), ""),
				journals.Credit(mappings.RoleSalesRevenue, dec("10"), ""),
			},
		}})
		require.ErrorIs(t, err, posting.ErrReservedSourceModule, module)
		require.ErrorIs(t, err, shared.ErrValidation, module)
	}
	require.Empty(t, f.store.Entries())
}

func TestReverseJournalEntryRequiresTenantAndEntry(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.ReverseJournalEntry(context.Background(), journals.ReverseInput{TenantID: tenant, PostedBy: actor})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.ReverseJournalEntry(context.Background(), journals.ReverseInput{EntryID: 1, PostedBy: actor})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Empty(t, f.store.Entries())
}

func TestConcurrentSalesNeverOversell(t *testing.T) {
	f := newFixture(t, nil)
	f.receive(t, tenant, skuA, "5", "2")

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.FinalizeSale(context.Background(), posting.FinalizeSaleInput{
				TenantID: tenant,
				SaleRef:  fmt.Sprintf("POS-%d", i),
				Lines:    []posting.SaleLine{{SKUID: skuA, Qty: dec("1"), UnitPrice: dec("3")}},
				ActorID:  actor,
			})
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		require.ErrorIs(t, err, inventory.ErrNegativeStock)
	}
	require.Equal(t, 5, ok)
	requireDecimal(t, "0", f.store.OnHand(tenant, skuA))
}

func TestAuditAndMetricsRecordedAfterCommit(t *testing.T) {
	f := newFixture(t, nil)
	f.receive(t, tenant, skuA, "2", "2")
	_, err := f.svc.FinalizeSale(context.Background(), posting.FinalizeSaleInput{
		TenantID: tenant,
		SaleRef:  "SO-9",
		Lines:    []posting.SaleLine{{SKUID: skuA, Qty: dec("3"), UnitPrice: dec("1")}},
	})
	require.Error(t, err)

	require.Equal(t, []string{"receive_purchase"}, f.audit.actions())

	families, err := f.reg.Gather()
	require.NoError(t, err)
	outcomes := map[string]float64{}
	for _, mf := range families {
		if mf.GetName() != "ledger_posting_events_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			key := ""
			for _, l := range m.GetLabel() {
				key += l.GetName() + "=" + l.GetValue() + ";"
			}
			outcomes[key] = m.GetCounter().GetValue()
		}
	}
	require.Equal(t, float64(1), outcomes["operation=receive_purchase;outcome=ok;"])
	require.Equal(t, float64(1), outcomes["operation=finalize_sale;outcome=negative_stock;"])
}
