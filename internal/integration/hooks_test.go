package integration

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/ledgercore/internal/accounting/mappings"
	"github.com/odyssey-erp/ledgercore/internal/costing"
	"github.com/odyssey-erp/ledgercore/internal/inventory"
)

func posted(kind inventory.MovementKind, qty, total string) inventory.Movement {
	return inventory.Movement{
		ID:         5,
		TenantID:   1,
		SKUID:      9,
		Kind:       kind,
		Qty:        decimal.RequireFromString(qty),
		State:      inventory.StatePosted,
		Revision:   1,
		CostDetail: &costing.Detail{TotalCost: decimal.RequireFromString(total)},
	}
}

func TestMovementPostingRoles(t *testing.T) {
	date := time.Date(2025, 5, 2, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		kind   inventory.MovementKind
		qty    string
		debit  mappings.Role
		credit mappings.Role
	}{
		{inventory.KindPurchaseReceipt, "10", mappings.RoleInventory, mappings.RoleAccountsPayable},
		{inventory.KindSalesIssue, "-12", mappings.RoleCostOfGoodsSold, mappings.RoleInventory},
		{inventory.KindAuditAdjustment, "-1", mappings.RoleInventoryShrinkage, mappings.RoleInventory},
		{inventory.KindAuditAdjustment, "2", mappings.RoleInventory, mappings.RoleInventoryGain},
		{inventory.KindManual, "-3", mappings.RoleInventoryShrinkage, mappings.RoleInventory},
	}
	for _, tc := range cases {
		in, ok := MovementPosting(posted(tc.kind, tc.qty, "26.004"), date, 0)
		require.True(t, ok, tc.kind)
		require.NoError(t, in.Validate())
		require.Equal(t, tc.debit, in.Lines[0].Role)
		require.Equal(t, tc.credit, in.Lines[1].Role)
		require.True(t, in.Lines[0].Debit.Equal(decimal.RequireFromString("26")))
	}
}

func TestMovementPostingSkipsTransfersAndZeroCost(t *testing.T) {
	_, ok := MovementPosting(posted(inventory.KindTransferOut, "-1", "5"), time.Now(), 0)
	require.False(t, ok)
	_, ok = MovementPosting(posted(inventory.KindPurchaseReceipt, "1", "0.001"), time.Now(), 0)
	require.False(t, ok)
}

func TestMovementPostingSourceChangesPerRevision(t *testing.T) {
	m := posted(inventory.KindPurchaseReceipt, "1", "5")
	first, _ := MovementPosting(m, time.Now(), 0)
	m.Revision = 2
	second, _ := MovementPosting(m, time.Now(), 0)
	require.NotEqual(t, first.SourceID, second.SourceID)
}

func TestSalePostingBalancesWithTax(t *testing.T) {
	in := SalePosting(SaleRevenue{
		TenantID: 1,
		SaleRef:  "SO-1",
		Date:     time.Now(),
		Net:      decimal.RequireFromString("100.00"),
		Tax:      decimal.RequireFromString("11.00"),
		SettleTo: mappings.RoleCustomerWallet,
	})
	require.NoError(t, in.Validate())
	require.Len(t, in.Lines, 3)
	require.True(t, in.Lines[0].Debit.Equal(decimal.RequireFromString("111")))
	require.Equal(t, mappings.RoleTaxPayable, in.Lines[2].Role)
}
