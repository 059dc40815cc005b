package ledgertest

import (
	"context"
	"errors"

	"github.com/odyssey-erp/ledgercore/internal/accounting/mappings"
	"github.com/odyssey-erp/ledgercore/internal/costing"
)

// Account ids of DefaultChart.
const (
	AccountBank               int64 = 1100
	AccountReceivable         int64 = 1200
	AccountInventory          int64 = 1300
	AccountPayable            int64 = 2100
	AccountTaxPayable         int64 = 2200
	AccountCustomerWallet     int64 = 2300
	AccountSalesRevenue       int64 = 4000
	AccountInventoryGain      int64 = 4100
	AccountCostOfGoodsSold    int64 = 5000
	AccountInventoryShrinkage int64 = 5100
)

// DefaultMappings maps every role for tenantID.
func DefaultMappings(tenantID int64) []mappings.AccountMapping {
	ids := map[mappings.Role]int64{
		mappings.RoleBank:               AccountBank,
		mappings.RoleAccountsReceivable: AccountReceivable,
		mappings.RoleInventory:          AccountInventory,
		mappings.RoleAccountsPayable:    AccountPayable,
		mappings.RoleTaxPayable:         AccountTaxPayable,
		mappings.RoleCustomerWallet:     AccountCustomerWallet,
		mappings.RoleSalesRevenue:       AccountSalesRevenue,
		mappings.RoleInventoryGain:      AccountInventoryGain,
		mappings.RoleCostOfGoodsSold:    AccountCostOfGoodsSold,
		mappings.RoleInventoryShrinkage: AccountInventoryShrinkage,
	}
	out := make([]mappings.AccountMapping, 0, len(ids))
	for role, id := range ids {
		out = append(out, mappings.AccountMapping{TenantID: tenantID, Role: role, AccountID: id})
	}
	return out
}

// Charts is a static ChartSource.
type Charts map[int64][]mappings.AccountMapping

func (c Charts) LoadChart(ctx context.Context, tenantID int64) (mappings.Chart, error) {
	return mappings.NewChart(tenantID, c[tenantID]), nil
}

// Catalog is a static costing policy lookup.
type Catalog map[int64]costing.Method

// ErrUnknownTenant is returned by Catalog for tenants it was not given.
var ErrUnknownTenant = errors.New("ledgertest: unknown tenant")

func (c Catalog) CostingMethod(ctx context.Context, tenantID int64) (costing.Method, error) {
	m, ok := c[tenantID]
	if !ok {
		return "", ErrUnknownTenant
	}
	return m, nil
}
