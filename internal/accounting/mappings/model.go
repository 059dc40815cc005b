package mappings

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// Role is the semantic purpose of a ledger account inside a posting.
type Role string

const (
	RoleInventory          Role = "INVENTORY"
	RoleAccountsPayable    Role = "ACCOUNTS_PAYABLE"
	RoleAccountsReceivable Role = "ACCOUNTS_RECEIVABLE"
	RoleCustomerWallet     Role = "CUSTOMER_WALLET"
	RoleSalesRevenue       Role = "SALES_REVENUE"
	RoleCostOfGoodsSold    Role = "COST_OF_GOODS_SOLD"
	RoleTaxPayable         Role = "TAX_PAYABLE"
	RoleBank               Role = "BANK"
	RoleInventoryShrinkage Role = "INVENTORY_SHRINKAGE"
	RoleInventoryGain      Role = "INVENTORY_GAIN"
)

// Roles lists every role the ledger core posts against.
func Roles() []Role {
	return []Role{
		RoleInventory, RoleAccountsPayable, RoleAccountsReceivable, RoleCustomerWallet,
		RoleSalesRevenue, RoleCostOfGoodsSold, RoleTaxPayable, RoleBank,
		RoleInventoryShrinkage, RoleInventoryGain,
	}
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	for _, known := range Roles() {
		if r == known {
			return true
		}
	}
	return false
}

// AccountMapping links a tenant role to a ledger account.
type AccountMapping struct {
	TenantID  int64     `json:"tenant_id"`
	Role      Role      `json:"role"`
	AccountID int64     `json:"account_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ErrAccountNotConfigured is matched by every AccountNotConfiguredError.
var ErrAccountNotConfigured = errors.New("accounting: account not configured")

// AccountNotConfiguredError names the tenant and role that lack a mapping.
type AccountNotConfiguredError struct {
	TenantID int64
	Role     Role
}

func (e *AccountNotConfiguredError) Error() string {
	return fmt.Sprintf("accounting: tenant %d has no account for role %s", e.TenantID, e.Role)
}

func (e *AccountNotConfiguredError) Is(target error) bool {
	return target == ErrAccountNotConfigured
}

// Resolver maps a role to the account configured for the posting tenant.
type Resolver interface {
	Resolve(role Role) (int64, error)
}

// Chart is an immutable snapshot of one tenant's role mappings.
type Chart struct {
	tenantID int64
	accounts map[Role]int64
}

// NewChart builds a chart from mappings belonging to tenantID. Mappings of other tenants
// and zero account ids are ignored.
func NewChart(tenantID int64, mappings []AccountMapping) Chart {
	accounts := make(map[Role]int64, len(mappings))
	for _, m := range mappings {
		if m.TenantID != tenantID || m.AccountID == 0 {
			continue
		}
		accounts[m.Role] = m.AccountID
	}
	return Chart{tenantID: tenantID, accounts: accounts}
}

// TenantID returns the tenant the chart belongs to.
func (c Chart) TenantID() int64 { return c.tenantID }

// Resolve returns the account for role or an AccountNotConfiguredError.
func (c Chart) Resolve(role Role) (int64, error) {
	if id, ok := c.accounts[role]; ok {
		return id, nil
	}
	return 0, &AccountNotConfiguredError{TenantID: c.tenantID, Role: role}
}

// Mappings returns the chart content ordered by role.
func (c Chart) Mappings() []AccountMapping {
	out := make([]AccountMapping, 0, len(c.accounts))
	for role, id := range c.accounts {
		out = append(out, AccountMapping{TenantID: c.tenantID, Role: role, AccountID: id})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Role < out[j].Role })
	return out
}
