package ap

import (
	"sort"

	"github.com/shopspring/decimal"
)

// AllocateOldestFirst spreads amount over invoices by due date, then issue date, then id.
// Whatever exceeds the open balances stays unapplied.
func AllocateOldestFirst(invoices []VendorInvoice, amount decimal.Decimal) []Allocation {
	ordered := append([]VendorInvoice(nil), invoices...)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if !a.DueAt.Equal(b.DueAt) {
			return a.DueAt.Before(b.DueAt)
		}
		if !a.IssuedAt.Equal(b.IssuedAt) {
			return a.IssuedAt.Before(b.IssuedAt)
		}
		return a.ID < b.ID
	})
	var out []Allocation
	left := amount
	for _, inv := range ordered {
		if !left.IsPositive() {
			break
		}
		open := inv.Remaining()
		if !open.IsPositive() {
			continue
		}
		take := decimal.Min(open, left)
		out = append(out, Allocation{InvoiceID: inv.ID, Amount: take})
		left = left.Sub(take)
	}
	return out
}
