// Package reconcile cross-checks the stock, cost, journal and payables tables for drift.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Check names, also used as the metrics label.
const (
	CheckUnbalancedEntries = "unbalanced_entries"
	CheckOnHandDrift       = "on_hand_drift"
	CheckBatchDrift        = "batch_drift"
	CheckInvoicePaidDrift  = "invoice_paid_drift"
	CheckUnjournaled       = "unjournaled_movements"
	CheckUnpairedTransfers = "unpaired_transfers"
)

// Checks lists every check in run order.
func Checks() []string {
	return []string{CheckUnbalancedEntries, CheckOnHandDrift, CheckBatchDrift, CheckInvoicePaidDrift, CheckUnjournaled, CheckUnpairedTransfers}
}

// Finding is one inconsistency.
type Finding struct {
	Check    string          `json:"check"`
	TenantID int64           `json:"tenant_id"`
	Ref      string          `json:"ref"`
	Expected decimal.Decimal `json:"expected"`
	Actual   decimal.Decimal `json:"actual"`
}

func (f Finding) String() string {
	return fmt.Sprintf("%s tenant=%d %s expected=%s actual=%s", f.Check, f.TenantID, f.Ref, f.Expected, f.Actual)
}

// Store runs the queries behind each check. tenantID 0 means every tenant.
type Store interface {
	UnbalancedEntries(ctx context.Context, tenantID int64) ([]Finding, error)
	OnHandDrift(ctx context.Context, tenantID int64) ([]Finding, error)
	BatchDrift(ctx context.Context, tenantID int64) ([]Finding, error)
	InvoicePaidDrift(ctx context.Context, tenantID int64) ([]Finding, error)
	UnjournaledMovements(ctx context.Context, tenantID int64) ([]Finding, error)
	UnpairedTransfers(ctx context.Context, tenantID int64) ([]Finding, error)
}

// Report is the result of one run.
type Report struct {
	TenantID   int64
	StartedAt  time.Time
	FinishedAt time.Time
	Findings   []Finding
}

// Clean reports whether no check found anything.
func (r Report) Clean() bool { return len(r.Findings) == 0 }

// Counts returns findings per check and tenant. Every check appears for tenantID even when clean.
func (r Report) Counts() map[string]map[int64]int {
	out := make(map[string]map[int64]int, len(Checks()))
	for _, c := range Checks() {
		out[c] = map[int64]int{}
		if r.TenantID != 0 {
			out[c][r.TenantID] = 0
		}
	}
	for _, f := range r.Findings {
		out[f.Check][f.TenantID]++
	}
	return out
}

// Checker runs every check concurrently.
type Checker struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewChecker constructs a Checker.
func NewChecker(store Store, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{store: store, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Run executes the checks. The first failing query cancels the others.
func (c *Checker) Run(ctx context.Context, tenantID int64) (Report, error) {
	report := Report{TenantID: tenantID, StartedAt: c.now()}
	runs := map[string]func(context.Context, int64) ([]Finding, error){
		CheckUnbalancedEntries: c.store.UnbalancedEntries,
		CheckOnHandDrift:       c.store.OnHandDrift,
		CheckBatchDrift:        c.store.BatchDrift,
		CheckInvoicePaidDrift:  c.store.InvoicePaidDrift,
		CheckUnjournaled:       c.store.UnjournaledMovements,
		CheckUnpairedTransfers: c.store.UnpairedTransfers,
	}
	names := Checks()
	results := make([][]Finding, len(names))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			found, err := runs[name](gctx, tenantID)
			if err != nil {
				return fmt.Errorf("reconcile %s: %w", name, err)
			}
			for j := range found {
				found[j].Check = name
			}
			results[i] = found
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}
	for _, found := range results {
		report.Findings = append(report.Findings, found...)
	}
	order := make(map[string]int, len(names))
	for i, name := range names {
		order[name] = i
	}
	sort.SliceStable(report.Findings, func(i, j int) bool {
		a, b := report.Findings[i], report.Findings[j]
		if a.TenantID != b.TenantID {
			return a.TenantID < b.TenantID
		}
		if a.Check != b.Check {
			return order[a.Check] < order[b.Check]
		}
		return a.Ref < b.Ref
	})
	report.FinishedAt = c.now()
	for _, f := range report.Findings {
		c.logger.Warn("ledger inconsistency", slog.String("check", f.Check), slog.Int64("tenant_id", f.TenantID),
			slog.String("ref", f.Ref), slog.String("expected", f.Expected.String()), slog.String("actual", f.Actual.String()))
	}
	return report, nil
}
