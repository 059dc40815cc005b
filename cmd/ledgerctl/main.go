// ledgerctl is the operator tool for the ledger core: it posts, unposts and voids documents,
// reverses manual entries, lists stock history, maintains tenant policy and runs the integrity checks.
//
// Usage: ledgerctl <command> [flags]
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/odyssey-erp/ledgercore/internal/accounting/mappings"
	"github.com/odyssey-erp/ledgercore/internal/app"
	"github.com/odyssey-erp/ledgercore/internal/catalog"
	"github.com/odyssey-erp/ledgercore/internal/costing"
	"github.com/odyssey-erp/ledgercore/internal/inventory"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr, connect)
	stop()
	os.Exit(code)
}

func connect(ctx context.Context) (Deps, func(), error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return Deps{}, nil, err
	}
	logger := app.NewLogger(cfg).With(slog.String("component", "ledgerctl"))
	rt, err := app.Bootstrap(ctx, cfg, logger)
	if err != nil {
		return Deps{}, nil, err
	}
	admin := &runtimeAdmin{
		policies: catalog.NewRepository(rt.Pool),
		mappings: mappings.NewRepository(rt.Pool),
		charts:   rt.Charts,
	}
	return Deps{
		Ledger:     rt.Posting,
		Reconciler: rt.Checker,
		Admin:      admin,
		Movements:  inventory.NewRepository(rt.Pool),
	}, rt.Close, nil
}

// runtimeAdmin writes tenant policy and drops the cached chart after a mapping change.
type runtimeAdmin struct {
	policies *catalog.Repository
	mappings *mappings.Repository
	charts   *mappings.CachedSource
}

func (a *runtimeAdmin) SetCostingMethod(ctx context.Context, tenantID int64, method costing.Method) error {
	return a.policies.SetCostingMethod(ctx, tenantID, method)
}

func (a *runtimeAdmin) MapAccount(ctx context.Context, m mappings.AccountMapping) error {
	if err := a.mappings.Upsert(ctx, m); err != nil {
		return err
	}
	return a.charts.Invalidate(ctx, m.TenantID)
}
