// Package catalog reads the tenant costing policy.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/ledgercore/internal/costing"
	"github.com/odyssey-erp/ledgercore/internal/platform/db"
)

// ErrPolicyNotConfigured indicates the tenant has no costing method set.
var ErrPolicyNotConfigured = errors.New("catalog: costing method not configured")

// Repository reads ledger_tenant_policies.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CostingMethod returns the tenant's costing method.
func (r *Repository) CostingMethod(ctx context.Context, tenantID int64) (costing.Method, error) {
	var raw string
	err := r.pool.QueryRow(ctx, `SELECT costing_method FROM ledger_tenant_policies WHERE tenant_id = $1`, tenantID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: tenant %d", ErrPolicyNotConfigured, tenantID)
	}
	if err != nil {
		return "", err
	}
	return costing.ParseMethod(raw)
}

// SetCostingMethod stores the method for a tenant. See ChangeMethod.
func (r *Repository) SetCostingMethod(ctx context.Context, tenantID int64, method costing.Method) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return ChangeMethod(ctx, policyTx{tx: tx}, tenantID, method)
	})
}

// ErrMethodInUse indicates a method change for a tenant that still carries a cost basis.
var ErrMethodInUse = errors.New("catalog: costing method cannot change while the tenant holds stock")

// PolicyTx is the transactional side of a method change.
type PolicyTx interface {
	// LockMethod returns the current method, locking the policy row. ok is false when unset.
	LockMethod(ctx context.Context, tenantID int64) (method costing.Method, ok bool, err error)
	// HoldsCostBasis reports on-hand stock, active FIFO batches or a non-empty average.
	HoldsCostBasis(ctx context.Context, tenantID int64) (bool, error)
	UpsertMethod(ctx context.Context, tenantID int64, method costing.Method) error
}

// ChangeMethod sets the tenant's method. Switching is refused while the tenant holds stock: the
// new strategy would start without a cost basis and the old one's history could not be undone.
func ChangeMethod(ctx context.Context, tx PolicyTx, tenantID int64, method costing.Method) error {
	if _, err := costing.StrategyFor(method); err != nil {
		return err
	}
	current, ok, err := tx.LockMethod(ctx, tenantID)
	if err != nil {
		return err
	}
	if ok && current == method {
		return nil
	}
	if ok {
		held, err := tx.HoldsCostBasis(ctx, tenantID)
		if err != nil {
			return err
		}
		if held {
			return fmt.Errorf("%w: tenant %d uses %s", ErrMethodInUse, tenantID, current)
		}
	}
	return tx.UpsertMethod(ctx, tenantID, method)
}

type policyTx struct {
	tx pgx.Tx
}

func (p policyTx) LockMethod(ctx context.Context, tenantID int64) (costing.Method, bool, error) {
	var raw string
	err := p.tx.QueryRow(ctx, `SELECT costing_method FROM ledger_tenant_policies WHERE tenant_id = $1 FOR UPDATE`, tenantID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	method, err := costing.ParseMethod(raw)
	return method, err == nil, err
}

func (p policyTx) HoldsCostBasis(ctx context.Context, tenantID int64) (bool, error) {
	var held bool
	err := p.tx.QueryRow(ctx, `SELECT
	EXISTS (SELECT 1 FROM ledger_stock_balances WHERE tenant_id = $1 AND on_hand <> 0)
	OR EXISTS (SELECT 1 FROM ledger_stock_batches WHERE tenant_id = $1 AND active)
	OR EXISTS (SELECT 1 FROM ledger_cost_averages WHERE tenant_id = $1 AND qty <> 0)`, tenantID).Scan(&held)
	return held, err
}

func (p policyTx) UpsertMethod(ctx context.Context, tenantID int64, method costing.Method) error {
	_, err := p.tx.Exec(ctx, `INSERT INTO ledger_tenant_policies (tenant_id, costing_method, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (tenant_id) DO UPDATE SET costing_method = EXCLUDED.costing_method, updated_at = NOW()`, tenantID, string(method))
	return err
}

// Source looks up a costing method.
type Source interface {
	CostingMethod(ctx context.Context, tenantID int64) (costing.Method, error)
}

// Memo remembers methods already read. Policies change rarely and a change only applies to
// postings made after a restart of the process.
type Memo struct {
	next    Source
	mu      sync.RWMutex
	methods map[int64]costing.Method
}

// NewMemo wraps next.
func NewMemo(next Source) *Memo {
	return &Memo{next: next, methods: make(map[int64]costing.Method)}
}

// CostingMethod implements Source.
func (m *Memo) CostingMethod(ctx context.Context, tenantID int64) (costing.Method, error) {
	m.mu.RLock()
	method, ok := m.methods[tenantID]
	m.mu.RUnlock()
	if ok {
		return method, nil
	}
	method, err := m.next.CostingMethod(ctx, tenantID)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	m.methods[tenantID] = method
	m.mu.Unlock()
	return method, nil
}
