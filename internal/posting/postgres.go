package posting

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/ledgercore/internal/accounting/journals"
	"github.com/odyssey-erp/ledgercore/internal/ap"
	"github.com/odyssey-erp/ledgercore/internal/costing"
	"github.com/odyssey-erp/ledgercore/internal/inventory"
	"github.com/odyssey-erp/ledgercore/internal/platform/db"
	"github.com/odyssey-erp/ledgercore/internal/shared"
)

// PostgresUnitOfWork runs each unit in one repeatable-read transaction.
type PostgresUnitOfWork struct {
	pool *pgxpool.Pool
}

// NewPostgresUnitOfWork constructs the unit of work.
func NewPostgresUnitOfWork(pool *pgxpool.Pool) *PostgresUnitOfWork {
	return &PostgresUnitOfWork{pool: pool}
}

// WithTx implements UnitOfWork.
func (u *PostgresUnitOfWork) WithTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	err := db.WithTx(ctx, u.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgTx{tx: tx})
	})
	return translateTxError(err)
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Stock() inventory.TxRepository  { return inventory.NewTxRepository(t.tx) }
func (t *pgTx) Costing() costing.Store         { return costing.NewTxStore(t.tx) }
func (t *pgTx) Journal() journals.TxRepository { return journals.NewTxRepository(t.tx) }
func (t *pgTx) Payables() ap.TxRepository      { return ap.NewTxRepository(t.tx) }

func (t *pgTx) Claim(ctx context.Context, key, module string) error {
	return shared.NewIdempotencyStore(t.tx).CheckAndInsert(ctx, key, module)
}

// translateTxError maps serialization and deadlock aborts to shared.ErrConcurrentPosting.
func translateTxError(err error) error {
	if err == nil {
		return nil
	}
	if db.IsRetryable(err) {
		return fmt.Errorf("%w: %v", shared.ErrConcurrentPosting, err)
	}
	return err
}
