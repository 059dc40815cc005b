package mappings

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Source loads the chart of a tenant.
type Source interface {
	LoadChart(ctx context.Context, tenantID int64) (Chart, error)
}

// Repository reads role mappings from PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// LoadChart reads every mapping of the tenant.
func (r *Repository) LoadChart(ctx context.Context, tenantID int64) (Chart, error) {
	rows, err := r.db.Query(ctx, `SELECT tenant_id, role, account_id, updated_at
FROM ledger_account_mappings WHERE tenant_id=$1`, tenantID)
	if err != nil {
		return Chart{}, err
	}
	defer rows.Close()
	var mappings []AccountMapping
	for rows.Next() {
		var m AccountMapping
		if err := rows.Scan(&m.TenantID, &m.Role, &m.AccountID, &m.UpdatedAt); err != nil {
			return Chart{}, err
		}
		mappings = append(mappings, m)
	}
	if err := rows.Err(); err != nil {
		return Chart{}, err
	}
	return NewChart(tenantID, mappings), nil
}

// Get resolves a single mapping.
func (r *Repository) Get(ctx context.Context, tenantID int64, role Role) (AccountMapping, error) {
	var m AccountMapping
	err := r.db.QueryRow(ctx, `SELECT tenant_id, role, account_id, updated_at
FROM ledger_account_mappings WHERE tenant_id=$1 AND role=$2`, tenantID, role).
		Scan(&m.TenantID, &m.Role, &m.AccountID, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AccountMapping{}, &AccountNotConfiguredError{TenantID: tenantID, Role: role}
		}
		return AccountMapping{}, err
	}
	return m, nil
}

// Upsert stores a mapping; callers invalidate cached charts afterwards.
func (r *Repository) Upsert(ctx context.Context, m AccountMapping) error {
	if !m.Role.Valid() {
		return errors.New("accounting: unknown account role")
	}
	_, err := r.db.Exec(ctx, `INSERT INTO ledger_account_mappings (tenant_id, role, account_id, updated_at)
VALUES ($1,$2,$3,NOW())
ON CONFLICT (tenant_id, role) DO UPDATE SET account_id=EXCLUDED.account_id, updated_at=NOW()`, m.TenantID, m.Role, m.AccountID)
	return err
}
