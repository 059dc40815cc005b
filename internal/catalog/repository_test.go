package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/ledgercore/internal/costing"
)

type countingSource struct {
	calls   int
	methods map[int64]costing.Method
}

func (c *countingSource) CostingMethod(ctx context.Context, tenantID int64) (costing.Method, error) {
	c.calls++
	m, ok := c.methods[tenantID]
	if !ok {
		return "", ErrPolicyNotConfigured
	}
	return m, nil
}

func TestMemoReadsOncePerTenant(t *testing.T) {
	src := &countingSource{methods: map[int64]costing.Method{1: costing.MethodFIFO}}
	memo := NewMemo(src)

	for i := 0; i < 3; i++ {
		m, err := memo.CostingMethod(context.Background(), 1)
		require.NoError(t, err)
		require.Equal(t, costing.MethodFIFO, m)
	}
	require.Equal(t, 1, src.calls)
}

func TestMemoDoesNotCacheErrors(t *testing.T) {
	src := &countingSource{methods: map[int64]costing.Method{}}
	memo := NewMemo(src)

	_, err := memo.CostingMethod(context.Background(), 2)
	require.ErrorIs(t, err, ErrPolicyNotConfigured)
	src.methods[2] = costing.MethodWeightedAverage

	m, err := memo.CostingMethod(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, costing.MethodWeightedAverage, m)
	require.Equal(t, 2, src.calls)
}

type fakePolicyTx struct {
	method   costing.Method
	set      bool
	held     bool
	upserted int
}

func (f *fakePolicyTx) LockMethod(ctx context.Context, tenantID int64) (costing.Method, bool, error) {
	return f.method, f.set, nil
}

func (f *fakePolicyTx) HoldsCostBasis(ctx context.Context, tenantID int64) (bool, error) {
	return f.held, nil
}

func (f *fakePolicyTx) UpsertMethod(ctx context.Context, tenantID int64, method costing.Method) error {
	f.method, f.set = method, true
	f.upserted++
	return nil
}

func TestChangeMethodRefusedWhileTenantHoldsStock(t *testing.T) {
	tx := &fakePolicyTx{method: costing.MethodFIFO, set: true, held: true}

	err := ChangeMethod(context.Background(), tx, 1, costing.MethodWeightedAverage)
	require.ErrorIs(t, err, ErrMethodInUse)
	require.Equal(t, costing.MethodFIFO, tx.method)
	require.Zero(t, tx.upserted)

	require.NoError(t, ChangeMethod(context.Background(), tx, 1, costing.MethodFIFO))
	require.Zero(t, tx.upserted)
}

func TestChangeMethodAllowedWithoutCostBasis(t *testing.T) {
	tx := &fakePolicyTx{method: costing.MethodFIFO, set: true}
	require.NoError(t, ChangeMethod(context.Background(), tx, 1, costing.MethodWeightedAverage))
	require.Equal(t, costing.MethodWeightedAverage, tx.method)

	fresh := &fakePolicyTx{held: true}
	require.NoError(t, ChangeMethod(context.Background(), fresh, 2, costing.MethodFIFO))
	require.Equal(t, 1, fresh.upserted)

	require.Error(t, ChangeMethod(context.Background(), fresh, 2, costing.Method("LIFO")))
}
