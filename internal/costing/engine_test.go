package costing

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	batches  map[int64]Batch
	averages map[string]Average
	nextID   int64
}

func newMemoryStore() *memoryStore {
	return &memoryStore{batches: make(map[int64]Batch), averages: make(map[string]Average)}
}

func avgKey(tenantID, skuID int64) string {
	return fmt.Sprintf("%d:%d", tenantID, skuID)
}

func (m *memoryStore) ActiveBatchesForUpdate(ctx context.Context, tenantID, skuID int64) ([]Batch, error) {
	var out []Batch
	for _, b := range m.batches {
		if b.TenantID == tenantID && b.SKUID == skuID && b.Active {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memoryStore) GetBatchForUpdate(ctx context.Context, tenantID, batchID int64) (Batch, error) {
	b, ok := m.batches[batchID]
	if !ok || b.TenantID != tenantID {
		return Batch{}, ErrBatchNotFound
	}
	return b, nil
}

func (m *memoryStore) InsertBatch(ctx context.Context, b Batch) (Batch, error) {
	m.nextID++
	b.ID = m.nextID
	m.batches[b.ID] = b
	return b, nil
}

func (m *memoryStore) UpdateBatch(ctx context.Context, b Batch) error {
	if _, ok := m.batches[b.ID]; !ok {
		return ErrBatchNotFound
	}
	m.batches[b.ID] = b
	return nil
}

func (m *memoryStore) GetAverageForUpdate(ctx context.Context, tenantID, skuID int64) (Average, error) {
	a, ok := m.averages[avgKey(tenantID, skuID)]
	if !ok {
		return Average{}, ErrAverageNotFound
	}
	return a, nil
}

func (m *memoryStore) UpsertAverage(ctx context.Context, a Average) error {
	m.averages[avgKey(a.TenantID, a.SKUID)] = a
	return nil
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var day = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

func TestFIFOIssueConsumesOldestFirst(t *testing.T) {
	store := newMemoryStore()
	engine, err := NewEngine(1, MethodFIFO, store)
	require.NoError(t, err)
	ctx := context.Background()

	a, err := engine.Receive(ctx, ReceiptInput{SKUID: 9, Qty: d("10"), UnitCost: d("2.00"), ReceivedAt: day})
	require.NoError(t, err)
	b, err := engine.Receive(ctx, ReceiptInput{SKUID: 9, Qty: d("5"), UnitCost: d("3.00"), ReceivedAt: day.AddDate(0, 0, 1)})
	require.NoError(t, err)

	issue, err := engine.Issue(ctx, 9, d("12"))
	require.NoError(t, err)
	require.True(t, issue.TotalCost.Equal(d("26.00")), issue.TotalCost.String())
	require.Len(t, issue.Consumptions, 2)
	require.Equal(t, a.BatchID, issue.Consumptions[0].BatchID)
	require.True(t, issue.Consumptions[0].Qty.Equal(d("10")))
	require.True(t, issue.Consumptions[1].Qty.Equal(d("2")))
	require.True(t, issue.ConsumedQty().Equal(d("12")))

	batchA := store.batches[a.BatchID]
	require.False(t, batchA.Active)
	require.True(t, batchA.QtyRemaining.IsZero())
	batchB := store.batches[b.BatchID]
	require.True(t, batchB.Active)
	require.True(t, batchB.QtyRemaining.Equal(d("3")))
}

func TestFIFOIssueFailsWhole(t *testing.T) {
	store := newMemoryStore()
	engine, err := NewEngine(1, MethodFIFO, store)
	require.NoError(t, err)
	ctx := context.Background()

	rec, err := engine.Receive(ctx, ReceiptInput{SKUID: 9, Qty: d("4"), UnitCost: d("1.50"), ReceivedAt: day})
	require.NoError(t, err)

	_, err = engine.Issue(ctx, 9, d("5"))
	require.ErrorIs(t, err, ErrInsufficientStock)
	var insufficient *InsufficientStockError
	require.True(t, errors.As(err, &insufficient))
	require.True(t, insufficient.Available.Equal(d("4")))
	require.True(t, store.batches[rec.BatchID].QtyRemaining.Equal(d("4")))
}

func TestFIFOReverseIssueRestoresBatches(t *testing.T) {
	store := newMemoryStore()
	engine, err := NewEngine(1, MethodFIFO, store)
	require.NoError(t, err)
	ctx := context.Background()

	a, err := engine.Receive(ctx, ReceiptInput{SKUID: 9, Qty: d("10"), UnitCost: d("2"), ReceivedAt: day})
	require.NoError(t, err)
	b, err := engine.Receive(ctx, ReceiptInput{SKUID: 9, Qty: d("5"), UnitCost: d("3"), ReceivedAt: day.AddDate(0, 0, 1)})
	require.NoError(t, err)
	issue, err := engine.Issue(ctx, 9, d("12"))
	require.NoError(t, err)

	require.NoError(t, engine.ReverseIssue(ctx, issue))
	require.True(t, store.batches[a.BatchID].Active)
	require.True(t, store.batches[a.BatchID].QtyRemaining.Equal(d("10")))
	require.True(t, store.batches[b.BatchID].QtyRemaining.Equal(d("5")))

	require.NoError(t, engine.ReapplyIssue(ctx, issue))
	require.False(t, store.batches[a.BatchID].Active)
	require.True(t, store.batches[b.BatchID].QtyRemaining.Equal(d("3")))
}

func TestFIFOReverseReceive(t *testing.T) {
	store := newMemoryStore()
	engine, err := NewEngine(1, MethodFIFO, store)
	require.NoError(t, err)
	ctx := context.Background()

	rec, err := engine.Receive(ctx, ReceiptInput{SKUID: 9, Qty: d("10"), UnitCost: d("2"), ReceivedAt: day})
	require.NoError(t, err)
	_, err = engine.Issue(ctx, 9, d("1"))
	require.NoError(t, err)
	require.ErrorIs(t, engine.ReverseReceive(ctx, rec), ErrBatchConsumed)

	other, err := engine.Receive(ctx, ReceiptInput{SKUID: 10, Qty: d("3"), UnitCost: d("7"), ReceivedAt: day})
	require.NoError(t, err)
	require.NoError(t, engine.ReverseReceive(ctx, other))
	require.False(t, store.batches[other.BatchID].Active)
	_, ok, err := engine.CurrentUnitCost(ctx, 10)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFIFOCurrentUnitCostUsesNewestBatch(t *testing.T) {
	store := newMemoryStore()
	engine, err := NewEngine(1, MethodFIFO, store)
	require.NoError(t, err)
	ctx := context.Background()
	_, err = engine.Receive(ctx, ReceiptInput{SKUID: 9, Qty: d("1"), UnitCost: d("2"), ReceivedAt: day})
	require.NoError(t, err)
	_, err = engine.Receive(ctx, ReceiptInput{SKUID: 9, Qty: d("1"), UnitCost: d("4"), ReceivedAt: day.AddDate(0, 0, 2)})
	require.NoError(t, err)
	cost, ok, err := engine.CurrentUnitCost(ctx, 9)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, cost.Equal(d("4")))
}

func TestWeightedAverageReceiveAndIssue(t *testing.T) {
	store := newMemoryStore()
	engine, err := NewEngine(1, MethodWeightedAverage, store)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = engine.Receive(ctx, ReceiptInput{SKUID: 3, Qty: d("10"), UnitCost: d("2.00"), ReceivedAt: day})
	require.NoError(t, err)
	_, err = engine.Receive(ctx, ReceiptInput{SKUID: 3, Qty: d("10"), UnitCost: d("4.00"), ReceivedAt: day})
	require.NoError(t, err)
	require.True(t, store.averages[avgKey(1, 3)].UnitCost.Equal(d("3")))

	issue, err := engine.Issue(ctx, 3, d("5"))
	require.NoError(t, err)
	require.True(t, issue.UnitCost.Equal(d("3")))
	require.True(t, issue.TotalCost.Equal(d("15")))
	avg := store.averages[avgKey(1, 3)]
	require.True(t, avg.Qty.Equal(d("15")))
	require.True(t, avg.UnitCost.Equal(d("3")))

	_, err = engine.Issue(ctx, 3, d("16"))
	require.ErrorIs(t, err, ErrInsufficientStock)

	require.NoError(t, engine.ReverseIssue(ctx, issue))
	avg = store.averages[avgKey(1, 3)]
	require.True(t, avg.Qty.Equal(d("20")))
	require.True(t, avg.UnitCost.Equal(d("3")))
}

func TestWeightedAverageReverseReceiveRestoresSnapshot(t *testing.T) {
	store := newMemoryStore()
	engine, err := NewEngine(1, MethodWeightedAverage, store)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = engine.Receive(ctx, ReceiptInput{SKUID: 3, Qty: d("3"), UnitCost: d("1.00"), ReceivedAt: day})
	require.NoError(t, err)
	second, err := engine.Receive(ctx, ReceiptInput{SKUID: 3, Qty: d("3"), UnitCost: d("2.00"), ReceivedAt: day})
	require.NoError(t, err)
	require.True(t, store.averages[avgKey(1, 3)].UnitCost.Equal(d("1.5")))

	require.NoError(t, engine.ReverseReceive(ctx, second))
	avg := store.averages[avgKey(1, 3)]
	require.True(t, avg.Qty.Equal(d("3")))
	require.True(t, avg.UnitCost.Equal(d("1")))
}

func TestEngineRejectsBadInput(t *testing.T) {
	engine, err := NewEngine(1, MethodFIFO, newMemoryStore())
	require.NoError(t, err)
	_, err = engine.Issue(context.Background(), 1, decimal.Zero)
	require.ErrorIs(t, err, ErrInvalidQty)
	_, err = engine.Receive(context.Background(), ReceiptInput{SKUID: 1, Qty: d("1"), UnitCost: d("-1")})
	require.ErrorIs(t, err, ErrInvalidCost)

	avgEngine, err := NewEngine(1, MethodWeightedAverage, newMemoryStore())
	require.NoError(t, err)
	require.ErrorIs(t, avgEngine.ReverseIssue(context.Background(), Detail{Method: MethodFIFO}), ErrCostBasisMoved)

	_, err = NewEngine(1, Method("LIFO"), newMemoryStore())
	require.ErrorIs(t, err, ErrUnknownMethod)
}

func TestParseMethod(t *testing.T) {
	m, err := ParseMethod(" fifo ")
	require.NoError(t, err)
	require.Equal(t, MethodFIFO, m)
	m, err = ParseMethod("wac")
	require.NoError(t, err)
	require.Equal(t, MethodWeightedAverage, m)
	_, err = ParseMethod("lifo")
	require.ErrorIs(t, err, ErrUnknownMethod)
}
