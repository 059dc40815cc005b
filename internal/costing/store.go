package costing

import "context"

// Store persists cost basis state inside the posting transaction.
type Store interface {
	ActiveBatchesForUpdate(ctx context.Context, tenantID, skuID int64) ([]Batch, error)
	GetBatchForUpdate(ctx context.Context, tenantID, batchID int64) (Batch, error)
	InsertBatch(ctx context.Context, batch Batch) (Batch, error)
	UpdateBatch(ctx context.Context, batch Batch) error
	GetAverageForUpdate(ctx context.Context, tenantID, skuID int64) (Average, error)
	UpsertAverage(ctx context.Context, avg Average) error
}
