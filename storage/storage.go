package storage

import (
	"context"

	"github.com/safeops/lifecycle-engine/types"
)

// Storage defines the interface for persisting and retrieving family
// configurations and lifecycle records.
type Storage interface {
	// SaveFamily saves a family configuration.
	SaveFamily(ctx context.Context, cfg types.FamilyConfig) error

	// GetFamily retrieves a family configuration.
	GetFamily(ctx context.Context, family types.Family) (types.FamilyConfig, error)

	// SaveRecord saves a lifecycle record.
	SaveRecord(ctx context.Context, rec types.LifecycleRecord) error

	// GetRecord retrieves a lifecycle record by ID.
	GetRecord(ctx context.Context, id uint64) (types.LifecycleRecord, error)

	// ListRecords retrieves all records of a family. An empty family
	// matches every record.
	ListRecords(ctx context.Context, family types.Family) ([]types.LifecycleRecord, error)
}

// withContext is a standalone generic helper function.
func withContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	default:
		return fn()
	}
}
