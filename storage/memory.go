package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/safeops/lifecycle-engine/types"
)

// Errors
var (
	ErrFamilyNotFound = errors.New("family not found")
	ErrRecordNotFound = errors.New("record not found")
)

// MemoryStorage is an in-memory implementation of the Storage interface.
type MemoryStorage struct {
	families map[types.Family]types.FamilyConfig
	records  map[uint64]types.LifecycleRecord
	mu       sync.RWMutex
}

// NewMemoryStorage creates a new MemoryStorage instance.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		families: make(map[types.Family]types.FamilyConfig),
		records:  make(map[uint64]types.LifecycleRecord),
	}
}

// SaveFamily saves a family configuration to memory.
func (s *MemoryStorage) SaveFamily(ctx context.Context, cfg types.FamilyConfig) error {
	_, err := withContext(ctx, func() (struct{}, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.families[cfg.Family] = cfg
		return struct{}{}, nil
	})
	return err
}

// GetFamily retrieves a family configuration from memory.
func (s *MemoryStorage) GetFamily(ctx context.Context, family types.Family) (types.FamilyConfig, error) {
	return withContext(ctx, func() (types.FamilyConfig, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		cfg, ok := s.families[family]
		if !ok {
			return types.FamilyConfig{}, fmt.Errorf("%w: family=%s", ErrFamilyNotFound, family)
		}
		return cfg, nil
	})
}

// SaveRecord saves a lifecycle record to memory.
func (s *MemoryStorage) SaveRecord(ctx context.Context, rec types.LifecycleRecord) error {
	_, err := withContext(ctx, func() (struct{}, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.records[rec.ID] = rec
		return struct{}{}, nil
	})
	return err
}

// GetRecord retrieves a lifecycle record from memory.
func (s *MemoryStorage) GetRecord(ctx context.Context, id uint64) (types.LifecycleRecord, error) {
	return withContext(ctx, func() (types.LifecycleRecord, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		rec, ok := s.records[id]
		if !ok {
			return types.LifecycleRecord{}, fmt.Errorf("%w: id=%d", ErrRecordNotFound, id)
		}
		return rec, nil
	})
}

// ListRecords retrieves all records of a family, sorted by ID for stable
// iteration.
func (s *MemoryStorage) ListRecords(ctx context.Context, family types.Family) ([]types.LifecycleRecord, error) {
	return withContext(ctx, func() ([]types.LifecycleRecord, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		var out []types.LifecycleRecord
		for _, rec := range s.records {
			if family == "" || rec.Family == family {
				out = append(out, rec)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		return out, nil
	})
}

// ClearTerminal removes records in a terminal state (closed, rejected,
// stopped).
func (s *MemoryStorage) ClearTerminal(ctx context.Context) error {
	_, err := withContext(ctx, func() (struct{}, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		for id, rec := range s.records {
			if rec.State.Terminal() {
				delete(s.records, id)
			}
		}
		return struct{}{}, nil
	})
	return err
}
