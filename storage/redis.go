package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/safeops/lifecycle-engine/types"
)

const (
	familyPrefix = "lifecycle:family:"
	recordPrefix = "lifecycle:record:"
)

// ErrNotFound is returned when a requested resource is not found.
var ErrNotFound = errors.New("resource not found")

// RedisStorage is a Redis-backed implementation of the Storage interface.
type RedisStorage struct {
	client *redis.Client
}

// RedisOptions extends redis.Options with additional configuration.
type RedisOptions struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	IdleTimeout  time.Duration
}

// NewRedisStorage creates a new RedisStorage instance with configurable options.
func NewRedisStorage(opts RedisOptions) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
		IdleTimeout:  opts.IdleTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %v", err)
	}

	return &RedisStorage{client: client}, nil
}

// withContextError handles context cancellation for operations that only return an error.
func withContextError(ctx context.Context, fn func() error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fn()
	}
}

// saveToRedis saves a value to Redis under the given key.
func (s *RedisStorage) saveToRedis(ctx context.Context, key string, value interface{}) error {
	return withContextError(ctx, func() error {
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to marshal %s: %v", key, err)
		}
		if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
			return fmt.Errorf("failed to set %s in Redis: %v", key, err)
		}
		return nil
	})
}

// getFromRedis retrieves and unmarshals a value from Redis under the given key.
func getFromRedis[T any](ctx context.Context, client *redis.Client, key string) (T, error) {
	return withContext(ctx, func() (T, error) {
		var zero T
		data, err := client.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return zero, fmt.Errorf("%w: key=%s", ErrNotFound, key)
		} else if err != nil {
			return zero, fmt.Errorf("failed to get %s from Redis: %v", key, err)
		}

		var result T
		if err := json.Unmarshal(data, &result); err != nil {
			return zero, fmt.Errorf("failed to unmarshal %s: %v", key, err)
		}
		return result, nil
	})
}

// SaveFamily saves a family configuration to Redis.
func (s *RedisStorage) SaveFamily(ctx context.Context, cfg types.FamilyConfig) error {
	return s.saveToRedis(ctx, familyPrefix+string(cfg.Family), cfg)
}

// GetFamily retrieves a family configuration from Redis.
func (s *RedisStorage) GetFamily(ctx context.Context, family types.Family) (types.FamilyConfig, error) {
	return getFromRedis[types.FamilyConfig](ctx, s.client, familyPrefix+string(family))
}

// SaveRecord saves a lifecycle record to Redis.
func (s *RedisStorage) SaveRecord(ctx context.Context, rec types.LifecycleRecord) error {
	return s.saveToRedis(ctx, fmt.Sprintf("%s%d", recordPrefix, rec.ID), rec)
}

// GetRecord retrieves a lifecycle record from Redis.
func (s *RedisStorage) GetRecord(ctx context.Context, id uint64) (types.LifecycleRecord, error) {
	return getFromRedis[types.LifecycleRecord](ctx, s.client, fmt.Sprintf("%s%d", recordPrefix, id))
}

// ListRecords retrieves all records of a family from Redis.
func (s *RedisStorage) ListRecords(ctx context.Context, family types.Family) ([]types.LifecycleRecord, error) {
	return withContext(ctx, func() ([]types.LifecycleRecord, error) {
		keys, err := s.client.Keys(ctx, recordPrefix+"*").Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan record keys: %v", err)
		}

		var out []types.LifecycleRecord
		for _, key := range keys {
			data, err := s.client.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				continue
			} else if err != nil {
				return nil, fmt.Errorf("failed to get %s: %v", key, err)
			}

			var rec types.LifecycleRecord
			if err := json.Unmarshal(data, &rec); err != nil {
				return nil, fmt.Errorf("failed to unmarshal %s: %v", key, err)
			}
			if family == "" || rec.Family == family {
				out = append(out, rec)
			}
		}
		return out, nil
	})
}

// SaveFamilies saves multiple family configurations to Redis using pipelining.
func (s *RedisStorage) SaveFamilies(ctx context.Context, cfgs []types.FamilyConfig) error {
	return withContextError(ctx, func() error {
		pipe := s.client.Pipeline()
		for _, cfg := range cfgs {
			data, err := json.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to marshal family %s: %v", cfg.Family, err)
			}
			pipe.Set(ctx, familyPrefix+string(cfg.Family), data, 0)
		}
		_, err := pipe.Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to execute pipeline for families: %v", err)
		}
		return nil
	})
}

// ClearTerminal removes records in a terminal state from Redis.
func (s *RedisStorage) ClearTerminal(ctx context.Context) error {
	return withContextError(ctx, func() error {
		keys, err := s.client.Keys(ctx, recordPrefix+"*").Result()
		if err != nil {
			return fmt.Errorf("failed to scan record keys: %v", err)
		}

		if len(keys) == 0 {
			return nil
		}

		pipe := s.client.Pipeline()
		for _, key := range keys {
			data, err := s.client.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				continue
			} else if err != nil {
				return fmt.Errorf("failed to get %s: %v", key, err)
			}

			var rec types.LifecycleRecord
			if err := json.Unmarshal(data, &rec); err != nil {
				return fmt.Errorf("failed to unmarshal %s: %v", key, err)
			}

			if rec.State.Terminal() {
				pipe.Del(ctx, key)
			}
		}

		_, err = pipe.Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to execute pipeline for deletion: %v", err)
		}
		return nil
	})
}

// Close closes the Redis client connection.
func (s *RedisStorage) Close() error {
	return s.client.Close()
}
