// Package cache provides the key-value store used for registry lookups,
// resolved versions, library versions and request counters.
//
// Two backends are available: [RedisStore] for deployments that share state
// between instances, and [MemoryStore] for local runs and tests.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
)

// Store is a string key-value store with hash counters.
type Store interface {
	// Get returns the value for key. The bool is false if the key is absent.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	// HashIncrBy increments field of the hash at key and returns the new value.
	HashIncrBy(ctx context.Context, key, field string, n int64) (int64, error)
	HashGetAll(ctx context.Context, key string) (map[string]string, error)
	Close() error
}

// GetObject reads key and decodes it as JSON into a T.
// A value that no longer decodes is treated as absent.
func GetObject[T any](ctx context.Context, s Store, key string) (T, bool, error) {
	var v T
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return v, false, err
	}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return v, false, nil
	}
	return v, true, nil
}

// SetObject encodes v as JSON and stores it under key.
func SetObject(ctx context.Context, s Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode cache value for %s: %w", key, err)
	}
	return s.Set(ctx, key, string(data))
}
