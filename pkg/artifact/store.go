// Package artifact provides the TTL-expiring key/value store that holds job
// records, input texts, cached vectors and clustering results.
//
// Store is implemented in-memory here and by the sqlstore and s3store
// subpackages. Values are opaque bytes; JSON and matrix helpers live
// alongside the interface.
package artifact

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Store is a binary-safe key/value store with per-key expiry.
//
// Implementations must treat an expired key exactly like an absent one.
type Store interface {
	// Put stores value under key. A ttl <= 0 means the value never expires.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get returns the value stored under key or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Exists reports whether key holds a live value.
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error

	// Keys returns the live keys starting with prefix, in lexical order.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Close releases resources held by the store.
	Close() error
}

// Purger is implemented by stores that can eagerly drop expired entries.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// PutJSON marshals v and stores it under key.
func PutJSON(ctx context.Context, s Store, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.Put(ctx, key, data, ttl)
}

// GetJSON loads key and unmarshals it into v.
func GetJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &StoreError{Op: "Get", Backend: "json", Key: key, Err: fmt.Errorf("%w: %v", ErrCorrupt, err)}
	}
	return nil
}

// ExpiresAt converts a ttl relative to now into an absolute expiry. The zero
// time means no expiry.
func ExpiresAt(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}
