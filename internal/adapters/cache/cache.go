// Package cache defines the best-effort TTL cache used in front of the
// experiment store. The cache is never authoritative: every miss falls
// through to the store, and all operations swallow transport errors.
package cache

import (
	"context"
	"time"
)

// Cache is a namespaced get/set/delete byte cache with per-entry TTLs.
type Cache interface {
	// Get returns the cached value and whether it was present and fresh.
	Get(ctx context.Context, key string) ([]byte, bool)

	// Set stores val under key for ttl. A non-positive ttl is ignored.
	Set(ctx context.Context, key string, val []byte, ttl time.Duration)

	// Delete removes a single key.
	Delete(ctx context.Context, key string)

	// DeletePrefix removes every key sharing the given prefix. Used to
	// invalidate all experiment-scoped entries after a winner decision.
	DeletePrefix(ctx context.Context, prefix string)
}
