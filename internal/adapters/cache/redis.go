package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// scan batch size for prefix invalidation.
const redisScanCount = 200

// Redis implements Cache on a redis client. All operations are
// best-effort: transport errors degrade to cache misses.
type Redis struct {
	client    *redis.Client
	namespace string
}

// NewRedis wraps client with a key namespace (e.g. "abx").
func NewRedis(client *redis.Client, namespace string) *Redis {
	return &Redis{client: client, namespace: namespace}
}

func (r *Redis) key(key string) string {
	if r.namespace == "" {
		return key
	}
	return r.namespace + ":" + key
}

// Get returns the cached value if present.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		return nil, false
	}
	return val, true
}

// Set stores val under key for ttl.
func (r *Redis) Set(ctx context.Context, key string, val []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	_ = r.client.Set(ctx, r.key(key), val, ttl).Err()
}

// Delete removes a single key.
func (r *Redis) Delete(ctx context.Context, key string) {
	_ = r.client.Del(ctx, r.key(key)).Err()
}

// DeletePrefix removes every key sharing prefix via SCAN so large
// keyspaces are not blocked the way KEYS would.
func (r *Redis) DeletePrefix(ctx context.Context, prefix string) {
	iter := r.client.Scan(ctx, 0, r.key(prefix)+"*", redisScanCount).Iterator()
	for iter.Next(ctx) {
		_ = r.client.Del(ctx, iter.Val()).Err()
	}
}
