package servicetrust

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

// ReplayGuard remembers accepted signatures for their remaining lifetime.
type ReplayGuard interface {
	// Claim records key and reports whether it was unseen within ttl.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// MemoryReplayGuard keeps accepted signatures in a bounded in-process LRU.
// Entries evicted by size can be replayed, so size should exceed the number of
// signatures expected inside one window.
type MemoryReplayGuard struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, struct{}]
}

// NewMemoryReplayGuard creates a guard holding at most size entries for ttl.
func NewMemoryReplayGuard(size int, ttl time.Duration) *MemoryReplayGuard {
	if size <= 0 {
		size = 10000
	}
	if ttl <= 0 {
		ttl = 2 * DefaultWindow
	}
	return &MemoryReplayGuard{cache: expirable.NewLRU[string, struct{}](size, nil, ttl)}
}

// Claim ignores ttl; entries expire after the TTL given at construction.
func (g *MemoryReplayGuard) Claim(_ context.Context, key string, _ time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cache.Contains(key) {
		return false, nil
	}
	g.cache.Add(key, struct{}{})
	return true, nil
}

// Len reports the number of remembered signatures.
func (g *MemoryReplayGuard) Len() int {
	return g.cache.Len()
}

const redisKeyPrefix = "servicetrust:sig:"

// RedisReplayGuard shares accepted signatures across backend replicas.
type RedisReplayGuard struct {
	client redis.Cmdable
}

// NewRedisReplayGuard wraps a redis client.
func NewRedisReplayGuard(client redis.Cmdable) (*RedisReplayGuard, error) {
	if client == nil {
		return nil, errors.New("servicetrust: redis client is required")
	}
	return &RedisReplayGuard{client: client}, nil
}

// Claim uses SETNX so that exactly one replica accepts a given signature.
func (g *RedisReplayGuard) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return g.client.SetNX(ctx, redisKeyPrefix+key, 1, ttl).Result()
}
