package cache

import (
	"context"
	"errors"
	"time"

	"payroll-bnpl/internal/domain/gateway"

	"github.com/redis/go-redis/v9"
)

func OpenRedis(addr string, db int) (*redis.Client, error) {
	r := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return r, nil
}

var _ gateway.IdempotencyCache = (*IdempotencyCache)(nil)

// IdempotencyCache stores operation results under a namespaced key.
type IdempotencyCache struct {
	rdb    *redis.Client
	prefix string
}

func NewIdempotencyCache(rdb *redis.Client, prefix string) *IdempotencyCache {
	if prefix == "" {
		prefix = "bnpl:idem:"
	}
	return &IdempotencyCache{rdb: rdb, prefix: prefix}
}

func (c *IdempotencyCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := c.rdb.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// Set never shortens retention below gateway.MinIdempotencyTTL.
func (c *IdempotencyCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < gateway.MinIdempotencyTTL {
		ttl = gateway.MinIdempotencyTTL
	}
	return c.rdb.Set(ctx, c.prefix+key, value, ttl).Err()
}
