package cart

import (
	"context"
	"errors"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const (
	// invalidationHold is how long an invalidated key refuses fills. A count
	// read from the store before the commit cannot land after it unless the
	// read outlives the hold.
	invalidationHold = 10 * time.Second
	invalidMarker    = "-"
)

// CountCache stores the number of units in an identity's cart.
type CountCache interface {
	Get(ctx context.Context, key string) (int, bool, error)
	Set(ctx context.Context, key string, count int) error
	Invalidate(ctx context.Context, keys ...string) error
}

type countStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	CartCountKey(identity string) string
}

// RedisCountCache keeps cart counts in Redis with a jittered TTL so entries
// written together do not expire together. Invalidation parks a short-lived
// marker on the key and fills only write empty keys, so a miss that raced a
// mutation never caches the pre-mutation count.
type RedisCountCache struct {
	store countStore
	ttl   time.Duration
}

// NewRedisCountCache builds a count cache on top of the shared redis client.
func NewRedisCountCache(store countStore, ttl time.Duration) *RedisCountCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisCountCache{store: store, ttl: ttl}
}

func (c *RedisCountCache) Get(ctx context.Context, key string) (int, bool, error) {
	raw, err := c.store.Get(ctx, c.store.CartCountKey(key))
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return 0, false, nil
		}
		return 0, false, err
	}
	if raw == invalidMarker {
		return 0, false, nil
	}
	count, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, nil
	}
	return count, true, nil
}

// Set fills an empty key. A cached value or a pending invalidation wins.
func (c *RedisCountCache) Set(ctx context.Context, key string, count int) error {
	jitter := time.Duration(rand.Int64N(int64(c.ttl/10) + 1))
	_, err := c.store.SetNX(ctx, c.store.CartCountKey(key), strconv.Itoa(count), c.ttl+jitter)
	return err
}

func (c *RedisCountCache) Invalidate(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		if err := c.store.Set(ctx, c.store.CartCountKey(key), invalidMarker, invalidationHold); err != nil {
			return err
		}
	}
	return nil
}

// InvalidateAccount drops the cached count of a signed-in user's cart.
func (c *RedisCountCache) InvalidateAccount(ctx context.Context, userID uuid.UUID) error {
	return c.Invalidate(ctx, AccountCountKey(userID))
}

type noopCountCache struct{}

func (noopCountCache) Get(context.Context, string) (int, bool, error) { return 0, false, nil }
func (noopCountCache) Set(context.Context, string, int) error         { return nil }
func (noopCountCache) Invalidate(context.Context, ...string) error    { return nil }
