package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKeyPrefix namespaces quota keys.
const DefaultRedisKeyPrefix = "newsbot:quota:"

// redisCounterTTL keeps yesterday's key around briefly for inspection.
const redisCounterTTL = 48 * time.Hour

// RedisCounter stores one key per phone and day, so stale days simply never match.
type RedisCounter struct {
	client *redis.Client
	prefix string
}

// Compile-time check that RedisCounter implements CounterStore.
var _ CounterStore = (*RedisCounter)(nil)

// NewRedisCounter wraps an existing client.
func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client, prefix: DefaultRedisKeyPrefix}
}

func (r *RedisCounter) key(phone, day string) string {
	return fmt.Sprintf("%s%s:%s", r.prefix, phone, day)
}

func (r *RedisCounter) Count(ctx context.Context, phone, day string) (int, error) {
	n, err := r.client.Get(ctx, r.key(phone, day)).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (r *RedisCounter) Incr(ctx context.Context, phone, day string) (int, error) {
	key := r.key(phone, day)
	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, redisCounterTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return int(incr.Val()), nil
}
