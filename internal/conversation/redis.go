package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/Hartzala/whatsapp-news-assistant/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultRedisKeyPrefix namespaces context keys.
	DefaultRedisKeyPrefix = "newsbot:conv:"
	redisIndexSuffix      = "index"
)

// RedisBackend stores each context as a JSON value and keeps a sorted-set
// index on LastMessageAt for the expiry sweep. Save uses WATCH/MULTI so two
// processes cannot both commit against the same version.
type RedisBackend struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// Compile-time check that RedisBackend implements Backend.
var _ Backend = (*RedisBackend)(nil)

// RedisOption configures a RedisBackend.
type RedisOption func(*RedisBackend)

// WithKeyPrefix overrides DefaultRedisKeyPrefix.
func WithKeyPrefix(prefix string) RedisOption {
	return func(b *RedisBackend) { b.prefix = prefix }
}

// WithKeyTTL sets an expiry on context keys as a safety net behind the sweep.
func WithKeyTTL(ttl time.Duration) RedisOption {
	return func(b *RedisBackend) { b.ttl = ttl }
}

// NewRedisBackend wraps an existing client.
func NewRedisBackend(client *redis.Client, opts ...RedisOption) *RedisBackend {
	b := &RedisBackend{client: client, prefix: DefaultRedisKeyPrefix}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *RedisBackend) key(phone string) string { return b.prefix + phone }
func (b *RedisBackend) indexKey() string      { return b.prefix + redisIndexSuffix }

func (b *RedisBackend) Load(ctx context.Context, phone string) (models.ConversationContext, bool, error) {
	data, err := b.client.Get(ctx, b.key(phone)).Bytes()
	if err == redis.Nil {
		return models.ConversationContext{}, false, nil
	}
	if err != nil {
		return models.ConversationContext{}, false, fmt.Errorf("load context %s: %w", phone, err)
	}
	var c models.ConversationContext
	if err := json.Unmarshal(data, &c); err != nil {
		return models.ConversationContext{}, false, fmt.Errorf("decode context %s: %w", phone, err)
	}
	return c, true, nil
}

func (b *RedisBackend) Save(ctx context.Context, c models.ConversationContext, expectedVersion int64) (models.ConversationContext, error) {
	key := b.key(c.PhoneNumber)
	var saved models.ConversationContext

	err := b.client.Watch(ctx, func(tx *redis.Tx) error {
		var current int64
		data, err := tx.Get(ctx, key).Bytes()
		switch {
		case err == redis.Nil:
		case err != nil:
			return err
		default:
			var stored models.ConversationContext
			if err := json.Unmarshal(data, &stored); err != nil {
				return fmt.Errorf("decode stored context: %w", err)
			}
			current = stored.Version
		}
		if expectedVersion != AnyVersion && expectedVersion != current {
			return ErrVersionConflict
		}

		saved = c.Clone()
		saved.Version = current + 1
		encoded, err := json.Marshal(saved)
		if err != nil {
			return fmt.Errorf("encode context: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, b.ttl)
			pipe.ZAdd(ctx, b.indexKey(), redis.Z{Score: float64(saved.LastMessageAt.Unix()), Member: saved.PhoneNumber})
			return nil
		})
		return err
	}, key)

	if err == redis.TxFailedErr {
		slog.Debug("RedisBackend.Save: watched key changed", "phone", c.PhoneNumber)
		return models.ConversationContext{}, ErrVersionConflict
	}
	if err != nil {
		if err == ErrVersionConflict {
			return models.ConversationContext{}, err
		}
		return models.ConversationContext{}, fmt.Errorf("save context %s: %w", c.PhoneNumber, err)
	}
	return saved, nil
}

func (b *RedisBackend) Delete(ctx context.Context, phone string) error {
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, b.key(phone))
		pipe.ZRem(ctx, b.indexKey(), phone)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete context %s: %w", phone, err)
	}
	return nil
}

func (b *RedisBackend) ScanExpired(ctx context.Context, cutoff time.Time) ([]string, error) {
	phones, err := b.client.ZRangeByScore(ctx, b.indexKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("scan expired contexts: %w", err)
	}
	return phones, nil
}
