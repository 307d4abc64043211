package digest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lock is a named lease shared by every instance of the service.
type Lock interface {
	// Acquire takes key for ttl. It reports false when someone else holds it.
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// releaseScript deletes the key only while we still own it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock implements Lock with SET NX PX.
type RedisLock struct {
	client *redis.Client
	owner  string
}

var _ Lock = (*RedisLock)(nil)

// NewRedisLock creates a lock whose owner token identifies this process.
func NewRedisLock(client *redis.Client) *RedisLock {
	return &RedisLock{client: client, owner: uuid.NewString()}
}

// Owner returns the token written in held keys.
func (l *RedisLock) Owner() string {
	return l.owner
}

func (l *RedisLock) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.client.SetNX(ctx, key, l.owner, ttl).Result()
}

func (l *RedisLock) Release(ctx context.Context, key string) error {
	return releaseScript.Run(ctx, l.client, []string{key}, l.owner).Err()
}

// MemoryLock implements Lock for a single process.
type MemoryLock struct {
	mu   sync.Mutex
	held map[string]time.Time
	now  func() time.Time
}

var _ Lock = (*MemoryLock)(nil)

func NewMemoryLock() *MemoryLock {
	return &MemoryLock{held: make(map[string]time.Time), now: time.Now}
}

func (l *MemoryLock) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if until, ok := l.held[key]; ok && now.Before(until) {
		return false, nil
	}
	l.held[key] = now.Add(ttl)
	return true, nil
}

func (l *MemoryLock) Release(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	return nil
}
