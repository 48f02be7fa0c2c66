// Package lock provides run locks that keep a job from executing twice at once.
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/clinicops/secobs/internal/ports"
)

// releaseScript deletes the key only while it still holds our token, so an
// expired lock taken over by another holder is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock implements RunLock with SET NX PX across processes
type RedisLock struct {
	client *redis.Client
	prefix string
}

// NewRedisLock creates a distributed lock namespaced by prefix
func NewRedisLock(client *redis.Client, prefix string) *RedisLock {
	return &RedisLock{client: client, prefix: prefix}
}

var _ ports.RunLock = (*RedisLock)(nil)

func (l *RedisLock) TryAcquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	fullKey := l.prefix + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.client, []string{fullKey}, token).Err()
	}
	return release, true, nil
}

// LocalLock implements RunLock within one process. TTL is ignored; the lock
// is held until released.
type LocalLock struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewLocalLock creates an in-process lock
func NewLocalLock() *LocalLock {
	return &LocalLock{held: make(map[string]bool)}
}

var _ ports.RunLock = (*LocalLock)(nil)

func (l *LocalLock) TryAcquire(_ context.Context, key string, _ time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, false, nil
	}
	l.held[key] = true

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, true, nil
}
