// Package coordinator bounds concurrent account work and keeps any account from
// being processed by two workers at once.
package coordinator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLocked is returned when an account is already in flight.
var ErrLocked = errors.New("account already in flight")

// LockSet is the set of keys currently being processed.
type LockSet interface {
	// Acquire claims key. It returns false without error when key is already held.
	Acquire(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// LocalLockSet is a process-local LockSet. It is lost on restart.
type LocalLockSet struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocalLockSet returns an empty LocalLockSet.
func NewLocalLockSet() *LocalLockSet {
	return &LocalLockSet{held: make(map[string]struct{})}
}

func (l *LocalLockSet) Acquire(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return false, nil
	}
	l.held[key] = struct{}{}
	return true, nil
}

func (l *LocalLockSet) Release(_ context.Context, key string) error {
	l.mu.Lock()
	delete(l.held, key)
	l.mu.Unlock()
	return nil
}

// Len returns the number of held keys.
func (l *LocalLockSet) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.held)
}

const redisLockPrefix = "commentguard:inflight:"

// releaseScript deletes the key only if it still carries our token, so an expired
// lock re-acquired by another instance is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLockSet shares the in-flight set between instances. Entries expire after
// ttl so a crashed instance cannot hold an account forever.
type RedisLockSet struct {
	client *redis.Client
	ttl    time.Duration

	mu     sync.Mutex
	tokens map[string]string
}

// NewRedisLockSet returns a RedisLockSet on client.
func NewRedisLockSet(client *redis.Client, ttl time.Duration) *RedisLockSet {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RedisLockSet{client: client, ttl: ttl, tokens: make(map[string]string)}
}

func (r *RedisLockSet) Acquire(ctx context.Context, key string) (bool, error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, redisLockPrefix+key, token, r.ttl).Result()
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	r.mu.Lock()
	r.tokens[key] = token
	r.mu.Unlock()
	return true, nil
}

func (r *RedisLockSet) Release(ctx context.Context, key string) error {
	r.mu.Lock()
	token, ok := r.tokens[key]
	delete(r.tokens, key)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return releaseScript.Run(ctx, r.client, []string{redisLockPrefix + key}, token).Err()
}
