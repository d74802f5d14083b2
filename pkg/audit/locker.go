package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker serializes appends per tenant. Lock blocks until the tenant is
// free or ctx is done, and returns the function that releases it.
type Locker interface {
	Lock(ctx context.Context, tenantID string) (func(), error)
}

// LocalLocker serializes appends within one process.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewLocalLocker creates an in-process locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]chan struct{})}
}

func (l *LocalLocker) slot(tenantID string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[tenantID]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[tenantID] = ch
	}
	return ch
}

func (l *LocalLocker) Lock(ctx context.Context, tenantID string) (func(), error) {
	ch := l.slot(tenantID)
	select {
	case ch <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-ch }) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ErrLockTimeout is returned when a distributed lock could not be taken
// before the wait budget ran out.
var ErrLockTimeout = errors.New("audit: tenant lock wait exceeded")

// releaseScript deletes the lock only if this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker serializes appends across processes sharing a Redis.
type RedisLocker struct {
	client redis.UniversalClient
	ttl    time.Duration
	wait   time.Duration
	poll   time.Duration
	prefix string
}

// RedisLockerOption configures a RedisLocker.
type RedisLockerOption func(*RedisLocker)

// WithLockTTL bounds how long a crashed holder can block the tenant.
func WithLockTTL(d time.Duration) RedisLockerOption {
	return func(r *RedisLocker) { r.ttl = d }
}

// WithLockWait bounds how long Lock waits for a busy tenant.
func WithLockWait(d time.Duration) RedisLockerOption {
	return func(r *RedisLocker) { r.wait = d }
}

// NewRedisLocker creates a locker on client.
func NewRedisLocker(client redis.UniversalClient, opts ...RedisLockerOption) *RedisLocker {
	r := &RedisLocker{
		client: client,
		ttl:    10 * time.Second,
		wait:   5 * time.Second,
		poll:   20 * time.Millisecond,
		prefix: "veridecide:audit:lock:",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RedisLocker) Lock(ctx context.Context, tenantID string) (func(), error) {
	key := r.prefix + tenantID
	token := uuid.NewString()
	deadline := time.Now().Add(r.wait)

	for {
		ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("audit: redis lock %s: %w", tenantID, err)
		}
		if ok {
			return func() {
				// Release must outlive a cancelled request context.
				rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
				defer cancel()
				_ = releaseScript.Run(rctx, r.client, []string{key}, token).Err()
			}, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: tenant %s", ErrLockTimeout, tenantID)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.poll):
		}
	}
}
