package persistence

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockReleased is returned when a lease expired or was taken over before release.
var ErrLockReleased = errors.New("lock no longer held")

// Unlock releases a lease obtained from a Locker.
type Unlock func(ctx context.Context) error

// Locker hands out expiring, named leases.
type Locker interface {
	// TryLock acquires key without waiting. ok is false when someone else holds it.
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock Unlock, ok bool, err error)
	// Lock waits until key is acquired or ctx is done.
	Lock(ctx context.Context, key string, ttl time.Duration) (Unlock, error)
}

const lockRetryInterval = 25 * time.Millisecond

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

type redisLocker struct {
	client *redis.Client
	prefix string
}

// NewRedisLocker builds a Locker on SET NX PX with token-checked release.
func NewRedisLocker(client *redis.Client) Locker {
	return &redisLocker{client: client, prefix: "lock:"}
}

func (l *redisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (Unlock, bool, error) {
	token := uuid.NewString()
	fullKey := l.prefix + key
	ok, err := l.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return func(ctx context.Context) error {
		released, err := releaseScript.Run(ctx, l.client, []string{fullKey}, token).Int()
		if err != nil {
			return err
		}
		if released == 0 {
			return ErrLockReleased
		}
		return nil
	}, true, nil
}

func (l *redisLocker) Lock(ctx context.Context, key string, ttl time.Duration) (Unlock, error) {
	return waitForLock(ctx, l, key, ttl)
}

type localLease struct {
	token     string
	expiresAt time.Time
}

type localLocker struct {
	mu     sync.Mutex
	leases map[string]localLease
	now    func() time.Time
}

// NewLocalLocker returns an in-process Locker for single-instance deployments and tests.
func NewLocalLocker() Locker {
	return &localLocker{leases: make(map[string]localLease), now: time.Now}
}

func (l *localLocker) TryLock(_ context.Context, key string, ttl time.Duration) (Unlock, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if lease, held := l.leases[key]; held && now.Before(lease.expiresAt) {
		return nil, false, nil
	}
	token := uuid.NewString()
	l.leases[key] = localLease{token: token, expiresAt: now.Add(ttl)}

	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		lease, held := l.leases[key]
		if !held || lease.token != token {
			return ErrLockReleased
		}
		delete(l.leases, key)
		return nil
	}, true, nil
}

func (l *localLocker) Lock(ctx context.Context, key string, ttl time.Duration) (Unlock, error) {
	return waitForLock(ctx, l, key, ttl)
}

func waitForLock(ctx context.Context, l Locker, key string, ttl time.Duration) (Unlock, error) {
	ticker := time.NewTicker(lockRetryInterval)
	defer ticker.Stop()
	for {
		unlock, ok, err := l.TryLock(ctx, key, ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			return unlock, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
