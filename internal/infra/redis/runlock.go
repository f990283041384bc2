package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/payout-engine/internal/lock"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultLockTTL = 60 * time.Second
	keyPrefix      = "runlock:"
	backoffStep    = 100 * time.Millisecond
	backoffMax     = 2 * time.Second
)

// Only the token owner may extend or delete a lock.
var refreshScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

var _ lock.Locker = (*RedisRunLock)(nil)
var _ lock.Lease = (*redisLease)(nil)

// RedisRunLock is a distributed, token-owned lock with a TTL backed by Redis.
type RedisRunLock struct {
	client   *goredis.Client
	ttl      time.Duration
	newToken func() string
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewRedisRunLock(client *goredis.Client, ttl time.Duration) (*RedisRunLock, error) {
	return newRedisRunLock(client, ttl, uuid.NewString, sleepWithContext)
}

func newRedisRunLock(
	client *goredis.Client,
	ttl time.Duration,
	newToken func() string,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*RedisRunLock, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	if newToken == nil {
		newToken = uuid.NewString
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}

	return &RedisRunLock{
		client:   client,
		ttl:      ttl,
		newToken: newToken,
		sleep:    sleepFn,
	}, nil
}

// TTL is the lifetime of an unrefreshed lease.
func (l *RedisRunLock) TTL() time.Duration {
	return l.ttl
}

func (l *RedisRunLock) Acquire(ctx context.Context, key string) (lock.Lease, error) {
	if l == nil || l.client == nil {
		return nil, fmt.Errorf("run lock is not initialized")
	}

	normalizedKey := strings.TrimSpace(key)
	if normalizedKey == "" {
		return nil, fmt.Errorf("lock key is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	token := l.newToken()
	redisKey := keyPrefix + normalizedKey
	ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	if !ok {
		return nil, lock.ErrNotAcquired
	}

	return &redisLease{
		client: l.client,
		key:    redisKey,
		token:  token,
		ttl:    l.ttl,
	}, nil
}

func (l *RedisRunLock) Wait(ctx context.Context, key string) (lock.Lease, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	backoff := backoffStep
	for {
		lease, err := l.Acquire(ctx, key)
		if err == nil {
			return lease, nil
		}
		if !errors.Is(err, lock.ErrNotAcquired) {
			return nil, err
		}

		if err := l.sleep(ctx, backoff); err != nil {
			return nil, err
		}

		backoff += backoffStep
		if backoff > backoffMax {
			backoff = backoffMax
		}
	}
}

type redisLease struct {
	client *goredis.Client
	key    string
	token  string
	ttl    time.Duration
}

func (l *redisLease) Key() string {
	return l.key
}

func (l *redisLease) Refresh(ctx context.Context) error {
	extended, err := refreshScript.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("failed to refresh run lock: %w", err)
	}
	if extended == 0 {
		return lock.ErrLockLost
	}
	return nil
}

func (l *redisLease) Release(ctx context.Context) error {
	deleted, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Int()
	if err != nil {
		return fmt.Errorf("failed to release run lock: %w", err)
	}
	if deleted == 0 {
		return lock.ErrLockLost
	}
	return nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
