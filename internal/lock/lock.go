// Package lock provides mutual exclusion for payout runs across worker processes.
package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

var (
	ErrNotAcquired = errors.New("run lock is held by another owner")
	ErrLockLost    = errors.New("run lock lost")
)

// Locker hands out leases on named locks.
type Locker interface {
	// Acquire takes the lock or fails with ErrNotAcquired.
	Acquire(ctx context.Context, key string) (Lease, error)
	// Wait blocks until the lock is taken or ctx ends.
	Wait(ctx context.Context, key string) (Lease, error)
}

// Lease is an owned lock with a bounded lifetime.
type Lease interface {
	Key() string
	Refresh(ctx context.Context) error
	Release(ctx context.Context) error
}

// FundingAccountKey is the lock name guarding all runs of one funding account.
func FundingAccountKey(address string) string {
	return "funding:" + strings.TrimSpace(address)
}

// KeepAlive refreshes the lease every interval until ctx ends and returns nil on
// cancellation. A failed refresh is retried on the next tick while the lease is still
// live. It returns an error wrapping ErrLockLost when the store reports the lease gone,
// or when the lease could expire before the next attempt because ttl passed without a
// successful refresh.
func KeepAlive(ctx context.Context, lease Lease, interval, ttl time.Duration, logger *zap.Logger) error {
	if lease == nil {
		return fmt.Errorf("lease is required")
	}
	if interval <= 0 {
		return fmt.Errorf("refresh interval must be positive")
	}
	if ttl < interval {
		return fmt.Errorf("lease ttl %s is shorter than the refresh interval %s", ttl, interval)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastRefresh := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		err := lease.Refresh(ctx)
		if err == nil {
			lastRefresh = time.Now()
			continue
		}
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, ErrLockLost) {
			return fmt.Errorf("failed to refresh %s: %w", lease.Key(), err)
		}

		unrefreshed := time.Since(lastRefresh)
		if unrefreshed+interval >= ttl {
			return fmt.Errorf("%w: %s not refreshed for %s: %v", ErrLockLost, lease.Key(), unrefreshed.Round(time.Millisecond), err)
		}
		logger.Warn("run lock refresh failed, retrying",
			zap.String("key", lease.Key()),
			zap.Duration("unrefreshedFor", unrefreshed),
			zap.Error(err),
		)
	}
}
