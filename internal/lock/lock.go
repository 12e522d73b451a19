// Package lock keeps a single runner active per account across worker
// processes. The platform penalizes parallel activity from one identity, so
// the lock is per account, not per account and kind.
package lock

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrHeld = errors.New("account run lock is held by another runner")

// ErrLeaseLost is the cancellation cause of a Hold context whose lease could
// not be kept.
var ErrLeaseLost = errors.New("account run lock lease lost")

// Locker acquires and releases named leases.
type Locker interface {
	Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	Refresh(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, owner string) error
}

// AccountKey is the lease name for one account.
func AccountKey(accountID int64) string {
	return "outreach:run:" + strconv.FormatInt(accountID, 10)
}

// RedisLocker implements Locker with SET NX PX and owner-checked scripts.
type RedisLocker struct {
	rdb *redis.Client
}

func NewRedisLocker(rdb *redis.Client) *RedisLocker {
	return &RedisLocker{rdb: rdb}
}

var _ Locker = (*RedisLocker)(nil)

var (
	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

func (l *RedisLocker) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	return l.rdb.SetNX(ctx, key, owner, ttl).Result()
}

func (l *RedisLocker) Refresh(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	n, err := refreshScript.Run(ctx, l.rdb, []string{key}, owner, ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (l *RedisLocker) Release(ctx context.Context, key, owner string) error {
	return releaseScript.Run(ctx, l.rdb, []string{key}, owner).Err()
}

// Hold acquires key and keeps extending it every ttl/3 until the returned
// release func is called. Returns ErrHeld if someone else owns the lease.
//
// The returned context is derived from ctx and is cancelled with cause
// ErrLeaseLost once the lease is taken over, or once refresh errors leave it
// too close to expiry to survive the next tick. Work guarded by the lease must
// run under that context.
func Hold(ctx context.Context, l Locker, key, owner string, ttl time.Duration) (context.Context, func(), error) {
	ok, err := l.Acquire(ctx, key, owner, ttl)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, ErrHeld
	}

	held, cancel := context.WithCancelCause(ctx)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		every := ttl / 3
		tick := time.NewTicker(every)
		defer tick.Stop()
		lastOK := time.Now()
		for {
			select {
			case <-stop:
				return
			case <-held.Done():
				return
			case <-tick.C:
				ok, err := l.Refresh(held, key, owner, ttl)
				switch {
				case err == nil && ok:
					lastOK = time.Now()
				case err == nil:
					cancel(ErrLeaseLost)
					return
				case time.Since(lastOK)+every >= ttl:
					cancel(fmt.Errorf("%w: %w", ErrLeaseLost, err))
					return
				}
			}
		}
	}()

	return held, func() {
		close(stop)
		<-done
		cancel(context.Canceled)
		_ = l.Release(context.WithoutCancel(ctx), key, owner)
	}, nil
}
