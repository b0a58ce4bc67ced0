package locker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/procurement-api/pkg/config"
)

// ErrTimeout is returned when the lock could not be acquired within the
// configured wait window.
var ErrTimeout = fmt.Errorf("lock wait timeout")

// releaseScript deletes the key only when it still holds our token, so a
// holder whose key expired cannot release a lock someone else re-acquired.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`

// Locker is a named advisory lock backed by redis SET NX. It serializes
// read-modify-write sequences across independent process invocations that
// share the same store.
type Locker struct {
	client       *redis.Client
	waitTimeout  time.Duration
	keyTTL       time.Duration
	pollInterval time.Duration
}

// Lease represents a held lock. Release must run on every exit path.
type Lease struct {
	locker *Locker
	key    string
	token  string
}

// New constructs a Locker from config.
func New(client *redis.Client, cfg config.LockConfig) *Locker {
	waitTimeout := cfg.WaitTimeout
	if waitTimeout <= 0 {
		waitTimeout = 30 * time.Second
	}
	keyTTL := cfg.KeyTTL
	if keyTTL <= 0 {
		keyTTL = time.Minute
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 100 * time.Millisecond
	}
	return &Locker{
		client:       client,
		waitTimeout:  waitTimeout,
		keyTTL:       keyTTL,
		pollInterval: pollInterval,
	}
}

// Acquire blocks until the named lock is held or the wait timeout elapses.
// A timeout is a first-class outcome reported as ErrTimeout, never retried
// internally beyond the wait window.
func (l *Locker) Acquire(ctx context.Context, name string) (*Lease, error) {
	key := "lock:" + name
	token := uuid.NewString()

	deadline := time.Now().Add(l.waitTimeout)
	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.keyTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", name, err)
		}
		if ok {
			return &Lease{locker: l, key: key, token: token}, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Release frees the lock if this lease still owns it. Safe to call with a
// background context from deferred paths even when the request context is
// already canceled.
func (lease *Lease) Release(ctx context.Context) error {
	if lease == nil {
		return nil
	}
	if err := lease.locker.client.Eval(ctx, releaseScript, []string{lease.key}, lease.token).Err(); err != nil {
		return fmt.Errorf("release lock %s: %w", lease.key, err)
	}
	return nil
}
