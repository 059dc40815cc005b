package shared

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bsm/redislock"
)

// SKULockKey builds the lock key serializing postings of one stock-keeping unit.
func SKULockKey(tenantID, skuID int64) string {
	return fmt.Sprintf("ledger:tenant:%d:sku:%d:lock", tenantID, skuID)
}

// BankAccountLockKey builds the lock key serializing balance changes of one bank account.
func BankAccountLockKey(tenantID, bankAccountID int64) string {
	return fmt.Sprintf("ledger:tenant:%d:bank:%d:lock", tenantID, bankAccountID)
}

// Locker acquires a set of exclusive keys; the returned func releases all of them.
type Locker interface {
	Lock(ctx context.Context, keys ...string) (func(), error)
}

// RedisLocker holds keys through Redis so that several processes serialize on the same sku.
type RedisLocker struct {
	client *redislock.Client
	ttl    time.Duration
	wait   time.Duration
}

// NewRedisLocker wraps a redis client. ttl bounds how long a crashed holder keeps a key,
// wait bounds how long Lock retries before giving up.
func NewRedisLocker(client redislock.RedisClient, ttl, wait time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &RedisLocker{client: redislock.New(client), ttl: ttl, wait: wait}
}

// Lock obtains every key in sorted order.
func (l *RedisLocker) Lock(ctx context.Context, keys ...string) (func(), error) {
	ordered := sortedUnique(keys)
	waitCtx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()
	opts := &redislock.Options{RetryStrategy: redislock.LinearBackoff(25 * time.Millisecond)}

	held := make([]*redislock.Lock, 0, len(ordered))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			_ = held[i].Release(context.Background())
		}
	}
	for _, key := range ordered {
		lock, err := l.client.Obtain(waitCtx, key, l.ttl, opts)
		if err != nil {
			release()
			if errors.Is(err, redislock.ErrNotObtained) || errors.Is(err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %s", ErrLockNotObtained, key)
			}
			return nil, err
		}
		held = append(held, lock)
	}
	return release, nil
}

// LocalLocker serializes keys inside a single process.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewLocalLocker constructs an empty LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]chan struct{})}
}

func (l *LocalLocker) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[key] = ch
	}
	return ch
}

// Lock obtains every key in sorted order, giving up when ctx is done.
func (l *LocalLocker) Lock(ctx context.Context, keys ...string) (func(), error) {
	ordered := sortedUnique(keys)
	held := make([]chan struct{}, 0, len(ordered))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i]
		}
	}
	for _, key := range ordered {
		ch := l.slot(key)
		select {
		case ch <- struct{}{}:
			held = append(held, ch)
		case <-ctx.Done():
			release()
			return nil, fmt.Errorf("%w: %s", ErrLockNotObtained, key)
		}
	}
	return release, nil
}

func sortedUnique(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
