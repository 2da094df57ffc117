// Package syncutil provides per-shop locking for read-modify-write sequences
// on shop state (offline session handoff, first-visit initialization).
package syncutil

import (
	"context"
	"hash/fnv"
)

const defaultShards = 64

// ShopLock is a bounded pool of context-aware locks keyed by shop domain.
// Shops hashing to the same shard share a lock.
type ShopLock struct {
	shards []chan struct{}
}

// NewShopLock creates a lock pool with n shards (64 when n <= 0).
func NewShopLock(n int) *ShopLock {
	if n <= 0 {
		n = defaultShards
	}
	l := &ShopLock{shards: make([]chan struct{}, n)}
	for i := range l.shards {
		l.shards[i] = make(chan struct{}, 1)
	}
	return l
}

// Lock blocks until the shop's lock is held or ctx is done. The returned
// func releases the lock and must be called exactly once.
func (l *ShopLock) Lock(ctx context.Context, shop string) (func(), error) {
	ch := l.shard(shop)
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryLock acquires the shop's lock only if it is free.
func (l *ShopLock) TryLock(shop string) (func(), bool) {
	ch := l.shard(shop)
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, true
	default:
		return nil, false
	}
}

func (l *ShopLock) shard(shop string) chan struct{} {
	h := fnv.New32a()
	_, _ = h.Write([]byte(shop))
	return l.shards[h.Sum32()%uint32(len(l.shards))]
}
