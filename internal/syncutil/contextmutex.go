package syncutil

import (
	"context"
	"sync"
)

// ContextShardedMutex is ShardedMutex with cancellable acquisition: a caller
// waiting on a busy shard gives up when its context does. The pipeline uses
// this so a slow transaction cannot pin an ingest worker past its deadline.
//
// Each shard is a 1-buffered channel holding a token; owning the token is
// owning the lock, and a select against ctx.Done() makes the wait abortable.
type ContextShardedMutex struct {
	shards [shardCount]chan struct{}
	once   sync.Once
}

// NewContextShardedMutex creates a context-aware sharded mutex.
func NewContextShardedMutex() *ContextShardedMutex {
	m := &ContextShardedMutex{}
	m.init()
	return m
}

func (m *ContextShardedMutex) init() {
	m.once.Do(func() {
		for i := range m.shards {
			m.shards[i] = make(chan struct{}, 1)
			m.shards[i] <- struct{}{}
		}
	})
}

// LockContext acquires the shard for key or gives up with ctx.Err(). On
// success the returned unlock must be called exactly once.
func (m *ContextShardedMutex) LockContext(ctx context.Context, key string) (func(), error) {
	m.init()
	shard := m.shards[shardFor(key)]

	select {
	case <-shard:
		return func() { shard <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
