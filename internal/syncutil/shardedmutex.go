// Package syncutil provides per-key mutual exclusion for the reconciliation
// pipeline. Critical sections are keyed by (tenant, transaction) so work on
// different transactions never serializes against each other.
package syncutil

import (
	"hash/fnv"
	"sync"
)

const shardCount = 256

// ShardedMutex maps string keys onto a fixed pool of mutexes. Memory stays
// bounded no matter how many keys pass through; two keys hashing to the same
// shard occasionally contend, which is harmless for correctness.
type ShardedMutex struct {
	shards [shardCount]sync.Mutex
}

// Lock acquires the shard for key and returns the matching unlock.
func (s *ShardedMutex) Lock(key string) func() {
	mu := &s.shards[shardFor(key)]
	mu.Lock()
	return mu.Unlock
}

func shardFor(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % shardCount
}
