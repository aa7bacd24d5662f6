package sync

import (
	"math/rand/v2"
	"sync"

	"github.com/spaolacci/murmur3"
)

const defaultShards = 64

// ShardedMap is a string-keyed map split across independently locked shards.
// Operations on one key serialize on that key's shard only, so unrelated keys
// rarely contend.
type ShardedMap[V any] struct {
	seed   uint32
	shards []shard[V]
}

type shard[V any] struct {
	mu    sync.Mutex
	items map[string]V
}

// NewShardedMap creates a map with n shards (64 when n <= 0).
func NewShardedMap[V any](n int) *ShardedMap[V] {
	if n <= 0 {
		n = defaultShards
	}
	m := &ShardedMap[V]{seed: rand.Uint32(), shards: make([]shard[V], n)}
	for i := range m.shards {
		m.shards[i].items = make(map[string]V)
	}
	return m
}

// With runs fn while holding the lock of key's shard. fn receives the shard's
// map and may read, insert or delete key; it must not touch other shards.
func (m *ShardedMap[V]) With(key string, fn func(items map[string]V)) {
	s := &m.shards[m.shardFor(key)]
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.items)
}

// Sweep visits every shard in turn, deleting entries for which drop returns true.
// It returns the number of entries removed.
func (m *ShardedMap[V]) Sweep(drop func(key string, v V) bool) int {
	removed := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		for k, v := range s.items {
			if drop(k, v) {
				delete(s.items, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Len returns the total number of entries.
func (m *ShardedMap[V]) Len() int {
	total := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		total += len(s.items)
		s.mu.Unlock()
	}
	return total
}

func (m *ShardedMap[V]) shardFor(key string) int {
	return int(murmur3.Sum64WithSeed([]byte(key), m.seed) % uint64(len(m.shards)))
}
