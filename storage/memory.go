package storage

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// shard represents a single shard of data with its own lock
type shard struct {
	mu   sync.RWMutex
	data map[string]*Value
}

// MemoryStore implements an in-memory storage engine.
//
// Keys are distributed over a power-of-two number of shards by xxhash, so
// independent connections mostly contend on different locks.
type MemoryStore struct {
	shards    []shard
	shardMask uint64
}

// MemoryOption configures a MemoryStore instance
type MemoryOption func(*MemoryStore)

// WithShardCount sets the number of shards for the store.
// The number is rounded up to the next power of 2.
func WithShardCount(count int) MemoryOption {
	return func(s *MemoryStore) {
		if count > 0 {
			n := nextPowerOf2(count)
			s.shards = make([]shard, n)
			s.shardMask = uint64(n - 1)
		}
	}
}

// NewMemory creates a new in-memory store with the default number of
// shards (16).
func NewMemory(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		shards:    make([]shard, 16),
		shardMask: 15,
	}

	for _, opt := range opts {
		opt(s)
	}

	for i := range s.shards {
		s.shards[i].data = make(map[string]*Value)
	}

	return s
}

// nextPowerOf2 returns the next power of 2 >= n
func nextPowerOf2(n int) int {
	if n <= 1 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}

// keyShard returns the shard responsible for a key
func (s *MemoryStore) keyShard(key string) *shard {
	return &s.shards[xxhash.Sum64String(key)&s.shardMask]
}

// Get retrieves a value by key.
//
// An expired value behaves as absent and is removed from the shard as a
// side effect (lazy expiry).
func (s *MemoryStore) Get(key string) ([]byte, bool) {
	sh := s.keyShard(key)

	sh.mu.RLock()
	value, exists := sh.data[key]
	if !exists {
		sh.mu.RUnlock()
		return nil, false
	}

	if value.IsExpired() {
		sh.mu.RUnlock()
		s.evictExpired(sh, key)
		return nil, false
	}

	result := make([]byte, len(value.Data))
	copy(result, value.Data)
	sh.mu.RUnlock()

	return result, true
}

// Set stores a value with an optional absolute expiry. An existing value
// is fully replaced.
func (s *MemoryStore) Set(key string, value []byte, expiry *time.Time) error {
	sh := s.keyShard(key)

	newValue := &Value{
		Data:   append([]byte(nil), value...),
		Expiry: expiry,
	}

	sh.mu.Lock()
	sh.data[key] = newValue
	sh.mu.Unlock()

	return nil
}

// Del deletes one or more keys, returning the number removed
func (s *MemoryStore) Del(keys ...string) int64 {
	deleted := int64(0)

	for _, key := range keys {
		sh := s.keyShard(key)
		sh.mu.Lock()
		if _, exists := sh.data[key]; exists {
			delete(sh.data, key)
			deleted++
		}
		sh.mu.Unlock()
	}

	return deleted
}

// Keys returns all non-expired keys. Only the literal "*" pattern (or the
// empty string) is understood; pattern validation belongs to the caller.
//
// Expired keys encountered during the scan are evicted, so a scan leaves
// the store holding live entries only.
func (s *MemoryStore) Keys(pattern string) []string {
	if pattern != "" && pattern != "*" {
		return nil
	}

	keys := make([]string, 0)

	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for key, value := range sh.data {
			if value.IsExpired() {
				delete(sh.data, key)
				continue
			}
			keys = append(keys, key)
		}
		sh.mu.Unlock()
	}

	return keys
}

// KeyCount returns the number of entries physically present, including
// expired entries that have not been touched yet.
func (s *MemoryStore) KeyCount() int64 {
	count := int64(0)

	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		count += int64(len(sh.data))
		sh.mu.RUnlock()
	}

	return count
}

// FlushAll removes all keys
func (s *MemoryStore) FlushAll() error {
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		sh.data = make(map[string]*Value)
		sh.mu.Unlock()
	}

	return nil
}

// Close shuts down the store. The store holds no background resources, so
// this only exists to satisfy Storage.
func (s *MemoryStore) Close() error {
	return nil
}

// evictExpired removes a key observed as expired, re-checking under the
// write lock since another goroutine may have replaced it meanwhile.
func (s *MemoryStore) evictExpired(sh *shard, key string) {
	sh.mu.Lock()
	if value, exists := sh.data[key]; exists && value.IsExpired() {
		delete(sh.data, key)
	}
	sh.mu.Unlock()
}
