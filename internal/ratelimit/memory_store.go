package ratelimit

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const shardCount = 64

type bucket struct {
	count       int
	windowStart time.Time
	window      time.Duration
}

func (b *bucket) resetTime() time.Time {
	return b.windowStart.Add(b.window)
}

// expired reports whether now is at or past windowStart + window
func (b *bucket) expired(now time.Time) bool {
	return !now.Before(b.resetTime())
}

type shard struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

// MemoryStore keeps buckets in process memory.
// Keys are spread over independently locked shards so unrelated callers never
// contend on one lock.
type MemoryStore struct {
	shards [shardCount]*shard
}

// NewMemoryStore creates an empty in-process bucket store
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	for i := range s.shards {
		s.shards[i] = &shard{buckets: make(map[string]*bucket)}
	}
	return s
}

func (s *MemoryStore) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return s.shards[h.Sum32()%shardCount]
}

// Increment applies one hit to key under its shard lock
func (s *MemoryStore) Increment(_ context.Context, key string, window time.Duration, now time.Time) (int, time.Time, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	b, exists := sh.buckets[key]
	if !exists || b.expired(now) {
		// Expired windows are overwritten, never merged
		b = &bucket{
			count:       1,
			windowStart: now,
			window:      window,
		}
		sh.buckets[key] = b
		return b.count, b.resetTime(), nil
	}

	b.count++
	return b.count, b.resetTime(), nil
}

// Sweep removes buckets whose window has elapsed and returns how many were dropped
func (s *MemoryStore) Sweep(now time.Time) int {
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for key, b := range sh.buckets {
			if b.expired(now) {
				delete(sh.buckets, key)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// Len returns the number of live buckets
func (s *MemoryStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.buckets)
		sh.mu.Unlock()
	}
	return n
}

// Close is a no-op for the in-memory store
func (s *MemoryStore) Close() error {
	return nil
}
