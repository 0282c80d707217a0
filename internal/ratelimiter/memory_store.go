package ratelimiter

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	count     int64
	expiresAt time.Time
}

// MemoryStore is the in-process Store. Expired buckets are dropped lazily on
// access and in bulk by Sweep.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*memoryEntry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		buckets: make(map[string]*memoryEntry),
		now:     time.Now,
	}
}

// CheckAndIncr holds the mutex across the whole check-then-increment pass,
// so racing callers serialize and the last admitted request under a limit of
// N is the Nth.
func (s *MemoryStore) CheckAndIncr(_ context.Context, buckets []Bucket) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for i, b := range buckets {
		e, ok := s.buckets[b.Key]
		if !ok {
			continue
		}
		if now.After(e.expiresAt) {
			delete(s.buckets, b.Key)
			continue
		}
		if e.count >= int64(b.Limit) {
			return i, nil
		}
	}

	for _, b := range buckets {
		e, ok := s.buckets[b.Key]
		if !ok || now.After(e.expiresAt) {
			e = &memoryEntry{expiresAt: now.Add(b.TTL)}
			s.buckets[b.Key] = e
		}
		e.count++
	}
	return -1, nil
}

// Sweep drops all expired buckets and returns how many were removed.
// Called periodically by the maintenance worker to bound memory growth.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for k, e := range s.buckets {
		if now.After(e.expiresAt) {
			delete(s.buckets, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of live buckets.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}

var _ Store = (*MemoryStore)(nil)
