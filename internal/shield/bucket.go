// Package shield runs lightweight intrusion detection: failed-login bursts
// tracked in a sliding window, and bulk-deactivation bursts derived from the
// audit trail.
package shield

import (
	"context"
	"sync"
	"time"
)

// Bucket tracks recent failed login attempts for one (org, email) key.
// Timestamps only ever hold entries inside the trailing detection window;
// pruning happens lazily on access.
type Bucket struct {
	Timestamps  []time.Time `json:"timestamps"`
	LastEventAt *time.Time  `json:"last_event_at,omitempty"`
}

// BucketStore abstracts failure-bucket storage so tests can supply a fake and
// production can swap in a shared cache for multi-instance consistency.
type BucketStore interface {
	Get(ctx context.Context, key string) (*Bucket, error)
	Put(ctx context.Context, key string, bucket *Bucket) error
	Delete(ctx context.Context, key string) error
}

// MemoryBucketStore is the default process-local store. Detection sensitivity
// degrades proportionally to instance count when horizontally scaled.
type MemoryBucketStore struct {
	mu      sync.Mutex
	buckets map[string]*Bucket
}

// NewMemoryBucketStore builds an empty in-memory store.
func NewMemoryBucketStore() *MemoryBucketStore {
	return &MemoryBucketStore{buckets: make(map[string]*Bucket)}
}

// Get returns the bucket for key, or nil when absent.
func (s *MemoryBucketStore) Get(_ context.Context, key string) (*Bucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, ok := s.buckets[key]
	if !ok {
		return nil, nil
	}
	clone := &Bucket{Timestamps: append([]time.Time(nil), bucket.Timestamps...)}
	if bucket.LastEventAt != nil {
		at := *bucket.LastEventAt
		clone.LastEventAt = &at
	}
	return clone, nil
}

// Put stores the bucket under key.
func (s *MemoryBucketStore) Put(_ context.Context, key string, bucket *Bucket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buckets[key] = bucket
	return nil
}

// Delete removes the bucket entirely.
func (s *MemoryBucketStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buckets, key)
	return nil
}
