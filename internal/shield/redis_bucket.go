package shield

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisBucketPrefix = "shield:failed-login:"

// RedisBucketStore shares failure buckets across process instances so
// detection sensitivity does not degrade under horizontal scaling.
type RedisBucketStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisBucketStore builds a store whose entries expire after ttl of
// inactivity; ttl should be at least the detection window.
func NewRedisBucketStore(client *redis.Client, ttl time.Duration) *RedisBucketStore {
	return &RedisBucketStore{client: client, ttl: ttl}
}

// Get returns the bucket for key, or nil when absent.
func (s *RedisBucketStore) Get(ctx context.Context, key string) (*Bucket, error) {
	raw, err := s.client.Get(ctx, redisBucketPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get failure bucket: %w", err)
	}
	var bucket Bucket
	if err := json.Unmarshal(raw, &bucket); err != nil {
		return nil, fmt.Errorf("decode failure bucket: %w", err)
	}
	return &bucket, nil
}

// Put stores the bucket under key, refreshing its expiry.
func (s *RedisBucketStore) Put(ctx context.Context, key string, bucket *Bucket) error {
	raw, err := json.Marshal(bucket)
	if err != nil {
		return fmt.Errorf("encode failure bucket: %w", err)
	}
	if err := s.client.Set(ctx, redisBucketPrefix+key, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("put failure bucket: %w", err)
	}
	return nil
}

// Delete removes the bucket entirely.
func (s *RedisBucketStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, redisBucketPrefix+key).Err(); err != nil {
		return fmt.Errorf("delete failure bucket: %w", err)
	}
	return nil
}
