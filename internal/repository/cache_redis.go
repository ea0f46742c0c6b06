package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cardgate/cardgate/internal/model"
)

// RedisCacheStore persists raw provider payloads. Entries are upserted
// and carry their own fetched-at/TTL; the gateway decides freshness, so
// the redis expiry is only housekeeping and sits well above any TTL.
type RedisCacheStore struct {
	client *redis.Client
	prefix string
	keep   time.Duration
}

func NewRedisCacheStore(client *redis.Client) *RedisCacheStore {
	return &RedisCacheStore{
		client: client,
		prefix: "pricecache:",
		keep:   7 * 24 * time.Hour,
	}
}

func (s *RedisCacheStore) Get(ctx context.Context, key string) (*model.CacheEntry, error) {
	raw, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var entry model.CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *RedisCacheStore) Put(ctx context.Context, key string, payload json.RawMessage, ttl time.Duration) error {
	entry := model.CacheEntry{
		Key:        key,
		Payload:    payload,
		FetchedAt:  time.Now().UTC(),
		TTLSeconds: int64(ttl / time.Second),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	keep := s.keep
	if 2*ttl > keep {
		keep = 2 * ttl
	}
	return s.client.Set(ctx, s.prefix+key, data, keep).Err()
}
