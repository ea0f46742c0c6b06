package repository

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cardgate/cardgate/internal/model"
)

// In-memory cache and ledger, used when redis is not configured. Same
// upsert semantics, process lifetime only.

type MemoryCacheStore struct {
	mu      sync.Mutex
	entries map[string]*model.CacheEntry
}

func NewMemoryCacheStore() *MemoryCacheStore {
	return &MemoryCacheStore{entries: make(map[string]*model.CacheEntry)}
}

func (s *MemoryCacheStore) Get(_ context.Context, key string) (*model.CacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[key], nil
}

func (s *MemoryCacheStore) Put(_ context.Context, key string, payload json.RawMessage, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = &model.CacheEntry{
		Key:        key,
		Payload:    payload,
		FetchedAt:  time.Now().UTC(),
		TTLSeconds: int64(ttl / time.Second),
	}
	return nil
}

type MemoryThrottleLedger struct {
	mu      sync.Mutex
	entries map[string]*model.ThrottleEntry
}

func NewMemoryThrottleLedger() *MemoryThrottleLedger {
	return &MemoryThrottleLedger{entries: make(map[string]*model.ThrottleEntry)}
}

func (l *MemoryThrottleLedger) Last(_ context.Context, key string) (*model.ThrottleEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entries[key], nil
}

func (l *MemoryThrottleLedger) Record(_ context.Context, key string, at time.Time, outcome model.AttemptOutcome) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[key] = &model.ThrottleEntry{Key: key, LastAttemptAt: at, LastOutcome: outcome}
	return nil
}
