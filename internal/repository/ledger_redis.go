package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cardgate/cardgate/internal/model"
)

// RedisThrottleLedger records the last attempt outcome per gateway key.
// Last-write-wins is sufficient; the gateway serializes same-key callers.
type RedisThrottleLedger struct {
	client *redis.Client
	prefix string
	keep   time.Duration
}

func NewRedisThrottleLedger(client *redis.Client) *RedisThrottleLedger {
	return &RedisThrottleLedger{
		client: client,
		prefix: "throttle:",
		keep:   24 * time.Hour,
	}
}

func (l *RedisThrottleLedger) Last(ctx context.Context, key string) (*model.ThrottleEntry, error) {
	raw, err := l.client.Get(ctx, l.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var entry model.ThrottleEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (l *RedisThrottleLedger) Record(ctx context.Context, key string, at time.Time, outcome model.AttemptOutcome) error {
	entry := model.ThrottleEntry{Key: key, LastAttemptAt: at, LastOutcome: outcome}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return l.client.Set(ctx, l.prefix+key, data, l.keep).Err()
}
