package model

import (
	"encoding/json"
	"time"
)

// AttemptOutcome is the recorded result of the last live fetch attempt
// for a throttle key.
type AttemptOutcome string

const (
	OutcomeOK          AttemptOutcome = "ok"
	OutcomeRateLimited AttemptOutcome = "rate-limited"
	OutcomeError       AttemptOutcome = "error"
)

// CacheEntry is a cached raw provider payload. Entries are only ever
// superseded, never deleted; readers treat entries older than TTLSeconds
// as absent.
type CacheEntry struct {
	Key        string          `json:"key"`
	Payload    json.RawMessage `json:"payload"`
	FetchedAt  time.Time       `json:"fetched_at"`
	TTLSeconds int64           `json:"ttl_seconds"`
}

// Fresh reports whether the entry is still within its TTL at now.
func (e *CacheEntry) Fresh(now time.Time) bool {
	if e == nil {
		return false
	}
	return now.Sub(e.FetchedAt) < time.Duration(e.TTLSeconds)*time.Second
}

// ThrottleEntry records the last outbound attempt for a key. A new attempt
// is permitted only if no entry exists, the last outcome was ok, or the
// cooldown window has elapsed since a rate-limited/error outcome.
type ThrottleEntry struct {
	Key           string         `json:"key"`
	LastAttemptAt time.Time      `json:"last_attempt_at"`
	LastOutcome   AttemptOutcome `json:"last_outcome"`
}
