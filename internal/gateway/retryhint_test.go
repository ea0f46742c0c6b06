package gateway

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryHintPrefersRetryAfter(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "42")
	h.Set("X-RateLimit-Reset", "9999999999")
	assert.Equal(t, 42*time.Second, RetryHint(h, 0, time.Now()))
}

func TestRetryHintFallsBackToReset(t *testing.T) {
	now := time.Unix(1_770_000_000, 0)
	h := http.Header{}
	h.Set("X-RateLimit-Reset", "1770000090")
	assert.Equal(t, 90*time.Second, RetryHint(h, 0, now))
}

func TestRetryHintNonNumericRetryAfterSkipped(t *testing.T) {
	now := time.Unix(1_770_000_000, 0)
	h := http.Header{}
	h.Set("Retry-After", "Wed, 21 Oct 2026 07:28:00 GMT")
	h.Set("X-RateLimit-Reset", "1770000030")
	assert.Equal(t, 30*time.Second, RetryHint(h, 0, now))
}

func TestRetryHintClamped(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "0")
	assert.Equal(t, time.Second, RetryHint(h, 0, time.Now()))

	h.Set("Retry-After", "86400")
	assert.Equal(t, 300*time.Second, RetryHint(h, 0, time.Now()))

	// Reset epoch in the past clamps to the floor.
	h = http.Header{}
	h.Set("X-RateLimit-Reset", "1000")
	assert.Equal(t, time.Second, RetryHint(h, 0, time.Now()))
}

func TestRetryHintInternalSchedule(t *testing.T) {
	for attempt := 0; attempt < 4; attempt++ {
		d := RetryHint(nil, attempt, time.Now())
		assert.GreaterOrEqual(t, d, time.Second)
		assert.LessOrEqual(t, d, 300*time.Second)
	}
}
