package gateway

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cardgate/cardgate/internal/ratelimit"
)

const (
	minRetryDelay = 1 * time.Second
	maxRetryDelay = 300 * time.Second
)

// RetryHint derives how long to wait after a 429. Preference order:
// numeric Retry-After seconds, then seconds remaining until the
// X-RateLimit-Reset epoch, then the internal exponential schedule.
// The result is always clamped to [1s, 300s].
func RetryHint(h http.Header, attempt int, now time.Time) time.Duration {
	if h != nil {
		if v := strings.TrimSpace(h.Get("Retry-After")); v != "" {
			if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
				return clampRetry(time.Duration(secs) * time.Second)
			}
			// HTTP-date form is ignored; fall through to the next hint.
		}
		if v := strings.TrimSpace(h.Get("X-RateLimit-Reset")); v != "" {
			if epoch, err := strconv.ParseInt(v, 10, 64); err == nil {
				return clampRetry(time.Unix(epoch, 0).Sub(now))
			}
		}
	}
	return clampRetry(ratelimit.Backoff(attempt))
}

func clampRetry(d time.Duration) time.Duration {
	if d < minRetryDelay {
		return minRetryDelay
	}
	if d > maxRetryDelay {
		return maxRetryDelay
	}
	return d
}
