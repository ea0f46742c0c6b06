// Package ratelimit gates outbound calls to bulk external sources. The
// limiter is a discrete reservoir: a fixed pool of tokens that is reset
// wholesale every refill interval, combined with a minimum spacing floor
// between any two consumed tokens.
package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/cardgate/cardgate/internal/config"
	"github.com/cardgate/cardgate/internal/pkg/metrics"
)

// MaxAttempts is the retry ceiling for bulk calls guarded by the limiter.
const MaxAttempts = 4

const (
	backoffBase = 2 * time.Second
	backoffCap  = 60 * time.Second
)

type Reservoir struct {
	capacity       int
	refillInterval time.Duration
	jitterSpread   float64
	minSpacing     time.Duration
	spacing        *rate.Limiter

	mu         sync.Mutex
	tokens     int
	lastRefill time.Time

	now     func() time.Time
	sleepFn func(ctx context.Context, d time.Duration) error
}

func NewReservoir(cfg config.RateLimitConfig) *Reservoir {
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = 240
	}
	interval := cfg.RefillInterval()
	if interval <= 0 {
		interval = time.Hour
	}

	spacingLimit := rate.Inf
	if cfg.MinSpacing() > 0 {
		spacingLimit = rate.Every(cfg.MinSpacing())
	}

	return &Reservoir{
		capacity:       capacity,
		refillInterval: interval,
		jitterSpread:   cfg.JitterSpread,
		minSpacing:     cfg.MinSpacing(),
		spacing:        rate.NewLimiter(spacingLimit, 1),
		tokens:         capacity,
		lastRefill:     time.Now(),
		now:            time.Now,
		sleepFn:        sleepCtx,
	}
}

// Acquire blocks until a token is available, consumes it, and enforces the
// spacing floor. May block for up to a full refill interval when the
// reservoir is drained.
func (r *Reservoir) Acquire(ctx context.Context) error {
	start := r.now()
	for {
		r.mu.Lock()
		now := r.now()
		if now.Sub(r.lastRefill) >= r.refillInterval {
			// Hard reset, not a proportional trickle.
			r.tokens = r.capacity
			r.lastRefill = now
		}
		if r.tokens > 0 {
			r.tokens--
			r.mu.Unlock()
			if err := r.spacing.Wait(ctx); err != nil {
				// Return the token: the caller never got to issue a request.
				r.mu.Lock()
				if r.tokens < r.capacity {
					r.tokens++
				}
				r.mu.Unlock()
				return err
			}
			metrics.RateLimitWait.Observe(r.now().Sub(start).Seconds())
			return nil
		}
		wait := r.refillInterval - now.Sub(r.lastRefill)
		r.mu.Unlock()

		if err := r.sleepFn(ctx, wait); err != nil {
			return err
		}
	}
}

// Tokens reports the tokens currently available, refilling first if due.
func (r *Reservoir) Tokens() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.now().Sub(r.lastRefill) >= r.refillInterval {
		r.tokens = r.capacity
		r.lastRefill = r.now()
	}
	return r.tokens
}

// Jitter returns a randomized extra delay to sleep after acquiring a token,
// up to spread x the spacing floor, so concurrent callers desynchronize.
func (r *Reservoir) Jitter() time.Duration {
	if r.jitterSpread <= 0 || r.minSpacing <= 0 {
		return 0
	}
	return time.Duration(rand.Float64() * r.jitterSpread * float64(r.minSpacing))
}

// Backoff returns the delay before retrying attempt (zero-based): base
// doubling per attempt, capped, plus up to 40% jitter.
func Backoff(attempt int) time.Duration {
	d := backoffBase << uint(attempt)
	if d > backoffCap || d <= 0 {
		d = backoffCap
	}
	return d + time.Duration(rand.Float64()*0.4*float64(d))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
