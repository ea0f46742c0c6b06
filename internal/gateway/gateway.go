// Package gateway is the sole path through which any (provider, card,
// request-kind) fetch happens. Every call runs a fixed state machine:
// CacheCheck, then ThrottleCheck, then Fetching with bounded 429 retries.
// Failures are converted to a uniform Result here and never propagate as
// errors into the reconciliation layer.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cardgate/cardgate/internal/config"
	"github.com/cardgate/cardgate/internal/model"
	"github.com/cardgate/cardgate/internal/pkg/apperrors"
	"github.com/cardgate/cardgate/internal/pkg/logger"
	"github.com/cardgate/cardgate/internal/pkg/metrics"
	"github.com/cardgate/cardgate/internal/provider"
)

// State is the terminal state of one gateway invocation.
type State string

const (
	StateHit       State = "HIT"
	StateCooldown  State = "COOLDOWN"
	StateSuccess   State = "SUCCESS"
	StateExhausted State = "EXHAUSTED"
	StateError     State = "ERROR"
)

// Result is the uniform return shape of every invocation. Callers branch
// on OK and Payload only; State and FailureCode are informational.
type Result struct {
	OK          bool                `json:"ok"`
	Payload     json.RawMessage     `json:"payload,omitempty"`
	Cached      bool                `json:"cached"`
	FailureCode apperrors.ErrorType `json:"failure_code,omitempty"`
	State       State               `json:"state"`
}

// CacheStore persists raw payloads keyed by (provider, card, kind).
// Upsert-only; implementations never delete, readers handle staleness.
type CacheStore interface {
	Get(ctx context.Context, key string) (*model.CacheEntry, error)
	Put(ctx context.Context, key string, payload json.RawMessage, ttl time.Duration) error
}

// ThrottleLedger records the last attempt outcome per key.
type ThrottleLedger interface {
	Last(ctx context.Context, key string) (*model.ThrottleEntry, error)
	Record(ctx context.Context, key string, at time.Time, outcome model.AttemptOutcome) error
}

type Gateway struct {
	cache  CacheStore
	ledger ThrottleLedger

	ttl          time.Duration
	cooldown     time.Duration
	maxAttempts  int
	initialDelay time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	now     func() time.Time
	sleepFn func(ctx context.Context, d time.Duration) error
	log     *slog.Logger
}

func New(cache CacheStore, ledger ThrottleLedger, cfg config.CacheConfig) *Gateway {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	ttl := cfg.TTL()
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	cooldown := cfg.Cooldown()
	if cooldown <= 0 {
		cooldown = 2 * time.Minute
	}

	return &Gateway{
		cache:        cache,
		ledger:       ledger,
		ttl:          ttl,
		cooldown:     cooldown,
		maxAttempts:  maxAttempts,
		initialDelay: cfg.InitialDelay(),
		locks:        make(map[string]*sync.Mutex),
		now:          time.Now,
		sleepFn:      sleepCtx,
		log:          logger.Component("gateway"),
	}
}

// CacheKey builds the identity under which a fetch is cached and throttled.
func CacheKey(source model.PriceSource, card model.CardKey, kind provider.Kind) string {
	return fmt.Sprintf("%s:%s:%s:%s", source, card.SetID, card.Number, kind)
}

// Fetch runs the full state machine for one (provider, card, kind) key.
// Concurrent calls for the same key serialize; different keys do not.
func (g *Gateway) Fetch(ctx context.Context, f provider.Fetcher, card model.CardKey) Result {
	if g.initialDelay > 0 {
		if err := g.sleepFn(ctx, g.initialDelay); err != nil {
			return g.terminal(f, StateError, Result{FailureCode: apperrors.ErrProvider})
		}
	}

	key := CacheKey(f.Name(), card, f.Kind())
	lock := g.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	// CacheCheck
	entry, err := g.cache.Get(ctx, key)
	if err != nil {
		g.log.Warn("cache read failed, treating as miss", "key", key, "error", err)
	}
	if entry.Fresh(g.now()) {
		return g.terminal(f, StateHit, Result{OK: true, Payload: entry.Payload, Cached: true})
	}

	// ThrottleCheck
	last, err := g.ledger.Last(ctx, key)
	if err != nil {
		g.log.Warn("ledger read failed, allowing attempt", "key", key, "error", err)
	}
	if last != nil && last.LastOutcome != model.OutcomeOK &&
		g.now().Sub(last.LastAttemptAt) < g.cooldown {
		return g.terminal(f, StateCooldown, Result{FailureCode: apperrors.ErrCooldown})
	}

	// Fetching. 429 retries stay inside this call; any other failure is
	// terminal here and the cooldown governs the next call.
	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		started := g.now()
		payload, fetchErr := f.Fetch(ctx, card)
		metrics.ProviderLatency.WithLabelValues(string(f.Name())).Observe(g.now().Sub(started).Seconds())

		if fetchErr == nil {
			if !json.Valid(payload) {
				g.record(ctx, key, model.OutcomeError)
				g.log.Warn("unparseable payload", "key", key)
				return g.terminal(f, StateError, Result{FailureCode: apperrors.ErrProvider})
			}
			if err := g.cache.Put(ctx, key, payload, g.ttl); err != nil {
				g.log.Warn("cache write failed", "key", key, "error", err)
			}
			g.record(ctx, key, model.OutcomeOK)
			return g.terminal(f, StateSuccess, Result{OK: true, Payload: payload})
		}

		var perr *provider.Error
		if errors.As(fetchErr, &perr) && perr.RateLimited() {
			g.record(ctx, key, model.OutcomeRateLimited)
			if attempt == g.maxAttempts-1 {
				break
			}
			delay := RetryHint(perr.Header, attempt, g.now())
			g.log.Info("rate limited, backing off", "key", key, "attempt", attempt+1, "delay", delay)
			if err := g.sleepFn(ctx, delay); err != nil {
				return g.terminal(f, StateExhausted, Result{FailureCode: apperrors.ErrExhausted})
			}
			continue
		}

		g.record(ctx, key, model.OutcomeError)
		logger.LogError(ctx, fetchErr, "provider fetch failed", "key", key)
		return g.terminal(f, StateError, Result{FailureCode: apperrors.ErrProvider})
	}

	return g.terminal(f, StateExhausted, Result{FailureCode: apperrors.ErrExhausted})
}

func (g *Gateway) terminal(f provider.Fetcher, state State, r Result) Result {
	r.State = state
	metrics.GatewayResults.WithLabelValues(string(f.Name()), string(state)).Inc()
	return r
}

func (g *Gateway) record(ctx context.Context, key string, outcome model.AttemptOutcome) {
	if err := g.ledger.Record(ctx, key, g.now(), outcome); err != nil {
		g.log.Warn("ledger write failed", "key", key, "error", err)
	}
}

func (g *Gateway) keyLock(key string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.locks[key]
	if !ok {
		l = &sync.Mutex{}
		g.locks[key] = l
	}
	return l
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
