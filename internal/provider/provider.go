// Package provider contains the adapters for the external pricing and
// population sources. Adapters issue a single bounded-timeout request and
// return the raw payload; retry, caching and cooldown policy live in the
// gateway and the ingest service, not here.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cardgate/cardgate/internal/config"
	"github.com/cardgate/cardgate/internal/model"
	"github.com/cardgate/cardgate/internal/ratelimit"
)

// Kind is the request kind half of a cache key. One provider can expose
// several kinds (e.g. market prices and population).
type Kind string

const (
	KindSoldListings Kind = "sold"
	KindAggregate    Kind = "aggregate"
	KindCatalog      Kind = "catalog"
	KindMarket       Kind = "market"
	KindPopulation   Kind = "population"
)

// Error is the typed failure of one outbound call. It keeps the HTTP
// status and headers so the gateway can classify 429s and parse retry
// hints without knowing provider specifics.
type Error struct {
	Provider model.PriceSource
	Status   int
	Header   http.Header
	Err      error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: http %d: %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// RateLimited reports whether the provider answered 429.
func (e *Error) RateLimited() bool { return e.Status == http.StatusTooManyRequests }

// Transient reports whether the failure is worth retrying (429 or 5xx).
func (e *Error) Transient() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// Fetcher is the single-call surface the gateway drives. Payloads are
// opaque to the gateway beyond being valid JSON.
type Fetcher interface {
	Name() model.PriceSource
	Kind() Kind
	Fetch(ctx context.Context, card model.CardKey) (json.RawMessage, error)
}

// PriceFetcher additionally normalizes its payload into a MarketPrice.
type PriceFetcher interface {
	Fetcher
	Normalize(card model.CardKey, payload json.RawMessage) (*model.MarketPrice, error)
}

// PopulationFetcher normalizes its payload into a PopulationSnapshot.
type PopulationFetcher interface {
	Fetcher
	Normalize(card model.CardKey, payload json.RawMessage) (*model.PopulationSnapshot, error)
}

func newHTTPClient(cfg config.ProviderConfig) *http.Client {
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
		},
		Timeout: timeout,
	}
}

// get performs one GET and returns the body, or a *Error on transport
// failure or non-2xx status.
func get(ctx context.Context, client *http.Client, source model.PriceSource, url string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &Error{Provider: source, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &Error{Provider: source, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, &Error{Provider: source, Status: resp.StatusCode, Header: resp.Header, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{
			Provider: source,
			Status:   resp.StatusCode,
			Header:   resp.Header,
			Err:      fmt.Errorf("unexpected status %s", resp.Status),
		}
	}
	return body, nil
}

// backoffFn is swapped out in tests to avoid real sleeps.
var backoffFn = ratelimit.Backoff

// getWithRetry wraps get with exponential backoff on 429/5xx, up to
// ratelimit.MaxAttempts attempts. Used by bulk callers that bypass the
// per-card cache gateway.
func getWithRetry(ctx context.Context, client *http.Client, source model.PriceSource, url string, headers map[string]string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < ratelimit.MaxAttempts; attempt++ {
		body, err := get(ctx, client, source, url, headers)
		if err == nil {
			return body, nil
		}
		lastErr = err

		perr, ok := err.(*Error)
		if !ok || !perr.Transient() {
			return nil, err
		}
		if attempt == ratelimit.MaxAttempts-1 {
			break
		}
		t := time.NewTimer(backoffFn(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	return nil, lastErr
}
