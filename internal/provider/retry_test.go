package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardgate/cardgate/internal/config"
	"github.com/cardgate/cardgate/internal/ratelimit"
)

func noBackoff(t *testing.T) {
	t.Helper()
	prev := backoffFn
	backoffFn = func(int) time.Duration { return 0 }
	t.Cleanup(func() { backoffFn = prev })
}

func TestFetchPriceListRetriesRateLimitThenSucceeds(t *testing.T) {
	noBackoff(t)

	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"products":[{"product-name":"Charizard Holo #4","loose-price":32050,"graded-price":145000}]}`))
	}))
	defer srv.Close()

	p := NewPriceCharting(config.ProviderConfig{BaseURL: srv.URL})
	prices, err := p.FetchPriceList(context.Background(), "pokemon-cards")
	require.NoError(t, err)
	require.Len(t, prices, 1)
	assert.Equal(t, "Charizard Holo #4", prices[0].Notes)
	assert.Equal(t, int64(3), hits.Load(), "429 responses retry until the 200")
}

func TestFetchPriceListStopsAtAttemptCeiling(t *testing.T) {
	noBackoff(t)

	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewPriceCharting(config.ProviderConfig{BaseURL: srv.URL})
	_, err := p.FetchPriceList(context.Background(), "pokemon-cards")
	require.Error(t, err)
	assert.Equal(t, int64(ratelimit.MaxAttempts), hits.Load())

	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.True(t, perr.RateLimited())
}

func TestFetchPriceListDoesNotRetryNonTransient(t *testing.T) {
	noBackoff(t)

	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := NewPriceCharting(config.ProviderConfig{BaseURL: srv.URL})
	_, err := p.FetchPriceList(context.Background(), "pokemon-cards")
	require.Error(t, err)
	assert.Equal(t, int64(1), hits.Load(), "a 404 is terminal on the first attempt")
}
