package service

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardgate/cardgate/internal/config"
	"github.com/cardgate/cardgate/internal/gateway"
	"github.com/cardgate/cardgate/internal/model"
	"github.com/cardgate/cardgate/internal/provider"
	"github.com/cardgate/cardgate/internal/reconcile"
)

// fakeStore is mutex-guarded because Run exercises it from several
// workers at once.
type fakeStore struct {
	mu        sync.Mutex
	cards     []model.TrackedCard
	prices    []*model.MarketPrice
	points    []model.PricePoint
	pops      []model.PopulationSnapshot
	history   model.PriceHistory
	peers     []model.PeerPrice
	pop       *model.PopulationSnapshot
	snapshots []*model.ValueSnapshot
}

func (s *fakeStore) UpsertMarketPrice(_ context.Context, mp *model.MarketPrice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices = append(s.prices, mp)
	return nil
}

func (s *fakeStore) AppendPricePoint(_ context.Context, _ model.CardKey, p model.PricePoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.points = append(s.points, p)
	return nil
}

func (s *fakeStore) PriceHistory(context.Context, model.CardKey, int) (model.PriceHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history, nil
}

func (s *fakeStore) AppendPopulation(_ context.Context, _ model.CardKey, pop model.PopulationSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pops = append(s.pops, pop)
	s.pop = &pop
	return nil
}

func (s *fakeStore) LatestPopulation(context.Context, model.CardKey) (*model.PopulationSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pop, nil
}

func (s *fakeStore) Peers(context.Context, string, string) ([]model.PeerPrice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peers, nil
}

func (s *fakeStore) SaveSnapshot(_ context.Context, snap *model.ValueSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, snap)
	return nil
}

func (s *fakeStore) TrackedCards(context.Context) ([]model.TrackedCard, error) {
	return s.cards, nil
}

type fakeGateway struct {
	mu      sync.Mutex
	results map[string]gateway.Result
	calls   int
}

func (g *fakeGateway) Fetch(_ context.Context, f provider.Fetcher, card model.CardKey) gateway.Result {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if r, ok := g.results[gateway.CacheKey(f.Name(), card, f.Kind())]; ok {
		return r
	}
	return gateway.Result{State: gateway.StateError}
}

type fakeLimiter struct {
	acquired atomic.Int64
}

func (l *fakeLimiter) Acquire(context.Context) error { l.acquired.Add(1); return nil }
func (l *fakeLimiter) Jitter() time.Duration         { return 0 }

type stubPriceFetcher struct {
	source model.PriceSource
	kind   provider.Kind
	price  *model.MarketPrice
}

func (f *stubPriceFetcher) Name() model.PriceSource { return f.source }
func (f *stubPriceFetcher) Kind() provider.Kind     { return f.kind }

func (f *stubPriceFetcher) Fetch(context.Context, model.CardKey) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

func (f *stubPriceFetcher) Normalize(card model.CardKey, _ json.RawMessage) (*model.MarketPrice, error) {
	mp := *f.price
	mp.Card = card
	return &mp, nil
}

type stubPopFetcher struct {
	pop *model.PopulationSnapshot
}

func (f *stubPopFetcher) Name() model.PriceSource { return model.SourcePSA }
func (f *stubPopFetcher) Kind() provider.Kind     { return provider.KindPopulation }

func (f *stubPopFetcher) Fetch(context.Context, model.CardKey) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

func (f *stubPopFetcher) Normalize(model.CardKey, json.RawMessage) (*model.PopulationSnapshot, error) {
	return f.pop, nil
}

func nd(v float64) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: decimal.NewFromFloat(v), Valid: true}
}

var testCard = model.TrackedCard{
	Key: model.CardKey{SetID: "base1", Number: "4", Name: "Charizard"},
}

func newTestIngestor(store *fakeStore, gw Gateway, limiter Limiter, prices []provider.PriceFetcher, pop provider.PopulationFetcher) *Ingestor {
	cfg := &config.Config{}
	cfg.Reconcile.GlobalRatio = 4.5
	cfg.Reconcile.GradingFee = 25
	cfg.Ingest.Workers = 2
	return NewIngestor(cfg, gw, limiter, store, reconcile.NewEngine(cfg.Reconcile), prices, pop)
}

func okResult(f provider.Fetcher, card model.CardKey) (string, gateway.Result) {
	return gateway.CacheKey(f.Name(), card, f.Kind()),
		gateway.Result{OK: true, Payload: json.RawMessage(`{}`), State: gateway.StateSuccess}
}

func TestIngestCardFullPipeline(t *testing.T) {
	pc := &stubPriceFetcher{
		source: model.SourcePriceCharting,
		kind:   provider.KindAggregate,
		price:  &model.MarketPrice{Source: model.SourcePriceCharting, Raw: nd(10), Currency: "USD"},
	}
	pop := &stubPopFetcher{pop: &model.PopulationSnapshot{
		Date: time.Now(), GradeTop: 150, GradeNext: 300, Total: 850,
	}}

	gw := &fakeGateway{results: map[string]gateway.Result{}}
	k, r := okResult(pc, testCard.Key)
	gw.results[k] = r
	k, r = okResult(pop, testCard.Key)
	gw.results[k] = r

	store := &fakeStore{}
	limiter := &fakeLimiter{}
	in := newTestIngestor(store, gw, limiter, []provider.PriceFetcher{pc}, pop)

	report, err := in.IngestCard(context.Background(), testCard, NewBudget(0))
	require.NoError(t, err)

	// Raw $10, no history, no peers: global-ratio tier, 4.5x.
	assert.Equal(t, model.MethodGlobalRatio, report.Estimation.Method)
	assert.True(t, report.Estimation.Value.Decimal.Equal(decimal.NewFromInt(45)))
	require.NotNil(t, report.GemRate.Value)
	assert.InDelta(t, 1.0/3.0, *report.GemRate.Value, 1e-9)
	assert.Equal(t, model.ConfidenceHigh, report.GemRate.Confidence)
	require.NotNil(t, report.Roi.RoiPct)

	assert.Len(t, store.prices, 1)
	assert.Len(t, store.points, 1)
	assert.Len(t, store.pops, 1)
	require.Len(t, store.snapshots, 1)
	assert.Equal(t, "global-ratio", store.snapshots[0].Method)
	assert.Equal(t, int64(2), limiter.acquired.Load(), "one token per provider call")
}

func TestBudgetExhaustionConsumesNoTokens(t *testing.T) {
	pc := &stubPriceFetcher{
		source: model.SourcePriceCharting,
		kind:   provider.KindAggregate,
		price:  &model.MarketPrice{Source: model.SourcePriceCharting, Raw: nd(10)},
	}
	gw := &fakeGateway{results: map[string]gateway.Result{}}
	store := &fakeStore{}
	limiter := &fakeLimiter{}
	in := newTestIngestor(store, gw, limiter, []provider.PriceFetcher{pc}, nil)

	budget := NewBudget(1)
	budget.Spend() // drain it

	report, err := in.IngestCard(context.Background(), testCard, budget)
	require.NoError(t, err)
	assert.Equal(t, int64(0), limiter.acquired.Load(), "budget check precedes token acquisition")
	assert.Equal(t, 0, gw.calls)
	assert.Equal(t, model.MethodUnknown, report.Estimation.Method)
}

func TestCooldownResultSkipsCard(t *testing.T) {
	pc := &stubPriceFetcher{
		source: model.SourcePriceCharting,
		kind:   provider.KindAggregate,
		price:  &model.MarketPrice{Source: model.SourcePriceCharting, Raw: nd(10)},
	}
	gw := &fakeGateway{results: map[string]gateway.Result{
		gateway.CacheKey(pc.Name(), testCard.Key, pc.Kind()): {State: gateway.StateCooldown},
	}}
	store := &fakeStore{}
	in := newTestIngestor(store, gw, &fakeLimiter{}, []provider.PriceFetcher{pc}, nil)

	report, err := in.IngestCard(context.Background(), testCard, NewBudget(0))
	require.NoError(t, err)
	assert.Empty(t, store.prices, "no payload, nothing stored")
	assert.Equal(t, model.MethodUnknown, report.Estimation.Method)
	assert.Equal(t, model.ConfidenceNone, report.Estimation.Confidence)
}

func TestRunProcessesAllCards(t *testing.T) {
	pc := &stubPriceFetcher{
		source: model.SourcePriceCharting,
		kind:   provider.KindAggregate,
		price:  &model.MarketPrice{Source: model.SourcePriceCharting, Raw: nd(10)},
	}
	cards := []model.TrackedCard{
		{Key: model.CardKey{SetID: "base1", Number: "4", Name: "Charizard"}},
		{Key: model.CardKey{SetID: "base1", Number: "2", Name: "Blastoise"}},
		{Key: model.CardKey{SetID: "base1", Number: "15", Name: "Venusaur"}},
	}
	gw := &fakeGateway{results: map[string]gateway.Result{}}
	for _, card := range cards {
		k, r := okResult(pc, card.Key)
		gw.results[k] = r
	}

	store := &fakeStore{cards: cards}
	in := newTestIngestor(store, gw, &fakeLimiter{}, []provider.PriceFetcher{pc}, nil)

	require.NoError(t, in.Run(context.Background(), NewBudget(0)))
	assert.Len(t, store.snapshots, 3)
}

func TestMergeCurrentFillsGapsSameCurrencyOnly(t *testing.T) {
	first := &model.MarketPrice{Source: model.SourcePriceCharting, Currency: "USD", Raw: nd(10)}
	second := &model.MarketPrice{Source: model.SourcePokemonTCG, Currency: "USD", Graded: nd(45), Low: nd(8)}

	merged := mergeCurrent(first, second)
	assert.True(t, merged.Raw.Decimal.Equal(decimal.NewFromInt(10)))
	require.True(t, merged.Graded.Valid, "gap filled from a same-currency source")
	assert.True(t, merged.Low.Valid)
	assert.Equal(t, "USD", merged.Currency)

	// A later source never overwrites an already-present field.
	third := &model.MarketPrice{Source: model.SourceEbay, Currency: "USD", Raw: nd(99)}
	merged = mergeCurrent(merged, third)
	assert.True(t, merged.Raw.Decimal.Equal(decimal.NewFromInt(10)))
}

func TestMergeCurrentSkipsForeignCurrency(t *testing.T) {
	usd := &model.MarketPrice{Source: model.SourcePriceCharting, Currency: "USD", Raw: nd(10)}
	eur := &model.MarketPrice{Source: model.SourceCardmarket, Currency: "EUR", Graded: nd(45)}

	merged := mergeCurrent(usd, eur)
	assert.False(t, merged.Graded.Valid, "EUR values must not fill a USD observation")
	assert.Equal(t, "USD", merged.Currency)
}

func TestEstimateUsesObservedHistory(t *testing.T) {
	pc := &stubPriceFetcher{
		source: model.SourcePriceCharting,
		kind:   provider.KindAggregate,
		price:  &model.MarketPrice{Source: model.SourcePriceCharting, Raw: nd(10)},
	}
	gw := &fakeGateway{results: map[string]gateway.Result{}}
	k, r := okResult(pc, testCard.Key)
	gw.results[k] = r

	day := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	history := make(model.PriceHistory, 0, 10)
	for i := 0; i < 10; i++ {
		history = append(history, model.PricePoint{Date: day.AddDate(0, 0, i), Graded: nd(120)})
	}

	store := &fakeStore{history: history}
	in := newTestIngestor(store, gw, &fakeLimiter{}, []provider.PriceFetcher{pc}, nil)

	report, err := in.IngestCard(context.Background(), testCard, NewBudget(0))
	require.NoError(t, err)
	assert.Equal(t, model.MethodObserved, report.Estimation.Method)
	assert.Equal(t, model.ConfidenceHigh, report.Estimation.Confidence)
	assert.Equal(t, 10, report.Estimation.SampleSize)
	assert.True(t, report.Estimation.Value.Decimal.Equal(decimal.NewFromInt(120)))
}
