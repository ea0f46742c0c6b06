// Package service orchestrates ingestion: one worker pool over the
// tracked cards, every outbound call funneled through the reservoir
// limiter and the throttled cache gateway.
package service

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cardgate/cardgate/internal/config"
	"github.com/cardgate/cardgate/internal/gateway"
	"github.com/cardgate/cardgate/internal/guard"
	"github.com/cardgate/cardgate/internal/model"
	"github.com/cardgate/cardgate/internal/pkg/logger"
	"github.com/cardgate/cardgate/internal/pkg/metrics"
	"github.com/cardgate/cardgate/internal/provider"
	"github.com/cardgate/cardgate/internal/reconcile"
)

// Store is the slice of the repository the ingestor needs.
type Store interface {
	UpsertMarketPrice(ctx context.Context, mp *model.MarketPrice) error
	AppendPricePoint(ctx context.Context, card model.CardKey, p model.PricePoint) error
	PriceHistory(ctx context.Context, card model.CardKey, limit int) (model.PriceHistory, error)
	AppendPopulation(ctx context.Context, card model.CardKey, pop model.PopulationSnapshot) error
	LatestPopulation(ctx context.Context, card model.CardKey) (*model.PopulationSnapshot, error)
	Peers(ctx context.Context, setID, excludeNumber string) ([]model.PeerPrice, error)
	SaveSnapshot(ctx context.Context, snap *model.ValueSnapshot) error
	TrackedCards(ctx context.Context) ([]model.TrackedCard, error)
}

// Gateway abstracts the throttled cache gateway for tests.
type Gateway interface {
	Fetch(ctx context.Context, f provider.Fetcher, card model.CardKey) gateway.Result
}

// Limiter abstracts the reservoir limiter for tests.
type Limiter interface {
	Acquire(ctx context.Context) error
	Jitter() time.Duration
}

// Budget caps outbound gateway calls within one run. Spend is checked
// before a limiter token is acquired, so exhaustion never consumes one.
type Budget struct {
	maxCalls int64
	used     atomic.Int64
}

func NewBudget(maxCalls int) *Budget {
	return &Budget{maxCalls: int64(maxCalls)}
}

// Spend reserves one call. Returns false once the budget is exhausted;
// a zero ceiling means unlimited.
func (b *Budget) Spend() bool {
	if b == nil || b.maxCalls <= 0 {
		return true
	}
	return b.used.Add(1) <= b.maxCalls
}

func (b *Budget) Used() int64 {
	if b == nil {
		return 0
	}
	n := b.used.Load()
	if b.maxCalls > 0 && n > b.maxCalls {
		return b.maxCalls
	}
	return n
}

// CardReport is the full reconciliation output for one card.
type CardReport struct {
	Card       model.CardKey     `json:"card"`
	Estimation model.Estimation  `json:"estimation"`
	GemRate    model.GemRate     `json:"gem_rate"`
	Roi        model.RoiEstimate `json:"roi"`
	Guard      guard.Report      `json:"guard"`
}

type Ingestor struct {
	gw         Gateway
	limiter    Limiter
	store      Store
	engine     *reconcile.Engine
	prices     []provider.PriceFetcher
	population provider.PopulationFetcher
	gradingFee decimal.Decimal
	workers    int

	sleepFn func(ctx context.Context, d time.Duration) error
	log     *slog.Logger
}

func NewIngestor(cfg *config.Config, gw Gateway, limiter Limiter, store Store, engine *reconcile.Engine, prices []provider.PriceFetcher, population provider.PopulationFetcher) *Ingestor {
	workers := cfg.Ingest.Workers
	if workers <= 0 {
		workers = 4
	}
	return &Ingestor{
		gw:         gw,
		limiter:    limiter,
		store:      store,
		engine:     engine,
		prices:     prices,
		population: population,
		gradingFee: decimal.NewFromFloat(cfg.Reconcile.GradingFee),
		workers:    workers,
		sleepFn:    sleepCtx,
		log:        logger.Component("ingest"),
	}
}

// Run ingests every tracked card through the worker pool. Fetches across
// different cards are independent and may complete out of order.
func (in *Ingestor) Run(ctx context.Context, budget *Budget) error {
	runID := uuid.NewString()
	cards, err := in.store.TrackedCards(ctx)
	if err != nil {
		return err
	}
	in.log.Info("ingestion run started", "run_id", runID, "cards", len(cards))

	jobs := make(chan model.TrackedCard)
	var wg sync.WaitGroup
	for w := 0; w < in.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for card := range jobs {
				if ctx.Err() != nil {
					return
				}
				if _, err := in.IngestCard(ctx, card, budget); err != nil {
					logger.LogError(ctx, err, "card ingestion failed", "run_id", runID, "card", card.Key.String())
				}
			}
		}()
	}

	for _, card := range cards {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return ctx.Err()
		case jobs <- card:
		}
	}
	close(jobs)
	wg.Wait()

	in.log.Info("ingestion run finished", "run_id", runID, "calls_used", budget.Used())
	return nil
}

// IngestCard refreshes all sources for one card and reconciles the
// result. Provider failures degrade the data set, never abort the card.
func (in *Ingestor) IngestCard(ctx context.Context, card model.TrackedCard, budget *Budget) (*CardReport, error) {
	var current *model.MarketPrice
	var observedGraded decimal.NullDecimal

	for _, f := range in.prices {
		mp, ok := in.fetchPrice(ctx, f, card.Key, budget)
		if !ok {
			continue
		}
		if err := in.store.UpsertMarketPrice(ctx, mp); err != nil {
			logger.LogError(ctx, err, "market price upsert failed", "card", card.Key.String())
		}
		current = mergeCurrent(current, mp)
		if !observedGraded.Valid && mp.Graded.Valid {
			observedGraded = mp.Graded
		}
	}

	if current != nil {
		point := model.PricePoint{Date: time.Now().UTC(), Raw: current.Raw, Graded: observedGraded}
		if err := in.store.AppendPricePoint(ctx, card.Key, point); err != nil {
			logger.LogError(ctx, err, "price point append failed", "card", card.Key.String())
		}
	}

	in.refreshPopulation(ctx, card.Key, budget)

	return in.ReconcileCard(ctx, card, current)
}

// ReconcileCard produces the canonical estimate from stored history plus
// the current observation, runs the guardrails, and persists a snapshot.
func (in *Ingestor) ReconcileCard(ctx context.Context, card model.TrackedCard, current *model.MarketPrice) (*CardReport, error) {
	history, err := in.store.PriceHistory(ctx, card.Key, 100)
	if err != nil {
		return nil, err
	}
	peers, err := in.store.Peers(ctx, card.Key.SetID, card.Key.Number)
	if err != nil {
		return nil, err
	}
	pop, err := in.store.LatestPopulation(ctx, card.Key)
	if err != nil {
		return nil, err
	}

	est := in.engine.EstimateGradedPrice(card.Segment, current, history, peers)
	gem := in.engine.ComputeGemRate(pop)
	roi := in.engine.EstimateRoi(reconcile.RoiInput{
		Raw:            currentRaw(current),
		GradingFee:     decimal.NullDecimal{Decimal: in.gradingFee, Valid: true},
		GradedEstimate: est.Value,
		GemRate:        gem.Value,
	})

	report := &CardReport{
		Card:       card.Key,
		Estimation: est,
		GemRate:    gem,
		Roi:        roi,
		Guard:      in.runGuard(current, est, pop),
	}

	snap := snapshotFrom(card.Key, report)
	if err := in.store.SaveSnapshot(ctx, snap); err != nil {
		logger.LogError(ctx, err, "snapshot save failed", "card", card.Key.String())
	}
	return report, nil
}

func (in *Ingestor) fetchPrice(ctx context.Context, f provider.PriceFetcher, card model.CardKey, budget *Budget) (*model.MarketPrice, bool) {
	payload, ok := in.fetchGuarded(ctx, f, card, budget)
	if !ok {
		return nil, false
	}
	mp, err := f.Normalize(card, payload.Payload)
	if err != nil {
		logger.LogError(ctx, err, "payload normalization failed", "provider", string(f.Name()), "card", card.String())
		return nil, false
	}
	return mp, true
}

func (in *Ingestor) refreshPopulation(ctx context.Context, card model.CardKey, budget *Budget) {
	if in.population == nil {
		return
	}
	payload, ok := in.fetchGuarded(ctx, in.population, card, budget)
	if !ok {
		return
	}
	pop, err := in.population.Normalize(card, payload.Payload)
	if err != nil {
		logger.LogError(ctx, err, "population normalization failed", "card", card.String())
		return
	}
	if err := in.store.AppendPopulation(ctx, card, *pop); err != nil {
		logger.LogError(ctx, err, "population append failed", "card", card.String())
	}
}

// fetchGuarded is the single choke point: budget, then limiter token,
// then jitter, then the gateway. A budget miss consumes nothing.
func (in *Ingestor) fetchGuarded(ctx context.Context, f provider.Fetcher, card model.CardKey, budget *Budget) (gateway.Result, bool) {
	if !budget.Spend() {
		return gateway.Result{}, false
	}
	if err := in.limiter.Acquire(ctx); err != nil {
		return gateway.Result{}, false
	}
	if err := in.sleepFn(ctx, in.limiter.Jitter()); err != nil {
		return gateway.Result{}, false
	}
	res := in.gw.Fetch(ctx, f, card)
	if !res.OK || res.Payload == nil {
		return res, false
	}
	return res, true
}

func (in *Ingestor) runGuard(current *model.MarketPrice, est model.Estimation, pop *model.PopulationSnapshot) guard.Report {
	var data guard.CardData
	if raw, ok := floatOf(currentRaw(current)); ok {
		data.RawPrice = &raw
	}
	if graded, ok := floatOf(est.Value); ok {
		data.GradedPrice = &graded
	}
	if pop != nil {
		total := float64(pop.Total)
		data.Population = &total
	}
	report := guard.ValidateCardData(data)
	for _, issue := range report.Issues {
		metrics.GuardFlags.WithLabelValues(issue).Inc()
	}
	return report
}

func snapshotFrom(card model.CardKey, report *CardReport) *model.ValueSnapshot {
	snap := &model.ValueSnapshot{
		SetID:       card.SetID,
		Number:      card.Number,
		SnapshotDay: time.Now().UTC(),
		Method:      string(report.Estimation.Method),
		Confidence:  string(report.Estimation.Confidence),
		Flagged:     !report.Guard.Valid,
		Issues:      strings.Join(report.Guard.Issues, "; "),
	}
	if report.Estimation.Value.Valid {
		snap.Estimate = report.Estimation.Value.Decimal
	}
	if report.GemRate.Value != nil {
		snap.GemRate = *report.GemRate.Value
	}
	if report.Roi.Net.Valid {
		snap.NetRoi = report.Roi.Net.Decimal
	}
	return snap
}

// mergeCurrent keeps the most informative current observation: the first
// market price wins per field, later sources only fill gaps. A source in a
// different currency never fills — mixing units would mislabel the merge.
func mergeCurrent(current, next *model.MarketPrice) *model.MarketPrice {
	if current == nil {
		return next
	}
	if current.Currency != "" && next.Currency != "" && current.Currency != next.Currency {
		return current
	}
	if !current.Raw.Valid && next.Raw.Valid {
		current.Raw = next.Raw
	}
	if !current.Graded.Valid && next.Graded.Valid {
		current.Graded = next.Graded
	}
	if !current.Low.Valid && next.Low.Valid {
		current.Low = next.Low
	}
	if !current.High.Valid && next.High.Valid {
		current.High = next.High
	}
	return current
}

func currentRaw(current *model.MarketPrice) decimal.NullDecimal {
	if current == nil {
		return decimal.NullDecimal{}
	}
	return current.Raw
}

func floatOf(v decimal.NullDecimal) (float64, bool) {
	if !v.Valid {
		return 0, false
	}
	f, _ := v.Decimal.Float64()
	return f, true
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
