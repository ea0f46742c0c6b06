// Package reconcile turns whatever provider data is available into a
// single canonical graded-price estimate with an explicit confidence
// grade. Missing data never produces an error, only lower confidence.
package reconcile

import (
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/cardgate/cardgate/internal/config"
	"github.com/cardgate/cardgate/internal/model"
	"github.com/cardgate/cardgate/internal/pkg/logger"
	"github.com/cardgate/cardgate/internal/pkg/metrics"
)

const (
	// Observed tier: most recent window of qualifying graded sales.
	observedWindow        = 30
	minObservedPoints     = 3
	highConfidencePoints  = 8
	minPeerRatios         = 3

	// Population thresholds for gem-rate confidence, over all grades.
	popHighConfidence   = 500
	popMediumConfidence = 100
	popLowConfidence    = 10
)

type Engine struct {
	globalRatio   decimal.Decimal
	segmentRatios map[string]decimal.Decimal
	threeGrade    bool
	log           *slog.Logger
}

func NewEngine(cfg config.ReconcileConfig) *Engine {
	ratio := decimal.NewFromFloat(cfg.GlobalRatio)
	if !ratio.IsPositive() {
		ratio = decimal.NewFromFloat(4.5)
	}
	segments := make(map[string]decimal.Decimal, len(cfg.SegmentRatios))
	for seg, r := range cfg.SegmentRatios {
		if r > 0 {
			segments[seg] = decimal.NewFromFloat(r)
		}
	}
	return &Engine{
		globalRatio:   ratio,
		segmentRatios: segments,
		threeGrade:    cfg.ThreeGrade,
		log:           logger.Component("reconcile"),
	}
}

// EstimateGradedPrice runs the strict waterfall: observed sales, then the
// peer set-ratio, then the global-ratio fallback. A satisfied higher tier
// always wins. Segment selects a per-segment fallback ratio; empty means
// the global default.
func (e *Engine) EstimateGradedPrice(segment string, market *model.MarketPrice, history model.PriceHistory, peers []model.PeerPrice) model.Estimation {
	est := e.estimate(segment, market, history, peers)
	metrics.EstimatesTotal.WithLabelValues(string(est.Method), string(est.Confidence)).Inc()
	return est
}

func (e *Engine) estimate(segment string, market *model.MarketPrice, history model.PriceHistory, peers []model.PeerPrice) model.Estimation {
	// Tier 1: observed graded sales.
	observed := recentGraded(history, observedWindow)
	if len(observed) >= minObservedPoints {
		conf := model.ConfidenceMedium
		if len(observed) >= highConfidencePoints {
			conf = model.ConfidenceHigh
		}
		return model.Estimation{
			Value:      nullDecimal(median(observed).Round(2)),
			Method:     model.MethodObserved,
			Confidence: conf,
			SampleSize: len(observed),
		}
	}

	raw, haveRaw := positive(marketRaw(market))

	// Tier 2: peer set-ratio.
	if haveRaw {
		ratios := peerRatios(peers)
		if len(ratios) >= minPeerRatios {
			ratio := median(ratios)
			rf, _ := ratio.Float64()
			return model.Estimation{
				Value:      nullDecimal(raw.Mul(ratio).Round(2)),
				Method:     model.MethodSetRatio,
				Confidence: model.ConfidenceMedium,
				SampleSize: len(ratios),
				RatioUsed:  &rf,
			}
		}
	}

	// Tier 3: global-ratio fallback.
	if haveRaw {
		ratio := e.ratioFor(segment)
		rf, _ := ratio.Float64()
		return model.Estimation{
			Value:      nullDecimal(raw.Mul(ratio).Round(2)),
			Method:     model.MethodGlobalRatio,
			Confidence: model.ConfidenceLow,
			RatioUsed:  &rf,
		}
	}

	return model.Estimation{Method: model.MethodUnknown, Confidence: model.ConfidenceNone}
}

// ComputeGemRate estimates the probability of a raw submission achieving
// the top grade. Confidence is derived from the total recorded population
// across all grades, not the ratio's denominator.
func (e *Engine) ComputeGemRate(pop *model.PopulationSnapshot) model.GemRate {
	if pop == nil {
		return model.GemRate{Basis: model.BasisUnknown, Confidence: model.ConfidenceNone}
	}

	basis := model.BasisGradePair
	denom := pop.GradeTop + pop.GradeNext
	if e.threeGrade {
		basis = model.BasisThreeGrade
		denom += pop.GradeThird
	}
	if denom <= 0 {
		return model.GemRate{Basis: model.BasisUnknown, Confidence: model.ConfidenceNone}
	}

	value := float64(pop.GradeTop) / float64(denom)
	var conf model.Confidence
	switch {
	case pop.Total >= popHighConfidence:
		conf = model.ConfidenceHigh
	case pop.Total >= popMediumConfidence:
		conf = model.ConfidenceMedium
	case pop.Total >= popLowConfidence:
		conf = model.ConfidenceLow
	default:
		conf = model.ConfidenceNone
	}
	return model.GemRate{Value: &value, Basis: basis, Confidence: conf}
}

// RoiInput carries the four inputs of an ROI projection. All must be
// present and positive or the result is entirely null.
type RoiInput struct {
	Raw            decimal.NullDecimal
	GradingFee     decimal.NullDecimal
	GradedEstimate decimal.NullDecimal
	GemRate        *float64
}

func (e *Engine) EstimateRoi(in RoiInput) model.RoiEstimate {
	raw, okRaw := positive(in.Raw)
	fee, okFee := positive(in.GradingFee)
	est, okEst := positive(in.GradedEstimate)
	if !okRaw || !okFee || !okEst || in.GemRate == nil || *in.GemRate <= 0 {
		return model.RoiEstimate{}
	}

	expected := est.Mul(decimal.NewFromFloat(*in.GemRate))
	totalCost := raw.Add(fee)
	gross := expected.Sub(raw)
	net := expected.Sub(totalCost)
	roiPct, _ := net.Div(totalCost).Float64()

	return model.RoiEstimate{
		Gross:  nullDecimal(gross.Round(2)),
		Net:    nullDecimal(net.Round(2)),
		RoiPct: &roiPct,
	}
}

func (e *Engine) ratioFor(segment string) decimal.Decimal {
	if r, ok := e.segmentRatios[segment]; ok {
		return r
	}
	return e.globalRatio
}

// recentGraded returns the graded prices of the most recent qualifying
// points, newest window first. History is ordered oldest-first.
func recentGraded(history model.PriceHistory, window int) []decimal.Decimal {
	var out []decimal.Decimal
	for i := len(history) - 1; i >= 0 && len(out) < window; i-- {
		if v, ok := positive(history[i].Graded); ok {
			out = append(out, v)
		}
	}
	return out
}

func peerRatios(peers []model.PeerPrice) []decimal.Decimal {
	var ratios []decimal.Decimal
	for _, p := range peers {
		raw, okRaw := positive(p.Raw)
		graded, okGraded := positive(p.Graded)
		if okRaw && okGraded {
			ratios = append(ratios, graded.Div(raw))
		}
	}
	return ratios
}

func marketRaw(market *model.MarketPrice) decimal.NullDecimal {
	if market == nil {
		return decimal.NullDecimal{}
	}
	return market.Raw
}

func positive(v decimal.NullDecimal) (decimal.Decimal, bool) {
	if !v.Valid || !v.Decimal.IsPositive() {
		return decimal.Decimal{}, false
	}
	return v.Decimal, true
}

func median(vals []decimal.Decimal) decimal.Decimal {
	sorted := make([]decimal.Decimal, len(vals))
	copy(sorted, vals)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return sorted[mid-1].Add(sorted[mid]).Div(decimal.NewFromInt(2))
	}
	return sorted[mid]
}

func nullDecimal(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d, Valid: true}
}
