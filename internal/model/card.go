package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PriceSource identifies which external provider produced a price observation.
type PriceSource string

const (
	SourceEbay           PriceSource = "ebay"
	SourcePriceCharting  PriceSource = "pricecharting"
	SourcePokemonTCG     PriceSource = "ptcg"
	SourceCardmarket     PriceSource = "cardmarket"
	SourcePSA            PriceSource = "psa"
	SourceManual         PriceSource = "manual"
)

// CardKey is the immutable identity used for all cache, cooldown and
// rate-limit keying. (SetID, Number) is unique within a catalog language.
type CardKey struct {
	SetID  string `json:"set_id"`
	Number string `json:"number"`
	Name   string `json:"name,omitempty"`
}

func (k CardKey) String() string {
	return fmt.Sprintf("%s/%s", k.SetID, k.Number)
}

// TrackedCard is a card enrolled for ingestion. Segment buckets it for
// per-segment ratio tuning (e.g. "vintage"); empty means the default.
type TrackedCard struct {
	Key     CardKey `json:"key"`
	Segment string  `json:"segment,omitempty"`
}

// MarketPrice is a single normalized price observation from one provider.
// Immutable once constructed; optional fields use NullDecimal, major units.
type MarketPrice struct {
	Source    PriceSource         `json:"source"`
	Card      CardKey             `json:"card"`
	Timestamp time.Time           `json:"timestamp"`
	Currency  string              `json:"currency"`
	Raw       decimal.NullDecimal `json:"raw,omitempty"`
	Graded    decimal.NullDecimal `json:"graded,omitempty"`
	Low       decimal.NullDecimal `json:"low,omitempty"`
	High      decimal.NullDecimal `json:"high,omitempty"`
	Notes     string              `json:"notes,omitempty"`
}

// PricePoint is one entry of a card's append-only price time series.
type PricePoint struct {
	Date   time.Time           `json:"date"`
	Raw    decimal.NullDecimal `json:"raw,omitempty"`
	Graded decimal.NullDecimal `json:"graded,omitempty"`
}

// PriceHistory is ordered oldest-first by date.
type PriceHistory []PricePoint

// PopulationSnapshot is one entry of a card's grading population series.
// GradeTop is the top grade (PSA 10), GradeNext the grade below it,
// GradeThird the one below that. Total covers all recorded grades.
type PopulationSnapshot struct {
	Date       time.Time `json:"date"`
	GradeTop   int64     `json:"grade_top"`
	GradeNext  int64     `json:"grade_next"`
	GradeThird int64     `json:"grade_third"`
	Total      int64     `json:"total"`
}

// PopHistory is ordered oldest-first by date.
type PopHistory []PopulationSnapshot

// PeerPrice carries the raw/graded pair of a sibling card in the same set,
// used for the set-ratio estimation tier.
type PeerPrice struct {
	Card   CardKey             `json:"card"`
	Raw    decimal.NullDecimal `json:"raw"`
	Graded decimal.NullDecimal `json:"graded"`
}
