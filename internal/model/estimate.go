package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// EstimationMethod records which tier of the waterfall produced an estimate.
type EstimationMethod string

const (
	MethodObserved    EstimationMethod = "observed"
	MethodSetRatio    EstimationMethod = "set-ratio"
	MethodGlobalRatio EstimationMethod = "global-ratio"
	MethodManual      EstimationMethod = "manual"
	MethodUnknown     EstimationMethod = "unknown"
)

type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
	ConfidenceNone   Confidence = "none"
)

// Estimation is the canonical graded-price estimate for one card.
// Value is null when no tier could produce a number; absence of data is
// reported through Confidence, never as an error.
type Estimation struct {
	Value      decimal.NullDecimal `json:"value"`
	Method     EstimationMethod    `json:"method"`
	Confidence Confidence          `json:"confidence"`
	SampleSize int                 `json:"sample_size,omitempty"`
	RatioUsed  *float64            `json:"ratio_used,omitempty"`
}

// GemRateBasis records which denominator a gem rate was computed over.
type GemRateBasis string

const (
	BasisGradePair  GemRateBasis = "grade-pair"
	BasisThreeGrade GemRateBasis = "three-grade"
	BasisUnknown    GemRateBasis = "unknown"
)

// GemRate is the estimated probability that a raw submission achieves the
// top grade, with confidence derived from total recorded population.
type GemRate struct {
	Value      *float64     `json:"value"`
	Basis      GemRateBasis `json:"basis"`
	Confidence Confidence   `json:"confidence"`
}

// RoiEstimate is all-or-nothing: if any required input is missing or
// non-positive, all three fields are null.
type RoiEstimate struct {
	Gross  decimal.NullDecimal `json:"gross"`
	Net    decimal.NullDecimal `json:"net"`
	RoiPct *float64            `json:"roi_pct"`
}

// ValueSnapshot is the persisted per-card reconciliation output read by
// downstream consumers. One row per card per reconciliation run.
type ValueSnapshot struct {
	ID          uint            `json:"id" gorm:"primaryKey;autoIncrement"`
	SetID       string          `json:"set_id" gorm:"uniqueIndex:idx_snapshot_card_day;not null"`
	Number      string          `json:"number" gorm:"uniqueIndex:idx_snapshot_card_day;not null"`
	SnapshotDay time.Time       `json:"snapshot_day" gorm:"uniqueIndex:idx_snapshot_card_day;not null"`
	Estimate    decimal.Decimal `json:"estimate" gorm:"type:numeric(12,2)"`
	Method      string          `json:"method"`
	Confidence  string          `json:"confidence"`
	GemRate     float64         `json:"gem_rate"`
	NetRoi      decimal.Decimal `json:"net_roi" gorm:"type:numeric(12,2)"`
	Flagged     bool            `json:"flagged"`
	Issues      string          `json:"issues,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

func (ValueSnapshot) TableName() string { return "value_snapshots" }
