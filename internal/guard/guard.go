// Package guard holds the quality guardrails applied to provider data and
// reconciliation output. Everything here is pure and advisory: callers
// decide whether a flagged value is rejected or merely reported.
package guard

import "math"

const (
	// Plausible bounds for a graded/raw price ratio. A graded copy selling
	// under 1.2x raw, or over 15x, almost always means a bad data point.
	minPlausibleRatio = 1.2
	maxPlausibleRatio = 15.0

	maxPlausiblePrice      = 100000.0
	maxPlausiblePopulation = 1000000.0
)

// SuspiciousRatio reports whether a raw/graded price pair has an implausible
// ratio. Missing or non-positive values cannot be assessed and return false.
func SuspiciousRatio(raw, graded float64) bool {
	if !isFinite(raw) || !isFinite(graded) || raw <= 0 || graded <= 0 {
		return false
	}
	ratio := graded / raw
	return ratio < minPlausibleRatio || ratio > maxPlausibleRatio
}

// ValidPrice reports whether x is a sane market price in major units.
func ValidPrice(x float64) bool {
	return isFinite(x) && x > 0 && x < maxPlausiblePrice
}

// ValidPopulation reports whether x is a sane grading population count.
func ValidPopulation(x float64) bool {
	return isFinite(x) && x >= 0 && x < maxPlausiblePopulation
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

// CardData is the slice of a card's data subject to validation. Optional
// fields are pointers; nil fields are skipped, not flagged.
type CardData struct {
	RawPrice    *float64
	GradedPrice *float64
	Population  *float64
}

// Report aggregates named validation issues for one card.
type Report struct {
	Valid  bool     `json:"valid"`
	Issues []string `json:"issues,omitempty"`
}

// ValidateCardData runs every applicable check and collects named issues.
func ValidateCardData(d CardData) Report {
	var issues []string
	if d.RawPrice != nil && !ValidPrice(*d.RawPrice) {
		issues = append(issues, "Invalid raw price")
	}
	if d.GradedPrice != nil && !ValidPrice(*d.GradedPrice) {
		issues = append(issues, "Invalid graded price")
	}
	if d.Population != nil && !ValidPopulation(*d.Population) {
		issues = append(issues, "Invalid population")
	}
	if d.RawPrice != nil && d.GradedPrice != nil && SuspiciousRatio(*d.RawPrice, *d.GradedPrice) {
		issues = append(issues, "Suspicious price ratio")
	}
	return Report{Valid: len(issues) == 0, Issues: issues}
}
