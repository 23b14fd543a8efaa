package services

import (
	"math"

	"github.com/aawaaz/civic-pipeline/internal/models"
)

const (
	severityWeight       = 0.4
	hazardBonus          = 3.0
	populationDivisor    = 500.0
	populationCap        = 2.0
	densityDivisor       = 10.0
	densityCap           = 1.0
	maxIndicatorsCounted = 3
)

// PriorityInputs are the factors of the priority formula
type PriorityInputs struct {
	Severity           float64 // [0,10]
	Hazard             bool
	AffectedPopulation int
	Density            int // same-category complaints nearby over the trailing window
}

// ScorePriority computes
// clamp(round(severity*0.4 + hazard + min(pop/500, 2) + min(density/10, 1)), 1, 10).
// It is pure and monotonic in every input.
func ScorePriority(in PriorityInputs) int {
	severity := math.Max(0, math.Min(in.Severity, 10))
	score := severity * severityWeight
	if in.Hazard {
		score += hazardBonus
	}
	score += math.Min(math.Max(float64(in.AffectedPopulation), 0)/populationDivisor, populationCap)
	score += math.Min(math.Max(float64(in.Density), 0)/densityDivisor, densityCap)

	p := int(math.Round(score))
	if p < 1 {
		return 1
	}
	if p > 10 {
		return 10
	}
	return p
}

// SeverityOf derives severity from a classification:
// (suggestedPriority + min(indicators, 3)) * confidence, clamped to [0,10].
func SeverityOf(r models.ClassificationResult) float64 {
	suggested := r.SuggestedPriority
	if suggested < 1 || suggested > 10 {
		suggested = defaultSuggestedPriority
	}
	indicators := len(r.Entities.SeverityIndicators)
	if indicators > maxIndicatorsCounted {
		indicators = maxIndicatorsCounted
	}
	s := float64(suggested+indicators) * clampUnit(r.Confidence)
	return math.Max(0, math.Min(s, 10))
}

// PriorityInputsFor assembles the scorer inputs for a classification
func PriorityInputsFor(r models.ClassificationResult, density int) PriorityInputs {
	return PriorityInputs{
		Severity:           SeverityOf(r),
		Hazard:             r.SafetyHazard,
		AffectedPopulation: r.AffectedPopulation,
		Density:            density,
	}
}
