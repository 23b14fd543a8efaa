package models

import (
	"strings"
)

// Category is one of the fixed complaint categories
type Category string

const (
	CategoryPothole         Category = "POTHOLE"
	CategoryRoadDamage      Category = "ROAD_DAMAGE"
	CategoryStreetlight     Category = "STREETLIGHT"
	CategoryGarbage         Category = "GARBAGE"
	CategoryDrainage        Category = "DRAINAGE"
	CategoryWaterSupply     Category = "WATER_SUPPLY"
	CategoryWaterLeakage    Category = "WATER_LEAKAGE"
	CategorySewage          Category = "SEWAGE"
	CategoryElectricity     Category = "ELECTRICITY"
	CategoryTrafficSignal   Category = "TRAFFIC_SIGNAL"
	CategoryIllegalParking  Category = "ILLEGAL_PARKING"
	CategoryNoise           Category = "NOISE"
	CategoryAirPollution    Category = "AIR_POLLUTION"
	CategoryStrayAnimals    Category = "STRAY_ANIMALS"
	CategoryTreeFall        Category = "TREE_FALL"
	CategoryEncroachment    Category = "ENCROACHMENT"
	CategoryPublicToilet    Category = "PUBLIC_TOILET"
	CategoryParks           Category = "PARKS"
	CategoryBuildingSafety  Category = "BUILDING_SAFETY"
	CategoryFireHazard      Category = "FIRE_HAZARD"
	CategoryFlooding        Category = "FLOODING"
	CategoryPublicTransport Category = "PUBLIC_TRANSPORT"
	CategoryOther           Category = "OTHER"
)

// Categories lists every category in enumeration order.
// The order is the tie-break order for equal confidences.
var Categories = []Category{
	CategoryPothole,
	CategoryRoadDamage,
	CategoryStreetlight,
	CategoryGarbage,
	CategoryDrainage,
	CategoryWaterSupply,
	CategoryWaterLeakage,
	CategorySewage,
	CategoryElectricity,
	CategoryTrafficSignal,
	CategoryIllegalParking,
	CategoryNoise,
	CategoryAirPollution,
	CategoryStrayAnimals,
	CategoryTreeFall,
	CategoryEncroachment,
	CategoryPublicToilet,
	CategoryParks,
	CategoryBuildingSafety,
	CategoryFireHazard,
	CategoryFlooding,
	CategoryPublicTransport,
	CategoryOther,
}

var categoryRank = func() map[Category]int {
	m := make(map[Category]int, len(Categories))
	for i, c := range Categories {
		m[c] = i
	}
	return m
}()

// Valid reports whether c is a member of the enumerated set
func (c Category) Valid() bool {
	_, ok := categoryRank[c]
	return ok
}

// Rank returns the enumeration index of c, or len(Categories) for unknown values
func (c Category) Rank() int {
	if r, ok := categoryRank[c]; ok {
		return r
	}
	return len(Categories)
}

// ParseCategory coerces an upstream label into the enumerated set.
// Unknown labels become OTHER.
func ParseCategory(s string) Category {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	c := Category(s)
	if c.Valid() {
		return c
	}
	return CategoryOther
}

// CategoryScore pairs a category with the confidence it was assigned
type CategoryScore struct {
	Category   Category `json:"category"`
	Confidence float64  `json:"confidence"`
}

// ExtractedEntities holds the entity sets pulled out of the complaint.
// All three fields are always present, possibly empty.
type ExtractedEntities struct {
	Locations              []string `json:"locations"`
	SeverityIndicators     []string `json:"severity_indicators"`
	AffectedInfrastructure []string `json:"affected_infrastructure"`
}

// ClassificationResult is the normalized output of the multimodal collaborators
type ClassificationResult struct {
	Category           Category          `json:"category"`
	Subcategory        string            `json:"subcategory,omitempty"`
	Confidence         float64           `json:"confidence"`
	Summary            string            `json:"summary"`
	Entities           ExtractedEntities `json:"extracted_entities"`
	SuggestedPriority  int               `json:"suggested_priority"`
	Alternatives       []CategoryScore   `json:"alternatives,omitempty"`
	SafetyHazard       bool              `json:"safety_hazard"`
	AffectedPopulation int               `json:"affected_population"`
	NeedsManualReview  bool              `json:"needs_manual_review"`
	Sources            []string          `json:"sources"`
}

// Clone returns a deep copy of the result
func (r ClassificationResult) Clone() ClassificationResult {
	out := r
	out.Entities = ExtractedEntities{
		Locations:              append([]string{}, r.Entities.Locations...),
		SeverityIndicators:     append([]string{}, r.Entities.SeverityIndicators...),
		AffectedInfrastructure: append([]string{}, r.Entities.AffectedInfrastructure...),
	}
	out.Alternatives = append([]CategoryScore(nil), r.Alternatives...)
	out.Sources = append([]string(nil), r.Sources...)
	return out
}
