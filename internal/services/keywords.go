package services

import (
	"math"
	"strings"

	"github.com/aawaaz/civic-pipeline/internal/models"
)

const (
	keywordBaseConfidence = 0.5
	keywordHitBonus       = 0.1
	keywordMaxConfidence  = 0.75
	keywordMissConfidence = 0.2
)

// categoryKeywords drives the deterministic fallback used when the
// generative classifier is unavailable or returns garbage.
var categoryKeywords = map[models.Category][]string{
	models.CategoryPothole:         {"pothole", "potholes", "crater"},
	models.CategoryRoadDamage:      {"road damage", "broken road", "cracked road", "road cave", "asphalt", "road surface"},
	models.CategoryStreetlight:     {"streetlight", "street light", "lamp post", "light pole", "dark street"},
	models.CategoryGarbage:         {"garbage", "trash", "waste", "litter", "dump", "rubbish"},
	models.CategoryDrainage:        {"drain", "drainage", "clogged", "blocked drain", "gutter"},
	models.CategoryWaterSupply:     {"no water", "water supply", "water shortage", "tap dry", "low pressure"},
	models.CategoryWaterLeakage:    {"leak", "leakage", "pipe burst", "burst pipe", "water leaking"},
	models.CategorySewage:          {"sewage", "sewer", "manhole", "overflowing sewer"},
	models.CategoryElectricity:     {"power cut", "electricity", "transformer", "live wire", "exposed wiring", "short circuit", "outage"},
	models.CategoryTrafficSignal:   {"traffic signal", "traffic light", "signal not working"},
	models.CategoryIllegalParking:  {"illegal parking", "parked illegally", "blocking driveway", "double parked"},
	models.CategoryNoise:           {"noise", "loud", "loudspeaker", "honking"},
	models.CategoryAirPollution:    {"smoke", "air pollution", "burning", "dust", "fumes"},
	models.CategoryStrayAnimals:    {"stray", "dog bite", "stray dogs", "cattle"},
	models.CategoryTreeFall:        {"fallen tree", "tree fall", "tree fell", "branch fell", "uprooted"},
	models.CategoryEncroachment:    {"encroachment", "encroached", "illegal construction", "footpath blocked"},
	models.CategoryPublicToilet:    {"toilet", "urinal", "restroom"},
	models.CategoryParks:           {"park", "playground", "garden"},
	models.CategoryBuildingSafety:  {"building collapse", "unsafe building", "cracks in building", "dilapidated"},
	models.CategoryFireHazard:      {"fire", "gas leak", "smoke from", "flames"},
	models.CategoryFlooding:        {"flood", "flooding", "waterlogging", "waterlogged", "inundated"},
	models.CategoryPublicTransport: {"bus", "bus stop", "metro", "public transport"},
}

// keywordClassify picks the category with the most keyword hits in text.
// Equal hit counts resolve to the earliest category in enumeration order.
func keywordClassify(text string) (models.Category, float64) {
	lower := strings.ToLower(text)
	best, bestHits := models.CategoryOther, 0
	for _, cat := range models.Categories {
		hits := 0
		for _, kw := range categoryKeywords[cat] {
			if strings.Contains(lower, kw) {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = cat, hits
		}
	}
	if bestHits == 0 {
		return models.CategoryOther, keywordMissConfidence
	}
	return best, math.Min(keywordBaseConfidence+keywordHitBonus*float64(bestHits), keywordMaxConfidence)
}
