package services

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/aawaaz/civic-pipeline/internal/collaborators"
	"github.com/aawaaz/civic-pipeline/internal/models"
	"github.com/tidwall/gjson"
)

// Modality weights for the aggregated confidence. Renormalized over the
// modalities actually present.
const (
	weightClassification = 0.6
	weightTranscription  = 0.25
	weightImages         = 0.15

	defaultSuggestedPriority = 5
	minAlternativeConfidence = 0.3
	noObjectImageConfidence  = 0.5
	summaryMaxRunes          = 160
)

// Source labels recorded on a ClassificationResult
const (
	SourceClassifier      = "classifier"
	SourceKeywordFallback = "keyword_fallback"
	SourceDescription     = "description"
	SourceTranscription   = "transcription"
	SourceImages          = "images"
)

var hazardKeywords = []string{
	"fire", "live wire", "electrocution", "gas leak", "collapse",
	"sinkhole", "flood", "exposed wiring", "short circuit", "open manhole",
}

// Signals is everything the collaborators produced for one complaint.
// Any member may be empty when its collaborator failed or was not needed.
type Signals struct {
	Description    string
	Transcription  *collaborators.Transcription
	Images         []collaborators.ImageAnalysis
	Classification *collaborators.RawClassification
}

// Normalizer turns untrusted multimodal collaborator output into one
// ClassificationResult within the enumerated category set.
type Normalizer struct {
	threshold float64
}

// NewNormalizer creates a normalizer flagging results below threshold for manual review
func NewNormalizer(threshold float64) *Normalizer {
	return &Normalizer{threshold: threshold}
}

// Normalize combines the signals. It fails with ErrClassificationUnavailable
// only when every modality is empty or unusable.
func (n *Normalizer) Normalize(sig Signals) (models.ClassificationResult, error) {
	description := strings.TrimSpace(sig.Description)
	transcript := ""
	if sig.Transcription != nil {
		transcript = strings.TrimSpace(sig.Transcription.Text)
	}
	imageText := imageCorpus(sig.Images)

	result := models.ClassificationResult{
		Entities: models.ExtractedEntities{
			Locations:              []string{},
			SeverityIndicators:     []string{},
			AffectedInfrastructure: []string{},
		},
		SuggestedPriority: defaultSuggestedPriority,
		Sources:           []string{},
	}

	var (
		weightSum float64
		weighted  float64
	)

	parsed, ok := parseClassification(sig.Classification)
	if ok {
		result.Category = parsed.category
		result.Subcategory = parsed.subcategory
		result.Confidence = parsed.confidence
		result.Summary = parsed.summary
		result.Entities = parsed.entities
		result.SuggestedPriority = parsed.suggestedPriority
		result.AffectedPopulation = parsed.affectedPopulation
		result.Alternatives = parsed.alternatives
		result.Sources = append(result.Sources, SourceClassifier)
	} else {
		corpus := strings.Join(nonEmpty(description, transcript, imageText), " ")
		if corpus == "" {
			return models.ClassificationResult{}, fmt.Errorf("%w: no usable input in any modality", models.ErrClassificationUnavailable)
		}
		result.Category, result.Confidence = keywordClassify(corpus)
		result.Sources = append(result.Sources, SourceKeywordFallback)
	}
	weighted += weightClassification * result.Confidence
	weightSum += weightClassification

	if description != "" {
		result.Sources = append(result.Sources, SourceDescription)
	}
	if transcript != "" {
		weighted += weightTranscription * clampUnit(sig.Transcription.Confidence)
		weightSum += weightTranscription
		result.Sources = append(result.Sources, SourceTranscription)
	}
	if len(sig.Images) > 0 {
		weighted += weightImages * imageConfidence(sig.Images)
		weightSum += weightImages
		result.Sources = append(result.Sources, SourceImages)
	}
	result.Confidence = round4(weighted / weightSum)

	if result.Summary == "" {
		result.Summary = truncateRunes(firstNonEmpty(description, transcript, imageText), summaryMaxRunes)
	}

	result.Entities.SeverityIndicators = appendUnique(result.Entities.SeverityIndicators, safetyIndicators(sig.Images)...)
	result.SafetyHazard = hasUnsafeImage(sig.Images) ||
		containsHazard(result.Entities.SeverityIndicators) ||
		containsHazard(result.Entities.AffectedInfrastructure)

	result.NeedsManualReview = result.Confidence < n.threshold
	return result, nil
}

type parsedClassification struct {
	category           models.Category
	subcategory        string
	confidence         float64
	summary            string
	entities           models.ExtractedEntities
	suggestedPriority  int
	affectedPopulation int
	alternatives       []models.CategoryScore
}

// parseClassification reads the classifier reply with gjson so that partial or
// wrapped JSON still yields whatever fields are present.
func parseClassification(raw *collaborators.RawClassification) (parsedClassification, bool) {
	if raw == nil {
		return parsedClassification{}, false
	}
	body := extractJSONObject(raw.Raw)
	if body == "" || !gjson.Valid(body) {
		return parsedClassification{}, false
	}
	doc := gjson.Parse(body)
	cat := doc.Get("category")
	if !cat.Exists() || strings.TrimSpace(cat.String()) == "" {
		return parsedClassification{}, false
	}

	p := parsedClassification{
		category:    models.ParseCategory(cat.String()),
		subcategory: strings.TrimSpace(doc.Get("subcategory").String()),
		confidence:  clampUnit(doc.Get("confidence").Float()),
		summary:     strings.TrimSpace(doc.Get("summary").String()),
		entities: models.ExtractedEntities{
			Locations:              stringSet(firstExisting(doc, "entities.locations", "extracted_entities.locations")),
			SeverityIndicators:     stringSet(firstExisting(doc, "entities.severity_indicators", "extracted_entities.severity_indicators")),
			AffectedInfrastructure: stringSet(firstExisting(doc, "entities.affected_infrastructure", "extracted_entities.affected_infrastructure")),
		},
		suggestedPriority: defaultSuggestedPriority,
	}

	if sp := doc.Get("suggested_priority"); sp.Exists() {
		if v := int(sp.Int()); v >= 1 && v <= 10 {
			p.suggestedPriority = v
		}
	}
	if pop := doc.Get("affected_population").Int(); pop > 0 {
		p.affectedPopulation = int(pop)
	}

	scores := []models.CategoryScore{{Category: p.category, Confidence: p.confidence}}
	doc.Get("alternatives").ForEach(func(_, alt gjson.Result) bool {
		c := alt.Get("category")
		if !c.Exists() {
			return true
		}
		scores = append(scores, models.CategoryScore{
			Category:   models.ParseCategory(c.String()),
			Confidence: clampUnit(alt.Get("confidence").Float()),
		})
		return true
	})
	primary, alternatives := rankCategories(scores)
	p.category = primary.Category
	p.confidence = primary.Confidence
	p.alternatives = alternatives
	return p, true
}

// rankCategories keeps the best score per category and orders them by
// confidence, breaking ties by enumeration order. The head is the primary.
func rankCategories(scores []models.CategoryScore) (models.CategoryScore, []models.CategoryScore) {
	best := make(map[models.Category]float64, len(scores))
	for _, s := range scores {
		if cur, ok := best[s.Category]; !ok || s.Confidence > cur {
			best[s.Category] = s.Confidence
		}
	}
	ranked := make([]models.CategoryScore, 0, len(best))
	for c, conf := range best {
		ranked = append(ranked, models.CategoryScore{Category: c, Confidence: conf})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Confidence != ranked[j].Confidence {
			return ranked[i].Confidence > ranked[j].Confidence
		}
		return ranked[i].Category.Rank() < ranked[j].Category.Rank()
	})

	var alternatives []models.CategoryScore
	for _, s := range ranked[1:] {
		if s.Confidence >= minAlternativeConfidence {
			alternatives = append(alternatives, s)
		}
	}
	return ranked[0], alternatives
}

func firstExisting(doc gjson.Result, paths ...string) gjson.Result {
	for _, p := range paths {
		if r := doc.Get(p); r.Exists() {
			return r
		}
	}
	return gjson.Result{}
}

// stringSet returns the trimmed, deduplicated string members of an array result
func stringSet(r gjson.Result) []string {
	out := []string{}
	if !r.IsArray() {
		return out
	}
	r.ForEach(func(_, v gjson.Result) bool {
		if v.Type == gjson.String {
			out = appendUnique(out, strings.TrimSpace(v.String()))
		}
		return true
	})
	return out
}

// extractJSONObject strips code fences or chatter around the outermost object
func extractJSONObject(raw string) string {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end <= start {
		return ""
	}
	return raw[start : end+1]
}

// imageConfidence is the mean over images of the best object confidence
func imageConfidence(images []collaborators.ImageAnalysis) float64 {
	var sum float64
	for _, img := range images {
		best := -1.0
		for _, obj := range img.DetectedObjects {
			if c := clampUnit(obj.Confidence); c > best {
				best = c
			}
		}
		if best < 0 {
			best = noObjectImageConfidence
		}
		sum += best
	}
	return sum / float64(len(images))
}

func imageCorpus(images []collaborators.ImageAnalysis) string {
	var parts []string
	for _, img := range images {
		for _, obj := range img.DetectedObjects {
			parts = append(parts, obj.Label)
		}
		parts = append(parts, img.SceneLabels...)
		if t := strings.TrimSpace(img.ExtractedText); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

func hasUnsafeImage(images []collaborators.ImageAnalysis) bool {
	for _, img := range images {
		if !img.SafetyFlags.IsSafe {
			return true
		}
	}
	return false
}

func safetyIndicators(images []collaborators.ImageAnalysis) []string {
	var out []string
	for _, img := range images {
		if img.SafetyFlags.IsSafe {
			continue
		}
		out = appendUnique(out, "unsafe_content")
		for _, c := range img.SafetyFlags.Categories {
			if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
				out = appendUnique(out, "unsafe:"+c)
			}
		}
	}
	return out
}

func containsHazard(values []string) bool {
	for _, v := range values {
		lv := strings.ToLower(v)
		for _, kw := range hazardKeywords {
			if strings.Contains(lv, kw) {
				return true
			}
		}
	}
	return false
}

func appendUnique(dst []string, values ...string) []string {
	for _, v := range values {
		if v == "" {
			continue
		}
		dup := false
		for _, d := range dst {
			if d == v {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, v)
		}
	}
	return dst
}

func nonEmpty(values ...string) []string {
	var out []string
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
