package collaborators

import (
	"context"

	"github.com/cespare/xxhash/v2"
)

// ABClassifier splits traffic between two classifier variants.
// The split is sticky per complaint so a reprocess hits the same variant.
type ABClassifier struct {
	a, b     Classifier
	percentB int
}

// NewABClassifier sends percentB% of complaints to b, the rest to a
func NewABClassifier(a, b Classifier, percentB int) *ABClassifier {
	if percentB < 0 {
		percentB = 0
	}
	if percentB > 100 {
		percentB = 100
	}
	return &ABClassifier{a: a, b: b, percentB: percentB}
}

// Variant returns "A" or "B" for a complaint id
func (c *ABClassifier) Variant(complaintID string) string {
	if c.b == nil || int(xxhash.Sum64String(complaintID)%100) >= c.percentB {
		return "A"
	}
	return "B"
}

// Classify delegates to the variant chosen for the complaint
func (c *ABClassifier) Classify(ctx context.Context, req ClassificationRequest) (*RawClassification, error) {
	if c.Variant(req.ComplaintID) == "B" {
		return c.b.Classify(ctx, req)
	}
	return c.a.Classify(ctx, req)
}
