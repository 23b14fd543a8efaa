// Package store persists complaints, hotspots and dead letters.
// Two implementations share the same contract: Postgres for deployments and
// Memory for development and tests.
package store

import (
	"context"
	"time"

	"github.com/aawaaz/civic-pipeline/internal/models"
)

// DefaultListLimit caps listings when the caller gives no limit
const DefaultListLimit = 200

// ComplaintStore holds complaints keyed by id with secondary lookups by tracking
// number, by (department, status) and by (geohash prefix, category).
type ComplaintStore interface {
	// CreateComplaint inserts c. Fails with ErrDuplicateTrackingNumber on collision.
	CreateComplaint(ctx context.Context, c *models.Complaint) error
	GetComplaint(ctx context.Context, id string) (*models.Complaint, error)
	GetByTrackingNumber(ctx context.Context, trackingNumber string) (*models.Complaint, error)
	// UpdateComplaint replaces c when its Version matches the stored one and bumps
	// c.Version. The hotspot back-reference is never written through this call.
	UpdateComplaint(ctx context.Context, c *models.Complaint) error
	ListByDepartment(ctx context.Context, department string, f models.ComplaintFilter) ([]*models.Complaint, error)
	ListByGeoPrefix(ctx context.Context, prefix string, category models.Category) ([]*models.Complaint, error)
	// ComplaintsSince returns classified complaints submitted at or after since
	ComplaintsSince(ctx context.Context, since time.Time) ([]*models.Complaint, error)
	// SetHotspotRef writes the weak hotspot back-reference without touching Version
	SetHotspotRef(ctx context.Context, complaintID, hotspotID string) error
}

// HotspotStore holds hotspots keyed by id with a secondary lookup by category
type HotspotStore interface {
	SaveHotspots(ctx context.Context, hotspots []*models.Hotspot) error
	GetHotspot(ctx context.Context, id string) (*models.Hotspot, error)
	ListHotspots(ctx context.Context, f models.HotspotFilter) ([]*models.Hotspot, error)
}

// DeadLetterStore holds collaborator calls awaiting manual intervention
type DeadLetterStore interface {
	PutDeadLetter(ctx context.Context, dl *models.DeadLetter) error
	ListDeadLetters(ctx context.Context, limit int) ([]*models.DeadLetter, error)
}

// Store is the full persistence surface
type Store interface {
	ComplaintStore
	HotspotStore
	DeadLetterStore
	Ping(ctx context.Context) error
	Name() string
}

func limitOrDefault(n int) int {
	if n <= 0 || n > DefaultListLimit {
		return DefaultListLimit
	}
	return n
}
