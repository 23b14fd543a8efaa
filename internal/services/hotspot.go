package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aawaaz/civic-pipeline/internal/events"
	"github.com/aawaaz/civic-pipeline/internal/geo"
	"github.com/aawaaz/civic-pipeline/internal/models"
	"github.com/aawaaz/civic-pipeline/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// HotspotSettings tunes detection
type HotspotSettings struct {
	RadiusMeters float64
	Threshold    int
	Window       time.Duration
	TrendDelta   int
}

// DefaultHotspotSettings returns a 1 km radius, 5 complaints and a 30 day window
func DefaultHotspotSettings() HotspotSettings {
	return HotspotSettings{
		RadiusMeters: 1000,
		Threshold:    5,
		Window:       30 * 24 * time.Hour,
		TrendDelta:   2,
	}
}

// HotspotRun summarizes one detection pass
type HotspotRun struct {
	RanAt      time.Time         `json:"ran_at"`
	Considered int               `json:"considered"`
	Created    int               `json:"created"`
	Updated    int               `json:"updated"`
	Resolved   int               `json:"resolved"`
	Active     int               `json:"active"`
	Hotspots   []*models.Hotspot `json:"hotspots"`
}

// RunObserver receives run outcomes, normally the metrics collector
type RunObserver interface {
	HotspotRun(err error, active int)
}

// HotspotDetector clusters recent complaints per category and maintains the
// hotspot collection. It only reads complaints, apart from the weak
// back-reference it writes on members.
type HotspotDetector struct {
	complaints store.ComplaintStore
	hotspots   store.HotspotStore
	registry   DepartmentSource
	emitter    events.Emitter
	observer   RunObserver
	settings   HotspotSettings
	logger     *zap.SugaredLogger

	running sync.Mutex
	index   atomic.Pointer[densityIndex]
}

// NewHotspotDetector creates a new hotspot detector
func NewHotspotDetector(complaints store.ComplaintStore, hotspots store.HotspotStore, registry DepartmentSource, emitter events.Emitter, observer RunObserver, settings HotspotSettings, logger *zap.SugaredLogger) *HotspotDetector {
	d := &HotspotDetector{
		complaints: complaints,
		hotspots:   hotspots,
		registry:   registry,
		emitter:    emitter,
		observer:   observer,
		settings:   settings,
		logger:     logger,
	}
	d.index.Store(newDensityIndex(settings.RadiusMeters, nil))
	return d
}

// DensityAt counts same-category complaints within the radius of p as of the last run
func (d *HotspotDetector) DensityAt(category models.Category, p models.GeoPoint) int {
	return d.index.Load().count(category, p)
}

// Run performs one detection pass over the window ending at now. Concurrent
// calls fail fast with ErrAlreadyProcessing.
func (d *HotspotDetector) Run(ctx context.Context, now time.Time) (*HotspotRun, error) {
	if !d.running.TryLock() {
		return nil, fmt.Errorf("%w: hotspot detection", models.ErrAlreadyProcessing)
	}
	defer d.running.Unlock()

	run, err := d.run(ctx, now.UTC())
	if d.observer != nil {
		active := 0
		if run != nil {
			active = run.Active
		}
		d.observer.HotspotRun(err, active)
	}
	return run, err
}

type cluster struct {
	category models.Category
	centroid geo.Centroid
	members  []*models.Complaint
}

func (c *cluster) center() models.GeoPoint { return c.centroid.Point() }

func (d *HotspotDetector) run(ctx context.Context, now time.Time) (*HotspotRun, error) {
	windowStart := now.Add(-d.settings.Window)
	previousStart := windowStart.Add(-d.settings.Window)

	snapshot, err := d.complaints.ComplaintsSince(ctx, previousStart)
	if err != nil {
		return nil, fmt.Errorf("load complaint snapshot: %w", err)
	}

	current := make(map[models.Category][]*models.Complaint)
	previous := make(map[models.Category][]models.GeoPoint)
	var currentAll []*models.Complaint
	for _, c := range snapshot {
		if c.Classification == nil || c.SubmittedAt.After(now) {
			continue
		}
		cat := c.Classification.Category
		if c.SubmittedAt.Before(windowStart) {
			previous[cat] = append(previous[cat], c.Location)
			continue
		}
		current[cat] = append(current[cat], c)
		currentAll = append(currentAll, c)
	}

	existing, err := d.hotspots.ListHotspots(ctx, models.HotspotFilter{})
	if err != nil {
		return nil, fmt.Errorf("load hotspots: %w", err)
	}
	open := make(map[models.Category][]*models.Hotspot)
	for _, h := range existing {
		if h.Status != models.HotspotResolved {
			open[h.Category] = append(open[h.Category], h)
		}
	}

	run := &HotspotRun{RanAt: now, Considered: len(currentAll)}
	var (
		changed []*models.Hotspot
		matched = make(map[string]bool)
	)

	for _, cat := range models.Categories {
		for _, cl := range d.clusterCategory(current[cat]) {
			if len(cl.members) < d.settings.Threshold {
				continue
			}
			h := nearestOpen(open[cat], matched, cl.center(), d.settings.RadiusMeters)
			created := h == nil
			if created {
				h = &models.Hotspot{
					ID:           uuid.NewString(),
					Category:     cat,
					RadiusMeters: d.settings.RadiusMeters,
					ActivatedAt:  now,
				}
				run.Created++
			} else {
				matched[h.ID] = true
				run.Updated++
			}

			h.Center = cl.center()
			h.MemberIDs = memberIDs(cl.members)
			h.ComplaintCount = len(cl.members)
			h.PreviousCount = countWithin(previous[cat], h.Center, d.settings.RadiusMeters)
			h.WindowStart, h.WindowEnd = windowStart, now
			h.Trend = d.trend(h.ComplaintCount, h.PreviousCount)
			// A new cluster always activates; only a known hotspot that is
			// shrinking steps down to monitoring.
			h.Status = models.HotspotActive
			if !created && h.Trend == models.TrendDecreasing {
				h.Status = models.HotspotMonitoring
			}
			h.ResolvedAt = nil
			h.UpdatedAt = now
			changed = append(changed, h)
		}
	}

	var released []*models.Hotspot
	for _, cat := range models.Categories {
		for _, h := range open[cat] {
			if matched[h.ID] {
				continue
			}
			released = append(released, h.Clone())
			h.ComplaintCount = countWithin(pointsOf(current[cat]), h.Center, d.settings.RadiusMeters)
			h.PreviousCount = countWithin(previous[cat], h.Center, d.settings.RadiusMeters)
			h.Trend = d.trend(h.ComplaintCount, h.PreviousCount)
			h.MemberIDs = []string{}
			h.Status = models.HotspotResolved
			h.WindowStart, h.WindowEnd = windowStart, now
			resolved := now
			h.ResolvedAt = &resolved
			h.UpdatedAt = now
			changed = append(changed, h)
			run.Resolved++
		}
	}

	if len(changed) > 0 {
		if err := d.hotspots.SaveHotspots(ctx, changed); err != nil {
			return nil, fmt.Errorf("save hotspots: %w", err)
		}
	}

	d.linkMembers(ctx, changed, released, currentAll)
	d.index.Store(newDensityIndex(d.settings.RadiusMeters, currentAll))
	d.notify(ctx, changed, now)

	for _, h := range changed {
		if h.Status == models.HotspotActive {
			run.Active++
		}
		run.Hotspots = append(run.Hotspots, h.Clone())
	}

	d.logger.Infow("Hotspot detection complete",
		"considered", run.Considered,
		"created", run.Created,
		"updated", run.Updated,
		"resolved", run.Resolved,
	)
	return run, nil
}

// notify emits hotspot.activated for every active hotspot whose activation
// has not been accepted for delivery yet, then records the ones that were.
// A hotspot whose event was refused keeps a nil NotifiedAt and is retried on
// the next run.
func (d *HotspotDetector) notify(ctx context.Context, hotspots []*models.Hotspot, now time.Time) {
	snap := d.registry.Current()
	var notified []*models.Hotspot
	for _, h := range hotspots {
		if h.Status != models.HotspotActive || h.NotifiedAt != nil {
			continue
		}
		var departments []string
		if m, ok := snap.Lookup(h.Category); ok {
			departments = appendUnique([]string{m.PrimaryDepartment}, m.SecondaryDepartments...)
		}
		accepted := d.emitter.Emit(models.Event{
			Type:        models.EventHotspotActivated,
			HotspotID:   h.ID,
			Departments: departments,
			Hotspot:     h.Clone(),
			Notes:       fmt.Sprintf("%d %s complaints within %.0fm", h.ComplaintCount, h.Category, h.RadiusMeters),
			OccurredAt:  now,
		})
		if !accepted {
			d.logger.Warnw("Hotspot activation not delivered, will retry next run", "hotspot_id", h.ID)
			continue
		}
		at := now
		h.NotifiedAt = &at
		notified = append(notified, h)
	}

	if len(notified) == 0 {
		return
	}
	if err := d.hotspots.SaveHotspots(ctx, notified); err != nil {
		// The next run sees a nil NotifiedAt and notifies again
		d.logger.Errorw("Failed to record hotspot notification", "count", len(notified), "error", err)
	}
}

// clusterCategory performs single-pass radius clustering. Input is sorted by
// (geohash, submitted_at, id) first so the result does not depend on the order
// the store returned rows in.
func (d *HotspotDetector) clusterCategory(complaints []*models.Complaint) []*cluster {
	sorted := append([]*models.Complaint(nil), complaints...)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Location.Geohash != b.Location.Geohash {
			return a.Location.Geohash < b.Location.Geohash
		}
		if !a.SubmittedAt.Equal(b.SubmittedAt) {
			return a.SubmittedAt.Before(b.SubmittedAt)
		}
		return a.ID < b.ID
	})

	var clusters []*cluster
	for _, c := range sorted {
		var (
			best     *cluster
			bestDist float64
		)
		for _, cl := range clusters {
			dist := geo.Distance(cl.center(), c.Location)
			if dist <= d.settings.RadiusMeters && (best == nil || dist < bestDist) {
				best, bestDist = cl, dist
			}
		}
		if best == nil {
			best = &cluster{category: c.Classification.Category}
			clusters = append(clusters, best)
		}
		best.centroid.Add(c.Location)
		best.members = append(best.members, c)
	}

	sort.SliceStable(clusters, func(i, j int) bool {
		return len(clusters[i].members) > len(clusters[j].members)
	})
	return clusters
}

func (d *HotspotDetector) trend(current, previous int) models.Trend {
	switch {
	case current-previous >= d.settings.TrendDelta:
		return models.TrendIncreasing
	case current < previous:
		return models.TrendDecreasing
	default:
		return models.TrendStable
	}
}

// linkMembers writes the weak back-reference on members of live hotspots and
// clears it on members of hotspots that just resolved.
func (d *HotspotDetector) linkMembers(ctx context.Context, changed, released []*models.Hotspot, current []*models.Complaint) {
	refs := make(map[string]string, len(current))
	for _, c := range current {
		refs[c.ID] = c.HotspotID
	}

	set := func(complaintID, hotspotID string) {
		if err := d.complaints.SetHotspotRef(ctx, complaintID, hotspotID); err != nil {
			d.logger.Warnw("Failed to update hotspot reference",
				"complaint_id", complaintID,
				"hotspot_id", hotspotID,
				"error", err,
			)
		}
	}

	for _, h := range released {
		for _, id := range h.MemberIDs {
			if ref, ok := refs[id]; !ok || ref == h.ID {
				set(id, "")
			}
		}
	}
	for _, h := range changed {
		for _, id := range h.MemberIDs {
			if refs[id] != h.ID {
				set(id, h.ID)
			}
		}
	}
}

func nearestOpen(candidates []*models.Hotspot, taken map[string]bool, center models.GeoPoint, radius float64) *models.Hotspot {
	var (
		best     *models.Hotspot
		bestDist float64
	)
	for _, h := range candidates {
		if taken[h.ID] {
			continue
		}
		dist := geo.Distance(h.Center, center)
		if dist > radius {
			continue
		}
		if best == nil || dist < bestDist || (dist == bestDist && h.ID < best.ID) {
			best, bestDist = h, dist
		}
	}
	return best
}

func memberIDs(cs []*models.Complaint) []string {
	ids := make([]string, len(cs))
	for i, c := range cs {
		ids[i] = c.ID
	}
	sort.Strings(ids)
	return ids
}

func pointsOf(cs []*models.Complaint) []models.GeoPoint {
	out := make([]models.GeoPoint, len(cs))
	for i, c := range cs {
		out[i] = c.Location
	}
	return out
}

func countWithin(points []models.GeoPoint, center models.GeoPoint, radius float64) int {
	n := 0
	for _, p := range points {
		if geo.Within(p, center, radius) {
			n++
		}
	}
	return n
}

type densityKey struct {
	bucket   string
	category models.Category
}

// densityIndex is an immutable per-run lookup of recent complaint locations
// bucketed by coarse geohash cell.
type densityIndex struct {
	radius  float64
	buckets map[densityKey][]models.GeoPoint
}

func newDensityIndex(radius float64, complaints []*models.Complaint) *densityIndex {
	idx := &densityIndex{radius: radius, buckets: make(map[densityKey][]models.GeoPoint)}
	for _, c := range complaints {
		k := densityKey{geo.Bucket(c.Location), c.Classification.Category}
		idx.buckets[k] = append(idx.buckets[k], c.Location)
	}
	return idx
}

func (idx *densityIndex) count(category models.Category, p models.GeoPoint) int {
	n := 0
	for _, cell := range geo.BucketWithNeighbours(p) {
		n += countWithin(idx.buckets[densityKey{cell, category}], p, idx.radius)
	}
	return n
}
