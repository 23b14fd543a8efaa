package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aawaaz/civic-pipeline/internal/geo"
	"github.com/aawaaz/civic-pipeline/internal/models"
)

type deptStatusKey struct {
	department string
	status     models.Status
}

type bucketKey struct {
	bucket   string
	category models.Category
}

type idSet map[string]struct{}

// Memory is a process-local Store. Every read returns a clone so callers can
// never mutate stored state.
type Memory struct {
	mu          sync.RWMutex
	complaints  map[string]*models.Complaint
	byTracking  map[string]string
	byDept      map[deptStatusKey]idSet
	byBucket    map[bucketKey]idSet
	hotspots    map[string]*models.Hotspot
	deadLetters []*models.DeadLetter
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		complaints: make(map[string]*models.Complaint),
		byTracking: make(map[string]string),
		byDept:     make(map[deptStatusKey]idSet),
		byBucket:   make(map[bucketKey]idSet),
		hotspots:   make(map[string]*models.Hotspot),
	}
}

func (m *Memory) Name() string { return "memory" }

func (m *Memory) Ping(ctx context.Context) error { return ctx.Err() }

func (m *Memory) CreateComplaint(ctx context.Context, c *models.Complaint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.complaints[c.ID]; ok {
		return models.ValidationError("complaint_id", "already exists")
	}
	if _, ok := m.byTracking[c.TrackingNumber]; ok {
		return models.ErrDuplicateTrackingNumber
	}
	stored := c.Clone()
	stored.Version = 1
	c.Version = 1
	m.complaints[c.ID] = stored
	m.byTracking[c.TrackingNumber] = c.ID
	m.indexLocked(stored)
	return nil
}

func (m *Memory) GetComplaint(ctx context.Context, id string) (*models.Complaint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.complaints[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return c.Clone(), nil
}

func (m *Memory) GetByTrackingNumber(ctx context.Context, trackingNumber string) (*models.Complaint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byTracking[trackingNumber]
	if !ok {
		return nil, models.ErrNotFound
	}
	return m.complaints[id].Clone(), nil
}

func (m *Memory) UpdateComplaint(ctx context.Context, c *models.Complaint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.complaints[c.ID]
	if !ok {
		return models.ErrNotFound
	}
	if current.Version != c.Version {
		return models.ErrConflict
	}

	m.unindexLocked(current)
	stored := c.Clone()
	stored.HotspotID = current.HotspotID
	stored.TrackingNumber = current.TrackingNumber
	stored.Version = current.Version + 1
	m.complaints[c.ID] = stored
	m.indexLocked(stored)

	c.Version = stored.Version
	c.HotspotID = stored.HotspotID
	return nil
}

func (m *Memory) ListByDepartment(ctx context.Context, department string, f models.ComplaintFilter) ([]*models.Complaint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	if f.Status != "" {
		for id := range m.byDept[deptStatusKey{department, f.Status}] {
			ids = append(ids, id)
		}
	} else {
		for key, set := range m.byDept {
			if key.department != department {
				continue
			}
			for id := range set {
				ids = append(ids, id)
			}
		}
	}

	out := make([]*models.Complaint, 0, len(ids))
	for _, id := range ids {
		c := m.complaints[id]
		if f.Category != "" && (c.Classification == nil || c.Classification.Category != f.Category) {
			continue
		}
		out = append(out, c.Clone())
	}
	sortForTriage(out)
	if limit := limitOrDefault(f.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) ListByGeoPrefix(ctx context.Context, prefix string, category models.Category) ([]*models.Complaint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Complaint
	for key, set := range m.byBucket {
		if key.category != category {
			continue
		}
		// buckets are BucketPrecision long; longer prefixes narrow inside a bucket
		if !strings.HasPrefix(key.bucket, prefix) && !strings.HasPrefix(prefix, key.bucket) {
			continue
		}
		for id := range set {
			c := m.complaints[id]
			if strings.HasPrefix(c.Location.Geohash, prefix) {
				out = append(out, c.Clone())
			}
		}
	}
	sortBySubmission(out)
	return out, nil
}

func (m *Memory) ComplaintsSince(ctx context.Context, since time.Time) ([]*models.Complaint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Complaint
	for _, c := range m.complaints {
		if c.Classification == nil || c.SubmittedAt.Before(since) {
			continue
		}
		out = append(out, c.Clone())
	}
	sortBySubmission(out)
	return out, nil
}

func (m *Memory) SetHotspotRef(ctx context.Context, complaintID, hotspotID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.complaints[complaintID]
	if !ok {
		return models.ErrNotFound
	}
	c.HotspotID = hotspotID
	return nil
}

func (m *Memory) SaveHotspots(ctx context.Context, hotspots []*models.Hotspot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range hotspots {
		m.hotspots[h.ID] = h.Clone()
	}
	return nil
}

func (m *Memory) GetHotspot(ctx context.Context, id string) (*models.Hotspot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.hotspots[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return h.Clone(), nil
}

func (m *Memory) ListHotspots(ctx context.Context, f models.HotspotFilter) ([]*models.Hotspot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.Hotspot, 0, len(m.hotspots))
	for _, h := range m.hotspots {
		if f.Match(h) {
			out = append(out, h.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ComplaintCount != out[j].ComplaintCount {
			return out[i].ComplaintCount > out[j].ComplaintCount
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) PutDeadLetter(ctx context.Context, dl *models.DeadLetter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *dl
	m.deadLetters = append(m.deadLetters, &cp)
	return nil
}

func (m *Memory) ListDeadLetters(ctx context.Context, limit int) ([]*models.DeadLetter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit = limitOrDefault(limit)
	out := make([]*models.DeadLetter, 0, limit)
	for i := len(m.deadLetters) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *m.deadLetters[i]
		out = append(out, &cp)
	}
	return out, nil
}

func (m *Memory) indexLocked(c *models.Complaint) {
	if c.AssignedDepartment != "" {
		key := deptStatusKey{c.AssignedDepartment, c.Status}
		if m.byDept[key] == nil {
			m.byDept[key] = make(idSet)
		}
		m.byDept[key][c.ID] = struct{}{}
	}
	if c.Classification != nil {
		key := bucketKey{geo.Bucket(c.Location), c.Classification.Category}
		if m.byBucket[key] == nil {
			m.byBucket[key] = make(idSet)
		}
		m.byBucket[key][c.ID] = struct{}{}
	}
}

func (m *Memory) unindexLocked(c *models.Complaint) {
	if c.AssignedDepartment != "" {
		key := deptStatusKey{c.AssignedDepartment, c.Status}
		delete(m.byDept[key], c.ID)
		if len(m.byDept[key]) == 0 {
			delete(m.byDept, key)
		}
	}
	if c.Classification != nil {
		key := bucketKey{geo.Bucket(c.Location), c.Classification.Category}
		delete(m.byBucket[key], c.ID)
		if len(m.byBucket[key]) == 0 {
			delete(m.byBucket, key)
		}
	}
}

// sortForTriage orders by effective priority descending then oldest first
func sortForTriage(cs []*models.Complaint) {
	sort.Slice(cs, func(i, j int) bool {
		pi, pj := cs[i].EffectivePriority(), cs[j].EffectivePriority()
		if pi != pj {
			return pi > pj
		}
		if !cs[i].SubmittedAt.Equal(cs[j].SubmittedAt) {
			return cs[i].SubmittedAt.Before(cs[j].SubmittedAt)
		}
		return cs[i].ID < cs[j].ID
	})
}

func sortBySubmission(cs []*models.Complaint) {
	sort.Slice(cs, func(i, j int) bool {
		if !cs[i].SubmittedAt.Equal(cs[j].SubmittedAt) {
			return cs[i].SubmittedAt.Before(cs[j].SubmittedAt)
		}
		return cs[i].ID < cs[j].ID
	})
}
