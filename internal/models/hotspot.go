package models

import "time"

// Trend describes how a hotspot's membership moved against the previous window
type Trend string

const (
	TrendIncreasing Trend = "INCREASING"
	TrendStable     Trend = "STABLE"
	TrendDecreasing Trend = "DECREASING"
)

// HotspotStatus is the lifecycle state of a hotspot
type HotspotStatus string

const (
	HotspotActive     HotspotStatus = "ACTIVE"
	HotspotMonitoring HotspotStatus = "MONITORING"
	HotspotResolved   HotspotStatus = "RESOLVED"
)

// Hotspot is a geographic cluster of recurring complaints in one category
type Hotspot struct {
	ID             string        `json:"id" db:"id"`
	Center         GeoPoint      `json:"center" db:"center"`
	RadiusMeters   float64       `json:"radius_m" db:"radius_m"`
	Category       Category      `json:"category" db:"category"`
	MemberIDs      []string      `json:"member_ids" db:"member_ids"`
	ComplaintCount int           `json:"complaint_count" db:"complaint_count"`
	PreviousCount  int           `json:"previous_count" db:"previous_count"`
	WindowStart    time.Time     `json:"window_start" db:"window_start"`
	WindowEnd      time.Time     `json:"window_end" db:"window_end"`
	Trend          Trend         `json:"trend" db:"trend"`
	Status         HotspotStatus `json:"status" db:"status"`
	ActivatedAt    time.Time     `json:"activated_at" db:"activated_at"`
	NotifiedAt     *time.Time    `json:"notified_at,omitempty" db:"notified_at"`
	ResolvedAt     *time.Time    `json:"resolved_at,omitempty" db:"resolved_at"`
	UpdatedAt      time.Time     `json:"updated_at" db:"updated_at"`
}

// Clone returns a deep copy of the hotspot
func (h *Hotspot) Clone() *Hotspot {
	out := *h
	out.MemberIDs = append([]string{}, h.MemberIDs...)
	out.NotifiedAt = cloneTime(h.NotifiedAt)
	out.ResolvedAt = cloneTime(h.ResolvedAt)
	return &out
}

// HotspotFilter narrows hotspot listings
type HotspotFilter struct {
	Category Category
	Status   HotspotStatus
}

// Match reports whether h satisfies the filter
func (f HotspotFilter) Match(h *Hotspot) bool {
	if f.Category != "" && h.Category != f.Category {
		return false
	}
	if f.Status != "" && h.Status != f.Status {
		return false
	}
	return true
}
