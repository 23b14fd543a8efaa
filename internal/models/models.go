// Package models defines the data structures used across the pipeline.
// These map to the PostgreSQL schema in internal/store and to the JSON API.
package models

import (
	"time"
)

// GeoPoint is a WGS84 location with its precomputed geohash
type GeoPoint struct {
	Lat     float64 `json:"lat" db:"lat"`
	Lon     float64 `json:"lon" db:"lon"`
	Geohash string  `json:"geohash" db:"geohash"`
}

// StatusHistoryEntry is one append-only record of the complaint audit trail
type StatusHistoryEntry struct {
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"actor"`
	Notes     string    `json:"notes,omitempty"`
	PrevHash  string    `json:"prev_hash,omitempty"`
	Hash      string    `json:"hash"`
}

// PriorityOverride records an admin replacement of the computed priority.
// The computed value stays on the complaint for audit.
type PriorityOverride struct {
	Value         int       `json:"value"`
	Justification string    `json:"justification"`
	Actor         string    `json:"actor"`
	At            time.Time `json:"at"`
	Original      int       `json:"original"`
}

// Complaint is the aggregate root for one citizen-reported issue
type Complaint struct {
	ID             string   `json:"complaint_id" db:"id"`
	TrackingNumber string   `json:"tracking_number" db:"tracking_number"`
	CitizenRef     string   `json:"citizen_ref" db:"citizen_ref"`
	Language       string   `json:"language" db:"language"`
	Description    string   `json:"description,omitempty" db:"description"`
	AudioRef       string   `json:"audio_ref,omitempty" db:"audio_ref"`
	ImageRefs      []string `json:"image_refs,omitempty" db:"image_refs"`
	Location       GeoPoint `json:"location" db:"location"`

	Classification   *ClassificationResult `json:"classification,omitempty" db:"classification"`
	Priority         int                   `json:"priority" db:"priority"`
	PriorityOverride *PriorityOverride     `json:"priority_override,omitempty" db:"priority_override"`
	Routing          *RoutingDecision      `json:"routing,omitempty" db:"routing"`

	Status             Status               `json:"status" db:"status"`
	StatusHistory      []StatusHistoryEntry `json:"status_history" db:"status_history"`
	AssignedDepartment string               `json:"assigned_department,omitempty" db:"assigned_department"`
	HotspotID          string               `json:"hotspot_id,omitempty" db:"hotspot_id"`

	SubmittedAt time.Time  `json:"submitted_at" db:"submitted_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty" db:"processed_at"`
	AssignedAt  *time.Time `json:"assigned_at,omitempty" db:"assigned_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`

	// Version is bumped by the store on every update and checked optimistically
	Version int64 `json:"version" db:"version"`
}

// EffectivePriority returns the override value when present, else the computed one
func (c *Complaint) EffectivePriority() int {
	if c.PriorityOverride != nil {
		return c.PriorityOverride.Value
	}
	return c.Priority
}

// Clone returns a deep copy so snapshots never alias live records
func (c *Complaint) Clone() *Complaint {
	if c == nil {
		return nil
	}
	out := *c
	out.ImageRefs = append([]string(nil), c.ImageRefs...)
	out.StatusHistory = append([]StatusHistoryEntry(nil), c.StatusHistory...)
	if c.Classification != nil {
		cl := c.Classification.Clone()
		out.Classification = &cl
	}
	if c.PriorityOverride != nil {
		po := *c.PriorityOverride
		out.PriorityOverride = &po
	}
	if c.Routing != nil {
		r := c.Routing.Clone()
		out.Routing = &r
	}
	out.ProcessedAt = cloneTime(c.ProcessedAt)
	out.AssignedAt = cloneTime(c.AssignedAt)
	out.ResolvedAt = cloneTime(c.ResolvedAt)
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// SubmitRequest is the request body for filing a new complaint
type SubmitRequest struct {
	CitizenRef  string   `json:"citizen_ref" validate:"required,max=128"`
	Language    string   `json:"language" validate:"omitempty,min=2,max=16"`
	Description string   `json:"description" validate:"max=8000"`
	AudioRef    string   `json:"audio_ref" validate:"omitempty,max=1024"`
	ImageRefs   []string `json:"image_refs" validate:"max=10,dive,required,max=1024"`
	Lat         float64  `json:"lat" validate:"latitude"`
	Lon         float64  `json:"lon" validate:"longitude"`
}

// HasContent reports whether at least one input modality was supplied
func (r *SubmitRequest) HasContent() bool {
	return r.Description != "" || r.AudioRef != "" || len(r.ImageRefs) > 0
}

// SubmitResponse is returned to the citizen after submission
type SubmitResponse struct {
	ComplaintID             string `json:"complaint_id"`
	TrackingNumber          string `json:"tracking_number"`
	Status                  Status `json:"status"`
	EstimatedResolutionDays int    `json:"estimated_resolution_days"`
}

// ComplaintStatusView is the citizen-facing projection of a complaint
type ComplaintStatusView struct {
	ComplaintID        string               `json:"complaint_id"`
	TrackingNumber     string               `json:"tracking_number"`
	Status             Status               `json:"status"`
	Category           Category             `json:"category,omitempty"`
	Summary            string               `json:"summary,omitempty"`
	Priority           int                  `json:"priority,omitempty"`
	AssignedDepartment string               `json:"assigned_department,omitempty"`
	History            []StatusHistoryEntry `json:"history"`
	SubmittedAt        time.Time            `json:"submitted_at"`
	AssignedAt         *time.Time           `json:"assigned_at,omitempty"`
	ResolvedAt         *time.Time           `json:"resolved_at,omitempty"`
}

// StatusView projects a complaint into its citizen-facing view
func (c *Complaint) StatusView() ComplaintStatusView {
	v := ComplaintStatusView{
		ComplaintID:        c.ID,
		TrackingNumber:     c.TrackingNumber,
		Status:             c.Status,
		Priority:           c.EffectivePriority(),
		AssignedDepartment: c.AssignedDepartment,
		History:            append([]StatusHistoryEntry(nil), c.StatusHistory...),
		SubmittedAt:        c.SubmittedAt,
		AssignedAt:         c.AssignedAt,
		ResolvedAt:         c.ResolvedAt,
	}
	if c.Classification != nil {
		v.Category = c.Classification.Category
		v.Summary = c.Classification.Summary
	}
	return v
}

// ComplaintFilter narrows department and geo listings
type ComplaintFilter struct {
	Status   Status
	Category Category
	Limit    int
}

// TransitionRequest is the admin request body for a status change
type TransitionRequest struct {
	Status Status `json:"status" validate:"required"`
	Notes  string `json:"notes" validate:"max=2000"`
}

// PriorityOverrideRequest is the admin request body for a priority override
type PriorityOverrideRequest struct {
	Value         int    `json:"value" validate:"min=1,max=10"`
	Justification string `json:"justification" validate:"required,max=2000"`
}

// ReassignRequest is the admin request body for a department change
type ReassignRequest struct {
	Department string `json:"department" validate:"required"`
	Notes      string `json:"notes" validate:"max=2000"`
}

// HealthStatus represents the server health check response
type HealthStatus struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Uptime        string `json:"uptime,omitempty"`
	Store         string `json:"store,omitempty"`
	ConfigVersion int64  `json:"config_version,omitempty"`
}

// HistoryVerification reports whether a complaint's audit chain is intact
type HistoryVerification struct {
	ComplaintID string               `json:"complaint_id"`
	Entries     []StatusHistoryEntry `json:"entries"`
	Valid       bool                 `json:"valid"`
	BrokenAt    int                  `json:"broken_at"` // -1 when valid
	Head        string               `json:"head,omitempty"`
}
