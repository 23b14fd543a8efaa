package models

import "time"

// EventType names a side effect emitted by the pipeline
type EventType string

const (
	EventComplaintRouted    EventType = "complaint.routed"
	EventNeedsReview        EventType = "complaint.needs_review"
	EventFeedbackRequested  EventType = "complaint.feedback_requested"
	EventHotspotActivated   EventType = "hotspot.activated"
	EventCollaboratorFailed EventType = "collaborator.dead_lettered"
)

// Event is a side effect handed to the notifier. Delivery is not the pipeline's concern.
type Event struct {
	ID          string           `json:"id"`
	Type        EventType        `json:"type"`
	ComplaintID string           `json:"complaint_id,omitempty"`
	HotspotID   string           `json:"hotspot_id,omitempty"`
	Departments []string         `json:"departments,omitempty"`
	Routing     *RoutingDecision `json:"routing,omitempty"`
	Hotspot     *Hotspot         `json:"hotspot,omitempty"`
	Notes       string           `json:"notes,omitempty"`
	OccurredAt  time.Time        `json:"occurred_at"`
}

// Key returns the partition key used by the transport
func (e Event) Key() string {
	if e.ComplaintID != "" {
		return e.ComplaintID
	}
	return e.HotspotID
}

// DeadLetter records a collaborator call that exhausted its retries
type DeadLetter struct {
	ID           string    `json:"id" db:"id"`
	ComplaintID  string    `json:"complaint_id" db:"complaint_id"`
	Collaborator string    `json:"collaborator" db:"collaborator"`
	Error        string    `json:"error" db:"error"`
	Attempts     int       `json:"attempts" db:"attempts"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}
