package models

// Status is the lifecycle state of a complaint
type Status string

const (
	StatusSubmitted   Status = "SUBMITTED"
	StatusProcessing  Status = "PROCESSING"
	StatusNeedsReview Status = "NEEDS_REVIEW"
	StatusAssigned    Status = "ASSIGNED"
	StatusInProgress  Status = "IN_PROGRESS"
	StatusResolved    Status = "RESOLVED"
	StatusClosed      Status = "CLOSED"
)

// transitions is the complete table of allowed status changes
var transitions = map[Status][]Status{
	StatusSubmitted:   {StatusProcessing},
	StatusProcessing:  {StatusAssigned, StatusNeedsReview},
	StatusNeedsReview: {StatusProcessing, StatusAssigned, StatusClosed},
	StatusAssigned:    {StatusInProgress, StatusResolved},
	StatusInProgress:  {StatusResolved},
	StatusResolved:    {StatusClosed, StatusInProgress},
	StatusClosed:      {},
}

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether from -> to is allowed
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
