package models

// Built-in queues used when a complaint cannot be auto-routed
const (
	DepartmentManualTriage = "MANUAL_TRIAGE"
	DepartmentManualReview = "MANUAL_REVIEW"
)

// RoutingDecision is the department assignment for a complaint
type RoutingDecision struct {
	PrimaryDepartment    string   `json:"primary_department"`
	SecondaryDepartments []string `json:"secondary_departments"`
	Escalated            bool     `json:"escalated"`
	NotifiedDepartments  []string `json:"notified_departments"`
	ConfigVersion        int64    `json:"config_version"`
}

// Clone returns a deep copy of the decision
func (d RoutingDecision) Clone() RoutingDecision {
	out := d
	out.SecondaryDepartments = append([]string{}, d.SecondaryDepartments...)
	out.NotifiedDepartments = append([]string{}, d.NotifiedDepartments...)
	return out
}

// DepartmentMapping binds a category to its responsible authorities
type DepartmentMapping struct {
	Category              Category `json:"category" yaml:"category"`
	PrimaryDepartment     string   `json:"primary_department" yaml:"primary_department"`
	SecondaryDepartments  []string `json:"secondary_departments" yaml:"secondary_departments"`
	EscalationThreshold   int      `json:"escalation_threshold" yaml:"escalation_threshold"`
	AverageResolutionDays int      `json:"average_resolution_days" yaml:"average_resolution_days"`
}
