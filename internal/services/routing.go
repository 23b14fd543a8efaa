package services

import (
	"fmt"

	"github.com/aawaaz/civic-pipeline/internal/config"
	"github.com/aawaaz/civic-pipeline/internal/models"
)

// Route assigns the primary authority for category and lists who is notified.
// Secondary departments are notified, in configuration order, only when
// priority reaches the category's escalation threshold. Primary departments
// of alternative categories are appended after them.
func Route(category models.Category, priority int, alternatives []models.CategoryScore, snap *config.Snapshot) (models.RoutingDecision, error) {
	mapping, ok := snap.Lookup(category)
	if !ok || mapping.PrimaryDepartment == "" {
		return models.RoutingDecision{}, fmt.Errorf("%w: %s", models.ErrNoDepartmentMapping, category)
	}

	decision := models.RoutingDecision{
		PrimaryDepartment:    mapping.PrimaryDepartment,
		SecondaryDepartments: append([]string{}, mapping.SecondaryDepartments...),
		Escalated:            priority >= mapping.EscalationThreshold,
		NotifiedDepartments:  []string{mapping.PrimaryDepartment},
		ConfigVersion:        snap.Version,
	}
	if decision.Escalated {
		decision.NotifiedDepartments = appendUnique(decision.NotifiedDepartments, mapping.SecondaryDepartments...)
	}
	for _, alt := range alternatives {
		if alt.Category == category {
			continue
		}
		if m, ok := snap.Lookup(alt.Category); ok {
			decision.NotifiedDepartments = appendUnique(decision.NotifiedDepartments, m.PrimaryDepartment)
		}
	}
	return decision, nil
}

// ManualRoute builds the decision for a built-in queue
func ManualRoute(queue string, snap *config.Snapshot) models.RoutingDecision {
	return models.RoutingDecision{
		PrimaryDepartment:    queue,
		SecondaryDepartments: []string{},
		NotifiedDepartments:  []string{queue},
		ConfigVersion:        snap.Version,
	}
}
