package handlers

import (
	"net/http"

	"github.com/aawaaz/civic-pipeline/internal/middleware"
	"github.com/aawaaz/civic-pipeline/internal/models"
	"github.com/aawaaz/civic-pipeline/internal/services"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// DepartmentHandler serves department dashboards
type DepartmentHandler struct {
	ctrl   *services.Controller
	logger *zap.SugaredLogger
}

// NewDepartmentHandler creates a new department handler
func NewDepartmentHandler(ctrl *services.Controller, logger *zap.SugaredLogger) *DepartmentHandler {
	return &DepartmentHandler{ctrl: ctrl, logger: logger}
}

// Mappings handles GET /api/v1/departments
func (h *DepartmentHandler) Mappings(w http.ResponseWriter, r *http.Request) {
	snap := h.ctrl.Departments()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"version":     snap.Version,
		"source":      snap.Source,
		"loaded_at":   snap.LoadedAt,
		"departments": snap.Departments(),
		"mappings":    snap.Mappings(),
	})
}

// Complaints handles GET /api/v1/departments/{department}/complaints?status=&category=&limit=
// Department staff only see their own queue.
func (h *DepartmentHandler) Complaints(w http.ResponseWriter, r *http.Request) {
	department := chi.URLParam(r, "department")
	if claims, ok := middleware.ClaimsFrom(r.Context()); ok &&
		claims.Role == middleware.RoleDepartment && claims.Department != department {
		respondError(w, http.StatusForbidden, "Not your department")
		return
	}

	q := r.URL.Query()
	list, err := h.ctrl.ListForDepartment(r.Context(), department, models.ComplaintFilter{
		Status:   models.Status(q.Get("status")),
		Category: models.Category(q.Get("category")),
		Limit:    queryInt(r, "limit", 0),
	})
	if err != nil {
		respondServiceError(w, h.logger, "department complaints", err)
		return
	}
	if list == nil {
		list = []*models.Complaint{}
	}
	respondJSON(w, http.StatusOK, list)
}
