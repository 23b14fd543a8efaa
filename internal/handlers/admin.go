package handlers

import (
	"net/http"

	"github.com/aawaaz/civic-pipeline/internal/middleware"
	"github.com/aawaaz/civic-pipeline/internal/models"
	"github.com/aawaaz/civic-pipeline/internal/services"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// AdminHandler handles staff operations on complaints
type AdminHandler struct {
	ctrl   *services.Controller
	logger *zap.SugaredLogger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(ctrl *services.Controller, logger *zap.SugaredLogger) *AdminHandler {
	return &AdminHandler{ctrl: ctrl, logger: logger}
}

// Complaint handles GET /api/v1/admin/complaints/{id}
func (h *AdminHandler) Complaint(w http.ResponseWriter, r *http.Request) {
	c, err := h.ctrl.GetComplaint(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, h.logger, "get complaint", err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// Area handles GET /api/v1/admin/complaints?geohash=&category=
func (h *AdminHandler) Area(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	complaints, err := h.ctrl.ComplaintsInCell(r.Context(), q.Get("geohash"), models.Category(q.Get("category")))
	if err != nil {
		respondServiceError(w, h.logger, "complaints in cell", err)
		return
	}
	if complaints == nil {
		complaints = []*models.Complaint{}
	}
	respondJSON(w, http.StatusOK, complaints)
}

// Transition handles POST /api/v1/complaints/{id}/transitions
func (h *AdminHandler) Transition(w http.ResponseWriter, r *http.Request) {
	var req models.TransitionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Status == "" {
		respondError(w, http.StatusBadRequest, "status: required")
		return
	}

	c, err := h.ctrl.Transition(r.Context(), chi.URLParam(r, "id"), req.Status, middleware.Actor(r.Context(), "admin"), req.Notes)
	if err != nil {
		respondServiceError(w, h.logger, "transition", err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// OverridePriority handles POST /api/v1/complaints/{id}/priority
func (h *AdminHandler) OverridePriority(w http.ResponseWriter, r *http.Request) {
	var req models.PriorityOverrideRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	c, err := h.ctrl.OverridePriority(r.Context(), chi.URLParam(r, "id"), &req, middleware.Actor(r.Context(), "admin"))
	if err != nil {
		respondServiceError(w, h.logger, "override priority", err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// Reassign handles POST /api/v1/complaints/{id}/department
func (h *AdminHandler) Reassign(w http.ResponseWriter, r *http.Request) {
	var req models.ReassignRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	c, err := h.ctrl.ReassignDepartment(r.Context(), chi.URLParam(r, "id"), req.Department, middleware.Actor(r.Context(), "admin"), req.Notes)
	if err != nil {
		respondServiceError(w, h.logger, "reassign", err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// Reprocess handles POST /api/v1/complaints/{id}/reprocess
func (h *AdminHandler) Reprocess(w http.ResponseWriter, r *http.Request) {
	c, err := h.ctrl.Reprocess(r.Context(), chi.URLParam(r, "id"), middleware.Actor(r.Context(), "admin"))
	if err != nil {
		respondServiceError(w, h.logger, "reprocess", err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// DeadLetters handles GET /api/v1/dead-letters?limit=
func (h *AdminHandler) DeadLetters(w http.ResponseWriter, r *http.Request) {
	letters, err := h.ctrl.DeadLetters(r.Context(), queryInt(r, "limit", 100))
	if err != nil {
		respondServiceError(w, h.logger, "dead letters", err)
		return
	}
	respondJSON(w, http.StatusOK, letters)
}
