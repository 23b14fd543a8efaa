package handlers

import (
	"net/http"

	"github.com/aawaaz/civic-pipeline/internal/models"
	"github.com/aawaaz/civic-pipeline/internal/services"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ComplaintHandler handles citizen-facing complaint endpoints
type ComplaintHandler struct {
	ctrl   *services.Controller
	logger *zap.SugaredLogger
}

// NewComplaintHandler creates a new complaint handler
func NewComplaintHandler(ctrl *services.Controller, logger *zap.SugaredLogger) *ComplaintHandler {
	return &ComplaintHandler{ctrl: ctrl, logger: logger}
}

// Submit handles POST /api/v1/complaints
// The pipeline runs before the reply; the tracking number is returned even
// when the complaint ends up in manual review.
func (h *ComplaintHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req models.SubmitRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	resp, err := h.ctrl.Submit(r.Context(), &req)
	if err != nil {
		respondServiceError(w, h.logger, "submit", err)
		return
	}
	respondJSON(w, http.StatusCreated, resp)
}

// Get handles GET /api/v1/complaints/{id}
func (h *ComplaintHandler) Get(w http.ResponseWriter, r *http.Request) {
	view, err := h.ctrl.GetStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, h.logger, "get complaint", err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// Track handles GET /api/v1/complaints/track/{trackingNumber}
func (h *ComplaintHandler) Track(w http.ResponseWriter, r *http.Request) {
	tn := chi.URLParam(r, "trackingNumber")
	if tn == "" {
		respondError(w, http.StatusBadRequest, "Tracking number required")
		return
	}
	view, err := h.ctrl.GetStatus(r.Context(), tn)
	if err != nil {
		respondServiceError(w, h.logger, "track complaint", err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// History handles GET /api/v1/complaints/{id}/history
// Returns the audit trail together with its hash-chain verification.
func (h *ComplaintHandler) History(w http.ResponseWriter, r *http.Request) {
	hist, err := h.ctrl.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, h.logger, "complaint history", err)
		return
	}
	respondJSON(w, http.StatusOK, hist)
}
