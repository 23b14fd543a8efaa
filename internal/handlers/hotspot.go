package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/aawaaz/civic-pipeline/internal/models"
	"github.com/aawaaz/civic-pipeline/internal/services"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// HotspotHandler exposes detected hotspots
type HotspotHandler struct {
	ctrl     *services.Controller
	detector *services.HotspotDetector
	logger   *zap.SugaredLogger
}

// NewHotspotHandler creates a new hotspot handler
func NewHotspotHandler(ctrl *services.Controller, detector *services.HotspotDetector, logger *zap.SugaredLogger) *HotspotHandler {
	return &HotspotHandler{ctrl: ctrl, detector: detector, logger: logger}
}

// List handles GET /api/v1/hotspots?category=&status=
func (h *HotspotHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := models.HotspotStatus(q.Get("status"))
	switch status {
	case "", models.HotspotActive, models.HotspotMonitoring, models.HotspotResolved:
	default:
		respondError(w, http.StatusBadRequest, "status: unknown hotspot status")
		return
	}

	hotspots, err := h.ctrl.GetHotspots(r.Context(), models.HotspotFilter{
		Category: models.Category(q.Get("category")),
		Status:   status,
	})
	if err != nil {
		respondServiceError(w, h.logger, "list hotspots", err)
		return
	}
	if hotspots == nil {
		hotspots = []*models.Hotspot{}
	}
	respondJSON(w, http.StatusOK, hotspots)
}

// Get handles GET /api/v1/hotspots/{id}
func (h *HotspotHandler) Get(w http.ResponseWriter, r *http.Request) {
	hotspot, err := h.ctrl.GetHotspot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, h.logger, "get hotspot", err)
		return
	}
	respondJSON(w, http.StatusOK, hotspot)
}

// Run handles POST /api/v1/hotspots/run
// Triggers an immediate detection pass outside the schedule.
func (h *HotspotHandler) Run(w http.ResponseWriter, r *http.Request) {
	run, err := h.detector.Run(r.Context(), time.Now())
	if errors.Is(err, models.ErrAlreadyProcessing) {
		respondError(w, http.StatusConflict, "Hotspot detection already running")
		return
	}
	if err != nil {
		respondServiceError(w, h.logger, "hotspot run", err)
		return
	}
	respondJSON(w, http.StatusOK, run)
}
