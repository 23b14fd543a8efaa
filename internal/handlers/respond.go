// Package handlers contains HTTP request handlers for the pipeline API.
// Handlers parse requests, call services, and return JSON responses.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/aawaaz/civic-pipeline/internal/models"
	"go.uber.org/zap"
)

// Helper: respond with JSON
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Helper: respond with error
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondServiceError maps the service error taxonomy onto HTTP. Internal
// failures are logged and never described to the caller.
func respondServiceError(w http.ResponseWriter, logger *zap.SugaredLogger, op string, err error) {
	switch {
	case errors.Is(err, models.ErrValidation):
		respondError(w, http.StatusBadRequest, validationMessage(err))
	case errors.Is(err, models.ErrNotFound):
		respondError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, models.ErrAlreadyProcessing):
		respondError(w, http.StatusConflict, "Complaint is being processed, try again shortly")
	case errors.Is(err, models.ErrInvalidTransition):
		respondError(w, http.StatusConflict, strings.TrimPrefix(err.Error(), models.ErrInvalidTransition.Error()+": "))
	case errors.Is(err, models.ErrConflict):
		respondError(w, http.StatusConflict, "Complaint was modified concurrently, try again")
	default:
		logger.Errorw("Request failed", "op", op, "error", err)
		respondError(w, http.StatusInternalServerError, "Internal error")
	}
}

func validationMessage(err error) string {
	return strings.TrimPrefix(err.Error(), models.ErrValidation.Error()+": ")
}

// decodeJSON reads a bounded JSON body into dst
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func queryInt(r *http.Request, key string, fallback int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i > 0 {
			return i
		}
	}
	return fallback
}
