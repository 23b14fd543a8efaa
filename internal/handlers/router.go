package handlers

import (
	"net/http"
	"time"

	"github.com/aawaaz/civic-pipeline/internal/middleware"
	"github.com/aawaaz/civic-pipeline/internal/services"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// RouterConfig carries what the router needs beyond the services
type RouterConfig struct {
	JWTSecret      string
	AllowedOrigins []string
	RateLimitRPM   int
	// RequestTimeout bounds non-submission requests; submissions are bounded by the pipeline timeout
	RequestTimeout time.Duration
	// Metrics serves /metrics and wraps the API with request instrumentation. Optional.
	Metrics interface {
		Handler() http.Handler
		Instrument(next http.Handler) http.Handler
	}
}

// Services are the application components served over HTTP
type Services struct {
	Controller *services.Controller
	Detector   *services.HotspotDetector
	Store      Pinger
	Registry   services.DepartmentSource
}

// NewRouter wires every endpoint onto a chi router
func NewRouter(cfg RouterConfig, svc Services, logger *zap.Logger) http.Handler {
	sugar := logger.Sugar()
	complaintHandler := NewComplaintHandler(svc.Controller, sugar)
	adminHandler := NewAdminHandler(svc.Controller, sugar)
	departmentHandler := NewDepartmentHandler(svc.Controller, sugar)
	hotspotHandler := NewHotspotHandler(svc.Controller, svc.Detector, sugar)
	healthHandler := NewHealthHandler(svc.Store, svc.Registry, sugar)

	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.StructuredLogger(logger))
	r.Use(chimw.Recoverer)
	r.Use(middleware.SecurityHeaders())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.Metrics != nil {
			r.Use(cfg.Metrics.Instrument)
		}
		if cfg.RateLimitRPM > 0 {
			r.Use(middleware.RateLimit(cfg.RateLimitRPM))
		}

		// Health check
		r.Get("/health", healthHandler.Check)
		r.Get("/health/ready", healthHandler.Ready)

		// Citizen endpoints (public)
		r.Post("/complaints", complaintHandler.Submit)
		r.Group(func(r chi.Router) {
			r.Use(chimw.Timeout(cfg.RequestTimeout))
			r.Get("/complaints/track/{trackingNumber}", complaintHandler.Track)
			r.Get("/complaints/{id}", complaintHandler.Get)
			r.Get("/complaints/{id}/history", complaintHandler.History)
			r.Get("/hotspots", hotspotHandler.List)
			r.Get("/hotspots/{id}", hotspotHandler.Get)
		})

		// Staff endpoints
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(cfg.JWTSecret, middleware.RoleAdmin))
			r.Get("/admin/complaints", adminHandler.Area)
			r.Get("/admin/complaints/{id}", adminHandler.Complaint)
			r.Post("/complaints/{id}/transitions", adminHandler.Transition)
			r.Post("/complaints/{id}/priority", adminHandler.OverridePriority)
			r.Post("/complaints/{id}/department", adminHandler.Reassign)
			r.Post("/complaints/{id}/reprocess", adminHandler.Reprocess)
			r.Get("/dead-letters", adminHandler.DeadLetters)
			r.Post("/hotspots/run", hotspotHandler.Run)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(cfg.JWTSecret, middleware.RoleAdmin, middleware.RoleDepartment))
			r.Get("/departments", departmentHandler.Mappings)
			r.Get("/departments/{department}/complaints", departmentHandler.Complaints)
		})
	})

	return r
}
