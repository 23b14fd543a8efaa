// Package main is the entry point for the civic complaint pipeline server.
// It accepts multimodal citizen complaints over a REST API, runs them through
// transcription, image analysis and classification, scores and routes them to
// a municipal department, and periodically clusters them into hotspots.
//
// Backing services are optional in development:
//   - Postgres (DATABASE_URL) or an in-memory store
//   - Redis (REDIS_URL) or a process-local processing lock
//   - Kafka (KAFKA_BROKERS) or a log-only event publisher
//   - OpenAI (OPENAI_API_KEY) or keyword classification only
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aawaaz/civic-pipeline/internal/collaborators"
	"github.com/aawaaz/civic-pipeline/internal/config"
	"github.com/aawaaz/civic-pipeline/internal/database"
	"github.com/aawaaz/civic-pipeline/internal/events"
	"github.com/aawaaz/civic-pipeline/internal/handlers"
	"github.com/aawaaz/civic-pipeline/internal/lock"
	"github.com/aawaaz/civic-pipeline/internal/metrics"
	"github.com/aawaaz/civic-pipeline/internal/resilience"
	"github.com/aawaaz/civic-pipeline/internal/services"
	"github.com/aawaaz/civic-pipeline/internal/store"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

func main() {
	// Initialize structured logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()
	sugar := logger.Sugar()

	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		sugar.Fatalf("Failed to load config: %v", err)
	}

	sugar.Infow("Starting civic complaint pipeline",
		"port", cfg.Port,
		"env", cfg.Environment,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	collector := metrics.NewCollector()

	// Persistence
	var st store.Store
	if cfg.DatabaseURL != "" {
		db, err := database.NewPool(ctx, cfg.DatabaseURL, int32(cfg.DBMaxConns))
		if err != nil {
			sugar.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()
		if err := database.Migrate(ctx, db); err != nil {
			sugar.Fatalf("Failed to migrate database: %v", err)
		}
		st = store.NewPostgres(db, sugar)
	} else {
		sugar.Warn("DATABASE_URL not set, using in-memory store")
		st = store.NewMemory()
	}

	// Per-complaint processing lock
	var locker lock.Locker = lock.NewMemory()
	if cfg.RedisURL != "" {
		client, err := lock.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			sugar.Warnw("Redis unavailable, falling back to in-process lock", "error", err)
		} else {
			defer client.Close()
			locker = lock.NewRedis(client, sugar)
		}
	}

	// Side-effect events
	var publisher events.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, sugar)
	} else {
		publisher = events.NewLogPublisher(sugar)
	}
	notifier := events.NewNotifier(publisher, collector, 1024, sugar)
	notifier.DeadLetterTo(st)
	go notifier.Start(ctx)

	// Department mappings, hot-reloaded when backed by a file
	registry, err := config.LoadRegistry(cfg.DepartmentsFile)
	if err != nil {
		sugar.Fatalf("Failed to load department mappings: %v", err)
	}
	collector.ConfigVersion(registry.Current().Version)
	if cfg.DepartmentsFile != "" {
		watcher := config.NewWatcher(registry, cfg.DepartmentsFile, sugar)
		watcher.OnReload(func(snap *config.Snapshot) {
			collector.ConfigVersion(snap.Version)
		})
		go func() {
			if err := watcher.Start(ctx); err != nil {
				sugar.Errorw("Department mapping watcher stopped", "error", err)
			}
		}()
	}

	// AI collaborators behind retry and circuit breaker policies
	deadLetters := services.NewDeadLetterRecorder(st, notifier, collector)
	var set collaborators.Set
	var policies services.Policies
	if cfg.OpenAIAPIKey != "" {
		client := openai.NewClient(cfg.OpenAIAPIKey)

		var classifier collaborators.Classifier = collaborators.NewOpenAIClassifier(client, cfg.ClassifierModel)
		if cfg.ClassifierModelB != "" && cfg.ClassifierBPercent > 0 {
			classifier = collaborators.NewABClassifier(classifier, collaborators.NewOpenAIClassifier(client, cfg.ClassifierModelB), cfg.ClassifierBPercent)
			sugar.Infow("Classifier A/B split enabled",
				"model_a", cfg.ClassifierModel,
				"model_b", cfg.ClassifierModelB,
				"percent_b", cfg.ClassifierBPercent,
			)
		}
		set = collaborators.Set{
			Transcriber:   collaborators.NewOpenAITranscriber(client, collaborators.NewMediaFetcher(cfg.MediaFetchTimeout)),
			ImageAnalyzer: collaborators.NewOpenAIImageAnalyzer(client, cfg.VisionModel),
			Classifier:    classifier,
		}

		settings := resilience.Settings{
			MaxAttempts:     cfg.RetryMaxAttempts,
			InitialInterval: cfg.RetryInitialInterval,
			MaxInterval:     cfg.RetryMaxInterval,
			BreakerFailures: cfg.BreakerFailures,
			BreakerCooldown: cfg.BreakerCooldown,
		}
		newPolicy := func(name string) *resilience.Policy {
			p := resilience.NewPolicy(name, settings, deadLetters, sugar)
			p.OnStateChange(collector.BreakerChanged)
			return p
		}
		policies = services.Policies{
			Transcription:  newPolicy("transcription"),
			ImageAnalysis:  newPolicy("image_analysis"),
			Classification: newPolicy("classification"),
		}
	} else {
		sugar.Warn("OPENAI_API_KEY not set, classifying with keywords only")
	}

	// Hotspot detection
	detector := services.NewHotspotDetector(st, st, registry, notifier, collector, services.HotspotSettings{
		RadiusMeters: cfg.HotspotRadiusM,
		Threshold:    cfg.HotspotThreshold,
		Window:       cfg.HotspotWindow,
		TrendDelta:   cfg.HotspotDelta,
	}, sugar)
	worker := services.NewHotspotWorker(detector, cfg.HotspotSchedule, sugar)
	go func() {
		if err := worker.Start(ctx); err != nil {
			sugar.Errorw("Hotspot worker failed", "error", err)
		}
	}()

	// Pipeline controller
	ctrl := services.NewController(services.Deps{
		Store:         st,
		Locker:        locker,
		Registry:      registry,
		Collaborators: set,
		Policies:      policies,
		Normalizer:    services.NewNormalizer(cfg.ConfidenceThreshold),
		Density:       detector,
		Emitter:       notifier,
		Observer:      collector,
	}, services.ControllerSettings{
		PipelineTimeout: cfg.PipelineTimeout,
		LockTTL:         cfg.ProcessingLockTTL,
	}, sugar)

	router := handlers.NewRouter(handlers.RouterConfig{
		JWTSecret:      cfg.JWTSecret,
		AllowedOrigins: cfg.AllowedOrigins,
		RateLimitRPM:   cfg.RateLimitRPM,
		RequestTimeout: 30 * time.Second,
		Metrics:        collector,
	}, handlers.Services{
		Controller: ctrl,
		Detector:   detector,
		Store:      st,
		Registry:   registry,
	}, logger)

	// Create HTTP server. Submissions wait for the pipeline, so the write
	// timeout has to outlast it.
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.PipelineTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sugar.Infof("Server listening on :%d", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalf("Server error: %v", err)
		}
	}()

	<-done
	sugar.Info("Shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		sugar.Errorw("Forced shutdown", "error", err)
	}

	// Stop background work, then flush queued events
	cancel()
	notifier.Close(10 * time.Second)
	if err := publisher.Close(); err != nil {
		sugar.Warnw("Event publisher close failed", "error", err)
	}

	sugar.Info("Server stopped")
}
