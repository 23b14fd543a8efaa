// Package config handles loading and validation of application configuration
// from environment variables. Supports .env files via godotenv.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port        int
	Environment string // "development" | "staging" | "production"

	// Storage
	DatabaseURL string
	DBMaxConns  int
	RedisURL    string

	// Security
	JWTSecret      string
	AllowedOrigins []string
	RateLimitRPM   int

	// Events
	KafkaBrokers []string
	KafkaTopic   string

	// AI collaborators
	OpenAIAPIKey       string
	ClassifierModel    string
	ClassifierModelB   string // optional A/B variant
	ClassifierBPercent int
	VisionModel        string
	MediaFetchTimeout  time.Duration

	// Pipeline
	DepartmentsFile     string
	ConfidenceThreshold float64
	PipelineTimeout     time.Duration
	ProcessingLockTTL   time.Duration

	// Resilience
	RetryMaxAttempts     int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
	BreakerFailures      int
	BreakerCooldown      time.Duration

	// Hotspots
	HotspotSchedule  string
	HotspotRadiusM   float64
	HotspotThreshold int
	HotspotWindow    time.Duration
	HotspotDelta     int
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnvInt("PORT", 8080),
		Environment: getEnv("ENVIRONMENT", "development"),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		DBMaxConns:  getEnvInt("DB_MAX_CONNS", 25),
		RedisURL:    getEnv("REDIS_URL", ""),

		JWTSecret:      getEnv("JWT_SECRET", "dev-secret-change-in-production"),
		AllowedOrigins: getEnvList("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000"),
		RateLimitRPM:   getEnvInt("RATE_LIMIT_RPM", 120),

		KafkaBrokers: getEnvList("KAFKA_BROKERS", ""),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "civic.complaint-events"),

		OpenAIAPIKey:       getEnv("OPENAI_API_KEY", ""),
		ClassifierModel:    getEnv("CLASSIFIER_MODEL", "gpt-4o-mini"),
		ClassifierModelB:   getEnv("CLASSIFIER_MODEL_B", ""),
		ClassifierBPercent: getEnvInt("CLASSIFIER_B_PERCENT", 0),
		VisionModel:        getEnv("VISION_MODEL", "gpt-4o-mini"),
		MediaFetchTimeout:  getEnvDuration("MEDIA_FETCH_TIMEOUT", 20*time.Second),

		DepartmentsFile:     getEnv("DEPARTMENTS_FILE", ""),
		ConfidenceThreshold: getEnvFloat("CONFIDENCE_THRESHOLD", 0.5),
		PipelineTimeout:     getEnvDuration("PIPELINE_TIMEOUT", 45*time.Second),
		ProcessingLockTTL:   getEnvDuration("PROCESSING_LOCK_TTL", 2*time.Minute),

		RetryMaxAttempts:     getEnvInt("RETRY_MAX_ATTEMPTS", 3),
		RetryInitialInterval: getEnvDuration("RETRY_INITIAL_INTERVAL", 250*time.Millisecond),
		RetryMaxInterval:     getEnvDuration("RETRY_MAX_INTERVAL", 4*time.Second),
		BreakerFailures:      getEnvInt("BREAKER_FAILURES", 5),
		BreakerCooldown:      getEnvDuration("BREAKER_COOLDOWN", 30*time.Second),

		HotspotSchedule:  getEnv("HOTSPOT_SCHEDULE", "@every 15m"),
		HotspotRadiusM:   getEnvFloat("HOTSPOT_RADIUS_M", 1000),
		HotspotThreshold: getEnvInt("HOTSPOT_THRESHOLD", 5),
		HotspotWindow:    getEnvDuration("HOTSPOT_WINDOW", 30*24*time.Hour),
		HotspotDelta:     getEnvInt("HOTSPOT_TREND_DELTA", 2),
	}

	if cfg.ConfidenceThreshold < 0 || cfg.ConfidenceThreshold > 1 {
		return nil, fmt.Errorf("CONFIDENCE_THRESHOLD must be within [0,1], got %v", cfg.ConfidenceThreshold)
	}
	if cfg.HotspotThreshold < 1 {
		return nil, fmt.Errorf("HOTSPOT_THRESHOLD must be positive")
	}

	// Validate required fields in production
	if cfg.Environment == "production" {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required in production")
		}
		if cfg.JWTSecret == "dev-secret-change-in-production" {
			return nil, fmt.Errorf("JWT_SECRET must be set in production")
		}
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key, fallback string) []string {
	raw := getEnv(key, fallback)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
