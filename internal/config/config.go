// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"
	AppURL    string // Public URL of this app, used for embedded page links

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Platform settings
	ShopifyAPIKey     string // Client ID; expected audience of merchant session tokens
	ShopifyAPISecret  string // Signs app proxy requests and session tokens
	ShopifyAPIVersion string
	ShopifyTimeout    time.Duration

	// Security
	InternalSharedSecret string // Static credential for the external scoring service
	RateLimitRPM         int

	// Risk
	UnknownVerdictPolicy string // "high" or "low"

	// Observability
	OTLPEndpoint string
}

const (
	DefaultPort                 = "8080"
	DefaultEnv                  = "development"
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "json"
	DefaultShopifyAPIVersion    = "2025-01"
	DefaultShopifyTimeout       = 15 * time.Second
	DefaultRateLimit            = 120
	DefaultUnknownVerdictPolicy = "high"
)

var apiVersionRegex = regexp.MustCompile(`^\d{4}-\d{2}$|^unstable$`)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", DefaultPort),
		Env:                  getEnv("ENV", DefaultEnv),
		LogLevel:             getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:            getEnv("LOG_FORMAT", DefaultLogFormat),
		AppURL:               os.Getenv("SHOPIFY_APP_URL"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		ShopifyAPIKey:        os.Getenv("SHOPIFY_API_KEY"),
		ShopifyAPISecret:     os.Getenv("SHOPIFY_API_SECRET"),
		ShopifyAPIVersion:    getEnv("SHOPIFY_API_VERSION", DefaultShopifyAPIVersion),
		ShopifyTimeout:       getEnvDuration("SHOPIFY_TIMEOUT", DefaultShopifyTimeout),
		InternalSharedSecret: os.Getenv("INTERNAL_SHARED_SECRET"),
		RateLimitRPM:         int(getEnvInt64("RATE_LIMIT_RPM", int64(DefaultRateLimit))),
		UnknownVerdictPolicy: getEnv("UNKNOWN_VERDICT", DefaultUnknownVerdictPolicy),
		OTLPEndpoint:         os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.ShopifyAPISecret == "" {
		return fmt.Errorf("SHOPIFY_API_SECRET is required")
	}

	if !apiVersionRegex.MatchString(c.ShopifyAPIVersion) {
		return fmt.Errorf("SHOPIFY_API_VERSION must look like 2025-01, got %q", c.ShopifyAPIVersion)
	}

	switch c.UnknownVerdictPolicy {
	case "high", "low":
	default:
		return fmt.Errorf("UNKNOWN_VERDICT must be \"high\" or \"low\", got %q", c.UnknownVerdictPolicy)
	}

	if c.ShopifyTimeout <= 0 {
		return fmt.Errorf("SHOPIFY_TIMEOUT must be positive")
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
