// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Service identity (reported as telemetry resource attributes)
	ServiceName    string
	ServiceVersion string

	// Risk model
	RiskThreshold     float64            // score above which a transaction is flagged
	BandBoundaries    []float64          // ascending amount cutoffs between risk bands
	RiskFactorWeights map[string]float64 // factor name → max additive contribution
	RandomSeed        int64              // 0 = seed from wall clock at startup

	// Telemetry export
	OTLPEndpoint    string        // host:port of the OTLP gRPC collector; empty = log sink
	EmitQueueSize   int           // bounded trace queue in front of the sink
	MetricsInterval time.Duration // how often metric snapshots are emitted

	// Demo behavior
	MockMode bool // serve simulated Mastercard responses

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)
}

// Defaults
const (
	DefaultPort            = "8000"
	DefaultEnv             = "development"
	DefaultLogLevel        = "info"
	DefaultServiceName     = "mastercard-demo"
	DefaultServiceVersion  = "1.0.0"
	DefaultRiskThreshold   = 70.0
	DefaultEmitQueueSize   = 256
	DefaultMetricsInterval = 60 * time.Second
)

// DefaultBandBoundaries splits amounts into low (<50), medium (50-1000),
// and high (>1000) risk bands.
var DefaultBandBoundaries = []float64{50, 1000}

// DefaultRiskFactorWeights are the additive perturbation caps per factor.
var DefaultRiskFactorWeights = map[string]float64{
	"merchant_category": 10,
	"velocity":          8,
	"location":          6,
}

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	bands, err := parseBoundaries(getEnv("BAND_BOUNDARIES", ""))
	if err != nil {
		return nil, fmt.Errorf("BAND_BOUNDARIES: %w", err)
	}
	weights, err := parseWeights(getEnv("RISK_FACTOR_WEIGHTS", ""))
	if err != nil {
		return nil, fmt.Errorf("RISK_FACTOR_WEIGHTS: %w", err)
	}

	cfg := &Config{
		Port:              getEnv("PORT", DefaultPort),
		Env:               getEnv("ENV", DefaultEnv),
		LogLevel:          getEnv("LOG_LEVEL", DefaultLogLevel),
		ServiceName:       getEnv("SERVICE_NAME", DefaultServiceName),
		ServiceVersion:    getEnv("SERVICE_VERSION", DefaultServiceVersion),
		RiskThreshold:     getEnvFloat("RISK_THRESHOLD", DefaultRiskThreshold),
		BandBoundaries:    bands,
		RiskFactorWeights: weights,
		RandomSeed:        getEnvInt64("RANDOM_SEED", 0),
		OTLPEndpoint:      os.Getenv("OTLP_ENDPOINT"),
		EmitQueueSize:     int(getEnvInt64("EMIT_QUEUE_SIZE", DefaultEmitQueueSize)),
		MetricsInterval:   getEnvDuration("METRICS_INTERVAL", DefaultMetricsInterval),
		MockMode:          getEnvBool("ENABLE_MOCK_MODE", true),
		DatabaseURL:       os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is internally consistent
func (c *Config) Validate() error {
	if c.RiskThreshold < 0 || c.RiskThreshold > 100 {
		return fmt.Errorf("RISK_THRESHOLD must be within [0,100], got %v", c.RiskThreshold)
	}
	if len(c.BandBoundaries) == 0 {
		return fmt.Errorf("at least one band boundary is required")
	}
	for i := 1; i < len(c.BandBoundaries); i++ {
		if c.BandBoundaries[i] <= c.BandBoundaries[i-1] {
			return fmt.Errorf("band boundaries must be strictly ascending, got %v", c.BandBoundaries)
		}
	}
	for name, w := range c.RiskFactorWeights {
		if w < 0 {
			return fmt.Errorf("risk factor %q has negative weight %v", name, w)
		}
	}
	if c.EmitQueueSize <= 0 {
		return fmt.Errorf("EMIT_QUEUE_SIZE must be positive, got %d", c.EmitQueueSize)
	}
	return nil
}

// FactorNames returns the configured risk factor names in a stable order.
func (c *Config) FactorNames() []string {
	names := make([]string, 0, len(c.RiskFactorWeights))
	for name := range c.RiskFactorWeights {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// parseBoundaries parses "50,1000" into ascending float cutoffs.
func parseBoundaries(s string) ([]float64, error) {
	if s == "" {
		return append([]float64(nil), DefaultBandBoundaries...), nil
	}
	parts := strings.Split(s, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid boundary %q", p)
		}
		out = append(out, v)
	}
	return out, nil
}

// parseWeights parses "merchant_category:10,velocity:8" into a weight map.
func parseWeights(s string) (map[string]float64, error) {
	if s == "" {
		out := make(map[string]float64, len(DefaultRiskFactorWeights))
		for k, v := range DefaultRiskFactorWeights {
			out[k] = v
		}
		return out, nil
	}
	out := make(map[string]float64)
	for _, pair := range strings.Split(s, ",") {
		name, val, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok {
			return nil, fmt.Errorf("invalid weight entry %q, want name:weight", pair)
		}
		w, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid weight for %q", name)
		}
		out[strings.TrimSpace(name)] = w
	}
	return out, nil
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

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
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
