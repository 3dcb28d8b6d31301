// Package config loads server configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds server configuration. Policy documents, the taxonomy and
// the penalty table are file paths here; their contents load at startup
// and are not re-validated per request.
type Config struct {
	Port     string
	LogLevel string

	// DatabaseURL selects the PostgreSQL registry backend when set;
	// otherwise the registry runs in memory.
	DatabaseURL string

	// LedgerPath is the JSONL decision log. Empty means in-memory, which
	// is only acceptable for tests.
	LedgerPath string

	// LedgerMasterKey plus DeploymentID derive the ledger signing key.
	LedgerMasterKey string
	DeploymentID    string

	AuthSecret string
	AuthIssuer string

	GlobalPolicyPath string
	TaxonomyPath     string
	PenaltyTablePath string

	Jurisdiction string

	// Weights are the capability/regulatory/ethical blend, "0.3,0.4,0.3".
	Weights [3]float64

	EscalationThreshold float64
	RetentionDays       int

	RateLimitRPS   int
	RateLimitBurst int

	// Telemetry stays off unless OTEL_ENABLED is set; an unconfigured
	// deployment should not try to dial a collector.
	TelemetryEnabled bool
	OTLPEndpoint     string
	OTLPInsecure     bool
	TraceSampleRate  float64
	Environment      string
}

// Load reads configuration from the environment, applying defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Port:                envOr("PORT", "8080"),
		LogLevel:            envOr("LOG_LEVEL", "INFO"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		LedgerPath:          os.Getenv("LEDGER_PATH"),
		LedgerMasterKey:     os.Getenv("LEDGER_MASTER_KEY"),
		DeploymentID:        envOr("DEPLOYMENT_ID", "default"),
		AuthSecret:          os.Getenv("AUTH_SECRET"),
		AuthIssuer:          envOr("AUTH_ISSUER", "keel"),
		GlobalPolicyPath:    os.Getenv("GLOBAL_POLICY_PATH"),
		TaxonomyPath:        os.Getenv("TAXONOMY_PATH"),
		PenaltyTablePath:    os.Getenv("PENALTY_TABLE_PATH"),
		Jurisdiction:        envOr("JURISDICTION", "EU"),
		Weights:             [3]float64{0.3, 0.4, 0.3},
		EscalationThreshold: 4.0,
		RetentionDays:       3650,
		RateLimitRPS:        50,
		RateLimitBurst:      100,
		OTLPEndpoint:        envOr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		TraceSampleRate:     1.0,
		Environment:         envOr("ENVIRONMENT", "development"),
	}

	if raw := os.Getenv("RISK_WEIGHTS"); raw != "" {
		weights, err := parseWeights(raw)
		if err != nil {
			return nil, err
		}
		cfg.Weights = weights
	}

	var err error
	if cfg.EscalationThreshold, err = envFloat("ESCALATION_THRESHOLD", cfg.EscalationThreshold); err != nil {
		return nil, err
	}
	if cfg.RetentionDays, err = envInt("RETENTION_DAYS", cfg.RetentionDays); err != nil {
		return nil, err
	}
	if cfg.RateLimitRPS, err = envInt("RATE_LIMIT_RPS", cfg.RateLimitRPS); err != nil {
		return nil, err
	}
	if cfg.RateLimitBurst, err = envInt("RATE_LIMIT_BURST", cfg.RateLimitBurst); err != nil {
		return nil, err
	}
	if cfg.TelemetryEnabled, err = envBool("OTEL_ENABLED", false); err != nil {
		return nil, err
	}
	if cfg.OTLPInsecure, err = envBool("OTEL_INSECURE", true); err != nil {
		return nil, err
	}
	if cfg.TraceSampleRate, err = envFloat("OTEL_SAMPLE_RATE", cfg.TraceSampleRate); err != nil {
		return nil, err
	}

	return cfg, nil
}

// MinRetention converts the configured retention horizon to a duration.
func (c *Config) MinRetention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

func parseWeights(raw string) ([3]float64, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != 3 {
		return [3]float64{}, fmt.Errorf("config: RISK_WEIGHTS wants three comma-separated values, got %q", raw)
	}
	var weights [3]float64
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return [3]float64{}, fmt.Errorf("config: RISK_WEIGHTS[%d]: %w", i, err)
		}
		weights[i] = v
	}
	return weights, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envFloat(key string, fallback float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return v, nil
}

func envBool(key string, fallback bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("config: %s: %w", key, err)
	}
	return v, nil
}

func envInt(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return v, nil
}
