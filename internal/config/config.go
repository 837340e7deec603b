// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string
	SessionTTL  time.Duration
	Progression ProgressionConfig
	DecisionLog DecisionLogConfig
}

// ProgressionConfig holds the phase-progression thresholds. The defaults
// are calibration starting points; override them per deployment.
type ProgressionConfig struct {
	ConfidenceGain          float64
	ConfidenceFloor         float64
	MinMilestones           int
	RegressionThreshold     float64
	RegressionWindow        int
	RegressionCooldownTurns int
	RegressionPenalty       float64
}

// DecisionLogConfig controls NDJSON guidance-decision logging.
type DecisionLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("DECISION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/mentor.db"),
		SessionTTL:  getEnvDuration("SESSION_TTL", 90*time.Minute),
		Progression: ProgressionConfig{
			ConfidenceGain:          getEnvFloat("PHASE_CONFIDENCE_GAIN", 0.25),
			ConfidenceFloor:         getEnvFloat("PHASE_CONFIDENCE_FLOOR", 0.20),
			MinMilestones:           getEnvInt("PHASE_MIN_MILESTONES", 2),
			RegressionThreshold:     getEnvFloat("REGRESSION_THRESHOLD", 0.85),
			RegressionWindow:        getEnvInt("REGRESSION_WINDOW", 3),
			RegressionCooldownTurns: getEnvInt("REGRESSION_COOLDOWN_TURNS", 4),
			RegressionPenalty:       getEnvFloat("REGRESSION_PENALTY", 0.25),
		},
		DecisionLog: DecisionLogConfig{
			Enabled:       getEnvBool("DECISION_LOG_ENABLED", true),
			Dir:           getEnv("DECISION_LOG_DIR", "./data/logs/decisions"),
			GlobalEnabled: getEnvBool("DECISION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("DECISION_LOG_GLOBAL_PATH", "./data/logs/decisions/all.ndjson"),
			QueueSize:     queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set and the
// progression thresholds are coherent.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.DecisionLog.Dir == "" {
		return fmt.Errorf("DECISION_LOG_DIR cannot be empty")
	}
	if c.DecisionLog.GlobalPath == "" {
		return fmt.Errorf("DECISION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.DecisionLog.QueueSize <= 0 {
		return fmt.Errorf("DECISION_LOG_QUEUE_SIZE must be > 0")
	}
	return c.Progression.Validate()
}

// Validate checks threshold coherence: the regression threshold must sit
// strictly above the advancement band so advance and regress cannot
// oscillate on the same signal.
func (p *ProgressionConfig) Validate() error {
	if p.ConfidenceGain <= 0 || p.ConfidenceGain > 1 {
		return fmt.Errorf("PHASE_CONFIDENCE_GAIN must be in (0, 1]")
	}
	if p.ConfidenceFloor < 0 || p.ConfidenceFloor >= 1 {
		return fmt.Errorf("PHASE_CONFIDENCE_FLOOR must be in [0, 1)")
	}
	if p.MinMilestones < 0 {
		return fmt.Errorf("PHASE_MIN_MILESTONES cannot be negative")
	}
	if p.RegressionThreshold <= p.ConfidenceFloor || p.RegressionThreshold > 1 {
		return fmt.Errorf("REGRESSION_THRESHOLD must be in (floor, 1]")
	}
	if p.RegressionWindow <= 0 {
		return fmt.Errorf("REGRESSION_WINDOW must be > 0")
	}
	if p.RegressionCooldownTurns < 0 {
		return fmt.Errorf("REGRESSION_COOLDOWN_TURNS cannot be negative")
	}
	if p.RegressionPenalty < 0 || p.RegressionPenalty > 1 {
		return fmt.Errorf("REGRESSION_PENALTY must be in [0, 1]")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
