// Package config centralizes engine configuration: risk weights, band
// thresholds, timeouts, cooldowns and queue sizing. Configuration is
// resolved once at startup from a preset plus BEACON_* environment
// overrides and passed into components at construction; nothing in the
// engine reads mutable global state.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/mindhaven/beacon/pkg/audit"
	"github.com/mindhaven/beacon/pkg/detect"
	"github.com/mindhaven/beacon/pkg/escalation"
)

// Config is the complete engine configuration.
type Config struct {
	// Weights blend the keyword, sentiment and pattern scores
	Weights detect.RiskWeights `json:"weights" yaml:"weights"`
	// Bands maps aggregate scores to risk bands
	Bands detect.BandThresholds `json:"bands" yaml:"bands"`
	// SentimentTimeout is the hard bound on one sentiment assessment
	SentimentTimeout time.Duration `json:"sentiment_timeout" yaml:"sentiment_timeout"`
	// Cooldown suppresses repeat identical actions per user
	Cooldown time.Duration `json:"cooldown" yaml:"cooldown"`
	// Pattern tunes the behavioral predictor
	Pattern detect.PatternConfig `json:"pattern" yaml:"pattern"`
	// Retry bounds dispatcher delivery attempts
	Retry escalation.RetryPolicy `json:"retry" yaml:"retry"`
	// Audit tunes the retrying audit appender
	Audit audit.AppenderConfig `json:"audit" yaml:"audit"`
	// LaneQueueDepth bounds each per-user signal queue
	LaneQueueDepth int `json:"lane_queue_depth" yaml:"lane_queue_depth"`
	// LaneIdleTimeout expires a user's lane after inactivity
	LaneIdleTimeout time.Duration `json:"lane_idle_timeout" yaml:"lane_idle_timeout"`
	// SemanticThreshold is the minimum similarity for a semantic phrase match
	SemanticThreshold float64 `json:"semantic_threshold" yaml:"semantic_threshold"`
	// DictionaryDir optionally points at per-locale keyword dictionaries
	DictionaryDir string `json:"dictionary_dir" yaml:"dictionary_dir"`
	// SeedDir optionally points at semantic phrase seed files
	SeedDir string `json:"seed_dir" yaml:"seed_dir"`
}

// NewDefaultConfig returns the standard production configuration with
// environment overrides applied.
func NewDefaultConfig() *Config {
	cfg := &Config{
		Weights:           detect.DefaultRiskWeights(),
		Bands:             detect.DefaultBandThresholds(),
		SentimentTimeout:  detect.DefaultSentimentTimeout,
		Cooldown:          escalation.DefaultCooldown,
		Pattern:           detect.DefaultPatternConfig(),
		Retry:             escalation.DefaultRetryPolicy(),
		Audit:             audit.DefaultAppenderConfig(),
		LaneQueueDepth:    64,
		LaneIdleTimeout:   5 * time.Minute,
		SemanticThreshold: detect.DefaultSemanticThreshold,
	}
	cfg.applyEnv()
	cfg.clamp()
	return cfg
}

// NewHighSafetyConfig returns a configuration biased toward earlier
// intervention: lower band thresholds, shorter cooldown, more delivery
// retries. Used for cohorts flagged by clinical staff.
func NewHighSafetyConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.Bands = detect.BandThresholds{Low: 1.5, Moderate: 3, High: 5, Critical: 7}
	cfg.Cooldown = 5 * time.Minute
	cfg.Retry.MaxAttempts = 5
	cfg.Pattern.ElevatedThreshold = 3.0
	cfg.applyEnv()
	cfg.clamp()
	return cfg
}

// applyEnv layers BEACON_* environment overrides onto the config.
func (c *Config) applyEnv() {
	c.Weights.Keyword = GetEnvFloat("BEACON_WEIGHT_KEYWORD", c.Weights.Keyword)
	c.Weights.Sentiment = GetEnvFloat("BEACON_WEIGHT_SENTIMENT", c.Weights.Sentiment)
	c.Weights.Pattern = GetEnvFloat("BEACON_WEIGHT_PATTERN", c.Weights.Pattern)
	c.SentimentTimeout = GetEnvDuration("BEACON_SENTIMENT_TIMEOUT", c.SentimentTimeout)
	c.Cooldown = GetEnvDuration("BEACON_COOLDOWN", c.Cooldown)
	c.Retry.MaxAttempts = GetEnvInt("BEACON_DISPATCH_MAX_ATTEMPTS", c.Retry.MaxAttempts)
	c.LaneQueueDepth = GetEnvInt("BEACON_LANE_QUEUE_DEPTH", c.LaneQueueDepth)
	c.LaneIdleTimeout = GetEnvDuration("BEACON_LANE_IDLE_TIMEOUT", c.LaneIdleTimeout)
	c.SemanticThreshold = GetEnvFloat("BEACON_SEMANTIC_THRESHOLD", c.SemanticThreshold)
	c.Pattern.WindowSize = GetEnvInt("BEACON_PATTERN_WINDOW", c.Pattern.WindowSize)
	if dir := os.Getenv("BEACON_DICTIONARY_DIR"); dir != "" {
		c.DictionaryDir = dir
	}
	if dir := os.Getenv("BEACON_SEED_DIR"); dir != "" {
		c.SeedDir = dir
	}
}

// clamp forces out-of-range values back to safe defaults rather than
// letting a bad override weaken detection.
func (c *Config) clamp() {
	c.Weights = c.Weights.Normalize()
	if c.SentimentTimeout <= 0 || c.SentimentTimeout > 5*time.Second {
		c.SentimentTimeout = detect.DefaultSentimentTimeout
	}
	if c.Cooldown <= 0 {
		c.Cooldown = escalation.DefaultCooldown
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = escalation.DefaultRetryPolicy().MaxAttempts
	}
	if c.LaneQueueDepth <= 0 {
		c.LaneQueueDepth = 64
	}
	if c.LaneIdleTimeout <= 0 {
		c.LaneIdleTimeout = 5 * time.Minute
	}
	if c.SemanticThreshold <= 0 || c.SemanticThreshold >= 1 {
		c.SemanticThreshold = detect.DefaultSemanticThreshold
	}
	if !monotonic(c.Bands) {
		c.Bands = detect.DefaultBandThresholds()
	}
}

// Validate reports configuration problems that clamp cannot repair.
func (c *Config) Validate() error {
	if !monotonic(c.Bands) {
		return fmt.Errorf("band thresholds must be strictly increasing: %+v", c.Bands)
	}
	sum := c.Weights.Keyword + c.Weights.Sentiment + c.Weights.Pattern
	if sum < 0.99 || sum > 1.01 {
		return fmt.Errorf("risk weights must sum to 1, got %.3f", sum)
	}
	return nil
}

func monotonic(b detect.BandThresholds) bool {
	return b.Low > 0 && b.Low < b.Moderate && b.Moderate < b.High && b.High < b.Critical && b.Critical <= 10
}

// GetEnvInt reads an integer environment variable with a fallback.
func GetEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// GetEnvFloat reads a float environment variable with a fallback.
func GetEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// GetEnvDuration reads a duration environment variable with a fallback.
func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
