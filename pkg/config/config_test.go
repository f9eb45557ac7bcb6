package config

import (
	"os"
	"testing"
	"time"

	"github.com/mindhaven/beacon/pkg/detect"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	if cfg == nil {
		t.Fatal("NewDefaultConfig returned nil")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}

	sum := cfg.Weights.Keyword + cfg.Weights.Sentiment + cfg.Weights.Pattern
	if sum < 0.999 || sum > 1.001 {
		t.Errorf("weights should sum to 1, got %v", sum)
	}
	if cfg.SentimentTimeout != detect.DefaultSentimentTimeout {
		t.Errorf("sentiment timeout = %v, want %v", cfg.SentimentTimeout, detect.DefaultSentimentTimeout)
	}
	if cfg.Bands != detect.DefaultBandThresholds() {
		t.Errorf("bands = %+v, want defaults", cfg.Bands)
	}
}

func TestNewHighSafetyConfig(t *testing.T) {
	def := NewDefaultConfig()
	hs := NewHighSafetyConfig()

	if err := hs.Validate(); err != nil {
		t.Errorf("high-safety config should validate: %v", err)
	}
	if hs.Bands.Critical >= def.Bands.Critical {
		t.Errorf("high-safety critical threshold %v should sit below default %v", hs.Bands.Critical, def.Bands.Critical)
	}
	if hs.Cooldown >= def.Cooldown {
		t.Errorf("high-safety cooldown %v should be shorter than default %v", hs.Cooldown, def.Cooldown)
	}
	if hs.Retry.MaxAttempts <= def.Retry.MaxAttempts {
		t.Errorf("high-safety retries %d should exceed default %d", hs.Retry.MaxAttempts, def.Retry.MaxAttempts)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BEACON_WEIGHT_KEYWORD", "0.6")
	t.Setenv("BEACON_WEIGHT_SENTIMENT", "0.2")
	t.Setenv("BEACON_WEIGHT_PATTERN", "0.2")
	t.Setenv("BEACON_COOLDOWN", "5m")
	t.Setenv("BEACON_LANE_QUEUE_DEPTH", "128")

	cfg := NewDefaultConfig()
	if cfg.Weights.Keyword != 0.6 {
		t.Errorf("keyword weight = %v, want 0.6", cfg.Weights.Keyword)
	}
	if cfg.Cooldown != 5*time.Minute {
		t.Errorf("cooldown = %v, want 5m", cfg.Cooldown)
	}
	if cfg.LaneQueueDepth != 128 {
		t.Errorf("lane queue depth = %d, want 128", cfg.LaneQueueDepth)
	}
}

func TestClampRepairsBadOverrides(t *testing.T) {
	t.Setenv("BEACON_SENTIMENT_TIMEOUT", "2h") // absurd for a hard latency bound
	t.Setenv("BEACON_LANE_QUEUE_DEPTH", "-5")
	t.Setenv("BEACON_SEMANTIC_THRESHOLD", "7")

	cfg := NewDefaultConfig()
	if cfg.SentimentTimeout != detect.DefaultSentimentTimeout {
		t.Errorf("out-of-range timeout should clamp to default, got %v", cfg.SentimentTimeout)
	}
	if cfg.LaneQueueDepth <= 0 {
		t.Errorf("negative queue depth should clamp, got %d", cfg.LaneQueueDepth)
	}
	if cfg.SemanticThreshold != detect.DefaultSemanticThreshold {
		t.Errorf("semantic threshold should clamp to default, got %v", cfg.SemanticThreshold)
	}
}

func TestValidateRejectsNonMonotonicBands(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Bands = detect.BandThresholds{Low: 4, Moderate: 2, High: 6, Critical: 8}
	if err := cfg.Validate(); err == nil {
		t.Error("non-monotonic band thresholds should fail validation")
	}
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("BEACON_TEST_INT", "42")
	t.Setenv("BEACON_TEST_FLOAT", "0.75")
	t.Setenv("BEACON_TEST_DUR", "250ms")
	t.Setenv("BEACON_TEST_BAD", "not-a-number")

	if got := GetEnvInt("BEACON_TEST_INT", 1); got != 42 {
		t.Errorf("GetEnvInt = %d, want 42", got)
	}
	if got := GetEnvFloat("BEACON_TEST_FLOAT", 0.1); got != 0.75 {
		t.Errorf("GetEnvFloat = %v, want 0.75", got)
	}
	if got := GetEnvDuration("BEACON_TEST_DUR", time.Second); got != 250*time.Millisecond {
		t.Errorf("GetEnvDuration = %v, want 250ms", got)
	}
	if got := GetEnvInt("BEACON_TEST_BAD", 7); got != 7 {
		t.Errorf("unparseable value should fall back, got %d", got)
	}
	_ = os.Unsetenv("BEACON_TEST_MISSING")
	if got := GetEnvInt("BEACON_TEST_MISSING", 3); got != 3 {
		t.Errorf("missing value should fall back, got %d", got)
	}
}
