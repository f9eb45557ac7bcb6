package detect

import (
	"time"

	"github.com/google/uuid"
)

// Band is the discrete risk category derived from the aggregate score.
type Band string

const (
	BandNone     Band = "none"
	BandLow      Band = "low"
	BandModerate Band = "moderate"
	BandHigh     Band = "high"
	BandCritical Band = "critical"
)

// String returns the string representation of a Band.
func (b Band) String() string {
	return string(b)
}

// bandRank orders bands for comparison. Unknown bands rank below none.
func bandRank(b Band) int {
	switch b {
	case BandNone:
		return 0
	case BandLow:
		return 1
	case BandModerate:
		return 2
	case BandHigh:
		return 3
	case BandCritical:
		return 4
	}
	return -1
}

// AtLeast reports whether b is the same band as other or a higher one.
func (b Band) AtLeast(other Band) bool {
	return bandRank(b) >= bandRank(other)
}

// Above reports whether b is strictly higher risk than other.
func (b Band) Above(other Band) bool {
	return bandRank(b) > bandRank(other)
}

// RiskAssessment is the immutable outcome of scoring one Signal.
// Exactly one assessment exists per signal.
type RiskAssessment struct {
	SignalID uuid.UUID `json:"signal_id"`
	UserID   string    `json:"user_id"`
	// Locale is carried from the signal for region-aware interventions
	Locale string `json:"locale,omitempty"`

	// Component scores as produced by each stage
	KeywordScore   float64 `json:"keyword_score"`   // 0-10
	SentimentScore float64 `json:"sentiment_score"` // distress, 0-1
	PatternScore   float64 `json:"pattern_score"`   // 0-1

	// AggregateScore is the combined risk on the 0-10 scale
	AggregateScore float64 `json:"aggregate_score"`
	Band           Band    `json:"band"`

	// FastPath is true when a critical-tier keyword forced the band
	FastPath bool `json:"fast_path"`

	// MatchedTerms lists the dictionary terms that contributed
	MatchedTerms []string `json:"matched_terms,omitempty"`
	// Categories lists the crisis categories of matched terms
	Categories []CrisisCategory `json:"categories,omitempty"`
	// SentimentDegraded is true when the provider timed out or failed
	// and the neutral fallback was used
	SentimentDegraded bool `json:"sentiment_degraded,omitempty"`

	ComputedAt time.Time `json:"computed_at"`
}

// CrisisCategory classifies what kind of crisis a matched term indicates.
// Categories mirror the platform's clinical alert taxonomy.
type CrisisCategory string

const (
	CategorySuicidalIdeation CrisisCategory = "suicidal_ideation"
	CategorySelfHarm         CrisisCategory = "self_harm"
	CategorySevereDepression CrisisCategory = "severe_depression"
	CategoryPanicAttack      CrisisCategory = "panic_attack"
)
