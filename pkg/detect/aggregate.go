package detect

import (
	"time"
)

// RiskWeights are the aggregation weights for the three component scores.
// They should sum to 1; Normalize rescales them when they do not.
type RiskWeights struct {
	Keyword   float64 `json:"keyword" yaml:"keyword"`
	Sentiment float64 `json:"sentiment" yaml:"sentiment"`
	Pattern   float64 `json:"pattern" yaml:"pattern"`
}

// DefaultRiskWeights returns the default aggregation weights. These are
// product policy, not a derived constant; deployments tune them through
// configuration.
func DefaultRiskWeights() RiskWeights {
	return RiskWeights{Keyword: 0.5, Sentiment: 0.3, Pattern: 0.2}
}

// Normalize rescales the weights to sum to 1. All-zero weights fall back
// to the defaults.
func (w RiskWeights) Normalize() RiskWeights {
	sum := w.Keyword + w.Sentiment + w.Pattern
	if sum <= 0 {
		return DefaultRiskWeights()
	}
	return RiskWeights{
		Keyword:   w.Keyword / sum,
		Sentiment: w.Sentiment / sum,
		Pattern:   w.Pattern / sum,
	}
}

// BandThresholds are the lower bounds of each band above none. The mapping
// is boundary-inclusive upward: a score exactly on a boundary takes the
// higher band (safety-biased rounding).
type BandThresholds struct {
	Low      float64 `json:"low" yaml:"low"`
	Moderate float64 `json:"moderate" yaml:"moderate"`
	High     float64 `json:"high" yaml:"high"`
	Critical float64 `json:"critical" yaml:"critical"`
}

// DefaultBandThresholds returns the fixed default band mapping:
// [0,2) none, [2,4) low, [4,6) moderate, [6,8) high, [8,10] critical.
func DefaultBandThresholds() BandThresholds {
	return BandThresholds{Low: 2, Moderate: 4, High: 6, Critical: 8}
}

// Band maps a 0-10 score to its discrete band.
func (t BandThresholds) Band(score float64) Band {
	switch {
	case score >= t.Critical:
		return BandCritical
	case score >= t.High:
		return BandHigh
	case score >= t.Moderate:
		return BandModerate
	case score >= t.Low:
		return BandLow
	default:
		return BandNone
	}
}

// Aggregator combines the three component scores into one bounded risk
// score and band. Construction-time configuration; no mutable globals.
type Aggregator struct {
	weights    RiskWeights
	thresholds BandThresholds
	now        func() time.Time
}

// NewAggregator creates an aggregator with the given policy. Zero-valued
// thresholds fall back to the defaults.
func NewAggregator(weights RiskWeights, thresholds BandThresholds) *Aggregator {
	if thresholds == (BandThresholds{}) {
		thresholds = DefaultBandThresholds()
	}
	return &Aggregator{
		weights:    weights.Normalize(),
		thresholds: thresholds,
		now:        time.Now,
	}
}

// Aggregate produces the immutable RiskAssessment for a signal.
//
// The fast path is absolute: a confirmed critical keyword yields score 10
// and band critical no matter what sentiment or pattern say. Averaging is
// never allowed to dilute it.
func (g *Aggregator) Aggregate(sig Signal, kw KeywordResult, sent SentimentResult, patternScore float64) RiskAssessment {
	a := RiskAssessment{
		SignalID:          sig.ID,
		UserID:            sig.UserID,
		Locale:            sig.Locale,
		KeywordScore:      kw.Score,
		SentimentScore:    sent.Distress,
		PatternScore:      clamp01(patternScore),
		FastPath:          kw.FastPath,
		MatchedTerms:      kw.MatchedTerms,
		Categories:        kw.Categories,
		SentimentDegraded: sent.Degraded,
		ComputedAt:        g.now().UTC(),
	}

	if kw.FastPath {
		a.AggregateScore = 10
		a.Band = BandCritical
		return a
	}

	score := g.weights.Keyword*kw.Score +
		g.weights.Sentiment*(10*sent.Distress) +
		g.weights.Pattern*(10*a.PatternScore)
	if score < 0 {
		score = 0
	}
	if score > 10 {
		score = 10
	}

	a.AggregateScore = score
	a.Band = g.thresholds.Band(score)
	return a
}

// Weights returns the aggregator's normalized weights.
func (g *Aggregator) Weights() RiskWeights {
	return g.weights
}
