package detect

import (
	"log/slog"
	"math"
	"sync"
	"time"
)

// PatternConfig tunes the behavioral pattern predictor.
type PatternConfig struct {
	// WindowSize caps how many prior assessments are kept per user
	WindowSize int `json:"window_size"`
	// MaxAge drops window entries older than this
	MaxAge time.Duration `json:"max_age"`
	// MinSamples is the cold-start floor: fewer entries score 0
	MinSamples int `json:"min_samples"`
	// ElevatedThreshold is the aggregate score (0-10) at which a prior
	// assessment counts as elevated
	ElevatedThreshold float64 `json:"elevated_threshold"`
	// HalfLife controls recency weighting of window entries
	HalfLife time.Duration `json:"half_life"`
	// StreakBonusStep is added per consecutive elevated assessment
	// beyond the first
	StreakBonusStep float64 `json:"streak_bonus_step"`
	// StreakBonusCap caps the total streak bonus
	StreakBonusCap float64 `json:"streak_bonus_cap"`
}

// DefaultPatternConfig returns the default predictor tuning.
func DefaultPatternConfig() PatternConfig {
	return PatternConfig{
		WindowSize:        10,
		MaxAge:            24 * time.Hour,
		MinSamples:        3,
		ElevatedThreshold: 4.0,
		HalfLife:          2 * time.Hour,
		StreakBonusStep:   0.1,
		StreakBonusCap:    0.4,
	}
}

type windowEntry struct {
	score float64
	at    time.Time
}

type userWindow struct {
	entries []windowEntry
}

// PatternPredictor maintains a bounded per-user sliding window of prior
// assessments and emits a trend-based elevated-risk probability. Reads
// and updates for one user arrive from that user's sequential lane, but
// the predictor locks internally so it is safe regardless of caller.
type PatternPredictor struct {
	cfg    PatternConfig
	mu     sync.RWMutex
	users  map[string]*userWindow
	logger *slog.Logger
	now    func() time.Time
}

// NewPatternPredictor creates a predictor. Zero-valued config fields fall
// back to defaults.
func NewPatternPredictor(cfg PatternConfig, logger *slog.Logger) *PatternPredictor {
	def := DefaultPatternConfig()
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = def.WindowSize
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = def.MaxAge
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = def.MinSamples
	}
	if cfg.ElevatedThreshold <= 0 {
		cfg.ElevatedThreshold = def.ElevatedThreshold
	}
	if cfg.HalfLife <= 0 {
		cfg.HalfLife = def.HalfLife
	}
	if cfg.StreakBonusStep <= 0 {
		cfg.StreakBonusStep = def.StreakBonusStep
	}
	if cfg.StreakBonusCap <= 0 {
		cfg.StreakBonusCap = def.StreakBonusCap
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PatternPredictor{
		cfg:    cfg,
		users:  make(map[string]*userWindow),
		logger: logger.With("component", "pattern_predictor"),
		now:    time.Now,
	}
}

// Observe records a completed assessment into the user's window.
func (p *PatternPredictor) Observe(userID string, a RiskAssessment) {
	p.mu.Lock()
	defer p.mu.Unlock()

	w := p.users[userID]
	if w == nil {
		w = &userWindow{}
		p.users[userID] = w
	}
	w.entries = append(w.entries, windowEntry{score: a.AggregateScore, at: a.ComputedAt})
	if len(w.entries) > p.cfg.WindowSize {
		w.entries = w.entries[len(w.entries)-p.cfg.WindowSize:]
	}
}

// Score returns the elevated-risk probability in [0,1] for a user based on
// the recency-weighted frequency and intensity of prior elevated
// assessments plus a consecutive-streak bonus. Insufficient or corrupted
// history fails safe to 0 (neutral) and never blocks ingestion.
func (p *PatternPredictor) Score(userID string) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	w := p.users[userID]
	if w == nil {
		return 0
	}

	now := p.now()
	var (
		totalWeight   float64
		elevatedFreq  float64
		intensity     float64
		streak        int
		streakBroken  bool
		validEntries  int
		corruptedSeen bool
	)

	// Walk newest to oldest so the streak counts consecutive elevated
	// assessments ending at the most recent one.
	for i := len(w.entries) - 1; i >= 0; i-- {
		e := w.entries[i]
		if math.IsNaN(e.score) || math.IsInf(e.score, 0) || e.at.IsZero() {
			corruptedSeen = true
			continue
		}
		age := now.Sub(e.at)
		if age > p.cfg.MaxAge {
			continue
		}
		validEntries++

		weight := math.Pow(0.5, age.Seconds()/p.cfg.HalfLife.Seconds())
		totalWeight += weight
		intensity += weight * clamp01(e.score/10)
		if e.score >= p.cfg.ElevatedThreshold {
			elevatedFreq += weight
			if !streakBroken {
				streak++
			}
		} else {
			streakBroken = true
		}
	}

	if corruptedSeen {
		p.logger.Warn("pattern window contained corrupted entries, scoring remaining history",
			"user_id", userID)
	}
	if validEntries < p.cfg.MinSamples || totalWeight == 0 {
		return 0
	}

	freq := elevatedFreq / totalWeight
	meanIntensity := intensity / totalWeight

	score := freq * (0.4 + 0.6*meanIntensity)
	if streak > 1 {
		bonus := float64(streak-1) * p.cfg.StreakBonusStep
		if bonus > p.cfg.StreakBonusCap {
			bonus = p.cfg.StreakBonusCap
		}
		score += bonus
	}
	return clamp01(score)
}

// Forget drops a user's window, e.g. after clinician resolution.
func (p *PatternPredictor) Forget(userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.users, userID)
}

// WindowLen reports how many entries a user's window currently holds.
func (p *PatternPredictor) WindowLen(userID string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if w := p.users[userID]; w != nil {
		return len(w.entries)
	}
	return 0
}
