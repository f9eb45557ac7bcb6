package detect

import (
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
)

func assessmentAt(score float64, at time.Time) RiskAssessment {
	return RiskAssessment{SignalID: uuid.New(), AggregateScore: score, ComputedAt: at}
}

func TestPatternColdStart(t *testing.T) {
	p := NewPatternPredictor(PatternConfig{}, nil)

	if got := p.Score("unknown-user"); got != 0 {
		t.Errorf("unknown user should score 0, got %v", got)
	}

	// Below MinSamples also scores 0.
	now := time.Now()
	p.Observe("u1", assessmentAt(8, now.Add(-time.Minute)))
	p.Observe("u1", assessmentAt(9, now))
	if got := p.Score("u1"); got != 0 {
		t.Errorf("two samples is below the cold-start floor, got %v", got)
	}
}

func TestPatternElevatedTrend(t *testing.T) {
	p := NewPatternPredictor(PatternConfig{}, nil)
	now := time.Now()

	// Five consecutive moderate assessments within minutes.
	for i := 4; i >= 0; i-- {
		p.Observe("u1", assessmentAt(5, now.Add(-time.Duration(i)*time.Minute)))
	}
	got := p.Score("u1")
	if got < 0.8 {
		t.Errorf("a sustained elevated run should push the score high, got %v", got)
	}
	if got > 1 {
		t.Errorf("score must stay in [0,1], got %v", got)
	}
}

func TestPatternCalmHistoryStaysLow(t *testing.T) {
	p := NewPatternPredictor(PatternConfig{}, nil)
	now := time.Now()
	for i := 0; i < 5; i++ {
		p.Observe("u1", assessmentAt(1, now.Add(-time.Duration(i)*time.Minute)))
	}
	if got := p.Score("u1"); got != 0 {
		t.Errorf("no elevated history should score 0, got %v", got)
	}
}

func TestPatternWindowBounded(t *testing.T) {
	p := NewPatternPredictor(PatternConfig{WindowSize: 5}, nil)
	now := time.Now()
	for i := 0; i < 20; i++ {
		p.Observe("u1", assessmentAt(3, now))
	}
	if got := p.WindowLen("u1"); got != 5 {
		t.Errorf("window should be capped at 5, got %d", got)
	}
}

func TestPatternOldEntriesExpire(t *testing.T) {
	p := NewPatternPredictor(PatternConfig{MaxAge: time.Hour}, nil)
	now := time.Now()
	for i := 0; i < 5; i++ {
		p.Observe("u1", assessmentAt(9, now.Add(-48*time.Hour)))
	}
	if got := p.Score("u1"); got != 0 {
		t.Errorf("entries past MaxAge should not count, got %v", got)
	}
}

func TestPatternCorruptedEntriesSkipped(t *testing.T) {
	p := NewPatternPredictor(PatternConfig{}, nil)
	now := time.Now()

	p.Observe("u1", assessmentAt(math.NaN(), now))
	p.Observe("u1", RiskAssessment{AggregateScore: 5}) // zero timestamp
	for i := 0; i < 4; i++ {
		p.Observe("u1", assessmentAt(6, now.Add(-time.Duration(i)*time.Minute)))
	}

	got := p.Score("u1")
	if math.IsNaN(got) {
		t.Fatal("corrupted entries must never produce NaN")
	}
	if got <= 0 {
		t.Errorf("remaining valid history should still score, got %v", got)
	}
}

func TestPatternForget(t *testing.T) {
	p := NewPatternPredictor(PatternConfig{}, nil)
	now := time.Now()
	for i := 0; i < 5; i++ {
		p.Observe("u1", assessmentAt(7, now))
	}
	p.Forget("u1")
	if got := p.Score("u1"); got != 0 {
		t.Errorf("forgotten user should score 0, got %v", got)
	}
}

func TestPatternRecencyWeighting(t *testing.T) {
	p := NewPatternPredictor(PatternConfig{}, nil)
	now := time.Now()

	// Elevated run just now, calm half a day ago.
	for i := 0; i < 3; i++ {
		p.Observe("recent", assessmentAt(1, now.Add(-12*time.Hour)))
		p.Observe("recent", assessmentAt(7, now.Add(-time.Duration(i)*time.Minute)))
	}
	// Mirror image: elevated half a day ago, calm just now.
	for i := 0; i < 3; i++ {
		p.Observe("stale", assessmentAt(7, now.Add(-12*time.Hour)))
		p.Observe("stale", assessmentAt(1, now.Add(-time.Duration(i)*time.Minute)))
	}

	recent := p.Score("recent")
	stale := p.Score("stale")
	if recent <= stale {
		t.Errorf("recent elevated history should outscore stale history: recent=%v stale=%v", recent, stale)
	}
}
