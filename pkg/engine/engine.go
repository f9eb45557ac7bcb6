// Package engine orchestrates the crisis pipeline: signals are
// normalized, queued onto per-user sequential lanes, scored by the
// detection stages in parallel, aggregated, run through the escalation
// state machine and audited at every step. Cross-user processing is
// fully parallel; everything for one user is totally ordered.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mindhaven/beacon/pkg/audit"
	"github.com/mindhaven/beacon/pkg/detect"
	"github.com/mindhaven/beacon/pkg/escalation"
)

// Options wires the engine's collaborators and tuning.
type Options struct {
	Normalizer *detect.Normalizer
	// Dictionaries resolves per-locale keyword matchers
	Dictionaries *detect.Registry
	Sentiment    *detect.SentimentAdapter
	Pattern      *detect.PatternPredictor
	Aggregator   *detect.Aggregator
	// Semantic is optional; nil skips near-miss phrase matching
	Semantic *detect.SemanticMatcher
	Machine  *escalation.Machine
	Auditor  escalation.AuditSink
	Logger   *slog.Logger

	// LaneQueueDepth bounds each user's non-critical backlog
	LaneQueueDepth int
	// LaneIdleTimeout expires a user's lane goroutine after inactivity
	LaneIdleTimeout time.Duration
}

// Engine is the pipeline front door.
type Engine struct {
	opts     Options
	matchers sync.Map // locale -> *detect.Matcher

	mu     sync.Mutex
	lanes  map[string]*lane
	closed bool
	wg     sync.WaitGroup
}

// New creates an engine. Normalizer, Dictionaries, Sentiment, Pattern,
// Aggregator, Machine and Auditor are required.
func New(opts Options) (*Engine, error) {
	if opts.Normalizer == nil || opts.Dictionaries == nil || opts.Sentiment == nil ||
		opts.Pattern == nil || opts.Aggregator == nil || opts.Machine == nil || opts.Auditor == nil {
		return nil, fmt.Errorf("engine requires normalizer, dictionaries, sentiment, pattern, aggregator, machine and auditor")
	}
	if opts.LaneQueueDepth <= 0 {
		opts.LaneQueueDepth = 64
	}
	if opts.LaneIdleTimeout <= 0 {
		opts.LaneIdleTimeout = 5 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	opts.Logger = opts.Logger.With("component", "engine")
	return &Engine{opts: opts, lanes: make(map[string]*lane)}, nil
}

// Submit validates one raw event and queues it for assessment. Malformed
// events are rejected here with a *detect.ValidationError and never
// enter the pipeline. A full queue rejects non-critical signals with
// ErrQueueFull; signals whose text trips the fast-path prescan are
// enqueued at critical priority and are never turned away.
func (e *Engine) Submit(ctx context.Context, ev detect.RawEvent) error {
	sig, err := e.opts.Normalizer.Normalize(ev)
	if err != nil {
		return err
	}

	_ = e.opts.Auditor.Append(ctx, audit.NewRecord(audit.KindSignal, sig.UserID, sig.ID.String(),
		map[string]string{"source": sig.Source.String()}))

	// Cheap lexical prescan decides queue priority. The authoritative
	// keyword stage runs again in the lane.
	critical := e.matcherFor(sig.Locale).Detect(sig.Text).FastPath

	return e.enqueue(sig, critical)
}

func (e *Engine) enqueue(sig detect.Signal, critical bool) error {
	for {
		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			return fmt.Errorf("engine closed")
		}
		l, ok := e.lanes[sig.UserID]
		if !ok {
			l = newLane(sig.UserID, e.opts.LaneQueueDepth)
			e.lanes[sig.UserID] = l
			e.wg.Add(1)
			go func() {
				defer e.wg.Done()
				l.run(e.process, e.opts.LaneIdleTimeout, func() { e.laneExit(l) })
			}()
		}
		e.mu.Unlock()

		err := l.push(sig, critical)
		if err == errLaneStopped {
			// Lane expired between lookup and push; retry on a fresh one.
			continue
		}
		return err
	}
}

func (e *Engine) laneExit(l *lane) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lanes[l.userID] == l {
		delete(e.lanes, l.userID)
	}
}

// process runs the full assessment for one signal on its user's lane.
func (e *Engine) process(sig detect.Signal) {
	ctx := context.Background()

	var (
		kw   detect.KeywordResult
		sent detect.SentimentResult
		pat  float64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		kw = e.keywordStage(gctx, sig)
		return nil
	})
	g.Go(func() error {
		sent = e.opts.Sentiment.Assess(gctx, sig.Text)
		return nil
	})
	g.Go(func() error {
		pat = e.opts.Pattern.Score(sig.UserID)
		return nil
	})
	_ = g.Wait() // stages degrade internally and never return errors

	a := e.opts.Aggregator.Aggregate(sig, kw, sent, pat)

	_ = e.opts.Auditor.Append(ctx, audit.NewRecord(audit.KindAssessment, a.UserID, a.SignalID.String(),
		map[string]string{
			"band":      string(a.Band),
			"score":     fmt.Sprintf("%.2f", a.AggregateScore),
			"fast_path": fmt.Sprint(a.FastPath),
		}))

	e.opts.Pattern.Observe(sig.UserID, a)

	if _, err := e.opts.Machine.Apply(ctx, a); err != nil {
		e.opts.Logger.Error("transition failed",
			"user_id", sig.UserID, "signal_id", sig.ID, "error", err)
	}
}

// keywordStage runs the authoritative lexical match, then lets the
// semantic matcher raise the score floor for near-miss phrasing. The
// floor only ever raises the score and never sets the fast path.
func (e *Engine) keywordStage(ctx context.Context, sig detect.Signal) detect.KeywordResult {
	kw := e.matcherFor(sig.Locale).Detect(sig.Text)
	if e.opts.Semantic == nil || kw.FastPath {
		return kw
	}
	if m, ok := e.opts.Semantic.Match(ctx, sig.Text); ok && m.ScoreFloor > kw.Score {
		kw.Score = m.ScoreFloor
		kw.MatchedTerms = append(kw.MatchedTerms, m.Seed.Text)
		kw.Categories = append(kw.Categories, m.Seed.Category)
	}
	return kw
}

// matcherFor returns the cached keyword matcher for a locale, building
// it from the dictionary registry on first use.
func (e *Engine) matcherFor(locale string) *detect.Matcher {
	dict := e.opts.Dictionaries.ForLocale(locale)
	if m, ok := e.matchers.Load(dict.Locale); ok {
		return m.(*detect.Matcher)
	}
	m := detect.NewMatcher(dict)
	actual, _ := e.matchers.LoadOrStore(dict.Locale, m)
	return actual.(*detect.Matcher)
}

// ActiveLanes reports how many user lanes are currently live.
func (e *Engine) ActiveLanes() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.lanes)
}

// Close stops accepting signals, drains every lane and waits for the
// lane goroutines to finish.
func (e *Engine) Close() error {
	e.mu.Lock()
	e.closed = true
	lanes := make([]*lane, 0, len(e.lanes))
	for _, l := range e.lanes {
		lanes = append(lanes, l)
	}
	e.mu.Unlock()
	for _, l := range lanes {
		l.stop()
	}
	e.wg.Wait()
	return nil
}
