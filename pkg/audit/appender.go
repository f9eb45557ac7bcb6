package audit

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"
)

// AppenderConfig tunes the retrying appender.
type AppenderConfig struct {
	// SyncAttempts is how many times Append tries inline before handing
	// the record to the background retrier
	SyncAttempts int `json:"sync_attempts"`
	// SyncBackoff is the pause between inline attempts
	SyncBackoff time.Duration `json:"sync_backoff"`
	// RetryBackoff is the starting background retry interval
	RetryBackoff time.Duration `json:"retry_backoff"`
	// RetryMaxBackoff bounds the background retry interval
	RetryMaxBackoff time.Duration `json:"retry_max_backoff"`
	// QueueDepth bounds how many records the background retrier holds
	QueueDepth int `json:"queue_depth"`
}

// DefaultAppenderConfig returns the default appender tuning.
func DefaultAppenderConfig() AppenderConfig {
	return AppenderConfig{
		SyncAttempts:    3,
		SyncBackoff:     50 * time.Millisecond,
		RetryBackoff:    time.Second,
		RetryMaxBackoff: time.Minute,
		QueueDepth:      1024,
	}
}

// Appender wraps a Store so that audit failures never block the crisis
// pipeline. Append tries inline a few times; if the store is still down
// the record moves to a background retrier that keeps trying with bounded
// backoff, and an operational incident is raised immediately so the
// outage is visible. Records are only ever lost if the retry queue
// overflows, which raises its own incident.
type Appender struct {
	store  Store
	sink   IncidentSink
	cfg    AppenderConfig
	logger *slog.Logger

	queue  chan Record
	done   chan struct{}
	wg     sync.WaitGroup
	closed sync.Once
}

// NewAppender creates the retrying appender and starts its background
// retrier. A nil sink falls back to log-only incidents.
func NewAppender(store Store, sink IncidentSink, cfg AppenderConfig, logger *slog.Logger) *Appender {
	def := DefaultAppenderConfig()
	if cfg.SyncAttempts <= 0 {
		cfg.SyncAttempts = def.SyncAttempts
	}
	if cfg.SyncBackoff <= 0 {
		cfg.SyncBackoff = def.SyncBackoff
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = def.RetryBackoff
	}
	if cfg.RetryMaxBackoff <= 0 {
		cfg.RetryMaxBackoff = def.RetryMaxBackoff
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = def.QueueDepth
	}
	if sink == nil {
		sink = &LogIncidentSink{Logger: logger}
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &Appender{
		store:  store,
		sink:   sink,
		cfg:    cfg,
		logger: logger.With("component", "audit_appender"),
		queue:  make(chan Record, cfg.QueueDepth),
		done:   make(chan struct{}),
	}
	a.wg.Add(1)
	go a.retryLoop()
	return a
}

// Append records an audit entry. It returns nil even when the store is
// down, because the record is owned by the background retrier from that
// point; callers never stall an intervention on audit durability.
func (a *Appender) Append(ctx context.Context, rec Record) error {
	var lastErr error
	for attempt := 0; attempt < a.cfg.SyncAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(a.cfg.SyncBackoff):
			case <-ctx.Done():
				lastErr = ctx.Err()
				a.handOff(rec, lastErr)
				return nil
			}
		}
		if lastErr = a.store.Append(ctx, rec); lastErr == nil {
			return nil
		}
	}
	a.handOff(rec, lastErr)
	return nil
}

// handOff hands a record to the background retrier and raises the outage.
func (a *Appender) handOff(rec Record, cause error) {
	a.sink.Raise(NewIncident("audit", rec.UserID, rec.ID.String(),
		"audit append failed, retrying in background",
		map[string]string{"error": cause.Error(), "kind": string(rec.Kind)}))
	select {
	case a.queue <- rec:
	default:
		// Queue full: this is the only place a record can be dropped,
		// and it is never silent.
		a.sink.Raise(NewIncident("audit", rec.UserID, rec.ID.String(),
			"audit retry queue overflow, record dropped", nil))
	}
}

func (a *Appender) retryLoop() {
	defer a.wg.Done()
	backoff := a.cfg.RetryBackoff
	for {
		select {
		case <-a.done:
			a.drain()
			return
		case rec := <-a.queue:
			for {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := a.store.Append(ctx, rec)
				cancel()
				if err == nil {
					backoff = a.cfg.RetryBackoff
					break
				}
				a.logger.Warn("background audit append failed",
					"record_id", rec.ID, "error", err, "backoff", backoff)
				var jitter time.Duration
				if q := int64(backoff) / 4; q > 0 {
					jitter = time.Duration(rand.Int63n(q))
				}
				select {
				case <-time.After(backoff + jitter):
				case <-a.done:
					a.drain()
					return
				}
				backoff *= 2
				if backoff > a.cfg.RetryMaxBackoff {
					backoff = a.cfg.RetryMaxBackoff
				}
			}
		}
	}
}

// drain makes one best-effort pass over queued records at shutdown.
func (a *Appender) drain() {
	for {
		select {
		case rec := <-a.queue:
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := a.store.Append(ctx, rec); err != nil {
				a.sink.Raise(NewIncident("audit", rec.UserID, rec.ID.String(),
					"audit record unflushed at shutdown",
					map[string]string{"error": err.Error()}))
			}
			cancel()
		default:
			return
		}
	}
}

// Pending reports how many records await background retry.
func (a *Appender) Pending() int {
	return len(a.queue)
}

// Close stops the background retrier after a best-effort drain.
func (a *Appender) Close() error {
	a.closed.Do(func() {
		close(a.done)
		a.wg.Wait()
	})
	return nil
}
