package engine

import (
	"errors"
	"sync"
	"time"

	"github.com/mindhaven/beacon/pkg/detect"
)

// ErrQueueFull is returned when a user's lane cannot accept another
// non-critical signal.
var ErrQueueFull = errors.New("user signal queue full")

// errLaneStopped means the lane goroutine exited between lookup and
// push; the engine retries on a fresh lane.
var errLaneStopped = errors.New("lane stopped")

// lane is one user's sequential processing queue: a two-level priority
// queue drained by a single goroutine, so every signal for the user is
// assessed and applied in a total order. Critical signals (fast-path
// lexical prescan hit) jump past queued non-critical ones.
type lane struct {
	userID string
	depth  int

	mu       sync.Mutex
	critical []detect.Signal
	normal   []detect.Signal
	wake     chan struct{}
	stopped  bool
}

func newLane(userID string, depth int) *lane {
	return &lane{
		userID: userID,
		depth:  depth,
		wake:   make(chan struct{}, 1),
	}
}

// push enqueues a signal at its priority level. The depth bound applies
// to non-critical signals only: a critical signal is never turned away
// by backpressure.
func (l *lane) push(sig detect.Signal, critical bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return errLaneStopped
	}
	if critical {
		l.critical = append(l.critical, sig)
	} else {
		if len(l.critical)+len(l.normal) >= l.depth {
			return ErrQueueFull
		}
		l.normal = append(l.normal, sig)
	}
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return nil
}

// pop dequeues the next signal, critical level first.
func (l *lane) pop() (detect.Signal, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.critical) > 0 {
		sig := l.critical[0]
		l.critical = l.critical[1:]
		return sig, true
	}
	if len(l.normal) > 0 {
		sig := l.normal[0]
		l.normal = l.normal[1:]
		return sig, true
	}
	return detect.Signal{}, false
}

func (l *lane) depthNow() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.critical) + len(l.normal)
}

// stop marks the lane closed to new signals.
func (l *lane) stop() {
	l.mu.Lock()
	l.stopped = true
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// run drains the lane until it stays idle for idleTimeout or the lane is
// stopped; onExit runs exactly once on the way out so the engine can
// drop the lane from its map.
func (l *lane) run(process func(detect.Signal), idleTimeout time.Duration, onExit func()) {
	defer onExit()
	idle := time.NewTimer(idleTimeout)
	defer idle.Stop()
	for {
		for {
			sig, ok := l.pop()
			if !ok {
				break
			}
			process(sig)
		}
		l.mu.Lock()
		stopped := l.stopped
		l.mu.Unlock()
		if stopped {
			return
		}
		if !idle.Stop() {
			select {
			case <-idle.C:
			default:
			}
		}
		idle.Reset(idleTimeout)
		select {
		case <-l.wake:
		case <-idle.C:
			// Expire only if nothing raced in: stopping and the empty
			// check are atomic under the lane lock, so a concurrent
			// push either landed before this or sees errLaneStopped.
			l.mu.Lock()
			if len(l.critical)+len(l.normal) == 0 {
				l.stopped = true
				l.mu.Unlock()
				return
			}
			l.mu.Unlock()
		}
	}
}
