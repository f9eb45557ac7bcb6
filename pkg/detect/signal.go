// Package detect implements the risk-detection half of the crisis engine:
// signal normalization, lexical keyword matching, sentiment adaptation,
// behavioral pattern prediction and risk aggregation.
package detect

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SourceType identifies which collaborator emitted a raw event.
type SourceType string

const (
	// SourceChat is a message from a support chat session
	SourceChat SourceType = "chat"
	// SourceMood is a free-text note attached to a mood entry
	SourceMood SourceType = "mood"
	// SourceForum is a community forum post or reply
	SourceForum SourceType = "forum"
)

// String returns the string representation of a SourceType.
func (s SourceType) String() string {
	return string(s)
}

// valid reports whether the source type is one the pipeline accepts.
func (s SourceType) valid() bool {
	switch s {
	case SourceChat, SourceMood, SourceForum:
		return true
	}
	return false
}

// RawEvent is the ingress contract: what chat/mood/forum collaborators
// hand to the engine before any validation has happened.
type RawEvent struct {
	UserID     string     `json:"user_id"`
	Text       string     `json:"text"`
	Source     SourceType `json:"source"`
	OccurredAt time.Time  `json:"occurred_at,omitempty"`
	Locale     string     `json:"locale,omitempty"`
}

// Signal is a validated, canonical unit of user text entering the risk
// pipeline. Immutable once created. ReceivedAt is assigned at ingestion,
// not taken from the event origin, so per-user ordering downstream is
// monotonic even when collaborators deliver out of order.
type Signal struct {
	ID         uuid.UUID  `json:"id"`
	UserID     string     `json:"user_id"`
	Source     SourceType `json:"source"`
	Text       string     `json:"text"`
	Locale     string     `json:"locale,omitempty"`
	ReceivedAt time.Time  `json:"received_at"`
}

// ValidationError rejects a malformed raw event at the pipeline boundary.
// Use errors.As() to distinguish rejection from infrastructure failure.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid signal: %s: %s", e.Field, e.Reason)
}

// Normalizer converts raw collaborator events into canonical Signals.
type Normalizer struct {
	maxTextLen int
	now        func() time.Time
}

// MaxTextLen is the default upper bound on signal text. Longer inputs are
// rejected rather than truncated so a keyword buried past a cutoff can
// never be silently dropped.
const MaxTextLen = 64 * 1024

// NewNormalizer creates a Normalizer with the default text bound.
func NewNormalizer() *Normalizer {
	return &Normalizer{maxTextLen: MaxTextLen, now: time.Now}
}

// Normalize validates a raw event and mints the canonical Signal.
// Malformed input returns a *ValidationError and never enters the pipeline.
func (n *Normalizer) Normalize(ev RawEvent) (Signal, error) {
	if strings.TrimSpace(ev.UserID) == "" {
		return Signal{}, &ValidationError{Field: "user_id", Reason: "empty"}
	}
	if !ev.Source.valid() {
		return Signal{}, &ValidationError{Field: "source", Reason: fmt.Sprintf("unknown source type %q", ev.Source)}
	}
	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return Signal{}, &ValidationError{Field: "text", Reason: "empty"}
	}
	if len(text) > n.maxTextLen {
		return Signal{}, &ValidationError{Field: "text", Reason: fmt.Sprintf("exceeds %d bytes", n.maxTextLen)}
	}

	return Signal{
		ID:         uuid.New(),
		UserID:     ev.UserID,
		Source:     ev.Source,
		Text:       text,
		Locale:     ev.Locale,
		ReceivedAt: n.now().UTC(),
	}, nil
}
