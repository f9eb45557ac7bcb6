// Package audit provides the engine's immutable append-only record of
// every signal, assessment, transition and intervention action, plus the
// operational-incident channel for failures that must never be silent.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind classifies what an audit record describes.
type Kind string

const (
	KindSignal     Kind = "signal"
	KindAssessment Kind = "assessment"
	KindTransition Kind = "transition"
	KindAction     Kind = "action"
	KindIncident   Kind = "incident"
)

// Record is one append-only audit entry. Records are never updated or
// deleted; compliance retention happens in the backing store.
type Record struct {
	ID        uuid.UUID         `json:"id"`
	Kind      Kind              `json:"kind"`
	UserID    string            `json:"user_id"`
	SubjectID string            `json:"subject_id"` // signal/assessment/action id
	Detail    map[string]string `json:"detail,omitempty"`
	At        time.Time         `json:"at"`
}

// NewRecord mints a record stamped now.
func NewRecord(kind Kind, userID, subjectID string, detail map[string]string) Record {
	return Record{
		ID:        uuid.New(),
		Kind:      kind,
		UserID:    userID,
		SubjectID: subjectID,
		Detail:    detail,
		At:        time.Now().UTC(),
	}
}

// Store is the audit store contract: append returns only once the record
// is accepted. Implementations must be safe for concurrent use.
type Store interface {
	Append(ctx context.Context, rec Record) error
	Close() error
}

// Incident is an operational failure needing manual follow-up: a delivery
// channel exhausted its retries, an audit append could not be made
// durable. Incidents are infrastructure alerts, never user-facing.
type Incident struct {
	ID        uuid.UUID         `json:"id"`
	Component string            `json:"component"`
	UserID    string            `json:"user_id,omitempty"`
	SubjectID string            `json:"subject_id,omitempty"`
	Reason    string            `json:"reason"`
	Detail    map[string]string `json:"detail,omitempty"`
	At        time.Time         `json:"at"`
}

// IncidentSink receives operational incidents. Raise must not block.
type IncidentSink interface {
	Raise(incident Incident)
}

// NewIncident mints an incident stamped now.
func NewIncident(component, userID, subjectID, reason string, detail map[string]string) Incident {
	return Incident{
		ID:        uuid.New(),
		Component: component,
		UserID:    userID,
		SubjectID: subjectID,
		Reason:    reason,
		Detail:    detail,
		At:        time.Now().UTC(),
	}
}

// LogIncidentSink logs incidents at error level. The default sink when no
// paging integration is wired.
type LogIncidentSink struct {
	Logger *slog.Logger
}

// Raise logs the incident.
func (s *LogIncidentSink) Raise(incident Incident) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Error("operational incident",
		"incident_id", incident.ID,
		"component", incident.Component,
		"user_id", incident.UserID,
		"subject_id", incident.SubjectID,
		"reason", incident.Reason,
	)
}

// CollectingSink retains incidents in memory. Used in tests.
type CollectingSink struct {
	mu        sync.Mutex
	incidents []Incident
}

// Raise records the incident.
func (s *CollectingSink) Raise(incident Incident) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incidents = append(s.incidents, incident)
}

// Incidents returns a copy of everything raised so far.
func (s *CollectingSink) Incidents() []Incident {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Incident, len(s.incidents))
	copy(out, s.incidents)
	return out
}

// MemoryStore is an in-process ordered store. Suitable for tests and as
// the durable-store stand-in in single-node deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	records []Record
	closed  bool
	// FailNext makes the next n appends fail; tests use this to drive
	// the appender's retry path.
	failNext int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append stores a copy of the record.
func (s *MemoryStore) Append(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("audit store closed")
	}
	if s.failNext > 0 {
		s.failNext--
		return fmt.Errorf("injected append failure")
	}
	s.records = append(s.records, rec)
	return nil
}

// FailNext makes the next n appends return an error.
func (s *MemoryStore) FailNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = n
}

// Records returns a copy of all appended records in order.
func (s *MemoryStore) Records() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// ByKind returns appended records of one kind, in order.
func (s *MemoryStore) ByKind(kind Kind) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Record
	for _, r := range s.records {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

// Close marks the store closed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
