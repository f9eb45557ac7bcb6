package escalation

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mindhaven/beacon/pkg/audit"
)

// IdempotencyStore guards exactly-one dispatch per key. Reserve returns
// true when the caller won the key and owns the delivery.
type IdempotencyStore interface {
	Reserve(ctx context.Context, key string) (bool, error)
}

// MemoryIdempotencyStore is the in-process store.
type MemoryIdempotencyStore struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewMemoryIdempotencyStore creates an empty store.
func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{seen: make(map[string]struct{})}
}

// Reserve claims the key if unclaimed.
func (s *MemoryIdempotencyStore) Reserve(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[key]; ok {
		return false, nil
	}
	s.seen[key] = struct{}{}
	return true, nil
}

// RedisIdempotencyStore reserves keys with SETNX so multiple engine
// instances sharing a Redis agree on who owns a dispatch.
type RedisIdempotencyStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisIdempotencyStore creates a store. TTL bounds how long keys are
// retained; zero keeps them for 24h.
func NewRedisIdempotencyStore(client *redis.Client, ttl time.Duration) *RedisIdempotencyStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisIdempotencyStore{client: client, prefix: "beacon:dispatch:", ttl: ttl}
}

// Reserve claims the key if unclaimed.
func (s *RedisIdempotencyStore) Reserve(ctx context.Context, key string) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.prefix+key, time.Now().UTC().Format(time.RFC3339), s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("idempotency reserve failed: %w", err)
	}
	return ok, nil
}

// ClinicianQueue places crisis notices on the on-call clinician queue.
type ClinicianQueue interface {
	NotifyClinician(ctx context.Context, action InterventionAction) error
}

// HotlineGateway carries SMS and hotline traffic: emergency-contact
// messages and hotline alerts.
type HotlineGateway interface {
	NotifyEmergencyContact(ctx context.Context, action InterventionAction) error
	TriggerAlert(ctx context.Context, action InterventionAction) error
}

// PushNotifier pushes resource cards to the user's device.
type PushNotifier interface {
	Push(ctx context.Context, action InterventionAction) error
}

// RetryPolicy bounds delivery retries.
type RetryPolicy struct {
	MaxAttempts    int           `json:"max_attempts"`
	InitialBackoff time.Duration `json:"initial_backoff"`
	MaxBackoff     time.Duration `json:"max_backoff"`
	Multiplier     float64       `json:"multiplier"`
	JitterFraction float64       `json:"jitter_fraction"`
}

// DefaultRetryPolicy returns the default delivery retry tuning.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.2,
	}
}

// backoffFor computes the pause before attempt n (1-based, so attempt 2
// waits the initial backoff).
func (p RetryPolicy) backoffFor(attempt int) time.Duration {
	backoff := float64(p.InitialBackoff)
	for i := 2; i < attempt; i++ {
		backoff *= p.Multiplier
	}
	if limit := float64(p.MaxBackoff); backoff > limit {
		backoff = limit
	}
	if p.JitterFraction > 0 {
		backoff += backoff * p.JitterFraction * rand.Float64()
	}
	return time.Duration(backoff)
}

// ActionResult is what a dispatch call returns: the action as it stands,
// and whether this call performed the delivery or found it already done.
type ActionResult struct {
	Action    InterventionAction `json:"action"`
	Duplicate bool               `json:"duplicate"`
}

// Dispatcher delivers intervention actions to external channels with
// idempotence and bounded retries. A channel failure after retries marks
// the action failed and raises an operational incident; it is never a
// user-facing error and never silent. Dispatched actions are never
// retracted.
type Dispatcher struct {
	idem      IdempotencyStore
	clinician ClinicianQueue
	hotline   HotlineGateway
	push      PushNotifier
	resources *ResourceDirectory
	retry     RetryPolicy
	auditor   AuditSink
	sink      audit.IncidentSink
	logger    *slog.Logger

	mu      sync.RWMutex
	actions map[string]*InterventionAction // by idempotency key
	byID    map[uuid.UUID]*InterventionAction
}

// AuditSink is the slice of the audit appender the escalation package
// needs.
type AuditSink interface {
	Append(ctx context.Context, rec audit.Record) error
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithRetryPolicy overrides the delivery retry tuning. MaxAttempts is
// clamped so at least one delivery is always attempted.
func WithRetryPolicy(p RetryPolicy) DispatcherOption {
	return func(d *Dispatcher) {
		if p.MaxAttempts < 1 {
			p.MaxAttempts = 1
		}
		d.retry = p
	}
}

// WithResources overrides the crisis resource directory.
func WithResources(r *ResourceDirectory) DispatcherOption {
	return func(d *Dispatcher) { d.resources = r }
}

// NewDispatcher wires the dispatcher. Channels may be nil in partial
// deployments; dispatching to a nil channel fails delivery and raises an
// incident rather than panicking.
func NewDispatcher(idem IdempotencyStore, clinician ClinicianQueue, hotline HotlineGateway,
	push PushNotifier, auditor AuditSink, sink audit.IncidentSink, logger *slog.Logger,
	opts ...DispatcherOption) *Dispatcher {
	if idem == nil {
		idem = NewMemoryIdempotencyStore()
	}
	if sink == nil {
		sink = &audit.LogIncidentSink{Logger: logger}
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		idem:      idem,
		clinician: clinician,
		hotline:   hotline,
		push:      push,
		resources: DefaultResourceDirectory(),
		retry:     DefaultRetryPolicy(),
		auditor:   auditor,
		sink:      sink,
		logger:    logger.With("component", "dispatcher"),
		actions:   make(map[string]*InterventionAction),
		byID:      make(map[uuid.UUID]*InterventionAction),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch delivers one action exactly once per idempotency key. A
// duplicate call returns the existing action without a second delivery
// attempt sequence.
func (d *Dispatcher) Dispatch(ctx context.Context, userID string, actionType ActionType,
	assessmentID uuid.UUID, region string) (ActionResult, error) {
	if !actionType.Valid() {
		return ActionResult{}, fmt.Errorf("unknown action type %q", actionType)
	}
	key := IdempotencyKey(userID, actionType, assessmentID)

	won, err := d.idem.Reserve(ctx, key)
	if err != nil {
		// An unreachable idempotency store must not stop a safety
		// action: deliver anyway (at-least-once) and flag the risk.
		d.logger.Warn("idempotency store unavailable, dispatching at-least-once",
			"key", key, "error", err)
		won = true
	}
	if !won {
		if existing := d.byKey(key); existing != nil {
			return ActionResult{Action: *existing, Duplicate: true}, nil
		}
		// Another instance owns the key.
		return ActionResult{Duplicate: true}, nil
	}

	action := &InterventionAction{
		ID:             uuid.New(),
		UserID:         userID,
		ActionType:     actionType,
		Status:         StatusPending,
		IdempotencyKey: key,
		AssessmentID:   assessmentID,
		CreatedAt:      time.Now().UTC(),
	}
	if actionType == ActionDisplayResources {
		action.Payload = resourcePayload(d.resources.ForRegion(region))
	}
	d.mu.Lock()
	d.actions[key] = action
	d.byID[action.ID] = action
	d.mu.Unlock()

	d.deliver(ctx, action)
	return ActionResult{Action: *action}, nil
}

// deliver runs the retry loop and settles the action's status, audit
// record and, on exhaustion, the operational incident.
func (d *Dispatcher) deliver(ctx context.Context, action *InterventionAction) {
	var lastErr error
retries:
	for attempt := 1; attempt <= d.retry.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(d.retry.backoffFor(attempt)):
			case <-ctx.Done():
				lastErr = ctx.Err()
				break retries
			}
		}
		d.mu.Lock()
		action.Attempts = attempt
		d.mu.Unlock()

		lastErr = d.send(ctx, *action)
		if lastErr == nil {
			d.mu.Lock()
			action.Status = StatusDispatched
			action.DispatchedAt = time.Now().UTC()
			d.mu.Unlock()
			d.audit(ctx, *action, "")
			d.logger.Info("action dispatched",
				"action_id", action.ID, "user_id", action.UserID,
				"action_type", action.ActionType, "attempts", attempt)
			return
		}
		d.logger.Warn("delivery attempt failed",
			"action_id", action.ID, "action_type", action.ActionType,
			"attempt", attempt, "error", lastErr)
	}

	d.mu.Lock()
	action.Status = StatusFailed
	d.mu.Unlock()
	d.audit(ctx, *action, lastErr.Error())
	d.sink.Raise(audit.NewIncident("dispatcher", action.UserID, action.ID.String(),
		fmt.Sprintf("%s delivery exhausted retries", action.ActionType),
		map[string]string{"error": lastErr.Error(), "attempts": fmt.Sprint(action.Attempts)}))
}

// send routes the action to its channel.
func (d *Dispatcher) send(ctx context.Context, action InterventionAction) error {
	switch action.ActionType {
	case ActionDisplayResources:
		if d.push == nil {
			return fmt.Errorf("no push notifier configured")
		}
		return d.push.Push(ctx, action)
	case ActionNotifyClinician:
		if d.clinician == nil {
			return fmt.Errorf("no clinician queue configured")
		}
		return d.clinician.NotifyClinician(ctx, action)
	case ActionNotifyEmergencyContact:
		if d.hotline == nil {
			return fmt.Errorf("no hotline gateway configured")
		}
		return d.hotline.NotifyEmergencyContact(ctx, action)
	case ActionTriggerHotlineAlert:
		if d.hotline == nil {
			return fmt.Errorf("no hotline gateway configured")
		}
		return d.hotline.TriggerAlert(ctx, action)
	}
	return fmt.Errorf("unknown action type %q", action.ActionType)
}

// Acknowledge marks a dispatched action acknowledged by a responder.
func (d *Dispatcher) Acknowledge(ctx context.Context, actionID uuid.UUID) error {
	d.mu.Lock()
	action, ok := d.byID[actionID]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("unknown action %s", actionID)
	}
	if action.Status != StatusDispatched {
		status := action.Status
		d.mu.Unlock()
		return fmt.Errorf("action %s is %s, not dispatched", actionID, status)
	}
	action.Status = StatusAcknowledged
	snapshot := *action
	d.mu.Unlock()

	d.audit(ctx, snapshot, "")
	return nil
}

// Action returns a copy of a tracked action.
func (d *Dispatcher) Action(actionID uuid.UUID) (InterventionAction, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if a, ok := d.byID[actionID]; ok {
		return *a, true
	}
	return InterventionAction{}, false
}

func (d *Dispatcher) byKey(key string) *InterventionAction {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.actions[key]
}

func (d *Dispatcher) audit(ctx context.Context, action InterventionAction, deliveryErr string) {
	if d.auditor == nil {
		return
	}
	detail := map[string]string{
		"action_type":     string(action.ActionType),
		"status":          string(action.Status),
		"idempotency_key": action.IdempotencyKey,
		"attempts":        fmt.Sprint(action.Attempts),
	}
	if deliveryErr != "" {
		detail["error"] = deliveryErr
	}
	_ = d.auditor.Append(ctx, audit.NewRecord(audit.KindAction, action.UserID, action.ID.String(), detail))
}

func resourcePayload(resources []CrisisResource) map[string]string {
	payload := make(map[string]string, len(resources))
	for _, r := range resources {
		payload[r.Name] = r.Phone
	}
	return payload
}
