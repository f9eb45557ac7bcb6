package escalation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mindhaven/beacon/pkg/audit"
	"github.com/mindhaven/beacon/pkg/detect"
)

func newTestMachine(t *testing.T) (*Machine, *fakeChannels, *audit.MemoryStore, *audit.CollectingSink) {
	t.Helper()
	ch := &fakeChannels{}
	store := audit.NewMemoryStore()
	sink := &audit.CollectingSink{}
	d := NewDispatcher(NewMemoryIdempotencyStore(), ch, ch, ch, store, sink, nil,
		WithRetryPolicy(fastRetry()))
	m := NewMachine(d, store, 10*time.Minute, nil)
	return m, ch, store, sink
}

func assessment(userID string, band detect.Band, score float64) detect.RiskAssessment {
	return detect.RiskAssessment{
		SignalID:       uuid.New(),
		UserID:         userID,
		Band:           band,
		AggregateScore: score,
		ComputedAt:     time.Now().UTC(),
	}
}

func dispatchedTypes(result TransitionResult) map[ActionType]bool {
	types := make(map[ActionType]bool)
	for _, a := range result.Dispatched {
		types[a.ActionType] = true
	}
	return types
}

func TestApplyCriticalFromMonitoring(t *testing.T) {
	m, ch, store, _ := newTestMachine(t)

	result, err := m.Apply(context.Background(), assessment("u1", detect.BandCritical, 10))
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if result.From != StateMonitoring || result.To != StateCrisisActive {
		t.Errorf("transition %v -> %v, want monitoring -> crisis_active in one step", result.From, result.To)
	}
	types := dispatchedTypes(result)
	if !types[ActionNotifyClinician] || !types[ActionNotifyEmergencyContact] {
		t.Errorf("critical escalation should dispatch clinician and emergency contact, got %v", result.Dispatched)
	}
	if ch.count() != 2 {
		t.Errorf("expected 2 deliveries, got %d", ch.count())
	}
	if got := store.ByKind(audit.KindTransition); len(got) != 1 {
		t.Errorf("expected one transition audit record, got %d", len(got))
	}
	// Property: every dispatched action has exactly one audit record.
	if got := store.ByKind(audit.KindAction); len(got) != 2 {
		t.Errorf("expected one audit record per dispatched action, got %d", len(got))
	}
}

func TestApplyLowBandNoAction(t *testing.T) {
	m, ch, _, _ := newTestMachine(t)

	result, err := m.Apply(context.Background(), assessment("u1", detect.BandLow, 2.5))
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if result.To != StateMonitoring {
		t.Errorf("low band should stay monitoring, got %v", result.To)
	}
	if len(result.Dispatched) != 0 || ch.count() != 0 {
		t.Errorf("low band should dispatch nothing, got %v", result.Dispatched)
	}
}

func TestApplyRepeatCriticalInsideCooldown(t *testing.T) {
	m, ch, _, _ := newTestMachine(t)
	ctx := context.Background()

	first, err := m.Apply(ctx, assessment("u1", detect.BandCritical, 10))
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if len(first.Dispatched) != 2 {
		t.Fatalf("first critical should dispatch 2 actions, got %d", len(first.Dispatched))
	}

	// Second identical critical within the cooldown window: the
	// emergency contact is not re-notified, but the hotline alert is a
	// fresh action and still fires.
	second, err := m.Apply(ctx, assessment("u1", detect.BandCritical, 10))
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	types := dispatchedTypes(second)
	if types[ActionNotifyEmergencyContact] {
		t.Error("emergency contact should be suppressed inside the cooldown window")
	}
	if !types[ActionTriggerHotlineAlert] {
		t.Errorf("repeat critical should trigger the hotline alert, got %v", second.Dispatched)
	}
	if ch.count() != 3 {
		t.Errorf("expected 3 total deliveries, got %d", ch.count())
	}
}

func TestApplyEscalationLadder(t *testing.T) {
	m, _, _, _ := newTestMachine(t)
	ctx := context.Background()

	r1, err := m.Apply(ctx, assessment("u1", detect.BandModerate, 5))
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if r1.To != StateElevated {
		t.Fatalf("moderate should elevate, got %v", r1.To)
	}
	if !dispatchedTypes(r1)[ActionDisplayResources] {
		t.Errorf("elevation should display resources, got %v", r1.Dispatched)
	}

	r2, err := m.Apply(ctx, assessment("u1", detect.BandHigh, 6.5))
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if r2.To != StateCrisisActive {
		t.Fatalf("high from elevated should reach crisis, got %v", r2.To)
	}
	types := dispatchedTypes(r2)
	if !types[ActionNotifyClinician] || !types[ActionNotifyEmergencyContact] {
		t.Errorf("crisis entry should notify clinician and emergency contact, got %v", r2.Dispatched)
	}
}

func TestApplyAbortsWhenAuditRefused(t *testing.T) {
	ch := &fakeChannels{}
	store := audit.NewMemoryStore()
	sink := &audit.CollectingSink{}
	d := NewDispatcher(NewMemoryIdempotencyStore(), ch, ch, ch, store, sink, nil,
		WithRetryPolicy(fastRetry()))
	// The machine writes straight to the store here, so a refusal
	// reaches it instead of being absorbed by the retrying appender.
	m := NewMachine(d, store, time.Minute, nil)

	store.FailNext(1)
	if _, err := m.Apply(context.Background(), assessment("u1", detect.BandCritical, 10)); err == nil {
		t.Fatal("refused audit write should abort the transition")
	}
	if ch.count() != 0 {
		t.Error("aborted transition must not dispatch actions")
	}
	if st, ok := m.State("u1"); ok && st.State != StateMonitoring {
		t.Errorf("aborted transition must leave state uncommitted, got %v", st.State)
	}

	// The same assessment succeeds once the store recovers.
	result, err := m.Apply(context.Background(), assessment("u1", detect.BandCritical, 10))
	if err != nil {
		t.Fatalf("apply failed after store recovery: %v", err)
	}
	if result.To != StateCrisisActive {
		t.Errorf("recovered apply should escalate, got %v", result.To)
	}
}

func TestResolve(t *testing.T) {
	m, _, store, _ := newTestMachine(t)
	ctx := context.Background()

	if err := m.Resolve(ctx, "u1", "clin-1"); err == nil {
		t.Error("resolving an unknown user should error")
	}

	if _, err := m.Apply(ctx, assessment("u1", detect.BandCritical, 10)); err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if err := m.Resolve(ctx, "u1", "clin-1"); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	st, ok := m.State("u1")
	if !ok || st.State != StateResolved {
		t.Errorf("state = %v, want resolved", st.State)
	}
	if err := m.Resolve(ctx, "u1", "clin-1"); err == nil {
		t.Error("resolving a user not in crisis should error")
	}

	// detected -> acknowledged -> resolved leaves a transition trail.
	if got := store.ByKind(audit.KindTransition); len(got) != 2 {
		t.Errorf("expected 2 transition records, got %d", len(got))
	}

	// A later elevated signal re-enters the ladder from the top.
	result, err := m.Apply(ctx, assessment("u1", detect.BandModerate, 5))
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if result.To != StateElevated {
		t.Errorf("resolved user should re-enter as monitoring->elevated, got %v", result.To)
	}
}

func TestMachineConcurrentApplyAndResolve(t *testing.T) {
	m, _, _, _ := newTestMachine(t)
	ctx := context.Background()

	// Apply arrives on the user's engine lane while Resolve arrives on a
	// clinician goroutine; both mutate the same user state and must be
	// serialized by the machine itself.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			if _, err := m.Apply(ctx, assessment("u1", detect.BandCritical, 10)); err != nil {
				t.Errorf("apply failed: %v", err)
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			// Errors are expected whenever the user is not in crisis.
			_ = m.Resolve(ctx, "u1", "clin-1")
		}
	}()
	wg.Wait()

	st, ok := m.State("u1")
	if !ok {
		t.Fatal("user state missing after concurrent use")
	}
	if st.State != StateCrisisActive && st.State != StateResolved {
		t.Errorf("state = %v, want crisis_active or resolved", st.State)
	}
}

func TestStateReturnsDetachedCopy(t *testing.T) {
	m, _, _, _ := newTestMachine(t)
	ctx := context.Background()

	if _, err := m.Apply(ctx, assessment("u1", detect.BandModerate, 5)); err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	st, ok := m.State("u1")
	if !ok || len(st.History) != 1 {
		t.Fatalf("unexpected state %+v", st)
	}

	// Mutating the returned copy must not reach the live state.
	st.History[0].Score = 0
	st.Cooldowns[ActionTriggerHotlineAlert] = Cooldown{
		Until: time.Now().Add(time.Hour), ArmedBand: detect.BandCritical,
	}

	again, _ := m.State("u1")
	if again.History[0].Score != 5 {
		t.Error("returned history shares storage with the live state")
	}
	if _, armed := again.Cooldowns[ActionTriggerHotlineAlert]; armed {
		t.Error("returned cooldown map shares storage with the live state")
	}
}
