package escalation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mindhaven/beacon/pkg/audit"
	"github.com/mindhaven/beacon/pkg/detect"
)

// DefaultCooldown is the per-(user, actionType) repeat-suppression window.
const DefaultCooldown = 10 * time.Minute

// TransitionResult reports what one Apply call did.
type TransitionResult struct {
	From       UserState            `json:"from"`
	To         UserState            `json:"to"`
	Band       detect.Band          `json:"band"`
	Dispatched []InterventionAction `json:"dispatched,omitempty"`
}

// Machine owns every user's escalation state. Apply commits a transition
// together with its audit record or not at all, then dispatches whatever
// actions the transition selected. Every mutation of a user's state
// happens under that user's slot lock: Apply arrives on the user's
// sequential engine lane, but Resolve arrives on clinician goroutines,
// so lane ordering alone cannot serialize them.
type Machine struct {
	cooldown   time.Duration
	dispatcher *Dispatcher
	auditor    AuditSink
	logger     *slog.Logger
	now        func() time.Time

	mu    sync.Mutex
	users map[string]*userSlot
}

// userSlot pairs one user's state with the lock serializing its
// mutations.
type userSlot struct {
	mu    sync.Mutex
	state *UserRiskState
}

// NewMachine creates a machine. Zero cooldown uses the default.
func NewMachine(dispatcher *Dispatcher, auditor AuditSink, cooldown time.Duration, logger *slog.Logger) *Machine {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		cooldown:   cooldown,
		dispatcher: dispatcher,
		auditor:    auditor,
		logger:     logger.With("component", "escalation"),
		now:        time.Now,
		users:      make(map[string]*userSlot),
	}
}

// slot returns the user's slot, creating it on first sight.
func (m *Machine) slot(userID string) *userSlot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.users[userID]
	if !ok {
		s = &userSlot{state: NewUserRiskState(userID)}
		m.users[userID] = s
	}
	return s
}

// lookup returns the user's slot without creating one.
func (m *Machine) lookup(userID string) (*userSlot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.users[userID]
	return s, ok
}

// Apply runs one assessment through the transition table. The state
// mutation is committed only after the transition's audit record is
// accepted; a refused audit write leaves the user state untouched and
// returns the error.
func (m *Machine) Apply(ctx context.Context, a detect.RiskAssessment) (TransitionResult, error) {
	slot := m.slot(a.UserID)
	slot.mu.Lock()
	defer slot.mu.Unlock()
	state := slot.state

	now := m.now()
	decision := Decide(state, a.Band, now)

	// Gate everything except the hotline row, which Decide already
	// gated because its cooldown is part of the table itself.
	actions := decision.Actions[:0:0]
	for _, at := range decision.Actions {
		if at != ActionTriggerHotlineAlert && state.inCooldown(at, a.Band, now) {
			m.logger.Debug("action suppressed by cooldown",
				"user_id", a.UserID, "action_type", at, "band", a.Band)
			continue
		}
		actions = append(actions, at)
	}

	result := TransitionResult{From: state.State, To: decision.Next, Band: a.Band}

	rec := audit.NewRecord(audit.KindTransition, a.UserID, a.SignalID.String(), map[string]string{
		"from":  string(result.From),
		"to":    string(result.To),
		"band":  string(a.Band),
		"score": fmt.Sprintf("%.2f", a.AggregateScore),
	})
	if err := m.auditor.Append(ctx, rec); err != nil {
		return TransitionResult{}, fmt.Errorf("transition audit refused, transition aborted: %w", err)
	}

	// Commit.
	state.State = decision.Next
	state.CurrentBand = a.Band
	state.recordAssessment(a)
	if len(actions) > 0 {
		state.LastEscalationAt = now
		state.CooldownUntil = now.Add(m.cooldown)
		for _, at := range actions {
			state.Cooldowns[at] = Cooldown{Until: now.Add(m.cooldown), ArmedBand: a.Band}
		}
	}

	if result.From != result.To {
		m.logger.Info("state transition",
			"user_id", a.UserID, "from", result.From, "to", result.To, "band", a.Band)
	}

	for _, at := range actions {
		res, err := m.dispatcher.Dispatch(ctx, a.UserID, at, a.SignalID, regionOf(a))
		if err != nil {
			m.logger.Error("dispatch refused", "user_id", a.UserID, "action_type", at, "error", err)
			continue
		}
		if !res.Duplicate {
			result.Dispatched = append(result.Dispatched, res.Action)
		}
	}
	return result, nil
}

// Resolve records an explicit clinician resolution, the only path into
// the resolved state.
func (m *Machine) Resolve(ctx context.Context, userID, clinicianID string) error {
	slot, ok := m.lookup(userID)
	if !ok {
		return fmt.Errorf("no risk state for user %s", userID)
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	state := slot.state
	if state.State != StateCrisisActive {
		return fmt.Errorf("user %s is %s, not in active crisis", userID, state.State)
	}

	rec := audit.NewRecord(audit.KindTransition, userID, "", map[string]string{
		"from":        string(state.State),
		"to":          string(StateResolved),
		"resolved_by": clinicianID,
	})
	if err := m.auditor.Append(ctx, rec); err != nil {
		return fmt.Errorf("resolution audit refused: %w", err)
	}

	state.State = StateResolved
	state.CurrentBand = detect.BandNone
	m.logger.Info("crisis resolved", "user_id", userID, "clinician_id", clinicianID)
	return nil
}

// State returns a deep copy of a user's risk state, sharing no storage
// with the live one.
func (m *Machine) State(userID string) (UserRiskState, bool) {
	slot, ok := m.lookup(userID)
	if !ok {
		return UserRiskState{}, false
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return slot.state.Clone(), true
}

// regionOf extracts the dispatch region from an assessment's locale.
func regionOf(a detect.RiskAssessment) string {
	if len(a.Locale) >= 5 {
		return a.Locale[len(a.Locale)-2:]
	}
	return ""
}
