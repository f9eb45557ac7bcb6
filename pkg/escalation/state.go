package escalation

import (
	"time"

	"github.com/google/uuid"

	"github.com/mindhaven/beacon/pkg/detect"
)

// UserState is a user's position in the escalation lifecycle. Cooldown is
// not a separate state: it is the per-action gating recorded on
// UserRiskState, so the lifecycle itself stays a simple ladder.
type UserState string

const (
	StateMonitoring   UserState = "monitoring"
	StateElevated     UserState = "elevated"
	StateCrisisActive UserState = "crisis_active"
	StateResolved     UserState = "resolved"
)

// String implements fmt.Stringer.
func (s UserState) String() string { return string(s) }

// Cooldown records one armed per-action cooldown: the window end and the
// band that armed it. A repeat of the same action is suppressed inside
// the window unless the incoming band strictly exceeds ArmedBand.
type Cooldown struct {
	Until     time.Time   `json:"until"`
	ArmedBand detect.Band `json:"armed_band"`
}

// AssessmentRef is the bounded-history view of a past assessment kept on
// the user state.
type AssessmentRef struct {
	ID    uuid.UUID   `json:"id"`
	Band  detect.Band `json:"band"`
	Score float64     `json:"score"`
	At    time.Time   `json:"at"`
}

// historyCap bounds the per-user assessment history kept on state.
const historyCap = 10

// UserRiskState is the long-lived per-user escalation state. It is
// mutated only while the Machine holds the user's slot lock, so a
// signal on the engine lane and a clinician resolution can never race
// a transition decision.
type UserRiskState struct {
	UserID           string                  `json:"user_id"`
	State            UserState               `json:"state"`
	CurrentBand      detect.Band             `json:"current_band"`
	LastEscalationAt time.Time               `json:"last_escalation_at,omitempty"`
	CooldownUntil    time.Time               `json:"cooldown_until,omitempty"`
	Cooldowns        map[ActionType]Cooldown `json:"cooldowns,omitempty"`
	History          []AssessmentRef         `json:"history,omitempty"`
}

// NewUserRiskState returns the initial state for a user.
func NewUserRiskState(userID string) *UserRiskState {
	return &UserRiskState{
		UserID:      userID,
		State:       StateMonitoring,
		CurrentBand: detect.BandNone,
		Cooldowns:   make(map[ActionType]Cooldown),
	}
}

// Clone returns a deep copy sharing no storage with s.
func (s *UserRiskState) Clone() UserRiskState {
	cp := *s
	cp.Cooldowns = make(map[ActionType]Cooldown, len(s.Cooldowns))
	for k, v := range s.Cooldowns {
		cp.Cooldowns[k] = v
	}
	cp.History = append([]AssessmentRef(nil), s.History...)
	return cp
}

// inCooldown reports whether the action is suppressed at now. A band
// strictly above the arming band bypasses the window: escalation is
// never rate-limited upward.
func (s *UserRiskState) inCooldown(action ActionType, band detect.Band, now time.Time) bool {
	cd, ok := s.Cooldowns[action]
	if !ok || now.After(cd.Until) || now.Equal(cd.Until) {
		return false
	}
	return !band.Above(cd.ArmedBand)
}

// recordAssessment appends to the bounded history window.
func (s *UserRiskState) recordAssessment(a detect.RiskAssessment) {
	s.History = append(s.History, AssessmentRef{
		ID:    a.SignalID,
		Band:  a.Band,
		Score: a.AggregateScore,
		At:    a.ComputedAt,
	})
	if len(s.History) > historyCap {
		s.History = s.History[len(s.History)-historyCap:]
	}
}

// Decision is the outcome of one transition-table lookup.
type Decision struct {
	Next    UserState
	Actions []ActionType
}

// Decide applies the transition table to one incoming band. It is a pure
// function of (state, band, now) so every row is directly unit-testable.
// Cooldown gating of the returned actions happens in the Machine; the
// one exception is the repeat-critical hotline row, where the cooldown
// itself is part of the table.
//
//	monitoring/resolved + critical        -> crisis_active {notifyClinician, notifyEmergencyContact}
//	monitoring/resolved + moderate..high  -> elevated      {displayResources}
//	elevated            + high/critical   -> crisis_active {notifyClinician, notifyEmergencyContact}
//	crisis_active       + critical        -> crisis_active {triggerHotlineAlert} (cooldown gated)
//	any                 + band < moderate -> monitoring once CooldownUntil passes
func Decide(s *UserRiskState, band detect.Band, now time.Time) Decision {
	state := s.State
	if state == StateResolved || state == "" {
		state = StateMonitoring
	}

	switch {
	case band == detect.BandCritical:
		if state == StateCrisisActive {
			actions := []ActionType{}
			if !s.inCooldown(ActionTriggerHotlineAlert, band, now) {
				actions = append(actions, ActionTriggerHotlineAlert)
			}
			return Decision{Next: StateCrisisActive, Actions: actions}
		}
		// Critical escalates straight to crisis from anywhere below it.
		return Decision{Next: StateCrisisActive,
			Actions: []ActionType{ActionNotifyClinician, ActionNotifyEmergencyContact}}

	case band == detect.BandHigh:
		switch state {
		case StateCrisisActive:
			return Decision{Next: StateCrisisActive}
		case StateElevated:
			return Decision{Next: StateCrisisActive,
				Actions: []ActionType{ActionNotifyClinician, ActionNotifyEmergencyContact}}
		default:
			return Decision{Next: StateElevated, Actions: []ActionType{ActionDisplayResources}}
		}

	case band == detect.BandModerate:
		switch state {
		case StateCrisisActive:
			// Holding above the de-escalation floor keeps crisis active.
			return Decision{Next: StateCrisisActive}
		case StateElevated:
			return Decision{Next: StateElevated}
		default:
			return Decision{Next: StateElevated, Actions: []ActionType{ActionDisplayResources}}
		}

	default: // none, low
		if now.Before(s.CooldownUntil) {
			// Hold the current state until the window passes.
			return Decision{Next: state}
		}
		return Decision{Next: StateMonitoring}
	}
}
