// Package escalation turns risk assessments into user risk-state
// transitions and intervention actions: a per-user state machine with
// cooldown gating, and an idempotent dispatcher that delivers actions to
// external channels with retries.
package escalation

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ActionType identifies an intervention action.
type ActionType string

const (
	// ActionDisplayResources surfaces crisis resources to the user's device.
	ActionDisplayResources ActionType = "displayResources"
	// ActionNotifyClinician places the user on the on-call clinician queue.
	ActionNotifyClinician ActionType = "notifyClinician"
	// ActionNotifyEmergencyContact messages the user's emergency contact.
	ActionNotifyEmergencyContact ActionType = "notifyEmergencyContact"
	// ActionTriggerHotlineAlert alerts the crisis hotline gateway.
	ActionTriggerHotlineAlert ActionType = "triggerHotlineAlert"
)

// Valid reports whether the action type is known.
func (t ActionType) Valid() bool {
	switch t {
	case ActionDisplayResources, ActionNotifyClinician,
		ActionNotifyEmergencyContact, ActionTriggerHotlineAlert:
		return true
	}
	return false
}

// ActionStatus is the lifecycle state of an intervention action.
type ActionStatus string

const (
	StatusPending      ActionStatus = "pending"
	StatusDispatched   ActionStatus = "dispatched"
	StatusFailed       ActionStatus = "failed"
	StatusAcknowledged ActionStatus = "acknowledged"
)

// InterventionAction is one intervention owed to a user. Only the
// dispatcher mutates it, and only until it reaches a terminal status.
type InterventionAction struct {
	ID             uuid.UUID         `json:"id"`
	UserID         string            `json:"user_id"`
	ActionType     ActionType        `json:"action_type"`
	Status         ActionStatus      `json:"status"`
	IdempotencyKey string            `json:"idempotency_key"`
	AssessmentID   uuid.UUID         `json:"assessment_id"`
	Payload        map[string]string `json:"payload,omitempty"`
	Attempts       int               `json:"attempts"`
	CreatedAt      time.Time         `json:"created_at"`
	DispatchedAt   time.Time         `json:"dispatched_at,omitempty"`
}

// IdempotencyKey derives the deterministic dispatch key. Two dispatch
// calls for the same user, action type and triggering assessment always
// collide on it.
func IdempotencyKey(userID string, actionType ActionType, assessmentID uuid.UUID) string {
	return fmt.Sprintf("%s:%s:%s", userID, actionType, assessmentID)
}
