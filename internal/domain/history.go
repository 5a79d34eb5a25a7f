package domain

import (
	"time"

	"github.com/google/uuid"
)

// Actor and trigger defaults for audit records.
const (
	ActorSystem = "SYSTEM"

	TriggerAPI           = "API"
	TriggerWebhook       = "WEBHOOK"
	TriggerBackgroundJob = "BACKGROUND_JOB"
)

// Subject identifies the entity a history record belongs to: exactly one
// order or one return request.
type Subject struct {
	Kind Kind   `json:"kind"`
	ID   string `json:"id"`
}

// StateHistory is one immutable entry in an entity's audit trail. A record is
// written for every accepted transition, including creation (PreviousState
// nil). Records are never updated or deleted.
type StateHistory struct {
	ID            string         `json:"id"`
	Subject       Subject        `json:"subject"`
	PreviousState *string        `json:"previous_state"`
	NewState      string         `json:"new_state"`
	Actor         string         `json:"actor"`
	Trigger       string         `json:"trigger"`
	OccurredAt    time.Time      `json:"occurred_at"`
	IPAddress     string         `json:"ip_address,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Notes         string         `json:"notes,omitempty"`
}

// AuditContext carries the request-scoped attribution for a transition.
type AuditContext struct {
	Actor     string
	Trigger   string
	IPAddress string
	Notes     string
	Metadata  map[string]any
}

// NewStateHistory builds an audit record for a transition on the given
// subject, normalizing missing attribution: empty actor becomes SYSTEM,
// empty trigger becomes API. previous is nil for creation records.
func NewStateHistory(subject Subject, previous *string, newState string, audit AuditContext) *StateHistory {
	actor := audit.Actor
	if actor == "" {
		actor = ActorSystem
	}
	trigger := audit.Trigger
	if trigger == "" {
		trigger = TriggerAPI
	}

	return &StateHistory{
		ID:            uuid.New().String(),
		Subject:       subject,
		PreviousState: previous,
		NewState:      newState,
		Actor:         actor,
		Trigger:       trigger,
		OccurredAt:    time.Now().UTC(),
		IPAddress:     audit.IPAddress,
		Metadata:      audit.Metadata,
		Notes:         audit.Notes,
	}
}
