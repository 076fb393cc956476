package events

import (
	"time"

	"github.com/helpdesk-labs/ticket-assignment/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketAssigned     EventType = "ticket_assigned"
	EventTicketUnassigned   EventType = "ticket_unassigned"
	EventLockOverridden     EventType = "lock_overridden"
	EventAssignmentConflict EventType = "assignment_conflict"
	EventConflictResolved   EventType = "conflict_resolved"
)

// AllEventTypes lists every type the service publishes.
var AllEventTypes = []EventType{
	EventTicketAssigned,
	EventTicketUnassigned,
	EventLockOverridden,
	EventAssignmentConflict,
	EventConflictResolved,
}

// Actor identifies who caused an event.
type Actor struct {
	ID   string      `json:"id"`
	Role domain.Role `json:"role"`
}

// Event represents a domain event emitted by services. Recipients are the
// users to notify and are not part of the published payload.
type Event struct {
	ID         string      `json:"id"`
	Type       EventType   `json:"type"`
	TicketID   string      `json:"ticket_id"`
	Actor      Actor       `json:"actor"`
	Timestamp  time.Time   `json:"timestamp"`
	Payload    interface{} `json:"payload"`
	Recipients []string    `json:"-"`
}

// TicketAssignedPayload payload.
type TicketAssignedPayload struct {
	AssignmentID     string `json:"assignment_id"`
	AssigneeID       string `json:"assignee_id"`
	Reason           string `json:"reason,omitempty"`
	SelfAssigned     bool   `json:"self_assigned"`
	OverrodeConflict bool   `json:"overrode_conflict"`
}

// TicketUnassignedPayload payload.
type TicketUnassignedPayload struct {
	PreviousAssigneeID string `json:"previous_assignee_id"`
	Reason             string `json:"reason,omitempty"`
}

// LockOverriddenPayload payload.
type LockOverriddenPayload struct {
	DisplacedHolderID   string `json:"displaced_holder_id"`
	DisplacedHolderName string `json:"displaced_holder_name"`
	ConflictID          string `json:"conflict_id,omitempty"`
}

// ConflictPayload payload for detected and resolved conflicts.
type ConflictPayload struct {
	ConflictID string                    `json:"conflict_id"`
	Strategy   domain.ResolutionStrategy `json:"strategy"`
	Attempters []string                  `json:"attempters"`
	Resolved   bool                      `json:"resolved"`
	WinnerID   string                    `json:"winner_id,omitempty"`
}
