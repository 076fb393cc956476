package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusOpen       TicketStatus = "OPEN"
	TicketStatusInProgress TicketStatus = "IN_PROGRESS"
	TicketStatusClosed     TicketStatus = "CLOSED"
	TicketStatusCancelled  TicketStatus = "CANCELLED"
)

// Ticket is the slice of the support ticket aggregate that assignment depends on.
type Ticket struct {
	ID              string
	Title           string
	Status          TicketStatus
	AssigneeID      *string
	AssignedBy      *string
	AssignedAt      *time.Time
	AssignmentNotes string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Assignable reports whether the ticket can be claimed.
func (t *Ticket) Assignable() bool {
	return t != nil && t.Status == TicketStatusOpen && t.AssigneeID == nil
}
