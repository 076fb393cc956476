package domain

import "time"

// AssignmentRecord is an append-only audit entry for one assignment.
// UnassignedAt is the only field ever set after creation.
type AssignmentRecord struct {
	ID               string
	Sequence         int64
	TicketID         string
	AssignerID       string
	AssignerRole     Role
	AssigneeID       string
	AssignedAt       time.Time
	UnassignedAt     *time.Time
	Reason           string
	WasConflicted    bool
	OverrodeConflict bool
	SelfAssigned     bool
}

// Open reports whether the record still describes the current assignment.
func (r *AssignmentRecord) Open() bool {
	return r != nil && r.UnassignedAt == nil
}
