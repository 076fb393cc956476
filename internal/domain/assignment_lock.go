package domain

import "time"

// AssignmentLock is a time-bounded reservation to assign one ticket.
type AssignmentLock struct {
	ID         string
	TicketID   string
	HolderID   string
	HolderName string
	HolderRole Role
	AcquiredAt time.Time
	ExpiresAt  time.Time
	Active     bool
}

// LiveAt reports whether the lock still reserves the ticket at now.
func (l *AssignmentLock) LiveAt(now time.Time) bool {
	return l != nil && l.Active && now.Before(l.ExpiresAt)
}

// LockResult is the outcome of an acquisition attempt.
type LockResult struct {
	Acquired      bool
	Refreshed     bool
	LockID        string
	AcquiredAt    time.Time
	ExpiresAt     time.Time
	CurrentHolder *AssignmentLock
	WaitTime      time.Duration
}

// LockStatus is a read-only view of a ticket's reservation.
type LockStatus struct {
	IsLocked     bool
	LockedBy     string
	LockedByName string
	LockedByRole Role
	ExpiresAt    *time.Time
}
