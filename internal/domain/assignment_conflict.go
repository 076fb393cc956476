package domain

import "time"

// ResolutionStrategy names a tie-break policy for concurrent claims.
type ResolutionStrategy string

const (
	StrategyFirstComeFirstServe ResolutionStrategy = "first_come_first_serve"
	StrategyAdminPriority       ResolutionStrategy = "admin_priority"
	StrategyManualReview        ResolutionStrategy = "manual_review"
)

// Valid reports whether the strategy is supported.
func (s ResolutionStrategy) Valid() bool {
	switch s {
	case StrategyFirstComeFirstServe, StrategyAdminPriority, StrategyManualReview:
		return true
	}
	return false
}

// AssignmentConflict records two or more actors contending for one ticket.
type AssignmentConflict struct {
	ID                 string
	TicketID           string
	DetectedAt         time.Time
	ResolutionStrategy ResolutionStrategy
	ResolvedAt         *time.Time
	ResolvedBy         *string
	Attempts           []ConflictAttempt
}

// Resolved reports whether a winner has been chosen.
func (c *AssignmentConflict) Resolved() bool {
	return c != nil && c.ResolvedAt != nil
}

// ConflictAttempt is one contender's claim within a conflict.
type ConflictAttempt struct {
	ID                  string
	ConflictID          string
	AttempterID         string
	AttempterRole       Role
	AttemptedAssigneeID string
	AttemptTimestamp    time.Time
	WasSuccessful       bool
}
