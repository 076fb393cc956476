package dto

import (
	"time"

	"github.com/helpdesk-labs/ticket-assignment/internal/domain"
)

// AssignRequest payload for POST /assignments.
type AssignRequest struct {
	TicketID   string `json:"ticketId"`
	AssigneeID string `json:"assigneeId"`
	Reason     string `json:"reason"`
	Override   bool   `json:"override"`
}

// ReserveRequest payload for POST /assignments/:ticketId/lock.
type ReserveRequest struct {
	DurationSeconds int `json:"durationSeconds"`
}

// ExtendRequest payload for POST /assignments/:ticketId/lock/extend.
type ExtendRequest struct {
	AdditionalSeconds int `json:"additionalSeconds"`
}

// BulkItemRequest is one entry of a bulk assignment.
type BulkItemRequest struct {
	TicketID   string `json:"ticketId"`
	AssigneeID string `json:"assigneeId"`
}

// BulkAssignRequest payload for POST /assignments/bulk.
type BulkAssignRequest struct {
	Assignments []BulkItemRequest `json:"assignments"`
}

// DistributeRequest payload for POST /assignments/bulk/distribute.
type DistributeRequest struct {
	TicketIDs    []string `json:"ticketIds"`
	DeveloperIDs []string `json:"developerIds"`
}

// UnassignRequest payload for DELETE /assignments/:ticketId.
type UnassignRequest struct {
	Reason string `json:"reason"`
}

// ResolveConflictRequest payload for POST /assignments/conflicts/:conflictId/resolve.
type ResolveConflictRequest struct {
	WinnerAttemptID string `json:"winnerAttemptId"`
}

// LockHolder describes who holds a reservation.
type LockHolder struct {
	HolderID   string      `json:"holderId"`
	HolderName string      `json:"holderName"`
	HolderRole domain.Role `json:"holderRole"`
	AcquiredAt time.Time   `json:"acquiredAt"`
	ExpiresAt  time.Time   `json:"expiresAt"`
}

// AssignmentResult response.
type AssignmentResult struct {
	Success           bool        `json:"success"`
	AssignmentID      string      `json:"assignmentId,omitempty"`
	LockAcquired      bool        `json:"lockAcquired"`
	ConflictDetected  bool        `json:"conflictDetected"`
	ConflictID        string      `json:"conflictId,omitempty"`
	OverrodeConflict  bool        `json:"overrodeConflict"`
	NotificationsSent int         `json:"notificationsSent"`
	CurrentHolder     *LockHolder `json:"currentHolder,omitempty"`
	CurrentAssigneeID string      `json:"currentAssigneeId,omitempty"`
	ErrorCode         string      `json:"errorCode,omitempty"`
	ErrorMessage      string      `json:"errorMessage,omitempty"`
}

// LockResult response.
type LockResult struct {
	Acquired      bool        `json:"acquired"`
	Refreshed     bool        `json:"refreshed"`
	LockID        string      `json:"lockId,omitempty"`
	ExpiresAt     time.Time   `json:"expiresAt"`
	CurrentHolder *LockHolder `json:"currentHolder,omitempty"`
	WaitSeconds   int         `json:"waitSeconds,omitempty"`
}

// LockStatus response.
type LockStatus struct {
	IsLocked     bool        `json:"isLocked"`
	LockedBy     string      `json:"lockedBy,omitempty"`
	LockedByName string      `json:"lockedByName,omitempty"`
	LockedByRole domain.Role `json:"lockedByRole,omitempty"`
	ExpiresAt    *time.Time  `json:"expiresAt,omitempty"`
}

// BulkItemResult response entry.
type BulkItemResult struct {
	TicketID   string           `json:"ticketId"`
	AssigneeID string           `json:"assigneeId"`
	Result     AssignmentResult `json:"result"`
}

// InvalidBulkItem response entry.
type InvalidBulkItem struct {
	TicketID string `json:"ticketId"`
	Code     string `json:"code"`
	Reason   string `json:"reason"`
}

// BulkAssignmentResult response.
type BulkAssignmentResult struct {
	Validated bool              `json:"validated"`
	Invalid   []InvalidBulkItem `json:"invalid,omitempty"`
	Results   []BulkItemResult  `json:"results"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
}

// UnassignResult response.
type UnassignResult struct {
	TicketID           string `json:"ticketId"`
	PreviousAssigneeID string `json:"previousAssigneeId"`
	RecordID           string `json:"recordId,omitempty"`
	NotificationsSent  int    `json:"notificationsSent"`
}

// AssignmentRecord response.
type AssignmentRecord struct {
	ID               string      `json:"id"`
	Sequence         int64       `json:"sequence"`
	TicketID         string      `json:"ticketId"`
	AssignerID       string      `json:"assignerId"`
	AssignerRole     domain.Role `json:"assignerRole"`
	AssigneeID       string      `json:"assigneeId"`
	AssignedAt       time.Time   `json:"assignedAt"`
	UnassignedAt     *time.Time  `json:"unassignedAt,omitempty"`
	Reason           string      `json:"reason,omitempty"`
	WasConflicted    bool        `json:"wasConflicted"`
	OverrodeConflict bool        `json:"overrodeConflict"`
	SelfAssigned     bool        `json:"selfAssigned"`
}

// ConflictAttempt response.
type ConflictAttempt struct {
	ID                  string      `json:"id"`
	AttempterID         string      `json:"attempterId"`
	AttempterRole       domain.Role `json:"attempterRole"`
	AttemptedAssigneeID string      `json:"attemptedAssigneeId,omitempty"`
	AttemptTimestamp    time.Time   `json:"attemptTimestamp"`
	WasSuccessful       bool        `json:"wasSuccessful"`
}

// AssignmentConflict response.
type AssignmentConflict struct {
	ID                 string                    `json:"id"`
	TicketID           string                    `json:"ticketId"`
	DetectedAt         time.Time                 `json:"detectedAt"`
	ResolutionStrategy domain.ResolutionStrategy `json:"resolutionStrategy"`
	ResolvedAt         *time.Time                `json:"resolvedAt,omitempty"`
	ResolvedBy         *string                   `json:"resolvedBy,omitempty"`
	Attempts           []ConflictAttempt         `json:"attempts"`
}

// NotificationResult response.
type NotificationResult struct {
	ID           string                     `json:"id"`
	EventType    string                     `json:"eventType"`
	RecipientID  string                     `json:"recipientId"`
	Channel      domain.NotificationChannel `json:"channel"`
	Status       domain.NotificationStatus  `json:"status"`
	Timestamp    time.Time                  `json:"timestamp"`
	MessageID    string                     `json:"messageId,omitempty"`
	ErrorMessage string                     `json:"errorMessage,omitempty"`
	Attempts     int                        `json:"attempts"`
}

func lockHolder(l *domain.AssignmentLock) *LockHolder {
	if l == nil {
		return nil
	}
	return &LockHolder{
		HolderID:   l.HolderID,
		HolderName: l.HolderName,
		HolderRole: l.HolderRole,
		AcquiredAt: l.AcquiredAt,
		ExpiresAt:  l.ExpiresAt,
	}
}

// FromAssignmentResult maps the domain result.
func FromAssignmentResult(r domain.AssignmentResult) AssignmentResult {
	return AssignmentResult{
		Success:           r.Success,
		AssignmentID:      r.AssignmentID,
		LockAcquired:      r.LockAcquired,
		ConflictDetected:  r.ConflictDetected,
		ConflictID:        r.ConflictID,
		OverrodeConflict:  r.OverrodeConflict,
		NotificationsSent: r.NotificationsSent,
		CurrentHolder:     lockHolder(r.CurrentHolder),
		CurrentAssigneeID: r.CurrentAssigneeID,
		ErrorCode:         r.ErrorCode,
		ErrorMessage:      r.ErrorMessage,
	}
}

// FromLockResult maps the domain result.
func FromLockResult(r domain.LockResult) LockResult {
	return LockResult{
		Acquired:      r.Acquired,
		Refreshed:     r.Refreshed,
		LockID:        r.LockID,
		ExpiresAt:     r.ExpiresAt,
		CurrentHolder: lockHolder(r.CurrentHolder),
		WaitSeconds:   int(r.WaitTime.Round(time.Second).Seconds()),
	}
}

// FromLockStatus maps the domain status.
func FromLockStatus(s domain.LockStatus) LockStatus {
	return LockStatus{
		IsLocked:     s.IsLocked,
		LockedBy:     s.LockedBy,
		LockedByName: s.LockedByName,
		LockedByRole: s.LockedByRole,
		ExpiresAt:    s.ExpiresAt,
	}
}

// FromBulkResult maps the domain result.
func FromBulkResult(r domain.BulkAssignmentResult) BulkAssignmentResult {
	out := BulkAssignmentResult{
		Validated: r.Validated,
		Invalid:   FromInvalidItems(r.Invalid),
		Results:   make([]BulkItemResult, 0, len(r.Results)),
		Succeeded: r.Succeeded,
		Failed:    r.Failed,
	}
	for _, item := range r.Results {
		out.Results = append(out.Results, BulkItemResult{
			TicketID:   item.TicketID,
			AssigneeID: item.AssigneeID,
			Result:     FromAssignmentResult(item.Result),
		})
	}
	return out
}

// FromInvalidItems maps rejected bulk entries.
func FromInvalidItems(items []domain.InvalidBulkItem) []InvalidBulkItem {
	if len(items) == 0 {
		return nil
	}
	out := make([]InvalidBulkItem, 0, len(items))
	for _, item := range items {
		out = append(out, InvalidBulkItem{TicketID: item.TicketID, Code: item.Code, Reason: item.Reason})
	}
	return out
}

// FromUnassignResult maps the domain result.
func FromUnassignResult(r domain.UnassignResult) UnassignResult {
	return UnassignResult{
		TicketID:           r.TicketID,
		PreviousAssigneeID: r.PreviousAssigneeID,
		RecordID:           r.RecordID,
		NotificationsSent:  r.NotificationsSent,
	}
}

// FromRecords maps assignment history.
func FromRecords(records []domain.AssignmentRecord) []AssignmentRecord {
	out := make([]AssignmentRecord, 0, len(records))
	for _, r := range records {
		out = append(out, AssignmentRecord{
			ID:               r.ID,
			Sequence:         r.Sequence,
			TicketID:         r.TicketID,
			AssignerID:       r.AssignerID,
			AssignerRole:     r.AssignerRole,
			AssigneeID:       r.AssigneeID,
			AssignedAt:       r.AssignedAt,
			UnassignedAt:     r.UnassignedAt,
			Reason:           r.Reason,
			WasConflicted:    r.WasConflicted,
			OverrodeConflict: r.OverrodeConflict,
			SelfAssigned:     r.SelfAssigned,
		})
	}
	return out
}

// FromConflict maps one conflict with its attempts.
func FromConflict(c domain.AssignmentConflict) AssignmentConflict {
	out := AssignmentConflict{
		ID:                 c.ID,
		TicketID:           c.TicketID,
		DetectedAt:         c.DetectedAt,
		ResolutionStrategy: c.ResolutionStrategy,
		ResolvedAt:         c.ResolvedAt,
		ResolvedBy:         c.ResolvedBy,
		Attempts:           make([]ConflictAttempt, 0, len(c.Attempts)),
	}
	for _, a := range c.Attempts {
		out.Attempts = append(out.Attempts, ConflictAttempt{
			ID:                  a.ID,
			AttempterID:         a.AttempterID,
			AttempterRole:       a.AttempterRole,
			AttemptedAssigneeID: a.AttemptedAssigneeID,
			AttemptTimestamp:    a.AttemptTimestamp,
			WasSuccessful:       a.WasSuccessful,
		})
	}
	return out
}

// FromConflicts maps a ticket's conflicts.
func FromConflicts(conflicts []domain.AssignmentConflict) []AssignmentConflict {
	out := make([]AssignmentConflict, 0, len(conflicts))
	for _, c := range conflicts {
		out = append(out, FromConflict(c))
	}
	return out
}

// FromNotificationResults maps delivery results.
func FromNotificationResults(results []domain.NotificationResult) []NotificationResult {
	out := make([]NotificationResult, 0, len(results))
	for _, r := range results {
		out = append(out, NotificationResult{
			ID:           r.ID,
			EventType:    r.EventType,
			RecipientID:  r.RecipientID,
			Channel:      r.Channel,
			Status:       r.Status,
			Timestamp:    r.Timestamp,
			MessageID:    r.MessageID,
			ErrorMessage: r.ErrorMessage,
			Attempts:     r.Attempts,
		})
	}
	return out
}
