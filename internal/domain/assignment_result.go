package domain

// AssignmentResult is returned for every single-ticket assignment intent.
type AssignmentResult struct {
	Success           bool
	AssignmentID      string
	LockAcquired      bool
	ConflictDetected  bool
	ConflictID        string
	OverrodeConflict  bool
	NotificationsSent int
	CurrentHolder     *AssignmentLock
	CurrentAssigneeID string
	ErrorCode         string
	ErrorMessage      string
}

// BulkItem is one ticket/assignee pair in a batch.
type BulkItem struct {
	TicketID   string
	AssigneeID string
}

// BulkItemResult reports the outcome of one batch entry.
type BulkItemResult struct {
	TicketID   string
	AssigneeID string
	Result     AssignmentResult
}

// InvalidBulkItem names a batch entry that failed pre-validation.
type InvalidBulkItem struct {
	TicketID string
	Code     string
	Reason   string
}

// BulkAssignmentResult reports a validated batch of independent assignments.
type BulkAssignmentResult struct {
	Validated bool
	Invalid   []InvalidBulkItem
	Results   []BulkItemResult
	Succeeded int
	Failed    int
}

// UnassignResult reports a ticket returned to the pool.
type UnassignResult struct {
	TicketID           string
	PreviousAssigneeID string
	RecordID           string
	NotificationsSent  int
}
