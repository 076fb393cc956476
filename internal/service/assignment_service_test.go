package service

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helpdesk-labs/ticket-assignment/internal/domain"
	"github.com/helpdesk-labs/ticket-assignment/internal/lockstore"
	"github.com/helpdesk-labs/ticket-assignment/internal/repository"
	apperrors "github.com/helpdesk-labs/ticket-assignment/pkg/util/errorutil"
)

func TestAdminAssignsOpenTicket(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.InitiateAssignment(ctx, admin, AssignmentRequest{TicketID: "T-1", AssigneeID: "dev-1", Reason: "customer escalated"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.LockAcquired)
	assert.False(t, res.ConflictDetected)
	assert.NotEmpty(t, res.AssignmentID)
	assert.Equal(t, 2, res.NotificationsSent)

	ticket := f.ticket(t, "T-1")
	require.NotNil(t, ticket.AssigneeID)
	assert.Equal(t, "dev-1", *ticket.AssigneeID)
	assert.Equal(t, domain.TicketStatusInProgress, ticket.Status)

	status, err := f.svc.LockStatus(ctx, "T-1")
	require.NoError(t, err)
	assert.False(t, status.IsLocked, "assignment releases the reservation")

	history, err := f.svc.History(ctx, "T-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, res.AssignmentID, history[0].ID)
	assert.Equal(t, domain.RoleAdmin, history[0].AssignerRole)
	assert.Equal(t, "customer escalated", history[0].Reason)
	assert.False(t, history[0].SelfAssigned)

	assert.Equal(t, []string{"ticket_assigned"}, f.inboxKinds("dev-1"))
	assert.Equal(t, []string{"dev-1"}, f.email.recipients())
}

func TestDeveloperSelfAssignSkipsLock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.InitiateAssignment(ctx, dev1, AssignmentRequest{TicketID: "T-2", AssigneeID: "dev-1"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.False(t, res.LockAcquired)

	history, err := f.svc.History(ctx, "T-2")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, history[0].SelfAssigned)
	assert.Equal(t, domain.RoleDeveloper, history[0].AssignerRole)
	assert.Equal(t, "dev-1", history[0].AssigneeID)
}

func TestAuthorityChecks(t *testing.T) {
	tests := []struct {
		name     string
		assigner AssignerContext
		req      AssignmentRequest
		code     string
	}{
		{"developer assigns someone else", dev1, AssignmentRequest{TicketID: "T-1", AssigneeID: "dev-2"}, apperrors.CodePermissionDenied},
		{"client assigns", client, AssignmentRequest{TicketID: "T-1", AssigneeID: "dev-1"}, apperrors.CodePermissionDenied},
		{"client with blank assignee", client, AssignmentRequest{TicketID: "T-1"}, apperrors.CodePermissionDenied},
		{"manager overrides with blank ticket", pm, AssignmentRequest{AssigneeID: "dev-1", Override: true}, apperrors.CodePermissionDenied},
		{"manager overrides", pm, AssignmentRequest{TicketID: "T-1", AssigneeID: "dev-1", Override: true}, apperrors.CodePermissionDenied},
		{"inactive assignee", admin, AssignmentRequest{TicketID: "T-1", AssigneeID: "dev-9"}, apperrors.CodeValidationFailed},
		{"assignee not a developer", admin, AssignmentRequest{TicketID: "T-1", AssigneeID: "pm-1"}, apperrors.CodeValidationFailed},
		{"unknown assignee", admin, AssignmentRequest{TicketID: "T-1", AssigneeID: "ghost"}, apperrors.CodeNotFound},
		{"unknown ticket", admin, AssignmentRequest{TicketID: "T-404", AssigneeID: "dev-1"}, apperrors.CodeNotFound},
		{"missing ticket id", admin, AssignmentRequest{AssigneeID: "dev-1"}, apperrors.CodeValidationFailed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			res, err := f.svc.InitiateAssignment(context.Background(), tc.assigner, tc.req)
			require.Error(t, err)
			assert.True(t, apperrors.HasCode(err, tc.code), "got %v", err)
			assert.False(t, res.Success)
			assert.Equal(t, tc.code, res.ErrorCode)
			if tc.req.TicketID == "T-1" {
				assert.Nil(t, f.ticket(t, "T-1").AssigneeID)
			}
		})
	}
}

func TestAssignRejectsTicketsThatAreNotUnassigned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.db.PutTicket(domain.Ticket{ID: "T-closed", Status: domain.TicketStatusClosed})

	_, err := f.svc.InitiateAssignment(ctx, dev2, AssignmentRequest{TicketID: "T-1", AssigneeID: "dev-2"})
	require.NoError(t, err)

	res, err := f.svc.InitiateAssignment(ctx, admin, AssignmentRequest{TicketID: "T-1", AssigneeID: "dev-1"})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeAlreadyAssigned))
	assert.Equal(t, "dev-2", res.CurrentAssigneeID)
	assert.False(t, res.LockAcquired)

	status, err := f.svc.LockStatus(ctx, "T-1")
	require.NoError(t, err)
	assert.False(t, status.IsLocked)
	conflicts, err := f.svc.Conflicts(ctx, "T-1")
	require.NoError(t, err)
	assert.Empty(t, conflicts)

	_, err = f.svc.InitiateAssignment(ctx, admin, AssignmentRequest{TicketID: "T-closed", AssigneeID: "dev-1"})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotAssignable))
}

func TestAdminBlockedByProjectManagerReservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	lr, err := f.svc.ReserveTicket(ctx, pm, "T-1", 0)
	require.NoError(t, err)
	require.True(t, lr.Acquired)
	f.clock.Advance(30 * time.Second)

	res, err := f.svc.InitiateAssignment(ctx, admin, AssignmentRequest{TicketID: "T-1", AssigneeID: "dev-1"})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeLockConflict))
	de := apperrors.ToDomainError(err)
	assert.True(t, de.Retryable())
	assert.Equal(t, "Pat Manager", de.Details["holder_name"])
	assert.False(t, res.Success)
	assert.True(t, res.ConflictDetected)
	assert.NotEmpty(t, res.ConflictID)
	require.NotNil(t, res.CurrentHolder)
	assert.Equal(t, "pm-1", res.CurrentHolder.HolderID)
	assert.Equal(t, "Pat Manager", res.CurrentHolder.HolderName)

	conflicts, err := f.svc.Conflicts(ctx, "T-1")
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	c := conflicts[0]
	assert.Equal(t, res.ConflictID, c.ID)
	assert.True(t, c.Resolved())
	assert.Equal(t, systemResolver, *c.ResolvedBy)
	require.Len(t, c.Attempts, 2)
	assert.Equal(t, "pm-1", c.Attempts[0].AttempterID)
	assert.True(t, c.Attempts[0].WasSuccessful)
	assert.Equal(t, "admin-1", c.Attempts[1].AttempterID)
	assert.False(t, c.Attempts[1].WasSuccessful)
	assert.Contains(t, f.inboxKinds("admin-1"), "assignment_conflict")

	res, err = f.svc.InitiateAssignment(ctx, pm, AssignmentRequest{TicketID: "T-1", AssigneeID: "dev-2"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "dev-2", *f.ticket(t, "T-1").AssigneeID)

	status, err := f.svc.LockStatus(ctx, "T-1")
	require.NoError(t, err)
	assert.False(t, status.IsLocked)
}

func TestAdminPriorityTakesOverReservation(t *testing.T) {
	f := newFixture(t, withStrategy(domain.StrategyAdminPriority))
	ctx := context.Background()

	_, err := f.svc.ReserveTicket(ctx, pm, "T-1", 0)
	require.NoError(t, err)
	f.clock.Advance(10 * time.Second)

	res, err := f.svc.InitiateAssignment(ctx, admin, AssignmentRequest{TicketID: "T-1", AssigneeID: "dev-1"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.ConflictDetected)
	assert.True(t, res.OverrodeConflict)
	assert.True(t, res.LockAcquired)
	assert.Equal(t, 4, res.NotificationsSent)

	history, err := f.svc.History(ctx, "T-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, history[0].WasConflicted)
	assert.True(t, history[0].OverrodeConflict)

	assert.Equal(t, []string{"lock_overridden"}, f.inboxKinds("pm-1"))

	conflicts, err := f.svc.Conflicts(ctx, "T-1")
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, domain.StrategyAdminPriority, conflicts[0].ResolutionStrategy)
	assert.True(t, conflicts[0].Attempts[1].WasSuccessful)
}

func TestAdminPriorityKeepsEarlierAdmin(t *testing.T) {
	f := newFixture(t, withStrategy(domain.StrategyAdminPriority))
	ctx := context.Background()

	_, err := f.svc.ReserveTicket(ctx, admin2, "T-1", 0)
	require.NoError(t, err)
	f.clock.Advance(time.Second)

	_, err = f.svc.InitiateAssignment(ctx, admin, AssignmentRequest{TicketID: "T-1", AssigneeID: "dev-1"})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeLockConflict))
}

func TestExplicitOverrideByAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.ReserveTicket(ctx, pm, "T-1", 0)
	require.NoError(t, err)

	res, err := f.svc.InitiateAssignment(ctx, admin, AssignmentRequest{TicketID: "T-1", AssigneeID: "dev-1", Override: true})
	require.NoError(t, err)
	assert.True(t, res.OverrodeConflict)

	conflicts, err := f.svc.Conflicts(ctx, "T-1")
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "admin-1", *conflicts[0].ResolvedBy)
	assert.Contains(t, f.inboxKinds("pm-1"), "lock_overridden")
}

func TestManualReviewThenResolve(t *testing.T) {
	f := newFixture(t, withStrategy(domain.StrategyManualReview))
	ctx := context.Background()

	_, err := f.svc.ReserveTicket(ctx, pm, "T-1", 0)
	require.NoError(t, err)
	f.clock.Advance(5 * time.Second)

	res, err := f.svc.InitiateAssignment(ctx, pm2, AssignmentRequest{TicketID: "T-1", AssigneeID: "dev-2"})
	require.Error(t, err)
	assert.True(t, res.ConflictDetected)

	c, err := f.audit.Conflict(ctx, res.ConflictID)
	require.NoError(t, err)
	assert.False(t, c.Resolved())
	var challenger string
	for _, a := range c.Attempts {
		if a.AttempterID == "pm-2" {
			challenger = a.ID
		}
	}
	require.NotEmpty(t, challenger)

	_, err = f.svc.ResolveConflict(ctx, pm, c.ID, challenger)
	assert.True(t, apperrors.HasCode(err, apperrors.CodePermissionDenied))
	_, err = f.svc.ResolveConflict(ctx, admin, c.ID, "no-such-attempt")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidationFailed))

	resolved, err := f.svc.ResolveConflict(ctx, admin, c.ID, challenger)
	require.NoError(t, err)
	assert.True(t, resolved.Resolved())
	assert.Equal(t, "admin-1", *resolved.ResolvedBy)
	for _, a := range resolved.Attempts {
		assert.Equal(t, a.ID == challenger, a.WasSuccessful)
	}

	status, err := f.svc.LockStatus(ctx, "T-1")
	require.NoError(t, err)
	assert.False(t, status.IsLocked, "losing holder's reservation is released")
	assert.Contains(t, f.inboxKinds("pm-1"), "lock_overridden")
	assert.Contains(t, f.inboxKinds("pm-2"), "conflict_resolved")

	_, err = f.svc.ResolveConflict(ctx, admin, c.ID, challenger)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeConflictResolved))

	res, err = f.svc.InitiateAssignment(ctx, pm2, AssignmentRequest{TicketID: "T-1", AssigneeID: "dev-2"})
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestConcurrentAssignmentsHaveOneWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	contenders := []struct {
		actor    AssignerContext
		assignee string
	}{
		{admin, "dev-3"}, {admin2, "dev-3"}, {pm, "dev-3"}, {pm2, "dev-3"},
		{dev1, "dev-1"}, {dev2, "dev-2"},
	}

	start := make(chan struct{})
	var (
		wg      sync.WaitGroup
		winners atomic.Int32
	)
	for _, c := range contenders {
		wg.Add(1)
		go func(actor AssignerContext, assignee string) {
			defer wg.Done()
			<-start
			res, err := f.svc.InitiateAssignment(ctx, actor, AssignmentRequest{TicketID: "T-1", AssigneeID: assignee})
			if err == nil && res.Success {
				winners.Add(1)
			}
		}(c.actor, c.assignee)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
	history, err := f.svc.History(ctx, "T-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, history[0].AssigneeID, *f.ticket(t, "T-1").AssigneeID)
}

type racingTickets struct {
	repository.TicketRepository
	once sync.Once
	race func()
}

func (r *racingTickets) Assign(ctx context.Context, record *domain.AssignmentRecord) error {
	r.once.Do(r.race)
	return r.TicketRepository.Assign(ctx, record)
}

func TestLostWriteAfterLockRecordsConflict(t *testing.T) {
	rt := &racingTickets{}
	f := newFixture(t, withTickets(func(inner repository.TicketRepository) repository.TicketRepository {
		rt.TicketRepository = inner
		return rt
	}))
	ctx := context.Background()
	rt.race = func() {
		require.NoError(t, f.db.Tickets.Assign(ctx, &domain.AssignmentRecord{
			ID:           "rec-race",
			TicketID:     "T-1",
			AssignerID:   "dev-2",
			AssignerRole: domain.RoleDeveloper,
			AssigneeID:   "dev-2",
			AssignedAt:   f.clock.Now(),
			SelfAssigned: true,
		}))
	}

	res, err := f.svc.InitiateAssignment(ctx, admin, AssignmentRequest{TicketID: "T-1", AssigneeID: "dev-1"})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeAlreadyAssigned))
	assert.True(t, res.LockAcquired)
	assert.True(t, res.ConflictDetected)
	assert.Equal(t, "dev-2", res.CurrentAssigneeID)

	conflicts, err := f.svc.Conflicts(ctx, "T-1")
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	require.Len(t, conflicts[0].Attempts, 2)
	assert.Equal(t, "dev-2", conflicts[0].Attempts[0].AttempterID)
	assert.True(t, conflicts[0].Attempts[0].WasSuccessful)
	assert.Equal(t, "admin-1", conflicts[0].Attempts[1].AttempterID)
	assert.False(t, conflicts[0].Attempts[1].WasSuccessful)

	status, err := f.svc.LockStatus(ctx, "T-1")
	require.NoError(t, err)
	assert.False(t, status.IsLocked)

	history, err := f.svc.History(ctx, "T-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "rec-race", history[0].ID)
}

func TestReservationLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.ReserveTicket(ctx, dev1, "T-1", 0)
	assert.True(t, apperrors.HasCode(err, apperrors.CodePermissionDenied))

	lr, err := f.svc.ReserveTicket(ctx, pm, "T-1", 2*time.Minute)
	require.NoError(t, err)
	assert.True(t, lr.Acquired)
	assert.True(t, f.clock.Now().Add(2*time.Minute).Equal(lr.ExpiresAt))

	status, err := f.svc.LockStatus(ctx, "T-1")
	require.NoError(t, err)
	assert.True(t, status.IsLocked)
	assert.Equal(t, "pm-1", status.LockedBy)
	assert.Equal(t, domain.RoleProjectManager, status.LockedByRole)

	extended, err := f.svc.ExtendReservation(ctx, pm, "T-1", 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, extended)

	extended, err = f.svc.ExtendReservation(ctx, pm2, "T-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, extended)

	extended, err = f.svc.ExtendReservation(ctx, pm, "T-1", 40*time.Minute)
	require.NoError(t, err)
	assert.False(t, extended, "extension past the total cap fails")

	_, err = f.svc.ExtendReservation(ctx, pm, "T-1", 0)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidationFailed))

	released, err := f.svc.ReleaseReservation(ctx, pm2, "T-1")
	require.NoError(t, err)
	assert.False(t, released)

	released, err = f.svc.ReleaseReservation(ctx, pm, "T-1")
	require.NoError(t, err)
	assert.True(t, released)

	_, err = f.svc.InitiateAssignment(ctx, dev1, AssignmentRequest{TicketID: "T-2", AssigneeID: "dev-1"})
	require.NoError(t, err)
	_, err = f.svc.ReserveTicket(ctx, pm, "T-2", 0)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeAlreadyAssigned))
}

func TestReservationExpires(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.ReserveTicket(ctx, pm, "T-1", 0)
	require.NoError(t, err)
	f.clock.Advance(5 * time.Minute)

	status, err := f.svc.LockStatus(ctx, "T-1")
	require.NoError(t, err)
	assert.False(t, status.IsLocked)

	res, err := f.svc.InitiateAssignment(ctx, admin, AssignmentRequest{TicketID: "T-1", AssigneeID: "dev-1"})
	require.NoError(t, err)
	assert.False(t, res.ConflictDetected)
}

func TestBulkAssignRejectsWholeBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.InitiateAssignment(ctx, dev2, AssignmentRequest{TicketID: "T-3", AssigneeID: "dev-2"})
	require.NoError(t, err)

	res, err := f.svc.BulkAssign(ctx, pm, []domain.BulkItem{
		{TicketID: "T-1", AssigneeID: "dev-1"},
		{TicketID: "T-3", AssigneeID: "dev-1"},
		{TicketID: "T-missing", AssigneeID: "dev-1"},
		{TicketID: "T-2", AssigneeID: "dev-9"},
		{TicketID: "T-1", AssigneeID: "dev-2"},
	})
	require.Error(t, err)
	de := apperrors.ToDomainError(err)
	assert.Equal(t, apperrors.CodeValidationFailed, de.Code)
	assert.Equal(t, http.StatusConflict, de.HTTPStatus)
	assert.False(t, res.Validated)
	assert.Empty(t, res.Results)

	require.Len(t, res.Invalid, 4)
	assert.Equal(t, domain.InvalidBulkItem{TicketID: "T-3", Code: apperrors.CodeAlreadyAssigned, Reason: "ticket already assigned"}, res.Invalid[0])
	assert.Equal(t, "T-missing", res.Invalid[1].TicketID)
	assert.Equal(t, apperrors.CodeNotFound, res.Invalid[1].Code)
	assert.Equal(t, "T-2", res.Invalid[2].TicketID)
	assert.Equal(t, apperrors.CodeValidationFailed, res.Invalid[2].Code)
	assert.Equal(t, "T-1", res.Invalid[3].TicketID)

	assert.Nil(t, f.ticket(t, "T-1").AssigneeID, "nothing runs when validation fails")
	assert.Nil(t, f.ticket(t, "T-2").AssigneeID)
}

func TestBulkAssignFailsPerTicket(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.ReserveTicket(ctx, pm2, "T-2", 0)
	require.NoError(t, err)

	res, err := f.svc.BulkAssign(ctx, pm, []domain.BulkItem{
		{TicketID: "T-1", AssigneeID: "dev-1"},
		{TicketID: "T-2", AssigneeID: "dev-2"},
		{TicketID: "T-4", AssigneeID: "dev-1"},
	})
	require.NoError(t, err)
	assert.True(t, res.Validated)
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Results, 3)
	assert.True(t, res.Results[0].Result.Success)
	assert.Equal(t, apperrors.CodeLockConflict, res.Results[1].Result.ErrorCode)
	assert.True(t, res.Results[2].Result.Success)

	_, err = f.svc.BulkAssign(ctx, dev1, []domain.BulkItem{{TicketID: "T-5", AssigneeID: "dev-1"}})
	assert.True(t, apperrors.HasCode(err, apperrors.CodePermissionDenied))
}

func TestDistributeTicketsBalancesLoad(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	busy := "dev-1"
	for _, id := range []string{"L-1", "L-2"} {
		f.db.PutTicket(domain.Ticket{ID: id, Status: domain.TicketStatusInProgress, AssigneeID: &busy})
	}

	res, err := f.svc.DistributeTickets(ctx, admin, []string{"T-1", "T-2", "T-3", "T-4"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Succeeded)

	got := map[string]string{}
	for _, r := range res.Results {
		got[r.TicketID] = r.AssigneeID
	}
	assert.Equal(t, map[string]string{"T-1": "dev-2", "T-2": "dev-3", "T-3": "dev-2", "T-4": "dev-3"}, got)

	res, err = f.svc.DistributeTickets(ctx, pm, []string{"T-5"}, []string{"dev-1"})
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, "dev-1", res.Results[0].AssigneeID)

	_, err = f.svc.DistributeTickets(ctx, pm, nil, nil)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidationFailed))
}

func TestUnassign(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assigned, err := f.svc.InitiateAssignment(ctx, dev1, AssignmentRequest{TicketID: "T-1", AssigneeID: "dev-1"})
	require.NoError(t, err)

	_, err = f.svc.Unassign(ctx, dev2, "T-1", "not mine")
	assert.True(t, apperrors.HasCode(err, apperrors.CodePermissionDenied))

	res, err := f.svc.Unassign(ctx, dev1, "T-1", "needs a database specialist")
	require.NoError(t, err)
	assert.Equal(t, "dev-1", res.PreviousAssigneeID)
	assert.Equal(t, assigned.AssignmentID, res.RecordID)
	assert.Equal(t, 8, res.NotificationsSent, "two admins and two managers on both channels")
	assert.Contains(t, f.inboxKinds("admin-1"), "ticket_unassigned")

	ticket := f.ticket(t, "T-1")
	assert.Nil(t, ticket.AssigneeID)
	assert.Equal(t, domain.TicketStatusOpen, ticket.Status)

	history, err := f.svc.History(ctx, "T-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.NotNil(t, history[0].UnassignedAt)

	_, err = f.svc.Unassign(ctx, admin, "T-1", "")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotAssignable))

	_, err = f.svc.InitiateAssignment(ctx, admin, AssignmentRequest{TicketID: "T-1", AssigneeID: "dev-2"})
	require.NoError(t, err)
	res, err = f.svc.Unassign(ctx, pm, "T-1", "reprioritised")
	require.NoError(t, err)
	assert.Equal(t, 2, res.NotificationsSent)
	assert.Contains(t, f.inboxKinds("dev-2"), "ticket_unassigned")

	history, err = f.svc.History(ctx, "T-1")
	require.NoError(t, err)
	assert.Len(t, history, 2, "reassignment appends a new record")
}

type downStore struct {
	lockstore.Store
}

func (downStore) Acquire(context.Context, lockstore.AcquireParams) (lockstore.AcquireOutcome, error) {
	return lockstore.AcquireOutcome{}, errors.New("dial tcp 10.0.0.5:6379: connection refused")
}

func TestLockStoreUnavailable(t *testing.T) {
	f := newFixture(t, withStore(downStore{Store: lockstore.NewMemoryStore()}))
	ctx := context.Background()

	res, err := f.svc.InitiateAssignment(ctx, admin, AssignmentRequest{TicketID: "T-1", AssigneeID: "dev-1"})
	require.Error(t, err)
	de := apperrors.ToDomainError(err)
	assert.Equal(t, apperrors.CodeServiceUnavailable, de.Code)
	assert.True(t, de.Retryable())
	assert.False(t, res.LockAcquired)
	assert.Nil(t, f.ticket(t, "T-1").AssigneeID)

	res, err = f.svc.InitiateAssignment(ctx, dev1, AssignmentRequest{TicketID: "T-1", AssigneeID: "dev-1"})
	require.NoError(t, err, "self assignment does not need the lock store")
	assert.True(t, res.Success)
}

func TestNotificationFailureDoesNotUndoAssignment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.email.fail(errors.New("mailer returned 503"))

	res, err := f.svc.InitiateAssignment(ctx, admin, AssignmentRequest{TicketID: "T-1", AssigneeID: "dev-1"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.NotificationsSent)

	results, err := f.svc.NotificationResults(ctx, "T-1")
	require.NoError(t, err)
	require.Len(t, results, 2)
	statuses := map[domain.NotificationChannel]domain.NotificationStatus{}
	for _, r := range results {
		statuses[r.Channel] = r.Status
	}
	assert.Equal(t, domain.NotificationDelivered, statuses[domain.ChannelInApp])
	assert.Equal(t, domain.NotificationPending, statuses[domain.ChannelEmail])
}
