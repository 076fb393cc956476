package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/helpdesk-labs/ticket-assignment/internal/domain"
	"github.com/helpdesk-labs/ticket-assignment/internal/events"
	"github.com/helpdesk-labs/ticket-assignment/internal/repository/memory"
	apperrors "github.com/helpdesk-labs/ticket-assignment/pkg/util/errorutil"
)

func TestRecordConflictResolvesAutomatically(t *testing.T) {
	db := memory.New()
	audit := NewAuditService(db.Audit, zap.NewNop(), nil)
	ctx := context.Background()
	at := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

	attempts := []domain.ConflictAttempt{
		NewAttempt("pm-1", domain.RoleProjectManager, "dev-1", at),
		NewAttempt("admin-1", domain.RoleAdmin, "dev-2", at.Add(time.Second)),
	}
	c, decision, err := audit.RecordConflict(ctx, "T-1", domain.StrategyAdminPriority, attempts, at.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, decision.Resolved)
	assert.Equal(t, "admin-1", decision.WinningAttempt().AttempterID)
	assert.Equal(t, c.ID, decision.Attempts[0].ConflictID)

	stored, err := audit.Conflict(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, systemResolver, *stored.ResolvedBy)

	listed, err := audit.Conflicts(ctx, "T-1")
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Len(t, listed[0].Attempts, 2)

	err = audit.Resolve(ctx, c.ID, "admin-1", attempts[0].ID, at)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeConflictResolved))
	err = audit.Resolve(ctx, "missing", "admin-1", attempts[0].ID, at)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))
}

func TestManualReviewConflictStaysOpen(t *testing.T) {
	db := memory.New()
	audit := NewAuditService(db.Audit, zap.NewNop(), nil)
	ctx := context.Background()
	at := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

	attempts := []domain.ConflictAttempt{
		NewAttempt("pm-1", domain.RoleProjectManager, "", at),
		NewAttempt("pm-2", domain.RoleProjectManager, "dev-2", at.Add(time.Second)),
	}
	c, decision, err := audit.RecordConflict(ctx, "T-1", domain.StrategyManualReview, attempts, at)
	require.NoError(t, err)
	assert.False(t, decision.Resolved)
	assert.False(t, c.Resolved())

	require.NoError(t, audit.Resolve(ctx, c.ID, "admin-1", attempts[1].ID, at.Add(time.Minute)))
	conflicts, err := audit.Conflicts(ctx, "T-1")
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.True(t, conflicts[0].Resolved())
	assert.True(t, conflicts[0].Attempts[1].WasSuccessful)
}

func TestAuditLogsPublishedEvents(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	audit := NewAuditService(memory.New().Audit, zap.New(core), nil)
	dispatcher := events.NewInMemoryDispatcher()
	audit.RegisterHandlers(dispatcher)

	for _, eventType := range events.AllEventTypes {
		require.NoError(t, dispatcher.Publish(context.Background(), events.Event{ID: "evt-" + string(eventType), Type: eventType, TicketID: "T-1"}))
	}

	entries := logs.FilterMessage("assignment event").All()
	require.Len(t, entries, len(events.AllEventTypes))
	assert.Equal(t, "T-1", entries[0].ContextMap()["ticket_id"])
}

func TestAuthorize(t *testing.T) {
	tests := []struct {
		role domain.Role
		has  []Capability
		not  []Capability
	}{
		{domain.RoleAdmin, []Capability{CapAssignAny, CapHoldLock, CapOverride, CapResolveConflict, CapBulk, CapUnassignAny}, []Capability{CapSelfAssign}},
		{domain.RoleProjectManager, []Capability{CapAssignAny, CapHoldLock, CapBulk, CapUnassignAny}, []Capability{CapOverride, CapResolveConflict}},
		{domain.RoleDeveloper, []Capability{CapSelfAssign}, []Capability{CapAssignAny, CapHoldLock, CapBulk}},
		{domain.RoleClient, nil, []Capability{CapSelfAssign, CapAssignAny}},
	}
	for _, tc := range tests {
		caps := Authorize(tc.role)
		for _, c := range tc.has {
			assert.True(t, caps.Has(c), "%s should have %d", tc.role, c)
		}
		for _, c := range tc.not {
			assert.False(t, caps.Has(c), "%s should not have %d", tc.role, c)
		}
	}
}
