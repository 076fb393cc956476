package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/helpdesk-labs/ticket-assignment/internal/conflict"
	"github.com/helpdesk-labs/ticket-assignment/internal/domain"
	"github.com/helpdesk-labs/ticket-assignment/internal/events"
	"github.com/helpdesk-labs/ticket-assignment/internal/observability"
	"github.com/helpdesk-labs/ticket-assignment/internal/repository"
	apperrors "github.com/helpdesk-labs/ticket-assignment/pkg/util/errorutil"
)

// systemResolver is recorded as ResolvedBy for automatic decisions.
const systemResolver = "system"

// AuditService writes and reads the assignment audit trail.
type AuditService struct {
	repo    repository.AuditRepository
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewAuditService creates the service.
func NewAuditService(repo repository.AuditRepository, logger *zap.Logger, metrics *observability.Metrics) *AuditService {
	return &AuditService{repo: repo, logger: logger, metrics: metrics}
}

// RegisterHandlers logs every published assignment event.
func (a *AuditService) RegisterHandlers(dispatcher events.Dispatcher) {
	if dispatcher == nil {
		return
	}
	events.SubscribeAll(dispatcher, a.handleEvent)
}

func (a *AuditService) handleEvent(_ context.Context, event events.Event) error {
	a.logger.Info("assignment event",
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
		zap.String("ticket_id", event.TicketID),
		zap.String("actor_id", event.Actor.ID),
		zap.Any("payload", event.Payload))
	return nil
}

// NewAttempt builds an unsaved conflict attempt.
func NewAttempt(attempterID string, role domain.Role, assigneeID string, at time.Time) domain.ConflictAttempt {
	return domain.ConflictAttempt{
		ID:                  uuid.NewString(),
		AttempterID:         attempterID,
		AttempterRole:       role,
		AttemptedAssigneeID: assigneeID,
		AttemptTimestamp:    at,
	}
}

// RecordConflict resolves attempts with strategy and persists the conflict.
// An automatic decision closes the conflict immediately.
func (a *AuditService) RecordConflict(ctx context.Context, ticketID string, strategy domain.ResolutionStrategy, attempts []domain.ConflictAttempt, at time.Time) (*domain.AssignmentConflict, conflict.Decision, error) {
	decision := conflict.Resolve(strategy, attempts)
	return a.persist(ctx, ticketID, decision, systemResolver, at)
}

// RecordDecision persists a conflict whose outcome the caller already chose.
func (a *AuditService) RecordDecision(ctx context.Context, ticketID string, decision conflict.Decision, resolvedBy string, at time.Time) (*domain.AssignmentConflict, error) {
	c, _, err := a.persist(ctx, ticketID, decision, resolvedBy, at)
	return c, err
}

func (a *AuditService) persist(ctx context.Context, ticketID string, decision conflict.Decision, resolvedBy string, at time.Time) (*domain.AssignmentConflict, conflict.Decision, error) {
	c := &domain.AssignmentConflict{
		ID:                 uuid.NewString(),
		TicketID:           ticketID,
		DetectedAt:         at,
		ResolutionStrategy: decision.Strategy,
		Attempts:           decision.Attempts,
	}
	if decision.Resolved {
		resolvedAt, by := at, resolvedBy
		c.ResolvedAt = &resolvedAt
		c.ResolvedBy = &by
	}
	if err := a.repo.CreateConflict(ctx, c); err != nil {
		return nil, decision, apperrors.MapError(err)
	}
	a.metrics.RecordConflict(string(decision.Strategy))
	a.logger.Info("assignment conflict recorded",
		zap.String("conflict_id", c.ID),
		zap.String("ticket_id", ticketID),
		zap.String("strategy", string(decision.Strategy)),
		zap.Bool("resolved", decision.Resolved))
	decision.Attempts = c.Attempts
	return c, decision, nil
}

// Resolve closes an open conflict in favour of one attempt.
func (a *AuditService) Resolve(ctx context.Context, conflictID, resolvedBy, winnerAttemptID string, at time.Time) error {
	err := a.repo.ResolveConflict(ctx, conflictID, resolvedBy, winnerAttemptID, at)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrConflictClosed):
		return apperrors.NewConflictResolved(map[string]any{"conflict_id": conflictID})
	case errors.Is(err, repository.ErrNotFound):
		return apperrors.NewNotFound("conflict", map[string]any{"conflict_id": conflictID})
	}
	return apperrors.MapError(err)
}

// Conflict loads one conflict with its attempts.
func (a *AuditService) Conflict(ctx context.Context, conflictID string) (*domain.AssignmentConflict, error) {
	c, err := a.repo.GetConflict(ctx, conflictID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound("conflict", map[string]any{"conflict_id": conflictID})
		}
		return nil, apperrors.MapError(err)
	}
	return c, nil
}

// History returns a ticket's assignment records in sequence order.
func (a *AuditService) History(ctx context.Context, ticketID string) ([]domain.AssignmentRecord, error) {
	records, err := a.repo.ListRecords(ctx, ticketID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return records, nil
}

// Conflicts returns a ticket's conflicts in detection order.
func (a *AuditService) Conflicts(ctx context.Context, ticketID string) ([]domain.AssignmentConflict, error) {
	conflicts, err := a.repo.ListConflicts(ctx, ticketID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return conflicts, nil
}
