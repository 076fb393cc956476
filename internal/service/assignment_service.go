package service

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/helpdesk-labs/ticket-assignment/internal/conflict"
	"github.com/helpdesk-labs/ticket-assignment/internal/domain"
	"github.com/helpdesk-labs/ticket-assignment/internal/events"
	"github.com/helpdesk-labs/ticket-assignment/internal/lock"
	"github.com/helpdesk-labs/ticket-assignment/internal/observability"
	"github.com/helpdesk-labs/ticket-assignment/internal/repository"
	apperrors "github.com/helpdesk-labs/ticket-assignment/pkg/util/errorutil"
)

const (
	DefaultRequestTimeout = 2 * time.Second
	releaseTimeout        = time.Second
)

// AssignmentService coordinates authority checks, reservations, the assignment
// write, conflict auditing and notification for ticket assignment.
type AssignmentService struct {
	tickets    repository.TicketRepository
	users      repository.UserRepository
	locks      *lock.Manager
	audit      *AuditService
	notifier   *NotificationService
	dispatcher events.Dispatcher
	strategy   domain.ResolutionStrategy
	timeout    time.Duration
	now        func() time.Time
	logger     *zap.Logger
	metrics    *observability.Metrics
}

// AssignmentDependencies bundles collaborators.
type AssignmentDependencies struct {
	TicketRepo     repository.TicketRepository
	UserRepo       repository.UserRepository
	Locks          *lock.Manager
	Audit          *AuditService
	Notifier       *NotificationService
	Dispatcher     events.Dispatcher
	Strategy       domain.ResolutionStrategy
	RequestTimeout time.Duration
	Now            func() time.Time
	Logger         *zap.Logger
	Metrics        *observability.Metrics
}

// AssignmentRequest is a single-ticket assignment intent.
type AssignmentRequest struct {
	TicketID   string
	AssigneeID string
	Reason     string
	Override   bool
}

// NewAssignmentService creates the service.
func NewAssignmentService(deps AssignmentDependencies) *AssignmentService {
	s := &AssignmentService{
		tickets:    deps.TicketRepo,
		users:      deps.UserRepo,
		locks:      deps.Locks,
		audit:      deps.Audit,
		notifier:   deps.Notifier,
		dispatcher: deps.Dispatcher,
		strategy:   deps.Strategy,
		timeout:    deps.RequestTimeout,
		now:        deps.Now,
		logger:     deps.Logger,
		metrics:    deps.Metrics,
	}
	if !s.strategy.Valid() {
		s.strategy = domain.StrategyFirstComeFirstServe
	}
	if s.timeout <= 0 {
		s.timeout = DefaultRequestTimeout
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// Strategy returns the configured conflict resolution strategy.
func (s *AssignmentService) Strategy() domain.ResolutionStrategy {
	return s.strategy
}

func (s *AssignmentService) clock() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

func (s *AssignmentService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// InitiateAssignment assigns a ticket. Admins and project managers go through a
// reservation lock; developers claim tickets for themselves with a single
// conditional write. Outcome failures return both the populated result and a
// domain error.
func (s *AssignmentService) InitiateAssignment(ctx context.Context, assigner AssignerContext, req AssignmentRequest) (domain.AssignmentResult, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.initiate(ctx, assigner, req)
}

func (s *AssignmentService) initiate(ctx context.Context, assigner AssignerContext, req AssignmentRequest) (domain.AssignmentResult, error) {
	caps := assigner.Capabilities()
	if !caps.Has(CapAssignAny) && !caps.Has(CapSelfAssign) {
		return fail(domain.AssignmentResult{}, apperrors.NewPermissionDenied("role may not assign tickets"))
	}
	if req.Override && !caps.Has(CapOverride) {
		return fail(domain.AssignmentResult{}, apperrors.NewPermissionDenied("only administrators may override a reservation"))
	}

	req.TicketID = strings.TrimSpace(req.TicketID)
	req.AssigneeID = strings.TrimSpace(req.AssigneeID)
	if req.TicketID == "" || req.AssigneeID == "" {
		return fail(domain.AssignmentResult{}, apperrors.NewValidationError("ticket_id and assignee_id are required", nil))
	}
	if !caps.Has(CapAssignAny) && req.AssigneeID != assigner.ID {
		return fail(domain.AssignmentResult{}, apperrors.NewPermissionDenied("developers may only assign tickets to themselves"))
	}
	if err := s.requireDeveloper(ctx, req.AssigneeID); err != nil {
		return fail(domain.AssignmentResult{}, err)
	}
	if result, err := s.requireAssignable(ctx, req.TicketID); err != nil {
		return fail(result, err)
	}

	if caps.Has(CapAssignAny) {
		result, err := s.lockedAssign(ctx, assigner, req)
		s.metrics.RecordAssignment("locked", outcome(err))
		return result, err
	}
	result, err := s.selfAssign(ctx, assigner, req)
	s.metrics.RecordAssignment("self", outcome(err))
	return result, err
}

func (s *AssignmentService) requireDeveloper(ctx context.Context, userID string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.NewNotFound("assignee", map[string]any{"assignee_id": userID})
		}
		return apperrors.MapError(err)
	}
	if user.Role != domain.RoleDeveloper || !user.Active {
		return apperrors.NewValidationError("assignee must be an active developer", map[string]any{"assignee_id": userID})
	}
	return nil
}

func (s *AssignmentService) requireAssignable(ctx context.Context, ticketID string) (domain.AssignmentResult, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.AssignmentResult{}, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return domain.AssignmentResult{}, apperrors.MapError(err)
	}
	if ticket.AssigneeID != nil {
		result := domain.AssignmentResult{CurrentAssigneeID: *ticket.AssigneeID}
		return result, apperrors.NewAlreadyAssigned(map[string]any{
			"ticket_id":           ticketID,
			"current_assignee_id": *ticket.AssigneeID,
		})
	}
	if ticket.Status != domain.TicketStatusOpen {
		return domain.AssignmentResult{}, apperrors.NewNotAssignable(map[string]any{
			"ticket_id": ticketID,
			"status":    string(ticket.Status),
		})
	}
	return domain.AssignmentResult{}, nil
}

func (s *AssignmentService) lockedAssign(ctx context.Context, assigner AssignerContext, req AssignmentRequest) (domain.AssignmentResult, error) {
	var result domain.AssignmentResult
	at := s.clock()

	acquired, err := s.locks.Acquire(ctx, s.lockRequest(assigner, req.TicketID, 0))
	if err != nil {
		return fail(result, lockError(err))
	}

	var displaced *domain.AssignmentLock
	if !acquired.Acquired {
		holder := acquired.CurrentHolder
		result.ConflictDetected = true
		result.CurrentHolder = holder

		c, won, err := s.contend(ctx, assigner, req.TicketID, req.AssigneeID, holder, req.Override, at)
		if c != nil {
			result.ConflictID = c.ID
		}
		if err != nil {
			return fail(result, err)
		}
		if !won {
			return fail(result, lockConflict(req.TicketID, holder, acquired.WaitTime, result.ConflictID))
		}

		displaced, acquired, err = s.takeOver(ctx, assigner, req.TicketID, 0)
		if err != nil {
			return fail(result, err)
		}
		if !acquired.Acquired {
			result.CurrentHolder = acquired.CurrentHolder
			return fail(result, lockConflict(req.TicketID, acquired.CurrentHolder, acquired.WaitTime, result.ConflictID))
		}
		result.OverrodeConflict = true
		result.CurrentHolder = nil
	}
	result.LockAcquired = true
	defer s.releaseQuietly(ctx, req.TicketID, assigner.ID)

	record := &domain.AssignmentRecord{
		ID:               uuid.NewString(),
		TicketID:         req.TicketID,
		AssignerID:       assigner.ID,
		AssignerRole:     assigner.Role,
		AssigneeID:       req.AssigneeID,
		AssignedAt:       at,
		Reason:           strings.TrimSpace(req.Reason),
		WasConflicted:    result.ConflictDetected,
		OverrodeConflict: result.OverrodeConflict,
	}
	if err := s.tickets.Assign(ctx, record); err != nil {
		return s.assignFailed(ctx, result, assigner, req, at, err)
	}

	result.Success = true
	result.AssignmentID = record.ID
	s.logger.Info("ticket assigned",
		zap.String("ticket_id", req.TicketID),
		zap.String("assigner_id", assigner.ID),
		zap.String("assignee_id", req.AssigneeID),
		zap.Bool("overrode_conflict", result.OverrodeConflict))

	emitted := []events.Event{s.assignedEvent(assigner, record)}
	if displaced != nil {
		emitted = append(emitted, s.overriddenEvent(assigner, displaced, result.ConflictID))
	}
	result.NotificationsSent = s.emit(ctx, emitted...)
	return result, nil
}

// contend audits a reservation clash between holder and the assigner and
// reports whether the assigner may take the ticket over.
func (s *AssignmentService) contend(ctx context.Context, assigner AssignerContext, ticketID, assigneeID string, holder *domain.AssignmentLock, override bool, at time.Time) (*domain.AssignmentConflict, bool, error) {
	holderAttempt := NewAttempt(holder.HolderID, holder.HolderRole, "", holder.AcquiredAt)
	// the holder got there first even when both fall in the same millisecond
	if !at.After(holder.AcquiredAt) {
		at = holder.AcquiredAt.Add(time.Millisecond)
	}
	challenger := NewAttempt(assigner.ID, assigner.Role, assigneeID, at)
	attempts := []domain.ConflictAttempt{holderAttempt, challenger}

	var (
		c        *domain.AssignmentConflict
		decision conflict.Decision
		err      error
	)
	if override {
		decision, err = conflict.Choose(attempts, challenger.ID)
		if err != nil {
			return nil, false, apperrors.NewInternalError(err)
		}
		decision.Strategy = domain.StrategyAdminPriority
		c, err = s.audit.RecordDecision(ctx, ticketID, decision, assigner.ID, at)
	} else {
		c, decision, err = s.audit.RecordConflict(ctx, ticketID, s.strategy, attempts, at)
	}
	if err != nil {
		return nil, false, err
	}

	winner := decision.WinningAttempt()
	won := winner != nil && winner.ID == challenger.ID
	if !won {
		s.emit(ctx, s.conflictEvent(events.EventAssignmentConflict, assigner, ticketID, c, decision))
	}
	return c, won, nil
}

// takeOver force releases the current reservation and acquires it for the assigner.
func (s *AssignmentService) takeOver(ctx context.Context, assigner AssignerContext, ticketID string, duration time.Duration) (*domain.AssignmentLock, domain.LockResult, error) {
	displaced, err := s.locks.ForceRelease(ctx, ticketID)
	if err != nil {
		return nil, domain.LockResult{}, lockError(err)
	}
	acquired, err := s.locks.Acquire(ctx, s.lockRequest(assigner, ticketID, duration))
	if err != nil {
		return displaced, domain.LockResult{}, lockError(err)
	}
	return displaced, acquired, nil
}

// assignFailed handles a lost conditional write after the lock was held.
func (s *AssignmentService) assignFailed(ctx context.Context, result domain.AssignmentResult, assigner AssignerContext, req AssignmentRequest, at time.Time, cause error) (domain.AssignmentResult, error) {
	switch {
	case errors.Is(cause, repository.ErrNotFound):
		return fail(result, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": req.TicketID}))
	case errors.Is(cause, repository.ErrNotAssignable):
		return fail(result, apperrors.NewNotAssignable(map[string]any{"ticket_id": req.TicketID}))
	case !errors.Is(cause, repository.ErrAlreadyAssigned):
		return fail(result, apperrors.MapError(cause))
	}

	ticket, err := s.tickets.GetByID(ctx, req.TicketID)
	if err != nil || ticket.AssigneeID == nil {
		return fail(result, apperrors.NewAlreadyAssigned(map[string]any{"ticket_id": req.TicketID}))
	}
	current := *ticket.AssigneeID
	claimedAt := at
	if ticket.AssignedAt != nil {
		claimedAt = *ticket.AssignedAt
	}
	claimant, claimantRole := current, domain.RoleDeveloper
	if ticket.AssignedBy != nil && *ticket.AssignedBy != current {
		claimant, claimantRole = *ticket.AssignedBy, domain.Role("")
		if user, err := s.users.GetByID(ctx, claimant); err == nil {
			claimantRole = user.Role
		}
	}

	winner := NewAttempt(claimant, claimantRole, current, claimedAt)
	loser := NewAttempt(assigner.ID, assigner.Role, req.AssigneeID, at)
	decision, err := conflict.Choose([]domain.ConflictAttempt{winner, loser}, winner.ID)
	if err != nil {
		return fail(result, apperrors.NewInternalError(err))
	}
	decision.Strategy = domain.StrategyFirstComeFirstServe
	c, err := s.audit.RecordDecision(ctx, req.TicketID, decision, systemResolver, at)
	if err != nil {
		return fail(result, err)
	}

	result.ConflictDetected = true
	result.ConflictID = c.ID
	result.CurrentAssigneeID = current
	return fail(result, apperrors.NewAlreadyAssigned(map[string]any{
		"ticket_id":           req.TicketID,
		"current_assignee_id": current,
		"conflict_id":         c.ID,
	}))
}

func (s *AssignmentService) selfAssign(ctx context.Context, assigner AssignerContext, req AssignmentRequest) (domain.AssignmentResult, error) {
	var result domain.AssignmentResult
	record := &domain.AssignmentRecord{
		ID:           uuid.NewString(),
		TicketID:     req.TicketID,
		AssignerID:   assigner.ID,
		AssignerRole: domain.RoleDeveloper,
		AssigneeID:   assigner.ID,
		AssignedAt:   s.clock(),
		Reason:       strings.TrimSpace(req.Reason),
		SelfAssigned: true,
	}
	if err := s.tickets.Assign(ctx, record); err != nil {
		switch {
		case errors.Is(err, repository.ErrAlreadyAssigned):
			if ticket, gerr := s.tickets.GetByID(ctx, req.TicketID); gerr == nil && ticket.AssigneeID != nil {
				result.CurrentAssigneeID = *ticket.AssigneeID
			}
			return fail(result, apperrors.NewAlreadyAssigned(map[string]any{
				"ticket_id":           req.TicketID,
				"current_assignee_id": result.CurrentAssigneeID,
			}))
		case errors.Is(err, repository.ErrNotAssignable):
			return fail(result, apperrors.NewNotAssignable(map[string]any{"ticket_id": req.TicketID}))
		case errors.Is(err, repository.ErrNotFound):
			return fail(result, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": req.TicketID}))
		}
		return fail(result, apperrors.MapError(err))
	}

	result.Success = true
	result.AssignmentID = record.ID
	s.logger.Info("ticket self assigned",
		zap.String("ticket_id", req.TicketID),
		zap.String("developer_id", assigner.ID))
	result.NotificationsSent = s.emit(ctx, s.assignedEvent(assigner, record))
	return result, nil
}

// ReserveTicket holds the ticket for an admin or project manager while they
// decide on an assignee. A clash is audited like an assignment clash.
func (s *AssignmentService) ReserveTicket(ctx context.Context, assigner AssignerContext, ticketID string, duration time.Duration) (domain.LockResult, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if !assigner.Capabilities().Has(CapHoldLock) {
		return domain.LockResult{}, apperrors.NewPermissionDenied("role may not reserve tickets")
	}
	if duration < 0 {
		return domain.LockResult{}, apperrors.NewValidationError("duration must not be negative", nil)
	}
	if _, err := s.requireAssignable(ctx, ticketID); err != nil {
		return domain.LockResult{}, err
	}

	at := s.clock()
	acquired, err := s.locks.Acquire(ctx, s.lockRequest(assigner, ticketID, duration))
	if err != nil {
		return domain.LockResult{}, lockError(err)
	}
	if acquired.Acquired {
		return acquired, nil
	}

	holder := acquired.CurrentHolder
	c, won, err := s.contend(ctx, assigner, ticketID, "", holder, false, at)
	if err != nil {
		return acquired, err
	}
	if !won {
		return acquired, lockConflict(ticketID, holder, acquired.WaitTime, c.ID)
	}
	displaced, taken, err := s.takeOver(ctx, assigner, ticketID, duration)
	if err != nil {
		return domain.LockResult{}, err
	}
	if !taken.Acquired {
		return taken, lockConflict(ticketID, taken.CurrentHolder, taken.WaitTime, c.ID)
	}
	if displaced != nil {
		s.emit(ctx, s.overriddenEvent(assigner, displaced, c.ID))
	}
	return taken, nil
}

// ReleaseReservation drops the caller's reservation. Releasing a lock held by
// someone else reports false.
func (s *AssignmentService) ReleaseReservation(ctx context.Context, assigner AssignerContext, ticketID string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if !assigner.Capabilities().Has(CapHoldLock) {
		return false, apperrors.NewPermissionDenied("role may not hold reservations")
	}
	released, err := s.locks.Release(ctx, ticketID, assigner.ID)
	if err != nil {
		return false, lockError(err)
	}
	return released, nil
}

// ExtendReservation pushes the caller's reservation expiry forward.
func (s *AssignmentService) ExtendReservation(ctx context.Context, assigner AssignerContext, ticketID string, additional time.Duration) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if !assigner.Capabilities().Has(CapHoldLock) {
		return false, apperrors.NewPermissionDenied("role may not hold reservations")
	}
	if additional <= 0 {
		return false, apperrors.NewValidationError("additional time must be positive", nil)
	}
	extended, err := s.locks.Extend(ctx, ticketID, assigner.ID, additional)
	if err != nil {
		return false, lockError(err)
	}
	return extended, nil
}

// LockStatus reports a ticket's reservation.
func (s *AssignmentService) LockStatus(ctx context.Context, ticketID string) (domain.LockStatus, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	status, err := s.locks.CheckStatus(ctx, ticketID)
	if err != nil {
		return domain.LockStatus{}, lockError(err)
	}
	return status, nil
}

// BulkAssign validates every item before running any of them. Once validated,
// each item runs the single-ticket path and fails independently.
func (s *AssignmentService) BulkAssign(ctx context.Context, assigner AssignerContext, items []domain.BulkItem) (domain.BulkAssignmentResult, error) {
	if !assigner.Capabilities().Has(CapBulk) {
		return domain.BulkAssignmentResult{}, apperrors.NewPermissionDenied("role may not bulk assign")
	}
	if len(items) == 0 {
		return domain.BulkAssignmentResult{}, apperrors.NewValidationError("at least one assignment is required", nil)
	}

	invalid, err := s.validateBulk(ctx, items)
	if err != nil {
		return domain.BulkAssignmentResult{}, err
	}
	if len(invalid) > 0 {
		s.metrics.RecordAssignment("bulk", apperrors.CodeValidationFailed)
		result := domain.BulkAssignmentResult{Invalid: invalid}
		return result, apperrors.NewBulkValidationFailed(map[string]any{"invalid": invalid})
	}

	result := domain.BulkAssignmentResult{Validated: true, Results: make([]domain.BulkItemResult, 0, len(items))}
	for _, item := range items {
		itemCtx, cancel := s.withTimeout(ctx)
		res, err := s.initiate(itemCtx, assigner, AssignmentRequest{TicketID: item.TicketID, AssigneeID: item.AssigneeID})
		cancel()
		if err != nil {
			result.Failed++
		} else {
			result.Succeeded++
		}
		result.Results = append(result.Results, domain.BulkItemResult{TicketID: item.TicketID, AssigneeID: item.AssigneeID, Result: res})
	}
	s.logger.Info("bulk assignment finished",
		zap.String("assigner_id", assigner.ID),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed))
	return result, nil
}

func (s *AssignmentService) validateBulk(ctx context.Context, items []domain.BulkItem) ([]domain.InvalidBulkItem, error) {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.TicketID)
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	found, err := s.tickets.ListByIDs(ctx, uniqueIDs(ids))
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	tickets := make(map[string]domain.Ticket, len(found))
	for _, t := range found {
		tickets[t.ID] = t
	}

	assignees := make(map[string]error)
	seen := make(map[string]bool, len(items))
	var invalid []domain.InvalidBulkItem
	for _, item := range items {
		reject := func(code, reason string) {
			invalid = append(invalid, domain.InvalidBulkItem{TicketID: item.TicketID, Code: code, Reason: reason})
		}
		ticket, ok := tickets[item.TicketID]
		switch {
		case strings.TrimSpace(item.TicketID) == "":
			reject(apperrors.CodeValidationFailed, "ticket id is required")
			continue
		case seen[item.TicketID]:
			reject(apperrors.CodeValidationFailed, "ticket appears more than once")
			continue
		case !ok:
			reject(apperrors.CodeNotFound, "ticket not found")
			continue
		case ticket.AssigneeID != nil:
			reject(apperrors.CodeAlreadyAssigned, "ticket already assigned")
			continue
		case ticket.Status != domain.TicketStatusOpen:
			reject(apperrors.CodeNotAssignable, "ticket is not open")
			continue
		}
		seen[item.TicketID] = true

		assigneeErr, checked := assignees[item.AssigneeID]
		if !checked {
			assigneeErr = s.requireDeveloper(ctx, item.AssigneeID)
			assignees[item.AssigneeID] = assigneeErr
		}
		if assigneeErr != nil {
			de := apperrors.ToDomainError(assigneeErr)
			if de.Code == apperrors.CodeInternal || de.Code == apperrors.CodeServiceUnavailable {
				return nil, assigneeErr
			}
			reject(de.Code, "assignee must be an active developer")
		}
	}
	return invalid, nil
}

// DistributeTickets spreads tickets across developers, always handing the next
// ticket to the developer with the fewest active tickets (ties by id), then
// runs the plan as a bulk assignment.
func (s *AssignmentService) DistributeTickets(ctx context.Context, assigner AssignerContext, ticketIDs, developerIDs []string) (domain.BulkAssignmentResult, error) {
	if !assigner.Capabilities().Has(CapBulk) {
		return domain.BulkAssignmentResult{}, apperrors.NewPermissionDenied("role may not distribute tickets")
	}
	if len(ticketIDs) == 0 {
		return domain.BulkAssignmentResult{}, apperrors.NewValidationError("at least one ticket is required", nil)
	}

	plan, err := s.planDistribution(ctx, ticketIDs, developerIDs)
	if err != nil {
		return domain.BulkAssignmentResult{}, err
	}
	return s.BulkAssign(ctx, assigner, plan)
}

func (s *AssignmentService) planDistribution(ctx context.Context, ticketIDs, developerIDs []string) ([]domain.BulkItem, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	developerIDs = uniqueIDs(developerIDs)
	if len(developerIDs) == 0 {
		developers, err := s.users.ListByRoles(ctx, domain.RoleDeveloper)
		if err != nil {
			return nil, apperrors.MapError(err)
		}
		for _, d := range developers {
			if d.Active {
				developerIDs = append(developerIDs, d.ID)
			}
		}
	}
	if len(developerIDs) == 0 {
		return nil, apperrors.NewValidationError("no active developers to distribute to", nil)
	}

	loads, err := s.users.ListDeveloperLoads(ctx, developerIDs)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	current := make(map[string]int, len(loads))
	for _, l := range loads {
		current[l.DeveloperID] = l.ActiveTickets
	}
	pool := make([]domain.DeveloperLoad, 0, len(developerIDs))
	for _, id := range developerIDs {
		pool = append(pool, domain.DeveloperLoad{DeveloperID: id, ActiveTickets: current[id]})
	}

	plan := make([]domain.BulkItem, 0, len(ticketIDs))
	for _, ticketID := range ticketIDs {
		sort.Slice(pool, func(i, j int) bool {
			if pool[i].ActiveTickets != pool[j].ActiveTickets {
				return pool[i].ActiveTickets < pool[j].ActiveTickets
			}
			return pool[i].DeveloperID < pool[j].DeveloperID
		})
		plan = append(plan, domain.BulkItem{TicketID: ticketID, AssigneeID: pool[0].DeveloperID})
		pool[0].ActiveTickets++
	}
	return plan, nil
}

// Unassign returns a ticket to the pool. Admins and project managers may
// unassign any ticket; developers only pass back their own.
func (s *AssignmentService) Unassign(ctx context.Context, actor AssignerContext, ticketID, reason string) (domain.UnassignResult, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.UnassignResult{}, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return domain.UnassignResult{}, apperrors.MapError(err)
	}
	if ticket.AssigneeID == nil {
		return domain.UnassignResult{}, apperrors.NewDomainError(apperrors.CodeNotAssignable, "ticket is not assigned", http.StatusConflict,
			map[string]any{"ticket_id": ticketID})
	}
	previous := *ticket.AssigneeID

	caps := actor.Capabilities()
	if !caps.Has(CapUnassignAny) && !(caps.Has(CapSelfAssign) && previous == actor.ID) {
		return domain.UnassignResult{}, apperrors.NewPermissionDenied("may only unassign your own tickets")
	}

	closed, err := s.tickets.Unassign(ctx, repository.UnassignCommand{TicketID: ticketID, ExpectedAssigneeID: previous, At: s.clock()})
	if err != nil {
		if errors.Is(err, repository.ErrNotCurrentAssignee) {
			return domain.UnassignResult{}, apperrors.NewDomainError(apperrors.CodeAlreadyAssigned, "ticket assignment changed", http.StatusConflict,
				map[string]any{"ticket_id": ticketID})
		}
		return domain.UnassignResult{}, apperrors.MapError(err)
	}

	result := domain.UnassignResult{TicketID: ticketID, PreviousAssigneeID: previous}
	if closed != nil {
		result.RecordID = closed.ID
	}
	s.logger.Info("ticket unassigned",
		zap.String("ticket_id", ticketID),
		zap.String("actor_id", actor.ID),
		zap.String("previous_assignee_id", previous))

	var recipients []string
	if previous != actor.ID {
		recipients = append(recipients, previous)
	}
	if actor.Role == domain.RoleDeveloper {
		recipients = append(recipients, s.coordinators(ctx)...)
	}
	event := s.newEvent(events.EventTicketUnassigned, ticketID, actor, events.TicketUnassignedPayload{
		PreviousAssigneeID: previous,
		Reason:             strings.TrimSpace(reason),
	}, recipients)
	result.NotificationsSent = s.emit(ctx, event)
	return result, nil
}

// coordinators lists active admins and project managers.
func (s *AssignmentService) coordinators(ctx context.Context) []string {
	users, err := s.users.ListByRoles(ctx, domain.RoleAdmin, domain.RoleProjectManager)
	if err != nil {
		s.logger.Warn("list coordinators", zap.Error(err))
		return nil
	}
	ids := make([]string, 0, len(users))
	for _, u := range users {
		if u.Active {
			ids = append(ids, u.ID)
		}
	}
	return ids
}

// ResolveConflict closes an open conflict in favour of one attempt. A losing
// attempter still holding the ticket's reservation loses it.
func (s *AssignmentService) ResolveConflict(ctx context.Context, admin AssignerContext, conflictID, winnerAttemptID string) (*domain.AssignmentConflict, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if !admin.Capabilities().Has(CapResolveConflict) {
		return nil, apperrors.NewPermissionDenied("only administrators may resolve conflicts")
	}
	c, err := s.audit.Conflict(ctx, conflictID)
	if err != nil {
		return nil, err
	}
	if c.Resolved() {
		return nil, apperrors.NewConflictResolved(map[string]any{"conflict_id": conflictID})
	}
	decision, err := conflict.Choose(c.Attempts, winnerAttemptID)
	if err != nil {
		return nil, apperrors.NewValidationError("winner attempt does not belong to the conflict", map[string]any{
			"conflict_id": conflictID,
			"attempt_id":  winnerAttemptID,
		})
	}
	if err := s.audit.Resolve(ctx, conflictID, admin.ID, winnerAttemptID, s.clock()); err != nil {
		return nil, err
	}
	winner := decision.WinningAttempt()

	var emitted []events.Event
	current, err := s.locks.Current(ctx, c.TicketID)
	if err != nil {
		s.logger.Warn("read reservation after conflict resolution", zap.String("conflict_id", conflictID), zap.Error(err))
	} else if current != nil && current.HolderID != winner.AttempterID && attempted(c.Attempts, current.HolderID) {
		displaced, err := s.locks.ForceRelease(ctx, c.TicketID)
		if err != nil {
			return nil, lockError(err)
		}
		if displaced != nil {
			emitted = append(emitted, s.overriddenEvent(admin, displaced, conflictID))
		}
	}

	resolved, err := s.audit.Conflict(ctx, conflictID)
	if err != nil {
		return nil, err
	}
	emitted = append(emitted, s.conflictEvent(events.EventConflictResolved, admin, c.TicketID, resolved, decision))
	s.emit(ctx, emitted...)
	return resolved, nil
}

func attempted(attempts []domain.ConflictAttempt, userID string) bool {
	for _, a := range attempts {
		if a.AttempterID == userID {
			return true
		}
	}
	return false
}

// History returns the ticket's assignment records in order.
func (s *AssignmentService) History(ctx context.Context, ticketID string) ([]domain.AssignmentRecord, error) {
	return s.audit.History(ctx, ticketID)
}

// Conflicts returns the ticket's recorded conflicts.
func (s *AssignmentService) Conflicts(ctx context.Context, ticketID string) ([]domain.AssignmentConflict, error) {
	return s.audit.Conflicts(ctx, ticketID)
}

// NotificationResults returns the delivery results for the ticket.
func (s *AssignmentService) NotificationResults(ctx context.Context, ticketID string) ([]domain.NotificationResult, error) {
	return s.notifier.Results(ctx, ticketID)
}

func (s *AssignmentService) lockRequest(assigner AssignerContext, ticketID string, duration time.Duration) lock.AcquireRequest {
	return lock.AcquireRequest{
		TicketID:   ticketID,
		HolderID:   assigner.ID,
		HolderName: assigner.Name,
		HolderRole: assigner.Role,
		Duration:   duration,
	}
}

// releaseQuietly drops the assigner's reservation even if the request context
// has expired. Store TTL covers a failed release.
func (s *AssignmentService) releaseQuietly(ctx context.Context, ticketID, holderID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if _, err := s.locks.Release(ctx, ticketID, holderID); err != nil {
		s.logger.Warn("release reservation", zap.String("ticket_id", ticketID), zap.String("holder_id", holderID), zap.Error(err))
	}
}

// emit notifies the recipients of each event and publishes it. It returns the
// number of deliveries that reached their channel.
func (s *AssignmentService) emit(ctx context.Context, emitted ...events.Event) int {
	ctx = context.WithoutCancel(ctx)
	sent := 0
	for _, event := range emitted {
		if s.notifier != nil {
			sent += Delivered(s.notifier.Dispatch(ctx, event))
		}
		if s.dispatcher == nil {
			continue
		}
		if err := s.dispatcher.Publish(ctx, event); err != nil {
			s.logger.Warn("publish event", zap.String("event_type", string(event.Type)), zap.String("ticket_id", event.TicketID), zap.Error(err))
		}
	}
	return sent
}

func (s *AssignmentService) newEvent(eventType events.EventType, ticketID string, actor AssignerContext, payload any, recipients []string) events.Event {
	return events.Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		TicketID:   ticketID,
		Actor:      events.Actor{ID: actor.ID, Role: actor.Role},
		Timestamp:  s.clock(),
		Payload:    payload,
		Recipients: recipients,
	}
}

func (s *AssignmentService) assignedEvent(assigner AssignerContext, record *domain.AssignmentRecord) events.Event {
	return s.newEvent(events.EventTicketAssigned, record.TicketID, assigner, events.TicketAssignedPayload{
		AssignmentID:     record.ID,
		AssigneeID:       record.AssigneeID,
		Reason:           record.Reason,
		SelfAssigned:     record.SelfAssigned,
		OverrodeConflict: record.OverrodeConflict,
	}, []string{record.AssigneeID})
}

func (s *AssignmentService) overriddenEvent(admin AssignerContext, displaced *domain.AssignmentLock, conflictID string) events.Event {
	return s.newEvent(events.EventLockOverridden, displaced.TicketID, admin, events.LockOverriddenPayload{
		DisplacedHolderID:   displaced.HolderID,
		DisplacedHolderName: displaced.HolderName,
		ConflictID:          conflictID,
	}, []string{displaced.HolderID})
}

func (s *AssignmentService) conflictEvent(eventType events.EventType, actor AssignerContext, ticketID string, c *domain.AssignmentConflict, decision conflict.Decision) events.Event {
	payload := events.ConflictPayload{
		ConflictID: c.ID,
		Strategy:   c.ResolutionStrategy,
		Resolved:   c.Resolved(),
	}
	for _, a := range c.Attempts {
		payload.Attempters = append(payload.Attempters, a.AttempterID)
	}
	if winner := decision.WinningAttempt(); winner != nil {
		payload.WinnerID = winner.AttempterID
	}
	return s.newEvent(eventType, ticketID, actor, payload, payload.Attempters)
}

func fail(result domain.AssignmentResult, err error) (domain.AssignmentResult, error) {
	de := apperrors.ToDomainError(err)
	result.Success = false
	result.ErrorCode = de.Code
	result.ErrorMessage = de.Message
	return result, de
}

func lockConflict(ticketID string, holder *domain.AssignmentLock, wait time.Duration, conflictID string) error {
	details := map[string]any{
		"ticket_id":         ticketID,
		"conflict_detected": true,
	}
	if conflictID != "" {
		details["conflict_id"] = conflictID
	}
	if holder != nil {
		details["holder_id"] = holder.HolderID
		details["holder_name"] = holder.HolderName
		details["expires_at"] = holder.ExpiresAt
		details["wait_seconds"] = int(wait.Round(time.Second).Seconds())
	}
	return apperrors.NewLockConflict(details)
}

func lockError(err error) error {
	switch {
	case errors.Is(err, lock.ErrInvalidRequest):
		return apperrors.NewValidationError("ticket id and holder are required", nil)
	case errors.Is(err, lock.ErrStoreUnavailable):
		return apperrors.NewServiceUnavailable(err)
	}
	return apperrors.MapError(err)
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	return apperrors.ToDomainError(err).Code
}
