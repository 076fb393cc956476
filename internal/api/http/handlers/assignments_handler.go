package handlers

import (
	"errors"
	"maps"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/helpdesk-labs/ticket-assignment/internal/api/dto"
	"github.com/helpdesk-labs/ticket-assignment/internal/auth"
	"github.com/helpdesk-labs/ticket-assignment/internal/domain"
	"github.com/helpdesk-labs/ticket-assignment/internal/service"
	apperrors "github.com/helpdesk-labs/ticket-assignment/pkg/util/errorutil"
)

// AssignmentsHandler exposes the assignment coordinator over HTTP.
type AssignmentsHandler struct {
	service *service.AssignmentService
}

// NewAssignmentsHandler constructs handler.
func NewAssignmentsHandler(assignments *service.AssignmentService) *AssignmentsHandler {
	return &AssignmentsHandler{service: assignments}
}

func principal(c *fiber.Ctx) (service.AssignerContext, error) {
	p, ok := auth.PrincipalFromContext(c)
	if !ok {
		return service.AssignerContext{}, apperrors.NewUnauthorized("user required")
	}
	return p, nil
}

// withResult attaches the partial outcome to a domain error so 409 bodies
// still describe the current holder or assignee.
func withResult(err error, result any) error {
	var domainErr *apperrors.DomainError
	if !errors.As(err, &domainErr) {
		return err
	}
	out := *domainErr
	out.Details = make(map[string]any, len(domainErr.Details)+1)
	maps.Copy(out.Details, domainErr.Details)
	out.Details["result"] = result
	if bulk, ok := result.(dto.BulkAssignmentResult); ok && len(bulk.Invalid) > 0 {
		out.Details["invalid"] = bulk.Invalid
	}
	return &out
}

// Assign POST /assignments.
func (h *AssignmentsHandler) Assign(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var req dto.AssignRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	result, err := h.service.InitiateAssignment(c.UserContext(), p, service.AssignmentRequest{
		TicketID:   req.TicketID,
		AssigneeID: req.AssigneeID,
		Reason:     req.Reason,
		Override:   req.Override,
	})
	if err != nil {
		return withResult(err, dto.FromAssignmentResult(result))
	}
	return c.JSON(fiber.Map{"data": dto.FromAssignmentResult(result)})
}

// LockStatus GET /assignments/:ticketId/lock.
func (h *AssignmentsHandler) LockStatus(c *fiber.Ctx) error {
	status, err := h.service.LockStatus(c.UserContext(), c.Params("ticketId"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.FromLockStatus(status)})
}

// Reserve POST /assignments/:ticketId/lock.
func (h *AssignmentsHandler) Reserve(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var req dto.ReserveRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}
	if req.DurationSeconds < 0 {
		return apperrors.NewValidationError("durationSeconds must not be negative", nil)
	}

	result, err := h.service.ReserveTicket(c.UserContext(), p, c.Params("ticketId"), time.Duration(req.DurationSeconds)*time.Second)
	if err != nil {
		return withResult(err, dto.FromLockResult(result))
	}
	return c.JSON(fiber.Map{"data": dto.FromLockResult(result)})
}

// Release DELETE /assignments/:ticketId/lock.
func (h *AssignmentsHandler) Release(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	released, err := h.service.ReleaseReservation(c.UserContext(), p, c.Params("ticketId"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"released": released}})
}

// Extend POST /assignments/:ticketId/lock/extend.
func (h *AssignmentsHandler) Extend(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var req dto.ExtendRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.AdditionalSeconds <= 0 {
		return apperrors.NewValidationError("additionalSeconds must be positive", nil)
	}

	extended, err := h.service.ExtendReservation(c.UserContext(), p, c.Params("ticketId"), time.Duration(req.AdditionalSeconds)*time.Second)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"extended": extended}})
}

// BulkAssign POST /assignments/bulk.
func (h *AssignmentsHandler) BulkAssign(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var req dto.BulkAssignRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	items := make([]domain.BulkItem, 0, len(req.Assignments))
	for _, a := range req.Assignments {
		items = append(items, domain.BulkItem{TicketID: a.TicketID, AssigneeID: a.AssigneeID})
	}

	result, err := h.service.BulkAssign(c.UserContext(), p, items)
	if err != nil {
		return withResult(err, dto.FromBulkResult(result))
	}
	return c.JSON(fiber.Map{"data": dto.FromBulkResult(result)})
}

// Distribute POST /assignments/bulk/distribute.
func (h *AssignmentsHandler) Distribute(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var req dto.DistributeRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	result, err := h.service.DistributeTickets(c.UserContext(), p, req.TicketIDs, req.DeveloperIDs)
	if err != nil {
		return withResult(err, dto.FromBulkResult(result))
	}
	return c.JSON(fiber.Map{"data": dto.FromBulkResult(result)})
}

// Unassign DELETE /assignments/:ticketId.
func (h *AssignmentsHandler) Unassign(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var req dto.UnassignRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}

	result, err := h.service.Unassign(c.UserContext(), p, c.Params("ticketId"), req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.FromUnassignResult(result)})
}

// History GET /assignments/:ticketId/history.
func (h *AssignmentsHandler) History(c *fiber.Ctx) error {
	records, err := h.service.History(c.UserContext(), c.Params("ticketId"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.FromRecords(records)})
}

// Conflicts GET /assignments/:ticketId/conflicts.
func (h *AssignmentsHandler) Conflicts(c *fiber.Ctx) error {
	conflicts, err := h.service.Conflicts(c.UserContext(), c.Params("ticketId"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.FromConflicts(conflicts)})
}

// ResolveConflict POST /assignments/conflicts/:conflictId/resolve.
func (h *AssignmentsHandler) ResolveConflict(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var req dto.ResolveConflictRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.WinnerAttemptID == "" {
		return apperrors.NewValidationError("winnerAttemptId required", nil)
	}

	resolved, err := h.service.ResolveConflict(c.UserContext(), p, c.Params("conflictId"), req.WinnerAttemptID)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"data": dto.FromConflict(*resolved)})
}

// Notifications GET /assignments/:ticketId/notifications.
func (h *AssignmentsHandler) Notifications(c *fiber.Ctx) error {
	results, err := h.service.NotificationResults(c.UserContext(), c.Params("ticketId"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.FromNotificationResults(results)})
}
