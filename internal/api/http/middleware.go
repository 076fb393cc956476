package http

import (
	"context"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"go.uber.org/zap"

	"github.com/helpdesk-labs/ticket-assignment/internal/observability"
	apperrors "github.com/helpdesk-labs/ticket-assignment/pkg/util/errorutil"
)

// RegisterMiddlewares attaches request ids, the request deadline, error
// rendering and request logging.
func RegisterMiddlewares(app *fiber.App, logger *zap.Logger, metrics *observability.Metrics, timeout time.Duration) {
	app.Use(requestid.New())
	if timeout > 0 {
		app.Use(requestTimeoutMiddleware(timeout))
	}
	app.Use(observability.RequestLogger(logger, metrics))
	app.Use(errorHandlingMiddleware(logger, metrics))
}

func requestTimeoutMiddleware(timeout time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), timeout)
		defer cancel()
		c.SetUserContext(ctx)
		return c.Next()
	}
}

// errorHandlingMiddleware renders every error as
// {"error":{"code","message","details"}} with the DomainError's status.
func errorHandlingMiddleware(logger *zap.Logger, metrics *observability.Metrics) fiber.Handler {
	return func(c *fiber.Ctx) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic recovered",
					zap.Any("panic", r),
					zap.String("request_id", observability.RequestID(c)),
					zap.ByteString("stack", debug.Stack()))
				err = apperrors.NewInternalError(nil)
			}
			if err == nil {
				return
			}
			if fe, ok := err.(*fiber.Error); ok {
				err = apperrors.NewDomainError(fiberCode(fe.Code), fe.Message, fe.Code, nil)
			}

			domainErr := apperrors.ToDomainError(err)
			metrics.RecordError(observability.Route(c), c.Method(), domainErr.Code)

			body := fiber.Map{
				"code":    domainErr.Code,
				"message": domainErr.Message,
			}
			if len(domainErr.Details) > 0 {
				body["details"] = domainErr.Details
			}
			if wait, ok := domainErr.Details["wait_seconds"].(int); ok && domainErr.Retryable() && wait > 0 {
				c.Set(fiber.HeaderRetryAfter, strconv.Itoa(wait))
			}

			switch {
			case domainErr.HTTPStatus >= fiber.StatusInternalServerError:
				logger.Error("request failed",
					zap.String("request_id", observability.RequestID(c)),
					zap.String("code", domainErr.Code),
					zap.Error(domainErr))
			case domainErr.HTTPStatus == fiber.StatusConflict:
				logger.Info("assignment rejected",
					zap.String("request_id", observability.RequestID(c)),
					zap.String("code", domainErr.Code),
					zap.Any("conflict_id", domainErr.Details["conflict_id"]))
			}

			c.Status(domainErr.HTTPStatus)
			_ = c.JSON(fiber.Map{"error": body})
			err = nil
		}()
		return c.Next()
	}
}

func fiberCode(status int) string {
	switch status {
	case fiber.StatusNotFound:
		return apperrors.CodeNotFound
	case fiber.StatusMethodNotAllowed, fiber.StatusBadRequest, fiber.StatusUnprocessableEntity:
		return apperrors.CodeValidationFailed
	case fiber.StatusRequestTimeout, fiber.StatusServiceUnavailable:
		return apperrors.CodeServiceUnavailable
	}
	return apperrors.CodeInternal
}
