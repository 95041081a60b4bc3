package serverutils

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"legal-qa-be/pkg/attach"
	"legal-qa-be/pkg/dispatch"
	"legal-qa-be/pkg/session"
)

// ErrorHandlerMiddleware translates domain errors into HTTP responses so
// controllers can just return them.
func ErrorHandlerMiddleware() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		err := ctx.Next()
		if err == nil {
			return nil
		}

		code := fiber.StatusInternalServerError

		var fiberErr *fiber.Error
		var queryErr *dispatch.QueryError
		var sessionCap *session.CapacityError
		var attachCap *attach.CapacityError

		switch {
		case errors.As(err, &fiberErr):
			code = fiberErr.Code
		case errors.Is(err, dispatch.ErrBusy):
			code = fiber.StatusConflict
		case errors.Is(err, dispatch.ErrEmptySubmission):
			code = fiber.StatusBadRequest
		case errors.Is(err, session.ErrNotFound):
			code = fiber.StatusNotFound
		case errors.As(err, &queryErr):
			code = fiber.StatusBadGateway
		case errors.As(err, &sessionCap):
			code = fiber.StatusConflict
		case errors.As(err, &attachCap):
			code = fiber.StatusConflict
		}

		return ctx.Status(code).JSON(ErrorResponse(code, err.Error()))
	}
}
