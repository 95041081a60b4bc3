package serverutils

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// ClientHeader identifies the browser installation. The client generates
// a UUID once and sends it with every request; there are no accounts.
const ClientHeader = "X-Client-Id"

func ClientMiddleware(ctx *fiber.Ctx) error {
	raw := ctx.Get(ClientHeader)
	if raw == "" {
		return ctx.Status(fiber.StatusUnauthorized).JSON(ErrorResponse(fiber.StatusUnauthorized, "Missing client id"))
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return ctx.Status(fiber.StatusUnauthorized).JSON(ErrorResponse(fiber.StatusUnauthorized, "Invalid client id"))
	}

	ctx.Locals("user_id", id.String())
	return ctx.Next()
}
