package serverutils

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

var validate = validator.New()

// ValidateRequest runs struct-tag validation and folds violations into a
// single 400 response.
func ValidateRequest(req interface{}) error {
	if err := validate.Struct(req); err != nil {
		violations, ok := err.(validator.ValidationErrors)
		if !ok {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		parts := make([]string, len(violations))
		for i, v := range violations {
			parts[i] = fmt.Sprintf("%s failed on '%s'", v.Field(), v.Tag())
		}
		return fiber.NewError(fiber.StatusBadRequest, strings.Join(parts, "; "))
	}
	return nil
}
