package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/docqa/backend/internal/apperrors"
	"github.com/docqa/backend/pkg/logger"
)

// writeError maps err to a status and a {"error": ...} body. Server-side
// failures are logged and their details withheld.
func writeError(c *fiber.Ctx, err error) error {
	status := apperrors.HTTPStatus(err)
	msg := err.Error()

	if status >= fiber.StatusInternalServerError {
		logger.Error("Request failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Error(err),
		)
		if status == fiber.StatusInternalServerError {
			msg = "internal server error"
		}
	}

	return c.Status(status).JSON(fiber.Map{"error": msg})
}
