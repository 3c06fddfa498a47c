package validation

import (
	"strings"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Config struct {
	MaxQuestionLength int
	Logger            *zap.Logger
}

const (
	LocalQuestion   = "question"
	LocalDocumentID = "documentId"
)

// Question checks the question and optional documentId query parameters and
// stores their cleaned values in c.Locals.
func Question(cfg Config) fiber.Handler {
	if cfg.MaxQuestionLength <= 0 {
		cfg.MaxQuestionLength = 2000
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		question := sanitizeString(c.Query("question"))
		if question == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "question is required",
			})
		}

		if utf8.RuneCountInString(question) > cfg.MaxQuestionLength {
			cfg.Logger.Warn("Question too long",
				zap.String("ip", c.IP()),
				zap.Int("length", utf8.RuneCountInString(question)),
			)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "question exceeds maximum length",
			})
		}

		docID := strings.TrimSpace(c.Query("documentId"))
		if docID != "" {
			if _, err := uuid.Parse(docID); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "documentId must be a UUID",
				})
			}
		}

		c.Locals(LocalQuestion, question)
		c.Locals(LocalDocumentID, docID)
		return c.Next()
	}
}

// DocumentID rejects requests whose :id route parameter is not a UUID.
func DocumentID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if _, err := uuid.Parse(c.Params("id")); err != nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "document not found",
			})
		}
		return c.Next()
	}
}

// Multipart rejects bodies that are not multipart/form-data.
func Multipart() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
			return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
				"error": "expected multipart/form-data upload",
			})
		}
		return c.Next()
	}
}

func sanitizeString(input string) string {
	return strings.TrimSpace(strings.ReplaceAll(input, "\x00", ""))
}
