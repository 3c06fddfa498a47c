package apperrors

import (
	"errors"

	"github.com/gofiber/fiber/v2"
)

var (
	ErrDuplicateDocument     = errors.New("document already exists")
	ErrNotFound              = errors.New("not found")
	ErrInvalidInput          = errors.New("invalid input")
	ErrEmbeddingUnavailable  = errors.New("embedding service unavailable")
	ErrGenerationUnavailable = errors.New("generation service unavailable")
	ErrOCRTool               = errors.New("ocr tool error")
	ErrVectorIndex           = errors.New("vector index error")
	ErrMetadataStore         = errors.New("metadata store error")
	ErrFileStore             = errors.New("file store error")

	// ErrIndexDrift marks a chunk row or vector that exists without its counterpart.
	// It is never returned to clients; it only tags log entries.
	ErrIndexDrift = errors.New("index drift")

	ErrQueueFull = errors.New("ingestion queue is full")
)

// HTTPStatus maps an error from the core onto a response status code.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return fiber.StatusOK
	case errors.Is(err, ErrDuplicateDocument):
		return fiber.StatusConflict
	case errors.Is(err, ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, ErrInvalidInput):
		return fiber.StatusBadRequest
	case errors.Is(err, ErrQueueFull):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, ErrEmbeddingUnavailable),
		errors.Is(err, ErrGenerationUnavailable),
		errors.Is(err, ErrVectorIndex):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}
