package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/docqa/backend/internal/api/handlers"
	"github.com/docqa/backend/internal/middleware/validation"
	"github.com/docqa/backend/pkg/logger"
)

type Handlers struct {
	Documents *handlers.DocumentHandler
	Query     *handlers.QueryHandler
	WebSocket *handlers.WebSocketHandler
	Health    *handlers.HealthHandler
}

type RouteConfig struct {
	MaxQuestionLength int
	// AILimiter, when set, runs in front of every /api/ai route.
	AILimiter fiber.Handler
}

func Register(app *fiber.App, h Handlers, cfg RouteConfig) {
	api := app.Group("/api")

	api.Get("/health", h.Health.Health)
	api.Get("/ready", h.Health.Ready)

	doc := api.Group("/document")
	doc.Post("/upload", validation.Multipart(), h.Documents.UploadDocument)
	doc.Get("/list", h.Documents.ListDocuments)
	doc.Delete("/:id", validation.DocumentID(), h.Documents.DeleteDocument)

	ai := api.Group("/ai")
	if cfg.AILimiter != nil {
		ai.Use(cfg.AILimiter)
	}

	question := validation.Question(validation.Config{
		MaxQuestionLength: cfg.MaxQuestionLength,
		Logger:            logger.GetLogger(),
	})
	ai.Get("/ask", question, h.Query.Ask)
	ai.Get("/ask-stream", question, h.Query.AskStream)
	ai.Get("/test-embedding", h.Query.TestEmbedding)
	ai.Get("/ws", h.WebSocket.Upgrade, websocket.New(h.WebSocket.HandleConnection))
}
