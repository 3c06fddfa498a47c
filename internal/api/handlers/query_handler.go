package handlers

import (
	"bufio"
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/docqa/backend/internal/llm"
	"github.com/docqa/backend/internal/middleware/validation"
	"github.com/docqa/backend/internal/query"
	"github.com/docqa/backend/internal/stream"
	"github.com/docqa/backend/pkg/logger"
)

const embeddingPreviewLen = 5

type QuestionAnswerer interface {
	Ask(ctx context.Context, question, docID string) (*query.Answer, error)
	OpenStream(ctx context.Context, question, docID string) (llm.TokenStream, []query.Source, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type QueryHandler struct {
	engine   QuestionAnswerer
	embedder Embedder
}

func NewQueryHandler(engine QuestionAnswerer, embedder Embedder) *QueryHandler {
	return &QueryHandler{
		engine:   engine,
		embedder: embedder,
	}
}

func questionFrom(c *fiber.Ctx) (string, string) {
	q, _ := c.Locals(validation.LocalQuestion).(string)
	docID, _ := c.Locals(validation.LocalDocumentID).(string)
	return q, docID
}

// Ask answers in one response using the single nearest page.
func (h *QueryHandler) Ask(c *fiber.Ctx) error {
	q, docID := questionFrom(c)

	answer, err := h.engine.Ask(c.UserContext(), q, docID)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(answer)
}

// AskStream answers as server-sent events. Retrieval and opening the
// generation stream happen before any header is written, so their failures
// still produce a normal JSON error response.
func (h *QueryHandler) AskStream(c *fiber.Ctx) error {
	q, docID := questionFrom(c)

	ctx, cancel := context.WithCancel(context.Background())
	tokens, sources, err := h.engine.OpenStream(ctx, q, docID)
	if err != nil {
		cancel()
		return writeError(c, err)
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer cancel()
		if err := stream.Pipe(ctx, tokens, sources, stream.NewSSESink(w)); err != nil {
			logger.Debug("SSE answer ended early", zap.Error(err))
		}
	}))

	return nil
}

func (h *QueryHandler) TestEmbedding(c *fiber.Ctx) error {
	text := strings.TrimSpace(c.Query("text"))
	if text == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "text query parameter is required",
		})
	}

	vector, err := h.embedder.Embed(c.UserContext(), text)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(fiber.Map{
		"input":        text,
		"vectorLength": len(vector),
		"preview":      vector[:min(embeddingPreviewLen, len(vector))],
	})
}
