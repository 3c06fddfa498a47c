package handlers

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/docqa/backend/internal/apperrors"
	"github.com/docqa/backend/internal/stream"
	"github.com/docqa/backend/pkg/logger"
)

type WebSocketHandler struct {
	engine         QuestionAnswerer
	maxQuestionLen int
}

func NewWebSocketHandler(engine QuestionAnswerer, maxQuestionLen int) *WebSocketHandler {
	if maxQuestionLen <= 0 {
		maxQuestionLen = 2000
	}
	return &WebSocketHandler{
		engine:         engine,
		maxQuestionLen: maxQuestionLen,
	}
}

// Upgrade only lets WebSocket handshakes through to the connection handler.
func (h *WebSocketHandler) Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

type wsQuestion struct {
	Question   string `json:"question"`
	DocumentID string `json:"documentId"`
}

type wsSink struct {
	conn *websocket.Conn
}

func (s wsSink) Send(e stream.Event) error {
	return s.conn.WriteJSON(e)
}

// HandleConnection answers each question message with text events followed by
// one done event. A failure before the first event is reported as an
// {"error": ...} message; a failure mid-answer closes the connection.
func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	for {
		var msg wsQuestion
		if err := c.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("Failed to read WebSocket message", zap.Error(err))
			}
			return
		}

		if err := h.answer(c, msg); err != nil {
			logger.Warn("WebSocket answer aborted", zap.Error(err))
			return
		}
	}
}

func (h *WebSocketHandler) answer(c *websocket.Conn, msg wsQuestion) error {
	question := strings.TrimSpace(msg.Question)
	docID := strings.TrimSpace(msg.DocumentID)

	if err := h.validate(question, docID); err != nil {
		return sendError(c, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tokens, sources, err := h.engine.OpenStream(ctx, question, docID)
	if err != nil {
		return sendError(c, err)
	}

	return stream.Pipe(ctx, tokens, sources, wsSink{conn: c})
}

func (h *WebSocketHandler) validate(question, docID string) error {
	if question == "" {
		return apperrors.ErrInvalidInput
	}
	if utf8.RuneCountInString(question) > h.maxQuestionLen {
		return apperrors.ErrInvalidInput
	}
	if docID != "" {
		if _, err := uuid.Parse(docID); err != nil {
			return apperrors.ErrInvalidInput
		}
	}
	return nil
}

func sendError(c *websocket.Conn, err error) error {
	msg := err.Error()
	if apperrors.HTTPStatus(err) == fiber.StatusInternalServerError {
		logger.Error("WebSocket question failed", zap.Error(err))
		msg = "internal server error"
	}
	return c.WriteJSON(fiber.Map{"error": msg})
}
