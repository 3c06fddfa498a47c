package handlers

import (
	"context"
	"io"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/docqa/backend/internal/storage/models"
	"github.com/docqa/backend/pkg/logger"
	"github.com/docqa/backend/pkg/utils"
)

type DocumentService interface {
	EnsureAvailable(ctx context.Context, fileName string) error
	Create(ctx context.Context, fileName, storageRef, fileURL string) (*models.Document, error)
	List(ctx context.Context) ([]models.DocumentSummary, error)
	Delete(ctx context.Context, id string) error
}

type FileStore interface {
	Save(ctx context.Context, originalName string, r io.Reader, size int64) (ref, fileURL string, err error)
	Remove(ctx context.Context, ref string) error
}

type IngestionQueue interface {
	Submit(doc *models.Document) error
}

type DocumentHandler struct {
	docs  DocumentService
	files FileStore
	queue IngestionQueue
}

func NewDocumentHandler(docs DocumentService, files FileStore, queue IngestionQueue) *DocumentHandler {
	return &DocumentHandler{
		docs:  docs,
		files: files,
		queue: queue,
	}
}

type documentJSON struct {
	ID       string    `json:"id"`
	FileName string    `json:"fileName"`
	FileURL  string    `json:"fileUrl"`
	CreateAt time.Time `json:"createAt"`
	Status   string    `json:"status"`
}

type chunkCount struct {
	Chunks int `json:"chunks"`
}

type documentListItem struct {
	documentJSON
	Count chunkCount `json:"_count"`
}

func toDocumentJSON(d *models.Document) documentJSON {
	return documentJSON{
		ID:       d.ID,
		FileName: d.FileName,
		FileURL:  d.FileURL,
		CreateAt: d.CreatedAt,
		Status:   string(d.Status),
	}
}

// UploadDocument stores one PDF, creates its document in processing state and
// queues it for ingestion without waiting.
func (h *DocumentHandler) UploadDocument(c *fiber.Ctx) error {
	ctx := c.UserContext()

	fh, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "file field is required",
		})
	}

	fileName := utils.NormalizeFileName(fh.Filename)
	if fileName == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "file name is required",
		})
	}

	f, err := fh.Open()
	if err != nil {
		return writeError(c, err)
	}
	defer f.Close()

	mt, err := mimetype.DetectReader(f)
	if err != nil {
		return writeError(c, err)
	}
	if !mt.Is("application/pdf") {
		return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
			"error": "only PDF files are accepted, got " + mt.String(),
		})
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return writeError(c, err)
	}

	if err := h.docs.EnsureAvailable(ctx, fileName); err != nil {
		return writeError(c, err)
	}

	ref, fileURL, err := h.files.Save(ctx, fileName, f, fh.Size)
	if err != nil {
		return writeError(c, err)
	}

	doc, err := h.docs.Create(ctx, fileName, ref, fileURL)
	if err != nil {
		if rmErr := h.files.Remove(ctx, ref); rmErr != nil {
			logger.Warn("Failed to remove file of rejected upload", zap.String("ref", ref), zap.Error(rmErr))
		}
		return writeError(c, err)
	}

	if err := h.queue.Submit(doc); err != nil {
		if delErr := h.docs.Delete(ctx, doc.ID); delErr != nil {
			logger.Error("Failed to roll back unqueued document", zap.String("doc_id", doc.ID), zap.Error(delErr))
		}
		return writeError(c, err)
	}

	logger.Info("Document uploaded", zap.String("doc_id", doc.ID), zap.String("file_name", fileName), zap.Int64("size", fh.Size))

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message":  "File uploaded, processing in background",
		"document": toDocumentJSON(doc),
	})
}

func (h *DocumentHandler) ListDocuments(c *fiber.Ctx) error {
	summaries, err := h.docs.List(c.UserContext())
	if err != nil {
		return writeError(c, err)
	}

	list := make([]documentListItem, len(summaries))
	for i := range summaries {
		list[i] = documentListItem{
			documentJSON: toDocumentJSON(&summaries[i].Document),
			Count:        chunkCount{Chunks: summaries[i].ChunkCount},
		}
	}

	return c.JSON(fiber.Map{"list": list})
}

func (h *DocumentHandler) DeleteDocument(c *fiber.Ctx) error {
	if err := h.docs.Delete(c.UserContext(), c.Params("id")); err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"message": "Document deleted"})
}
