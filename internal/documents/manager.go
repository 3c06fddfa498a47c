package documents

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/docqa/backend/internal/apperrors"
	"github.com/docqa/backend/internal/metrics"
	"github.com/docqa/backend/internal/storage/models"
	"github.com/docqa/backend/pkg/logger"
)

type Store interface {
	InsertDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	FindDocumentByFileName(ctx context.Context, fileName string) (*models.Document, error)
	ListDocuments(ctx context.Context) ([]models.DocumentSummary, error)
	UpdateStatusIfProcessing(ctx context.Context, id string, status models.DocumentStatus) (bool, error)
	FailProcessingDocuments(ctx context.Context) (int64, error)
	DeleteChunksByDocument(ctx context.Context, docID string) (int64, error)
	DeleteDocument(ctx context.Context, id string) error
}

type VectorIndex interface {
	DeleteByDocument(ctx context.Context, docID string) error
}

type FileRemover interface {
	Remove(ctx context.Context, ref string) error
}

// Manager owns the document state machine: processing, then exactly one of
// success or failed, then deletion.
type Manager struct {
	store   Store
	vectors VectorIndex
	files   FileRemover
	now     func() time.Time
}

func NewManager(store Store, vectors VectorIndex, files FileRemover) *Manager {
	return &Manager{
		store:   store,
		vectors: vectors,
		files:   files,
		now:     time.Now,
	}
}

// EnsureAvailable returns apperrors.ErrDuplicateDocument when fileName is taken.
func (m *Manager) EnsureAvailable(ctx context.Context, fileName string) error {
	_, err := m.store.FindDocumentByFileName(ctx, fileName)
	switch {
	case err == nil:
		return fmt.Errorf("%w: %s", apperrors.ErrDuplicateDocument, fileName)
	case errors.Is(err, apperrors.ErrNotFound):
		return nil
	default:
		return err
	}
}

func (m *Manager) Create(ctx context.Context, fileName, storageRef, fileURL string) (*models.Document, error) {
	if fileName == "" {
		return nil, fmt.Errorf("%w: empty file name", apperrors.ErrInvalidInput)
	}

	doc := &models.Document{
		ID:         uuid.NewString(),
		FileName:   fileName,
		StorageRef: storageRef,
		FileURL:    fileURL,
		Status:     models.StatusProcessing,
		CreatedAt:  m.now().Truncate(time.Millisecond),
	}

	if err := m.store.InsertDocument(ctx, doc); err != nil {
		return nil, err
	}

	logger.Info("Document created", zap.String("doc_id", doc.ID), zap.String("file_name", fileName))
	return doc, nil
}

func (m *Manager) Get(ctx context.Context, id string) (*models.Document, error) {
	return m.store.GetDocument(ctx, id)
}

func (m *Manager) List(ctx context.Context) ([]models.DocumentSummary, error) {
	return m.store.ListDocuments(ctx)
}

func (m *Manager) MarkSucceeded(ctx context.Context, id string) error {
	return m.finish(ctx, id, models.StatusSuccess)
}

func (m *Manager) MarkFailed(ctx context.Context, id string) error {
	return m.finish(ctx, id, models.StatusFailed)
}

func (m *Manager) finish(ctx context.Context, id string, status models.DocumentStatus) error {
	changed, err := m.store.UpdateStatusIfProcessing(ctx, id, status)
	if err != nil {
		return err
	}
	if !changed {
		logger.Warn("Ignored status transition for document not in processing",
			zap.String("doc_id", id),
			zap.String("requested", string(status)),
		)
		return nil
	}

	metrics.DocumentsIngested.WithLabelValues(string(status)).Inc()
	logger.Info("Document status updated", zap.String("doc_id", id), zap.String("status", string(status)))
	return nil
}

// FailStale closes out documents left in processing by a previous run. Call it
// before the ingestion queue starts.
func (m *Manager) FailStale(ctx context.Context) (int64, error) {
	n, err := m.store.FailProcessingDocuments(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.DocumentsIngested.WithLabelValues(string(models.StatusFailed)).Add(float64(n))
		logger.Warn("Marked interrupted documents as failed", zap.Int64("count", n))
	}
	return n, nil
}

// Delete removes the stored file, the document's vectors, its chunks and the
// document row, in that order. Failures of the first three steps are logged
// and do not stop the rest.
func (m *Manager) Delete(ctx context.Context, id string) error {
	doc, err := m.store.GetDocument(ctx, id)
	if err != nil {
		return err
	}

	log := logger.With(zap.String("doc_id", id))

	if doc.StorageRef != "" {
		if err := m.files.Remove(ctx, doc.StorageRef); err != nil {
			metrics.CleanupFailures.WithLabelValues("file").Inc()
			log.Warn("Failed to remove stored file", zap.String("ref", doc.StorageRef), zap.Error(err))
		}
	}

	if err := m.vectors.DeleteByDocument(ctx, id); err != nil {
		metrics.CleanupFailures.WithLabelValues("vectors").Inc()
		log.Warn("Failed to remove document vectors", zap.Error(err))
	}

	removed, err := m.store.DeleteChunksByDocument(ctx, id)
	if err != nil {
		metrics.CleanupFailures.WithLabelValues("chunks").Inc()
		log.Warn("Failed to remove document chunks", zap.Error(err))
	}

	if err := m.store.DeleteDocument(ctx, id); err != nil {
		metrics.CleanupFailures.WithLabelValues("document").Inc()
		return err
	}

	log.Info("Document deleted", zap.String("file_name", doc.FileName), zap.Int64("chunks", removed))
	return nil
}
