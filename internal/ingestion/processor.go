package ingestion

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/docqa/backend/internal/apperrors"
	"github.com/docqa/backend/internal/metrics"
	"github.com/docqa/backend/internal/ocr"
	"github.com/docqa/backend/internal/storage/models"
	"github.com/docqa/backend/pkg/logger"
)

type OCR interface {
	Rasterize(ctx context.Context, pdfPath string) (*ocr.Pages, error)
	Recognize(ctx context.Context, imagePath string) (string, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type VectorWriter interface {
	Add(ctx context.Context, rec models.VectorRecord) error
	DeleteByIDs(ctx context.Context, ids ...string) error
	Flush(ctx context.Context) error
}

type ChunkWriter interface {
	InsertChunk(ctx context.Context, chunk *models.Chunk) error
}

type StatusRecorder interface {
	MarkSucceeded(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

type SourceFiles interface {
	LocalPath(ctx context.Context, ref string) (string, func(), error)
}

type Deps struct {
	OCR      OCR
	Embedder Embedder
	Vectors  VectorWriter
	Chunks   ChunkWriter
	Status   StatusRecorder
	Files    SourceFiles
}

// Processor turns one uploaded PDF into indexed page chunks.
type Processor struct {
	deps         Deps
	minPageChars int
	now          func() time.Time
}

func NewProcessor(deps Deps, minPageChars int) *Processor {
	if minPageChars <= 0 {
		minPageChars = 10
	}
	return &Processor{deps: deps, minPageChars: minPageChars, now: time.Now}
}

// Summary describes one finished ingestion run.
type Summary struct {
	Status      models.DocumentStatus
	Pages       int
	Chunks      int
	Skipped     int
	PageErrors  int
	FatalError  error
	LastPageErr error
}

func VectorID(docID string, pageIndex int) string {
	return fmt.Sprintf("vec_%s_%d", docID, pageIndex)
}

// Process runs the whole pipeline for doc and always leaves it in a terminal
// status, including when the run panics or ctx is cancelled.
func (p *Processor) Process(ctx context.Context, doc *models.Document) (summary Summary) {
	start := p.now()
	log := logger.With(zap.String("doc_id", doc.ID), zap.String("file_name", doc.FileName))
	log.Info("Processing document")

	summary.Status = models.StatusFailed
	defer func() {
		if r := recover(); r != nil {
			summary.Status = models.StatusFailed
			summary.FatalError = fmt.Errorf("ingestion panicked: %v", r)
			log.Error("Ingestion panicked", zap.Any("panic", r), zap.Stack("stack"))
		}

		finishCtx := context.WithoutCancel(ctx)
		var err error
		if summary.Status == models.StatusSuccess {
			err = p.deps.Status.MarkSucceeded(finishCtx, doc.ID)
		} else {
			err = p.deps.Status.MarkFailed(finishCtx, doc.ID)
		}
		if err != nil {
			log.Error("Failed to record final document status", zap.String("status", string(summary.Status)), zap.Error(err))
		}

		metrics.IngestionDuration.Observe(p.now().Sub(start).Seconds())
		log.Info("Document processing finished",
			zap.String("status", string(summary.Status)),
			zap.Int("pages", summary.Pages),
			zap.Int("chunks", summary.Chunks),
			zap.Int("skipped", summary.Skipped),
			zap.Int("page_errors", summary.PageErrors),
			zap.Duration("elapsed", p.now().Sub(start)),
		)
	}()

	if err := p.run(ctx, doc, &summary); err != nil {
		summary.FatalError = err
		log.Error("Document ingestion failed", zap.Error(err))
		return summary
	}

	if summary.PageErrors > 0 && summary.Chunks == 0 {
		log.Warn("Every page with content failed", zap.Error(summary.LastPageErr))
		return summary
	}

	summary.Status = models.StatusSuccess
	return summary
}

func (p *Processor) run(ctx context.Context, doc *models.Document, summary *Summary) error {
	srcPath, release, err := p.deps.Files.LocalPath(ctx, doc.StorageRef)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer release()

	pages, err := p.deps.OCR.Rasterize(ctx, srcPath)
	if err != nil {
		return fmt.Errorf("failed to rasterize: %w", err)
	}
	defer pages.Close()

	summary.Pages = len(pages.Images)

	for i, image := range pages.Images {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("ingestion cancelled at page %d: %w", i+1, err)
		}

		indexed, err := p.processPage(ctx, doc, i, image)
		switch {
		case err != nil:
			summary.PageErrors++
			summary.LastPageErr = err
			metrics.PagesProcessed.WithLabelValues("failed").Inc()
			logger.Warn("Page failed",
				zap.String("doc_id", doc.ID),
				zap.Int("page", i+1),
				zap.Error(err),
			)
		case indexed:
			summary.Chunks++
			metrics.PagesProcessed.WithLabelValues("indexed").Inc()
		default:
			summary.Skipped++
			metrics.PagesProcessed.WithLabelValues("skipped").Inc()
		}
	}

	if summary.Chunks > 0 {
		if err := p.deps.Vectors.Flush(ctx); err != nil {
			logger.Warn("Failed to flush document vectors", zap.String("doc_id", doc.ID), zap.Error(err))
		}
	}

	return nil
}

// processPage indexes one page image. It reports false without error when the
// page has too little text to keep.
func (p *Processor) processPage(ctx context.Context, doc *models.Document, index int, image string) (bool, error) {
	defer func() {
		if err := os.Remove(image); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn("Failed to remove page image", zap.String("path", image), zap.Error(err))
		}
	}()

	raw, err := p.deps.OCR.Recognize(ctx, image)
	if err != nil {
		return false, err
	}

	text := strings.TrimSpace(raw)
	if utf8.RuneCountInString(text) < p.minPageChars {
		logger.Debug("Skipping near-empty page", zap.String("doc_id", doc.ID), zap.Int("page", index+1))
		return false, nil
	}

	embedding, err := p.deps.Embedder.Embed(ctx, text)
	if err != nil {
		return false, err
	}

	vectorID := VectorID(doc.ID, index)
	err = p.deps.Vectors.Add(ctx, models.VectorRecord{
		ID:         vectorID,
		Embedding:  embedding,
		Content:    text,
		DocumentID: doc.ID,
		FileName:   doc.FileName,
	})
	if err != nil {
		return false, err
	}

	chunk := &models.Chunk{
		ID:         uuid.NewString(),
		DocumentID: doc.ID,
		PageNumber: index + 1,
		Content:    text,
		VectorID:   vectorID,
		CreatedAt:  p.now(),
	}
	if err := p.deps.Chunks.InsertChunk(ctx, chunk); err != nil {
		if delErr := p.deps.Vectors.DeleteByIDs(context.WithoutCancel(ctx), vectorID); delErr != nil {
			metrics.IndexDrift.Inc()
			logger.Error("Orphan vector left after chunk insert failed",
				zap.String("vector_id", vectorID),
				zap.Error(fmt.Errorf("%w: %w", apperrors.ErrIndexDrift, delErr)),
			)
		}
		return false, err
	}

	return true, nil
}
