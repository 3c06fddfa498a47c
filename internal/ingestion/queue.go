package ingestion

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/docqa/backend/internal/apperrors"
	"github.com/docqa/backend/internal/metrics"
	"github.com/docqa/backend/internal/storage/models"
	"github.com/docqa/backend/pkg/logger"
)

type Runner interface {
	Process(ctx context.Context, doc *models.Document) Summary
}

// Queue runs ingestion in the background on a fixed pool of workers fed by a
// bounded buffer. Submit never blocks.
type Queue struct {
	runner  Runner
	workers int
	jobs    chan *models.Document

	mu     sync.Mutex
	closed bool

	group  *errgroup.Group
	cancel context.CancelFunc
	// OnDone, when set, is called after each run.
	OnDone func(doc *models.Document, s Summary)
}

func NewQueue(runner Runner, workers, size int) *Queue {
	if workers < 1 {
		workers = 1
	}
	if size < 1 {
		size = 1
	}
	return &Queue{
		runner:  runner,
		workers: workers,
		jobs:    make(chan *models.Document, size),
	}
}

// Start launches the workers. Runs are cancelled when ctx ends or Shutdown
// gives up waiting.
func (q *Queue) Start(ctx context.Context) {
	ctx, q.cancel = context.WithCancel(ctx)
	g, ctx := errgroup.WithContext(ctx)
	q.group = g

	for i := 0; i < q.workers; i++ {
		worker := i
		g.Go(func() error {
			for doc := range q.jobs {
				metrics.IngestionQueueDepth.Set(float64(len(q.jobs)))
				s := q.runner.Process(ctx, doc)
				if q.OnDone != nil {
					q.OnDone(doc, s)
				}
			}
			logger.Debug("Ingestion worker stopped", zap.Int("worker", worker))
			return nil
		})
	}

	logger.Info("Ingestion queue started", zap.Int("workers", q.workers), zap.Int("capacity", cap(q.jobs)))
}

func (q *Queue) Submit(doc *models.Document) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return fmt.Errorf("%w: queue is shut down", apperrors.ErrQueueFull)
	}

	select {
	case q.jobs <- doc:
		metrics.IngestionQueueDepth.Set(float64(len(q.jobs)))
		logger.Debug("Document queued for ingestion", zap.String("doc_id", doc.ID))
		return nil
	default:
		return fmt.Errorf("%w: %d documents waiting", apperrors.ErrQueueFull, cap(q.jobs))
	}
}

// Shutdown stops accepting work and waits for queued runs to finish. If ctx
// ends first, in-flight runs are cancelled and will mark their documents failed.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()

	if q.group == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- q.group.Wait() }()

	select {
	case err := <-done:
		q.cancel()
		return err
	case <-ctx.Done():
		q.cancel()
		<-done
		return ctx.Err()
	}
}
