package ingestion

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docqa/backend/internal/apperrors"
	"github.com/docqa/backend/internal/storage/models"
)

type blockingRunner struct {
	mu      sync.Mutex
	seen    []string
	started chan string
	release chan struct{}
}

func (r *blockingRunner) Process(ctx context.Context, doc *models.Document) Summary {
	if r.started != nil {
		r.started <- doc.ID
	}
	if r.release != nil {
		select {
		case <-r.release:
		case <-ctx.Done():
			return Summary{Status: models.StatusFailed, FatalError: ctx.Err()}
		}
	}
	r.mu.Lock()
	r.seen = append(r.seen, doc.ID)
	r.mu.Unlock()
	return Summary{Status: models.StatusSuccess}
}

func TestQueue_RunsSubmittedDocuments(t *testing.T) {
	runner := &blockingRunner{}
	q := NewQueue(runner, 2, 8)
	q.Start(context.Background())

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Submit(&models.Document{ID: id}))
	}
	require.NoError(t, q.Shutdown(context.Background()))

	assert.ElementsMatch(t, []string{"a", "b", "c"}, runner.seen)
}

func TestQueue_FullQueueRejects(t *testing.T) {
	runner := &blockingRunner{started: make(chan string, 4), release: make(chan struct{})}
	q := NewQueue(runner, 1, 1)
	q.Start(context.Background())

	require.NoError(t, q.Submit(&models.Document{ID: "running"}))
	select {
	case <-runner.started:
	case <-time.After(5 * time.Second):
		t.Fatal("worker never picked up the first document")
	}
	require.NoError(t, q.Submit(&models.Document{ID: "waiting"}))

	err := q.Submit(&models.Document{ID: "rejected"})
	assert.ErrorIs(t, err, apperrors.ErrQueueFull)

	close(runner.release)
	require.NoError(t, q.Shutdown(context.Background()))
	assert.Equal(t, []string{"running", "waiting"}, runner.seen)
}

func TestQueue_SubmitAfterShutdown(t *testing.T) {
	q := NewQueue(&blockingRunner{}, 1, 1)
	q.Start(context.Background())
	require.NoError(t, q.Shutdown(context.Background()))

	assert.ErrorIs(t, q.Submit(&models.Document{ID: "late"}), apperrors.ErrQueueFull)
}

func TestQueue_ShutdownTimeoutCancelsRuns(t *testing.T) {
	runner := &blockingRunner{started: make(chan string, 1), release: make(chan struct{})}
	q := NewQueue(runner, 1, 1)

	var mu sync.Mutex
	var results []Summary
	q.OnDone = func(_ *models.Document, s Summary) {
		mu.Lock()
		results = append(results, s)
		mu.Unlock()
	}
	q.Start(context.Background())

	require.NoError(t, q.Submit(&models.Document{ID: "stuck"}))
	<-runner.started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Shutdown(ctx), context.DeadlineExceeded)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, results, 1)
	assert.Equal(t, models.StatusFailed, results[0].Status)
}
