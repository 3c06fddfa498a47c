package ingestion

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docqa/backend/internal/apperrors"
	"github.com/docqa/backend/internal/ocr"
	"github.com/docqa/backend/internal/storage/models"
	"github.com/docqa/backend/internal/storage/sqlite"
)

type fakeOCR struct {
	t         *testing.T
	texts     []string
	rasterErr error
	failPage  map[int]error
	lastPages *ocr.Pages
}

func (f *fakeOCR) Rasterize(_ context.Context, _ string) (*ocr.Pages, error) {
	if f.rasterErr != nil {
		return nil, f.rasterErr
	}
	dir := f.t.TempDir()
	pages := &ocr.Pages{Dir: filepath.Join(dir, "pages")}
	require.NoError(f.t, os.MkdirAll(pages.Dir, 0o755))
	for i := range f.texts {
		p := filepath.Join(pages.Dir, fmt.Sprintf("p_%d.png", i+1))
		require.NoError(f.t, os.WriteFile(p, []byte{byte(i)}, 0o644))
		pages.Images = append(pages.Images, p)
	}
	f.lastPages = pages
	return pages, nil
}

func (f *fakeOCR) Recognize(_ context.Context, image string) (string, error) {
	var n int
	_, err := fmt.Sscanf(filepath.Base(image), "p_%d.png", &n)
	require.NoError(f.t, err)
	if err := f.failPage[n]; err != nil {
		return "", err
	}
	return f.texts[n-1], nil
}

type fakeEmbedder struct {
	failOn string
	panics bool
}

func (e *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if e.panics {
		panic("embedder exploded")
	}
	if e.failOn != "" && text == e.failOn {
		return nil, apperrors.ErrEmbeddingUnavailable
	}
	return []float32{float32(len(text))}, nil
}

type fakeVectors struct {
	mu      sync.Mutex
	records map[string]models.VectorRecord
	deleted []string
	flushes int
}

func (v *fakeVectors) Flush(context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.flushes++
	return nil
}

func (v *fakeVectors) Add(_ context.Context, rec models.VectorRecord) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.records[rec.ID] = rec
	return nil
}

func (v *fakeVectors) DeleteByIDs(_ context.Context, ids ...string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, id := range ids {
		delete(v.records, id)
		v.deleted = append(v.deleted, id)
	}
	return nil
}

type fakeChunks struct {
	chunks []models.Chunk
	err    error
}

func (c *fakeChunks) InsertChunk(_ context.Context, ch *models.Chunk) error {
	if c.err != nil {
		return c.err
	}
	c.chunks = append(c.chunks, *ch)
	return nil
}

type fakeStatus struct {
	mu     sync.Mutex
	status map[string]models.DocumentStatus
}

func (s *fakeStatus) set(id string, st models.DocumentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, done := s.status[id]; !done {
		s.status[id] = st
	}
	return nil
}

func (s *fakeStatus) MarkSucceeded(_ context.Context, id string) error {
	return s.set(id, models.StatusSuccess)
}

func (s *fakeStatus) MarkFailed(_ context.Context, id string) error {
	return s.set(id, models.StatusFailed)
}

func (s *fakeStatus) get(id string) models.DocumentStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status[id]
}

type fakeFiles struct{ err error }

func (f fakeFiles) LocalPath(_ context.Context, ref string) (string, func(), error) {
	if f.err != nil {
		return "", nil, f.err
	}
	return "/srv/uploads/" + ref, func() {}, nil
}

type harness struct {
	ocr       *fakeOCR
	embedder  *fakeEmbedder
	vectors   *fakeVectors
	chunks    *fakeChunks
	status    *fakeStatus
	files     fakeFiles
	processor *Processor
}

func newHarness(t *testing.T, texts ...string) *harness {
	h := &harness{
		ocr:      &fakeOCR{t: t, texts: texts, failPage: map[int]error{}},
		embedder: &fakeEmbedder{},
		vectors:  &fakeVectors{records: map[string]models.VectorRecord{}},
		chunks:   &fakeChunks{},
		status:   &fakeStatus{status: map[string]models.DocumentStatus{}},
	}
	h.build()
	return h
}

func (h *harness) build() {
	h.processor = NewProcessor(Deps{
		OCR:      h.ocr,
		Embedder: h.embedder,
		Vectors:  h.vectors,
		Chunks:   h.chunks,
		Status:   h.status,
		Files:    h.files,
	}, 10)
}

func testDoc() *models.Document {
	return &models.Document{ID: "doc1", FileName: "handbook.pdf", StorageRef: "ref.pdf", Status: models.StatusProcessing}
}

func TestProcess_PagesInOrder(t *testing.T) {
	var texts []string
	for i := 1; i <= 11; i++ {
		texts = append(texts, fmt.Sprintf("content of page number %d", i))
	}
	h := newHarness(t, texts...)

	s := h.processor.Process(context.Background(), testDoc())

	assert.Equal(t, models.StatusSuccess, s.Status)
	assert.Equal(t, models.StatusSuccess, h.status.get("doc1"))
	require.Len(t, h.chunks.chunks, 11)
	for i, ch := range h.chunks.chunks {
		assert.Equal(t, i+1, ch.PageNumber)
		assert.Equal(t, fmt.Sprintf("vec_doc1_%d", i), ch.VectorID)
		assert.Equal(t, texts[i], ch.Content)
		assert.Contains(t, h.vectors.records, ch.VectorID)
	}

	rec := h.vectors.records["vec_doc1_0"]
	assert.Equal(t, "doc1", rec.DocumentID)
	assert.Equal(t, "handbook.pdf", rec.FileName)

	_, err := os.Stat(h.ocr.lastPages.Dir)
	assert.True(t, os.IsNotExist(err), "page images should be cleaned up")
}

func TestProcess_MinimumContentFilter(t *testing.T) {
	h := newHarness(t, "  123456789  ", "\n0123456789\t")

	s := h.processor.Process(context.Background(), testDoc())

	assert.Equal(t, models.StatusSuccess, s.Status)
	assert.Equal(t, 1, s.Skipped)
	require.Len(t, h.chunks.chunks, 1)
	assert.Equal(t, 2, h.chunks.chunks[0].PageNumber)
	assert.Equal(t, "0123456789", h.chunks.chunks[0].Content)
	assert.Equal(t, "vec_doc1_1", h.chunks.chunks[0].VectorID)
}

func TestProcess_MinimumContentCountsCharacters(t *testing.T) {
	h := newHarness(t, "学生手册第一章总则内容")

	h.processor.Process(context.Background(), testDoc())

	assert.Len(t, h.chunks.chunks, 1)
}

func TestProcess_BlankDocumentSucceeds(t *testing.T) {
	h := newHarness(t, "", "   ")

	s := h.processor.Process(context.Background(), testDoc())

	assert.Equal(t, models.StatusSuccess, s.Status)
	assert.Empty(t, h.chunks.chunks)
}

func TestProcess_RasterizeFailureIsFatal(t *testing.T) {
	h := newHarness(t)
	h.ocr.rasterErr = fmt.Errorf("%w: pdftocairo exited 1", apperrors.ErrOCRTool)

	s := h.processor.Process(context.Background(), testDoc())

	assert.Equal(t, models.StatusFailed, s.Status)
	assert.ErrorIs(t, s.FatalError, apperrors.ErrOCRTool)
	assert.Equal(t, models.StatusFailed, h.status.get("doc1"))
}

func TestProcess_MissingSourceFileFails(t *testing.T) {
	h := newHarness(t, "some page content")
	h.files = fakeFiles{err: apperrors.ErrFileStore}
	h.build()

	s := h.processor.Process(context.Background(), testDoc())

	assert.Equal(t, models.StatusFailed, s.Status)
	assert.Equal(t, models.StatusFailed, h.status.get("doc1"))
}

func TestProcess_PageErrorContained(t *testing.T) {
	h := newHarness(t, "first page content", "second page content", "third page content")
	h.embedder.failOn = "second page content"
	h.ocr.failPage[3] = fmt.Errorf("%w: tesseract crashed", apperrors.ErrOCRTool)

	s := h.processor.Process(context.Background(), testDoc())

	assert.Equal(t, models.StatusSuccess, s.Status)
	assert.Equal(t, 2, s.PageErrors)
	require.Len(t, h.chunks.chunks, 1)
	assert.Equal(t, 1, h.chunks.chunks[0].PageNumber)

	_, err := os.Stat(h.ocr.lastPages.Images[1])
	assert.True(t, os.IsNotExist(err), "failed page image should be removed")
}

func TestProcess_AllPagesFailingMarksFailed(t *testing.T) {
	h := newHarness(t, "only page content", "tiny")
	h.embedder.failOn = "only page content"

	s := h.processor.Process(context.Background(), testDoc())

	assert.Equal(t, models.StatusFailed, s.Status)
	assert.ErrorIs(t, s.LastPageErr, apperrors.ErrEmbeddingUnavailable)
	assert.Equal(t, models.StatusFailed, h.status.get("doc1"))
}

func TestProcess_ChunkFailureRollsBackVector(t *testing.T) {
	h := newHarness(t, "page with enough text")
	h.chunks.err = apperrors.ErrMetadataStore

	h.processor.Process(context.Background(), testDoc())

	assert.Equal(t, []string{"vec_doc1_0"}, h.vectors.deleted)
	assert.Empty(t, h.vectors.records)
	assert.Equal(t, models.StatusFailed, h.status.get("doc1"))
}

func TestProcess_PanicStillTerminates(t *testing.T) {
	h := newHarness(t, "page with enough text")
	h.embedder.panics = true

	s := h.processor.Process(context.Background(), testDoc())

	assert.Equal(t, models.StatusFailed, s.Status)
	require.Error(t, s.FatalError)
	assert.Equal(t, models.StatusFailed, h.status.get("doc1"))
}

func TestProcess_CancelledContextMarksFailed(t *testing.T) {
	h := newHarness(t, "page with enough text")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := h.processor.Process(ctx, testDoc())

	assert.Equal(t, models.StatusFailed, s.Status)
	assert.True(t, errors.Is(s.FatalError, context.Canceled))
	assert.Equal(t, models.StatusFailed, h.status.get("doc1"))
}

func TestProcess_FlushesOncePerDocument(t *testing.T) {
	h := newHarness(t, "first page with content", "second page with content", "third page with content")

	h.processor.Process(context.Background(), testDoc())

	assert.Equal(t, 1, h.vectors.flushes)
}

func TestProcess_NoFlushWithoutChunks(t *testing.T) {
	h := newHarness(t, "", "short")

	h.processor.Process(context.Background(), testDoc())

	assert.Zero(t, h.vectors.flushes)
}

// deletingChunks removes the document, its chunks and its vectors right after
// the first chunk is written, the way a concurrent delete request would.
type deletingChunks struct {
	store   *sqlite.Client
	vectors *fakeVectors
	docID   string
	written int
}

func (d *deletingChunks) InsertChunk(ctx context.Context, ch *models.Chunk) error {
	if err := d.store.InsertChunk(ctx, ch); err != nil {
		return err
	}
	d.written++
	if d.written == 1 {
		if _, err := d.store.DeleteChunksByDocument(ctx, d.docID); err != nil {
			return err
		}
		if err := d.store.DeleteDocument(ctx, d.docID); err != nil {
			return err
		}
		ids := make([]string, 0, len(d.vectors.records))
		for id := range d.vectors.records {
			ids = append(ids, id)
		}
		return d.vectors.DeleteByIDs(ctx, ids...)
	}
	return nil
}

func TestProcess_DeleteDuringIngestionLeavesNoOrphans(t *testing.T) {
	ctx := context.Background()
	store, err := sqlite.NewClient(filepath.Join(t.TempDir(), "docqa.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.InitSchema())

	doc := testDoc()
	require.NoError(t, store.InsertDocument(ctx, doc))

	h := newHarness(t, "first page with content", "second page with content", "third page with content")
	writer := &deletingChunks{store: store, vectors: h.vectors, docID: doc.ID}
	h.processor = NewProcessor(Deps{
		OCR:      h.ocr,
		Embedder: h.embedder,
		Vectors:  h.vectors,
		Chunks:   writer,
		Status:   h.status,
		Files:    h.files,
	}, 10)

	s := h.processor.Process(ctx, doc)

	assert.Equal(t, 2, s.PageErrors)
	chunks, err := store.ListChunks(ctx, doc.ID)
	require.NoError(t, err)
	assert.Empty(t, chunks)
	assert.Empty(t, h.vectors.records)
	assert.ElementsMatch(t, []string{"vec_doc1_0", "vec_doc1_1", "vec_doc1_2"}, h.vectors.deleted)
}
