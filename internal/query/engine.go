package query

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/docqa/backend/internal/apperrors"
	"github.com/docqa/backend/internal/llm"
	"github.com/docqa/backend/internal/metrics"
	"github.com/docqa/backend/internal/storage/models"
	"github.com/docqa/backend/pkg/logger"
)

const (
	// NoContextFallback stands in for the reference material when nothing
	// relevant was retrieved.
	NoContextFallback = "No relevant reference material was found."

	contextSeparator = "\n---\n"
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type VectorSearcher interface {
	Query(ctx context.Context, embedding []float32, topK int, docID string) ([]models.VectorHit, error)
}

type SourceResolver interface {
	ChunkSources(ctx context.Context, vectorIDs []string) (map[string]models.ChunkSource, error)
}

type Generator interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	CompleteStream(ctx context.Context, systemPrompt, userPrompt string) (llm.TokenStream, error)
}

// Retrieval modes label the retrieval metrics.
const (
	ModeSingleShot = "single"
	ModeStream     = "stream"
)

type Options struct {
	DistanceThreshold float64
	StreamTopK        int
	SingleShotTopK    int
}

// Engine answers questions from the indexed documents.
type Engine struct {
	embedder  Embedder
	vectors   VectorSearcher
	sources   SourceResolver
	generator Generator
	opts      Options

	observe func(mode string, elapsed time.Duration)
}

func NewEngine(embedder Embedder, vectors VectorSearcher, sources SourceResolver, generator Generator, opts Options) *Engine {
	if opts.DistanceThreshold <= 0 {
		opts.DistanceThreshold = 0.82
	}
	if opts.StreamTopK < 1 {
		opts.StreamTopK = 10
	}
	if opts.SingleShotTopK < 1 {
		opts.SingleShotTopK = 1
	}
	return &Engine{
		embedder:  embedder,
		vectors:   vectors,
		sources:   sources,
		generator: generator,
		opts:      opts,
		observe:   observeRetrieval,
	}
}

func observeRetrieval(mode string, elapsed time.Duration) {
	metrics.RetrievalDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
}

type Match struct {
	VectorID string
	Content  string
	Distance float64
}

type Source struct {
	FileName string `json:"fileName"`
	Page     int    `json:"page"`
	Content  string `json:"content"`
	FileURL  string `json:"fileUrl"`
}

type Retrieval struct {
	Context string
	Matches []Match
	Sources []Source
}

// Retrieve embeds question, keeps the nearest topK hits whose distance is
// strictly below the threshold, and resolves them to their pages.
func (e *Engine) Retrieve(ctx context.Context, question string, topK int, docID string) (*Retrieval, error) {
	return e.retrieve(ctx, ModeStream, question, topK, docID)
}

func (e *Engine) retrieve(ctx context.Context, mode, question string, topK int, docID string) (*Retrieval, error) {
	start := time.Now()

	embedding, err := e.embedder.Embed(ctx, question)
	if err != nil {
		return nil, err
	}

	hits, err := e.vectors.Query(ctx, embedding, topK, docID)
	if err != nil {
		return nil, err
	}

	matches := filterMatches(hits, e.opts.DistanceThreshold)
	metrics.RetrievalMatches.Observe(float64(len(matches)))

	logger.Debug("Retrieval completed",
		zap.Int("topK", topK),
		zap.Int("recalled", len(hits)),
		zap.Int("kept", len(matches)),
		zap.Float64("threshold", e.opts.DistanceThreshold),
	)
	if len(matches) == 0 && len(hits) > 0 && hits[0].Distance != nil {
		logger.Debug("No hit under threshold", zap.Float64("nearest_distance", *hits[0].Distance))
	}

	sources, err := e.resolveSources(ctx, matches)
	if err != nil {
		return nil, err
	}

	e.observe(mode, time.Since(start))

	return &Retrieval{
		Context: buildContext(matches),
		Matches: matches,
		Sources: sources,
	}, nil
}

func filterMatches(hits []models.VectorHit, threshold float64) []Match {
	matches := make([]Match, 0, len(hits))
	for _, h := range hits {
		if h.Distance == nil || h.Content == nil {
			continue
		}
		if *h.Distance >= threshold {
			continue
		}
		matches = append(matches, Match{VectorID: h.ID, Content: *h.Content, Distance: *h.Distance})
	}
	return matches
}

func buildContext(matches []Match) string {
	if len(matches) == 0 {
		return NoContextFallback
	}
	parts := make([]string, len(matches))
	for i, m := range matches {
		parts[i] = m.Content
	}
	return strings.Join(parts, contextSeparator)
}

// resolveSources keeps rank order. Matches without a chunk row are dropped.
func (e *Engine) resolveSources(ctx context.Context, matches []Match) ([]Source, error) {
	sources := make([]Source, 0, len(matches))
	if len(matches) == 0 {
		return sources, nil
	}

	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.VectorID
	}

	byID, err := e.sources.ChunkSources(ctx, ids)
	if err != nil {
		return nil, err
	}

	for _, m := range matches {
		cs, ok := byID[m.VectorID]
		if !ok {
			metrics.IndexDrift.Inc()
			logger.Warn("Vector hit has no chunk row",
				zap.String("vector_id", m.VectorID),
				zap.Error(apperrors.ErrIndexDrift),
			)
			continue
		}
		sources = append(sources, Source{
			FileName: cs.FileName,
			Page:     cs.PageNumber,
			Content:  cs.Content,
			FileURL:  cs.FileURL,
		})
	}
	return sources, nil
}

func validateQuestion(question string) (string, error) {
	q := strings.TrimSpace(question)
	if q == "" {
		return "", fmt.Errorf("%w: question is required", apperrors.ErrInvalidInput)
	}
	return q, nil
}

type LegacySource struct {
	FileName string `json:"fileName"`
	Page     int    `json:"page"`
	Content  string `json:"content"`
}

type Answer struct {
	Question string       `json:"question"`
	Answer   string       `json:"answer"`
	Source   LegacySource `json:"source"`
}

var unknownSource = LegacySource{FileName: "Unknown file", Page: 0, Content: "Content unavailable"}

// Ask answers from the single nearest page and returns the whole answer at once.
func (e *Engine) Ask(ctx context.Context, question, docID string) (*Answer, error) {
	q, err := validateQuestion(question)
	if err != nil {
		return nil, err
	}

	r, err := e.retrieve(ctx, ModeSingleShot, q, e.opts.SingleShotTopK, docID)
	if err != nil {
		return nil, err
	}

	text, err := e.generator.Complete(ctx, singleShotSystemPrompt(r.Context), q)
	if err != nil {
		return nil, err
	}

	src := unknownSource
	if len(r.Sources) > 0 {
		first := r.Sources[0]
		src = LegacySource{FileName: first.FileName, Page: first.Page, Content: first.Content}
	}

	return &Answer{Question: q, Answer: text, Source: src}, nil
}

// OpenStream retrieves context for question and opens the answer stream. The
// caller owns the stream and must close it.
func (e *Engine) OpenStream(ctx context.Context, question, docID string) (llm.TokenStream, []Source, error) {
	q, err := validateQuestion(question)
	if err != nil {
		return nil, nil, err
	}

	r, err := e.retrieve(ctx, ModeStream, q, e.opts.StreamTopK, docID)
	if err != nil {
		return nil, nil, err
	}

	stream, err := e.generator.CompleteStream(ctx, streamSystemPrompt(r.Context), q)
	if err != nil {
		return nil, nil, err
	}

	return stream, r.Sources, nil
}
