package llm

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/docqa/backend/pkg/logger"
	"github.com/docqa/backend/pkg/utils"
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type EmbeddingCache interface {
	GetEmbedding(ctx context.Context, model, textHash string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, model, textHash string, embedding []float32, ttl time.Duration) error
}

// CachedEmbedder serves repeated texts from cache. Cache failures are logged
// and fall through to the wrapped embedder.
type CachedEmbedder struct {
	next  Embedder
	cache EmbeddingCache
	model string
	ttl   time.Duration
}

func NewCachedEmbedder(next Embedder, cache EmbeddingCache, model string, ttl time.Duration) *CachedEmbedder {
	return &CachedEmbedder{next: next, cache: cache, model: model, ttl: ttl}
}

func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := utils.HashString(text)

	cached, ok, err := e.cache.GetEmbedding(ctx, e.model, key)
	if err != nil {
		logger.Warn("Embedding cache read failed", zap.Error(err))
	} else if ok {
		return cached, nil
	}

	embedding, err := e.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	if err := e.cache.SetEmbedding(ctx, e.model, key, embedding, e.ttl); err != nil {
		logger.Warn("Embedding cache write failed", zap.Error(err))
	}
	return embedding, nil
}
