package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/docqa/backend/internal/api/handlers"
	rediscache "github.com/docqa/backend/internal/cache/redis"
	"github.com/docqa/backend/internal/documents"
	"github.com/docqa/backend/internal/ingestion"
	"github.com/docqa/backend/internal/llm"
	"github.com/docqa/backend/internal/ocr"
	"github.com/docqa/backend/internal/query"
	"github.com/docqa/backend/internal/storage/files"
	"github.com/docqa/backend/internal/storage/sqlite"
	"github.com/docqa/backend/internal/vector/milvus"
	"github.com/docqa/backend/pkg/config"
	appLogger "github.com/docqa/backend/pkg/logger"
)

// services holds every long-lived component shared by the serve and ingest
// commands.
type services struct {
	cfg       *config.Config
	store     *sqlite.Client
	vectors   *milvus.Client
	embedder  llm.Embedder
	llm       *llm.Client
	files     files.Store
	local     *files.LocalStore
	docs      *documents.Manager
	processor *ingestion.Processor
	engine    *query.Engine
	pingers   map[string]handlers.Pinger

	closers []func() error
}

func buildServices(ctx context.Context, cfg *config.Config) (_ *services, err error) {
	svc := &services{cfg: cfg, pingers: map[string]handlers.Pinger{}}
	defer func() {
		if err != nil {
			svc.Close()
		}
	}()

	svc.store, err = sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create SQLite client: %w", err)
	}
	svc.closers = append(svc.closers, svc.store.Close)
	if err = svc.store.InitSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	svc.pingers["sqlite"] = svc.store

	svc.vectors, err = milvus.NewClient(ctx, cfg.Milvus.Endpoint, cfg.Milvus.APIKey, cfg.Milvus.CollectionName, cfg.Milvus.VectorDim)
	if err != nil {
		return nil, err
	}
	svc.closers = append(svc.closers, svc.vectors.Close)
	if err = svc.vectors.EnsureCollection(ctx); err != nil {
		return nil, err
	}
	svc.pingers["milvus"] = svc.vectors

	svc.llm = llm.NewClient(llm.Options{
		BaseURL:        cfg.LLM.BaseURL,
		APIKey:         cfg.LLM.APIKey,
		Model:          cfg.LLM.Model,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
		Temperature:    cfg.LLM.Temperature,
		MaxTokens:      cfg.LLM.MaxTokens,
		Timeout:        time.Duration(cfg.LLM.TimeoutSec) * time.Second,
	})
	svc.embedder = svc.llm

	if cfg.Redis.Enabled {
		cache, err := rediscache.NewClient(ctx, cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, err
		}
		svc.closers = append(svc.closers, cache.Close)
		svc.pingers["redis"] = cache
		svc.embedder = llm.NewCachedEmbedder(svc.llm, cache, svc.llm.EmbeddingModel(),
			time.Duration(cfg.Redis.EmbeddingTTLSec)*time.Second)
		appLogger.Info("Embedding cache enabled", zap.String("redis", fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)))
	}

	switch cfg.Storage.Backend {
	case "minio":
		store, err := files.NewMinIOStore(ctx, files.MinIOOptions{
			Endpoint:  cfg.Storage.MinIO.Endpoint,
			AccessKey: cfg.Storage.MinIO.AccessKey,
			SecretKey: cfg.Storage.MinIO.SecretKey,
			Bucket:    cfg.Storage.MinIO.Bucket,
			UseSSL:    cfg.Storage.MinIO.UseSSL,
			PublicURL: cfg.Storage.MinIO.PublicURL,
			WorkDir:   cfg.OCR.WorkDir,
		})
		if err != nil {
			return nil, err
		}
		svc.files = store
		svc.pingers["minio"] = store
	default:
		store, err := files.NewLocalStore(cfg.Storage.UploadDir, uploadsPrefix)
		if err != nil {
			return nil, err
		}
		svc.files = store
		svc.local = store
	}

	svc.docs = documents.NewManager(svc.store, svc.vectors, svc.files)

	svc.processor = ingestion.NewProcessor(ingestion.Deps{
		OCR: ocr.NewEngine(ocr.Options{
			PdftocairoPath: cfg.OCR.PdftocairoPath,
			TesseractPath:  cfg.OCR.TesseractPath,
			Languages:      cfg.OCR.Languages,
			DPI:            cfg.OCR.DPI,
			WorkDir:        cfg.OCR.WorkDir,
		}),
		Embedder: svc.embedder,
		Vectors:  svc.vectors,
		Chunks:   svc.store,
		Status:   svc.docs,
		Files:    svc.files,
	}, cfg.Ingestion.MinPageChars)

	svc.engine = query.NewEngine(svc.embedder, svc.vectors, svc.store, svc.llm, query.Options{
		DistanceThreshold: cfg.Retrieval.DistanceThreshold,
		StreamTopK:        cfg.Retrieval.StreamTopK,
		SingleShotTopK:    cfg.Retrieval.SingleShotTopK,
	})

	return svc, nil
}

// Close releases clients in reverse order of creation.
func (s *services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			appLogger.Warn("Failed to close client", zap.Error(err))
		}
	}
	s.closers = nil
}
