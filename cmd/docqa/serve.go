package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/docqa/backend/internal/api"
	"github.com/docqa/backend/internal/api/handlers"
	"github.com/docqa/backend/internal/ingestion"
	"github.com/docqa/backend/internal/metrics"
	"github.com/docqa/backend/internal/middleware/ratelimit"
	"github.com/docqa/backend/internal/middleware/security"
	"github.com/docqa/backend/internal/storage/models"
	appLogger "github.com/docqa/backend/pkg/logger"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the ingestion workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := setup()
	if err != nil {
		return err
	}
	defer appLogger.Sync()

	appLogger.Info("Starting document QA server")
	metrics.Init()

	svc, err := buildServices(ctx, cfg)
	if err != nil {
		appLogger.Error("Failed to initialize services", zap.Error(err))
		return err
	}
	defer svc.Close()

	if _, err := svc.docs.FailStale(ctx); err != nil {
		return fmt.Errorf("failed to recover interrupted documents: %w", err)
	}

	queue := ingestion.NewQueue(svc.processor, cfg.Ingestion.Workers, cfg.Ingestion.QueueSize)
	queue.OnDone = func(doc *models.Document, s ingestion.Summary) {
		appLogger.Info("Ingestion finished",
			zap.String("doc_id", doc.ID),
			zap.String("status", string(s.Status)),
			zap.Int("chunks", s.Chunks),
		)
	}
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	queue.Start(workerCtx)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	origins := splitOrigins(cfg.Server.AllowedOrigins)

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(origins, ","),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{AllowedOrigins: origins}))

	if svc.local != nil {
		app.Static(uploadsPrefix, svc.local.Dir())
	}
	app.Get("/metrics", metrics.MetricsHandler())

	routeCfg := api.RouteConfig{MaxQuestionLength: cfg.Server.MaxQuestionLen}
	if cfg.RateLimit.Enabled {
		limiter := ratelimit.New(ratelimit.Config{
			MaxRequestsPerMinute: cfg.RateLimit.MaxRequestsPerMinute,
			Logger:               appLogger.GetLogger(),
		})
		defer limiter.Stop()
		routeCfg.AILimiter = limiter.Middleware()
	}

	api.Register(app, api.Handlers{
		Documents: handlers.NewDocumentHandler(svc.docs, svc.files, queue),
		Query:     handlers.NewQueryHandler(svc.engine, svc.embedder),
		WebSocket: handlers.NewWebSocketHandler(svc.engine, cfg.Server.MaxQuestionLen),
		Health:    handlers.NewHealthHandler(svc.pingers),
	}, routeCfg)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	listenErr := make(chan error, 1)
	go func() {
		listenErr <- app.Listen(addr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case <-quit:
	case err := <-listenErr:
		if err != nil {
			appLogger.Error("Server failed", zap.Error(err))
			return err
		}
	}

	appLogger.Info("Server shutting down gracefully...")
	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		appLogger.Warn("HTTP shutdown incomplete", zap.Error(err))
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := queue.Shutdown(drainCtx); err != nil {
		appLogger.Warn("Ingestion queue did not drain", zap.Error(err))
	}

	appLogger.Info("Server stopped")
	return nil
}

func splitOrigins(raw string) []string {
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return origins
}
