package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/swagger"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"holodoc/docs"
	"holodoc/internal/config"
	"holodoc/internal/database"
	"holodoc/internal/database/migration"
	handlers "holodoc/internal/http/handler"
	"holodoc/internal/http/middleware"
	"holodoc/internal/logging"
	"holodoc/internal/match"
	"holodoc/internal/otel"
	"holodoc/internal/repository"
	"holodoc/internal/repository/memory"
	"holodoc/internal/repository/postgres"
	"holodoc/internal/service"
	"holodoc/internal/storage"
	"holodoc/internal/vision"
	"holodoc/internal/worker"
)

// stores is the document and link persistence selected by STORE_BACKEND.
type stores struct {
	db    *sql.DB
	docs  repository.DocumentRepository
	index repository.CandidateIndex
	links repository.LinkRepository
}

func openStores(ctx context.Context, cfg *config.AppConfig, log *zap.Logger) (*stores, error) {
	if cfg.StoreBackend == config.BackendMemory {
		docs := memory.NewDocumentMemory()
		log.Warn("store_in_memory", zap.String("component", "database"))
		return &stores{docs: docs, index: docs, links: memory.NewLinkMemory()}, nil
	}

	db, err := database.NewPostgres(ctx, cfg.Database, log)
	if err != nil {
		return nil, err
	}
	if err := migration.EnsureMigrated(ctx, db, log, cfg.Database.Host); err != nil {
		_ = db.Close()
		return nil, err
	}
	docs := postgres.NewDocumentPostgres(db)
	return &stores{db: db, docs: docs, index: docs, links: postgres.NewLinkPostgres(db)}, nil
}

func openImages(ctx context.Context, cfg *config.AppConfig, log *zap.Logger) (storage.Storage, error) {
	if cfg.StorageBackend == config.BackendMemory {
		log.Warn("storage_in_memory", zap.String("component", "storage"))
		return storage.NewMemory(), nil
	}
	return storage.NewMinIO(ctx, cfg.MinIO)
}

// @title Holodoc API
// @version 1.0
// @description Captures photos of physical documents, recognises documents seen before and links related ones.
// @BasePath /
func main() {
	cfg := config.Load()

	log, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Error("server_exit", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.AppConfig, log *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := otel.Init(ctx, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			log.Warn("tracing_shutdown_failed", zap.Error(err))
		}
	}()

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("open document store: %w", err)
	}
	if st.db != nil {
		defer st.db.Close()
	}

	images, err := openImages(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("open image storage: %w", err)
	}

	engine, err := match.NewEngine(st.index, cfg.Ingest.MatchThreshold, cfg.Ingest.MatchCandidateLimit)
	if err != nil {
		return err
	}
	pool, err := worker.NewPool("ingest", worker.Config{Capacity: cfg.Ingest.Workers}, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := pool.Release(10 * time.Second); err != nil {
			log.Warn("worker_pool_release_failed", zap.Error(err))
		}
	}()
	metrics, err := service.NewMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("register ingest metrics: %w", err)
	}

	links := service.NewLinkGraph(st.docs, st.links, log)
	coordinator, err := service.NewCoordinator(service.CoordinatorDeps{
		Corrector: vision.NewCorrector(vision.Options{
			MinAreaRatio: cfg.Ingest.DetectMinAreaRatio,
			DetectMaxDim: cfg.Ingest.DetectMaxDim,
			MaxOutputDim: cfg.Ingest.RectifyMaxDim,
		}),
		Fingerprinter: vision.NewFingerprinter(),
		Engine:        engine,
		Documents:     st.docs,
		Images:        images,
		Links:         links,
		Pool:          pool,
		Metrics:       metrics,
		Logger:        log,
		DefaultAuthor: cfg.Ingest.DefaultAuthor,
	})
	if err != nil {
		return err
	}
	svc := handlers.Services{
		Documents: service.NewDocumentService(st.docs, images, cfg.Ingest.ImageURLExpiry, log),
		Ingest:    coordinator,
		Links:     links,
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: handlers.ErrorHandler(),
		BodyLimit:    40 << 20,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	})

	promMiddleware, err := middleware.NewPrometheusMiddleware(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("register http metrics: %w", err)
	}

	app.Use(recover.New())
	app.Use(otelfiber.Middleware())
	app.Use(middleware.RequestID())
	app.Use(middleware.Logger(log))
	app.Use(promMiddleware.Handler())

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// nil interface, not a typed nil, when documents live in memory
	var pinger handlers.Pinger
	if st.db != nil {
		pinger = st.db
	}
	handlers.RegisterRoutes(app, pinger, svc, handlers.CaptureLimits{MaxPixels: cfg.Ingest.MaxCapturePixels})

	app.Get("/swagger/*", func(c *fiber.Ctx) error {
		scheme := c.Protocol()
		if proto := c.Get("X-Forwarded-Proto"); proto != "" {
			scheme = strings.Split(proto, ",")[0]
		}

		docs.SwaggerInfo.Host = c.Get("Host")
		docs.SwaggerInfo.Schemes = []string{scheme}

		return swagger.HandlerDefault(c)
	})

	addr := ":" + cfg.Port
	errCh := make(chan error, 1)
	go func() {
		log.Info("server_starting",
			zap.String("addr", addr),
			zap.String("store_backend", cfg.StoreBackend),
			zap.String("storage_backend", cfg.StorageBackend),
			zap.Float64("match_threshold", engine.Threshold()),
			zap.Int("workers", pool.Cap()),
		)
		errCh <- app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("server_stopping")
	if err := app.ShutdownWithTimeout(15 * time.Second); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
