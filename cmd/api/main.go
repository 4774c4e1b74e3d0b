package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maraichr/docflow/internal/api"
	apihandler "github.com/maraichr/docflow/internal/api/handler"
	"github.com/maraichr/docflow/internal/config"
	"github.com/maraichr/docflow/internal/ingestion"
	"github.com/maraichr/docflow/internal/metrics"
	"github.com/maraichr/docflow/internal/objstore"
	"github.com/maraichr/docflow/internal/objstore/backend"
	"github.com/maraichr/docflow/internal/queue"
	"github.com/maraichr/docflow/internal/store"
	"github.com/maraichr/docflow/internal/store/postgres"
	vk "github.com/maraichr/docflow/internal/store/valkey"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database
	pool, err := postgres.NewPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, cfg.Database.MinConns)
	if err != nil {
		logger.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	s := store.New(pool)
	if err := s.EnsureSchema(ctx); err != nil {
		logger.Error("failed to apply schema", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("connected to database")

	// Valkey carries the task queue; the API cannot submit work without it.
	vkClient, err := vk.NewClient(ctx, cfg.Valkey)
	if err != nil {
		logger.Error("failed to connect to valkey", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer vkClient.Close()
	logger.Info("connected to valkey")

	producer := queue.NewProducer(vkClient)
	mgr := ingestion.NewManager(s, producer, logger)

	objects, err := backend.Open(cfg)
	if err != nil {
		logger.Error("failed to open object storage", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("object storage ready", slog.String("backend", cfg.Storage.Backend))

	m := metrics.New()
	m.Registry().MustRegister(metrics.NewStoreCollector(s, producer, logger))

	events := apihandler.NewEventHandler(logger, mgr)
	router := api.NewRouter(logger, api.RouterDeps{
		Manager:    mgr,
		Presigner:  objects.Store,
		Events:     events,
		DB:         pool,
		QueueCheck: func(ctx context.Context) error { return vk.Ping(ctx, vkClient) },
		Metrics:    m,
	})

	// Bucket notifications (optional, minio backend only)
	if cfg.MinIO.ListenEvents {
		if objects.MinIO == nil {
			logger.Warn("MINIO_LISTEN_EVENTS ignored for the s3 backend")
		} else {
			go objects.MinIO.Listen(ctx, objects.DefaultBucket, logger, func(ctx context.Context, ev objstore.Event) {
				_ = events.Apply(ctx, ev)
			})
			logger.Info("listening for bucket notifications", slog.String("bucket", objects.DefaultBucket))
		}
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("starting API server", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
	}

	logger.Info("server stopped")
}
