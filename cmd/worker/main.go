package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/maraichr/docflow/internal/config"
	"github.com/maraichr/docflow/internal/ingestion"
	"github.com/maraichr/docflow/internal/metrics"
	"github.com/maraichr/docflow/internal/objstore/backend"
	"github.com/maraichr/docflow/internal/queue"
	"github.com/maraichr/docflow/internal/store"
	"github.com/maraichr/docflow/internal/store/postgres"
	vk "github.com/maraichr/docflow/internal/store/valkey"
	"github.com/maraichr/docflow/internal/worker"
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

	// Valkey
	vkClient, err := vk.NewClient(ctx, cfg.Valkey)
	if err != nil {
		logger.Error("failed to connect to valkey", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer vkClient.Close()
	logger.Info("connected to valkey")

	// Object storage
	objects, err := backend.Open(cfg)
	if err != nil {
		logger.Error("failed to open object storage", slog.String("error", err.Error()))
		os.Exit(1)
	}

	stages, err := worker.BuildStages(ctx, cfg, objects.Store, pool, logger)
	if err != nil {
		logger.Error("failed to configure stages", slog.String("error", err.Error()))
		os.Exit(1)
	}

	producer := queue.NewProducer(vkClient)
	pipeline := ingestion.NewPipeline(stages, producer, ingestion.Options{
		BatchSize:        cfg.Pipeline.BatchSize,
		MaxWorkers:       cfg.Pipeline.MaxWorkers,
		EagerErrorStatus: cfg.Pipeline.EagerErrorStatus,
	}, logger)

	runtime := worker.New(pool, worker.Deps{
		Pipeline: pipeline,
		Queue:    producer,
		Objects:  objects.Store,
		Bucket:   objects.DefaultBucket,
	}, logger)

	m := metrics.New()
	m.Registry().MustRegister(metrics.NewStoreCollector(s, producer, logger))

	consumer, err := queue.NewConsumer(vkClient, producer, queue.ConsumerOptions{
		ConsumerID:  cfg.Queue.ConsumerID,
		Concurrency: cfg.Queue.Concurrency,
		Retry: queue.RetryPolicy{
			MaxRetries: cfg.Queue.MaxRetries,
			BaseDelay:  cfg.Queue.RetryBaseDelay,
			MaxDelay:   cfg.Queue.RetryMaxDelay,
		},
		ClaimTimeout: cfg.Queue.ClaimTimeout,
		GiveUp:       runtime.GiveUp,
		Observer:     m,
	}, logger)
	if err != nil {
		logger.Error("failed to create consumer", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := consumer.EnsureGroup(ctx); err != nil {
		logger.Error("failed to ensure consumer group", slog.String("error", err.Error()))
		os.Exit(1)
	}

	var wg sync.WaitGroup

	if cfg.Queue.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.Queue.MetricsAddr, Handler: m.Handler(), ReadTimeout: 10 * time.Second}
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Info("serving worker metrics", slog.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server error", slog.String("error", err.Error()))
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("starting worker", slog.String("consumer", cfg.Queue.ConsumerID), slog.Int("concurrency", cfg.Queue.Concurrency))
		if err := consumer.Consume(ctx, runtime.Handle); err != nil {
			if ctx.Err() == nil {
				logger.Error("consumer error", slog.String("error", err.Error()))
			}
		}
	}()

	wg.Wait()
	logger.Info("worker stopped")
}
