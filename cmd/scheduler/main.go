package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-co-op/gocron/v2"

	"github.com/maraichr/docflow/internal/config"
	"github.com/maraichr/docflow/internal/queue"
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

	if !cfg.Sync.Enabled {
		logger.Info("storage sync disabled, scheduler idle")
		<-ctx.Done()
		return
	}

	vkClient, err := vk.NewClient(ctx, cfg.Valkey)
	if err != nil {
		logger.Error("failed to connect to valkey", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer vkClient.Close()

	s, err := gocron.NewScheduler()
	if err != nil {
		logger.Error("failed to create scheduler", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if _, err := worker.ScheduleSync(ctx, s, cfg.Sync.Interval, queue.NewProducer(vkClient), logger); err != nil {
		logger.Error("failed to schedule sync", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("starting scheduler", slog.Duration("sync_interval", cfg.Sync.Interval))
	s.Start()

	<-ctx.Done()
	if err := s.Shutdown(); err != nil {
		logger.Error("scheduler shutdown", slog.String("error", err.Error()))
	}
	logger.Info("scheduler stopped")
}
