package api

import (
	"context"
	"log/slog"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	apihandler "github.com/maraichr/docflow/internal/api/handler"
	apimw "github.com/maraichr/docflow/internal/api/middleware"
	"github.com/maraichr/docflow/internal/metrics"
)

// RouterDeps holds the collaborators of the HTTP API. DB, QueueCheck and
// Metrics are optional.
type RouterDeps struct {
	Manager    apihandler.ItemManager
	Presigner  apihandler.Presigner
	Events     *apihandler.EventHandler
	DB         apihandler.Pinger
	QueueCheck func(context.Context) error
	Metrics    *metrics.Metrics
}

func NewRouter(logger *slog.Logger, deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(apimw.Logger(logger))
	r.Use(apimw.CORS)
	r.Use(chimw.Recoverer)
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware)
		r.Handle("/metrics", deps.Metrics.Handler())
	}

	// Health checks
	health := apihandler.NewHealthHandler(deps.DB, deps.QueueCheck)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)

	events := deps.Events
	if events == nil {
		events = apihandler.NewEventHandler(logger, deps.Manager)
	}
	r.Post("/minio_event", events.Webhook)

	r.Route("/api", func(r chi.Router) {
		presign := apihandler.NewPresignHandler(logger, deps.Presigner)
		r.Post("/presignedUrl", presign.Create)

		files := apihandler.NewFileHandler(logger, deps.Manager)
		r.Get("/files", files.List)
		r.Post("/files/sync", files.Sync)
		r.Route("/file/{id}", func(r chi.Router) {
			r.Post("/retry", files.Retry)
			r.Delete("/task", files.Cancel)
		})

		links := apihandler.NewLinkHandler(logger, deps.Manager)
		r.Get("/links", links.List)
		r.Post("/links", links.Create)
		r.Route("/link/{id}", func(r chi.Router) {
			r.Delete("/", links.Delete)
			r.Post("/retry", links.Retry)
			r.Delete("/task", links.Cancel)
		})
	})

	return r
}
