package handler

import (
	"context"
	"net/http"

	"github.com/maraichr/docflow/pkg/apierr"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	db    Pinger
	queue func(context.Context) error
}

// NewHealthHandler checks the database and, when queue is non-nil, the task
// runtime's broker on /readyz.
func NewHealthHandler(db Pinger, queue func(context.Context) error) *HealthHandler {
	return &HealthHandler{db: db, queue: queue}
}

func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		if err := h.db.Ping(r.Context()); err != nil {
			writeAPIError(w, nil, apierr.DatabaseNotReady())
			return
		}
	}
	if h.queue != nil {
		if err := h.queue(r.Context()); err != nil {
			writeAPIError(w, nil, apierr.QueueNotReady())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
