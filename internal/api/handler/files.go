package handler

import (
	"log/slog"
	"net/http"

	"github.com/maraichr/docflow/internal/item"
	"github.com/maraichr/docflow/pkg/apierr"
)

type FileHandler struct {
	itemRoutes
}

func NewFileHandler(logger *slog.Logger, mgr ItemManager) *FileHandler {
	return &FileHandler{itemRoutes{logger: logger, mgr: mgr, kind: item.KindFile}}
}

// Sync schedules a reconciliation of the bucket contents against the
// tracked files.
func (h *FileHandler) Sync(w http.ResponseWriter, r *http.Request) {
	id, err := h.mgr.SubmitSync(r.Context())
	if err != nil {
		writeAPIError(w, h.logger, apierr.SyncFailed(err))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"message": "File synchronization scheduled",
		"task_id": id,
	})
}
