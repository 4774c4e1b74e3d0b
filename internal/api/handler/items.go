package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/maraichr/docflow/internal/ingestion"
	"github.com/maraichr/docflow/internal/item"
	"github.com/maraichr/docflow/pkg/apierr"
)

// ItemManager is the submission API the handlers drive. *ingestion.Manager
// implements it.
type ItemManager interface {
	AddFile(ctx context.Context, src ingestion.FileSource) (*item.Item, error)
	AddLink(ctx context.Context, uri string) (*item.Item, error)
	DeleteFile(ctx context.Context, bucket, object string) (int, error)
	DeleteItem(ctx context.Context, kind item.Kind, id uuid.UUID) error
	Retry(ctx context.Context, kind item.Kind, id uuid.UUID) (*item.Item, error)
	Cancel(ctx context.Context, kind item.Kind, id uuid.UUID) (*item.Item, error)
	ListItems(ctx context.Context, f item.Filter) ([]item.Item, error)
	GetItem(ctx context.Context, kind item.Kind, id uuid.UUID) (*item.Item, error)
	SubmitSync(ctx context.Context) (string, error)
}

// itemRoutes holds the endpoints files and links have in common.
type itemRoutes struct {
	logger *slog.Logger
	mgr    ItemManager
	kind   item.Kind
}

func (h itemRoutes) entity() string {
	if h.kind == item.KindLink {
		return "Link"
	}
	return "File"
}

// List returns the items that are not marked for deletion, oldest first.
// An optional comma separated status query narrows the result.
func (h itemRoutes) List(w http.ResponseWriter, r *http.Request) {
	f := item.Filter{Kind: h.kind, MarkedForDeletion: item.Bool(false)}
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			st, err := item.ParseStatus(strings.TrimSpace(s))
			if err != nil {
				writeAPIError(w, h.logger, apierr.InvalidStatusFilter(s))
				return
			}
			f.Statuses = append(f.Statuses, st)
		}
	}

	items, err := h.mgr.ListItems(r.Context(), f)
	if err != nil {
		writeAPIError(w, h.logger, apierr.ItemListFailed(err))
		return
	}
	if items == nil {
		items = []item.Item{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (h itemRoutes) Retry(w http.ResponseWriter, r *http.Request) {
	id, ok := parseItemID(w, r, h.entity())
	if !ok {
		return
	}
	it, err := h.mgr.Retry(r.Context(), h.kind, id)
	switch {
	case err == nil:
	case apierr.IsNotFound(err):
		writeAPIError(w, h.logger, apierr.ItemNotFound(h.entity()))
		return
	case errors.Is(err, ingestion.ErrBusy):
		writeAPIError(w, h.logger, apierr.ItemBusy(h.entity()+" is still being processed"))
		return
	default:
		writeAPIError(w, h.logger, apierr.ItemRetryFailed(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Task enqueued successfully",
		"task_id": it.TaskID,
	})
}

func (h itemRoutes) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := parseItemID(w, r, h.entity())
	if !ok {
		return
	}
	_, err := h.mgr.Cancel(r.Context(), h.kind, id)
	switch {
	case err == nil:
	case apierr.IsNotFound(err):
		writeAPIError(w, h.logger, apierr.ItemNotFound(h.entity()))
		return
	case errors.Is(err, ingestion.ErrBusy):
		writeAPIError(w, h.logger, apierr.ItemBusy(h.entity()+" is being deleted"))
		return
	default:
		writeAPIError(w, h.logger, apierr.ItemCancelFailed(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": h.entity() + " processing task canceled"})
}

// parseItemID reads the {id} path parameter and writes a 400 when it is not
// a UUID.
func parseItemID(w http.ResponseWriter, r *http.Request, entity string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeAPIError(w, nil, apierr.InvalidID(entity))
		return uuid.Nil, false
	}
	return id, true
}

// getItemOr404 fetches an item and writes a 404/500 error on failure.
func getItemOr404(w http.ResponseWriter, r *http.Request, logger *slog.Logger, mgr ItemManager, kind item.Kind, id uuid.UUID, entity string) (*item.Item, bool) {
	it, err := mgr.GetItem(r.Context(), kind, id)
	if err != nil {
		if apierr.IsNotFound(err) {
			writeAPIError(w, logger, apierr.ItemNotFound(entity))
		} else {
			writeAPIError(w, logger, apierr.InternalError(err))
		}
		return nil, false
	}
	return it, true
}
